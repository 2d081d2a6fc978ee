package document

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/folioworks/folio/internal/bib"
)

// CitedSources returns the subset of selected sources the document
// actually cites, in selection order. Matching is by first-author
// surname plus year (and surname alone for year-less styles), so the
// bibliography can never contain a work the text does not reference
// or a work outside the selection.
func CitedSources(document string, sources []bib.Source) []bib.Source {
	var cited []bib.Source
	for _, src := range sources {
		if cites(document, &src) {
			cited = append(cited, src)
		}
	}
	return cited
}

func cites(document string, src *bib.Source) bool {
	surname := firstSurname(src)
	if surname == "" {
		return false
	}
	if !strings.Contains(document, surname) {
		return false
	}
	if src.Year == 0 {
		return true
	}
	// Surname and year must appear near each other, as an in-text
	// citation would place them.
	year := strconv.Itoa(src.Year)
	idx := 0
	for {
		i := strings.Index(document[idx:], surname)
		if i < 0 {
			return false
		}
		i += idx
		windowEnd := i + len(surname) + 40
		if windowEnd > len(document) {
			windowEnd = len(document)
		}
		if strings.Contains(document[i:windowEnd], year) {
			return true
		}
		idx = i + len(surname)
	}
}

// ExtractCitations resolves the document's in-text citations against
// the selected sources and returns them as bibliographic records, in
// selection order. Only works the text actually references appear.
func ExtractCitations(document string, sources []bib.Source) []bib.Citation {
	cited := CitedSources(document, sources)
	out := make([]bib.Citation, 0, len(cited))
	for _, src := range cited {
		c := bib.Citation{
			ID:      src.ID,
			Authors: src.Authors,
			Year:    src.Year,
			Title:   src.Title,
			Venue:   src.Venue,
			DOI:     src.DOI,
			URL:     src.URL,
		}
		if src.PageStart > 0 && src.PageEnd > 0 {
			c.Pages = fmt.Sprintf("%d-%d", src.PageStart, src.PageEnd)
		}
		out = append(out, c)
	}
	return out
}

// firstSurname extracts the first author's surname. Handles both
// "Given Family" and "Family, Given" forms.
func firstSurname(src *bib.Source) string {
	return surnameOf(src.Authors)
}

func surnameOf(authors []string) string {
	if len(authors) == 0 {
		return ""
	}
	name := strings.TrimSpace(authors[0])
	if name == "" {
		return ""
	}
	if i := strings.Index(name, ","); i >= 0 {
		return strings.TrimSpace(name[:i])
	}
	fields := strings.Fields(name)
	return fields[len(fields)-1]
}
