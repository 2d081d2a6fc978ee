package document

import (
	"fmt"
	"sort"
	"strings"

	"github.com/folioworks/folio/internal/bib"
)

// FormatBibliography renders reference entries for the extracted
// citations in the requested style, sorted by first author surname
// then year.
func FormatBibliography(style bib.CitationStyle, citations []bib.Citation) []string {
	sorted := make([]bib.Citation, len(citations))
	copy(sorted, citations)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := surnameOf(sorted[i].Authors), surnameOf(sorted[j].Authors)
		if a != b {
			return a < b
		}
		return sorted[i].Year < sorted[j].Year
	})

	entries := make([]string, 0, len(sorted))
	for i := range sorted {
		entries = append(entries, formatEntry(style, &sorted[i]))
	}
	return entries
}

func formatEntry(style bib.CitationStyle, c *bib.Citation) string {
	authors := strings.Join(c.Authors, ", ")
	if authors == "" {
		authors = "o. V." // ohne Verfasser
	}

	var b strings.Builder
	switch style {
	case bib.StyleHarvard:
		fmt.Fprintf(&b, "%s (%s) %s.", authors, yearOrND(c), c.Title)
		if c.Venue != "" {
			fmt.Fprintf(&b, " %s.", c.Venue)
		}
	case bib.StyleMLA:
		fmt.Fprintf(&b, "%s. \"%s.\"", authors, c.Title)
		if c.Venue != "" {
			fmt.Fprintf(&b, " %s,", c.Venue)
		}
		fmt.Fprintf(&b, " %s.", yearOrND(c))
	case bib.StyleFootnote:
		fmt.Fprintf(&b, "%s: %s", authors, c.Title)
		if c.Venue != "" {
			fmt.Fprintf(&b, ", in: %s", c.Venue)
		}
		fmt.Fprintf(&b, ", %s", yearOrND(c))
		if c.Pages != "" {
			fmt.Fprintf(&b, ", S. %s", c.Pages)
		}
		b.WriteString(".")
	default: // APA
		fmt.Fprintf(&b, "%s (%s). %s.", authors, yearOrND(c), c.Title)
		if c.Venue != "" {
			fmt.Fprintf(&b, " %s.", c.Venue)
		}
	}
	if c.DOI != "" {
		fmt.Fprintf(&b, " https://doi.org/%s", c.DOI)
	}
	return b.String()
}

func yearOrND(c *bib.Citation) string {
	if c.Year == 0 {
		return "n.d."
	}
	return fmt.Sprintf("%d", c.Year)
}
