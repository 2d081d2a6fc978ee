package review

import (
	"fmt"
	"regexp"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/document"
)

// forbiddenPatterns are output constructions no draft may contain.
// They are checked mechanically before every critique call; the model
// never gets to overlook them.
var forbiddenPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"markdown table", regexp.MustCompile(`(?m)^\s*\|.+\|\s*$`)},
	{"embedded image", regexp.MustCompile(`!\[`)},
	{"meta commentary", regexp.MustCompile(`(?i)as an ai\b|as a language model|als (ki|sprachmodell)|i cannot (write|provide|generate)`)},
	{"placeholder text", regexp.MustCompile(`(?i)\[insert|\[placeholder|\[platzhalter|lorem ipsum`)},
}

// Inspect runs the checks that need no model: forbidden output
// patterns and the mandatory-source audit. The returned defects feed
// the same repair path as critique findings.
func Inspect(doc string, sources []bib.Source) []bib.Defect {
	var defects []bib.Defect

	for _, fp := range forbiddenPatterns {
		m := fp.pattern.FindString(doc)
		if m == "" {
			continue
		}
		defects = append(defects, bib.Defect{
			Category:    bib.CritiqueLanguage,
			Description: fmt.Sprintf("draft contains a %s: %q", fp.name, snippet(m)),
			Fix:         fmt.Sprintf("FIX: rewrite the passage containing %q as continuous academic prose without the %s", snippet(m), fp.name),
		})
	}

	citedIDs := make(map[string]bool)
	for _, src := range document.CitedSources(doc, sources) {
		citedIDs[src.ID] = true
	}
	for _, src := range sources {
		if src.Mandatory && !citedIDs[src.ID] {
			defects = append(defects, bib.Defect{
				Category:    bib.CritiqueSources,
				Description: fmt.Sprintf("mandatory source %q is never cited", src.Title),
				Fix:         fmt.Sprintf("FIX: cite %q (%s) where the argument relies on it", src.Title, firstAuthor(&src)),
			})
		}
	}
	return defects
}

func firstAuthor(src *bib.Source) string {
	if len(src.Authors) == 0 {
		return "unknown author"
	}
	return src.Authors[0]
}

func snippet(s string) string {
	if len(s) > 60 {
		return s[:60]
	}
	return s
}
