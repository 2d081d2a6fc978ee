package research

import (
	"github.com/folioworks/folio/internal/bib"
)

// Dedupe collapses duplicate sources by DOI (falling back to
// lowercased title). When duplicates differ, the copy with a document
// URL wins; ties break toward the higher citation count. The first
// occurrence's chapter assignment is preserved, and the operation is
// idempotent.
func Dedupe(sources []bib.Source) []bib.Source {
	index := make(map[string]int)
	out := make([]bib.Source, 0, len(sources))

	for _, src := range sources {
		key := src.Key()
		if key == "" {
			continue
		}
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, src)
			continue
		}
		if better(&src, &out[i]) {
			// Keep the original chapter assignment.
			src.ChapterNumber = out[i].ChapterNumber
			src.ChapterTitle = out[i].ChapterTitle
			out[i] = src
		}
	}
	return out
}

// better reports whether candidate should replace current.
func better(candidate, current *bib.Source) bool {
	if candidate.HasDocument() != current.HasDocument() {
		return candidate.HasDocument()
	}
	return candidate.CitationCount > current.CitationCount
}
