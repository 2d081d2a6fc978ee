package document

import (
	"fmt"
	"strings"

	"github.com/folioworks/folio/internal/bib"
)

// bibliographyKeywords identify the outline chapter that receives the
// reference list.
var bibliographyKeywords = []string{"literaturverzeichnis", "bibliography", "references"}

// Assemble joins the approved chapter drafts into the final markdown
// document: title, chapters in outline order, and a bibliography built
// strictly from sources the text cites. Non-content chapters keep
// their heading; only the bibliography chapter gets generated content.
func Assemble(spec *bib.ThesisSpec, drafts []bib.ChapterDraft, sources []bib.Source) (string, int) {
	byNumber := make(map[string]*bib.ChapterDraft, len(drafts))
	for i := range drafts {
		byNumber[drafts[i].ChapterNumber] = &drafts[i]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", spec.Title)

	var body strings.Builder
	for i := range drafts {
		body.WriteString(drafts[i].Text)
		body.WriteString("\n")
	}
	bodyText := body.String()

	for _, ch := range spec.Outline {
		b.WriteString("\n")
		if draft, ok := byNumber[ch.Number]; ok {
			b.WriteString(strings.TrimSpace(draft.Text))
			b.WriteString("\n")
			continue
		}

		fmt.Fprintf(&b, "## %s %s\n", ch.Number, ch.Title)
		if isBibliographyChapter(&ch) {
			cited := ExtractCitations(bodyText, sources)
			for _, entry := range FormatBibliography(spec.CitationStyle, cited) {
				fmt.Fprintf(&b, "\n%s\n", entry)
			}
		}
	}

	document := b.String()
	return document, bib.CountWords(document)
}

func isBibliographyChapter(ch *bib.OutlineChapter) bool {
	title := strings.ToLower(ch.Title)
	for _, kw := range bibliographyKeywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}
