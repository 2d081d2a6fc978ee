// Package generate produces the chaptered draft: plan synthesis,
// grounded per-chapter generation with rolling context, word-budget
// enforcement and document-level extension.
package generate

import (
	"fmt"
	"strings"

	"github.com/folioworks/folio/internal/bib"
)

// defaultBannedPhrases are formulaic constructions the drafts must
// avoid. Extended per deployment via Generator.BannedPhrases.
var defaultBannedPhrases = []string{
	"delve into",
	"tapestry",
	"in today's fast-paced world",
	"it is important to note that",
	"in conclusion, it can be said",
	"plays a crucial role",
	"ever-evolving landscape",
	"navigate the complexities",
	"zusammenfassend lässt sich sagen",
	"es ist wichtig zu beachten",
	"in der heutigen schnelllebigen Welt",
}

// citationInstruction returns style-specific in-text citation rules.
func citationInstruction(style bib.CitationStyle, withPages bool) string {
	pages := ""
	if withPages {
		pages = " Always include the page number of the passage you rely on."
	}
	switch style {
	case bib.StyleAPA:
		return "Cite in APA 7 style: (Author, Year, p. X)." + pages
	case bib.StyleHarvard:
		return "Cite in Harvard style: (Author Year: X)." + pages
	case bib.StyleMLA:
		return "Cite in MLA style: (Author X)." + pages
	case bib.StyleFootnote:
		return "Zitiere nach deutscher Zitierweise mit Fußnoten: füge an der Zitatstelle eine Fußnotenmarke [^n] ein und unter dem Absatz die Fußnote [^n]: Autor, Titel, Jahr, S. X." + pages
	default:
		return "Cite in APA 7 style: (Author, Year, p. X)." + pages
	}
}

// promptInput bundles what every chapter prompt needs.
type promptInput struct {
	Spec      *bib.ThesisSpec
	Chapter   *bib.OutlineChapter
	Plan      *bib.PlanChapter
	Summaries []bib.ChapterDraft // previously generated chapters
	Sources   []bib.Source
	Density   int // words per citation
	Banned    []string
	Pages     bool
}

// buildChapterPrompt assembles the generation prompt for one chapter.
func buildChapterPrompt(in promptInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are writing chapter %s (\"%s\") of an academic thesis.\n\n", in.Chapter.Number, in.Chapter.Title)
	fmt.Fprintf(&b, "Thesis title: %s\n", in.Spec.Title)
	fmt.Fprintf(&b, "Field: %s\n", in.Spec.Field)
	fmt.Fprintf(&b, "Type: %s\n", in.Spec.ThesisType)
	fmt.Fprintf(&b, "Language: %s\n", in.Spec.Language)
	fmt.Fprintf(&b, "Research question (address it exactly as worded, never paraphrase it):\n%s\n\n", in.Spec.ResearchQuestion)

	b.WriteString("Chapter structure to follow exactly. Produce one markdown heading per outline entry, numbered as given; do not add, remove or renumber headings:\n")
	fmt.Fprintf(&b, "%s %s %s\n", strings.Repeat("#", bib.Depth(in.Chapter.Number)+1), in.Chapter.Number, in.Chapter.Title)
	for _, sec := range in.Chapter.Sections {
		fmt.Fprintf(&b, "%s %s %s\n", strings.Repeat("#", bib.Depth(sec.Number)+1), sec.Number, sec.Title)
		for _, sub := range sec.Subsections {
			fmt.Fprintf(&b, "%s %s %s\n", strings.Repeat("#", bib.Depth(sub.Number)+1), sub.Number, sub.Title)
		}
	}
	b.WriteString("\n")

	if in.Plan != nil {
		fmt.Fprintf(&b, "Write between %d and %d words for this chapter.\n", in.Plan.MinWords, in.Plan.MaxWords)
		if in.Plan.Focus != "" {
			fmt.Fprintf(&b, "Focus: %s\n", in.Plan.Focus)
		}
	}

	if len(in.Summaries) > 0 {
		b.WriteString("\nWhat the thesis has covered so far:\n")
		for _, s := range in.Summaries {
			fmt.Fprintf(&b, "- Chapter %s: %s\n", s.ChapterNumber, s.Summary)
		}
		b.WriteString("Do not repeat this material; build on it.\n")
	}

	if len(in.Sources) > 0 {
		b.WriteString("\nGround every claim in the indexed source documents. The selected sources are:\n")
		for _, src := range in.Sources {
			fmt.Fprintf(&b, "- %s", formatSourceLine(&src))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(citationInstruction(in.Spec.CitationStyle, in.Pages))
	if in.Density > 0 {
		fmt.Fprintf(&b, " Cite a source at least once every %d words.", in.Density)
	}
	b.WriteString("\n")

	if len(in.Banned) > 0 {
		b.WriteString("Never use these phrases or close variants: ")
		b.WriteString(strings.Join(in.Banned, "; "))
		b.WriteString(".\n")
	}

	b.WriteString("Write continuous academic prose. No bullet lists unless the outline demands them, no meta commentary, no placeholder text.")
	return b.String()
}

// buildContinuationPrompt asks for more text when a chapter came in
// under its floor.
func buildContinuationPrompt(in promptInput, draft string, missing int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following draft of chapter %s (\"%s\") is about %d words short.\n\n",
		in.Chapter.Number, in.Chapter.Title, missing)
	b.WriteString("Current draft:\n---\n")
	b.WriteString(draft)
	b.WriteString("\n---\n\n")
	b.WriteString("Continue the chapter from where it ends. Keep the same heading structure (do not repeat existing headings), the same register, ")
	b.WriteString(citationInstruction(in.Spec.CitationStyle, in.Pages))
	fmt.Fprintf(&b, "\nWrite approximately %d additional words. Return only the new text.", missing)
	return b.String()
}

// buildRegenerationPrompt retries a chapter that came back empty or
// degenerate, with the constraints restated more forcefully.
func buildRegenerationPrompt(in promptInput, attempt int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ATTEMPT %d. The previous attempt produced no usable text. ", attempt+2)
	b.WriteString("You MUST return the full chapter body now, starting with its heading. An empty or trivial answer is a failure.\n\n")
	b.WriteString(buildChapterPrompt(in))
	return b.String()
}

// buildPageFixPrompt asks for a minimal rewrite that fixes only the
// out-of-range page references.
func buildPageFixPrompt(text string, bad []string, sources []bib.Source) string {
	var b strings.Builder
	b.WriteString("The chapter below cites pages that do not exist in the cited sources.\n")
	b.WriteString("Out-of-range page references: ")
	b.WriteString(strings.Join(bad, ", "))
	b.WriteString("\n\nValid printed page ranges:\n")
	for _, s := range sources {
		if s.PageStart > 0 && s.PageEnd >= s.PageStart {
			fmt.Fprintf(&b, "- %s: pp. %d-%d\n", s.Title, s.PageStart, s.PageEnd)
		}
	}
	b.WriteString("\nReturn the chapter unchanged except for the page numbers: ")
	b.WriteString("replace each out-of-range reference with a page inside the cited source's range. ")
	b.WriteString("Do not rephrase, add or remove anything else.\n\nChapter:\n")
	b.WriteString(text)
	return b.String()
}

// buildSummaryPrompt condenses a finished chapter for the rolling
// context window.
func buildSummaryPrompt(chapterNumber, text string) string {
	return fmt.Sprintf(
		"Summarize chapter %s below in at most 200 words, in the language of the text. Capture the argument and key findings, not the style.\n\n%s",
		chapterNumber, text)
}

func formatSourceLine(src *bib.Source) string {
	var b strings.Builder
	if len(src.Authors) > 0 {
		b.WriteString(strings.Join(src.Authors, ", "))
		b.WriteString(" ")
	}
	if src.Year > 0 {
		fmt.Fprintf(&b, "(%d) ", src.Year)
	}
	b.WriteString(src.Title)
	if src.PageStart > 0 && src.PageEnd > 0 {
		fmt.Fprintf(&b, ", pp. %d-%d", src.PageStart, src.PageEnd)
	}
	return b.String()
}
