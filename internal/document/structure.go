// Package document turns approved chapter drafts into the final
// deliverable: heading-structure verification against the outline,
// citation-to-source matching, bibliography rendering and assembly.
package document

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/folioworks/folio/internal/bib"
)

// Heading is one markdown heading as parsed from the document.
type Heading struct {
	Level int
	Text  string
}

// ExtractHeadings parses the markdown and returns its headings in
// document order.
func ExtractHeadings(document string) []Heading {
	md := goldmark.New()
	source := []byte(document)
	root := md.Parser().Parse(text.NewReader(source))

	var headings []Heading
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			headings = append(headings, Heading{
				Level: h.Level,
				Text:  strings.TrimSpace(string(nodeText(h, source))),
			})
		}
		return ast.WalkContinue, nil
	})
	return headings
}

func nodeText(n ast.Node, source []byte) []byte {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		} else {
			b.Write(nodeText(c, source))
		}
	}
	return []byte(b.String())
}

// VerifyStructure checks the generated text against the outline:
// every outline entry must appear as a heading, in order, at the
// depth its number implies. Returns a list of problems, empty when
// the structure matches.
func VerifyStructure(document string, outline []bib.OutlineChapter) []string {
	headings := ExtractHeadings(document)
	var problems []string

	pos := 0
	expect := func(number, title string) {
		depth := bib.Depth(number) + 1 // document title holds level 1
		start := pos
		for ; pos < len(headings); pos++ {
			h := headings[pos]
			if strings.HasPrefix(h.Text, number+" ") || h.Text == number {
				if h.Level != depth {
					problems = append(problems,
						fmt.Sprintf("heading %s at level %d, want %d", number, h.Level, depth))
				}
				pos++
				return
			}
		}
		// Not found; keep scanning later entries from where we were so
		// one missing heading doesn't cascade.
		pos = start
		problems = append(problems, fmt.Sprintf("missing heading %s %s", number, title))
	}

	for _, ch := range bib.ContentChapters(outline) {
		expect(ch.Number, ch.Title)
		for _, sec := range ch.Sections {
			expect(sec.Number, sec.Title)
			for _, sub := range sec.Subsections {
				expect(sub.Number, sub.Title)
			}
		}
	}
	return problems
}
