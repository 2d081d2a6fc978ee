package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/providers"
)

// maxPlausiblePage rejects hallucinated page numbers. No journal or
// book a thesis cites runs longer than this.
const maxPlausiblePage = 10000

// PageCount returns the physical page count of a PDF.
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF: %w", err)
	}
	return n, nil
}

// PageText is the visible text sampled from one physical page.
type PageText struct {
	Page int
	Text string
}

// edgeSampleLen bounds how much of a page's text goes into the
// inference prompt. Headers and footers sit at the stream edges, so
// the sample keeps the start and the end and drops the middle.
const edgeSampleLen = 300

// EdgeTexts samples the text of two consecutive pages. Seeing the same
// region on both pages lets the inference model tell a printed page
// number, which increments from one page to the next, apart from a
// constant identifier such as a DOI or report number. The second page
// is preferred as the starting point since covers often carry no
// printed number.
func EdgeTexts(data []byte, pageCount int) ([]PageText, error) {
	conf := model.NewDefaultConfiguration()
	conf.Cmd = model.EXTRACTCONTENT
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	first := 1
	if pageCount >= 3 {
		first = 2
	}
	var out []PageText
	for page := first; page <= first+1 && page <= pageCount; page++ {
		r, err := pdfcpu.ExtractPageContent(pdfCtx, page)
		if err != nil || r == nil {
			continue
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		text := extractStrings(raw)
		if text == "" {
			continue
		}
		out = append(out, PageText{Page: page, Text: edgeSample(text)})
	}
	return out, nil
}

var literalString = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)`)

var stringUnescaper = strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`)

// extractStrings pulls the literal strings out of a PDF content
// stream, in stream order. Hex strings and encoded fonts are ignored;
// headers and footers are almost always plain literals.
func extractStrings(stream []byte) string {
	matches := literalString.FindAllSubmatch(stream, -1)
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		s := stringUnescaper.Replace(string(m[1]))
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func edgeSample(text string) string {
	if len(text) <= 2*edgeSampleLen {
		return text
	}
	return text[:edgeSampleLen] + " [...] " + text[len(text)-edgeSampleLen:]
}

var pagesSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"page_start": {"type": "integer"},
		"page_end": {"type": "integer"}
	},
	"required": ["page_start", "page_end"]
}`)

type pagesOutput struct {
	PageStart int `json:"page_start"`
	PageEnd   int `json:"page_end"`
}

// InferPageRange determines the printed page range of a source so
// citations can carry real page numbers. The model sees the
// bibliographic metadata, the physical page count and, when available,
// text sampled from two consecutive pages; implausible or inverted
// answers fall back to 1..pageCount.
func InferPageRange(ctx context.Context, reg *providers.Registry, src *bib.Source, pageCount int, edges []PageText) (start, end int, err error) {
	client, err := reg.ForRole("pages")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to resolve page model: %w", err)
	}

	var parsed pagesOutput
	_, err = providers.GenerateStructured(ctx, client, &providers.GenerateRequest{
		System:         "You determine the printed page range of academic publications.",
		Prompt:         buildPagesPrompt(src, pageCount, edges),
		ResponseSchema: pagesSchema,
		Temperature:    0,
	}, &parsed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to infer page range: %w", err)
	}

	if !plausibleRange(parsed.PageStart, parsed.PageEnd, pageCount) {
		return 1, pageCount, nil
	}
	return parsed.PageStart, parsed.PageEnd, nil
}

func plausibleRange(start, end, pageCount int) bool {
	if start <= 0 || end <= 0 {
		return false
	}
	if start > end {
		return false
	}
	if end > maxPlausiblePage {
		return false
	}
	// The printed span should roughly match the physical one.
	if pageCount > 0 && end-start+1 > pageCount*2 {
		return false
	}
	return true
}

func buildPagesPrompt(src *bib.Source, pageCount int, edges []PageText) string {
	var b strings.Builder
	b.WriteString("Determine the printed page range of this publication as it appears in its venue.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", src.Title)
	if len(src.Authors) > 0 {
		fmt.Fprintf(&b, "Authors: %s\n", strings.Join(src.Authors, ", "))
	}
	if src.Venue != "" {
		fmt.Fprintf(&b, "Venue: %s\n", src.Venue)
	}
	if src.Year > 0 {
		fmt.Fprintf(&b, "Year: %d\n", src.Year)
	}
	if src.DOI != "" {
		fmt.Fprintf(&b, "DOI: %s\n", src.DOI)
	}
	fmt.Fprintf(&b, "The document file has %d physical pages.\n", pageCount)
	if len(edges) > 0 {
		b.WriteString("\nText sampled from consecutive pages of the file:\n")
		for _, e := range edges {
			fmt.Fprintf(&b, "Physical page %d: %s\n", e.Page, e.Text)
		}
		b.WriteString("A number that increases by one from one page to the next is the printed page number. ")
		b.WriteString("A number that is identical on both pages is an identifier (DOI, volume, report number), not a page number.\n")
	}
	b.WriteString("\nReturn JSON with page_start and page_end (the printed page numbers). ")
	b.WriteString("If the printed numbering is unknown, use 1 and the physical page count.")
	return b.String()
}
