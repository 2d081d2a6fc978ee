// Package research turns a thesis spec into a ranked, chapter-balanced
// source selection: query synthesis, provider fan-out, deduplication,
// LLM relevance ranking and final selection.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/providers"
)

// ChapterQueries holds the search queries generated for one chapter.
type ChapterQueries struct {
	ChapterNumber string   `json:"chapter_number"`
	ChapterTitle  string   `json:"chapter_title"`
	Queries       []string `json:"queries"`
}

var queriesSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"queries": {
			"type": "array",
			"items": {"type": "string"},
			"minItems": 1
		}
	},
	"required": ["queries"]
}`)

type queriesOutput struct {
	Queries []string `json:"queries"`
}

// GenerateQueries produces search queries per content chapter: two in
// the thesis language and two in English, so non-English topics still
// reach the predominantly English indices.
func GenerateQueries(ctx context.Context, reg *providers.Registry, spec *bib.ThesisSpec) ([]ChapterQueries, error) {
	client, err := reg.ForRole("queries")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve query model: %w", err)
	}

	chapters := bib.ContentChapters(spec.Outline)
	if len(chapters) == 0 {
		return nil, fmt.Errorf("outline has no content chapters")
	}

	out := make([]ChapterQueries, 0, len(chapters))
	for _, ch := range chapters {
		prompt := buildQueriesPrompt(spec, &ch)

		var parsed queriesOutput
		_, err := providers.GenerateStructured(ctx, client, &providers.GenerateRequest{
			System:         "You are an academic research librarian generating literature search queries.",
			Prompt:         prompt,
			ResponseSchema: queriesSchema,
			Temperature:    0.4,
		}, &parsed)
		if err != nil {
			return nil, fmt.Errorf("failed to generate queries for chapter %s: %w", ch.Number, err)
		}

		queries := cleanQueries(parsed.Queries)
		if len(queries) == 0 {
			return nil, fmt.Errorf("no usable queries for chapter %s", ch.Number)
		}
		out = append(out, ChapterQueries{
			ChapterNumber: ch.Number,
			ChapterTitle:  ch.Title,
			Queries:       queries,
		})
	}
	return out, nil
}

func buildQueriesPrompt(spec *bib.ThesisSpec, ch *bib.OutlineChapter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thesis title: %s\n", spec.Title)
	fmt.Fprintf(&b, "Field: %s\n", spec.Field)
	fmt.Fprintf(&b, "Research question: %s\n", spec.ResearchQuestion)
	fmt.Fprintf(&b, "Chapter %s: %s\n", ch.Number, ch.Title)
	if len(ch.Sections) > 0 {
		b.WriteString("Sections:\n")
		for _, sec := range ch.Sections {
			fmt.Fprintf(&b, "  %s %s\n", sec.Number, sec.Title)
		}
	}
	b.WriteString("\nGenerate exactly 4 scholarly literature search queries for this chapter: ")
	if spec.Language != "" && !strings.HasPrefix(strings.ToLower(spec.Language), "en") {
		fmt.Fprintf(&b, "2 in %s and 2 in English. ", spec.Language)
	} else {
		b.WriteString("4 in English. ")
	}
	b.WriteString("Each query should be 3-8 words, suitable for academic search engines. No boolean operators.")
	return b.String()
}

func cleanQueries(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool)
	for _, q := range in {
		q = strings.TrimSpace(q)
		if q == "" || seen[strings.ToLower(q)] {
			continue
		}
		seen[strings.ToLower(q)] = true
		out = append(out, q)
	}
	return out
}
