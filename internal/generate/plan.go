package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/providers"
)

var planSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"chapters": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"chapter_number": {"type": "string"},
					"min_words": {"type": "integer", "minimum": 0},
					"max_words": {"type": "integer", "minimum": 0},
					"focus": {"type": "string"}
				},
				"required": ["chapter_number", "min_words", "max_words"]
			}
		}
	},
	"required": ["chapters"]
}`)

// SynthesizePlan asks the model for per-chapter word budgets and
// focus notes, then normalizes the result so budgets cover every
// content chapter and sum to the target. A failed or degenerate plan
// falls back to an even split rather than blocking generation.
func SynthesizePlan(ctx context.Context, reg *providers.Registry, spec *bib.ThesisSpec, tolerance float64) (*bib.GenerationPlan, error) {
	chapters := bib.ContentChapters(spec.Outline)
	if len(chapters) == 0 {
		return nil, fmt.Errorf("outline has no content chapters")
	}

	client, err := reg.ForRole("generate")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve planning model: %w", err)
	}

	var plan bib.GenerationPlan
	_, err = providers.GenerateStructured(ctx, client, &providers.GenerateRequest{
		System:         "You plan academic documents chapter by chapter.",
		Prompt:         buildPlanPrompt(spec, chapters),
		ResponseSchema: planSchema,
		Temperature:    0.3,
	}, &plan)
	if err != nil || !planCovers(&plan, chapters) {
		return evenPlan(spec, chapters, tolerance), nil
	}

	normalizePlan(&plan, spec.TargetWords(), tolerance)
	return &plan, nil
}

func buildPlanPrompt(spec *bib.ThesisSpec, chapters []bib.OutlineChapter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan the word distribution for a %s titled \"%s\" (%d words total).\n",
		spec.ThesisType, spec.Title, spec.TargetWords())
	fmt.Fprintf(&b, "Research question: %s\n\nChapters:\n", spec.ResearchQuestion)
	for _, ch := range chapters {
		fmt.Fprintf(&b, "%s %s\n", ch.Number, ch.Title)
	}
	b.WriteString("\nReturn JSON: {\"chapters\": [{chapter_number, min_words, max_words, focus}]}. ")
	b.WriteString("Budgets must cover every chapter listed, weight the core chapters heavier than introduction and conclusion, and the max_words must sum approximately to the total.")
	return b.String()
}

// planCovers reports whether every content chapter has a budget.
func planCovers(plan *bib.GenerationPlan, chapters []bib.OutlineChapter) bool {
	for _, ch := range chapters {
		entry := plan.ChapterPlan(ch.Number)
		if entry == nil || entry.MaxWords <= 0 || entry.MinWords > entry.MaxWords {
			return false
		}
	}
	return true
}

// normalizePlan scales budgets so their max sum matches the target.
func normalizePlan(plan *bib.GenerationPlan, target int, tolerance float64) {
	sum := 0
	for _, ch := range plan.Chapters {
		sum += ch.MaxWords
	}
	if sum == 0 {
		return
	}
	low := float64(target) * (1 - tolerance)
	high := float64(target) * (1 + tolerance)
	if float64(sum) >= low && float64(sum) <= high {
		return
	}
	scale := float64(target) / float64(sum)
	for i := range plan.Chapters {
		plan.Chapters[i].MinWords = int(float64(plan.Chapters[i].MinWords) * scale)
		plan.Chapters[i].MaxWords = int(float64(plan.Chapters[i].MaxWords) * scale)
	}
}

// evenPlan splits the budget evenly across content chapters.
func evenPlan(spec *bib.ThesisSpec, chapters []bib.OutlineChapter, tolerance float64) *bib.GenerationPlan {
	per := spec.TargetWords() / len(chapters)
	plan := &bib.GenerationPlan{Chapters: make([]bib.PlanChapter, len(chapters))}
	for i, ch := range chapters {
		plan.Chapters[i] = bib.PlanChapter{
			ChapterNumber: ch.Number,
			MinWords:      int(float64(per) * (1 - tolerance)),
			MaxWords:      int(float64(per) * (1 + tolerance)),
		}
	}
	return plan
}
