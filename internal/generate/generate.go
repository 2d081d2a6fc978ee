package generate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/config"
	"github.com/folioworks/folio/internal/providers"
)

// Generator writes the chaptered draft.
type Generator struct {
	reg    *providers.Registry
	cfg    config.PipelineConfig
	logger *slog.Logger

	// BannedPhrases extends the default banned phrase list.
	BannedPhrases []string
}

// NewGenerator creates a generator.
func NewGenerator(reg *providers.Registry, cfg config.PipelineConfig, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{reg: reg, cfg: cfg, logger: logger}
}

func (g *Generator) banned() []string {
	return append(append([]string{}, defaultBannedPhrases...), g.BannedPhrases...)
}

// Run generates every content chapter sequentially, carrying rolling
// summaries forward so later chapters build on earlier ones. storeID
// grounds generation in the job's retrieval store; empty storeID
// produces ungrounded drafts (tests only).
func (g *Generator) Run(ctx context.Context, spec *bib.ThesisSpec, plan *bib.GenerationPlan, sources []bib.Source, storeID string) ([]bib.ChapterDraft, error) {
	client, err := g.reg.ForRole("generate")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve generation model: %w", err)
	}

	chapters := bib.ContentChapters(spec.Outline)
	drafts := make([]bib.ChapterDraft, 0, len(chapters))

	for i := range chapters {
		ch := &chapters[i]
		in := promptInput{
			Spec:      spec,
			Chapter:   ch,
			Plan:      plan.ChapterPlan(ch.Number),
			Summaries: drafts,
			Sources:   sources,
			Density:   g.cfg.CitationDensityWords,
			Banned:    g.banned(),
			Pages:     g.cfg.VerifyCitationPages,
		}

		draft, err := g.generateChapter(ctx, client, in, storeID)
		if err != nil {
			return drafts, fmt.Errorf("chapter %s: %w", ch.Number, err)
		}

		if bad := OutOfRangeCitations(draft.Text, sources); len(bad) > 0 {
			g.logger.Warn("chapter cites pages outside known source ranges",
				"chapter", ch.Number, "count", len(bad))
			if g.cfg.VerifyCitationPages {
				draft.Text = g.repairPageCitations(ctx, client, draft.Text, bad, sources)
				draft.WordCount = bib.CountWords(draft.Text)
			}
		}

		draft.Summary, err = g.summarize(ctx, client, ch.Number, draft.Text)
		if err != nil {
			g.logger.Warn("chapter summary failed, carrying truncated text",
				"chapter", ch.Number, "error", err)
			draft.Summary = truncateWords(draft.Text, 200)
		}

		drafts = append(drafts, *draft)
		g.logger.Info("chapter generated",
			"chapter", ch.Number, "words", draft.WordCount)
	}

	return drafts, nil
}

// generateChapter produces one chapter, regenerating degenerate
// output and topping up drafts that land under the word floor.
func (g *Generator) generateChapter(ctx context.Context, client providers.LLMClient, in promptInput, storeID string) (*bib.ChapterDraft, error) {
	text, err := g.callModel(ctx, client, buildChapterPrompt(in), storeID)
	if err != nil {
		return nil, err
	}

	// A chapter that comes back near-empty is regenerated outright,
	// with the constraints restated, rather than extended.
	minWords := 0
	if in.Plan != nil {
		minWords = in.Plan.MinWords
	}
	for attempt := 0; g.nearEmpty(text, minWords) && attempt < g.cfg.MaxRegenerations; attempt++ {
		g.logger.Warn("degenerate chapter draft, regenerating",
			"chapter", in.Chapter.Number, "attempt", attempt+1, "words", bib.CountWords(text))
		text, err = g.callModel(ctx, client, buildRegenerationPrompt(in, attempt), storeID)
		if err != nil {
			return nil, err
		}
	}
	if g.nearEmpty(text, minWords) {
		return nil, fmt.Errorf("model returned no usable text after %d regenerations", g.cfg.MaxRegenerations)
	}

	// Continuation passes lift a short chapter toward its floor.
	floor := int(float64(minWords) * g.cfg.ChapterFloorRatio)
	for pass := 0; bib.CountWords(text) < floor && pass < g.cfg.MaxChapterPasses; pass++ {
		missing := floor - bib.CountWords(text)
		more, err := g.callModel(ctx, client, buildContinuationPrompt(in, text, missing), storeID)
		if err != nil {
			return nil, err
		}
		if bib.CountWords(more) == 0 {
			break
		}
		text = text + "\n\n" + strings.TrimSpace(more)
	}

	return &bib.ChapterDraft{
		ChapterNumber: in.Chapter.Number,
		Text:          strings.TrimSpace(text),
		WordCount:     bib.CountWords(text),
	}, nil
}

// ExtendToTarget lifts the whole document toward the target word count
// once all chapters exist. Each pass extends the chapter furthest
// under its budget; a pass that adds nothing ends the loop, so the
// word count grows monotonically.
func (g *Generator) ExtendToTarget(ctx context.Context, spec *bib.ThesisSpec, plan *bib.GenerationPlan, drafts []bib.ChapterDraft, sources []bib.Source, storeID string) ([]bib.ChapterDraft, error) {
	client, err := g.reg.ForRole("generate")
	if err != nil {
		return drafts, fmt.Errorf("failed to resolve generation model: %w", err)
	}

	target := spec.TargetWords()
	low := int(float64(target) * (1 - g.cfg.WordTolerance))
	chapters := bib.ContentChapters(spec.Outline)

	for pass := 0; pass < g.cfg.MaxExtensionPasses; pass++ {
		total := totalWords(drafts)
		if total >= low {
			break
		}

		idx := mostUnderBudget(drafts, plan)
		if idx < 0 {
			break
		}
		ch := chapterByNumber(chapters, drafts[idx].ChapterNumber)
		if ch == nil {
			break
		}

		in := promptInput{
			Spec:    spec,
			Chapter: ch,
			Plan:    plan.ChapterPlan(ch.Number),
			Sources: sources,
			Density: g.cfg.CitationDensityWords,
			Banned:  g.banned(),
			Pages:   g.cfg.VerifyCitationPages,
		}
		missing := low - total
		if in.Plan != nil && in.Plan.MaxWords-drafts[idx].WordCount < missing {
			missing = in.Plan.MaxWords - drafts[idx].WordCount
		}
		if missing <= 0 {
			missing = low - total
		}

		more, err := g.callModel(ctx, client, buildContinuationPrompt(in, drafts[idx].Text, missing), storeID)
		if err != nil {
			return drafts, fmt.Errorf("extension pass %d: %w", pass+1, err)
		}
		added := bib.CountWords(more)
		if added == 0 {
			g.logger.Warn("extension pass added nothing, stopping", "pass", pass+1)
			break
		}

		drafts[idx].Text = drafts[idx].Text + "\n\n" + strings.TrimSpace(more)
		drafts[idx].WordCount = bib.CountWords(drafts[idx].Text)
		g.logger.Info("document extended",
			"pass", pass+1, "chapter", drafts[idx].ChapterNumber, "added", added, "total", totalWords(drafts))
	}

	return drafts, nil
}

func (g *Generator) callModel(ctx context.Context, client providers.LLMClient, prompt, storeID string) (string, error) {
	result, err := client.Generate(ctx, &providers.GenerateRequest{
		System:            "You are an experienced academic writer producing thesis chapters.",
		Prompt:            prompt,
		FileSearchStoreID: storeID,
		Temperature:       0.7,
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// repairPageCitations asks the model to correct page numbers that fall
// outside the cited sources' printed ranges. Only the numbers may
// change; a rewrite whose length strays more than half from the
// original is discarded and the original text kept.
func (g *Generator) repairPageCitations(ctx context.Context, client providers.LLMClient, text string, bad []string, sources []bib.Source) string {
	result, err := client.Generate(ctx, &providers.GenerateRequest{
		System:      "You correct page numbers in academic citations.",
		Prompt:      buildPageFixPrompt(text, bad, sources),
		Temperature: 0.1,
	})
	if err != nil {
		g.logger.Warn("page citation repair failed", "error", err)
		return text
	}

	fixed := strings.TrimSpace(result.Text)
	orig, got := bib.CountWords(text), bib.CountWords(fixed)
	if orig == 0 || got*2 < orig || got > orig+orig/2 {
		g.logger.Warn("page citation repair rejected, rewrite length deviates too far",
			"original_words", orig, "rewritten_words", got)
		return text
	}
	return fixed
}

func (g *Generator) summarize(ctx context.Context, client providers.LLMClient, chapterNumber, text string) (string, error) {
	result, err := client.Generate(ctx, &providers.GenerateRequest{
		Prompt:      buildSummaryPrompt(chapterNumber, text),
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	return truncateWords(strings.TrimSpace(result.Text), 220), nil
}

// nearEmpty reports whether a draft is too degenerate to extend.
func (g *Generator) nearEmpty(text string, minWords int) bool {
	words := bib.CountWords(text)
	if words < 30 {
		return true
	}
	return minWords > 0 && words*10 < minWords
}

// pageCitePattern matches page references in in-text citations:
// "p. 12", "pp. 12-14", "S. 12".
var pageCitePattern = regexp.MustCompile(`(?:pp?\.|S\.)\s*(\d+)`)

// OutOfRangeCitations returns page citations that fall outside every
// source's known printed range. Sources without a known range cannot
// invalidate a citation.
func OutOfRangeCitations(text string, sources []bib.Source) []string {
	ranged := make([][2]int, 0, len(sources))
	for _, s := range sources {
		if s.PageStart > 0 && s.PageEnd >= s.PageStart {
			ranged = append(ranged, [2]int{s.PageStart, s.PageEnd})
		}
	}
	if len(ranged) == 0 {
		return nil
	}

	var bad []string
	for _, m := range pageCitePattern.FindAllStringSubmatch(text, -1) {
		page, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ok := false
		for _, r := range ranged {
			if page >= r[0] && page <= r[1] {
				ok = true
				break
			}
		}
		if !ok {
			bad = append(bad, m[0])
		}
	}
	return bad
}

func totalWords(drafts []bib.ChapterDraft) int {
	sum := 0
	for _, d := range drafts {
		sum += d.WordCount
	}
	return sum
}

// mostUnderBudget picks the draft with the biggest gap to its planned
// maximum, or -1 when every chapter is at budget.
func mostUnderBudget(drafts []bib.ChapterDraft, plan *bib.GenerationPlan) int {
	best, bestGap := -1, 0
	for i := range drafts {
		p := plan.ChapterPlan(drafts[i].ChapterNumber)
		if p == nil {
			continue
		}
		gap := p.MaxWords - drafts[i].WordCount
		if gap > bestGap {
			best, bestGap = i, gap
		}
	}
	if best < 0 && len(drafts) > 0 {
		// Every chapter is at budget but the document is still short:
		// extend the longest chapter's topic area.
		best = 0
	}
	return best
}

func chapterByNumber(chapters []bib.OutlineChapter, number string) *bib.OutlineChapter {
	for i := range chapters {
		if chapters[i].Number == number {
			return &chapters[i]
		}
	}
	return nil
}

func truncateWords(text string, max int) string {
	fields := strings.Fields(text)
	if len(fields) <= max {
		return text
	}
	return strings.Join(fields[:max], " ")
}
