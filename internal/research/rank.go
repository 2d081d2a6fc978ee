package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/config"
	"github.com/folioworks/folio/internal/providers"
)

var rankSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"scores": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"index": {"type": "integer"},
					"score": {"type": "integer", "minimum": 0, "maximum": 100}
				},
				"required": ["index", "score"]
			}
		}
	},
	"required": ["scores"]
}`)

type rankOutput struct {
	Scores []struct {
		Index int `json:"index"`
		Score int `json:"score"`
	} `json:"scores"`
}

// Ranker assigns relevance scores to candidate sources.
type Ranker struct {
	reg    *providers.Registry
	cfg    config.PipelineConfig
	logger *slog.Logger
}

// NewRanker creates a ranker.
func NewRanker(reg *providers.Registry, cfg config.PipelineConfig, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{reg: reg, cfg: cfg, logger: logger}
}

// Rank scores sources 0-100 against the thesis. Sources are processed
// in batches; candidates past the processing cap, and batches whose
// LLM call fails, receive the heuristic default score instead of
// blocking acquisition. Scores are written into the returned copies.
func (r *Ranker) Rank(ctx context.Context, spec *bib.ThesisSpec, sources []bib.Source) ([]bib.Source, error) {
	client, err := r.reg.ForRole("rank")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ranking model: %w", err)
	}

	out := make([]bib.Source, len(sources))
	copy(out, sources)

	cap := r.cfg.RankProcessingCap
	if cap <= 0 || cap > len(out) {
		cap = len(out)
	}
	for i := cap; i < len(out); i++ {
		out[i].RelevanceScore = r.cfg.DefaultHeuristicScore
	}

	batchSize := r.cfg.RankBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	for start := 0; start < cap; start += batchSize {
		end := start + batchSize
		if end > cap {
			end = cap
		}
		batch := out[start:end]

		var parsed rankOutput
		_, err := providers.GenerateStructured(ctx, client, &providers.GenerateRequest{
			System:         "You score academic sources for relevance to a thesis.",
			Prompt:         buildRankPrompt(spec, batch),
			ResponseSchema: rankSchema,
			Temperature:    0.1,
		}, &parsed)
		if err != nil {
			r.logger.Warn("ranking batch failed, using heuristic scores",
				"batch_start", start, "error", err)
			for i := range batch {
				batch[i].RelevanceScore = r.cfg.DefaultHeuristicScore
			}
			continue
		}

		scored := make(map[int]int, len(parsed.Scores))
		for _, s := range parsed.Scores {
			if s.Index >= 0 && s.Index < len(batch) {
				scored[s.Index] = clampScore(s.Score)
			}
		}
		for i := range batch {
			if score, ok := scored[i]; ok {
				batch[i].RelevanceScore = score
			} else {
				batch[i].RelevanceScore = r.cfg.DefaultHeuristicScore
			}
		}
	}

	return out, nil
}

// FilterRelevant drops sources below the relevance cutoff and sorts
// the rest by score, highest first.
func (r *Ranker) FilterRelevant(sources []bib.Source) []bib.Source {
	out := make([]bib.Source, 0, len(sources))
	for _, s := range sources {
		if s.RelevanceScore >= r.cfg.MinRelevanceScore {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevanceScore > out[j].RelevanceScore
	})
	return out
}

func buildRankPrompt(spec *bib.ThesisSpec, batch []bib.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thesis: %s\n", spec.Title)
	if spec.Field != "" {
		fmt.Fprintf(&b, "Field: %s\n", spec.Field)
	}
	fmt.Fprintf(&b, "Research question: %s\n\n", spec.ResearchQuestion)
	b.WriteString("Score each source 0-100 for relevance to this thesis. ")
	b.WriteString("Sources outside the thesis field score below 20. ")
	b.WriteString("Sources that are not clearly on-topic for the research question score below 60. ")
	b.WriteString("Return JSON with a \"scores\" array of {index, score} objects covering every index.\n\n")
	for i, s := range batch {
		fmt.Fprintf(&b, "[%d] %s", i, s.Title)
		if s.Year > 0 {
			fmt.Fprintf(&b, " (%d)", s.Year)
		}
		if s.Venue != "" {
			fmt.Fprintf(&b, " - %s", s.Venue)
		}
		b.WriteString("\n")
		if s.Abstract != "" {
			abstract := s.Abstract
			if len(abstract) > 400 {
				abstract = abstract[:400]
			}
			fmt.Fprintf(&b, "    %s\n", abstract)
		}
	}
	return b.String()
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
