// Package humanize post-processes the assembled document against the
// external scorers: a detectability loop rewrites machine-sounding
// sentences until the human score reaches its target, and a
// plagiarism pass rewrites flagged spans until the originality score
// does. Neither loop ever fabricates a score; when a scorer is
// unavailable the document passes through unchanged with a nil result.
package humanize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/config"
	"github.com/folioworks/folio/internal/providers"
	"github.com/folioworks/folio/internal/review"
	"github.com/folioworks/folio/internal/scoring"
)

// rewriteBatchSize bounds how many flagged sentences go into one
// rewrite call.
const rewriteBatchSize = 8

// citationPattern matches in-text citations and footnote markers so
// rewrites that drop them can be rejected.
var citationPattern = regexp.MustCompile(`\([^()]*\d{4}[^()]*\)|\[\^\d+\]`)

// Humanizer runs the detectability loop.
type Humanizer struct {
	reg      *providers.Registry
	detector scoring.Detector
	cfg      config.PipelineConfig
	logger   *slog.Logger
}

// NewHumanizer creates a humanizer.
func NewHumanizer(reg *providers.Registry, detector scoring.Detector, cfg config.PipelineConfig, logger *slog.Logger) *Humanizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Humanizer{reg: reg, detector: detector, cfg: cfg, logger: logger}
}

// History records each measured score, for persistence.
type History struct {
	Scores []float64
}

// Run measures and, if needed, rewrites the document. The returned
// result is nil when the detector was unavailable. A document already
// at or above the target is returned untouched without a single
// rewrite call. Otherwise the best-scoring text seen wins, even if a
// later iteration scored worse.
func (h *Humanizer) Run(ctx context.Context, document string) (string, *bib.DetectionResult, *History, error) {
	hist := &History{}

	result, err := h.detector.Detect(ctx, document)
	if err != nil {
		h.logger.Warn("detector unavailable, skipping humanization", "error", err)
		return document, nil, hist, nil
	}
	hist.Scores = append(hist.Scores, result.HumanScore)

	if result.HumanScore >= h.cfg.DetectabilityTarget {
		h.logger.Info("document already reads human", "score", result.HumanScore)
		return document, result, hist, nil
	}

	bestText, bestResult := document, result

	for iter := 1; iter <= h.cfg.MaxHumanizeIterations; iter++ {
		flagged := bestResult.FlaggedSentences
		if len(flagged) == 0 {
			flagged = worstSentences(bestText, rewriteBatchSize)
		}

		rewritten, err := h.rewriteSentences(ctx, bestText, flagged)
		if err != nil {
			h.logger.Warn("rewrite iteration failed", "iteration", iter, "error", err)
			continue
		}

		result, err := h.detector.Detect(ctx, rewritten)
		if err != nil {
			h.logger.Warn("detector failed mid-loop, keeping best text", "error", err)
			break
		}
		hist.Scores = append(hist.Scores, result.HumanScore)
		h.logger.Info("humanize iteration scored",
			"iteration", iter, "score", result.HumanScore, "best", bestResult.HumanScore)

		if result.HumanScore > bestResult.HumanScore {
			bestText, bestResult = rewritten, result
		}
		if bestResult.HumanScore >= h.cfg.DetectabilityTarget {
			return bestText, bestResult, hist, nil
		}
	}

	// Still clearly machine-sounding: one coarse chapter-by-chapter
	// rewrite as a last resort.
	if bestResult.HumanScore < h.cfg.DetectabilitySecondary {
		rewritten, err := h.rewriteChunked(ctx, bestText)
		if err == nil {
			if result, derr := h.detector.Detect(ctx, rewritten); derr == nil {
				hist.Scores = append(hist.Scores, result.HumanScore)
				if result.HumanScore > bestResult.HumanScore {
					bestText, bestResult = rewritten, result
				}
			}
		} else {
			h.logger.Warn("secondary rewrite failed", "error", err)
		}
	}

	return bestText, bestResult, hist, nil
}

var rewriteSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"rewrites": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"index": {"type": "integer"},
					"text": {"type": "string"}
				},
				"required": ["index", "text"]
			}
		}
	},
	"required": ["rewrites"]
}`)

type rewriteOutput struct {
	Rewrites []struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
	} `json:"rewrites"`
}

// rewriteSentences replaces flagged sentences in batches. A rewrite
// that drops a citation, or whose sentence cannot be located in the
// document, is discarded.
func (h *Humanizer) rewriteSentences(ctx context.Context, document string, flagged []string) (string, error) {
	client, err := h.reg.ForRole("rewrite")
	if err != nil {
		return "", fmt.Errorf("failed to resolve rewrite model: %w", err)
	}

	out := document
	for start := 0; start < len(flagged); start += rewriteBatchSize {
		end := start + rewriteBatchSize
		if end > len(flagged) {
			end = len(flagged)
		}
		batch := flagged[start:end]

		var parsed rewriteOutput
		_, err := providers.GenerateStructured(ctx, client, &providers.GenerateRequest{
			System:         "You rewrite academic sentences so they read naturally human. Keep meaning and citations exactly.",
			Prompt:         buildRewritePrompt(batch),
			ResponseSchema: rewriteSchema,
			Temperature:    0.9,
		}, &parsed)
		if err != nil {
			return "", err
		}

		for _, rw := range parsed.Rewrites {
			if rw.Index < 0 || rw.Index >= len(batch) {
				continue
			}
			original := batch[rw.Index]
			replacement := strings.TrimSpace(rw.Text)
			if replacement == "" || !citationsPreserved(original, replacement) {
				continue
			}
			if !strings.Contains(out, original) {
				continue
			}
			out = strings.Replace(out, original, replacement, 1)
		}
	}
	return out, nil
}

// rewriteChunked rewrites the whole document chapter by chapter.
func (h *Humanizer) rewriteChunked(ctx context.Context, document string) (string, error) {
	client, err := h.reg.ForRole("rewrite")
	if err != nil {
		return "", fmt.Errorf("failed to resolve rewrite model: %w", err)
	}

	chunks := review.SplitChapters(document)
	out := make([]string, len(chunks))
	for i, chunk := range chunks {
		result, err := client.Generate(ctx, &providers.GenerateRequest{
			System: "You rewrite academic text so it reads naturally human: vary sentence length and rhythm, keep headings, citations, meaning and length.",
			Prompt: "Rewrite this section. Return only the rewritten text.\n\n---\n" + chunk + "\n---",
			Temperature: 0.9,
		})
		if err != nil {
			return "", fmt.Errorf("chunk %d: %w", i+1, err)
		}
		text := strings.TrimSpace(result.Text)
		if bib.CountWords(text) < bib.CountWords(chunk)/2 || !citationsPreserved(chunk, text) {
			out[i] = chunk
			continue
		}
		out[i] = text
	}
	return strings.Join(out, "\n\n"), nil
}

func buildRewritePrompt(batch []string) string {
	var b strings.Builder
	b.WriteString("Rewrite each sentence so it sounds like a human academic wrote it: vary rhythm, avoid formulaic phrasing. ")
	b.WriteString("Preserve the meaning and keep every citation exactly as written. ")
	b.WriteString("Return JSON: {\"rewrites\": [{index, text}]} covering every index.\n\n")
	for i, s := range batch {
		fmt.Fprintf(&b, "[%d] %s\n", i, s)
	}
	return b.String()
}

// citationsPreserved reports whether every citation in the original
// survives in the rewrite.
func citationsPreserved(original, rewritten string) bool {
	for _, c := range citationPattern.FindAllString(original, -1) {
		if !strings.Contains(rewritten, c) {
			return false
		}
	}
	return true
}

// worstSentences is the fallback when the detector reports no flagged
// sentences: take the longest sentences, which tend to carry the most
// formulaic weight.
func worstSentences(document string, n int) []string {
	sentences := splitSentences(document)
	if len(sentences) <= n {
		return sentences
	}
	// Partial selection sort for the n longest.
	for i := 0; i < n; i++ {
		max := i
		for j := i + 1; j < len(sentences); j++ {
			if len(sentences[j]) > len(sentences[max]) {
				max = j
			}
		}
		sentences[i], sentences[max] = sentences[max], sentences[i]
	}
	return sentences[:n]
}

var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

func splitSentences(text string) []string {
	parts := sentenceEnd.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" && !strings.HasPrefix(p, "#") {
			out = append(out, p)
		}
	}
	return out
}
