package humanize

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/config"
	"github.com/folioworks/folio/internal/providers"
	"github.com/folioworks/folio/internal/scoring"
)

// PlagiarismPass rewrites flagged spans until the originality score
// reaches its target.
type PlagiarismPass struct {
	reg     *providers.Registry
	checker scoring.PlagiarismChecker
	cfg     config.PipelineConfig
	logger  *slog.Logger
}

// NewPlagiarismPass creates a plagiarism pass.
func NewPlagiarismPass(reg *providers.Registry, checker scoring.PlagiarismChecker, cfg config.PipelineConfig, logger *slog.Logger) *PlagiarismPass {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlagiarismPass{reg: reg, checker: checker, cfg: cfg, logger: logger}
}

// Run checks originality and rewrites flagged spans, re-checking after
// each attempt. A nil result means the checker was unavailable.
func (p *PlagiarismPass) Run(ctx context.Context, document string) (string, *bib.PlagiarismResult, error) {
	result, err := p.checker.Check(ctx, document)
	if err != nil {
		p.logger.Warn("plagiarism checker unavailable, skipping pass", "error", err)
		return document, nil, nil
	}
	if result.OriginalityScore >= p.cfg.OriginalityTarget {
		return document, result, nil
	}

	for attempt := 1; attempt <= p.cfg.MaxPlagiarismAttempts; attempt++ {
		if len(result.FlaggedSpans) == 0 {
			break
		}

		rewritten, changed := p.rewriteSpans(ctx, document, result.FlaggedSpans)
		if !changed {
			p.logger.Warn("no flagged span could be rewritten", "attempt", attempt)
			break
		}
		document = rewritten

		result, err = p.checker.Check(ctx, document)
		if err != nil {
			p.logger.Warn("plagiarism re-check failed", "attempt", attempt, "error", err)
			return document, nil, nil
		}
		p.logger.Info("plagiarism attempt scored",
			"attempt", attempt, "score", result.OriginalityScore)
		if result.OriginalityScore >= p.cfg.OriginalityTarget {
			break
		}
	}

	return document, result, nil
}

// rewriteSpans paraphrases each flagged span and substitutes it back:
// exact match first, then whitespace-relaxed.
func (p *PlagiarismPass) rewriteSpans(ctx context.Context, document string, spans []string) (string, bool) {
	client, err := p.reg.ForRole("rewrite")
	if err != nil {
		p.logger.Warn("failed to resolve rewrite model", "error", err)
		return document, false
	}

	changed := false
	for _, span := range spans {
		span = strings.TrimSpace(span)
		if span == "" {
			continue
		}

		result, err := client.Generate(ctx, &providers.GenerateRequest{
			System:      "You paraphrase academic text. Keep the meaning and every citation; change the wording and sentence structure substantially.",
			Prompt:      "Paraphrase this passage. Return only the paraphrase.\n\n" + span,
			Temperature: 0.9,
		})
		if err != nil {
			p.logger.Warn("span paraphrase failed", "error", err)
			continue
		}
		replacement := strings.TrimSpace(result.Text)
		if replacement == "" || !citationsPreserved(span, replacement) {
			continue
		}

		if strings.Contains(document, span) {
			document = strings.Replace(document, span, replacement, 1)
			changed = true
			continue
		}
		// The checker may have normalized whitespace; match the span
		// with flexible gaps between its tokens.
		if re := relaxedPattern(span); re != nil {
			if loc := re.FindStringIndex(document); loc != nil {
				document = document[:loc[0]] + replacement + document[loc[1]:]
				changed = true
			}
		}
	}
	return document, changed
}

// relaxedPattern builds a regexp matching the span with arbitrary
// whitespace between tokens.
func relaxedPattern(span string) *regexp.Regexp {
	fields := strings.Fields(span)
	if len(fields) == 0 {
		return nil
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = regexp.QuoteMeta(f)
	}
	re, err := regexp.Compile(strings.Join(quoted, `\s+`))
	if err != nil {
		return nil
	}
	return re
}
