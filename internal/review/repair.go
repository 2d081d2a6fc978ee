package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/providers"
)

// Repairer applies critique fixes to a document chunk by chunk.
// Chunked repair keeps each model call focused and lets a bad chunk
// rewrite be rejected without losing the rest of the pass.
type Repairer struct {
	reg           *providers.Registry
	collapseRatio float64
	logger        *slog.Logger
}

// NewRepairer creates a repairer. collapseRatio is the fraction of a
// chunk that may be lost in a rewrite before the rewrite is rejected.
func NewRepairer(reg *providers.Registry, collapseRatio float64, logger *slog.Logger) *Repairer {
	if collapseRatio <= 0 || collapseRatio >= 1 {
		collapseRatio = 0.4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Repairer{reg: reg, collapseRatio: collapseRatio, logger: logger}
}

// Repair rewrites the document applying the given defects. Chunks
// whose rewrite collapses below the retention floor keep their
// original text.
func (r *Repairer) Repair(ctx context.Context, spec *bib.ThesisSpec, document string, defects []bib.Defect) (string, error) {
	if len(defects) == 0 {
		return document, nil
	}
	client, err := r.reg.ForRole("critique")
	if err != nil {
		return "", fmt.Errorf("failed to resolve repair model: %w", err)
	}

	chunks := SplitChapters(document)
	repaired := make([]string, len(chunks))

	for i, chunk := range chunks {
		result, err := client.Generate(ctx, &providers.GenerateRequest{
			System:      "You repair academic text. Apply the fixes exactly; change nothing else.",
			Prompt:      buildRepairPrompt(spec, chunk, defects),
			Temperature: 0.3,
		})
		if err != nil {
			return "", fmt.Errorf("repair chunk %d: %w", i+1, err)
		}

		newText := strings.TrimSpace(result.Text)
		origWords := bib.CountWords(chunk)
		floor := int(float64(origWords) * (1 - r.collapseRatio))
		if bib.CountWords(newText) < floor {
			r.logger.Warn("repair collapsed chunk, keeping original",
				"chunk", i+1, "original_words", origWords, "repaired_words", bib.CountWords(newText))
			repaired[i] = chunk
			continue
		}
		repaired[i] = newText
	}

	return strings.Join(repaired, "\n\n"), nil
}

func buildRepairPrompt(spec *bib.ThesisSpec, chunk string, defects []bib.Defect) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Apply these fixes to the text section below (language: %s, citation style: %s). ",
		spec.Language, spec.CitationStyle)
	b.WriteString("Keep the headings, the length and everything not named in a fix. Return the full corrected section.\n\nFixes:\n")
	for _, d := range defects {
		fix := d.Fix
		if !strings.HasPrefix(fix, "FIX:") {
			fix = "FIX: " + fix
		}
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", d.Category, fix, d.Description)
	}
	b.WriteString("\nSection:\n---\n")
	b.WriteString(chunk)
	b.WriteString("\n---")
	return b.String()
}

// SplitChapters splits a document at top-level chapter headings
// ("## ..."), keeping each heading with its body. A document without
// such headings is one chunk.
func SplitChapters(document string) []string {
	lines := strings.Split(document, "\n")
	var chunks []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.TrimSpace(strings.Join(current, "\n")))
			current = nil
		}
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			flush()
		}
		current = append(current, line)
	}
	flush()

	if len(chunks) == 0 {
		return []string{document}
	}
	return chunks
}
