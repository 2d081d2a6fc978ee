// Package review runs the critique/repair loop over a finished draft:
// a critic model audits the document against the spec, and a repair
// pass applies the concrete fixes chunk by chunk until the critique
// comes back clean or the iteration budget runs out.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/providers"
)

var critiqueSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"findings": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"defects": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"category": {"type": "string"},
					"description": {"type": "string"},
					"fix": {"type": "string"}
				},
				"required": ["category", "description", "fix"]
			}
		}
	},
	"required": ["findings", "defects"]
}`)

type critiqueOutput struct {
	Findings map[string]string `json:"findings"`
	Defects  []struct {
		Category    string `json:"category"`
		Description string `json:"description"`
		Fix         string `json:"fix"`
	} `json:"defects"`
}

// critiqueCategories are the audit dimensions, in report order.
var critiqueCategories = []bib.CritiqueCategory{
	bib.CritiqueStructure,
	bib.CritiqueCoverage,
	bib.CritiqueSources,
	bib.CritiquePages,
	bib.CritiqueLanguage,
}

// Critique audits the document and returns the iteration's report.
// storeID grounds the critic in the job's retrieval store so source
// fidelity is checked against the indexed documents, not the critic's
// prior.
func Critique(ctx context.Context, reg *providers.Registry, spec *bib.ThesisSpec, document, storeID string, iteration int) (*bib.CritiqueReport, error) {
	client, err := reg.ForRole("critique")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve critique model: %w", err)
	}

	var parsed critiqueOutput
	result, err := providers.GenerateStructured(ctx, client, &providers.GenerateRequest{
		System:            "You are a rigorous academic reviewer. Report only real, fixable defects.",
		Prompt:            buildCritiquePrompt(spec, document),
		ResponseSchema:    critiqueSchema,
		FileSearchStoreID: storeID,
		Temperature:       0.2,
	}, &parsed)
	if err != nil {
		return nil, fmt.Errorf("critique failed: %w", err)
	}

	report := &bib.CritiqueReport{
		Iteration: iteration,
		Findings:  make(map[bib.CritiqueCategory]string, len(parsed.Findings)),
		Raw:       result.Text,
		CreatedAt: time.Now().UTC(),
	}
	for k, v := range parsed.Findings {
		report.Findings[bib.CritiqueCategory(k)] = v
	}
	for _, d := range parsed.Defects {
		if strings.TrimSpace(d.Fix) == "" {
			continue // a defect without an actionable fix is noise
		}
		report.Defects = append(report.Defects, bib.Defect{
			Category:    bib.CritiqueCategory(d.Category),
			Description: d.Description,
			Fix:         d.Fix,
		})
	}
	return report, nil
}

func buildCritiquePrompt(spec *bib.ThesisSpec, document string) string {
	var b strings.Builder
	b.WriteString("Audit this thesis draft. Evaluate exactly these categories:\n")
	for _, c := range critiqueCategories {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString("\nRules:\n")
	fmt.Fprintf(&b, "- structure: headings must match the outline exactly (numbering, order, depth).\n")
	fmt.Fprintf(&b, "- %s: the text must answer the research question as worded: %q\n",
		bib.CritiqueCoverage, spec.ResearchQuestion)
	fmt.Fprintf(&b, "- %s: claims must be attributable to the cited sources, style %s.\n",
		bib.CritiqueSources, spec.CitationStyle)
	fmt.Fprintf(&b, "- %s: page numbers in citations must be plausible for the cited work.\n", bib.CritiquePages)
	fmt.Fprintf(&b, "- %s: the text must be in %s throughout, free of filler and meta commentary.\n",
		bib.CritiqueLanguage, spec.Language)
	b.WriteString("\nReturn JSON: findings (one short verdict per category) and defects. ")
	b.WriteString("Each defect needs a category, a description, and a fix phrased as a direct instruction starting with \"FIX:\". ")
	b.WriteString("An empty defects array means the draft passes.\n\nDraft:\n---\n")
	b.WriteString(document)
	b.WriteString("\n---")
	return b.String()
}
