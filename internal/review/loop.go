package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/config"
	"github.com/folioworks/folio/internal/providers"
)

// Persister receives every critique report as it is produced, before
// the loop decides what to do next. Reports are audit artifacts and
// must survive even a failed run.
type Persister func(ctx context.Context, report bib.CritiqueReport) error

// Loop drives critique and repair until the draft passes or the
// iteration budget is spent.
type Loop struct {
	reg      *providers.Registry
	cfg      config.PipelineConfig
	repairer *Repairer
	logger   *slog.Logger
}

// NewLoop creates a review loop.
func NewLoop(reg *providers.Registry, cfg config.PipelineConfig, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		reg:      reg,
		cfg:      cfg,
		repairer: NewRepairer(reg, cfg.RepairCollapseRatio, logger),
		logger:   logger,
	}
}

// Run reviews and repairs the document. It returns the final text and
// whether the last critique came back clean. Each iteration combines
// the model critique with the mechanical checks; both must pass. A
// critique that fails technically consumes the iteration but never
// counts as a pass.
func (l *Loop) Run(ctx context.Context, spec *bib.ThesisSpec, document string, sources []bib.Source, storeID string, persist Persister) (string, bool, error) {
	clean := false

	for iter := 1; iter <= l.cfg.MaxCritiqueIterations; iter++ {
		report, err := Critique(ctx, l.reg, spec, document, storeID, iter)
		if err != nil {
			l.logger.Warn("critique iteration failed", "iteration", iter, "error", err)
			continue
		}
		report.Defects = append(report.Defects, Inspect(document, sources)...)

		if persist != nil {
			if perr := persist(ctx, *report); perr != nil {
				return document, false, fmt.Errorf("failed to persist critique %d: %w", iter, perr)
			}
		}

		if report.Clean() {
			l.logger.Info("critique clean", "iteration", iter)
			clean = true
			break
		}

		l.logger.Info("repairing draft",
			"iteration", iter, "defects", len(report.Defects))
		repaired, err := l.repairer.Repair(ctx, spec, document, report.Defects)
		if err != nil {
			l.logger.Warn("repair failed, keeping current draft", "iteration", iter, "error", err)
			continue
		}
		document = repaired
	}

	return document, clean, nil
}
