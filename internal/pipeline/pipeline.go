// Package pipeline runs a job end to end: source acquisition,
// ingestion, chapter generation, critique and repair, detectability
// and originality post-processing, and final assembly. The runner
// owns nothing but the stage order; each stage lives in its own
// package and the store records progress so a restarted worker can
// tell where a job died.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/config"
	"github.com/folioworks/folio/internal/document"
	"github.com/folioworks/folio/internal/filestore"
	"github.com/folioworks/folio/internal/generate"
	"github.com/folioworks/folio/internal/humanize"
	"github.com/folioworks/folio/internal/ingest"
	"github.com/folioworks/folio/internal/providers"
	"github.com/folioworks/folio/internal/queue"
	"github.com/folioworks/folio/internal/research"
	"github.com/folioworks/folio/internal/review"
	"github.com/folioworks/folio/internal/scoring"
	"github.com/folioworks/folio/internal/search"
	"github.com/folioworks/folio/internal/store"
)

// Stage names recorded on the job as it advances.
const (
	StageResearch    = "research"
	StageIngest      = "ingest"
	StagePlan        = "plan"
	StageGenerate    = "generate"
	StageReview      = "review"
	StageHumanize    = "humanize"
	StageOriginality = "originality"
	StageFinalize    = "finalize"
)

// Deps bundles everything a Runner needs. Detector, Checker and
// Resolver may be nil; the corresponding steps then degrade instead
// of failing.
type Deps struct {
	Store     *store.Store
	Files     filestore.Store
	Registry  *providers.Registry
	Providers []search.Provider
	Resolver  search.OpenAccessResolver
	Detector  scoring.Detector
	Checker   scoring.PlagiarismChecker
	Admission *queue.AdmissionController
	Cfg       config.PipelineConfig
	Logger    *slog.Logger
}

// Runner executes generation jobs.
type Runner struct {
	deps         Deps
	resolveLimit *providers.RateLimiter
	logger       *slog.Logger
}

// NewRunner creates a pipeline runner.
func NewRunner(deps Deps) *Runner {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Admission == nil {
		deps.Admission = queue.NewAdmissionController(deps.Cfg.MaxConcurrentJobs)
	}
	return &Runner{
		deps:         deps,
		resolveLimit: providers.NewRateLimiter(deps.Cfg.OpenAccessRateLimit),
		logger:       deps.Logger,
	}
}

// Execute runs one queued job to completion. It blocks in FIFO order
// until an execution slot is free, moves the record to generating and
// walks the stages. Any fatal error marks the job failed; the error is
// also returned so the worker can log it.
func (r *Runner) Execute(ctx context.Context, jobID string) error {
	if err := r.deps.Admission.Acquire(ctx); err != nil {
		return fmt.Errorf("admission wait aborted: %w", err)
	}
	defer r.deps.Admission.Release()

	if err := r.deps.Store.TransitionJob(ctx, jobID, store.StatusQueued, store.StatusGenerating); err != nil {
		return fmt.Errorf("job %s not in queued state: %w", jobID, err)
	}

	log := r.logger.With("job_id", jobID)
	log.Info("job execution started")

	if err := r.run(ctx, jobID, log); err != nil {
		log.Error("job failed", "error", err)
		if ferr := r.deps.Store.FailJob(context.WithoutCancel(ctx), jobID, err.Error()); ferr != nil {
			log.Error("failed to record job failure", "error", ferr)
		}
		return err
	}

	log.Info("job completed")
	return nil
}

func (r *Runner) run(ctx context.Context, jobID string, log *slog.Logger) error {
	job, err := r.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	spec := &job.Spec

	// Source acquisition. A restarted job that already persisted its
	// selection resumes from it instead of searching again.
	selected, err := r.deps.Store.GetSources(ctx, jobID)
	if err != nil {
		return err
	}
	var reserve []bib.Source
	if len(selected) == 0 {
		if err := r.setStage(ctx, jobID, StageResearch); err != nil {
			return err
		}
		selected, reserve, err = r.runResearch(ctx, spec, log)
		if err != nil {
			return fmt.Errorf("research: %w", err)
		}
		if err := r.deps.Store.ReplaceSources(ctx, jobID, selected); err != nil {
			return err
		}
	} else {
		log.Info("resuming with persisted sources", "count", len(selected))
	}

	// The retrieval store is provisioned once per job and recorded
	// immediately, so a restart reuses it.
	storeID := job.FileStoreID
	if storeID == "" {
		storeID = spec.FileStoreID
	}
	if storeID == "" {
		storeID, err = r.deps.Files.CreateStore(ctx, "folio-"+jobID)
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
	}
	if storeID != job.FileStoreID {
		if err := r.deps.Store.SetFileStore(ctx, jobID, storeID); err != nil {
			return err
		}
	}

	// Ingestion into the retrieval store. Skipped entirely when enough
	// documents are already indexed from a previous run.
	if n := countIngested(selected); n > 0 && n >= r.deps.Cfg.RequiredUploads {
		log.Info("ingestion already satisfied", "ingested", n)
	} else {
		if err := r.setStage(ctx, jobID, StageIngest); err != nil {
			return err
		}
		ingestor := ingest.NewIngestor(r.deps.Files, r.deps.Registry, r.deps.Cfg, log)
		ingestor.OnIngested = func(ctx context.Context, src bib.Source) {
			// Replacements from the reserve pool are not persisted yet;
			// their marks stick with the ReplaceSources below.
			if merr := r.deps.Store.MarkIngested(ctx, jobID, src.ID); merr != nil && !errors.Is(merr, store.ErrNotFound) {
				log.Warn("failed to persist ingestion progress", "source_id", src.ID, "error", merr)
			}
		}
		var res *ingest.Result
		res, selected, err = ingestor.Run(ctx, storeID, selected, reserve)
		if serr := r.deps.Store.ReplaceSources(ctx, jobID, selected); serr != nil {
			return serr
		}
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		log.Info("ingestion complete", "uploaded", res.Uploaded, "skipped", res.Skipped, "failed", len(res.Failed))
	}

	ingested := ingestedOnly(selected)

	// Word budget plan.
	if err := r.setStage(ctx, jobID, StagePlan); err != nil {
		return err
	}
	plan, err := generate.SynthesizePlan(ctx, r.deps.Registry, spec, r.deps.Cfg.WordTolerance)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	// Chapter generation and document-level extension.
	if err := r.setStage(ctx, jobID, StageGenerate); err != nil {
		return err
	}
	gen := generate.NewGenerator(r.deps.Registry, r.deps.Cfg, log)
	drafts, err := gen.Run(ctx, spec, plan, ingested, storeID)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	drafts, err = gen.ExtendToTarget(ctx, spec, plan, drafts, ingested, storeID)
	if err != nil {
		return fmt.Errorf("extend: %w", err)
	}

	doc, _ := document.Assemble(spec, drafts, ingested)

	// Critique and repair.
	if err := r.setStage(ctx, jobID, StageReview); err != nil {
		return err
	}
	loop := review.NewLoop(r.deps.Registry, r.deps.Cfg, log)
	doc, clean, err := loop.Run(ctx, spec, doc, ingested, storeID, func(ctx context.Context, report bib.CritiqueReport) error {
		return r.deps.Store.AppendCritique(ctx, jobID, report)
	})
	if err != nil {
		return fmt.Errorf("review: %w", err)
	}
	if !clean {
		log.Warn("critique budget exhausted with open defects")
	}

	// Detectability pass.
	if err := r.setStage(ctx, jobID, StageHumanize); err != nil {
		return err
	}
	var detScore *float64
	if r.deps.Detector != nil {
		humanizer := humanize.NewHumanizer(r.deps.Registry, r.deps.Detector, r.deps.Cfg, log)
		text, det, hist, err := humanizer.Run(ctx, doc)
		if err != nil {
			return fmt.Errorf("humanize: %w", err)
		}
		doc = text
		if hist != nil {
			for i, s := range hist.Scores {
				if err := r.deps.Store.AppendScore(ctx, jobID, "detectability", i+1, s); err != nil {
					return err
				}
			}
		}
		if det != nil {
			detScore = &det.HumanScore
		}
	}

	// Originality pass.
	if err := r.setStage(ctx, jobID, StageOriginality); err != nil {
		return err
	}
	var origScore *float64
	if r.deps.Checker != nil {
		pass := humanize.NewPlagiarismPass(r.deps.Registry, r.deps.Checker, r.deps.Cfg, log)
		text, plag, err := pass.Run(ctx, doc)
		if err != nil {
			return fmt.Errorf("originality: %w", err)
		}
		doc = text
		if plag != nil {
			origScore = &plag.OriginalityScore
			if err := r.deps.Store.AppendScore(ctx, jobID, "originality", 1, plag.OriginalityScore); err != nil {
				return err
			}
		}
	}

	// Final assembly check and completion.
	if err := r.setStage(ctx, jobID, StageFinalize); err != nil {
		return err
	}
	if problems := document.VerifyStructure(doc, spec.Outline); len(problems) > 0 {
		log.Warn("structure deviates from outline", "problems", strings.Join(problems, "; "))
	}

	return r.deps.Store.CompleteJob(ctx, jobID, doc, bib.CountWords(doc), detScore, origScore)
}

// runResearch walks query generation, provider search, dedup,
// open-access resolution, relevance ranking and balanced selection.
// Returns the selected set plus a reserve pool of relevant but
// unselected sources for ingestion replacements.
func (r *Runner) runResearch(ctx context.Context, spec *bib.ThesisSpec, log *slog.Logger) (selected, reserve []bib.Source, err error) {
	queries, err := research.GenerateQueries(ctx, r.deps.Registry, spec)
	if err != nil {
		return nil, nil, err
	}

	searcher := research.NewSearcher(r.deps.Providers, r.deps.Cfg.SearchConcurrency, log)
	found, err := searcher.Run(ctx, queries)
	if err != nil {
		return nil, nil, err
	}

	found = research.Dedupe(found)
	log.Info("search complete", "candidates", len(found))

	ranker := research.NewRanker(r.deps.Registry, r.deps.Cfg, log)
	ranked, err := ranker.Rank(ctx, spec, found)
	if err != nil {
		return nil, nil, err
	}
	relevant := ranker.FilterRelevant(ranked)
	if len(relevant) == 0 {
		return nil, nil, fmt.Errorf("no sources passed the relevance threshold")
	}

	r.resolveDocuments(ctx, relevant, log)
	markMandatory(relevant, spec.MandatorySources)

	selected = research.Select(relevant, spec.Outline, r.deps.Cfg)
	reserve = reservePool(relevant, selected)
	log.Info("sources selected", "selected", len(selected), "reserve", len(reserve))
	return selected, reserve, nil
}

// resolveDocuments fills in missing PDF locations through the open
// access resolver, one rate-limited lookup per DOI. Failures just
// leave the source without a document.
func (r *Runner) resolveDocuments(ctx context.Context, sources []bib.Source, log *slog.Logger) {
	if r.deps.Resolver == nil {
		return
	}
	for i := range sources {
		if sources[i].HasDocument() || sources[i].DOI == "" {
			continue
		}
		if err := r.resolveLimit.Wait(ctx); err != nil {
			log.Warn("open access resolution aborted", "error", err)
			return
		}
		url, err := r.deps.Resolver.ResolvePDF(ctx, sources[i].DOI)
		if err != nil {
			log.Debug("open access lookup failed", "doi", sources[i].DOI, "error", err)
			continue
		}
		sources[i].PDFURL = url
	}
}

// markMandatory flags sources matching the spec's mandatory list.
// Entries match by DOI or by case-insensitive title.
func markMandatory(sources []bib.Source, mandatory []string) {
	if len(mandatory) == 0 {
		return
	}
	want := make(map[string]bool, len(mandatory))
	for _, m := range mandatory {
		want[strings.ToLower(strings.TrimSpace(m))] = true
	}
	for i := range sources {
		if want[strings.ToLower(sources[i].DOI)] || want[strings.ToLower(strings.TrimSpace(sources[i].Title))] {
			sources[i].Mandatory = true
		}
	}
}

// reservePool returns relevant sources that were not selected, with
// IDs assigned so ingestion can track replacement attempts.
func reservePool(relevant, selected []bib.Source) []bib.Source {
	taken := make(map[string]bool, len(selected))
	for i := range selected {
		taken[selected[i].Key()] = true
	}
	var reserve []bib.Source
	for _, s := range relevant {
		if taken[s.Key()] {
			continue
		}
		s.ID = uuid.NewString()
		reserve = append(reserve, s)
	}
	return reserve
}

func countIngested(sources []bib.Source) int {
	n := 0
	for i := range sources {
		if sources[i].Ingested {
			n++
		}
	}
	return n
}

func ingestedOnly(sources []bib.Source) []bib.Source {
	out := make([]bib.Source, 0, len(sources))
	for _, s := range sources {
		if s.Ingested {
			out = append(out, s)
		}
	}
	return out
}

func (r *Runner) setStage(ctx context.Context, jobID, stage string) error {
	r.logger.Info("stage", "job_id", jobID, "stage", stage)
	return r.deps.Store.SetStage(ctx, jobID, stage)
}
