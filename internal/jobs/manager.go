// Package jobs handles the job lifecycle outside the pipeline itself:
// spec validation, record CRUD and submission to the durable queue.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/queue"
	"github.com/folioworks/folio/internal/store"
)

var (
	// ErrNotFound mirrors the store's not-found error.
	ErrNotFound = store.ErrNotFound

	// ErrAlreadySubmitted is returned when a job is submitted while it
	// is already queued or generating.
	ErrAlreadySubmitted = errors.New("job already submitted")
)

// Enqueuer is the queue operation submission needs. Satisfied by
// queue.RedisQueue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Manager handles job record operations. It does not execute jobs -
// that is the pipeline worker's business; the manager only moves
// records between draft and queued.
type Manager struct {
	store  *store.Store
	queue  Enqueuer
	logger *slog.Logger
}

// NewManager creates a new job manager.
func NewManager(st *store.Store, q Enqueuer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		queue:  q,
		logger: logger,
	}
}

// Create validates the spec and persists a new draft job.
func (m *Manager) Create(ctx context.Context, spec bib.ThesisSpec) (*store.JobRecord, error) {
	if err := ValidateSpec(&spec); err != nil {
		return nil, err
	}
	if spec.Language == "" {
		spec.Language = "en"
	}

	job, err := m.store.CreateJob(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "title", spec.Title, "target_words", spec.TargetWords())
	return job, nil
}

// Get returns a job record by ID.
func (m *Manager) Get(ctx context.Context, jobID string) (*store.JobRecord, error) {
	return m.store.GetJob(ctx, jobID)
}

// List returns jobs, newest first, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status store.JobStatus, limit int) ([]store.JobRecord, error) {
	return m.store.ListJobs(ctx, status, limit)
}

// Sources returns the persisted source selection for a job.
func (m *Manager) Sources(ctx context.Context, jobID string) ([]bib.Source, error) {
	return m.store.GetSources(ctx, jobID)
}

// Critiques returns the append-only critique history for a job.
func (m *Manager) Critiques(ctx context.Context, jobID string) ([]bib.CritiqueReport, error) {
	return m.store.GetCritiques(ctx, jobID)
}

// Submit moves a draft job into the queue. A failed job may be
// resubmitted; a queued or generating job may not.
func (m *Manager) Submit(ctx context.Context, jobID string) (*store.JobRecord, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case store.StatusQueued, store.StatusGenerating:
		return nil, ErrAlreadySubmitted
	case store.StatusDraft, store.StatusFailed:
		// fall through
	default:
		return nil, fmt.Errorf("cannot submit job in status %q", job.Status)
	}

	if err := m.store.TransitionJob(ctx, jobID, job.Status, store.StatusQueued); err != nil {
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	if err := m.queue.Enqueue(ctx, jobID); err != nil && !errors.Is(err, queue.ErrAlreadyQueued) {
		// Roll the record back so the job is not stranded in queued
		// with no queue entry.
		_ = m.store.TransitionJob(ctx, jobID, store.StatusQueued, job.Status)
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	m.logger.Info("job submitted", "id", jobID)
	return m.store.GetJob(ctx, jobID)
}

// ValidateSpec checks a thesis spec for the invariants the pipeline
// depends on.
func ValidateSpec(spec *bib.ThesisSpec) error {
	if spec.Title == "" {
		return errors.New("spec: title is required")
	}
	if spec.ResearchQuestion == "" {
		return errors.New("spec: research question is required")
	}
	if spec.TargetLength <= 0 {
		return errors.New("spec: target length must be positive")
	}
	switch spec.LengthUnit {
	case bib.LengthUnitWords, bib.LengthUnitPages, "":
	default:
		return fmt.Errorf("spec: unsupported length unit %q", spec.LengthUnit)
	}
	if !supportedStyle(spec.CitationStyle) {
		return fmt.Errorf("spec: unsupported citation style %q", spec.CitationStyle)
	}
	if len(spec.Outline) == 0 {
		return errors.New("spec: outline is required")
	}
	if len(bib.ContentChapters(spec.Outline)) == 0 {
		return errors.New("spec: outline has no content chapters")
	}
	seen := make(map[string]bool)
	for _, ch := range spec.Outline {
		if ch.Number == "" || ch.Title == "" {
			return errors.New("spec: outline entries need number and title")
		}
		if seen[ch.Number] {
			return fmt.Errorf("spec: duplicate chapter number %q", ch.Number)
		}
		seen[ch.Number] = true
	}
	return nil
}

func supportedStyle(style bib.CitationStyle) bool {
	for _, s := range bib.SupportedCitationStyles {
		if s == style {
			return true
		}
	}
	return false
}
