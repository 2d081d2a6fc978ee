package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/folioworks/folio/internal/bib"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a state transition is not allowed.
var ErrConflict = errors.New("conflict")

// Store wraps the database handle.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// OpenPostgres connects to Postgres and migrates the schema.
func OpenPostgres(dsn string, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	return newStore(db, log)
}

// OpenSQLite opens a SQLite database (":memory:" for tests) and
// migrates the schema.
func OpenSQLite(path string, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return newStore(db, log)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
}

func newStore(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(allModels...); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db, logger: log}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateJob inserts a new draft job and returns it with a generated ID.
func (s *Store) CreateJob(ctx context.Context, spec bib.ThesisSpec) (*JobRecord, error) {
	job := &JobRecord{
		ID:     uuid.NewString(),
		Status: StatusDraft,
		Spec:   spec,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	s.logger.Info("job created", "job_id", job.ID, "title", spec.Title)
	return job, nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	var job JobRecord
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status JobStatus, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var jobs []JobRecord
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// TransitionJob moves a job between statuses with an optimistic guard
// on the current status. Returns ErrConflict when the job is not in
// the expected state.
func (s *Store) TransitionJob(ctx context.Context, id string, from, to JobStatus) error {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	switch to {
	case StatusGenerating:
		now := time.Now().UTC()
		updates["started_at"] = &now
	case StatusCompleted, StatusFailed:
		now := time.Now().UTC()
		updates["completed_at"] = &now
	}

	res := s.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to transition job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("job %s is %s, not %s: %w", id, job.Status, from, ErrConflict)
	}
	s.logger.Info("job transitioned", "job_id", id, "from", from, "to", to)
	return nil
}

// SetStage records the current pipeline stage for progress reporting.
func (s *Store) SetStage(ctx context.Context, id, stage string) error {
	err := s.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ?", id).
		Update("stage", stage).Error
	if err != nil {
		return fmt.Errorf("failed to set stage: %w", err)
	}
	return nil
}

// SetFileStore records the job's retrieval store ID. Written once when
// the store is provisioned; reruns read it back instead of creating a
// second store.
func (s *Store) SetFileStore(ctx context.Context, id, storeID string) error {
	err := s.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ?", id).
		Update("file_store_id", storeID).Error
	if err != nil {
		return fmt.Errorf("failed to set file store: %w", err)
	}
	return nil
}

// FailJob marks a job failed with an error message. Allowed from any
// non-terminal state.
func (s *Store) FailJob(ctx context.Context, id, msg string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ? AND status NOT IN ?", id, []JobStatus{StatusCompleted, StatusFailed}).
		Updates(map[string]any{"status": StatusFailed, "error": msg, "completed_at": &now})
	if res.Error != nil {
		return fmt.Errorf("failed to fail job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s already terminal: %w", id, ErrConflict)
	}
	return nil
}

// CompleteJob stores the final document and scores, and moves the job
// to completed.
func (s *Store) CompleteJob(ctx context.Context, id, document string, wordCount int, detectability, originality *float64) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ? AND status = ?", id, StatusGenerating).
		Updates(map[string]any{
			"status":              StatusCompleted,
			"document":            document,
			"word_count":          wordCount,
			"detectability_score": detectability,
			"originality_score":   originality,
			"completed_at":        &now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s not generating: %w", id, ErrConflict)
	}
	s.logger.Info("job completed", "job_id", id, "words", wordCount)
	return nil
}

// ReplaceSources overwrites the selected source set for a job. Used
// once after source selection; ingestion only updates flags afterward.
func (s *Store) ReplaceSources(ctx context.Context, jobID string, sources []bib.Source) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&SourceRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear sources: %w", err)
		}
		for _, src := range sources {
			rec := SourceRecord{
				JobID:    jobID,
				SourceID: src.ID,
				Source:   src,
				Ingested: src.Ingested,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("failed to save source: %w", err)
			}
		}
		return nil
	})
}

// GetSources returns the selected sources for a job in insertion order.
func (s *Store) GetSources(ctx context.Context, jobID string) ([]bib.Source, error) {
	var recs []SourceRecord
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	out := make([]bib.Source, len(recs))
	for i, r := range recs {
		out[i] = r.Source
		out[i].Ingested = r.Ingested
	}
	return out, nil
}

// MarkIngested flips the ingested flag for one source of a job.
func (s *Store) MarkIngested(ctx context.Context, jobID, sourceID string) error {
	res := s.db.WithContext(ctx).Model(&SourceRecord{}).
		Where("job_id = ? AND source_id = ?", jobID, sourceID).
		Update("ingested", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark ingested: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("source %s of job %s: %w", sourceID, jobID, ErrNotFound)
	}
	return nil
}

// AppendCritique stores one critique iteration's report.
func (s *Store) AppendCritique(ctx context.Context, jobID string, report bib.CritiqueReport) error {
	rec := CritiqueRecord{
		JobID:     jobID,
		Iteration: report.Iteration,
		Report:    report,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to append critique: %w", err)
	}
	return nil
}

// GetCritiques returns all critique reports for a job in iteration
// order.
func (s *Store) GetCritiques(ctx context.Context, jobID string) ([]bib.CritiqueReport, error) {
	var recs []CritiqueRecord
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("iteration").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to get critiques: %w", err)
	}
	out := make([]bib.CritiqueReport, len(recs))
	for i, r := range recs {
		out[i] = r.Report
	}
	return out, nil
}

// AppendScore records one detectability or originality measurement.
func (s *Store) AppendScore(ctx context.Context, jobID, kind string, attempt int, score float64) error {
	rec := ScoreRecord{JobID: jobID, Kind: kind, Attempt: attempt, Score: score}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to append score: %w", err)
	}
	return nil
}

// GetScores returns measurements of one kind for a job in attempt
// order.
func (s *Store) GetScores(ctx context.Context, jobID, kind string) ([]ScoreRecord, error) {
	var recs []ScoreRecord
	if err := s.db.WithContext(ctx).Where("job_id = ? AND kind = ?", jobID, kind).Order("attempt").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to get scores: %w", err)
	}
	return recs, nil
}
