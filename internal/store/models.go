// Package store persists jobs, sources and audit artifacts in a
// relational database via GORM. Postgres is the production backend;
// tests run against in-memory SQLite.
package store

import (
	"time"

	"github.com/folioworks/folio/internal/bib"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	StatusDraft      JobStatus = "draft"
	StatusQueued     JobStatus = "queued"
	StatusGenerating JobStatus = "generating"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobRecord is one generation job. Spec is immutable once the job
// leaves draft; Document and WordCount are written exactly once on
// completion.
type JobRecord struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Status    JobStatus      `gorm:"size:16;index" json:"status"`
	Spec      bib.ThesisSpec `gorm:"serializer:json" json:"spec"`
	Stage     string         `gorm:"size:32" json:"stage,omitempty"`
	Document  string         `json:"document,omitempty"`
	WordCount int            `json:"word_count,omitempty"`
	Error     string         `json:"error,omitempty"`

	// FileStoreID is the job's retrieval store, recorded as soon as the
	// store is provisioned so a restarted worker reuses it instead of
	// indexing everything again.
	FileStoreID string `gorm:"size:128" json:"filestore_id,omitempty"`

	// Post-processing outcomes, nil when the service was unavailable.
	DetectabilityScore *float64 `json:"detectability_score,omitempty"`
	OriginalityScore   *float64 `json:"originality_score,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName overrides the GORM default.
func (JobRecord) TableName() string { return "jobs" }

// SourceRecord is one acquired source scoped to a job. Ingested flips
// exactly once; the row is otherwise immutable after selection.
type SourceRecord struct {
	ID        uint       `gorm:"primaryKey" json:"-"`
	JobID     string     `gorm:"size:36;index" json:"job_id"`
	SourceID  string     `gorm:"size:36" json:"source_id"`
	Source    bib.Source `gorm:"serializer:json" json:"source"`
	Ingested  bool       `json:"ingested"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName overrides the GORM default.
func (SourceRecord) TableName() string { return "sources" }

// CritiqueRecord is one critique iteration's report. Append-only:
// rows are never updated or deleted.
type CritiqueRecord struct {
	ID        uint               `gorm:"primaryKey" json:"-"`
	JobID     string             `gorm:"size:36;index" json:"job_id"`
	Iteration int                `json:"iteration"`
	Report    bib.CritiqueReport `gorm:"serializer:json" json:"report"`
	CreatedAt time.Time          `json:"created_at"`
}

// TableName overrides the GORM default.
func (CritiqueRecord) TableName() string { return "critiques" }

// ScoreRecord is one post-processing measurement (detectability or
// originality), kept per attempt for auditability.
type ScoreRecord struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	JobID     string    `gorm:"size:36;index" json:"job_id"`
	Kind      string    `gorm:"size:16" json:"kind"` // "detectability" | "originality"
	Attempt   int       `json:"attempt"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName overrides the GORM default.
func (ScoreRecord) TableName() string { return "scores" }

// allModels is the migration set.
var allModels = []any{
	&JobRecord{},
	&SourceRecord{},
	&CritiqueRecord{},
	&ScoreRecord{},
}
