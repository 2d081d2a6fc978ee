package config

import "time"

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig             `mapstructure:"server" yaml:"server"`
	Postgres  PostgresConfig           `mapstructure:"postgres" yaml:"postgres"`
	Redis     RedisConfig              `mapstructure:"redis" yaml:"redis"`
	LLM       map[string]LLMConfig     `mapstructure:"llm_providers" yaml:"llm_providers"`
	Search    map[string]SearchConfig  `mapstructure:"search_providers" yaml:"search_providers"`
	Scoring   ScoringConfig            `mapstructure:"scoring" yaml:"scoring"`
	FileStore FileStoreConfig          `mapstructure:"filestore" yaml:"filestore"`
	Pipeline  PipelineConfig           `mapstructure:"pipeline" yaml:"pipeline"`
	Roles     map[string]string        `mapstructure:"llm_roles" yaml:"llm_roles"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// PostgresConfig holds relational store settings. When Managed is true
// the server runs a local Postgres container for development.
type PostgresConfig struct {
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
	Managed bool   `mapstructure:"managed" yaml:"managed"`
}

// RedisConfig holds durable queue settings.
type RedisConfig struct {
	Addr    string `mapstructure:"addr" yaml:"addr"`
	Managed bool   `mapstructure:"managed" yaml:"managed"`
}

// LLMConfig configures one LLM provider.
type LLMConfig struct {
	Type       string  `mapstructure:"type" yaml:"type"` // "gemini" or "openai"
	Model      string  `mapstructure:"model" yaml:"model"`
	APIKey     string  `mapstructure:"api_key" yaml:"api_key"` // ${ENV_VAR} syntax supported
	BaseURL    string  `mapstructure:"base_url" yaml:"base_url"`
	RateLimit  int     `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute
	MaxRetries int     `mapstructure:"max_retries" yaml:"max_retries"`
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
}

// SearchConfig configures one bibliographic search provider.
type SearchConfig struct {
	Type    string `mapstructure:"type" yaml:"type"` // "openalex" or "semanticscholar"
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	Mailto  string `mapstructure:"mailto" yaml:"mailto"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// ScoringConfig configures the content scorers and the open access
// resolver.
type ScoringConfig struct {
	DetectorURL      string `mapstructure:"detector_url" yaml:"detector_url"`
	DetectorAPIKey   string `mapstructure:"detector_api_key" yaml:"detector_api_key"`
	PlagiarismURL    string `mapstructure:"plagiarism_url" yaml:"plagiarism_url"`
	PlagiarismAPIKey string `mapstructure:"plagiarism_api_key" yaml:"plagiarism_api_key"`
	OpenAccessURL    string `mapstructure:"open_access_url" yaml:"open_access_url"`
	OpenAccessMailto string `mapstructure:"open_access_mailto" yaml:"open_access_mailto"`
}

// FileStoreConfig configures the retrieval/document-index store.
type FileStoreConfig struct {
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout" yaml:"upload_timeout"`
}

// PipelineConfig carries the product-tuned pipeline constants. Their
// correctness is empirical, so all of them are configuration rather
// than code.
type PipelineConfig struct {
	// Concurrency.
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	JobLockDuration   time.Duration `mapstructure:"job_lock_duration" yaml:"job_lock_duration"`

	// Source acquisition.
	TargetSourceCount   int `mapstructure:"target_source_count" yaml:"target_source_count"`
	MinSourcesPerChapter int `mapstructure:"min_sources_per_chapter" yaml:"min_sources_per_chapter"`
	MinRelevanceScore   int `mapstructure:"min_relevance_score" yaml:"min_relevance_score"`
	RankBatchSize       int `mapstructure:"rank_batch_size" yaml:"rank_batch_size"`
	RankProcessingCap   int `mapstructure:"rank_processing_cap" yaml:"rank_processing_cap"`
	DefaultHeuristicScore int `mapstructure:"default_heuristic_score" yaml:"default_heuristic_score"`
	SearchConcurrency   int `mapstructure:"search_concurrency" yaml:"search_concurrency"`
	OpenAccessRateLimit int `mapstructure:"open_access_rate_limit" yaml:"open_access_rate_limit"` // lookups per minute

	// Ingestion.
	RequiredUploads  int   `mapstructure:"required_uploads" yaml:"required_uploads"`
	MaxDocumentBytes int64 `mapstructure:"max_document_bytes" yaml:"max_document_bytes"`
	MinDocumentBytes int64 `mapstructure:"min_document_bytes" yaml:"min_document_bytes"`

	// Generation.
	CitationDensityWords int     `mapstructure:"citation_density_words" yaml:"citation_density_words"`
	ChapterFloorRatio    float64 `mapstructure:"chapter_floor_ratio" yaml:"chapter_floor_ratio"`
	MaxChapterPasses     int     `mapstructure:"max_chapter_passes" yaml:"max_chapter_passes"`
	MaxExtensionPasses   int     `mapstructure:"max_extension_passes" yaml:"max_extension_passes"`
	MaxRegenerations     int     `mapstructure:"max_regenerations" yaml:"max_regenerations"`
	WordTolerance        float64 `mapstructure:"word_tolerance" yaml:"word_tolerance"`
	VerifyCitationPages  bool    `mapstructure:"verify_citation_pages" yaml:"verify_citation_pages"`

	// Critique/repair.
	MaxCritiqueIterations int     `mapstructure:"max_critique_iterations" yaml:"max_critique_iterations"`
	RepairCollapseRatio   float64 `mapstructure:"repair_collapse_ratio" yaml:"repair_collapse_ratio"`

	// Post-processing.
	DetectabilityTarget    float64 `mapstructure:"detectability_target" yaml:"detectability_target"`
	DetectabilitySecondary float64 `mapstructure:"detectability_secondary" yaml:"detectability_secondary"`
	MaxHumanizeIterations  int     `mapstructure:"max_humanize_iterations" yaml:"max_humanize_iterations"`
	OriginalityTarget      float64 `mapstructure:"originality_target" yaml:"originality_target"`
	MaxPlagiarismAttempts  int     `mapstructure:"max_plagiarism_attempts" yaml:"max_plagiarism_attempts"`
}
