package config

import "time"

// DefaultConfig returns the default configuration. API keys use
// ${ENV_VAR} references resolved at load time.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Postgres: PostgresConfig{
			DSN:     "host=127.0.0.1 port=5432 user=folio password=folio dbname=folio sslmode=disable",
			Managed: true,
		},
		Redis: RedisConfig{
			Addr:    "127.0.0.1:6379",
			Managed: true,
		},
		LLM: map[string]LLMConfig{
			"gemini": {
				Type:       "gemini",
				Model:      "gemini-2.5-pro",
				APIKey:     "${GEMINI_API_KEY}",
				RateLimit:  60,
				MaxRetries: 3,
				Enabled:    true,
			},
			"openai": {
				Type:       "openai",
				Model:      "gpt-4o",
				APIKey:     "${OPENAI_API_KEY}",
				RateLimit:  150,
				MaxRetries: 3,
				Enabled:    true,
			},
		},
		// Role -> provider routing. Grounded generation needs the
		// provider that owns the retrieval store.
		Roles: map[string]string{
			"generate": "gemini",
			"critique": "gemini",
			"rank":     "openai",
			"queries":  "openai",
			"rewrite":  "openai",
			"pages":    "gemini",
		},
		Search: map[string]SearchConfig{
			"openalex": {
				Type:    "openalex",
				BaseURL: "https://api.openalex.org",
				Mailto:  "${OPENALEX_MAILTO}",
				Enabled: true,
			},
			"semanticscholar": {
				Type:    "semanticscholar",
				BaseURL: "https://api.semanticscholar.org/graph/v1",
				APIKey:  "${S2_API_KEY}",
				Enabled: true,
			},
		},
		Scoring: ScoringConfig{
			DetectorURL:      "https://zerogpt.p.rapidapi.com/api/v1/detectText",
			DetectorAPIKey:   "${RAPIDAPI_KEY}",
			PlagiarismURL:    "${PLAGIARISM_API_URL}",
			PlagiarismAPIKey: "${PLAGIARISM_API_KEY}",
			OpenAccessURL:    "https://api.unpaywall.org/v2",
			OpenAccessMailto: "${UNPAYWALL_MAILTO}",
		},
		FileStore: FileStoreConfig{
			BaseURL:       "https://generativelanguage.googleapis.com/v1beta",
			APIKey:        "${GEMINI_API_KEY}",
			UploadTimeout: 5 * time.Minute,
		},
		Pipeline: DefaultPipeline(),
	}
}

// DefaultPipeline returns the tuned pipeline constants.
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		MaxConcurrentJobs: 3,
		JobLockDuration:   45 * time.Minute,

		TargetSourceCount:     25,
		MinSourcesPerChapter:  2,
		MinRelevanceScore:     60,
		RankBatchSize:         20,
		RankProcessingCap:     80,
		DefaultHeuristicScore: 55,
		SearchConcurrency:     4,
		OpenAccessRateLimit:   100,

		RequiredUploads:  10,
		MaxDocumentBytes: 50 << 20, // 50 MiB
		MinDocumentBytes: 1 << 10,  // 1 KiB

		CitationDensityWords: 150,
		ChapterFloorRatio:    0.9,
		MaxChapterPasses:     2,
		MaxExtensionPasses:   6,
		MaxRegenerations:     2,
		WordTolerance:        0.10,
		VerifyCitationPages:  true,

		MaxCritiqueIterations: 5,
		RepairCollapseRatio:   0.4,

		DetectabilityTarget:    70,
		DetectabilitySecondary: 60,
		MaxHumanizeIterations:  5,
		OriginalityTarget:      90,
		MaxPlagiarismAttempts:  3,
	}
}
