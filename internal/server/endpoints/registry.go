package endpoints

import (
	"github.com/folioworks/folio/internal/api"
	"github.com/folioworks/folio/internal/store"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	DockerManager *store.DockerManager
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{DockerManager: cfg.DockerManager},

		// Job endpoints
		&CreateJobEndpoint{},
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&SubmitJobEndpoint{},
		&JobDocumentEndpoint{},
		&JobSourcesEndpoint{},
		&JobCritiquesEndpoint{},
	}
}
