package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/folioworks/folio/internal/api"
	"github.com/folioworks/folio/internal/store"
	"github.com/folioworks/folio/internal/svcctx"
)

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
	Queue  string `json:"queue,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// ReadyEndpoint handles GET /ready. Ready means the store and the
// durable queue both answer.
type ReadyEndpoint struct{}

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }

func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: "ok", Queue: "ok"}

	if st := svcctx.StoreFrom(r.Context()); st == nil {
		resp.Status = "degraded"
		resp.Store = "not_initialized"
	}

	if q := svcctx.QueueFrom(r.Context()); q != nil {
		if err := q.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Queue = "unhealthy"
		}
	} else {
		resp.Status = "degraded"
		resp.Queue = "not_initialized"
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (store and queue)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			fmt.Printf("Store:  %s\n", resp.Store)
			fmt.Printf("Queue:  %s\n", resp.Queue)
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server     string                            `json:"server"`
	Providers  []string                          `json:"providers"`
	Roles      map[string]string                 `json:"roles,omitempty"`
	Containers map[string]store.ContainerStatus  `json:"containers,omitempty"`
	Queue      QueueStatus                       `json:"queue"`
}

// QueueStatus shows the durable queue state.
type QueueStatus struct {
	Health  string `json:"health"`
	Pending int64  `json:"pending"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct {
	// DockerManager is set by the server when it manages the dev
	// containers; nil in externally provisioned deployments.
	DockerManager *store.DockerManager
}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Server: "running"}

	if registry := svcctx.RegistryFrom(r.Context()); registry != nil {
		resp.Providers = registry.Names()
		resp.Roles = registry.Roles()
	}

	if e.DockerManager != nil {
		if status, err := e.DockerManager.Status(r.Context()); err == nil {
			resp.Containers = status
		}
	}

	if q := svcctx.QueueFrom(r.Context()); q != nil {
		if err := q.Ping(r.Context()); err != nil {
			resp.Queue.Health = "unhealthy"
		} else {
			resp.Queue.Health = "healthy"
			if n, err := q.PendingCount(r.Context()); err == nil {
				resp.Queue.Pending = n
			}
		}
	} else {
		resp.Queue.Health = "not_initialized"
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			fmt.Printf("Server: %s\n", resp.Server)
			fmt.Printf("Queue:  %s (%d pending)\n", resp.Queue.Health, resp.Queue.Pending)
			fmt.Printf("Providers: %v\n", resp.Providers)
			for name, st := range resp.Containers {
				fmt.Printf("Container %s: %s\n", name, st)
			}
			return nil
		},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
