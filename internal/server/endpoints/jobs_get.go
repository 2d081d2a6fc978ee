package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/folioworks/folio/internal/api"
	"github.com/folioworks/folio/internal/jobs"
	"github.com/folioworks/folio/internal/store"
	"github.com/folioworks/folio/internal/svcctx"
)

// GetJobResponse includes the job record plus queue position context.
type GetJobResponse struct {
	*store.JobRecord

	// Pending is the queue depth at the time of the request, only
	// populated for queued jobs.
	Pending int64 `json:"pending,omitempty"`
}

// GetJobEndpoint handles GET /api/jobs/{id}.
type GetJobEndpoint struct{}

func (e *GetJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}", e.handler
}

func (e *GetJobEndpoint) RequiresInit() bool { return true }

func (e *GetJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}

	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	job, err := jm.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := GetJobResponse{JobRecord: job}
	if job.Status == store.StatusQueued {
		if q := svcctx.QueueFrom(r.Context()); q != nil {
			if n, err := q.PendingCount(r.Context()); err == nil {
				resp.Pending = n
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *GetJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a job by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp GetJobResponse
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// JobDocumentEndpoint handles GET /api/jobs/{id}/document, returning
// the finished markdown.
type JobDocumentEndpoint struct{}

func (e *JobDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/document", e.handler
}

func (e *JobDocumentEndpoint) RequiresInit() bool { return true }

func (e *JobDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	job, err := jm.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job.Status != store.StatusCompleted {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, no document yet", job.Status))
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(job.Document))
}

func (e *JobDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "document <id>",
		Short: "Print the finished document for a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			text, err := client.GetRaw(cmd.Context(), "/api/jobs/"+args[0]+"/document")
			if err != nil {
				return err
			}
			fmt.Print(string(text))
			return nil
		},
	}
}

// JobSourcesEndpoint handles GET /api/jobs/{id}/sources.
type JobSourcesEndpoint struct{}

func (e *JobSourcesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/sources", e.handler
}

func (e *JobSourcesEndpoint) RequiresInit() bool { return true }

func (e *JobSourcesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	sources, err := jm.Sources(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (e *JobSourcesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "sources <id>",
		Short: "List the selected sources for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp []any
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/sources", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// JobCritiquesEndpoint handles GET /api/jobs/{id}/critiques.
type JobCritiquesEndpoint struct{}

func (e *JobCritiquesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/critiques", e.handler
}

func (e *JobCritiquesEndpoint) RequiresInit() bool { return true }

func (e *JobCritiquesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	reports, err := jm.Critiques(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (e *JobCritiquesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "critiques <id>",
		Short: "Show the critique history for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp []any
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/critiques", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
