package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/folioworks/folio/internal/api"
	"github.com/folioworks/folio/internal/jobs"
	"github.com/folioworks/folio/internal/store"
	"github.com/folioworks/folio/internal/svcctx"
)

// SubmitJobEndpoint handles POST /api/jobs/{id}/submit. Submission is
// idempotent-safe: a job already queued or generating is rejected with
// 409 rather than queued twice.
type SubmitJobEndpoint struct{}

func (e *SubmitJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/submit", e.handler
}

func (e *SubmitJobEndpoint) RequiresInit() bool { return true }

func (e *SubmitJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	job, err := jm.Submit(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, jobs.ErrAlreadySubmitted):
			writeError(w, http.StatusConflict, "job already submitted")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (e *SubmitJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <id>",
		Short: "Queue a draft or failed job for generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp store.JobRecord
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/submit", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
