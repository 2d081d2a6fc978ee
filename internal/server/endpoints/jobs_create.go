package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/folioworks/folio/internal/api"
	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/store"
	"github.com/folioworks/folio/internal/svcctx"
)

// CreateJobRequest is the body for POST /api/jobs.
type CreateJobRequest struct {
	Spec bib.ThesisSpec `json:"spec"`

	// Submit queues the job immediately instead of leaving it a draft.
	Submit bool `json:"submit,omitempty"`
}

// CreateJobEndpoint handles POST /api/jobs.
type CreateJobEndpoint struct{}

func (e *CreateJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs", e.handler
}

func (e *CreateJobEndpoint) RequiresInit() bool { return true }

func (e *CreateJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	job, err := jm.Create(r.Context(), req.Spec)
	if err != nil {
		if strings.HasPrefix(err.Error(), "spec:") {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Submit {
		job, err = jm.Submit(r.Context(), job.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "job created but not queued: "+err.Error())
			return
		}
	}

	writeJSON(w, http.StatusCreated, job)
}

func (e *CreateJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var specFile string
	var submit bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a generation job from a spec file",
		Long: `Create a generation job from a YAML or JSON thesis spec.

The spec describes the document to produce: title, research question,
outline, citation style and target length. With --submit the job is
queued immediately; otherwise it stays a draft until submitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(specFile)
			if err != nil {
				return fmt.Errorf("failed to read spec file: %w", err)
			}

			var spec bib.ThesisSpec
			if strings.HasSuffix(specFile, ".json") {
				err = json.Unmarshal(data, &spec)
			} else {
				err = yaml.Unmarshal(data, &spec)
			}
			if err != nil {
				return fmt.Errorf("failed to parse spec: %w", err)
			}

			client := api.NewClient(getServerURL())
			var job store.JobRecord
			if err := client.Post(cmd.Context(), "/api/jobs", CreateJobRequest{Spec: spec, Submit: submit}, &job); err != nil {
				return err
			}
			return api.Output(job)
		},
	}

	cmd.Flags().StringVarP(&specFile, "spec", "f", "", "path to the thesis spec (YAML or JSON)")
	cmd.Flags().BoolVar(&submit, "submit", false, "queue the job immediately")
	cmd.MarkFlagRequired("spec")
	return cmd
}
