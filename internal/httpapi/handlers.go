// Package httpapi exposes the render orchestrator over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"orbit/internal/httpkit"
	"orbit/internal/pkg/errors"
	"orbit/internal/pkg/logger"
	"orbit/internal/render"
)

// PrincipalHeader identifies the authenticated owner of a request. Empty
// means anonymous; anonymous renders are watermarked and single-download.
const PrincipalHeader = "X-Principal"

// Service is the slice of the orchestrator the API needs. Narrowed to an
// interface so handler tests can run against a fake.
type Service interface {
	Submit(ctx context.Context, req render.SubmitRequest) (render.View, error)
	Query(ctx context.Context, jobID string) (render.View, error)
	Cancel(ctx context.Context, jobID string) (render.View, error)
	OpenArtifact(ctx context.Context, jobID string) (*render.Artifact, error)
}

// handlers holds the API's collaborators.
type handlers struct {
	orch Service
	log  *logger.Logger
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httpkit.WriteError(w, errors.BadInput("invalid multipart form"))
		return
	}

	file, header, err := r.FormFile("model")
	if err != nil {
		httpkit.WriteError(w, errors.BadInput("missing model file"))
		return
	}
	defer file.Close()

	owner := strings.TrimSpace(r.Header.Get(PrincipalHeader))

	opts := optionsFromForm(r)
	// Anonymous renders carry the watermark; owned ones do not.
	opts.Watermark = owner == ""

	v, err := h.orch.Submit(r.Context(), render.SubmitRequest{
		Owner:    owner,
		Filename: header.Filename,
		File:     file,
		Options:  opts,
	})
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	httpkit.WriteJSON(w, http.StatusAccepted, map[string]string{"job_id": v.ID})
}

// statusResponse is the wire form of a job snapshot.
type statusResponse struct {
	JobID      string   `json:"job_id"`
	State      string   `json:"state"`
	Progress   float64  `json:"progress"`
	Message    string   `json:"message"`
	ETASeconds *float64 `json:"eta_seconds"`
	Axis       string   `json:"axis,omitempty"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	v, err := h.orch.Query(r.Context(), jobID)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	httpkit.WriteJSON(w, http.StatusOK, statusResponse{
		JobID:      v.ID,
		State:      string(v.State),
		Progress:   v.Progress,
		Message:    v.Message,
		ETASeconds: v.ETASeconds,
		Axis:       v.Axis,
	})
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	v, err := h.orch.Cancel(r.Context(), jobID)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	httpkit.WriteJSON(w, http.StatusOK, statusResponse{
		JobID:    v.ID,
		State:    string(v.State),
		Progress: v.Progress,
		Message:  v.Message,
	})
}

func (h *handlers) download(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	art, err := h.orch.OpenArtifact(r.Context(), jobID)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	defer art.Body.Close()

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	if art.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(art.Size, 10))
	}

	if _, err := io.Copy(w, art.Body); err != nil {
		h.log.FromContext(r.Context()).WithError(err).Warn("artifact stream interrupted")
	}
}

// optionsFromForm parses render options from the submission form. Unknown
// or malformed values fall through to zero values and get normalized by
// the orchestrator's defaults.
func optionsFromForm(r *http.Request) render.Options {
	var opts render.Options

	opts.Axis = r.FormValue("axis")
	opts.Quality = r.FormValue("quality")
	opts.Format = r.FormValue("format")

	if v := r.FormValue("offset"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			opts.OffsetDeg = f
		}
	}
	if v := r.FormValue("resolution"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Size = n
		}
	}
	if v := r.FormValue("kelvin"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Kelvin = n
		}
	}
	if v := r.FormValue("exposure"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			opts.Exposure = f
		}
	}
	opts.AutoOrient = formBool(r, "auto_orientation")
	opts.AutoBrightness = formBool(r, "auto_brightness")

	return opts
}

func formBool(r *http.Request, key string) bool {
	switch strings.ToLower(r.FormValue(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
