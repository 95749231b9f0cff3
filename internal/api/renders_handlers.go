package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clipforge/internal/models"
	"clipforge/internal/render"
	"clipforge/internal/storage"
)

type submitRenderRequest struct {
	JobID           string          `json:"jobId"`
	ServeURL        string          `json:"serveUrl"`
	CompositionID   string          `json:"compositionId"`
	InputProps      json.RawMessage `json:"inputProps"`
	Codec           string          `json:"codec"`
	ImageFormat     string          `json:"imageFormat"`
	MaxRetries      int             `json:"maxRetries"`
	FramesPerLambda int             `json:"framesPerLambda"`
	Privacy         string          `json:"privacy"`
	Region          string          `json:"region"`
	FunctionName    string          `json:"functionName"`
}

type renderExportResponse struct {
	ID            string          `json:"id"`
	JobID         string          `json:"jobId,omitempty"`
	CompositionID string          `json:"compositionId"`
	ServeURL      string          `json:"serveUrl"`
	InputProps    json.RawMessage `json:"inputProps,omitempty"`
	RenderID      string          `json:"renderId"`
	BucketName    string          `json:"bucketName"`
	FunctionName  string          `json:"functionName"`
	Region        string          `json:"region,omitempty"`
	Status        string          `json:"status"`
	OutputFile    string          `json:"outputFile,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     string          `json:"createdAt"`
	UpdatedAt     string          `json:"updatedAt"`
	CompletedAt   *string         `json:"completedAt,omitempty"`
}

func newRenderExportResponse(export models.RenderExport) renderExportResponse {
	resp := renderExportResponse{
		ID:            export.ID,
		JobID:         export.JobID,
		CompositionID: export.CompositionID,
		ServeURL:      export.ServeURL,
		InputProps:    export.InputProps,
		RenderID:      export.RenderID,
		BucketName:    export.BucketName,
		FunctionName:  export.FunctionName,
		Region:        export.Region,
		Status:        export.Status,
		OutputFile:    export.OutputFile,
		Error:         export.Error,
		CreatedAt:     export.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:     export.UpdatedAt.Format(time.RFC3339Nano),
	}
	if export.CompletedAt != nil {
		completed := export.CompletedAt.Format(time.RFC3339Nano)
		resp.CompletedAt = &completed
	}
	return resp
}

// writeRenderError maps render subsystem failures onto HTTP statuses:
// parameter problems are the caller's fault, missing credentials are a server
// configuration fault, and provider rejections surface as bad gateway.
func writeRenderError(w http.ResponseWriter, err error) {
	switch {
	case render.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, render.ErrCredentialsMissing):
		writeError(w, http.StatusInternalServerError, err)
	default:
		var providerErr render.ProviderError
		if errors.As(err, &providerErr) {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) requireRenderClient(w http.ResponseWriter) bool {
	if h.Render == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("render provider is not configured"))
		return false
	}
	return true
}

// Renders handles render submission and listing.
func (h *Handler) Renders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !h.requireRenderClient(w) {
			return
		}
		var req submitRenderRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
		if req.JobID != "" {
			if _, err := h.Store.GetJob(r.Context(), req.JobID); errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			} else if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
		}

		if h.RenderGate != nil {
			if err := h.RenderGate.Acquire(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, fmt.Errorf("render capacity unavailable: %w", err))
				return
			}
			defer h.RenderGate.Release()
		}

		job, err := h.Render.SubmitRender(r.Context(), render.SubmitRenderParams{
			ServeURL:        req.ServeURL,
			CompositionID:   req.CompositionID,
			InputProps:      req.InputProps,
			Codec:           req.Codec,
			ImageFormat:     req.ImageFormat,
			MaxRetries:      req.MaxRetries,
			FramesPerLambda: req.FramesPerLambda,
			Privacy:         req.Privacy,
			Region:          req.Region,
			FunctionName:    req.FunctionName,
		})
		if err != nil {
			writeRenderError(w, err)
			return
		}

		export, err := h.Store.CreateRenderExport(r.Context(), storage.CreateRenderExportParams{
			JobID:         req.JobID,
			CompositionID: req.CompositionID,
			ServeURL:      req.ServeURL,
			InputProps:    req.InputProps,
			RenderID:      job.RenderID,
			BucketName:    job.BucketName,
			FunctionName:  job.FunctionName,
			Region:        req.Region,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, newRenderExportResponse(export))
	case http.MethodGet:
		jobID := strings.TrimSpace(r.URL.Query().Get("jobId"))
		exports, err := h.Store.ListRenderExports(r.Context(), jobID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		responses := make([]renderExportResponse, 0, len(exports))
		for _, export := range exports {
			responses = append(responses, newRenderExportResponse(export))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"renders": responses})
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// RenderByID handles retrieval and progress polling for a single render.
func (h *Handler) RenderByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/renders/")
	id, remainder, _ := strings.Cut(path, "/")
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("render id is required"))
		return
	}
	if remainder == "progress" {
		h.renderProgress(w, r, id)
		return
	}
	if remainder != "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown render resource %q", remainder))
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	export, err := h.Store.GetRenderExport(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, newRenderExportResponse(export))
}

// renderProgress polls the provider once and folds terminal results back into
// the stored export.
func (h *Handler) renderProgress(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if !h.requireRenderClient(w) {
		return
	}
	export, err := h.Store.GetRenderExport(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	remote, err := h.Render.PollProgress(r.Context(), render.PollProgressParams{
		RenderID:     export.RenderID,
		BucketName:   export.BucketName,
		FunctionName: export.FunctionName,
		Region:       export.Region,
	})
	if err != nil {
		writeRenderError(w, err)
		return
	}

	if export.Status == models.RenderStatusProcessing {
		var update storage.RenderExportUpdate
		if remote.FatalErrorEncountered {
			failed := models.RenderStatusFailed
			message := strings.Join(remote.Errors, "; ")
			completed := time.Now().UTC()
			update = storage.RenderExportUpdate{Status: &failed, Error: &message, CompletedAt: &completed}
		} else if remote.Done {
			ready := models.RenderStatusReady
			completed := time.Now().UTC()
			update = storage.RenderExportUpdate{Status: &ready, OutputFile: &remote.OutputFile, CompletedAt: &completed}
		}
		if update.Status != nil {
			if export, err = h.Store.UpdateRenderExport(r.Context(), id, update); err != nil {
				h.logger().Error("failed to record render outcome", "render_export_id", id, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"render":   newRenderExportResponse(export),
		"progress": remote,
	})
}

type deployFunctionRequest struct {
	Region         string `json:"region"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	MemoryMB       int    `json:"memoryMb"`
	EnableLogging  bool   `json:"enableLogging"`
}

// RenderFunctions handles deployment and discovery of render functions.
func (h *Handler) RenderFunctions(w http.ResponseWriter, r *http.Request) {
	if !h.requireRenderClient(w) {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req deployFunctionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
		name, err := h.Render.DeployFunction(r.Context(), render.DeployFunctionParams{
			Region:         req.Region,
			TimeoutSeconds: req.TimeoutSeconds,
			MemoryMB:       req.MemoryMB,
			EnableLogging:  req.EnableLogging,
		})
		if err != nil {
			writeRenderError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"functionName": name})
	case http.MethodGet:
		region := strings.TrimSpace(r.URL.Query().Get("region"))
		compatibleOnly := true
		if raw := strings.TrimSpace(r.URL.Query().Get("compatibleOnly")); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid compatibleOnly value %q", raw))
				return
			}
			compatibleOnly = parsed
		}
		functions, err := h.Render.ListFunctions(r.Context(), region, compatibleOnly)
		if err != nil {
			writeRenderError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"functions": functions})
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

type deploySiteRequest struct {
	EntryPoint string `json:"entryPoint"`
	SiteName   string `json:"siteName"`
	Region     string `json:"region"`
}

// RenderSites publishes composition bundles to the render provider.
func (h *Handler) RenderSites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if !h.requireRenderClient(w) {
		return
	}
	var req deploySiteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	site, err := h.Render.DeploySite(r.Context(), render.DeploySiteParams{
		EntryPoint: req.EntryPoint,
		SiteName:   req.SiteName,
		Region:     req.Region,
	})
	if err != nil {
		writeRenderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, site)
}

// RenderQuotas reports the provider concurrency ceiling.
func (h *Handler) RenderQuotas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if !h.requireRenderClient(w) {
		return
	}
	quotas, err := h.Render.GetQuotas(r.Context(), strings.TrimSpace(r.URL.Query().Get("region")))
	if err != nil {
		writeRenderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quotas)
}
