package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"clipforge/internal/models"
	"clipforge/internal/objectstore"
	"clipforge/internal/progress"
	"clipforge/internal/storage"
	"clipforge/internal/timeline"
)

type createJobRequest struct {
	Title      string           `json:"title"`
	VideoURL   string           `json:"videoUrl"`
	FPS        float64          `json:"fps"`
	BucketName string           `json:"bucketName"`
	Region     string           `json:"region"`
	Scenes     []timeline.Scene `json:"scenes"`
}

type jobResponse struct {
	ID          string           `json:"id"`
	Title       string           `json:"title,omitempty"`
	Status      string           `json:"status"`
	SourceURL   string           `json:"sourceUrl"`
	FPS         float64          `json:"fps,omitempty"`
	Scenes      []timeline.Scene `json:"scenes,omitempty"`
	ClipURLs    []string         `json:"clipUrls,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   string           `json:"createdAt"`
	UpdatedAt   string           `json:"updatedAt"`
	CompletedAt *string          `json:"completedAt,omitempty"`
}

func newJobResponse(job models.Job) jobResponse {
	resp := jobResponse{
		ID:        job.ID,
		Title:     job.Title,
		Status:    job.Status,
		SourceURL: job.SourceURL,
		FPS:       job.FPS,
		Scenes:    job.Scenes,
		ClipURLs:  job.ClipURLs,
		Error:     job.Error,
		CreatedAt: job.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if job.CompletedAt != nil {
		completed := job.CompletedAt.Format(time.RFC3339Nano)
		resp.CompletedAt = &completed
	}
	return resp
}

// Jobs handles creation and listing of processing jobs. Creation accepts
// either JSON referencing a source already in object storage, or a multipart
// form carrying the video bytes to stage.
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		contentType := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
		if strings.HasPrefix(contentType, "multipart/form-data") {
			h.createJobFromMultipart(w, r)
			return
		}
		h.createJobFromJSON(w, r)
	case http.MethodGet:
		summaries, err := h.Store.ListJobs(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": summaries})
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) createJobFromJSON(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSONAllowUnknown(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(req.VideoURL) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("videoUrl is required"))
		return
	}
	if len(req.Scenes) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("at least one scene is required"))
		return
	}

	job, err := h.Store.CreateJob(r.Context(), storage.CreateJobParams{
		Title:      req.Title,
		SourceURL:  req.VideoURL,
		FPS:        req.FPS,
		BucketName: req.BucketName,
		Region:     req.Region,
		Scenes:     req.Scenes,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.acceptJob(w, r, job)
}

// stagedVideo is a multipart video part spooled to disk so its size is known
// before the object storage upload.
type stagedVideo struct {
	tempPath    string
	size        int64
	filename    string
	contentType string
}

// createJobFromMultipart stages the uploaded video under
// uploads/<jobID>/<filename> in object storage before creating the job, so
// the clip worker can fetch the source by reference.
func (h *Handler) createJobFromMultipart(w http.ResponseWriter, r *http.Request) {
	if h.Objects == nil || !h.Objects.Enabled() {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("object storage is not configured"))
		return
	}
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload"))
		return
	}

	var req createJobRequest
	var video *stagedVideo
	defer func() {
		if video != nil {
			_ = os.Remove(video.tempPath)
		}
	}()

	for {
		part, partErr := reader.NextPart()
		if errors.Is(partErr, io.EOF) {
			break
		}
		if partErr != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("read multipart data: %w", partErr))
			return
		}
		name := part.FormName()
		if name == "video" {
			if video != nil {
				_ = part.Close()
				continue
			}
			staged, stageErr := spoolVideoPart(part)
			if stageErr != nil {
				writeError(w, http.StatusBadRequest, stageErr)
				return
			}
			video = staged
			continue
		}
		payload, readErr := io.ReadAll(io.LimitReader(part, maxRequestBody))
		_ = part.Close()
		if readErr != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("read form field: %w", readErr))
			return
		}
		value := strings.TrimSpace(string(payload))
		switch name {
		case "title":
			req.Title = value
		case "fps":
			if value != "" {
				fps, parseErr := strconv.ParseFloat(value, 64)
				if parseErr != nil {
					writeError(w, http.StatusBadRequest, fmt.Errorf("invalid fps %q", value))
					return
				}
				req.FPS = fps
			}
		case "scenes":
			if err := json.Unmarshal([]byte(value), &req.Scenes); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid scenes payload: %w", err))
				return
			}
		}
	}

	if video == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("video file is required"))
		return
	}
	if len(req.Scenes) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("at least one scene is required"))
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		name := video.filename
		if ext := filepath.Ext(name); ext != "" {
			name = strings.TrimSuffix(name, ext)
		}
		req.Title = name
	}

	jobID, err := storage.NewJobID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	source, err := os.Open(video.tempPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("read staged video: %w", err))
		return
	}
	defer source.Close()

	key := "uploads/" + jobID + "/" + video.filename
	object, err := h.Objects.Upload(r.Context(), key, video.contentType, source, video.size)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("stage video: %w", err))
		return
	}

	job, err := h.Store.CreateJob(r.Context(), storage.CreateJobParams{
		ID:         jobID,
		Title:      req.Title,
		SourceURL:  objectstore.FormatRef(object.Bucket, object.Key),
		FPS:        req.FPS,
		BucketName: object.Bucket,
		Scenes:     req.Scenes,
	})
	if err != nil {
		// The job row never landed; drop the orphaned upload.
		if deleteErr := h.Objects.Delete(r.Context(), key); deleteErr != nil {
			h.logger().Error("failed to remove staged video", "key", key, "error", deleteErr)
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.acceptJob(w, r, job)
}

// acceptJob finishes job creation: progress record, pipeline enqueue, 202.
func (h *Handler) acceptJob(w http.ResponseWriter, r *http.Request, job models.Job) {
	if h.Progress != nil {
		if err := h.Progress.Create(r.Context(), job.ID); err != nil {
			h.logger().Error("failed to initialise progress", "job_id", job.ID, "error", err)
		}
	}
	if h.Processor != nil {
		h.Processor.Enqueue(job.ID)
	}
	writeJSON(w, http.StatusAccepted, newJobResponse(job))
}

const maxUploadBytes = 4 << 30

func spoolVideoPart(part *multipart.Part) (*stagedVideo, error) {
	defer part.Close()

	tmp, err := os.CreateTemp("", "clipforge-upload-*")
	if err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	size, err := io.Copy(tmp, io.LimitReader(part, maxUploadBytes+1))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && size > maxUploadBytes {
		err = fmt.Errorf("video exceeds the %d byte upload limit", int64(maxUploadBytes))
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, err
	}

	filename := filepath.Base(strings.TrimSpace(part.FileName()))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		filename = "source.mp4"
	}
	contentType := part.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &stagedVideo{
		tempPath:    tmp.Name(),
		size:        size,
		filename:    filename,
		contentType: contentType,
	}, nil
}

// JobByID handles retrieval, deletion, and worker progress reports for a
// single job.
func (h *Handler) JobByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	id, remainder, _ := strings.Cut(path, "/")
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("job id is required"))
		return
	}
	if remainder == "progress" {
		h.jobProgressReport(w, r, id)
		return
	}
	if remainder != "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown job resource %q", remainder))
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, err := h.Store.GetJob(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, newJobResponse(job))
	case http.MethodDelete:
		if err := h.Store.DeleteJob(r.Context(), id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if h.Progress != nil {
			if err := h.Progress.Delete(r.Context(), id); err != nil {
				h.logger().Error("failed to delete progress", "job_id", id, "error", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// jobProgressReportRequest carries a worker-side stage transition. Progress
// is completion within the reported stage; the overall percentage is derived
// from the stage weights server-side.
type jobProgressReportRequest struct {
	Stage    string  `json:"stage"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
	Error    string  `json:"error"`
}

// jobProgressReport lets pipeline workers push stage transitions for a job,
// which the SSE channel then relays to subscribed clients.
func (h *Handler) jobProgressReport(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if h.Progress == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("progress tracking is not configured"))
		return
	}
	var req jobProgressReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	stage := progress.Stage(strings.TrimSpace(req.Stage))
	if stage == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("stage is required"))
		return
	}
	if _, err := h.Store.GetJob(r.Context(), id); errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var reportErr error
	switch stage {
	case progress.StageError:
		reportErr = h.Progress.Fail(r.Context(), id, req.Error)
	case progress.StageCompleted:
		reportErr = h.Progress.Complete(r.Context(), id)
	default:
		overall := progress.CalculateProgress(stage, req.Progress)
		reportErr = h.Progress.Update(r.Context(), id, stage, overall, req.Message, req.Error)
	}
	if reportErr != nil {
		writeError(w, http.StatusInternalServerError, reportErr)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}
