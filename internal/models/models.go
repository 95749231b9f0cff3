package models

import (
	"encoding/json"
	"time"

	"clipforge/internal/timeline"
)

// Job lifecycle states. A job moves pending -> processing -> ready, or to
// failed from any non-terminal state.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusReady      = "ready"
	JobStatusFailed     = "failed"
)

// Job is one media-processing request: a source video plus the scene
// timeline to cut it into, and the clips produced for each scene.
type Job struct {
	ID          string           `json:"id"`
	Title       string           `json:"title,omitempty"`
	Status      string           `json:"status"`
	SourceURL   string           `json:"sourceUrl"`
	FPS         float64          `json:"fps,omitempty"`
	BucketName  string           `json:"bucketName,omitempty"`
	Region      string           `json:"region,omitempty"`
	Scenes      []timeline.Scene `json:"scenes,omitempty"`
	ClipURLs    []string         `json:"clipUrls,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j Job) Terminal() bool {
	return j.Status == JobStatusReady || j.Status == JobStatusFailed
}

// JobSummary is the list-view projection of a Job. Scene payloads can run to
// megabytes of word-level timings, so listings omit them.
type JobSummary struct {
	ID          string     `json:"id"`
	Title       string     `json:"title,omitempty"`
	Status      string     `json:"status"`
	SceneCount  int        `json:"sceneCount"`
	ClipCount   int        `json:"clipCount"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Summary projects a Job into its list form.
func (j Job) Summary() JobSummary {
	return JobSummary{
		ID:          j.ID,
		Title:       j.Title,
		Status:      j.Status,
		SceneCount:  len(j.Scenes),
		ClipCount:   len(j.ClipURLs),
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
}

// RenderExport records one composition render submitted to the provider.
// The handle fields (RenderID, BucketName, FunctionName) are everything
// needed to poll the render later.
type RenderExport struct {
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
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}

// Render export states mirror job states; "processing" covers the whole
// remote render.
const (
	RenderStatusProcessing = "processing"
	RenderStatusReady      = "ready"
	RenderStatusFailed     = "failed"
)

// WorkerToken is a hashed bearer credential for a clip worker. Digest holds
// a salted PBKDF2 hash, never the token itself.
type WorkerToken struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Digest    string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}
