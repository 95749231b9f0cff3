package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"clipforge/internal/models"
	"clipforge/internal/timeline"
)

// ErrNotFound is returned when a lookup misses. Wrapped errors carry the
// entity kind and identifier.
var ErrNotFound = errors.New("not found")

// Repository exposes the datastore operations required by API handlers and
// the processing pipeline. Both the JSON-file store and the Postgres store
// implement it.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateJob(ctx context.Context, params CreateJobParams) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListJobs(ctx context.Context) ([]models.JobSummary, error)
	UpdateJob(ctx context.Context, id string, update JobUpdate) (models.Job, error)
	DeleteJob(ctx context.Context, id string) error

	CreateRenderExport(ctx context.Context, params CreateRenderExportParams) (models.RenderExport, error)
	GetRenderExport(ctx context.Context, id string) (models.RenderExport, error)
	ListRenderExports(ctx context.Context, jobID string) ([]models.RenderExport, error)
	UpdateRenderExport(ctx context.Context, id string, update RenderExportUpdate) (models.RenderExport, error)

	CreateWorkerToken(ctx context.Context, name, digest string) (models.WorkerToken, error)
	ListWorkerTokens(ctx context.Context) ([]models.WorkerToken, error)
	DeleteWorkerToken(ctx context.Context, id string) error
}

// CreateJobParams captures the attributes that can be set when a job is
// submitted. ID is normally left empty; the upload path assigns it up front
// because the staged object key embeds the job ID.
type CreateJobParams struct {
	ID         string
	Title      string
	SourceURL  string
	FPS        float64
	BucketName string
	Region     string
	Scenes     []timeline.Scene
}

// JobUpdate describes the mutable fields of a job. Nil pointers leave the
// stored value untouched.
type JobUpdate struct {
	Title       *string
	Status      *string
	SourceURL   *string
	Scenes      []timeline.Scene
	ClipURLs    []string
	Error       *string
	CompletedAt *time.Time
}

// CreateRenderExportParams records a render submission alongside the handle
// returned by the provider.
type CreateRenderExportParams struct {
	JobID         string
	CompositionID string
	ServeURL      string
	InputProps    json.RawMessage
	RenderID      string
	BucketName    string
	FunctionName  string
	Region        string
}

// RenderExportUpdate describes the mutable fields of a render export.
type RenderExportUpdate struct {
	Status      *string
	OutputFile  *string
	Error       *string
	CompletedAt *time.Time
}

var _ Repository = (*Storage)(nil)
