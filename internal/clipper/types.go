// Package clipper cuts per-scene preview clips from a source video. The
// Service runs inside the remote clip worker; Client is the caller-facing
// contract the API service uses to invoke it, kept transport-agnostic so
// tests can substitute an in-process fake.
package clipper

import (
	"context"
	"errors"

	"clipforge/internal/timeline"
)

// CutRequest is the invocation payload for one clip cutting job. VideoURL is
// a store://bucket/key reference so large payloads never transit the
// orchestration layer.
type CutRequest struct {
	VideoURL   string           `json:"videoUrl"`
	Scenes     []timeline.Scene `json:"scenes"`
	JobID      string           `json:"jobId"`
	FPS        float64          `json:"fps"`
	BucketName string           `json:"bucketName"`
	Region     string           `json:"region"`
}

// CutResult carries the enriched scenes and the uploaded clip URLs. ClipURLs
// is positionally aligned with Scenes; skipped scenes appear in neither list.
type CutResult struct {
	Scenes   []timeline.Scene `json:"scenes"`
	ClipURLs []string         `json:"clipUrls"`
}

// Client invokes the clip cutter as a synchronous request/response call.
type Client interface {
	CutClips(ctx context.Context, req CutRequest) (CutResult, error)
}

var (
	// ErrVideoURLRequired is returned before any work when the request lacks
	// a source reference.
	ErrVideoURLRequired = errors.New("videoUrl is required")
	// ErrJobIDRequired is returned before any work when the request lacks a
	// job identifier to namespace outputs under.
	ErrJobIDRequired = errors.New("jobId is required")
	// ErrNoScenes is returned when the request carries no scenes at all.
	ErrNoScenes = errors.New("at least one scene is required")
)

// Validate checks the structurally required request fields. Scene time ranges
// are deliberately not validated here; invalid scenes are skipped during
// processing instead of failing the batch.
func (r CutRequest) Validate() error {
	if r.VideoURL == "" {
		return ErrVideoURLRequired
	}
	if r.JobID == "" {
		return ErrJobIDRequired
	}
	if len(r.Scenes) == 0 {
		return ErrNoScenes
	}
	return nil
}
