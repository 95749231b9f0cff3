// Package timeline defines the scene data model shared by the clip cutting
// worker, the render orchestration layer, and the API handlers. A Scene is a
// contiguous time range of a source video; the pipeline enriches it with
// frame-accurate boundaries and a preview clip URL.
package timeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// DefaultFPS is applied when a request omits the frame rate.
const DefaultFPS = 30

// Scene is the atomic unit of work scheduled through the pipeline. StartTime
// and EndTime are caller-supplied seconds; the frame fields and
// DurationInSeconds are derived during enrichment. Narration, Duration, and
// Words are opaque caller metadata carried through unchanged.
type Scene struct {
	ID                string  `json:"id"`
	StartTime         float64 `json:"startTime"`
	EndTime           float64 `json:"endTime"`
	DurationInSeconds float64 `json:"durationInSeconds,omitempty"`
	StartFrame        int     `json:"startFrame,omitempty"`
	EndFrame          int     `json:"endFrame,omitempty"`
	DurationInFrames  int     `json:"durationInFrames,omitempty"`
	PreviewClip       string  `json:"previewClip,omitempty"`

	Narration string          `json:"narration,omitempty"`
	Duration  string          `json:"duration,omitempty"`
	Words     json.RawMessage `json:"words,omitempty"`
}

// Valid reports whether the scene describes a non-empty forward time range.
// Scenes that fail this check are dropped by Enrich rather than treated as
// errors so a partially valid batch can still make progress.
func (s Scene) Valid() bool {
	return s.StartTime < s.EndTime
}

// NormalizeID returns the scene's identifier, defaulting to scene-<index+1>
// when the caller did not assign one. index is the scene's position in the
// original request list.
func (s Scene) NormalizeID(index int) string {
	if id := strings.TrimSpace(s.ID); id != "" {
		return id
	}
	return fmt.Sprintf("scene-%d", index+1)
}

// FrameBounds computes the frame-accurate boundaries for the scene at the
// given frame rate. Frame numbers use floor and are clamped to zero; the
// duration is never reported as less than one frame.
func (s Scene) FrameBounds(fps float64) (startFrame, endFrame, durationInFrames int) {
	if fps <= 0 {
		fps = DefaultFPS
	}
	startFrame = clampFrame(math.Floor(s.StartTime * fps))
	endFrame = clampFrame(math.Floor(s.EndTime * fps))
	durationInFrames = int(math.Floor((s.EndTime - s.StartTime) * fps))
	if durationInFrames < 1 {
		durationInFrames = 1
	}
	return startFrame, endFrame, durationInFrames
}

func clampFrame(f float64) int {
	if f < 0 {
		return 0
	}
	return int(f)
}

// Enrich normalizes identifiers and derives timing fields for every valid
// scene, preserving the relative order of the input. Scenes whose start time
// is not strictly before their end time are skipped.
func Enrich(scenes []Scene, fps float64) []Scene {
	if fps <= 0 {
		fps = DefaultFPS
	}
	out := make([]Scene, 0, len(scenes))
	for idx, scene := range scenes {
		if !scene.Valid() {
			continue
		}
		scene.ID = scene.NormalizeID(idx)
		scene.DurationInSeconds = scene.EndTime - scene.StartTime
		scene.StartFrame, scene.EndFrame, scene.DurationInFrames = scene.FrameBounds(fps)
		out = append(out, scene)
	}
	return out
}
