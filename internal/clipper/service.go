package clipper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"clipforge/internal/objectstore"
	"clipforge/internal/timeline"
)

// ObjectStore is the slice of object storage the worker needs.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key string, dst io.Writer) error
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (objectstore.Object, error)
	Bucket() string
}

// StoreFactory resolves the object store for a request's destination bucket
// and region.
type StoreFactory func(bucket, region string) ObjectStore

// ServiceConfig configures the worker-side cutting service.
type ServiceConfig struct {
	Engine   Engine
	Stores   StoreFactory
	WorkRoot string
	Logger   *slog.Logger
}

// Service executes clip cutting jobs: download the source once, cut each
// valid scene in input order, upload each segment, and clean up all local
// intermediates. A failure anywhere discards the whole invocation so the
// caller can retry it wholesale.
type Service struct {
	engine   Engine
	stores   StoreFactory
	workRoot string
	logger   *slog.Logger
}

// NewService applies defaults and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Stores == nil {
		return nil, fmt.Errorf("store factory is required")
	}
	workRoot := cfg.WorkRoot
	if workRoot == "" {
		workRoot = os.TempDir()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:   cfg.Engine,
		stores:   cfg.Stores,
		workRoot: workRoot,
		logger:   logger,
	}, nil
}

// CutClips implements Client for in-process use; the remote worker exposes
// the same behaviour over HTTP.
func (s *Service) CutClips(ctx context.Context, req CutRequest) (CutResult, error) {
	if err := req.Validate(); err != nil {
		return CutResult{}, err
	}
	fps := req.FPS
	if fps <= 0 {
		fps = timeline.DefaultFPS
	}

	sourceBucket, sourceKey, err := objectstore.ParseRef(req.VideoURL)
	if err != nil {
		return CutResult{}, err
	}

	workDir, err := os.MkdirTemp(s.workRoot, "clips-"+req.JobID+"-")
	if err != nil {
		return CutResult{}, fmt.Errorf("create work directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			s.logger.Error("work directory cleanup failed", "job_id", req.JobID, "dir", workDir, "error", err)
		}
	}()

	store := s.stores(req.BucketName, req.Region)

	sourcePath := filepath.Join(workDir, "source"+filepath.Ext(sourceKey))
	if err := s.fetchSource(ctx, store, sourceBucket, sourceKey, sourcePath); err != nil {
		return CutResult{}, err
	}

	result := CutResult{
		Scenes:   make([]timeline.Scene, 0, len(req.Scenes)),
		ClipURLs: make([]string, 0, len(req.Scenes)),
	}
	for idx, scene := range req.Scenes {
		if !scene.Valid() {
			s.logger.Warn("skipping invalid scene",
				"job_id", req.JobID,
				"scene_id", scene.NormalizeID(idx),
				"start", scene.StartTime,
				"end", scene.EndTime)
			continue
		}
		enriched, clipURL, err := s.cutScene(ctx, store, req.JobID, scene, idx, fps, sourcePath, workDir)
		if err != nil {
			// All-or-nothing: scenes processed before the failure are not
			// returned, the invocation is retried wholesale.
			return CutResult{}, err
		}
		result.Scenes = append(result.Scenes, enriched)
		result.ClipURLs = append(result.ClipURLs, clipURL)
	}

	s.logger.Info("clip cutting completed",
		"job_id", req.JobID,
		"scenes_in", len(req.Scenes),
		"clips_out", len(result.ClipURLs))
	return result, nil
}

func (s *Service) fetchSource(ctx context.Context, store ObjectStore, bucket, key, dest string) error {
	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create source file: %w", err)
	}
	if err := store.Download(ctx, bucket, key, file); err != nil {
		file.Close()
		return fmt.Errorf("fetch source video: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("flush source file: %w", err)
	}
	return nil
}

func (s *Service) cutScene(ctx context.Context, store ObjectStore, jobID string, scene timeline.Scene, index int, fps float64, sourcePath, workDir string) (timeline.Scene, string, error) {
	sceneID := scene.NormalizeID(index)
	segmentPath := filepath.Join(workDir, fmt.Sprintf("segment_%s.mp4", sceneID))

	if err := s.engine.Cut(ctx, sourcePath, segmentPath, scene.StartTime, scene.EndTime); err != nil {
		return timeline.Scene{}, "", fmt.Errorf("cut scene %s: %w", sceneID, err)
	}

	file, err := os.Open(segmentPath)
	if err != nil {
		return timeline.Scene{}, "", fmt.Errorf("open segment %s: %w", sceneID, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return timeline.Scene{}, "", fmt.Errorf("stat segment %s: %w", sceneID, err)
	}
	key := fmt.Sprintf("clips/%s/segment_%s.mp4", jobID, sceneID)
	object, err := store.Upload(ctx, key, "video/mp4", file, info.Size())
	file.Close()
	if err != nil {
		return timeline.Scene{}, "", fmt.Errorf("upload segment %s: %w", sceneID, err)
	}
	// Segments are removed as soon as they are durable; only the source
	// survives until the job finishes.
	if err := os.Remove(segmentPath); err != nil {
		s.logger.Warn("segment cleanup failed", "job_id", jobID, "scene_id", sceneID, "error", err)
	}

	clipURL := object.URL
	if clipURL == "" {
		clipURL = objectstore.FormatRef(store.Bucket(), object.Key)
	}

	scene.ID = sceneID
	scene.DurationInSeconds = scene.EndTime - scene.StartTime
	scene.StartFrame, scene.EndFrame, scene.DurationInFrames = scene.FrameBounds(fps)
	scene.PreviewClip = clipURL
	return scene, clipURL, nil
}
