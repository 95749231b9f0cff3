package clipper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"clipforge/internal/objectstore"
	"clipforge/internal/timeline"
)

type fakeEngine struct {
	mu       sync.Mutex
	cuts     []string
	failOn   string
	failWith error
}

func (e *fakeEngine) Cut(ctx context.Context, source, dest string, startTime, endTime float64) error {
	e.mu.Lock()
	e.cuts = append(e.cuts, filepath.Base(dest))
	e.mu.Unlock()
	if e.failOn != "" && strings.Contains(dest, e.failOn) {
		if e.failWith != nil {
			return e.failWith
		}
		return errors.New("engine failure")
	}
	return os.WriteFile(dest, []byte(fmt.Sprintf("cut %v-%v of %s", startTime, endTime, source)), 0o644)
}

type fakeStore struct {
	mu          sync.Mutex
	bucket      string
	objects     map[string][]byte
	downloadErr error
	uploadErr   error
	publicBase  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{bucket: "media", objects: map[string][]byte{"uploads/job-1/source.mp4": []byte("source video")}}
}

func (s *fakeStore) Download(ctx context.Context, bucket, key string, dst io.Writer) error {
	if s.downloadErr != nil {
		return s.downloadErr
	}
	s.mu.Lock()
	payload, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such key %s", key)
	}
	_, err := dst.Write(payload)
	return err
}

func (s *fakeStore) Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (objectstore.Object, error) {
	if s.uploadErr != nil {
		return objectstore.Object{}, s.uploadErr
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		return objectstore.Object{}, err
	}
	s.mu.Lock()
	s.objects[key] = payload
	s.mu.Unlock()
	url := ""
	if s.publicBase != "" {
		url = s.publicBase + "/" + key
	}
	return objectstore.Object{Bucket: s.bucket, Key: key, URL: url}, nil
}

func (s *fakeStore) Bucket() string { return s.bucket }

func newTestService(t *testing.T, engine Engine, store ObjectStore) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		Engine:   engine,
		Stores:   func(bucket, region string) ObjectStore { return store },
		WorkRoot: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestCutClipsEndToEnd(t *testing.T) {
	store := newFakeStore()
	store.publicBase = "https://cdn.example.com"
	engine := &fakeEngine{}
	svc := newTestService(t, engine, store)

	result, err := svc.CutClips(context.Background(), CutRequest{
		VideoURL: "store://media/uploads/job-1/source.mp4",
		JobID:    "job-1",
		FPS:      30,
		Scenes: []timeline.Scene{
			{ID: "s1", StartTime: 0, EndTime: 5},
			{ID: "s2", StartTime: 5, EndTime: 3},
			{ID: "s3", StartTime: 10, EndTime: 14},
		},
	})
	if err != nil {
		t.Fatalf("cut clips: %v", err)
	}

	if len(result.Scenes) != 2 {
		t.Fatalf("scenes = %d, want 2", len(result.Scenes))
	}
	if len(result.ClipURLs) != 2 {
		t.Fatalf("clipUrls = %d, want 2", len(result.ClipURLs))
	}
	if result.Scenes[0].ID != "s1" || result.Scenes[1].ID != "s3" {
		t.Fatalf("scene order = %q, %q; want s1, s3", result.Scenes[0].ID, result.Scenes[1].ID)
	}

	first := result.Scenes[0]
	if first.StartFrame != 0 || first.EndFrame != 150 || first.DurationInFrames != 150 {
		t.Fatalf("s1 frames = %d/%d/%d, want 0/150/150", first.StartFrame, first.EndFrame, first.DurationInFrames)
	}
	second := result.Scenes[1]
	if second.StartFrame != 300 || second.EndFrame != 420 || second.DurationInFrames != 120 {
		t.Fatalf("s3 frames = %d/%d/%d, want 300/420/120", second.StartFrame, second.EndFrame, second.DurationInFrames)
	}

	for i, scene := range result.Scenes {
		if scene.PreviewClip != result.ClipURLs[i] {
			t.Fatalf("clipUrls[%d] = %q not aligned with scene previewClip %q", i, result.ClipURLs[i], scene.PreviewClip)
		}
	}
	if result.ClipURLs[0] != "https://cdn.example.com/clips/job-1/segment_s1.mp4" {
		t.Fatalf("clip url = %q", result.ClipURLs[0])
	}

	if _, ok := store.objects["clips/job-1/segment_s1.mp4"]; !ok {
		t.Fatal("segment for s1 not uploaded")
	}
	if _, ok := store.objects["clips/job-1/segment_s3.mp4"]; !ok {
		t.Fatal("segment for s3 not uploaded")
	}
	if _, ok := store.objects["clips/job-1/segment_s2.mp4"]; ok {
		t.Fatal("invalid scene s2 must not produce a segment")
	}
}

func TestCutClipsSkipsOnlyInvalidScenes(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{}
	svc := newTestService(t, engine, store)

	scenes := make([]timeline.Scene, 0, 6)
	for i := 0; i < 6; i++ {
		scene := timeline.Scene{StartTime: float64(i), EndTime: float64(i + 1)}
		if i%2 == 1 {
			scene.EndTime = scene.StartTime // invalid
		}
		scenes = append(scenes, scene)
	}

	result, err := svc.CutClips(context.Background(), CutRequest{
		VideoURL: "store://media/uploads/job-1/source.mp4",
		JobID:    "job-1",
		Scenes:   scenes,
	})
	if err != nil {
		t.Fatalf("cut clips: %v", err)
	}
	if len(result.Scenes) != 3 || len(result.ClipURLs) != 3 {
		t.Fatalf("output sizes = %d/%d, want 3/3", len(result.Scenes), len(result.ClipURLs))
	}
	wantIDs := []string{"scene-1", "scene-3", "scene-5"}
	for i, scene := range result.Scenes {
		if scene.ID != wantIDs[i] {
			t.Fatalf("scene[%d].ID = %q, want %q", i, scene.ID, wantIDs[i])
		}
	}
}

func TestCutClipsAllOrNothingOnEngineFailure(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{failOn: "segment_s2"}
	svc := newTestService(t, engine, store)

	_, err := svc.CutClips(context.Background(), CutRequest{
		VideoURL: "store://media/uploads/job-1/source.mp4",
		JobID:    "job-1",
		Scenes: []timeline.Scene{
			{ID: "s1", StartTime: 0, EndTime: 2},
			{ID: "s2", StartTime: 2, EndTime: 4},
		},
	})
	if err == nil {
		t.Fatal("expected failure when cutting s2 fails")
	}
	if !strings.Contains(err.Error(), "cut scene s2") {
		t.Fatalf("error = %v, want scene context", err)
	}
}

func TestCutClipsFetchFailure(t *testing.T) {
	store := newFakeStore()
	store.downloadErr = errors.New("storage unavailable")
	svc := newTestService(t, &fakeEngine{}, store)

	_, err := svc.CutClips(context.Background(), CutRequest{
		VideoURL: "store://media/uploads/job-1/source.mp4",
		JobID:    "job-1",
		Scenes:   []timeline.Scene{{StartTime: 0, EndTime: 1}},
	})
	if err == nil {
		t.Fatal("expected fetch failure")
	}
	if !strings.Contains(err.Error(), "fetch source video") {
		t.Fatalf("error = %v, want fetch context", err)
	}
}

func TestCutClipsCleansWorkDirectory(t *testing.T) {
	workRoot := t.TempDir()
	store := newFakeStore()
	svc, err := NewService(ServiceConfig{
		Engine:   &fakeEngine{},
		Stores:   func(bucket, region string) ObjectStore { return store },
		WorkRoot: workRoot,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.CutClips(context.Background(), CutRequest{
		VideoURL: "store://media/uploads/job-1/source.mp4",
		JobID:    "job-1",
		Scenes:   []timeline.Scene{{StartTime: 0, EndTime: 1}},
	}); err != nil {
		t.Fatalf("cut clips: %v", err)
	}

	entries, err := os.ReadDir(workRoot)
	if err != nil {
		t.Fatalf("read work root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("work root not cleaned, %d entries remain", len(entries))
	}
}

func TestCutClipsValidatesRequest(t *testing.T) {
	svc := newTestService(t, &fakeEngine{}, newFakeStore())
	ctx := context.Background()

	if _, err := svc.CutClips(ctx, CutRequest{JobID: "j", Scenes: []timeline.Scene{{EndTime: 1}}}); !errors.Is(err, ErrVideoURLRequired) {
		t.Fatalf("missing videoUrl error = %v", err)
	}
	if _, err := svc.CutClips(ctx, CutRequest{VideoURL: "store://b/k", Scenes: []timeline.Scene{{EndTime: 1}}}); !errors.Is(err, ErrJobIDRequired) {
		t.Fatalf("missing jobId error = %v", err)
	}
	if _, err := svc.CutClips(ctx, CutRequest{VideoURL: "store://b/k", JobID: "j"}); !errors.Is(err, ErrNoScenes) {
		t.Fatalf("missing scenes error = %v", err)
	}
	if _, err := svc.CutClips(ctx, CutRequest{VideoURL: "https://example.com/v.mp4", JobID: "j", Scenes: []timeline.Scene{{EndTime: 1}}}); err == nil {
		t.Fatal("expected error for non store:// reference")
	}
}
