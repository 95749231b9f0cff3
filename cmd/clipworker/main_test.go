package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"clipforge/internal/clipper"
	"clipforge/internal/objectstore"
	"clipforge/internal/timeline"
)

type fakeEngine struct{}

func (fakeEngine) Cut(ctx context.Context, source, dest string, startTime, endTime float64) error {
	return os.WriteFile(dest, []byte(fmt.Sprintf("cut %v-%v", startTime, endTime)), 0o644)
}

type fakeStore struct {
	bucket  string
	objects map[string][]byte
}

func (s *fakeStore) Download(ctx context.Context, bucket, key string, dst io.Writer) error {
	payload, ok := s.objects[key]
	if !ok {
		return fmt.Errorf("object %s not found", key)
	}
	_, err := dst.Write(payload)
	return err
}

func (s *fakeStore) Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (objectstore.Object, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		return objectstore.Object{}, err
	}
	s.objects[key] = payload
	return objectstore.Object{Bucket: s.bucket, Key: key, URL: "https://cdn.example.com/" + key}, nil
}

func (s *fakeStore) Bucket() string { return s.bucket }

func newTestWorker(t *testing.T, digest string) *worker {
	t.Helper()
	store := &fakeStore{
		bucket:  "media",
		objects: map[string][]byte{"uploads/job-1/source.mp4": []byte("source video")},
	}
	service, err := clipper.NewService(clipper.ServiceConfig{
		Engine:   fakeEngine{},
		Stores:   func(bucket, region string) clipper.ObjectStore { return store },
		WorkRoot: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &worker{service: service, tokenDigest: digest, logger: slog.Default()}
}

func postClips(t *testing.T, ts *httptest.Server, token string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/clips", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("post clips: %v", err)
	}
	return resp
}

func validRequest() clipper.CutRequest {
	return clipper.CutRequest{
		VideoURL:   "store://media/uploads/job-1/source.mp4",
		JobID:      "job-1",
		FPS:        30,
		BucketName: "media",
		Scenes: []timeline.Scene{
			{ID: "s1", StartTime: 0, EndTime: 5},
			{ID: "s2", StartTime: 8, EndTime: 4},
		},
	}
}

func TestHandleClipsCutsValidScenes(t *testing.T) {
	srv := newTestWorker(t, "")
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp := postClips(t, ts, "", validRequest())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 200 (%s)", resp.StatusCode, body)
	}

	var result clipper.CutResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(result.Scenes) != 1 || len(result.ClipURLs) != 1 {
		t.Fatalf("scenes/clipUrls = %d/%d, want 1/1 (invalid scene skipped)", len(result.Scenes), len(result.ClipURLs))
	}
	if result.Scenes[0].ID != "s1" {
		t.Fatalf("scene id = %q, want s1", result.Scenes[0].ID)
	}
	if result.ClipURLs[0] != "https://cdn.example.com/clips/job-1/segment_s1.mp4" {
		t.Fatalf("unexpected clip URL %q", result.ClipURLs[0])
	}
}

func TestHandleClipsRejectsInvalidPayload(t *testing.T) {
	srv := newTestWorker(t, "")
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp := postClips(t, ts, "", map[string]any{"jobId": "job-1"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var failure map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&failure); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if failure["error"] == "" {
		t.Fatal("expected an error message in the response body")
	}
}

func TestHandleClipsRequiresBearerToken(t *testing.T) {
	digest, err := clipper.HashToken("worker-secret")
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	srv := newTestWorker(t, digest)
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp := postClips(t, ts, "", validRequest())
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	resp = postClips(t, ts, "wrong-secret", validRequest())
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with wrong token = %d, want 401", resp.StatusCode)
	}

	resp = postClips(t, ts, "worker-secret", validRequest())
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with valid token = %d, want 200", resp.StatusCode)
	}
}

func TestHealthzReportsOK(t *testing.T) {
	srv := newTestWorker(t, "")
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("status payload = %q, want ok", payload["status"])
	}
}

func TestResolveTokenDigestPrefersDigest(t *testing.T) {
	digest, err := resolveTokenDigest("ab:cd", "plain-token")
	if err != nil {
		t.Fatalf("resolve digest: %v", err)
	}
	if digest != "ab:cd" {
		t.Fatalf("digest = %q, want ab:cd", digest)
	}

	hashed, err := resolveTokenDigest("", "plain-token")
	if err != nil {
		t.Fatalf("resolve hashed: %v", err)
	}
	if !clipper.VerifyToken("plain-token", hashed) {
		t.Fatal("expected hashed token digest to verify against the plain token")
	}

	empty, err := resolveTokenDigest("", "")
	if err != nil {
		t.Fatalf("resolve empty: %v", err)
	}
	if empty != "" {
		t.Fatalf("expected empty digest, got %q", empty)
	}
}
