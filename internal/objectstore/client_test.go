package objectstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseRef(t *testing.T) {
	cases := []struct {
		ref        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"store://media/uploads/job-1/source.mp4", "media", "uploads/job-1/source.mp4", false},
		{"store://media/key", "media", "key", false},
		{"s3://media/key", "", "", true},
		{"store://media", "", "", true},
		{"store:///key", "", "", true},
		{"", "", "", true},
	}
	for _, tc := range cases {
		bucket, key, err := ParseRef(tc.ref)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseRef(%q) expected error", tc.ref)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRef(%q): %v", tc.ref, err)
		}
		if bucket != tc.wantBucket || key != tc.wantKey {
			t.Fatalf("ParseRef(%q) = %q/%q, want %q/%q", tc.ref, bucket, key, tc.wantBucket, tc.wantKey)
		}
	}
}

func TestFormatRefRoundTrip(t *testing.T) {
	ref := FormatRef("media", "/clips/job-1/segment_s1.mp4")
	bucket, key, err := ParseRef(ref)
	if err != nil {
		t.Fatalf("ParseRef: %v", err)
	}
	if bucket != "media" || key != "clips/job-1/segment_s1.mp4" {
		t.Fatalf("round trip = %q/%q", bucket, key)
	}
}

func TestUploadSignsAndTargetsBucketPath(t *testing.T) {
	var gotPath, gotAuth, gotPayloadHash, gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotPayloadHash = r.Header.Get("x-amz-content-sha256")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(Config{
		Endpoint:       server.URL,
		Bucket:         "media",
		Region:         "us-east-1",
		AccessKey:      "access",
		SecretKey:      "secret",
		PublicEndpoint: "https://cdn.example.com",
	})

	body := []byte("clip bytes")
	object, err := client.Upload(context.Background(), "clips/job-1/segment_s1.mp4", "video/mp4", bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotPath != "/media/clips/job-1/segment_s1.mp4" {
		t.Fatalf("path = %q", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=access/") {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if gotPayloadHash != "UNSIGNED-PAYLOAD" {
		t.Fatalf("payload hash = %q", gotPayloadHash)
	}
	if gotContentType != "video/mp4" {
		t.Fatalf("content type = %q", gotContentType)
	}
	if !bytes.Equal(gotBody, body) {
		t.Fatalf("body = %q", gotBody)
	}
	if object.Key != "clips/job-1/segment_s1.mp4" {
		t.Fatalf("object key = %q", object.Key)
	}
	if object.URL != "https://cdn.example.com/clips/job-1/segment_s1.mp4" {
		t.Fatalf("object url = %q", object.URL)
	}
}

func TestUploadAppliesPrefix(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(Config{Endpoint: server.URL, Bucket: "media", Prefix: "staging"})
	if _, err := client.Upload(context.Background(), "clips/a.mp4", "", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotPath != "/media/staging/clips/a.mp4" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestDownloadCopiesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/other-bucket/uploads/source.mp4" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte("source bytes"))
	}))
	defer server.Close()

	client := New(Config{Endpoint: server.URL, Bucket: "media"})
	var buf bytes.Buffer
	if err := client.Download(context.Background(), "other-bucket", "uploads/source.mp4", &buf); err != nil {
		t.Fatalf("download: %v", err)
	}
	if buf.String() != "source bytes" {
		t.Fatalf("downloaded = %q", buf.String())
	}
}

func TestDownloadReportsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such key", http.StatusNotFound)
	}))
	defer server.Close()

	client := New(Config{Endpoint: server.URL, Bucket: "media"})
	err := client.Download(context.Background(), "", "missing.mp4", io.Discard)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Fatalf("error = %v, want status in message", err)
	}
}

func TestDeleteUsesDeleteMethod(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(Config{Endpoint: server.URL, Bucket: "media"})
	if err := client.Delete(context.Background(), "clips/job-1/segment_s1.mp4"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Fatalf("method = %q", gotMethod)
	}
	if gotPath != "/media/clips/job-1/segment_s1.mp4" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestUnconfiguredClientIsDisabled(t *testing.T) {
	client := New(Config{})
	if client.Enabled() {
		t.Fatal("client with no endpoint should be disabled")
	}
	if _, err := client.Upload(context.Background(), "k", "", strings.NewReader(""), 0); err != nil {
		t.Fatalf("noop upload should not error: %v", err)
	}
}
