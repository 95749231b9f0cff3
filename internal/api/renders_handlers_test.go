package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"clipforge/internal/render"
)

// fakeRenderProvider stands in for the managed render farm API.
func fakeRenderProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/renders", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"renderId":"abcd1234","bucketName":"render-out","functionName":"render-fn"}`))
	})
	mux.HandleFunc("/v1/renders/abcd1234/progress", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"done":true,"outputFile":"https://render-out/out.mp4","overallProgress":1}`))
	})
	mux.HandleFunc("/v1/quotas", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"concurrencyLimit":5,"region":"us-east-1"}`))
	})
	mux.HandleFunc("/v1/functions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"functionName":"render-fn-4gb"}`))
			return
		}
		_, _ = w.Write([]byte(`{"functions":[{"functionName":"render-fn","version":"4.0.1","region":"us-east-1"}]}`))
	})
	mux.HandleFunc("/v1/sites", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"serveUrl":"https://bundles.example/clips/index.html","bucketName":"render-sites"}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newRenderTestHandler(t *testing.T) *Handler {
	t.Helper()
	handler, _ := newTestHandler(t)
	provider := fakeRenderProvider(t)
	client, err := render.NewClient(render.Config{
		BaseURL:   provider.URL,
		AccessKey: "access",
		SecretKey: "secret",
	})
	if err != nil {
		t.Fatalf("render.NewClient: %v", err)
	}
	handler.Render = client
	handler.RenderGate = render.NewLimiter(2)
	return handler
}

const submitRenderBody = `{
	"compositionId": "MainTimeline",
	"serveUrl": "https://bundles.example/clips/index.html",
	"inputProps": {"scenes": []},
	"functionName": "render-fn"
}`

func TestSubmitRenderPersistsExport(t *testing.T) {
	handler := newRenderTestHandler(t)

	request := httptest.NewRequest(http.MethodPost, "/api/renders", strings.NewReader(submitRenderBody))
	recorder := httptest.NewRecorder()
	handler.Renders(recorder, request)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var resp renderExportResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RenderID != "abcd1234" || resp.BucketName != "render-out" {
		t.Fatalf("unexpected export %+v", resp)
	}
	if resp.Status != "processing" {
		t.Fatalf("unexpected status %q", resp.Status)
	}

	listRequest := httptest.NewRequest(http.MethodGet, "/api/renders", nil)
	listRecorder := httptest.NewRecorder()
	handler.Renders(listRecorder, listRequest)
	if listRecorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRecorder.Code)
	}
	if !strings.Contains(listRecorder.Body.String(), "abcd1234") {
		t.Fatalf("listing missing export: %s", listRecorder.Body.String())
	}
}

func TestSubmitRenderRejectsUnknownJob(t *testing.T) {
	handler := newRenderTestHandler(t)
	body := `{"jobId":"missing","compositionId":"Main","serveUrl":"https://bundle","functionName":"fn"}`
	request := httptest.NewRequest(http.MethodPost, "/api/renders", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	handler.Renders(recorder, request)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestSubmitRenderMissingParamsIsBadRequest(t *testing.T) {
	handler := newRenderTestHandler(t)
	body := `{"serveUrl":"https://bundle","functionName":"fn"}`
	request := httptest.NewRequest(http.MethodPost, "/api/renders", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	handler.Renders(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestSubmitRenderWithoutCredentialsIsServerError(t *testing.T) {
	handler := newRenderTestHandler(t)
	client, err := render.NewClient(render.Config{BaseURL: "http://render.invalid"})
	if err != nil {
		t.Fatalf("render.NewClient: %v", err)
	}
	handler.Render = client

	request := httptest.NewRequest(http.MethodPost, "/api/renders", strings.NewReader(submitRenderBody))
	recorder := httptest.NewRecorder()
	handler.Renders(recorder, request)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestRenderProgressFoldsTerminalState(t *testing.T) {
	handler := newRenderTestHandler(t)

	request := httptest.NewRequest(http.MethodPost, "/api/renders", strings.NewReader(submitRenderBody))
	recorder := httptest.NewRecorder()
	handler.Renders(recorder, request)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", recorder.Code)
	}
	var created renderExportResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	progressRequest := httptest.NewRequest(http.MethodGet, "/api/renders/"+created.ID+"/progress", nil)
	progressRecorder := httptest.NewRecorder()
	handler.RenderByID(progressRecorder, progressRequest)
	if progressRecorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", progressRecorder.Code, progressRecorder.Body.String())
	}
	var resp struct {
		Render   renderExportResponse  `json:"render"`
		Progress render.RenderProgress `json:"progress"`
	}
	if err := json.Unmarshal(progressRecorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Progress.Done {
		t.Fatal("expected done progress")
	}
	if resp.Render.Status != "ready" {
		t.Fatalf("expected export marked ready, got %q", resp.Render.Status)
	}
	if resp.Render.OutputFile != "https://render-out/out.mp4" {
		t.Fatalf("unexpected output file %q", resp.Render.OutputFile)
	}
}

func TestRenderProgressUnknownExport(t *testing.T) {
	handler := newRenderTestHandler(t)
	request := httptest.NewRequest(http.MethodGet, "/api/renders/missing/progress", nil)
	recorder := httptest.NewRecorder()
	handler.RenderByID(recorder, request)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestRenderFunctionsDeployAndList(t *testing.T) {
	handler := newRenderTestHandler(t)

	deployRequest := httptest.NewRequest(http.MethodPost, "/api/renders/functions", strings.NewReader(`{"memoryMb":4096,"timeoutSeconds":240}`))
	deployRecorder := httptest.NewRecorder()
	handler.RenderFunctions(deployRecorder, deployRequest)
	if deployRecorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", deployRecorder.Code, deployRecorder.Body.String())
	}
	if !strings.Contains(deployRecorder.Body.String(), "render-fn-4gb") {
		t.Fatalf("unexpected deploy response: %s", deployRecorder.Body.String())
	}

	listRequest := httptest.NewRequest(http.MethodGet, "/api/renders/functions?compatibleOnly=false", nil)
	listRecorder := httptest.NewRecorder()
	handler.RenderFunctions(listRecorder, listRequest)
	if listRecorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRecorder.Code)
	}
	if !strings.Contains(listRecorder.Body.String(), "render-fn") {
		t.Fatalf("unexpected list response: %s", listRecorder.Body.String())
	}
}

func TestRenderSitesAndQuotas(t *testing.T) {
	handler := newRenderTestHandler(t)

	siteRequest := httptest.NewRequest(http.MethodPost, "/api/renders/sites", strings.NewReader(`{"entryPoint":"index.ts","siteName":"clips"}`))
	siteRecorder := httptest.NewRecorder()
	handler.RenderSites(siteRecorder, siteRequest)
	if siteRecorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", siteRecorder.Code, siteRecorder.Body.String())
	}
	if !strings.Contains(siteRecorder.Body.String(), "serveUrl") {
		t.Fatalf("unexpected site response: %s", siteRecorder.Body.String())
	}

	quotaRequest := httptest.NewRequest(http.MethodGet, "/api/renders/quotas", nil)
	quotaRecorder := httptest.NewRecorder()
	handler.RenderQuotas(quotaRecorder, quotaRequest)
	if quotaRecorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", quotaRecorder.Code)
	}
	var quotas render.Quotas
	if err := json.Unmarshal(quotaRecorder.Body.Bytes(), &quotas); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if quotas.ConcurrencyLimit != 5 {
		t.Fatalf("unexpected quotas %+v", quotas)
	}
}

func TestRendersUnavailableWithoutClient(t *testing.T) {
	handler, _ := newTestHandler(t)
	request := httptest.NewRequest(http.MethodPost, "/api/renders", strings.NewReader(submitRenderBody))
	recorder := httptest.NewRecorder()
	handler.Renders(recorder, request)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
}
