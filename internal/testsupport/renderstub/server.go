package renderstub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Options describes how the fake render farm controller should behave.
type Options struct {
	// FunctionName is returned from the function deploy endpoint.
	FunctionName string

	// ServeURL and SiteBucket are returned from the site deploy endpoint.
	ServeURL   string
	SiteBucket string

	// ConcurrencyLimit is returned from the quotas endpoint.
	ConcurrencyLimit int

	// RenderID and OutputBucket are returned from the render submit endpoint.
	RenderID     string
	OutputBucket string

	// Progress is returned from every progress poll. When ProgressSequence is
	// set it takes precedence and reads advance through it, repeating the
	// final entry.
	Progress         map[string]any
	ProgressSequence []map[string]any

	// FailSubmits causes the first N render submissions to return HTTP 502.
	// Subsequent attempts succeed.
	FailSubmits int

	// AccessKey and SecretKey, when set, make the stub verify the signature
	// headers the client sends.
	AccessKey string
	SecretKey string
}

// Operation represents a recorded farm controller interaction.
type Operation struct {
	Kind          string
	Region        string
	FunctionName  string
	CompositionID string
	RenderID      string
	Attempt       int
	Status        int
	Timestamp     time.Time
}

// Farm hosts a single httptest.Server that serves all controller endpoints.
type Farm struct {
	server *httptest.Server
	opts   Options

	mu         sync.Mutex
	operations []Operation
	submits    int
	polls      int
}

// Start spins up a new farm controller stub using the provided options.
func Start(opts Options) *Farm {
	f := &Farm{opts: opts}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// Close shuts down the underlying HTTP server.
func (f *Farm) Close() {
	if f.server != nil {
		f.server.Close()
	}
}

// BaseURL returns the HTTP base URL for all controller endpoints.
func (f *Farm) BaseURL() string {
	return f.server.URL
}

// Operations returns a copy of all recorded operations in the order they occurred.
func (f *Farm) Operations() []Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Operation, len(f.operations))
	copy(out, f.operations)
	return out
}

func (f *Farm) record(op Operation) {
	op.Timestamp = time.Now()
	f.mu.Lock()
	f.operations = append(f.operations, op)
	f.mu.Unlock()
}

func (f *Farm) handle(w http.ResponseWriter, r *http.Request) {
	if !f.verifySignature(w, r) {
		return
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/functions":
		f.handleDeployFunction(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/functions":
		f.handleListFunctions(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/sites":
		f.handleDeploySite(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/quotas":
		f.handleQuotas(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/renders":
		f.handleSubmitRender(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/renders/") && strings.HasSuffix(r.URL.Path, "/progress"):
		f.handlePollProgress(w, r)
	default:
		http.Error(w, "unexpected request", http.StatusNotFound)
	}
}

// verifySignature checks the HMAC the client computes over method, path, and
// date. Stubs without a configured credential pair accept everything.
func (f *Farm) verifySignature(w http.ResponseWriter, r *http.Request) bool {
	if f.opts.AccessKey == "" && f.opts.SecretKey == "" {
		return true
	}
	if r.Header.Get("X-Render-Access-Key") != f.opts.AccessKey {
		writeError(w, http.StatusUnauthorized, "unknown access key")
		return false
	}
	date := r.Header.Get("X-Render-Date")
	mac := hmac.New(sha256.New, []byte(f.opts.SecretKey))
	mac.Write([]byte(strings.Join([]string{r.Method, r.URL.Path, date}, "\n")))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(r.Header.Get("X-Render-Signature"))) {
		writeError(w, http.StatusUnauthorized, "bad signature")
		return false
	}
	return true
}

func (f *Farm) handleDeployFunction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Region string `json:"region"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	name := f.opts.FunctionName
	if name == "" {
		name = "render-fn"
	}
	f.record(Operation{Kind: "function-deploy", Region: req.Region, FunctionName: name, Status: http.StatusOK})
	writeJSON(w, map[string]string{"functionName": name})
}

func (f *Farm) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	name := f.opts.FunctionName
	if name == "" {
		name = "render-fn"
	}
	f.record(Operation{Kind: "function-list", Region: region, Status: http.StatusOK})
	writeJSON(w, map[string]any{
		"functions": []map[string]string{{"functionName": name, "version": "1.0.0", "region": region}},
	})
}

func (f *Farm) handleDeploySite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SiteName string `json:"siteName"`
		Region   string `json:"region"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	serveURL := f.opts.ServeURL
	if serveURL == "" {
		serveURL = "https://sites.example.com/" + req.SiteName
	}
	f.record(Operation{Kind: "site-deploy", Region: req.Region, Status: http.StatusOK})
	writeJSON(w, map[string]string{"serveUrl": serveURL, "bucketName": f.opts.SiteBucket})
}

func (f *Farm) handleQuotas(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	limit := f.opts.ConcurrencyLimit
	if limit <= 0 {
		limit = 10
	}
	f.record(Operation{Kind: "quotas", Region: region, Status: http.StatusOK})
	writeJSON(w, map[string]any{"concurrencyLimit": limit, "region": region})
}

func (f *Farm) handleSubmitRender(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompositionID string `json:"compositionId"`
		FunctionName  string `json:"functionName"`
		Region        string `json:"region"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	f.mu.Lock()
	f.submits++
	attempt := f.submits
	f.mu.Unlock()

	op := Operation{
		Kind:          "render-submit",
		Region:        req.Region,
		FunctionName:  req.FunctionName,
		CompositionID: req.CompositionID,
		Attempt:       attempt,
		Status:        http.StatusOK,
	}
	if attempt <= f.opts.FailSubmits {
		op.Status = http.StatusBadGateway
		f.record(op)
		writeError(w, http.StatusBadGateway, "farm unavailable")
		return
	}

	renderID := f.opts.RenderID
	if renderID == "" {
		renderID = "render-1"
	}
	op.RenderID = renderID
	f.record(op)
	writeJSON(w, map[string]string{
		"renderId":     renderID,
		"bucketName":   f.opts.OutputBucket,
		"functionName": req.FunctionName,
	})
}

func (f *Farm) handlePollProgress(w http.ResponseWriter, r *http.Request) {
	renderID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/renders/"), "/progress")

	f.mu.Lock()
	f.polls++
	poll := f.polls
	f.mu.Unlock()

	f.record(Operation{Kind: "render-progress", RenderID: renderID, Attempt: poll, Status: http.StatusOK})

	if len(f.opts.ProgressSequence) > 0 {
		idx := poll - 1
		if idx >= len(f.opts.ProgressSequence) {
			idx = len(f.opts.ProgressSequence) - 1
		}
		writeJSON(w, f.opts.ProgressSequence[idx])
		return
	}
	if f.opts.Progress != nil {
		writeJSON(w, f.opts.Progress)
		return
	}
	writeJSON(w, map[string]any{"done": false, "overallProgress": 0.5})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
