package clipper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultInvokeTimeout = 10 * time.Minute

// HTTPClientConfig configures the HTTP transport to a remote clip worker.
type HTTPClientConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// HTTPClient invokes a remote clip worker over its REST endpoint. The worker
// call is synchronous: request in, complete response out.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient validates the base URL and applies transport defaults. The
// default timeout is generous because the worker re-encodes every scene
// before responding.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("clip worker base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultInvokeTimeout}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: httpClient,
	}, nil
}

type workerErrorResponse struct {
	Error string `json:"error"`
}

// CutClips implements Client against the remote worker.
func (c *HTTPClient) CutClips(ctx context.Context, req CutRequest) (CutResult, error) {
	if err := req.Validate(); err != nil {
		return CutResult{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return CutResult{}, fmt.Errorf("marshal cut request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/clips", bytes.NewReader(payload))
	if err != nil {
		return CutResult{}, fmt.Errorf("create cut request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return CutResult{}, fmt.Errorf("invoke clip worker: %w", err)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(response.Body, 16<<20))
	if err != nil {
		return CutResult{}, fmt.Errorf("read clip worker response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		var failure workerErrorResponse
		if err := json.Unmarshal(body, &failure); err == nil && failure.Error != "" {
			return CutResult{}, fmt.Errorf("clip worker failed: %s", failure.Error)
		}
		return CutResult{}, fmt.Errorf("clip worker failed: unexpected status %d", response.StatusCode)
	}

	var result CutResult
	if err := json.Unmarshal(body, &result); err != nil {
		return CutResult{}, fmt.Errorf("decode clip worker response: %w", err)
	}
	return result, nil
}
