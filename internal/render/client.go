package render

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

// Client talks to the render provider's REST API. All operations validate
// their parameters and the credential pair before any network I/O, and wrap
// provider failures in ProviderError without retrying them.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

// NewClient validates connectivity configuration and builds a Client. A
// missing credential pair is not an error here: it is detected per-operation
// so callers can construct the client unconditionally and surface the
// configuration problem at request time.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("render provider base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, baseURL: baseURL, httpClient: httpClient}, nil
}

// DefaultFunctionName exposes the configured fallback function name.
func (c *Client) DefaultFunctionName() string {
	return c.cfg.DefaultFunctionName
}

// DefaultBucket exposes the configured fallback bucket.
func (c *Client) DefaultBucket() string {
	return c.cfg.DefaultBucket
}

// DeployFunction provisions (or reuses) a remote execution unit sized for
// rendering workloads and returns its name.
func (c *Client) DeployFunction(ctx context.Context, params DeployFunctionParams) (string, error) {
	if !c.cfg.HasCredentials() {
		return "", ErrCredentialsMissing
	}
	params.Region = c.cfg.region(params.Region)
	var response deployFunctionResponse
	if err := c.post(ctx, "/v1/functions", params, &response); err != nil {
		return "", err
	}
	if response.FunctionName == "" {
		return "", ProviderError{Message: "deploy response missing functionName"}
	}
	return response.FunctionName, nil
}

// DeploySite ensures the provider-side bucket exists and publishes the
// composition bundle, returning the URL render functions fetch it from.
func (c *Client) DeploySite(ctx context.Context, params DeploySiteParams) (SiteDeployment, error) {
	if !c.cfg.HasCredentials() {
		return SiteDeployment{}, ErrCredentialsMissing
	}
	if strings.TrimSpace(params.EntryPoint) == "" {
		return SiteDeployment{}, ValidationError{Field: "entryPoint"}
	}
	if strings.TrimSpace(params.SiteName) == "" {
		return SiteDeployment{}, ValidationError{Field: "siteName"}
	}
	params.Region = c.cfg.region(params.Region)
	var response SiteDeployment
	if err := c.post(ctx, "/v1/sites", params, &response); err != nil {
		return SiteDeployment{}, err
	}
	if response.ServeURL == "" {
		return SiteDeployment{}, ProviderError{Message: "site deploy response missing serveUrl"}
	}
	return response, nil
}

// ListFunctions returns the deployed render functions in a region, optionally
// limited to ones compatible with the current client version.
func (c *Client) ListFunctions(ctx context.Context, region string, compatibleOnly bool) ([]FunctionInfo, error) {
	if !c.cfg.HasCredentials() {
		return nil, ErrCredentialsMissing
	}
	query := url.Values{}
	query.Set("region", c.cfg.region(region))
	query.Set("compatibleOnly", strconv.FormatBool(compatibleOnly))
	var response listFunctionsResponse
	if err := c.get(ctx, "/v1/functions", query, &response); err != nil {
		return nil, err
	}
	return response.Functions, nil
}

// GetQuotas reads the provider-imposed concurrency ceiling for a region so
// callers can throttle parallel submissions.
func (c *Client) GetQuotas(ctx context.Context, region string) (Quotas, error) {
	if !c.cfg.HasCredentials() {
		return Quotas{}, ErrCredentialsMissing
	}
	query := url.Values{}
	query.Set("region", c.cfg.region(region))
	var response Quotas
	if err := c.get(ctx, "/v1/quotas", query, &response); err != nil {
		return Quotas{}, err
	}
	return response, nil
}

// SubmitRender fires a composition render and returns immediately with the
// handle needed to poll it. Rendering happens asynchronously on the provider,
// potentially sharded across many parallel invocations.
func (c *Client) SubmitRender(ctx context.Context, params SubmitRenderParams) (RenderJob, error) {
	if !c.cfg.HasCredentials() {
		return RenderJob{}, ErrCredentialsMissing
	}
	if strings.TrimSpace(params.ServeURL) == "" {
		return RenderJob{}, ValidationError{Field: "serveUrl"}
	}
	if strings.TrimSpace(params.CompositionID) == "" {
		return RenderJob{}, ValidationError{Field: "compositionId"}
	}
	if strings.TrimSpace(params.FunctionName) == "" {
		params.FunctionName = c.cfg.DefaultFunctionName
	}
	if strings.TrimSpace(params.FunctionName) == "" {
		return RenderJob{}, ValidationError{Field: "functionName"}
	}
	params.Region = c.cfg.region(params.Region)
	var response RenderJob
	if err := c.post(ctx, "/v1/renders", params, &response); err != nil {
		return RenderJob{}, err
	}
	if response.RenderID == "" {
		return RenderJob{}, ProviderError{Message: "render response missing renderId"}
	}
	if response.FunctionName == "" {
		response.FunctionName = params.FunctionName
	}
	return response, nil
}

// PollProgress reads the current state of a submitted render once. Repeated
// polling is the caller's responsibility.
func (c *Client) PollProgress(ctx context.Context, params PollProgressParams) (RenderProgress, error) {
	if !c.cfg.HasCredentials() {
		return RenderProgress{}, ErrCredentialsMissing
	}
	if strings.TrimSpace(params.RenderID) == "" {
		return RenderProgress{}, ValidationError{Field: "renderId"}
	}
	if strings.TrimSpace(params.BucketName) == "" {
		return RenderProgress{}, ValidationError{Field: "bucketName"}
	}
	if strings.TrimSpace(params.FunctionName) == "" {
		return RenderProgress{}, ValidationError{Field: "functionName"}
	}
	query := url.Values{}
	query.Set("bucketName", params.BucketName)
	query.Set("functionName", params.FunctionName)
	query.Set("region", c.cfg.region(params.Region))
	var response RenderProgress
	if err := c.get(ctx, "/v1/renders/"+url.PathEscape(params.RenderID)+"/progress", query, &response); err != nil {
		return RenderProgress{}, err
	}
	return response, nil
}

func (c *Client) post(ctx context.Context, path string, payload, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	request.Header.Set("Content-Type", "application/json")
	c.signRequest(request)
	return c.do(request, dest)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dest any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	c.signRequest(request)
	return c.do(request, dest)
}

func (c *Client) do(request *http.Request, dest any) error {
	response, err := c.httpClient.Do(request)
	if err != nil {
		return ProviderError{Message: err.Error()}
	}
	defer func() {
		_ = response.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(response.Body, 4<<20))
	if err != nil {
		return ProviderError{Status: response.StatusCode, Message: err.Error()}
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		var failure providerErrorResponse
		if err := json.Unmarshal(body, &failure); err == nil && failure.Error != "" {
			return ProviderError{Status: response.StatusCode, Message: failure.Error}
		}
		return ProviderError{Status: response.StatusCode}
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return ProviderError{Status: response.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// signRequest authenticates the call with the credential pair: the access key
// travels in clear, the secret only as an HMAC over method, path, and date.
func (c *Client) signRequest(request *http.Request) {
	date := time.Now().UTC().Format("20060102T150405Z")
	request.Header.Set("X-Render-Access-Key", c.cfg.AccessKey)
	request.Header.Set("X-Render-Date", date)
	mac := hmac.New(sha256.New, []byte(c.cfg.SecretKey))
	mac.Write([]byte(strings.Join([]string{request.Method, request.URL.Path, date}, "\n")))
	request.Header.Set("X-Render-Signature", hex.EncodeToString(mac.Sum(nil)))
}
