package render

import "encoding/json"

// DeployFunctionParams sizes the remote execution unit for rendering
// workloads. Deployment is idempotent at the provider: repeated calls with
// the same shape reuse infrastructure.
type DeployFunctionParams struct {
	Region         string `json:"region,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
	MemoryMB       int    `json:"memoryMb,omitempty"`
	EnableLogging  bool   `json:"enableLogging,omitempty"`
}

type deployFunctionResponse struct {
	FunctionName string `json:"functionName"`
}

// DeploySiteParams publishes the composition bundle the render function
// executes.
type DeploySiteParams struct {
	EntryPoint string `json:"entryPoint"`
	SiteName   string `json:"siteName"`
	Region     string `json:"region,omitempty"`
}

// SiteDeployment locates a published bundle.
type SiteDeployment struct {
	ServeURL   string `json:"serveUrl"`
	BucketName string `json:"bucketName"`
}

// FunctionInfo describes one deployed render function.
type FunctionInfo struct {
	FunctionName string `json:"functionName"`
	Version      string `json:"version"`
	Region       string `json:"region"`
}

type listFunctionsResponse struct {
	Functions []FunctionInfo `json:"functions"`
}

// Quotas reports the provider-imposed concurrency ceiling for a region.
type Quotas struct {
	ConcurrencyLimit int    `json:"concurrencyLimit"`
	Region           string `json:"region"`
}

// SubmitRenderParams describes one composition render. MaxRetries and
// FramesPerLambda are passed through to the provider's own pipeline; this
// layer adds no retry behaviour of its own.
type SubmitRenderParams struct {
	ServeURL        string          `json:"serveUrl"`
	CompositionID   string          `json:"compositionId"`
	InputProps      json.RawMessage `json:"inputProps,omitempty"`
	Codec           string          `json:"codec,omitempty"`
	ImageFormat     string          `json:"imageFormat,omitempty"`
	MaxRetries      int             `json:"maxRetries,omitempty"`
	FramesPerLambda int             `json:"framesPerLambda,omitempty"`
	Privacy         string          `json:"privacy,omitempty"`
	Region          string          `json:"region,omitempty"`
	FunctionName    string          `json:"functionName"`
}

// RenderJob is the transient handle returned by SubmitRender. The caller must
// retain it to poll progress; this subsystem does not persist it.
type RenderJob struct {
	RenderID     string `json:"renderId"`
	BucketName   string `json:"bucketName"`
	FunctionName string `json:"functionName"`
}

// PollProgressParams identifies a previously submitted render.
type PollProgressParams struct {
	RenderID     string `json:"renderId"`
	BucketName   string `json:"bucketName"`
	FunctionName string `json:"functionName"`
	Region       string `json:"region,omitempty"`
}

// RenderProgress is a single point-in-time read of remote job state. The
// caller polls; the provider pushes nothing.
type RenderProgress struct {
	Done                  bool     `json:"done"`
	OutputFile            string   `json:"outputFile,omitempty"`
	FatalErrorEncountered bool     `json:"fatalErrorEncountered"`
	Errors                []string `json:"errors,omitempty"`
	TimeToFinishMillis    int64    `json:"timeToFinish,omitempty"`
	OverallProgress       float64  `json:"overallProgress"`
}

type providerErrorResponse struct {
	Error string `json:"error"`
}
