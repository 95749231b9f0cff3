package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, job lifecycle events, pipeline stage transitions, render farm
// activity, and open progress streams. It coordinates concurrent writers via
// a RWMutex while exposing thread-safe gauges for active work tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	jobEvents       map[JobEventLabel]uint64
	stageEvents     map[string]uint64
	renderEvents    map[string]uint64
	clipSegments    uint64
	activeJobs      atomic.Int64
	progressStreams atomic.Int64
}

type JobEventLabel struct {
	Kind   string
	Status string
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		jobEvents:       make(map[JobEventLabel]uint64),
		stageEvents:     make(map[string]uint64),
		renderEvents:    make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// SetDefault replaces the process-wide recorder used by the package-level
// helpers. Passing nil is a no-op.
func SetDefault(r *Recorder) {
	if r == nil {
		return
	}
	defaultRecorder = r
}

// Registry bundles a Recorder with the HTTP handler that exposes it.
type Registry struct {
	Recorder *Recorder
	Handler  http.Handler
}

// NewRegistry constructs a fresh Recorder, installs it as the default, and
// returns it alongside its exposition handler.
func NewRegistry() *Registry {
	recorder := New()
	SetDefault(recorder)
	return &Registry{Recorder: recorder, Handler: recorder.Handler()}
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// JobStarted records the beginning of a processing job of the provided kind
// (e.g., "clip") and increments the active job gauge.
func (r *Recorder) JobStarted(kind string) {
	r.recordJobEvent(kind, "start")
	r.activeJobs.Add(1)
}

// JobCompleted records the completion of a processing job and decrements the
// active job gauge.
func (r *Recorder) JobCompleted(kind string) {
	r.recordJobEvent(kind, "complete")
	r.decrementGauge(&r.activeJobs)
}

// JobFailed records a failed processing job and decrements the active job
// gauge (without allowing it to go negative if the job never started).
func (r *Recorder) JobFailed(kind string) {
	r.recordJobEvent(kind, "fail")
	r.decrementGauge(&r.activeJobs)
}

func (r *Recorder) recordJobEvent(kind, status string) {
	label := JobEventLabel{
		Kind:   normalizeName(kind),
		Status: normalizeName(status),
	}
	r.mu.Lock()
	r.jobEvents[label]++
	r.mu.Unlock()
}

// ObserveStage records a pipeline stage transition for throughput monitoring.
func (r *Recorder) ObserveStage(stage string) {
	normalized := normalizeName(stage)
	r.mu.Lock()
	r.stageEvents[normalized]++
	r.mu.Unlock()
}

// ObserveClipSegments accumulates the number of clip segments produced.
func (r *Recorder) ObserveClipSegments(count int) {
	if count <= 0 {
		return
	}
	r.mu.Lock()
	r.clipSegments += uint64(count)
	r.mu.Unlock()
}

// ObserveRenderEvent records a render farm event keyed by outcome (e.g.,
// "submitted", "completed", "failed").
func (r *Recorder) ObserveRenderEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.renderEvents[normalized]++
	r.mu.Unlock()
}

// ProgressStreamOpened increments the gauge of open progress subscriptions.
func (r *Recorder) ProgressStreamOpened() {
	r.progressStreams.Add(1)
}

// ProgressStreamClosed decrements the gauge of open progress subscriptions.
func (r *Recorder) ProgressStreamClosed() {
	r.decrementGauge(&r.progressStreams)
}

// ActiveJobs exposes the current gauge of in-flight processing jobs.
func (r *Recorder) ActiveJobs() int64 {
	return r.activeJobs.Load()
}

// ActiveProgressStreams exposes the current number of open progress
// subscriptions tracked by the recorder.
func (r *Recorder) ActiveProgressStreams() int64 {
	return r.progressStreams.Load()
}

// JobCounts returns copies of job event counters and the current active job
// gauge value for testing and reporting purposes.
func (r *Recorder) JobCounts() (events map[JobEventLabel]uint64, active int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[JobEventLabel]uint64, len(r.jobEvents))
	for k, v := range r.jobEvents {
		events[k] = v
	}
	return events, r.activeJobs.Load()
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.jobEvents = make(map[JobEventLabel]uint64)
	r.stageEvents = make(map[string]uint64)
	r.renderEvents = make(map[string]uint64)
	r.clipSegments = 0
	r.activeJobs.Store(0)
	r.progressStreams.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	jobEvents := r.sortedJobEventLabels()
	stageEvents := r.sortedStageEvents()
	renderEvents := r.sortedRenderEvents()

	fmt.Fprintln(w, "# HELP clipforge_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE clipforge_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "clipforge_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP clipforge_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE clipforge_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "clipforge_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP clipforge_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE clipforge_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "clipforge_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP clipforge_jobs_total Processing job events by kind and status")
	fmt.Fprintln(w, "# TYPE clipforge_jobs_total counter")
	for _, label := range jobEvents {
		count := r.jobEvents[label]
		fmt.Fprintf(w, "clipforge_jobs_total{kind=\"%s\",status=\"%s\"} %d\n", label.Kind, label.Status, count)
	}

	fmt.Fprintln(w, "# HELP clipforge_active_jobs Current number of in-flight processing jobs")
	fmt.Fprintln(w, "# TYPE clipforge_active_jobs gauge")
	fmt.Fprintf(w, "clipforge_active_jobs %d\n", r.activeJobs.Load())

	fmt.Fprintln(w, "# HELP clipforge_stage_events_total Pipeline stage transitions by stage")
	fmt.Fprintln(w, "# TYPE clipforge_stage_events_total counter")
	for _, stage := range stageEvents {
		count := r.stageEvents[stage]
		fmt.Fprintf(w, "clipforge_stage_events_total{stage=\"%s\"} %d\n", stage, count)
	}

	fmt.Fprintln(w, "# HELP clipforge_clip_segments_total Total clip segments produced")
	fmt.Fprintln(w, "# TYPE clipforge_clip_segments_total counter")
	fmt.Fprintf(w, "clipforge_clip_segments_total %d\n", r.clipSegments)

	fmt.Fprintln(w, "# HELP clipforge_render_events_total Render farm events by outcome")
	fmt.Fprintln(w, "# TYPE clipforge_render_events_total counter")
	for _, event := range renderEvents {
		count := r.renderEvents[event]
		fmt.Fprintf(w, "clipforge_render_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP clipforge_progress_streams Current number of open progress subscriptions")
	fmt.Fprintln(w, "# TYPE clipforge_progress_streams gauge")
	fmt.Fprintf(w, "clipforge_progress_streams %d\n", r.progressStreams.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedJobEventLabels() []JobEventLabel {
	labels := make([]JobEventLabel, 0, len(r.jobEvents))
	for label := range r.jobEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Kind != labels[j].Kind {
			return labels[i].Kind < labels[j].Kind
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func (r *Recorder) sortedStageEvents() []string {
	stages := make([]string, 0, len(r.stageEvents))
	for stage := range r.stageEvents {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	return stages
}

func (r *Recorder) sortedRenderEvents() []string {
	events := make([]string, 0, len(r.renderEvents))
	for event := range r.renderEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// JobStarted records the start of a processing job on the default recorder.
func JobStarted(kind string) {
	defaultRecorder.JobStarted(kind)
}

// JobCompleted records the completion of a processing job on the default recorder.
func JobCompleted(kind string) {
	defaultRecorder.JobCompleted(kind)
}

// JobFailed records a failed processing job on the default recorder.
func JobFailed(kind string) {
	defaultRecorder.JobFailed(kind)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
