package main

import (
	"net/url"
	"strings"
	"time"

	"clipforge/internal/server"
)

// startupSummaryInput collects the resolved configuration that the startup
// log line reports. Secrets never appear in the summary; DSNs are redacted.
type startupSummaryInput struct {
	StorageDriver    string
	StoragePath      string
	StorageDSN       string
	Progress         progressStoreConfig
	RateLimit        server.RateLimitConfig
	WorkerURL        string
	ObjectEndpoint   string
	ObjectBucket     string
	ObjectConfigured bool
	RenderAPI        string
	RenderRegion     string
	RenderConfigured bool
}

type startupSummary struct {
	datastore     map[string]any
	progressStore map[string]any
	throttle      map[string]any
	clipWorker    map[string]any
	objectStore   map[string]any
	renderFarm    map[string]any
}

func newStartupSummary(input startupSummaryInput) startupSummary {
	datastore := map[string]any{"driver": input.StorageDriver}
	if input.StoragePath != "" {
		datastore["path"] = input.StoragePath
	}
	if strings.TrimSpace(input.StorageDSN) != "" {
		datastore["dsn"] = redactDSN(input.StorageDSN)
	}

	progressStore := map[string]any{"driver": input.Progress.Driver}
	if addr := progressAddr(input.Progress); addr != "" {
		progressStore["addr"] = addr
	}
	if input.Progress.MasterName != "" {
		progressStore["master_name"] = input.Progress.MasterName
	}
	if input.Progress.KeyPrefix != "" {
		progressStore["key_prefix"] = input.Progress.KeyPrefix
	}
	if input.Progress.Retention > 0 {
		progressStore["retention"] = input.Progress.Retention.String()
	}

	throttle := map[string]any{"driver": "memory"}
	if strings.TrimSpace(input.RateLimit.RedisAddr) != "" {
		throttle["driver"] = "redis"
		throttle["addr"] = input.RateLimit.RedisAddr
	}
	if input.RateLimit.SubmitLimit > 0 {
		throttle["submit_limit"] = input.RateLimit.SubmitLimit
		throttle["submit_window"] = durationString(input.RateLimit.SubmitWindow)
	}

	clipWorker := map[string]any{"configured": strings.TrimSpace(input.WorkerURL) != ""}
	if strings.TrimSpace(input.WorkerURL) != "" {
		clipWorker["url"] = input.WorkerURL
	}

	objectStore := map[string]any{"configured": input.ObjectConfigured}
	if input.ObjectConfigured {
		objectStore["endpoint"] = input.ObjectEndpoint
		objectStore["bucket"] = input.ObjectBucket
	}

	renderFarm := map[string]any{"configured": input.RenderConfigured}
	if input.RenderConfigured {
		renderFarm["api"] = input.RenderAPI
		renderFarm["region"] = input.RenderRegion
	}

	return startupSummary{
		datastore:     datastore,
		progressStore: progressStore,
		throttle:      throttle,
		clipWorker:    clipWorker,
		objectStore:   objectStore,
		renderFarm:    renderFarm,
	}
}

// LogArgs flattens the summary into slog key/value pairs.
func (s startupSummary) LogArgs() []any {
	return []any{
		"datastore", s.datastore,
		"progress_store", s.progressStore,
		"submit_throttle", s.throttle,
		"clip_worker", s.clipWorker,
		"object_store", s.objectStore,
		"render_farm", s.renderFarm,
	}
}

func progressAddr(cfg progressStoreConfig) string {
	if len(cfg.Addrs) > 0 {
		return strings.Join(cfg.Addrs, ",")
	}
	return strings.TrimSpace(cfg.Addr)
}

func durationString(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}

// redactDSN masks the password component of a connection string so the
// startup summary can name the target without leaking credentials.
func redactDSN(dsn string) string {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "(redacted)"
	}
	if parsed.User != nil {
		if _, has := parsed.User.Password(); has {
			parsed.User = url.UserPassword(parsed.User.Username(), "*****")
		}
	}
	return parsed.String()
}
