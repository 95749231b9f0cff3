package progress

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultPollInterval is how often the channel reads the store.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultMaxPolls bounds the channel lifetime: 600 polls at the default
	// interval is five minutes of wall clock.
	DefaultMaxPolls = 600
	// DefaultCloseGrace is how long the channel lingers after the terminal
	// message so slow clients still receive it.
	DefaultCloseGrace = time.Second
)

// ChannelConfig configures the SSE progress channel.
type ChannelConfig struct {
	Store        Store
	Logger       *slog.Logger
	PollInterval time.Duration
	MaxPolls     int
	CloseGrace   time.Duration
}

// Channel streams progress records for one job to a client over a text event
// stream. It polls the store until a terminal stage, the poll budget runs out,
// or the client disconnects.
type Channel struct {
	store        Store
	logger       *slog.Logger
	pollInterval time.Duration
	maxPolls     int
	closeGrace   time.Duration
}

// NewChannel applies defaults and builds a Channel.
func NewChannel(cfg ChannelConfig) *Channel {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}
	closeGrace := cfg.CloseGrace
	if closeGrace <= 0 {
		closeGrace = DefaultCloseGrace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		store:        cfg.Store,
		logger:       logger,
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		closeGrace:   closeGrace,
	}
}

type streamMarker struct {
	Type    string `json:"type"`
	JobID   string `json:"jobId,omitempty"`
	Message string `json:"message,omitempty"`
}

// ServeHTTP implements GET /progress?jobId=<id>. The jobId parameter is
// required and validated before the stream opens.
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		http.Error(w, "jobId query parameter is required", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Synthetic marker so the client sees activity before the job's first
	// store write lands.
	c.writeEvent(w, flusher, streamMarker{Type: "transcribing", JobID: jobID})

	ctx := r.Context()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for polls := 0; polls < c.maxPolls; polls++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		record, err := c.store.Get(ctx, jobID)
		if err != nil {
			c.logger.Error("progress read failed", "job_id", jobID, "error", err)
			continue
		}
		if record == nil {
			// The job may not have started yet; keep waiting.
			continue
		}
		if err := c.writeEvent(w, flusher, record); err != nil {
			return
		}
		if record.Stage.Terminal() {
			// Linger briefly so the final event reaches the client.
			select {
			case <-ctx.Done():
			case <-time.After(c.closeGrace):
			}
			return
		}
	}

	c.writeEvent(w, flusher, streamMarker{
		Type:    "timeout",
		Message: fmt.Sprintf("no terminal state for job %s within %s", jobID, time.Duration(c.maxPolls)*c.pollInterval),
	})
}

func (c *Channel) writeEvent(w http.ResponseWriter, flusher http.Flusher, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
