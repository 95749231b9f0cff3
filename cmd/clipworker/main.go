// Command clipworker runs the ffmpeg clip cutting worker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"clipforge/internal/clipper"
	"clipforge/internal/objectstore"
	"clipforge/internal/observability/logging"
	"clipforge/internal/serverutil"
)

func main() {
	logger := logging.Init(logging.Config{
		Level:  os.Getenv("CLIPWORKER_LOG_LEVEL"),
		Format: os.Getenv("CLIPWORKER_LOG_FORMAT"),
	})

	bind := envOrDefault("CLIPWORKER_BIND", ":9000")
	digest, err := resolveTokenDigest(
		os.Getenv("CLIPWORKER_TOKEN_DIGEST"),
		os.Getenv("CLIPWORKER_TOKEN"),
	)
	if err != nil {
		logger.Error("failed to resolve worker token", "error", err)
		os.Exit(1)
	}
	if digest == "" {
		logger.Warn("no worker token configured, requests are unauthenticated")
	}

	srv, err := newWorker(workerConfig{
		TokenDigest: digest,
		WorkRoot:    strings.TrimSpace(os.Getenv("CLIPWORKER_WORK_ROOT")),
		FFmpegPath:  strings.TrimSpace(os.Getenv("CLIPWORKER_FFMPEG")),
		Object: objectstore.Config{
			Endpoint:       strings.TrimSpace(os.Getenv("CLIPWORKER_OBJECT_ENDPOINT")),
			Region:         strings.TrimSpace(os.Getenv("CLIPWORKER_OBJECT_REGION")),
			AccessKey:      strings.TrimSpace(os.Getenv("CLIPWORKER_OBJECT_ACCESS_KEY")),
			SecretKey:      strings.TrimSpace(os.Getenv("CLIPWORKER_OBJECT_SECRET_KEY")),
			Prefix:         strings.TrimSpace(os.Getenv("CLIPWORKER_OBJECT_PREFIX")),
			PublicEndpoint: strings.TrimSpace(os.Getenv("CLIPWORKER_OBJECT_PUBLIC_ENDPOINT")),
			UseSSL:         envBool("CLIPWORKER_OBJECT_USE_SSL"),
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to initialise worker", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              bind,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("clip worker listening", "addr", bind)
	if err := serverutil.Run(ctx, serverutil.Config{
		Server: httpServer,
		TLS: serverutil.TLSConfig{
			CertFile: strings.TrimSpace(os.Getenv("CLIPWORKER_TLS_CERT")),
			KeyFile:  strings.TrimSpace(os.Getenv("CLIPWORKER_TLS_KEY")),
		},
	}); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("worker server error", "error", err)
		os.Exit(1)
	}
	logger.Info("clip worker stopped")
}

type workerConfig struct {
	TokenDigest string
	WorkRoot    string
	FFmpegPath  string
	Object      objectstore.Config
	Logger      *slog.Logger
}

type worker struct {
	service     *clipper.Service
	tokenDigest string
	logger      *slog.Logger
}

func newWorker(cfg workerConfig) (*worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := clipper.NewFFmpegEngine(logging.WithComponent(logger, "ffmpeg"))
	if cfg.FFmpegPath != "" {
		engine.Binary = cfg.FFmpegPath
	}
	base := cfg.Object
	service, err := clipper.NewService(clipper.ServiceConfig{
		Engine: engine,
		Stores: func(bucket, region string) clipper.ObjectStore {
			resolved := base
			if strings.TrimSpace(bucket) != "" {
				resolved.Bucket = bucket
			}
			if strings.TrimSpace(region) != "" {
				resolved.Region = region
			}
			return objectstore.New(resolved)
		},
		WorkRoot: cfg.WorkRoot,
		Logger:   logging.WithComponent(logger, "clipper"),
	})
	if err != nil {
		return nil, err
	}
	return &worker{
		service:     service,
		tokenDigest: cfg.TokenDigest,
		logger:      logger,
	}, nil
}

func (wk *worker) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", wk.handleHealthz)
	mux.HandleFunc("/v1/clips", wk.handleClips)
	return logging.RequestLogger(logging.RequestLoggerConfig{Logger: wk.logger})(mux)
}

// authorize verifies the bearer token against the configured PBKDF2 digest.
// A worker without a digest accepts every request, which keeps local
// development working before any token is provisioned.
func (wk *worker) authorize(r *http.Request) bool {
	if wk.tokenDigest == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return false
	}
	return clipper.VerifyToken(strings.TrimSpace(header[7:]), wk.tokenDigest)
}

func (wk *worker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (wk *worker) handleClips(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !wk.authorize(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req clipper.CutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := wk.service.CutClips(r.Context(), req)
	if err != nil {
		wk.logger.Error("clip cutting failed", "job_id", req.JobID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// resolveTokenDigest prefers a pre-hashed digest; a plain token from the
// environment is hashed at boot so comparisons stay constant time either way.
func resolveTokenDigest(digestEnv, tokenEnv string) (string, error) {
	if digest := strings.TrimSpace(digestEnv); digest != "" {
		return digest, nil
	}
	if token := strings.TrimSpace(tokenEnv); token != "" {
		return clipper.HashToken(token)
	}
	return "", nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("encode response failed", "error", err)
	}
}

func envOrDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func envBool(key string) bool {
	if env, ok := os.LookupEnv(key); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
