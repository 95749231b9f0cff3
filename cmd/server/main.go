// Command server starts the ClipForge API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"clipforge/internal/api"
	"clipforge/internal/clipper"
	"clipforge/internal/objectstore"
	"clipforge/internal/observability/logging"
	"clipforge/internal/observability/metrics"
	"clipforge/internal/progress"
	"clipforge/internal/render"
	"clipforge/internal/server"
	"clipforge/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresConnectTimeout := flag.Duration("postgres-connect-timeout", 0, "timeout when establishing Postgres connections")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	progressDriver := flag.String("progress-driver", "", "progress store driver (memory or redis)")
	progressRetention := flag.Duration("progress-retention", 0, "retention for terminal progress records")
	progressRedisAddr := flag.String("progress-redis-addr", "", "Redis address for the shared progress store")
	progressRedisAddrs := flag.String("progress-redis-addrs", "", "comma separated Redis addresses for the shared progress store")
	progressRedisUsername := flag.String("progress-redis-username", "", "Redis username for the progress store")
	progressRedisPassword := flag.String("progress-redis-password", "", "Redis password for the progress store")
	progressRedisMaster := flag.String("progress-redis-sentinel-master", "", "Redis sentinel master name for the progress store")
	progressKeyPrefix := flag.String("progress-key-prefix", "", "key prefix for progress records in Redis")
	workerURL := flag.String("worker-url", "", "base URL of the clip worker service")
	workerToken := flag.String("worker-token", "", "bearer token presented to the clip worker")
	jobWorkers := flag.Int("job-workers", 0, "concurrent clip pipeline workers")
	jobQueueSize := flag.Int("job-queue-size", 0, "pending job queue capacity")
	jobTimeout := flag.Duration("job-timeout", 0, "per-job pipeline timeout")
	renderAPI := flag.String("render-api", "", "render provider API base URL")
	renderAccessKey := flag.String("render-access-key", "", "render provider access key")
	renderSecretKey := flag.String("render-secret-key", "", "render provider secret key")
	renderRegion := flag.String("render-region", "", "default render region")
	renderBucket := flag.String("render-bucket", "", "default render output bucket")
	renderFunction := flag.String("render-function", "", "default render function name")
	renderConcurrency := flag.Int("render-concurrency", 0, "maximum concurrent render submissions")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint host")
	objectBucket := flag.String("object-bucket", "", "bucket for staged uploads and rendered clips")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectPrefix := flag.String("object-prefix", "", "key prefix applied to stored objects")
	objectPublicEndpoint := flag.String("object-public-endpoint", "", "public base URL for stored objects")
	objectUseSSL := flag.Bool("object-use-ssl", false, "use HTTPS when talking to object storage")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	corsOrigins := flag.String("cors-allowed-origins", "", "comma separated origins allowed to call the API")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	submitLimit := flag.Int("rate-submit-limit", 0, "maximum job submissions per window for a single IP")
	submitWindow := flag.Duration("rate-submit-window", 0, "window for counting job submissions")
	trustForwarded := flag.Bool("rate-trust-forwarded-headers", false, "trust proxy-provided client IP headers")
	trustedProxies := flag.String("rate-trusted-proxies", "", "comma separated CIDR blocks or IPs of trusted proxies")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed submit throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed submit throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis throttle operations")
	rateRedisTLS := flag.Bool("rate-redis-tls", false, "enable TLS for the Redis throttle connection")
	rateRedisTLSCA := flag.String("rate-redis-tls-ca", "", "path to Redis TLS CA certificate for submit throttling")
	rateRedisTLSCert := flag.String("rate-redis-tls-cert", "", "path to Redis TLS client certificate for submit throttling")
	rateRedisTLSKey := flag.String("rate-redis-tls-key", "", "path to Redis TLS client key for submit throttling")
	rateRedisTLSServerName := flag.String("rate-redis-tls-server-name", "", "override Redis TLS server name for submit throttling")
	rateRedisTLSSkipVerify := flag.Bool("rate-redis-tls-skip-verify", false, "skip Redis TLS verification for submit throttling")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("CLIPFORGE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("CLIPFORGE_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("CLIPFORGE_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("CLIPFORGE_ADDR"))

	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("CLIPFORGE_TLS_CERT"))
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("CLIPFORGE_TLS_KEY"))

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("CLIPFORGE_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" {
		if err := validateProductionDatastore(driver, postgresDefaultDSN, os.Getenv("CLIPFORGE_POSTGRES_DSN")); err != nil {
			logger.Error("production datastore validation failed", "error", err)
			os.Exit(1)
		}
	}

	var (
		store       storage.Repository
		storagePath string
	)
	switch driver {
	case "json":
		storagePath = resolveDataPath(*dataPath, os.Getenv("CLIPFORGE_DATA"))
		store, err = storage.NewStorage(storagePath)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
		store, err = storage.NewPostgresRepository(connectCtx, storage.PostgresConfig{
			DSN:                 postgresDefaultDSN,
			MaxConnections:      int32(resolveInt(*postgresMaxConns, "CLIPFORGE_POSTGRES_MAX_CONNS")),
			MinConnections:      int32(resolveInt(*postgresMinConns, "CLIPFORGE_POSTGRES_MIN_CONNS")),
			MaxConnLifetime:     resolveDuration(*postgresMaxConnLifetime, "CLIPFORGE_POSTGRES_MAX_CONN_LIFETIME", 0),
			MaxConnIdleTime:     resolveDuration(*postgresMaxConnIdle, "CLIPFORGE_POSTGRES_MAX_CONN_IDLE", 0),
			HealthCheckInterval: resolveDuration(*postgresHealthInterval, "CLIPFORGE_POSTGRES_HEALTH_INTERVAL", 0),
			ConnectTimeout:      resolveDuration(*postgresConnectTimeout, "CLIPFORGE_POSTGRES_CONNECT_TIMEOUT", 0),
			ApplicationName:     firstNonEmpty(*postgresAppName, os.Getenv("CLIPFORGE_POSTGRES_APP_NAME")),
		})
		cancelConnect()
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	progressCfg := progressStoreConfig{
		Driver:     resolveProgressDriver(*progressDriver, os.Getenv("CLIPFORGE_PROGRESS_DRIVER")),
		Retention:  resolveDuration(*progressRetention, "CLIPFORGE_PROGRESS_RETENTION", 0),
		Addr:       firstNonEmpty(*progressRedisAddr, os.Getenv("CLIPFORGE_PROGRESS_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*progressRedisAddrs, os.Getenv("CLIPFORGE_PROGRESS_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*progressRedisUsername, os.Getenv("CLIPFORGE_PROGRESS_REDIS_USERNAME")),
		Password:   firstNonEmpty(*progressRedisPassword, os.Getenv("CLIPFORGE_PROGRESS_REDIS_PASSWORD")),
		MasterName: firstNonEmpty(*progressRedisMaster, os.Getenv("CLIPFORGE_PROGRESS_REDIS_SENTINEL_MASTER")),
		KeyPrefix:  firstNonEmpty(*progressKeyPrefix, os.Getenv("CLIPFORGE_PROGRESS_KEY_PREFIX")),
	}
	progressStore, err := configureProgressStore(progressCfg, logging.WithComponent(logger, "progress"))
	if err != nil {
		logger.Error("failed to configure progress store", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, progressStore)
	handler.Logger = logging.WithComponent(logger, "api")

	workerBaseURL := firstNonEmpty(*workerURL, os.Getenv("CLIPFORGE_WORKER_URL"))
	if workerBaseURL != "" {
		cutter, err := clipper.NewHTTPClient(clipper.HTTPClientConfig{
			BaseURL: workerBaseURL,
			Token:   firstNonEmpty(*workerToken, os.Getenv("CLIPFORGE_WORKER_TOKEN")),
		})
		if err != nil {
			logger.Error("failed to configure clip worker client", "error", err)
			os.Exit(1)
		}
		handler.Cutter = cutter
	} else {
		logger.Warn("no clip worker configured, submitted jobs will not be processed")
	}

	objectCfg := objectstore.Config{
		Endpoint:       firstNonEmpty(*objectEndpoint, os.Getenv("CLIPFORGE_OBJECT_ENDPOINT")),
		Bucket:         firstNonEmpty(*objectBucket, os.Getenv("CLIPFORGE_OBJECT_BUCKET")),
		Region:         firstNonEmpty(*objectRegion, os.Getenv("CLIPFORGE_OBJECT_REGION")),
		AccessKey:      firstNonEmpty(*objectAccessKey, os.Getenv("CLIPFORGE_OBJECT_ACCESS_KEY")),
		SecretKey:      firstNonEmpty(*objectSecretKey, os.Getenv("CLIPFORGE_OBJECT_SECRET_KEY")),
		Prefix:         firstNonEmpty(*objectPrefix, os.Getenv("CLIPFORGE_OBJECT_PREFIX")),
		PublicEndpoint: firstNonEmpty(*objectPublicEndpoint, os.Getenv("CLIPFORGE_OBJECT_PUBLIC_ENDPOINT")),
		UseSSL:         resolveBool(*objectUseSSL, "CLIPFORGE_OBJECT_USE_SSL"),
	}
	objects := objectstore.New(objectCfg)
	handler.Objects = objects
	if !objects.Enabled() {
		logger.Warn("no object storage configured, multipart uploads will be rejected")
	}

	renderCfg := render.LoadConfigFromEnv()
	renderCfg.BaseURL = firstNonEmpty(*renderAPI, renderCfg.BaseURL)
	renderCfg.AccessKey = firstNonEmpty(*renderAccessKey, renderCfg.AccessKey)
	renderCfg.SecretKey = firstNonEmpty(*renderSecretKey, renderCfg.SecretKey)
	renderCfg.DefaultRegion = firstNonEmpty(*renderRegion, renderCfg.DefaultRegion)
	renderCfg.DefaultBucket = firstNonEmpty(*renderBucket, renderCfg.DefaultBucket)
	renderCfg.DefaultFunctionName = firstNonEmpty(*renderFunction, renderCfg.DefaultFunctionName)
	if renderCfg.BaseURL != "" {
		renderClient, err := render.NewClient(renderCfg)
		if err != nil {
			logger.Error("failed to configure render provider", "error", err)
			os.Exit(1)
		}
		handler.Render = renderClient
		handler.RenderGate = render.NewLimiter(resolveInt(*renderConcurrency, "CLIPFORGE_RENDER_CONCURRENCY"))
	}

	processor := api.NewJobProcessor(api.JobProcessorConfig{
		Store:     store,
		Cutter:    handler.Cutter,
		Progress:  progressStore,
		Workers:   resolveInt(*jobWorkers, "CLIPFORGE_JOB_WORKERS"),
		QueueSize: resolveInt(*jobQueueSize, "CLIPFORGE_JOB_QUEUE_SIZE"),
		Timeout:   resolveDuration(*jobTimeout, "CLIPFORGE_JOB_TIMEOUT", 0),
		Logger:    logging.WithComponent(logger, "jobs"),
	})
	processor.Start()
	handler.Processor = processor

	rateCfg := server.RateLimitConfig{
		GlobalRPS:             resolveFloat(*globalRPS, "CLIPFORGE_RATE_GLOBAL_RPS"),
		GlobalBurst:           resolveInt(*globalBurst, "CLIPFORGE_RATE_GLOBAL_BURST"),
		SubmitLimit:           resolveInt(*submitLimit, "CLIPFORGE_RATE_SUBMIT_LIMIT"),
		SubmitWindow:          resolveDuration(*submitWindow, "CLIPFORGE_RATE_SUBMIT_WINDOW", time.Minute),
		TrustForwardedHeaders: resolveBool(*trustForwarded, "CLIPFORGE_RATE_TRUST_FORWARDED_HEADERS"),
		TrustedProxies:        splitAndTrim(firstNonEmpty(*trustedProxies, os.Getenv("CLIPFORGE_RATE_TRUSTED_PROXIES"))),
		RedisAddr:             firstNonEmpty(*rateRedisAddr, os.Getenv("CLIPFORGE_RATE_REDIS_ADDR")),
		RedisPassword:         firstNonEmpty(*rateRedisPassword, os.Getenv("CLIPFORGE_RATE_REDIS_PASSWORD")),
		RedisTimeout:          resolveDuration(*rateRedisTimeout, "CLIPFORGE_RATE_REDIS_TIMEOUT", 2*time.Second),
		RedisTLS: server.RedisTLSConfig{
			Enabled:            resolveBool(*rateRedisTLS, "CLIPFORGE_RATE_REDIS_TLS"),
			CAFile:             firstNonEmpty(*rateRedisTLSCA, os.Getenv("CLIPFORGE_RATE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*rateRedisTLSCert, os.Getenv("CLIPFORGE_RATE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*rateRedisTLSKey, os.Getenv("CLIPFORGE_RATE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*rateRedisTLSServerName, os.Getenv("CLIPFORGE_RATE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*rateRedisTLSSkipVerify, "CLIPFORGE_RATE_REDIS_TLS_SKIP_VERIFY"),
		},
	}

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		TLS:       server.TLSConfig{CertFile: tlsCertPath, KeyFile: tlsKeyPath},
		RateLimit: rateCfg,
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("CLIPFORGE_CORS_ALLOWED_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	summary := newStartupSummary(startupSummaryInput{
		StorageDriver:    driver,
		StoragePath:      storagePath,
		StorageDSN:       postgresDefaultDSN,
		Progress:         progressCfg,
		RateLimit:        rateCfg,
		WorkerURL:        workerBaseURL,
		ObjectEndpoint:   objectCfg.Endpoint,
		ObjectBucket:     objectCfg.Bucket,
		ObjectConfigured: objects.Enabled(),
		RenderAPI:        renderCfg.BaseURL,
		RenderRegion:     renderCfg.DefaultRegion,
		RenderConfigured: handler.Render != nil,
	})
	logger.Info("ClipForge API listening", append([]any{"addr", listenAddr, "mode", serverMode}, summary.LogArgs()...)...)
	if tlsCertPath != "" && tlsKeyPath != "" {
		logger.Info("TLS enabled", "cert_file", tlsCertPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil {
		logger.Error("server error", "error", err)
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := processor.Shutdown(cleanupCtx); err != nil {
		logger.Warn("failed to stop job processor", "error", err)
	}
	if err := progressStore.Close(); err != nil {
		logger.Warn("failed to close progress store", "error", err)
	}
	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(cleanupCtx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	logger.Info("server stopped")
}

type progressStoreConfig struct {
	Driver     string
	Retention  time.Duration
	Addr       string
	Addrs      []string
	Username   string
	Password   string
	MasterName string
	KeyPrefix  string
}

func resolveProgressDriver(flagValue, envValue string) string {
	driver := strings.ToLower(strings.TrimSpace(flagValue))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envValue))
	}
	if driver == "" {
		driver = "memory"
	}
	return driver
}

func configureProgressStore(cfg progressStoreConfig, logger *slog.Logger) (progress.Store, error) {
	switch cfg.Driver {
	case "memory":
		return progress.NewMemoryStore(progress.MemoryStoreConfig{
			Retention: cfg.Retention,
			Logger:    logger,
		}), nil
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the progress store")
		}
		return progress.NewRedisStore(progress.RedisStoreConfig{
			Addr:       cfg.Addr,
			Addrs:      cfg.Addrs,
			Username:   cfg.Username,
			Password:   cfg.Password,
			MasterName: cfg.MasterName,
			KeyPrefix:  cfg.KeyPrefix,
			Retention:  cfg.Retention,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("unsupported progress store driver %q", cfg.Driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func validateProductionDatastore(driver, resolvedPostgresDSN, envPostgresDSN string) error {
	if driver != "postgres" {
		return fmt.Errorf("production mode requires the postgres datastore driver, got %q", driver)
	}
	if strings.TrimSpace(envPostgresDSN) == "" {
		return fmt.Errorf("production mode requires CLIPFORGE_POSTGRES_DSN to be set")
	}
	if strings.TrimSpace(resolvedPostgresDSN) == "" {
		return fmt.Errorf("postgres storage selected without DSN")
	}
	return nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("CLIPFORGE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
