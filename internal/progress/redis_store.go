package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStoreConfig configures the Redis-backed progress store used when
// several API replicas must observe the same job state.
type RedisStoreConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	MasterName   string
	KeyPrefix    string
	Retention    time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	Logger       *slog.Logger
}

type redisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	retention time.Duration
	logger    *slog.Logger
}

// NewRedisStore initialises a Store backed by Redis. The caller is responsible
// for ensuring the Redis instance is reachable.
func NewRedisStore(cfg RedisStoreConfig) (Store, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "clipforge:progress"
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
		// RESP2 without client identification keeps the handshake down to
		// AUTH and SELECT, which minimal Redis deployments accept.
		Protocol:         2,
		DisableIndentity: true,
	})
	return &redisStore{
		client:    client,
		keyPrefix: prefix,
		retention: retention,
		logger:    logger,
	}, nil
}

func (s *redisStore) key(jobID string) string {
	return s.keyPrefix + ":" + jobID
}

func (s *redisStore) Create(ctx context.Context, jobID string) error {
	return s.put(ctx, Record{
		JobID:     jobID,
		Stage:     StageInitializing,
		Progress:  0,
		Message:   "initializing",
		Timestamp: time.Now().UTC(),
	})
}

func (s *redisStore) Update(ctx context.Context, jobID string, stage Stage, pct float64, message, errMsg string) error {
	return s.put(ctx, Record{
		JobID:     jobID,
		Stage:     stage,
		Progress:  clampPercent(pct),
		Message:   message,
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	})
}

func (s *redisStore) Complete(ctx context.Context, jobID string) error {
	return s.put(ctx, Record{
		JobID:     jobID,
		Stage:     StageCompleted,
		Progress:  100,
		Message:   "completed",
		Timestamp: time.Now().UTC(),
	})
}

func (s *redisStore) Fail(ctx context.Context, jobID string, errMsg string) error {
	return s.put(ctx, Record{
		JobID:     jobID,
		Stage:     StageError,
		Progress:  ErrorProgress,
		Message:   "failed",
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	})
}

func (s *redisStore) Get(ctx context.Context, jobID string) (*Record, error) {
	payload, err := s.client.Get(ctx, s.key(jobID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress %s: %w", jobID, err)
	}
	var record Record
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("decode progress %s: %w", jobID, err)
	}
	return &record, nil
}

func (s *redisStore) Delete(ctx context.Context, jobID string) error {
	if err := s.client.Expire(ctx, s.key(jobID), s.retention).Err(); err != nil {
		return fmt.Errorf("schedule progress removal %s: %w", jobID, err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) put(ctx context.Context, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal progress %s: %w", record.JobID, err)
	}
	// Terminal records carry the retention TTL so Redis garbage-collects them
	// without a janitor.
	var ttl time.Duration
	if record.Stage.Terminal() {
		ttl = s.retention
	}
	if err := s.client.Set(ctx, s.key(record.JobID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("write progress %s: %w", record.JobID, err)
	}
	return nil
}
