// Package progress tracks the state of long-running jobs and streams it to
// clients. A job's own execution steps write through a Store while any number
// of channels poll the same store and forward updates over SSE.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRetention is how long a record survives after reaching a terminal
// stage, so a client reconnecting shortly after completion can still read the
// final state.
const DefaultRetention = time.Hour

// Record is the latest known state for one job. No history is retained; every
// write overwrites the previous record.
type Record struct {
	JobID     string    `json:"jobId"`
	Stage     Stage     `json:"stage"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Store is the shared progress state for the process. Implementations must be
// safe for concurrent use: the job runner writes while streaming channels
// read. Get returns (nil, nil) for a job that was never created or has been
// cleaned up; callers must not treat that as an error.
type Store interface {
	Create(ctx context.Context, jobID string) error
	Update(ctx context.Context, jobID string, stage Stage, pct float64, message, errMsg string) error
	Get(ctx context.Context, jobID string) (*Record, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, errMsg string) error
	Delete(ctx context.Context, jobID string) error
	Close() error
}

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

// MemoryStoreConfig configures the in-memory store.
type MemoryStoreConfig struct {
	Retention     time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
	Clock         func() time.Time
}

type memoryStore struct {
	retention time.Duration
	logger    *slog.Logger
	clock     func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryStore builds the default single-process store. A janitor goroutine
// sweeps expired terminal records; callers must Close the store to stop it.
func NewMemoryStore(cfg MemoryStoreConfig) Store {
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	s := &memoryStore{
		retention: retention,
		logger:    logger,
		clock:     clock,
		entries:   make(map[string]memoryEntry),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.janitor(sweep)
	return s
}

func (s *memoryStore) Create(ctx context.Context, jobID string) error {
	s.put(Record{
		JobID:     jobID,
		Stage:     StageInitializing,
		Progress:  0,
		Message:   "initializing",
		Timestamp: s.clock(),
	})
	return nil
}

func (s *memoryStore) Update(ctx context.Context, jobID string, stage Stage, pct float64, message, errMsg string) error {
	s.put(Record{
		JobID:     jobID,
		Stage:     stage,
		Progress:  clampPercent(pct),
		Message:   message,
		Timestamp: s.clock(),
		Error:     errMsg,
	})
	return nil
}

func (s *memoryStore) Complete(ctx context.Context, jobID string) error {
	s.put(Record{
		JobID:     jobID,
		Stage:     StageCompleted,
		Progress:  100,
		Message:   "completed",
		Timestamp: s.clock(),
	})
	return nil
}

func (s *memoryStore) Fail(ctx context.Context, jobID string, errMsg string) error {
	s.put(Record{
		JobID:     jobID,
		Stage:     StageError,
		Progress:  ErrorProgress,
		Message:   "failed",
		Timestamp: s.clock(),
		Error:     errMsg,
	})
	return nil
}

func (s *memoryStore) Get(ctx context.Context, jobID string) (*Record, error) {
	s.mu.RLock()
	entry, ok := s.entries[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	record := entry.record
	return &record, nil
}

// Delete schedules removal after the retention period rather than removing the
// record immediately, so late readers still observe the final state.
func (s *memoryStore) Delete(ctx context.Context, jobID string) error {
	deadline := s.clock().Add(s.retention)
	s.mu.Lock()
	if entry, ok := s.entries[jobID]; ok {
		entry.expiresAt = deadline
		s.entries[jobID] = entry
	}
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
	return nil
}

func (s *memoryStore) put(record Record) {
	entry := memoryEntry{record: record}
	if record.Stage.Terminal() {
		entry.expiresAt = s.clock().Add(s.retention)
	}
	s.mu.Lock()
	s.entries[record.JobID] = entry
	s.mu.Unlock()
}

func (s *memoryStore) janitor(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *memoryStore) sweep() {
	now := s.clock()
	var removed int
	s.mu.Lock()
	for jobID, entry := range s.entries {
		if !entry.expiresAt.IsZero() && entry.expiresAt.Before(now) {
			delete(s.entries, jobID)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		s.logger.Debug("progress records swept", "removed", removed)
	}
}
