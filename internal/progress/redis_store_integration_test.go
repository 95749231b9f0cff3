package progress

import (
	"context"
	"testing"
	"time"

	"clipforge/internal/testsupport/redisstub"
)

func newIntegrationStore(t *testing.T) Store {
	t.Helper()
	srv, err := redisstub.Start(redisstub.Options{Password: "secret"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})
	store, err := NewRedisStore(RedisStoreConfig{
		Addr:      srv.Addr(),
		Password:  "secret",
		KeyPrefix: "test:progress",
		Retention: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestRedisStoreLifecycle(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	if record, err := store.Get(ctx, "job-1"); err != nil || record != nil {
		t.Fatalf("expected nil record before create, got %+v err=%v", record, err)
	}

	if err := store.Create(ctx, "job-1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	record, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get after create: %v", err)
	}
	if record == nil || record.Stage != StageInitializing {
		t.Fatalf("expected initializing record, got %+v", record)
	}

	if err := store.Update(ctx, "job-1", StageAudioExtraction, 12.5, "extracting audio", ""); err != nil {
		t.Fatalf("Update: %v", err)
	}
	record, err = store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if record.Stage != StageAudioExtraction || record.Progress != 12.5 {
		t.Fatalf("unexpected record after update: %+v", record)
	}
	if record.Message != "extracting audio" {
		t.Fatalf("unexpected message: %q", record.Message)
	}

	if err := store.Complete(ctx, "job-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	record, err = store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get after complete: %v", err)
	}
	if record.Stage != StageCompleted || record.Progress != 100 {
		t.Fatalf("unexpected terminal record: %+v", record)
	}
}

func TestRedisStoreFailKeepsErrorSentinel(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "job-2"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Fail(ctx, "job-2", "ffmpeg exited with status 1"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	record, err := store.Get(ctx, "job-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Stage != StageError {
		t.Fatalf("expected error stage, got %q", record.Stage)
	}
	if record.Progress != ErrorProgress {
		t.Fatalf("expected error sentinel, got %v", record.Progress)
	}
	if record.Error != "ffmpeg exited with status 1" {
		t.Fatalf("unexpected error message: %q", record.Error)
	}
}
