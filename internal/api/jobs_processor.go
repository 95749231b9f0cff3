package api

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"clipforge/internal/clipper"
	"clipforge/internal/models"
	"clipforge/internal/progress"
	"clipforge/internal/storage"
	"clipforge/internal/timeline"
)

type JobProcessorConfig struct {
	Store     storage.Repository
	Cutter    clipper.Client
	Progress  progress.Store
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Logger    *slog.Logger
}

// JobProcessor drains submitted jobs through the clip cutting pipeline on a
// fixed pool of workers. A job is processed at most once at a time; repeated
// enqueues of an in-flight job are dropped.
type JobProcessor struct {
	store    storage.Repository
	cutter   clipper.Client
	progress progress.Store
	workers  int
	timeout  time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue chan string
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

const (
	defaultJobWorkers   = 2
	defaultJobQueueSize = 64
	defaultJobTimeout   = 30 * time.Minute
)

func NewJobProcessor(cfg JobProcessorConfig) *JobProcessor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultJobWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultJobQueueSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobProcessor{
		store:    cfg.Store,
		cutter:   cfg.Cutter,
		progress: cfg.Progress,
		workers:  workers,
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan string, queueSize),
		inFlight: make(map[string]struct{}),
	}
}

func (p *JobProcessor) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	go p.recoverPending()
}

func (p *JobProcessor) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *JobProcessor) Enqueue(id string) {
	if p == nil || strings.TrimSpace(id) == "" {
		return
	}
	select {
	case <-p.ctx.Done():
		return
	default:
	}
	select {
	case p.queue <- id:
	case <-p.ctx.Done():
	}
}

func (p *JobProcessor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case id := <-p.queue:
			if strings.TrimSpace(id) == "" {
				continue
			}
			if !p.beginWork(id) {
				continue
			}
			p.processJob(id)
			p.finishWork(id)
		}
	}
}

func (p *JobProcessor) beginWork(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inFlight[id]; exists {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *JobProcessor) finishWork(id string) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

// recoverPending re-enqueues jobs that were interrupted by a restart.
func (p *JobProcessor) recoverPending() {
	if p.store == nil {
		return
	}
	summaries, err := p.store.ListJobs(p.ctx)
	if err != nil {
		p.logger.Error("failed to list jobs for recovery", "error", err)
		return
	}
	for _, summary := range summaries {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		if summary.Status == models.JobStatusPending || summary.Status == models.JobStatusProcessing {
			p.Enqueue(summary.ID)
		}
	}
}

func (p *JobProcessor) processJob(id string) {
	if p.store == nil || p.cutter == nil {
		return
	}
	job, err := p.store.GetJob(p.ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			p.logger.Error("failed to load job", "job_id", id, "error", err)
		}
		return
	}
	if job.Terminal() {
		return
	}

	processing := models.JobStatusProcessing
	if _, err := p.store.UpdateJob(p.ctx, id, storage.JobUpdate{
		Status: &processing,
		Error:  stringPtr(""),
	}); err != nil {
		p.logger.Error("failed to mark job processing", "job_id", id, "error", err)
		return
	}
	p.reportStage(id, progress.StageInitializing, 100, "clip cutting started")

	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	result, err := p.cutter.CutClips(ctx, clipper.CutRequest{
		VideoURL:   job.SourceURL,
		Scenes:     job.Scenes,
		JobID:      job.ID,
		FPS:        job.FPS,
		BucketName: job.BucketName,
		Region:     job.Region,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = ctxErr
			}
		}
		p.failJob(id, err)
		return
	}

	scenes := result.Scenes
	if scenes == nil {
		// Workers normally echo the enriched timeline back. When one does
		// not, recompute frames locally so invalid scenes are still dropped.
		scenes = timeline.Enrich(job.Scenes, job.FPS)
	}
	ready := models.JobStatusReady
	completedAt := time.Now().UTC()
	if _, err := p.store.UpdateJob(p.ctx, id, storage.JobUpdate{
		Status:      &ready,
		Scenes:      scenes,
		ClipURLs:    result.ClipURLs,
		CompletedAt: &completedAt,
		Error:       stringPtr(""),
	}); err != nil {
		p.logger.Error("failed to mark job ready", "job_id", id, "error", err)
		return
	}
	if p.progress != nil {
		if err := p.progress.Complete(p.ctx, id); err != nil {
			p.logger.Error("failed to record completion", "job_id", id, "error", err)
		}
	}
	p.logger.Info("job processed", "job_id", id, "clips", len(result.ClipURLs))
}

func (p *JobProcessor) failJob(id string, err error) {
	failed := models.JobStatusFailed
	message := strings.TrimSpace(err.Error())
	if _, updateErr := p.store.UpdateJob(p.ctx, id, storage.JobUpdate{
		Status: &failed,
		Error:  &message,
	}); updateErr != nil {
		p.logger.Error("failed to update failed job", "job_id", id, "error", updateErr, "failure", err)
		return
	}
	if p.progress != nil {
		if progressErr := p.progress.Fail(p.ctx, id, message); progressErr != nil {
			p.logger.Error("failed to record failure", "job_id", id, "error", progressErr)
		}
	}
	p.logger.Error("job processing failed", "job_id", id, "error", err)
}

func (p *JobProcessor) reportStage(id string, stage progress.Stage, intraStage float64, message string) {
	if p.progress == nil {
		return
	}
	overall := progress.CalculateProgress(stage, intraStage)
	if err := p.progress.Update(p.ctx, id, stage, overall, message, ""); err != nil {
		p.logger.Error("failed to record stage", "job_id", id, "stage", stage, "error", err)
	}
}

func stringPtr(s string) *string {
	return &s
}
