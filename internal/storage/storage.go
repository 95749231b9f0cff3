package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"clipforge/internal/models"
	"clipforge/internal/timeline"
)

type dataset struct {
	Jobs          map[string]models.Job          `json:"jobs"`
	RenderExports map[string]models.RenderExport `json:"renderExports"`
	WorkerTokens  map[string]storedWorkerToken   `json:"workerTokens"`
}

// storedWorkerToken is the persisted shape of a worker credential. The API
// model hides Digest from JSON, so the store keeps its own serialization.
type storedWorkerToken struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"createdAt"`
}

func (t storedWorkerToken) model() models.WorkerToken {
	return models.WorkerToken{ID: t.ID, Name: t.Name, Digest: t.Digest, CreatedAt: t.CreatedAt}
}

func storeWorkerToken(token models.WorkerToken) storedWorkerToken {
	return storedWorkerToken{ID: token.ID, Name: token.Name, Digest: token.Digest, CreatedAt: token.CreatedAt}
}

// Storage is the JSON-file datastore. All collections live in memory behind
// a single mutex; every mutation rewrites the backing file atomically.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	clock           func() time.Time
}

// Option mutates storage configuration.
type Option func(*Storage)

// WithClock overrides the timestamp source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Storage) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func newDataset() dataset {
	return dataset{
		Jobs:          make(map[string]models.Job),
		RenderExports: make(map[string]models.RenderExport),
		WorkerTokens:  make(map[string]storedWorkerToken),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Jobs == nil {
		s.data.Jobs = make(map[string]models.Job)
	}
	if s.data.RenderExports == nil {
		s.data.RenderExports = make(map[string]models.RenderExport)
	}
	if s.data.WorkerTokens == nil {
		s.data.WorkerTokens = make(map[string]storedWorkerToken)
	}
}

// NewStorage opens (or creates) the JSON-file datastore at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persist() error {
	if s.persistOverride != nil {
		if err := s.persistOverride(s.data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// Ping reports readiness. The file store is ready as soon as it loads.
func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close flushes nothing; every mutation already persisted synchronously.
func (s *Storage) Close(ctx context.Context) error {
	return nil
}

func cloneJob(job models.Job) models.Job {
	cloned := job
	if job.Scenes != nil {
		cloned.Scenes = append([]timeline.Scene(nil), job.Scenes...)
	}
	if job.ClipURLs != nil {
		cloned.ClipURLs = append([]string(nil), job.ClipURLs...)
	}
	if job.CompletedAt != nil {
		completed := *job.CompletedAt
		cloned.CompletedAt = &completed
	}
	return cloned
}

func cloneRenderExport(export models.RenderExport) models.RenderExport {
	cloned := export
	if export.InputProps != nil {
		cloned.InputProps = append(json.RawMessage(nil), export.InputProps...)
	}
	if export.CompletedAt != nil {
		completed := *export.CompletedAt
		cloned.CompletedAt = &completed
	}
	return cloned
}

// CreateJob stores a new job in the pending state.
func (s *Storage) CreateJob(ctx context.Context, params CreateJobParams) (models.Job, error) {
	if strings.TrimSpace(params.SourceURL) == "" {
		return models.Job{}, fmt.Errorf("source url required")
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		generated, err := generateID()
		if err != nil {
			return models.Job{}, err
		}
		id = generated
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureDatasetInitializedLocked()

	if _, exists := s.data.Jobs[id]; exists {
		return models.Job{}, fmt.Errorf("job %s already exists", id)
	}

	now := s.clock()
	job := models.Job{
		ID:         id,
		Title:      strings.TrimSpace(params.Title),
		Status:     models.JobStatusPending,
		SourceURL:  strings.TrimSpace(params.SourceURL),
		FPS:        params.FPS,
		BucketName: params.BucketName,
		Region:     params.Region,
		Scenes:     append([]timeline.Scene(nil), params.Scenes...),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.data.Jobs[id] = job
	if err := s.persist(); err != nil {
		delete(s.data.Jobs, id)
		return models.Job{}, err
	}
	return cloneJob(job), nil
}

// GetJob returns a job by ID.
func (s *Storage) GetJob(ctx context.Context, id string) (models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.data.Jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return cloneJob(job), nil
}

// ListJobs returns all jobs as summaries, newest first.
func (s *Storage) ListJobs(ctx context.Context) ([]models.JobSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summaries := make([]models.JobSummary, 0, len(s.data.Jobs))
	for _, job := range s.data.Jobs {
		summaries = append(summaries, job.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID > summaries[j].ID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// UpdateJob applies a partial update to a job.
func (s *Storage) UpdateJob(ctx context.Context, id string, update JobUpdate) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.data.Jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	previous := job

	if update.Title != nil {
		job.Title = strings.TrimSpace(*update.Title)
	}
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.SourceURL != nil {
		job.SourceURL = strings.TrimSpace(*update.SourceURL)
	}
	if update.Scenes != nil {
		job.Scenes = append([]timeline.Scene(nil), update.Scenes...)
	}
	if update.ClipURLs != nil {
		job.ClipURLs = append([]string(nil), update.ClipURLs...)
	}
	if update.Error != nil {
		job.Error = *update.Error
	}
	if update.CompletedAt != nil {
		completed := update.CompletedAt.UTC()
		job.CompletedAt = &completed
	}
	job.UpdatedAt = s.clock()

	s.data.Jobs[id] = job
	if err := s.persist(); err != nil {
		s.data.Jobs[id] = previous
		return models.Job{}, err
	}
	return cloneJob(job), nil
}

// DeleteJob removes a job and its render exports.
func (s *Storage) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.data.Jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	removed := map[string]models.RenderExport{}
	for exportID, export := range s.data.RenderExports {
		if export.JobID == id {
			removed[exportID] = export
			delete(s.data.RenderExports, exportID)
		}
	}
	delete(s.data.Jobs, id)
	if err := s.persist(); err != nil {
		s.data.Jobs[id] = job
		for exportID, export := range removed {
			s.data.RenderExports[exportID] = export
		}
		return err
	}
	return nil
}

// CreateRenderExport records a render submission handle.
func (s *Storage) CreateRenderExport(ctx context.Context, params CreateRenderExportParams) (models.RenderExport, error) {
	if strings.TrimSpace(params.RenderID) == "" {
		return models.RenderExport{}, fmt.Errorf("render id required")
	}
	id, err := generateID()
	if err != nil {
		return models.RenderExport{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureDatasetInitializedLocked()

	now := s.clock()
	export := models.RenderExport{
		ID:            id,
		JobID:         params.JobID,
		CompositionID: params.CompositionID,
		ServeURL:      params.ServeURL,
		InputProps:    append(json.RawMessage(nil), params.InputProps...),
		RenderID:      params.RenderID,
		BucketName:    params.BucketName,
		FunctionName:  params.FunctionName,
		Region:        params.Region,
		Status:        models.RenderStatusProcessing,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.data.RenderExports[id] = export
	if err := s.persist(); err != nil {
		delete(s.data.RenderExports, id)
		return models.RenderExport{}, err
	}
	return cloneRenderExport(export), nil
}

// GetRenderExport returns a render export by ID.
func (s *Storage) GetRenderExport(ctx context.Context, id string) (models.RenderExport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	export, ok := s.data.RenderExports[id]
	if !ok {
		return models.RenderExport{}, fmt.Errorf("render export %s: %w", id, ErrNotFound)
	}
	return cloneRenderExport(export), nil
}

// ListRenderExports returns render exports, optionally filtered by job,
// newest first.
func (s *Storage) ListRenderExports(ctx context.Context, jobID string) ([]models.RenderExport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exports := make([]models.RenderExport, 0, len(s.data.RenderExports))
	for _, export := range s.data.RenderExports {
		if jobID != "" && export.JobID != jobID {
			continue
		}
		exports = append(exports, cloneRenderExport(export))
	}
	sort.Slice(exports, func(i, j int) bool {
		if exports[i].CreatedAt.Equal(exports[j].CreatedAt) {
			return exports[i].ID > exports[j].ID
		}
		return exports[i].CreatedAt.After(exports[j].CreatedAt)
	})
	return exports, nil
}

// UpdateRenderExport applies a partial update to a render export.
func (s *Storage) UpdateRenderExport(ctx context.Context, id string, update RenderExportUpdate) (models.RenderExport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	export, ok := s.data.RenderExports[id]
	if !ok {
		return models.RenderExport{}, fmt.Errorf("render export %s: %w", id, ErrNotFound)
	}
	previous := export

	if update.Status != nil {
		export.Status = *update.Status
	}
	if update.OutputFile != nil {
		export.OutputFile = *update.OutputFile
	}
	if update.Error != nil {
		export.Error = *update.Error
	}
	if update.CompletedAt != nil {
		completed := update.CompletedAt.UTC()
		export.CompletedAt = &completed
	}
	export.UpdatedAt = s.clock()

	s.data.RenderExports[id] = export
	if err := s.persist(); err != nil {
		s.data.RenderExports[id] = previous
		return models.RenderExport{}, err
	}
	return cloneRenderExport(export), nil
}

// CreateWorkerToken stores a hashed worker credential.
func (s *Storage) CreateWorkerToken(ctx context.Context, name, digest string) (models.WorkerToken, error) {
	if strings.TrimSpace(digest) == "" {
		return models.WorkerToken{}, fmt.Errorf("token digest required")
	}
	id, err := generateID()
	if err != nil {
		return models.WorkerToken{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureDatasetInitializedLocked()

	token := models.WorkerToken{
		ID:        id,
		Name:      strings.TrimSpace(name),
		Digest:    digest,
		CreatedAt: s.clock(),
	}
	s.data.WorkerTokens[id] = storeWorkerToken(token)
	if err := s.persist(); err != nil {
		delete(s.data.WorkerTokens, id)
		return models.WorkerToken{}, err
	}
	return token, nil
}

// ListWorkerTokens returns all stored worker credentials.
func (s *Storage) ListWorkerTokens(ctx context.Context) ([]models.WorkerToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens := make([]models.WorkerToken, 0, len(s.data.WorkerTokens))
	for _, token := range s.data.WorkerTokens {
		tokens = append(tokens, token.model())
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
	return tokens, nil
}

// DeleteWorkerToken revokes a worker credential.
func (s *Storage) DeleteWorkerToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.data.WorkerTokens[id]
	if !ok {
		return fmt.Errorf("worker token %s: %w", id, ErrNotFound)
	}
	delete(s.data.WorkerTokens, id)
	if err := s.persist(); err != nil {
		s.data.WorkerTokens[id] = token
		return err
	}
	return nil
}
