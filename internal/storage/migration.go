package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"clipforge/internal/models"
)

// Snapshot is a full read of a JSON datastore, used to seed Postgres.
type Snapshot struct {
	Jobs          []models.Job
	RenderExports []models.RenderExport
	WorkerTokens  []models.WorkerToken
}

// SnapshotCounts summarises a snapshot for logging and verification.
type SnapshotCounts struct {
	Jobs          int
	RenderExports int
	WorkerTokens  int
}

// Counts reports the collection sizes in the snapshot.
func (s Snapshot) Counts() SnapshotCounts {
	return SnapshotCounts{
		Jobs:          len(s.Jobs),
		RenderExports: len(s.RenderExports),
		WorkerTokens:  len(s.WorkerTokens),
	}
}

// LoadSnapshotFromJSON reads a JSON datastore file without going through a
// Storage instance, so migrations can run against a copy of the data file
// while the service stays up.
func LoadSnapshotFromJSON(path string) (Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	var data dataset
	if err := json.NewDecoder(file).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		return Snapshot{}, fmt.Errorf("decode store file: %w", err)
	}

	snapshot := Snapshot{
		Jobs:          make([]models.Job, 0, len(data.Jobs)),
		RenderExports: make([]models.RenderExport, 0, len(data.RenderExports)),
		WorkerTokens:  make([]models.WorkerToken, 0, len(data.WorkerTokens)),
	}
	for _, job := range data.Jobs {
		snapshot.Jobs = append(snapshot.Jobs, job)
	}
	for _, export := range data.RenderExports {
		snapshot.RenderExports = append(snapshot.RenderExports, export)
	}
	for _, token := range data.WorkerTokens {
		snapshot.WorkerTokens = append(snapshot.WorkerTokens, token.model())
	}
	sort.Slice(snapshot.Jobs, func(i, j int) bool { return snapshot.Jobs[i].ID < snapshot.Jobs[j].ID })
	sort.Slice(snapshot.RenderExports, func(i, j int) bool { return snapshot.RenderExports[i].ID < snapshot.RenderExports[j].ID })
	sort.Slice(snapshot.WorkerTokens, func(i, j int) bool { return snapshot.WorkerTokens[i].ID < snapshot.WorkerTokens[j].ID })
	return snapshot, nil
}

// ImportSnapshotToPostgres writes a snapshot into a Postgres repository,
// preserving identifiers and timestamps. Existing rows with matching IDs are
// overwritten so the migration can be re-run.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot Snapshot) error {
	pg, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("repository is not postgres-backed")
	}

	tx, err := pg.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, job := range snapshot.Jobs {
		scenes, err := marshalScenes(job.Scenes)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.ID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO jobs (id, title, status, source_url, fps, bucket_name, region, scenes, clip_urls, error, created_at, updated_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title, status = EXCLUDED.status,
				source_url = EXCLUDED.source_url, fps = EXCLUDED.fps,
				bucket_name = EXCLUDED.bucket_name, region = EXCLUDED.region,
				scenes = EXCLUDED.scenes, clip_urls = EXCLUDED.clip_urls,
				error = EXCLUDED.error, created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at, completed_at = EXCLUDED.completed_at`,
			job.ID, job.Title, job.Status, job.SourceURL, job.FPS,
			job.BucketName, job.Region, scenes, job.ClipURLs, job.Error,
			job.CreatedAt, job.UpdatedAt, job.CompletedAt)
		if err != nil {
			return fmt.Errorf("import job %s: %w", job.ID, err)
		}
	}

	for _, export := range snapshot.RenderExports {
		_, err = tx.Exec(ctx, `
			INSERT INTO render_exports (id, job_id, composition_id, serve_url, input_props, render_id, bucket_name, function_name, region, status, output_file, error, created_at, updated_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (id) DO UPDATE SET
				job_id = EXCLUDED.job_id, composition_id = EXCLUDED.composition_id,
				serve_url = EXCLUDED.serve_url, input_props = EXCLUDED.input_props,
				render_id = EXCLUDED.render_id, bucket_name = EXCLUDED.bucket_name,
				function_name = EXCLUDED.function_name, region = EXCLUDED.region,
				status = EXCLUDED.status, output_file = EXCLUDED.output_file,
				error = EXCLUDED.error, created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at, completed_at = EXCLUDED.completed_at`,
			export.ID, export.JobID, export.CompositionID, export.ServeURL,
			export.InputProps, export.RenderID, export.BucketName,
			export.FunctionName, export.Region, export.Status, export.OutputFile,
			export.Error, export.CreatedAt, export.UpdatedAt, export.CompletedAt)
		if err != nil {
			return fmt.Errorf("import render export %s: %w", export.ID, err)
		}
	}

	for _, token := range snapshot.WorkerTokens {
		_, err = tx.Exec(ctx, `
			INSERT INTO worker_tokens (id, name, digest, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, digest = EXCLUDED.digest,
				created_at = EXCLUDED.created_at`,
			token.ID, token.Name, token.Digest, token.CreatedAt)
		if err != nil {
			return fmt.Errorf("import worker token %s: %w", token.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}
