package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clipforge/internal/models"
	"clipforge/internal/timeline"
)

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	ApplicationName     string
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	source_url TEXT NOT NULL,
	fps DOUBLE PRECISION NOT NULL DEFAULT 0,
	bucket_name TEXT NOT NULL DEFAULT '',
	region TEXT NOT NULL DEFAULT '',
	scenes JSONB,
	clip_urls TEXT[],
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS render_exports (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL DEFAULT '',
	composition_id TEXT NOT NULL DEFAULT '',
	serve_url TEXT NOT NULL DEFAULT '',
	input_props JSONB,
	render_id TEXT NOT NULL,
	bucket_name TEXT NOT NULL DEFAULT '',
	function_name TEXT NOT NULL DEFAULT '',
	region TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	output_file TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS render_exports_job_id_idx ON render_exports (job_id);
CREATE TABLE IF NOT EXISTS worker_tokens (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	digest TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema, which is idempotent.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &postgresRepository{pool: pool}, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

const jobColumns = "id, title, status, source_url, fps, bucket_name, region, scenes, clip_urls, error, created_at, updated_at, completed_at"

func scanJob(row pgx.Row) (models.Job, error) {
	var (
		job       models.Job
		scenes    []byte
		completed *time.Time
	)
	err := row.Scan(&job.ID, &job.Title, &job.Status, &job.SourceURL, &job.FPS,
		&job.BucketName, &job.Region, &scenes, &job.ClipURLs, &job.Error,
		&job.CreatedAt, &job.UpdatedAt, &completed)
	if err != nil {
		return models.Job{}, err
	}
	if len(scenes) > 0 {
		if err := json.Unmarshal(scenes, &job.Scenes); err != nil {
			return models.Job{}, fmt.Errorf("decode scenes for job %s: %w", job.ID, err)
		}
	}
	job.CompletedAt = completed
	return job, nil
}

func marshalScenes(scenes []timeline.Scene) ([]byte, error) {
	if scenes == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(scenes)
	if err != nil {
		return nil, fmt.Errorf("encode scenes: %w", err)
	}
	return encoded, nil
}

func (r *postgresRepository) CreateJob(ctx context.Context, params CreateJobParams) (models.Job, error) {
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
	scenes, err := marshalScenes(params.Scenes)
	if err != nil {
		return models.Job{}, err
	}
	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO jobs (id, title, status, source_url, fps, bucket_name, region, scenes, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', $9, $9)`,
		id, strings.TrimSpace(params.Title), models.JobStatusPending,
		strings.TrimSpace(params.SourceURL), params.FPS, params.BucketName,
		params.Region, scenes, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return r.GetJob(ctx, id)
}

func (r *postgresRepository) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = $1", id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (r *postgresRepository) ListJobs(ctx context.Context) ([]models.JobSummary, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	summaries := make([]models.JobSummary, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		summaries = append(summaries, job.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return summaries, nil
}

func (r *postgresRepository) UpdateJob(ctx context.Context, id string, update JobUpdate) (models.Job, error) {
	assignments := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}
	addAssignment := func(column string, value any) {
		args = append(args, value)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Title != nil {
		addAssignment("title", strings.TrimSpace(*update.Title))
	}
	if update.Status != nil {
		addAssignment("status", *update.Status)
	}
	if update.SourceURL != nil {
		addAssignment("source_url", strings.TrimSpace(*update.SourceURL))
	}
	if update.Scenes != nil {
		scenes, err := marshalScenes(update.Scenes)
		if err != nil {
			return models.Job{}, err
		}
		addAssignment("scenes", scenes)
	}
	if update.ClipURLs != nil {
		addAssignment("clip_urls", update.ClipURLs)
	}
	if update.Error != nil {
		addAssignment("error", *update.Error)
	}
	if update.CompletedAt != nil {
		addAssignment("completed_at", update.CompletedAt.UTC())
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $%d", strings.Join(assignments, ", "), len(args))
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return models.Job{}, fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return r.GetJob(ctx, id)
}

func (r *postgresRepository) DeleteJob(ctx context.Context, id string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, "DELETE FROM render_exports WHERE job_id = $1", id); err != nil {
		return fmt.Errorf("delete render exports: %w", err)
	}
	tag, err := tx.Exec(ctx, "DELETE FROM jobs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

const renderExportColumns = "id, job_id, composition_id, serve_url, input_props, render_id, bucket_name, function_name, region, status, output_file, error, created_at, updated_at, completed_at"

func scanRenderExport(row pgx.Row) (models.RenderExport, error) {
	var (
		export     models.RenderExport
		inputProps []byte
		completed  *time.Time
	)
	err := row.Scan(&export.ID, &export.JobID, &export.CompositionID, &export.ServeURL,
		&inputProps, &export.RenderID, &export.BucketName, &export.FunctionName,
		&export.Region, &export.Status, &export.OutputFile, &export.Error,
		&export.CreatedAt, &export.UpdatedAt, &completed)
	if err != nil {
		return models.RenderExport{}, err
	}
	if len(inputProps) > 0 {
		export.InputProps = json.RawMessage(inputProps)
	}
	export.CompletedAt = completed
	return export, nil
}

func (r *postgresRepository) CreateRenderExport(ctx context.Context, params CreateRenderExportParams) (models.RenderExport, error) {
	if strings.TrimSpace(params.RenderID) == "" {
		return models.RenderExport{}, fmt.Errorf("render id required")
	}
	id, err := generateID()
	if err != nil {
		return models.RenderExport{}, err
	}
	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO render_exports (id, job_id, composition_id, serve_url, input_props, render_id, bucket_name, function_name, region, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		id, params.JobID, params.CompositionID, params.ServeURL, []byte(params.InputProps),
		params.RenderID, params.BucketName, params.FunctionName, params.Region,
		models.RenderStatusProcessing, now)
	if err != nil {
		return models.RenderExport{}, fmt.Errorf("insert render export: %w", err)
	}
	return r.GetRenderExport(ctx, id)
}

func (r *postgresRepository) GetRenderExport(ctx context.Context, id string) (models.RenderExport, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+renderExportColumns+" FROM render_exports WHERE id = $1", id)
	export, err := scanRenderExport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RenderExport{}, fmt.Errorf("render export %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.RenderExport{}, fmt.Errorf("query render export: %w", err)
	}
	return export, nil
}

func (r *postgresRepository) ListRenderExports(ctx context.Context, jobID string) ([]models.RenderExport, error) {
	query := "SELECT " + renderExportColumns + " FROM render_exports"
	args := []any{}
	if jobID != "" {
		query += " WHERE job_id = $1"
		args = append(args, jobID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query render exports: %w", err)
	}
	defer rows.Close()

	exports := make([]models.RenderExport, 0)
	for rows.Next() {
		export, err := scanRenderExport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan render export: %w", err)
		}
		exports = append(exports, export)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate render exports: %w", err)
	}
	return exports, nil
}

func (r *postgresRepository) UpdateRenderExport(ctx context.Context, id string, update RenderExportUpdate) (models.RenderExport, error) {
	assignments := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}
	addAssignment := func(column string, value any) {
		args = append(args, value)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Status != nil {
		addAssignment("status", *update.Status)
	}
	if update.OutputFile != nil {
		addAssignment("output_file", *update.OutputFile)
	}
	if update.Error != nil {
		addAssignment("error", *update.Error)
	}
	if update.CompletedAt != nil {
		addAssignment("completed_at", update.CompletedAt.UTC())
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE render_exports SET %s WHERE id = $%d", strings.Join(assignments, ", "), len(args))
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return models.RenderExport{}, fmt.Errorf("update render export: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.RenderExport{}, fmt.Errorf("render export %s: %w", id, ErrNotFound)
	}
	return r.GetRenderExport(ctx, id)
}

func (r *postgresRepository) CreateWorkerToken(ctx context.Context, name, digest string) (models.WorkerToken, error) {
	if strings.TrimSpace(digest) == "" {
		return models.WorkerToken{}, fmt.Errorf("token digest required")
	}
	id, err := generateID()
	if err != nil {
		return models.WorkerToken{}, err
	}
	token := models.WorkerToken{
		ID:        id,
		Name:      strings.TrimSpace(name),
		Digest:    digest,
		CreatedAt: time.Now().UTC(),
	}
	_, err = r.pool.Exec(ctx,
		"INSERT INTO worker_tokens (id, name, digest, created_at) VALUES ($1, $2, $3, $4)",
		token.ID, token.Name, token.Digest, token.CreatedAt)
	if err != nil {
		return models.WorkerToken{}, fmt.Errorf("insert worker token: %w", err)
	}
	return token, nil
}

func (r *postgresRepository) ListWorkerTokens(ctx context.Context) ([]models.WorkerToken, error) {
	rows, err := r.pool.Query(ctx, "SELECT id, name, digest, created_at FROM worker_tokens ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("query worker tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]models.WorkerToken, 0)
	for rows.Next() {
		var token models.WorkerToken
		if err := rows.Scan(&token.ID, &token.Name, &token.Digest, &token.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan worker token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate worker tokens: %w", err)
	}
	return tokens, nil
}

func (r *postgresRepository) DeleteWorkerToken(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM worker_tokens WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete worker token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("worker token %s: %w", id, ErrNotFound)
	}
	return nil
}

var _ Repository = (*postgresRepository)(nil)
