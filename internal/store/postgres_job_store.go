package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/assetflow/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS asset_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	source_kind TEXT NOT NULL,
	source_value TEXT NOT NULL,
	options JSONB NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	output JSONB,
	usage JSONB NOT NULL DEFAULT '{}',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const selectJobSQL = `SELECT id, status, source_kind, source_value, options, webhook_url, output, usage, error, created_at, updated_at
FROM asset_jobs
WHERE id = $1`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure asset_jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal job options: %w", err)
	}
	outputJSON, err := marshalOutput(job.Output)
	if err != nil {
		return err
	}
	usageJSON, err := json.Marshal(job.Usage)
	if err != nil {
		return fmt.Errorf("marshal job usage: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO asset_jobs (id, status, source_kind, source_value, options, webhook_url, output, usage, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID,
		job.Status,
		job.Source.Kind,
		job.Source.Value,
		string(optionsJSON),
		job.WebhookURL,
		outputJSON,
		string(usageJSON),
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, selectJobSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, err
	}
	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE asset_jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) Complete(ctx context.Context, id string, result domain.Result) (domain.Job, error) {
	outputJSON, err := marshalOutput(result.Output)
	if err != nil {
		return domain.Job{}, err
	}
	usageJSON, err := json.Marshal(result.Usage)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal job usage: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE asset_jobs
		 SET status = $1, output = $2, usage = $3, error = $4, updated_at = $5
		 WHERE id = $6`,
		result.Status,
		outputJSON,
		string(usageJSON),
		result.Error,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("complete job: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) reload(ctx context.Context, id string, res sql.Result) (domain.Job, error) {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		job         domain.Job
		optionsJSON []byte
		outputJSON  []byte
		usageJSON   []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.Source.Kind,
		&job.Source.Value,
		&optionsJSON,
		&job.WebhookURL,
		&outputJSON,
		&usageJSON,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, err
		}
		return domain.Job{}, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(optionsJSON, &job.Options); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal job options: %w", err)
	}
	if len(outputJSON) > 0 {
		var out domain.Output
		if err := json.Unmarshal(outputJSON, &out); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal job output: %w", err)
		}
		job.Output = &out
	}
	if len(usageJSON) > 0 {
		if err := json.Unmarshal(usageJSON, &job.Usage); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal job usage: %w", err)
		}
	}
	return job, nil
}

// marshalOutput returns a nil driver value for a missing output so the
// column stays NULL.
func marshalOutput(out *domain.Output) (any, error) {
	if out == nil {
		return nil, nil
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal job output: %w", err)
	}
	return string(b), nil
}
