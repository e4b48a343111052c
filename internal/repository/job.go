package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/udayam-ai/extraction-gateway/constants"
	"github.com/udayam-ai/extraction-gateway/internal/entity"
)

// timeLayout is RFC3339 with a fixed-width fraction so that stored
// TEXT timestamps sort lexicographically in creation order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// JobRepository is the durable record store for extraction jobs.
type JobRepository interface {
	Create(ctx context.Context, job entity.ExtractionJob) error
	UpdateStatus(ctx context.Context, id string, status constants.JobStatus, result *entity.ExtractionResult, errMsg string) error
	GetByID(ctx context.Context, id string) (entity.ExtractionJob, bool, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]entity.ExtractionJob, error)
	CountByStatus(ctx context.Context, status constants.JobStatus) (int, error)
	Count(ctx context.Context) (int, error)
}

type jobRepo struct {
	db         *sql.DB
	bindDollar bool
	log        *slog.Logger
}

// NewJobRepository creates a SQL-backed JobRepository and ensures the
// table exists. bindDollar selects $N placeholders (postgres) over ?.
func NewJobRepository(ctx context.Context, db *sql.DB, dsn string, logger *slog.Logger) (JobRepository, error) {
	r := &jobRepo{
		db:         db,
		bindDollar: strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"),
		log:        logger,
	}
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *jobRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS extraction_jobs (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL DEFAULT '',
			file_name     TEXT NOT NULL DEFAULT '',
			file_url      TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			result_json   TEXT,
			error_message TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		)`)
	if err != nil {
		r.log.Error("extraction_jobs schema bootstrap failed", "err", err)
		return err
	}
	return nil
}

// rebind rewrites ? placeholders to $N for the postgres driver.
func (r *jobRepo) rebind(query string) string {
	if !r.bindDollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *jobRepo) Create(ctx context.Context, job entity.ExtractionJob) error {
	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO extraction_jobs
			(id, user_id, file_name, file_url, status, result_json, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID, job.UserID, job.FileName, job.FileURL, string(job.Status),
		resultJSON, job.Error,
		job.CreatedAt.UTC().Format(timeLayout),
		job.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		r.log.Error("extraction_job create failed", "job_id", job.ID, "err", err)
		return err
	}
	r.log.Info("extraction_job created", "job_id", job.ID, "file_name", job.FileName, "status", job.Status)
	return nil
}

func (r *jobRepo) UpdateStatus(ctx context.Context, id string, status constants.JobStatus, result *entity.ExtractionResult, errMsg string) error {
	resultJSON, err := marshalResult(result)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE extraction_jobs
		SET status = ?, result_json = ?, error_message = ?, updated_at = ?
		WHERE id = ?`),
		string(status), resultJSON, errMsg,
		time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		r.log.Error("extraction_job update failed", "job_id", id, "status", status, "err", err)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	r.log.Info("extraction_job updated", "job_id", id, "status", status)
	return nil
}

func (r *jobRepo) GetByID(ctx context.Context, id string) (entity.ExtractionJob, bool, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT id, user_id, file_name, file_url, status, result_json, error_message, created_at, updated_at
		FROM extraction_jobs WHERE id = ?`), id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return entity.ExtractionJob{}, false, nil
	}
	if err != nil {
		r.log.Error("extraction_job lookup failed", "job_id", id, "err", err)
		return entity.ExtractionJob{}, false, err
	}
	return job, true, nil
}

func (r *jobRepo) ListRecent(ctx context.Context, userID string, limit int) ([]entity.ExtractionJob, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT id, user_id, file_name, file_url, status, result_json, error_message, created_at, updated_at
		FROM extraction_jobs`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		r.log.Error("extraction_job list failed", "err", err)
		return nil, err
	}
	defer rows.Close()

	var out []entity.ExtractionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *jobRepo) CountByStatus(ctx context.Context, status constants.JobStatus) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(
		`SELECT COUNT(*) FROM extraction_jobs WHERE status = ?`), string(status)).Scan(&n)
	return n, err
}

func (r *jobRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM extraction_jobs`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (entity.ExtractionJob, error) {
	var (
		job        entity.ExtractionJob
		status     string
		resultJSON sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&job.ID, &job.UserID, &job.FileName, &job.FileURL, &status,
		&resultJSON, &job.Error, &createdAt, &updatedAt)
	if err != nil {
		return entity.ExtractionJob{}, err
	}
	job.Status = constants.JobStatus(status)
	if resultJSON.Valid && resultJSON.String != "" {
		var res entity.ExtractionResult
		if err := json.Unmarshal([]byte(resultJSON.String), &res); err != nil {
			return entity.ExtractionJob{}, fmt.Errorf("decode stored result: %w", err)
		}
		job.Result = &res
	}
	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(timeLayout, updatedAt); err == nil {
		job.UpdatedAt = t
	}
	return job, nil
}

func marshalResult(result *entity.ExtractionResult) (sql.NullString, error) {
	if result == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode result: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
