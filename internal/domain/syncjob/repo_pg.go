package syncjob

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const jobCols = `id, organization_id, connection_id, job_type, resource_types, filters,
	batch_size, status, retry_count, max_retries, next_retry_at,
	total_resources, processed_resources, successful_resources, failed_resources,
	errors, result, created_at, started_at, completed_at, updated_at`

func (r *repoPG) Create(ctx context.Context, j *Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = DefaultMaxRetries
	}
	filters, err := json.Marshal(j.Filters)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO sync_jobs (
			id, organization_id, connection_id, job_type, resource_types, filters,
			batch_size, status, retry_count, max_retries
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		j.ID, j.OrganizationID, j.ConnectionID, j.Type, j.ResourceTypes, filters,
		j.BatchSize, j.Status, j.RetryCount, j.MaxRetries,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobCols+` FROM sync_jobs WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, j *Job) error {
	filters, err := json.Marshal(j.Filters)
	if err != nil {
		return err
	}
	errList, err := json.Marshal(j.Errors)
	if err != nil {
		return err
	}
	var result []byte
	if j.Result != nil {
		if result, err = json.Marshal(j.Result); err != nil {
			return err
		}
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE sync_jobs SET
			resource_types=$2, filters=$3, batch_size=$4, status=$5,
			retry_count=$6, max_retries=$7, next_retry_at=$8,
			total_resources=$9, processed_resources=$10,
			successful_resources=$11, failed_resources=$12,
			errors=$13, result=$14, started_at=$15, completed_at=$16, updated_at=NOW()
		WHERE id = $1`,
		j.ID, j.ResourceTypes, filters, j.BatchSize, j.Status,
		j.RetryCount, j.MaxRetries, j.NextRetryAt,
		j.TotalResources, j.ProcessedResources,
		j.SuccessfulResources, j.FailedResources,
		errList, result, j.StartedAt, j.CompletedAt,
	)
	return err
}

func (r *repoPG) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sync_jobs SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing job from a lost claim.
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sync_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

func (r *repoPG) ListDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobCols+` FROM sync_jobs
		WHERE status = 'pending'
		   OR (status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $1)
		ORDER BY created_at
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *repoPG) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*Job, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobCols+` FROM sync_jobs WHERE organization_id = $1 ORDER BY created_at DESC`,
		orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *repoPG) UpdateProgress(ctx context.Context, j *Job) error {
	errList, err := json.Marshal(j.Errors)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE sync_jobs SET
			total_resources=$2, processed_resources=$3,
			successful_resources=$4, failed_resources=$5,
			errors=$6, updated_at=NOW()
		WHERE id = $1`,
		j.ID, j.TotalResources, j.ProcessedResources,
		j.SuccessfulResources, j.FailedResources, errList,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	j := &Job{}
	var filters, errList, result []byte
	err := row.Scan(
		&j.ID, &j.OrganizationID, &j.ConnectionID, &j.Type, &j.ResourceTypes, &filters,
		&j.BatchSize, &j.Status, &j.RetryCount, &j.MaxRetries, &j.NextRetryAt,
		&j.TotalResources, &j.ProcessedResources, &j.SuccessfulResources, &j.FailedResources,
		&errList, &result, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &j.Filters); err != nil {
			return nil, err
		}
	}
	if len(errList) > 0 {
		if err := json.Unmarshal(errList, &j.Errors); err != nil {
			return nil, err
		}
	}
	if len(result) > 0 {
		j.Result = &Result{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func collectJobs(rows pgx.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
