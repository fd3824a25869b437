// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"claims_server/core/domain"
	"claims_server/core/port/out"
)

// =============================================================================
// Job Adapter (PostgreSQL)
// =============================================================================

// JobAdapter implements out.JobRepository using PostgreSQL.
type JobAdapter struct {
	db *sqlx.DB
}

// NewJobAdapter creates a new JobAdapter.
func NewJobAdapter(db *sqlx.DB) *JobAdapter {
	return &JobAdapter{db: db}
}

// =============================================================================
// Database Row Mapping
// =============================================================================

const jobSelectColumns = `
	j.id, j.content_hash, j.message_id, j.state, j.fused_result,
	j.retry_count, j.review_flag, j.submission_ref, j.terminal_reason,
	j.last_error, j.created_at, j.updated_at`

// jobRow represents the database row for claim jobs. The fused result is
// stored as JSONB and deserialized lazily.
type jobRow struct {
	ID             uuid.UUID      `db:"id"`
	ContentHash    string         `db:"content_hash"`
	MessageID      string         `db:"message_id"`
	State          string         `db:"state"`
	FusedResult    []byte         `db:"fused_result"`
	RetryCount     int            `db:"retry_count"`
	ReviewFlag     bool           `db:"review_flag"`
	SubmissionRef  sql.NullString `db:"submission_ref"`
	TerminalReason sql.NullString `db:"terminal_reason"`
	LastError      sql.NullString `db:"last_error"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r *jobRow) toEntity() (*domain.Job, error) {
	j := &domain.Job{
		ID:          r.ID,
		ContentHash: r.ContentHash,
		MessageID:   r.MessageID,
		State:       domain.JobState(r.State),
		RetryCount:  r.RetryCount,
		ReviewFlag:  r.ReviewFlag,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}

	if r.SubmissionRef.Valid {
		j.SubmissionRef = r.SubmissionRef.String
	}
	if r.TerminalReason.Valid {
		j.TerminalReason = r.TerminalReason.String
	}
	if r.LastError.Valid {
		j.LastError = r.LastError.String
	}
	if len(r.FusedResult) > 0 {
		var fused domain.FusedResult
		if err := json.Unmarshal(r.FusedResult, &fused); err != nil {
			return nil, fmt.Errorf("decode fused_result for job %s: %w", r.ID, err)
		}
		j.FusedResult = &fused
	}
	return j, nil
}

func fusedJSON(j *domain.Job) (any, error) {
	if j.FusedResult == nil {
		return nil, nil
	}
	b, err := json.Marshal(j.FusedResult)
	if err != nil {
		return nil, fmt.Errorf("encode fused_result: %w", err)
	}
	return b, nil
}

// =============================================================================
// CRUD Operations
// =============================================================================

// Create inserts a new job.
func (a *JobAdapter) Create(ctx context.Context, j *domain.Job) error {
	fused, err := fusedJSON(j)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO claim_jobs (
			id, content_hash, message_id, state, fused_result,
			retry_count, review_flag, submission_ref, terminal_reason, last_error,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = a.db.ExecContext(ctx, query,
		j.ID, j.ContentHash, j.MessageID, string(j.State), fused,
		j.RetryCount, j.ReviewFlag, nullStr(j.SubmissionRef), nullStr(j.TerminalReason), nullStr(j.LastError),
		j.CreatedAt, j.UpdatedAt,
	)
	return err
}

// Update persists the job's mutable fields.
func (a *JobAdapter) Update(ctx context.Context, j *domain.Job) error {
	fused, err := fusedJSON(j)
	if err != nil {
		return err
	}

	query := `
		UPDATE claim_jobs SET
			state = $1, fused_result = $2, retry_count = $3, review_flag = $4,
			submission_ref = $5, terminal_reason = $6, last_error = $7,
			updated_at = $8
		WHERE id = $9`

	result, err := a.db.ExecContext(ctx, query,
		string(j.State), fused, j.RetryCount, j.ReviewFlag,
		nullStr(j.SubmissionRef), nullStr(j.TerminalReason), nullStr(j.LastError),
		j.UpdatedAt, j.ID,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID gets a job by its id.
func (a *JobAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM claim_jobs j WHERE j.id = $1`, jobSelectColumns)

	var row jobRow
	if err := a.db.QueryRowxContext(ctx, query, id).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toEntity()
}

// GetByContentHash gets the job registered for a content hash.
func (a *JobAdapter) GetByContentHash(ctx context.Context, hash string) (*domain.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM claim_jobs j
		WHERE j.content_hash = $1
		ORDER BY j.created_at DESC
		LIMIT 1`, jobSelectColumns)

	var row jobRow
	if err := a.db.QueryRowxContext(ctx, query, hash).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toEntity()
}

// List returns jobs newest first, optionally filtered by state.
func (a *JobAdapter) List(ctx context.Context, filter out.JobFilter) ([]*domain.Job, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var rows []jobRow
	var err error
	if filter.State != "" {
		query := fmt.Sprintf(`
			SELECT %s FROM claim_jobs j
			WHERE j.state = $1
			ORDER BY j.created_at DESC
			LIMIT $2 OFFSET $3`, jobSelectColumns)
		err = a.db.SelectContext(ctx, &rows, query, string(filter.State), limit, filter.Offset)
	} else {
		query := fmt.Sprintf(`
			SELECT %s FROM claim_jobs j
			ORDER BY j.created_at DESC
			LIMIT $1 OFFSET $2`, jobSelectColumns)
		err = a.db.SelectContext(ctx, &rows, query, limit, filter.Offset)
	}
	if err != nil {
		return nil, err
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountByState returns per-state job totals.
func (a *JobAdapter) CountByState(ctx context.Context) (map[domain.JobState]int64, error) {
	rows, err := a.db.QueryxContext(ctx, `SELECT state, COUNT(*) FROM claim_jobs GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.JobState]int64)
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		counts[domain.JobState(state)] = count
	}
	return counts, rows.Err()
}
