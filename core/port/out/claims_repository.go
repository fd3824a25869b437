// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"

	"claims_server/core/domain"

	"github.com/google/uuid"
)

// =============================================================================
// Job Repository Port
// =============================================================================

// JobFilter narrows job listings for the admin surface.
type JobFilter struct {
	State  domain.JobState
	Limit  int
	Offset int
}

// JobRepository persists claim jobs. Implemented by the PostgreSQL adapter.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	GetByContentHash(ctx context.Context, hash string) (*domain.Job, error)
	Update(ctx context.Context, job *domain.Job) error
	List(ctx context.Context, filter JobFilter) ([]*domain.Job, error)
	CountByState(ctx context.Context) (map[domain.JobState]int64, error)
}

// =============================================================================
// Deduplication Store Port
// =============================================================================

// DedupResult is the outcome of registering a content hash.
type DedupResult struct {
	New         bool
	DuplicateOf uuid.UUID // existing job id when New is false
}

// DedupStore gates processing by content hash. CheckAndRegister is atomic:
// under concurrent arrival of the same hash exactly one caller wins New.
// Entries expire after the configured retention window.
type DedupStore interface {
	CheckAndRegister(ctx context.Context, contentHash string, candidate uuid.UUID) (DedupResult, error)

	// Release frees a hash the owner claimed via CheckAndRegister but could
	// not follow through on. A claim held by a different job is left alone.
	Release(ctx context.Context, contentHash string, owner uuid.UUID) error
}

// =============================================================================
// Intake Document Store Port
// =============================================================================

// IntakeStore holds raw arrivals for the extraction worker, keyed by content
// hash. Write-once: a second save for the same hash is a no-op.
type IntakeStore interface {
	Save(ctx context.Context, doc *domain.IntakeDocument) error
	GetByContentHash(ctx context.Context, hash string) (*domain.IntakeDocument, error)
}

// =============================================================================
// Archive / Audit Ports
// =============================================================================

// ArchiveStore receives the write-once final record for a job. Failures are
// logged by callers and never block the state machine.
type ArchiveStore interface {
	ArchiveResult(ctx context.Context, jobID uuid.UUID, fused *domain.FusedResult, finalState domain.JobState) error
}

// AuditEntry is one routing decision worth a spreadsheet row.
type AuditEntry struct {
	JobID             uuid.UUID
	State             domain.JobState
	OverallConfidence float64
	ConflictCount     int
	ReviewFlag        bool
	SubmissionRef     string
	Reason            string
}

// AuditLog records routing decisions. Same non-blocking contract as
// ArchiveStore.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}
