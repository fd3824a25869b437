// Package in defines inbound ports (driving ports) for the application.
package in

import (
	"context"

	"claims_server/core/domain"
	"claims_server/core/port/out"

	"github.com/google/uuid"
)

// =============================================================================
// Intake Port
// =============================================================================

// Arrival is one email attachment delivered by the ingestion collaborator.
type Arrival struct {
	MessageID  string
	Subject    string
	Body       string
	Attachment []byte
}

// IntakeResult reports whether the arrival created a job or matched an
// existing one.
type IntakeResult struct {
	JobID     uuid.UUID
	Duplicate bool
}

// IntakeService gates arrivals through deduplication and enqueues extraction.
type IntakeService interface {
	Ingest(ctx context.Context, arrival Arrival) (*IntakeResult, error)
}

// =============================================================================
// Review Port
// =============================================================================

// Correction is a reviewer-supplied override for one field.
type Correction struct {
	Field domain.FieldName `json:"field_name"`
	Value string           `json:"value"`
}

// ReviewService exposes the human-review actions on stable jobs and the
// manual retry escape hatch for failed ones.
type ReviewService interface {
	Approve(ctx context.Context, jobID uuid.UUID, corrections []Correction) (*domain.Job, error)
	Reject(ctx context.Context, jobID uuid.UUID, reason string) (*domain.Job, error)
	Retry(ctx context.Context, jobID uuid.UUID, force bool) (*domain.Job, error)
}

// =============================================================================
// Job Query Port
// =============================================================================

// JobQueryService serves the admin listing and detail views.
type JobQueryService interface {
	Get(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
	List(ctx context.Context, filter out.JobFilter) ([]*domain.Job, error)
	CountByState(ctx context.Context) (map[domain.JobState]int64, error)
}
