package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Job Lifecycle
// =============================================================================

// JobState is the lifecycle state of one processing unit (one attachment).
type JobState string

const (
	JobPending        JobState = "PENDING"
	JobExtracting     JobState = "EXTRACTING"
	JobExtracted      JobState = "EXTRACTED"
	JobSubmitted      JobState = "SUBMITTED"
	JobReviewRequired JobState = "REVIEW_REQUIRED"
	JobException      JobState = "EXCEPTION"
	JobRejected       JobState = "REJECTED"
	JobFailed         JobState = "FAILED"
)

// Terminal reports whether no further automatic transition occurs from s.
// FAILED is terminal for the automatic pipeline but stays manually retryable.
func (s JobState) Terminal() bool {
	switch s {
	case JobSubmitted, JobRejected, JobFailed:
		return true
	}
	return false
}

// Stable reports whether s waits on an external human action.
func (s JobState) Stable() bool {
	return s == JobReviewRequired || s == JobException
}

// allowedTransitions is the state machine's edge set. FAILED is reachable from
// any non-terminal state on retry exhaustion and is handled separately.
var allowedTransitions = map[JobState][]JobState{
	JobPending:        {JobExtracting},
	JobExtracting:     {JobExtracted, JobPending},
	JobExtracted:      {JobSubmitted, JobReviewRequired, JobException},
	JobReviewRequired: {JobSubmitted, JobRejected, JobPending},
	JobException:      {JobSubmitted, JobRejected, JobPending},
	JobFailed:         {JobPending},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to JobState) bool {
	if to == JobFailed {
		return !from.Terminal()
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// =============================================================================
// Job
// =============================================================================

// Job tracks one attachment from arrival to terminal state. The content hash
// is the identity key for deduplication; the job id is the external handle.
// Only the state machine mutates a Job.
type Job struct {
	ID             uuid.UUID    `json:"id"`
	ContentHash    string       `json:"content_hash"` // SHA-256 of attachment bytes, hex
	MessageID      string       `json:"message_id"`
	State          JobState     `json:"state"`
	FusedResult    *FusedResult `json:"fused_result,omitempty"`
	RetryCount     int          `json:"retry_count"`
	ReviewFlag     bool         `json:"review_flag"`
	SubmissionRef  string       `json:"submission_ref,omitempty"`
	TerminalReason string       `json:"terminal_reason,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NewJob creates a PENDING job for a freshly registered content hash.
func NewJob(contentHash, messageID string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		ContentHash: contentHash,
		MessageID:   messageID,
		State:       JobPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// =============================================================================
// Intake Document
// =============================================================================

// IntakeDocument is the raw arrival stored for the extraction worker: the
// email text alongside the attachment bytes, keyed by content hash.
type IntakeDocument struct {
	ContentHash string    `json:"content_hash"`
	MessageID   string    `json:"message_id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Attachment  []byte    `json:"attachment"`
	ReceivedAt  time.Time `json:"received_at"`
}
