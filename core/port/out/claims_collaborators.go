package out

import (
	"context"

	"claims_server/core/domain"
)

// =============================================================================
// OCR Engine Port
// =============================================================================

// OCRField is one structured field produced by the OCR engine's own parser,
// with the engine's confidence for it.
type OCRField struct {
	Field      domain.FieldName `json:"field_name"`
	RawValue   string           `json:"value"`
	Confidence float64          `json:"confidence"`
}

// OCRResult is the OCR engine's response for one attachment.
type OCRResult struct {
	RawText string     `json:"raw_text"`
	Fields  []OCRField `json:"fields"`
}

// OCREngine is the opaque external OCR service.
type OCREngine interface {
	Recognize(ctx context.Context, attachment []byte) (*OCRResult, error)
}

// =============================================================================
// Submission API Port
// =============================================================================

// SubmissionReceipt is the external API's acknowledgement.
type SubmissionReceipt struct {
	ReferenceID string `json:"reference_id"`
}

// SubmissionGateway submits a claim to the external API with retry, backoff
// and circuit breaking. The idempotency key prevents duplicate claim creation
// when a submit is re-attempted after a crash mid-call.
type SubmissionGateway interface {
	Submit(ctx context.Context, payload domain.SubmissionPayload, idempotencyKey string) (*SubmissionReceipt, error)
}

// =============================================================================
// Message Producer Port
// =============================================================================

// ExtractJob asks a worker to run extraction for a job.
type ExtractJob struct {
	JobID       string `json:"job_id"`
	ContentHash string `json:"content_hash"`
}

// SubmitJob asks a worker to submit a routed job.
type SubmitJob struct {
	JobID      string `json:"job_id"`
	ReviewFlag bool   `json:"review_flag"`
}

// MessageProducer publishes pipeline jobs onto the shared queues.
type MessageProducer interface {
	PublishExtract(ctx context.Context, job *ExtractJob) error
	PublishSubmit(ctx context.Context, job *SubmitJob) error
}
