package domain

import (
	"time"
)

// =============================================================================
// Submission Payload
// =============================================================================

// External field names are the submission API's contract, case- and
// spacing-exact. Internal fields map onto them through this fixed alias table
// so the compiler can check the mapping end to end.
const (
	SubmitKeyEventDate      = "Event date"
	SubmitKeySubmissionDate = "Submission Date"
	SubmitKeyClaimAmount    = "Claim Amount"
	SubmitKeyInvoiceNumber  = "Invoice Number"
	SubmitKeyPolicyNumber   = "Policy Number"
)

// SubmissionPayload is the outbound claim submission.
type SubmissionPayload struct {
	EventDate      string `json:"Event date"`      // ISO date
	SubmissionDate string `json:"Submission Date"` // ISO datetime
	ClaimAmount    string `json:"Claim Amount"`    // decimal > 0
	InvoiceNumber  string `json:"Invoice Number"`
	PolicyNumber   string `json:"Policy Number"`

	// Internal metadata carried alongside, not required by the external API.
	SourceMessageID      string  `json:"source_message_id,omitempty"`
	ExtractionConfidence float64 `json:"extraction_confidence,omitempty"`
	ReviewFlag           bool    `json:"review_flag,omitempty"`
}

// BuildSubmissionPayload maps a fused result onto the external contract.
// Policy number falls back to the member identifier when absent.
func BuildSubmissionPayload(job *Job, now time.Time) SubmissionPayload {
	fused := job.FusedResult
	p := SubmissionPayload{
		SubmissionDate:       now.UTC().Format(time.RFC3339),
		SourceMessageID:      job.MessageID,
		ExtractionConfidence: fused.OverallConfidence,
		ReviewFlag:           job.ReviewFlag,
	}
	if v, ok := fused.Fields[FieldServiceDate]; ok {
		p.EventDate = v.Date.Format("2006-01-02")
	}
	if v, ok := fused.Fields[FieldTotalAmount]; ok {
		p.ClaimAmount = v.Amount.StringFixed(2)
	}
	if v, ok := fused.Fields[FieldReceiptNumber]; ok {
		p.InvoiceNumber = v.Text
	}
	if v, ok := fused.Fields[FieldPolicyNumber]; ok && !v.IsZero() {
		p.PolicyNumber = v.Text
	} else if v, ok := fused.Fields[FieldMemberID]; ok {
		p.PolicyNumber = v.Text
	}
	return p
}
