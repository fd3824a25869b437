// Package routing maps a fused claim record to its downstream path by
// overall confidence and required-field coverage.
package routing

import (
	"fmt"
	"strings"

	"claims_server/core/domain"
)

// =============================================================================
// Confidence Router
// =============================================================================

// Outcome is the routing verdict for one fused result.
type Outcome string

const (
	// OutcomeSubmit sends the claim straight to submission.
	OutcomeSubmit Outcome = "submit"
	// OutcomeReview sends the claim to submission flagged for human review.
	OutcomeReview Outcome = "review"
	// OutcomeException parks the claim for a human, no submission.
	OutcomeException Outcome = "exception"
)

// Decision carries the verdict plus the audit-facing reason.
type Decision struct {
	Outcome    Outcome
	State      domain.JobState
	ReviewFlag bool
	Reason     string
}

// Thresholds are the routing cut points, fixed at startup.
type Thresholds struct {
	High   float64 // >= High routes to submit
	Medium float64 // >= Medium routes to review; below is exception
}

// DefaultThresholds returns the shipped cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.90, Medium: 0.75}
}

// Router is a pure confidence router. Safe for concurrent use.
type Router struct {
	t Thresholds
}

// NewRouter creates a router with fixed thresholds.
func NewRouter(t Thresholds) *Router {
	return &Router{t: t}
}

// Route decides the path for a fused result. A missing required field forces
// an exception regardless of confidence; the thresholds are inclusive at the
// lower bound of each band.
func (r *Router) Route(fused *domain.FusedResult) Decision {
	if missing := fused.MissingRequired(); len(missing) > 0 {
		return Decision{
			Outcome: OutcomeException,
			State:   domain.JobException,
			Reason:  fmt.Sprintf("missing required fields: %s", joinFields(missing)),
		}
	}

	conf := fused.OverallConfidence
	switch {
	case conf >= r.t.High:
		return Decision{
			Outcome: OutcomeSubmit,
			State:   domain.JobSubmitted,
			Reason:  fmt.Sprintf("confidence %.2f >= %.2f", conf, r.t.High),
		}
	case conf >= r.t.Medium:
		return Decision{
			Outcome:    OutcomeReview,
			State:      domain.JobReviewRequired,
			ReviewFlag: true,
			Reason:     fmt.Sprintf("confidence %.2f in [%.2f, %.2f)", conf, r.t.Medium, r.t.High),
		}
	default:
		return Decision{
			Outcome: OutcomeException,
			State:   domain.JobException,
			Reason:  fmt.Sprintf("confidence %.2f < %.2f", conf, r.t.Medium),
		}
	}
}

func joinFields(fields []domain.FieldName) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
