package worker

import (
	"context"
	"fmt"
	"time"

	"claims_server/core/domain"
	"claims_server/core/port/out"
	"claims_server/core/service/job"
	"claims_server/pkg/apperr"
	"claims_server/pkg/logger"

	"github.com/google/uuid"
)

// SubmissionProcessor pushes routed jobs to the external claims API and owns
// the SUBMITTED edge of the state machine.
type SubmissionProcessor struct {
	repo    out.JobRepository
	gateway out.SubmissionGateway
	sm      *job.StateMachine
	archive out.ArchiveStore
	audit   out.AuditLog
	now     func() time.Time
}

func NewSubmissionProcessor(
	repo out.JobRepository,
	gateway out.SubmissionGateway,
	sm *job.StateMachine,
	archive out.ArchiveStore,
	audit out.AuditLog,
) *SubmissionProcessor {
	return &SubmissionProcessor{
		repo:    repo,
		gateway: gateway,
		sm:      sm,
		archive: archive,
		audit:   audit,
		now:     time.Now,
	}
}

// ProcessSubmit handles a claims.submit message. A flagged job was routed to
// review: the claim is still submitted eagerly, but the job stays
// REVIEW_REQUIRED holding the reference until a reviewer decides.
func (p *SubmissionProcessor) ProcessSubmit(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[SubmitPayload](msg)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		logger.WithField("job_id", payload.JobID).Warn("submit: unparseable job id, dropping")
		return nil
	}

	log := logger.WithJob(payload.JobID)

	j, err := p.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	// Redelivery after a completed submit is a no-op, and a job a human
	// already closed must not be resubmitted.
	if j.SubmissionRef != "" || j.State.Terminal() {
		log.WithField("state", string(j.State)).Info("submit: nothing to do, skipping")
		return nil
	}
	if j.State != domain.JobExtracted && j.State != domain.JobReviewRequired {
		log.WithField("state", string(j.State)).Warn("submit: unexpected state, dropping")
		return nil
	}

	submission := domain.BuildSubmissionPayload(j, p.now())

	// The content hash doubles as the idempotency key: a crash between the
	// upstream call and the state write cannot double-create the claim.
	receipt, err := p.gateway.Submit(ctx, submission, j.ContentHash)
	if err != nil {
		return p.submissionError(ctx, j, err, log)
	}

	j.SubmissionRef = receipt.ReferenceID

	if j.State == domain.JobReviewRequired {
		// Keep waiting on the reviewer; just persist the reference.
		j.UpdatedAt = p.now().UTC()
		if err := p.repo.Update(ctx, j); err != nil {
			return fmt.Errorf("store submission ref: %w", err)
		}
		log.WithField("submission_ref", receipt.ReferenceID).Info("submitted, awaiting review")
		p.recordAudit(ctx, j, "submitted pending review", log)
		return nil
	}

	if err := p.sm.Transition(ctx, j, domain.JobSubmitted, "submitted ref="+receipt.ReferenceID); err != nil {
		return err
	}
	log.WithField("submission_ref", receipt.ReferenceID).Info("claim submitted")

	p.recordAudit(ctx, j, "submitted", log)
	p.archiveResult(ctx, j, log)
	return nil
}

// submissionError maps gateway failures onto job state. A typed validation
// rejection is permanent; everything else consumes one retry.
func (p *SubmissionProcessor) submissionError(ctx context.Context, j *domain.Job, cause error, log *logger.Logger) error {
	if apperr.IsCode(cause, apperr.CodeSubmissionRejected) {
		log.WithError(cause).Warn("claim rejected by upstream validation")
		if j.State == domain.JobReviewRequired {
			// Already parked for a human; surface the rejection to them.
			j.LastError = cause.Error()
			j.UpdatedAt = p.now().UTC()
			if err := p.repo.Update(ctx, j); err != nil {
				return fmt.Errorf("store rejection: %w", err)
			}
			return nil
		}
		if err := p.sm.Transition(ctx, j, domain.JobException, "upstream rejection: "+cause.Error()); err != nil {
			return err
		}
		p.recordAudit(ctx, j, "upstream rejection", log)
		return nil
	}

	if apperr.IsCode(cause, apperr.CodeCircuitOpen) {
		// A fail-fast from the open breaker never reached the upstream, so
		// it is not an attempt. Leave the entry pending for reclaim once
		// the window passes instead of spending the retry budget.
		log.Warn("submission breaker open, leaving message for reclaim")
		return cause
	}

	retryable, err := p.sm.RecordTransient(ctx, j, cause)
	if err != nil {
		return err
	}
	if !retryable {
		return nil
	}
	return cause
}

func (p *SubmissionProcessor) recordAudit(ctx context.Context, j *domain.Job, reason string, log *logger.Logger) {
	entry := out.AuditEntry{
		JobID:         j.ID,
		State:         j.State,
		ReviewFlag:    j.ReviewFlag,
		SubmissionRef: j.SubmissionRef,
		Reason:        reason,
	}
	if j.FusedResult != nil {
		entry.OverallConfidence = j.FusedResult.OverallConfidence
		entry.ConflictCount = len(j.FusedResult.Conflicts)
	}
	if err := p.audit.Record(ctx, entry); err != nil {
		log.WithError(err).Warn("audit record failed")
	}
}

func (p *SubmissionProcessor) archiveResult(ctx context.Context, j *domain.Job, log *logger.Logger) {
	if err := p.archive.ArchiveResult(ctx, j.ID, j.FusedResult, j.State); err != nil {
		log.WithError(err).Warn("archive write failed")
	}
}
