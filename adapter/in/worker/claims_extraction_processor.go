package worker

import (
	"context"
	"fmt"

	"claims_server/core/domain"
	"claims_server/core/port/out"
	"claims_server/core/service/extraction"
	"claims_server/core/service/fusion"
	"claims_server/core/service/job"
	"claims_server/core/service/routing"
	"claims_server/pkg/logger"

	"github.com/google/uuid"
)

// ExtractionProcessor runs the extraction stage for one intake job: both
// source extractors, the fusion merge and the confidence routing decision.
type ExtractionProcessor struct {
	repo         out.JobRepository
	intake       out.IntakeStore
	emailAdapter *extraction.EmailAdapter
	ocrEngine    out.OCREngine
	ocrAdapter   *extraction.OCRAdapter
	engine       *fusion.Engine
	router       *routing.Router
	sm           *job.StateMachine
	producer     out.MessageProducer
	audit        out.AuditLog
}

func NewExtractionProcessor(
	repo out.JobRepository,
	intake out.IntakeStore,
	emailAdapter *extraction.EmailAdapter,
	ocrEngine out.OCREngine,
	ocrAdapter *extraction.OCRAdapter,
	engine *fusion.Engine,
	router *routing.Router,
	sm *job.StateMachine,
	producer out.MessageProducer,
	audit out.AuditLog,
) *ExtractionProcessor {
	return &ExtractionProcessor{
		repo:         repo,
		intake:       intake,
		emailAdapter: emailAdapter,
		ocrEngine:    ocrEngine,
		ocrAdapter:   ocrAdapter,
		engine:       engine,
		router:       router,
		sm:           sm,
		producer:     producer,
		audit:        audit,
	}
}

// ProcessExtract handles a claims.extract message. Returning an error leaves
// the stream entry pending so a reclaim can redeliver it; permanent outcomes
// return nil so the entry is acked.
func (p *ExtractionProcessor) ProcessExtract(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[ExtractPayload](msg)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		logger.WithField("job_id", payload.JobID).Warn("extract: unparseable job id, dropping")
		return nil
	}

	log := logger.WithJob(payload.JobID)

	j, err := p.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	// Redelivery of an already-routed message is a no-op. EXTRACTED is the
	// exception: a crash or failed publish after the extraction write
	// leaves the entry pending with the result already stored, so routing
	// resumes from there instead of wedging the job.
	switch {
	case j.State == domain.JobExtracted:
		log.Info("extract: resuming routing for extracted job")
		return p.route(ctx, j, log)
	case j.State != domain.JobPending && j.State != domain.JobExtracting:
		log.WithField("state", string(j.State)).Info("extract: job already past extraction, skipping")
		return nil
	}

	if j.State == domain.JobPending {
		if err := p.sm.Transition(ctx, j, domain.JobExtracting, "extraction started"); err != nil {
			return err
		}
	}

	doc, err := p.intake.GetByContentHash(ctx, j.ContentHash)
	if err != nil {
		return p.transient(ctx, j, fmt.Errorf("load intake document: %w", err))
	}

	emailResult := p.emailAdapter.Extract(doc.Subject, doc.Body)
	ocrResult := p.recognize(ctx, doc, log)

	fused := p.engine.Merge(emailResult, ocrResult)
	j.FusedResult = fused

	if err := p.sm.Transition(ctx, j, domain.JobExtracted, "extraction complete"); err != nil {
		return err
	}

	return p.route(ctx, j, log)
}

// route applies the confidence decision to an extracted job. Safe to re-run
// on redelivery: the submit publish is idempotent downstream (the submission
// worker skips jobs holding a reference, and the gateway call is keyed on the
// content hash).
func (p *ExtractionProcessor) route(ctx context.Context, j *domain.Job, log *logger.Logger) error {
	fused := j.FusedResult
	if fused == nil {
		return fmt.Errorf("job %s is %s without a stored result", j.ID, j.State)
	}

	decision := p.router.Route(fused)
	log.WithFields(map[string]any{
		"outcome":    string(decision.Outcome),
		"confidence": fused.OverallConfidence,
		"conflicts":  len(fused.Conflicts),
	}).Info("routing decision")

	switch decision.Outcome {
	case routing.OutcomeSubmit:
		// Stays EXTRACTED until the submission worker confirms the upstream
		// call; the SUBMITTED edge belongs to that worker.
		if err := p.producer.PublishSubmit(ctx, &out.SubmitJob{JobID: j.ID.String()}); err != nil {
			return p.transient(ctx, j, fmt.Errorf("publish submit: %w", err))
		}

	case routing.OutcomeReview:
		j.ReviewFlag = true
		if err := p.sm.Transition(ctx, j, domain.JobReviewRequired, decision.Reason); err != nil {
			return err
		}
		if err := p.producer.PublishSubmit(ctx, &out.SubmitJob{JobID: j.ID.String(), ReviewFlag: true}); err != nil {
			return p.transient(ctx, j, fmt.Errorf("publish submit: %w", err))
		}
		p.recordAudit(ctx, j, decision.Reason, log)

	case routing.OutcomeException:
		if err := p.sm.Transition(ctx, j, domain.JobException, decision.Reason); err != nil {
			return err
		}
		p.recordAudit(ctx, j, decision.Reason, log)
	}

	return nil
}

// recognize runs the OCR side. A failed engine call degrades to an absent
// source with a warning instead of failing the whole extraction.
func (p *ExtractionProcessor) recognize(ctx context.Context, doc *domain.IntakeDocument, log *logger.Logger) *domain.SourceExtractionResult {
	if len(doc.Attachment) == 0 {
		return nil
	}
	res, err := p.ocrEngine.Recognize(ctx, doc.Attachment)
	if err != nil {
		log.WithError(err).Warn("ocr engine failed, continuing with email source only")
		r := domain.NewSourceExtractionResult(domain.SourceOCR)
		r.Warn(fmt.Sprintf("ocr engine error: %v", err))
		return r
	}
	return p.ocrAdapter.Normalize(res)
}

// transient records a retryable failure; the returned error keeps the stream
// entry pending unless the retry budget is spent, in which case the job is
// already FAILED and the entry can be acked.
func (p *ExtractionProcessor) transient(ctx context.Context, j *domain.Job, cause error) error {
	retryable, err := p.sm.RecordTransient(ctx, j, cause)
	if err != nil {
		return err
	}
	if !retryable {
		return nil
	}
	return cause
}

func (p *ExtractionProcessor) recordAudit(ctx context.Context, j *domain.Job, reason string, log *logger.Logger) {
	entry := out.AuditEntry{
		JobID:      j.ID,
		State:      j.State,
		ReviewFlag: j.ReviewFlag,
		Reason:     reason,
	}
	if j.FusedResult != nil {
		entry.OverallConfidence = j.FusedResult.OverallConfidence
		entry.ConflictCount = len(j.FusedResult.Conflicts)
	}
	if err := p.audit.Record(ctx, entry); err != nil {
		log.WithError(err).Warn("audit record failed")
	}
}
