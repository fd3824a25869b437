// Package review implements the human actions on stable jobs: approve with
// optional field corrections, reject with a reason, and the manual retry
// escape hatch.
package review

import (
	"context"
	"time"

	"github.com/google/uuid"

	"claims_server/core/domain"
	"claims_server/core/port/in"
	"claims_server/core/port/out"
	"claims_server/core/service/extraction"
	"claims_server/core/service/job"
	"claims_server/pkg/apperr"
	"claims_server/pkg/logger"
)

// =============================================================================
// Review Service
// =============================================================================

// Service implements in.ReviewService.
type Service struct {
	repo     out.JobRepository
	sm       *job.StateMachine
	gateway  out.SubmissionGateway
	producer out.MessageProducer
	archive  out.ArchiveStore
	audit    out.AuditLog
	log      *logger.Logger
	now      func() time.Time
}

// NewService wires the review actions.
func NewService(
	repo out.JobRepository,
	sm *job.StateMachine,
	gateway out.SubmissionGateway,
	producer out.MessageProducer,
	archive out.ArchiveStore,
	audit out.AuditLog,
) *Service {
	return &Service{
		repo:     repo,
		sm:       sm,
		gateway:  gateway,
		producer: producer,
		archive:  archive,
		audit:    audit,
		log:      logger.Default().WithField("component", "review"),
		now:      time.Now,
	}
}

// Approve finalizes a stable job as SUBMITTED. Corrections overwrite fused
// fields before submission; a job already holding a submission reference
// (the review-flagged path submits eagerly) skips the gateway call.
func (s *Service) Approve(ctx context.Context, jobID uuid.UUID, corrections []in.Correction) (*domain.Job, error) {
	j, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !j.State.Stable() {
		return nil, apperr.InvalidTransition(string(j.State), string(domain.JobSubmitted))
	}
	if j.FusedResult == nil {
		return nil, apperr.ValidationFailed("job has no fused result to approve")
	}

	if err := s.applyCorrections(j, corrections); err != nil {
		return nil, err
	}
	if missing := j.FusedResult.MissingRequired(); len(missing) > 0 {
		return nil, apperr.ValidationFailed("required fields still missing").
			WithDetail("missing", missing)
	}

	if j.SubmissionRef == "" {
		payload := domain.BuildSubmissionPayload(j, s.now())
		receipt, err := s.gateway.Submit(ctx, payload, j.ContentHash)
		if err != nil {
			return nil, err
		}
		j.SubmissionRef = receipt.ReferenceID
	}

	j.ReviewFlag = false
	if err := s.sm.Transition(ctx, j, domain.JobSubmitted, "approved by reviewer"); err != nil {
		return nil, err
	}
	s.finalize(ctx, j, "approved")
	return j, nil
}

// Reject moves a stable job to REJECTED with the reviewer's reason.
func (s *Service) Reject(ctx context.Context, jobID uuid.UUID, reason string) (*domain.Job, error) {
	j, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, apperr.MissingField("reason")
	}
	if err := s.sm.Transition(ctx, j, domain.JobRejected, reason); err != nil {
		return nil, err
	}
	s.finalize(ctx, j, "rejected")
	return j, nil
}

// Retry resets a job to PENDING and re-enqueues extraction. force resets the
// retry counter; manual retries themselves are uncapped.
func (s *Service) Retry(ctx context.Context, jobID uuid.UUID, force bool) (*domain.Job, error) {
	j, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.sm.ManualRetry(ctx, j, force); err != nil {
		return nil, err
	}
	if err := s.producer.PublishExtract(ctx, &out.ExtractJob{JobID: j.ID.String(), ContentHash: j.ContentHash}); err != nil {
		return nil, apperr.ExternalError("extraction queue", err)
	}
	s.log.WithJob(j.ID.String()).WithField("force", force).Info("manual retry enqueued")
	return j, nil
}

// applyCorrections normalizes and overwrites fused fields. A correction that
// fails normalization rejects the whole approval so a reviewer typo cannot
// submit garbage.
func (s *Service) applyCorrections(j *domain.Job, corrections []in.Correction) error {
	for _, c := range corrections {
		if domain.KindOf(c.Field) == domain.KindText && !validField(c.Field) {
			return apperr.InvalidInput(string(c.Field), "unknown field")
		}
		v, err := extraction.NormalizeValue(c.Field, c.Value)
		if err != nil {
			return apperr.InvalidInput(string(c.Field), err.Error())
		}
		j.FusedResult.SetField(c.Field, v, 1.0, domain.SourceReview)
	}
	return nil
}

// finalize records the terminal decision on the audit and archive
// collaborators. Both are fire-and-forget: failures are logged and never
// block the state machine.
func (s *Service) finalize(ctx context.Context, j *domain.Job, action string) {
	if err := s.audit.Record(ctx, out.AuditEntry{
		JobID:             j.ID,
		State:             j.State,
		OverallConfidence: overallOf(j),
		ConflictCount:     conflictsOf(j),
		ReviewFlag:        j.ReviewFlag,
		SubmissionRef:     j.SubmissionRef,
		Reason:            action,
	}); err != nil {
		s.log.WithJob(j.ID.String()).WithError(err).Warn("audit record failed")
	}
	if err := s.archive.ArchiveResult(ctx, j.ID, j.FusedResult, j.State); err != nil {
		s.log.WithJob(j.ID.String()).WithError(err).Warn("archive write failed")
	}
}

func overallOf(j *domain.Job) float64 {
	if j.FusedResult == nil {
		return 0
	}
	return j.FusedResult.OverallConfidence
}

func conflictsOf(j *domain.Job) int {
	if j.FusedResult == nil {
		return 0
	}
	return len(j.FusedResult.Conflicts)
}

func validField(f domain.FieldName) bool {
	for _, known := range domain.AllFields {
		if known == f {
			return true
		}
	}
	return false
}

// =============================================================================
// Job Query Service
// =============================================================================

// QueryService implements in.JobQueryService over the repository.
type QueryService struct {
	repo out.JobRepository
}

// NewQueryService creates the read-side service.
func NewQueryService(repo out.JobRepository) *QueryService {
	return &QueryService{repo: repo}
}

// Get returns one job with its fused result and conflicts.
func (q *QueryService) Get(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	return q.repo.GetByID(ctx, jobID)
}

// List returns jobs matching the filter, newest first.
func (q *QueryService) List(ctx context.Context, filter out.JobFilter) ([]*domain.Job, error) {
	return q.repo.List(ctx, filter)
}

// CountByState returns the per-state job totals for the health view.
func (q *QueryService) CountByState(ctx context.Context) (map[domain.JobState]int64, error) {
	return q.repo.CountByState(ctx)
}
