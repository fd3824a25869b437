// Package intake gates arrivals into the pipeline: content hashing,
// deduplication, job creation and extraction enqueue.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"claims_server/core/domain"
	"claims_server/core/port/in"
	"claims_server/core/port/out"
	"claims_server/pkg/apperr"
	"claims_server/pkg/logger"

	"github.com/google/uuid"
)

// =============================================================================
// Intake Service
// =============================================================================

// Service implements in.IntakeService.
type Service struct {
	repo     out.JobRepository
	dedup    out.DedupStore
	docs     out.IntakeStore
	producer out.MessageProducer
	log      *logger.Logger
}

// NewService wires the intake flow.
func NewService(repo out.JobRepository, dedup out.DedupStore, docs out.IntakeStore, producer out.MessageProducer) *Service {
	return &Service{
		repo:     repo,
		dedup:    dedup,
		docs:     docs,
		producer: producer,
		log:      logger.Default().WithField("component", "intake"),
	}
}

// Ingest hashes the attachment, registers the hash atomically and, for a
// fresh arrival, persists the job and the raw document and enqueues
// extraction. A duplicate returns the existing job id without error.
func (s *Service) Ingest(ctx context.Context, arrival in.Arrival) (*in.IntakeResult, error) {
	if arrival.MessageID == "" {
		return nil, apperr.MissingField("message_id")
	}
	if len(arrival.Attachment) == 0 {
		return nil, apperr.MissingField("attachment")
	}

	sum := sha256.Sum256(arrival.Attachment)
	hash := hex.EncodeToString(sum[:])

	j := domain.NewJob(hash, arrival.MessageID)

	res, err := s.dedup.CheckAndRegister(ctx, hash, j.ID)
	if err != nil {
		return nil, apperr.ExternalError("dedup store", err)
	}
	if !res.New {
		s.log.WithJob(res.DuplicateOf.String()).
			WithField("content_hash", hash).
			Info("duplicate content short-circuited")
		return &in.IntakeResult{JobID: res.DuplicateOf, Duplicate: true}, nil
	}

	if err := s.repo.Create(ctx, j); err != nil {
		s.release(ctx, hash, j.ID)
		return nil, apperr.DatabaseError("create job", err)
	}

	doc := &domain.IntakeDocument{
		ContentHash: hash,
		MessageID:   arrival.MessageID,
		Subject:     arrival.Subject,
		Body:        arrival.Body,
		Attachment:  arrival.Attachment,
		ReceivedAt:  time.Now().UTC(),
	}
	if err := s.docs.Save(ctx, doc); err != nil {
		s.abandon(ctx, j, hash, "intake document save failed")
		return nil, apperr.ExternalError("intake store", err)
	}

	if err := s.producer.PublishExtract(ctx, &out.ExtractJob{JobID: j.ID.String(), ContentHash: hash}); err != nil {
		s.abandon(ctx, j, hash, "extraction enqueue failed")
		return nil, apperr.ExternalError("extraction queue", err)
	}

	s.log.WithJob(j.ID.String()).
		WithField("content_hash", hash).
		WithField("message_id", arrival.MessageID).
		Info("arrival accepted")
	return &in.IntakeResult{JobID: j.ID}, nil
}

// release gives the dedup claim back so a retransmission of the same content
// is ingested fresh instead of answering duplicate_of a job that never made
// it into the pipeline.
func (s *Service) release(ctx context.Context, hash string, owner uuid.UUID) {
	if err := s.dedup.Release(ctx, hash, owner); err != nil {
		s.log.WithError(err).
			WithField("content_hash", hash).
			Warn("dedup release failed, hash stays claimed until expiry")
	}
}

// abandon compensates a partially ingested arrival: the already-created job
// row is failed so it cannot look live, then the dedup claim is released.
func (s *Service) abandon(ctx context.Context, j *domain.Job, hash, reason string) {
	j.State = domain.JobFailed
	j.LastError = reason
	j.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, j); err != nil {
		s.log.WithError(err).WithJob(j.ID.String()).Warn("failed to mark abandoned job")
	}
	s.release(ctx, hash, j.ID)
}
