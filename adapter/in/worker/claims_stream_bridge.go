package worker

import (
	"context"
	"fmt"

	"claims_server/adapter/out/messaging"
	"claims_server/core/port/out"
	"claims_server/core/service/job"
	"claims_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// StreamBridge adapts stream deliveries onto the pool. Handle blocks until
// the pool finishes the job so the consumer only acks work that actually
// completed; a crashed worker leaves the entry pending for reclaim.
type StreamBridge struct {
	pool *Pool
}

func NewStreamBridge(p *Pool) *StreamBridge {
	return &StreamBridge{pool: p}
}

var _ messaging.JobHandler = (*StreamBridge)(nil)

func (b *StreamBridge) Handle(ctx context.Context, stream string, data []byte) error {
	jobType, ok := jobTypeForStream(stream)
	if !ok {
		logger.WithField("stream", stream).Warn("no job type for stream, dropping")
		return nil
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", stream, err)
	}

	msg := NewMessage(jobType, payload)
	if !b.pool.Submit(msg) {
		return fmt.Errorf("worker pool not accepting jobs")
	}

	select {
	case <-msg.Wait():
		return msg.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func jobTypeForStream(stream string) (JobType, bool) {
	switch stream {
	case messaging.StreamExtract:
		return JobClaimsExtract, true
	case messaging.StreamSubmit:
		return JobClaimsSubmit, true
	}
	return "", false
}

// FailExhausted returns the dead letter callback: once a message exhausts its
// deliveries the underlying job is failed so it does not sit EXTRACTING (or
// EXTRACTED) forever.
func FailExhausted(repo out.JobRepository, sm *job.StateMachine) messaging.ExhaustedFunc {
	return func(ctx context.Context, stream string, data []byte) {
		var ref struct {
			JobID string `json:"job_id"`
		}
		if err := json.Unmarshal(data, &ref); err != nil {
			logger.WithError(err).Error("dead letter payload unreadable")
			return
		}
		id, err := uuid.Parse(ref.JobID)
		if err != nil {
			logger.WithField("job_id", ref.JobID).Error("dead letter job id unparseable")
			return
		}
		j, err := repo.GetByID(ctx, id)
		if err != nil {
			logger.WithJob(ref.JobID).WithError(err).Error("dead letter job load failed")
			return
		}
		if j.State.Terminal() {
			return
		}
		if err := sm.Fail(ctx, j, fmt.Sprintf("message exhausted deliveries on %s", stream)); err != nil {
			logger.WithJob(ref.JobID).WithError(err).Error("failed to mark exhausted job")
		}
	}
}
