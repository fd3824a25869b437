// Package job owns claim job state transitions. Every state change in the
// system funnels through StateMachine so the edge set and retry bookkeeping
// are enforced in exactly one place.
package job

import (
	"context"
	"time"

	"claims_server/core/domain"
	"claims_server/core/port/out"
	"claims_server/pkg/apperr"
	"claims_server/pkg/logger"
)

// =============================================================================
// State Machine
// =============================================================================

// StateMachine applies and persists job transitions. A single job is only
// ever mutated by the worker that currently owns it, so no locking happens
// here; cross-job concurrency is safe because the repository row update is
// the unit of persistence.
type StateMachine struct {
	repo       out.JobRepository
	maxRetries int
	log        *logger.Logger
}

// NewStateMachine creates the transition authority over a job repository.
func NewStateMachine(repo out.JobRepository, maxRetries int) *StateMachine {
	return &StateMachine{
		repo:       repo,
		maxRetries: maxRetries,
		log:        logger.Default().WithField("component", "state_machine"),
	}
}

// Transition moves the job along a legal edge and persists it. reason is
// kept on the job for stable and terminal states so reviewers see why the
// job landed where it did.
func (m *StateMachine) Transition(ctx context.Context, j *domain.Job, to domain.JobState, reason string) error {
	from := j.State
	if !domain.CanTransition(from, to) {
		return apperr.InvalidTransition(string(from), string(to))
	}

	j.State = to
	j.UpdatedAt = time.Now().UTC()
	if to.Terminal() || to.Stable() {
		j.TerminalReason = reason
	}

	if err := m.repo.Update(ctx, j); err != nil {
		// Roll the in-memory copy back so a caller retry sees the true state.
		j.State = from
		return apperr.DatabaseError("update job state", err)
	}

	m.log.WithJob(j.ID.String()).
		WithField("from", string(from)).
		WithField("to", string(to)).
		Info("job transitioned")
	return nil
}

// RecordTransient books a transient failure against the job. While attempts
// remain it persists the incremented retry count and reports retryable=true;
// on exhaustion it fails the job and reports retryable=false.
func (m *StateMachine) RecordTransient(ctx context.Context, j *domain.Job, cause error) (bool, error) {
	j.RetryCount++
	j.LastError = cause.Error()

	if j.RetryCount >= m.maxRetries {
		exhausted := apperr.RetryExhausted(j.RetryCount, cause)
		if err := m.Fail(ctx, j, exhausted.Message); err != nil {
			return false, err
		}
		return false, nil
	}

	j.UpdatedAt = time.Now().UTC()
	if err := m.repo.Update(ctx, j); err != nil {
		return false, apperr.DatabaseError("update retry count", err)
	}

	m.log.WithJob(j.ID.String()).
		WithField("retry_count", j.RetryCount).
		WithField("cause", cause.Error()).
		Warn("transient failure, will retry")
	return true, nil
}

// Fail moves the job to FAILED from any non-terminal state.
func (m *StateMachine) Fail(ctx context.Context, j *domain.Job, reason string) error {
	return m.Transition(ctx, j, domain.JobFailed, reason)
}

// ManualRetry resets the job to PENDING for another pass through the
// pipeline. retry_count survives unless force is set; manual retries
// themselves are uncapped.
func (m *StateMachine) ManualRetry(ctx context.Context, j *domain.Job, force bool) error {
	if !domain.CanTransition(j.State, domain.JobPending) {
		return apperr.InvalidTransition(string(j.State), string(domain.JobPending))
	}
	if force {
		j.RetryCount = 0
	}
	j.LastError = ""
	return m.Transition(ctx, j, domain.JobPending, "")
}
