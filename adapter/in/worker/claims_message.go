package worker

import (
	"time"

	"github.com/google/uuid"
)

// Priority levels for job scheduling.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// JobType identifies the kind of work carried by a message.
type JobType = string

const (
	// JobClaimsExtract runs extraction and routing for one intake job.
	JobClaimsExtract JobType = "claims.extract"
	// JobClaimsSubmit submits a routed job to the external claims API.
	JobClaimsSubmit JobType = "claims.submit"
)

// Message is the unit of work handed to the pool. The done channel lets the
// stream bridge block until the pool finishes, so the stream ack mirrors the
// actual processing result.
type Message struct {
	ID        string         `json:"id"`
	Type      JobType        `json:"type"`
	Payload   map[string]any `json:"payload"`
	Priority  Priority       `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`

	done chan struct{}
	err  error
}

func NewMessage(jobType JobType, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// NewPriorityMessage creates a message with a specific priority.
func NewPriorityMessage(jobType JobType, payload map[string]any, priority Priority) *Message {
	m := NewMessage(jobType, payload)
	m.Priority = priority
	return m
}

// IsPriority checks if the message should go to the priority queue.
func (m *Message) IsPriority() bool {
	return m.Priority >= PriorityHigh
}

// finish records the processing result and unblocks Wait. Safe to call once.
func (m *Message) finish(err error) {
	m.err = err
	close(m.done)
}

// Wait returns a channel closed when processing completes.
func (m *Message) Wait() <-chan struct{} {
	return m.done
}

// Err returns the processing result after Wait is closed.
func (m *Message) Err() error {
	return m.err
}

// ExtractPayload asks the extraction worker to process one intake job.
// Field names match the stream envelope written by the producer.
type ExtractPayload struct {
	JobID       string `json:"job_id"`
	ContentHash string `json:"content_hash"`
}

// SubmitPayload asks the submission worker to push a routed job upstream.
type SubmitPayload struct {
	JobID      string `json:"job_id"`
	ReviewFlag bool   `json:"review_flag"`
}
