package worker

import (
	"context"

	"claims_server/pkg/logger"

	"github.com/goccy/go-json"
)

// Handler routes messages to the processor that owns the job type.
type Handler struct {
	extraction *ExtractionProcessor
	submission *SubmissionProcessor
}

func NewHandler(extraction *ExtractionProcessor, submission *SubmissionProcessor) *Handler {
	return &Handler{
		extraction: extraction,
		submission: submission,
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	case JobClaimsExtract:
		return h.extraction.ProcessExtract(ctx, msg)
	case JobClaimsSubmit:
		return h.submission.ProcessSubmit(ctx, msg)
	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
