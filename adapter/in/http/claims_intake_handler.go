package http

import (
	"encoding/base64"

	"claims_server/core/port/in"
	"claims_server/pkg/apperr"
	"claims_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// IntakeHandler accepts claim arrivals from the email ingestion collaborator.
type IntakeHandler struct {
	intake in.IntakeService
}

func NewIntakeHandler(intake in.IntakeService) *IntakeHandler {
	return &IntakeHandler{intake: intake}
}

// Register registers intake routes.
func (h *IntakeHandler) Register(router fiber.Router) {
	router.Post("/intake", h.Ingest)
}

// IntakeRequest is one arrival: the email envelope plus the receipt
// attachment, base64 encoded.
type IntakeRequest struct {
	MessageID  string `json:"message_id"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Attachment string `json:"attachment"`
}

// IntakeResponse reports the created or matched job.
type IntakeResponse struct {
	JobID     string `json:"job_id"`
	Duplicate bool   `json:"duplicate"`
}

// Ingest handles POST /v1/intake.
func (h *IntakeHandler) Ingest(c *fiber.Ctx) error {
	var req IntakeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	attachment, err := base64.StdEncoding.DecodeString(req.Attachment)
	if err != nil {
		return respondError(c, apperr.InvalidInput("attachment", "must be base64"))
	}

	result, err := h.intake.Ingest(c.Context(), in.Arrival{
		MessageID:  req.MessageID,
		Subject:    req.Subject,
		Body:       req.Body,
		Attachment: attachment,
	})
	if err != nil {
		return respondError(c, err)
	}

	resp := IntakeResponse{JobID: result.JobID.String(), Duplicate: result.Duplicate}
	if result.Duplicate {
		return response.OK(c, resp)
	}
	return response.Created(c, resp)
}
