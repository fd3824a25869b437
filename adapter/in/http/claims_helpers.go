package http

import (
	"claims_server/pkg/apperr"
	"claims_server/pkg/logger"
	"claims_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// parseJobID extracts and validates the :id path parameter.
func parseJobID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("id", "must be a UUID")
	}
	return id, nil
}

// respondError maps an application error onto the response envelope.
func respondError(c *fiber.Ctx, err error) error {
	if app := apperr.AsAppError(err); app != nil {
		return response.Error(c, app.HTTPStatus(), app.Code, app.Message)
	}
	logger.WithError(err).Error("unhandled error in handler")
	return response.InternalError(c, "internal server error")
}
