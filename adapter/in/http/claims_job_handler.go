package http

import (
	"claims_server/core/domain"
	"claims_server/core/port/in"
	"claims_server/core/port/out"
	"claims_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// JobHandler serves the review surface: job listing, detail, and the
// reviewer actions on stable jobs.
type JobHandler struct {
	query  in.JobQueryService
	review in.ReviewService
}

func NewJobHandler(query in.JobQueryService, review in.ReviewService) *JobHandler {
	return &JobHandler{query: query, review: review}
}

// Register registers job routes.
func (h *JobHandler) Register(router fiber.Router) {
	jobs := router.Group("/jobs")
	jobs.Get("/", h.List)
	jobs.Get("/stats", h.Stats)
	jobs.Get("/:id", h.Get)
	jobs.Post("/:id/approve", h.Approve)
	jobs.Post("/:id/reject", h.Reject)
	jobs.Post("/:id/retry", h.Retry)
}

// List handles GET /v1/jobs with optional state filter and pagination.
func (h *JobHandler) List(c *fiber.Ctx) error {
	p := response.GetPagination(c, 20, 100)
	filter := out.JobFilter{
		State:  domain.JobState(c.Query("state")),
		Limit:  p.Limit,
		Offset: p.Offset,
	}

	jobs, err := h.query.List(c.Context(), filter)
	if err != nil {
		return respondError(c, err)
	}
	return response.OKWithMeta(c, jobs, &response.Meta{
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: len(jobs) == p.Limit,
	})
}

// Stats handles GET /v1/jobs/stats with per-state counts.
func (h *JobHandler) Stats(c *fiber.Ctx) error {
	counts, err := h.query.CountByState(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, counts)
}

// Get handles GET /v1/jobs/:id: the full job including the fused result with
// per-field confidences and recorded conflicts.
func (h *JobHandler) Get(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return respondError(c, err)
	}
	j, err := h.query.Get(c.Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, j)
}

// ApproveRequest carries optional reviewer corrections.
type ApproveRequest struct {
	Corrections []in.Correction `json:"corrections,omitempty"`
}

// Approve handles POST /v1/jobs/:id/approve.
func (h *JobHandler) Approve(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req ApproveRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "invalid request body")
		}
	}

	j, err := h.review.Approve(c.Context(), id, req.Corrections)
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, j)
}

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// Reject handles POST /v1/jobs/:id/reject.
func (h *JobHandler) Reject(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req RejectRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	j, err := h.review.Reject(c.Context(), id, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, j)
}

// RetryRequest toggles the forced variant of a manual retry.
type RetryRequest struct {
	Force bool `json:"force"`
}

// Retry handles POST /v1/jobs/:id/retry.
func (h *JobHandler) Retry(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req RetryRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "invalid request body")
		}
	}

	j, err := h.review.Retry(c.Context(), id, req.Force)
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, j)
}
