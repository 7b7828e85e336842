package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/scriptreel/api/internal/middleware"
	"github.com/scriptreel/api/internal/model"
	"github.com/scriptreel/api/internal/pipeline"
	"github.com/scriptreel/api/internal/service"
	"github.com/scriptreel/api/internal/store"
	"github.com/scriptreel/api/pkg/response"
)

type ScriptHandler struct {
	service   *service.ScriptService
	validator *validator.Validate
}

func NewScriptHandler(svc *service.ScriptService, v *validator.Validate) *ScriptHandler {
	return &ScriptHandler{
		service:   svc,
		validator: v,
	}
}

// List handles GET /api/scripts
func (h *ScriptHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	scripts, err := h.service.List(c.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"scripts": scripts})
}

// Get handles GET /api/scripts/:id
func (h *ScriptHandler) Get(c *fiber.Ctx) error {
	script, versions, err := h.service.Get(c.Context(), middleware.GetUserID(c), c.Params("id"))
	if err != nil {
		return h.scriptError(c, err)
	}
	return response.OK(c, fiber.Map{"script": script, "versions": versions})
}

// Approve handles POST /api/scripts/:id/approve
func (h *ScriptHandler) Approve(c *fiber.Ctx) error {
	script, err := h.service.Approve(c.Context(), middleware.GetUserID(c), c.Params("id"))
	if err != nil {
		return h.scriptError(c, err)
	}
	return response.OK(c, script)
}

// Reject handles POST /api/scripts/:id/reject
func (h *ScriptHandler) Reject(c *fiber.Ctx) error {
	var req model.RejectScriptRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	script, err := h.service.Reject(c.Context(), middleware.GetUserID(c), c.Params("id"), &req)
	if err != nil {
		return h.scriptError(c, err)
	}
	return response.OK(c, script)
}

// RequestRevision handles POST /api/scripts/:id/revise
func (h *ScriptHandler) RequestRevision(c *fiber.Ctx) error {
	var req model.RevisionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.RequestRevision(c.Context(), middleware.GetUserID(c), c.Params("id"), &req)
	if err != nil {
		return h.scriptError(c, err)
	}
	return response.Accepted(c, result)
}

// ResetRevision handles POST /api/scripts/:id/reset-revision
func (h *ScriptHandler) ResetRevision(c *fiber.Ctx) error {
	script, err := h.service.ResetStuckRevision(c.Context(), middleware.GetUserID(c), c.Params("id"))
	if err != nil {
		return h.scriptError(c, err)
	}
	return response.OK(c, script)
}

func (h *ScriptHandler) scriptError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrScriptNotFound), errors.Is(err, pipeline.ErrScriptNotOwned):
		return response.NotFound(c, "Script not found")
	case errors.Is(err, pipeline.ErrRevisionCapReached),
		errors.Is(err, pipeline.ErrRevisionInFlight),
		errors.Is(err, service.ErrScriptNotReviewable),
		errors.Is(err, service.ErrScriptNotRevising):
		return response.Conflict(c, err.Error())
	}
	return response.ServiceError(c, err.Error())
}
