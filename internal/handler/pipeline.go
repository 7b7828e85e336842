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

type PipelineHandler struct {
	service   *service.PipelineService
	validator *validator.Validate
}

func NewPipelineHandler(svc *service.PipelineService, v *validator.Validate) *PipelineHandler {
	return &PipelineHandler{
		service:   svc,
		validator: v,
	}
}

// ProcessItem handles POST /api/pipeline/items
func (h *PipelineHandler) ProcessItem(c *fiber.Ctx) error {
	var req model.ProcessItemRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.ProcessItem(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.Accepted(c, result)
}

// TriggerBatch handles POST /api/pipeline/batch
func (h *PipelineHandler) TriggerBatch(c *fiber.Ctx) error {
	result, err := h.service.TriggerBatch(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.Accepted(c, result)
}

// GetStatus handles GET /api/pipeline/items/:id
func (h *PipelineHandler) GetStatus(c *fiber.Ctx) error {
	result, err := h.service.GetStatus(c.Context(), middleware.GetUserID(c), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return response.NotFound(c, "Item not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}

// ListItems handles GET /api/pipeline/items
func (h *PipelineHandler) ListItems(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	items, err := h.service.ListItems(c.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"items": items})
}

// Retry handles POST /api/pipeline/items/:id/retry
func (h *PipelineHandler) Retry(c *fiber.Ctx) error {
	result, err := h.service.Retry(c.Context(), middleware.GetUserID(c), c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrItemNotFound):
			return response.NotFound(c, "Item not found")
		case errors.Is(err, pipeline.ErrRetryNotAllowed), errors.Is(err, pipeline.ErrRetryCapReached):
			return response.Conflict(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}
	return response.Accepted(c, result)
}

// Cancel handles POST /api/pipeline/items/:id/cancel
func (h *PipelineHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.Context(), middleware.GetUserID(c), c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrItemNotFound):
			return response.NotFound(c, "Item not found")
		case errors.Is(err, service.ErrItemNotCancellable):
			return response.Conflict(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
