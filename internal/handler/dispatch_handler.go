package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/samknelson/sirius-dispatch/internal/domain"
)

type DispatchService interface {
	SetStatus(ctx context.Context, dispatchID string, target domain.DispatchStatus) (*domain.Dispatch, error)
	StatusOptions(ctx context.Context, dispatchID string) ([]domain.StatusOption, error)
	Create(ctx context.Context, workerID, jobID string, initial domain.DispatchStatus) (*domain.Dispatch, error)
	Get(ctx context.Context, id string) (*domain.Dispatch, error)
	List(ctx context.Context, jobID string) ([]domain.Dispatch, error)
}

type DispatchHandler struct {
	service DispatchService
}

func NewDispatchHandler(service DispatchService) (*DispatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	return &DispatchHandler{service: service}, nil
}

func RegisterDispatchRoutes(router fiber.Router, service DispatchService) error {
	h, err := NewDispatchHandler(service)
	if err != nil {
		return err
	}

	api := router.Group("/api")
	api.Post("/dispatches", h.CreateDispatch)
	api.Get("/dispatches", h.ListDispatches)
	api.Get("/dispatches/:id", h.GetDispatch)
	api.Get("/dispatches/:id/status-options", h.StatusOptions)
	api.Post("/dispatches/:id/set-status", h.SetStatus)

	return nil
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type createDispatchRequest struct {
	WorkerID string `json:"workerId"`
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
}

type dispatchResponse struct {
	ID             string    `json:"id"`
	WorkerID       string    `json:"workerId"`
	JobID          string    `json:"jobId"`
	Status         string    `json:"status"`
	PreviousStatus *string   `json:"previousStatus,omitempty"`
	CommIDs        []string  `json:"commIds"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

func (h *DispatchHandler) SetStatus(c *fiber.Ctx) error {
	var req setStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Status) == "" {
		return toHTTPError(fmt.Errorf("%w: status is required", domain.ErrValidation))
	}

	target, err := domain.ParseDispatchStatus(req.Status)
	if err != nil {
		return toHTTPError(err)
	}

	updated, err := h.service.SetStatus(c.UserContext(), c.Params("id"), target)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDispatchResponse(updated))
}

func (h *DispatchHandler) StatusOptions(c *fiber.Ctx) error {
	options, err := h.service.StatusOptions(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(options)
}

func (h *DispatchHandler) GetDispatch(c *fiber.Ctx) error {
	dispatch, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toDispatchResponse(dispatch))
}

func (h *DispatchHandler) ListDispatches(c *fiber.Ctx) error {
	dispatches, err := h.service.List(c.UserContext(), strings.TrimSpace(c.Query("jobId")))
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]dispatchResponse, 0, len(dispatches))
	for i := range dispatches {
		responses = append(responses, toDispatchResponse(&dispatches[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *DispatchHandler) CreateDispatch(c *fiber.Ctx) error {
	var req createDispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	var initial domain.DispatchStatus
	if strings.TrimSpace(req.Status) != "" {
		parsed, err := domain.ParseDispatchStatus(req.Status)
		if err != nil {
			return toHTTPError(err)
		}
		initial = parsed
	}

	created, err := h.service.Create(c.UserContext(), req.WorkerID, req.JobID, initial)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toDispatchResponse(created))
}

func toDispatchResponse(d *domain.Dispatch) dispatchResponse {
	resp := dispatchResponse{
		ID:        d.ID,
		WorkerID:  d.WorkerID,
		JobID:     d.JobID,
		Status:    d.Status.String(),
		CommIDs:   append([]string{}, d.CommIDs...),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.PreviousStatus != nil {
		previous := d.PreviousStatus.String()
		resp.PreviousStatus = &previous
	}
	return resp
}

// toHTTPError maps domain errors to status codes. Invalid transitions carry
// their reason as the message.
func toHTTPError(err error) error {
	var invalid *domain.InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		return fiber.NewError(fiber.StatusBadRequest, invalid.Reason)
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
