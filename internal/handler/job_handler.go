package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/notifyco/notify-engine/internal/domain"
	"github.com/notifyco/notify-engine/internal/middleware"
	"github.com/notifyco/notify-engine/internal/repository"
	"github.com/notifyco/notify-engine/internal/service"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100
)

type JobService interface {
	Submit(ctx context.Context, params service.SubmitParams) (*domain.Job, error)
	GetStatus(ctx context.Context, customerID, jobID string) (*domain.Job, error)
	GetDeliveryLogs(ctx context.Context, customerID, jobID string) ([]domain.DeliveryLog, error)
	List(ctx context.Context, params repository.ListParams) (*service.ListResult, error)
	Retry(ctx context.Context, customerID, jobID string) (*domain.Job, error)
}

type JobHandler struct {
	service JobService
}

func NewJobHandler(service JobService) (*JobHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("job service is required")
	}
	return &JobHandler{service: service}, nil
}

func RegisterJobRoutes(router fiber.Router, service JobService) error {
	h, err := NewJobHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications/email", h.SubmitEmail)
	v1.Post("/notifications/webhook", h.SubmitWebhook)
	v1.Get("/notifications/jobs", h.ListJobs)
	v1.Get("/notifications/jobs/:id", h.GetJob)
	v1.Get("/notifications/jobs/:id/attempts", h.GetJobAttempts)
	v1.Post("/notifications/jobs/:id/retry", h.RetryJob)

	return nil
}

type submitEmailRequest struct {
	To             string  `json:"to"`
	Subject        string  `json:"subject"`
	Body           string  `json:"body"`
	From           string  `json:"from,omitempty"`
	Priority       string  `json:"priority,omitempty"`
	IdempotencyKey *string `json:"idempotencyKey,omitempty"`
}

type submitWebhookRequest struct {
	URL            string            `json:"url"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Payload        json.RawMessage   `json:"payload"`
	Priority       string            `json:"priority,omitempty"`
	IdempotencyKey *string           `json:"idempotencyKey,omitempty"`
}

type submitResponse struct {
	JobID     string    `json:"jobId"`
	Status    string    `json:"status"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

type jobResponse struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	Priority     string     `json:"priority"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"maxAttempts"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

type listJobsResponse struct {
	Data       []jobResponse  `json:"data"`
	Pagination listPagination `json:"pagination"`
}

type listPagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

type deliveryLogResponse struct {
	Attempt      int       `json:"attempt"`
	Status       string    `json:"status"`
	StatusCode   *int      `json:"statusCode,omitempty"`
	ResponseBody *string   `json:"responseBody,omitempty"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (h *JobHandler) SubmitEmail(c *fiber.Ctx) error {
	var req submitEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	payload, err := json.Marshal(domain.EmailPayload{
		To:      strings.TrimSpace(req.To),
		Subject: strings.TrimSpace(req.Subject),
		Body:    req.Body,
		From:    strings.TrimSpace(req.From),
	})
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	return h.submit(c, domain.TypeEmail, payload, req.Priority, req.IdempotencyKey)
}

func (h *JobHandler) SubmitWebhook(c *fiber.Ctx) error {
	var req submitWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	payload, err := json.Marshal(domain.WebhookPayload{
		URL:     strings.TrimSpace(req.URL),
		Method:  req.Method,
		Headers: req.Headers,
		Payload: req.Payload,
	})
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	return h.submit(c, domain.TypeWebhook, payload, req.Priority, req.IdempotencyKey)
}

func (h *JobHandler) submit(c *fiber.Ctx, jobType domain.JobType, payload json.RawMessage, rawPriority string, idempotencyKey *string) error {
	priority := domain.PriorityNormal
	if strings.TrimSpace(rawPriority) != "" {
		parsed, err := domain.ParsePriorityFromString(rawPriority)
		if err != nil {
			return toHTTPError(err)
		}
		priority = parsed
	}

	job, err := h.service.Submit(c.Context(), service.SubmitParams{
		CustomerID:     middleware.CustomerID(c),
		Type:           jobType,
		Payload:        payload,
		Priority:       priority,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		var dup *domain.DuplicateError
		if errors.As(err, &dup) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"message":       "a job with this idempotency key already exists",
				"existingJobId": dup.ExistingJobID,
			})
		}
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(submitResponse{
		JobID:     job.ID,
		Status:    strings.ToLower(job.Status.String()),
		Type:      strings.ToLower(job.Type.String()),
		CreatedAt: job.CreatedAt,
	})
}

func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	job, err := h.service.GetStatus(c.Context(), middleware.CustomerID(c), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func (h *JobHandler) GetJobAttempts(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	logs, err := h.service.GetDeliveryLogs(c.Context(), middleware.CustomerID(c), id)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]deliveryLogResponse, 0, len(logs))
	for _, l := range logs {
		items = append(items, deliveryLogResponse{
			Attempt:      l.Attempt,
			Status:       strings.ToLower(l.Status.String()),
			StatusCode:   l.StatusCode,
			ResponseBody: l.ResponseBody,
			ErrorMessage: l.ErrorMessage,
			CreatedAt:    l.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"jobId": id,
		"data":  items,
	})
}

func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}
	params.CustomerID = middleware.CustomerID(c)

	result, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]jobResponse, 0, len(result.Jobs))
	for i := range result.Jobs {
		data = append(data, toJobResponse(&result.Jobs[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listJobsResponse{
		Data: data,
		Pagination: listPagination{
			Page:       result.Page,
			Limit:      result.Limit,
			Total:      result.Total,
			TotalPages: result.TotalPages,
		},
	})
}

func (h *JobHandler) RetryJob(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	job, err := h.service.Retry(c.Context(), middleware.CustomerID(c), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:  c.QueryInt("page", defaultPage),
		Limit: c.QueryInt("limit", defaultLimit),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.Limit < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: limit must be >= 1", domain.ErrValidation)
	}
	// Oversized limits are clamped, not rejected.
	params.Limit = min(params.Limit, maxLimit)

	if rawType := strings.TrimSpace(c.Query("type")); rawType != "" {
		jobType, err := domain.ParseJobTypeFromString(rawType)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Type = &jobType
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	return params, nil
}

func toJobResponse(j *domain.Job) jobResponse {
	if j == nil {
		return jobResponse{}
	}

	return jobResponse{
		ID:           j.ID,
		Type:         strings.ToLower(j.Type.String()),
		Status:       strings.ToLower(j.Status.String()),
		Priority:     strings.ToLower(j.Priority.String()),
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}

func toHTTPError(err error) error {
	switch {
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
