package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/notifyco/notify-engine/internal/domain"
	"github.com/notifyco/notify-engine/internal/middleware"
	"github.com/notifyco/notify-engine/internal/repository"
	"github.com/notifyco/notify-engine/internal/service"
	"github.com/notifyco/notify-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const testAPIKey = "test-api-key"

func TestJobIntegration_SubmitEmail(t *testing.T) {
	t.Parallel()

	svc := &stubJobService{
		submitFn: func(ctx context.Context, params service.SubmitParams) (*domain.Job, error) {
			if params.CustomerID != "cust-1" {
				t.Fatalf("customerId = %q, want cust-1 from admission", params.CustomerID)
			}
			if params.Type != domain.TypeEmail {
				t.Fatalf("type = %s, want EMAIL", params.Type)
			}

			payload, err := domain.ParseEmailPayload(params.Payload)
			if err != nil {
				return nil, err
			}
			if err := payload.Validate(); err != nil {
				return nil, err
			}

			return &domain.Job{
				ID:        "j-created",
				Type:      params.Type,
				Status:    domain.StatusPending,
				Priority:  params.Priority,
				CreatedAt: time.Now().UTC(),
			}, nil
		},
	}

	app := newJobTestApp(t, svc)

	validBody := `{"to":"user@example.com","subject":"hi","body":"hello","priority":"high"}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications/email", validBody)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	var accepted map[string]any
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if accepted["jobId"] != "j-created" {
		t.Fatalf("jobId = %v, want j-created", accepted["jobId"])
	}
	if accepted["status"] != "pending" {
		t.Fatalf("status = %v, want pending", accepted["status"])
	}
	if accepted["type"] != "email" {
		t.Fatalf("type = %v, want email", accepted["type"])
	}

	missingRecipient := `{"to":"","subject":"hi","body":"hello"}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/email", missingRecipient)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing recipient", resp.StatusCode)
	}

	badPriority := `{"to":"user@example.com","subject":"hi","body":"hello","priority":"urgent"}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/email", badPriority)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown priority", resp.StatusCode)
	}
}

func TestJobIntegration_SubmitWebhook(t *testing.T) {
	t.Parallel()

	svc := &stubJobService{
		submitFn: func(ctx context.Context, params service.SubmitParams) (*domain.Job, error) {
			payload, err := domain.ParseWebhookPayload(params.Payload)
			if err != nil {
				return nil, err
			}
			if err := payload.Validate(); err != nil {
				return nil, err
			}
			if payload.NormalizedMethod() != http.MethodPut {
				t.Fatalf("method = %s, want PUT", payload.NormalizedMethod())
			}

			return &domain.Job{
				ID:        "j-webhook",
				Type:      domain.TypeWebhook,
				Status:    domain.StatusPending,
				Priority:  params.Priority,
				CreatedAt: time.Now().UTC(),
			}, nil
		},
	}

	app := newJobTestApp(t, svc)

	validBody := `{"url":"https://receiver.example.com/hook","method":"put","payload":{"event":"order.paid"}}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications/webhook", validBody)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	var accepted map[string]any
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if accepted["type"] != "webhook" {
		t.Fatalf("type = %v, want webhook", accepted["type"])
	}

	badURL := `{"url":"ftp://receiver.example.com","payload":{"event":"x"}}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/webhook", badURL)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for non-http url", resp.StatusCode)
	}
}

func TestJobIntegration_SubmitDuplicateIdempotencyKey(t *testing.T) {
	t.Parallel()

	svc := &stubJobService{
		submitFn: func(ctx context.Context, params service.SubmitParams) (*domain.Job, error) {
			return nil, &domain.DuplicateError{ExistingJobID: "j-original"}
		},
	}

	app := newJobTestApp(t, svc)

	body := `{"to":"user@example.com","subject":"hi","body":"hello","idempotencyKey":"order-42"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/notifications/email", body)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409, body=%s", resp.StatusCode, string(respBody))
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["existingJobId"] != "j-original" {
		t.Fatalf("existingJobId = %v, want j-original", parsed["existingJobId"])
	}
	if parsed["message"] == "" {
		t.Fatal("conflict response must carry a message")
	}
}

func TestJobIntegration_GetJob(t *testing.T) {
	t.Parallel()

	errMsg := "404 - no such hook"
	svc := &stubJobService{
		getStatusFn: func(ctx context.Context, customerID, jobID string) (*domain.Job, error) {
			if jobID == "j-found" && customerID == "cust-1" {
				return &domain.Job{
					ID:           "j-found",
					Type:         domain.TypeWebhook,
					Status:       domain.StatusFailed,
					Priority:     domain.PriorityNormal,
					Attempts:     1,
					MaxAttempts:  3,
					ErrorMessage: &errMsg,
				}, nil
			}
			return nil, domain.ErrNotFound
		},
	}

	app := newJobTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications/jobs/j-found", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["status"] != "failed" {
		t.Fatalf("status = %v, want lower-cased failed", parsed["status"])
	}
	if parsed["type"] != "webhook" {
		t.Fatalf("type = %v, want lower-cased webhook", parsed["type"])
	}
	if parsed["errorMessage"] != errMsg {
		t.Fatalf("errorMessage = %v, want %q", parsed["errorMessage"], errMsg)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/notifications/jobs/not-exists", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestJobIntegration_GetJobAttempts(t *testing.T) {
	t.Parallel()

	code := 503
	svc := &stubJobService{
		getDeliveryLogsFn: func(ctx context.Context, customerID, jobID string) ([]domain.DeliveryLog, error) {
			if jobID != "j-found" {
				return nil, domain.ErrNotFound
			}
			return []domain.DeliveryLog{
				{ID: "l1", JobID: "j-found", Attempt: 1, Status: domain.AttemptFailed, StatusCode: &code},
				{ID: "l2", JobID: "j-found", Attempt: 2, Status: domain.AttemptSuccess},
			}, nil
		},
	}

	app := newJobTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications/jobs/j-found/attempts", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		JobID string           `json:"jobId"`
		Data  []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 2 {
		t.Fatalf("data len = %d, want 2", len(parsed.Data))
	}
	if parsed.Data[0]["attempt"] != float64(1) || parsed.Data[0]["status"] != "failed" {
		t.Fatalf("first attempt = %+v, want attempt 1 failed", parsed.Data[0])
	}
}

func TestJobIntegration_ListJobsPaginationAndFilters(t *testing.T) {
	t.Parallel()

	svc := &stubJobService{
		listFn: func(ctx context.Context, params repository.ListParams) (*service.ListResult, error) {
			if params.CustomerID != "cust-1" {
				t.Fatalf("customerId = %q, want cust-1", params.CustomerID)
			}
			if params.Page != 2 || params.Limit != 10 {
				t.Fatalf("page/limit = %d/%d, want 2/10", params.Page, params.Limit)
			}
			if params.Type == nil || *params.Type != domain.TypeEmail {
				t.Fatalf("type filter = %v, want EMAIL", params.Type)
			}
			if params.Status == nil || *params.Status != domain.StatusFailed {
				t.Fatalf("status filter = %v, want FAILED", params.Status)
			}

			return &service.ListResult{
				Jobs: []domain.Job{
					{ID: "j-1", Type: domain.TypeEmail, Status: domain.StatusFailed, Priority: domain.PriorityNormal},
				},
				Page:       2,
				Limit:      10,
				Total:      11,
				TotalPages: 2,
			}, nil
		},
	}

	app := newJobTestApp(t, svc)

	path := "/v1/notifications/jobs?page=2&limit=10&type=email&status=failed"
	resp, body := performRequest(t, app, http.MethodGet, path, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data       []map[string]any `json:"data"`
		Pagination struct {
			Page       int   `json:"page"`
			Limit      int   `json:"limit"`
			Total      int64 `json:"total"`
			TotalPages int   `json:"totalPages"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Pagination.Total != 11 || parsed.Pagination.TotalPages != 2 {
		t.Fatalf("pagination = %+v, want total=11,totalPages=2", parsed.Pagination)
	}
	if len(parsed.Data) != 1 {
		t.Fatalf("data len = %d, want 1", len(parsed.Data))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/notifications/jobs?limit=0", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for limit < 1", resp.StatusCode)
	}
}

func TestJobIntegration_ListJobsClampsOversizedLimit(t *testing.T) {
	t.Parallel()

	svc := &stubJobService{
		listFn: func(ctx context.Context, params repository.ListParams) (*service.ListResult, error) {
			if params.Limit != 100 {
				t.Fatalf("limit = %d, want clamped to 100", params.Limit)
			}
			return &service.ListResult{
				Page:       1,
				Limit:      params.Limit,
				Total:      0,
				TotalPages: 0,
			}, nil
		},
	}

	app := newJobTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications/jobs?limit=500", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 with clamped limit, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Pagination struct {
			Limit int `json:"limit"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Pagination.Limit != 100 {
		t.Fatalf("pagination limit = %d, want 100", parsed.Pagination.Limit)
	}
}

func TestJobIntegration_RetryJob(t *testing.T) {
	t.Parallel()

	svc := &stubJobService{
		retryFn: func(ctx context.Context, customerID, jobID string) (*domain.Job, error) {
			if jobID == "j-failed" {
				return &domain.Job{
					ID:       "j-failed",
					Type:     domain.TypeWebhook,
					Status:   domain.StatusPending,
					Priority: domain.PriorityHigh,
					Attempts: 0,
				}, nil
			}
			return nil, domain.ErrNotFound
		},
	}

	app := newJobTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications/jobs/j-failed/retry", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["status"] != "pending" {
		t.Fatalf("status = %v, want pending after retry", parsed["status"])
	}
	if parsed["attempts"] != float64(0) {
		t.Fatalf("attempts = %v, want 0 after retry", parsed["attempts"])
	}

	// COMPLETED/in-flight jobs are not eligible and look like a miss.
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/jobs/j-completed/retry", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for ineligible job", resp.StatusCode)
	}
}

func TestJobIntegration_AdmissionRejectsBadKeys(t *testing.T) {
	t.Parallel()

	app := newJobTestApp(t, &stubJobService{})

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications/jobs", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without api key", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/notifications/jobs", nil)
	req.Header.Set(middleware.APIKeyHeader, "wrong-key")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for unknown api key", resp.StatusCode)
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), newStubRedisClient(nil))

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})
}

type stubJobService struct {
	submitFn          func(ctx context.Context, params service.SubmitParams) (*domain.Job, error)
	getStatusFn       func(ctx context.Context, customerID, jobID string) (*domain.Job, error)
	getDeliveryLogsFn func(ctx context.Context, customerID, jobID string) ([]domain.DeliveryLog, error)
	listFn            func(ctx context.Context, params repository.ListParams) (*service.ListResult, error)
	retryFn           func(ctx context.Context, customerID, jobID string) (*domain.Job, error)
}

func (s *stubJobService) Submit(ctx context.Context, params service.SubmitParams) (*domain.Job, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (s *stubJobService) GetStatus(ctx context.Context, customerID, jobID string) (*domain.Job, error) {
	if s.getStatusFn != nil {
		return s.getStatusFn(ctx, customerID, jobID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubJobService) GetDeliveryLogs(ctx context.Context, customerID, jobID string) ([]domain.DeliveryLog, error) {
	if s.getDeliveryLogsFn != nil {
		return s.getDeliveryLogsFn(ctx, customerID, jobID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubJobService) List(ctx context.Context, params repository.ListParams) (*service.ListResult, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return &service.ListResult{}, nil
}

func (s *stubJobService) Retry(ctx context.Context, customerID, jobID string) (*domain.Job, error) {
	if s.retryFn != nil {
		return s.retryFn(ctx, customerID, jobID)
	}
	return nil, domain.ErrNotFound
}

type stubGate struct{}

func (stubGate) ResolveAPIKey(_ context.Context, apiKey string) (string, error) {
	if apiKey == testAPIKey {
		return "cust-1", nil
	}
	return "", domain.ErrNotFound
}

func newJobTestApp(t *testing.T, svc JobService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	app.Use(middleware.Admission(stubGate{}, nil, zap.NewNop()))

	if err := RegisterJobRoutes(app, svc); err != nil {
		t.Fatalf("RegisterJobRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(middleware.APIKeyHeader, testAPIKey)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") {
			if h.pingErr != nil {
				cmd.SetErr(h.pingErr)
				return h.pingErr
			}
			cmd.SetErr(nil)
			return nil
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
