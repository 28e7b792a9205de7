package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/notifyco/notify-engine/internal/domain"
)

const defaultWebhookTimeout = 30 * time.Second

// WebhookProvider delivers WEBHOOK jobs to the customer's receiver with the
// method, headers and body from the job payload.
type WebhookProvider struct {
	client *resty.Client
}

func NewWebhookProvider(timeout time.Duration) *WebhookProvider {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return &WebhookProvider{client: client}
}

func NewWebhookProviderWithClient(client *resty.Client) (*WebhookProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookProvider{client: client}, nil
}

func (p *WebhookProvider) Send(ctx context.Context, job domain.Job, _ *domain.CustomerRouting) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	payload, err := domain.ParseWebhookPayload(job.Payload)
	if err != nil {
		return nil, &ProviderError{Message: "invalid webhook payload", Transient: false, Cause: err}
	}
	if err := payload.Validate(); err != nil {
		return nil, &ProviderError{Message: "invalid webhook payload", Transient: false, Cause: err}
	}

	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody([]byte(payload.Payload))
	for key, value := range payload.Headers {
		req.SetHeader(key, value)
	}

	response, err := req.Execute(payload.NormalizedMethod(), payload.URL)
	if err != nil {
		return nil, &ProviderError{
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "webhook returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &ProviderResponse{
			StatusCode: statusCode,
			Body:       responseBody,
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Body:       responseBody,
		Message:    ExtractMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}
