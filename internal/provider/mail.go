package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/notifyco/notify-engine/internal/domain"
)

const defaultMailTimeout = 30 * time.Second

type mailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// MailProvider delivers EMAIL jobs through the outbound mail API.
// A per-customer transport credential overrides the service-level key.
type MailProvider struct {
	client     *resty.Client
	endpoint   string
	defaultKey string
}

func NewMailProvider(endpoint, apiKey string) (*MailProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultMailTimeout)
	client.SetRetryCount(0)

	return NewMailProviderWithClient(endpoint, apiKey, client)
}

func NewMailProviderWithClient(endpoint, apiKey string, client *resty.Client) (*MailProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("mail api endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid mail api endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultMailTimeout)
	}
	client.SetRetryCount(0)

	return &MailProvider{
		client:     client,
		endpoint:   trimmedEndpoint,
		defaultKey: strings.TrimSpace(apiKey),
	}, nil
}

func (p *MailProvider) Send(ctx context.Context, job domain.Job, routing *domain.CustomerRouting) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	payload, err := domain.ParseEmailPayload(job.Payload)
	if err != nil {
		return nil, &ProviderError{Message: "invalid email payload", Transient: false, Cause: err}
	}

	// Pre-flight checks fail permanently; the job must not burn retries on
	// a misconfigured sender.
	if routing == nil || !routing.SendingDomainVerified {
		return nil, &ProviderError{Message: "sending domain not verified", Transient: false}
	}

	apiKey := p.defaultKey
	if routing.MailAPIKey != nil && strings.TrimSpace(*routing.MailAPIKey) != "" {
		apiKey = strings.TrimSpace(*routing.MailAPIKey)
	}

	reqBody := mailRequest{
		From:    payload.From,
		To:      payload.To,
		Subject: payload.Subject,
		Body:    payload.Body,
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+apiKey).
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "mail api request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "mail api returned empty response",
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
