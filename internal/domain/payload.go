package domain

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// EmailPayload carries the immutable send instructions of an EMAIL job.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from,omitempty"`
}

func ParseEmailPayload(raw json.RawMessage) (*EmailPayload, error) {
	var payload EmailPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid email payload: %v", ErrValidation, err)
	}
	return &payload, nil
}

func (p *EmailPayload) Validate() error {
	if strings.TrimSpace(p.To) == "" {
		return fmt.Errorf("%w: email recipient is required", ErrValidation)
	}
	if !strings.Contains(p.To, "@") {
		return fmt.Errorf("%w: invalid email recipient %q", ErrValidation, p.To)
	}
	if strings.TrimSpace(p.Subject) == "" {
		return fmt.Errorf("%w: email subject is required", ErrValidation)
	}
	if strings.TrimSpace(p.Body) == "" {
		return fmt.Errorf("%w: email body is required", ErrValidation)
	}
	return nil
}

// WebhookPayload carries the immutable send instructions of a WEBHOOK job.
type WebhookPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload json.RawMessage   `json:"payload"`
}

var allowedWebhookMethods = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

func ParseWebhookPayload(raw json.RawMessage) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid webhook payload: %v", ErrValidation, err)
	}
	return &payload, nil
}

// NormalizedMethod returns the upper-cased HTTP method, defaulting to POST.
func (p *WebhookPayload) NormalizedMethod() string {
	method := strings.ToUpper(strings.TrimSpace(p.Method))
	if method == "" {
		return http.MethodPost
	}
	return method
}

func (p *WebhookPayload) Validate() error {
	trimmedURL := strings.TrimSpace(p.URL)
	if trimmedURL == "" {
		return fmt.Errorf("%w: webhook url is required", ErrValidation)
	}

	parsed, err := url.ParseRequestURI(trimmedURL)
	if err != nil {
		return fmt.Errorf("%w: invalid webhook url %q", ErrValidation, p.URL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: webhook url must use http or https", ErrValidation)
	}

	if _, ok := allowedWebhookMethods[p.NormalizedMethod()]; !ok {
		return fmt.Errorf("%w: unsupported webhook method %q", ErrValidation, p.Method)
	}

	if len(p.Payload) == 0 {
		return fmt.Errorf("%w: webhook payload is required", ErrValidation)
	}

	return nil
}
