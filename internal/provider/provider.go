package provider

import (
	"context"

	"github.com/notifyco/notify-engine/internal/domain"
)

// Provider is the outbound delivery port. Routing carries the owning
// customer's channel attributes resolved at attempt time; providers that do
// not need it accept nil.
type Provider interface {
	Send(ctx context.Context, job domain.Job, routing *domain.CustomerRouting) (*ProviderResponse, error)
}

// ProviderResponse stores transport call metadata for audit and persistence.
type ProviderResponse struct {
	StatusCode int
	Body       string
}
