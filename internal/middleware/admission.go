package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/notifyco/notify-engine/internal/domain"
	"github.com/notifyco/notify-engine/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	// APIKeyHeader authenticates every tenant-facing request.
	APIKeyHeader = "X-API-Key"

	customerIDLocal = "customerId"
)

// AdmissionGate resolves an API key to the owning customer id. Key issuance
// and rotation live in the account subsystem; this service only consumes
// the resolution.
type AdmissionGate interface {
	ResolveAPIKey(ctx context.Context, apiKey string) (string, error)
}

// CustomerID returns the customer id resolved by the admission middleware,
// or the empty string before admission ran.
func CustomerID(c *fiber.Ctx) string {
	id, _ := c.Locals(customerIDLocal).(string)
	return id
}

// Admission authenticates the request via API key and applies the
// per-customer submission rate limit. The resolved customer id is stored on
// the request for handlers downstream.
func Admission(gate AdmissionGate, limiter ratelimit.RateLimiter, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		apiKey := strings.TrimSpace(c.Get(APIKeyHeader))
		if apiKey == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing api key")
		}

		customerID, err := gate.ResolveAPIKey(c.Context(), apiKey)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fiber.NewError(fiber.StatusUnauthorized, "invalid api key")
			}
			logger.Error("api key resolution failed", zap.Error(err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "admission unavailable")
		}

		if limiter != nil {
			allowed, err := limiter.Allow(c.Context(), customerScope(customerID))
			if err != nil {
				// Fail open: a limiter outage must not take the API down.
				logger.Warn("rate limiter unavailable, allowing request",
					zap.String("customerId", customerID),
					zap.Error(err),
				)
			} else if !allowed {
				return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
			}
		}

		c.Locals(customerIDLocal, customerID)
		return c.Next()
	}
}

func customerScope(customerID string) string {
	return fmt.Sprintf("customer:%s", customerID)
}
