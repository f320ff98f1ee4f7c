package ai

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

// RateLimitedGenerator throttles calls to a wrapped generator so bursts of
// chat traffic stay inside the provider's request quota.
type RateLimitedGenerator struct {
	next    port.Generator
	limiter *rate.Limiter
}

// NewRateLimitedGenerator allows rps requests per second with a burst of
// max(1, rps). rps <= 0 returns next unchanged.
func NewRateLimitedGenerator(next port.Generator, rps float64) port.Generator {
	if rps <= 0 {
		return next
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedGenerator{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Generate waits for a token, then delegates.
func (r *RateLimitedGenerator) Generate(ctx context.Context, prompt, modelID string, temperature float64) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &port.TransientError{Err: err}
	}
	return r.next.Generate(ctx, prompt, modelID, temperature)
}
