package providers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
)

// Chain tries providers in order and returns the first answer. A
// *StatusError stops the chain: the query itself was rejected and another
// provider would not know the place either.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{providers: providers, logger: logger}
}

func (c *Chain) Name() string {
	return "chain"
}

var errNoProviders = errors.New("no weather providers configured")

func (c *Chain) Fetch(ctx context.Context, q Query) (json.RawMessage, error) {
	lastErr := errNoProviders
	for _, p := range c.providers {
		data, err := p.Fetch(ctx, q)
		if err == nil {
			return data, nil
		}

		var se *StatusError
		if errors.As(err, &se) {
			return nil, err
		}
		c.logger.Warn("provider failed", "provider", p.Name(), "city", q.City, "error", err)
		lastErr = err
	}
	return nil, lastErr
}
