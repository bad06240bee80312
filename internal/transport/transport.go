// Package transport wraps the outbound HTTP client with a circuit breaker and
// classifies connectivity failures.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// RequestIDHeader carries a per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

var (
	// ErrNetwork marks connectivity-level failures: DNS, refused connections,
	// timeouts, an open circuit.
	ErrNetwork = errors.New("network failure")
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker open")

	errServerError = errors.New("server error")
)

// Doer issues HTTP requests. *http.Client and *Client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Settings controls the breaker.
type Settings struct {
	Name string
	// MaxFailures consecutive failures trip the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// Client is a Doer that trips a circuit breaker on transport errors and 5xx
// responses. Every response, whatever its status, is handed back to the
// caller untouched; only transport errors become errors.
type Client struct {
	http    *http.Client
	circuit *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New wraps client. A nil logger uses slog.Default().
func New(client *http.Client, s Settings, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if s.Name == "" {
		s.Name = "http"
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    s.Name,
		Timeout: s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{http: client, circuit: cb, logger: logger}
}

// Do executes req through the breaker.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get(RequestIDHeader) == "" {
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}

	result, err := c.circuit.Execute(func() (interface{}, error) {
		resp, execErr := c.http.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		if resp.StatusCode >= 500 {
			return resp, errServerError
		}
		return resp, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w: %w", ErrNetwork, ErrCircuitOpen, err)
	}
	if err != nil && !errors.Is(err, errServerError) {
		c.logger.Debug("request failed", "method", req.Method, "url", req.URL.Redacted(), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	resp, ok := result.(*http.Response)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return resp, nil
}

// State reports the breaker state.
func (c *Client) State() gobreaker.State {
	return c.circuit.State()
}
