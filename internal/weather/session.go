// Package weather drives the chat wizard: it feeds user input to the
// conversation, issues the weather request once the location is complete,
// classifies the response and hands the result to a Presenter.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-chat/internal/auth"
	"github.com/i474232898/weather-chat/internal/conversation"
	"github.com/i474232898/weather-chat/internal/kv"
	"github.com/i474232898/weather-chat/internal/transport"
)

// WeatherPath is the weather endpoint relative to the API base URL.
const WeatherPath = "/api/weather/"

// DefaultRedirectDelay separates the anonymous rate-limit message from the
// redirect to login.
const DefaultRedirectDelay = 3 * time.Second

// User-facing messages.
const (
	MsgFetching        = "Fetching weather..."
	MsgFetchFailed     = "Unable to fetch weather"
	MsgAnonRateLimited = "You have reached the limit for anonymous searches. Redirecting you to login..."
	MsgUserRateLimited = "Too many requests. Please try again later."
	MsgNetwork         = "Unable to reach the weather service. Check your connection and try again."
	MsgSessionExpired  = "Your session has expired. Please log in again."
)

const (
	keySnapshot = "weather_data"
	keyParams   = "weather_params"

	maxBodyBytes = 1 << 20
)

var (
	// ErrBusy is returned while a weather request is already in flight.
	ErrBusy = errors.New("weather request already in flight")
	// ErrNotReady is returned when the conversation has not collected all
	// three fields.
	ErrNotReady = errors.New("location is incomplete")
)

// Outcome classifies how a fetch ended.
type Outcome int

const (
	// OutcomeNone means the input was rejected or a precondition failed.
	OutcomeNone Outcome = iota
	// OutcomePrompted means the conversation moved to its next question.
	OutcomePrompted
	OutcomeRendered
	OutcomeFailed
	OutcomeRateLimited
	// OutcomeStale means the conversation or credentials changed while the
	// request was in flight and its result was dropped.
	OutcomeStale
)

// Authenticator is the subset of *auth.Client the session needs.
type Authenticator interface {
	IsLoggedIn(ctx context.Context) bool
	Do(req *http.Request) (*http.Response, error)
	Epoch() uint64
}

// Presenter receives everything the user should see. ShowError replaces the
// pending prompt with a retry affordance that leads to Reset.
type Presenter interface {
	Prompt(text string)
	Busy(text string)
	Render(snap Snapshot, params conversation.SearchParams)
	ShowError(message string)
}

// Scheduler runs fn once after d and returns a cancel func.
type Scheduler interface {
	After(d time.Duration, fn func()) (cancel func())
}

// Options configures a Session.
type Options struct {
	BaseURL       string
	RedirectDelay time.Duration

	Auth Authenticator
	// Anonymous dispatches requests when nobody is logged in.
	Anonymous transport.Doer
	// Cache is session-scoped storage for the last rendered result.
	Cache     kv.Store
	Presenter Presenter
	Navigator auth.Navigator
	Scheduler Scheduler
	Logger    *slog.Logger
}

// Session owns one ConversationState and everything needed to turn it into
// a rendered weather report.
type Session struct {
	opts   Options
	logger *slog.Logger

	// applyMu orders Reset against applying a fetched result.
	applyMu sync.Mutex

	mu             sync.Mutex
	conv           *conversation.State
	convID         uuid.UUID
	cancelRedirect func()

	busy atomic.Bool
}

// NewSession creates a Session awaiting the city.
func NewSession(opts Options) *Session {
	if opts.RedirectDelay <= 0 {
		opts.RedirectDelay = DefaultRedirectDelay
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		opts:   opts,
		logger: logger,
		conv:   conversation.New(),
		convID: uuid.New(),
	}
}

// Step returns the current conversation step.
func (s *Session) Step() conversation.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Step()
}

// Params returns the collected search params.
func (s *Session) Params() conversation.SearchParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Params()
}

// Start restores the persisted result if there is one, otherwise asks the
// first question.
func (s *Session) Start(ctx context.Context) {
	if s.Restore(ctx) {
		return
	}
	s.opts.Presenter.Prompt(conversation.PromptCity)
}

// Submit handles one line of user input. Blank input and input while
// submitting are rejected with the conversation's errors and change nothing.
// The answer that completes the location is refused with ErrBusy while an
// earlier request is still in flight.
func (s *Session) Submit(ctx context.Context, input string) (Outcome, error) {
	s.mu.Lock()
	final := s.conv.Step() == conversation.AwaitingCountry && strings.TrimSpace(input) != ""
	if final && !s.busy.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return OutcomeNone, ErrBusy
	}
	tr, err := s.conv.Advance(input)
	s.mu.Unlock()
	if final && (err != nil || !tr.Submit) {
		s.busy.Store(false)
	}
	if err != nil {
		return OutcomeNone, err
	}

	if !tr.Submit {
		s.opts.Presenter.Prompt(tr.Prompt)
		return OutcomePrompted, nil
	}
	defer s.busy.Store(false)
	return s.fetch(ctx)
}

// Reset discards the persisted result, clears the conversation and asks the
// first question again. A request still in flight is ignored when it returns.
func (s *Session) Reset(ctx context.Context) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.clearPersisted(ctx)

	s.mu.Lock()
	prompt := s.conv.Reset()
	s.convID = uuid.New()
	s.mu.Unlock()

	s.opts.Presenter.Prompt(prompt)
}

// Close cancels a pending login redirect.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRedirect != nil {
		s.cancelRedirect()
		s.cancelRedirect = nil
	}
}

// FetchWeather issues the weather request for the collected params. The
// returned error is non-nil only for unmet preconditions; every request
// failure is classified, shown through the Presenter and reported in the
// Outcome.
func (s *Session) FetchWeather(ctx context.Context) (Outcome, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return OutcomeNone, ErrBusy
	}
	defer s.busy.Store(false)
	return s.fetch(ctx)
}

// fetch runs with busy held.
func (s *Session) fetch(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	step, params, id := s.conv.Step(), s.conv.Params(), s.convID
	s.mu.Unlock()

	if step != conversation.Submitting || !params.Complete() {
		return OutcomeNone, ErrNotReady
	}

	epoch := s.opts.Auth.Epoch()
	s.opts.Presenter.Busy(MsgFetching)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.BaseURL+WeatherPath+"?"+Query(params), nil)
	if err != nil {
		s.logger.Error("build weather request", "error", err)
		s.opts.Presenter.ShowError(MsgFetchFailed)
		return OutcomeFailed, nil
	}
	req.Header.Set("Accept", "application/json")

	loggedIn := s.opts.Auth.IsLoggedIn(ctx)
	var resp *http.Response
	if loggedIn {
		resp, err = s.opts.Auth.Do(req)
	} else {
		resp, err = s.opts.Anonymous.Do(req)
	}

	if s.stale(id, epoch) {
		if resp != nil {
			resp.Body.Close()
		}
		s.logger.Info("dropping stale weather response", "city", params.City)
		return OutcomeStale, nil
	}

	var body []byte
	if err == nil {
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
	}

	// Reset holds applyMu, so the result is either applied whole before it
	// or dropped after it.
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if s.stale(id, epoch) {
		s.logger.Info("dropping stale weather response", "city", params.City)
		return OutcomeStale, nil
	}

	if err != nil {
		if errors.Is(err, auth.ErrSessionExpired) {
			s.logger.Warn("weather request ended session", "error", err)
			s.opts.Presenter.ShowError(MsgSessionExpired)
		} else {
			s.logger.Warn("weather request failed", "error", err)
			s.opts.Presenter.ShowError(MsgNetwork)
		}
		return OutcomeFailed, nil
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		snap, err := ParseSnapshot(body)
		if err != nil {
			s.logger.Warn("malformed weather response", "error", err)
			s.opts.Presenter.ShowError(MsgFetchFailed)
			return OutcomeFailed, nil
		}
		s.persist(ctx, snap, params)
		s.opts.Presenter.Render(snap, params)
		return OutcomeRendered, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		apiErr := decodeError(body)
		if !loggedIn {
			s.logger.Info("anonymous rate limit reached", "server_message", apiErr.message())
			s.opts.Presenter.ShowError(MsgAnonRateLimited)
			s.scheduleLoginRedirect()
		} else {
			s.opts.Presenter.ShowError(firstNonEmpty(apiErr.Detail, apiErr.Error, MsgUserRateLimited))
		}
		return OutcomeRateLimited, nil

	default:
		apiErr := decodeError(body)
		s.logger.Info("weather request rejected", "status", resp.StatusCode, "server_message", apiErr.message())
		s.opts.Presenter.ShowError(firstNonEmpty(apiErr.Error, MsgFetchFailed))
		return OutcomeFailed, nil
	}
}

func (s *Session) stale(id uuid.UUID, epoch uint64) bool {
	s.mu.Lock()
	current := s.convID
	s.mu.Unlock()
	return current != id || s.opts.Auth.Epoch() != epoch
}

func (s *Session) scheduleLoginRedirect() {
	if s.opts.Scheduler == nil || s.opts.Navigator == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRedirect != nil {
		s.cancelRedirect()
	}
	s.cancelRedirect = s.opts.Scheduler.After(s.opts.RedirectDelay, s.opts.Navigator.ToLogin)
}

// Query encodes params as city, state, country in that order.
func Query(p conversation.SearchParams) string {
	return "city=" + url.QueryEscape(p.City) +
		"&state=" + url.QueryEscape(p.State) +
		"&country=" + url.QueryEscape(p.Country)
}

type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (e apiError) message() string { return firstNonEmpty(e.Error, e.Detail) }

func decodeError(body []byte) apiError {
	var e apiError
	_ = json.Unmarshal(body, &e)
	return e
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
