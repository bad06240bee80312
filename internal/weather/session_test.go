package weather

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/i474232898/weather-chat/internal/auth"
	"github.com/i474232898/weather-chat/internal/conversation"
	"github.com/i474232898/weather-chat/internal/kv"
	"github.com/i474232898/weather-chat/internal/tokens"
	"github.com/i474232898/weather-chat/internal/transport"
)

const parisBody = `{"coord":{"lon":2.3488,"lat":48.8534},"weather":[{"id":800,"main":"Clear","description":"clear sky","icon":"01d"}],"main":{"temp":18.4,"feels_like":17.9,"temp_min":16.1,"temp_max":20.2,"pressure":1021,"humidity":60},"visibility":10000,"wind":{"speed":3.6,"deg":250},"clouds":{"all":0},"dt":1718000000,"sys":{"country":"FR","sunrise":1717991000,"sunset":1718049000},"timezone":7200,"name":"Paris"}`

type recordingPresenter struct {
	mu      sync.Mutex
	prompts []string
	busy    []string
	renders []conversation.SearchParams
	snaps   []Snapshot
	errors  []string
}

func (p *recordingPresenter) Prompt(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, text)
}

func (p *recordingPresenter) Busy(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = append(p.busy, text)
}

func (p *recordingPresenter) Render(snap Snapshot, params conversation.SearchParams) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snap)
	p.renders = append(p.renders, params)
}

func (p *recordingPresenter) ShowError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, message)
}

func (p *recordingPresenter) lastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errors) == 0 {
		return ""
	}
	return p.errors[len(p.errors)-1]
}

func (p *recordingPresenter) renderCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.renders)
}

type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	jobs   []func()
}

func (f *fakeScheduler) After(d time.Duration, fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	f.jobs = append(f.jobs, fn)
	return func() {}
}

type countingNav struct{ n atomic.Int32 }

func (c *countingNav) ToLogin() { c.n.Add(1) }

type harness struct {
	srv       *httptest.Server
	store     *tokens.Store
	client    *auth.Client
	cache     *kv.Memory
	presenter *recordingPresenter
	sched     *fakeScheduler
	nav       *countingNav
	session   *Session

	weatherCalls atomic.Int32
	queries      chan string
}

func newHarness(t *testing.T, weather http.HandlerFunc) *harness {
	t.Helper()
	h := &harness{
		cache:     kv.NewMemory(),
		presenter: &recordingPresenter{},
		sched:     &fakeScheduler{},
		nav:       &countingNav{},
		queries:   make(chan string, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WeatherPath, func(w http.ResponseWriter, r *http.Request) {
		h.weatherCalls.Add(1)
		h.queries <- r.URL.RawQuery
		weather(w, r)
	})
	mux.HandleFunc(auth.RefreshPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc(HistoryPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `[{"id":"h1","city_name_queried":"Paris","city":"PARIS","country":"FR","timestamp":"2026-10-01T10:00:00Z"}]`)
	})
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)

	h.store = tokens.NewStore(kv.NewMemory())
	h.client = auth.NewClient(h.srv.URL, h.srv.Client(), h.store, h.nav, nil)
	h.session = h.newSession()
	return h
}

func (h *harness) newSession() *Session {
	return NewSession(Options{
		BaseURL:   h.srv.URL,
		Auth:      h.client,
		Anonymous: h.srv.Client(),
		Cache:     h.cache,
		Presenter: h.presenter,
		Navigator: h.nav,
		Scheduler: h.sched,
	})
}

func (h *harness) answer(t *testing.T, city, state, country string) Outcome {
	t.Helper()
	ctx := context.Background()
	for _, in := range []string{city, state} {
		out, err := h.session.Submit(ctx, in)
		if err != nil || out != OutcomePrompted {
			t.Fatalf("submit %q: %v %v", in, out, err)
		}
	}
	out, err := h.session.Submit(ctx, country)
	if err != nil {
		t.Fatalf("submit %q: %v", country, err)
	}
	return out
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

// TestSuccessfulFetchRendersAndPersists verifies the happy path from the
// last answer to a rendered and persisted report.
func TestSuccessfulFetchRendersAndPersists(t *testing.T) {
	h := newHarness(t, jsonHandler(http.StatusOK, parisBody))

	if out := h.answer(t, "Paris", "IDF", "FR"); out != OutcomeRendered {
		t.Fatalf("expected rendered outcome, got %v", out)
	}

	if q := <-h.queries; q != "city=Paris&state=IDF&country=FR" {
		t.Fatalf("unexpected query %q", q)
	}
	if h.presenter.renderCount() != 1 {
		t.Fatalf("expected one render, got %d", h.presenter.renderCount())
	}
	want := conversation.SearchParams{City: "Paris", State: "IDF", Country: "FR"}
	if h.presenter.renders[0] != want {
		t.Fatalf("expected params %+v, got %+v", want, h.presenter.renders[0])
	}
	snap := h.presenter.snaps[0]
	if snap.Main == nil || snap.Main.Temp != 18.4 || snap.Sys == nil || snap.Sys.Country != "FR" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Condition() != ConditionClear {
		t.Fatalf("expected clear condition, got %s", snap.Condition())
	}
	if len(h.presenter.busy) != 1 || h.presenter.busy[0] != MsgFetching {
		t.Fatalf("expected fetching indicator, got %v", h.presenter.busy)
	}
	if h.cache.Len() != 2 {
		t.Fatalf("expected persisted pair, got %d keys", h.cache.Len())
	}
	if h.session.Step() != conversation.Submitting {
		t.Fatalf("expected Submitting, got %s", h.session.Step())
	}
}

func TestQueryIsEncoded(t *testing.T) {
	h := newHarness(t, jsonHandler(http.StatusOK, parisBody))
	h.answer(t, "New York", "NY", "US & Co")

	if q := <-h.queries; q != "city=New+York&state=NY&country=US+%26+Co" {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestBlankInputIsIgnored(t *testing.T) {
	h := newHarness(t, jsonHandler(http.StatusOK, parisBody))

	_, err := h.session.Submit(context.Background(), "   ")
	if !errors.Is(err, conversation.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if len(h.presenter.prompts) != 0 {
		t.Fatal("blank input must not emit a prompt")
	}
}

func TestAnonymousRateLimitRedirects(t *testing.T) {
	h := newHarness(t, jsonHandler(http.StatusTooManyRequests, `{"error":"Request was throttled."}`))

	if out := h.answer(t, "Paris", "IDF", "FR"); out != OutcomeRateLimited {
		t.Fatalf("expected rate limited, got %v", out)
	}
	if h.presenter.lastError() != MsgAnonRateLimited {
		t.Fatalf("unexpected message %q", h.presenter.lastError())
	}
	if len(h.sched.delays) != 1 || h.sched.delays[0] != DefaultRedirectDelay {
		t.Fatalf("expected one redirect after %v, got %v", DefaultRedirectDelay, h.sched.delays)
	}
	if h.nav.n.Load() != 0 {
		t.Fatal("redirect must wait for the delay")
	}

	h.sched.jobs[0]()
	if h.nav.n.Load() != 1 {
		t.Fatal("expected redirect to login")
	}
}

func TestAuthenticatedRateLimitIsInline(t *testing.T) {
	h := newHarness(t, jsonHandler(http.StatusTooManyRequests, `{"detail":"Request was throttled. Expected available in 42 seconds."}`))
	h.store.SetTokens(context.Background(), "A1", "R1")

	if out := h.answer(t, "Paris", "IDF", "FR"); out != OutcomeRateLimited {
		t.Fatalf("expected rate limited, got %v", out)
	}
	if h.presenter.lastError() != "Request was throttled. Expected available in 42 seconds." {
		t.Fatalf("unexpected message %q", h.presenter.lastError())
	}
	if len(h.sched.delays) != 0 {
		t.Fatal("authenticated rate limit must not schedule a redirect")
	}
}

func TestOtherFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"server error field", jsonHandler(http.StatusBadRequest, `{"error":"State parameter is required."}`), "State parameter is required."},
		{"no body", jsonHandler(http.StatusBadGateway, ``), MsgFetchFailed},
		{"html body", jsonHandler(http.StatusInternalServerError, `<h1>oops</h1>`), MsgFetchFailed},
		{"malformed success", jsonHandler(http.StatusOK, `not json`), MsgFetchFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.handler)
			if out := h.answer(t, "Paris", "IDF", "FR"); out != OutcomeFailed {
				t.Fatalf("expected failure, got %v", out)
			}
			if h.presenter.lastError() != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, h.presenter.lastError())
			}
			if h.cache.Len() != 0 {
				t.Fatal("failures must not persist anything")
			}
		})
	}
}

func TestNetworkFailure(t *testing.T) {
	h := newHarness(t, jsonHandler(http.StatusOK, parisBody))
	h.srv.Close()

	if out := h.answer(t, "Paris", "IDF", "FR"); out != OutcomeFailed {
		t.Fatalf("expected failure, got %v", out)
	}
	if h.presenter.lastError() != MsgNetwork {
		t.Fatalf("expected network message, got %q", h.presenter.lastError())
	}
}

func TestSessionExpired(t *testing.T) {
	h := newHarness(t, jsonHandler(http.StatusUnauthorized, `{"detail":"Given token not valid"}`))
	ctx := context.Background()
	h.store.SetTokens(ctx, "A1", "R1")

	if out := h.answer(t, "Paris", "IDF", "FR"); out != OutcomeFailed {
		t.Fatalf("expected failure, got %v", out)
	}
	if h.presenter.lastError() != MsgSessionExpired {
		t.Fatalf("expected session message, got %q", h.presenter.lastError())
	}
	if h.client.IsLoggedIn(ctx) {
		t.Fatal("expected credentials cleared")
	}
	if n := h.weatherCalls.Load(); n != 1 {
		t.Fatalf("expected no retry, got %d calls", n)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	h := newHarness(t, jsonHandler(http.StatusOK, parisBody))
	h.answer(t, "Paris", "IDF", "FR")
	first := h.presenter.snaps[0]

	// A fresh session over the same session storage: a page reload.
	h.presenter = &recordingPresenter{}
	reloaded := h.newSession()
	reloaded.Start(context.Background())

	if h.presenter.renderCount() != 1 {
		t.Fatalf("expected restored render, got %d", h.presenter.renderCount())
	}
	if n := h.weatherCalls.Load(); n != 1 {
		t.Fatalf("restore must not hit the network, got %d calls", n)
	}
	if len(h.presenter.prompts) != 0 {
		t.Fatal("restore must not prompt")
	}
	got := h.presenter.snaps[0]
	firstRaw, _ := first.Raw()
	gotRaw, _ := got.Raw()
	if string(firstRaw) != string(gotRaw) || got.Main.Temp != first.Main.Temp {
		t.Fatal("restored snapshot differs")
	}
	if h.presenter.renders[0] != (conversation.SearchParams{City: "Paris", State: "IDF", Country: "FR"}) {
		t.Fatalf("unexpected restored params %+v", h.presenter.renders[0])
	}
	if reloaded.Step() != conversation.Submitting {
		t.Fatalf("expected Submitting after restore, got %s", reloaded.Step())
	}
}

func TestRestoreDiscardsMalformedState(t *testing.T) {
	cases := map[string]map[string]string{
		"bad snapshot":  {keySnapshot: "{not json", keyParams: `{"city":"Paris","state":"IDF","country":"FR"}`},
		"bad params":    {keySnapshot: parisBody, keyParams: "nope"},
		"missing half":  {keySnapshot: parisBody},
		"empty params":  {keySnapshot: parisBody, keyParams: `{"city":"","state":"","country":""}`},
		"array payload": {keySnapshot: `[1,2]`, keyParams: `{"city":"Paris","state":"IDF","country":"FR"}`},
	}
	for name, stored := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, jsonHandler(http.StatusOK, parisBody))
			ctx := context.Background()
			for k, v := range stored {
				h.cache.Set(ctx, k, v)
			}

			h.session.Start(ctx)

			if h.presenter.renderCount() != 0 {
				t.Fatal("malformed state must not render")
			}
			if len(h.presenter.errors) != 0 {
				t.Fatal("malformed state must not surface an error")
			}
			if len(h.presenter.prompts) != 1 || h.presenter.prompts[0] != conversation.PromptCity {
				t.Fatalf("expected initial prompt, got %v", h.presenter.prompts)
			}
			if h.cache.Len() != 0 {
				t.Fatal("malformed state must be discarded")
			}
		})
	}
}

func TestResetClearsPersistedState(t *testing.T) {
	h := newHarness(t, jsonHandler(http.StatusOK, parisBody))
	h.answer(t, "Paris", "IDF", "FR")

	h.session.Reset(context.Background())

	if h.cache.Len() != 0 {
		t.Fatal("reset must clear persisted state")
	}
	if h.session.Step() != conversation.AwaitingCity || h.session.Params() != (conversation.SearchParams{}) {
		t.Fatal("reset must restart the conversation")
	}
	if last := h.presenter.prompts[len(h.presenter.prompts)-1]; last != conversation.PromptCity {
		t.Fatalf("expected initial prompt, got %q", last)
	}
}

// TestStaleResponseIsDropped verifies that a reset before the response
// arrives discards it.
func TestStaleResponseIsDropped(t *testing.T) {
	release := make(chan struct{})
	arrived := make(chan struct{})
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		jsonHandler(http.StatusOK, parisBody)(w, r)
	})
	ctx := context.Background()
	h.session.Submit(ctx, "Paris")
	h.session.Submit(ctx, "IDF")

	result := make(chan Outcome, 1)
	go func() {
		out, _ := h.session.Submit(ctx, "FR")
		result <- out
	}()

	<-arrived
	if _, err := h.session.FetchWeather(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for overlapping fetch, got %v", err)
	}
	h.session.Reset(ctx)
	close(release)

	if out := <-result; out != OutcomeStale {
		t.Fatalf("expected stale outcome, got %v", out)
	}
	if h.presenter.renderCount() != 0 {
		t.Fatal("stale response must not render")
	}
	if h.cache.Len() != 0 {
		t.Fatal("stale response must not persist")
	}
}

type notifyingDoer struct {
	next     transport.Doer
	returned chan struct{}
}

func (d *notifyingDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.next.Do(req)
	close(d.returned)
	return resp, err
}

// TestResetWhileBodyStreamsDropsResult verifies that a reset landing after
// the response headers but before the body completes discards the result.
func TestResetWhileBodyStreamsDropsResult(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, parisBody[:20])
		w.(http.Flusher).Flush()
		<-release
		io.WriteString(w, parisBody[20:])
	})
	doer := &notifyingDoer{next: h.srv.Client(), returned: make(chan struct{})}
	h.session = NewSession(Options{
		BaseURL:   h.srv.URL,
		Auth:      h.client,
		Anonymous: doer,
		Cache:     h.cache,
		Presenter: h.presenter,
		Navigator: h.nav,
		Scheduler: h.sched,
	})
	ctx := context.Background()
	h.session.Submit(ctx, "Paris")
	h.session.Submit(ctx, "IDF")

	result := make(chan Outcome, 1)
	go func() {
		out, _ := h.session.Submit(ctx, "FR")
		result <- out
	}()

	<-doer.returned
	h.session.Reset(ctx)
	close(release)

	if out := <-result; out != OutcomeStale {
		t.Fatalf("expected stale outcome, got %v", out)
	}
	if h.presenter.renderCount() != 0 {
		t.Fatal("result rendered after reset")
	}
	if h.cache.Len() != 0 {
		t.Fatalf("result persisted after reset: %d keys", h.cache.Len())
	}
	if step := h.session.Step(); step != conversation.AwaitingCity {
		t.Fatalf("expected awaiting city, got %s", step)
	}
}

// TestBusySubmitKeepsFinalAnswerOpen verifies that completing a new location
// while an earlier request is in flight is refused without leaving the
// conversation stuck in submitting.
func TestBusySubmitKeepsFinalAnswerOpen(t *testing.T) {
	release := make(chan struct{})
	arrived := make(chan struct{})
	var calls atomic.Int32
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(arrived)
			<-release
		}
		jsonHandler(http.StatusOK, parisBody)(w, r)
	})
	ctx := context.Background()
	h.session.Submit(ctx, "Paris")
	h.session.Submit(ctx, "IDF")

	result := make(chan Outcome, 1)
	go func() {
		out, _ := h.session.Submit(ctx, "FR")
		result <- out
	}()
	<-arrived

	h.session.Reset(ctx)
	if out, err := h.session.Submit(ctx, "Lyon"); err != nil || out != OutcomePrompted {
		t.Fatalf("submit city: %v %v", out, err)
	}
	if out, err := h.session.Submit(ctx, "ARA"); err != nil || out != OutcomePrompted {
		t.Fatalf("submit state: %v %v", out, err)
	}
	if _, err := h.session.Submit(ctx, "FR"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if step := h.session.Step(); step != conversation.AwaitingCountry {
		t.Fatalf("expected awaiting country after busy refusal, got %s", step)
	}

	close(release)
	if out := <-result; out != OutcomeStale {
		t.Fatalf("expected stale outcome, got %v", out)
	}
	if out, err := h.session.Submit(ctx, "FR"); err != nil || out != OutcomeRendered {
		t.Fatalf("retry country: %v %v", out, err)
	}
	if got := h.session.Params().City; got != "Lyon" {
		t.Fatalf("expected Lyon, got %q", got)
	}
}

func TestUnbuildableRequestShowsError(t *testing.T) {
	h := newHarness(t, jsonHandler(http.StatusOK, parisBody))
	h.session = NewSession(Options{
		BaseURL:   "http://bad host",
		Auth:      h.client,
		Anonymous: h.srv.Client(),
		Cache:     h.cache,
		Presenter: h.presenter,
	})

	if out := h.answer(t, "Paris", "IDF", "FR"); out != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %v", out)
	}
	if got := h.presenter.lastError(); got != MsgFetchFailed {
		t.Fatalf("expected %q, got %q", MsgFetchFailed, got)
	}
	if n := h.weatherCalls.Load(); n != 0 {
		t.Fatalf("expected no request, got %d", n)
	}
}

func TestFetchRequiresCompleteParams(t *testing.T) {
	h := newHarness(t, jsonHandler(http.StatusOK, parisBody))
	if _, err := h.session.FetchWeather(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if n := h.weatherCalls.Load(); n != 0 {
		t.Fatalf("expected no request, got %d", n)
	}
}

func TestHistory(t *testing.T) {
	h := newHarness(t, jsonHandler(http.StatusOK, parisBody))
	ctx := context.Background()

	if _, err := h.session.History(ctx); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected ErrLoginRequired, got %v", err)
	}

	h.store.SetTokens(ctx, "A1", "R1")
	entries, err := h.session.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 || entries[0].CityNameQueried != "Paris" || entries[0].Country != "FR" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
