// Package auth manages login state and wraps outbound requests with bearer
// token injection and a one-shot refresh-and-retry.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/weather-chat/internal/tokens"
	"github.com/i474232898/weather-chat/internal/transport"
)

// Endpoint paths relative to the API base URL.
const (
	LoginPath    = "/auth/login/"
	RegisterPath = "/auth/register/"
	RefreshPath  = "/auth/token/refresh/"
	LogoutPath   = "/auth/logout/"
)

const (
	msgLoginFailed        = "Login failed"
	msgRegistrationFailed = "Registration failed"
	msgNetworkError       = "Network error"
)

var (
	// ErrSessionExpired is returned by Do when the access token was rejected
	// and could not be refreshed. Stored credentials are gone by then.
	ErrSessionExpired = errors.New("session expired")
	// ErrNoRefreshToken is returned by RefreshToken when none is stored.
	ErrNoRefreshToken = errors.New("no refresh token stored")
	// ErrRefreshRejected is returned when the refresh endpoint answers non-2xx.
	ErrRefreshRejected = errors.New("refresh rejected")
)

// Navigator moves the user to the login surface.
type Navigator interface {
	ToLogin()
}

// Result is the outcome of Login and Register. Error is user-facing.
type Result struct {
	Success bool
	Error   string
}

// Client is the authentication client. It is itself a transport.Doer.
type Client struct {
	baseURL string
	http    transport.Doer
	store   *tokens.Store
	nav     Navigator
	logger  *slog.Logger

	refreshes singleflight.Group
	// epoch changes on explicit login and logout only.
	epoch atomic.Uint64
}

// NewClient creates a Client. A nil logger uses slog.Default().
func NewClient(baseURL string, doer transport.Doer, store *tokens.Store, nav Navigator, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    doer,
		store:   store,
		nav:     nav,
		logger:  logger,
	}
}

// BaseURL returns the API base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Epoch identifies the current credential generation. Callers compare it
// before and after a request to detect a login or logout in between.
func (c *Client) Epoch() uint64 { return c.epoch.Load() }

// IsLoggedIn reports whether an access token is stored. Expiry and signature
// are not checked.
func (c *Client) IsLoggedIn(ctx context.Context) bool {
	token, err := c.store.Access(ctx)
	if err != nil {
		c.logger.Error("read access token", "error", err)
		return false
	}
	return token != ""
}

// Username returns the stored username, or "" when logged out.
func (c *Client) Username(ctx context.Context) string {
	name, err := c.store.Username(ctx)
	if err != nil {
		c.logger.Error("read username", "error", err)
		return ""
	}
	return name
}

// TokenExpiry decodes the stored access token as a JWT without verifying it
// and returns its exp claim. ok is false for opaque tokens.
func (c *Client) TokenExpiry(ctx context.Context) (exp time.Time, ok bool) {
	token, err := c.store.Access(ctx)
	if err != nil || token == "" {
		return time.Time{}, false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	nd, err := parsed.Claims.GetExpirationTime()
	if err != nil || nd == nil {
		return time.Time{}, false
	}
	return nd.Time, true
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Detail  string `json:"detail"`
}

// Login posts credentials and, on success, stores both tokens and username.
func (c *Client) Login(ctx context.Context, username, password string) Result {
	resp, err := c.postJSON(ctx, LoginPath, "", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		c.logger.Warn("login request failed", "error", err)
		return Result{Error: msgNetworkError}
	}
	defer resp.Body.Close()

	var body tokenPair
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)

	if !isSuccess(resp.StatusCode) {
		if decodeErr == nil && body.Detail != "" {
			return Result{Error: body.Detail}
		}
		return Result{Error: msgLoginFailed}
	}
	if decodeErr != nil || body.Access == "" {
		c.logger.Warn("login response missing tokens", "status", resp.StatusCode, "error", decodeErr)
		return Result{Error: msgLoginFailed}
	}

	if err := c.store.SetTokens(ctx, body.Access, body.Refresh); err != nil {
		c.logger.Error("store tokens", "error", err)
		return Result{Error: msgLoginFailed}
	}
	if err := c.store.SetUsername(ctx, username); err != nil {
		c.logger.Error("store username", "error", err)
	}
	c.epoch.Add(1)
	c.logger.Info("logged in", "username", username)
	return Result{Success: true}
}

// Register posts a registration. Field-level validation messages from the
// server are flattened, in server order, into one string.
func (c *Client) Register(ctx context.Context, username, email, password string) Result {
	resp, err := c.postJSON(ctx, RegisterPath, "", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
	if err != nil {
		c.logger.Warn("register request failed", "error", err)
		return Result{Error: msgNetworkError}
	}
	defer resp.Body.Close()

	if isSuccess(resp.StatusCode) {
		return Result{Success: true}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Error: msgRegistrationFailed}
	}
	if msg := flattenFieldErrors(raw); msg != "" {
		return Result{Error: msg}
	}
	return Result{Error: msgRegistrationFailed}
}

// Logout tells the backend to invalidate the refresh token, then clears local
// credentials and navigates to login. The backend call is best-effort.
func (c *Client) Logout(ctx context.Context) {
	refresh, err := c.store.Refresh(ctx)
	if err != nil {
		c.logger.Error("read refresh token", "error", err)
	}

	if refresh != "" {
		access, _ := c.store.Access(ctx)
		resp, err := c.postJSON(ctx, LogoutPath, access, map[string]string{"refresh": refresh})
		if err != nil {
			c.logger.Warn("logout notify failed", "error", err)
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if !isSuccess(resp.StatusCode) {
				c.logger.Warn("logout notify rejected", "status", resp.StatusCode)
			}
		}
	}

	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("clear tokens", "error", err)
	}
	c.epoch.Add(1)
	if c.nav != nil {
		c.nav.ToLogin()
	}
}

// Request builds a request against an absolute or base-relative URL and
// sends it through Do.
func (c *Client) Request(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	if strings.HasPrefix(url, "/") {
		url = c.baseURL + url
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do sends req with the stored bearer token. When a token was sent and the
// response is 401, it refreshes once and retries once with the new token.
// If the refresh fails, credentials are cleared and ErrSessionExpired is
// returned. Every other status, 429 included, is returned as is.
// req is never modified.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, err := c.store.Access(ctx)
	if err != nil {
		return nil, fmt.Errorf("read access token: %w", err)
	}

	base, err := replayable(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(base, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || token == "" {
		return resp, nil
	}
	drain(resp)

	newAccess, err := c.renewAfterRejection(ctx, token)
	if err != nil {
		c.logger.Warn("token refresh failed, clearing session", "error", err)
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			c.logger.Error("clear tokens", "error", clearErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	return c.send(base, newAccess)
}

// renewAfterRejection returns a token to retry with. If another caller has
// already replaced the rejected token it is reused; otherwise one refresh is
// shared by every concurrent waiter.
func (c *Client) renewAfterRejection(ctx context.Context, rejected string) (string, error) {
	if current, err := c.store.Access(ctx); err == nil && current != "" && current != rejected {
		return current, nil
	}

	c.logger.Info("access token rejected, attempting refresh")
	v, err, _ := c.refreshes.Do("refresh", func() (interface{}, error) {
		return c.RefreshToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// RefreshToken exchanges the stored refresh token for a new access token and
// stores it. With no refresh token stored it returns ErrNoRefreshToken
// without any network call.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	refresh, err := c.store.Refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}
	if refresh == "" {
		return "", ErrNoRefreshToken
	}

	resp, err := c.postJSON(ctx, RefreshPath, "", map[string]string{"refresh": refresh})
	if err != nil {
		c.logger.Error("token refresh request failed", "error", err)
		return "", err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return "", fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}

	var body tokenPair
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Access == "" {
		return "", fmt.Errorf("%w: malformed response", ErrRefreshRejected)
	}

	// Rotated refresh tokens replace the stored one.
	if err := c.store.Rotate(ctx, body.Access, body.Refresh); err != nil {
		return "", fmt.Errorf("store refreshed token: %w", err)
	}
	return body.Access, nil
}

func (c *Client) send(base *http.Request, token string) (*http.Response, error) {
	out := base.Clone(base.Context())
	if base.GetBody != nil {
		body, err := base.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return c.http.Do(out)
}

func (c *Client) postJSON(ctx context.Context, path, bearer string, payload any) (*http.Response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.http.Do(req)
}

// replayable returns a copy of req whose body can be produced again for the
// retry.
func replayable(req *http.Request) (*http.Request, error) {
	base := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return base, nil
	}

	buf, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}
	base.Body = http.NoBody
	base.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	return base, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
