package httpapi

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

const localUser = "username"

// currentUser returns the authenticated username, or "" for anonymous
// requests.
func currentUser(c *fiber.Ctx) string {
	name, _ := c.Locals(localUser).(string)
	return name
}

func tokenNotValid(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"detail": "Given token not valid for any token type",
		"code":   "token_not_valid",
	})
}

// optionalBearer authenticates a bearer token when one is sent. No header
// means anonymous; a bad token is rejected with 401.
func (s *server) optionalBearer(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return c.Next()
	}

	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || raw == "" {
		return tokenNotValid(c)
	}

	claims, err := s.Tokens.Parse(raw, tokenTypeAccess)
	if err != nil || !s.Users.Exists(claims.Subject) {
		return tokenNotValid(c)
	}

	c.Locals(localUser, claims.Subject)
	return c.Next()
}

func (s *server) requireUser(c *fiber.Ctx) error {
	if currentUser(c) == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"detail": "Authentication credentials were not provided.",
		})
	}
	return c.Next()
}

// anonLimiter throttles anonymous callers by IP.
func (s *server) anonLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Next:       func(c *fiber.Ctx) bool { return currentUser(c) != "" },
		Max:        s.Limits.AnonRate,
		Expiration: s.Limits.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "anon:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Request was throttled. Anonymous search limit reached.",
			})
		},
	})
}

// userLimiter throttles logged-in callers by username.
func (s *server) userLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Next:       func(c *fiber.Ctx) bool { return currentUser(c) == "" },
		Max:        s.Limits.UserRate,
		Expiration: s.Limits.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "user:" + currentUser(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			detail := "Request was throttled."
			if wait := c.GetRespHeader(fiber.HeaderRetryAfter); wait != "" {
				detail = fmt.Sprintf("Request was throttled. Expected available in %s seconds.", wait)
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"detail": detail})
		},
	})
}
