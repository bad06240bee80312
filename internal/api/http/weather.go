package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-chat/internal/store"
	"github.com/i474232898/weather-chat/internal/weather/providers"
)

// locationQuery holds query parameters for identifying a location.
type locationQuery struct {
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Country string `json:"country" validate:"required"`
}

func (l locationQuery) toLocation() store.Location {
	return store.Location{City: l.City, State: l.State, Country: l.Country}
}

// parseLocationQuery reads city, state and country. missing names the first
// absent parameter in a user-facing message.
func parseLocationQuery(c *fiber.Ctx) (q locationQuery, missing string) {
	q = locationQuery{
		City:    strings.TrimSpace(c.Query("city")),
		State:   strings.TrimSpace(c.Query("state")),
		Country: strings.TrimSpace(c.Query("country")),
	}

	var verrs validator.ValidationErrors
	if err := validate.Struct(q); errors.As(err, &verrs) {
		field := verrs[0].Field()
		return q, fmt.Sprintf("%s%s parameter is required.", strings.ToUpper(field[:1]), field[1:])
	}
	return q, ""
}

const upstreamFailed = "Failed to fetch weather data from upstream provider."

func (s *server) weather(c *fiber.Ctx) error {
	q, missing := parseLocationQuery(c)
	if missing != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": missing})
	}

	loc := q.toLocation()
	data, err := s.Cache.Get(loc)
	if err == nil {
		s.Logger.Debug("weather served from cache", "city", q.City)
	} else {
		n := loc.Normalize()
		data, err = s.Provider.Fetch(c.UserContext(), providers.Query{City: n.City, State: n.State, Country: n.Country})
		if err != nil {
			return s.upstreamError(c, q, err)
		}
		s.Cache.Put(loc, data)
	}

	if user := currentUser(c); user != "" {
		s.History.Record(user, q.City, data)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusOK).Send(data)
}

// upstreamError relays a provider rejection with its status, and answers 503
// when no provider could be reached. Upstream 401 and 403 are reported as 502.
func (s *server) upstreamError(c *fiber.Ctx, q locationQuery, err error) error {
	var se *providers.StatusError
	if errors.As(err, &se) {
		body := fiber.Map{"error": upstreamFailed}
		if json.Valid(se.Body) {
			body["upstream_error"] = json.RawMessage(se.Body)
		} else {
			body["upstream_error"] = string(se.Body)
		}
		code := se.Code
		if code == fiber.StatusUnauthorized || code == fiber.StatusForbidden {
			code = fiber.StatusBadGateway
		}
		s.Logger.Info("upstream rejected query", "city", q.City, "status", se.Code)
		return c.Status(code).JSON(body)
	}

	s.Logger.Error("weather upstream unavailable", "city", q.City, "error", err)
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": upstreamFailed})
}

func (s *server) history(c *fiber.Ctx) error {
	return c.JSON(s.History.List(currentUser(c)))
}

// Sweep drops expired cache entries and revocations. It is run periodically.
func (d Deps) Sweep() {
	cached := d.Cache.Sweep()
	revoked := d.Revoked.Sweep()
	if d.Logger != nil && (cached > 0 || revoked > 0) {
		d.Logger.Info("swept expired state", "cache_entries", cached, "revocations", revoked)
	}
}
