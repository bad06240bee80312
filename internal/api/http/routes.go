package httpapi

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-chat/internal/store"
	"github.com/i474232898/weather-chat/internal/weather/providers"
)

// Limits configures the weather endpoint's throttles.
type Limits struct {
	AnonRate int
	UserRate int
	Window   time.Duration
}

// Deps are the collaborators the handlers use.
type Deps struct {
	Users    *store.UserStore
	History  *store.HistoryStore
	Cache    *store.WeatherCache
	Revoked  *store.RevocationList
	Provider providers.Provider
	Tokens   *TokenIssuer
	Limits   Limits
	Logger   *slog.Logger
}

type server struct {
	Deps
}

// NewApp builds the fiber app with error handling and every route.
// middleware runs ahead of the routes.
func NewApp(deps Deps, middleware ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "weatherapi",
		DisableStartupMessage: true,
		// Handlers keep query values in the stores beyond the request.
		Immutable:             true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          errorHandler,
	})
	for _, m := range middleware {
		app.Use(m)
	}
	RegisterRoutes(app, deps)
	return app
}

// errorHandler renders every error as a JSON body.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	if code == fiber.StatusInternalServerError {
		return c.Status(code).JSON(fiber.Map{
			"error":  "Internal Server Error",
			"detail": "An unexpected error occurred. Please contact support.",
		})
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &server{Deps: deps}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weatherapi",
		})
	})

	auth := app.Group("/auth")
	auth.Post("/register/", s.register)
	auth.Post("/login/", s.login)
	auth.Post("/token/refresh/", s.refresh)
	auth.Post("/logout/", s.optionalBearer, s.requireUser, s.logout)

	api := app.Group("/api", s.optionalBearer)
	api.Get("/weather/", s.anonLimiter(), s.userLimiter(), s.weather)
	api.Get("/history/", s.requireUser, s.history)

	app.Use(notFound)
}

// notFound answers unknown API paths in JSON.
func notFound(c *fiber.Ctx) error {
	path := c.Path()
	if strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/auth/") {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Resource not found",
			"path":  path,
		})
	}
	return fiber.ErrNotFound
}
