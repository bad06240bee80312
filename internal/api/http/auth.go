package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/i474232898/weather-chat/internal/store"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

// fieldErrors collects messages per field in declaration order.
type fieldErrors = orderedmap.OrderedMap[string, []string]

func addFieldError(errs *fieldErrors, field, msg string) {
	msgs, _ := errs.Get(field)
	errs.Set(field, append(msgs, msg))
}

// validationErrors maps validator failures onto user-facing messages keyed by
// field. It returns nil when v is valid.
func validationErrors(v any) *fieldErrors {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	errs := orderedmap.New[string, []string]()

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		addFieldError(errs, "non_field_errors", "Invalid input.")
		return errs
	}
	for _, fe := range verrs {
		addFieldError(errs, fe.Field(), fieldMessage(fe))
	}
	return errs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		if fe.Field() == "password" {
			return fmt.Sprintf("This password is too short. It must contain at least %s characters.", fe.Param())
		}
		return fmt.Sprintf("Ensure this field has at least %s characters.", fe.Param())
	case "max":
		return fmt.Sprintf("Ensure this field has no more than %s characters.", fe.Param())
	default:
		return "Invalid value."
	}
}

func badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"non_field_errors": []string{"Request body must be a JSON object."},
	})
}

func (s *server) register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if errs := validationErrors(req); errs != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errs)
	}

	user, err := s.Users.Create(req.Username, req.Email, req.Password)
	switch {
	case errors.Is(err, store.ErrUsernameTaken):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"username": []string{"A user with that username already exists."},
		})
	case errors.Is(err, store.ErrEmailTaken):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"email": []string{"User with this Email Address already exists."},
		})
	case err != nil:
		return err
	}

	s.Logger.Info("user registered", "username", user.Username)
	return c.Status(fiber.StatusCreated).JSON(user)
}

func (s *server) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if errs := validationErrors(req); errs != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errs)
	}

	user, err := s.Users.Authenticate(req.Username, req.Password)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"detail": "No active account found with the given credentials",
		})
	}

	pair, err := s.Tokens.Issue(user.Username)
	if err != nil {
		return err
	}
	s.Logger.Info("user logged in", "username", user.Username)
	return c.JSON(pair)
}

// refresh exchanges a refresh token for a new pair. The old refresh token is
// revoked so it cannot be replayed.
func (s *server) refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if errs := validationErrors(req); errs != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errs)
	}

	claims, err := s.Tokens.Parse(req.Refresh, tokenTypeRefresh)
	if err != nil || s.Revoked.IsRevoked(claims.ID) || !s.Users.Exists(claims.Subject) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
	}

	pair, err := s.Tokens.Issue(claims.Subject)
	if err != nil {
		return err
	}
	s.Revoked.Revoke(claims.ID, claims.ExpiresAt.Time)
	return c.JSON(pair)
}

// logout revokes the caller's refresh token when one is sent. It succeeds
// either way.
func (s *server) logout(c *fiber.Ctx) error {
	var req refreshRequest
	_ = c.BodyParser(&req)

	if req.Refresh != "" {
		claims, err := s.Tokens.Parse(req.Refresh, tokenTypeRefresh)
		switch {
		case err != nil:
			s.Logger.Info("logout with unusable refresh token", "username", currentUser(c), "error", err)
		case claims.Subject != currentUser(c):
			s.Logger.Warn("logout with another user's refresh token", "username", currentUser(c))
		default:
			s.Revoked.Revoke(claims.ID, claims.ExpiresAt.Time)
		}
	}

	s.Logger.Info("user logged out", "username", currentUser(c))
	return c.JSON(fiber.Map{"message": "Logout successful"})
}
