package handler

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/middleware"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
	"github.com/viveksaraswat123/medical-chatbot/internal/service"
)

// AuthHandler handles signup, login and the current-user lookup.
type AuthHandler struct {
	authService *service.AuthService
	auditor     *middleware.Auditor
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService *service.AuthService, auditor *middleware.Auditor) *AuthHandler {
	return &AuthHandler{authService: authService, auditor: auditor}
}

// Register sets up the public auth routes.
func (h *AuthHandler) Register(router fiber.Router) {
	auth := router.Group("/auth")
	auth.Post("/signup", h.Signup)
	auth.Post("/login", h.Login)
}

// RegisterProtected sets up auth routes that need a valid token.
func (h *AuthHandler) RegisterProtected(router fiber.Router) {
	router.Get("/auth/me", h.Me)
}

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup creates an account and returns its token.
func (h *AuthHandler) Signup(c fiber.Ctx) error {
	var body credentials
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	token, user, err := h.authService.Signup(c.Context(), body.Name, body.Email, body.Password)
	switch {
	case errors.Is(err, service.ErrInvalidSignup):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": strings.TrimPrefix(err.Error(), service.ErrInvalidSignup.Error()+": "),
		})
	case errors.Is(err, port.ErrEmailTaken):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "email already registered"})
	case err != nil:
		slog.Error("signup failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "signup failed"})
	}

	h.auditor.RecordSystem(user.ID, domain.AuditActionSignup, "user", user.ID, nil)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"token": token,
		"user":  user,
	})
}

// Login exchanges email and password for a token.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body credentials
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	token, user, err := h.authService.Login(c.Context(), body.Email, body.Password)
	if errors.Is(err, port.ErrInvalidCredentials) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid email or password"})
	}
	if err != nil {
		slog.Error("login failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "login failed"})
	}

	h.auditor.RecordSystem(user.ID, domain.AuditActionLogin, "user", user.ID, nil)
	return c.JSON(fiber.Map{
		"token": token,
		"user":  user,
	})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	user, err := h.authService.Me(c.Context(), uc.UserID)
	if errors.Is(err, port.ErrUserNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(user)
}
