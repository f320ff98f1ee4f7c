package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/middleware"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
	"github.com/viveksaraswat123/medical-chatbot/pkg/config"
)

const minPasswordLength = 8

// ErrInvalidSignup reports unusable signup input.
var ErrInvalidSignup = errors.New("invalid signup")

// AuthService handles email/password signup and login.
type AuthService struct {
	users   port.UserRepository
	jwtCfg  middleware.JWTConfig
	isAdmin func(email string) bool
	cost    int
}

// NewAuthService creates a new authentication service.
func NewAuthService(users port.UserRepository, cfg *config.Config) *AuthService {
	return &AuthService{
		users:   users,
		jwtCfg:  JWTConfigFrom(cfg),
		isAdmin: cfg.IsAdminEmail,
		cost:    bcrypt.DefaultCost,
	}
}

// JWTConfigFrom derives the token settings from cfg.
func JWTConfigFrom(cfg *config.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		ExpiresIn: time.Duration(cfg.JWTExpiration) * time.Hour,
	}
}

// Signup creates an account and returns a token for it.
func (s *AuthService) Signup(ctx context.Context, name, email, password string) (string, *domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", nil, fmt.Errorf("%w: email address is not valid", ErrInvalidSignup)
	}
	if len(password) < minPasswordLength {
		return "", nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidSignup, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", nil, fmt.Errorf("hash password: %w", err)
	}

	role := domain.RoleNameUser
	if s.isAdmin(email) {
		role = domain.RoleNameAdmin
	}

	user, err := s.users.CreateUser(ctx, &domain.User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		return "", nil, err
	}

	token, err := middleware.GenerateJWT(user, s.jwtCfg)
	if err != nil {
		return "", nil, fmt.Errorf("generate jwt: %w", err)
	}

	slog.Info("user signed up", "user_id", user.ID, "role", user.Role)
	return token, user, nil
}

// Login checks credentials and returns a fresh token. Unknown email and
// wrong password both yield port.ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, port.ErrUserNotFound) {
		return "", nil, port.ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, port.ErrInvalidCredentials
	}

	token, err := middleware.GenerateJWT(user, s.jwtCfg)
	if err != nil {
		return "", nil, fmt.Errorf("generate jwt: %w", err)
	}

	slog.Info("user authenticated", "user_id", user.ID)
	return token, user, nil
}

// Me returns the account behind a token's subject.
func (s *AuthService) Me(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetUserByID(ctx, userID)
}
