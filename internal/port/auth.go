package port

import (
	"context"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
)

// UserRepository persists accounts for email/password login.
type UserRepository interface {
	CreateUser(ctx context.Context, u *domain.User) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// ChatRepository persists the user-owned chat records.
type ChatRepository interface {
	CreateChat(ctx context.Context, userID string) (*domain.Chat, error)
	GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error)
	ListChats(ctx context.Context, userID string) ([]domain.Chat, error)
	DeleteChat(ctx context.Context, userID, chatID string) error
	TouchChat(ctx context.Context, chatID string) error
}

// AuditWriter defines how audit records are persisted.
type AuditWriter interface {
	WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error
}

// AuditReader lists persisted audit records, newest first.
type AuditReader interface {
	ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error)
}
