package domain

import "time"

// User represents an account that can log in and own chats.
type User struct {
	ID           string    `json:"id"         db:"id"`
	Email        string    `json:"email"      db:"email"`
	Name         string    `json:"name"       db:"name"`
	PasswordHash string    `json:"-"          db:"password_hash"` // never serialized to JSON
	Role         string    `json:"role"       db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// User roles.
const (
	RoleNameUser  = "user"
	RoleNameAdmin = "admin"
)

// UserContext is the authenticated user context injected into request handlers.
type UserContext struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// IsAdmin reports whether the caller may run maintenance operations.
func (u *UserContext) IsAdmin() bool {
	return u != nil && u.Role == RoleNameAdmin
}
