package port

import (
	"context"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
)

// ConversationStore keeps the turns and the cached title of each conversation.
// Appends for one conversation id are linearizable; different ids are independent.
type ConversationStore interface {
	// Append adds a turn. Duplicate content is never deduplicated.
	Append(ctx context.Context, conversationID string, role domain.Role, content string) error

	// AppendTurns adds turns in order; either all of them are stored or none.
	// A zero CreatedAt is set to the current time.
	AppendTurns(ctx context.Context, conversationID string, turns ...domain.Turn) error

	// Turns returns the turns in chronological order.
	Turns(ctx context.Context, conversationID string) ([]domain.Turn, error)

	// Title returns the cached title, or "" when none has been set.
	Title(ctx context.Context, conversationID string) (string, error)

	// SetTitleIfEmpty stores title unless one is already set and returns the stored title.
	SetTitleIfEmpty(ctx context.Context, conversationID, title string) (string, error)

	// Delete drops all turns and the title.
	Delete(ctx context.Context, conversationID string) error
}
