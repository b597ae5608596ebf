package memory

import (
	"context"
	"time"
)

// ChatMessage is a conversation message as seen by the engine. The chat
// store owns the canonical representation; this is the read-only view the
// engine needs for extraction context.
type ChatMessage struct {
	ID        string
	ChatID    string
	UserID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

// ChatStore is the conversation-store collaborator contract.
type ChatStore interface {
	// RecentMessages returns the n most recent messages of a chat,
	// oldest first.
	RecentMessages(ctx context.Context, chatID string, n int) ([]ChatMessage, error)

	// Messages returns all messages of a chat, oldest first. Used by the
	// history backfill path.
	Messages(ctx context.Context, chatID string) ([]ChatMessage, error)

	// MessageByID returns a single message. Returns ErrMessageNotFound
	// if missing.
	MessageByID(ctx context.Context, id string) (ChatMessage, error)
}

// Preferences holds the per-user settings the engine consults.
type Preferences struct {
	// EnableMemory gates all extraction for the user. When false,
	// processing is skipped with a non-error "skipped" reason.
	EnableMemory bool
}

// UserStore is the user/preferences collaborator contract.
type UserStore interface {
	// Preferences returns the user's settings. Returns ErrUserNotFound
	// for unknown users.
	Preferences(ctx context.Context, userID string) (Preferences, error)
}
