package chromem

import (
	"context"
	"sync"

	"github.com/engramd/engramd/internal/memory"
)

// Interface guards.
var (
	_ memory.ChatStore = (*ChatLog)(nil)
	_ memory.UserStore = (*Users)(nil)
)

// ChatLog is the in-memory chat store backing the chromem module, so a
// chromem-only config is a complete (if ephemeral) backend.
type ChatLog struct {
	mu     sync.RWMutex
	byID   map[string]memory.ChatMessage
	byChat map[string][]string
}

// NewChatLog creates an empty chat log.
func NewChatLog() *ChatLog {
	return &ChatLog{
		byID:   make(map[string]memory.ChatMessage),
		byChat: make(map[string][]string),
	}
}

// SaveMessage appends a message. Messages arrive in order per chat.
func (c *ChatLog) SaveMessage(_ context.Context, msg memory.ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[msg.ID]; !ok {
		c.byChat[msg.ChatID] = append(c.byChat[msg.ChatID], msg.ID)
	}
	c.byID[msg.ID] = msg
	return nil
}

// MessageByID returns a single message.
func (c *ChatLog) MessageByID(_ context.Context, id string) (memory.ChatMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msg, ok := c.byID[id]
	if !ok {
		return memory.ChatMessage{}, memory.ErrMessageNotFound
	}
	return msg, nil
}

// RecentMessages returns the n most recent messages of a chat, oldest first.
func (c *ChatLog) RecentMessages(_ context.Context, chatID string, n int) ([]memory.ChatMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.byChat[chatID]
	if n > 0 && len(ids) > n {
		ids = ids[len(ids)-n:]
	}

	msgs := make([]memory.ChatMessage, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, c.byID[id])
	}
	return msgs, nil
}

// Messages returns all messages of a chat, oldest first.
func (c *ChatLog) Messages(ctx context.Context, chatID string) ([]memory.ChatMessage, error) {
	return c.RecentMessages(ctx, chatID, 0)
}

// Users keeps per-user preferences in memory. Unknown users default to
// memory enabled, matching the sqlite user store.
type Users struct {
	mu    sync.RWMutex
	prefs map[string]memory.Preferences
}

// NewUsers creates an empty preferences store.
func NewUsers() *Users {
	return &Users{prefs: make(map[string]memory.Preferences)}
}

// Preferences returns the user's settings.
func (u *Users) Preferences(_ context.Context, userID string) (memory.Preferences, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if p, ok := u.prefs[userID]; ok {
		return p, nil
	}
	return memory.Preferences{EnableMemory: true}, nil
}

// SetPreferences stores the user's settings.
func (u *Users) SetPreferences(_ context.Context, userID string, prefs memory.Preferences) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.prefs[userID] = prefs
	return nil
}
