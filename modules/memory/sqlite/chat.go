package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/engramd/engramd/internal/memory"
)

// SaveMessage persists an incoming chat message so extraction and history
// backfill can read it later.
func (c *chatStore) SaveMessage(ctx context.Context, msg memory.ChatMessage) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO chat_messages (id, chat_id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.UserID, msg.Role, msg.Content,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save message: %w", err)
	}
	return nil
}

// RecentMessages returns the n most recent messages of a chat, oldest first.
func (c *chatStore) RecentMessages(ctx context.Context, chatID string, n int) ([]memory.ChatMessage, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, chat_id, user_id, role, content, created_at
		FROM chat_messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		chatID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	slices.Reverse(msgs)
	return msgs, nil
}

// Messages returns all messages of a chat, oldest first.
func (c *chatStore) Messages(ctx context.Context, chatID string) ([]memory.ChatMessage, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, chat_id, user_id, role, content, created_at
		FROM chat_messages
		WHERE chat_id = ?
		ORDER BY created_at, id`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMessages(rows)
}

// MessageByID returns a single message.
func (c *chatStore) MessageByID(ctx context.Context, id string) (memory.ChatMessage, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, chat_id, user_id, role, content, created_at
		FROM chat_messages WHERE id = ?`, id)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return memory.ChatMessage{}, memory.ErrMessageNotFound
	}
	if err != nil {
		return memory.ChatMessage{}, err
	}
	return msg, nil
}

func scanMessages(rows *sql.Rows) ([]memory.ChatMessage, error) {
	var msgs []memory.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: message rows: %w", err)
	}
	return msgs, nil
}

func scanMessage(row rowScanner) (memory.ChatMessage, error) {
	var (
		msg       memory.ChatMessage
		createdAt string
	)
	err := row.Scan(&msg.ID, &msg.ChatID, &msg.UserID, &msg.Role, &msg.Content, &createdAt)
	if err == sql.ErrNoRows {
		return memory.ChatMessage{}, err
	}
	if err != nil {
		return memory.ChatMessage{}, fmt.Errorf("sqlite: scan message: %w", err)
	}

	if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return memory.ChatMessage{}, fmt.Errorf("sqlite: parse created_at %q: %w", createdAt, err)
	}
	return msg, nil
}

// Preferences returns a user's settings. Unknown users default to memory
// enabled rather than erroring: the engine should work for first-time users
// without an explicit opt-in row.
func (u *userStore) Preferences(ctx context.Context, userID string) (memory.Preferences, error) {
	var enabled int
	err := u.db.QueryRowContext(ctx,
		"SELECT enable_memory FROM user_prefs WHERE user_id = ?", userID).Scan(&enabled)
	if err == sql.ErrNoRows {
		return memory.Preferences{EnableMemory: true}, nil
	}
	if err != nil {
		return memory.Preferences{}, fmt.Errorf("sqlite: load preferences: %w", err)
	}
	return memory.Preferences{EnableMemory: enabled != 0}, nil
}

// SetPreferences writes a user's settings.
func (u *userStore) SetPreferences(ctx context.Context, userID string, prefs memory.Preferences) error {
	enabled := 0
	if prefs.EnableMemory {
		enabled = 1
	}
	_, err := u.db.ExecContext(ctx, `
		INSERT INTO user_prefs (user_id, enable_memory, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET enable_memory = excluded.enable_memory,
		                                   updated_at = excluded.updated_at`,
		userID, enabled, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: set preferences: %w", err)
	}
	return nil
}
