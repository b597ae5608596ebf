package memory

import "errors"

// Sentinel errors for memory operations.
var (
	// ErrNotFound indicates the requested memory record does not exist.
	ErrNotFound = errors.New("memory: record not found")

	// ErrInvalidRecord indicates a record that violates creation invariants
	// (missing owner, short content, unknown type, importance out of range).
	ErrInvalidRecord = errors.New("memory: invalid record")

	// ErrMalformedResponse indicates the LLM returned output that could not
	// be parsed as the expected JSON schema. Never retried.
	ErrMalformedResponse = errors.New("memory: malformed model response")

	// ErrMessageNotFound indicates the originating chat message is missing.
	ErrMessageNotFound = errors.New("memory: message not found")

	// ErrUserNotFound indicates the referenced user is unknown.
	ErrUserNotFound = errors.New("memory: user not found")
)
