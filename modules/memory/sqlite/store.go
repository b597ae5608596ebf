package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/engramd/engramd/internal/memory"
)

// Create persists a new memory record after validating it.
func (s *memStore) Create(ctx context.Context, rec memory.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: marshal tags: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, owner, content, type, importance, tags, embedding,
		                      source_chat, source_msg, source_kind,
		                      access_count, last_accessed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Owner, rec.Content, string(rec.Type), rec.Importance,
		string(tagsJSON), encodeEmbedding(rec.Embedding),
		rec.Source.ChatID, rec.Source.MessageID, string(rec.Source.Kind),
		rec.AccessCount, formatTimePtr(rec.LastAccessed),
		createdAt.Format(time.RFC3339Nano), updatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create memory: %w", err)
	}

	return nil
}

// Get returns a record by owner and ID.
func (s *memStore) Get(ctx context.Context, owner, id string) (memory.Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`
		FROM memories WHERE owner = ? AND id = ?`, owner, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return memory.Record{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.Record{}, err
	}
	return rec, nil
}

// Update replaces an existing record.
func (s *memStore) Update(ctx context.Context, rec memory.Record) error {
	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: marshal tags: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET content = ?, type = ?, importance = ?, tags = ?, embedding = ?,
		    source_chat = ?, source_msg = ?, source_kind = ?,
		    access_count = ?, last_accessed = ?, updated_at = ?
		WHERE owner = ? AND id = ?`,
		rec.Content, string(rec.Type), rec.Importance, string(tagsJSON),
		encodeEmbedding(rec.Embedding),
		rec.Source.ChatID, rec.Source.MessageID, string(rec.Source.Kind),
		rec.AccessCount, formatTimePtr(rec.LastAccessed),
		rec.UpdatedAt.Format(time.RFC3339Nano),
		rec.Owner, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update memory: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// Delete removes a record.
func (s *memStore) Delete(ctx context.Context, owner, id string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM memories WHERE owner = ? AND id = ?", owner, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete memory: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// ListByOwner returns all of a user's records matching the filter,
// in creation order.
func (s *memStore) ListByOwner(ctx context.Context, owner string, f memory.Filter) ([]memory.Record, error) {
	var b strings.Builder
	b.WriteString(selectColumns)
	b.WriteString(" FROM memories WHERE owner = ?")
	args := []any{owner}

	if f.Type != "" {
		b.WriteString(" AND type = ?")
		args = append(args, string(f.Type))
	}
	if f.MinImportance > 0 {
		b.WriteString(" AND importance >= ?")
		args = append(args, f.MinImportance)
	}
	if f.RequireEmbedding {
		b.WriteString(" AND embedding IS NOT NULL AND length(embedding) > 0")
	}
	b.WriteString(" ORDER BY created_at, id")

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list memories rows: %w", err)
	}

	return records, nil
}

// Touch increments a record's access count and stamps last_accessed.
func (s *memStore) Touch(ctx context.Context, owner, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET access_count = access_count + 1, last_accessed = ?
		WHERE owner = ? AND id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), owner, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: touch memory: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// CountByOwner returns the number of records stored for a user.
func (s *memStore) CountByOwner(ctx context.Context, owner string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memories WHERE owner = ?", owner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count memories: %w", err)
	}
	return count, nil
}

// Owners returns all users with at least one stored record, sorted.
// The maintenance sweep iterates this.
func (s *memStore) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT owner FROM memories ORDER BY owner")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list owners: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("sqlite: scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: owner rows: %w", err)
	}
	return owners, nil
}

const selectColumns = `SELECT id, owner, content, type, importance, tags, embedding,
	source_chat, source_msg, source_kind, access_count, last_accessed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (memory.Record, error) {
	var (
		rec          memory.Record
		typ          string
		tagsJSON     string
		embBlob      []byte
		srcKind      string
		lastAccessed sql.NullString
		createdAt    string
		updatedAt    string
	)

	err := row.Scan(&rec.ID, &rec.Owner, &rec.Content, &typ, &rec.Importance,
		&tagsJSON, &embBlob, &rec.Source.ChatID, &rec.Source.MessageID, &srcKind,
		&rec.AccessCount, &lastAccessed, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return memory.Record{}, err
	}
	if err != nil {
		return memory.Record{}, fmt.Errorf("sqlite: scan memory: %w", err)
	}

	rec.Type = memory.Type(typ)
	rec.Source.Kind = memory.SourceKind(srcKind)
	rec.Embedding = decodeEmbedding(embBlob)

	if tagsJSON != "" && tagsJSON != "[]" && tagsJSON != "null" {
		if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
			return memory.Record{}, fmt.Errorf("sqlite: unmarshal tags: %w", err)
		}
	}

	if lastAccessed.Valid && lastAccessed.String != "" {
		t, err := time.Parse(time.RFC3339Nano, lastAccessed.String)
		if err != nil {
			return memory.Record{}, fmt.Errorf("sqlite: parse last_accessed %q: %w", lastAccessed.String, err)
		}
		rec.LastAccessed = &t
	}

	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return memory.Record{}, fmt.Errorf("sqlite: parse created_at %q: %w", createdAt, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return memory.Record{}, fmt.Errorf("sqlite: parse updated_at %q: %w", updatedAt, err)
	}

	return rec, nil
}

// encodeEmbedding packs a vector into a little-endian float32 blob.
// Nil and empty vectors map to NULL.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
