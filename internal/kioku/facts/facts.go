// Package facts stores user-declared key/value memory entries scoped to a
// chat. Keys are normalized identically on write and lookup so that
// "John's Email" and "john's email" resolve to the same fact, and at most
// one live fact exists per (chat, normalized key).
package facts

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// ErrNotFound is returned by Recall when no stored fact matches the query,
// either exactly or above the fuzzy-match threshold. It is an expected
// empty result, not a failure.
var ErrNotFound = errors.New("facts: not found")

// Fact is a durable user-declared memory entry.
type Fact struct {
	ID         string
	ChatID     string
	SubjectKey string // normalized
	Value      string
	OwnerID    string
	UpdatedAt  time.Time
}

// Store provides fact persistence and lookup for one SQLite database.
type Store struct {
	db *store.Store
}

// New creates a Store backed by the application SQLite database.
func New(db *store.Store) *Store {
	return &Store{db: db}
}

// Remember normalizes rawKey and upserts the fact. It reports whether an
// existing value was overwritten (true) or a new fact was created (false),
// so callers can tell the user "updated" vs "saved".
func (s *Store) Remember(ctx context.Context, chatID, rawKey, value, ownerID string) (overwrote bool, err error) {
	key := NormalizeKey(rawKey)
	now := time.Now().UTC()

	err = s.db.Tx(ctx, func(tx *sql.Tx) error {
		var existingID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM facts WHERE chat_id = ? AND subject_key = ?`,
			chatID, key,
		).Scan(&existingID)

		switch {
		case err == nil:
			overwrote = true
			_, err = tx.ExecContext(ctx, `
				UPDATE facts SET value = ?, owner_id = ?, updated_at = ?
				WHERE id = ?
			`, value, ownerID, now, existingID)
			if err != nil {
				return &store.StorageError{Op: "update fact", Err: err}
			}
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, `
				INSERT INTO facts (id, chat_id, subject_key, value, owner_id, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, uuid.New().String(), chatID, key, value, ownerID, now)
			if err != nil {
				return &store.StorageError{Op: "insert fact", Err: err}
			}
		default:
			return &store.StorageError{Op: "lookup fact", Err: err}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return overwrote, nil
}

// Recall looks up a fact by key or free-form query. The query is normalized
// and matched exactly first; on a miss, a scored fuzzy match runs against
// all stored keys for the chat. Returns ErrNotFound when no candidate
// clears the similarity threshold or when multiple candidates tie at the
// top score (ambiguity resolves to not-found rather than guessing).
func (s *Store) Recall(ctx context.Context, chatID, query string) (*Fact, error) {
	key := NormalizeKey(query)

	fact, err := s.getExact(ctx, chatID, key)
	if err == nil {
		return fact, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	keys, err := s.allKeys(ctx, chatID)
	if err != nil {
		return nil, err
	}

	best, ok := bestMatch(key, keys)
	if !ok {
		return nil, ErrNotFound
	}
	return s.getExact(ctx, chatID, best)
}

// Forget deletes the fact for the normalized key, reporting whether a
// deletion occurred. A miss is not an error.
func (s *Store) Forget(ctx context.Context, chatID, rawKey string) (bool, error) {
	key := NormalizeKey(rawKey)

	result, err := s.db.DB().ExecContext(ctx,
		`DELETE FROM facts WHERE chat_id = ? AND subject_key = ?`,
		chatID, key,
	)
	if err != nil {
		return false, &store.StorageError{Op: "delete fact", Err: err}
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, &store.StorageError{Op: "check rows affected", Err: err}
	}
	return rows > 0, nil
}

// AllFacts returns every fact for the chat as a key→value map. An empty map
// (not nil) is returned when the chat has no facts.
func (s *Store) AllFacts(ctx context.Context, chatID string) (map[string]string, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT subject_key, value FROM facts WHERE chat_id = ? ORDER BY subject_key`,
		chatID,
	)
	if err != nil {
		return nil, &store.StorageError{Op: "list facts", Err: err}
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, &store.StorageError{Op: "scan fact", Err: err}
		}
		result[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StorageError{Op: "iterate facts", Err: err}
	}
	return result, nil
}

// FactCount returns the number of facts stored for the chat.
func (s *Store) FactCount(ctx context.Context, chatID string) (int, error) {
	var count int
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM facts WHERE chat_id = ?`,
		chatID,
	).Scan(&count)
	if err != nil {
		return 0, &store.StorageError{Op: "count facts", Err: err}
	}
	return count, nil
}

// getExact fetches the fact for an already-normalized key.
func (s *Store) getExact(ctx context.Context, chatID, key string) (*Fact, error) {
	fact := &Fact{}
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT id, chat_id, subject_key, value, owner_id, updated_at
		FROM facts
		WHERE chat_id = ? AND subject_key = ?
	`, chatID, key).Scan(
		&fact.ID, &fact.ChatID, &fact.SubjectKey, &fact.Value, &fact.OwnerID, &fact.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &store.StorageError{Op: "get fact", Err: err}
	}
	return fact, nil
}

// allKeys returns every normalized key stored for the chat.
func (s *Store) allKeys(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT subject_key FROM facts WHERE chat_id = ? ORDER BY subject_key`,
		chatID,
	)
	if err != nil {
		return nil, &store.StorageError{Op: "list fact keys", Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, &store.StorageError{Op: "scan fact key", Err: err}
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StorageError{Op: "iterate fact keys", Err: err}
	}
	return keys, nil
}
