// Package ledger implements the append-only per-chat message log.
//
// Every message written to a chat receives a monotonically increasing
// sequence number scoped to that chat. Sequence numbers are assigned inside
// the insert transaction and are never reused or reordered, so reading a
// chat's messages in sequence order reproduces exact chronological order.
//
// The ledger itself does not serialize concurrent appends for the same chat;
// that is the job of the engine's per-chat lock. The UNIQUE(chat_id,
// sequence_no) constraint backstops the invariant at the storage layer.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single immutable entry in a chat's ledger.
type Message struct {
	ID         string
	ChatID     string
	SequenceNo int64
	AuthorID   string
	AuthorName string
	Role       Role
	Body       string
	CreatedAt  time.Time
}

// Ledger provides append and windowed read access to the messages table.
type Ledger struct {
	db *store.Store
}

// New creates a Ledger backed by the application SQLite database.
func New(db *store.Store) *Ledger {
	return &Ledger{db: db}
}

// Append persists msg with the next sequence number for its chat and returns
// that sequence number. The read-max-then-insert pair runs in one transaction
// so a failure leaves no partial state. Callers must hold the chat lock; two
// racing appends for the same chat would otherwise collide on the unique
// (chat_id, sequence_no) constraint.
func (l *Ledger) Append(ctx context.Context, msg *Message) (int64, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var seq int64
	err := l.db.Tx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sequence_no), 0) + 1 FROM messages WHERE chat_id = ?`,
			msg.ChatID,
		).Scan(&seq)
		if err != nil {
			return &store.StorageError{Op: "next sequence number", Err: err}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, chat_id, sequence_no, author_id, author_name, role, body, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.ChatID, seq, msg.AuthorID, msg.AuthorName, string(msg.Role), msg.Body, msg.CreatedAt)
		if err != nil {
			return &store.StorageError{Op: "append message", Err: err}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	msg.SequenceNo = seq
	return seq, nil
}

// RecentWindow returns the most recent limit messages for the chat in
// ascending chronological order. A chat with no history yields an empty
// slice, not an error.
func (l *Ledger) RecentWindow(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := l.db.DB().QueryContext(ctx, `
		SELECT id, chat_id, sequence_no, author_id, author_name, role, body, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY sequence_no DESC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, &store.StorageError{Op: "recent window", Err: err}
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Query returned newest-first; callers expect chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// FullHistorySince returns every message for the chat with a sequence number
// strictly greater than sinceSeq, in ascending order. Used by the
// summarization path; the result may be arbitrarily large and the caller is
// responsible for chunking it before handing it to the completion provider.
func (l *Ledger) FullHistorySince(ctx context.Context, chatID string, sinceSeq int64) ([]Message, error) {
	rows, err := l.db.DB().QueryContext(ctx, `
		SELECT id, chat_id, sequence_no, author_id, author_name, role, body, created_at
		FROM messages
		WHERE chat_id = ? AND sequence_no > ?
		ORDER BY sequence_no ASC
	`, chatID, sinceSeq)
	if err != nil {
		return nil, &store.StorageError{Op: "full history", Err: err}
	}
	defer rows.Close()

	return scanMessages(rows)
}

// LatestSequence returns the highest sequence number recorded for the chat,
// or 0 when the chat has no history.
func (l *Ledger) LatestSequence(ctx context.Context, chatID string) (int64, error) {
	var seq int64
	err := l.db.DB().QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_no), 0) FROM messages WHERE chat_id = ?`,
		chatID,
	).Scan(&seq)
	if err != nil {
		return 0, &store.StorageError{Op: "latest sequence", Err: err}
	}
	return seq, nil
}

// MessageCount returns the number of messages recorded for the chat.
func (l *Ledger) MessageCount(ctx context.Context, chatID string) (int, error) {
	var count int
	err := l.db.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = ?`,
		chatID,
	).Scan(&count)
	if err != nil {
		return 0, &store.StorageError{Op: "count messages", Err: err}
	}
	return count, nil
}

// ChatCount returns the number of distinct chats with recorded history.
func (l *Ledger) ChatCount(ctx context.Context) (int, error) {
	var count int
	err := l.db.DB().QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT chat_id) FROM messages`,
	).Scan(&count)
	if err != nil {
		return 0, &store.StorageError{Op: "count chats", Err: err}
	}
	return count, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SequenceNo, &m.AuthorID, &m.AuthorName, &role, &m.Body, &m.CreatedAt); err != nil {
			return nil, &store.StorageError{Op: "scan message", Err: err}
		}
		m.Role = Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StorageError{Op: "iterate messages", Err: err}
	}
	return msgs, nil
}
