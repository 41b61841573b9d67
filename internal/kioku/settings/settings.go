// Package settings manages per-chat behavioral configuration: tone,
// creativity (temperature), model choice, and context window size. Every
// chat always has a well-defined configuration — a default row is
// materialized lazily on first access and never deleted afterwards.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// Tones is the set of legal tone values, each mapping to a persona preset.
var Tones = map[string]struct{}{
	"friendly":     {},
	"professional": {},
	"humorous":     {},
	"serious":      {},
	"flattering":   {},
	"casual":       {},
	"formal":       {},
}

// Temperature bounds accepted by Update.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// Settings is the per-chat configuration row.
type Settings struct {
	ChatID            string
	Tone              string
	Temperature       float64
	ModelName         string
	ContextWindowSize int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Update carries a partial settings change; nil fields are left untouched.
type Update struct {
	Tone              *string
	Temperature       *float64
	ModelName         *string
	ContextWindowSize *int
}

// ValidationError reports a rejected settings update. The prior settings
// are unchanged when this is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("settings: invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Registry provides read/update access to chat settings with lazily
// materialized defaults.
type Registry struct {
	db       *store.Store
	defaults Settings
}

// Defaults mirror the behaviour users saw before any configuration.
const (
	DefaultTone              = "friendly"
	DefaultTemperature       = 0.7
	DefaultModelName         = "gemini-2.5-flash"
	DefaultContextWindowSize = 7
)

// New creates a Registry. defaultModel overrides the built-in model default
// when non-empty (it normally comes from the process environment).
func New(db *store.Store, defaultModel string) *Registry {
	if defaultModel == "" {
		defaultModel = DefaultModelName
	}
	return &Registry{
		db: db,
		defaults: Settings{
			Tone:              DefaultTone,
			Temperature:       DefaultTemperature,
			ModelName:         defaultModel,
			ContextWindowSize: DefaultContextWindowSize,
		},
	}
}

// DefaultModel returns the model name new chats start with.
func (r *Registry) DefaultModel() string {
	return r.defaults.ModelName
}

// Get returns the chat's settings, creating the default row on first access.
func (r *Registry) Get(ctx context.Context, chatID string) (*Settings, error) {
	s, err := r.get(ctx, chatID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	return r.materialize(ctx, chatID)
}

// Update validates the partial change and applies only the provided fields.
// Any out-of-range field rejects the whole update with a *ValidationError
// and leaves the stored settings untouched.
func (r *Registry) Update(ctx context.Context, chatID string, change Update) (*Settings, error) {
	if err := validate(change); err != nil {
		return nil, err
	}

	// Ensure the row exists before updating in place.
	if _, err := r.Get(ctx, chatID); err != nil {
		return nil, err
	}

	// Read-modify-write inside one transaction; without it two concurrent
	// partial updates could each re-read the same row and one patch's
	// untouched fields would overwrite the other's changes.
	var updated *Settings
	err := r.db.Tx(ctx, func(tx *sql.Tx) error {
		current := &Settings{}
		err := tx.QueryRowContext(ctx, `
			SELECT chat_id, tone, temperature, model_name, context_window_size, created_at, updated_at
			FROM chat_settings
			WHERE chat_id = ?
		`, chatID).Scan(
			&current.ChatID, &current.Tone, &current.Temperature, &current.ModelName, &current.ContextWindowSize, &current.CreatedAt, &current.UpdatedAt,
		)
		if err != nil {
			return err
		}

		if change.Tone != nil {
			current.Tone = strings.ToLower(strings.TrimSpace(*change.Tone))
		}
		if change.Temperature != nil {
			current.Temperature = *change.Temperature
		}
		if change.ModelName != nil {
			current.ModelName = *change.ModelName
		}
		if change.ContextWindowSize != nil {
			current.ContextWindowSize = *change.ContextWindowSize
		}
		current.UpdatedAt = time.Now().UTC()

		if _, err := tx.ExecContext(ctx, `
			UPDATE chat_settings
			SET tone = ?, temperature = ?, model_name = ?, context_window_size = ?, updated_at = ?
			WHERE chat_id = ?
		`, current.Tone, current.Temperature, current.ModelName, current.ContextWindowSize, current.UpdatedAt, chatID); err != nil {
			return err
		}

		updated = current
		return nil
	})
	if err != nil {
		return nil, &store.StorageError{Op: "update settings", Err: err}
	}

	return updated, nil
}

func (r *Registry) get(ctx context.Context, chatID string) (*Settings, error) {
	s := &Settings{}
	err := r.db.DB().QueryRowContext(ctx, `
		SELECT chat_id, tone, temperature, model_name, context_window_size, created_at, updated_at
		FROM chat_settings
		WHERE chat_id = ?
	`, chatID).Scan(
		&s.ChatID, &s.Tone, &s.Temperature, &s.ModelName, &s.ContextWindowSize, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, &store.StorageError{Op: "get settings", Err: err}
	}
	return s, nil
}

// materialize inserts the default row for a chat seen for the first time.
// Races with a concurrent materialization are resolved by re-reading: the
// chat lock normally prevents them, but Get is also reachable from the
// admin HTTP surface which does not hold the lock.
func (r *Registry) materialize(ctx context.Context, chatID string) (*Settings, error) {
	now := time.Now().UTC()
	s := r.defaults
	s.ChatID = chatID
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO chat_settings (chat_id, tone, temperature, model_name, context_window_size, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO NOTHING
	`, s.ChatID, s.Tone, s.Temperature, s.ModelName, s.ContextWindowSize, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return nil, &store.StorageError{Op: "materialize default settings", Err: err}
	}

	got, err := r.get(ctx, chatID)
	if err != nil {
		return nil, &store.StorageError{Op: "reread settings", Err: err}
	}
	return got, nil
}

func validate(change Update) error {
	if change.Tone != nil {
		tone := strings.ToLower(strings.TrimSpace(*change.Tone))
		if _, ok := Tones[tone]; !ok {
			return &ValidationError{
				Field:  "tone",
				Reason: fmt.Sprintf("%q is not one of %s", *change.Tone, toneList()),
			}
		}
	}
	if change.Temperature != nil {
		if t := *change.Temperature; t < MinTemperature || t > MaxTemperature {
			return &ValidationError{
				Field:  "temperature",
				Reason: fmt.Sprintf("%.2f is outside [%.1f, %.1f]", t, MinTemperature, MaxTemperature),
			}
		}
	}
	if change.ModelName != nil && strings.TrimSpace(*change.ModelName) == "" {
		return &ValidationError{Field: "model_name", Reason: "must not be empty"}
	}
	if change.ContextWindowSize != nil && *change.ContextWindowSize < 1 {
		return &ValidationError{Field: "context_window_size", Reason: "must be at least 1"}
	}
	return nil
}

func toneList() string {
	names := make([]string, 0, len(Tones))
	for t := range Tones {
		names = append(names, t)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
