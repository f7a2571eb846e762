// Package history persists the turn-by-turn record of a conversation so it
// can be audited after the session ends.
package history

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidStoreType = errors.New("invalid history store type")
	ErrInvalidConfig    = errors.New("invalid history store config")
)

// TurnRecord is one archived turn: what the caller said, what the assistant
// answered and how the turn ended.
type TurnRecord struct {
	TurnID     string    `json:"turnId"`
	Transcript string    `json:"transcript"`
	Response   string    `json:"response"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store archives turn records per session.
type Store interface {
	// Append adds a turn record to the session's history.
	Append(ctx context.Context, sessionID string, record TurnRecord) error

	// List returns the session's records in append order. A session with no
	// history yields an empty slice, not an error.
	List(ctx context.Context, sessionID string) ([]TurnRecord, error)

	// Clear drops the session's history.
	Clear(ctx context.Context, sessionID string) error

	// Close closes the store and releases any resources.
	Close() error
}
