package eventstore

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one journal entry. ID and At are assigned by the store on append.
type Event struct {
	ID       int64
	RunID    string
	Type     string
	At       time.Time
	Payload  json.RawMessage
	Metadata map[string]string
}

// Store persists journal events. Reads return events oldest first unless
// stated otherwise.
type Store interface {
	Append(ctx context.Context, e Event) error
	GetByRunID(ctx context.Context, runID string) ([]Event, error)
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// Recent returns up to limit of the newest events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)

	// Prune deletes events older than before and reports how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
