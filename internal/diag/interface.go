// Package diag stores diagnostic snapshots of a connection's subscription
// table so they can be inspected from outside the process.
package diag

import (
	"context"
	"time"

	"subjectbus/internal/dispatch"
)

// Snapshot is the subscription table of one connection at a point in time.
type Snapshot struct {
	Connection    string            `json:"connection"`
	Taken         time.Time         `json:"taken"`
	Subscriptions []dispatch.Stats  `json:"subscriptions"`
	Totals        dispatch.Counters `json:"totals"`
}

// Store keeps the latest snapshot per connection.
type Store interface {
	Save(ctx context.Context, snap Snapshot, ttl time.Duration) (int64, error)
	Load(ctx context.Context, connection string) (Snapshot, int64, error)
	Delete(ctx context.Context, connection string) error
	Close() error
}
