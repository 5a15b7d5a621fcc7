// Package realtime defines the key-path store the lobby session synchronises
// through, plus the value, snapshot and query model shared by its backends.
package realtime

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("realtime: connection closed")
	// ErrInvalidPath is returned for paths with empty or forbidden segments.
	ErrInvalidPath = errors.New("realtime: invalid path")
)

// Handle identifies an active subscription. It is plain data and can be
// stored by the owner of the subscription.
type Handle struct {
	ID   string
	Path string
}

// Store is a single connection to a hierarchical key-path database.
type Store interface {
	// Write replaces the value at path. A nil value removes it.
	Write(ctx context.Context, path string, value any) error

	// Append stores value under a new generated child key of path and
	// returns that key. Generated keys sort in creation order.
	Append(ctx context.Context, path string, value any) (string, error)

	// ReadOnce returns the current value at path.
	ReadOnce(ctx context.Context, path string) (Snapshot, error)

	// Subscribe delivers a full snapshot of path (filtered by q when set)
	// right away and again after every change below or above it.
	Subscribe(ctx context.Context, path string, q *Query, fn func(Snapshot)) (Handle, error)

	// Unsubscribe stops a subscription. Unknown handles are ignored.
	Unsubscribe(h Handle) error

	// RemoveOnDisconnect registers path for removal when this connection
	// goes away, gracefully or not.
	RemoveOnDisconnect(ctx context.Context, path string) error

	// Remove deletes the value at path.
	Remove(ctx context.Context, path string) error

	// Close ends the connection and runs its disconnect operations.
	Close() error
}

// Backend hands out connections to one shared database.
type Backend interface {
	Connect(ctx context.Context) (Store, error)
	Close() error
}
