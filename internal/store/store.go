// Package store persists the local session across process restarts.
package store

import (
	"context"
	"time"
)

// Entry is one persisted key-value pair.
type Entry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// SessionStore is a simple string key-value store.
type SessionStore interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// List returns every entry ordered by key.
	List(ctx context.Context) ([]Entry, error)
	Close() error
}
