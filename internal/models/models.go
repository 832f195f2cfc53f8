// package models defines the data model for the now-playing service
package models

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a [Repository] when a key has no value.
var ErrNotFound = errors.New("key not found")

// Repository defines the key-value persistence the token store writes through to.
// Implementations include the in-memory, SQLite, Redis and Postgres stores.
type Repository interface {
	Get(ctx context.Context, key string) (string, error) // Get returns the value for key or [ErrNotFound]
	Set(ctx context.Context, key, value string) error    // Set creates or overwrites the value for key
	Delete(ctx context.Context, key string) error        // Delete removes key; deleting a missing key is not an error
	Close() error                                        // Close releases the underlying connection
}
