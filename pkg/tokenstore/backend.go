package tokenstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by backends when a key is absent. SecureStore turns
// it into an empty result; callers of SecureStore never see it.
var ErrNotFound = errors.New("tokenstore: not found")

// Batch is a set of writes and deletes applied as one unit.
type Batch struct {
	Set    map[string]string
	Delete []string
}

// Empty reports whether the batch has nothing to apply.
func (b Batch) Empty() bool { return len(b.Set) == 0 && len(b.Delete) == 0 }

// Backend is the platform storage the secure store sits on. Implementations
// must apply a Batch atomically: either every write and delete lands or none
// does, so a token pair and its user record never diverge.
type Backend interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Apply writes and deletes the batch atomically.
	Apply(ctx context.Context, b Batch) error

	// Close releases any underlying resources.
	Close() error
}
