package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/palpalette/client/pkg/tokenstore"
)

// DefaultPrefix namespaces session keys when no prefix is configured.
const DefaultPrefix = "palpalette:session:"

// Backend keeps session values in Redis, for hosts where several client
// processes share one login (kiosks, the companion daemon).
type Backend struct {
	client *redis.Client
	prefix string
	owned  bool
}

var _ tokenstore.Backend = (*Backend)(nil)

// New wraps an existing client. The caller keeps ownership of client.
func New(client *redis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{client: client, prefix: prefix}
}

// Dial connects to addr and verifies the connection. Close releases the
// client.
func Dial(ctx context.Context, addr, prefix string) (*Backend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: ping %s: %w", addr, err)
	}

	b := New(client, prefix)
	b.owned = true
	return b, nil
}

func (b *Backend) Get(ctx context.Context, key string) (string, error) {
	v, err := b.client.Get(ctx, b.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", tokenstore.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redisstore: get %q: %w", key, err)
	}
	return v, nil
}

// Apply sends the batch as a MULTI/EXEC transaction.
func (b *Backend) Apply(ctx context.Context, batch tokenstore.Batch) error {
	if batch.Empty() {
		return nil
	}

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range batch.Set {
			pipe.Set(ctx, b.key(key), value, 0)
		}
		if len(batch.Delete) > 0 {
			keys := make([]string, len(batch.Delete))
			for i, key := range batch.Delete {
				keys[i] = b.key(key)
			}
			pipe.Del(ctx, keys...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: apply: %w", err)
	}
	return nil
}

func (b *Backend) Close() error {
	if b.owned {
		return b.client.Close()
	}
	return nil
}

func (b *Backend) key(k string) string { return b.prefix + k }
