package tokenstore

import (
	"context"
	"fmt"

	"github.com/palpalette/client/pkg/cryptox"
)

// SealedBackend encrypts every value before handing it to the wrapped
// backend. The storage key is bound as additional data, so a sealed access
// token copied under the refresh_token key fails to open.
type SealedBackend struct {
	inner  Backend
	sealer *cryptox.Sealer
}

func NewSealedBackend(inner Backend, sealer *cryptox.Sealer) *SealedBackend {
	return &SealedBackend{inner: inner, sealer: sealer}
}

func (s *SealedBackend) Get(ctx context.Context, key string) (string, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}

	plain, err := s.sealer.Open(sealed, []byte(key))
	if err != nil {
		return "", fmt.Errorf("tokenstore: open %q: %w", key, err)
	}
	return string(plain), nil
}

func (s *SealedBackend) Apply(ctx context.Context, b Batch) error {
	sealed := Batch{Set: make(map[string]string, len(b.Set)), Delete: b.Delete}
	for key, value := range b.Set {
		v, err := s.sealer.Seal([]byte(value), []byte(key))
		if err != nil {
			return fmt.Errorf("tokenstore: seal %q: %w", key, err)
		}
		sealed.Set[key] = v
	}
	return s.inner.Apply(ctx, sealed)
}

func (s *SealedBackend) Close() error { return s.inner.Close() }
