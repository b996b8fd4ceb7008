package kv

import (
	"context"
	"time"
)

type timeoutStore struct {
	inner   Store
	timeout time.Duration
}

// WithTimeout bounds every operation on inner. A non-positive timeout returns inner unchanged.
func WithTimeout(inner Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return inner
	}
	return &timeoutStore{inner: inner, timeout: timeout}
}

func (s *timeoutStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.inner.Get(ctx, key)
}

func (s *timeoutStore) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.inner.Set(ctx, key, value)
}

func (s *timeoutStore) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.inner.Remove(ctx, key)
}
