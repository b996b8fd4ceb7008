// Package kv provides the durable key-value stores that back timeline persistence.
package kv

import (
	"context"
	"errors"
	"io"
)

// Store is the minimal key-value contract used by timeline recorders.
// Get reports absence with ok == false rather than an error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Backend is a Store that owns an underlying resource.
type Backend interface {
	Store
	io.Closer
}

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("kv: store closed")
