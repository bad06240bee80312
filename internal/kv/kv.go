// Package kv provides the key/value backends used for credentials and
// per-session weather state.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string key/value store. Delete removes every given key in one
// step: a subsequent Get never observes a subset of them still present.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}
