// Package tokens stores the access token, refresh token and username.
package tokens

import (
	"context"
	"errors"

	"github.com/i474232898/weather-chat/internal/kv"
)

const (
	keyAccess   = "access_token"
	keyRefresh  = "refresh_token"
	keyUsername = "username"
)

// Store wraps a durable kv.Store. It holds no logic beyond get/set/clear; an
// absent key reads as the empty string.
type Store struct {
	kv kv.Store
}

// NewStore creates a Store over backend.
func NewStore(backend kv.Store) *Store {
	return &Store{kv: backend}
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	v, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (s *Store) Access(ctx context.Context) (string, error)   { return s.get(ctx, keyAccess) }
func (s *Store) Refresh(ctx context.Context) (string, error)  { return s.get(ctx, keyRefresh) }
func (s *Store) Username(ctx context.Context) (string, error) { return s.get(ctx, keyUsername) }

// SetTokens replaces both tokens. An empty refresh removes the stored one.
func (s *Store) SetTokens(ctx context.Context, access, refresh string) error {
	if err := s.kv.Set(ctx, keyAccess, access); err != nil {
		return err
	}
	if refresh == "" {
		return s.kv.Delete(ctx, keyRefresh)
	}
	return s.kv.Set(ctx, keyRefresh, refresh)
}

// Rotate stores a refreshed access token. An empty refresh leaves the stored
// one in place.
func (s *Store) Rotate(ctx context.Context, access, refresh string) error {
	if err := s.kv.Set(ctx, keyAccess, access); err != nil {
		return err
	}
	if refresh == "" {
		return nil
	}
	return s.kv.Set(ctx, keyRefresh, refresh)
}

func (s *Store) SetUsername(ctx context.Context, name string) error {
	return s.kv.Set(ctx, keyUsername, name)
}

// Clear removes all three keys in a single backend delete.
func (s *Store) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, keyAccess, keyRefresh, keyUsername)
}
