package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "a", "1"); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := s.Set(ctx, "b", "2"); err != nil {
		t.Fatalf("set b: %v", err)
	}
	if err := s.Set(ctx, "a", "3"); err != nil {
		t.Fatalf("overwrite a: %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	if got != "3" {
		t.Fatalf("expected a=3, got %q", got)
	}

	if err := s.Delete(ctx, "a", "b", "never-set"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if _, err := s.Get(ctx, k); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected %s to be deleted, got %v", k, err)
		}
	}

	if err := s.Delete(ctx); err != nil {
		t.Fatalf("empty delete: %v", err)
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	exerciseStore(t, m)
	if m.Len() != 0 {
		t.Fatalf("expected empty store, got %d keys", m.Len())
	}
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kv.db")

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer s.Close()

	exerciseStore(t, s)
}

func TestSQLitePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	if err := s.Set(ctx, "access_token", "A1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	got, err := s.Get(ctx, "access_token")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got != "A1" {
		t.Fatalf("expected A1, got %q", got)
	}
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("WEATHERCHAT_TEST_REDIS")
	if addr == "" {
		t.Skip("WEATHERCHAT_TEST_REDIS not set")
	}

	r, err := NewRedis(context.Background(), addr, "weatherchat-test:"+uuid.NewString()+":")
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	defer r.Close()

	exerciseStore(t, r)
}
