package store

import (
	"sync"
	"time"
)

// RevocationList remembers revoked token IDs until the token would have
// expired anyway.
type RevocationList struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewRevocationList() *RevocationList {
	return &RevocationList{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke marks id as unusable until expiresAt.
func (r *RevocationList) Revoke(id string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[id] = expiresAt
}

func (r *RevocationList) IsRevoked(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.revoked[id]
	return ok
}

// Sweep forgets revocations whose tokens have expired and returns how many
// were dropped.
func (r *RevocationList) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for id, exp := range r.revoked {
		if now.After(exp) {
			delete(r.revoked, id)
			n++
		}
	}
	return n
}

func (r *RevocationList) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.revoked)
}
