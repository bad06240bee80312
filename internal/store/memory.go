package store

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lookup has no result.
	ErrNotFound = errors.New("not found")
)

// HistoryEntry is one search remembered for a user.
type HistoryEntry struct {
	ID              string          `json:"id"`
	CityNameQueried string          `json:"city_name_queried"`
	City            string          `json:"city"`
	Country         string          `json:"country"`
	WeatherCache    json.RawMessage `json:"weather_cache"`
	Timestamp       time.Time       `json:"timestamp"`
}

// HistoryStore is a concurrency-safe in-memory search history, one list per
// user.
type HistoryStore struct {
	mu sync.RWMutex

	// key: username, value: entries keyed by the queried city
	data map[string]map[string]*HistoryEntry

	// retention configuration
	maxHistory int           // max number of entries per user
	maxAge     time.Duration // optional max age for entries

	now func() time.Time
}

// NewHistoryStore creates a HistoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewHistoryStore(maxHistory int, maxAge time.Duration) *HistoryStore {
	return &HistoryStore{
		data:       make(map[string]map[string]*HistoryEntry),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Record updates the user's entry for the queried city, creating it if
// needed. The entry keeps its first timestamp; only the weather payload is
// refreshed.
func (s *HistoryStore) Record(username, cityQueried string, data json.RawMessage) HistoryEntry {
	queried := strings.TrimSpace(cityQueried)
	city, country := canonicalNames(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.data[username]
	if !ok {
		entries = make(map[string]*HistoryEntry)
		s.data[username] = entries
	}

	entry, ok := entries[queried]
	if !ok {
		entry = &HistoryEntry{
			ID:              uuid.NewString(),
			CityNameQueried: queried,
			Timestamp:       s.now().UTC(),
		}
		entries[queried] = entry
	}
	entry.City = city
	entry.Country = country
	entry.WeatherCache = append(json.RawMessage(nil), data...)

	s.enforceRetention(entries)
	return *entry
}

// enforceRetention drops the oldest entries beyond maxHistory and any older
// than maxAge. Caller holds mu.
func (s *HistoryStore) enforceRetention(entries map[string]*HistoryEntry) {
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		for k, e := range entries {
			if e.Timestamp.Before(cutoff) {
				delete(entries, k)
			}
		}
	}

	if s.maxHistory > 0 && len(entries) > s.maxHistory {
		ordered := sortedNewestFirst(entries)
		for _, e := range ordered[s.maxHistory:] {
			delete(entries, e.CityNameQueried)
		}
	}
}

// List returns the user's entries, newest first.
func (s *HistoryStore) List(username string) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := sortedNewestFirst(s.data[username])
	result := make([]HistoryEntry, 0, len(ordered))
	for _, e := range ordered {
		result = append(result, *e)
	}
	return result
}

func sortedNewestFirst(entries map[string]*HistoryEntry) []*HistoryEntry {
	out := make([]*HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// canonicalNames reads the provider's own city name and country code.
func canonicalNames(data json.RawMessage) (city, country string) {
	var payload struct {
		Name string `json:"name"`
		Sys  struct {
			Country string `json:"country"`
		} `json:"sys"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", ""
	}
	return strings.ToUpper(payload.Name), strings.ToUpper(payload.Sys.Country)
}
