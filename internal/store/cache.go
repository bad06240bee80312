package store

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Location identifies a cached lookup.
type Location struct {
	City    string
	State   string
	Country string
}

// Normalize trims and upper-cases every part.
func (l Location) Normalize() Location {
	return Location{
		City:    strings.ToUpper(strings.TrimSpace(l.City)),
		State:   strings.ToUpper(strings.TrimSpace(l.State)),
		Country: strings.ToUpper(strings.TrimSpace(l.Country)),
	}
}

// Key returns a stable key for the normalized location.
func (l Location) Key() string {
	n := l.Normalize()
	return n.City + "|" + n.State + "|" + n.Country
}

type cacheEntry struct {
	data      json.RawMessage
	updatedAt time.Time
}

// WeatherCache keeps raw provider responses for ttl. A response is stored
// under the location as queried and under the provider's canonical name so
// either spelling finds it.
type WeatherCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewWeatherCache creates a cache. A ttl <= 0 disables caching.
func NewWeatherCache(ttl time.Duration) *WeatherCache {
	return &WeatherCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a response that is still valid.
func (c *WeatherCache) Get(loc Location) (json.RawMessage, error) {
	if c.ttl <= 0 {
		return nil, ErrNotFound
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[loc.Key()]
	if !ok || c.now().Sub(e.updatedAt) > c.ttl {
		return nil, ErrNotFound
	}
	return e.data, nil
}

// Put stores data for the queried location and for its canonical name.
func (c *WeatherCache) Put(queried Location, data json.RawMessage) {
	if c.ttl <= 0 {
		return
	}

	keys := []string{queried.Key()}
	city, country := canonicalNames(data)
	if city != "" {
		keys = append(keys, Location{City: city, State: queried.State, Country: country}.Key())
	}

	entry := cacheEntry{data: append(json.RawMessage(nil), data...), updatedAt: c.now()}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.entries[k] = entry
	}
}

// Sweep removes expired entries and returns how many were dropped.
func (c *WeatherCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if c.now().Sub(e.updatedAt) > c.ttl {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
