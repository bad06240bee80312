package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func payload(name, country string) json.RawMessage {
	return json.RawMessage(`{"name":"` + name + `","sys":{"country":"` + country + `"}}`)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestHistoryUpdateOrCreate(t *testing.T) {
	clk := &clock{t: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)}
	s := NewHistoryStore(0, 0)
	s.now = clk.now

	first := s.Record("alice", " Paris ", payload("Paris", "FR"))
	clk.t = clk.t.Add(time.Minute)
	s.Record("alice", "Oslo", payload("Oslo", "NO"))
	clk.t = clk.t.Add(time.Minute)
	again := s.Record("alice", "Paris", json.RawMessage(`{"name":"Paris","sys":{"country":"FR"},"main":{"temp":3}}`))

	if again.ID != first.ID || !again.Timestamp.Equal(first.Timestamp) {
		t.Fatalf("expected the existing entry to be updated, got %+v", again)
	}

	list := s.List("alice")
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	if list[0].CityNameQueried != "Oslo" || list[1].CityNameQueried != "Paris" {
		t.Fatalf("expected newest first, got %q then %q", list[0].CityNameQueried, list[1].CityNameQueried)
	}
	if list[1].City != "PARIS" || list[1].Country != "FR" {
		t.Fatalf("unexpected canonical names %+v", list[1])
	}
	if string(list[1].WeatherCache) != `{"name":"Paris","sys":{"country":"FR"},"main":{"temp":3}}` {
		t.Fatalf("payload not refreshed: %s", list[1].WeatherCache)
	}

	if len(s.List("bob")) != 0 {
		t.Fatal("history must be per user")
	}
}

func TestHistoryRetention(t *testing.T) {
	clk := &clock{t: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)}
	s := NewHistoryStore(2, time.Hour)
	s.now = clk.now

	for _, city := range []string{"A", "B", "C"} {
		s.Record("alice", city, payload(city, "XX"))
		clk.t = clk.t.Add(time.Minute)
	}
	list := s.List("alice")
	if len(list) != 2 || list[0].CityNameQueried != "C" || list[1].CityNameQueried != "B" {
		t.Fatalf("expected the two newest entries, got %+v", list)
	}

	clk.t = clk.t.Add(2 * time.Hour)
	s.Record("alice", "D", payload("D", "XX"))
	list = s.List("alice")
	if len(list) != 1 || list[0].CityNameQueried != "D" {
		t.Fatalf("expected aged entries dropped, got %+v", list)
	}
}

func TestWeatherCache(t *testing.T) {
	clk := &clock{t: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)}
	c := NewWeatherCache(time.Hour)
	c.now = clk.now

	queried := Location{City: "paris ", State: "idf", Country: "fr"}
	c.Put(queried, payload("Paris", "FR"))

	if _, err := c.Get(Location{City: "PARIS", State: "IDF", Country: "FR"}); err != nil {
		t.Fatalf("expected normalized hit, got %v", err)
	}

	c.Put(Location{City: "NYC", State: "NY", Country: "US"}, payload("New York", "US"))
	if _, err := c.Get(Location{City: "new york", State: "ny", Country: "us"}); err != nil {
		t.Fatalf("expected canonical-name hit, got %v", err)
	}

	clk.t = clk.t.Add(61 * time.Minute)
	if _, err := c.Get(queried); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if n := c.Sweep(); n != 3 {
		t.Fatalf("expected 3 expired keys swept, got %d", n)
	}
}

func TestWeatherCacheDisabled(t *testing.T) {
	c := NewWeatherCache(0)
	c.Put(Location{City: "Paris"}, payload("Paris", "FR"))
	if _, err := c.Get(Location{City: "Paris"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected miss with caching disabled, got %v", err)
	}
}

func TestUserStore(t *testing.T) {
	s := NewUserStore()
	s.cost = bcrypt.MinCost

	if _, err := s.Create("alice", "Alice@example.com", "s3cret-pass"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create("alice", "other@example.com", "s3cret-pass"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if _, err := s.Create("bob", "alice@EXAMPLE.com", "s3cret-pass"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	if _, err := s.Authenticate("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.Authenticate("carol", "s3cret-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
	u, err := s.Authenticate("alice", "s3cret-pass")
	if err != nil || u.Username != "alice" || u.ID == "" {
		t.Fatalf("authenticate: %+v %v", u, err)
	}
}

func TestRevocationSweep(t *testing.T) {
	clk := &clock{t: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)}
	r := NewRevocationList()
	r.now = clk.now

	r.Revoke("old", clk.t.Add(time.Minute))
	r.Revoke("new", clk.t.Add(time.Hour))

	clk.t = clk.t.Add(10 * time.Minute)
	if n := r.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	if r.IsRevoked("old") || !r.IsRevoked("new") {
		t.Fatal("sweep removed the wrong entries")
	}
}
