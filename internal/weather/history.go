package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HistoryPath lists the logged-in user's past searches.
const HistoryPath = "/api/history/"

// ErrLoginRequired is returned by History for anonymous sessions.
var ErrLoginRequired = errors.New("login required")

// HistoryEntry is one past search.
type HistoryEntry struct {
	ID              string    `json:"id"`
	CityNameQueried string    `json:"city_name_queried"`
	City            string    `json:"city"`
	Country         string    `json:"country"`
	Timestamp       time.Time `json:"timestamp"`
}

// History fetches the search history through the authenticated client.
func (s *Session) History(ctx context.Context) ([]HistoryEntry, error) {
	if !s.opts.Auth.IsLoggedIn(ctx) {
		return nil, ErrLoginRequired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.BaseURL+HistoryPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.opts.Auth.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := decodeError(body).message()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("history: %s", msg)
	}

	var entries []HistoryEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return entries, nil
}
