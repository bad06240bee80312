package providers

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/i474232898/weather-chat/internal/common"
)

// FixtureProvider answers every query with deterministic synthetic weather
// derived from the location. It stands in for a real upstream when no API key
// is configured.
type FixtureProvider struct {
	now func() time.Time
}

func NewFixtureProvider() *FixtureProvider {
	return &FixtureProvider{now: time.Now}
}

func (p *FixtureProvider) Name() string {
	return "fixture"
}

var fixtureConditions = []struct{ main, description string }{
	{"Clear", "clear sky"},
	{"Clouds", "scattered clouds"},
	{"Clouds", "overcast clouds"},
	{"Rain", "light rain"},
	{"Drizzle", "light intensity drizzle"},
	{"Snow", "light snow"},
	{"Thunderstorm", "thunderstorm with rain"},
	{"Mist", "mist"},
}

func (p *FixtureProvider) Fetch(ctx context.Context, q Query) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := fnv.New64a()
	h.Write([]byte(strings.ToUpper(joinQuery(q))))
	seed := h.Sum64()

	// pick spreads different bit ranges of the seed over [lo, hi).
	pick := func(shift uint, lo, hi float64) float64 {
		frac := float64((seed>>shift)&0xffff) / 0xffff
		return math.Round((lo+frac*(hi-lo))*10) / 10
	}

	now := p.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(seed%25) - 12) * 3600
	cond := fixtureConditions[seed%uint64(len(fixtureConditions))]
	temp := pick(8, -10, 35)

	return json.Marshal(map[string]any{
		"coord": map[string]float64{"lat": pick(16, -60, 70), "lon": pick(32, -180, 180)},
		"weather": []map[string]any{{
			"id":          800,
			"main":        cond.main,
			"description": cond.description,
		}},
		"main": map[string]float64{
			"temp":       temp,
			"feels_like": temp - pick(40, 0, 3),
			"temp_min":   temp - pick(48, 0, 4),
			"temp_max":   temp + pick(52, 0, 4),
			"pressure":   math.Round(pick(4, 990, 1035)),
			"humidity":   math.Round(pick(12, 30, 95)),
		},
		"visibility": int(pick(20, 2, 10) * 1000),
		"wind":       map[string]float64{"speed": pick(24, 0, 12), "deg": math.Round(pick(28, 0, 359))},
		"clouds":     map[string]float64{"all": math.Round(pick(36, 0, 100))},
		"dt":         now.Unix(),
		"sys": map[string]any{
			"country": strings.ToUpper(strings.TrimSpace(q.Country)),
			"sunrise": midnight.Add(6*time.Hour).Unix() - int64(offset),
			"sunset":  midnight.Add(19*time.Hour).Unix() - int64(offset),
		},
		"timezone": offset,
		"name":     common.TitleCase(q.City),
	})
}
