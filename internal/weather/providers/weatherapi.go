package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-chat/internal/common"
)

// WeatherAPIProvider queries WeatherAPI.com and reshapes the answer into the
// OpenWeatherMap schema.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, apiKey string) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: "https://api.weatherapi.com/v1/current.json",
		httpCfg: defaultHTTPConfig(client),
		circuit: newBreaker("weatherapi"),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

type weatherAPIPayload struct {
	Location struct {
		Name           string  `json:"name"`
		Region         string  `json:"region"`
		Country        string  `json:"country"`
		Lat            float64 `json:"lat"`
		Lon            float64 `json:"lon"`
		TzID           string  `json:"tz_id"`
		LocaltimeEpoch int64   `json:"localtime_epoch"`
	} `json:"location"`
	Current struct {
		LastUpdatedEpoch int64   `json:"last_updated_epoch"`
		TempC            float64 `json:"temp_c"`
		FeelslikeC       float64 `json:"feelslike_c"`
		Humidity         float64 `json:"humidity"`
		WindKph          float64 `json:"wind_kph"`
		WindDegree       float64 `json:"wind_degree"`
		GustKph          float64 `json:"gust_kph"`
		PressureMb       float64 `json:"pressure_mb"`
		VisKm            float64 `json:"vis_km"`
		Cloud            float64 `json:"cloud"`
		Condition        struct {
			Text string `json:"text"`
		} `json:"condition"`
	} `json:"current"`
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, q Query) (json.RawMessage, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", p.name, errNoAPIKey)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		// WeatherAPI uses "q" for location and accepts free text.
		values.Set("q", joinQuery(q))

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	body, err := doRequestWithResilience(ctx, p.name, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return nil, err
	}

	var payload weatherAPIPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", p.name, err)
	}
	return json.Marshal(toOpenWeather(payload, q))
}

func toOpenWeather(p weatherAPIPayload, q Query) map[string]any {
	loc, cur := p.Location, p.Current

	dt := cur.LastUpdatedEpoch
	if dt == 0 {
		dt = time.Now().Unix()
	}

	offset := 0
	if loc.TzID != "" {
		if tz, err := time.LoadLocation(loc.TzID); err == nil {
			_, offset = time.Unix(dt, 0).In(tz).Zone()
		}
	}

	country := strings.ToUpper(strings.TrimSpace(q.Country))
	if country == "" {
		country = loc.Country
	}

	temp := cur.TempC
	return map[string]any{
		"coord": map[string]float64{"lat": loc.Lat, "lon": loc.Lon},
		"weather": []map[string]any{{
			"main":        mapWeatherAPICondition(cur.Condition.Text),
			"description": strings.ToLower(cur.Condition.Text),
		}},
		"main": map[string]float64{
			"temp":       temp,
			"feels_like": cur.FeelslikeC,
			// WeatherAPI has no min/max on the current endpoint.
			"temp_min": temp,
			"temp_max": temp,
			"pressure": cur.PressureMb,
			"humidity": cur.Humidity,
		},
		"visibility": int(cur.VisKm * 1000),
		"wind": map[string]float64{
			// Convert from kph to m/s.
			"speed": cur.WindKph / 3.6,
			"deg":   cur.WindDegree,
			"gust":  cur.GustKph / 3.6,
		},
		"clouds":   map[string]float64{"all": cur.Cloud},
		"dt":       dt,
		"sys":      map[string]any{"country": country},
		"timezone": offset,
		"name":     loc.Name,
	}
}

// mapWeatherAPICondition maps free-text conditions onto OpenWeatherMap's
// "main" group names.
func mapWeatherAPICondition(text string) string {
	t := strings.TrimSpace(text)
	switch {
	case t == "":
		return ""
	case common.HasAny(t, "thunder", "storm"):
		return "Thunderstorm"
	case common.HasAny(t, "drizzle"):
		return "Drizzle"
	case common.HasAny(t, "rain", "shower"):
		return "Rain"
	case common.HasAny(t, "snow", "sleet", "blizzard", "ice pellets"):
		return "Snow"
	case common.HasAny(t, "mist", "fog", "haze"):
		return "Mist"
	case common.HasAny(t, "cloud", "overcast"):
		return "Clouds"
	case common.HasAny(t, "sunny", "clear"):
		return "Clear"
	default:
		return text
	}
}
