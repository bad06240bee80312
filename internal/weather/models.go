package weather

import (
	"encoding/json"
	"errors"
	"strings"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Snapshot is the current-weather body returned by /api/weather/, which
// forwards the OpenWeatherMap schema. Every block is optional.
type Snapshot struct {
	Coord      *Coord        `json:"coord,omitempty"`
	Weather    []Description `json:"weather,omitempty"`
	Main       *Main         `json:"main,omitempty"`
	Visibility *int          `json:"visibility,omitempty"`
	Wind       *Wind         `json:"wind,omitempty"`
	Clouds     *Clouds       `json:"clouds,omitempty"`
	Sys        *Sys          `json:"sys,omitempty"`
	// Timezone is the shift in seconds from UTC.
	Timezone int    `json:"timezone"`
	Name     string `json:"name,omitempty"`
	Dt       int64  `json:"dt,omitempty"`

	raw []byte
}

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Description struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon,omitempty"`
}

type Main struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	TempMin   float64 `json:"temp_min"`
	TempMax   float64 `json:"temp_max"`
	Pressure  float64 `json:"pressure"`
	Humidity  float64 `json:"humidity"`
}

type Wind struct {
	Speed float64 `json:"speed"`
	Deg   float64 `json:"deg,omitempty"`
	Gust  float64 `json:"gust,omitempty"`
}

type Clouds struct {
	All float64 `json:"all"`
}

type Sys struct {
	Country string `json:"country,omitempty"`
	Sunrise int64  `json:"sunrise,omitempty"`
	Sunset  int64  `json:"sunset,omitempty"`
}

var errNotObject = errors.New("weather snapshot is not a JSON object")

// ParseSnapshot decodes a response body and keeps the original bytes so the
// snapshot can be persisted exactly as received.
func ParseSnapshot(raw []byte) (Snapshot, error) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return Snapshot{}, errNotObject
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, err
	}
	s.raw = append([]byte(nil), raw...)
	return s, nil
}

// Raw returns the body the snapshot was parsed from, or its JSON encoding
// when it was built in code.
func (s Snapshot) Raw() ([]byte, error) {
	if s.raw != nil {
		return s.raw, nil
	}
	return json.Marshal(s)
}

// Primary returns the first weather description, if any.
func (s Snapshot) Primary() (Description, bool) {
	if len(s.Weather) == 0 {
		return Description{}, false
	}
	return s.Weather[0], true
}

// Condition maps the primary description onto a normalized Condition.
func (s Snapshot) Condition() Condition {
	d, ok := s.Primary()
	if !ok {
		return ConditionUnknown
	}
	switch d.Main {
	case "Clear":
		return ConditionClear
	case "Clouds":
		return ConditionCloudy
	case "Rain", "Drizzle":
		return ConditionRain
	case "Snow":
		return ConditionSnow
	case "Thunderstorm":
		return ConditionStorm
	case "Mist", "Fog", "Haze", "Smoke", "Dust":
		return ConditionMist
	default:
		return ConditionUnknown
	}
}
