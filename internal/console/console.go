// Package console renders the chat wizard on a terminal.
package console

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/i474232898/weather-chat/internal/conversation"
	"github.com/i474232898/weather-chat/internal/weather"
)

const (
	botPrefix   = "bot> "
	errorPrefix = "bot! "
	retryHint   = "Type /reset to start a new search."
)

// Presenter writes bot messages and weather reports to w. It is safe for
// concurrent use; the session may render from a different goroutine than the
// input loop.
type Presenter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPresenter(w io.Writer) *Presenter {
	return &Presenter{w: w}
}

// Say prints a plain bot line.
func (p *Presenter) Say(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, botPrefix+text)
}

func (p *Presenter) Prompt(text string) { p.Say(text) }

func (p *Presenter) Busy(text string) { p.Say(text) }

// ShowError prints the failure and the retry affordance in place of a prompt.
func (p *Presenter) ShowError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, errorPrefix+message)
	fmt.Fprintln(p.w, botPrefix+retryHint)
}

func (p *Presenter) Render(snap weather.Snapshot, params conversation.SearchParams) {
	report := FormatReport(snap, params)
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, report)
	fmt.Fprintln(p.w, botPrefix+retryHint)
}

// FormatReport lays out a snapshot as a block of text. Absent blocks are
// skipped.
func FormatReport(snap weather.Snapshot, params conversation.SearchParams) string {
	var b strings.Builder

	title := snap.Name
	if title == "" {
		title = params.City
	}
	country := params.Country
	if snap.Sys != nil && snap.Sys.Country != "" {
		country = snap.Sys.Country
	}
	fmt.Fprintf(&b, "== %s, %s, %s ==\n", title, params.State, country)

	if d, ok := snap.Primary(); ok {
		fmt.Fprintf(&b, "  %s (%s): %s\n", d.Main, snap.Condition(), d.Description)
	}
	if m := snap.Main; m != nil {
		fmt.Fprintf(&b, "  Temperature  %s (feels like %s)\n", celsius(m.Temp), celsius(m.FeelsLike))
		fmt.Fprintf(&b, "  High / Low   %s / %s\n", celsius(m.TempMax), celsius(m.TempMin))
		fmt.Fprintf(&b, "  Humidity     %.0f%%\n", m.Humidity)
		fmt.Fprintf(&b, "  Pressure     %.0f hPa\n", m.Pressure)
	}
	if w := snap.Wind; w != nil {
		fmt.Fprintf(&b, "  Wind         %.1f m/s %s\n", w.Speed, compass(w.Deg))
	}
	if snap.Visibility != nil {
		fmt.Fprintf(&b, "  Visibility   %.1f km\n", float64(*snap.Visibility)/1000)
	}
	if c := snap.Clouds; c != nil {
		fmt.Fprintf(&b, "  Clouds       %.0f%%\n", c.All)
	}
	if s := snap.Sys; s != nil && s.Sunrise != 0 && s.Sunset != 0 {
		fmt.Fprintf(&b, "  Sunrise      %s\n", localClock(s.Sunrise, snap.Timezone))
		fmt.Fprintf(&b, "  Sunset       %s\n", localClock(s.Sunset, snap.Timezone))
	}
	if c := snap.Coord; c != nil {
		fmt.Fprintf(&b, "  Coordinates  %.2f, %.2f\n", c.Lat, c.Lon)
	}
	return b.String()
}

func celsius(v float64) string {
	// Avoid printing "-0°C".
	r := math.Round(v)
	if r == 0 {
		r = 0
	}
	return fmt.Sprintf("%.0f°C", r)
}

var compassPoints = []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

func compass(deg float64) string {
	i := int(math.Round(math.Mod(deg, 360)/45)) % len(compassPoints)
	if i < 0 {
		i += len(compassPoints)
	}
	return compassPoints[i]
}

// localClock formats a unix time in the location's own offset.
func localClock(unix int64, offsetSeconds int) string {
	zone := time.FixedZone("", offsetSeconds)
	return time.Unix(unix, 0).In(zone).Format("15:04")
}
