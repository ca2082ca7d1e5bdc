package route

import (
	"strings"
	"time"

	appLog "transitcal/internal/log"
	"transitcal/internal/model"
)

// Filter decides which calendar entries are routing inputs.
type Filter struct {
	VirtualKeywords []string
	BotMarkers      []string
	MaxAhead        time.Duration
}

// DefaultFilter returns the stock keyword lists and a 30 day horizon.
func DefaultFilter() Filter {
	return Filter{
		VirtualKeywords: []string{"online", "virtual", "zoom", "meet.google", "teams", "webex", "skype", "phone"},
		BotMarkers:      []string{"Transit:", "Walking:", "[TransitBot]"},
		MaxAhead:        30 * 24 * time.Hour,
	}
}

// IsEligible reports whether ev can take part in route planning at now.
// Rejections are logged at debug level and never fail.
func (f Filter) IsEligible(ev model.Event, now time.Time) bool {
	if strings.TrimSpace(ev.Location) == "" {
		appLog.Debug("skipping event without location", "summary", ev.Summary)
		return false
	}
	for _, marker := range f.BotMarkers {
		if marker != "" && strings.Contains(ev.Summary, marker) {
			appLog.Debug("skipping generated event", "summary", ev.Summary)
			return false
		}
	}
	loc := strings.ToLower(ev.Location)
	for _, kw := range f.VirtualKeywords {
		if kw != "" && strings.Contains(loc, strings.ToLower(kw)) {
			appLog.Debug("skipping virtual event", "summary", ev.Summary, "location", ev.Location)
			return false
		}
	}
	if !ev.HasStart() {
		appLog.Debug("skipping event without start time", "summary", ev.Summary)
		return false
	}
	if f.MaxAhead > 0 && horizonStart(ev).Sub(now) > f.MaxAhead {
		appLog.Debug("skipping event too far ahead", "summary", ev.Summary, "start", ev.Start.Format(time.RFC3339))
		return false
	}
	return true
}

// horizonStart is the start used for the look-ahead check. A start written
// without an offset is compared as a UTC wall clock.
func horizonStart(ev model.Event) time.Time {
	if !ev.NaiveStart {
		return ev.Start
	}
	s := ev.Start
	return time.Date(s.Year(), s.Month(), s.Day(), s.Hour(), s.Minute(), s.Second(), s.Nanosecond(), time.UTC)
}

// Eligible returns the events that pass IsEligible, preserving order.
func (f Filter) Eligible(events []model.Event, now time.Time) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if f.IsEligible(ev, now) {
			out = append(out, ev)
		}
	}
	return out
}
