package model

import (
	"strings"
	"time"
)

// naiveLayouts are ISO-8601 forms without a zone offset.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp parses ISO-8601 text. Values carrying an offset keep it;
// naive values are read in loc (UTC when loc is nil). Empty or invalid text
// yields ok=false instead of an error.
func ParseTimestamp(text string, loc *time.Location) (time.Time, bool) {
	t, _, ok := parseTimestamp(text, loc)
	return t, ok
}

func parseTimestamp(text string, loc *time.Location) (t time.Time, naive, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false, false
	}
	if t, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return t, false, true
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return t, true, true
		}
	}
	return time.Time{}, false, false
}

// LoadLocation resolves an IANA label, falling back to fallback (or UTC)
// for empty or unknown labels.
func LoadLocation(name string, fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

// TimeRecord is the {dateTime, timeZone} pair used by calendar APIs.
type TimeRecord struct {
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// EventRecord is the calendar-API JSON shape of an event.
type EventRecord struct {
	ID          string      `json:"id,omitempty"`
	Summary     string      `json:"summary"`
	Location    string      `json:"location,omitempty"`
	Description string      `json:"description,omitempty"`
	Start       *TimeRecord `json:"start,omitempty"`
	End         *TimeRecord `json:"end,omitempty"`
}

// EventFromRecord converts an EventRecord into an Event. A missing time
// zone label defaults to defaultTZ; unparseable timestamps become absent.
func EventFromRecord(rec EventRecord, defaultTZ string) Event {
	ev := Event{
		ID:          rec.ID,
		Summary:     rec.Summary,
		Location:    rec.Location,
		Description: rec.Description,
		TimeZone:    defaultTZ,
	}
	if rec.Start != nil && rec.Start.TimeZone != "" {
		ev.TimeZone = rec.Start.TimeZone
	}

	loc := LoadLocation(ev.TimeZone, nil)
	if rec.Start != nil {
		ev.Start, ev.NaiveStart, _ = parseTimestamp(rec.Start.DateTime, loc)
	}
	if rec.End != nil {
		endLoc := loc
		if rec.End.TimeZone != "" {
			endLoc = LoadLocation(rec.End.TimeZone, loc)
		}
		ev.End, _ = ParseTimestamp(rec.End.DateTime, endLoc)
	}
	return ev
}

// Record renders a TransitEvent in the calendar-API JSON shape.
func (t TransitEvent) Record() EventRecord {
	return EventRecord{
		ID:          t.UID,
		Summary:     t.Summary,
		Location:    t.Location,
		Description: t.Description,
		Start:       &TimeRecord{DateTime: t.Start.Format(time.RFC3339), TimeZone: t.TimeZone},
		End:         &TimeRecord{DateTime: t.End.Format(time.RFC3339), TimeZone: t.TimeZone},
	}
}
