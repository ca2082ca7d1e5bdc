package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "transitcal/internal/log"
	"transitcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 500

// Window bounds an expansion.
type Window struct {
	// Location converts occurrences and reads floating times. Nil means UTC.
	Location *time.Location
	// TimeZone is the label stamped on the produced events.
	TimeZone string

	From time.Time
	To   time.Time

	// MaxOccurrencesPerEvent caps each recurring series.
	MaxOccurrencesPerEvent int
}

// Expand turns parsed VEVENTs into routing events that start inside the
// window, applying RRULE, EXDATE and RECURRENCE-ID overrides. All-day
// entries carry no time to route to and are dropped. The result is sorted
// by start.
func Expand(events []ParsedEvent, w Window) ([]model.Event, error) {
	if w.To.Before(w.From) {
		return nil, errors.New("expand: window end is before its start")
	}
	if w.Location == nil {
		w.Location = time.UTC
	}
	if w.MaxOccurrencesPerEvent <= 0 {
		w.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	bases := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	var order []string
	for _, ev := range events {
		ev = anchorFloating(ev, w.Location)
		if ev.IsOverride {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := bases[ev.UID]; !seen {
			order = append(order, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}

	var out []model.Event
	for _, uid := range order {
		for _, ev := range bases[uid] {
			if ev.AllDay {
				continue
			}
			out = append(out, expandOne(ev, overrides[uid], w)...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func expandOne(ev ParsedEvent, overrides []ParsedEvent, w Window) []model.Event {
	if ev.RawRRule == "" {
		if o, ok := findOverride(overrides, ev.Start); ok {
			ev = o
		}
		if !inWindow(ev.Start, w) {
			return nil
		}
		return []model.Event{toEvent(ev, ev.Start, ev.End, w)}
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	starts := set.Between(w.From.In(ev.Start.Location()), w.To.In(ev.Start.Location()), true)
	if len(starts) > w.MaxOccurrencesPerEvent {
		appLog.Warn("expand: truncated recurring series", "uid", ev.UID, "cap", w.MaxOccurrencesPerEvent)
		starts = starts[:w.MaxOccurrencesPerEvent]
	}

	var dur time.Duration
	if !ev.End.IsZero() {
		dur = ev.End.Sub(ev.Start)
	}

	out := make([]model.Event, 0, len(starts))
	for _, start := range starts {
		var end time.Time
		if dur > 0 {
			end = start.Add(dur)
		}
		if o, ok := findOverride(overrides, start); ok {
			if inWindow(o.Start, w) {
				out = append(out, toEvent(o, o.Start, o.End, w))
			}
			continue
		}
		out = append(out, toEvent(ev, start, end, w))
	}
	return out
}

// anchorFloating reads floating wall-clock times in loc.
func anchorFloating(ev ParsedEvent, loc *time.Location) ParsedEvent {
	if !ev.Floating {
		return ev
	}
	reanchor := func(t time.Time) time.Time {
		if t.IsZero() {
			return t
		}
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
	}
	ev.Start = reanchor(ev.Start)
	ev.End = reanchor(ev.End)
	return ev
}

func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

func inWindow(t time.Time, w Window) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

func toEvent(ev ParsedEvent, start, end time.Time, w Window) model.Event {
	tz := ev.TZID
	if tz == "" {
		tz = w.TimeZone
	}
	out := model.Event{
		ID:          ev.UID,
		Summary:     ev.Summary,
		Location:    ev.Location,
		Description: ev.Description,
		Start:       start.In(w.Location),
		NaiveStart:  ev.Floating,
		TimeZone:    tz,
	}
	if !end.IsZero() {
		out.End = end.In(w.Location)
	}
	return out
}
