package ics

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"transitcal/internal/model"
)

const productID = "-//transitcal//Transit Planner//EN"

// Calendar builds a VCALENDAR holding one VEVENT per transit event.
func Calendar(name string, events []model.TransitEvent, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	stamp := now.UTC()
	for _, te := range events {
		ve := cal.AddEvent(te.UID)
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(te.Start)
		ve.SetEndAt(te.End)
		ve.SetSummary(te.Summary)
		ve.SetLocation(te.Location)
		ve.SetDescription(te.Description)
		ve.SetProperty(ical.ComponentPropertyCategories, strings.ToUpper(te.Kind))
		ve.SetProperty(ical.ComponentPropertyTransp, "TRANSPARENT")
	}
	return cal
}

// WriteCalendar serializes events as an ICS document to w.
func WriteCalendar(w io.Writer, name string, events []model.TransitEvent, now time.Time) error {
	_, err := io.WriteString(w, Calendar(name, events, now).Serialize())
	return err
}

// WriteFile atomically replaces path with the serialized calendar.
func WriteFile(path, name string, events []model.TransitEvent, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".transit-*.ics")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := WriteCalendar(tmp, name, events, now); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
