package otp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"transitcal/internal/model"
)

// EstimateFunc builds an itinerary that arrives exactly at arrival.
type EstimateFunc func(from, to model.Coordinates, arrival time.Time) model.Itinerary

// Estimator is the offline strategy: it answers every query with a single
// synthesized itinerary and never touches the network.
type Estimator struct {
	Estimate EstimateFunc
	Location *time.Location
}

func (e Estimator) PlanTrip(_ context.Context, from, to model.Coordinates, date, clock string, arriveBy bool) ([]model.Itinerary, error) {
	if e.Estimate == nil {
		return nil, ErrUnavailable
	}
	target, err := ParseDateClock(date, clock, e.Location)
	if err != nil {
		return nil, err
	}

	it := e.Estimate(from, to, target)
	if !arriveBy && len(it.Legs) > 0 {
		// Depart-at query: slide the whole itinerary to start at target.
		shift := target.Sub(it.Legs[0].Start)
		for i := range it.Legs {
			it.Legs[i].Start = it.Legs[i].Start.Add(shift)
			it.Legs[i].End = it.Legs[i].End.Add(shift)
		}
	}
	return []model.Itinerary{it}, nil
}

// ParseDateClock reads the "2006-01-02" / "03:04pm" pair sent to trip
// planners back into an instant in loc.
func ParseDateClock(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02 03:04pm", date+" "+strings.ToLower(clock), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q clock %q: %v", ErrMalformed, date, clock, err)
	}
	return t, nil
}
