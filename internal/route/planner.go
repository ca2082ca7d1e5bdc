// Package route turns pairs of located, timed events into itineraries.
package route

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	appLog "transitcal/internal/log"
	"transitcal/internal/model"
)

// Layouts of the date and clock parameters handed to the trip planner,
// e.g. "2025-03-10" and "08:45am".
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "03:04pm"
)

// Geocoder resolves a raw event location to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (model.Coordinates, error)
}

// TripPlanner returns ranked itineraries for an origin/destination pair. A
// non-nil error means the planner could not be used; an empty slice means it
// answered but found nothing.
type TripPlanner interface {
	PlanTrip(ctx context.Context, from, to model.Coordinates, date, clock string, arriveBy bool) ([]model.Itinerary, error)
}

var errNoItinerary = errors.New("trip planner returned no usable itinerary")

// Planner is the route-planning core.
type Planner struct {
	geocoder Geocoder
	trips    TripPlanner
	loc      *time.Location
	now      func() time.Time
	tracer   trace.Tracer
}

// Option customises a Planner.
type Option func(*Planner)

// WithLocation sets the zone the clock and date parameters are written in.
func WithLocation(loc *time.Location) Option {
	return func(p *Planner) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPlanner(g Geocoder, t TripPlanner, opts ...Option) *Planner {
	p := &Planner{
		geocoder: g,
		trips:    t,
		loc:      time.UTC,
		now:      time.Now,
		tracer:   otel.Tracer("route-planner"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// TargetArrival picks the instant the trip must arrive by: the destination's
// start, else the origin's end, else now.
func TargetArrival(origin, dest model.Event, now time.Time) time.Time {
	switch {
	case dest.HasStart():
		return dest.Start
	case origin.HasEnd():
		return origin.End
	default:
		return now
	}
}

// PlanRouteBetween plans the trip from origin to dest. It returns nil when
// either location is missing or cannot be geocoded. When the trip planner
// fails in any way the straight-line estimate is returned instead.
func (p *Planner) PlanRouteBetween(ctx context.Context, origin, dest model.Event) *model.RouteInfo {
	if strings.TrimSpace(origin.Location) == "" {
		appLog.Warn("event is missing a location", "summary", origin.Summary)
		return nil
	}
	if strings.TrimSpace(dest.Location) == "" {
		appLog.Warn("event is missing a location", "summary", dest.Summary)
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "route.plan_between",
		trace.WithAttributes(
			attribute.String("route.from", origin.Location),
			attribute.String("route.to", dest.Location),
		),
	)
	defer span.End()

	arrival := TargetArrival(origin, dest, p.now())
	appLog.Info("planning route",
		"from", origin.Summary, "from_location", origin.Location,
		"to", dest.Summary, "to_location", dest.Location,
		"arrive_by", arrival.Format(time.RFC3339),
	)

	fromCoords, err := p.geocoder.Geocode(ctx, origin.Location)
	if err != nil {
		appLog.Error("failed to geocode origin", err, "summary", origin.Summary, "location", origin.Location)
		span.SetStatus(codes.Error, "geocode origin")
		return nil
	}
	toCoords, err := p.geocoder.Geocode(ctx, dest.Location)
	if err != nil {
		appLog.Error("failed to geocode destination", err, "summary", dest.Summary, "location", dest.Location)
		span.SetStatus(codes.Error, "geocode destination")
		return nil
	}

	info, err := p.planTrip(ctx, fromCoords, toCoords, arrival)
	if err != nil {
		appLog.Warn("trip planning failed, using distance estimate", "err", err,
			"from_location", origin.Location, "to_location", dest.Location)
		span.RecordError(err)
		info = EstimateRoute(fromCoords, toCoords, arrival)
	}

	info.FromEvent = origin.Summary
	info.ToEvent = dest.Summary
	info.FromLocation = origin.Location
	info.ToLocation = dest.Location
	nameSynthesizedLegs(info)

	span.SetAttributes(
		attribute.Bool("route.fallback", info.IsFallback),
		attribute.Float64("route.minutes", info.EstimatedTravelTimeMinutes),
	)
	appLog.Info("planned route",
		"from_location", info.FromLocation, "to_location", info.ToLocation,
		"minutes", fmt.Sprintf("%.1f", info.EstimatedTravelTimeMinutes),
		"fallback", info.IsFallback,
	)
	return info
}

// planTrip asks the trip planner for an arrive-by itinerary and validates
// the first one. Every structural problem is reported as a plain error.
func (p *Planner) planTrip(ctx context.Context, from, to model.Coordinates, arrival time.Time) (*model.RouteInfo, error) {
	local := arrival.In(p.loc)
	date := local.Format(DateLayout)
	clock := local.Format(ClockLayout)

	itineraries, err := p.trips.PlanTrip(ctx, from, to, date, clock, true)
	if err != nil {
		return nil, err
	}
	if len(itineraries) == 0 {
		return nil, errNoItinerary
	}

	// The adapter ranks; the first itinerary is taken as-is.
	chosen := itineraries[0]
	if chosen.Synthesized {
		// The planner only sees minute-resolution clock text; rebuild the
		// estimate on the exact target instant.
		return EstimateRoute(from, to, arrival), nil
	}
	if err := validate(chosen); err != nil {
		return nil, err
	}

	first := chosen.Legs[0]
	last := chosen.Legs[len(chosen.Legs)-1]
	return &model.RouteInfo{
		FromCoords:                 from,
		ToCoords:                   to,
		Itinerary:                  chosen,
		PredictedDeparture:         first.Start,
		EstimatedArrival:           last.End,
		EstimatedTravelTimeMinutes: chosen.DurationSeconds / 60,
		IsFallback:                 chosen.Synthesized,
	}, nil
}

func validate(it model.Itinerary) error {
	if len(it.Legs) == 0 {
		return fmt.Errorf("%w: itinerary has no legs", errNoItinerary)
	}
	for i, leg := range it.Legs {
		if leg.Start.IsZero() || leg.End.IsZero() {
			return fmt.Errorf("%w: leg %d is missing a timestamp", errNoItinerary, i)
		}
		if leg.End.Before(leg.Start) {
			return fmt.Errorf("%w: leg %d ends before it starts", errNoItinerary, i)
		}
	}
	return nil
}

// nameSynthesizedLegs labels estimate legs with the event locations.
func nameSynthesizedLegs(info *model.RouteInfo) {
	if !info.Itinerary.Synthesized {
		return
	}
	legs := info.Itinerary.Legs
	if len(legs) == 0 {
		return
	}
	if legs[0].From == "" {
		legs[0].From = info.FromLocation
	}
	if legs[len(legs)-1].To == "" {
		legs[len(legs)-1].To = info.ToLocation
	}
}
