package route

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitcal/internal/model"
	"transitcal/internal/otp"
)

type fakeGeocoder map[string]model.Coordinates

func (f fakeGeocoder) Geocode(_ context.Context, address string) (model.Coordinates, error) {
	c, ok := f[address]
	if !ok {
		return model.Coordinates{}, errors.New("not found")
	}
	return c, nil
}

type tripCall struct {
	from, to    model.Coordinates
	date, clock string
	arriveBy    bool
}

type fakeTrips struct {
	itineraries []model.Itinerary
	err         error
	calls       []tripCall
}

func (f *fakeTrips) PlanTrip(_ context.Context, from, to model.Coordinates, date, clock string, arriveBy bool) ([]model.Itinerary, error) {
	f.calls = append(f.calls, tripCall{from, to, date, clock, arriveBy})
	return f.itineraries, f.err
}

var (
	wellington = time.FixedZone("NZDT", 13*3600)
	origin     = model.Coordinates{Lat: -41.29, Lon: 174.77}
	dest       = model.Coordinates{Lat: -41.2865, Lon: 174.7762}
	geo        = fakeGeocoder{"Office": origin, "Cafe": dest}
)

func at(h, m int) time.Time {
	return time.Date(2025, 3, 10, h, m, 0, 0, wellington)
}

func TestHaversine(t *testing.T) {
	assert.Equal(t, 0.0, Haversine(-41.29, 174.77, -41.29, 174.77))
	assert.InDelta(t, 111.19, Haversine(0, 0, 0, 1), 1.0)

	d1 := Haversine(-41.29, 174.77, -36.85, 174.76)
	d2 := Haversine(-36.85, 174.76, -41.29, 174.77)
	assert.InDelta(t, d1, d2, 1e-9)
}

func TestEstimateMinutes(t *testing.T) {
	m, mode := EstimateMinutes(1.0)
	assert.InDelta(t, 12.0, m, 1e-9)
	assert.Equal(t, model.ModeWalk, mode)

	m, mode = EstimateMinutes(2.0)
	assert.InDelta(t, 16.0, m, 1e-9)
	assert.Equal(t, model.ModeTransit, mode)

	m, mode = EstimateMinutes(WalkingThresholdKm)
	assert.InDelta(t, 14.5, m, 1e-9)
	assert.Equal(t, model.ModeTransit, mode)
}

func TestEstimateRoute(t *testing.T) {
	arrival := at(10, 0)
	// One degree of latitude is ~111 km, so 0.018 degrees is ~2 km.
	to := model.Coordinates{Lat: origin.Lat + 0.018, Lon: origin.Lon}
	km := Distance(origin, to)

	info := EstimateRoute(origin, to, arrival)
	require.NotNil(t, info)
	assert.True(t, info.IsFallback)
	assert.True(t, info.EstimatedArrival.Equal(arrival))
	assert.InDelta(t, km*3+10, info.EstimatedTravelTimeMinutes, 1e-9)

	require.Len(t, info.Itinerary.Legs, 1)
	leg := info.Itinerary.Legs[0]
	assert.Equal(t, model.ModeTransit, leg.Mode)
	assert.True(t, leg.End.Equal(arrival))
	assert.True(t, info.PredictedDeparture.Equal(leg.Start))
	wantDeparture := arrival.Add(-time.Duration(info.EstimatedTravelTimeMinutes * float64(time.Minute)))
	assert.True(t, info.PredictedDeparture.Equal(wantDeparture))
}

func TestEstimateRouteSamePoint(t *testing.T) {
	info := EstimateRoute(origin, origin, at(9, 0))
	assert.Equal(t, 0.0, info.EstimatedTravelTimeMinutes)
	assert.Equal(t, model.ModeWalk, info.Itinerary.Legs[0].Mode)
	assert.True(t, info.PredictedDeparture.Equal(at(9, 0)))
}

func TestTargetArrival(t *testing.T) {
	now := at(7, 0)
	a := model.Event{End: at(9, 0)}
	b := model.Event{Start: at(9, 10)}

	assert.True(t, TargetArrival(a, b, now).Equal(at(9, 10)))
	assert.True(t, TargetArrival(a, model.Event{}, now).Equal(at(9, 0)))
	assert.True(t, TargetArrival(model.Event{}, model.Event{}, now).Equal(now))
}

func TestPlanRouteBetweenEndToEnd(t *testing.T) {
	trips := &fakeTrips{itineraries: []model.Itinerary{{
		DurationSeconds: 300,
		Legs: []model.Leg{{
			Mode:  "WALK",
			Start: at(9, 5),
			End:   at(9, 10),
			From:  "Office",
			To:    "Cafe",
		}},
	}}}
	p := NewPlanner(geo, trips, WithLocation(wellington))

	a := model.Event{Summary: "Standup", Location: "Office", Start: at(8, 30), End: at(9, 0)}
	b := model.Event{Summary: "Coffee", Location: "Cafe", Start: at(9, 10)}

	info := p.PlanRouteBetween(context.Background(), a, b)
	require.NotNil(t, info)

	assert.False(t, info.IsFallback)
	assert.Equal(t, 5.0, info.EstimatedTravelTimeMinutes)
	assert.True(t, info.PredictedDeparture.Equal(at(9, 5)))
	assert.True(t, info.EstimatedArrival.Equal(at(9, 10)))
	assert.Equal(t, "Standup", info.FromEvent)
	assert.Equal(t, "Coffee", info.ToEvent)
	assert.Equal(t, origin, info.FromCoords)
	assert.Equal(t, dest, info.ToCoords)

	require.Len(t, trips.calls, 1)
	call := trips.calls[0]
	assert.Equal(t, "2025-03-10", call.date)
	assert.Equal(t, "09:10am", call.clock)
	assert.True(t, call.arriveBy)
	assert.Equal(t, origin, call.from)
	assert.Equal(t, dest, call.to)
}

func TestPlanRouteBetweenUsesLastLegForArrival(t *testing.T) {
	trips := &fakeTrips{itineraries: []model.Itinerary{{
		// Stated duration deliberately differs from the leg span.
		DurationSeconds: 1500,
		Legs: []model.Leg{
			{Mode: "WALK", Start: at(8, 30), End: at(8, 35)},
			{Mode: "BUS", Start: at(8, 36), End: at(8, 50)},
			{Mode: "WALK", Start: at(8, 50), End: at(8, 57)},
		},
	}}}
	p := NewPlanner(geo, trips)
	info := p.PlanRouteBetween(context.Background(),
		model.Event{Summary: "A", Location: "Office"},
		model.Event{Summary: "B", Location: "Cafe", Start: at(9, 0)},
	)
	require.NotNil(t, info)
	assert.True(t, info.PredictedDeparture.Equal(at(8, 30)))
	assert.True(t, info.EstimatedArrival.Equal(at(8, 57)), "arrival must come from the last leg")
	assert.Equal(t, 25.0, info.EstimatedTravelTimeMinutes)
	assert.Len(t, info.Itinerary.Legs, 3)
}

func TestPlanRouteBetweenTakesFirstItinerary(t *testing.T) {
	trips := &fakeTrips{itineraries: []model.Itinerary{
		{DurationSeconds: 600, Legs: []model.Leg{{Mode: "BUS", Start: at(8, 40), End: at(8, 50)}}},
		{DurationSeconds: 120, Legs: []model.Leg{{Mode: "WALK", Start: at(8, 58), End: at(9, 0)}}},
	}}
	info := NewPlanner(geo, trips).PlanRouteBetween(context.Background(),
		model.Event{Location: "Office"}, model.Event{Location: "Cafe", Start: at(9, 0)})
	require.NotNil(t, info)
	assert.Equal(t, 10.0, info.EstimatedTravelTimeMinutes)
}

func TestPlanRouteBetweenMissingLocation(t *testing.T) {
	trips := &fakeTrips{}
	p := NewPlanner(geo, trips)
	full := model.Event{Summary: "A", Location: "Office", Start: at(9, 0), End: at(10, 0)}

	assert.Nil(t, p.PlanRouteBetween(context.Background(), model.Event{Summary: "x", Start: at(8, 0)}, full))
	assert.Nil(t, p.PlanRouteBetween(context.Background(), full, model.Event{Summary: "y", Location: "  "}))
	assert.Empty(t, trips.calls)
}

func TestPlanRouteBetweenGeocodeFailure(t *testing.T) {
	trips := &fakeTrips{}
	p := NewPlanner(geo, trips)
	info := p.PlanRouteBetween(context.Background(),
		model.Event{Location: "Office"}, model.Event{Location: "Atlantis", Start: at(9, 0)})
	assert.Nil(t, info)
	assert.Empty(t, trips.calls)
}

func TestPlanRouteBetweenFallsBack(t *testing.T) {
	arrival := at(9, 10)
	cases := map[string]*fakeTrips{
		"unavailable":  {err: errors.New("connection refused")},
		"empty list":   {itineraries: []model.Itinerary{}},
		"no legs":      {itineraries: []model.Itinerary{{DurationSeconds: 60}}},
		"missing time": {itineraries: []model.Itinerary{{Legs: []model.Leg{{Mode: "BUS", End: arrival}}}}},
		"reversed leg": {itineraries: []model.Itinerary{{Legs: []model.Leg{{Mode: "BUS", Start: arrival, End: at(9, 0)}}}}},
	}
	for name, trips := range cases {
		t.Run(name, func(t *testing.T) {
			p := NewPlanner(geo, trips)
			info := p.PlanRouteBetween(context.Background(),
				model.Event{Summary: "A", Location: "Office"},
				model.Event{Summary: "B", Location: "Cafe", Start: arrival},
			)
			require.NotNil(t, info)
			assert.True(t, info.IsFallback)
			assert.True(t, info.EstimatedArrival.Equal(arrival))
			assert.Equal(t, "A", info.FromEvent)

			require.Len(t, info.Itinerary.Legs, 1)
			leg := info.Itinerary.Legs[0]
			assert.Equal(t, model.ModeWalk, leg.Mode)
			assert.Equal(t, "Office", leg.From)
			assert.Equal(t, "Cafe", leg.To)

			km := Distance(origin, dest)
			assert.InDelta(t, km*12, info.EstimatedTravelTimeMinutes, 1e-9)
		})
	}
}

func TestPlanRouteBetweenDefaultsToNow(t *testing.T) {
	now := at(14, 0)
	trips := &fakeTrips{err: errors.New("down")}
	p := NewPlanner(geo, trips, WithClock(func() time.Time { return now }), WithLocation(wellington))

	info := p.PlanRouteBetween(context.Background(), model.Event{Location: "Office"}, model.Event{Location: "Cafe"})
	require.NotNil(t, info)
	assert.True(t, info.EstimatedArrival.Equal(now))
	require.Len(t, trips.calls, 1)
	assert.Equal(t, "02:00pm", trips.calls[0].clock)
}

func TestPlanRouteBetweenSynthesizedItineraryIsFallback(t *testing.T) {
	arrival := at(9, 10)
	trips := &fakeTrips{itineraries: []model.Itinerary{EstimateItinerary(origin, dest, arrival)}}
	info := NewPlanner(geo, trips).PlanRouteBetween(context.Background(),
		model.Event{Location: "Office"}, model.Event{Location: "Cafe", Start: arrival})
	require.NotNil(t, info)
	assert.True(t, info.IsFallback)
	assert.False(t, math.IsNaN(info.EstimatedTravelTimeMinutes))
}

func TestPlanRouteBetweenOfflineChainKeepsExactArrival(t *testing.T) {
	arrival := time.Date(2025, 3, 10, 9, 10, 42, 0, wellington)
	trips := otp.Chain{
		&fakeTrips{err: errors.New("connection refused")},
		otp.Estimator{Estimate: EstimateItinerary, Location: wellington},
	}
	p := NewPlanner(geo, trips, WithLocation(wellington))

	info := p.PlanRouteBetween(context.Background(),
		model.Event{Summary: "A", Location: "Office"},
		model.Event{Summary: "B", Location: "Cafe", Start: arrival},
	)
	require.NotNil(t, info)
	assert.True(t, info.IsFallback)
	assert.True(t, info.EstimatedArrival.Equal(arrival), "arrival %s", info.EstimatedArrival)
	require.Len(t, info.Itinerary.Legs, 1)
	assert.True(t, info.Itinerary.Legs[0].End.Equal(arrival))
	assert.Equal(t, "Office", info.Itinerary.Legs[0].From)
}

func TestFilterReadsNaiveStartAsUTC(t *testing.T) {
	now := at(8, 0)
	f := DefaultFilter()

	// 29d18h ahead in local time, but 30d7h ahead when the wall clock is read as UTC.
	start := now.Add(30*24*time.Hour - 6*time.Hour)
	aware := model.Event{Summary: "x", Location: "A", Start: start}
	naive := model.Event{Summary: "x", Location: "A", Start: start, NaiveStart: true}

	assert.True(t, f.IsEligible(aware, now))
	assert.False(t, f.IsEligible(naive, now))

	soon := model.Event{Summary: "x", Location: "A", Start: at(9, 0), NaiveStart: true}
	assert.True(t, f.IsEligible(soon, now))
}

func TestFilter(t *testing.T) {
	now := at(8, 0)
	f := DefaultFilter()
	ok := model.Event{Summary: "Lecture", Location: "CO246", Start: at(9, 0)}

	assert.True(t, f.IsEligible(ok, now))

	reject := map[string]model.Event{
		"blank location": {Summary: "x", Location: "  ", Start: at(9, 0)},
		"zoom":           {Summary: "x", Location: "Zoom Meeting", Start: at(9, 0)},
		"google meet":    {Summary: "x", Location: "https://MEET.google.com/abc", Start: at(9, 0)},
		"phone":          {Summary: "x", Location: "Phone call", Start: at(9, 0)},
		"transit marker": {Summary: "Transit: A to B", Location: "A", Start: at(9, 0)},
		"walking marker": {Summary: "Walking: A to B", Location: "A", Start: at(9, 0)},
		"bot marker":     {Summary: "Lunch [TransitBot]", Location: "A", Start: at(9, 0)},
		"no start":       {Summary: "x", Location: "A"},
		"too far ahead":  {Summary: "x", Location: "A", Start: now.Add(31 * 24 * time.Hour)},
	}
	for name, ev := range reject {
		assert.False(t, f.IsEligible(ev, now), name)
	}

	edge := model.Event{Summary: "x", Location: "A", Start: now.Add(30 * 24 * time.Hour)}
	assert.True(t, f.IsEligible(edge, now))

	got := f.Eligible([]model.Event{reject["zoom"], ok, reject["no start"]}, now)
	require.Len(t, got, 1)
	assert.Equal(t, "Lecture", got[0].Summary)
}
