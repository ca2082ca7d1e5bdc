package dayplan

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitcal/internal/model"
	"transitcal/internal/route"
)

const home = "1 Willis Street, Wellington, New Zealand"

var nz = time.FixedZone("NZDT", 13*3600)

func at(h, m int) time.Time {
	return time.Date(2025, 3, 10, h, m, 0, 0, nz)
}

// recordingPlanner returns a fixed walking or bus route per pair and
// records what it was asked.
type recordingPlanner struct {
	mu    sync.Mutex
	pairs [][2]string
	fail  map[string]bool
	mode  string
}

func (r *recordingPlanner) PlanRouteBetween(_ context.Context, a, b model.Event) *model.RouteInfo {
	r.mu.Lock()
	r.pairs = append(r.pairs, [2]string{a.Location, b.Location})
	r.mu.Unlock()
	if r.fail[b.Location] {
		return nil
	}
	mode := r.mode
	if mode == "" {
		mode = model.ModeWalk
	}
	arrival := b.Start
	return &model.RouteInfo{
		FromEvent:                  a.Summary,
		ToEvent:                    b.Summary,
		FromLocation:               a.Location,
		ToLocation:                 b.Location,
		Itinerary:                  model.Itinerary{DurationSeconds: 600, Legs: []model.Leg{{Mode: mode, Start: arrival.Add(-10 * time.Minute), End: arrival}}},
		PredictedDeparture:         arrival.Add(-10 * time.Minute),
		EstimatedArrival:           arrival,
		EstimatedTravelTimeMinutes: 10,
	}
}

func newPlanner(rp RoutePlanner) *Planner {
	return New(rp, route.DefaultFilter(), Options{
		HomeAddress: home,
		TimeZone:    "Pacific/Auckland",
		Now:         func() time.Time { return at(7, 0) },
	})
}

func TestPlanDayCollapsesConsecutiveSameLocation(t *testing.T) {
	rp := &recordingPlanner{}
	p := newPlanner(rp)

	events := []model.Event{
		{Summary: "Lecture", Location: "A", Start: at(9, 0)},
		{Summary: "Tutorial", Location: " a ", Start: at(10, 0)},
		{Summary: "Lunch", Location: "B", Start: at(12, 0)},
	}
	out := p.PlanDay(context.Background(), events, home)

	// Home->A plus A->B; the A->A pair is gone.
	require.Len(t, out, 2)
	assert.Equal(t, [][2]string{{home, "A"}, {"A", "B"}}, rp.pairs)
}

func TestPlanDaySortsAndFilters(t *testing.T) {
	rp := &recordingPlanner{}
	p := newPlanner(rp)

	events := []model.Event{
		{Summary: "Dinner", Location: "C", Start: at(18, 0)},
		{Summary: "Standup", Location: "Zoom", Start: at(8, 0)},
		{Summary: "Transit: A to B", Location: "A", Start: at(8, 30)},
		{Summary: "Gym", Location: "A", Start: at(7, 30)},
		{Summary: "Undated", Location: "D"},
		{Summary: "Lunch", Location: "B", Start: at(12, 0)},
	}
	p.PlanDay(context.Background(), events, "")

	assert.Equal(t, [][2]string{{home, "A"}, {"A", "B"}, {"B", "C"}}, rp.pairs)
}

func TestPlanDayBackfillsMissingLocationWithHome(t *testing.T) {
	rp := &recordingPlanner{}
	p := newPlanner(rp)

	events := []model.Event{
		{Summary: "Breakfast", Start: at(8, 0)},
		{Summary: "Class", Location: "CO246", Start: at(9, 0)},
	}
	out := p.PlanDay(context.Background(), events, "")

	// First event is already at home, so no anchor.
	assert.Equal(t, [][2]string{{home, "CO246"}}, rp.pairs)
	require.Len(t, out, 1)
	assert.Equal(t, "Breakfast", strings.Split(strings.Split(out[0].Description, "From: ")[1], " (")[0])
	assert.Equal(t, "", events[0].Location, "caller's events are not modified")
}

func TestPlanDayHomeKeywordSuppressesAnchor(t *testing.T) {
	for _, loc := range []string{"My House", "Flat 3, 20 Aro Street", "HOME"} {
		rp := &recordingPlanner{}
		p := newPlanner(rp)
		events := []model.Event{
			{Summary: "Morning", Location: loc, Start: at(8, 0)},
			{Summary: "Work", Location: "Office", Start: at(9, 0)},
		}
		p.PlanDay(context.Background(), events, home)
		assert.Equal(t, [][2]string{{loc, "Office"}}, rp.pairs, loc)
	}
}

func TestPlanDayAnchorStartsOneHourEarlier(t *testing.T) {
	var anchor model.Event
	rp := plannerFunc(func(a, b model.Event) *model.RouteInfo {
		if a.Summary == "Home" {
			anchor = a
		}
		return nil
	})
	p := newPlanner(rp)
	p.PlanDay(context.Background(), []model.Event{{Summary: "Work", Location: "Office", Start: at(9, 0)}}, "")

	assert.Equal(t, home, anchor.Location)
	assert.True(t, anchor.Start.Equal(at(8, 0)))
}

func TestPlanDaySkipsFailedPairs(t *testing.T) {
	rp := &recordingPlanner{fail: map[string]bool{"B": true}}
	p := newPlanner(rp)
	events := []model.Event{
		{Summary: "1", Location: "A", Start: at(9, 0)},
		{Summary: "2", Location: "B", Start: at(10, 0)},
		{Summary: "3", Location: "C", Start: at(11, 0)},
	}
	out := p.PlanDay(context.Background(), events, home)

	require.Len(t, out, 2)
	assert.Equal(t, "Walking: 1 Willis Street, Wellington, New Zealand to A", out[0].Summary)
	assert.Equal(t, "Walking: B to C", out[1].Summary)
}

func TestPlanDayParallelKeepsOrder(t *testing.T) {
	rp := &recordingPlanner{}
	p := New(rp, route.DefaultFilter(), Options{
		HomeAddress: home,
		Parallelism: 4,
		Now:         func() time.Time { return at(7, 0) },
	})
	var events []model.Event
	locations := []string{"A", "B", "C", "D", "E", "F"}
	for i, loc := range locations {
		events = append(events, model.Event{Summary: loc, Location: loc, Start: at(8+i, 0)})
	}
	out := p.PlanDay(context.Background(), events, home)

	require.Len(t, out, len(locations))
	for i := 1; i < len(locations); i++ {
		assert.Equal(t, "Walking: "+locations[i-1]+" to "+locations[i], out[i].Summary)
	}
	assert.Len(t, rp.pairs, len(locations))
}

func TestPlanDayNothingEligible(t *testing.T) {
	rp := &recordingPlanner{}
	p := newPlanner(rp)
	assert.Empty(t, p.PlanDay(context.Background(), nil, home))
	assert.Empty(t, p.PlanDay(context.Background(), []model.Event{{Summary: "Call", Location: "Phone", Start: at(9, 0)}}, home))
	assert.Empty(t, rp.pairs)
}

func TestRenderWalking(t *testing.T) {
	r := &model.RouteInfo{
		FromEvent: "Standup", ToEvent: "Coffee",
		FromLocation: "Office", ToLocation: "Cafe",
		Itinerary:                  model.Itinerary{DurationSeconds: 300, Legs: []model.Leg{{Mode: "WALK"}}},
		PredictedDeparture:         at(9, 5),
		EstimatedArrival:           at(9, 10),
		EstimatedTravelTimeMinutes: 5,
	}
	ev := Render(r, "Pacific/Auckland", nz)

	assert.Equal(t, model.KindWalking, ev.Kind)
	assert.Equal(t, "Walking: Office to Cafe", ev.Summary)
	assert.Equal(t, "Walk from Office to Cafe", ev.Location)
	assert.Contains(t, ev.Description, "From: Standup (Office)")
	assert.Contains(t, ev.Description, "Estimated walking time: 5.0 minutes")
	assert.True(t, ev.Start.Equal(at(9, 5)))
	assert.True(t, ev.End.Equal(at(9, 10)))
	assert.Equal(t, "Pacific/Auckland", ev.TimeZone)
	assert.NotEmpty(t, ev.UID)
	assert.Equal(t, ev.UID, Render(r, "Pacific/Auckland", nz).UID, "uid is stable")
}

func TestRenderTransit(t *testing.T) {
	r := &model.RouteInfo{
		FromEvent: "Home", ToEvent: "Lecture",
		FromLocation: "Karori", ToLocation: "CO246",
		Itinerary: model.Itinerary{DurationSeconds: 1330, Legs: []model.Leg{
			{Mode: "WALK", Start: at(13, 20), End: at(13, 25), From: "Origin", To: "Stop 5000"},
			{Mode: "BUS", Start: at(13, 26), End: at(13, 42), From: "Stop 5000", To: "Kelburn"},
		}},
		PredictedDeparture:         at(13, 20),
		EstimatedArrival:           at(13, 42),
		EstimatedTravelTimeMinutes: 1330.0 / 60,
		IsFallback:                 false,
	}
	ev := Render(r, "Pacific/Auckland", nz)

	assert.Equal(t, model.KindTransit, ev.Kind)
	assert.Equal(t, "Transit: Karori to CO246", ev.Summary)
	assert.Equal(t, "Transit from Karori to CO246", ev.Location)
	assert.Contains(t, ev.Description, "Travel time: 22.2 minutes")
	assert.Contains(t, ev.Description, "Depart at: 01:20 PM")
	assert.Contains(t, ev.Description, "Arrive by: 01:42 PM")
	assert.Contains(t, ev.Description, "2. 01:26 PM bus Stop 5000 -> Kelburn")
	assert.NotContains(t, ev.Description, "straight-line")
}

func TestRenderSingleTransitLegFallback(t *testing.T) {
	r := route.EstimateRoute(model.Coordinates{Lat: -41.29, Lon: 174.77}, model.Coordinates{Lat: -41.25, Lon: 174.77}, at(9, 0))
	r.FromLocation, r.ToLocation = "A", "B"
	ev := Render(r, "Pacific/Auckland", nz)

	assert.Equal(t, model.KindTransit, ev.Kind)
	assert.True(t, ev.IsFallback)
	assert.Contains(t, ev.Description, "straight-line")
}

type plannerFunc func(a, b model.Event) *model.RouteInfo

func (f plannerFunc) PlanRouteBetween(_ context.Context, a, b model.Event) *model.RouteInfo {
	return f(a, b)
}
