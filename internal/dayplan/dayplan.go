// Package dayplan sequences a day's events and turns the trips between
// them into calendar entries.
package dayplan

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "transitcal/internal/log"
	"transitcal/internal/model"
)

// RoutePlanner plans one event pair; nil means the pair was skipped.
type RoutePlanner interface {
	PlanRouteBetween(ctx context.Context, origin, dest model.Event) *model.RouteInfo
}

// Eligibility decides whether an event is a routing input.
type Eligibility interface {
	IsEligible(ev model.Event, now time.Time) bool
}

// Options configures a Planner.
type Options struct {
	// HomeAddress is used when PlanDay is called without one.
	HomeAddress string
	// HomeKeywords mark locations that already are home.
	HomeKeywords []string
	// TimeZone labels rendered events and formats their clock times.
	TimeZone string
	// Parallelism > 1 plans independent pairs concurrently.
	Parallelism int
	Now         func() time.Time
}

// Planner is stateless between calls.
type Planner struct {
	routes RoutePlanner
	filter Eligibility
	opts   Options
	loc    *time.Location
}

func New(routes RoutePlanner, filter Eligibility, opts Options) *Planner {
	if opts.HomeAddress == "" {
		opts.HomeAddress = "1 Willis Street, Wellington, New Zealand"
	}
	if opts.HomeKeywords == nil {
		opts.HomeKeywords = []string{"home", "house", "apartment", "flat"}
	}
	if opts.TimeZone == "" {
		opts.TimeZone = "Pacific/Auckland"
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Planner{
		routes: routes,
		filter: filter,
		opts:   opts,
		loc:    model.LoadLocation(opts.TimeZone, time.UTC),
	}
}

// PlanDay plans the trips of one day and renders them as calendar entries.
// An empty home falls back to Options.HomeAddress.
func (p *Planner) PlanDay(ctx context.Context, events []model.Event, home string) []model.TransitEvent {
	routes := p.PlanRoutes(ctx, events, home)
	out := make([]model.TransitEvent, 0, len(routes))
	for _, r := range routes {
		out = append(out, Render(r, p.opts.TimeZone, p.loc))
	}
	appLog.Info("planned day", "events", len(events), "transit_events", len(out))
	return out
}

// PlanRoutes runs every step of PlanDay except rendering.
func (p *Planner) PlanRoutes(ctx context.Context, events []model.Event, home string) []*model.RouteInfo {
	if len(events) == 0 {
		return nil
	}
	home = strings.TrimSpace(home)
	if home == "" {
		home = p.opts.HomeAddress
	}
	now := p.opts.Now()

	sequence := p.Sequence(events, home, now)
	if len(sequence) == 0 {
		appLog.Info("no suitable events after filtering", "total", len(events))
		return nil
	}
	for i, ev := range sequence {
		appLog.Debug("day event", "index", i, "summary", ev.Summary, "location", ev.Location, "start", ev.Start.Format(time.RFC3339))
	}

	pairs := make([][2]model.Event, 0, len(sequence))
	if anchor, ok := p.homeAnchor(sequence[0], home, now); ok {
		pairs = append(pairs, [2]model.Event{anchor, sequence[0]})
	}
	for i := 0; i+1 < len(sequence); i++ {
		pairs = append(pairs, [2]model.Event{sequence[i], sequence[i+1]})
	}

	results := p.planPairs(ctx, pairs)

	out := make([]*model.RouteInfo, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Sequence back-fills missing locations with home, filters, sorts by start
// and collapses consecutive events at the same place.
func (p *Planner) Sequence(events []model.Event, home string, now time.Time) []model.Event {
	filled := make([]model.Event, len(events))
	for i, ev := range events {
		if strings.TrimSpace(ev.Location) == "" {
			appLog.Info("using home address for event without location", "summary", ev.Summary)
			ev.Location = home
		}
		filled[i] = ev
	}

	eligible := make([]model.Event, 0, len(filled))
	for _, ev := range filled {
		if p.filter.IsEligible(ev, now) {
			eligible = append(eligible, ev)
		}
	}

	// Absent starts are the zero time and sort first.
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Start.Before(eligible[j].Start)
	})

	return collapse(eligible)
}

func collapse(events []model.Event) []model.Event {
	if len(events) == 0 {
		return events
	}
	out := []model.Event{events[0]}
	for _, ev := range events[1:] {
		if !sameLocation(ev.Location, out[len(out)-1].Location) {
			out = append(out, ev)
		}
	}
	return out
}

func sameLocation(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// homeAnchor synthesizes the "Home" event the day starts from, unless the
// first event already happens at home.
func (p *Planner) homeAnchor(first model.Event, home string, now time.Time) (model.Event, bool) {
	if sameLocation(first.Location, home) {
		return model.Event{}, false
	}
	lower := strings.ToLower(first.Location)
	for _, kw := range p.opts.HomeKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return model.Event{}, false
		}
	}

	start := now
	if first.HasStart() {
		start = first.Start.Add(-time.Hour)
	}
	return model.Event{
		Summary:  "Home",
		Location: home,
		Start:    start,
		TimeZone: p.opts.TimeZone,
	}, true
}

// planPairs keeps results aligned with pairs; failed pairs stay nil.
func (p *Planner) planPairs(ctx context.Context, pairs [][2]model.Event) []*model.RouteInfo {
	results := make([]*model.RouteInfo, len(pairs))
	if p.opts.Parallelism <= 1 {
		for i, pair := range pairs {
			results[i] = p.routes.PlanRouteBetween(ctx, pair[0], pair[1])
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Parallelism)
	for i, pair := range pairs {
		i, pair := i, pair
		g.Go(func() error {
			results[i] = p.routes.PlanRouteBetween(gctx, pair[0], pair[1])
			return nil
		})
	}
	_ = g.Wait()
	return results
}
