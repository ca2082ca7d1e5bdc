// Package pipeline runs one refresh cycle: fetch the configured calendars,
// expand them over the planning horizon, plan each day and write the
// resulting transit calendar.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"transitcal/internal/config"
	"transitcal/internal/ics"
	appLog "transitcal/internal/log"
	"transitcal/internal/model"
)

// Fetcher downloads calendar feeds.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, []error)
}

// DayPlanner plans the trips of one day.
type DayPlanner interface {
	PlanDay(ctx context.Context, events []model.Event, home string) []model.TransitEvent
}

// Day is the outcome for one local calendar date.
type Day struct {
	Date    string               `json:"date"`
	Events  []model.Event        `json:"events"`
	Transit []model.TransitEvent `json:"transit"`
}

// Result is the outcome of one cycle.
type Result struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Days        []Day                `json:"days"`
	Transit     []model.TransitEvent `json:"transit"`
	FetchErrors int                  `json:"fetch_errors"`
}

// Pipeline is safe for concurrent use; overlapping Run calls share one cycle.
type Pipeline struct {
	cfg     *config.Config
	fetcher Fetcher
	planner DayPlanner
	now     func() time.Time

	group singleflight.Group

	mu   sync.RWMutex
	last *Result
}

func New(cfg *config.Config, fetcher Fetcher, planner DayPlanner) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		fetcher: fetcher,
		planner: planner,
		now:     time.Now,
	}
}

// Sources converts the configured subscriptions, skipping blank URLs. The
// ID falls back to the name, then to the URL.
func Sources(cfg *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			id = c.Name
		}
		if id == "" {
			id = c.URL
		}
		out = append(out, ics.Source{ID: id, URL: c.URL})
	}
	return out
}

// Last returns the most recent successful result, or nil.
func (p *Pipeline) Last() *Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Run executes one cycle and writes cfg.OutputICS when it is set.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	// Shared by every waiting caller; no single caller may cancel it.
	shared := context.WithoutCancel(ctx)
	v, err, joined := p.group.Do("run", func() (any, error) {
		return p.run(shared)
	})
	if joined {
		appLog.Debug("pipeline run shared with concurrent caller")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (p *Pipeline) run(ctx context.Context) (*Result, error) {
	started := p.now()
	loc := p.cfg.Location()

	sources := Sources(p.cfg)
	fetched, fetchErrs := p.fetcher.FetchAll(ctx, sources)
	if len(sources) > 0 && len(fetched) == 0 {
		return nil, fmt.Errorf("all %d calendar sources failed: %w", len(sources), errors.Join(fetchErrs...))
	}

	var parsed []ics.ParsedEvent
	for _, res := range fetched {
		events, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			appLog.Warn("skipping unparseable calendar", "source", res.Source.ID, "err", err)
			continue
		}
		parsed = append(parsed, events...)
	}

	now := started.In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	events, err := ics.Expand(parsed, ics.Window{
		Location: loc,
		TimeZone: p.cfg.Timezone,
		From:     now,
		To:       midnight.AddDate(0, 0, p.cfg.HorizonDays),
	})
	if err != nil {
		return nil, err
	}

	res := &Result{GeneratedAt: started, FetchErrors: len(fetchErrs)}
	for _, day := range GroupByDay(events, loc) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		day.Transit = p.planner.PlanDay(ctx, day.Events, p.cfg.HomeAddress)
		res.Days = append(res.Days, day)
		res.Transit = append(res.Transit, day.Transit...)
	}

	if p.cfg.OutputICS != "" {
		if err := ics.WriteFile(p.cfg.OutputICS, "Transit", res.Transit, started); err != nil {
			return nil, fmt.Errorf("write %s: %w", p.cfg.OutputICS, err)
		}
	}

	p.mu.Lock()
	p.last = res
	p.mu.Unlock()

	appLog.Info("pipeline run completed",
		"sources", len(sources),
		"fetch_errors", len(fetchErrs),
		"events", len(events),
		"days", len(res.Days),
		"transit_events", len(res.Transit),
		"elapsed", time.Since(started).String(),
	)
	return res, nil
}

// GroupByDay buckets events by their local start date, in date order.
func GroupByDay(events []model.Event, loc *time.Location) []Day {
	byDate := make(map[string][]model.Event)
	for _, ev := range events {
		key := ev.Start.In(loc).Format("2006-01-02")
		byDate[key] = append(byDate[key], ev)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make([]Day, 0, len(dates))
	for _, d := range dates {
		out = append(out, Day{Date: d, Events: byDate[d]})
	}
	return out
}
