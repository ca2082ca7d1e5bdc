package main

import (
	"fmt"
	"strings"
	"time"

	"transitcal/internal/config"
	"transitcal/internal/dayplan"
	"transitcal/internal/geocode"
	"transitcal/internal/model"
	"transitcal/internal/otp"
	"transitcal/internal/route"
)

// services holds everything the run modes need, built once from config.
type services struct {
	geocoder *geocode.Cached
	trips    otp.TripPlanner
	routes   *route.Planner
	day      *dayplan.Planner
}

func buildServices(cfg *config.Config) *services {
	loc := cfg.Location()
	g := geocode.NewCached(buildGeocoder(cfg.Geocoder))
	trips := buildTripPlanner(cfg.Planner, loc)
	routes := route.NewPlanner(g, trips, route.WithLocation(loc))
	day := dayplan.New(routes, buildFilter(cfg.Filter), dayplan.Options{
		HomeAddress:  cfg.HomeAddress,
		HomeKeywords: cfg.Filter.HomeKeywords,
		TimeZone:     cfg.Timezone,
		Parallelism:  cfg.Planner.Parallelism,
	})
	return &services{geocoder: g, trips: trips, routes: routes, day: day}
}

func buildGeocoder(c config.GeocoderConfig) geocode.Geocoder {
	places := geocode.DefaultPlaces
	if len(c.Static) > 0 {
		places = make([]geocode.Place, 0, len(c.Static))
		for _, p := range c.Static {
			places = append(places, geocode.Place{Address: p.Address, Coords: model.Coordinates{Lat: p.Lat, Lon: p.Lon}})
		}
	}
	static := geocode.NewStatic(places)
	live := geocode.NewNominatim(geocode.NominatimOptions{
		URL:         c.URL,
		UserAgent:   c.UserAgent,
		MinInterval: c.MinInterval,
		Timeout:     c.Timeout,
	})

	switch c.Strategy {
	case "live":
		return live
	case "static":
		return static
	default:
		return geocode.Chain{live, static}
	}
}

func buildTripPlanner(c config.PlannerConfig, loc *time.Location) otp.TripPlanner {
	offline := otp.Estimator{Estimate: route.EstimateItinerary, Location: loc}
	live := otp.NewClient(otp.ClientOptions{
		BaseURL: c.URL,
		Paths:   c.GraphQLPaths,
		Timeout: c.Timeout,
		Retries: c.Retries,
	})

	switch c.Strategy {
	case "live":
		return live
	case "offline":
		return offline
	default:
		return otp.Chain{live, offline}
	}
}

func buildFilter(c config.FilterConfig) route.Filter {
	f := route.DefaultFilter()
	if c.VirtualKeywords != nil {
		f.VirtualKeywords = c.VirtualKeywords
	}
	if c.BotMarkers != nil {
		f.BotMarkers = c.BotMarkers
	}
	if c.MaxDaysAhead > 0 {
		f.MaxAhead = time.Duration(c.MaxDaysAhead) * 24 * time.Hour
	}
	return f
}

// arrivalLayouts are accepted by -arrive, most specific first.
var arrivalLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04",
}

// parseArrival reads the -arrive flag. A bare "15:04" means that time
// today; an empty value means 30 minutes from now.
func parseArrival(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.Add(30 * time.Minute).In(loc), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t, nil
	}
	for _, layout := range arrivalLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if clock, err := time.ParseInLocation("15:04", s, loc); err == nil {
		day := now.In(loc)
		return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised arrival time %q", s)
}
