package model

import "time"

// Leg modes used by the planner itself. Upstream planners may report other
// transit-like modes (BUS, RAIL, FERRY, CABLE_CAR...); only WALK is special.
const (
	ModeWalk    = "WALK"
	ModeTransit = "TRANSIT"
)

// Coordinates is a WGS84 latitude/longitude pair in degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Event is a calendar entry used as routing input.
//
// A zero Start or End means the timestamp is absent. Because the zero
// time.Time is the earliest representable instant, events without a start
// naturally sort first.
type Event struct {
	ID          string `json:"id,omitempty"`
	Summary     string `json:"summary"`
	Location    string `json:"location"`
	Description string `json:"description,omitempty"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// NaiveStart is set when Start was written without a zone offset.
	NaiveStart bool `json:"naive_start,omitempty"`

	// TimeZone is the IANA label the event was written in.
	TimeZone string `json:"time_zone"`
}

func (e Event) HasStart() bool { return !e.Start.IsZero() }
func (e Event) HasEnd() bool   { return !e.End.IsZero() }

// Leg is one uninterrupted segment of an itinerary.
type Leg struct {
	Mode  string    `json:"mode"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	// Distance in metres; zero when the planner did not report one.
	Distance float64 `json:"distance,omitempty"`
}

func (l Leg) IsWalking() bool { return l.Mode == ModeWalk }

// Itinerary is an ordered sequence of legs. DurationSeconds is whatever the
// trip planner stated and is never re-derived from the leg timestamps.
type Itinerary struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Legs            []Leg   `json:"legs"`
	// Synthesized marks itineraries produced by a distance estimate rather
	// than a real trip planner.
	Synthesized bool `json:"synthesized,omitempty"`
}

// RouteInfo is the planned trip between two events.
type RouteInfo struct {
	FromEvent    string      `json:"from_event"`
	ToEvent      string      `json:"to_event"`
	FromLocation string      `json:"from_location"`
	ToLocation   string      `json:"to_location"`
	FromCoords   Coordinates `json:"from_geocoded"`
	ToCoords     Coordinates `json:"to_geocoded"`

	Itinerary Itinerary `json:"itinerary"`

	PredictedDeparture         time.Time `json:"predicted_departure"`
	EstimatedArrival           time.Time `json:"estimated_arrival_time"`
	EstimatedTravelTimeMinutes float64   `json:"estimated_travel_time_minutes"`

	IsFallback bool `json:"is_fallback"`
}

// IsWalkingOnly reports whether the route is a single walking leg.
func (r RouteInfo) IsWalkingOnly() bool {
	return len(r.Itinerary.Legs) == 1 && r.Itinerary.Legs[0].IsWalking()
}

// TransitEvent is a RouteInfo rendered as a calendar entry.
type TransitEvent struct {
	UID         string    `json:"uid"`
	Kind        string    `json:"kind"`
	Summary     string    `json:"summary"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	TimeZone    string    `json:"time_zone"`
	IsFallback  bool      `json:"is_fallback"`
}

const (
	KindWalking = "walking"
	KindTransit = "transit"
)
