package route

import (
	"math"
	"time"

	"transitcal/internal/model"
)

const (
	earthRadiusKm = 6371.0

	// WalkingThresholdKm separates walking estimates from transit estimates.
	WalkingThresholdKm = 1.5

	walkMinutesPerKm    = 12.0 // ~5 km/h
	transitMinutesPerKm = 3.0  // ~20 km/h
	transitBufferMin    = 10.0 // boarding and transfers
)

// Haversine returns the great-circle distance in kilometres between two
// points on a spherical Earth.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Distance is Haversine over Coordinates.
func Distance(a, b model.Coordinates) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// EstimateMinutes converts a straight-line distance into a travel time and
// the mode that time assumes.
func EstimateMinutes(distanceKm float64) (minutes float64, mode string) {
	if distanceKm < WalkingThresholdKm {
		return distanceKm * walkMinutesPerKm, model.ModeWalk
	}
	return distanceKm*transitMinutesPerKm + transitBufferMin, model.ModeTransit
}

// EstimateItinerary builds a single-leg itinerary that arrives exactly at
// arrival. It never fails.
func EstimateItinerary(from, to model.Coordinates, arrival time.Time) model.Itinerary {
	km := Distance(from, to)
	minutes, mode := EstimateMinutes(km)
	travel := time.Duration(minutes * float64(time.Minute))

	return model.Itinerary{
		DurationSeconds: minutes * 60,
		Legs: []model.Leg{{
			Mode:     mode,
			Start:    arrival.Add(-travel),
			End:      arrival,
			Distance: km * 1000,
		}},
		Synthesized: true,
	}
}

// EstimateRoute is the planner's ground floor: a straight-line estimate
// that always arrives at arrival. Event fields are left for the caller.
func EstimateRoute(from, to model.Coordinates, arrival time.Time) *model.RouteInfo {
	it := EstimateItinerary(from, to, arrival)
	return &model.RouteInfo{
		FromCoords:                 from,
		ToCoords:                   to,
		Itinerary:                  it,
		PredictedDeparture:         it.Legs[0].Start,
		EstimatedArrival:           arrival,
		EstimatedTravelTimeMinutes: it.DurationSeconds / 60,
		IsFallback:                 true,
	}
}
