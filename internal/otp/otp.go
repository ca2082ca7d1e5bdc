// Package otp plans trips against OpenTripPlanner, with an offline
// distance estimate as an alternative strategy.
package otp

import (
	"context"
	"errors"

	"transitcal/internal/model"
)

var (
	// ErrUnavailable means no endpoint could be reached or answered.
	ErrUnavailable = errors.New("otp: trip planner unavailable")
	// ErrMalformed means a response arrived but could not be interpreted.
	ErrMalformed = errors.New("otp: malformed response")
)

// TripPlanner returns ranked itineraries. A nil error with an empty slice
// means the planner answered but found no itinerary.
type TripPlanner interface {
	PlanTrip(ctx context.Context, from, to model.Coordinates, date, clock string, arriveBy bool) ([]model.Itinerary, error)
}

// Chain tries each planner in order and returns the first non-empty answer.
// If none produced itineraries, the last planner's result is returned.
type Chain []TripPlanner

func (c Chain) PlanTrip(ctx context.Context, from, to model.Coordinates, date, clock string, arriveBy bool) ([]model.Itinerary, error) {
	var (
		its []model.Itinerary
		err error = ErrUnavailable
	)
	for _, p := range c {
		its, err = p.PlanTrip(ctx, from, to, date, clock, arriveBy)
		if err == nil && len(its) > 0 {
			return its, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return its, err
}
