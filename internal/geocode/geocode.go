// Package geocode resolves free-text locations to coordinates.
//
// Every implementation normalizes its input with NormalizeAddress, so
// callers pass raw event locations and never depend on the normalization
// heuristics themselves.
package geocode

import (
	"context"
	"errors"

	"transitcal/internal/model"
)

// ErrNotFound is returned when the backend answered but knows no match.
var ErrNotFound = errors.New("geocode: no result")

// Geocoder resolves an address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (model.Coordinates, error)
}

// Func adapts a plain function to the Geocoder interface.
type Func func(ctx context.Context, address string) (model.Coordinates, error)

func (f Func) Geocode(ctx context.Context, address string) (model.Coordinates, error) {
	return f(ctx, address)
}
