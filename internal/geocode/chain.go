package geocode

import (
	"context"
	"errors"

	appLog "transitcal/internal/log"
	"transitcal/internal/model"
)

// Chain tries each Geocoder in order and returns the first success. The
// order is fixed at construction; a failure never reorders later calls.
type Chain []Geocoder

func (c Chain) Geocode(ctx context.Context, address string) (model.Coordinates, error) {
	if len(c) == 0 {
		return model.Coordinates{}, ErrNotFound
	}
	var errs []error
	for i, g := range c {
		coords, err := g.Geocode(ctx, address)
		if err == nil {
			return coords, nil
		}
		if ctx.Err() != nil {
			return model.Coordinates{}, ctx.Err()
		}
		appLog.Debug("geocoder in chain failed", "index", i, "address", address, "err", err)
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	// ErrNotFound only when every member reported it.
	if len(errs) > 0 {
		return model.Coordinates{}, errors.Join(errs...)
	}
	return model.Coordinates{}, ErrNotFound
}
