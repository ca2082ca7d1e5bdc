package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	appLog "transitcal/internal/log"
	"transitcal/internal/model"
)

// Nominatim geocodes through an OpenStreetMap Nominatim search endpoint.
type Nominatim struct {
	httpClient  *http.Client
	baseURL     string
	userAgent   string
	minInterval time.Duration
	tracer      trace.Tracer

	// throttle state; Nominatim allows one request per second.
	mu       sync.Mutex
	lastCall time.Time
}

// NominatimOptions configures NewNominatim. Zero values use defaults.
type NominatimOptions struct {
	URL         string
	UserAgent   string
	MinInterval time.Duration
	Timeout     time.Duration
}

func NewNominatim(opts NominatimOptions) *Nominatim {
	if opts.URL == "" {
		opts.URL = "https://nominatim.openstreetmap.org/search"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "transitcal/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Nominatim{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   opts.Timeout,
		},
		baseURL:     opts.URL,
		userAgent:   opts.UserAgent,
		minInterval: opts.MinInterval,
		tracer:      otel.Tracer("geocode-nominatim"),
	}
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func (n *Nominatim) Geocode(ctx context.Context, address string) (model.Coordinates, error) {
	query := NormalizeAddress(address)
	if query == "" {
		return model.Coordinates{}, ErrNotFound
	}

	ctx, span := n.tracer.Start(ctx, "geocode.nominatim",
		trace.WithAttributes(attribute.String("geocode.query", query)),
	)
	defer span.End()

	coords, err := n.lookup(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.Coordinates{}, err
	}
	span.SetAttributes(
		attribute.Float64("geocode.lat", coords.Lat),
		attribute.Float64("geocode.lon", coords.Lon),
	)
	return coords, nil
}

func (n *Nominatim) lookup(ctx context.Context, query string) (model.Coordinates, error) {
	if err := n.wait(ctx); err != nil {
		return model.Coordinates{}, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("nominatim request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.Coordinates{}, fmt.Errorf("nominatim returned status %d: %s", resp.StatusCode, string(body))
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return model.Coordinates{}, fmt.Errorf("decode nominatim response: %w", err)
	}
	if len(results) == 0 {
		return model.Coordinates{}, ErrNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("parse lat %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("parse lon %q: %w", results[0].Lon, err)
	}

	appLog.Info("geocoded address", "query", query, "lat", lat, "lon", lon, "match", results[0].DisplayName)
	return model.Coordinates{Lat: lat, Lon: lon}, nil
}

// wait blocks until minInterval has passed since the previous request.
func (n *Nominatim) wait(ctx context.Context) error {
	if n.minInterval <= 0 {
		return nil
	}
	n.mu.Lock()
	next := n.lastCall.Add(n.minInterval)
	now := time.Now()
	if next.Before(now) {
		next = now
	}
	n.lastCall = next
	n.mu.Unlock()

	delay := time.Until(next)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
