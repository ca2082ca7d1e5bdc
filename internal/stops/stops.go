// Package stops looks up public transport stops and live departures from the
// Metlink open data API.
package stops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	appLog "transitcal/internal/log"
	"transitcal/internal/model"
	"transitcal/internal/route"
)

// ErrNoStops is returned when the stop list is empty or unusable.
var ErrNoStops = errors.New("stops: no stops available")

// Stop is one GTFS stop.
type Stop struct {
	ID   string  `json:"stop_id"`
	Name string  `json:"stop_name"`
	Lat  float64 `json:"stop_lat"`
	Lon  float64 `json:"stop_lon"`
}

func (s Stop) Coordinates() model.Coordinates {
	return model.Coordinates{Lat: s.Lat, Lon: s.Lon}
}

// Departure is one predicted departure from a stop.
type Departure struct {
	ServiceID   string    `json:"service_id"`
	Destination string    `json:"destination"`
	Aimed       time.Time `json:"aimed"`
	Expected    time.Time `json:"expected,omitempty"`
	Status      string    `json:"status,omitempty"`
}

// When is the expected time if known, otherwise the timetabled one.
func (d Departure) When() time.Time {
	if !d.Expected.IsZero() {
		return d.Expected
	}
	return d.Aimed
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Client caches the stop list for CacheTTL; departures are always live.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	ttl        time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	stops     []Stop
	fetchedAt time.Time
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.opendata.metlink.org.nz/v1"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	return &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   opts.Timeout,
		},
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		ttl:     opts.CacheTTL,
		now:     time.Now,
	}
}

// Stops returns every stop, fetching the list when the cache is stale.
func (c *Client) Stops(ctx context.Context) ([]Stop, error) {
	c.mu.RLock()
	cached, at := c.stops, c.fetchedAt
	c.mu.RUnlock()
	if len(cached) > 0 && c.now().Sub(at) < c.ttl {
		return cached, nil
	}

	body, err := c.get(ctx, "/gtfs/stops", nil)
	if err != nil {
		return nil, err
	}
	list, err := decodeStops(body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.stops, c.fetchedAt = list, c.now()
	c.mu.Unlock()
	appLog.Info("stop list refreshed", "stops", len(list))
	return list, nil
}

// Nearest returns the stop closest to at and its distance in kilometres.
func (c *Client) Nearest(ctx context.Context, at model.Coordinates) (Stop, float64, error) {
	list, err := c.Stops(ctx)
	if err != nil {
		return Stop{}, 0, err
	}
	return Nearest(list, at)
}

// Nearest picks the closest stop by great-circle distance.
func Nearest(list []Stop, at model.Coordinates) (Stop, float64, error) {
	if len(list) == 0 {
		return Stop{}, 0, ErrNoStops
	}
	best, bestKm := list[0], route.Distance(at, list[0].Coordinates())
	for _, s := range list[1:] {
		if km := route.Distance(at, s.Coordinates()); km < bestKm {
			best, bestKm = s, km
		}
	}
	return best, bestKm, nil
}

// Predictions returns upcoming departures for a stop.
func (c *Client) Predictions(ctx context.Context, stopID string) ([]Departure, error) {
	if stopID == "" {
		return nil, errors.New("stops: empty stop id")
	}
	body, err := c.get(ctx, "/stop-predictions", url.Values{"stop_id": {stopID}})
	if err != nil {
		return nil, err
	}
	return decodeDepartures(body)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("x-api-key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			body = data
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, snippet(data)))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)); err != nil {
		appLog.Error("metlink request failed", err, "path", path)
		return nil, err
	}
	return body, nil
}

func snippet(b []byte) string {
	if len(b) > 200 {
		b = b[:200]
	}
	return string(b)
}

// flexFloat accepts both JSON numbers and numeric strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return errors.New("empty number")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type stopDTO struct {
	ID   string     `json:"stop_id"`
	Name string     `json:"stop_name"`
	Lat  *flexFloat `json:"stop_lat"`
	Lon  *flexFloat `json:"stop_lon"`
}

// decodeStops accepts a bare list or an object with a "stops" key and
// drops entries missing an id, name or coordinate.
func decodeStops(body []byte) ([]Stop, error) {
	var raw []json.RawMessage
	trimmed := bytes.TrimSpace(body)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("decode stops: %w", err)
		}
	} else {
		var wrapped struct {
			Stops []json.RawMessage `json:"stops"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode stops: %w", err)
		}
		raw = wrapped.Stops
	}

	out := make([]Stop, 0, len(raw))
	for _, r := range raw {
		var dto stopDTO
		if err := json.Unmarshal(r, &dto); err != nil {
			appLog.Debug("skipping unparseable stop", "err", err)
			continue
		}
		if dto.ID == "" || dto.Name == "" || dto.Lat == nil || dto.Lon == nil {
			continue
		}
		out = append(out, Stop{ID: dto.ID, Name: dto.Name, Lat: float64(*dto.Lat), Lon: float64(*dto.Lon)})
	}
	if len(out) == 0 {
		return nil, ErrNoStops
	}
	return out, nil
}

type timesDTO struct {
	Aimed    string `json:"aimed"`
	Expected string `json:"expected"`
}

type departureDTO struct {
	ServiceID   string          `json:"service_id"`
	Destination json.RawMessage `json:"destination"`
	Status      string          `json:"status"`
	Departure   *timesDTO       `json:"departure"`
	Arrival     *timesDTO       `json:"arrival"`
}

// decodeDepartures accepts {"departures": [...]} or a bare list.
func decodeDepartures(body []byte) ([]Departure, error) {
	var raw []departureDTO
	trimmed := bytes.TrimSpace(body)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("decode departures: %w", err)
		}
	} else {
		var wrapped struct {
			Departures []departureDTO `json:"departures"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode departures: %w", err)
		}
		raw = wrapped.Departures
	}

	out := make([]Departure, 0, len(raw))
	for _, d := range raw {
		dep := Departure{
			ServiceID:   d.ServiceID,
			Destination: destinationName(d.Destination),
			Status:      d.Status,
		}
		times := d.Departure
		if times == nil {
			times = d.Arrival
		}
		if times != nil {
			dep.Aimed, _ = model.ParseTimestamp(times.Aimed, time.UTC)
			dep.Expected, _ = model.ParseTimestamp(times.Expected, time.UTC)
		}
		out = append(out, dep)
	}
	return out, nil
}

func destinationName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Name
	}
	return ""
}
