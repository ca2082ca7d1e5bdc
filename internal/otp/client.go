package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	appLog "transitcal/internal/log"
	"transitcal/internal/model"
)

// DefaultGraphQLPaths are tried in order until one answers. Deployments of
// OpenTripPlanner 2.x expose the GraphQL API under different prefixes.
var DefaultGraphQLPaths = []string{
	"/otp/routers/default/index/graphql",
	"/otp/index/graphql",
	"/otp/graphql",
	"/graphql",
}

const planQuery = `query PlanRoute($fromLat: Float!, $fromLon: Float!, $toLat: Float!, $toLon: Float!, $date: String!, $time: String!, $arriveBy: Boolean!) {
  plan(
    from: {lat: $fromLat, lon: $fromLon}
    to: {lat: $toLat, lon: $toLon}
    date: $date
    time: $time
    arriveBy: $arriveBy
    numItineraries: 3
  ) {
    itineraries {
      duration
      legs {
        mode
        startTime
        endTime
        from { name }
        to { name }
        distance
      }
    }
  }
}`

// Client talks to the OpenTripPlanner GraphQL API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	paths      []string
	retries    int
	tracer     trace.Tracer

	// newBackOff is swapped in tests.
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	working string // last path that answered
}

// ClientOptions configures NewClient. Zero values use defaults.
type ClientOptions struct {
	BaseURL string
	Paths   []string
	Timeout time.Duration
	// Retries is the number of extra attempts per path on transport errors.
	Retries int
}

func NewClient(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:8080"
	}
	if len(opts.Paths) == 0 {
		opts.Paths = DefaultGraphQLPaths
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   opts.Timeout,
		},
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		paths:   opts.Paths,
		retries: opts.Retries,
		tracer:  otel.Tracer("otp-client"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type planResponse struct {
	Data *struct {
		Plan *struct {
			Itineraries []itineraryDTO `json:"itineraries"`
		} `json:"plan"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type itineraryDTO struct {
	Duration *float64 `json:"duration"`
	Legs     []legDTO `json:"legs"`
}

type placeDTO struct {
	Name string `json:"name"`
}

type legDTO struct {
	Mode      string    `json:"mode"`
	StartTime *int64    `json:"startTime"`
	EndTime   *int64    `json:"endTime"`
	From      *placeDTO `json:"from"`
	To        *placeDTO `json:"to"`
	Distance  *float64  `json:"distance"`
}

// PlanTrip runs the plan query. Transport failures on every path yield
// ErrUnavailable; a reachable endpoint with an unusable body yields
// ErrMalformed.
func (c *Client) PlanTrip(ctx context.Context, from, to model.Coordinates, date, clock string, arriveBy bool) ([]model.Itinerary, error) {
	ctx, span := c.tracer.Start(ctx, "otp.plan_trip",
		trace.WithAttributes(
			attribute.String("otp.date", date),
			attribute.String("otp.time", clock),
			attribute.Bool("otp.arrive_by", arriveBy),
		),
	)
	defer span.End()

	req := graphQLRequest{
		Query: planQuery,
		Variables: map[string]any{
			"fromLat":  from.Lat,
			"fromLon":  from.Lon,
			"toLat":    to.Lat,
			"toLon":    to.Lon,
			"date":     date,
			"time":     clock,
			"arriveBy": arriveBy,
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode plan query: %w", err)
	}

	resp, err := c.query(ctx, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	its, err := convert(resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("otp.itineraries", len(its)))
	return its, nil
}

// query posts body to the remembered path first, then to every configured
// path in order. GraphQL-level errors move on to the next path as well.
func (c *Client) query(ctx context.Context, body []byte) (*planResponse, error) {
	var lastErr error
	for _, path := range c.candidatePaths() {
		resp, err := c.post(ctx, path, body)
		if err == nil && len(resp.Errors) > 0 {
			err = fmt.Errorf("%w: graphql errors: %s", ErrMalformed, joinMessages(resp.Errors))
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
			appLog.Warn("otp endpoint failed", "path", path, "err", err)
			c.forget(path)
			lastErr = err
			continue
		}
		c.remember(path)
		return resp, nil
	}

	appLog.Error("all otp endpoints failed", lastErr, "base_url", c.baseURL, "paths", strings.Join(c.paths, ","))
	if errors.Is(lastErr, ErrMalformed) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*planResponse, error) {
	var out *planResponse

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Transport error: retry.
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
			return backoff.Permanent(fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, string(snippet)))
		}

		var pr planResponse
		if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: decode: %v", ErrMalformed, err))
		}
		out = &pr
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.retries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) candidatePaths() []string {
	c.mu.Lock()
	working := c.working
	c.mu.Unlock()

	if working == "" {
		return c.paths
	}
	out := make([]string, 0, len(c.paths)+1)
	out = append(out, working)
	for _, p := range c.paths {
		if p != working {
			out = append(out, p)
		}
	}
	return out
}

func (c *Client) remember(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.working != path {
		appLog.Info("otp endpoint selected", "path", path)
	}
	c.working = path
}

func (c *Client) forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.working == path {
		c.working = ""
	}
}

func convert(resp *planResponse) ([]model.Itinerary, error) {
	if resp.Data == nil || resp.Data.Plan == nil {
		return nil, fmt.Errorf("%w: missing data.plan", ErrMalformed)
	}

	out := make([]model.Itinerary, 0, len(resp.Data.Plan.Itineraries))
	for i, dto := range resp.Data.Plan.Itineraries {
		if dto.Duration == nil {
			return nil, fmt.Errorf("%w: itinerary %d has no duration", ErrMalformed, i)
		}
		it := model.Itinerary{DurationSeconds: *dto.Duration}
		for j, l := range dto.Legs {
			if l.StartTime == nil || l.EndTime == nil {
				return nil, fmt.Errorf("%w: itinerary %d leg %d is missing a timestamp", ErrMalformed, i, j)
			}
			leg := model.Leg{
				Mode:  l.Mode,
				Start: time.UnixMilli(*l.StartTime),
				End:   time.UnixMilli(*l.EndTime),
			}
			if l.From != nil {
				leg.From = l.From.Name
			}
			if l.To != nil {
				leg.To = l.To.Name
			}
			if l.Distance != nil {
				leg.Distance = *l.Distance
			}
			it.Legs = append(it.Legs, leg)
		}
		out = append(out, it)
	}
	return out, nil
}

func joinMessages(errs []graphQLError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Message == "" {
			msgs = append(msgs, "unknown graphql error")
			continue
		}
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}
