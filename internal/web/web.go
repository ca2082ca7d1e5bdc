// Package web exposes the planner over HTTP.
package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"transitcal/internal/config"
	"transitcal/internal/dayplan"
	"transitcal/internal/geocode"
	"transitcal/internal/ics"
	appLog "transitcal/internal/log"
	"transitcal/internal/model"
	"transitcal/internal/pipeline"
	"transitcal/internal/stops"
)

const (
	icsCacheTTL    = 30 * time.Second
	maxRequestBody = 1 << 20
)

// RoutePlanner plans a single event pair.
type RoutePlanner interface {
	PlanRouteBetween(ctx context.Context, origin, dest model.Event) *model.RouteInfo
}

// DayPlanner plans a whole day.
type DayPlanner interface {
	PlanRoutes(ctx context.Context, events []model.Event, home string) []*model.RouteInfo
}

// Refresher runs the calendar pipeline.
type Refresher interface {
	Run(ctx context.Context) (*pipeline.Result, error)
	Last() *pipeline.Result
}

// StopFinder looks up the stop nearest to a point.
type StopFinder interface {
	Nearest(ctx context.Context, at model.Coordinates) (stops.Stop, float64, error)
}

// Deps are the services behind the API. Stops may be nil.
type Deps struct {
	Routes   RoutePlanner
	Day      DayPlanner
	Geocoder geocode.Geocoder
	Pipeline Refresher
	Stops    StopFinder
}

// Server provides the HTTP API.
type Server struct {
	cfg    *config.Config
	deps   Deps
	router chi.Router
	loc    *time.Location
	now    func() time.Time

	// Serialized transit calendar, reused for icsCacheTTL.
	icsMu    sync.RWMutex
	icsCache *icsCache
}

type icsCache struct {
	body      []byte
	updatedAt time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		loc:  cfg.Location(),
		now:  time.Now,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler, traced and optionally behind basic auth.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return otelhttp.NewHandler(h, "transitcal.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/route", s.handleRoute)
		r.Post("/day", s.handleDay)
		r.Get("/geocode", s.handleGeocode)
		r.Get("/days", s.handleDays)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/transit.ics", s.handleTransitICS)
	})
	return r
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards everything except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="transitcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type routeRequest struct {
	From model.EventRecord `json:"from"`
	To   model.EventRecord `json:"to"`
}

// handleRoute plans one pair of calendar-API shaped events.
//
// POST /api/route {"from": {...}, "to": {...}}
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from := model.EventFromRecord(req.From, s.cfg.Timezone)
	to := model.EventFromRecord(req.To, s.cfg.Timezone)

	info := s.deps.Routes.PlanRouteBetween(r.Context(), from, to)
	if info == nil {
		writeError(w, http.StatusUnprocessableEntity, "no route could be planned between these events")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type dayRequest struct {
	Events      []model.EventRecord `json:"events"`
	HomeAddress string              `json:"home_address"`
}

type dayResponse struct {
	Routes  []*model.RouteInfo   `json:"routes"`
	Transit []model.TransitEvent `json:"transit"`
	Records []model.EventRecord  `json:"records"`
}

// handleDay plans a list of events as one day.
//
// POST /api/day {"events": [...], "home_address": "..."}
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	var req dayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	events := make([]model.Event, 0, len(req.Events))
	for _, rec := range req.Events {
		events = append(events, model.EventFromRecord(rec, s.cfg.Timezone))
	}

	routes := s.deps.Day.PlanRoutes(r.Context(), events, req.HomeAddress)
	resp := dayResponse{
		Routes:  routes,
		Transit: make([]model.TransitEvent, 0, len(routes)),
		Records: make([]model.EventRecord, 0, len(routes)),
	}
	for _, info := range routes {
		te := dayplan.Render(info, s.cfg.Timezone, s.loc)
		resp.Transit = append(resp.Transit, te)
		resp.Records = append(resp.Records, te.Record())
	}
	writeJSON(w, http.StatusOK, resp)
}

type geocodeResponse struct {
	Query       string             `json:"query"`
	Normalized  string             `json:"normalized"`
	Coordinates model.Coordinates  `json:"coordinates"`
	NearestStop *nearestStopResult `json:"nearest_stop,omitempty"`
}

type nearestStopResult struct {
	stops.Stop
	DistanceKm float64 `json:"distance_km"`
}

// handleGeocode resolves ?q= and, when a stop finder is configured, adds
// the nearest stop.
func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	c, err := s.deps.Geocoder.Geocode(r.Context(), q)
	switch {
	case errors.Is(err, geocode.ErrNotFound):
		writeError(w, http.StatusNotFound, "address not found")
		return
	case err != nil:
		appLog.Error("geocode request failed", err, "query", q)
		writeError(w, http.StatusBadGateway, "geocoder unavailable")
		return
	}

	resp := geocodeResponse{Query: q, Normalized: geocode.NormalizeAddress(q), Coordinates: c}
	if s.deps.Stops != nil {
		if stop, km, err := s.deps.Stops.Nearest(r.Context(), c); err == nil {
			resp.NearestStop = &nearestStopResult{Stop: stop, DistanceKm: km}
		} else {
			appLog.Warn("nearest stop lookup failed", "err", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDays returns the last pipeline result without running it.
func (s *Server) handleDays(w http.ResponseWriter, _ *http.Request) {
	res := s.deps.Pipeline.Last()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no plan has been produced yet")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRefresh runs the pipeline now and drops the cached calendar.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Pipeline.Run(r.Context())
	if err != nil {
		appLog.Error("refresh failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.icsMu.Lock()
	s.icsCache = nil
	s.icsMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"generated_at":   res.GeneratedAt,
		"days":           len(res.Days),
		"transit_events": len(res.Transit),
		"fetch_errors":   res.FetchErrors,
	})
}

// handleTransitICS serves the planned trips as a subscribable calendar.
// The pipeline runs on demand when nothing has been planned yet.
func (s *Server) handleTransitICS(w http.ResponseWriter, r *http.Request) {
	now := s.now()

	s.icsMu.RLock()
	c := s.icsCache
	s.icsMu.RUnlock()
	if c != nil && now.Sub(c.updatedAt) < icsCacheTTL {
		writeCalendar(w, c.body)
		return
	}

	res := s.deps.Pipeline.Last()
	if res == nil {
		var err error
		if res, err = s.deps.Pipeline.Run(r.Context()); err != nil {
			appLog.Error("transit calendar: pipeline failed", err)
			writeError(w, http.StatusBadGateway, "failed to plan transit calendar")
			return
		}
	}

	var buf bytes.Buffer
	if err := ics.WriteCalendar(&buf, "Transit", res.Transit, res.GeneratedAt); err != nil {
		appLog.Error("transit calendar: serialize failed", err)
		writeError(w, http.StatusInternalServerError, "failed to serialize calendar")
		return
	}

	s.icsMu.Lock()
	s.icsCache = &icsCache{body: buf.Bytes(), updatedAt: now}
	s.icsMu.Unlock()

	writeCalendar(w, buf.Bytes())
}

func writeCalendar(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="transit.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
