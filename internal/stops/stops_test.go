package stops

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitcal/internal/model"
)

const stopList = `[
  {"stop_id": "5000", "stop_name": "Wellington Station - Stop A", "stop_lat": -41.2787, "stop_lon": 174.7806},
  {"stop_id": "5006", "stop_name": "Lambton Quay - Willis Street", "stop_lat": "-41.2865", "stop_lon": "174.7762"},
  {"stop_id": "7000", "stop_name": "Karori Park", "stop_lat": -41.2843, "stop_lon": 174.7311},
  {"stop_id": "", "stop_name": "broken", "stop_lat": 0, "stop_lon": 0},
  {"stop_id": "9999", "stop_name": "no coords"}
]`

func TestNearestFromAPI(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/gtfs/stops", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		w.Write([]byte(stopList))
	}))
	defer server.Close()

	c := NewClient(Options{BaseURL: server.URL, APIKey: "secret"})
	willis := model.Coordinates{Lat: -41.2866, Lon: 174.7760}

	stop, km, err := c.Nearest(context.Background(), willis)
	require.NoError(t, err)
	assert.Equal(t, "5006", stop.ID)
	assert.Less(t, km, 0.05)

	stop, _, err = c.Nearest(context.Background(), model.Coordinates{Lat: -41.285, Lon: 174.73})
	require.NoError(t, err)
	assert.Equal(t, "7000", stop.ID)
	assert.Equal(t, int32(1), calls.Load(), "stop list is cached")

	list, err := c.Stops(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestStopsCacheExpires(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"stops": ` + stopList + `}`))
	}))
	defer server.Close()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	c := NewClient(Options{BaseURL: server.URL, CacheTTL: time.Hour})
	c.now = func() time.Time { return now }

	_, err := c.Stops(context.Background())
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)
	_, err = c.Stops(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStopsErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gtfs/stops" {
			w.Write([]byte(`[]`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := NewClient(Options{BaseURL: server.URL})
	_, _, err := c.Nearest(context.Background(), model.Coordinates{})
	assert.ErrorIs(t, err, ErrNoStops)

	_, err = c.Predictions(context.Background(), "5000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	_, _, err = Nearest(nil, model.Coordinates{})
	assert.ErrorIs(t, err, ErrNoStops)
}

func TestPredictions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stop-predictions", r.URL.Path)
		assert.Equal(t, "5006", r.URL.Query().Get("stop_id"))
		w.Write([]byte(`{"farezone":"1","departures":[
		  {"service_id":"2","destination":{"stop_id":"7000","name":"Karori"},"status":"ontime",
		   "departure":{"aimed":"2025-03-10T09:05:00+13:00","expected":"2025-03-10T09:07:00+13:00"}},
		  {"service_id":"KPL","destination":"Waikanae","arrival":{"aimed":"2025-03-10T09:20:00+13:00"}}
		]}`))
	}))
	defer server.Close()

	deps, err := NewClient(Options{BaseURL: server.URL}).Predictions(context.Background(), "5006")
	require.NoError(t, err)
	require.Len(t, deps, 2)

	nz := time.FixedZone("NZDT", 13*3600)
	assert.Equal(t, "2", deps[0].ServiceID)
	assert.Equal(t, "Karori", deps[0].Destination)
	assert.True(t, deps[0].When().Equal(time.Date(2025, 3, 10, 9, 7, 0, 0, nz)))
	assert.Equal(t, "Waikanae", deps[1].Destination)
	assert.True(t, deps[1].When().Equal(time.Date(2025, 3, 10, 9, 20, 0, 0, nz)))
}

func TestPredictionsBareList(t *testing.T) {
	deps, err := decodeDepartures([]byte(`[{"service_id":"1","destination":"Island Bay"}]`))
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "Island Bay", deps[0].Destination)
	assert.True(t, deps[0].When().IsZero())
}
