package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rnvlive/internal/domain"
	"rnvlive/internal/store"
	"rnvlive/internal/tracker"
	"rnvlive/pkg/rnvapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func trackableTrip(id string) domain.Trip {
	dep := time.Now().Add(5 * time.Minute)
	return domain.Trip{
		ID:        id,
		StartTime: dep,
		EndTime:   dep.Add(20 * time.Minute),
		Legs: []domain.Leg{
			{
				Kind:               domain.LegTimedRide,
				BoardStopName:      "Hauptbahnhof",
				AlightStopName:     "Paradeplatz",
				ScheduledDeparture: dep,
				ScheduledArrival:   dep.Add(20 * time.Minute),
				ServiceKind:        domain.ServiceTram,
				LineLabel:          "5",
				DestinationLabel:   "Weinheim",
			},
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *store.TripCatalog, *tracker.Coordinator) {
	t.Helper()
	st := store.NewMemoryStore()
	coord := tracker.New(st, nil, tracker.Config{TickInterval: 10 * time.Millisecond}, testLogger())
	catalog := store.NewTripCatalog(time.Hour)
	h := NewHTTPHandler(coord, nil, rnvapi.StaticTokenSource("tok"), catalog, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tracking/{tripId}", h.StartTracking)
	mux.HandleFunc("DELETE /v1/tracking/{tripId}", h.StopTracking)
	mux.HandleFunc("GET /v1/tracking/{tripId}", h.GetTracking)
	mux.HandleFunc("GET /v1/tracking", h.ListTracking)
	mux.HandleFunc("DELETE /v1/tracking", h.StopAllTracking)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { coord.StopAll(context.Background()) })
	return srv, catalog, coord
}

func doReq(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStartTrackingUnknownTrip(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := doReq(t, http.MethodPost, srv.URL+"/v1/tracking/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartTrackingRejectsWalkOnlyTrip(t *testing.T) {
	srv, catalog, _ := newTestServer(t)
	catalog.Put([]domain.Trip{{
		ID:   "walk",
		Legs: []domain.Leg{{Kind: domain.LegTransfer, Mode: "WALK"}},
	}})

	resp := doReq(t, http.MethodPost, srv.URL+"/v1/tracking/walk")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestTrackingLifecycle(t *testing.T) {
	srv, catalog, _ := newTestServer(t)
	catalog.Put([]domain.Trip{trackableTrip("t1")})

	resp := doReq(t, http.MethodPost, srv.URL+"/v1/tracking/t1")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doReq(t, http.MethodGet, srv.URL+"/v1/tracking/t1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doReq(t, http.MethodGet, srv.URL+"/v1/tracking")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doReq(t, http.MethodDelete, srv.URL+"/v1/tracking/t1")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// stopping again stays a no-op
	resp = doReq(t, http.MethodDelete, srv.URL+"/v1/tracking/t1")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestStopAllTracking(t *testing.T) {
	srv, catalog, coord := newTestServer(t)
	catalog.Put([]domain.Trip{trackableTrip("t1")})

	resp := doReq(t, http.MethodPost, srv.URL+"/v1/tracking/t1")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doReq(t, http.MethodDelete, srv.URL+"/v1/tracking")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, coord.SessionCount())
}
