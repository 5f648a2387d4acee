package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"rnvlive/internal/domain"
	"rnvlive/internal/store"
	"rnvlive/internal/timemath"
	"rnvlive/internal/tracker"
	"rnvlive/pkg/rnvapi"
)

type HTTPHandler struct {
	tracker *tracker.Coordinator
	api     *rnvapi.Client
	tokens  rnvapi.TokenSource
	catalog *store.TripCatalog
	logger  *slog.Logger
}

func NewHTTPHandler(t *tracker.Coordinator, api *rnvapi.Client, tokens rnvapi.TokenSource, catalog *store.TripCatalog, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{tracker: t, api: api, tokens: tokens, catalog: catalog, logger: logger}
}

type StationsResponse struct {
	Stations   []rnvapi.Station `json:"stations"`
	Count      int              `json:"count"`
	ServerTime time.Time        `json:"serverTime"`
}

func (h *HTTPHandler) SearchStations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		stations []rnvapi.Station
		err      error
	)
	switch {
	case q.Get("name") != "":
		stations, err = h.api.SearchStationsByName(r.Context(), q.Get("name"))
	case q.Get("lat") != "" && q.Get("lon") != "":
		lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
		lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
		if latErr != nil || lonErr != nil {
			respondError(w, http.StatusBadRequest, "invalid lat/lon values")
			return
		}
		stations, err = h.api.SearchStationsNear(r.Context(), lat, lon)
	default:
		respondError(w, http.StatusBadRequest, "provide either name or lat and lon")
		return
	}
	if err != nil {
		h.logger.Error("station search failed", "error", err)
		respondError(w, http.StatusBadGateway, "station search failed")
		return
	}

	respondJSON(w, http.StatusOK, StationsResponse{
		Stations:   stations,
		Count:      len(stations),
		ServerTime: time.Now(),
	})
}

type ConnectionSearchRequest struct {
	OriginGlobalID      string `json:"originGlobalId"`
	DestinationGlobalID string `json:"destinationGlobalId"`
	DepartureTime       string `json:"departureTime,omitempty"`
}

type ConnectionsResponse struct {
	Trips      []domain.Trip `json:"trips"`
	Count      int           `json:"count"`
	ServerTime time.Time     `json:"serverTime"`
}

// SearchConnections fetches itineraries between two stations and registers
// them in the catalog so a follow-up tracking request can refer to a trip by
// id.
func (h *HTTPHandler) SearchConnections(w http.ResponseWriter, r *http.Request) {
	var req ConnectionSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.OriginGlobalID == "" || req.DestinationGlobalID == "" {
		respondError(w, http.StatusBadRequest, "originGlobalId and destinationGlobalId are required")
		return
	}

	departure := time.Now()
	if req.DepartureTime != "" {
		t, err := timemath.Parse(req.DepartureTime)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid departureTime: expected RFC 3339")
			return
		}
		departure = t
	}

	trips, err := h.api.FetchTrips(r.Context(), req.OriginGlobalID, req.DestinationGlobalID, departure)
	if err != nil {
		h.logger.Error("connection search failed", "error", err)
		respondError(w, http.StatusBadGateway, "connection search failed")
		return
	}

	h.catalog.Put(trips)

	respondJSON(w, http.StatusOK, ConnectionsResponse{
		Trips:      trips,
		Count:      len(trips),
		ServerTime: time.Now(),
	})
}

func (h *HTTPHandler) StartTracking(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripId")
	if tripID == "" {
		respondError(w, http.StatusBadRequest, "missing trip id")
		return
	}

	trip, ok := h.catalog.Get(tripID)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown trip: search connections first")
		return
	}

	token, err := h.tokens.Token(r.Context())
	if err != nil {
		h.logger.Warn("token fetch failed, starting tracking unauthenticated", "error", err)
		token = ""
	}

	if err := h.tracker.StartTracking(r.Context(), trip, token); err != nil {
		switch {
		case errors.Is(err, domain.ErrNoTrackableLeg), errors.Is(err, domain.ErrIncompleteLegData):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, domain.ErrSurfaceDenied):
			respondError(w, http.StatusForbidden, err.Error())
		default:
			h.logger.Error("starting tracking failed", "trip_id", tripID, "error", err)
			respondError(w, http.StatusInternalServerError, "starting tracking failed")
		}
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"tripId": tripID, "status": "tracking"})
}

func (h *HTTPHandler) StopTracking(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripId")
	if tripID == "" {
		respondError(w, http.StatusBadRequest, "missing trip id")
		return
	}

	stop := h.tracker.StopTracking
	if r.URL.Query().Get("purge") == "true" {
		stop = h.tracker.PurgeTrip
	}
	if err := stop(r.Context(), tripID); err != nil {
		h.logger.Error("stopping tracking failed", "trip_id", tripID, "error", err)
		respondError(w, http.StatusInternalServerError, "stopping tracking failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) StopAllTracking(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.StopAll(r.Context()); err != nil {
		h.logger.Error("stopping all tracking failed", "error", err)
		respondError(w, http.StatusInternalServerError, "stopping all tracking failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type TrackingStatusResponse struct {
	TripID     string                   `json:"tripId"`
	Active     bool                     `json:"active"`
	Snapshot   *domain.TrackingSnapshot `json:"snapshot,omitempty"`
	ServerTime time.Time                `json:"serverTime"`
}

func (h *HTTPHandler) GetTracking(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripId")
	if tripID == "" {
		respondError(w, http.StatusBadRequest, "missing trip id")
		return
	}

	active, err := h.tracker.IsTracking(r.Context(), tripID)
	if err != nil {
		h.logger.Error("reading tracking state failed", "trip_id", tripID, "error", err)
		respondError(w, http.StatusInternalServerError, "reading tracking state failed")
		return
	}

	resp := TrackingStatusResponse{TripID: tripID, Active: active, ServerTime: time.Now()}
	if snap, ok, err := h.tracker.LatestSnapshot(r.Context(), tripID); err == nil && ok {
		resp.Snapshot = &snap
	}
	if !active && resp.Snapshot == nil {
		respondError(w, http.StatusNotFound, "trip is not tracked")
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

type ActiveTripsResponse struct {
	TripIDs    []string  `json:"tripIds"`
	Count      int       `json:"count"`
	ServerTime time.Time `json:"serverTime"`
}

func (h *HTTPHandler) ListTracking(w http.ResponseWriter, r *http.Request) {
	ids, err := h.tracker.ActiveTrips(r.Context())
	if err != nil {
		h.logger.Error("listing tracked trips failed", "error", err)
		respondError(w, http.StatusInternalServerError, "listing tracked trips failed")
		return
	}
	if ids == nil {
		ids = []string{}
	}

	respondJSON(w, http.StatusOK, ActiveTripsResponse{
		TripIDs:    ids,
		Count:      len(ids),
		ServerTime: time.Now(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
