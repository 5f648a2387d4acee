package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"rnvlive/internal/tracker"
)

type HealthHandler struct {
	tracker *tracker.Coordinator
}

func NewHealthHandler(t *tracker.Coordinator) *HealthHandler {
	return &HealthHandler{tracker: t}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready        bool      `json:"ready"`
	SessionCount int       `json:"sessionCount"`
	ServerTime   time.Time `json:"serverTime"`
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ReadyResponse{
		Ready:        true,
		SessionCount: h.tracker.SessionCount(),
		ServerTime:   time.Now(),
	})
}
