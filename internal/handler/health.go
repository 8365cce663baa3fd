package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"ovbus/internal/refdata"
	"ovbus/internal/store"
)

type HealthHandler struct {
	refStore *refdata.Store
	live     *store.LiveStore
}

func NewHealthHandler(refStore *refdata.Store, live *store.LiveStore) *HealthHandler {
	return &HealthHandler{refStore: refStore, live: live}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready      bool      `json:"ready"`
	Stale      bool      `json:"stale"`
	ServerTime time.Time `json:"serverTime"`
}

// Readyz reports ready once the reference snapshot is loaded. Feed
// staleness is surfaced but does not flip readiness; the service keeps
// serving last-good data through upstream outages.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ready := h.refStore.Active() != nil
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ReadyResponse{
		Ready:      ready,
		Stale:      h.live.Stale(),
		ServerTime: time.Now(),
	})
}
