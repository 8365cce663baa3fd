package handler

import (
	"net/http"

	"ovbus/internal/domain"
	"ovbus/internal/store"
)

type VehiclesHandler struct {
	live *store.LiveStore
}

func NewVehiclesHandler(live *store.LiveStore) *VehiclesHandler {
	return &VehiclesHandler{live: live}
}

type VehiclesResponse struct {
	Vehicles  []domain.VehiclePosition `json:"vehicles"`
	Count     int                      `json:"count"`
	Stale     bool                     `json:"stale"`
	Timestamp int64                    `json:"timestamp"`
}

// ListVehicles is the polling fallback for clients without a live
// stream connection.
func (h *VehiclesHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, stale, at := h.live.Vehicles()

	respondJSON(w, http.StatusOK, VehiclesResponse{
		Vehicles:  vehicles,
		Count:     len(vehicles),
		Stale:     stale,
		Timestamp: at.UnixMilli(),
	})
}
