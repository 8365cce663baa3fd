package handler

import (
	"net/http"
	"time"

	"ovbus/internal/domain"
	"ovbus/internal/refdata"
)

type RouteHandler struct {
	refStore *refdata.Store
}

func NewRouteHandler(refStore *refdata.Store) *RouteHandler {
	return &RouteHandler{refStore: refStore}
}

type RouteDirection struct {
	Stops []domain.StopInfo   `json:"stops"`
	Shape []domain.ShapePoint `json:"shape,omitempty"`
}

type RouteResponse struct {
	Directions   map[domain.Direction]RouteDirection `json:"directions"`
	VersionToken string                              `json:"versionToken"`
	ExtractedAt  time.Time                           `json:"extractedAt"`
}

// GetRoute serves the line's topology per direction, derived from the
// active reference snapshot.
func (h *RouteHandler) GetRoute(w http.ResponseWriter, r *http.Request) {
	snap := h.refStore.Active()
	if snap == nil {
		respondError(w, http.StatusServiceUnavailable, "reference data not loaded yet")
		return
	}

	respondJSON(w, http.StatusOK, buildRouteResponse(snap))
}

func buildRouteResponse(snap *domain.ReferenceSnapshot) RouteResponse {
	directions := make(map[domain.Direction]RouteDirection, len(snap.StopsByDirection))
	for dir, stops := range snap.StopsByDirection {
		rd := RouteDirection{Stops: stops}
		if shapeID, ok := snap.DirectionShape[dir]; ok {
			rd.Shape = snap.Shapes[shapeID]
		}
		directions[dir] = rd
	}

	return RouteResponse{
		Directions:   directions,
		VersionToken: snap.VersionToken,
		ExtractedAt:  snap.ExtractedAt,
	}
}
