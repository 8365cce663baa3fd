package handler

import (
	"encoding/json"

	"ovbus/internal/domain"
	"ovbus/internal/hub"
	"ovbus/internal/refdata"
	"ovbus/internal/store"
)

// InitPayload is the first frame on every live connection: the current
// vehicle set plus the route topology, so a client renders a complete map
// before the first change push. Route is omitted before the reference
// data has loaded.
type InitPayload struct {
	Vehicles  []domain.VehiclePosition `json:"vehicles"`
	Route     *RouteResponse           `json:"route,omitempty"`
	Stale     bool                     `json:"stale"`
	Timestamp int64                    `json:"timestamp"`
}

func newInitEvent(live *store.LiveStore, refStore *refdata.Store) (hub.Event, error) {
	vehicles, stale, at := live.Vehicles()

	payload := InitPayload{
		Vehicles:  vehicles,
		Stale:     stale,
		Timestamp: at.UnixMilli(),
	}
	if snap := refStore.Active(); snap != nil {
		route := buildRouteResponse(snap)
		payload.Route = &route
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return hub.Event{}, err
	}
	return hub.Event{Name: hub.EventInit, Data: data}, nil
}
