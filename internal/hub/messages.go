package hub

import (
	"encoding/json"
	"time"

	"ovbus/internal/domain"
)

const (
	// EventInit is sent once per live connection, right after it is
	// established, so a client renders without waiting for the next push.
	EventInit = "init"
	// EventVehicles carries a full vehicle snapshot after a change.
	EventVehicles = "vehicles"
)

// VehiclesPayload is the wire form of a vehicle snapshot push. Timestamps
// on the wire are unix milliseconds.
type VehiclesPayload struct {
	Vehicles  []domain.VehiclePosition `json:"vehicles"`
	Stale     bool                     `json:"stale"`
	Timestamp int64                    `json:"timestamp"`
}

func NewVehiclesEvent(name string, vehicles []domain.VehiclePosition, stale bool, at time.Time) (Event, error) {
	data, err := json.Marshal(VehiclesPayload{
		Vehicles:  vehicles,
		Stale:     stale,
		Timestamp: at.UnixMilli(),
	})
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: data}, nil
}
