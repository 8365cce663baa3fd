package domain

// VehicleStatus mirrors the GTFS-Realtime vehicle stop status values.
type VehicleStatus string

const (
	StatusApproaching VehicleStatus = "approaching"
	StatusStoppedAt   VehicleStatus = "stopped_at"
	StatusInTransit   VehicleStatus = "in_transit"
)

// VehiclePosition is one vehicle's state for a single poll cycle. The
// whole set is replaced on every successful poll; no history is kept.
type VehiclePosition struct {
	VehicleID string `json:"vehicleId"`
	TripID    string `json:"tripId"`
	RouteID   string `json:"routeId"`

	// Direction is nil when the feed omits direction_id and the trip is
	// not present in the active reference snapshot. 0 is a valid GTFS
	// direction, so absence must never be coerced to a zero value.
	Direction *Direction `json:"direction,omitempty"`

	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`

	// DelaySeconds is signed; positive means late. Zero when the feed's
	// vendor delay extension is absent.
	DelaySeconds int           `json:"delaySeconds"`
	Status       VehicleStatus `json:"status"`

	// StopID is the nearest or next stop reported by the feed.
	StopID string `json:"stopId"`

	// Timestamp is the feed observation time in unix seconds.
	Timestamp int64 `json:"timestamp"`
}
