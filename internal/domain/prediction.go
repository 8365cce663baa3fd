package domain

import "time"

// StopPrediction is one per-stop entry of a trip update. Times are unix
// seconds; a nil time means the feed gave no prediction for that event.
type StopPrediction struct {
	StopID   string `json:"stopId"`
	Sequence int    `json:"sequence"`

	ArrivalTime  *int64 `json:"arrivalTime,omitempty"`
	ArrivalDelay int    `json:"arrivalDelay"`

	DepartureTime  *int64 `json:"departureTime,omitempty"`
	DepartureDelay int    `json:"departureDelay"`

	// Departed is derived per poll cycle, see TripPrediction.MarkDeparted.
	Departed bool `json:"departed"`
}

// BestTime returns the departure time if predicted, otherwise the
// arrival time, otherwise nil.
func (p *StopPrediction) BestTime() *int64 {
	if p.DepartureTime != nil {
		return p.DepartureTime
	}
	return p.ArrivalTime
}

// TripPrediction holds the per-stop predictions of one trip, ordered by
// stop sequence. Sequence values order the stops but are not required
// to be contiguous.
type TripPrediction struct {
	TripID    string           `json:"tripId"`
	RouteID   string           `json:"routeId"`
	Direction *Direction       `json:"direction,omitempty"`
	Stops     []StopPrediction `json:"stops"`
}

// MarkDeparted flags every stop before the first stop whose predicted
// time is still pending. A time within the grace window behind now
// still counts as pending, so a vehicle dwelling at a stop does not
// flip that stop to departed early. When no stop is pending the whole
// trip is marked departed. Derived fresh on every poll, never carried
// between cycles.
func (t *TripPrediction) MarkDeparted(now time.Time, grace time.Duration) {
	cutoff := now.Add(-grace).Unix()

	firstPending := -1
	for i := range t.Stops {
		ts := t.Stops[i].BestTime()
		if ts != nil && *ts > cutoff {
			firstPending = i
			break
		}
	}

	for i := range t.Stops {
		if firstPending == -1 {
			t.Stops[i].Departed = true
		} else {
			t.Stops[i].Departed = i < firstPending
		}
	}
}
