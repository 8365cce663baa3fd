package domain

import "time"

// StopInfo is one stop of the line in one direction, in travel order.
type StopInfo struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Sequence int     `json:"sequence"`
}

// ShapePoint is one point of a route shape polyline.
type ShapePoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ReferenceSnapshot is the static topology of the line derived from one
// version of the upstream GTFS bundle: known identifier sets, per-trip
// mappings and per-direction stop sequences.
//
// A snapshot is immutable once built. Exactly one snapshot is active at
// a time; it is replaced wholesale by a single pointer swap so readers
// never see a half-updated mix of old and new fields.
type ReferenceSnapshot struct {
	ExtractedAt time.Time `json:"extractedAt"`

	// VersionToken and ModifiedAt identify the upstream bundle version
	// this snapshot was derived from (ETag and Last-Modified of the
	// bundle). Used to detect upstream rotation without a download.
	VersionToken string `json:"versionToken"`
	ModifiedAt   string `json:"modifiedAt"`

	RouteIDs map[string]struct{} `json:"routeIds"`
	TripIDs  map[string]struct{} `json:"tripIds"`

	TripDirection map[string]Direction `json:"tripDirection"`
	TripShape     map[string]string    `json:"tripShape"`

	Shapes map[string][]ShapePoint `json:"shapes"`

	// DirectionShape is the representative shape per direction, taken
	// from the trip that also provided the direction's stop sequence.
	DirectionShape map[Direction]string `json:"directionShape"`

	StopsByDirection map[Direction][]StopInfo `json:"stopsByDirection"`
}

func (s *ReferenceSnapshot) KnownRoute(id string) bool {
	_, ok := s.RouteIDs[id]
	return ok
}

func (s *ReferenceSnapshot) KnownTrip(id string) bool {
	_, ok := s.TripIDs[id]
	return ok
}

// DirectionOf resolves a trip's direction, for feed entities that omit
// direction_id.
func (s *ReferenceSnapshot) DirectionOf(tripID string) (Direction, bool) {
	d, ok := s.TripDirection[tripID]
	return d, ok
}
