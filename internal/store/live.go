package store

import (
	"sync"
	"time"

	"ovbus/internal/domain"
)

// LiveStore holds the last-good result of each feed together with its
// staleness flag. A failed poll never clears data, it only flips the
// feed to stale; readers always get the most recent successful result.
type LiveStore struct {
	mu sync.RWMutex

	vehicles      []domain.VehiclePosition
	vehiclesAt    time.Time
	vehiclesStale bool

	predictions      []domain.TripPrediction
	predictionsAt    time.Time
	predictionsStale bool

	departures      map[string][]domain.ScheduledDeparture
	departuresAt    time.Time
	departuresStale bool
}

func NewLiveStore() *LiveStore {
	return &LiveStore{
		departures: make(map[string][]domain.ScheduledDeparture),
	}
}

func (s *LiveStore) SetVehicles(vehicles []domain.VehiclePosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles = vehicles
	s.vehiclesAt = time.Now()
	s.vehiclesStale = false
}

func (s *LiveStore) MarkVehiclesStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehiclesStale = true
}

func (s *LiveStore) Vehicles() ([]domain.VehiclePosition, bool, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.VehiclePosition, len(s.vehicles))
	copy(result, s.vehicles)
	return result, s.vehiclesStale, s.vehiclesAt
}

func (s *LiveStore) SetPredictions(predictions []domain.TripPrediction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictions = predictions
	s.predictionsAt = time.Now()
	s.predictionsStale = false
}

func (s *LiveStore) MarkPredictionsStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictionsStale = true
}

func (s *LiveStore) Predictions() ([]domain.TripPrediction, bool, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.TripPrediction, len(s.predictions))
	for i, p := range s.predictions {
		stops := make([]domain.StopPrediction, len(p.Stops))
		copy(stops, p.Stops)
		p.Stops = stops
		result[i] = p
	}
	return result, s.predictionsStale, s.predictionsAt
}

func (s *LiveStore) SetDepartures(tpc string, departures []domain.ScheduledDeparture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.departures[tpc] = departures
	s.departuresAt = time.Now()
	s.departuresStale = false
}

func (s *LiveStore) MarkDeparturesStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.departuresStale = true
}

func (s *LiveStore) Departures(tpc string) ([]domain.ScheduledDeparture, bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	departures, ok := s.departures[tpc]
	if !ok {
		return nil, false, s.departuresStale
	}
	result := make([]domain.ScheduledDeparture, len(departures))
	copy(result, departures)
	return result, true, s.departuresStale
}

// Stale reports whether any feed is currently serving last-good data
// older than its freshness target.
func (s *LiveStore) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vehiclesStale || s.predictionsStale || s.departuresStale
}

// Status summarizes feed freshness for the status endpoint.
type Status struct {
	VehicleCount     int       `json:"vehicleCount"`
	VehiclesAt       time.Time `json:"vehiclesAt"`
	VehiclesStale    bool      `json:"vehiclesStale"`
	PredictionCount  int       `json:"predictionCount"`
	PredictionsAt    time.Time `json:"predictionsAt"`
	PredictionsStale bool      `json:"predictionsStale"`
	DeparturesAt     time.Time `json:"departuresAt"`
	DeparturesStale  bool      `json:"departuresStale"`
}

func (s *LiveStore) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		VehicleCount:     len(s.vehicles),
		VehiclesAt:       s.vehiclesAt,
		VehiclesStale:    s.vehiclesStale,
		PredictionCount:  len(s.predictions),
		PredictionsAt:    s.predictionsAt,
		PredictionsStale: s.predictionsStale,
		DeparturesAt:     s.departuresAt,
		DeparturesStale:  s.departuresStale,
	}
}
