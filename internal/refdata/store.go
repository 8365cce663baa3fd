package refdata

import (
	"strings"
	"sync/atomic"

	"ovbus/internal/domain"
)

// Store holds the active reference snapshot. Replacement is a single
// pointer swap: readers never lock and never observe a partially
// written snapshot. The superseded snapshot stays valid for readers
// still holding it and is collected once the last one lets go.
type Store struct {
	snap   atomic.Pointer[domain.ReferenceSnapshot]
	bridge atomic.Pointer[nameBridge]
}

func NewStore() *Store {
	return &Store{}
}

// Active returns the current snapshot, or nil before the first load.
func (s *Store) Active() *domain.ReferenceSnapshot {
	return s.snap.Load()
}

// Install makes snap the active snapshot and drops the name bridge
// derived from its predecessor.
func (s *Store) Install(snap *domain.ReferenceSnapshot) {
	s.snap.Store(snap)
	s.bridge.Store(nil)
}

type bridgeKey struct {
	dir  domain.Direction
	name string
}

// nameBridge maps (direction, stop name) to the snapshot's stop ID.
// The departures API and the GTFS bundle use unrelated identifier
// schemes; the human-readable stop name is the only shared key.
type nameBridge struct {
	snap   *domain.ReferenceSnapshot
	byName map[bridgeKey]string
}

// ResolveStopID bridges a departures-API stop to the snapshot's stop
// ID. The bridge is built lazily on first use after a snapshot swap;
// concurrent rebuilds may race, which is harmless because the build is
// a pure function of the snapshot.
func (s *Store) ResolveStopID(dir domain.Direction, name string) (string, bool) {
	snap := s.snap.Load()
	if snap == nil {
		return "", false
	}

	b := s.bridge.Load()
	if b == nil || b.snap != snap {
		b = buildBridge(snap)
		s.bridge.Store(b)
	}

	id, ok := b.byName[bridgeKey{dir: dir, name: normalizeName(name)}]
	return id, ok
}

func buildBridge(snap *domain.ReferenceSnapshot) *nameBridge {
	b := &nameBridge{
		snap:   snap,
		byName: make(map[bridgeKey]string),
	}
	for dir, stops := range snap.StopsByDirection {
		for _, stop := range stops {
			key := bridgeKey{dir: dir, name: normalizeName(stop.Name)}
			if _, exists := b.byName[key]; !exists {
				b.byName[key] = stop.ID
			}
		}
	}
	return b
}

// normalizeName smooths over casing and whitespace differences between
// the two upstreams. A renamed stop in either upstream still breaks the
// bridge for that stop and silently degrades it to scheduled-only data.
func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
