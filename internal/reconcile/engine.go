package reconcile

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"ovbus/internal/domain"
	"ovbus/internal/refdata"
)

// Engine merges scheduled departures from the per-stop API with the
// realtime trip predictions. It never fails: any lookup miss degrades
// the affected departures to scheduled-only data.
type Engine struct {
	refdata      *refdata.Store
	loc          *time.Location
	tolerance    time.Duration
	destinations map[domain.Direction]string
	logger       *slog.Logger
}

func NewEngine(ref *refdata.Store, loc *time.Location, tolerance time.Duration, dest1, dest2 string, logger *slog.Logger) *Engine {
	return &Engine{
		refdata:   ref,
		loc:       loc,
		tolerance: tolerance,
		destinations: map[domain.Direction]string{
			domain.Direction1: dest1,
			domain.Direction2: dest2,
		},
		logger: logger.With("component", "reconcile"),
	}
}

// candidate is one pending realtime prediction at the queried stop.
type candidate struct {
	tripID  string
	arrival int64
	delay   int
}

// Merge reconciles one stop's scheduled departures in one direction
// with the current trip predictions.
//
// Each prediction's implied scheduled time (predicted arrival minus
// predicted delay) is compared against every scheduled departure;
// pairs closer than the tolerance window are matched closest-first and
// a prediction is claimed by at most one departure. Matched departures
// take the realtime expected time and delay. Predictions left
// unclaimed represent buses still underway for departures the
// schedule API has already expired, and are synthesized as extra
// entries with journey number 0.
func (e *Engine) Merge(departures []domain.ScheduledDeparture, predictions []domain.TripPrediction, dir domain.Direction, walkMinutes int) []domain.MergedDeparture {
	scheduled := make([]domain.ScheduledDeparture, 0, len(departures))
	for _, d := range departures {
		if d.Direction == dir {
			scheduled = append(scheduled, d)
		}
	}

	// Both directions share the timing point, so any departure at it
	// carries the stop identity. This keeps synthesis working when the
	// near-term schedule window is empty for the requested direction.
	var stopName, tpc string
	var lat, lon float64
	if len(departures) > 0 {
		stopName = departures[0].StopName
		tpc = departures[0].TimingPointCode
		lat = departures[0].Lat
		lon = departures[0].Lon
	}

	cands := e.candidatesAt(predictions, dir, stopName)

	type pair struct {
		di, ci int
		diff   time.Duration
	}
	var pairs []pair

	for di, d := range scheduled {
		schedT, err := time.Parse(domain.TimeLayout, d.ScheduledTime)
		if err != nil {
			continue
		}
		for ci, c := range cands {
			implied := e.wallClock(c.arrival - int64(c.delay))
			diff := implied.Sub(schedT)
			if diff < 0 {
				diff = -diff
			}
			if diff < e.tolerance {
				pairs = append(pairs, pair{di: di, ci: ci, diff: diff})
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].diff < pairs[j].diff
	})

	depMatch := make(map[int]int, len(scheduled))
	claimed := make(map[int]bool, len(cands))
	for _, pr := range pairs {
		if claimed[pr.ci] {
			continue
		}
		if _, done := depMatch[pr.di]; done {
			continue
		}
		depMatch[pr.di] = pr.ci
		claimed[pr.ci] = true
	}

	merged := make([]domain.MergedDeparture, 0, len(scheduled)+len(cands))
	for di, d := range scheduled {
		m := domain.MergedDeparture{
			ScheduledDeparture: d,
			Source:             domain.SourceScheduled,
		}
		if ci, ok := depMatch[di]; ok {
			c := cands[ci]
			m.ExpectedTime = e.wallClock(c.arrival).Format(domain.TimeLayout)
			m.DelayMinutes = roundedMinutes(c.delay)
			m.IsDelayed = m.DelayMinutes >= 1
			m.Source = domain.SourceRealtime
		}
		merged = append(merged, m)
	}

	for ci, c := range cands {
		if claimed[ci] {
			continue
		}
		delayMin := roundedMinutes(c.delay)
		merged = append(merged, domain.MergedDeparture{
			ScheduledDeparture: domain.ScheduledDeparture{
				TimingPointCode: tpc,
				StopName:        stopName,
				Lat:             lat,
				Lon:             lon,
				JourneyNumber:   0,
				Direction:       dir,
				Destination:     e.destinations[dir],
				ScheduledTime:   e.wallClock(c.arrival - int64(c.delay)).Format(domain.TimeLayout),
				ExpectedTime:    e.wallClock(c.arrival).Format(domain.TimeLayout),
				Status:          "DRIVING",
				DelayMinutes:    delayMin,
				IsDelayed:       delayMin >= 1,
			},
			Source: domain.SourceRealtime,
		})
	}

	// Synthesized entries append out of order; the layout sorts
	// lexicographically so string order is time order.
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ExpectedTime < merged[j].ExpectedTime
	})

	if walkMinutes > 0 {
		walk := time.Duration(walkMinutes) * time.Minute
		for i := range merged {
			t, err := time.Parse(domain.TimeLayout, merged[i].ExpectedTime)
			if err != nil {
				continue
			}
			merged[i].LeaveBy = t.Add(-walk).Format(domain.TimeLayout)
		}
	}

	return merged
}

// candidatesAt collects the pending predictions for the stop, resolved
// through the name bridge. A failed resolution yields no candidates
// and the merge stays scheduled-only.
func (e *Engine) candidatesAt(predictions []domain.TripPrediction, dir domain.Direction, stopName string) []candidate {
	if stopName == "" {
		return nil
	}
	stopID, ok := e.refdata.ResolveStopID(dir, stopName)
	if !ok {
		e.logger.Debug("no bridge entry for stop", "direction", int(dir), "stop_name", stopName)
		return nil
	}

	var cands []candidate
	for i := range predictions {
		p := &predictions[i]
		if p.Direction == nil || *p.Direction != dir {
			continue
		}
		for j := range p.Stops {
			sp := &p.Stops[j]
			if sp.StopID != stopID || sp.Departed {
				continue
			}
			switch {
			case sp.ArrivalTime != nil:
				cands = append(cands, candidate{tripID: p.TripID, arrival: *sp.ArrivalTime, delay: sp.ArrivalDelay})
			case sp.DepartureTime != nil:
				cands = append(cands, candidate{tripID: p.TripID, arrival: *sp.DepartureTime, delay: sp.DepartureDelay})
			}
		}
	}
	return cands
}

// wallClock converts a feed unix timestamp to the route's local wall
// time, carrying no zone so it compares and formats exactly like the
// naive strings from the departures API.
func (e *Engine) wallClock(unix int64) time.Time {
	t := time.Unix(unix, 0).In(e.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func roundedMinutes(seconds int) int {
	return int(math.Round(float64(seconds) / 60.0))
}
