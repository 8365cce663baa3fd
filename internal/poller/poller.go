package poller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"ovbus/internal/domain"
	"ovbus/internal/hub"
	"ovbus/internal/metrics"
	"ovbus/internal/refdata"
	"ovbus/internal/store"
	"ovbus/pkg/gtfsrt"
	"ovbus/pkg/ovapi"
)

const (
	FeedVehicles    = "vehicles"
	FeedTripUpdates = "trip_updates"
	FeedDepartures  = "departures"
)

// Options carries the per-feed cadence settings.
type Options struct {
	VehicleInterval    time.Duration
	TripUpdateInterval time.Duration
	DepartureInterval  time.Duration
	MaxBackoff         time.Duration
	DepartedGrace      time.Duration
	DefaultTPC         string
}

// Poller drives the three upstream feeds. Each feed runs its own loop
// on its own cadence; a loop reschedules itself only after its poll
// finishes, so a slow upstream stretches the cycle instead of stacking
// overlapping requests.
type Poller struct {
	opts     Options
	ovapi    *ovapi.Client
	gtfsrt   *gtfsrt.Client
	refStore *refdata.Store
	live     *store.LiveStore
	hub      *hub.Hub
	detector *Detector
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// Written only from the vehicle loop.
	lastFingerprint string
}

func New(opts Options, ovapiClient *ovapi.Client, gtfsrtClient *gtfsrt.Client, refStore *refdata.Store, live *store.LiveStore, h *hub.Hub, detector *Detector, m *metrics.Metrics, logger *slog.Logger) *Poller {
	return &Poller{
		opts:     opts,
		ovapi:    ovapiClient,
		gtfsrt:   gtfsrtClient,
		refStore: refStore,
		live:     live,
		hub:      h,
		detector: detector,
		metrics:  m,
		logger:   logger.With("component", "poller"),
	}
}

// Run starts all three feed loops and blocks until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	done := make(chan struct{}, 3)

	go func() {
		p.runLoop(ctx, FeedVehicles, p.opts.VehicleInterval, p.pollVehicles)
		done <- struct{}{}
	}()
	go func() {
		p.runLoop(ctx, FeedTripUpdates, p.opts.TripUpdateInterval, p.pollTripUpdates)
		done <- struct{}{}
	}()
	go func() {
		p.runLoop(ctx, FeedDepartures, p.opts.DepartureInterval, p.pollDepartures)
		done <- struct{}{}
	}()

	for i := 0; i < 3; i++ {
		<-done
	}
}

// runLoop polls immediately, then keeps rescheduling. Every failure
// doubles the next delay up to the ceiling; one success snaps it back
// to the base interval.
func (p *Poller) runLoop(ctx context.Context, feed string, base time.Duration, poll func(context.Context) error) {
	interval := base
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := poll(ctx); err != nil {
			p.metrics.Polls.WithLabelValues(feed, "error").Inc()
			interval *= 2
			if interval > p.opts.MaxBackoff {
				interval = p.opts.MaxBackoff
			}
			p.logger.Warn("poll failed", "feed", feed, "error", err, "retry_in", interval.String())
		} else {
			p.metrics.Polls.WithLabelValues(feed, "ok").Inc()
			interval = base
		}
		p.metrics.PollBackoff.WithLabelValues(feed).Set(interval.Seconds())

		timer.Reset(interval)
	}
}

func (p *Poller) pollVehicles(ctx context.Context) error {
	vehicles, err := p.gtfsrt.FetchVehicles(ctx, p.refStore.Active())
	if err != nil {
		p.live.MarkVehiclesStale()
		return err
	}

	p.live.SetVehicles(vehicles)
	p.detector.Observe(len(vehicles))
	p.metrics.ZeroStreak.Set(float64(p.detector.Streak()))

	fp := fingerprint(vehicles)
	if fp == p.lastFingerprint {
		p.metrics.SuppressedPush.Inc()
		return nil
	}
	p.lastFingerprint = fp

	event, err := hub.NewVehiclesEvent(hub.EventVehicles, vehicles, false, time.Now())
	if err != nil {
		return err
	}
	p.hub.Publish(event)
	p.metrics.Pushes.Inc()
	return nil
}

func (p *Poller) pollTripUpdates(ctx context.Context) error {
	predictions, err := p.gtfsrt.FetchTripUpdates(ctx, p.refStore.Active())
	if err != nil {
		p.live.MarkPredictionsStale()
		return err
	}

	now := time.Now()
	for i := range predictions {
		predictions[i].MarkDeparted(now, p.opts.DepartedGrace)
	}

	p.live.SetPredictions(predictions)
	return nil
}

func (p *Poller) pollDepartures(ctx context.Context) error {
	departures, err := p.ovapi.FetchDepartures(ctx, p.opts.DefaultTPC)
	if err != nil {
		p.live.MarkDeparturesStale()
		return err
	}

	p.live.SetDepartures(p.opts.DefaultTPC, departures)
	return nil
}

// fingerprint reduces a vehicle snapshot to a stable hash so unchanged
// polls do not push redundant events to live clients. Order of the
// input slice does not matter.
func fingerprint(vehicles []domain.VehiclePosition) string {
	lines := make([]string, 0, len(vehicles))
	for _, v := range vehicles {
		lines = append(lines, fmt.Sprintf("%s|%.6f|%.6f|%d|%s", v.VehicleID, v.Lat, v.Lon, v.DelaySeconds, v.Status))
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
