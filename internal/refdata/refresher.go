package refdata

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"ovbus/internal/metrics"
	"ovbus/pkg/gtfs"
)

// Refresher derives new reference snapshots from the upstream static
// bundle and installs them. At most one refresh runs at a time; a
// trigger arriving while one is in flight is dropped, not queued.
type Refresher struct {
	downloader *gtfs.Downloader
	parser     *gtfs.Parser
	store      *Store
	dir        string
	metrics    *metrics.Metrics
	logger     *slog.Logger

	running atomic.Bool
}

func NewRefresher(downloader *gtfs.Downloader, parser *gtfs.Parser, store *Store, dir string, m *metrics.Metrics, logger *slog.Logger) *Refresher {
	return &Refresher{
		downloader: downloader,
		parser:     parser,
		store:      store,
		dir:        dir,
		metrics:    m,
		logger:     logger.With("component", "refresher"),
	}
}

// Bootstrap warm-starts from the persisted snapshot when one exists,
// otherwise performs a full refresh. Requests arriving before the cold
// refresh completes see an empty topology, never an error.
func (r *Refresher) Bootstrap(ctx context.Context) {
	if snap, err := LoadSnapshot(r.dir); err == nil {
		r.store.Install(snap)
		r.logger.Info("loaded persisted reference snapshot",
			"extracted_at", snap.ExtractedAt,
			"version_token", snap.VersionToken,
			"trips", len(snap.TripIDs),
		)
		return
	}

	if _, err := r.TryRefresh(ctx, "cold_start"); err != nil {
		r.logger.Error("cold-start refresh failed", "error", err)
	}
}

// TryRefresh runs one refresh unless another is already in flight, in
// which case the trigger is logged and dropped. Returns whether a new
// snapshot was installed. Invoking it again with an unchanged upstream
// version is a no-op.
func (r *Refresher) TryRefresh(ctx context.Context, reason string) (bool, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Info("refresh already in flight, dropping trigger", "reason", reason)
		return false, nil
	}
	defer r.running.Store(false)

	return r.refresh(ctx, reason)
}

// VersionChanged compares the upstream bundle's version token against
// the active snapshot's without downloading the bundle.
func (r *Refresher) VersionChanged(ctx context.Context) (bool, error) {
	active := r.store.Active()
	if active == nil {
		return true, nil
	}

	version, err := r.downloader.Head(ctx)
	if err != nil {
		return false, err
	}

	return version.Token() != active.VersionToken, nil
}

// RunVersionCheck periodically probes the upstream version and
// refreshes on mismatch. This metadata-only path catches identifier
// rotations the zero-vehicle heuristic can miss during quiet hours.
func (r *Refresher) RunVersionCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := r.VersionChanged(ctx)
			if err != nil {
				r.logger.Warn("version check failed", "error", err)
				continue
			}
			if !changed {
				r.logger.Debug("upstream bundle version unchanged")
				continue
			}
			if _, err := r.TryRefresh(ctx, "version_mismatch"); err != nil {
				r.logger.Error("refresh after version mismatch failed", "error", err)
			}
		}
	}
}

func (r *Refresher) refresh(ctx context.Context, reason string) (bool, error) {
	start := time.Now()
	r.logger.Info("starting reference refresh", "reason", reason)
	if r.metrics != nil {
		r.metrics.Refreshes.WithLabelValues(reason).Inc()
	}

	active := r.store.Active()
	if active != nil {
		version, err := r.downloader.Head(ctx)
		if err != nil {
			r.logger.Warn("version probe failed, downloading anyway", "error", err)
		} else if version.Token() == active.VersionToken {
			r.logger.Info("upstream bundle unchanged, skipping refresh",
				"version_token", active.VersionToken,
			)
			return false, nil
		}
	}

	reader, version, err := r.downloader.Download(ctx)
	if err != nil {
		return false, err
	}

	snap, err := r.parser.Parse(reader)
	if err != nil {
		return false, err
	}

	snap.ExtractedAt = time.Now()
	snap.VersionToken = version.Token()
	snap.ModifiedAt = version.LastModified

	if path, err := SaveSnapshot(r.dir, snap); err != nil {
		r.logger.Warn("failed to persist snapshot", "error", err)
	} else {
		r.logger.Debug("persisted snapshot", "path", path)
	}

	r.store.Install(snap)

	r.logger.Info("reference refresh completed",
		"reason", reason,
		"version_token", snap.VersionToken,
		"trips", len(snap.TripIDs),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return true, nil
}
