package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ovbus/internal/cache"
	"ovbus/internal/domain"
	"ovbus/internal/reconcile"
	"ovbus/internal/store"
	"ovbus/pkg/ovapi"
)

type DeparturesHandler struct {
	live     *store.LiveStore
	engine   *reconcile.Engine
	ovapi    *ovapi.Client
	cache    *cache.RedisCache // nil when caching is disabled
	cacheTTL time.Duration

	defaultTPC       string
	defaultDirection domain.Direction
	logger           *slog.Logger
}

func NewDeparturesHandler(live *store.LiveStore, engine *reconcile.Engine, ovapiClient *ovapi.Client, redisCache *cache.RedisCache, cacheTTL time.Duration, defaultTPC string, defaultDirection domain.Direction, logger *slog.Logger) *DeparturesHandler {
	return &DeparturesHandler{
		live:             live,
		engine:           engine,
		ovapi:            ovapiClient,
		cache:            redisCache,
		cacheTTL:         cacheTTL,
		defaultTPC:       defaultTPC,
		defaultDirection: defaultDirection,
		logger:           logger,
	}
}

type DeparturesResponse struct {
	Departures []domain.MergedDeparture `json:"departures"`
	Stale      bool                     `json:"stale"`
	Timestamp  int64                    `json:"timestamp"`
}

// ListDepartures serves the merged departure board for one stop and
// direction. The default stop reads from the in-memory last-good data;
// any other stop triggers a direct upstream fetch, optionally cached.
func (h *DeparturesHandler) ListDepartures(w http.ResponseWriter, r *http.Request) {
	dir := h.defaultDirection
	if dirStr := r.URL.Query().Get("direction"); dirStr != "" {
		d, err := strconv.Atoi(dirStr)
		if err != nil || !domain.Direction(d).Valid() {
			respondError(w, http.StatusBadRequest, "invalid direction parameter: must be 1 or 2")
			return
		}
		dir = domain.Direction(d)
	}

	walk := 0
	if walkStr := r.URL.Query().Get("walk"); walkStr != "" {
		wk, err := strconv.Atoi(walkStr)
		if err != nil || wk < 0 {
			respondError(w, http.StatusBadRequest, "invalid walk parameter: must be a non-negative number of minutes")
			return
		}
		walk = wk
	}

	tpc := r.URL.Query().Get("tpc")
	if tpc == "" {
		tpc = h.defaultTPC
	}

	var departures []domain.ScheduledDeparture
	var stale bool

	if tpc == h.defaultTPC {
		deps, ok, depStale := h.live.Departures(tpc)
		if ok {
			departures = deps
			stale = depStale
		} else {
			// Cold start: the poller has not completed its first
			// cycle yet, fall through to a direct fetch.
			deps, err := h.ovapi.FetchDepartures(r.Context(), tpc)
			if err != nil {
				h.logger.Error("cold-start departures fetch failed", "tpc", tpc, "error", err)
				respondError(w, http.StatusBadGateway, "departures upstream unavailable")
				return
			}
			departures = deps
		}
	} else {
		deps, err := h.fetchCached(r, tpc)
		if err != nil {
			h.logger.Error("departures fetch failed", "tpc", tpc, "error", err)
			respondError(w, http.StatusBadGateway, "departures upstream unavailable")
			return
		}
		departures = deps
	}

	predictions, predStale, _ := h.live.Predictions()
	merged := h.engine.Merge(departures, predictions, dir, walk)

	respondJSON(w, http.StatusOK, DeparturesResponse{
		Departures: merged,
		Stale:      stale || predStale,
		Timestamp:  time.Now().UnixMilli(),
	})
}

// fetchCached serves non-default stops, consulting the shared cache
// when one is configured. Cache errors degrade to a direct fetch.
func (h *DeparturesHandler) fetchCached(r *http.Request, tpc string) ([]domain.ScheduledDeparture, error) {
	ctx := r.Context()
	key := cache.DeparturesKey(tpc)

	if h.cache != nil {
		var cached []domain.ScheduledDeparture
		if hit, err := h.cache.GetJSON(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	deps, err := h.ovapi.FetchDepartures(ctx, tpc)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.SetJSON(ctx, key, deps, h.cacheTTL); err != nil {
			h.logger.Warn("failed to cache departures", "tpc", tpc, "error", err)
		}
	}

	return deps, nil
}
