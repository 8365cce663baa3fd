package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"ovbus/internal/hub"
	"ovbus/internal/metrics"
	"ovbus/internal/refdata"
	"ovbus/internal/store"
)

// SSEHandler streams vehicle snapshots over Server-Sent Events. The
// browser-native EventSource reconnect makes this the primary live
// transport; the WebSocket endpoint exists for clients that need
// bidirectional framing.
type SSEHandler struct {
	hub       *hub.Hub
	live      *store.LiveStore
	refStore  *refdata.Store
	metrics   *metrics.Metrics
	heartbeat time.Duration
	logger    *slog.Logger
}

func NewSSEHandler(h *hub.Hub, live *store.LiveStore, refStore *refdata.Store, m *metrics.Metrics, heartbeat time.Duration, logger *slog.Logger) *SSEHandler {
	return &SSEHandler{
		hub:       h,
		live:      live,
		refStore:  refStore,
		metrics:   m,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

func (h *SSEHandler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	client := hub.NewClient(uuid.New().String(), 64)
	h.hub.Register(client)
	h.metrics.LiveClients.Inc()
	defer func() {
		h.hub.Unregister(client)
		h.metrics.LiveClients.Dec()
	}()

	if err := h.writeInit(w, flusher); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, ok := <-client.Send:
			if !ok {
				return
			}
			if err := writeEvent(w, flusher, event); err != nil {
				h.logger.Debug("sse write failed", "client_id", client.ID, "error", err)
				return
			}

		case <-ticker.C:
			// Comment-only frame, keeps proxies from cutting the
			// connection without waking client-side listeners.
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *SSEHandler) writeInit(w http.ResponseWriter, flusher http.Flusher) error {
	event, err := newInitEvent(h.live, h.refStore)
	if err != nil {
		return err
	}
	return writeEvent(w, flusher, event)
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event hub.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
