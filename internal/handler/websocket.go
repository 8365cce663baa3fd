package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"ovbus/internal/hub"
	"ovbus/internal/metrics"
	"ovbus/internal/refdata"
	"ovbus/internal/store"
)

type WSHandler struct {
	hub      *hub.Hub
	live     *store.LiveStore
	refStore *refdata.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewWSHandler(h *hub.Hub, live *store.LiveStore, refStore *refdata.Store, m *metrics.Metrics, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: h, live: live, refStore: refStore, metrics: m, logger: logger}
}

// WSMessage is the envelope for both directions: hub events go out as
// {type, payload}, and the only inbound message is {"type":"ping"}.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	client := hub.NewClient(uuid.New().String(), 64)
	h.hub.Register(client)
	h.metrics.LiveClients.Inc()
	defer h.metrics.LiveClients.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.sendInit(client)

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		if msg.Type == "ping" {
			h.send(client, hub.Event{Name: "pong", Data: []byte("{}")})
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-client.Send:
			if !ok {
				return
			}
			data, err := json.Marshal(WSMessage{Type: event.Name, Payload: event.Data})
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) sendInit(client *hub.Client) {
	event, err := newInitEvent(h.live, h.refStore)
	if err != nil {
		return
	}
	h.send(client, event)
}

func (h *WSHandler) send(client *hub.Client, event hub.Event) {
	select {
	case client.Send <- event:
	default:
		h.logger.Debug("client send buffer full", "client_id", client.ID)
	}
}
