package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"ovbus/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func runHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	return h, cancel
}

func waitForClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for h.ClientCount() != want {
		select {
		case <-deadline:
			t.Fatalf("client count = %d, want %d", h.ClientCount(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHubFanout(t *testing.T) {
	h, cancel := runHub(t)
	defer cancel()

	c1 := NewClient("c1", 8)
	c2 := NewClient("c2", 8)
	h.Register(c1)
	h.Register(c2)
	waitForClients(t, h, 2)

	h.Publish(Event{Name: EventVehicles, Data: []byte(`{"vehicles":[]}`)})

	for _, c := range []*Client{c1, c2} {
		select {
		case event := <-c.Send:
			if event.Name != EventVehicles {
				t.Errorf("client %s got event %q, want %q", c.ID, event.Name, EventVehicles)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("client %s never received the event", c.ID)
		}
	}
}

func TestHubUnregisterClosesSend(t *testing.T) {
	h, cancel := runHub(t)
	defer cancel()

	c := NewClient("c1", 8)
	h.Register(c)
	waitForClients(t, h, 1)

	h.Unregister(c)
	waitForClients(t, h, 0)

	select {
	case _, ok := <-c.Send:
		if ok {
			t.Error("expected closed send channel after unregister")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed after unregister")
	}
}

func TestHubPublishDropsWhenFull(t *testing.T) {
	// Not running: the broadcast channel fills and Publish must not block.
	h := NewHub(testLogger)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Publish(Event{Name: EventVehicles, Data: []byte("x")})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full broadcast channel")
	}
}

func TestHubPublishIgnoresEmptyEvents(t *testing.T) {
	h, cancel := runHub(t)
	defer cancel()

	c := NewClient("c1", 8)
	h.Register(c)
	waitForClients(t, h, 1)

	h.Publish(Event{Name: EventVehicles})

	select {
	case <-c.Send:
		t.Error("empty event should not be delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	h, cancel := runHub(t)

	c := NewClient("c1", 8)
	h.Register(c)
	waitForClients(t, h, 1)

	cancel()

	select {
	case _, ok := <-c.Send:
		if ok {
			t.Error("expected closed send channel after shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed after shutdown")
	}
}

func TestNewVehiclesEvent(t *testing.T) {
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	event, err := NewVehiclesEvent(EventVehicles, []domain.VehiclePosition{{VehicleID: "bus-1"}}, true, at)
	if err != nil {
		t.Fatalf("NewVehiclesEvent: %v", err)
	}
	if event.Name != EventVehicles {
		t.Errorf("name = %q, want %q", event.Name, EventVehicles)
	}

	var payload VehiclesPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.Vehicles) != 1 || payload.Vehicles[0].VehicleID != "bus-1" {
		t.Errorf("payload vehicles = %+v", payload.Vehicles)
	}
	if !payload.Stale {
		t.Error("stale flag lost")
	}
	if payload.Timestamp != at.UnixMilli() {
		t.Errorf("timestamp = %d, want unix milliseconds %d", payload.Timestamp, at.UnixMilli())
	}
}
