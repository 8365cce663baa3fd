package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ovbus/internal/domain"
	"ovbus/internal/hub"
	"ovbus/internal/metrics"
	"ovbus/internal/reconcile"
	"ovbus/internal/refdata"
	"ovbus/internal/store"
	"ovbus/pkg/ovapi"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const defaultTPC = "31000495"

func installedRefStore() *refdata.Store {
	ref := refdata.NewStore()
	ref.Install(&domain.ReferenceSnapshot{
		VersionToken: `"v1"`,
		ExtractedAt:  time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		TripIDs:      map[string]struct{}{"trip-1": {}},
		StopsByDirection: map[domain.Direction][]domain.StopInfo{
			domain.Direction1: {{ID: "stop-100", Name: "Raadhuisplein", Sequence: 0}},
			domain.Direction2: {{ID: "stop-200", Name: "Raadhuisplein", Sequence: 0}},
		},
		DirectionShape: map[domain.Direction]string{domain.Direction1: "shape-a"},
		Shapes: map[string][]domain.ShapePoint{
			"shape-a": {{Lat: 51.92, Lon: 4.47}},
		},
	})
	return ref
}

// upstream returns a departures API stub serving one direction-1 pass
// for the given stop.
func upstream(t *testing.T, tpc string) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body := fmt.Sprintf(`{%q: {
			"Stop": {"TimingPointCode": %q, "TimingPointName": "Raadhuisplein", "Latitude": 51.92, "Longitude": 4.47},
			"Passes": {
				"p1": {
					"DataOwnerCode": "CXX",
					"LinePublicNumber": "80",
					"LinePlanningCode": "M080",
					"LineDirection": 1,
					"JourneyNumber": 4080,
					"DestinationName50": "Keizerswaard",
					"TimingPointCode": %q,
					"TimingPointName": "Raadhuisplein",
					"TargetDepartureTime": "2026-03-02T12:00:00",
					"ExpectedDepartureTime": "2026-03-02T12:02:00",
					"TripStopStatus": "PLANNED"
				}
			}
		}}`, tpc, tpc, tpc)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	return srv, &calls
}

func newDeparturesTestHandler(t *testing.T, live *store.LiveStore, upstreamURL string) *DeparturesHandler {
	t.Helper()
	ref := installedRefStore()
	engine := reconcile.NewEngine(ref, time.UTC, 10*time.Minute, "Keizerswaard", "Capelle Centrum", testLogger)
	client := ovapi.New(upstreamURL, "CXX", "80", "N080")
	return NewDeparturesHandler(live, engine, client, nil, 30*time.Second, defaultTPC, domain.Direction1, testLogger)
}

func decodeDepartures(t *testing.T, rec *httptest.ResponseRecorder) DeparturesResponse {
	t.Helper()
	var resp DeparturesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestListDeparturesFromLiveStore(t *testing.T) {
	live := store.NewLiveStore()
	live.SetDepartures(defaultTPC, []domain.ScheduledDeparture{{
		TimingPointCode: defaultTPC,
		StopName:        "Raadhuisplein",
		JourneyNumber:   4080,
		Direction:       domain.Direction1,
		ScheduledTime:   "2026-03-02T12:00:00",
		ExpectedTime:    "2026-03-02T12:00:00",
	}})

	h := newDeparturesTestHandler(t, live, "http://127.0.0.1:1")

	rec := httptest.NewRecorder()
	h.ListDepartures(rec, httptest.NewRequest(http.MethodGet, "/v1/departures", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeDepartures(t, rec)
	if len(resp.Departures) != 1 {
		t.Fatalf("got %d departures, want 1", len(resp.Departures))
	}
	if resp.Stale {
		t.Error("fresh data reported stale")
	}
	if resp.Timestamp == 0 {
		t.Error("response timestamp missing")
	}
}

func TestListDeparturesValidation(t *testing.T) {
	h := newDeparturesTestHandler(t, store.NewLiveStore(), "http://127.0.0.1:1")

	for _, target := range []string{
		"/v1/departures?direction=3",
		"/v1/departures?direction=abc",
		"/v1/departures?walk=-1",
		"/v1/departures?walk=soon",
	} {
		rec := httptest.NewRecorder()
		h.ListDepartures(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestListDeparturesColdStartFetches(t *testing.T) {
	srv, calls := upstream(t, defaultTPC)
	defer srv.Close()

	h := newDeparturesTestHandler(t, store.NewLiveStore(), srv.URL)

	rec := httptest.NewRecorder()
	h.ListDepartures(rec, httptest.NewRequest(http.MethodGet, "/v1/departures", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if *calls != 1 {
		t.Errorf("upstream calls = %d, want 1 direct fetch on cold start", *calls)
	}
	resp := decodeDepartures(t, rec)
	if len(resp.Departures) != 1 || resp.Departures[0].DelayMinutes != 2 {
		t.Errorf("unexpected departures: %+v", resp.Departures)
	}
}

func TestListDeparturesColdStartUpstreamDown(t *testing.T) {
	h := newDeparturesTestHandler(t, store.NewLiveStore(), "http://127.0.0.1:1")

	rec := httptest.NewRecorder()
	h.ListDepartures(rec, httptest.NewRequest(http.MethodGet, "/v1/departures", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 when nothing was ever fetched", rec.Code)
	}
}

func TestListDeparturesOtherStopFetchesDirect(t *testing.T) {
	otherTPC := "31000777"
	srv, calls := upstream(t, otherTPC)
	defer srv.Close()

	live := store.NewLiveStore()
	live.SetDepartures(defaultTPC, []domain.ScheduledDeparture{{JourneyNumber: 1, Direction: domain.Direction1}})

	h := newDeparturesTestHandler(t, live, srv.URL)

	rec := httptest.NewRecorder()
	h.ListDepartures(rec, httptest.NewRequest(http.MethodGet, "/v1/departures?tpc="+otherTPC, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if *calls != 1 {
		t.Errorf("upstream calls = %d, want 1 for a non-default stop", *calls)
	}
}

func TestListDeparturesWalkParam(t *testing.T) {
	live := store.NewLiveStore()
	live.SetDepartures(defaultTPC, []domain.ScheduledDeparture{{
		StopName:      "Raadhuisplein",
		Direction:     domain.Direction1,
		ScheduledTime: "2026-03-02T12:00:00",
		ExpectedTime:  "2026-03-02T12:00:00",
	}})

	h := newDeparturesTestHandler(t, live, "http://127.0.0.1:1")

	rec := httptest.NewRecorder()
	h.ListDepartures(rec, httptest.NewRequest(http.MethodGet, "/v1/departures?walk=5", nil))

	resp := decodeDepartures(t, rec)
	if len(resp.Departures) != 1 {
		t.Fatalf("got %d departures, want 1", len(resp.Departures))
	}
	if resp.Departures[0].LeaveBy != "2026-03-02T11:55:00" {
		t.Errorf("leave by = %q, want 11:55:00", resp.Departures[0].LeaveBy)
	}
}

func TestListVehicles(t *testing.T) {
	live := store.NewLiveStore()
	live.SetVehicles([]domain.VehiclePosition{{VehicleID: "bus-1"}, {VehicleID: "bus-2"}})
	live.MarkVehiclesStale()

	h := NewVehiclesHandler(live)

	rec := httptest.NewRecorder()
	h.ListVehicles(rec, httptest.NewRequest(http.MethodGet, "/v1/vehicles", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp VehiclesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || len(resp.Vehicles) != 2 {
		t.Errorf("count = %d, vehicles = %d, want 2", resp.Count, len(resp.Vehicles))
	}
	if !resp.Stale {
		t.Error("stale flag lost")
	}
}

func TestGetRoute(t *testing.T) {
	h := NewRouteHandler(installedRefStore())

	rec := httptest.NewRecorder()
	h.GetRoute(rec, httptest.NewRequest(http.MethodGet, "/v1/route", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp RouteResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.VersionToken != `"v1"` {
		t.Errorf("version token = %q", resp.VersionToken)
	}
	dir1 := resp.Directions[domain.Direction1]
	if len(dir1.Stops) != 1 || dir1.Stops[0].Name != "Raadhuisplein" {
		t.Errorf("direction 1 stops = %+v", dir1.Stops)
	}
	if len(dir1.Shape) != 1 {
		t.Errorf("direction 1 shape = %+v", dir1.Shape)
	}
}

func TestGetRouteBeforeBootstrap(t *testing.T) {
	h := NewRouteHandler(refdata.NewStore())

	rec := httptest.NewRecorder()
	h.GetRoute(rec, httptest.NewRequest(http.MethodGet, "/v1/route", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before the first snapshot", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := NewHealthHandler(refdata.NewStore(), store.NewLiveStore())

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	live := store.NewLiveStore()

	h := NewHealthHandler(refdata.NewStore(), live)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before snapshot = %d, want 503", rec.Code)
	}

	h = NewHealthHandler(installedRefStore(), live)
	rec = httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz with snapshot = %d, want 200", rec.Code)
	}

	var resp ReadyResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ready {
		t.Error("ready flag not set")
	}
}

func TestGetStatus(t *testing.T) {
	live := store.NewLiveStore()
	live.SetVehicles([]domain.VehiclePosition{{VehicleID: "bus-1"}})

	liveHub := hub.NewHub(testLogger)
	h := NewStatusHandler(live, installedRefStore(), liveHub)

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Feeds.VehicleCount != 1 {
		t.Errorf("vehicle count = %d, want 1", resp.Feeds.VehicleCount)
	}
	if resp.Reference == nil || resp.Reference.VersionToken != `"v1"` {
		t.Errorf("reference status = %+v", resp.Reference)
	}
}

func TestServeSSEInitAndEvents(t *testing.T) {
	live := store.NewLiveStore()
	live.SetVehicles([]domain.VehiclePosition{{VehicleID: "bus-1"}})

	liveHub := hub.NewHub(testLogger)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go liveHub.Run(hubCtx)

	m := metrics.New()
	h := NewSSEHandler(liveHub, live, installedRefStore(), m, time.Minute, testLogger)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("read init frame: %v", err)
	}
	frame := string(buf[:n])
	for _, want := range []string{"event: init", "data: ", "bus-1", `"route"`, `"versionToken"`} {
		if !strings.Contains(frame, want) {
			t.Errorf("init frame missing %q: %q", want, frame)
		}
	}
}
