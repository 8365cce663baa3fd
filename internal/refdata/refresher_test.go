package refdata

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ovbus/internal/domain"
	"ovbus/pkg/gtfs"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func bundleBytes(t *testing.T) []byte {
	t.Helper()

	files := map[string]string{
		"routes.txt": "route_id,agency_id,route_short_name\nroute-80,CXX,80\n",
		"trips.txt":  "route_id,trip_id,direction_id,shape_id\nroute-80,trip-1,0,\n",
		"stop_times.txt": strings.Join([]string{
			"trip_id,stop_id,stop_sequence",
			"trip-1,s1,1",
			"trip-1,s2,2",
			"",
		}, "\n"),
		"stops.txt": strings.Join([]string{
			"stop_id,stop_name,stop_lat,stop_lon",
			"s1,Raadhuisplein,51.92,4.47",
			"s2,Station Oost,51.93,4.48",
			"",
		}, "\n"),
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

type bundleServer struct {
	*httptest.Server
	etag     atomic.Value
	requests atomic.Int64
}

func newBundleServer(t *testing.T) *bundleServer {
	t.Helper()
	data := bundleBytes(t)

	bs := &bundleServer{}
	bs.etag.Store(`"v1"`)
	bs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			bs.requests.Add(1)
		}
		w.Header().Set("ETag", bs.etag.Load().(string))
		w.Write(data)
	}))
	return bs
}

func newTestRefresher(t *testing.T, url, dir string) (*Refresher, *Store) {
	t.Helper()
	store := NewStore()
	downloader := gtfs.NewDownloader(url, testLogger)
	parser := gtfs.NewParser("CXX", "80", testLogger)
	return NewRefresher(downloader, parser, store, dir, nil, testLogger), store
}

func TestTryRefreshInstallsSnapshot(t *testing.T) {
	srv := newBundleServer(t)
	defer srv.Close()

	r, store := newTestRefresher(t, srv.URL, t.TempDir())

	installed, err := r.TryRefresh(context.Background(), "cold_start")
	if err != nil {
		t.Fatalf("TryRefresh: %v", err)
	}
	if !installed {
		t.Fatal("first refresh should install a snapshot")
	}

	snap := store.Active()
	if snap == nil {
		t.Fatal("no active snapshot after refresh")
	}
	if snap.VersionToken != `"v1"` {
		t.Errorf("version token = %q, want \"v1\"", snap.VersionToken)
	}
	if len(snap.StopsByDirection[domain.Direction1]) != 2 {
		t.Errorf("direction 1 stops = %d, want 2", len(snap.StopsByDirection[domain.Direction1]))
	}
}

func TestTryRefreshIdempotentForSameVersion(t *testing.T) {
	srv := newBundleServer(t)
	defer srv.Close()

	r, _ := newTestRefresher(t, srv.URL, t.TempDir())

	if _, err := r.TryRefresh(context.Background(), "cold_start"); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	downloads := srv.requests.Load()

	installed, err := r.TryRefresh(context.Background(), "zero_vehicles")
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if installed {
		t.Error("unchanged upstream version must not reinstall")
	}
	if srv.requests.Load() != downloads {
		t.Error("unchanged upstream version must not be downloaded again")
	}
}

func TestTryRefreshPicksUpNewVersion(t *testing.T) {
	srv := newBundleServer(t)
	defer srv.Close()

	r, store := newTestRefresher(t, srv.URL, t.TempDir())

	if _, err := r.TryRefresh(context.Background(), "cold_start"); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	srv.etag.Store(`"v2"`)

	installed, err := r.TryRefresh(context.Background(), "version_mismatch")
	if err != nil {
		t.Fatalf("refresh after version bump: %v", err)
	}
	if !installed {
		t.Fatal("changed upstream version should install a new snapshot")
	}
	if store.Active().VersionToken != `"v2"` {
		t.Errorf("version token = %q, want \"v2\"", store.Active().VersionToken)
	}
}

func TestVersionChanged(t *testing.T) {
	srv := newBundleServer(t)
	defer srv.Close()

	r, _ := newTestRefresher(t, srv.URL, t.TempDir())

	changed, err := r.VersionChanged(context.Background())
	if err != nil {
		t.Fatalf("VersionChanged: %v", err)
	}
	if !changed {
		t.Error("no active snapshot should always count as changed")
	}

	if _, err := r.TryRefresh(context.Background(), "cold_start"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	changed, err = r.VersionChanged(context.Background())
	if err != nil {
		t.Fatalf("VersionChanged: %v", err)
	}
	if changed {
		t.Error("same upstream version reported as changed")
	}

	srv.etag.Store(`"v9"`)
	changed, err = r.VersionChanged(context.Background())
	if err != nil {
		t.Fatalf("VersionChanged: %v", err)
	}
	if !changed {
		t.Error("bumped upstream version not detected")
	}
}

func TestBootstrapPrefersPersistedSnapshot(t *testing.T) {
	dir := t.TempDir()

	persisted := snapshotWithStops()
	persisted.VersionToken = `"persisted"`
	if _, err := SaveSnapshot(dir, persisted); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	// Unreachable upstream: bootstrap must succeed from disk alone.
	r, store := newTestRefresher(t, "http://127.0.0.1:1", dir)
	r.Bootstrap(context.Background())

	snap := store.Active()
	if snap == nil {
		t.Fatal("no active snapshot after warm bootstrap")
	}
	if snap.VersionToken != `"persisted"` {
		t.Errorf("version token = %q, want the persisted snapshot", snap.VersionToken)
	}
}

func TestTryRefreshDropsConcurrentTrigger(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var startOnce, releaseOnce sync.Once

	// The bundle server stalls until released, pinning the first
	// refresh in flight.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startOnce.Do(func() { close(started) })
		<-release
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	defer releaseOnce.Do(func() { close(release) })

	r, _ := newTestRefresher(t, srv.URL, t.TempDir())

	first := make(chan error, 1)
	go func() {
		_, err := r.TryRefresh(context.Background(), "cold_start")
		first <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first refresh never reached the bundle server")
	}

	installed, err := r.TryRefresh(context.Background(), "zero_vehicles")
	if err != nil {
		t.Fatalf("concurrent trigger returned an error: %v", err)
	}
	if installed {
		t.Error("trigger during an in-flight refresh must be dropped")
	}

	releaseOnce.Do(func() { close(release) })
	if err := <-first; err == nil {
		t.Error("stalled refresh should surface the upstream failure")
	}
}

func TestBootstrapColdStart(t *testing.T) {
	srv := newBundleServer(t)
	defer srv.Close()

	r, store := newTestRefresher(t, srv.URL, t.TempDir())
	r.Bootstrap(context.Background())

	if store.Active() == nil {
		t.Fatal("cold bootstrap should download and install a snapshot")
	}
}
