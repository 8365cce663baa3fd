package refdata

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"ovbus/internal/domain"
)

const snapshotFile = "reference_snapshot.gob.gz"

// SnapshotPath is where the active snapshot's on-disk form lives.
func SnapshotPath(dir string) string {
	return filepath.Join(dir, snapshotFile)
}

// LoadSnapshot reads a previously persisted snapshot, used to warm-start
// without re-deriving the bundle.
func LoadSnapshot(dir string) (*domain.ReferenceSnapshot, error) {
	f, err := os.Open(SnapshotPath(dir))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var snap domain.ReferenceSnapshot
	if err := gob.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, err
	}

	if snap.TripIDs == nil || snap.StopsByDirection == nil {
		return nil, fmt.Errorf("persisted snapshot is incomplete")
	}

	return &snap, nil
}

// SaveSnapshot writes the snapshot via a temp file and a rename, so a
// concurrent reader of the on-disk form never observes a partial write.
func SaveSnapshot(dir string, snap *domain.ReferenceSnapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := SnapshotPath(dir)
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", err
	}

	zw, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
	if err != nil {
		f.Close()
		return "", err
	}

	encErr := gob.NewEncoder(zw).Encode(snap)
	closeErr := zw.Close()
	fileCloseErr := f.Close()
	if encErr != nil {
		_ = os.Remove(tmpPath)
		return "", encErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return "", closeErr
	}
	if fileCloseErr != nil {
		_ = os.Remove(tmpPath)
		return "", fileCloseErr
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	return path, nil
}
