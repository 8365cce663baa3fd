package gtfs

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"ovbus/internal/domain"
)

// VersionInfo identifies one published version of the static bundle
// without downloading it.
type VersionInfo struct {
	ETag         string
	LastModified string
}

// Token is the opaque version token recorded in snapshots: the ETag
// when the upstream sends one, otherwise the Last-Modified stamp.
func (v VersionInfo) Token() string {
	if v.ETag != "" {
		return v.ETag
	}
	return v.LastModified
}

type Downloader struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewDownloader(url string, logger *slog.Logger) *Downloader {
	return &Downloader{
		url: url,
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger: logger.With("component", "gtfs_downloader"),
	}
}

// Head probes the bundle's current version via a metadata-only request.
func (d *Downloader) Head(ctx context.Context) (VersionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.url, nil)
	if err != nil {
		return VersionInfo{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return VersionInfo{}, &domain.FetchError{URL: d.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return VersionInfo{}, &domain.FetchError{URL: d.url, StatusCode: resp.StatusCode}
	}

	return VersionInfo{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// Download fetches the bundle and opens it as a ZIP archive.
func (d *Downloader) Download(ctx context.Context) (*zip.Reader, VersionInfo, error) {
	start := time.Now()
	d.logger.Info("starting GTFS download", "url", d.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, VersionInfo{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "ovbus/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, VersionInfo{}, &domain.FetchError{URL: d.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, VersionInfo{}, &domain.FetchError{URL: d.url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, VersionInfo{}, &domain.FetchError{URL: d.url, Err: err}
	}

	version := VersionInfo{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	if version.ETag == "" {
		version.ETag = DataFingerprint(data)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, VersionInfo{}, &domain.DecodeError{URL: d.url, Err: err}
	}

	d.logger.Info("GTFS download completed",
		"size_mb", fmt.Sprintf("%.2f", float64(len(data))/(1024*1024)),
		"files_in_archive", len(reader.File),
		"etag", version.ETag,
		"last_modified", version.LastModified,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return reader, version, nil
}

// DataFingerprint stands in for a version token when the upstream sends
// no ETag.
func DataFingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
