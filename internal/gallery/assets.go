package gallery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/extmarket-labs/extmarket/internal/extension"
)

// ProgressFunc reports download progress; total is -1 when unknown.
type ProgressFunc func(downloaded, total int64)

// DownloadAsset streams an asset to w. The primary URI is tried first;
// on any failure other than cancellation the CDN fallback is retried
// once, transparently. A retry after a half-written primary attempt
// requires a restartable writer (a file or buffer); otherwise the
// primary error is returned rather than appending to partial output.
func (s *Service) DownloadAsset(ctx context.Context, asset *Asset, w io.Writer, progress ProgressFunc) error {
	if asset == nil {
		return extension.Errorf(extension.ErrInvalid, "extension has no such asset")
	}

	cw := &countingWriter{w: w}
	err := s.fetchToWriter(ctx, asset.URI, cw, progress)
	if err == nil {
		return nil
	}
	if extension.CodeOf(err) == extension.ErrCancelled {
		return err
	}
	if asset.Fallback == "" || asset.Fallback == asset.URI {
		return err
	}
	if cw.n > 0 && !restartOutput(w) {
		return err
	}
	return s.fetchToWriter(ctx, asset.Fallback, w, progress)
}

// restartOutput discards what a failed attempt wrote, so the fallback
// starts from a clean slate.
func restartOutput(w io.Writer) bool {
	switch t := w.(type) {
	case *bytes.Buffer:
		t.Reset()
		return true
	case *os.File:
		if err := t.Truncate(0); err != nil {
			return false
		}
		_, err := t.Seek(0, io.SeekStart)
		return err == nil
	}
	return false
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// DownloadAssetToFile downloads an asset to path, removing the partial
// file on failure.
func (s *Service) DownloadAssetToFile(ctx context.Context, asset *Asset, path string, progress ProgressFunc) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}

	if err := s.DownloadAsset(ctx, asset, f, progress); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func (s *Service) fetchToWriter(ctx context.Context, url string, w io.Writer, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating asset request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return extension.Errorf(extension.ErrFailed, "asset download returned status %d", resp.StatusCode)
	}

	total := resp.ContentLength
	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("writing asset: %w", writeErr)
			}
			downloaded += int64(n)
			if progress != nil {
				progress(downloaded, total)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return classifyTransport(ctx, readErr)
		}
	}
}

// fetchManifestAsset downloads and parses a version's manifest asset.
// The resolver uses it for records that carry no engine property.
func (s *Service) fetchManifestAsset(ctx context.Context, raw *RawExtension, version *RawVersion) (*extension.Manifest, error) {
	asset := assetPair(version, AssetManifest)
	if asset == nil {
		return nil, extension.Errorf(extension.ErrInvalid, "%s %s has no manifest asset", raw.Identifier().ID, version.Version)
	}

	var buf bytes.Buffer
	if err := s.DownloadAsset(ctx, asset, &buf, nil); err != nil {
		return nil, err
	}

	var m extension.Manifest
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		return nil, extension.Errorf(extension.ErrInvalid, "parsing manifest asset: %v", err)
	}
	return &m, nil
}
