// SPDX-License-Identifier: MPL-2.0

// Package fetch downloads package archives and database files over
// HTTP. Downloads are submitted as one order-preserving batch per
// resolution pass; per-file progress is reported through a callback
// value supplied at construction and never used for control flow.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"
)

// ErrDownload classifies transport failures; the wrapping error names
// the file that failed.
var ErrDownload = errors.New("download failed")

// Status describes the outcome of one file in a batch.
type Status int

const (
	// StatusDownloading is emitted when a transfer starts.
	StatusDownloading Status = iota
	// StatusUpToDate is emitted when the cached copy is reused.
	StatusUpToDate
	// StatusDone is emitted after a successful transfer.
	StatusDone
	// StatusFailed is emitted when a transfer fails.
	StatusFailed
)

// ProgressFunc receives per-file progress events.
type ProgressFunc func(file string, status Status)

// Fetcher downloads batches of URLs into a destination directory.
type Fetcher struct {
	client   *http.Client
	progress ProgressFunc
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithProgress registers the progress callback for this fetcher's
// batches.
func WithProgress(fn ProgressFunc) Option {
	return func(f *Fetcher) { f.progress = fn }
}

// New creates a Fetcher. Without options it uses a client with a
// connect-friendly timeout and reports no progress.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 15 * time.Minute},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads every URL into dir and returns the local paths in
// input order. A file already present in dir is reused and reported as
// up to date. The first failure aborts the batch with an error naming
// the file.
func (f *Fetcher) Fetch(ctx context.Context, urls []string, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating download directory %s: %w", dir, err)
	}

	paths := make([]string, 0, len(urls))
	for _, u := range urls {
		name, err := remoteFileName(u)
		if err != nil {
			return nil, err
		}
		dest := filepath.Join(dir, name)

		if fi, err := os.Stat(dest); err == nil && fi.Size() > 0 {
			f.emit(name, StatusUpToDate)
			paths = append(paths, dest)
			continue
		}

		f.emit(name, StatusDownloading)
		if err := f.downloadFile(ctx, u, dest); err != nil {
			f.emit(name, StatusFailed)
			return nil, fmt.Errorf("%s: %w: %w", name, ErrDownload, err)
		}
		f.emit(name, StatusDone)
		paths = append(paths, dest)
	}
	return paths, nil
}

// downloadFile streams one URL into dest via a temp file in the same
// directory so the final rename is atomic and partial downloads never
// surface under the real name.
func (f *Fetcher) downloadFile(ctx context.Context, rawURL, dest string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".paccat-download-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, resp.Body); err != nil {
		return fmt.Errorf("writing download: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing download: %w", err)
	}
	return os.Rename(tmp.Name(), dest)
}

func (f *Fetcher) emit(file string, status Status) {
	if f.progress != nil {
		f.progress(file, status)
	}
}

// remoteFileName derives the local file name for a URL from the last
// path segment.
func remoteFileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", rawURL, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("url %q has no file name", rawURL)
	}
	return name, nil
}
