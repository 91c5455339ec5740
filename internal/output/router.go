// SPDX-License-Identifier: MPL-2.0

// Package output owns the single live output sink of a run: a plain
// pass-through stream, an external pager subprocess, or a destination
// file being extracted. At most one sink is open at any instant and the
// sink must be torn down (pager exit status observed) between entries.
package output

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Morganamilo/paccat/internal/issue"
)

type sinkKind int

const (
	sinkNone sinkKind = iota
	sinkPassthrough
	sinkPager
	sinkFile
)

// Router routes matched entry content to the active sink.
type Router struct {
	stdout   io.Writer
	color    bool
	pager    string
	elevated bool
	chown    func(path string, uid, gid int) error

	kind  sinkKind
	proc  *pagerProc
	file  *os.File
	fileP string
}

// Option configures a Router.
type Option func(*Router)

// WithStdout overrides the pass-through destination (defaults to
// os.Stdout).
func WithStdout(w io.Writer) Option {
	return func(r *Router) { r.stdout = w }
}

// WithColor enables pager use; without color output the pager is never
// started.
func WithColor(enabled bool) Option {
	return func(r *Router) { r.color = enabled }
}

// WithPager sets the pager executable. An empty string disables the
// pager even when color is enabled.
func WithPager(path string) Option {
	return func(r *Router) { r.pager = path }
}

// WithElevated sets the privilege policy: when true, newly created
// destination files are chowned to the archive-recorded owner.
func WithElevated(elevated bool) Option {
	return func(r *Router) { r.elevated = elevated }
}

// NewRouter builds a Router with no open sink.
func NewRouter(opts ...Option) *Router {
	r := &Router{stdout: os.Stdout, chown: os.Chown}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenStream opens the pass-through or pager sink for the current
// entry. It is a no-op when a destination file is already committed:
// extraction always wins. The pager is used only when color output is
// enabled and a pager executable was discovered.
func (r *Router) OpenStream() error {
	switch r.kind {
	case sinkFile, sinkPassthrough, sinkPager:
		return nil
	case sinkNone:
	}

	if !r.color || r.pager == "" {
		r.kind = sinkPassthrough
		return nil
	}

	p, err := startPager(r.pager)
	if err != nil {
		// A pager that cannot start degrades to pass-through rather
		// than failing the entry.
		r.kind = sinkPassthrough
		return nil //nolint:nilerr // degradation is the contract
	}
	r.proc = p
	r.kind = sinkPager
	return nil
}

// OpenFile commits a destination-file sink for the current entry,
// creating parent directories and applying the archive-recorded
// permission bits. When the run is elevated and the destination did not
// previously exist, ownership is set to the archive-recorded uid/gid.
func (r *Router) OpenFile(dest string, perm fs.FileMode, uid, gid int) error {
	if r.kind != sinkNone {
		return fmt.Errorf("%w: sink already open for this entry", issue.ErrExtraction)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("%s: %w: %w", dest, issue.ErrExtraction, err)
	}

	_, statErr := os.Lstat(dest)
	existed := statErr == nil

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm.Perm())
	if err != nil {
		return fmt.Errorf("%s: %w: %w", dest, issue.ErrExtraction, err)
	}
	// O_CREATE honors the umask; force the archive-recorded bits.
	if err := f.Chmod(perm.Perm()); err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w: %w", dest, issue.ErrExtraction, err)
	}

	if r.elevated && !existed {
		if err := r.chown(dest, uid, gid); err != nil {
			_ = f.Close()
			return fmt.Errorf("%s: %w: %w", dest, issue.ErrExtraction, err)
		}
	}

	r.file = f
	r.fileP = dest
	r.kind = sinkFile
	return nil
}

// Demote falls back from the pager sink to plain pass-through, used
// when binary content must not be fed to a pager. The pager is torn
// down and its exit status checked. No-op for other sinks.
func (r *Router) Demote() error {
	if r.kind != sinkPager {
		return nil
	}
	err := r.proc.close()
	r.proc = nil
	r.kind = sinkPassthrough
	return err
}

// IsPager reports whether the current sink is the pager subprocess.
func (r *Router) IsPager() bool { return r.kind == sinkPager }

// IsFile reports whether the current sink is a destination file.
func (r *Router) IsFile() bool { return r.kind == sinkFile }

// Write forwards one chunk to the open sink.
func (r *Router) Write(p []byte) error {
	switch r.kind {
	case sinkPassthrough:
		if _, err := r.stdout.Write(p); err != nil {
			return err
		}
		return nil
	case sinkPager:
		return r.proc.write(p)
	case sinkFile:
		if _, err := r.file.Write(p); err != nil {
			return fmt.Errorf("%s: %w: %w", r.fileP, issue.ErrExtraction, err)
		}
		return nil
	case sinkNone:
	}
	return errors.New("write with no open sink")
}

// CloseEntry tears down the current sink. For a pager this closes its
// input and observes the exit status; a non-zero exit is an error even
// though bytes may already have reached the terminal.
func (r *Router) CloseEntry() error {
	switch r.kind {
	case sinkPager:
		err := r.proc.close()
		r.proc = nil
		r.kind = sinkNone
		return err
	case sinkFile:
		err := r.file.Close()
		r.file = nil
		r.fileP = ""
		r.kind = sinkNone
		if err != nil {
			return fmt.Errorf("%w: %w", issue.ErrExtraction, err)
		}
		return nil
	case sinkPassthrough, sinkNone:
		r.kind = sinkNone
		return nil
	}
	return nil
}
