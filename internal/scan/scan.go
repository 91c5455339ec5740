// SPDX-License-Identifier: MPL-2.0

// Package scan drives the archive decode stream through the entry
// state machine: offering entry paths to the matcher, classifying the
// first data chunk as text or binary, and routing content through the
// output router. Overall success is decided by pattern saturation
// across the whole run, not per archive.
package scan

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/Morganamilo/paccat/internal/archive"
	"github.com/Morganamilo/paccat/internal/issue"
	"github.com/Morganamilo/paccat/internal/match"
	"github.com/Morganamilo/paccat/internal/output"
)

// Behavior selects what happens with matched entries.
type Behavior int

const (
	// BehaviorPrint streams matched file content to the terminal or
	// pager.
	BehaviorPrint Behavior = iota
	// BehaviorList prints matched paths only.
	BehaviorList
	// BehaviorExtract writes matched files under the destination
	// directory.
	BehaviorExtract
	// BehaviorInstall writes matched files under the configured root.
	BehaviorInstall
)

// entryState is the explicit state of the per-entry machine.
type entryState int

const (
	// stateSkip is the default: no destination open.
	stateSkip entryState = iota
	// stateFirstChunk: entry selected, awaiting data to classify.
	stateFirstChunk
	// stateReading: content actively forwarded to the sink.
	stateReading
)

// binarySniffLen bounds how much of the first chunk is inspected for a
// NUL byte.
const binarySniffLen = 512

// Options configure one scanner.
type Options struct {
	Behavior Behavior
	// All matches every occurrence instead of only the first; it makes
	// the matcher non-consuming.
	All bool
	// Binary permits binary content on the print path.
	Binary bool
	// ExecutablesOnly skips entries without an execute bit.
	ExecutablesOnly bool
	// DestDir is the extraction root for BehaviorExtract and
	// BehaviorInstall.
	DestDir string
}

// Scanner matches and routes the entries of package archives.
type Scanner struct {
	matcher *match.Matcher
	router  *output.Router
	opts    Options
	stdout  io.Writer
	logger  *log.Logger

	state   entryState
	curFile string
}

// New builds a Scanner. stdout receives matched path names in list,
// extract and install behaviors.
func New(matcher *match.Matcher, router *output.Router, opts Options, stdout io.Writer, logger *log.Logger) *Scanner {
	if stdout == nil {
		stdout = os.Stdout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scanner{
		matcher: matcher,
		router:  router,
		opts:    opts,
		stdout:  stdout,
		logger:  logger,
	}
}

// ScanArchive consumes one archive's event stream. A decode error
// aborts this archive only; output already emitted stays emitted.
func (s *Scanner) ScanArchive(r *archive.Reader) error {
	s.state = stateSkip

	for {
		ev := r.Next()
		switch ev.Kind {
		case archive.EntryStart:
			if err := s.entryStart(ev.Header); err != nil {
				return err
			}
		case archive.DataChunk:
			if err := s.dataChunk(ev.Data); err != nil {
				return err
			}
		case archive.EntryEnd:
			if err := s.router.CloseEntry(); err != nil {
				return err
			}
			s.state = stateSkip
		case archive.Error:
			// Tear down any open sink before aborting this archive.
			_ = s.router.CloseEntry()
			s.state = stateSkip
			return fmt.Errorf("%w: %w", issue.ErrDecode, ev.Err)
		case archive.EndOfArchive:
			return nil
		}
	}
}

// AllMatched reports whether every requested pattern has been satisfied
// across the archives scanned so far.
func (s *Scanner) AllMatched() bool { return s.matcher.AllMatched() }

func (s *Scanner) entryStart(hdr *archive.Header) error {
	s.state = stateSkip

	if !hdr.IsRegular() {
		return nil
	}
	if s.opts.ExecutablesOnly && !hdr.IsExecutable() {
		return nil
	}
	if !s.matcher.IsMatch(hdr.Path, !s.opts.All) {
		return nil
	}

	switch s.opts.Behavior {
	case BehaviorList:
		_, err := fmt.Fprintln(s.stdout, hdr.Path)
		return err
	case BehaviorExtract, BehaviorInstall:
		dest := filepath.Join(s.opts.DestDir, filepath.FromSlash(hdr.Path))
		if !withinDir(s.opts.DestDir, dest) {
			return fmt.Errorf("%s: %w: entry path escapes the destination directory", hdr.Path, issue.ErrExtraction)
		}
		if _, err := fmt.Fprintln(s.stdout, hdr.Path); err != nil {
			return err
		}
		if err := s.router.OpenFile(dest, hdr.Mode, hdr.UID, hdr.GID); err != nil {
			return err
		}
	case BehaviorPrint:
		if err := s.router.OpenStream(); err != nil {
			return err
		}
	}

	s.curFile = hdr.Path
	s.state = stateFirstChunk
	return nil
}

func (s *Scanner) dataChunk(data []byte) error {
	switch s.state {
	case stateReading:
		return s.router.Write(data)
	case stateSkip:
		return nil
	case stateFirstChunk:
	}

	if isBinary(data) && !s.opts.Binary && !s.router.IsFile() {
		// A pager never shows raw binary; fall back to pass-through
		// before deciding whether the entry may be shown at all.
		if s.router.IsPager() {
			if err := s.router.Demote(); err != nil {
				return err
			}
		}
		s.logger.Warnf("%s is a binary file -- use --binary to print", s.curFile)
		if err := s.router.CloseEntry(); err != nil {
			return err
		}
		s.state = stateSkip
		return nil
	}

	if err := s.router.Write(data); err != nil {
		return err
	}
	s.state = stateReading
	return nil
}

// withinDir reports whether dest stays inside dir. Archive entry paths
// are attacker-controlled; a ".." component must not climb out of the
// destination directory.
func withinDir(dir, dest string) bool {
	rel, err := filepath.Rel(dir, dest)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// isBinary reports whether the chunk holds a NUL byte within its first
// 512 bytes.
func isBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	for _, b := range data {
		if b == 0 {
			return true
		}
	}
	return false
}
