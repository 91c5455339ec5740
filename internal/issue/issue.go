// SPDX-License-Identifier: MPL-2.0

// Package issue defines the error kinds surfaced to the user and the
// rendering of causal error chains on standard error.
//
// Every fatal condition in the pipeline maps to one of the sentinel
// errors below so callers can classify failures with errors.Is while the
// full %w chain is preserved for display as "error: <cause>: <cause>: …".
package issue

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

var (
	// ErrTargetUnresolvable indicates a target string is neither a known
	// package, an existing file, nor a URL. Fatal for the whole run.
	ErrTargetUnresolvable = errors.New("target unresolvable")

	// ErrDownload indicates a transport failure while fetching a package.
	ErrDownload = errors.New("download failed")

	// ErrVerification indicates a file failed the trust policy for its
	// provenance class.
	ErrVerification = errors.New("verification failed")

	// ErrDecode indicates a corrupt archive; it aborts the scan of the
	// current archive only.
	ErrDecode = errors.New("archive decode failed")

	// ErrExtraction indicates a filesystem failure while writing a
	// matched entry to its destination.
	ErrExtraction = errors.New("extraction failed")

	// ErrPager indicates the pager subprocess exited non-zero.
	ErrPager = errors.New("pager failed")
)

// TargetError is an ErrTargetUnresolvable carrying the offending target
// string and optional suggestions for the user.
type TargetError struct {
	// Target is the exact string the user supplied.
	Target string
	// Suggestions are hints printed after the error message.
	Suggestions []string
}

// Error names the target so the failure message identifies exactly which
// argument could not be resolved.
func (e *TargetError) Error() string {
	return fmt.Sprintf("'%s' is not a package, file or url", e.Target)
}

// Unwrap returns ErrTargetUnresolvable so callers can use errors.Is.
func (e *TargetError) Unwrap() error { return ErrTargetUnresolvable }

// Render formats err as the user-facing "error:" line: the causal chain
// joined with ": ", plus any suggestions from a TargetError.
func Render(err error) string {
	var b strings.Builder
	b.WriteString("error: ")
	b.WriteString(err.Error())

	var te *TargetError
	if errors.As(err, &te) {
		for _, s := range te.Suggestions {
			b.WriteString("\n  ")
			b.WriteString(s)
		}
	}
	return b.String()
}

// IsBrokenPipe reports whether err is a write failure caused by the
// downstream consumer going away (EPIPE). Such failures end the run with
// exit status 1 but print nothing.
func IsBrokenPipe(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) {
		return true
	}
	var pathErr *fs.PathError
	return errors.As(err, &pathErr) && errors.Is(pathErr.Err, syscall.EPIPE)
}
