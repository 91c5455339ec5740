// SPDX-License-Identifier: MPL-2.0

// Package match decides whether archive entry paths satisfy the set of
// requested file patterns and tracks which patterns have been satisfied
// so far (the match ledger).
//
// A matcher operates in exactly one of two modes, chosen at construction:
// literal mode compares entry paths against the requested strings, regex
// mode evaluates every compiled expression against the path. The ledger
// accumulates satisfied pattern indices across archives within one
// resolution batch and is cleared when a new batch begins.
package match

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrBadPattern indicates that a requested pattern could not be compiled
// as a regular expression. It is surfaced before any archive I/O happens.
var ErrBadPattern = errors.New("invalid file pattern")

// Matcher matches archive entry paths against the requested file patterns.
type Matcher struct {
	// patterns holds the literal patterns (leading "/" already trimmed).
	// Empty in regex mode.
	patterns []string
	// regexes holds the compiled expressions. Empty in literal mode.
	regexes []*regexp.Regexp
	// exactPath is true when any literal pattern contains a path
	// separator, in which case entries are compared by full path rather
	// than basename.
	exactPath bool
	// ledger records the pattern indices already satisfied in the
	// current resolution batch.
	ledger map[int]struct{}
}

// New builds a Matcher for the given requested file strings. A leading
// "/" on a pattern is ignored so that absolute paths match the rootless
// paths stored in package archives. When regex is true every string is
// compiled as a regular expression; a compile failure wraps ErrBadPattern.
func New(files []string, regex bool) (*Matcher, error) {
	m := &Matcher{ledger: make(map[int]struct{})}

	trimmed := make([]string, 0, len(files))
	for _, f := range files {
		trimmed = append(trimmed, strings.TrimPrefix(f, "/"))
	}

	if regex {
		m.regexes = make([]*regexp.Regexp, 0, len(trimmed))
		for _, f := range trimmed {
			re, err := regexp.Compile(f)
			if err != nil {
				return nil, fmt.Errorf("%w %q: %v", ErrBadPattern, f, err)
			}
			m.regexes = append(m.regexes, re)
		}
		m.exactPath = true
		return m, nil
	}

	m.patterns = trimmed
	for _, f := range trimmed {
		if strings.Contains(f, "/") {
			m.exactPath = true
			break
		}
	}
	return m, nil
}

// Len returns the total number of requested patterns.
func (m *Matcher) Len() int {
	if m.regexes != nil {
		return len(m.regexes)
	}
	return len(m.patterns)
}

// IsMatch reports whether the entry path satisfies any requested pattern.
//
// When no literal pattern contains a path separator only the basename of
// path is compared; an empty resulting string never matches. Matched
// pattern indices are recorded in the ledger. A pattern that was already
// satisfied earlier still reports a match unless consume is set, in which
// case only previously-unseen indices count. This lets first-occurrence
// and every-occurrence modes share one code path.
func (m *Matcher) IsMatch(path string, consume bool) bool {
	if !m.exactPath {
		if i := strings.LastIndexByte(path, '/'); i >= 0 {
			path = path[i+1:]
		}
	}
	if path == "" {
		return false
	}

	if m.regexes != nil {
		return m.matchRegex(path, consume)
	}
	return m.matchLiteral(path, consume)
}

func (m *Matcher) matchLiteral(path string, consume bool) bool {
	matched := false
	for i, pat := range m.patterns {
		if pat != path && pat != "*" {
			continue
		}
		if _, seen := m.ledger[i]; !seen {
			m.ledger[i] = struct{}{}
			return true
		}
		matched = true
	}
	return matched && !consume
}

func (m *Matcher) matchRegex(path string, consume bool) bool {
	matched := false
	fresh := false
	for i, re := range m.regexes {
		if !re.MatchString(path) {
			continue
		}
		matched = true
		if _, seen := m.ledger[i]; !seen {
			m.ledger[i] = struct{}{}
			fresh = true
		}
	}
	if consume {
		return fresh
	}
	return matched
}

// AllMatched reports whether every requested pattern has been satisfied
// at least once since the last Reset. This decides the overall exit
// status, independent of how many archives were scanned.
func (m *Matcher) AllMatched() bool {
	return len(m.ledger) == m.Len()
}

// Matched returns the number of patterns satisfied so far.
func (m *Matcher) Matched() int {
	return len(m.ledger)
}

// Reset clears the match ledger. Called once per target resolution batch;
// matches deliberately accumulate across archives within a batch.
func (m *Matcher) Reset() {
	m.ledger = make(map[int]struct{})
}
