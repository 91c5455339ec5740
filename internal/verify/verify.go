// SPDX-License-Identifier: MPL-2.0

// Package verify applies a trust policy to local archive files before
// they may be read. Each provenance class (pre-existing local file,
// repository download, user-supplied URL download) carries its own
// strictness: require a digest, allow a missing one, or skip checking
// entirely.
//
// The trust primitive is a SHA256 digest comparison against the value
// recorded in the package database.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Morganamilo/paccat/internal/issue"
	"github.com/Morganamilo/paccat/internal/pacmanconf"
)

// Provenance classifies where a local archive file came from; it
// selects which policy level applies.
type Provenance int

const (
	// ProvenanceLocal is a pre-existing file supplied by path.
	ProvenanceLocal Provenance = iota
	// ProvenanceRepo is a download resolved through a sync repository.
	ProvenanceRepo
	// ProvenanceRemote is a download from a user-supplied URL.
	ProvenanceRemote
)

// Check is one file awaiting verification. Expected is the hex SHA256
// digest recorded for the file, empty when none is known.
type Check struct {
	Path       string
	Provenance Provenance
	Expected   string
}

// Gate holds the per-provenance trust levels for one run.
type Gate struct {
	local  pacmanconf.TrustLevel
	repo   pacmanconf.TrustLevel
	remote pacmanconf.TrustLevel
}

// NewGate builds a Gate from the configured signature levels.
func NewGate(conf *pacmanconf.Config) *Gate {
	return &Gate{
		local:  conf.LocalFileSigLevel,
		repo:   conf.SigLevel,
		remote: conf.RemoteFileSigLevel,
	}
}

// Verify applies the gate to every check and fails on the first file
// that does not satisfy its provenance's trust level. The returned
// error names the file.
func (g *Gate) Verify(checks []Check) error {
	for _, c := range checks {
		if err := g.verifyOne(c); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gate) verifyOne(c Check) error {
	level := g.level(c.Provenance)
	if level == pacmanconf.TrustNever {
		return nil
	}

	if c.Expected == "" {
		if level == pacmanconf.TrustRequired {
			return fmt.Errorf("%s: %w: no checksum recorded and policy requires one", c.Path, issue.ErrVerification)
		}
		return nil
	}

	got, err := fileDigest(c.Path)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", c.Path, issue.ErrVerification, err)
	}
	if !strings.EqualFold(got, c.Expected) {
		return fmt.Errorf("%s: %w: checksum mismatch (expected %s, got %s)",
			c.Path, issue.ErrVerification, strings.ToLower(c.Expected), got)
	}
	return nil
}

func (g *Gate) level(p Provenance) pacmanconf.TrustLevel {
	switch p {
	case ProvenanceLocal:
		return g.local
	case ProvenanceRepo:
		return g.repo
	case ProvenanceRemote:
		return g.remote
	}
	return pacmanconf.TrustRequired
}

// fileDigest streams the file through SHA256 and returns the lowercase
// hex digest; memory stays bounded regardless of file size.
func fileDigest(path string) (_ string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
