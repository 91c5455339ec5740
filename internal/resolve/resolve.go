// SPDX-License-Identifier: MPL-2.0

// Package resolve turns user-supplied target strings into local,
// verified package archive files. Each target is classified exactly
// once: database package (sync or local), remote URL, or pre-existing
// local file; anything else is a fatal resolution error naming the
// target.
//
// Database-resolved packages are pre-filtered against the requested
// patterns using their stored file manifests, then downloaded as one
// batch and passed through the verification gate partitioned by
// provenance class.
package resolve

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Morganamilo/paccat/internal/alpm"
	"github.com/Morganamilo/paccat/internal/issue"
	"github.com/Morganamilo/paccat/internal/match"
	"github.com/Morganamilo/paccat/internal/verify"
)

// Database is the package query collaborator.
type Database interface {
	FindSync(target string) (*alpm.Package, error)
	FindLocal(name string) (*alpm.Package, error)
	SyncPackages() ([]*alpm.Package, error)
	LocalPackages() ([]*alpm.Package, error)
	DownloadURL(pkg *alpm.Package) (string, error)
}

// Fetcher is the batch download collaborator.
type Fetcher interface {
	Fetch(ctx context.Context, urls []string, dir string) ([]string, error)
}

// Gate is the verification collaborator.
type Gate interface {
	Verify(checks []verify.Check) error
}

// Options select the resolver's search mode.
type Options struct {
	// LocalDB searches the local package database instead of the sync
	// databases.
	LocalDB bool
	// FileDB marks that the sync file databases are in use, so stored
	// manifests are available for pre-filtering.
	FileDB bool
	// All requests every match; manifest saturation then never
	// excludes a candidate package.
	All bool
	// ExecutablesOnly disables first-match truncation for bare
	// database scans, since the manifest carries no mode bits to
	// filter on.
	ExecutablesOnly bool
	// CacheDir receives downloaded package archives.
	CacheDir string
}

// Resolver resolves targets for one run.
type Resolver struct {
	db      Database
	fetcher Fetcher
	gate    Gate
	matcher *match.Matcher
	opts    Options
}

// New builds a Resolver.
func New(db Database, fetcher Fetcher, gate Gate, matcher *match.Matcher, opts Options) *Resolver {
	return &Resolver{db: db, fetcher: fetcher, gate: gate, matcher: matcher, opts: opts}
}

// Resolve classifies the targets, downloads whatever is remote, applies
// the verification gate, and returns the local archive paths to scan.
// The match ledger is reset for the new batch: probing package
// manifests uses the ledger during resolution, and the ledger is
// cleared again afterwards so the archive scan starts fresh.
func (r *Resolver) Resolve(ctx context.Context, targets []string) ([]string, error) {
	r.matcher.Reset()
	defer r.matcher.Reset()

	if len(targets) == 0 {
		return r.resolveDatabaseScan(ctx)
	}
	return r.resolveTargets(ctx, targets)
}

// resolveTargets handles explicitly named targets.
func (r *Resolver) resolveTargets(ctx context.Context, targets []string) ([]string, error) {
	var (
		repoPkgs []*alpm.Package
		urls     []string
		checks   []verify.Check
		files    []string
	)

	for _, target := range targets {
		if pkg, err := r.findPackage(target); err == nil {
			repoPkgs = append(repoPkgs, pkg)
			continue
		}
		if strings.Contains(target, "://") {
			urls = append(urls, target)
			checks = append(checks, verify.Check{Provenance: verify.ProvenanceRemote})
			continue
		}
		if _, err := os.Stat(target); err == nil {
			files = append(files, target)
			continue
		}
		return nil, &issue.TargetError{
			Target:      target,
			Suggestions: []string{"use -y to refresh the package databases"},
		}
	}

	for _, pkg := range repoPkgs {
		if !r.manifestWanted(pkg) {
			continue
		}
		url, sum, err := r.downloadSource(pkg)
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
		checks = append(checks, verify.Check{Provenance: verify.ProvenanceRepo, Expected: sum})
	}

	return r.finish(ctx, files, urls, checks)
}

// resolveDatabaseScan handles the no-target whole-database modes: every
// package whose stored manifest matches a still-open pattern becomes a
// candidate.
func (r *Resolver) resolveDatabaseScan(ctx context.Context) ([]string, error) {
	var (
		pkgs []*alpm.Package
		err  error
	)
	if r.opts.LocalDB {
		pkgs, err = r.db.LocalPackages()
	} else {
		// Plain .db sync databases carry no manifests, so a bare scan
		// over them could only download everything. Demand the file
		// databases instead.
		if !r.opts.FileDB {
			return nil, fmt.Errorf("%w: searching the sync databases for a file requires the file databases (use -F)", issue.ErrTargetUnresolvable)
		}
		pkgs, err = r.db.SyncPackages()
	}
	if err != nil {
		return nil, err
	}

	var candidates []*alpm.Package
	for _, pkg := range pkgs {
		manifest, ok := pkg.Manifest()
		if !ok {
			// A bare scan over manifest-less databases would have to
			// download every package; require manifests here.
			continue
		}
		if !r.manifestMatches(manifest) {
			continue
		}
		candidates = append(candidates, pkg)
		if !r.opts.All && !r.opts.ExecutablesOnly {
			// First-match-only semantics for a bare search.
			break
		}
	}

	var (
		urls   []string
		checks []verify.Check
	)
	for _, pkg := range candidates {
		url, sum, err := r.downloadSource(pkg)
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
		checks = append(checks, verify.Check{Provenance: verify.ProvenanceRepo, Expected: sum})
	}

	return r.finish(ctx, nil, urls, checks)
}

// finish runs the batch download, fills in the local paths on the
// verification checks, and applies the gate.
func (r *Resolver) finish(ctx context.Context, files, urls []string, checks []verify.Check) ([]string, error) {
	downloaded, err := r.fetcher.Fetch(ctx, urls, r.opts.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", issue.ErrDownload, err)
	}

	all := make([]verify.Check, 0, len(files)+len(downloaded))
	for _, f := range files {
		all = append(all, verify.Check{Path: f, Provenance: verify.ProvenanceLocal})
	}
	for i, path := range downloaded {
		c := checks[i]
		c.Path = path
		all = append(all, c)
	}

	if err := r.gate.Verify(all); err != nil {
		return nil, err
	}

	resolved := make([]string, 0, len(files)+len(downloaded))
	resolved = append(resolved, files...)
	resolved = append(resolved, downloaded...)
	return resolved, nil
}

// findPackage looks a target up in the active database.
func (r *Resolver) findPackage(target string) (*alpm.Package, error) {
	if r.opts.LocalDB {
		return r.db.FindLocal(target)
	}
	return r.db.FindSync(target)
}

// downloadSource returns the download URL and expected digest for a
// package. Local-database packages carry no download metadata, so their
// sync counterpart supplies it.
func (r *Resolver) downloadSource(pkg *alpm.Package) (url, sha256 string, err error) {
	if pkg.IsLocal() {
		syncPkg, ferr := r.db.FindSync(pkg.Name)
		if ferr != nil {
			return "", "", fmt.Errorf("package %s is not available in any sync database: %w", pkg.Name, ferr)
		}
		pkg = syncPkg
	}

	u, err := r.db.DownloadURL(pkg)
	if err != nil {
		return "", "", err
	}
	return u, pkg.SHA256, nil
}

// manifestWanted decides whether an explicitly named package is worth
// downloading: packages without a stored manifest are always attempted,
// the rest only when the manifest matches a still-open pattern.
func (r *Resolver) manifestWanted(pkg *alpm.Package) bool {
	manifest, ok := pkg.Manifest()
	if !ok {
		return true
	}
	return r.manifestMatches(manifest)
}

// manifestMatches probes the manifest against the patterns. Outside All
// mode the probe consumes the ledger, so a pattern already claimed by
// an earlier candidate does not select another package.
func (r *Resolver) manifestMatches(manifest []string) bool {
	matched := false
	for _, path := range manifest {
		if r.matcher.IsMatch(path, !r.opts.All) {
			matched = true
		}
	}
	return matched
}
