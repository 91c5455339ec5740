// SPDX-License-Identifier: MPL-2.0

// Package alpm reads pacman package databases: the sync databases under
// <dbpath>/sync/<repo>.db (tar archives of per-package desc records,
// optionally with file manifests in the .files variant) and the local
// database under <dbpath>/local/<pkg>/.
//
// It answers the three questions the pipeline needs: find a package for
// a target string, list a package's stored file manifest, and derive the
// package's download URL from its repository's mirror servers.
package alpm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/Morganamilo/paccat/internal/archive"
	"github.com/Morganamilo/paccat/internal/pacmanconf"
)

// Database extensions; the .files variant carries file manifests.
const (
	ExtDB    = ".db"
	ExtFiles = ".files"
)

// ErrNoServers indicates a package's repository has no configured
// mirror servers to download from.
var ErrNoServers = errors.New("no servers configured")

// Package is one database entry. Repo is empty for local packages.
type Package struct {
	Name     string
	Version  string
	Filename string
	Repo     string
	// SHA256 is the hex digest recorded in the sync database, empty
	// when unknown.
	SHA256 string

	files    []string
	hasFiles bool
}

// IsLocal reports whether the package came from the local database
// rather than a sync repository.
func (p *Package) IsLocal() bool { return p.Repo == "" }

// Manifest returns the package's stored file list and whether the
// database carried one at all. Plain .db sync databases carry none.
func (p *Package) Manifest() ([]string, bool) { return p.files, p.hasFiles }

// SetManifest attaches a stored file manifest to the package.
func (p *Package) SetManifest(files []string) {
	p.files = files
	p.hasFiles = true
}

// Handle provides read access to the databases described by a pacman
// configuration.
type Handle struct {
	conf   *pacmanconf.Config
	dbext  string
	logger *log.Logger

	syncLoaded bool
	sync       []*Package
	localOnce  bool
	local      []*Package
}

// Option configures a Handle.
type Option func(*Handle)

// WithFileDB makes the handle read the .files sync databases, which
// include per-package file manifests.
func WithFileDB() Option {
	return func(h *Handle) { h.dbext = ExtFiles }
}

// WithLogger routes database diagnostics (missing db files and the
// like) to the given logger instead of the default one.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handle) { h.logger = logger }
}

// New creates a Handle over the databases at conf.DBPath.
func New(conf *pacmanconf.Config, opts ...Option) *Handle {
	h := &Handle{conf: conf, dbext: ExtDB, logger: log.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// DBExt returns the sync database extension in use (".db" or ".files").
func (h *Handle) DBExt() string { return h.dbext }

// FindSync locates a package by name, or by "repo/name" to pin the
// repository. Repositories are searched in configuration order; the
// first match wins.
func (h *Handle) FindSync(target string) (*Package, error) {
	repo, name, qualified := strings.Cut(target, "/")
	if !qualified {
		name = target
		repo = ""
	}

	pkgs, err := h.SyncPackages()
	if err != nil {
		return nil, err
	}
	for _, pkg := range pkgs {
		if pkg.Name != name {
			continue
		}
		if repo != "" && pkg.Repo != repo {
			continue
		}
		return pkg, nil
	}
	return nil, fmt.Errorf("could not find package: %s", target)
}

// FindLocal locates an installed package by exact name in the local
// database.
func (h *Handle) FindLocal(name string) (*Package, error) {
	pkgs, err := h.LocalPackages()
	if err != nil {
		return nil, err
	}
	for _, pkg := range pkgs {
		if pkg.Name == name {
			return pkg, nil
		}
	}
	return nil, fmt.Errorf("could not find package: %s", name)
}

// SyncPackages enumerates every package of every configured repository,
// in repository order. Missing database files are reported through the
// logger and skipped, matching pacman's behavior.
func (h *Handle) SyncPackages() ([]*Package, error) {
	if h.syncLoaded {
		return h.sync, nil
	}

	for _, repo := range h.conf.Repos {
		pkgs, err := h.loadSyncDB(repo.Name)
		if err != nil {
			return nil, err
		}
		h.sync = append(h.sync, pkgs...)
	}
	h.syncLoaded = true
	return h.sync, nil
}

// LocalPackages enumerates the installed packages from the local
// database directory.
func (h *Handle) LocalPackages() ([]*Package, error) {
	if h.localOnce {
		return h.local, nil
	}

	localDir := filepath.Join(h.conf.DBPath, "local")
	entries, err := os.ReadDir(localDir)
	if errors.Is(err, os.ErrNotExist) {
		h.localOnce = true
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading local database %s: %w", localDir, err)
	}

	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		pkg, err := h.loadLocalPackage(filepath.Join(localDir, ent.Name()))
		if err != nil {
			return nil, err
		}
		if pkg != nil {
			h.local = append(h.local, pkg)
		}
	}
	sort.Slice(h.local, func(i, j int) bool { return h.local[i].Name < h.local[j].Name })
	h.localOnce = true
	return h.local, nil
}

// DownloadURL builds the package's download URL from the first mirror
// server of its repository.
func (h *Handle) DownloadURL(pkg *Package) (string, error) {
	repo := h.conf.Repo(pkg.Repo)
	if repo == nil || len(repo.Servers) == 0 {
		return "", fmt.Errorf("repo %s: %w", pkg.Repo, ErrNoServers)
	}
	if pkg.Filename == "" {
		return "", fmt.Errorf("package %s has no download filename", pkg.Name)
	}
	return strings.TrimSuffix(repo.Servers[0], "/") + "/" + pkg.Filename, nil
}

// SyncDBPath returns the on-disk path of a repository's database file
// for the handle's extension.
func (h *Handle) SyncDBPath(repo string) string {
	return filepath.Join(h.conf.DBPath, "sync", repo+h.dbext)
}

// DBFetcher downloads database files into a directory. Satisfied by
// fetch.Fetcher without alpm depending on the transport package.
type DBFetcher interface {
	Fetch(ctx context.Context, urls []string, dir string) ([]string, error)
}

// Refresh downloads every configured repository's database file into
// <dbpath>/sync. When force is set, existing database files are removed
// first so the fetcher cannot treat them as up to date.
func (h *Handle) Refresh(ctx context.Context, fetcher DBFetcher, force bool) error {
	syncDir := filepath.Join(h.conf.DBPath, "sync")
	if err := os.MkdirAll(syncDir, 0o755); err != nil {
		return fmt.Errorf("creating sync database directory: %w", err)
	}

	var urls []string
	for _, repo := range h.conf.Repos {
		if len(repo.Servers) == 0 {
			h.logger.Warnf("repo %s has no servers, skipping refresh", repo.Name)
			continue
		}
		if force {
			_ = os.Remove(h.SyncDBPath(repo.Name))
		}
		urls = append(urls, strings.TrimSuffix(repo.Servers[0], "/")+"/"+repo.Name+h.dbext)
	}
	if len(urls) == 0 {
		return nil
	}

	h.logger.Info("synchronising package databases...")
	if _, err := fetcher.Fetch(ctx, urls, syncDir); err != nil {
		return fmt.Errorf("refreshing databases: %w", err)
	}

	// Invalidate the cache so fresh databases are re-read.
	h.syncLoaded = false
	h.sync = nil
	return nil
}

// loadSyncDB streams one sync database archive and assembles its
// packages from the desc (and files) records.
func (h *Handle) loadSyncDB(repo string) ([]*Package, error) {
	path := h.SyncDBPath(repo)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		h.logger.Warnf("database file for %s does not exist (use -y to download)", repo)
		return nil, nil
	}

	r, err := archive.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	defer func() { _ = r.Close() }()

	type entry struct {
		desc  descRecord
		files descRecord
	}
	byDir := make(map[string]*entry)
	var order []string

	var (
		current string // "desc" or "files" when collecting
		dir     string
		buf     bytes.Buffer
	)

	flush := func() error {
		if current == "" {
			return nil
		}
		rec, perr := parseDesc(&buf)
		if perr != nil {
			return fmt.Errorf("database %s entry %s: %w", path, dir, perr)
		}
		e := byDir[dir]
		if e == nil {
			e = &entry{}
			byDir[dir] = e
			order = append(order, dir)
		}
		if current == "desc" {
			e.desc = rec
		} else {
			e.files = rec
		}
		current = ""
		return nil
	}

	for {
		ev := r.Next()
		switch ev.Kind {
		case archive.EntryStart:
			if err := flush(); err != nil {
				return nil, err
			}
			buf.Reset()
			d, base := filepath.Split(ev.Header.Path)
			if ev.Header.IsRegular() && (base == "desc" || base == "files") {
				current = base
				dir = strings.TrimSuffix(d, "/")
			}
		case archive.DataChunk:
			if current != "" {
				buf.Write(ev.Data)
			}
		case archive.EntryEnd:
			// Flushed lazily on the next start or at end of stream.
		case archive.Error:
			return nil, fmt.Errorf("reading database %s: %w", path, ev.Err)
		case archive.EndOfArchive:
			if err := flush(); err != nil {
				return nil, err
			}
			pkgs := make([]*Package, 0, len(order))
			for _, d := range order {
				e := byDir[d]
				if e.desc == nil {
					continue
				}
				pkg := &Package{
					Name:     e.desc.first("NAME"),
					Version:  e.desc.first("VERSION"),
					Filename: e.desc.first("FILENAME"),
					SHA256:   e.desc.first("SHA256SUM"),
					Repo:     repo,
				}
				if e.files != nil && e.files.has("FILES") {
					pkg.SetManifest(e.files["FILES"])
				}
				if pkg.Name != "" {
					pkgs = append(pkgs, pkg)
				}
			}
			return pkgs, nil
		}
	}
}

// loadLocalPackage reads one local database directory. Directories
// without a desc file (like ALPM_DB_VERSION markers) are ignored.
func (h *Handle) loadLocalPackage(dir string) (*Package, error) {
	descBytes, err := os.ReadFile(filepath.Join(dir, "desc"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading local package %s: %w", dir, err)
	}

	rec, err := parseDesc(bytes.NewReader(descBytes))
	if err != nil {
		return nil, fmt.Errorf("local package %s: %w", dir, err)
	}

	pkg := &Package{
		Name:    rec.first("NAME"),
		Version: rec.first("VERSION"),
	}
	if pkg.Name == "" {
		return nil, nil
	}

	filesBytes, err := os.ReadFile(filepath.Join(dir, "files"))
	if err == nil {
		filesRec, perr := parseDesc(bytes.NewReader(filesBytes))
		if perr != nil {
			return nil, fmt.Errorf("local package %s: %w", dir, perr)
		}
		if filesRec.has("FILES") {
			pkg.SetManifest(filesRec["FILES"])
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading local package %s: %w", dir, err)
	}

	return pkg, nil
}
