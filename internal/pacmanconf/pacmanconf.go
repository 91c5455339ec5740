// SPDX-License-Identifier: MPL-2.0

// Package pacmanconf loads the system pacman configuration: root and
// database paths, cache directories, signature trust levels, and the
// repository list with its mirror servers.
//
// The format is ini-shaped but not ini: keys repeat (Server, CacheDir),
// values may be bare (Color), and Include directives splice other files
// into the current section. That rules out generic ini loaders, so the
// parser below walks the file line by line.
package pacmanconf

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Default filesystem locations, overridable per run.
const (
	DefaultPath    = "/etc/pacman.conf"
	DefaultRootDir = "/"
	DefaultDBPath  = "/var/lib/pacman/"
)

// TrustLevel is one configured verification strictness.
type TrustLevel int

const (
	// TrustRequired demands a valid digest/signature for the file.
	TrustRequired TrustLevel = iota
	// TrustOptional verifies when trust data exists and passes when it
	// is missing.
	TrustOptional
	// TrustNever skips verification entirely.
	TrustNever
)

// Repo is one sync repository section with its expanded server URLs.
type Repo struct {
	Name    string
	Servers []string
}

// Config is the parsed pacman configuration.
type Config struct {
	RootDir   string
	DBPath    string
	CacheDirs []string
	Arch      string

	// SigLevel applies to repository downloads, LocalFileSigLevel to
	// pre-existing local files, RemoteFileSigLevel to user-supplied URL
	// downloads.
	SigLevel           TrustLevel
	LocalFileSigLevel  TrustLevel
	RemoteFileSigLevel TrustLevel

	Repos []Repo
}

// Options adjust where the configuration is read from.
type Options struct {
	// Path overrides the config file location (default /etc/pacman.conf).
	Path string
	// RootDir overrides the configured root directory.
	RootDir string
	// DBPath overrides the configured database path.
	DBPath string
}

// Repo returns the repository with the given name, or nil.
func (c *Config) Repo(name string) *Repo {
	for i := range c.Repos {
		if c.Repos[i].Name == name {
			return &c.Repos[i]
		}
	}
	return nil
}

// Load reads and parses the pacman configuration, applying defaults and
// the overrides in opts.
func Load(opts Options) (*Config, error) {
	path := opts.Path
	if path == "" {
		path = DefaultPath
	}

	c := &Config{
		RootDir:            DefaultRootDir,
		DBPath:             DefaultDBPath,
		Arch:               hostArch(),
		SigLevel:           TrustOptional,
		LocalFileSigLevel:  TrustOptional,
		RemoteFileSigLevel: TrustOptional,
	}

	if err := c.parseFile(path, ""); err != nil {
		return nil, err
	}

	if opts.RootDir != "" {
		c.RootDir = opts.RootDir
	}
	if opts.DBPath != "" {
		c.DBPath = opts.DBPath
	}
	if len(c.CacheDirs) == 0 {
		c.CacheDirs = []string{"/var/cache/pacman/pkg/"}
	}
	return c, nil
}

// parseFile parses one file into c. section carries the active section
// across Include boundaries, matching pacman's splice semantics.
func (c *Config) parseFile(path, section string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening pacman config %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			if section != "options" && c.Repo(section) == nil {
				c.Repos = append(c.Repos, Repo{Name: section})
			}
			continue
		}

		key, value, _ := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if key == "Include" {
			if err := c.includeFiles(value, section); err != nil {
				return err
			}
			continue
		}
		c.apply(section, key, value)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading pacman config %s: %w", path, err)
	}
	return nil
}

// includeFiles glob-expands value and splices each match into the
// current section. A pattern with no matches is not an error, matching
// pacman's tolerance for empty mirrorlist globs.
func (c *Config) includeFiles(pattern, section string) error {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("expanding Include %q: %w", pattern, err)
	}
	for _, m := range matches {
		if err := c.parseFile(m, section); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) apply(section, key, value string) {
	if section != "options" && section != "" {
		if key == "Server" {
			repo := c.Repo(section)
			repo.Servers = append(repo.Servers, expandServer(value, section, c.Arch))
		}
		return
	}

	switch key {
	case "RootDir":
		c.RootDir = value
	case "DBPath":
		c.DBPath = value
	case "CacheDir":
		c.CacheDirs = append(c.CacheDirs, value)
	case "Architecture":
		if value != "" && value != "auto" {
			c.Arch = strings.Fields(value)[0]
		}
	case "SigLevel":
		c.SigLevel = parseTrustLevel(value, c.SigLevel)
	case "LocalFileSigLevel":
		c.LocalFileSigLevel = parseTrustLevel(value, c.LocalFileSigLevel)
	case "RemoteFileSigLevel":
		c.RemoteFileSigLevel = parseTrustLevel(value, c.RemoteFileSigLevel)
	}
}

// parseTrustLevel folds a space-separated SigLevel value into one
// strictness. Package-scoped qualifiers win over database ones since
// only package files pass through the verification gate here.
func parseTrustLevel(value string, fallback TrustLevel) TrustLevel {
	level := fallback
	for _, word := range strings.Fields(value) {
		switch word {
		case "Required", "PackageRequired":
			level = TrustRequired
		case "Optional", "PackageOptional":
			level = TrustOptional
		case "Never", "PackageNever":
			level = TrustNever
		}
	}
	return level
}

// expandServer substitutes the $repo and $arch variables in a Server
// template URL.
func expandServer(server, repo, arch string) string {
	server = strings.ReplaceAll(server, "$repo", repo)
	return strings.ReplaceAll(server, "$arch", arch)
}

// hostArch maps the Go architecture name onto pacman's convention.
func hostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "i686"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}
