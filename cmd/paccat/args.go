// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Morganamilo/paccat/internal/config"
	"github.com/Morganamilo/paccat/internal/pacmanconf"
)

// splitArgs separates targets from file patterns. Arguments after a
// "--" separator are patterns; without one the first argument is the
// target and the rest are patterns.
func splitArgs(args []string, dash int) (targets, patterns []string) {
	if dash >= 0 {
		return args[:dash], args[dash:]
	}
	if len(args) == 0 {
		return nil, nil
	}
	return args[:1], args[1:]
}

// expandStdinPatterns replaces a bare "-" in the pattern list with
// newline-separated patterns read from stdin.
func expandStdinPatterns(patterns []string, stdin io.Reader) ([]string, error) {
	out := make([]string, 0, len(patterns))
	read := false
	for _, p := range patterns {
		if p != "-" {
			out = append(out, p)
			continue
		}
		if read {
			continue
		}
		read = true
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			if line := sc.Text(); line != "" {
				out = append(out, line)
			}
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("failed to read patterns from stdin: %w", err)
		}
	}
	return out, nil
}

// colorEnabled resolves a color mode against terminal detection.
func colorEnabled(when config.ColorMode, tty bool) (bool, error) {
	switch when {
	case config.ColorAlways:
		return true, nil
	case config.ColorNever:
		return false, nil
	case config.ColorAuto, "":
		return tty, nil
	default:
		return false, fmt.Errorf("invalid color mode %q (expected auto, always or never)", when)
	}
}

// pickCacheDir chooses the download cache directory: the command line
// wins, then paccat's own config, then the first usable pacman cache
// directory, then a per-user cache under $XDG_CACHE_HOME.
func pickCacheDir(flagDir, cfgDir string, conf *pacmanconf.Config) (string, error) {
	if flagDir != "" {
		return flagDir, nil
	}
	if cfgDir != "" {
		return cfgDir, nil
	}
	for _, dir := range conf.CacheDirs {
		if dirWritable(dir) {
			return dir, nil
		}
	}

	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate a cache directory: %w", err)
	}
	dir := filepath.Join(base, "paccat")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	return dir, nil
}

// dirWritable reports whether dir exists and the current user can
// create files in it.
func dirWritable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.CreateTemp(dir, ".paccat-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
