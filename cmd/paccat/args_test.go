// SPDX-License-Identifier: MPL-2.0

package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Morganamilo/paccat/internal/config"
	"github.com/Morganamilo/paccat/internal/pacmanconf"
)

func TestSplitArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		args         []string
		dash         int
		wantTargets  []string
		wantPatterns []string
	}{
		{
			name:         "dash separator",
			args:         []string{"pacman", "linux", "pacman.conf"},
			dash:         2,
			wantTargets:  []string{"pacman", "linux"},
			wantPatterns: []string{"pacman.conf"},
		},
		{
			name:         "no dash first arg is target",
			args:         []string{"pacman", "pacman.conf", "makepkg.conf"},
			dash:         -1,
			wantTargets:  []string{"pacman"},
			wantPatterns: []string{"pacman.conf", "makepkg.conf"},
		},
		{
			name:         "dash at zero leaves no targets",
			args:         []string{"libalpm.so"},
			dash:         0,
			wantTargets:  []string{},
			wantPatterns: []string{"libalpm.so"},
		},
		{
			name: "empty",
			args: nil,
			dash: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			targets, patterns := splitArgs(tt.args, tt.dash)
			if len(targets) != len(tt.wantTargets) || (len(targets) > 0 && !reflect.DeepEqual(targets, tt.wantTargets)) {
				t.Errorf("targets = %v, want %v", targets, tt.wantTargets)
			}
			if len(patterns) != len(tt.wantPatterns) || (len(patterns) > 0 && !reflect.DeepEqual(patterns, tt.wantPatterns)) {
				t.Errorf("patterns = %v, want %v", patterns, tt.wantPatterns)
			}
		})
	}
}

func TestExpandStdinPatterns(t *testing.T) {
	t.Parallel()

	got, err := expandStdinPatterns(
		[]string{"a.conf", "-", "b.conf"},
		strings.NewReader("one\n\ntwo\n"),
	)
	if err != nil {
		t.Fatalf("expandStdinPatterns() error = %v", err)
	}
	want := []string{"a.conf", "one", "two", "b.conf"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("patterns = %v, want %v", got, want)
	}
}

func TestExpandStdinPatternsReadsOnce(t *testing.T) {
	t.Parallel()

	got, err := expandStdinPatterns(
		[]string{"-", "-"},
		strings.NewReader("only\n"),
	)
	if err != nil {
		t.Fatalf("expandStdinPatterns() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"only"}) {
		t.Errorf("patterns = %v, want [only]", got)
	}
}

func TestColorEnabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		when    config.ColorMode
		tty     bool
		want    bool
		wantErr bool
	}{
		{name: "always off terminal", when: config.ColorAlways, tty: false, want: true},
		{name: "never on terminal", when: config.ColorNever, tty: true, want: false},
		{name: "auto on terminal", when: config.ColorAuto, tty: true, want: true},
		{name: "auto off terminal", when: config.ColorAuto, tty: false, want: false},
		{name: "unset follows terminal", when: "", tty: true, want: true},
		{name: "invalid", when: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := colorEnabled(tt.when, tt.tty)
			if tt.wantErr {
				if err == nil {
					t.Fatal("colorEnabled() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("colorEnabled() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("colorEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPickCacheDirPrecedence(t *testing.T) {
	t.Parallel()

	writable := t.TempDir()
	conf := &pacmanconf.Config{CacheDirs: []string{writable}}

	got, err := pickCacheDir("/explicit", "/from-config", conf)
	if err != nil {
		t.Fatalf("pickCacheDir() error = %v", err)
	}
	if got != "/explicit" {
		t.Errorf("dir = %q, want flag value", got)
	}

	got, err = pickCacheDir("", "/from-config", conf)
	if err != nil {
		t.Fatalf("pickCacheDir() error = %v", err)
	}
	if got != "/from-config" {
		t.Errorf("dir = %q, want config value", got)
	}

	got, err = pickCacheDir("", "", conf)
	if err != nil {
		t.Fatalf("pickCacheDir() error = %v", err)
	}
	if got != writable {
		t.Errorf("dir = %q, want pacman cache dir %q", got, writable)
	}
}

func TestPickCacheDirSkipsUnusable(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "absent")
	usable := t.TempDir()
	conf := &pacmanconf.Config{CacheDirs: []string{missing, usable}}

	got, err := pickCacheDir("", "", conf)
	if err != nil {
		t.Fatalf("pickCacheDir() error = %v", err)
	}
	if got != usable {
		t.Errorf("dir = %q, want %q", got, usable)
	}
}

func TestPickCacheDirFallsBackToUserCache(t *testing.T) {
	cache := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cache)

	got, err := pickCacheDir("", "", &pacmanconf.Config{})
	if err != nil {
		t.Fatalf("pickCacheDir() error = %v", err)
	}
	want := filepath.Join(cache, "paccat")
	if got != want {
		t.Errorf("dir = %q, want %q", got, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("fallback directory not created: %v", err)
	}
}
