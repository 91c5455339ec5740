// SPDX-License-Identifier: MPL-2.0

package output

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/Morganamilo/paccat/internal/issue"
)

// fakePager writes a pager script that drains stdin and exits with the
// given code.
func fakePager(t *testing.T, exitCode int) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("pager scripts are POSIX-only")
	}
	path := filepath.Join(t.TempDir(), "pager")
	script := fmt.Sprintf("#!/bin/sh\ncat >/dev/null\nexit %d\n", exitCode)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing pager script: %v", err)
	}
	return path
}

func TestOpenStream_PassthroughWithoutColor(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	r := NewRouter(WithStdout(&out), WithColor(false), WithPager(fakePager(t, 0)))

	if err := r.OpenStream(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.IsPager() {
		t.Fatal("pager must not start when color is disabled")
	}
	if err := r.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.CloseEntry(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if out.String() != "hello\n" {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestOpenStream_PagerCleanExit(t *testing.T) {
	t.Parallel()

	r := NewRouter(WithColor(true), WithPager(fakePager(t, 0)))

	if err := r.OpenStream(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.IsPager() {
		t.Fatal("expected pager sink")
	}
	if err := r.Write([]byte("content\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.CloseEntry(); err != nil {
		t.Fatalf("pager close: %v", err)
	}
}

func TestCloseEntry_PagerFailureSurfaces(t *testing.T) {
	t.Parallel()

	r := NewRouter(WithColor(true), WithPager(fakePager(t, 3)))

	if err := r.OpenStream(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Write([]byte("content\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	err := r.CloseEntry()
	if err == nil {
		t.Fatal("expected error for pager exit code 3")
	}
	if !errors.Is(err, issue.ErrPager) {
		t.Errorf("error = %v, want ErrPager", err)
	}
}

func TestOpenStream_MissingPagerDegrades(t *testing.T) {
	t.Parallel()

	r := NewRouter(WithColor(true), WithPager(filepath.Join(t.TempDir(), "nope")))

	if err := r.OpenStream(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.IsPager() {
		t.Error("unstartable pager should degrade to pass-through")
	}
}

func TestDemote_PagerToPassthrough(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	r := NewRouter(WithStdout(&out), WithColor(true), WithPager(fakePager(t, 0)))

	if err := r.OpenStream(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Demote(); err != nil {
		t.Fatalf("demote: %v", err)
	}
	if r.IsPager() {
		t.Fatal("sink should be pass-through after demotion")
	}
	if err := r.Write([]byte{0x00, 0x01}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.CloseEntry(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !bytes.Equal(out.Bytes(), []byte{0x00, 0x01}) {
		t.Errorf("stdout = %v", out.Bytes())
	}
}

func TestOpenFile_ExtractionRoundTrip(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "nested", "dir", "file.txt")
	r := NewRouter()

	if err := r.OpenFile(dest, 0o640, 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.IsFile() {
		t.Fatal("expected file sink")
	}
	if err := r.Write([]byte("chunk one ")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.Write([]byte("chunk two")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.CloseEntry(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if string(got) != "chunk one chunk two" {
		t.Errorf("content = %q", got)
	}

	fi, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm() != 0o640 {
		t.Errorf("perm = %o, want 0640", fi.Mode().Perm())
	}
}

func TestOpenFile_ExtractionWinsOverStream(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	dest := filepath.Join(t.TempDir(), "file.txt")
	r := NewRouter(WithStdout(&out), WithColor(true), WithPager(fakePager(t, 0)))

	if err := r.OpenFile(dest, 0o644, 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Pass-through/pager open is a no-op once extraction is committed.
	if err := r.OpenStream(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.IsFile() {
		t.Fatal("file sink must survive OpenStream")
	}
	if err := r.Write([]byte("data")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.CloseEntry(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("stdout received %q during extraction", out.String())
	}
}

func TestOpenFile_ChownPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		elevated  bool
		preExists bool
		wantChown bool
	}{
		{"elevated new file", true, false, true},
		{"elevated existing file", true, true, false},
		{"unelevated new file", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dest := filepath.Join(t.TempDir(), "file.txt")
			if tt.preExists {
				if err := os.WriteFile(dest, []byte("old"), 0o644); err != nil {
					t.Fatalf("seeding destination: %v", err)
				}
			}

			chowned := false
			r := NewRouter(WithElevated(tt.elevated))
			r.chown = func(path string, uid, gid int) error {
				chowned = true
				if uid != 1000 || gid != 1000 {
					t.Errorf("chown uid/gid = %d/%d, want 1000/1000", uid, gid)
				}
				return nil
			}

			if err := r.OpenFile(dest, 0o644, 1000, 1000); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := r.CloseEntry(); err != nil {
				t.Fatalf("close: %v", err)
			}
			if chowned != tt.wantChown {
				t.Errorf("chown called = %v, want %v", chowned, tt.wantChown)
			}
		})
	}
}

func TestWrite_NoSink(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	if err := r.Write([]byte("x")); err == nil {
		t.Fatal("write without a sink must fail")
	}
}
