// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/klauspost/compress/zstd"
)

type fileSpec struct {
	name     string
	body     string
	mode     int64
	typeflag byte
}

func buildTar(t *testing.T, files []fileSpec) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range files {
		typeflag := f.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		mode := f.mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{
			Name:     f.name,
			Mode:     mode,
			Size:     int64(len(f.body)),
			Typeflag: typeflag,
			Uid:      1000,
			Gid:      1000,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("writing header %s: %v", f.name, err)
		}
		if typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(f.body)); err != nil {
				t.Fatalf("writing body %s: %v", f.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}
	return buf.Bytes()
}

func collect(t *testing.T, r *Reader) []Event {
	t.Helper()

	var events []Event
	for {
		ev := r.Next()
		if ev.Kind == DataChunk {
			// Data is only valid until the next call.
			ev.Data = append([]byte(nil), ev.Data...)
		}
		events = append(events, ev)
		if ev.Kind == EndOfArchive || ev.Kind == Error {
			return events
		}
	}
}

func TestReader_PlainTarEventOrder(t *testing.T) {
	t.Parallel()

	raw := buildTar(t, []fileSpec{
		{name: "./usr/bin/tool", body: "#!/bin/sh\n", mode: 0o755},
		{name: "usr/share/doc", typeflag: tar.TypeDir},
	})

	r, err := NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collect(t, r)

	wantKinds := []EventKind{EntryStart, DataChunk, EntryEnd, EntryStart, EntryEnd, EndOfArchive}
	if len(events) != len(wantKinds) {
		t.Fatalf("got %d events, want %d", len(events), len(wantKinds))
	}
	for i, k := range wantKinds {
		if events[i].Kind != k {
			t.Errorf("event[%d].Kind = %v, want %v", i, events[i].Kind, k)
		}
	}

	if events[0].Header.Path != "usr/bin/tool" {
		t.Errorf("Path = %q, want leading ./ stripped", events[0].Header.Path)
	}
	if !events[0].Header.IsRegular() {
		t.Error("regular file should report IsRegular")
	}
	if !events[0].Header.IsExecutable() {
		t.Error("mode 0755 should report IsExecutable")
	}
	if string(events[1].Data) != "#!/bin/sh\n" {
		t.Errorf("Data = %q", events[1].Data)
	}
	if events[3].Header.IsRegular() {
		t.Error("directory entry should not report IsRegular")
	}
}

func TestReader_GzipAndZstdSniffing(t *testing.T) {
	t.Parallel()

	raw := buildTar(t, []fileSpec{{name: "etc/hosts", body: "localhost\n"}})

	var gzBuf bytes.Buffer
	gz := gzip.NewWriter(&gzBuf)
	if _, err := gz.Write(raw); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	var zstBuf bytes.Buffer
	zw, err := zstd.NewWriter(&zstBuf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := zw.Write(raw); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"gzip", gzBuf.Bytes()},
		{"zstd", zstBuf.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, err := NewReader(bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer func() { _ = r.Close() }()

			events := collect(t, r)
			if events[0].Kind != EntryStart || events[0].Header.Path != "etc/hosts" {
				t.Fatalf("first event = %+v, want etc/hosts start", events[0])
			}

			var content []byte
			for _, ev := range events {
				if ev.Kind == DataChunk {
					content = append(content, ev.Data...)
				}
			}
			if string(content) != "localhost\n" {
				t.Errorf("content = %q", content)
			}
		})
	}
}

func TestReader_CorruptArchive(t *testing.T) {
	t.Parallel()

	r, err := NewReader(bytes.NewReader(bytes.Repeat([]byte{0x42}, 2048)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collect(t, r)
	last := events[len(events)-1]
	if last.Kind != Error || last.Err == nil {
		t.Fatalf("last event = %+v, want decode error", last)
	}

	// The stream stays dead after a decode error.
	if ev := r.Next(); ev.Kind != EndOfArchive {
		t.Errorf("post-error Next() = %+v, want EndOfArchive", ev)
	}
}

func TestReader_ChunkingLargeEntry(t *testing.T) {
	t.Parallel()

	body := bytes.Repeat([]byte("x"), chunkSize*2+17)
	raw := buildTar(t, []fileSpec{{name: "big.bin", body: string(body)}})

	r, err := NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var total int
	for {
		ev := r.Next()
		if ev.Kind == DataChunk {
			if len(ev.Data) > chunkSize {
				t.Fatalf("chunk of %d bytes exceeds bound %d", len(ev.Data), chunkSize)
			}
			total += len(ev.Data)
		}
		if ev.Kind == EndOfArchive {
			break
		}
		if ev.Kind == Error {
			t.Fatalf("unexpected decode error: %v", ev.Err)
		}
	}
	if total != len(body) {
		t.Errorf("streamed %d bytes, want %d", total, len(body))
	}
}

func TestReader_EOFOnEmptyInput(t *testing.T) {
	t.Parallel()

	r, err := NewReader(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := r.Next()
	if ev.Kind != Error && ev.Kind != EndOfArchive {
		t.Fatalf("Next() on empty input = %+v", ev)
	}
}
