// SPDX-License-Identifier: MPL-2.0

// Package archive decodes package archives into a flat event stream:
// entry start, data chunks, entry end, and a terminal end-of-archive or
// error event. Consumers drive the stream strictly in order; no entry
// data is buffered beyond one chunk.
//
// Compression is sniffed from magic bytes, so .pkg.tar.zst, .pkg.tar.gz
// and plain tar archives are all handled transparently.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/klauspost/compress/zstd"
)

// chunkSize bounds how much entry data is held in memory at once.
const chunkSize = 32 * 1024

// ErrUnsupportedFormat indicates the byte stream is neither a known
// compression format nor a plain tar archive.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// EventKind discriminates the events produced by Reader.Next.
type EventKind int

const (
	// EntryStart introduces a new archive entry; Event.Header is set.
	EntryStart EventKind = iota
	// DataChunk carries the next slice of the current entry's content;
	// Event.Data is valid only until the following Next call.
	DataChunk
	// EntryEnd marks the end of the current entry's content.
	EntryEnd
	// EndOfArchive marks a clean end of the whole stream.
	EndOfArchive
	// Error marks a decode failure; Event.Err is set and the stream is
	// dead.
	Error
)

// Header describes one archive entry.
type Header struct {
	// Path is the entry path as stored in the archive, without a
	// leading "./" or "/".
	Path string
	// Mode holds the POSIX permission and type bits.
	Mode fs.FileMode
	// UID and GID record the archive-stored ownership.
	UID int
	GID int
	// Size is the entry size in bytes, when known.
	Size int64
	// regular is true for plain files; only those are eligible for
	// matching.
	regular bool
}

// IsRegular reports whether the entry is a regular file.
func (h *Header) IsRegular() bool { return h.regular }

// IsExecutable reports whether any execute bit is set on the entry.
func (h *Header) IsExecutable() bool { return h.Mode&0o111 != 0 }

// Event is one step of the decode stream.
type Event struct {
	Kind   EventKind
	Header *Header
	Data   []byte
	Err    error
}

// Reader drives a tar stream as a sequence of events.
type Reader struct {
	tr      *tar.Reader
	closers []io.Closer
	buf     [chunkSize]byte
	inEntry bool
	done    bool
}

// Open opens the archive file at path and prepares an event stream over
// its entries.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	r.closers = append(r.closers, f)
	return r, nil
}

// NewReader wraps raw in the decompressor indicated by its magic bytes
// and returns the event stream over the contained tar archive.
func NewReader(raw io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(raw, chunkSize)

	magic, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("sniffing archive magic: %w", err)
	}

	r := &Reader{}
	switch {
	case len(magic) >= 4 && bytes.Equal(magic, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		zr, zerr := zstd.NewReader(br)
		if zerr != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", zerr)
		}
		r.closers = append(r.closers, zr.IOReadCloser())
		r.tr = tar.NewReader(zr)
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		gz, gerr := gzip.NewReader(br)
		if gerr != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", gerr)
		}
		r.closers = append(r.closers, gz)
		r.tr = tar.NewReader(gz)
	default:
		// Assume plain tar; the first Next surfaces corruption.
		r.tr = tar.NewReader(br)
	}
	return r, nil
}

// Next returns the next event. After EndOfArchive or Error every further
// call repeats the terminal event.
func (r *Reader) Next() Event {
	if r.done {
		return Event{Kind: EndOfArchive}
	}

	if r.inEntry {
		n, err := r.tr.Read(r.buf[:])
		if n > 0 {
			return Event{Kind: DataChunk, Data: r.buf[:n]}
		}
		r.inEntry = false
		if err != nil && !errors.Is(err, io.EOF) {
			return r.fail(err)
		}
		return Event{Kind: EntryEnd}
	}

	hdr, err := r.tr.Next()
	if errors.Is(err, io.EOF) {
		r.done = true
		return Event{Kind: EndOfArchive}
	}
	if err != nil {
		return r.fail(err)
	}

	// Every entry gets a matching EntryEnd; non-regular entries simply
	// carry no data chunks.
	r.inEntry = true
	fi := hdr.FileInfo()
	return Event{Kind: EntryStart, Header: &Header{
		Path:    cleanPath(hdr.Name),
		Mode:    fi.Mode(),
		UID:     hdr.Uid,
		GID:     hdr.Gid,
		Size:    hdr.Size,
		regular: hdr.Typeflag == tar.TypeReg,
	}}
}

func (r *Reader) fail(err error) Event {
	r.done = true
	return Event{Kind: Error, Err: fmt.Errorf("decoding archive entry: %w", err)}
}

// Close releases the underlying file and decompressor resources.
func (r *Reader) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if cerr := r.closers[i].Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// cleanPath strips the "./" and "/" prefixes tar writers commonly add so
// entry paths compare against rootless patterns.
func cleanPath(name string) string {
	for {
		switch {
		case len(name) >= 2 && name[0] == '.' && name[1] == '/':
			name = name[2:]
		case len(name) >= 1 && name[0] == '/':
			name = name[1:]
		default:
			return name
		}
	}
}
