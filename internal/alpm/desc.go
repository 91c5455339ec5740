// SPDX-License-Identifier: MPL-2.0

package alpm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// descRecord holds one parsed %FIELD% block file, as found in sync
// database entries (desc, files) and local database directories.
type descRecord map[string][]string

// parseDesc reads the pacman database record format: a %FIELD% header
// line followed by one value per line, blocks separated by blank lines.
func parseDesc(r io.Reader) (descRecord, error) {
	rec := make(descRecord)
	var field string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			field = ""
		case strings.HasPrefix(line, "%") && strings.HasSuffix(line, "%") && len(line) > 2:
			field = line[1 : len(line)-1]
			if _, ok := rec[field]; !ok {
				rec[field] = nil
			}
		case field != "":
			rec[field] = append(rec[field], line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading database record: %w", err)
	}
	return rec, nil
}

// first returns the first value of a field, or "".
func (r descRecord) first(field string) string {
	if vals := r[field]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// has reports whether the field block was present at all, even empty.
func (r descRecord) has(field string) bool {
	_, ok := r[field]
	return ok
}
