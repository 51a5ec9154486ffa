// Package golden compares console transcripts against files under
// testdata.
package golden

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Compare checks got against the transcript at path. With update set, the
// file is rewritten instead. When dumpDir is non-empty a mismatching
// transcript is written there for inspection.
func Compare(path string, update bool, dumpDir string, got []byte) error {
	got = normalize(got)
	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return err
		}
		return os.WriteFile(path, got, 0o640)
	}
	want, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	want = normalize(want)
	if bytes.Equal(got, want) {
		return nil
	}
	if dumpDir != "" {
		fpath := filepath.Join(dumpDir, filepath.Base(path)+".got")
		if err := os.WriteFile(fpath, got, 0o640); err != nil {
			return err
		}
	}
	gl, wl := bytes.Split(got, []byte("\n")), bytes.Split(want, []byte("\n"))
	mismatches, first := 0, -1
	for i := range min(len(gl), len(wl)) {
		if !bytes.Equal(gl[i], wl[i]) {
			mismatches++
			if first == -1 {
				first = i
			}
		}
	}
	if first == -1 {
		first = min(len(gl), len(wl))
	}
	var g, w []byte
	if first < len(gl) {
		g = gl[first]
	}
	if first < len(wl) {
		w = wl[first]
	}
	return fmt.Errorf("%s: line counts %d, %d with %d mismatches; line %d: got %q, want %q",
		path, len(gl), len(wl), mismatches, first+1, g, w)
}

// normalize strips carriage returns so transcripts compare the same
// regardless of line ending conversion.
func normalize(b []byte) []byte {
	return bytes.ReplaceAll(b, []byte("\r"), nil)
}
