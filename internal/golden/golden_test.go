package golden

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCompare(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "testdata", "session.txt")
	if err := Compare(path, true, "", []byte("> help\r\nAvailable\r\n")); err != nil {
		t.Fatal(err)
	}
	if err := Compare(path, false, "", []byte("> help\nAvailable\n")); err != nil {
		t.Errorf("equal transcript: %v", err)
	}
	dump := t.TempDir()
	err := Compare(path, false, dump, []byte("> help\nUnknown\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("mismatch error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dump, "session.txt.got")); err != nil {
		t.Errorf("no dump: %v", err)
	}
	if err := Compare(path, false, "", []byte("> help\nAvailable\nmore\n")); err == nil {
		t.Error("longer transcript compared equal")
	}
	if err := Compare(filepath.Join(dir, "missing.txt"), false, "", nil); err == nil {
		t.Error("missing file compared equal")
	}
}
