package credentials

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndRemove(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "credentials"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path, err := store.Write("task1", "# Netscape HTTP Cookie File\n")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Base(path) != "cookies_task1.txt" {
		t.Fatalf("unexpected path %q", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}

	if err := store.Remove("task1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected cookie file removed, got %v", err)
	}
	if err := store.Remove("task1"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestNewRequiresDir(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error")
	}
}
