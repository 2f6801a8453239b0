package resumestate

import (
	"testing"

	"drivearchive/pkg/config"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	settings := config.Defaults()
	settings.RemoteRestoreParentID = "parent-1"

	s := New(settings, "/tmp/original.zip", "2024-01-02T03:04:05Z")
	s.MergeBag(bagOf("X1.txt", "X2.docx"))

	if err := Save(dir, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Count() != 2 {
		t.Fatalf("expected 2 completed paths, got %d", loaded.Count())
	}
	if !loaded.IsCompleted("x1.txt") {
		t.Error("expected case-insensitive completed lookup to succeed")
	}
	if loaded.SettingsUsed.RemoteRestoreParentID != "parent-1" {
		t.Errorf("expected settings snapshot to round-trip, got %+v", loaded.SettingsUsed)
	}
}

func TestLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMergeBagDedupesCaseInsensitive(t *testing.T) {
	s := New(config.Defaults(), "", "")
	s.MergeBag(bagOf("X1.txt"))
	s.MergeBag(bagOf("x1.txt", "X2.txt"))

	if s.Count() != 2 {
		t.Fatalf("expected dedup to leave 2 entries, got %d", s.Count())
	}
}

func bagOf(paths ...string) *CompletedBag {
	b := &CompletedBag{}
	for _, p := range paths {
		b.Add(p)
	}
	return b
}
