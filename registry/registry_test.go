package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"svsmate/apperr"
	"svsmate/crdt"
)

type fakeEditor struct {
	text string
}

func (f *fakeEditor) ReplaceBuffer(text string) error {
	f.text = text
	return nil
}

func TestCreateOwnedReadsFileAndSeedsCRDT(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	r := New(0, 1)
	meta, err := r.CreateOwned("f1", "a.txt", "server", path, 1)
	if err != nil {
		t.Fatalf("create owned: %v", err)
	}
	if !meta.IsOwner {
		t.Error("expected IsOwner true")
	}

	text, err := r.Text("f1")
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if text != "hello" {
		t.Errorf("expected 'hello', got %q", text)
	}
}

func TestCreateOwnedDuplicateIsAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	_ = os.WriteFile(path, []byte("x"), 0o644)

	r := New(0, 1)
	if _, err := r.CreateOwned("f1", "a.txt", "server", path, 1); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := r.CreateOwned("f1", "a.txt", "server", path, 1); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateOwnedMissingFileIsIoError(t *testing.T) {
	r := New(0, 1)
	if _, err := r.CreateOwned("f1", "a.txt", "server", "/no/such/path", 1); !errors.Is(err, apperr.ErrIoError) {
		t.Errorf("expected ErrIoError, got %v", err)
	}
}

func TestCreateFromContentConvergesExisting(t *testing.T) {
	r := New(0, 1)
	if _, err := r.CreateFromContent("f1", "a.txt", "server", "hello", 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.CreateFromContent("f1", "a.txt", "server", "world", 1); err != nil {
		t.Fatalf("converge: %v", err)
	}
	text, _ := r.Text("f1")
	if text != "world" {
		t.Errorf("expected 'world', got %q", text)
	}
}

func TestApplyUpdateQueuesForUnknownFileID(t *testing.T) {
	r := New(0, 1)

	result, err := r.ApplyUpdate("ghost", []byte(`{"ops":[]}`), "peer")
	if err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if result != Queued {
		t.Errorf("expected Queued, got %v", result)
	}
}

func TestApplyUpdateRefreshesRegisteredEditor(t *testing.T) {
	r := New(0, 1)
	if _, err := r.CreateFromContent("f1", "a.txt", "server", "ab", 1); err != nil {
		t.Fatalf("create: %v", err)
	}

	var captured []byte
	r.OnUpdate(func(fileID string, update []byte, origin crdt.Origin) {
		if origin == crdt.OriginLocal {
			captured = update
		}
	})
	if err := r.ApplyEditorChange("f1", 2, 0, "c"); err != nil {
		t.Fatalf("editor change: %v", err)
	}
	if captured == nil {
		t.Fatal("expected a captured update from the editor change")
	}

	editor := &fakeEditor{}
	if err := r.RegisterEditor("f1", editor); err != nil {
		t.Fatalf("register editor: %v", err)
	}

	if _, err := r.ApplyUpdate("f1", captured, "peer-2"); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	if editor.text != "abc" {
		t.Errorf("expected editor buffer 'abc', got %q", editor.text)
	}
}

func TestApplyEditorChangeUnknownFileIDIsNotFound(t *testing.T) {
	r := New(0, 1)
	if err := r.ApplyEditorChange("ghost", 0, 0, "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveToDiskOnlyWritesForOwner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	_ = os.WriteFile(path, []byte("hello"), 0o644)

	r := New(0, 1)
	if _, err := r.CreateOwned("f1", "a.txt", "server", path, 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.ApplyEditorChange("f1", 5, 0, " world"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := r.SaveToDisk("f1"); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("expected 'hello world', got %q", data)
	}

	if _, err := r.CreateFromContent("f2", "b.txt", "other", "shared", 1); err != nil {
		t.Fatalf("create non-owned: %v", err)
	}
	if err := r.SaveToDisk("f2"); err != nil {
		t.Fatalf("save non-owned should no-op, got: %v", err)
	}
}

func TestConcurrentContentSeededEditsAtSameOffsetConverge(t *testing.T) {
	regA := New(0, 1)
	regB := New(0, 2)

	if _, err := regA.CreateFromContent("f1", "ab.txt", "server", "ab", 1); err != nil {
		t.Fatalf("seed A: %v", err)
	}
	if _, err := regB.CreateFromContent("f1", "ab.txt", "server", "ab", 1); err != nil {
		t.Fatalf("seed B: %v", err)
	}

	var updateX, updateY []byte
	regA.OnUpdate(func(fileID string, update []byte, origin crdt.Origin) {
		if origin == crdt.OriginLocal {
			updateX = update
		}
	})
	regB.OnUpdate(func(fileID string, update []byte, origin crdt.Origin) {
		if origin == crdt.OriginLocal {
			updateY = update
		}
	})

	// Concurrent same-offset inserts, each originating at a different peer
	// seeded independently from identical content (not a shared snapshot),
	// mirroring the real non-owner bootstrap path (documentList/
	// documentShared -> CreateFromContent).
	if err := regA.ApplyEditorChange("f1", 1, 0, "X"); err != nil {
		t.Fatalf("local edit A: %v", err)
	}
	if err := regB.ApplyEditorChange("f1", 1, 0, "Y"); err != nil {
		t.Fatalf("local edit B: %v", err)
	}
	if updateX == nil || updateY == nil {
		t.Fatal("expected both peers to emit a local update")
	}

	if _, err := regA.ApplyUpdate("f1", updateY, "peer-b"); err != nil {
		t.Fatalf("apply Y on A: %v", err)
	}
	if _, err := regB.ApplyUpdate("f1", updateX, "peer-a"); err != nil {
		t.Fatalf("apply X on B: %v", err)
	}

	textA, err := regA.Text("f1")
	if err != nil {
		t.Fatalf("text A: %v", err)
	}
	textB, err := regB.Text("f1")
	if err != nil {
		t.Fatalf("text B: %v", err)
	}
	if textA != textB {
		t.Fatalf("expected convergence, got %q vs %q", textA, textB)
	}
	if len(textA) != 4 || !containsRune(textA, 'X') || !containsRune(textA, 'Y') {
		t.Errorf("expected converged text to contain both X and Y, got %q", textA)
	}
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}

func TestAllMetadataExcludesPlaceholders(t *testing.T) {
	r := New(0, 1)
	_, _ = r.ApplyUpdate("ghost", []byte(`{"ops":[]}`), "peer")
	if len(r.AllMetadata()) != 0 {
		t.Error("expected placeholder-only queue entries to be excluded from metadata")
	}
}
