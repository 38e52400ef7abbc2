package crdt

import "testing"

func TestFromTextAndText(t *testing.T) {
	doc := FromText("hello", 1)
	if doc.Text() != "hello" {
		t.Errorf("expected 'hello', got %q", doc.Text())
	}

	empty := FromText("", 1)
	if empty.Text() != "" {
		t.Errorf("expected empty text, got %q", empty.Text())
	}
}

func TestApplyLocalEditInsertAndDelete(t *testing.T) {
	doc := FromText("hello", 1)

	if err := doc.ApplyLocalEdit(5, 0, " world"); err != nil {
		t.Fatalf("insert at end failed: %v", err)
	}
	if doc.Text() != "hello world" {
		t.Errorf("expected 'hello world', got %q", doc.Text())
	}

	if err := doc.ApplyLocalEdit(0, 6, "Say: "); err != nil {
		t.Fatalf("replace range failed: %v", err)
	}
	if doc.Text() != "Say: world" {
		t.Errorf("expected 'Say: world', got %q", doc.Text())
	}
}

func TestApplyLocalEditOutOfBounds(t *testing.T) {
	doc := FromText("hi", 1)
	if err := doc.ApplyLocalEdit(5, 0, "x"); err == nil {
		t.Error("expected error for out-of-range offset")
	}
}

func TestApplyRemoteUpdateConverges(t *testing.T) {
	a := New(1)
	b := New(2)

	var pending []byte
	a.OnUpdate(func(u []byte, origin Origin) {
		if origin == OriginLocal {
			pending = u
		}
	})

	if err := a.ApplyLocalEdit(0, 0, "hi"); err != nil {
		t.Fatalf("local edit failed: %v", err)
	}
	if err := b.ApplyRemoteUpdate(pending, "a"); err != nil {
		t.Fatalf("remote apply failed: %v", err)
	}

	if a.Text() != b.Text() {
		t.Errorf("expected convergence, got %q vs %q", a.Text(), b.Text())
	}
}

func TestApplyRemoteUpdateIsIdempotent(t *testing.T) {
	a := New(1)
	b := New(2)

	var pending []byte
	a.OnUpdate(func(u []byte, origin Origin) { pending = u })
	_ = a.ApplyLocalEdit(0, 0, "abc")

	if err := b.ApplyRemoteUpdate(pending, "a"); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if err := b.ApplyRemoteUpdate(pending, "a"); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}

	if b.Text() != "abc" {
		t.Errorf("expected idempotent replay to leave text 'abc', got %q", b.Text())
	}
}

func TestApplyRemoteUpdateCommutes(t *testing.T) {
	src := New(1)
	_ = src.ApplyLocalEdit(0, 0, "ab")

	var updateX, updateY []byte
	src.OnUpdate(func(u []byte, origin Origin) {
		if updateX == nil {
			updateX = u
		} else {
			updateY = u
		}
	})
	_ = src.ApplyLocalEdit(1, 0, "X")
	_ = src.ApplyLocalEdit(2, 0, "Y")

	seed := FromText("ab", 1).Snapshot()

	peerXY, err := FromSnapshot(seed, 2)
	if err != nil {
		t.Fatalf("snapshot restore failed: %v", err)
	}
	peerYX, err := FromSnapshot(seed, 3)
	if err != nil {
		t.Fatalf("snapshot restore failed: %v", err)
	}

	if err := peerXY.ApplyRemoteUpdate(updateX, "src"); err != nil {
		t.Fatalf("peerXY apply x failed: %v", err)
	}
	if err := peerXY.ApplyRemoteUpdate(updateY, "src"); err != nil {
		t.Fatalf("peerXY apply y failed: %v", err)
	}

	if err := peerYX.ApplyRemoteUpdate(updateY, "src"); err != nil {
		t.Fatalf("peerYX apply y failed: %v", err)
	}
	if err := peerYX.ApplyRemoteUpdate(updateX, "src"); err != nil {
		t.Fatalf("peerYX apply x failed: %v", err)
	}

	if peerXY.Text() != peerYX.Text() {
		t.Errorf("expected commutative application to converge: %q vs %q", peerXY.Text(), peerYX.Text())
	}
}

func TestConvergeTextNoopOnEqualText(t *testing.T) {
	doc := FromText("same", 1)
	notified := false
	doc.OnUpdate(func(u []byte, origin Origin) { notified = true })

	if err := doc.ConvergeText("same"); err != nil {
		t.Fatalf("converge failed: %v", err)
	}
	if notified {
		t.Error("expected no update notification when text already matches")
	}
}

func TestConvergeTextRewritesOnDifference(t *testing.T) {
	doc := FromText("old", 1)
	if err := doc.ConvergeText("new"); err != nil {
		t.Fatalf("converge failed: %v", err)
	}
	if doc.Text() != "new" {
		t.Errorf("expected 'new', got %q", doc.Text())
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	doc := FromText("roundtrip", 1)
	snap := doc.Snapshot()

	restored, err := FromSnapshot(snap, 2)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored.Text() != doc.Text() {
		t.Errorf("expected %q, got %q", doc.Text(), restored.Text())
	}
}

func TestApplyRemoteUpdateRejectsGarbage(t *testing.T) {
	doc := New(1)
	if err := doc.ApplyRemoteUpdate([]byte("not json"), "x"); err == nil {
		t.Error("expected error for malformed update bytes")
	}
}
