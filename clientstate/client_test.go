package clientstate

import (
	"os"
	"testing"
	"time"

	"svsmate/registry"
	"svsmate/serverstate"
)

func startServer(t *testing.T) *serverstate.Server {
	t.Helper()
	reg := registry.New(16, 1)
	s := serverstate.NewServer("test-server", 0, 0, reg, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestClientJoinsAndSeesSharedDocument(t *testing.T) {
	s := startServer(t)

	f, err := os.CreateTemp(t.TempDir(), "doc-*.txt")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.WriteString("hello")
	f.Close()

	meta, err := s.ShareFile(f.Name())
	if err != nil {
		t.Fatalf("share file: %v", err)
	}

	reg := registry.New(16, 2)
	c := New("alice", reg)
	if err := c.Connect(s.Addr().String()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		text, err := reg.Text(meta.FileID)
		return err == nil && text == "hello"
	})
}

func TestClientEditIsBroadcastAndConverges(t *testing.T) {
	s := startServer(t)
	f, err := os.CreateTemp(t.TempDir(), "doc-*.txt")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.WriteString("abc")
	f.Close()

	meta, err := s.ShareFile(f.Name())
	if err != nil {
		t.Fatalf("share file: %v", err)
	}

	regA := registry.New(16, 2)
	clientA := New("alice", regA)
	if err := clientA.Connect(s.Addr().String()); err != nil {
		t.Fatalf("connect A: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		text, err := regA.Text(meta.FileID)
		return err == nil && text == "abc"
	})

	regB := registry.New(16, 3)
	clientB := New("bob", regB)
	if err := clientB.Connect(s.Addr().String()); err != nil {
		t.Fatalf("connect B: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		text, err := regB.Text(meta.FileID)
		return err == nil && text == "abc"
	})

	if err := clientA.Edit(meta.FileID, 3, 0, "d"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		text, err := regB.Text(meta.FileID)
		return err == nil && text == "abcd"
	})
}

func TestRosterTracksJoinAndLeave(t *testing.T) {
	s := startServer(t)

	regA := registry.New(16, 2)
	clientA := New("alice", regA)
	if err := clientA.Connect(s.Addr().String()); err != nil {
		t.Fatalf("connect A: %v", err)
	}

	regB := registry.New(16, 3)
	clientB := New("bob", regB)
	if err := clientB.Connect(s.Addr().String()); err != nil {
		t.Fatalf("connect B: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return len(clientA.Roster()) == 1
	})

	clientB.Disconnect()

	waitFor(t, time.Second, func() bool {
		return len(clientA.Roster()) == 0
	})
}
