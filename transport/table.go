package transport

import (
	"sync"

	"svsmate/protocol"
)

// Table is the server's connection roster: a thread-safe map of connection
// id to Connection, iterated by copying so that concurrent accept/close
// can never race a broadcast in progress.
type Table struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewTable creates an empty connection table.
func NewTable() *Table {
	return &Table{conns: make(map[string]*Connection)}
}

// Add registers c under its own ID.
func (t *Table) Add(c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c.ID] = c
}

// Remove deletes the connection with the given id, if present.
func (t *Table) Remove(id string) (*Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[id]
	if ok {
		delete(t.conns, id)
	}
	return c, ok
}

// Get returns the connection with the given id, if present.
func (t *Table) Get(id string) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[id]
	return c, ok
}

// All returns a snapshot copy of the current connections, safe to range
// over while Add/Remove run concurrently.
func (t *Table) All() []*Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the current roster size.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// Broadcast enqueues e on every connection except excludeID, and returns
// the ids of connections whose queue rejected it (slow consumers) for the
// caller to close.
func (t *Table) Broadcast(e protocol.Envelope, excludeID string) []string {
	var slow []string
	for _, c := range t.All() {
		if c.ID == excludeID {
			continue
		}
		if err := c.Send(e); err != nil {
			slow = append(slow, c.ID)
		}
	}
	return slow
}
