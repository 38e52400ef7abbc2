// Package clientstate implements the client side of the collaboration
// session: dialing a server, dispatching inbound messages into the shared
// document registry, and forwarding the client's own local edits back out.
package clientstate

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"svsmate/crdt"
	"svsmate/logger"
	"svsmate/protocol"
	"svsmate/registry"
	"svsmate/transport"
)

// State is the client's connection lifecycle: Disconnected -> Connecting ->
// Connected -> Disconnected.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Client holds one session's connection to a server plus the document
// registry that connection feeds and is fed by.
type Client struct {
	Name string

	reg *registry.Registry

	mu         sync.Mutex
	state      State
	conn       *transport.Connection
	known      map[string]bool
	roster     map[string]string
	onDisconnect func()
}

// New creates a disconnected client bound to reg. reg's OnUpdate is
// subscribed here so any local edit applied through reg.ApplyEditorChange is
// forwarded to the server automatically once connected.
func New(name string, reg *registry.Registry) *Client {
	c := &Client{
		Name:   name,
		reg:    reg,
		known:  make(map[string]bool),
		roster: make(map[string]string),
	}
	reg.OnUpdate(c.onRegistryUpdate)
	return c
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// OnDisconnect registers fn to run once the connection to the server ends.
func (c *Client) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// Connect dials addr ("host:port") and starts the read loop in the
// background. It returns once the TCP handshake completes; message
// processing continues asynchronously until the connection drops.
func (c *Client) Connect(addr string) error {
	c.setState(Connecting)
	netConn, err := net.Dial("tcp", addr)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("clientstate: dial %s: %w", addr, err)
	}

	id := fmt.Sprintf("%s_%d", netConn.LocalAddr().String(), nowMillis())
	conn := transport.NewConnection(id, netConn, 0)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(Connected)

	go func() {
		err := conn.ReadLoop(c.dispatch)
		logger.Debug("clientstate: connection to %s closed: %v", addr, err)
		c.mu.Lock()
		c.conn = nil
		cb := c.onDisconnect
		c.mu.Unlock()
		c.setState(Disconnected)
		if cb != nil {
			cb()
		}
	}()
	return nil
}

// Disconnect closes the connection to the server, if any.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) send(e protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("clientstate: not connected")
	}
	return conn.Send(e)
}

// RequestDocument asks the server for fileId's current content, delivered
// asynchronously as a documentContent message.
func (c *Client) RequestDocument(fileID string) error {
	out, err := protocol.NewEnvelope(protocol.TypeRequestDocument, protocol.RequestDocumentPayload{FileID: fileID}, nowMillis())
	if err != nil {
		return err
	}
	return c.send(out)
}

// Edit applies a local edit to fileId and forwards the resulting update to
// the server, via the registry's update listener.
func (c *Client) Edit(fileID string, offset, deleteLen int, insertText string) error {
	return c.reg.ApplyEditorChange(fileID, offset, deleteLen, insertText)
}

func (c *Client) onRegistryUpdate(fileID string, update []byte, origin crdt.Origin) {
	if origin != crdt.OriginLocal {
		return
	}
	out, err := protocol.NewEnvelope(protocol.TypeDocumentUpdate, protocol.DocumentUpdatePayload{
		FileID: fileID,
		Update: update,
	}, nowMillis())
	if err != nil {
		return
	}
	if err := c.send(out); err != nil {
		logger.Error("clientstate: send update for %s failed: %v", fileID, err)
	}
}

func (c *Client) dispatch(e protocol.Envelope) {
	switch e.Type {
	case protocol.TypeDocumentList:
		c.handleDocumentList(e)
	case protocol.TypeDocumentShared:
		c.handleDocumentShared(e)
	case protocol.TypeDocumentUpdate:
		c.handleDocumentUpdate(e)
	case protocol.TypeDocumentContent:
		c.handleDocumentContent(e)
	case protocol.TypeClientJoined:
		c.handleClientJoined(e)
	case protocol.TypeClientLeft:
		c.handleClientLeft(e)
	default:
		logger.Info("clientstate: dropping unknown message type %q", e.Type)
	}
}

func (c *Client) handleDocumentList(e protocol.Envelope) {
	var payload protocol.DocumentListPayload
	if err := e.Decode(&payload); err != nil {
		logger.Error("clientstate: malformed documentList: %v", err)
		return
	}

	present := make(map[string]bool, len(payload))
	for _, doc := range payload {
		present[doc.ID] = true
		if _, err := c.reg.CreateFromContent(doc.ID, doc.Name, doc.Owner, doc.Content, doc.SharedAt); err != nil {
			logger.Error("clientstate: seed %s from documentList: %v", doc.ID, err)
		}
	}

	c.mu.Lock()
	for fileID := range c.known {
		if !present[fileID] {
			c.reg.Remove(fileID)
		}
	}
	c.known = present
	c.mu.Unlock()
}

func (c *Client) handleDocumentShared(e protocol.Envelope) {
	var payload protocol.DocumentSharedPayload
	if err := e.Decode(&payload); err != nil {
		logger.Error("clientstate: malformed documentShared: %v", err)
		return
	}
	if _, err := c.reg.CreateFromContent(payload.ID, payload.Name, payload.Owner, payload.Content, payload.SharedAt); err != nil {
		logger.Error("clientstate: seed %s from documentShared: %v", payload.ID, err)
		return
	}
	c.mu.Lock()
	c.known[payload.ID] = true
	c.mu.Unlock()
}

func (c *Client) handleDocumentUpdate(e protocol.Envelope) {
	var payload protocol.DocumentUpdatePayload
	if err := e.Decode(&payload); err != nil {
		logger.Error("clientstate: malformed documentUpdate: %v", err)
		return
	}
	if _, err := c.reg.ApplyUpdate(payload.FileID, payload.Update, payload.Origin); err != nil {
		logger.Error("clientstate: apply update for %s: %v", payload.FileID, err)
	}
}

func (c *Client) handleDocumentContent(e protocol.Envelope) {
	var payload protocol.DocumentContentPayload
	if err := e.Decode(&payload); err != nil {
		logger.Error("clientstate: malformed documentContent: %v", err)
		return
	}
	if _, err := c.reg.CreateFromContent(payload.FileID, payload.FileID, "", payload.Content, nowMillis()); err != nil {
		logger.Error("clientstate: seed %s from documentContent: %v", payload.FileID, err)
	}
}

func (c *Client) handleClientJoined(e protocol.Envelope) {
	var payload protocol.ClientEventPayload
	if err := e.Decode(&payload); err != nil {
		return
	}
	c.mu.Lock()
	c.roster[payload.ID] = payload.Name
	c.mu.Unlock()
}

func (c *Client) handleClientLeft(e protocol.Envelope) {
	var payload protocol.ClientEventPayload
	if err := e.Decode(&payload); err != nil {
		return
	}
	c.mu.Lock()
	delete(c.roster, payload.ID)
	c.mu.Unlock()
}

// Roster returns a snapshot of connection id -> display name for every
// other client the server has announced.
func (c *Client) Roster() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.roster))
	for k, v := range c.roster {
		out[k] = v
	}
	return out
}

// ScratchPath returns the path this client would materialize fileId/name's
// content to for opening in an external editor.
func ScratchPath(fileID, name string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("svsmate_%s_%s", fileID, name))
}

// MaterializeScratch writes fileId's current CRDT text to its scratch path
// so it can be opened by a local editor, and returns that path. This is a
// one-shot snapshot: it is not kept in sync with later remote updates, and
// it is never treated as the document's source of truth. Received documents
// are never written back to their owner's path — only the owner persists.
func (c *Client) MaterializeScratch(fileID, name string) (string, error) {
	text, err := c.reg.Text(fileID)
	if err != nil {
		return "", err
	}
	path := ScratchPath(fileID, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("clientstate: materialize scratch %s: %w", path, err)
	}
	return path, nil
}
