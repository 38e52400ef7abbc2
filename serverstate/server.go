// Package serverstate implements the server side of the collaboration
// session: the connection roster, inbound message dispatch, broadcast with
// exclusion, and the owner-side share/unshare operations. This package
// implements the server-authoritative profile: only the local share_file
// call creates owned documents; clients may not originate shares.
package serverstate

import (
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"svsmate/crdt"
	"svsmate/discovery"
	"svsmate/logger"
	"svsmate/persistence"
	"svsmate/protocol"
	"svsmate/registry"
	"svsmate/transport"
)

// ServerHostID is the origin the server stamps on documentUpdate frames for
// edits it authored itself. It has no entry in the connection table or the
// roster, so no frame is ever written to it.
const ServerHostID = "server_host"

type rosterEntry struct {
	displayName string
	joinedAt    int64
}

// Server is the server-side session: it owns the TCP listener, the UDP
// discovery responder, the connection table, and the document registry.
type Server struct {
	Name    string
	TCPPort int
	UDPPort int

	reg       *registry.Registry
	table     *transport.Table
	journal   *persistence.Journal // nil when no session journal is configured
	responder *discovery.Responder
	listener  net.Listener

	mu        sync.Mutex
	roster    map[string]*rosterEntry
	clientNum int
}

// NewServer wires reg into a new server. journal may be nil.
func NewServer(name string, tcpPort, udpPort int, reg *registry.Registry, journal *persistence.Journal) *Server {
	s := &Server{
		Name:    name,
		TCPPort: tcpPort,
		UDPPort: udpPort,
		reg:     reg,
		table:   transport.NewTable(),
		journal: journal,
		roster:  make(map[string]*rosterEntry),
	}
	reg.OnUpdate(s.onRegistryUpdate)
	return s
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Start binds the TCP listener and the UDP discovery responder and begins
// accepting connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.TCPPort))
	if err != nil {
		return fmt.Errorf("serverstate: listen tcp :%d: %w", s.TCPPort, err)
	}
	s.listener = ln
	s.TCPPort = ln.Addr().(*net.TCPAddr).Port
	go s.acceptLoop(ln)

	responder, err := discovery.NewResponder(s.UDPPort, s.Name, s.TCPPort, func() int { return s.table.Len() })
	if err != nil {
		ln.Close()
		return err
	}
	s.responder = responder
	s.UDPPort = responder.Port()
	logger.Info("serverstate: listening tcp=%d udp=%d name=%q", s.TCPPort, s.UDPPort, s.Name)
	return nil
}

// Stop closes the listener and the discovery responder. In-flight
// connections are not forcibly closed.
func (s *Server) Stop() error {
	if s.responder != nil {
		s.responder.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		netConn, err := ln.Accept()
		if err != nil {
			logger.Info("serverstate: accept loop ending: %v", err)
			return
		}
		go s.handleAccept(netConn)
	}
}

func (s *Server) handleAccept(netConn net.Conn) {
	id := fmt.Sprintf("%s_%d", netConn.RemoteAddr().String(), nowMillis())
	c := transport.NewConnection(id, netConn, 0)

	s.mu.Lock()
	s.clientNum++
	displayName := fmt.Sprintf("Client-%d", s.clientNum)
	s.roster[id] = &rosterEntry{displayName: displayName, joinedAt: nowMillis()}
	s.mu.Unlock()

	s.table.Add(c)
	logger.Info("serverstate: accepted %s as %s", id, displayName)

	if s.journal != nil {
		_ = s.journal.Record(persistence.EventJoin, id, displayName, nowMillis())
	}

	s.sendDocumentList(c)
	s.broadcastClientEvent(protocol.TypeClientJoined, id, displayName, id)

	err := c.ReadLoop(func(e protocol.Envelope) { s.dispatch(c, e) })
	logger.Debug("serverstate: connection %s closed: %v", id, err)
	s.handleDisconnect(c)
}

func (s *Server) dispatch(c *transport.Connection, e protocol.Envelope) {
	switch e.Type {
	case protocol.TypeDocumentUpdate:
		s.handleDocumentUpdate(c, e)
	case protocol.TypeRequestDocument:
		s.handleRequestDocument(c, e)
	case protocol.TypeUnshareDocument:
		logger.Info("serverstate: ignoring client-originated unshareDocument from %s (server-authoritative)", c.ID)
	default:
		logger.Info("serverstate: dropping unknown message type %q from %s", e.Type, c.ID)
	}
}

func (s *Server) handleDocumentUpdate(c *transport.Connection, e protocol.Envelope) {
	var payload protocol.DocumentUpdatePayload
	if err := e.Decode(&payload); err != nil {
		logger.Error("serverstate: malformed documentUpdate from %s: %v", c.ID, err)
		return
	}

	result, err := s.reg.ApplyUpdate(payload.FileID, payload.Update, c.ID)
	if err != nil {
		logger.Error("serverstate: apply update for %s failed: %v", payload.FileID, err)
		return
	}
	if result == registry.Queued {
		return
	}

	if err := s.reg.SaveToDisk(payload.FileID); err != nil {
		logger.Error("serverstate: save %s failed: %v", payload.FileID, err)
	}

	out, err := protocol.NewEnvelope(protocol.TypeDocumentUpdate, protocol.DocumentUpdatePayload{
		FileID: payload.FileID,
		Update: payload.Update,
		Origin: c.ID,
	}, nowMillis())
	if err != nil {
		return
	}
	s.broadcastAndCleanup(out, c.ID)
}

func (s *Server) handleRequestDocument(c *transport.Connection, e protocol.Envelope) {
	var payload protocol.RequestDocumentPayload
	if err := e.Decode(&payload); err != nil {
		logger.Error("serverstate: malformed requestDocument from %s: %v", c.ID, err)
		return
	}

	content, err := s.reg.Text(payload.FileID)
	if err != nil {
		content = "" // NotFound is never surfaced as an error to a peer
	}
	out, err := protocol.NewEnvelope(protocol.TypeDocumentContent, protocol.DocumentContentPayload{
		FileID:  payload.FileID,
		Content: content,
		Origin:  "server",
	}, nowMillis())
	if err != nil {
		return
	}
	if sendErr := c.Send(out); sendErr != nil {
		s.dropSlowConsumer(c.ID)
	}
}

// ShareFile is the owner-side share_file operation: it creates a fileId,
// reads localPath, registers it as owned, and broadcasts documentShared
// followed by a refreshed documentList.
func (s *Server) ShareFile(localPath string) (registry.Metadata, error) {
	name := filepath.Base(localPath)
	fileID := fmt.Sprintf("server_%d_%s", nowMillis(), name)

	meta, err := s.reg.CreateOwned(fileID, name, "server", localPath, nowMillis())
	if err != nil {
		return registry.Metadata{}, err
	}

	if s.journal != nil {
		_ = s.journal.Record(persistence.EventShare, fileID, name, nowMillis())
	}

	content, _ := s.reg.Text(fileID)
	shared, err := protocol.NewEnvelope(protocol.TypeDocumentShared, protocol.DocumentSharedPayload{
		ID: fileID, Name: name, Owner: "server", SharedAt: meta.SharedAt, Content: content,
	}, nowMillis())
	if err == nil {
		s.broadcastAndCleanup(shared, "")
	}

	s.broadcastDocumentList()
	return meta, nil
}

// UnshareFile is the owner-side unshare_file operation.
func (s *Server) UnshareFile(fileID string) error {
	s.reg.Remove(fileID)
	if s.journal != nil {
		_ = s.journal.Record(persistence.EventUnshare, fileID, "", nowMillis())
	}
	s.broadcastDocumentList()
	return nil
}

func (s *Server) broadcastDocumentList() {
	out, err := protocol.NewEnvelope(protocol.TypeDocumentList, protocol.DocumentListPayload(s.documentListEntries()), nowMillis())
	if err != nil {
		return
	}
	s.broadcastAndCleanup(out, "")
}

func (s *Server) sendDocumentList(c *transport.Connection) {
	out, err := protocol.NewEnvelope(protocol.TypeDocumentList, protocol.DocumentListPayload(s.documentListEntries()), nowMillis())
	if err != nil {
		return
	}
	if sendErr := c.Send(out); sendErr != nil {
		s.dropSlowConsumer(c.ID)
	}
}

func (s *Server) documentListEntries() []protocol.DocumentListEntry {
	all := s.reg.AllMetadata()
	out := make([]protocol.DocumentListEntry, 0, len(all))
	for _, m := range all {
		text, err := s.reg.Text(m.FileID)
		if err != nil {
			continue
		}
		out = append(out, protocol.DocumentListEntry{
			ID: m.FileID, Name: m.Name, Owner: m.OwnerID, SharedAt: m.SharedAt, Content: text,
		})
	}
	return out
}

func (s *Server) broadcastClientEvent(msgType, id, name, excludeID string) {
	out, err := protocol.NewEnvelope(msgType, protocol.ClientEventPayload{Name: name, ID: id}, nowMillis())
	if err != nil {
		return
	}
	s.broadcastAndCleanup(out, excludeID)
}

func (s *Server) broadcastAndCleanup(e protocol.Envelope, excludeID string) {
	for _, slowID := range s.table.Broadcast(e, excludeID) {
		s.dropSlowConsumer(slowID)
	}
}

func (s *Server) dropSlowConsumer(id string) {
	logger.Info("serverstate: dropping slow consumer %s", id)
	if c, ok := s.table.Get(id); ok {
		c.Close()
	}
}

func (s *Server) handleDisconnect(c *transport.Connection) {
	s.table.Remove(c.ID)

	s.mu.Lock()
	entry, ok := s.roster[c.ID]
	delete(s.roster, c.ID)
	s.mu.Unlock()
	if !ok {
		return
	}

	if s.journal != nil {
		_ = s.journal.Record(persistence.EventLeave, c.ID, entry.displayName, nowMillis())
	}
	s.broadcastClientEvent(protocol.TypeClientLeft, c.ID, entry.displayName, "")
}

// onRegistryUpdate forwards the server's own locally-authored edits (e.g.
// the owner editing a document it shared) to every connected client. It
// ignores updates that originated remotely — those are already forwarded
// explicitly by handleDocumentUpdate, which knows which connection to
// exclude.
func (s *Server) onRegistryUpdate(fileID string, update []byte, origin crdt.Origin) {
	if origin != crdt.OriginLocal {
		return
	}
	if err := s.reg.SaveToDisk(fileID); err != nil {
		logger.Error("serverstate: save %s failed: %v", fileID, err)
	}
	out, err := protocol.NewEnvelope(protocol.TypeDocumentUpdate, protocol.DocumentUpdatePayload{
		FileID: fileID,
		Update: update,
		Origin: ServerHostID,
	}, nowMillis())
	if err != nil {
		return
	}
	s.broadcastAndCleanup(out, "")
}

// RosterSize returns the number of currently connected clients.
func (s *Server) RosterSize() int {
	return s.table.Len()
}

// Addr returns the server's bound TCP address. Valid only after Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
