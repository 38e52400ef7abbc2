// Package discovery implements the UDP broadcast probe/response pair used
// by a client to find a server on the local network without being told its
// address: the client broadcasts a discover datagram to every reachable
// broadcast address, and any server listening replies directly to the
// sender.
package discovery

import (
	"encoding/json"
	"fmt"
	"net"
	"syscall"
	"time"

	"svsmate/logger"
	"svsmate/netutil"
	"svsmate/protocol"
)

// DefaultTimeout is how long a client waits to accumulate discover
// responses before returning what it has.
const DefaultTimeout = 3 * time.Second

// ServerInfo is one deduplicated discovery response.
type ServerInfo struct {
	Name    string
	IP      string
	TCPPort int
	UDPPort int
	Clients int
}

// Responder answers discover probes on a UDP port with this server's
// connection info.
type Responder struct {
	conn       *net.UDPConn
	name       string
	tcpPort    int
	udpPort    int
	clientFunc func() int
}

// NewResponder binds port (0 picks any free port — tests use this; the
// real server always passes the fixed discovery port) and starts replying
// to discover probes with name, tcpPort, and udpPort, plus a live client
// count from clientFunc.
func NewResponder(port int, name string, tcpPort int, clientFunc func() int) (*Responder, error) {
	addr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: bind responder: %w", err)
	}
	r := &Responder{
		conn:       conn,
		name:       name,
		tcpPort:    tcpPort,
		udpPort:    conn.LocalAddr().(*net.UDPAddr).Port,
		clientFunc: clientFunc,
	}
	go r.serve()
	return r, nil
}

// Port returns the UDP port this responder is bound to.
func (r *Responder) Port() int { return r.udpPort }

// Close stops the responder.
func (r *Responder) Close() error {
	return r.conn.Close()
}

func (r *Responder) serve() {
	buf := make([]byte, 2048)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return // closed
		}

		var e protocol.Envelope
		if err := json.Unmarshal(buf[:n], &e); err != nil {
			logger.Debug("discovery: dropping malformed datagram from %s: %v", src, err)
			continue
		}
		if e.Type != protocol.TypeDiscover {
			continue
		}

		clients := 0
		if r.clientFunc != nil {
			clients = r.clientFunc()
		}
		info, err := protocol.NewEnvelope(protocol.TypeServerInfo, protocol.ServerInfoPayload{
			Name:    r.name,
			IP:      netutil.LocalIPv4(),
			TCPPort: r.tcpPort,
			UDPPort: r.udpPort,
			Clients: clients,
		}, nowMillis())
		if err != nil {
			continue
		}
		data, err := json.Marshal(info)
		if err != nil {
			continue
		}
		if _, err := r.conn.WriteToUDP(data, src); err != nil {
			logger.Debug("discovery: reply to %s failed: %v", src, err)
		}
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// enableBroadcast sets SO_BROADCAST on conn so writes to a broadcast
// address are permitted; without it Linux refuses such sends outright.
func enableBroadcast(conn *net.UDPConn) {
	raw, err := conn.SyscallConn()
	if err != nil {
		logger.Debug("discovery: could not access raw socket to enable broadcast: %v", err)
		return
	}
	ctrlErr := raw.Control(func(fd uintptr) {
		if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1); err != nil {
			logger.Debug("discovery: SO_BROADCAST failed: %v", err)
		}
	})
	if ctrlErr != nil {
		logger.Debug("discovery: raw socket control failed: %v", ctrlErr)
	}
}

// Probe broadcasts a discover datagram to every reachable broadcast
// address on udpPort, and collects responses (deduplicated by source IP)
// until timeout elapses.
func Probe(udpPort int, clientName string, timeout time.Duration) ([]ServerInfo, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("discovery: bind prober: %w", err)
	}
	defer conn.Close()
	enableBroadcast(conn)

	payload, err := protocol.NewEnvelope(protocol.TypeDiscover, protocol.DiscoverPayload{ClientName: clientName}, nowMillis())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	for _, addr := range netutil.BroadcastAddresses() {
		dst := &net.UDPAddr{IP: net.ParseIP(addr), Port: udpPort}
		if _, err := conn.WriteToUDP(data, dst); err != nil {
			logger.Debug("discovery: broadcast to %s failed: %v", addr, err)
		}
	}

	seen := make(map[string]ServerInfo)
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 2048)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		conn.SetReadDeadline(time.Now().Add(remaining))
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			break // deadline exceeded
		}

		var e protocol.Envelope
		if err := json.Unmarshal(buf[:n], &e); err != nil || e.Type != protocol.TypeServerInfo {
			continue
		}
		var info protocol.ServerInfoPayload
		if err := e.Decode(&info); err != nil {
			continue
		}
		seen[src.IP.String()] = ServerInfo{
			Name:    info.Name,
			IP:      info.IP,
			TCPPort: info.TCPPort,
			UDPPort: info.UDPPort,
			Clients: info.Clients,
		}
	}

	out := make([]ServerInfo, 0, len(seen))
	for _, info := range seen {
		out = append(out, info)
	}
	return out, nil
}
