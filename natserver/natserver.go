// Package natserver is the independent NAT-traversal helper named in
// spec §1: a standalone UDP endpoint that assists battle hosts and
// joiners using "hole punching" natType with no dependency on the TCP
// lobby engine beyond a registration call keyed by battle id.
package natserver

import (
	"encoding/binary"
	"net"
	"sync"
)

// Server answers UDP packets used to coordinate hole punching between a
// battle host and joiners. The wire format is intentionally minimal: a
// client sends 4 bytes (its battle id, big-endian uint32) and the server
// replies by forwarding that client's observed address to the host once
// both sides have been seen.
type Server struct {
	conn *net.UDPConn

	mu    sync.Mutex
	hosts map[uint32]*net.UDPAddr
}

// Listen opens the NAT helper's UDP socket on addr (e.g. ":8201").
func Listen(addr string) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Server{conn: conn, hosts: make(map[uint32]*net.UDPAddr)}, nil
}

// RegisterHost records the host's address for a battle id, called by the
// lobby engine when a battle is OPENBATTLE'd with natType=hole_punching.
func (s *Server) RegisterHost(battleID uint32, addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[battleID] = addr
}

// UnregisterHost drops a battle's host mapping, called on battle close.
func (s *Server) UnregisterHost(battleID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hosts, battleID)
}

// Serve runs the UDP receive loop until the socket is closed.
func (s *Server) Serve() error {
	buf := make([]byte, 4)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		if n < 4 {
			continue
		}
		battleID := binary.BigEndian.Uint32(buf[:4])
		s.punch(battleID, from)
	}
}

// punch pokes the host's NAT with a packet carrying the joiner's observed
// address so the host's router opens a path back to it.
func (s *Server) punch(battleID uint32, joiner *net.UDPAddr) {
	s.mu.Lock()
	host, ok := s.hosts[battleID]
	s.mu.Unlock()
	if !ok {
		return
	}
	payload := []byte(joiner.String())
	s.conn.WriteToUDP(payload, host)
}

// Close shuts down the UDP socket.
func (s *Server) Close() error {
	return s.conn.Close()
}
