package lobby

import (
	"net"
	"sync"
	"time"
)

// Session is the transient, per-connection state described in spec §3.
// It is owned exclusively by the dispatcher goroutine except for the
// fields explicitly guarded below (the send queue, read by the writer
// goroutine).
type Session struct {
	ID   int64
	Conn net.Conn

	// identity, set once LOGIN succeeds
	LoggedIn bool
	UserID   int64
	Username string
	Access   int // mirrors store.Access, duplicated here to avoid a store round trip per command
	Bot      bool

	Country string
	CPU     int
	Agent   string

	Status       Status
	BattleStatus BattleStatus

	Channels map[string]bool
	BattleID uint32
	IsHost   bool

	// Static marks an in-process pseudo-session such as ChanServ: it has
	// no real net.Conn and is always delivered last in a fan-out
	// (spec §5).
	Static bool

	Removing bool

	LastConnect time.Time // set once, at accept
	LastRx      time.Time // bumped on every received frame, including PING

	RecentRenames    int
	LastRenameReset  time.Time
	RegistrationHits int
	LastRegReset     time.Time

	sendMu     sync.Mutex
	sendQueue  [][]byte
	queuedSize int
	floodSince time.Time
	closed     bool
	wake       chan struct{}
}

// NewSession wraps conn as a fresh, unauthenticated session.
func NewSession(id int64, conn net.Conn) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          id,
		Conn:        conn,
		Channels:    make(map[string]bool),
		wake:        make(chan struct{}, 1),
		LastConnect: now,
		LastRx:      now,
	}
}

// NewStaticSession constructs an in-process pseudo-session (ChanServ)
// with no underlying network connection.
func NewStaticSession(id int64, username string) *Session {
	s := NewSession(id, nil)
	s.Static = true
	s.LoggedIn = true
	s.Username = username
	s.Bot = true
	return s
}

// Enqueue appends an already-encoded line to the session's send buffer.
// It never blocks on the network; the writer goroutine drains the
// buffer independently. Returns the buffer's size in bytes after the
// append, for flood-detection bookkeeping by the caller.
func (s *Session) Enqueue(line string) int {
	if s.Static {
		return 0
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return s.queuedSize
	}
	s.sendQueue = append(s.sendQueue, []byte(line))
	s.queuedSize += len(line)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return s.queuedSize
}

// drain removes and returns all currently queued lines, for the writer
// goroutine to flush in one batch.
func (s *Session) drain() [][]byte {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	out := s.sendQueue
	s.sendQueue = nil
	s.queuedSize = 0
	return out
}

// QueuedBytes reports the current send-buffer size, used by the
// scheduler's flood sweep (spec §5: cull sessions over 256 KiB for more
// than 30s).
func (s *Session) QueuedBytes() int {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.queuedSize
}

// MarkFlooding/ClearFlooding track how long a session has been over the
// flood threshold, maintained by the scheduler.
func (s *Session) MarkFlooding(now time.Time) {
	if s.floodSince.IsZero() {
		s.floodSince = now
	}
}

func (s *Session) ClearFlooding() {
	s.floodSince = time.Time{}
}

// FloodingSince reports when this session first crossed the flood
// threshold, or the zero time if it isn't currently over it.
func (s *Session) FloodingSince() time.Time {
	return s.floodSince
}

// runWriter flushes queued lines to the connection until closed is
// called. It is the dedicated per-session writer goroutine described in
// spec §5, keeping a slow client from blocking the dispatcher.
func (s *Session) runWriter() {
	for {
		<-s.wake
		for {
			batch := s.drain()
			if len(batch) == 0 {
				break
			}
			for _, line := range batch {
				if s.Conn == nil {
					continue
				}
				if _, err := s.Conn.Write(line); err != nil {
					return
				}
			}
		}
		s.sendMu.Lock()
		done := s.closed
		s.sendMu.Unlock()
		if done {
			return
		}
	}
}

// Close marks the session's writer goroutine for shutdown and closes the
// underlying connection.
func (s *Session) Close() {
	s.sendMu.Lock()
	if s.closed {
		s.sendMu.Unlock()
		return
	}
	s.closed = true
	s.sendMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	if s.Conn != nil {
		s.Conn.Close()
	}
}
