package lobby

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/racklobby/lobbyserver/email"
	"github.com/racklobby/lobbyserver/geoip"
	"github.com/racklobby/lobbyserver/historydb"
	"github.com/racklobby/lobbyserver/logger"
	"github.com/racklobby/lobbyserver/natserver"
	"github.com/racklobby/lobbyserver/store"
	"github.com/racklobby/lobbyserver/token"
)

// Server is the lobby's top-level process state: every authoritative
// map named in spec §5 ("usernames, db_ids, sessions, channels,
// battles") lives here, owned exclusively by the dispatcher goroutine.
// Long-running side tasks (SMTP send, geoip reload) are handed off to
// worker goroutines and report back via the command channel rather than
// touching these maps directly.
type Server struct {
	config         unsafe.Pointer // *Config, swapped atomically on rehash
	configFilename string
	rehashMutex    sync.Mutex

	ctime time.Time

	store     *store.Store
	historyDB *historydb.DB
	geo       geoip.Lookup
	mailer    *email.Sender
	tokens    *token.Signer
	nat       *natserver.Server
	logger    *logger.Manager

	listener net.Listener
	signals  chan os.Signal
	rehashCh chan os.Signal

	// dispatcher-owned state; only ever touched from Run's goroutine or
	// from command closures it executes synchronously.
	sessions        map[int64]*Session
	usernameToID    map[string]int64 // casefolded username -> session id, for logged-in users
	channels        map[string]*Channel
	battles         map[uint32]*Battle
	nextSessionID   int64
	nextBattleID    uint32

	chanServ *Session

	commands chan func()

	dispatcher *Dispatcher
}

// NewServer wires the ambient/domain collaborators into a fresh Server;
// Run does not start until a config has been applied.
func NewServer(st *store.Store, hdb *historydb.DB, geo geoip.Lookup, mailer *email.Sender, tokens *token.Signer, nat *natserver.Server, log *logger.Manager) *Server {
	s := &Server{
		ctime:        time.Now().UTC(),
		store:        st,
		historyDB:    hdb,
		geo:          geo,
		mailer:       mailer,
		tokens:       tokens,
		nat:          nat,
		logger:       log,
		signals:      make(chan os.Signal, 1),
		rehashCh:     make(chan os.Signal, 1),
		sessions:     make(map[int64]*Session),
		usernameToID: make(map[string]int64),
		channels:     make(map[string]*Channel),
		battles:      make(map[uint32]*Battle),
		commands:     make(chan func(), 256),
	}
	s.dispatcher = NewDispatcher(s)
	s.chanServ = NewStaticSession(-1, "ChanServ")
	s.sessions[s.chanServ.ID] = s.chanServ
	s.usernameToID[casefold(s.chanServ.Username)] = s.chanServ.ID
	signal.Notify(s.signals, syscall.SIGINT, syscall.SIGTERM)
	signal.Notify(s.rehashCh, syscall.SIGHUP)
	return s
}

// Config returns the currently active config via a lock-free atomic read.
func (s *Server) Config() *Config {
	return (*Config)(atomic.LoadPointer(&s.config))
}

func (s *Server) setConfig(c *Config) {
	atomic.StorePointer(&s.config, unsafe.Pointer(c))
}

// ApplyConfig installs a validated config, used both at startup and by
// rehash. Only the datastore path is forbidden from changing after
// launch, since the store is already open by the time ApplyConfig runs.
func (s *Server) ApplyConfig(c *Config) error {
	old := s.Config()
	if old != nil && old.Datastore.Path != c.Datastore.Path {
		return fmt.Errorf("datastore path cannot change after launch, rehash aborted")
	}
	loggingCfg := logger.Config{
		Filename: c.Logging.Filename,
		Sections: make(map[string]logger.Level),
		RawSection: c.Logging.RawIO,
	}
	for k, v := range c.Logging.Sections {
		loggingCfg.Sections[k] = logger.LevelFromString(v)
	}
	if err := s.logger.ApplyConfig(loggingCfg); err != nil {
		return err
	}
	s.configFilename = c.Filename
	s.setConfig(c)
	return nil
}

// rehash reloads the config file named at startup, serialized against
// concurrent rehashes by rehashMutex.
func (s *Server) rehash() error {
	s.rehashMutex.Lock()
	defer s.rehashMutex.Unlock()

	s.logger.Info("server", "attempting rehash")
	c, err := LoadConfig(s.configFilename)
	if err != nil {
		s.logger.Error("server", "failed to load config: "+err.Error())
		return err
	}
	if err := s.ApplyConfig(c); err != nil {
		s.logger.Error("server", "failed to rehash: "+err.Error())
		return err
	}
	if s.geo != nil && c.GeoIP.DatabasePath != "" {
		if err := s.geo.Reload(c.GeoIP.DatabasePath); err != nil {
			s.logger.Warning("server", "geoip reload failed: "+err.Error())
		}
	}
	s.logger.Info("server", "rehash completed")
	return nil
}

// Listen opens the TCP listener described by the active config.
func (s *Server) Listen() error {
	addr := fmt.Sprintf(":%d", s.Config().Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Run is the server's main loop: it accepts connections on one
// goroutine, funnels every parsed frame and every accepted connection
// into s.commands, and executes them one at a time on this goroutine --
// the single logical dispatcher context spec §5 requires. It returns
// when a shutdown signal is received.
func (s *Server) Run() {
	go s.acceptLoop()
	sched := NewScheduler(s)
	go sched.Run()

	for {
		select {
		case <-s.signals:
			s.Shutdown()
			return
		case <-s.rehashCh:
			if !s.Config().Server.SighupReload {
				continue
			}
			go func() {
				if err := s.rehash(); err != nil {
					s.logger.Error("server", "rehash error: "+err.Error())
				}
			}()
		case fn := <-s.commands:
			fn()
		}
	}
}

// Shutdown notifies every live session and releases external resources.
func (s *Server) Shutdown() {
	for _, sess := range s.sessions {
		if sess.Static {
			continue
		}
		s.send(sess, nil, "SERVERMSG", "Server is shutting down")
		sess.Close()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("shutdown", "could not close datastore: "+err.Error())
	}
	if s.historyDB != nil {
		s.historyDB.Close()
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.commands <- func() { s.onAccept(conn) }
	}
}

func (s *Server) onAccept(conn net.Conn) {
	s.nextSessionID++
	id := s.nextSessionID
	sess := NewSession(id, conn)
	s.sessions[id] = sess
	go sess.runWriter()

	country := ""
	if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		if s.geo != nil {
			country = s.geo.Country(net.ParseIP(host))
		}
	}
	sess.Country = country

	s.send(sess, nil, "TASServer", "0.38-33-ga5f3b28", "*", fmt.Sprintf("%d", s.Config().Server.Port), "0")
	go s.readLoop(sess)
}

func (s *Server) readLoop(sess *Session) {
	codec := NewCodec(bufio.NewReader(sess.Conn), s.Config().Limits.MaxLineLength)
	for {
		frame, err := codec.ReadFrame()
		if err != nil {
			s.commands <- func() { s.onDisconnect(sess) }
			return
		}
		f := frame
		s.commands <- func() { s.dispatcher.Dispatch(sess, f) }
	}
}

func (s *Server) onDisconnect(sess *Session) {
	s.removeSession(sess)
}

// removeSession releases a session from every channel, battle, user map
// and id map, and broadcasts REMOVEUSER exactly once, per spec §5.
func (s *Server) removeSession(sess *Session) {
	if sess.Removing {
		return
	}
	sess.Removing = true

	for name := range sess.Channels {
		if ch, ok := s.channels[name]; ok {
			ch.Leave(sess.ID)
			s.broadcastChannel(ch, nil, "LEFT", name, sess.Username)
			if ch.Empty() && !ch.Registered {
				delete(s.channels, name)
			}
		}
	}
	if sess.BattleID != 0 {
		s.leaveBattle(sess)
	}
	delete(s.sessions, sess.ID)
	if sess.LoggedIn {
		delete(s.usernameToID, casefold(sess.Username))
		s.broadcastAll(nil, "REMOVEUSER", sess.Username)
	}
	sess.Close()
}

// send encodes one line to a single session's buffer.
func (s *Server) send(sess *Session, replyID *int64, command string, args ...string) {
	sess.Enqueue(EncodeLine(replyID, command, args...))
}

// broadcastAll fans a line out to every logged-in, non-static session,
// delivering to ChanServ-like static sessions last (spec §5).
func (s *Server) broadcastAll(replyID *int64, command string, args ...string) {
	line := EncodeLine(replyID, command, args...)
	var static []*Session
	for _, sess := range s.sessions {
		if !sess.LoggedIn {
			continue
		}
		if sess.Static {
			static = append(static, sess)
			continue
		}
		sess.Enqueue(line)
	}
	for _, sess := range static {
		sess.Enqueue(line)
	}
}

// broadcastChannel fans a line out to a channel's current membership
// set, iterated at the instant of publication (spec §5): a session that
// joins afterward will not observe it.
func (s *Server) broadcastChannel(ch *Channel, replyID *int64, command string, args ...string) {
	line := EncodeLine(replyID, command, args...)
	var static []*Session
	for _, sess := range ch.Members {
		if sess.Static {
			static = append(static, sess)
			continue
		}
		sess.Enqueue(line)
	}
	for _, sess := range static {
		sess.Enqueue(line)
	}
}

// broadcastBattle fans a line out to a battle's current user set.
func (s *Server) broadcastBattle(b *Battle, replyID *int64, command string, args ...string) {
	line := EncodeLine(replyID, command, args...)
	for uid := range b.Users {
		if sess := s.sessionForUser(uid); sess != nil {
			sess.Enqueue(line)
		}
	}
}

func (s *Server) sessionForUser(userID int64) *Session {
	for _, sess := range s.sessions {
		if sess.LoggedIn && sess.UserID == userID {
			return sess
		}
	}
	return nil
}

func (s *Server) sessionByUsername(casefolded string) *Session {
	id, ok := s.usernameToID[casefolded]
	if !ok {
		return nil
	}
	return s.sessions[id]
}
