package lobby

import "time"

// ChannelRole ranks a session's authority within one channel, highest
// first, per spec §4.3's "admin > mod > founder > op > user" precedence.
type ChannelRole int

const (
	RoleUser ChannelRole = iota
	RoleOp
	RoleFounder
	RoleMod
	RoleAdmin
)

// Channel is the live, in-memory state of one joined channel (spec §3).
// Persisted metadata (registration, op/ban/mute/forward lists) is loaded
// from and flushed to package store by the server; Channel itself only
// holds what must be checked on every JOIN/SAY without a store round
// trip.
type Channel struct {
	Name     string
	Topic    string
	TopicSetBy string
	TopicSetAt time.Time
	Key      string // empty: unlocked

	Registered bool
	FounderID  int64

	Members map[int64]*Session
	Ops     map[int64]bool

	// Bans/mutes keyed by casefolded username; expiry zero means
	// indefinite, matching store.ChannelBan/Mute.
	Bans  map[string]time.Time
	Mutes map[string]time.Time

	// Forwards lists the channel names a join into this channel also
	// transparently joins (store.ChannelForward, keyed by this
	// channel's own ID as the forward source).
	Forwards []string

	StoreHistory    bool
	AntiSpamEnabled bool
	antiSpamCfg     AntiSpamConfig
	antiSpam        map[int64]*AntiSpam
}

// NewChannel constructs an empty, unregistered channel ready to accept
// its first JOIN.
func NewChannel(name string, cfg AntiSpamConfig) *Channel {
	return &Channel{
		Name:            name,
		Members:         make(map[int64]*Session),
		Ops:             make(map[int64]bool),
		Bans:            make(map[string]time.Time),
		Mutes:           make(map[string]time.Time),
		AntiSpamEnabled: true,
		antiSpamCfg:     cfg,
		antiSpam:        make(map[int64]*AntiSpam),
	}
}

// RoleOf computes a member's effective channel role from server access,
// founder identity, and op-list membership, in the precedence order
// spec §4.3 names.
func (c *Channel) RoleOf(userID int64, serverIsAdmin, serverIsMod bool) ChannelRole {
	if serverIsAdmin {
		return RoleAdmin
	}
	if serverIsMod {
		return RoleMod
	}
	if c.Registered && c.FounderID == userID {
		return RoleFounder
	}
	if c.Ops[userID] {
		return RoleOp
	}
	return RoleUser
}

// checkExpiry reports whether key has a still-active entry in m (a ban
// or mute list), honoring a zero Expires as "indefinite" per store's own
// convention.
func checkExpiry(m map[string]time.Time, key string, now time.Time) bool {
	expires, ok := m[key]
	if !ok {
		return false
	}
	if expires.IsZero() {
		return true
	}
	return now.Before(expires)
}

// IsBanned reports whether casefoldedUsername is currently banned.
func (c *Channel) IsBanned(casefoldedUsername string, now time.Time) bool {
	return checkExpiry(c.Bans, casefoldedUsername, now)
}

// IsMuted reports whether casefoldedUsername is currently muted.
func (c *Channel) IsMuted(casefoldedUsername string, now time.Time) bool {
	return checkExpiry(c.Mutes, casefoldedUsername, now)
}

// Join adds session to membership. Callers must have already checked
// the key and ban list; Join itself only mutates membership.
func (c *Channel) Join(s *Session) {
	c.Members[s.ID] = s
	if c.AntiSpamEnabled {
		if _, ok := c.antiSpam[s.ID]; !ok {
			c.antiSpam[s.ID] = NewAntiSpam(c.antiSpamCfg)
		}
	}
}

// Leave removes session from membership.
func (c *Channel) Leave(sessionID int64) {
	delete(c.Members, sessionID)
	delete(c.antiSpam, sessionID)
}

// Empty reports whether the channel has no members left, the signal an
// unregistered channel should be dropped entirely.
func (c *Channel) Empty() bool {
	return len(c.Members) == 0
}

// RecordMessage scores an incoming SAY against the sender's anti-spam
// state, returning whether this message should be muted outright
// instead of relayed (spec §4.6).
func (c *Channel) RecordMessage(sessionID int64, now time.Time, msgLen int) (mute bool) {
	if !c.AntiSpamEnabled {
		return false
	}
	as, ok := c.antiSpam[sessionID]
	if !ok {
		as = NewAntiSpam(c.antiSpamCfg)
		c.antiSpam[sessionID] = as
	}
	return as.Record(now, msgLen)
}

// MemberMuted reports whether sessionID is under an active
// anti-spam-issued mute (distinct from an explicit ChanServ MUTE, which
// is tracked in Mutes).
func (c *Channel) MemberMuted(sessionID int64, now time.Time) bool {
	as, ok := c.antiSpam[sessionID]
	if !ok {
		return false
	}
	return as.Muted(now)
}
