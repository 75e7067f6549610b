package lobby

// NATType enumerates how clients should connect to a battle host, per
// the OPENBATTLE wire arguments in spec §4.4.
type NATType int

const (
	NATNone NATType = iota
	NATHolePunching
	NATFixedSourcePorts
)

// BattleBot is a host-added AI player slot (ADDBOT/REMOVEBOT/UPDATEBOT).
type BattleBot struct {
	Name         string
	OwnerID      int64
	AIDLL        string
	BattleStatus BattleStatus
}

// StartRect is one ADDSTARTRECT allyteam starting-box definition.
type StartRect struct {
	AllyTeam           int
	Left, Top, Right, Bottom int
}

// Battle is the live state of one open battle (spec §3/§4.4): host,
// map/mod, slots, per-user battle status, bot slots, start boxes, and
// script tags. It transitions OPEN -> IN_GAME -> OPEN as the host
// starts/ends the game; it never transitions to a terminal "closed"
// state in memory -- closing removes it from the server's battle map.
type Battle struct {
	ID      uint32
	Type    int
	NatType NATType

	HostID   int64
	HostIP   string
	HostPort int

	Title       string
	MapName     string
	ModName     string
	Engine      string
	EngineVer   string
	MaxPlayers  int
	PasswordHash string // empty: open battle
	Rank        int

	InGame bool

	Users        map[int64]bool
	UserStatus   map[int64]BattleStatus
	TeamColors   map[int64]int // host-forced FORCETEAMCOLOR overrides, userID -> color
	Bots         map[string]*BattleBot
	StartRects   map[int]StartRect
	ScriptTags   map[string]string
	DisabledUnits map[string]bool
}

// NewBattle constructs an empty, OPEN battle hosted by hostID.
func NewBattle(id uint32, hostID int64) *Battle {
	return &Battle{
		ID:            id,
		HostID:        hostID,
		Users:         make(map[int64]bool),
		UserStatus:    make(map[int64]BattleStatus),
		TeamColors:    make(map[int64]int),
		Bots:          make(map[string]*BattleBot),
		StartRects:    make(map[int]StartRect),
		ScriptTags:    make(map[string]string),
		DisabledUnits: make(map[string]bool),
	}
}

// Locked reports whether JOINBATTLE requires a matching password.
func (b *Battle) Locked() bool { return b.PasswordHash != "" }

// Full reports whether the battle has reached MaxPlayers (0 means
// unlimited).
func (b *Battle) Full() bool {
	if b.MaxPlayers <= 0 {
		return false
	}
	return len(b.Users) >= b.MaxPlayers
}

// AddUser admits userID as a battle participant with a default,
// spectator battle status; the client's first MYBATTLESTATUS overwrites
// it.
func (b *Battle) AddUser(userID int64) {
	b.Users[userID] = true
	b.UserStatus[userID] = NewBattleStatus(false, 0, 0, true, 0, 0, 0)
}

// RemoveUser drops userID from the battle.
func (b *Battle) RemoveUser(userID int64) {
	delete(b.Users, userID)
	delete(b.UserStatus, userID)
}

// SetUserStatus applies a sanitized MYBATTLESTATUS update for userID.
func (b *Battle) SetUserStatus(userID int64, status BattleStatus, forceSpectator bool) {
	b.UserStatus[userID] = status.Sanitize(forceSpectator)
}

// AddBot registers a host-added AI slot.
func (b *Battle) AddBot(bot *BattleBot) {
	b.Bots[bot.Name] = bot
}

// RemoveBot drops a bot slot by name.
func (b *Battle) RemoveBot(name string) {
	delete(b.Bots, name)
}

// SetScriptTags merges key/value script tags (SETSCRIPTTAGS).
func (b *Battle) SetScriptTags(tags map[string]string) {
	for k, v := range tags {
		b.ScriptTags[k] = v
	}
}

// RemoveScriptTags deletes the named script tags (REMOVESCRIPTTAGS).
func (b *Battle) RemoveScriptTags(keys []string) {
	for _, k := range keys {
		delete(b.ScriptTags, k)
	}
}

// AddStartRect registers or replaces an allyteam's starting box.
func (b *Battle) AddStartRect(r StartRect) {
	b.StartRects[r.AllyTeam] = r
}

// RemoveStartRect clears an allyteam's starting box.
func (b *Battle) RemoveStartRect(allyTeam int) {
	delete(b.StartRects, allyTeam)
}

// DisableUnits marks unit names unavailable for this battle.
func (b *Battle) DisableUnits(names []string) {
	for _, n := range names {
		b.DisabledUnits[n] = true
	}
}

// EnableUnits re-enables previously disabled unit names.
func (b *Battle) EnableUnits(names []string) {
	for _, n := range names {
		delete(b.DisabledUnits, n)
	}
}

// EnableAllUnits clears every disabled-unit entry.
func (b *Battle) EnableAllUnits() {
	b.DisabledUnits = make(map[string]bool)
}

// ForceHandicap overrides a participant's handicap, host-only (HANDICAP).
func (b *Battle) ForceHandicap(userID int64, handicap int) {
	cur := b.UserStatus[userID]
	b.UserStatus[userID] = NewBattleStatus(cur.Ready(), cur.Team(), cur.Ally(), cur.Spectator(), clamp(handicap, 0, 100), cur.Sync(), cur.Side())
}

// ForceTeamNo overrides a participant's team slot, host-only (FORCETEAMNO).
func (b *Battle) ForceTeamNo(userID int64, team int) {
	cur := b.UserStatus[userID]
	b.UserStatus[userID] = NewBattleStatus(cur.Ready(), clamp(team, 0, 15), cur.Ally(), cur.Spectator(), cur.Handicap(), cur.Sync(), cur.Side())
}

// ForceAllyNo overrides a participant's allyteam, host-only (FORCEALLYNO).
func (b *Battle) ForceAllyNo(userID int64, ally int) {
	cur := b.UserStatus[userID]
	b.UserStatus[userID] = NewBattleStatus(cur.Ready(), cur.Team(), clamp(ally, 0, 15), cur.Spectator(), cur.Handicap(), cur.Sync(), cur.Side())
}

// ForceSpectatorMode flips a participant into spectating, host-only
// (FORCESPECTATORMODE). It only rewrites the current status word: the
// target's next MYBATTLESTATUS replaces it, spectator bit included.
func (b *Battle) ForceSpectatorMode(userID int64) {
	cur := b.UserStatus[userID]
	b.UserStatus[userID] = NewBattleStatus(cur.Ready(), cur.Team(), cur.Ally(), true, cur.Handicap(), cur.Sync(), cur.Side())
}

// ForceTeamColor overrides a participant's team color, host-only
// (FORCETEAMCOLOR).
func (b *Battle) ForceTeamColor(userID int64, color int) {
	b.TeamColors[userID] = color
}
