package lobby

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goshuirc/irc-go/ircfmt"
)

// handleOpenBattle implements OPENBATTLE\ttype\tnatType\tpassword\tport\tmaxplayers\thash\trank\tmapHash\tengine\tengineVer\tmap\ttitle\tmod (spec §4.4).
// Fields are tab-separated per spec §6.1.
func handleOpenBattle(s *Server, sess *Session, replyID *int64, args []string) {
	if sess.BattleID != 0 {
		s.send(sess, replyID, "OPENBATTLEFAILED", "Already hosting or in a battle")
		return
	}
	if len(args) < 1 {
		s.send(sess, replyID, "OPENBATTLEFAILED", "Bad OPENBATTLE arguments")
		return
	}
	fields := SplitTabs(args[0])
	if len(fields) < 11 {
		s.send(sess, replyID, "OPENBATTLEFAILED", "Bad OPENBATTLE arguments")
		return
	}

	natType, _ := strconv.Atoi(fields[1])
	port, _ := strconv.Atoi(fields[3])
	maxPlayers, _ := strconv.Atoi(fields[4])
	rank, _ := strconv.Atoi(fields[6])

	s.nextBattleID++
	b := NewBattle(s.nextBattleID, sess.UserID)
	b.NatType = NATType(natType)
	b.HostIP = remoteIP(sess)
	b.HostPort = port
	b.MaxPlayers = maxPlayers
	b.PasswordHash = fields[2]
	b.Rank = rank
	b.Engine = fields[8]
	b.EngineVer = fields[9]
	b.MapName = fields[10]
	if len(fields) >= 12 {
		b.Title = fields[11]
	}
	if len(fields) >= 13 {
		b.ModName = fields[12]
	}
	s.battles[b.ID] = b
	b.AddUser(sess.UserID)
	sess.BattleID = b.ID
	sess.IsHost = true

	if b.NatType == NATHolePunching && s.nat != nil {
		if udpAddr, err := resolveUDP(b.HostIP, b.HostPort); err == nil {
			s.nat.RegisterHost(b.ID, udpAddr)
		}
	}

	s.send(sess, replyID, "BATTLEOPENED", fmt.Sprintf("%d", b.ID), sess.Username, b.Title)
	s.broadcastAll(nil, "BATTLEOPENED", fmt.Sprintf("%d", b.ID), sess.Username, b.Title)
}

// handleJoinBattle implements JOINBATTLE battleID [password] (spec §4.4).
func handleJoinBattle(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return
	}
	b, ok := s.battles[uint32(id)]
	if !ok {
		s.send(sess, replyID, "JOINBATTLEDENIED", "No such battle")
		return
	}
	if b.Full() {
		s.send(sess, replyID, "JOINBATTLEDENIED", "Battle is full")
		return
	}
	if b.Locked() {
		if len(args) < 2 || args[1] != b.PasswordHash {
			s.send(sess, replyID, "JOINBATTLEDENIED", "Bad password")
			return
		}
	}
	if sess.BattleID != 0 {
		s.leaveBattle(sess)
	}

	b.AddUser(sess.UserID)
	sess.BattleID = b.ID
	sess.IsHost = false

	s.send(sess, replyID, "JOINBATTLEACCEPTED", fmt.Sprintf("%d", b.ID))
	s.send(sess, nil, "JOINEDBATTLE", fmt.Sprintf("%d", b.ID), sess.Username)
	s.broadcastBattle(b, nil, "JOINEDBATTLE", fmt.Sprintf("%d", b.ID), sess.Username)
}

// leaveBattle removes sess from its current battle, closing the battle
// outright if it was the host.
func (s *Server) leaveBattle(sess *Session) {
	b, ok := s.battles[sess.BattleID]
	if !ok {
		sess.BattleID = 0
		return
	}
	wasHost := sess.IsHost
	b.RemoveUser(sess.UserID)
	s.broadcastBattle(b, nil, "LEFTBATTLE", fmt.Sprintf("%d", b.ID), sess.Username)
	sess.BattleID = 0
	sess.IsHost = false

	if wasHost {
		for uid := range b.Users {
			if other := s.sessionForUser(uid); other != nil {
				other.BattleID = 0
				other.IsHost = false
			}
		}
		if b.NatType == NATHolePunching && s.nat != nil {
			s.nat.UnregisterHost(b.ID)
		}
		delete(s.battles, b.ID)
		s.broadcastAll(nil, "BATTLECLOSED", fmt.Sprintf("%d", b.ID))
	}
}

// handleLeaveBattle implements LEAVEBATTLE.
func handleLeaveBattle(s *Server, sess *Session, replyID *int64, args []string) {
	if sess.BattleID == 0 {
		return
	}
	s.leaveBattle(sess)
}

func (s *Server) currentBattle(sess *Session) (*Battle, bool) {
	if sess.BattleID == 0 {
		return nil, false
	}
	b, ok := s.battles[sess.BattleID]
	return b, ok
}

// handleUpdateBattleInfo implements UPDATEBATTLEINFO spectatorCount locked maphash map (spec §4.4), host-only.
func handleUpdateBattleInfo(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost || len(args) < 4 {
		return
	}
	b.MapName = args[3]
	s.broadcastBattle(b, nil, "UPDATEBATTLEINFO", args[0], args[1], args[2], args[3])
}

// handleMyBattleStatus implements MYBATTLESTATUS status teamColor (spec §4.4): every field is sanitized server-side.
func handleMyBattleStatus(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || len(args) < 1 {
		return
	}
	n, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return
	}
	forceSpectator := b.Full() && !b.Users[sess.UserID]
	b.SetUserStatus(sess.UserID, BattleStatus(n), forceSpectator)
	status := b.UserStatus[sess.UserID]
	s.broadcastBattle(b, nil, "CLIENTBATTLESTATUS", sess.Username, strconv.FormatUint(uint64(status), 10))
}

// handleSayBattle implements SAYBATTLE message.
func handleSayBattle(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || len(args) < 1 {
		return
	}
	clean := ircfmt.Sanitize(restFrom(args, 0))
	s.broadcastBattle(b, nil, "SAIDBATTLE", sess.Username, clean)
}

// handleAddBot implements ADDBOT name battlestatus aidll for any member
// of the caller's battle; the caller becomes the bot's owner.
func handleAddBot(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || len(args) < 3 {
		return
	}
	status, _ := strconv.ParseUint(args[1], 10, 32)
	bot := &BattleBot{Name: args[0], OwnerID: sess.UserID, AIDLL: args[2], BattleStatus: BattleStatus(status)}
	b.AddBot(bot)
	s.broadcastBattle(b, nil, "ADDBOT", args[0], sess.Username, args[1], args[2])
}

// handleRemoveBot implements REMOVEBOT name.
func handleRemoveBot(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || len(args) < 1 {
		return
	}
	bot, exists := b.Bots[args[0]]
	if !exists || (bot.OwnerID != sess.UserID && !sess.IsHost) {
		return
	}
	b.RemoveBot(args[0])
	s.broadcastBattle(b, nil, "REMOVEBOT", args[0])
}

// handleUpdateBot implements UPDATEBOT name battlestatus teamColor.
func handleUpdateBot(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || len(args) < 2 {
		return
	}
	bot, exists := b.Bots[args[0]]
	if !exists {
		return
	}
	status, _ := strconv.ParseUint(args[1], 10, 32)
	bot.BattleStatus = BattleStatus(status)
	s.broadcastBattle(b, nil, "UPDATEBOT", args[0], args[1])
}

// handleAddStartRect implements ADDSTARTRECT allyteam left top right bottom, host-only.
func handleAddStartRect(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost || len(args) < 5 {
		return
	}
	ally, _ := strconv.Atoi(args[0])
	left, _ := strconv.Atoi(args[1])
	top, _ := strconv.Atoi(args[2])
	right, _ := strconv.Atoi(args[3])
	bottom, _ := strconv.Atoi(args[4])
	b.AddStartRect(StartRect{AllyTeam: ally, Left: left, Top: top, Right: right, Bottom: bottom})
	s.broadcastBattle(b, nil, "ADDSTARTRECT", args[0], args[1], args[2], args[3], args[4])
}

// handleRemoveStartRect implements REMOVESTARTRECT allyteam, host-only.
func handleRemoveStartRect(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost || len(args) < 1 {
		return
	}
	ally, _ := strconv.Atoi(args[0])
	b.RemoveStartRect(ally)
	s.broadcastBattle(b, nil, "REMOVESTARTRECT", args[0])
}

// handleSetScriptTags implements SETSCRIPTTAGS key1=val1\tkey2=val2..., host-only.
func handleSetScriptTags(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost || len(args) < 1 {
		return
	}
	tags := make(map[string]string)
	for _, kv := range SplitTabs(args[0]) {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			tags[parts[0]] = parts[1]
		}
	}
	b.SetScriptTags(tags)
	s.broadcastBattle(b, nil, "SETSCRIPTTAGS", args[0])
}

// handleRemoveScriptTags implements REMOVESCRIPTTAGS key1\tkey2..., host-only.
func handleRemoveScriptTags(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost || len(args) < 1 {
		return
	}
	b.RemoveScriptTags(SplitTabs(args[0]))
	s.broadcastBattle(b, nil, "REMOVESCRIPTTAGS", args[0])
}

// handleDisableUnits implements DISABLEUNITS unit1 unit2 ..., host-only.
func handleDisableUnits(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost {
		return
	}
	b.DisableUnits(args)
	s.broadcastBattle(b, nil, "DISABLEUNITS", args...)
}

// handleEnableUnits implements ENABLEUNITS unit1 unit2 ..., host-only.
func handleEnableUnits(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost {
		return
	}
	b.EnableUnits(args)
	s.broadcastBattle(b, nil, "ENABLEUNITS", args...)
}

// handleEnableAllUnits implements ENABLEALLUNITS, host-only.
func handleEnableAllUnits(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost {
		return
	}
	b.EnableAllUnits()
	s.broadcastBattle(b, nil, "ENABLEALLUNITS")
}

// handleStartBattle implements STARTBATTLE, host-only: flips the battle
// into the IN_GAME half of spec §4.4's OPEN -> IN_GAME -> OPEN cycle.
func handleStartBattle(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost {
		return
	}
	b.InGame = true
	sess.Status = NewStatus(true, sess.Status.Away(), sess.Status.Rank(), sess.Status.Access(), sess.Status.Bot())
	s.broadcastAll(nil, "CLIENTSTATUS", sess.Username, strconv.Itoa(int(sess.Status)))
}

// battleParticipant resolves username to a session currently in b, or
// nil if it isn't a member (a host can't force-moderate someone who has
// already left).
func (s *Server) battleParticipant(b *Battle, username string) *Session {
	target := s.sessionByUsername(casefold(username))
	if target == nil || target.BattleID != b.ID {
		return nil
	}
	return target
}

// handleHandicap implements HANDICAP username value, host-only.
func handleHandicap(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost || len(args) < 2 {
		return
	}
	target := s.battleParticipant(b, args[0])
	if target == nil {
		return
	}
	value, err := strconv.Atoi(args[1])
	if err != nil {
		return
	}
	b.ForceHandicap(target.UserID, value)
	s.broadcastBattle(b, nil, "HANDICAP", target.Username, args[1])
}

// handleForceTeamNo implements FORCETEAMNO username teamno, host-only.
func handleForceTeamNo(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost || len(args) < 2 {
		return
	}
	target := s.battleParticipant(b, args[0])
	if target == nil {
		return
	}
	team, err := strconv.Atoi(args[1])
	if err != nil {
		return
	}
	b.ForceTeamNo(target.UserID, team)
	s.broadcastBattle(b, nil, "FORCETEAMNO", target.Username, args[1])
}

// handleForceAllyNo implements FORCEALLYNO username allyno, host-only.
func handleForceAllyNo(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost || len(args) < 2 {
		return
	}
	target := s.battleParticipant(b, args[0])
	if target == nil {
		return
	}
	ally, err := strconv.Atoi(args[1])
	if err != nil {
		return
	}
	b.ForceAllyNo(target.UserID, ally)
	s.broadcastBattle(b, nil, "FORCEALLYNO", target.Username, args[1])
}

// handleForceTeamColor implements FORCETEAMCOLOR username color, host-only.
func handleForceTeamColor(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost || len(args) < 2 {
		return
	}
	target := s.battleParticipant(b, args[0])
	if target == nil {
		return
	}
	color, err := strconv.Atoi(args[1])
	if err != nil {
		return
	}
	b.ForceTeamColor(target.UserID, color)
	s.broadcastBattle(b, nil, "FORCETEAMCOLOR", target.Username, args[1])
}

// handleForceSpectatorMode implements FORCESPECTATORMODE username, host-only.
func handleForceSpectatorMode(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost || len(args) < 1 {
		return
	}
	target := s.battleParticipant(b, args[0])
	if target == nil {
		return
	}
	b.ForceSpectatorMode(target.UserID)
	s.broadcastBattle(b, nil, "FORCESPECTATORMODE", target.Username)
}

// handleKickFromBattle implements KICKFROMBATTLE username, host-only.
func handleKickFromBattle(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok || !sess.IsHost || len(args) < 1 {
		return
	}
	target := s.battleParticipant(b, args[0])
	if target == nil || target.UserID == sess.UserID {
		return
	}
	b.RemoveUser(target.UserID)
	delete(b.TeamColors, target.UserID)
	target.BattleID = 0
	target.IsHost = false
	s.send(target, nil, "KICKFROMBATTLE", fmt.Sprintf("%d", b.ID))
	s.broadcastBattle(b, nil, "LEFTBATTLE", fmt.Sprintf("%d", b.ID), target.Username)
}

// handleRequestBattleStatus implements REQUESTBATTLESTATUS, replaying
// every participant's current battle status to the requester.
func handleRequestBattleStatus(s *Server, sess *Session, replyID *int64, args []string) {
	b, ok := s.currentBattle(sess)
	if !ok {
		return
	}
	for uid, status := range b.UserStatus {
		other := s.sessionForUser(uid)
		if other == nil {
			continue
		}
		s.send(sess, nil, "CLIENTBATTLESTATUS", other.Username, strconv.FormatUint(uint64(status), 10))
	}
}
