package lobby

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newLoggedInSession(s *Server, id, userID int64, username string) *Session {
	sess := NewSession(id, nil)
	sess.LoggedIn = true
	sess.UserID = userID
	sess.Username = username
	s.sessions[id] = sess
	s.usernameToID[casefold(username)] = id
	return sess
}

func TestHandleOpenBattleCreatesHostedBattle(t *testing.T) {
	s := newTestServer(t)
	host := newLoggedInSession(s, 1, 100, "host")

	fields := []string{"0", "0", "", "8452", "8", "0", "0", "0", "spring", "104.0", "mapname", "title", "mod"}
	handleOpenBattle(s, host, nil, []string{strings.Join(fields, "\t")})

	require.Len(t, s.battles, 1)
	require.NotZero(t, host.BattleID)
	b := s.battles[host.BattleID]
	require.Equal(t, int64(100), b.HostID)
	require.Equal(t, 8452, b.HostPort)
	require.Equal(t, 8, b.MaxPlayers)
	require.Equal(t, "spring", b.Engine)
	require.Equal(t, "104.0", b.EngineVer)
	require.Equal(t, "mapname", b.MapName)
	require.Equal(t, "title", b.Title)
	require.Equal(t, "mod", b.ModName)
	require.True(t, host.IsHost)
}

func TestHandleOpenBattleRejectsWhenAlreadyInBattle(t *testing.T) {
	s := newTestServer(t)
	host := newLoggedInSession(s, 1, 100, "host")
	host.BattleID = 5

	fields := []string{"0", "0", "", "8452", "8", "0", "0", "0", "spring", "104.0", "map", "t", "m"}
	handleOpenBattle(s, host, nil, []string{strings.Join(fields, "\t")})
	require.Empty(t, s.battles)
}

func TestHandleJoinBattleRejectsFullBattle(t *testing.T) {
	s := newTestServer(t)
	b := NewBattle(1, 100)
	b.MaxPlayers = 1
	b.AddUser(100)
	s.battles[1] = b

	joiner := newLoggedInSession(s, 2, 200, "joiner")
	handleJoinBattle(s, joiner, nil, []string{"1"})

	lines := joiner.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "JOINBATTLEDENIED")
	require.Zero(t, joiner.BattleID)
}

func TestHandleJoinBattleRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)
	b := NewBattle(1, 100)
	b.PasswordHash = "secret"
	s.battles[1] = b

	joiner := newLoggedInSession(s, 2, 200, "joiner")
	handleJoinBattle(s, joiner, nil, []string{"1", "wrong"})

	lines := joiner.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "JOINBATTLEDENIED")
}

func TestHandleJoinBattleSucceeds(t *testing.T) {
	s := newTestServer(t)
	b := NewBattle(1, 100)
	host := newLoggedInSession(s, 1, 100, "host")
	host.BattleID = 1
	s.battles[1] = b

	joiner := newLoggedInSession(s, 2, 200, "joiner")
	handleJoinBattle(s, joiner, nil, []string{"1"})

	require.Equal(t, uint32(1), joiner.BattleID)
	require.True(t, b.Users[200])
	require.False(t, joiner.IsHost)
}

func TestLeaveBattleClosesWhenHostLeaves(t *testing.T) {
	s := newTestServer(t)
	b := NewBattle(1, 100)
	host := newLoggedInSession(s, 1, 100, "host")
	host.BattleID = 1
	host.IsHost = true
	b.AddUser(100)
	s.battles[1] = b

	other := newLoggedInSession(s, 2, 200, "other")
	other.BattleID = 1
	b.AddUser(200)

	handleLeaveBattle(s, host, nil, nil)

	require.Empty(t, s.battles)
	require.Zero(t, other.BattleID)
	require.False(t, other.IsHost)
}

func TestLeaveBattleKeepsBattleWhenNonHostLeaves(t *testing.T) {
	s := newTestServer(t)
	b := NewBattle(1, 100)
	host := newLoggedInSession(s, 1, 100, "host")
	host.BattleID = 1
	host.IsHost = true
	b.AddUser(100)
	s.battles[1] = b

	other := newLoggedInSession(s, 2, 200, "other")
	other.BattleID = 1
	b.AddUser(200)

	handleLeaveBattle(s, other, nil, nil)

	require.Len(t, s.battles, 1)
	require.Zero(t, other.BattleID)
	require.False(t, b.Users[200])
	require.True(t, b.Users[100])
}

func TestHandleMyBattleStatusKeepsExistingPlayerWhenFull(t *testing.T) {
	s := newTestServer(t)
	b := NewBattle(1, 100)
	b.MaxPlayers = 1
	b.AddUser(100)
	s.battles[1] = b

	host := newLoggedInSession(s, 1, 100, "host")
	host.BattleID = 1

	status := NewBattleStatus(true, 1, 1, false, 0, 0, 0)
	handleMyBattleStatus(s, host, nil, []string{strconv.FormatUint(uint64(status), 10)})

	require.False(t, b.UserStatus[100].Spectator())
}

func TestHandleSayBattleBroadcastsToMembers(t *testing.T) {
	s := newTestServer(t)
	b := NewBattle(1, 100)
	b.AddUser(100)
	s.battles[1] = b
	host := newLoggedInSession(s, 1, 100, "host")
	host.BattleID = 1

	handleSayBattle(s, host, nil, []string{"hello", "there", "everyone"})

	lines := host.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "hello there everyone")
}

func TestHandleAddRemoveBot(t *testing.T) {
	s := newTestServer(t)
	b := NewBattle(1, 100)
	b.AddUser(100)
	s.battles[1] = b
	host := newLoggedInSession(s, 1, 100, "host")
	host.BattleID = 1
	host.IsHost = true

	handleAddBot(s, host, nil, []string{"Bot1", "0", "RAI"})
	require.Contains(t, b.Bots, "Bot1")

	handleRemoveBot(s, host, nil, []string{"Bot1"})
	require.NotContains(t, b.Bots, "Bot1")
}

func TestHandleAddStartRectRequiresHost(t *testing.T) {
	s := newTestServer(t)
	b := NewBattle(1, 100)
	b.AddUser(100)
	b.AddUser(200)
	s.battles[1] = b
	host := newLoggedInSession(s, 1, 100, "host")
	host.BattleID = 1
	host.IsHost = true
	nonHost := newLoggedInSession(s, 2, 200, "nonhost")
	nonHost.BattleID = 1

	handleAddStartRect(s, nonHost, nil, []string{"0", "0", "0", "100", "100"})
	require.Empty(t, b.StartRects)

	handleAddStartRect(s, host, nil, []string{"0", "0", "0", "100", "100"})
	require.Contains(t, b.StartRects, 0)
}

func TestHandleStartBattleRequiresHostAndFlipsInGame(t *testing.T) {
	s := newTestServer(t)
	b := NewBattle(1, 100)
	b.AddUser(100)
	b.AddUser(200)
	s.battles[1] = b
	host := newLoggedInSession(s, 1, 100, "host")
	host.BattleID = 1
	host.IsHost = true
	nonHost := newLoggedInSession(s, 2, 200, "nonhost")
	nonHost.BattleID = 1

	handleStartBattle(s, nonHost, nil, nil)
	require.False(t, b.InGame)

	handleStartBattle(s, host, nil, nil)
	require.True(t, b.InGame)
	require.True(t, host.Status.InGame())
}

func TestHandleMyStatusEndsBattleWhenHostLeavesGame(t *testing.T) {
	s := newTestServer(t)
	b := NewBattle(1, 100)
	b.AddUser(100)
	b.InGame = true
	s.battles[1] = b
	host := newLoggedInSession(s, 1, 100, "host")
	host.BattleID = 1
	host.IsHost = true

	notInGame := NewStatus(false, false, 0, StatusAccessUser, false)
	handleMyStatus(s, host, nil, []string{strconv.Itoa(int(notInGame))})

	require.False(t, b.InGame)
}

func TestHandleForceCommandsRequireHost(t *testing.T) {
	s := newTestServer(t)
	b := NewBattle(1, 100)
	b.AddUser(100)
	b.AddUser(200)
	s.battles[1] = b
	host := newLoggedInSession(s, 1, 100, "host")
	host.BattleID = 1
	host.IsHost = true
	target := newLoggedInSession(s, 2, 200, "target")
	target.BattleID = 1
	bystander := newLoggedInSession(s, 3, 300, "bystander")
	bystander.BattleID = 1

	handleHandicap(s, bystander, nil, []string{"target", "50"})
	require.Zero(t, b.UserStatus[200].Handicap())

	handleHandicap(s, host, nil, []string{"target", "50"})
	require.Equal(t, 50, b.UserStatus[200].Handicap())

	handleForceTeamNo(s, host, nil, []string{"target", "3"})
	require.Equal(t, 3, b.UserStatus[200].Team())

	handleForceAllyNo(s, host, nil, []string{"target", "2"})
	require.Equal(t, 2, b.UserStatus[200].Ally())

	handleForceSpectatorMode(s, host, nil, []string{"target"})
	require.True(t, b.UserStatus[200].Spectator())

	handleForceTeamColor(s, host, nil, []string{"target", "255"})
	require.Equal(t, 255, b.TeamColors[200])
}

func TestHandleKickFromBattleRemovesTarget(t *testing.T) {
	s := newTestServer(t)
	b := NewBattle(1, 100)
	b.AddUser(100)
	b.AddUser(200)
	s.battles[1] = b
	host := newLoggedInSession(s, 1, 100, "host")
	host.BattleID = 1
	host.IsHost = true
	target := newLoggedInSession(s, 2, 200, "target")
	target.BattleID = 1

	handleKickFromBattle(s, host, nil, []string{"target"})

	require.False(t, b.Users[200])
	require.Zero(t, target.BattleID)
	lines := target.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "KICKFROMBATTLE")
}
