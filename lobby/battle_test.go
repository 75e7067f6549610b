package lobby

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBattleFullRespectsMaxPlayers(t *testing.T) {
	b := NewBattle(1, 100)
	b.MaxPlayers = 2
	require.False(t, b.Full())

	b.AddUser(100)
	require.False(t, b.Full())

	b.AddUser(200)
	require.True(t, b.Full())
}

func TestBattleUnlimitedMaxPlayersNeverFull(t *testing.T) {
	b := NewBattle(1, 100)
	b.MaxPlayers = 0
	for uid := int64(1); uid <= 50; uid++ {
		b.AddUser(uid)
	}
	require.False(t, b.Full())
}

func TestBattleLockedReflectsPasswordHash(t *testing.T) {
	b := NewBattle(1, 100)
	require.False(t, b.Locked())
	b.PasswordHash = "$argon2id$..."
	require.True(t, b.Locked())
}

func TestBattleAddUserDefaultsToSpectator(t *testing.T) {
	b := NewBattle(1, 100)
	b.AddUser(200)
	require.True(t, b.Users[200])
	require.True(t, b.UserStatus[200].Spectator())
}

func TestBattleRemoveUserClearsStatus(t *testing.T) {
	b := NewBattle(1, 100)
	b.AddUser(200)
	b.RemoveUser(200)
	require.False(t, b.Users[200])
	_, ok := b.UserStatus[200]
	require.False(t, ok)
}

func TestBattleSetUserStatusSanitizesAndForcesSpectator(t *testing.T) {
	b := NewBattle(1, 100)
	b.AddUser(200)
	status := NewBattleStatus(true, 1, 1, false, 127, 3, 0)
	b.SetUserStatus(200, status, true)
	got := b.UserStatus[200]
	require.True(t, got.Spectator())
	require.Equal(t, 100, got.Handicap())
	require.Equal(t, 2, got.Sync())
}

func TestBattleBotAddAndRemove(t *testing.T) {
	b := NewBattle(1, 100)
	b.AddBot(&BattleBot{Name: "Bot1", OwnerID: 100, AIDLL: "RAI"})
	require.Contains(t, b.Bots, "Bot1")

	b.RemoveBot("Bot1")
	require.NotContains(t, b.Bots, "Bot1")
}

func TestBattleScriptTagsMergeAndRemove(t *testing.T) {
	b := NewBattle(1, 100)
	b.SetScriptTags(map[string]string{"game/startpostype": "2", "game/maxunits": "1000"})
	require.Equal(t, "2", b.ScriptTags["game/startpostype"])

	b.SetScriptTags(map[string]string{"game/maxunits": "2000"})
	require.Equal(t, "2000", b.ScriptTags["game/maxunits"])

	b.RemoveScriptTags([]string{"game/startpostype"})
	_, ok := b.ScriptTags["game/startpostype"]
	require.False(t, ok)
	require.Equal(t, "2000", b.ScriptTags["game/maxunits"])
}

func TestBattleStartRectAddAndRemove(t *testing.T) {
	b := NewBattle(1, 100)
	b.AddStartRect(StartRect{AllyTeam: 0, Left: 0, Top: 0, Right: 10, Bottom: 10})
	require.Contains(t, b.StartRects, 0)

	b.RemoveStartRect(0)
	require.NotContains(t, b.StartRects, 0)
}

func TestBattleDisableEnableUnits(t *testing.T) {
	b := NewBattle(1, 100)
	b.DisableUnits([]string{"ARMCOM", "CORCOM"})
	require.True(t, b.DisabledUnits["ARMCOM"])
	require.True(t, b.DisabledUnits["CORCOM"])

	b.EnableUnits([]string{"ARMCOM"})
	require.False(t, b.DisabledUnits["ARMCOM"])
	require.True(t, b.DisabledUnits["CORCOM"])

	b.EnableAllUnits()
	require.Empty(t, b.DisabledUnits)
}
