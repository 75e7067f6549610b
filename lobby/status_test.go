package lobby

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusRoundTrip(t *testing.T) {
	s := NewStatus(true, false, 3, StatusAccessMod, true)
	require.True(t, s.InGame())
	require.False(t, s.Away())
	require.Equal(t, 3, s.Rank())
	require.Equal(t, StatusAccessMod, s.Access())
	require.True(t, s.Bot())
}

func TestStatusWithClientBitsPreservesServerBits(t *testing.T) {
	server := NewStatus(false, false, 5, StatusAccessAdmin, true)
	clientClaim := NewStatus(true, true, 7, StatusAccessAdmin, true) // client tries to forge rank/access

	merged := server.WithClientBits(clientClaim)
	require.True(t, merged.InGame(), "in_game should follow the client")
	require.True(t, merged.Away(), "away should follow the client")
	require.Equal(t, 5, merged.Rank(), "rank must stay server-authoritative")
	require.Equal(t, StatusAccessAdmin, merged.Access())
	require.True(t, merged.Bot())
}

func TestBattleStatusRoundTrip(t *testing.T) {
	b := NewBattleStatus(true, 2, 3, false, 50, 1, 4)
	require.True(t, b.Ready())
	require.Equal(t, 2, b.Team())
	require.Equal(t, 3, b.Ally())
	require.False(t, b.Spectator())
	require.Equal(t, 50, b.Handicap())
	require.Equal(t, 1, b.Sync())
	require.Equal(t, 4, b.Side())
}

func TestBattleStatusSanitizeClampsAndForcesSpectator(t *testing.T) {
	// handicap/sync are wider fields than their allowed range (7 bits and
	// 2 bits respectively), so a forged wire value can exceed the legal
	// range even though team/ally's 4-bit fields can't.
	b := NewBattleStatus(true, 3, 3, false, 127, 3, 2)
	sanitized := b.Sanitize(true)

	require.Equal(t, 100, sanitized.Handicap(), "handicap should clamp to 100")
	require.Equal(t, 2, sanitized.Sync(), "sync should clamp to 2")
	require.True(t, sanitized.Spectator(), "forceSpectator must win regardless of client request")
}

func TestBattleStatusSanitizeWithoutForceKeepsClientSpectatorChoice(t *testing.T) {
	b := NewBattleStatus(true, 1, 1, true, 0, 0, 0)
	sanitized := b.Sanitize(false)
	require.True(t, sanitized.Spectator())
}
