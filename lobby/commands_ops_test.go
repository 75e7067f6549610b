package lobby

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleKickUserSendsReasonAndRemoves(t *testing.T) {
	s := newChanServTestServer(t)
	target := newLoggedInSession(s, 1, 1, "victim")
	admin := NewSession(2, nil)
	admin.LoggedIn = true
	admin.Username = "admin"

	handleKickUser(s, admin, nil, []string{"victim", "spamming", "the", "channel"})

	lines := target.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "spamming the channel")
	_, stillPresent := s.sessions[target.ID]
	require.False(t, stillPresent)
}

func TestHandleKickUserDefaultsReasonWhenNotGiven(t *testing.T) {
	s := newChanServTestServer(t)
	target := newLoggedInSession(s, 1, 1, "victim")
	admin := NewSession(2, nil)
	admin.LoggedIn = true
	admin.Username = "admin"

	handleKickUser(s, admin, nil, []string{"victim"})

	lines := target.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "Kicked by admin")
}

func TestHandleKickUserUnknownUsername(t *testing.T) {
	s := newChanServTestServer(t)
	admin := NewSession(2, nil)
	admin.LoggedIn = true
	admin.Username = "admin"

	handleKickUser(s, admin, nil, []string{"ghost"})
	lines := admin.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "No such user")
}

func TestHandleBanPersistsReasonAndRemovesLiveSession(t *testing.T) {
	s := newChanServTestServer(t)
	target, err := s.store.RegisterUser("victim", "h", "", "")
	require.NoError(t, err)
	sess := newLoggedInSession(s, 1, target.ID, "victim")
	admin := NewSession(2, nil)
	admin.LoggedIn = true
	admin.UserID = 999
	admin.Username = "admin"

	handleBan(s, admin, nil, []string{"victim", "3600", "abusive", "chat"})

	lines := sess.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "abusive chat")
	_, stillPresent := s.sessions[sess.ID]
	require.False(t, stillPresent)

	bans, err := s.store.ListBans()
	require.NoError(t, err)
	require.Len(t, bans, 1)
	require.Equal(t, "abusive chat", bans[0].Reason)
	require.False(t, bans[0].EndDate.IsZero())
}

func TestHandleBanPermanentWhenNoDuration(t *testing.T) {
	s := newChanServTestServer(t)
	_, err := s.store.RegisterUser("victim", "h", "", "")
	require.NoError(t, err)
	admin := NewSession(2, nil)
	admin.LoggedIn = true
	admin.Username = "admin"

	handleBan(s, admin, nil, []string{"victim"})

	bans, err := s.store.ListBans()
	require.NoError(t, err)
	require.Len(t, bans, 1)
	require.True(t, bans[0].EndDate.IsZero())
}

func TestHandleUnban(t *testing.T) {
	s := newChanServTestServer(t)
	target, err := s.store.RegisterUser("victim", "h", "", "")
	require.NoError(t, err)
	admin := NewSession(2, nil)
	admin.LoggedIn = true
	admin.Username = "admin"
	admin.UserID = 999

	handleBan(s, admin, nil, []string{"victim"})
	bans, err := s.store.ListBans()
	require.NoError(t, err)
	require.Len(t, bans, 1)
	require.Equal(t, target.ID, bans[0].UserID)

	handleUnban(s, admin, nil, []string{strconv.FormatInt(bans[0].ID, 10)})
	bans, err = s.store.ListBans()
	require.NoError(t, err)
	require.Empty(t, bans)
}

func TestHandleBroadcastFansOutToAllLoggedInSessions(t *testing.T) {
	s := newChanServTestServer(t)
	a := newLoggedInSession(s, 1, 1, "alice")
	b := newLoggedInSession(s, 2, 2, "bob")
	admin := NewSession(3, nil)
	admin.LoggedIn = true
	admin.Username = "admin"
	s.sessions[admin.ID] = admin

	handleBroadcast(s, admin, nil, []string{"server", "restarting", "soon"})

	for _, sess := range []*Session{a, b, admin} {
		lines := sess.drain()
		require.Len(t, lines, 1)
		require.Contains(t, string(lines[0]), "server restarting soon")
	}
}
