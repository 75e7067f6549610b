package lobby

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/racklobby/lobbyserver/store"
)

func TestJoinChannelRejectsWrongKeyForPlainUser(t *testing.T) {
	s := newChanServTestServer(t)
	founder, err := s.store.RegisterUser("founder2", "h", "", "")
	require.NoError(t, err)
	ch := registerTestChannel(t, s, "#locked", founder)
	ch.Key = "secret"

	plain, err := s.store.RegisterUser("plain2", "h", "", "")
	require.NoError(t, err)
	sess := newLoggedInSession(s, 1, plain.ID, "plain2")

	s.joinChannel(sess, nil, "#locked", "", 0)
	lines := sess.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "JOINFAILED")
	require.Contains(t, string(lines[0]), "Bad key")
}

func TestJoinChannelAllowsFounderPastKeyCheck(t *testing.T) {
	s := newChanServTestServer(t)
	founder, err := s.store.RegisterUser("founder3", "h", "", "")
	require.NoError(t, err)
	ch := registerTestChannel(t, s, "#locked2", founder)
	ch.Key = "secret"

	sess := newLoggedInSession(s, 1, founder.ID, "founder3")
	s.joinChannel(sess, nil, "#locked2", "", 0)

	lines := sess.drain()
	require.NotEmpty(t, lines)
	require.Contains(t, string(lines[0]), "JOIN #locked2")
}

func TestJoinChannelAllowsServerAdminPastKeyCheck(t *testing.T) {
	s := newChanServTestServer(t)
	founder, err := s.store.RegisterUser("founder4", "h", "", "")
	require.NoError(t, err)
	ch := registerTestChannel(t, s, "#locked3", founder)
	ch.Key = "secret"

	admin, err := s.store.RegisterUser("admin1", "h", "", "")
	require.NoError(t, err)
	sess := newLoggedInSession(s, 1, admin.ID, "admin1")
	sess.Access = store.AccessAdmin

	s.joinChannel(sess, nil, "#locked3", "", 0)
	lines := sess.drain()
	require.NotEmpty(t, lines)
	require.Contains(t, string(lines[0]), "JOIN #locked3")
}

func TestJoinChannelRejectsBannedPlainUser(t *testing.T) {
	s := newChanServTestServer(t)
	founder, err := s.store.RegisterUser("founder5", "h", "", "")
	require.NoError(t, err)
	meta, err := s.store.RegisterChannel("#banned", founder.ID)
	require.NoError(t, err)

	target, err := s.store.RegisterUser("target5", "h", "", "")
	require.NoError(t, err)
	require.NoError(t, s.store.AddChannelBan(store.ChannelBan{ChannelID: meta.ID, UserID: target.ID}))

	sess := newLoggedInSession(s, 1, target.ID, "target5")
	s.joinChannel(sess, nil, "#banned", "", 0)

	lines := sess.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "JOINFAILED")
	require.Contains(t, string(lines[0]), "Banned")
}

func TestJoinChannelAllowsOpPastBanCheck(t *testing.T) {
	s := newChanServTestServer(t)
	founder, err := s.store.RegisterUser("founder6", "h", "", "")
	require.NoError(t, err)
	meta, err := s.store.RegisterChannel("#bannedbutop", founder.ID)
	require.NoError(t, err)

	op, err := s.store.RegisterUser("op6", "h", "", "")
	require.NoError(t, err)
	require.NoError(t, s.store.AddChannelOp(meta.ID, op.ID))
	require.NoError(t, s.store.AddChannelBan(store.ChannelBan{ChannelID: meta.ID, UserID: op.ID}))

	sess := newLoggedInSession(s, 1, op.ID, "op6")
	s.joinChannel(sess, nil, "#bannedbutop", "", 0)

	lines := sess.drain()
	require.NotEmpty(t, lines)
	require.Contains(t, string(lines[0]), "JOIN #bannedbutop")
}

func TestJoinChannelForwardsJoinIntoDestination(t *testing.T) {
	s := newChanServTestServer(t)
	founder, err := s.store.RegisterUser("founder7", "h", "", "")
	require.NoError(t, err)
	src, err := s.store.RegisterChannel("#old", founder.ID)
	require.NoError(t, err)
	dst, err := s.store.RegisterChannel("#new", founder.ID)
	require.NoError(t, err)
	require.NoError(t, s.store.AddChannelForward(src.ID, dst.ID))

	plain, err := s.store.RegisterUser("plain7", "h", "", "")
	require.NoError(t, err)
	sess := newLoggedInSession(s, 1, plain.ID, "plain7")

	s.joinChannel(sess, nil, "#old", "", 0)

	_, inSrc := s.channels["#old"].Members[sess.ID]
	_, inDst := s.channels["#new"].Members[sess.ID]
	require.True(t, inSrc, "the join itself still admits the user into the source channel")
	require.True(t, inDst, "forward-to also transparently joins the destination channel")
}
