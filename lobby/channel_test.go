package lobby

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChannelRoleOfPrecedence(t *testing.T) {
	ch := NewChannel("#test", testAntiSpamConfig())
	ch.Registered = true
	ch.FounderID = 1
	ch.Ops[2] = true

	require.Equal(t, RoleAdmin, ch.RoleOf(99, true, false), "server admin outranks everything")
	require.Equal(t, RoleMod, ch.RoleOf(99, false, true), "server mod outranks founder/op")
	require.Equal(t, RoleFounder, ch.RoleOf(1, false, false))
	require.Equal(t, RoleOp, ch.RoleOf(2, false, false))
	require.Equal(t, RoleUser, ch.RoleOf(3, false, false))
}

func TestChannelBanAndMuteExpiry(t *testing.T) {
	ch := NewChannel("#test", testAntiSpamConfig())
	now := time.Now()

	ch.Bans["alice"] = time.Time{} // indefinite
	ch.Bans["bob"] = now.Add(-time.Minute) // expired
	ch.Mutes["carol"] = now.Add(time.Minute) // still active

	require.True(t, ch.IsBanned("alice", now))
	require.False(t, ch.IsBanned("bob", now))
	require.True(t, ch.IsMuted("carol", now))
	require.False(t, ch.IsMuted("dave", now))
}

func TestChannelJoinLeaveEmpty(t *testing.T) {
	ch := NewChannel("#test", testAntiSpamConfig())
	sess := NewSession(1, nil)
	sess.Username = "alice"

	require.True(t, ch.Empty())
	ch.Join(sess)
	require.False(t, ch.Empty())
	require.Contains(t, ch.Members, sess.ID)

	ch.Leave(sess.ID)
	require.True(t, ch.Empty())
}

func TestChannelRecordMessageMutesOnFlood(t *testing.T) {
	ch := NewChannel("#test", testAntiSpamConfig())
	sess := NewSession(1, nil)
	ch.Join(sess)
	now := time.Now()

	var muted bool
	for i := 0; i < 6; i++ {
		muted = ch.RecordMessage(sess.ID, now, 10)
	}
	require.True(t, muted, "six short messages at the same instant should cross aggressiveness=5")
	require.True(t, ch.MemberMuted(sess.ID, now))
}

func TestChannelAntiSpamDisabledNeverMutes(t *testing.T) {
	ch := NewChannel("#test", testAntiSpamConfig())
	ch.AntiSpamEnabled = false
	sess := NewSession(1, nil)
	ch.Join(sess)
	now := time.Now()

	for i := 0; i < 20; i++ {
		require.False(t, ch.RecordMessage(sess.ID, now, 10000))
	}
}
