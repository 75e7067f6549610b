package lobby

import (
	"crypto/md5"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/racklobby/lobbyserver/store"
)

// md5B64 mimics the client-side password layer: base64(md5(plaintext)).
func md5B64(plaintext string) string {
	sum := md5.Sum([]byte(plaintext))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func TestHandleLoginAcceptsCorrectCredentials(t *testing.T) {
	s := newChanServTestServer(t)
	hash, err := hashPassword("correcthorse")
	require.NoError(t, err)
	user, err := s.store.RegisterUser("alice", hash, "", "")
	require.NoError(t, err)
	user.Access = store.AccessFresh
	require.NoError(t, s.store.SaveUser(user))

	sess := NewSession(1, nil)
	s.sessions[sess.ID] = sess

	handleLogin(s, sess, nil, []string{"alice", "correcthorse"})

	require.True(t, sess.LoggedIn)
	require.Equal(t, user.ID, sess.UserID)
	lines := sess.drain()
	require.True(t, len(lines) >= 1)
	require.Contains(t, string(lines[0]), "ACCEPTED")
}

func TestHandleLoginRejectsWrongPassword(t *testing.T) {
	s := newChanServTestServer(t)
	hash, err := hashPassword("correcthorse")
	require.NoError(t, err)
	_, err = s.store.RegisterUser("alice", hash, "", "")
	require.NoError(t, err)

	sess := NewSession(1, nil)
	s.sessions[sess.ID] = sess

	handleLogin(s, sess, nil, []string{"alice", "wrongpassword"})

	require.False(t, sess.LoggedIn)
	lines := sess.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "DENIED")
}

func TestHandleLoginRejectsUnknownUsername(t *testing.T) {
	s := newChanServTestServer(t)
	sess := NewSession(1, nil)
	s.sessions[sess.ID] = sess

	handleLogin(s, sess, nil, []string{"ghost", "whatever"})

	require.False(t, sess.LoggedIn)
	lines := sess.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "DENIED")
}

func TestHandleLoginHoldsPendingAgreementUsersAtAgreementGate(t *testing.T) {
	s := newChanServTestServer(t)
	hash, err := hashPassword("correcthorse")
	require.NoError(t, err)
	user, err := s.store.RegisterUser("alice", hash, "", "")
	require.NoError(t, err)
	require.Equal(t, store.AccessAgreement, user.Access)

	sess := NewSession(1, nil)
	s.sessions[sess.ID] = sess

	handleLogin(s, sess, nil, []string{"alice", "correcthorse"})

	lines := sess.drain()
	require.Len(t, lines, 2)
	require.Contains(t, string(lines[0]), "AGREEMENT")
	require.Contains(t, string(lines[1]), "AGREEMENTEND")
}

func TestHandleLoginDisconnectsExistingSessionForSameUser(t *testing.T) {
	s := newChanServTestServer(t)
	hash, err := hashPassword("correcthorse")
	require.NoError(t, err)
	user, err := s.store.RegisterUser("alice", hash, "", "")
	require.NoError(t, err)
	user.Access = store.AccessFresh
	require.NoError(t, s.store.SaveUser(user))

	oldSess := newLoggedInSession(s, 1, user.ID, "alice")
	newSess := NewSession(2, nil)
	s.sessions[newSess.ID] = newSess

	handleLogin(s, newSess, nil, []string{"alice", "correcthorse"})

	_, oldStillPresent := s.sessions[oldSess.ID]
	require.False(t, oldStillPresent)
	require.True(t, newSess.LoggedIn)
}

func TestHandleRegisterCreatesAccount(t *testing.T) {
	s := newChanServTestServer(t)
	sess := NewSession(1, nil)
	s.sessions[sess.ID] = sess

	handleRegister(s, sess, nil, []string{"newuser", md5B64("hunter2")})

	lines := sess.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "REGISTRATIONACCEPTED")

	user, err := s.store.FindUserByUsername("newuser")
	require.NoError(t, err)
	require.True(t, verifyPassword(md5B64("hunter2"), user.PasswordHash))
}

func TestHandleRegisterRejectsOverlongUsername(t *testing.T) {
	s := newChanServTestServer(t)
	sess := NewSession(1, nil)
	s.sessions[sess.ID] = sess

	handleRegister(s, sess, nil, []string{"this_username_is_way_too_long", md5B64("hunter2")})

	lines := sess.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "REGISTRATIONDENIED")
}

func TestHandleRegisterRejectsMalformedPasswordHash(t *testing.T) {
	s := newChanServTestServer(t)
	sess := NewSession(1, nil)
	s.sessions[sess.ID] = sess

	handleRegister(s, sess, nil, []string{"newuser", "not-a-hash"})

	lines := sess.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "REGISTRATIONDENIED")
}

func TestHandleRegisterRejectsEmailMissingAtSign(t *testing.T) {
	s := newChanServTestServer(t)
	sess := NewSession(1, nil)
	s.sessions[sess.ID] = sess

	handleRegister(s, sess, nil, []string{"newuser", md5B64("hunter2"), "not-an-email"})

	lines := sess.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "REGISTRATIONDENIED")
}

func TestHandleRegisterRejectsExistingUsername(t *testing.T) {
	s := newChanServTestServer(t)
	hash, err := hashPassword("x")
	require.NoError(t, err)
	_, err = s.store.RegisterUser("taken", hash, "", "")
	require.NoError(t, err)

	sess := NewSession(1, nil)
	s.sessions[sess.ID] = sess
	handleRegister(s, sess, nil, []string{"taken", md5B64("hunter2")})

	lines := sess.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "REGISTRATIONDENIED")
}

func TestHandleRegisterIncrementsRegistrationHits(t *testing.T) {
	s := newChanServTestServer(t)
	sess := NewSession(1, nil)
	s.sessions[sess.ID] = sess

	handleRegister(s, sess, nil, []string{"user1", md5B64("hunter2")})
	require.Equal(t, 1, sess.RegistrationHits)

	handleRegister(s, sess, nil, []string{"user2", md5B64("hunter2")})
	require.Equal(t, 2, sess.RegistrationHits)
}

func TestHandleRegisterThrottlesShortlyAfterAScheduledReset(t *testing.T) {
	s := newChanServTestServer(t)
	sess := NewSession(1, nil)
	s.sessions[sess.ID] = sess

	// A prior scheduler tick left a pending hit with LastRegReset just
	// set, putting the session inside the throttle window.
	sess.RegistrationHits = 1
	sess.LastRegReset = time.Now().UTC()

	handleRegister(s, sess, nil, []string{"user1", md5B64("hunter2")})
	lines := sess.drain()
	require.Len(t, lines, 1)
	require.Contains(t, string(lines[0]), "Too many registration attempts")
}

func TestHandleConfirmAgreementPromotesFreshAccess(t *testing.T) {
	s := newChanServTestServer(t)
	hash, err := hashPassword("x")
	require.NoError(t, err)
	user, err := s.store.RegisterUser("alice", hash, "", "")
	require.NoError(t, err)
	require.Equal(t, store.AccessAgreement, user.Access)

	sess := newLoggedInSession(s, 1, user.ID, "alice")
	sess.Access = int(store.AccessAgreement)

	handleConfirmAgreement(s, sess, nil, nil)

	require.Equal(t, int(store.AccessFresh), sess.Access)
	updated, err := s.store.FindUserByID(user.ID)
	require.NoError(t, err)
	require.Equal(t, store.AccessFresh, updated.Access)
}

func TestHandleExitRemovesSession(t *testing.T) {
	s := newChanServTestServer(t)
	sess := NewSession(1, nil)
	s.sessions[sess.ID] = sess

	handleExit(s, sess, nil, nil)

	_, stillPresent := s.sessions[sess.ID]
	require.False(t, stillPresent)
}
