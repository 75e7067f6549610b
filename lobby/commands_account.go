package lobby

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/oragono/confusables"
	"github.com/racklobby/lobbyserver/store"
)

// maxUsernameLen mirrors the original check_user_name length cap.
const maxUsernameLen = 20

// md5DigestLen is the raw byte length of an MD5 digest: the client is
// expected to send password as base64(md5(plaintext)), never the
// plaintext itself (spec §3's two-layer password-hash contract).
const md5DigestLen = 16

// validPasswordHash reports whether password decodes as base64 to
// exactly an MD5 digest's worth of bytes, rejecting anything that
// can't possibly be the client-side MD5 layer.
func validPasswordHash(password string) bool {
	decoded, err := base64.StdEncoding.DecodeString(password)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(password)
		if err != nil {
			return false
		}
	}
	return len(decoded) == md5DigestLen
}

// handleLogin implements LOGIN username password cpu local_ip agent[\tsys_id\tmac_id] (spec §4.2).
// The agent is the text before the first tab of the tail that starts at the fifth field.
func handleLogin(s *Server, sess *Session, replyID *int64, args []string) {
	if sess.LoggedIn {
		s.send(sess, replyID, "DENIED", "Already logged in")
		return
	}
	if len(args) < 2 {
		s.send(sess, replyID, "DENIED", "Bad LOGIN arguments")
		return
	}
	username, password := args[0], args[1]

	user, err := s.store.FindUserByUsername(username)
	if err != nil {
		s.send(sess, replyID, "DENIED", "Bad username/password")
		return
	}
	if !verifyPassword(password, user.PasswordHash) {
		s.send(sess, replyID, "DENIED", "Bad username/password")
		return
	}
	if ban, banned, _ := s.store.CheckServerBan(user.ID, remoteIP(sess), user.Email); banned {
		if user.Access != store.AccessAdmin {
			s.send(sess, replyID, "DENIED", "You are banned: "+ban.Reason)
			return
		}
	}
	if existing := s.sessionByUsername(casefold(username)); existing != nil {
		s.removeSession(existing)
	}

	sess.LoggedIn = true
	sess.UserID = user.ID
	sess.Username = user.Username
	sess.Access = int(user.Access)
	sess.Bot = user.BotFlag
	sess.Status = StatusFor(false, false, 0, sess.Access, sess.Bot)
	s.usernameToID[casefold(user.Username)] = sess.ID

	login := store.Login{UserID: user.ID, IPAddress: remoteIP(sess), Time: time.Now().UTC(), Country: sess.Country}
	if len(args) >= 3 {
		fmt.Sscanf(args[2], "%d", &sess.CPU)
	}
	if len(args) >= 5 {
		sess.Agent = SplitTabs(restFrom(args, 4))[0]
		login.Agent = sess.Agent
	}
	s.store.LoginUser(user.ID, login)

	if user.Access == store.AccessAgreement {
		s.send(sess, replyID, "AGREEMENT", "Please read and accept the community agreement.")
		s.send(sess, replyID, "AGREEMENTEND")
		return
	}

	s.send(sess, replyID, "ACCEPTED", user.Username)
	s.playRegistrationBurst(sess)
}

// playRegistrationBurst sends the standard post-login burst: every
// logged-in user's ADDUSER line, then this user's own, replaying known
// state to a freshly-registered session.
func (s *Server) playRegistrationBurst(sess *Session) {
	for _, other := range s.sessions {
		if !other.LoggedIn || other == sess {
			continue
		}
		s.send(sess, nil, "ADDUSER", other.Username, other.Country, fmt.Sprintf("%d", other.CPU), fmt.Sprintf("%d", other.UserID))
	}
	s.broadcastAll(nil, "ADDUSER", sess.Username, sess.Country, fmt.Sprintf("%d", sess.CPU), fmt.Sprintf("%d", sess.UserID))
	s.send(sess, nil, "MOTD", s.motdLine())
}

func (s *Server) motdLine() string {
	return "Welcome to " + s.Config().Server.Name
}

func remoteIP(sess *Session) string {
	if sess.Conn == nil {
		return ""
	}
	addr := sess.Conn.RemoteAddr().String()
	if idx := strings.LastIndexByte(addr, ':'); idx >= 0 {
		return addr[:idx]
	}
	return addr
}

// handleRegister implements REGISTER username password [email] (spec §4.2).
func handleRegister(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 2 {
		s.send(sess, replyID, "REGISTRATIONDENIED", "Bad REGISTER arguments")
		return
	}
	username, password := args[0], args[1]
	email := ""
	if len(args) >= 3 {
		email = args[2]
	}

	if len(username) > maxUsernameLen {
		s.send(sess, replyID, "REGISTRATIONDENIED", "Username too long")
		return
	}
	if !validPasswordHash(password) {
		s.send(sess, replyID, "REGISTRATIONDENIED", "Invalid password hash")
		return
	}
	if email != "" && !strings.Contains(email, "@") {
		s.send(sess, replyID, "REGISTRATIONDENIED", "Invalid email address")
		return
	}

	if time.Since(sess.LastRegReset) < s.Config().Limits.RegistrationThrottleEvery && sess.RegistrationHits > 0 {
		s.send(sess, replyID, "REGISTRATIONDENIED", "Too many registration attempts, try again later")
		return
	}
	sess.RegistrationHits++

	if available, _ := s.store.CheckUsernameAvailable(username); !available {
		s.send(sess, replyID, "REGISTRATIONDENIED", "Username already exists")
		return
	}
	// confusable-skeleton collision check: reject lookalike names even
	// when the exact casefolded string is free.
	skel := confusables.Skeleton(username)
	for _, u := range s.knownUsernames() {
		if confusables.Skeleton(u) == skel {
			s.send(sess, replyID, "REGISTRATIONDENIED", "Username too similar to an existing account")
			return
		}
	}
	if email != "" {
		if blacklisted, _ := s.store.IsEmailDomainBlacklisted(email); blacklisted {
			s.send(sess, replyID, "REGISTRATIONDENIED", "Email domain not accepted")
			return
		}
	}

	hash, err := hashPassword(password)
	if err != nil {
		s.send(sess, replyID, "REGISTRATIONDENIED", "Internal error")
		return
	}
	_, err = s.store.RegisterUser(username, hash, remoteIP(sess), email)
	if err != nil {
		s.send(sess, replyID, "REGISTRATIONDENIED", "Username already exists")
		return
	}

	if email != "" && s.mailer != nil {
		go s.sendVerificationEmail(username, email)
	}
	s.send(sess, replyID, "REGISTRATIONACCEPTED")
}

// knownUsernames is a best-effort scan of currently logged-in usernames
// for the confusables check; a full scan of every registered account is
// deferred to the store layer in a denser deployment.
func (s *Server) knownUsernames() []string {
	names := make([]string, 0, len(s.usernameToID))
	for name := range s.usernameToID {
		names = append(names, name)
	}
	return names
}

func (s *Server) sendVerificationEmail(username, email string) {
	user, err := s.store.FindUserByUsername(username)
	if err != nil {
		return
	}
	tok, err := s.tokens.Issue(user.ID, "register", 24*time.Hour)
	if err != nil {
		return
	}
	body := fmt.Sprintf("Welcome %s. Send VERIFY %s %s to complete registration.", username, username, tok)
	if err := s.mailer.SendVerification(email, "Verify your account", body); err != nil {
		s.logger.Warning("email", "verification send failed: "+err.Error())
	}
}

// handleConfirmAgreement implements CONFIRMAGREEMENT (spec §4.2).
func handleConfirmAgreement(s *Server, sess *Session, replyID *int64, args []string) {
	if !sess.LoggedIn {
		s.send(sess, replyID, "DENIED", "Not logged in")
		return
	}
	user, err := s.store.FindUserByID(sess.UserID)
	if err != nil {
		return
	}
	if user.Access != store.AccessAgreement {
		return
	}
	user.Access = store.AccessFresh
	s.store.SaveUser(user)
	sess.Access = int(store.AccessFresh)
	s.send(sess, replyID, "ACCEPTED", user.Username)
	s.playRegistrationBurst(sess)
}

// handleResetPasswordRequest implements RESETPASSWORDREQUEST username (spec §4.2).
func handleResetPasswordRequest(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	user, err := s.store.FindUserByUsername(args[0])
	if err != nil || user.Email == "" {
		return // never confirm account existence to an unauthenticated caller
	}
	tok, err := s.tokens.Issue(user.ID, "reset", time.Hour)
	if err != nil {
		return
	}
	go func() {
		body := fmt.Sprintf("Send CHANGEPASSWORD %s <newpassword> to reset your password.", tok)
		s.mailer.SendVerification(user.Email, "Password reset", body)
	}()
}

// handleResendVerification implements RESENDVERIFICATION username (spec §4.2).
func handleResendVerification(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	go s.sendVerificationEmail(args[0], "")
}

// handleVerify implements VERIFY username token (spec §4.2).
func handleVerify(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 2 {
		s.send(sess, replyID, "DENIED", "Bad VERIFY arguments")
		return
	}
	claims, err := s.tokens.Verify(args[1])
	if err != nil || claims.Reason != "register" {
		s.send(sess, replyID, "DENIED", "Invalid or expired token")
		return
	}
	user, err := s.store.FindUserByID(claims.UserID)
	if err != nil || !strings.EqualFold(user.Username, args[0]) {
		s.send(sess, replyID, "DENIED", "Invalid token")
		return
	}
	if user.Access == store.AccessAgreement {
		user.Access = store.AccessFresh
		s.store.SaveUser(user)
	}
	s.send(sess, replyID, "SERVERMSG", "Account verified")
}

// handleChangePassword implements CHANGEPASSWORD oldpassword newpassword,
// or CHANGEPASSWORD token newpassword for an unauthenticated reset flow.
func handleChangePassword(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 2 {
		return
	}
	newHash, err := hashPassword(args[1])
	if err != nil {
		return
	}
	if sess.LoggedIn {
		user, err := s.store.FindUserByID(sess.UserID)
		if err != nil || !verifyPassword(args[0], user.PasswordHash) {
			s.send(sess, replyID, "SERVERMSG", "Current password incorrect")
			return
		}
		s.store.SetPassword(sess.UserID, newHash)
		s.send(sess, replyID, "SERVERMSG", "Password changed")
		return
	}
	claims, err := s.tokens.Verify(args[0])
	if err != nil || claims.Reason != "reset" {
		s.send(sess, replyID, "DENIED", "Invalid or expired token")
		return
	}
	s.store.SetPassword(claims.UserID, newHash)
	s.send(sess, replyID, "SERVERMSG", "Password changed")
}

// handleChangeEmailRequest implements CHANGEEMAILREQUEST newemail (spec §4.2).
func handleChangeEmailRequest(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	newEmail := args[0]
	if blacklisted, _ := s.store.IsEmailDomainBlacklisted(newEmail); blacklisted {
		s.send(sess, replyID, "SERVERMSG", "Email domain not accepted")
		return
	}
	tok, err := s.tokens.Issue(sess.UserID, "changeemail:"+newEmail, time.Hour)
	if err != nil {
		return
	}
	go func() {
		body := fmt.Sprintf("Send CHANGEEMAIL %s to confirm your new address.", tok)
		s.mailer.SendVerification(newEmail, "Confirm email change", body)
	}()
	s.send(sess, replyID, "SERVERMSG", "Confirmation email sent")
}

// handleChangeEmail implements CHANGEEMAIL token (spec §4.2).
func handleChangeEmail(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	claims, err := s.tokens.Verify(args[0])
	if err != nil || !strings.HasPrefix(claims.Reason, "changeemail:") || claims.UserID != sess.UserID {
		s.send(sess, replyID, "DENIED", "Invalid or expired token")
		return
	}
	newEmail := strings.TrimPrefix(claims.Reason, "changeemail:")
	user, err := s.store.FindUserByID(sess.UserID)
	if err != nil {
		return
	}
	user.Email = newEmail
	s.store.SaveUser(user)
	s.send(sess, replyID, "SERVERMSG", "Email updated")
}

// handleExit implements EXIT, a clean client-initiated disconnect.
func handleExit(s *Server, sess *Session, replyID *int64, args []string) {
	s.removeSession(sess)
}
