package lobby

import (
	"fmt"
	"time"

	"github.com/racklobby/lobbyserver/store"
)

// handleKickUser implements KICKUSER username [reason] (spec §4.5/§8):
// the target receives a SERVERMSG, then every other logged-in session
// observes exactly one REMOVEUSER for them.
func handleKickUser(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	target := s.sessionByUsername(casefold(args[0]))
	if target == nil {
		s.send(sess, replyID, "SERVERMSG", "No such user")
		return
	}
	reason := "Kicked by " + sess.Username
	if len(args) >= 2 {
		reason = restFrom(args, 1)
	}
	s.send(target, nil, "SERVERMSG", "You have been kicked: "+reason)
	s.removeSession(target)
}

// handleBan implements BAN username duration_seconds [reason] (spec §4.5/§6.1).
func handleBan(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	target, err := s.store.FindUserByUsername(args[0])
	if err != nil {
		s.send(sess, replyID, "SERVERMSG", "No such user")
		return
	}
	var end time.Time
	if len(args) >= 2 {
		var secs int64
		fmt.Sscanf(args[1], "%d", &secs)
		if secs > 0 {
			end = time.Now().UTC().Add(time.Duration(secs) * time.Second)
		}
	}
	reason := ""
	if len(args) >= 3 {
		reason = restFrom(args, 2)
	}
	s.store.AddBan(store.Ban{IssuerUserID: sess.UserID, UserID: target.ID, Reason: reason, EndDate: end})
	if other := s.sessionForUser(target.ID); other != nil {
		s.send(other, nil, "SERVERMSG", "You have been banned: "+reason)
		s.removeSession(other)
	}
	s.send(sess, replyID, "SERVERMSG", "Banned "+args[0])
}

// handleUnban implements UNBAN ban_id.
func handleUnban(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	var id int64
	fmt.Sscanf(args[0], "%d", &id)
	if err := s.store.RemoveBan(id); err != nil {
		s.send(sess, replyID, "SERVERMSG", "No such ban")
		return
	}
	s.send(sess, replyID, "SERVERMSG", "Unbanned")
}

// handleListBans implements LISTBANS.
func handleListBans(s *Server, sess *Session, replyID *int64, args []string) {
	bans, err := s.store.ListBans()
	if err != nil {
		return
	}
	s.send(sess, replyID, "LISTBANSBEGIN")
	for _, b := range bans {
		s.send(sess, nil, "LISTBANS", fmt.Sprintf("%d", b.ID), fmt.Sprintf("%d", b.UserID), b.Reason)
	}
	s.send(sess, nil, "LISTBANSEND")
}

// handleBroadcast implements BROADCAST message, admin-only (spec §6.1).
func handleBroadcast(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	s.broadcastAll(nil, "BROADCAST", restFrom(args, 0))
}
