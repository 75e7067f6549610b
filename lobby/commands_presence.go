package lobby

import "strconv"

// handleMyStatus implements MYSTATUS status (spec §4.7): the client may
// only influence in_game/away; access/bot/rank stay server-authoritative.
func handleMyStatus(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return
	}
	incoming := Status(n)
	sess.Status = sess.Status.WithClientBits(incoming)
	s.broadcastAll(nil, "CLIENTSTATUS", sess.Username, strconv.Itoa(int(sess.Status)))

	// The host's in_game bit is the other half of the OPEN -> IN_GAME ->
	// OPEN cycle alongside STARTBATTLE (spec §4.4's state machine).
	if sess.IsHost {
		if b, ok := s.currentBattle(sess); ok {
			b.InGame = sess.Status.InGame()
		}
	}
}

// handlePing implements PING/PONG keepalive (spec §6.1).
func handlePing(s *Server, sess *Session, replyID *int64, args []string) {
	s.send(sess, replyID, "PONG")
}
