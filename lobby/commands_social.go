package lobby

import (
	"github.com/racklobby/lobbyserver/store"
)

// handleFriend implements FRIEND username: binds the friendship directly
// and notifies both sides. It neither requires nor removes a pending
// friend request.
func handleFriend(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	target, err := s.store.FindUserByUsername(args[0])
	if err != nil {
		return
	}
	s.store.AddFriend(sess.UserID, target.ID)
	s.send(sess, replyID, "FRIEND", args[0])
	if other := s.sessionByUsername(casefold(args[0])); other != nil {
		s.send(other, nil, "FRIEND", sess.Username)
	}
}

// handleUnfriend implements UNFRIEND username.
func handleUnfriend(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	target, err := s.store.FindUserByUsername(args[0])
	if err != nil {
		return
	}
	s.store.RemoveFriend(sess.UserID, target.ID)
	s.send(sess, replyID, "UNFRIEND", args[0])
	if other := s.sessionByUsername(casefold(args[0])); other != nil {
		s.send(other, nil, "UNFRIEND", sess.Username)
	}
}

// handleFriendRequest implements FRIENDREQUEST username [message].
func handleFriendRequest(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	target, err := s.store.FindUserByUsername(args[0])
	if err != nil {
		return
	}
	msg := ""
	if len(args) >= 2 {
		msg = restFrom(args, 1)
	}
	s.store.AddFriendRequest(store.FriendRequest{UserID: sess.UserID, FriendUserID: target.ID, Message: msg})
	if other := s.sessionByUsername(casefold(args[0])); other != nil {
		s.send(other, nil, "FRIENDREQUEST", sess.Username, msg)
	}
}

// handleAcceptFriendRequest implements ACCEPTFRIENDREQUEST username.
func handleAcceptFriendRequest(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	requester, err := s.store.FindUserByUsername(args[0])
	if err != nil {
		return
	}
	s.store.RemoveFriendRequest(requester.ID, sess.UserID)
	s.store.AddFriend(sess.UserID, requester.ID)
	s.send(sess, replyID, "FRIEND", args[0])
	if other := s.sessionByUsername(casefold(args[0])); other != nil {
		s.send(other, nil, "FRIEND", sess.Username)
	}
}

// handleDeclineFriendRequest implements DECLINEFRIENDREQUEST username.
func handleDeclineFriendRequest(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	requester, err := s.store.FindUserByUsername(args[0])
	if err != nil {
		return
	}
	s.store.RemoveFriendRequest(requester.ID, sess.UserID)
}

// handleIgnore implements IGNORE username [reason].
func handleIgnore(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	target, err := s.store.FindUserByUsername(args[0])
	if err != nil {
		return
	}
	reason := ""
	if len(args) >= 2 {
		reason = restFrom(args, 1)
	}
	s.store.AddIgnore(store.Ignore{UserID: sess.UserID, IgnoredUserID: target.ID, Reason: reason})
	s.send(sess, replyID, "IGNORE", args[0])
}

// handleUnignore implements UNIGNORE username.
func handleUnignore(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	target, err := s.store.FindUserByUsername(args[0])
	if err != nil {
		return
	}
	s.store.RemoveIgnore(sess.UserID, target.ID)
	s.send(sess, replyID, "UNIGNORE", args[0])
}
