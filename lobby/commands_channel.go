package lobby

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goshuirc/irc-go/ircfmt"

	"github.com/racklobby/lobbyserver/store"
)

// handleJoin implements JOIN channel [key] (spec §4.3): key check, ban
// check, admitting the member, then a transparent join into each
// forward-to destination.
func handleJoin(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	name := args[0]
	key := ""
	if len(args) >= 2 {
		key = args[1]
	}
	s.joinChannel(sess, replyID, name, key, 0)
}

func (s *Server) joinChannel(sess *Session, replyID *int64, name, key string, depth int) {
	if depth > 4 {
		return // forward-to chains bottom out rather than looping forever
	}
	cf := casefold(name)

	ch, ok := s.channels[cf]
	if !ok {
		ch = NewChannel(name, s.Config().AntiSpam)
		if meta, found, _ := s.store.GetChannel(name); found {
			ch.Registered = true
			ch.FounderID = meta.OwnerUserID
			ch.Topic = meta.Topic
			ch.Key = meta.Key
			ch.StoreHistory = meta.StoreHistory
			ch.AntiSpamEnabled = meta.Antispam
			for _, uid := range mustList(s.store.ListChannelOps(meta.ID)) {
				ch.Ops[uid] = true
			}
			for _, toID := range mustList(s.store.ListChannelForwards(meta.ID)) {
				if dest, found, _ := s.store.GetChannelByID(toID); found {
					ch.Forwards = append(ch.Forwards, dest.Name)
				}
			}
		}
		s.channels[cf] = ch
	}

	role := ch.RoleOf(sess.UserID, IsAdmin(sess.Access), IsMod(sess.Access))

	if ch.Key != "" && ch.Key != key && role == RoleUser {
		s.send(sess, replyID, "JOINFAILED", name, "Bad key")
		return
	}

	if banned, _, _ := s.store.IsChannelBanned(s.channelIDFor(name), sess.UserID); banned && role == RoleUser {
		s.send(sess, replyID, "JOINFAILED", name, "Banned")
		return
	}

	ch.Join(sess)
	sess.Channels[cf] = true

	s.send(sess, replyID, "JOIN", name)
	members := make([]string, 0, len(ch.Members))
	for _, m := range ch.Members {
		members = append(members, m.Username)
	}
	s.send(sess, nil, "CLIENTS", name, strings.Join(members, " "))
	if ch.Topic != "" {
		s.send(sess, nil, "CHANNELTOPIC", name, ch.TopicSetBy, fmt.Sprintf("%d", ch.TopicSetAt.Unix()), ch.Topic)
	}
	s.broadcastChannel(ch, nil, "JOINED", name, sess.Username)

	if ch.StoreHistory {
		s.replayHistory(sess, ch, name, 0)
	}

	// forward-to: joining the source of a forward also transparently
	// joins every destination channel (spec's join algorithm).
	for _, dest := range ch.Forwards {
		if casefold(dest) == cf {
			continue
		}
		s.joinChannel(sess, nil, dest, "", depth+1)
	}
}

func (s *Server) channelIDFor(name string) int64 {
	meta, found, _ := s.store.GetChannel(name)
	if !found {
		return 0
	}
	return meta.ID
}

func mustList(ids []int64, err error) []int64 {
	if err != nil {
		return nil
	}
	return ids
}

func (s *Server) replayHistory(sess *Session, ch *Channel, name string, afterID int64) {
	meta, found, _ := s.store.GetChannel(name)
	if !found {
		return
	}
	msgs, err := s.store.GetChannelMessages(meta.ID, afterID)
	if err != nil {
		return
	}
	cutoff := time.Now().UTC().Add(-14 * 24 * time.Hour)
	for _, m := range msgs {
		if m.Time.Before(cutoff) {
			continue
		}
		user, err := s.store.FindUserByID(m.UserID)
		username := "?"
		if err == nil {
			username = user.Username
		}
		s.send(sess, nil, "CHANNELMESSAGE", name, username, m.Message, fmt.Sprintf("%d", m.ID))
	}
}

// handleChannelMessage implements a client's explicit history-replay
// request: CHANNELMESSAGE channel after_id.
func handleChannelMessage(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	name := args[0]
	ch, ok := s.channels[casefold(name)]
	if !ok || !sess.Channels[casefold(name)] {
		return
	}
	afterID := int64(0)
	if len(args) >= 2 {
		afterID, _ = strconv.ParseInt(args[1], 10, 64)
	}
	s.replayHistory(sess, ch, name, afterID)
}

// handleLeave implements LEAVE channel.
func handleLeave(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	name := args[0]
	cf := casefold(name)
	ch, ok := s.channels[cf]
	if !ok || !sess.Channels[cf] {
		return
	}
	ch.Leave(sess.ID)
	delete(sess.Channels, cf)
	s.broadcastChannel(ch, nil, "LEFT", name, sess.Username)
	s.send(sess, replyID, "LEAVE", name)
	if ch.Empty() && !ch.Registered {
		delete(s.channels, cf)
	}
}

// handleChannels implements CHANNELS, listing every currently active channel.
func handleChannels(s *Server, sess *Session, replyID *int64, args []string) {
	s.send(sess, replyID, "CHANNELS")
	for _, ch := range s.channels {
		s.send(sess, nil, "CHANNELS", ch.Name, fmt.Sprintf("%d", len(ch.Members)), ch.Topic)
	}
	s.send(sess, nil, "ENDOFCHANNELS")
}

// handleSay implements SAY channel message (spec §4.3/§4.6).
func handleSay(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 2 {
		return
	}
	sayToChannel(s, sess, args[0], restFrom(args, 1), false)
}

// handleSayEx implements SAYEX channel message (an "emote"/action message).
func handleSayEx(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 2 {
		return
	}
	sayToChannel(s, sess, args[0], restFrom(args, 1), true)
}

func sayToChannel(s *Server, sess *Session, name, msg string, emote bool) {
	cf := casefold(name)
	ch, ok := s.channels[cf]
	if !ok || !sess.Channels[cf] {
		return
	}
	now := time.Now().UTC()
	if ch.IsMuted(casefold(sess.Username), now) || ch.MemberMuted(sess.ID, now) {
		return
	}
	clean := ircfmt.Sanitize(msg)
	if ch.RecordMessage(sess.ID, now, len(clean)) {
		ch.Mutes[casefold(sess.Username)] = now.Add(time.Duration(ch.antiSpamCfg.Duration) * time.Second)
		s.broadcastChannel(ch, nil, "SERVERMSG", sess.Username+" has been muted for flooding")
		return
	}
	cmd := "SAID"
	if emote {
		cmd = "SAIDEX"
	}
	s.broadcastChannel(ch, nil, cmd, name, sess.Username, clean)

	if ch.StoreHistory {
		if meta, found, _ := s.store.GetChannel(name); found {
			s.store.AddChannelMessage(meta.ID, sess.UserID, 0, clean, emote)
		}
	}
}

// handleChannelTopic implements CHANNELTOPIC name text directly, the
// wire-command form of ChanServ's "!topic #chan text" (spec §4.3/§4.4).
func handleChannelTopic(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 2 {
		return
	}
	name := args[0]
	text := restFrom(args, 1)
	ch, ok := s.channels[casefold(name)]
	if !ok {
		return
	}
	role := ch.RoleOf(sess.UserID, IsAdmin(sess.Access), IsMod(sess.Access))
	if !CanOperateChannel(role) {
		s.send(sess, replyID, "SERVERMSG", "You do not have permission to set the topic in "+name)
		return
	}
	ch.Topic = text
	ch.TopicSetBy = sess.Username
	ch.TopicSetAt = time.Now().UTC()
	s.broadcastChannel(ch, nil, "CHANNELTOPIC", name, sess.Username, strconv.FormatInt(ch.TopicSetAt.Unix(), 10), text)
	s.persistChannel(ch)
}

// handleMute implements MUTE channel user [minutes] directly, the
// wire-command form of ChanServ's "!mute" (spec §4.3/§8).
func handleMute(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 2 {
		return
	}
	name, target := args[0], args[1]
	durStr := "-1"
	if len(args) >= 3 {
		durStr = args[2]
	}
	ch, ok := s.channels[casefold(name)]
	if !ok {
		return
	}
	role := ch.RoleOf(sess.UserID, IsAdmin(sess.Access), IsMod(sess.Access))
	if !CanModerateChannel(role) {
		s.send(sess, replyID, "SERVERMSG", "You do not have permission to mute users in "+name)
		return
	}
	minutes, err := strconv.ParseFloat(durStr, 64)
	if err != nil {
		s.send(sess, replyID, "SERVERMSG", "Duration must be a number")
		return
	}
	targetUser, err := s.store.FindUserByUsername(target)
	if err != nil {
		s.send(sess, replyID, "SERVERMSG", "No such user "+target)
		return
	}
	var until time.Time
	if minutes > 0 {
		until = time.Now().UTC().Add(time.Duration(minutes*60) * time.Second)
	}
	ch.Mutes[casefold(target)] = until
	if meta, found, _ := s.store.GetChannel(name); found {
		s.store.AddChannelMute(store.ChannelMute{ChannelID: meta.ID, IssuerUserID: sess.UserID, UserID: targetUser.ID, Expires: until})
	}
	s.broadcastChannel(ch, nil, "CHANNELMESSAGE", name, target+" has been muted")
}

// handleUnmute implements UNMUTE channel user directly (spec §4.3).
func handleUnmute(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 2 {
		return
	}
	name, target := args[0], args[1]
	ch, ok := s.channels[casefold(name)]
	if !ok {
		return
	}
	role := ch.RoleOf(sess.UserID, IsAdmin(sess.Access), IsMod(sess.Access))
	if !CanModerateChannel(role) {
		s.send(sess, replyID, "SERVERMSG", "You do not have permission to unmute users in "+name)
		return
	}
	delete(ch.Mutes, casefold(target))
	if meta, found, _ := s.store.GetChannel(name); found {
		if targetUser, err := s.store.FindUserByUsername(target); err == nil {
			s.store.RemoveChannelMute(meta.ID, targetUser.ID)
		}
	}
	s.broadcastChannel(ch, nil, "CHANNELMESSAGE", name, target+" is no longer muted")
}

// handleMuteList implements MUTELIST channel (spec §4.3).
func handleMuteList(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 1 {
		return
	}
	name := args[0]
	ch, ok := s.channels[casefold(name)]
	if !ok {
		return
	}
	s.send(sess, replyID, "MUTELIST", name)
	now := time.Now().UTC()
	for user, expires := range ch.Mutes {
		remaining := "indefinite"
		if !expires.IsZero() {
			remaining = fmt.Sprintf("%.0f", expires.Sub(now).Seconds())
		}
		s.send(sess, nil, "MUTELIST", name, user, remaining)
	}
	s.send(sess, nil, "MUTELISTEND", name)
}

// handleForceLeaveChannel implements FORCELEAVECHANNEL channel user
// [reason] (spec §4.3), op-or-above only.
func handleForceLeaveChannel(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 2 {
		return
	}
	name, target := args[0], args[1]
	reason := restFrom(args, 2)
	cf := casefold(name)
	ch, ok := s.channels[cf]
	if !ok {
		return
	}
	role := ch.RoleOf(sess.UserID, IsAdmin(sess.Access), IsMod(sess.Access))
	if !CanOperateChannel(role) {
		s.send(sess, replyID, "SERVERMSG", "You do not have permission to force users out of "+name)
		return
	}
	targetSess := s.sessionByUsername(casefold(target))
	if targetSess == nil || !ch.Members[targetSess.ID] {
		s.send(sess, replyID, "SERVERMSG", target+" is not in "+name)
		return
	}
	ch.Leave(targetSess.ID)
	delete(targetSess.Channels, cf)
	s.send(targetSess, nil, "FORCELEAVECHANNEL", name, sess.Username, reason)
	s.send(targetSess, nil, "LEAVE", name)
	s.broadcastChannel(ch, nil, "LEFT", name, target)
}

// handleSayPrivate implements SAYPRIVATE username message (spec §4.3).
func handleSayPrivate(s *Server, sess *Session, replyID *int64, args []string) {
	if len(args) < 2 {
		return
	}
	msg := restFrom(args, 1)
	if IsChanServ(casefold(args[0])) {
		s.HandleChanServMessage(sess, msg)
		return
	}
	target := s.sessionByUsername(casefold(args[0]))
	if target == nil {
		return
	}
	clean := ircfmt.Sanitize(msg)
	s.send(target, nil, "SAIDPRIVATE", sess.Username, clean)
	s.send(sess, nil, "SAYPRIVATE", args[0], clean)
}
