package lobby

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/racklobby/lobbyserver/store"
)

const chanServName = "chanserv"

// IsChanServ reports whether casefoldedUsername addresses the built-in
// channel-management bot.
func IsChanServ(casefoldedUsername string) bool {
	return casefoldedUsername == chanServName
}

// HandleChanServMessage processes one "!cmd [#chan] [args]" line sent to
// ChanServ via SAYPRIVATE, grounded directly on the original server's
// ChanServ.HandleCommand parsing and per-command access checks.
func (s *Server) HandleChanServMessage(sess *Session, msg string) {
	if !strings.HasPrefix(msg, "!") {
		return
	}
	msg = strings.TrimPrefix(msg, "!")
	if strings.EqualFold(msg, "help") {
		for _, line := range strings.Split(chanServHelp(sess.Username), "\n") {
			s.send(sess, nil, "SAYPRIVATE", chanServName, line)
		}
		return
	}

	var cmd, chanName, args string
	fields := strings.SplitN(msg, " ", 3)
	switch {
	case len(fields) >= 3 && strings.HasPrefix(fields[1], "#"):
		cmd, chanName, args = fields[0], strings.TrimPrefix(fields[1], "#"), fields[2]
	case len(fields) == 2 && strings.HasPrefix(fields[1], "#"):
		cmd, chanName = fields[0], strings.TrimPrefix(fields[1], "#")
	case len(fields) >= 2:
		cmd = fields[0]
		args = strings.Join(fields[1:], " ")
	default:
		cmd = fields[0]
	}
	if chanName == "" {
		return
	}
	cmd = strings.ToLower(cmd)

	reply := s.chanServCommand(sess, chanName, cmd, args)
	if reply != "" {
		s.send(sess, nil, "SAYPRIVATE", chanServName, reply)
	}
}

func chanServHelp(user string) string {
	return fmt.Sprintf("Hello, %s!\nI am an automated channel service bot.\nTo register a new channel, contact a server moderator.", user)
}

func (s *Server) chanServCommand(sess *Session, chanName, cmd, args string) string {
	ch, hasChannel := s.channels[casefold(chanName)]

	if !hasChannel {
		if cmd == "register" {
			if !CanRegisterChannel(sess.Access) {
				return fmt.Sprintf("#%s: you must contact a server moderator to register a channel", chanName)
			}
			owner := sess.Username
			if args != "" {
				owner = args
			}
			ownerUser, err := s.store.FindUserByUsername(owner)
			if err != nil {
				return fmt.Sprintf("#%s: no such user <%s>", chanName, owner)
			}
			meta, err := s.store.RegisterChannel(chanName, ownerUser.ID)
			if err != nil {
				return fmt.Sprintf("#%s: registration failed", chanName)
			}
			newCh := NewChannel(chanName, s.Config().AntiSpam)
			newCh.Registered = true
			newCh.FounderID = meta.OwnerUserID
			s.channels[casefold(chanName)] = newCh
			return fmt.Sprintf("#%s: successfully registered to <%s>", chanName, owner)
		}
		return fmt.Sprintf("#%s is not registered", chanName)
	}

	role := ch.RoleOf(sess.UserID, IsAdmin(sess.Access), IsMod(sess.Access))

	switch cmd {
	case "info":
		return s.chanServInfo(ch)
	case "topic":
		if !CanOperateChannel(role) {
			return fmt.Sprintf("#%s: you do not have permission to set the topic", chanName)
		}
		ch.Topic = args
		ch.TopicSetBy = sess.Username
		ch.TopicSetAt = time.Now().UTC()
		s.broadcastChannel(ch, nil, "CHANNELTOPIC", chanName, sess.Username, strconv.FormatInt(ch.TopicSetAt.Unix(), 10), args)
		s.persistChannel(ch)
		return fmt.Sprintf("#%s: topic changed", chanName)
	case "unregister":
		if !CanModerateChannel(role) {
			return fmt.Sprintf("#%s: you must contact a server moderator or the channel owner to unregister", chanName)
		}
		s.store.UnregisterChannel(chanName)
		ch.Registered = false
		ch.FounderID = 0
		s.broadcastChannel(ch, nil, "CHANNELMESSAGE", chanName, "Channel has been unregistered")
		return fmt.Sprintf("#%s: successfully unregistered", chanName)
	case "changefounder":
		if !CanModerateChannel(role) {
			return fmt.Sprintf("#%s: you must contact a server moderator or the channel owner to change the founder", chanName)
		}
		if args == "" {
			return fmt.Sprintf("#%s: you must specify a new founder", chanName)
		}
		newFounder, err := s.store.FindUserByUsername(args)
		if err != nil {
			return fmt.Sprintf("#%s: no such user <%s>", chanName, args)
		}
		ch.FounderID = newFounder.ID
		s.persistChannel(ch)
		s.broadcastChannel(ch, nil, "CHANNELMESSAGE", chanName, fmt.Sprintf("Founder has been changed to <%s>", args))
		return fmt.Sprintf("#%s: successfully changed founder to <%s>", chanName, args)
	case "spamprotection":
		if !CanModerateChannel(role) {
			return fmt.Sprintf("#%s: you do not have permission to manage anti-spam settings", chanName)
		}
		switch args {
		case "on":
			ch.AntiSpamEnabled = true
		case "off":
			ch.AntiSpamEnabled = false
		}
		s.persistChannel(ch)
		status := "off"
		if ch.AntiSpamEnabled {
			status = fmt.Sprintf("on (timeout:%v aggressiveness:%v bonuslength:%v duration:%v)",
				ch.antiSpamCfg.Timeout, ch.antiSpamCfg.Aggressiveness, ch.antiSpamCfg.BonusLength, ch.antiSpamCfg.Duration)
		}
		return fmt.Sprintf("#%s: anti-spam protection is %s", chanName, status)
	case "spamsettings":
		if !CanModerateChannel(role) {
			return fmt.Sprintf("#%s: you do not have permission to manage anti-spam settings", chanName)
		}
		parts := strings.Fields(args)
		if len(parts) != 5 {
			return fmt.Sprintf(`#%s: invalid args for spamsettings. Syntax is "!spamsettings <timeout> <quiet> <aggressiveness> <bonuslength> <duration>"`, chanName)
		}
		timeout, err1 := strconv.ParseFloat(parts[0], 64)
		aggr, err2 := strconv.ParseFloat(parts[2], 64)
		bonus, err3 := strconv.Atoi(parts[3])
		dur, err4 := strconv.Atoi(parts[4])
		quiet := parts[1]
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || (quiet != "on" && quiet != "off") {
			return fmt.Sprintf(`#%s: invalid args for spamsettings. Syntax is "!spamsettings <timeout> <quiet> <aggressiveness> <bonuslength> <duration>"`, chanName)
		}
		ch.antiSpamCfg = AntiSpamConfig{Timeout: timeout, Aggressiveness: aggr, BonusLength: bonus, Duration: dur, Quiet: quiet == "on"}
		return fmt.Sprintf("#%s: anti-spam settings updated", chanName)
	case "op":
		if !CanModerateChannel(role) {
			return fmt.Sprintf("#%s: you do not have permission to op users", chanName)
		}
		if args == "" {
			return fmt.Sprintf("#%s: you must specify a user to op", chanName)
		}
		target, err := s.store.FindUserByUsername(args)
		if err != nil {
			return fmt.Sprintf("#%s: no such user <%s>", chanName, args)
		}
		if ch.Ops[target.ID] {
			return fmt.Sprintf("#%s: <%s> was already an op", chanName, args)
		}
		ch.Ops[target.ID] = true
		if meta, found, _ := s.store.GetChannel(chanName); found {
			s.store.AddChannelOp(meta.ID, target.ID)
		}
		return fmt.Sprintf("#%s: <%s> is now an op", chanName, args)
	case "deop":
		if !CanModerateChannel(role) {
			return fmt.Sprintf("#%s: you do not have permission to deop users", chanName)
		}
		if args == "" {
			return fmt.Sprintf("#%s: you must specify a user to deop", chanName)
		}
		target, err := s.store.FindUserByUsername(args)
		if err != nil || !ch.Ops[target.ID] {
			return fmt.Sprintf("#%s: <%s> was not an op", chanName, args)
		}
		delete(ch.Ops, target.ID)
		if meta, found, _ := s.store.GetChannel(chanName); found {
			s.store.RemoveChannelOp(meta.ID, target.ID)
		}
		return fmt.Sprintf("#%s: <%s> is no longer an op", chanName, args)
	case "chanmsg":
		if !CanOperateChannel(role) {
			return fmt.Sprintf("#%s: you do not have permission to issue a channel message", chanName)
		}
		if args == "" {
			return fmt.Sprintf("#%s: you must specify a channel message", chanName)
		}
		s.broadcastChannel(ch, nil, "CHANNELMESSAGE", chanName, args)
		return ""
	case "lock":
		if !CanOperateChannel(role) {
			return fmt.Sprintf("#%s: you do not have permission to lock the channel", chanName)
		}
		if args == "" {
			return fmt.Sprintf("#%s: you must specify a channel key to lock with", chanName)
		}
		ch.Key = args
		s.persistChannel(ch)
		s.broadcastChannel(ch, nil, "CHANNELMESSAGE", chanName, fmt.Sprintf("Channel locked by <%s>", sess.Username))
		return fmt.Sprintf("#%s: locked", chanName)
	case "unlock":
		if !CanOperateChannel(role) {
			return fmt.Sprintf("#%s: you do not have permission to unlock the channel", chanName)
		}
		ch.Key = ""
		s.persistChannel(ch)
		s.broadcastChannel(ch, nil, "CHANNELMESSAGE", chanName, fmt.Sprintf("Channel unlocked by <%s>", sess.Username))
		return fmt.Sprintf("#%s: unlocked", chanName)
	case "kick":
		if !CanOperateChannel(role) {
			return fmt.Sprintf("#%s: you do not have permission to kick users from the channel", chanName)
		}
		if args == "" {
			return fmt.Sprintf("#%s: you must specify a user to kick", chanName)
		}
		target, reason := args, ""
		if sp := strings.IndexByte(args, ' '); sp >= 0 {
			target, reason = args[:sp], args[sp+1:]
		}
		targetSess := s.sessionByUsername(casefold(target))
		if targetSess == nil || !ch.Members[targetSess.ID] {
			return fmt.Sprintf("#%s: <%s> not in channel", chanName, target)
		}
		ch.Leave(targetSess.ID)
		delete(targetSess.Channels, casefold(chanName))
		s.broadcastChannel(ch, nil, "CHANNELMESSAGE", chanName, fmt.Sprintf("<%s> kicked from the channel by <%s> %s", target, sess.Username, reason))
		s.broadcastChannel(ch, nil, "LEFT", chanName, target)
		return fmt.Sprintf("#%s: <%s> kicked", chanName, target)
	case "mute":
		if !CanModerateChannel(role) {
			return fmt.Sprintf("#%s: you do not have permission to mute users", chanName)
		}
		if args == "" {
			return fmt.Sprintf("#%s: you must specify a user to mute", chanName)
		}
		target, durStr := args, "-1"
		if sp := strings.IndexByte(args, ' '); sp >= 0 {
			target, durStr = args[:sp], args[sp+1:]
		}
		minutes, err := strconv.ParseFloat(durStr, 64)
		if err != nil {
			return fmt.Sprintf("#%s: duration must be a number", chanName)
		}
		targetUser, err := s.store.FindUserByUsername(target)
		if err != nil {
			return fmt.Sprintf("#%s: no such user <%s>", chanName, target)
		}
		var until time.Time
		if minutes > 0 {
			until = time.Now().UTC().Add(time.Duration(minutes*60) * time.Second)
		}
		ch.Mutes[casefold(target)] = until
		if meta, found, _ := s.store.GetChannel(chanName); found {
			s.store.AddChannelMute(store.ChannelMute{ChannelID: meta.ID, IssuerUserID: sess.UserID, UserID: targetUser.ID, Expires: until})
		}
		return fmt.Sprintf("#%s: <%s> muted", chanName, target)
	case "unmute":
		if !CanModerateChannel(role) {
			return fmt.Sprintf("#%s: you do not have permission to unmute users", chanName)
		}
		if args == "" {
			return fmt.Sprintf("#%s: you must specify a user to unmute", chanName)
		}
		delete(ch.Mutes, casefold(args))
		if meta, found, _ := s.store.GetChannel(chanName); found {
			if targetUser, err := s.store.FindUserByUsername(args); err == nil {
				s.store.RemoveChannelMute(meta.ID, targetUser.ID)
			}
		}
		s.broadcastChannel(ch, nil, "CHANNELMESSAGE", chanName, fmt.Sprintf("<%s> has been unmuted", args))
		return fmt.Sprintf("#%s: <%s> unmuted", chanName, args)
	case "mutelist":
		if len(ch.Mutes) == 0 {
			return fmt.Sprintf("#%s: mute list is empty", chanName)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "#%s: mute list (%d entries): ", chanName, len(ch.Mutes))
		now := time.Now().UTC()
		for user, expires := range ch.Mutes {
			remaining := "indefinite"
			if !expires.IsZero() {
				remaining = fmt.Sprintf("%.0f seconds remaining", expires.Sub(now).Seconds())
			}
			fmt.Fprintf(&b, "%s, %s; ", user, remaining)
		}
		return b.String()
	default:
		if cmd == "register" {
			return fmt.Sprintf("#%s is already registered", chanName)
		}
		return ""
	}
}

func (s *Server) chanServInfo(ch *Channel) string {
	founder := "no founder is registered"
	if ch.Registered && ch.FounderID != 0 {
		if u, err := s.store.FindUserByID(ch.FounderID); err == nil {
			founder = fmt.Sprintf("founder is <%s>", u.Username)
		}
	}
	ops := "no operators are registered"
	if len(ch.Ops) > 0 {
		names := make([]string, 0, len(ch.Ops))
		for uid := range ch.Ops {
			if u, err := s.store.FindUserByID(uid); err == nil {
				names = append(names, u.Username)
			}
		}
		ops = fmt.Sprintf("%d registered operator(s) are <%s>", len(names), strings.Join(names, ">, <"))
	}
	antispam := "off"
	if ch.AntiSpamEnabled {
		antispam = "on"
	}
	return fmt.Sprintf("#%s info: anti-spam protection is %s. %s, %s. %d users currently in the channel.",
		ch.Name, antispam, founder, ops, len(ch.Members))
}

func (s *Server) persistChannel(ch *Channel) {
	meta, found, _ := s.store.GetChannel(ch.Name)
	if !found {
		return
	}
	meta.Topic = ch.Topic
	meta.Key = ch.Key
	meta.Antispam = ch.AntiSpamEnabled
	meta.StoreHistory = ch.StoreHistory
	meta.OwnerUserID = ch.FounderID
	s.store.SaveChannel(meta)
}
