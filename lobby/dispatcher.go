package lobby

import "time"

// HandlerFunc processes one parsed frame for sess. replyID is nil unless
// the client tagged its line with "#<id>", in which case every direct
// reply to this command echoes it back (spec §4.5).
type HandlerFunc func(s *Server, sess *Session, replyID *int64, args []string)

// CommandSpec declares a command's gating rules alongside its handler.
type CommandSpec struct {
	Handler        HandlerFunc
	RequiresLogin  bool
	MinAccess      int // only checked when RequiresLogin is true
	AllowedStates  []string
}

// Dispatcher holds the command-name -> handler table and applies the
// access/state gating common to every command before invoking it.
type Dispatcher struct {
	server   *Server
	commands map[string]CommandSpec
}

// NewDispatcher builds the full command table for the lobby protocol
// (spec §6.1's command set summary).
func NewDispatcher(s *Server) *Dispatcher {
	d := &Dispatcher{server: s, commands: make(map[string]CommandSpec)}
	d.register()
	return d
}

func (d *Dispatcher) add(name string, requiresLogin bool, minAccess int, h HandlerFunc) {
	d.commands[name] = CommandSpec{Handler: h, RequiresLogin: requiresLogin, MinAccess: minAccess}
}

// Dispatch looks up frame.Command, checks its gating rules, and invokes
// its handler, isolating any panic to this one session per spec §7's
// "never propagate a failure across sessions".
func (d *Dispatcher) Dispatch(sess *Session, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			d.server.logger.Errorf("dispatch", "handler panic for %s: %v", frame.Command, r)
			d.server.send(sess, nil, "SERVERMSG", "Internal error")
		}
	}()

	sess.LastRx = time.Now().UTC()

	var replyID *int64
	if frame.HasID {
		id := frame.ID
		replyID = &id
	}

	spec, ok := d.commands[frame.Command]
	if !ok {
		d.server.send(sess, replyID, "SERVERMSG", "Unknown command: "+frame.Command)
		return
	}

	if spec.RequiresLogin && !sess.LoggedIn {
		d.server.send(sess, replyID, "SERVERMSG", "You are not logged in")
		return
	}
	if spec.RequiresLogin && sess.Access < spec.MinAccess {
		d.server.send(sess, replyID, "SERVERMSG", "Insufficient access for "+frame.Command)
		return
	}

	spec.Handler(d.server, sess, replyID, frame.Args)
}

func (d *Dispatcher) register() {
	// handshake / account
	d.add("LOGIN", false, 0, handleLogin)
	d.add("REGISTER", false, 0, handleRegister)
	d.add("CONFIRMAGREEMENT", false, 0, handleConfirmAgreement)
	d.add("RESETPASSWORDREQUEST", false, 0, handleResetPasswordRequest)
	d.add("RESENDVERIFICATION", false, 0, handleResendVerification)
	d.add("VERIFY", false, 0, handleVerify)
	d.add("CHANGEPASSWORD", true, AccessFresh, handleChangePassword)
	d.add("CHANGEEMAILREQUEST", true, AccessFresh, handleChangeEmailRequest)
	d.add("CHANGEEMAIL", true, AccessFresh, handleChangeEmail)
	d.add("EXIT", false, 0, handleExit)

	// presence
	d.add("MYSTATUS", true, AccessFresh, handleMyStatus)
	d.add("PING", false, 0, handlePing)

	// channels
	d.add("JOIN", true, AccessFresh, handleJoin)
	d.add("LEAVE", true, AccessFresh, handleLeave)
	d.add("CHANNELS", false, 0, handleChannels)
	d.add("SAY", true, AccessFresh, handleSay)
	d.add("SAYEX", true, AccessFresh, handleSayEx)
	d.add("SAYPRIVATE", true, AccessFresh, handleSayPrivate)
	d.add("CHANNELMESSAGE", true, AccessFresh, handleChannelMessage)
	d.add("CHANNELTOPIC", true, AccessFresh, handleChannelTopic)
	d.add("MUTE", true, AccessFresh, handleMute)
	d.add("UNMUTE", true, AccessFresh, handleUnmute)
	d.add("MUTELIST", true, AccessFresh, handleMuteList)
	d.add("FORCELEAVECHANNEL", true, AccessFresh, handleForceLeaveChannel)

	// battles
	d.add("OPENBATTLE", true, AccessFresh, handleOpenBattle)
	d.add("JOINBATTLE", true, AccessFresh, handleJoinBattle)
	d.add("LEAVEBATTLE", true, AccessFresh, handleLeaveBattle)
	d.add("UPDATEBATTLEINFO", true, AccessFresh, handleUpdateBattleInfo)
	d.add("MYBATTLESTATUS", true, AccessFresh, handleMyBattleStatus)
	d.add("SAYBATTLE", true, AccessFresh, handleSayBattle)
	d.add("ADDBOT", true, AccessFresh, handleAddBot)
	d.add("REMOVEBOT", true, AccessFresh, handleRemoveBot)
	d.add("UPDATEBOT", true, AccessFresh, handleUpdateBot)
	d.add("ADDSTARTRECT", true, AccessFresh, handleAddStartRect)
	d.add("REMOVESTARTRECT", true, AccessFresh, handleRemoveStartRect)
	d.add("SETSCRIPTTAGS", true, AccessFresh, handleSetScriptTags)
	d.add("REMOVESCRIPTTAGS", true, AccessFresh, handleRemoveScriptTags)
	d.add("DISABLEUNITS", true, AccessFresh, handleDisableUnits)
	d.add("ENABLEUNITS", true, AccessFresh, handleEnableUnits)
	d.add("ENABLEALLUNITS", true, AccessFresh, handleEnableAllUnits)
	d.add("REQUESTBATTLESTATUS", true, AccessFresh, handleRequestBattleStatus)
	d.add("STARTBATTLE", true, AccessFresh, handleStartBattle)
	d.add("HANDICAP", true, AccessFresh, handleHandicap)
	d.add("FORCETEAMNO", true, AccessFresh, handleForceTeamNo)
	d.add("FORCEALLYNO", true, AccessFresh, handleForceAllyNo)
	d.add("FORCETEAMCOLOR", true, AccessFresh, handleForceTeamColor)
	d.add("FORCESPECTATORMODE", true, AccessFresh, handleForceSpectatorMode)
	d.add("KICKFROMBATTLE", true, AccessFresh, handleKickFromBattle)

	// social
	d.add("FRIEND", true, AccessFresh, handleFriend)
	d.add("UNFRIEND", true, AccessFresh, handleUnfriend)
	d.add("FRIENDREQUEST", true, AccessFresh, handleFriendRequest)
	d.add("ACCEPTFRIENDREQUEST", true, AccessFresh, handleAcceptFriendRequest)
	d.add("DECLINEFRIENDREQUEST", true, AccessFresh, handleDeclineFriendRequest)
	d.add("IGNORE", true, AccessFresh, handleIgnore)
	d.add("UNIGNORE", true, AccessFresh, handleUnignore)

	// ops
	d.add("KICKUSER", true, AccessMod, handleKickUser)
	d.add("BAN", true, AccessMod, handleBan)
	d.add("UNBAN", true, AccessMod, handleUnban)
	d.add("LISTBANS", true, AccessMod, handleListBans)
	d.add("BROADCAST", true, AccessAdmin, handleBroadcast)
}
