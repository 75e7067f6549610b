package lobby

import (
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/racklobby/lobbyserver/store"
)

// loadAverageSkipThreshold is the §5/original-source load-average policy:
// skip the mute/idle sweeps (but keep the log flusher, i.e. don't skip
// anything that isn't a scan of every session/channel) when the system
// is this loaded, matching DataHandler.py's os.getloadavg() check.
const loadAverageSkipThreshold = 8.0

// Scheduler runs the server's periodic maintenance sweeps on their own
// goroutine, submitting each tick as a command to the dispatcher so it
// never touches the authoritative maps directly (spec §5).
type Scheduler struct {
	server *Server
}

// NewScheduler constructs a Scheduler for server.
func NewScheduler(server *Server) *Scheduler {
	return &Scheduler{server: server}
}

// Run drives every cadence named in spec §4.9/§6.2 until the process
// exits. Each ticker posts a closure onto server.commands so its work
// executes on the single dispatcher goroutine.
func (sch *Scheduler) Run() {
	muteBanTicker := time.NewTicker(time.Second)
	idleTicker := time.NewTicker(10 * time.Second)
	regThrottleTicker := time.NewTicker(20 * time.Minute)
	renameThrottleTicker := time.NewTicker(7 * 24 * time.Hour)
	dailyTicker := time.NewTicker(24 * time.Hour)
	defer muteBanTicker.Stop()
	defer idleTicker.Stop()
	defer regThrottleTicker.Stop()
	defer renameThrottleTicker.Stop()
	defer dailyTicker.Stop()

	for {
		select {
		case <-muteBanTicker.C:
			sch.submit(sch.sweepMutesAndBans)
		case <-idleTicker.C:
			sch.submit(sch.sweepIdleAndFlood)
		case <-regThrottleTicker.C:
			sch.submit(sch.decrementRegistrationThrottle)
		case <-renameThrottleTicker.C:
			sch.submit(sch.decrementRenameThrottle)
		case <-dailyTicker.C:
			sch.submit(sch.dailyMaintenance)
		}
	}
}

func (sch *Scheduler) submit(fn func()) {
	sch.server.commands <- fn
}

// loadTooHighToSweep reads the 1-minute load average via golang.org/x/sys
// and reports whether member/channel scanning sweeps should be skipped
// this tick.
func loadTooHighToSweep() bool {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return false
	}
	// Sysinfo_t.Loads are fixed-point values scaled by 1<<16 (SI_LOAD_SHIFT).
	load1 := float64(info.Loads[0]) / 65536.0
	return load1 > loadAverageSkipThreshold
}

// sweepMutesAndBans expires timed channel mutes/bans in memory (the
// persisted copies are pruned later by dailyMaintenance's store.Clean).
func (sch *Scheduler) sweepMutesAndBans() {
	if loadTooHighToSweep() {
		return
	}
	now := time.Now().UTC()
	for _, ch := range sch.server.channels {
		for user, expires := range ch.Mutes {
			if !expires.IsZero() && !now.Before(expires) {
				delete(ch.Mutes, user)
				sch.server.broadcastChannel(ch, nil, "CHANNELMESSAGE", ch.Name, user+" is no longer muted")
			}
		}
		for user, expires := range ch.Bans {
			if !expires.IsZero() && !now.Before(expires) {
				delete(ch.Bans, user)
			}
		}
	}
}

// idleTimeout is the spec §4.9 window after which a session that never
// logged in, or that has gone silent (no data and no PING), is dropped.
const idleTimeout = 60 * time.Second

// sweepIdleAndFlood culls sessions that never completed login within
// idleTimeout, sessions that have sent nothing (not even a PING) for
// idleTimeout, and sessions whose send buffer has been over the flood
// threshold for more than 30s (spec §4.9/§5).
func (sch *Scheduler) sweepIdleAndFlood() {
	if loadTooHighToSweep() {
		return
	}
	now := time.Now().UTC()
	cfg := sch.server.Config()
	thresholdBytes := cfg.Limits.SendBufferFlushKiB * 1024

	for _, sess := range sch.server.sessions {
		if sess.Static {
			continue
		}
		if !sess.LoggedIn && now.Sub(sess.LastConnect) > idleTimeout {
			sch.server.send(sess, nil, "SERVERMSG", "timed out, no login within 60 seconds!")
			sch.server.removeSession(sess)
			continue
		}
		if now.Sub(sess.LastRx) > idleTimeout {
			sch.server.send(sess, nil, "SERVERMSG", "timed out, no data or PING received")
			sch.server.removeSession(sess)
			continue
		}
		if sess.QueuedBytes() > thresholdBytes {
			sess.MarkFlooding(now)
			if !sess.FloodingSince().IsZero() && now.Sub(sess.FloodingSince()) > cfg.Limits.SendBufferFloodFor {
				sch.server.send(sess, nil, "SERVERMSG", "Connection flooded")
				sch.server.removeSession(sess)
			}
		} else {
			sess.ClearFlooding()
		}
	}
}

// decrementRegistrationThrottle lowers each session's REGISTER attempt
// counter by one every 20 minutes, stopping at zero (spec §4.2/original
// source throttle window).
func (sch *Scheduler) decrementRegistrationThrottle() {
	now := time.Now().UTC()
	for _, sess := range sch.server.sessions {
		if sess.RegistrationHits > 0 {
			sess.RegistrationHits--
			sess.LastRegReset = now
		}
	}
}

// decrementRenameThrottle lowers the per-session rename-attempt counter
// by one every 7 days, stopping at zero, the cadence the original source applies alongside the
// 20-minute registration throttle.
func (sch *Scheduler) decrementRenameThrottle() {
	now := time.Now().UTC()
	for _, sess := range sch.server.sessions {
		if sess.RecentRenames > 0 {
			sess.RecentRenames--
			sess.LastRenameReset = now
		}
	}
}

// dailyMaintenance runs store.Clean and store.AuditAccess once every 24h
// (spec §6.2).
func (sch *Scheduler) dailyMaintenance() {
	opts := store.DefaultCleanOptions()
	removed, err := sch.server.store.Clean(opts)
	if err != nil {
		sch.server.logger.Error("maintenance", "clean failed: "+err.Error())
	} else {
		sch.server.logger.Info("maintenance", "clean removed accounts", strconv.Itoa(removed))
	}
	demoted, err := sch.server.store.AuditAccess(opts)
	if err != nil {
		sch.server.logger.Error("maintenance", "audit_access failed: "+err.Error())
		return
	}
	for _, name := range demoted {
		sch.server.logger.Info("maintenance", "demoted idle privileged account", name)
	}
}
