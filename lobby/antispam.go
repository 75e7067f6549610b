package lobby

import "time"

// AntiSpam tracks one user's rolling spam score within a channel (spec
// §4.6). It decays linearly with time and accrues per message, matching
// the original Python `antispam.py` scorer algorithm.
type AntiSpam struct {
	cfg        AntiSpamConfig
	score      float64
	lastUpdate time.Time
	mutedUntil time.Time
}

// NewAntiSpam constructs a scorer using cfg's timeout/aggressiveness.
func NewAntiSpam(cfg AntiSpamConfig) *AntiSpam {
	return &AntiSpam{cfg: cfg, lastUpdate: time.Time{}}
}

// Record scores an incoming message of the given length at time now,
// returning whether this message should trigger a mute. The decay and
// accrual formulas are:
//
//	score = max(0, score - (now-last_update)/timeout)
//	score += 1 + max(0, len(msg)-bonuslength)/bonuslength
//
// muting triggers once score passes aggressiveness.
func (a *AntiSpam) Record(now time.Time, msgLen int) (mute bool) {
	if !a.lastUpdate.IsZero() {
		elapsed := now.Sub(a.lastUpdate).Seconds()
		a.score -= elapsed / a.cfg.Timeout
		if a.score < 0 {
			a.score = 0
		}
	}
	a.lastUpdate = now

	bonus := 0.0
	if msgLen > a.cfg.BonusLength {
		bonus = float64(msgLen-a.cfg.BonusLength) / float64(a.cfg.BonusLength)
	}
	a.score += 1 + bonus

	if a.score > a.cfg.Aggressiveness {
		a.mutedUntil = now.Add(time.Duration(a.cfg.Duration) * time.Second)
		a.score = 0
		return true
	}
	return false
}

// Muted reports whether a mute issued by Record is still in effect at now.
func (a *AntiSpam) Muted(now time.Time) bool {
	return now.Before(a.mutedUntil)
}
