// Package drift detects the conversation sliding from diagnosis into
// logistics and decides when a redirect is allowed.
package drift

import "github.com/MikeSquared-Agency/diagnostician/internal/conversation"

type Config struct {
	MinConsecutive int `yaml:"min_consecutive"`
	MinGap         int `yaml:"min_gap"`
	MaxRedirects   int `yaml:"max_redirects"`
}

func DefaultConfig() Config {
	return Config{MinConsecutive: 3, MinGap: 4, MaxRedirects: 2}
}

// Observe classifies one user turn. A diagnostic turn breaks the streak.
func Observe(d *conversation.TacticalDrift, tactical bool) {
	if !tactical {
		d.ConsecutiveTacticalTurns = 0
		return
	}
	d.ConsecutiveTacticalTurns++
	d.TotalTacticalTurns++
}

// Eligible reports whether a redirect may fire on turn. Past the cap,
// tactical turns are tolerated silently.
func Eligible(d conversation.TacticalDrift, turn int, cfg Config) bool {
	if d.ConsecutiveTacticalTurns < cfg.MinConsecutive {
		return false
	}
	if d.RedirectCount >= cfg.MaxRedirects {
		return false
	}
	if d.RedirectCount > 0 && turn-d.LastRedirectTurn < cfg.MinGap {
		return false
	}
	return true
}

// RecordRedirect commits a fired redirect. The streak is left intact so a
// user who keeps going tactical becomes eligible again once the gap elapses.
func RecordRedirect(d *conversation.TacticalDrift, turn int) {
	d.RedirectCount++
	d.LastRedirectTurn = turn
}
