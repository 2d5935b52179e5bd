// Package trust tracks the relationship with the user: engagement, trust
// level, working disposition and frustration with the process.
package trust

import "github.com/MikeSquared-Agency/diagnostician/internal/conversation"

type Config struct {
	// Confirmed reflections needed to leave establishing and to reach established.
	BuildingAfter    int `yaml:"building_after"`
	EstablishedAfter int `yaml:"established_after"`

	// Consistent turns needed to first infer a disposition, and contradicting
	// turns needed to replace one.
	DispositionStable   int `yaml:"disposition_stable"`
	DispositionOverride int `yaml:"disposition_override"`

	// Consecutive deflecting turns that raise frustration one level.
	DeflectionStreak int `yaml:"deflection_streak"`
}

func DefaultConfig() Config {
	return Config{
		BuildingAfter:       1,
		EstablishedAfter:    3,
		DispositionStable:   2,
		DispositionOverride: 3,
		DeflectionStreak:    2,
	}
}

// Observe folds one user turn into the relationship. lastAction is the
// action that produced the assistant turn the user is answering.
func Observe(r *conversation.Relationship, sig conversation.Signals, lastAction conversation.Action, cfg Config) {
	r.Engagement = UpdateEngagement(r.Engagement, sig)

	if sig.ConfirmsReflection && !sig.Resistance && lastAction != "" {
		r.ConfirmedReflections++
	}

	if sig.HostilePushback {
		r.Engagement = HostileDrop(r.Engagement)
		r.TrustLevel = conversation.TrustDamaged
	} else if r.TrustLevel != conversation.TrustDamaged {
		r.TrustLevel = progress(r.TrustLevel, r.ConfirmedReflections, cfg)
	}

	observeFrustration(r, sig, lastAction, cfg)
	observeDisposition(r, sig, cfg)
}

// progress moves trust forward on confirmations. It never moves it back;
// only hostility does that.
func progress(cur conversation.TrustLevel, confirmed int, cfg Config) conversation.TrustLevel {
	switch {
	case confirmed >= cfg.EstablishedAfter:
		return conversation.TrustEstablished
	case confirmed >= cfg.BuildingAfter && cur == conversation.TrustEstablishing:
		return conversation.TrustBuilding
	}
	return cur
}

func observeFrustration(r *conversation.Relationship, sig conversation.Signals, lastAction conversation.Action, cfg Config) {
	if sig.Deflection || sig.ProcessComplaint {
		r.DeflectionStreak++
	} else {
		r.DeflectionStreak = 0
	}

	f := r.ProcessFrustration
	switch {
	case sig.HostilePushback:
		f = f.Raise()
		if f.Rank() < conversation.FrustrationSignificant.Rank() {
			f = conversation.FrustrationSignificant
		}
	case lastAction == conversation.ActionTacticalRedirect && sig.Tactical:
		f = f.Raise()
	case cfg.DeflectionStreak > 0 && r.DeflectionStreak > 0 && r.DeflectionStreak%cfg.DeflectionStreak == 0:
		f = f.Raise()
	case sig.ProcessComplaint && f == conversation.FrustrationNone:
		f = conversation.FrustrationMild
	}
	r.ProcessFrustration = f
}

// classify returns the disposition a single turn points at, or unknown.
func classify(sig conversation.Signals) conversation.Disposition {
	switch {
	case sig.Resistance || sig.Contradiction:
		return conversation.DispositionSkepticalEvaluator
	case sig.ProcessComplaint || (sig.WordCount > 0 && sig.WordCount <= 15 && (sig.Tactical || sig.Confidence == conversation.LevelHigh)):
		return conversation.DispositionDirectPragmatist
	case sig.InsightExpressed || sig.WordCount >= 40 || len(sig.EmotionalMarkers) > 0:
		return conversation.DispositionCollaborativeExplorer
	}
	return conversation.DispositionUnknown
}

func observeDisposition(r *conversation.Relationship, sig conversation.Signals, cfg Config) {
	c := classify(sig)
	if c == conversation.DispositionUnknown {
		return
	}
	if c == r.CandidateDisposition {
		r.CandidateStreak++
	} else {
		r.CandidateDisposition = c
		r.CandidateStreak = 1
	}

	switch {
	case r.Disposition == conversation.DispositionUnknown && r.CandidateStreak >= cfg.DispositionStable:
		r.Disposition = c
	case r.Disposition != c && r.CandidateStreak >= cfg.DispositionOverride:
		r.Disposition = c
	}
}

// ApplyRepair records an explicit repair turn. Damaged trust returns to
// building, and confirmations from before the rupture stop counting toward
// established.
func ApplyRepair(r *conversation.Relationship, turn int, cfg Config) {
	if r.TrustLevel == conversation.TrustDamaged {
		r.TrustLevel = conversation.TrustBuilding
		if r.ConfirmedReflections > cfg.BuildingAfter {
			r.ConfirmedReflections = cfg.BuildingAfter
		}
	}
	r.ProcessFrustration = r.ProcessFrustration.Lower()
	r.DeflectionStreak = 0
	r.LastRepairTurn = turn
}

// ApplyBoundary records that the boundary-setting move has been made. It is
// made at most once per session.
func ApplyBoundary(r *conversation.Relationship) {
	r.BoundarySet = true
}
