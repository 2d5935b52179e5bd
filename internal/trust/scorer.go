package trust

import "github.com/MikeSquared-Agency/diagnostician/internal/conversation"

// SignalWeight returns the engagement increment earned by a turn's signals.
func SignalWeight(sig conversation.Signals) float64 {
	w := 0.02
	switch {
	case sig.WordCount >= 60:
		w = 0.05
	case sig.WordCount >= 25:
		w = 0.03
	}
	if sig.InsightExpressed || sig.OwnershipLanguage {
		w += 0.03
	}
	if sig.ConfirmsReflection || sig.CommitmentLanguage {
		w += 0.02
	}
	return w
}

// ClarityModifier scales a turn's weight by how clearly the user expressed
// themselves: high=1.0, medium=0.8, low=0.5.
func ClarityModifier(l conversation.Level) float64 {
	switch l {
	case conversation.LevelHigh:
		return 1.0
	case conversation.LevelMedium:
		return 0.8
	case conversation.LevelLow:
		return 0.5
	default:
		return 1.0
	}
}

// disengaged reports whether the turn pulls engagement down.
func disengaged(sig conversation.Signals) bool {
	return sig.Deflection || sig.ProcessComplaint || sig.HostilePushback || sig.WordCount < 4
}

// UpdateEngagement returns the new engagement score after a user turn.
//
// Formula: new = old + (signal_weight x clarity_modifier x direction)
// Disengagement is asymmetric: it counts 2x.
func UpdateEngagement(current float64, sig conversation.Signals) float64 {
	weight := SignalWeight(sig) * ClarityModifier(sig.Clarity)

	if !disengaged(sig) {
		return clamp(current + weight)
	}
	return clamp(current - weight*2.0)
}

// HostileDrop applies a cliff drop when the user turns on the conversation.
func HostileDrop(current float64) float64 {
	score := current - 0.3
	if score < 0.0 {
		return 0.0
	}
	return score
}

func clamp(score float64) float64 {
	if score < 0.0 {
		return 0.0
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}
