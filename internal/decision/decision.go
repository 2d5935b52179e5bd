// Package decision selects the one action a turn will take. Decide is a pure
// function of its input: the same state, signals, inference and tracker view
// always yield the same Decision.
package decision

import (
	"fmt"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
	"github.com/MikeSquared-Agency/diagnostician/internal/memory"
)

type Config struct {
	// Overwhelm markers that force containment regardless of severity grade.
	ContainMarkers int `yaml:"contain_markers"`
	// Turns to wait after a declined consent request before asking again.
	ConsentRetryGap int `yaml:"consent_retry_gap"`
	// Hypothesis confidence at which a validation reflection is attempted.
	ValidateConfidence float64 `yaml:"validate_confidence"`
	// Turns in a phase after which clear users are deepened rather than explored.
	DeepenAfterTurns int `yaml:"deepen_after_turns"`
	// Ground-covered score at which replies start converging.
	ConvergeScore float64 `yaml:"converge_score"`
}

func DefaultConfig() Config {
	return Config{
		ContainMarkers:     3,
		ConsentRetryGap:    3,
		ValidateConfidence: 0.6,
		DeepenAfterTurns:   2,
		ConvergeScore:      0.7,
	}
}

// Trackers is the read-only view of the tracker verdicts for this turn.
type Trackers struct {
	RedirectEligible bool
	Circular         bool
	SuggestedTheme   string
	CanReflect       bool
	GroundCovered    float64
}

type Input struct {
	State     *conversation.State
	Signals   conversation.Signals
	Inference conversation.Inference
	Trackers  Trackers
}

type rule struct {
	name  string
	apply func(Input, Config) (conversation.Decision, bool)
}

// rules is evaluated top to bottom and the first match wins. The order is
// part of the contract; moving a rule changes behaviour.
var rules = []rule{
	{"containment", containment},
	{"tactical_redirect", tacticalRedirect},
	{"consent_gate", consentGate},
	{"diagnosis", diagnosis},
	{"boundary", boundary},
	{"repair", repair},
	{"closing", closing},
	{"contradiction", contradiction},
	{"insight", insight},
	{"validation", validation},
	{"circularity", circularity},
	{"default", fallback},
}

// RuleOrder returns the rule names in evaluation order.
func RuleOrder() []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names
}

// Decide runs the rule table. The default rule always matches.
func Decide(in Input, cfg Config) conversation.Decision {
	for _, r := range rules {
		d, ok := r.apply(in, cfg)
		if !ok {
			continue
		}
		d.Rule = r.name
		if !d.Action.Deterministic() {
			d.PromptOverlays = append(d.PromptOverlays, ambient(in.State)...)
		}
		return d
	}
	panic("decision: default rule did not match")
}

func containment(in Input, cfg Config) (conversation.Decision, bool) {
	s := in.Signals
	if s.OverwhelmSeverity != conversation.SeveritySevere && s.OverwhelmMarkers < cfg.ContainMarkers {
		return conversation.Decision{}, false
	}
	return conversation.Decision{
		Action:         conversation.ActionContain,
		Confidence:     1.0,
		Reasoning:      fmt.Sprintf("overwhelm severity %s with %d markers", s.OverwhelmSeverity, s.OverwhelmMarkers),
		PromptOverlays: []conversation.Overlay{conversation.OverlayGrounding},
	}, true
}

func tacticalRedirect(in Input, _ Config) (conversation.Decision, bool) {
	if !in.Trackers.RedirectEligible || in.State.DiagnosisDelivered {
		return conversation.Decision{}, false
	}
	d := in.State.TacticalDrift
	return conversation.Decision{
		Action:         conversation.ActionTacticalRedirect,
		Confidence:     0.9,
		Reasoning:      fmt.Sprintf("%d consecutive tactical turns, redirect %d", d.ConsecutiveTacticalTurns, d.RedirectCount+1),
		PromptOverlays: []conversation.Overlay{conversation.OverlayTacticalRedirect},
	}, true
}

// readyToDiagnose is the gate both the consent rule and the diagnosis rule
// share.
func readyToDiagnose(st *conversation.State) bool {
	return st.HypothesisValidated && st.StressTestPassed && !st.DiagnosisDelivered
}

// analyzerNotReady reports whether the analyzer answered this turn and judged
// the evidence too thin to diagnose. Heuristic inferences carry no judgement.
func analyzerNotReady(inf conversation.Inference) bool {
	return inf.Source == conversation.SourceAnalyzer && !inf.ReadyForDiagnosis
}

func consentGate(in Input, cfg Config) (conversation.Decision, bool) {
	st := in.State
	if !readyToDiagnose(st) || st.Consent.DiagnosisConfirmed {
		return conversation.Decision{}, false
	}
	c := st.Consent

	if c.DiagnosisRequested {
		return conversation.Decision{
			Action:         conversation.ActionExplore,
			Confidence:     0.7,
			Reasoning:      "diagnosis consent requested but not yet given",
			PromptOverlays: []conversation.Overlay{conversation.OverlayExplore, conversation.OverlayHoldForConsent},
		}, true
	}
	if c.DeclinedTurn > 0 && st.Counters.TotalTurns-c.DeclinedTurn < cfg.ConsentRetryGap {
		return conversation.Decision{
			Action:         conversation.ActionExplore,
			Confidence:     0.7,
			Reasoning:      fmt.Sprintf("consent declined on turn %d, waiting before asking again", c.DeclinedTurn),
			PromptOverlays: []conversation.Overlay{conversation.OverlayExplore, conversation.OverlayConsentDeclined},
		}, true
	}
	if analyzerNotReady(in.Inference) {
		return conversation.Decision{}, false
	}
	return conversation.Decision{
		Action:         conversation.ActionRequestConsent,
		Confidence:     0.85,
		Reasoning:      fmt.Sprintf("hypothesis %s validated and stress-tested at %.2f", st.ConstraintHypothesis, st.HypothesisConfidence),
		PromptOverlays: []conversation.Overlay{conversation.OverlayRequestConsent},
	}, true
}

func diagnosis(in Input, _ Config) (conversation.Decision, bool) {
	st := in.State
	if !readyToDiagnose(st) || !st.Consent.DiagnosisRequested || !st.Consent.DiagnosisConfirmed {
		return conversation.Decision{}, false
	}
	return conversation.Decision{
		Action:     conversation.ActionDiagnose,
		Confidence: st.HypothesisConfidence,
		Reasoning:  fmt.Sprintf("consent confirmed for %s diagnosis", st.ConstraintHypothesis),
	}, true
}

var closingOverlays = map[conversation.ClosingPhase]conversation.Overlay{
	conversation.ClosingReflectImplication: conversation.OverlayClosingImplication,
	conversation.ClosingReflectStakes:      conversation.OverlayClosingStakes,
	conversation.ClosingNameCapabilityGap:  conversation.OverlayClosingCapabilityGap,
	conversation.ClosingAssertAndAlign:     conversation.OverlayClosingAlign,
	conversation.ClosingFacilitate:         conversation.OverlayClosingFacilitate,
}

func closing(in Input, _ Config) (conversation.Decision, bool) {
	st := in.State
	cs := st.ClosingSequence
	if !st.DiagnosisDelivered || cs.ClosingArcComplete {
		return conversation.Decision{}, false
	}

	next := cs.Phase.Next()
	if next == "" {
		overlay := conversation.OverlayLeaveDoorOpen
		reason := "closing arc finished without explicit agreement"
		if cs.AlignmentDetected || in.Signals.Agreement {
			overlay = conversation.OverlayConfirmNextStep
			reason = "closing arc finished with agreement"
		}
		return conversation.Decision{
			Action:         conversation.ActionFarewell,
			Confidence:     0.95,
			Reasoning:      reason,
			PromptOverlays: []conversation.Overlay{overlay},
		}, true
	}

	overlays := []conversation.Overlay{closingOverlays[next]}
	if cs.UserHesitationExpressed && next.Index() >= conversation.ClosingAssertAndAlign.Index() {
		overlays = append(overlays, conversation.OverlayAddressHesitation)
	}
	return conversation.Decision{
		Action:         conversation.ClosingAction(next),
		Confidence:     0.9,
		Reasoning:      fmt.Sprintf("closing phase %d of %d", next.Index()+1, len(conversation.ClosingOrder)),
		PromptOverlays: overlays,
	}, true
}

func boundary(in Input, _ Config) (conversation.Decision, bool) {
	r := in.State.Relationship
	if r.ProcessFrustration != conversation.FrustrationHostile || r.BoundarySet {
		return conversation.Decision{}, false
	}
	return conversation.Decision{
		Action:         conversation.ActionSetBoundary,
		Confidence:     0.8,
		Reasoning:      "process frustration hostile and no boundary set yet",
		PromptOverlays: []conversation.Overlay{conversation.OverlaySetBoundary},
	}, true
}

func repair(in Input, _ Config) (conversation.Decision, bool) {
	st := in.State
	r := st.Relationship
	strained := r.TrustLevel == conversation.TrustDamaged ||
		r.ProcessFrustration.Rank() >= conversation.FrustrationSignificant.Rank()
	if !strained || st.LastAction == conversation.ActionRepairRupture {
		return conversation.Decision{}, false
	}
	return conversation.Decision{
		Action:         conversation.ActionRepairRupture,
		Confidence:     0.8,
		Reasoning:      fmt.Sprintf("trust %s, frustration %s", r.TrustLevel, r.ProcessFrustration),
		PromptOverlays: []conversation.Overlay{conversation.OverlayRepair},
	}, true
}

func contradiction(in Input, _ Config) (conversation.Decision, bool) {
	st := in.State
	s := in.Signals
	openHypothesis := st.ConstraintHypothesis != conversation.ConstraintNone && !st.HypothesisValidated
	if !s.Contradiction && !(s.Resistance && openHypothesis) {
		return conversation.Decision{}, false
	}

	reason := "contradiction with earlier statements"
	if s.Resistance {
		reason = fmt.Sprintf("resistance to unvalidated %s hypothesis", st.ConstraintHypothesis)
	}
	if !in.Trackers.CanReflect {
		return conversation.Decision{
			Action:         conversation.ActionExplore,
			Confidence:     0.6,
			Reasoning:      reason + "; reflection budget spent",
			PromptOverlays: []conversation.Overlay{conversation.OverlayExplore, conversation.OverlayHoldHypothesis},
		}, true
	}
	overlays := []conversation.Overlay{conversation.OverlaySurfaceContradiction}
	if openHypothesis {
		overlays = append(overlays, conversation.OverlayHoldHypothesis)
	}
	return conversation.Decision{
		Action:         conversation.ActionSurfaceContradiction,
		Confidence:     0.75,
		Reasoning:      reason,
		PromptOverlays: overlays,
	}, true
}

func insight(in Input, _ Config) (conversation.Decision, bool) {
	s := in.Signals
	if !s.InsightExpressed || !(s.OwnershipLanguage || s.CommitmentLanguage) || !in.Trackers.CanReflect {
		return conversation.Decision{}, false
	}
	return conversation.Decision{
		Action:         conversation.ActionReflectInsight,
		Confidence:     0.8,
		Reasoning:      "insight expressed with ownership or commitment",
		PromptOverlays: []conversation.Overlay{conversation.OverlayReflectInsight},
	}, true
}

func validation(in Input, cfg Config) (conversation.Decision, bool) {
	st := in.State
	if st.ConstraintHypothesis == conversation.ConstraintNone || st.HypothesisValidated {
		return conversation.Decision{}, false
	}
	if st.HypothesisConfidence < cfg.ValidateConfidence || !in.Trackers.CanReflect {
		return conversation.Decision{}, false
	}
	return conversation.Decision{
		Action:         conversation.ActionValidateHypothesis,
		Confidence:     st.HypothesisConfidence,
		Reasoning:      fmt.Sprintf("testing %s hypothesis at %.2f", st.ConstraintHypothesis, st.HypothesisConfidence),
		PromptOverlays: []conversation.Overlay{conversation.OverlayValidateHypothesis},
	}, true
}

func circularity(in Input, _ Config) (conversation.Decision, bool) {
	t := in.Trackers
	if !t.Circular {
		return conversation.Decision{}, false
	}
	overlays := []conversation.Overlay{conversation.OverlayPivotTheme}
	if t.SuggestedTheme == memory.MoveTowardDiagnosis {
		overlays = append(overlays, conversation.OverlayConverge)
	}
	return conversation.Decision{
		Action:         conversation.ActionPivotTheme,
		Confidence:     0.7,
		Reasoning:      "conversation circling; pivot to " + t.SuggestedTheme,
		PromptOverlays: overlays,
		Theme:          t.SuggestedTheme,
	}, true
}

func fallback(in Input, cfg Config) (conversation.Decision, bool) {
	st := in.State
	d := conversation.Decision{
		Action:         conversation.ActionExplore,
		Confidence:     0.5,
		Reasoning:      fmt.Sprintf("%d turns in %s, clarity %s", st.Counters.TurnsInPhase, st.Phase, in.Signals.Clarity),
		PromptOverlays: []conversation.Overlay{conversation.OverlayExplore},
	}
	if st.Counters.TurnsInPhase >= cfg.DeepenAfterTurns && in.Signals.Clarity != conversation.LevelLow {
		d.Action = conversation.ActionDeepen
		d.Confidence = 0.6
		d.PromptOverlays = []conversation.Overlay{conversation.OverlayDeepen}
	}
	if in.Trackers.GroundCovered >= cfg.ConvergeScore {
		d.PromptOverlays = append(d.PromptOverlays, conversation.OverlayConverge)
	}
	return d, true
}

// ambient returns the style, expertise and trust overlays that apply to every
// generated reply.
func ambient(st *conversation.State) []conversation.Overlay {
	var out []conversation.Overlay
	switch st.Relationship.Disposition {
	case conversation.DispositionCollaborativeExplorer:
		out = append(out, conversation.OverlayStyleExplorer)
	case conversation.DispositionDirectPragmatist:
		out = append(out, conversation.OverlayStylePragmatist)
	case conversation.DispositionSkepticalEvaluator:
		out = append(out, conversation.OverlayStyleSkeptic)
	}
	switch st.ExpertiseLevel {
	case conversation.ExpertiseNovice:
		out = append(out, conversation.OverlayExpertiseNovice)
	case conversation.ExpertiseExpert:
		out = append(out, conversation.OverlayExpertiseExpert)
	}
	if st.Relationship.TrustLevel == conversation.TrustDamaged {
		out = append(out, conversation.OverlayTrustDamaged)
	}
	return out
}
