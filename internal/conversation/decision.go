package conversation

// Action is the discrete move chosen by the decision engine for one turn.
type Action string

const (
	ActionContain              Action = "contain"
	ActionTacticalRedirect     Action = "tactical_redirect"
	ActionRequestConsent       Action = "request_consent"
	ActionDiagnose             Action = "diagnose"
	ActionReflectImplication   Action = "reflect_implication"
	ActionReflectStakes        Action = "reflect_stakes"
	ActionNameCapabilityGap    Action = "name_capability_gap"
	ActionAssertAndAlign       Action = "assert_and_align"
	ActionFacilitate           Action = "facilitate"
	ActionFarewell             Action = "farewell"
	ActionSetBoundary          Action = "set_boundary"
	ActionRepairRupture        Action = "repair_rupture"
	ActionSurfaceContradiction Action = "surface_contradiction"
	ActionReflectInsight       Action = "reflect_insight"
	ActionValidateHypothesis   Action = "validate_hypothesis"
	ActionPivotTheme           Action = "pivot_theme"
	ActionExplore              Action = "explore"
	ActionDeepen               Action = "deepen"
)

// Deterministic reports whether the reply for this action is built from
// templates without calling the completion service.
func (a Action) Deterministic() bool {
	return a == ActionDiagnose || a == ActionContain
}

// IsReflection reports whether the action reflects an observation back to
// the user and therefore counts against the reflection budget.
func (a Action) IsReflection() bool {
	switch a {
	case ActionReflectInsight, ActionValidateHypothesis, ActionSurfaceContradiction:
		return true
	}
	return false
}

// ClosingPhase maps a closing action onto its phase. ok is false for
// actions outside the closing arc.
func (a Action) ClosingPhase() (ClosingPhase, bool) {
	switch a {
	case ActionReflectImplication:
		return ClosingReflectImplication, true
	case ActionReflectStakes:
		return ClosingReflectStakes, true
	case ActionNameCapabilityGap:
		return ClosingNameCapabilityGap, true
	case ActionAssertAndAlign:
		return ClosingAssertAndAlign, true
	case ActionFacilitate:
		return ClosingFacilitate, true
	}
	return "", false
}

// ClosingAction is the inverse of Action.ClosingPhase.
func ClosingAction(p ClosingPhase) Action {
	switch p {
	case ClosingReflectImplication:
		return ActionReflectImplication
	case ClosingReflectStakes:
		return ActionReflectStakes
	case ClosingNameCapabilityGap:
		return ActionNameCapabilityGap
	case ClosingAssertAndAlign:
		return ActionAssertAndAlign
	case ClosingFacilitate:
		return ActionFacilitate
	}
	return ""
}

// Overlay names an instruction fragment the dispatcher splices into the
// generation instructions. The decision engine never emits literal text.
type Overlay string

const (
	OverlayGrounding            Overlay = "grounding"
	OverlayTacticalRedirect     Overlay = "tactical_redirect"
	OverlayRequestConsent       Overlay = "request_consent"
	OverlayHoldForConsent       Overlay = "hold_for_consent"
	OverlayConsentDeclined      Overlay = "consent_declined"
	OverlayClosingImplication   Overlay = "closing_implication"
	OverlayClosingStakes        Overlay = "closing_stakes"
	OverlayClosingCapabilityGap Overlay = "closing_capability_gap"
	OverlayClosingAlign         Overlay = "closing_align"
	OverlayClosingFacilitate    Overlay = "closing_facilitate"
	OverlayAddressHesitation    Overlay = "address_hesitation"
	OverlayConfirmNextStep      Overlay = "confirm_next_step"
	OverlayLeaveDoorOpen        Overlay = "leave_door_open"
	OverlaySetBoundary          Overlay = "set_boundary"
	OverlayRepair               Overlay = "repair"
	OverlaySurfaceContradiction Overlay = "surface_contradiction"
	OverlayHoldHypothesis       Overlay = "hold_hypothesis_open"
	OverlayReflectInsight       Overlay = "reflect_insight"
	OverlayValidateHypothesis   Overlay = "validate_hypothesis"
	OverlayPivotTheme           Overlay = "pivot_theme"
	OverlayConverge             Overlay = "converge"
	OverlayExplore              Overlay = "explore"
	OverlayDeepen               Overlay = "deepen"
	OverlayStyleExplorer        Overlay = "style_collaborative_explorer"
	OverlayStylePragmatist      Overlay = "style_direct_pragmatist"
	OverlayStyleSkeptic         Overlay = "style_skeptical_evaluator"
	OverlayExpertiseNovice      Overlay = "expertise_novice"
	OverlayExpertiseExpert      Overlay = "expertise_expert"
	OverlayTrustDamaged         Overlay = "trust_damaged"
)

// Decision is the sole contract between the decision engine and everything
// downstream of it.
type Decision struct {
	Action         Action    `json:"action"`
	Confidence     float64   `json:"confidence"`
	Reasoning      string    `json:"reasoning"`
	PromptOverlays []Overlay `json:"prompt_overlays"`
	Rule           string    `json:"rule"`
	Theme          string    `json:"theme,omitempty"`
}

// HasOverlay reports whether o is among the decision's overlays.
func (d Decision) HasOverlay(o Overlay) bool {
	for _, v := range d.PromptOverlays {
		if v == o {
			return true
		}
	}
	return false
}
