package conversation

// Phase is the top-level stage of a session. Phases only move forward.
type Phase string

const (
	PhaseContext     Phase = "context"
	PhaseExploration Phase = "exploration"
	PhaseValidation  Phase = "validation"
	PhaseDiagnosis   Phase = "diagnosis"
	PhaseClosing     Phase = "closing"
	PhaseComplete    Phase = "complete"
)

var phaseRank = map[Phase]int{
	PhaseContext:     0,
	PhaseExploration: 1,
	PhaseValidation:  2,
	PhaseDiagnosis:   3,
	PhaseClosing:     4,
	PhaseComplete:    5,
}

// Rank returns the ordinal of the phase, or -1 for an unknown value.
func (p Phase) Rank() int {
	if r, ok := phaseRank[p]; ok {
		return r
	}
	return -1
}

// Constraint is the diagnosed root blocker. The zero value means no hypothesis.
type Constraint string

const (
	ConstraintNone       Constraint = ""
	ConstraintStrategy   Constraint = "strategy"
	ConstraintExecution  Constraint = "execution"
	ConstraintPsychology Constraint = "psychology"
)

// ParseConstraint maps free text onto a Constraint, returning ConstraintNone
// for anything unrecognised.
func ParseConstraint(s string) Constraint {
	switch Constraint(s) {
	case ConstraintStrategy, ConstraintExecution, ConstraintPsychology:
		return Constraint(s)
	default:
		return ConstraintNone
	}
}

type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// ParseLevel returns fallback when s is not a valid level.
func ParseLevel(s string, fallback Level) Level {
	switch Level(s) {
	case LevelLow, LevelMedium, LevelHigh:
		return Level(s)
	default:
		return fallback
	}
}

// ExpertiseLevel is the learner state. It is upgrade-only.
type ExpertiseLevel string

const (
	ExpertiseNovice     ExpertiseLevel = "novice"
	ExpertiseDeveloping ExpertiseLevel = "developing"
	ExpertiseExpert     ExpertiseLevel = "expert"
)

var expertiseRank = map[ExpertiseLevel]int{
	ExpertiseNovice:     0,
	ExpertiseDeveloping: 1,
	ExpertiseExpert:     2,
}

func (e ExpertiseLevel) Rank() int {
	if r, ok := expertiseRank[e]; ok {
		return r
	}
	return -1
}

type TrustLevel string

const (
	TrustEstablishing TrustLevel = "establishing"
	TrustBuilding     TrustLevel = "building"
	TrustEstablished  TrustLevel = "established"
	TrustDamaged      TrustLevel = "damaged"
)

// Disposition is the user's working style. The zero value means not yet inferred.
type Disposition string

const (
	DispositionUnknown               Disposition = ""
	DispositionCollaborativeExplorer Disposition = "collaborative_explorer"
	DispositionDirectPragmatist      Disposition = "direct_pragmatist"
	DispositionSkepticalEvaluator    Disposition = "skeptical_evaluator"
)

// Frustration is ordinal: none < mild < significant < hostile.
type Frustration string

const (
	FrustrationNone        Frustration = "none"
	FrustrationMild        Frustration = "mild"
	FrustrationSignificant Frustration = "significant"
	FrustrationHostile     Frustration = "hostile"
)

var frustrationOrder = []Frustration{
	FrustrationNone,
	FrustrationMild,
	FrustrationSignificant,
	FrustrationHostile,
}

func (f Frustration) Rank() int {
	for i, v := range frustrationOrder {
		if v == f {
			return i
		}
	}
	return -1
}

// Raise returns the next level up, saturating at hostile.
func (f Frustration) Raise() Frustration {
	r := f.Rank()
	if r < 0 {
		return FrustrationMild
	}
	if r+1 >= len(frustrationOrder) {
		return FrustrationHostile
	}
	return frustrationOrder[r+1]
}

// Lower returns the next level down, saturating at none.
func (f Frustration) Lower() Frustration {
	r := f.Rank()
	if r <= 0 {
		return FrustrationNone
	}
	return frustrationOrder[r-1]
}

// ClosingPhase is a step of the five-phase closing arc (A-E).
type ClosingPhase string

const (
	ClosingNotStarted         ClosingPhase = "not_started"
	ClosingReflectImplication ClosingPhase = "reflect_implication"
	ClosingReflectStakes      ClosingPhase = "reflect_stakes"
	ClosingNameCapabilityGap  ClosingPhase = "name_capability_gap"
	ClosingAssertAndAlign     ClosingPhase = "assert_and_align"
	ClosingFacilitate         ClosingPhase = "facilitate"
)

// ClosingOrder lists the closing phases A-E in their only legal order.
var ClosingOrder = []ClosingPhase{
	ClosingReflectImplication,
	ClosingReflectStakes,
	ClosingNameCapabilityGap,
	ClosingAssertAndAlign,
	ClosingFacilitate,
}

// Next returns the phase that follows p, or "" once facilitate has been reached.
func (p ClosingPhase) Next() ClosingPhase {
	if p == ClosingNotStarted || p == "" {
		return ClosingOrder[0]
	}
	for i, v := range ClosingOrder {
		if v == p && i+1 < len(ClosingOrder) {
			return ClosingOrder[i+1]
		}
	}
	return ""
}

// Index returns the 0-based position in ClosingOrder, or -1 for not_started.
func (p ClosingPhase) Index() int {
	for i, v := range ClosingOrder {
		if v == p {
			return i
		}
	}
	return -1
}

// Severity grades emotional overwhelm.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// ParseSeverity returns SeverityNone for unknown values.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityMild, SeverityModerate, SeveritySevere:
		return Severity(s)
	default:
		return SeverityNone
	}
}

// Source records whether a record came from the analyzer or a local fallback.
type Source string

const (
	SourceAnalyzer Source = "analyzer"
	SourceFallback Source = "fallback"
)
