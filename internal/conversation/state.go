package conversation

import "time"

// Role tags a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged entry in the session history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Action    Action    `json:"action,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Readiness struct {
	Clarity    Level `json:"clarity"`
	Confidence Level `json:"confidence"`
	Capacity   Level `json:"capacity"`
}

// Counters hold the turn bookkeeping. The "since" counters reset to 0 on
// their triggering event; everything else only grows.
type Counters struct {
	TotalTurns            int `json:"total_turns"`
	TurnsInPhase          int `json:"turns_in_phase"`
	TurnsSinceValidation  int `json:"turns_since_validation"`
	TurnsSinceContainment int `json:"turns_since_containment"`
}

type TacticalDrift struct {
	ConsecutiveTacticalTurns int `json:"consecutive_tactical_turns"`
	TotalTacticalTurns       int `json:"total_tactical_turns"`
	RedirectCount            int `json:"redirect_count"`
	LastRedirectTurn         int `json:"last_redirect_turn"`
}

type Relationship struct {
	Engagement           float64     `json:"engagement"`
	TrustLevel           TrustLevel  `json:"trust_level"`
	Disposition          Disposition `json:"disposition"`
	ProcessFrustration   Frustration `json:"process_frustration"`
	ConfirmedReflections int         `json:"confirmed_reflections"`
	BoundarySet          bool        `json:"boundary_set"`

	// Disposition inference bookkeeping.
	CandidateDisposition Disposition `json:"candidate_disposition"`
	CandidateStreak      int         `json:"candidate_streak"`

	// Consecutive turns carrying deflection or process complaints.
	DeflectionStreak int `json:"deflection_streak"`
	LastRepairTurn   int `json:"last_repair_turn"`
}

// Synthesis is the transcript summary that personalises the closing arc.
type Synthesis struct {
	Goals              []string `json:"goals"`
	Stakes             []string `json:"stakes"`
	AttemptedSolutions []string `json:"attempted_solutions"`
	CapabilityGap      string   `json:"capability_gap"`
	PacingApproach     string   `json:"pacing_approach"`
	Source             Source   `json:"source"`
}

type ClosingSequence struct {
	Phase                   ClosingPhase   `json:"phase"`
	TurnsInClosing          int            `json:"turns_in_closing"`
	Synthesis               *Synthesis     `json:"synthesis,omitempty"`
	AlignmentDetected       bool           `json:"alignment_detected"`
	UserHesitationExpressed bool           `json:"user_hesitation_expressed"`
	ClosingArcComplete      bool           `json:"closing_arc_complete"`
	History                 []ClosingPhase `json:"history"`
}

type Consent struct {
	DiagnosisRequested bool `json:"diagnosis_requested"`
	DiagnosisConfirmed bool `json:"diagnosis_confirmed"`
	RequestedTurn      int  `json:"requested_turn"`
	DeclinedTurn       int  `json:"declined_turn"`
}

// MemoryEntry is one turn in the circularity window.
type MemoryEntry struct {
	Turn   int      `json:"turn"`
	Topics []string `json:"topics"`
	Theme  string   `json:"theme,omitempty"`
}

type Memory struct {
	Window             []MemoryEntry `json:"window"`
	DistinctTopics     []string      `json:"distinct_topics"`
	CoveredThemes      []string      `json:"covered_themes"`
	GroundCoveredScore float64       `json:"ground_covered_score"`
}

type Variety struct {
	Used               map[string][]string `json:"used"`
	LastUsed           map[string]string   `json:"last_used"`
	PatternCounts      map[string]int      `json:"pattern_counts"`
	ReflectionCount    int                 `json:"reflection_count"`
	LastReflectionTurn int                 `json:"last_reflection_turn"`
}

// State is the single mutable record carried across turns. It is owned by
// the engine and persisted opaquely by the caller.
type State struct {
	SessionID string `json:"session_id"`
	Phase     Phase  `json:"phase"`

	ConstraintHypothesis Constraint `json:"constraint_hypothesis"`
	HypothesisConfidence float64    `json:"hypothesis_confidence"`
	HypothesisEvidence   []string   `json:"hypothesis_evidence"`
	HypothesisValidated  bool       `json:"hypothesis_validated"`
	Subdimension         string     `json:"subdimension,omitempty"`
	StressTestPassed     bool       `json:"stress_test_passed"`
	DiagnosisDelivered   bool       `json:"diagnosis_delivered"`

	Readiness      Readiness      `json:"readiness"`
	Counters       Counters       `json:"counters"`
	ExpertiseLevel ExpertiseLevel `json:"expertise_level"`
	LastAction     Action         `json:"last_action,omitempty"`

	TacticalDrift   TacticalDrift   `json:"tactical_drift"`
	Relationship    Relationship    `json:"relationship"`
	ClosingSequence ClosingSequence `json:"closing_sequence"`
	Consent         Consent         `json:"consent_state"`
	Memory          Memory          `json:"memory"`
	Variety         Variety         `json:"variety"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState returns the initial state of a session.
func NewState(sessionID string) *State {
	now := time.Now().UTC()
	s := &State{
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Backfill()
	return s
}

// Backfill repairs a resumed state whose document predates a field, giving
// every missing substructure its documented default.
func (s *State) Backfill() {
	if s.Phase.Rank() < 0 {
		s.Phase = PhaseContext
	}
	if s.ExpertiseLevel.Rank() < 0 {
		s.ExpertiseLevel = ExpertiseNovice
	}
	s.ConstraintHypothesis = ParseConstraint(string(s.ConstraintHypothesis))
	if s.ConstraintHypothesis == ConstraintNone {
		s.HypothesisValidated = false
	}
	if s.HypothesisEvidence == nil {
		s.HypothesisEvidence = []string{}
	}

	s.Readiness.Clarity = ParseLevel(string(s.Readiness.Clarity), LevelLow)
	s.Readiness.Confidence = ParseLevel(string(s.Readiness.Confidence), LevelLow)
	s.Readiness.Capacity = ParseLevel(string(s.Readiness.Capacity), LevelLow)

	r := &s.Relationship
	switch r.TrustLevel {
	case TrustEstablishing, TrustBuilding, TrustEstablished, TrustDamaged:
	default:
		r.TrustLevel = TrustEstablishing
	}
	if r.ProcessFrustration.Rank() < 0 {
		r.ProcessFrustration = FrustrationNone
	}
	if r.Engagement == 0 && s.Counters.TotalTurns == 0 {
		r.Engagement = 0.5
	}

	c := &s.ClosingSequence
	if c.Phase == "" {
		c.Phase = ClosingNotStarted
	}
	if c.History == nil {
		c.History = []ClosingPhase{}
	}

	if s.Memory.Window == nil {
		s.Memory.Window = []MemoryEntry{}
	}
	if s.Memory.DistinctTopics == nil {
		s.Memory.DistinctTopics = []string{}
	}
	if s.Memory.CoveredThemes == nil {
		s.Memory.CoveredThemes = []string{}
	}

	v := &s.Variety
	if v.Used == nil {
		v.Used = map[string][]string{}
	}
	if v.LastUsed == nil {
		v.LastUsed = map[string]string{}
	}
	if v.PatternCounts == nil {
		v.PatternCounts = map[string]int{}
	}
}

// AdvancePhase moves the state to next if next is later than the current
// phase. It reports whether the phase changed; a regression is a no-op.
func (s *State) AdvancePhase(next Phase) bool {
	if next.Rank() <= s.Phase.Rank() {
		return false
	}
	s.Phase = next
	s.Counters.TurnsInPhase = 0
	return true
}

// UpgradeExpertise raises the learner state to e if e is higher. Lower
// values are ignored, so the level never decreases.
func (s *State) UpgradeExpertise(e ExpertiseLevel) bool {
	if e.Rank() <= s.ExpertiseLevel.Rank() {
		return false
	}
	s.ExpertiseLevel = e
	return true
}

// Terminal reports whether the session has reached its end.
func (s *State) Terminal() bool {
	return s.Phase == PhaseComplete || s.ClosingSequence.ClosingArcComplete
}

// Clone returns a deep copy so a turn can be processed without touching the
// caller's record.
func (s *State) Clone() *State {
	c := *s
	c.HypothesisEvidence = append([]string(nil), s.HypothesisEvidence...)

	if s.ClosingSequence.Synthesis != nil {
		syn := *s.ClosingSequence.Synthesis
		syn.Goals = append([]string(nil), syn.Goals...)
		syn.Stakes = append([]string(nil), syn.Stakes...)
		syn.AttemptedSolutions = append([]string(nil), syn.AttemptedSolutions...)
		c.ClosingSequence.Synthesis = &syn
	}
	c.ClosingSequence.History = append([]ClosingPhase(nil), s.ClosingSequence.History...)

	c.Memory.Window = make([]MemoryEntry, len(s.Memory.Window))
	for i, e := range s.Memory.Window {
		c.Memory.Window[i] = MemoryEntry{
			Turn:   e.Turn,
			Topics: append([]string(nil), e.Topics...),
			Theme:  e.Theme,
		}
	}
	c.Memory.DistinctTopics = append([]string(nil), s.Memory.DistinctTopics...)
	c.Memory.CoveredThemes = append([]string(nil), s.Memory.CoveredThemes...)

	c.Variety.Used = make(map[string][]string, len(s.Variety.Used))
	for k, v := range s.Variety.Used {
		c.Variety.Used[k] = append([]string(nil), v...)
	}
	c.Variety.LastUsed = make(map[string]string, len(s.Variety.LastUsed))
	for k, v := range s.Variety.LastUsed {
		c.Variety.LastUsed[k] = v
	}
	c.Variety.PatternCounts = make(map[string]int, len(s.Variety.PatternCounts))
	for k, v := range s.Variety.PatternCounts {
		c.Variety.PatternCounts[k] = v
	}
	return &c
}
