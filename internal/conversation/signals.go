package conversation

// Signals is the per-turn record derived from the latest user utterance.
// Every field has a usable zero value; extractors always return a full record.
type Signals struct {
	Clarity    Level `json:"clarity"`
	Confidence Level `json:"confidence"`
	Capacity   Level `json:"capacity"`

	EmotionalMarkers  []string `json:"emotional_markers"`
	OverwhelmMarkers  int      `json:"overwhelm_markers"`
	OverwhelmSeverity Severity `json:"overwhelm_severity"`

	Contradiction      bool `json:"contradiction"`
	Resistance         bool `json:"resistance"`
	HostilePushback    bool `json:"hostile_pushback"`
	Deflection         bool `json:"deflection"`
	ProcessComplaint   bool `json:"process_complaint"`
	CommitmentLanguage bool `json:"commitment_language"`
	OwnershipLanguage  bool `json:"ownership_language"`
	InsightExpressed   bool `json:"insight_expressed"`
	ConfirmsReflection bool `json:"confirms_reflection"`
	Agreement          bool `json:"agreement"`
	Hesitation         bool `json:"hesitation"`
	ConsentGiven       bool `json:"consent_given"`
	ConsentDeclined    bool `json:"consent_declined"`

	Tactical     bool   `json:"tactical"`
	TacticalKind string `json:"tactical_kind,omitempty"`

	Expertise ExpertiseLevel `json:"expertise"`
	Topics    []string       `json:"topics"`
	WordCount int            `json:"word_count"`

	Source Source `json:"source"`
}

// Inference is the analyzer's view of the constraint hypothesis for a turn.
// Category may be ConstraintNone and Confidence 0 when nothing is known.
type Inference struct {
	Category          Constraint `json:"category"`
	Confidence        float64    `json:"confidence"`
	Evidence          []string   `json:"evidence"`
	ReadyForDiagnosis bool       `json:"ready_for_diagnosis"`
	Subdimension      string     `json:"subdimension,omitempty"`
	Source            Source     `json:"source"`
}

// DefaultInference is the complete record returned when inference fails.
func DefaultInference() Inference {
	return Inference{
		Category:   ConstraintNone,
		Confidence: 0,
		Evidence:   []string{},
		Source:     SourceFallback,
	}
}
