package engine

import (
	"time"

	"github.com/MikeSquared-Agency/diagnostician/internal/decision"
	"github.com/MikeSquared-Agency/diagnostician/internal/drift"
	"github.com/MikeSquared-Agency/diagnostician/internal/memory"
	"github.com/MikeSquared-Agency/diagnostician/internal/trust"
	"github.com/MikeSquared-Agency/diagnostician/internal/variety"
)

// PhaseConfig holds the hypothesis and phase-advance thresholds.
type PhaseConfig struct {
	ExplorationAfterTurns int     `yaml:"exploration_after_turns"`
	ValidationConfidence  float64 `yaml:"validation_confidence"`
	LockConfidence        float64 `yaml:"lock_confidence"`
	StressEvidence        int     `yaml:"stress_evidence"`
	MaxEvidence           int     `yaml:"max_evidence"`
}

// Policy gathers every tunable the engine and its trackers use.
type Policy struct {
	AnalyzerTimeout   time.Duration `yaml:"analyzer_timeout"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`

	Phase        PhaseConfig     `yaml:"phase"`
	Decision     decision.Config `yaml:"decision"`
	Drift        drift.Config    `yaml:"drift"`
	Memory       memory.Config   `yaml:"memory"`
	Variety      variety.Config  `yaml:"variety"`
	Relationship trust.Config    `yaml:"relationship"`
}

func DefaultPolicy() Policy {
	return Policy{
		AnalyzerTimeout:   8 * time.Second,
		GenerationTimeout: 25 * time.Second,
		Phase: PhaseConfig{
			ExplorationAfterTurns: 2,
			ValidationConfidence:  0.6,
			LockConfidence:        0.75,
			StressEvidence:        2,
			MaxEvidence:           8,
		},
		Decision:     decision.DefaultConfig(),
		Drift:        drift.DefaultConfig(),
		Memory:       memory.DefaultConfig(),
		Variety:      variety.DefaultConfig(),
		Relationship: trust.DefaultConfig(),
	}
}
