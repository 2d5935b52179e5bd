package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/diagnostician/internal/engine"
)

// LoadPolicy reads a YAML policy file and overlays it on the defaults. Keys
// absent from the file keep their default value. An empty path returns the
// defaults.
func LoadPolicy(path string) (engine.Policy, error) {
	p := engine.DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML policy document over the defaults. Unknown keys
// are rejected so a typo does not silently fall back to a default.
func ParsePolicy(data []byte) (engine.Policy, error) {
	p := engine.DefaultPolicy()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return engine.DefaultPolicy(), fmt.Errorf("parse policy: %w", err)
	}
	if err := validatePolicy(p); err != nil {
		return engine.DefaultPolicy(), err
	}
	return p, nil
}

// ApplyTimeouts copies the environment timeouts onto p. A policy file wins
// when it sets its own value.
func (c Config) ApplyTimeouts(p *engine.Policy, fromFile engine.Policy) {
	def := engine.DefaultPolicy()
	if fromFile.AnalyzerTimeout == def.AnalyzerTimeout {
		p.AnalyzerTimeout = c.AnalyzerTimeout
	}
	if fromFile.GenerationTimeout == def.GenerationTimeout {
		p.GenerationTimeout = c.GenerationTimeout
	}
}

func validatePolicy(p engine.Policy) error {
	switch {
	case p.AnalyzerTimeout <= 0 || p.GenerationTimeout <= 0:
		return errors.New("policy: timeouts must be positive")
	case p.Drift.MinConsecutive < 1 || p.Drift.MaxRedirects < 0:
		return errors.New("policy: drift thresholds out of range")
	case p.Memory.SimilarityThreshold <= 0 || p.Memory.SimilarityThreshold > 1:
		return errors.New("policy: memory.similarity_threshold must be in (0,1]")
	case p.Phase.LockConfidence < p.Phase.ValidationConfidence:
		return errors.New("policy: phase.lock_confidence must not be below validation_confidence")
	case p.Variety.MaxReflections < 1:
		return errors.New("policy: variety.max_reflections must be at least 1")
	}
	return nil
}
