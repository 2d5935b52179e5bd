// Package inference asks the analyzer model which constraint the
// conversation points at, falling back to keyword heuristics. It always
// returns a complete Inference.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/diagnostician/internal/anthropic"
	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
	"github.com/MikeSquared-Agency/diagnostician/internal/llmjson"
	"github.com/MikeSquared-Agency/diagnostician/internal/signals"
)

const (
	historyWindow = 20
	maxTokens     = 1024
	maxEvidence   = 6
)

// Subdimensions lists the sub-dimension labels accepted for each category.
var Subdimensions = map[conversation.Constraint][]string{
	conversation.ConstraintStrategy:   {"positioning", "offer", "pricing", "market"},
	conversation.ConstraintExecution:  {"systems", "delegation", "focus", "capacity"},
	conversation.ConstraintPsychology: {"visibility", "perfectionism", "self_worth", "avoidance"},
}

type Inferrer struct {
	llm    anthropic.Completer
	logger *slog.Logger
}

func New(llm anthropic.Completer, logger *slog.Logger) *Inferrer {
	return &Inferrer{llm: llm, logger: logger}
}

type wire struct {
	Category          *string  `json:"category"`
	Confidence        float64  `json:"confidence"`
	Evidence          []string `json:"evidence"`
	ReadyForDiagnosis bool     `json:"ready_for_diagnosis"`
	Subdimension      string   `json:"subdimension"`
}

// Infer falls back to keyword heuristics on any upstream or parse failure.
func (i *Inferrer) Infer(ctx context.Context, message string, history []conversation.Turn, st *conversation.State) conversation.Inference {
	if i.llm == nil {
		return heuristic(message, st)
	}

	prompt := fmt.Sprintf(userPrompt,
		hypothesisLabel(st.ConstraintHypothesis), st.HypothesisConfidence, st.HypothesisValidated,
		signals.FormatHistory(history, historyWindow), message)

	raw, err := i.llm.Complete(ctx, systemPrompt, []anthropic.Message{{Role: "user", Content: prompt}}, maxTokens)
	if err != nil {
		i.logger.Warn("inference analyzer failed", "session_id", st.SessionID, "error", err, "fallback", true)
		return heuristic(message, st)
	}

	var w wire
	if err := llmjson.Decode(raw, &w); err != nil {
		i.logger.Warn("inference analyzer returned unparseable output", "session_id", st.SessionID, "error", err, "fallback", true)
		return heuristic(message, st)
	}
	return normalise(w)
}

// normalise clamps the analyzer's answer into a valid record. An unknown
// category is treated as no hypothesis.
func normalise(w wire) conversation.Inference {
	inf := conversation.DefaultInference()
	inf.Source = conversation.SourceAnalyzer

	if w.Category != nil {
		inf.Category = conversation.ParseConstraint(strings.ToLower(strings.TrimSpace(*w.Category)))
	}
	if inf.Category == conversation.ConstraintNone {
		return inf
	}

	inf.Confidence = clamp(w.Confidence)
	for _, e := range w.Evidence {
		if e = strings.TrimSpace(e); e != "" && len(inf.Evidence) < maxEvidence {
			inf.Evidence = append(inf.Evidence, e)
		}
	}
	inf.ReadyForDiagnosis = w.ReadyForDiagnosis
	inf.Subdimension = validSubdimension(inf.Category, w.Subdimension)
	return inf
}

func validSubdimension(c conversation.Constraint, sub string) string {
	sub = strings.ToLower(strings.TrimSpace(sub))
	for _, s := range Subdimensions[c] {
		if s == sub {
			return sub
		}
	}
	return ""
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func hypothesisLabel(c conversation.Constraint) string {
	if c == conversation.ConstraintNone {
		return "none"
	}
	return string(c)
}
