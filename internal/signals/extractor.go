// Package signals turns the latest user utterance into a complete Signals
// record, using the analyzer model when it answers and the rule table when
// it does not.
package signals

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/diagnostician/internal/anthropic"
	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
	"github.com/MikeSquared-Agency/diagnostician/internal/llmjson"
)

const (
	historyWindow = 6
	maxTokens     = 1024
)

type Extractor struct {
	llm    anthropic.Completer
	logger *slog.Logger
}

func New(llm anthropic.Completer, logger *slog.Logger) *Extractor {
	return &Extractor{llm: llm, logger: logger}
}

// wire mirrors the analyzer's JSON. Pointer fields distinguish "absent" from
// false so an incomplete answer only overrides what it actually states.
type wire struct {
	Clarity            *string  `json:"clarity"`
	Confidence         *string  `json:"confidence"`
	Capacity           *string  `json:"capacity"`
	EmotionalMarkers   []string `json:"emotional_markers"`
	OverwhelmMarkers   *int     `json:"overwhelm_markers"`
	OverwhelmSeverity  *string  `json:"overwhelm_severity"`
	Contradiction      *bool    `json:"contradiction"`
	Resistance         *bool    `json:"resistance"`
	HostilePushback    *bool    `json:"hostile_pushback"`
	Deflection         *bool    `json:"deflection"`
	ProcessComplaint   *bool    `json:"process_complaint"`
	CommitmentLanguage *bool    `json:"commitment_language"`
	OwnershipLanguage  *bool    `json:"ownership_language"`
	InsightExpressed   *bool    `json:"insight_expressed"`
	ConfirmsReflection *bool    `json:"confirms_reflection"`
	Agreement          *bool    `json:"agreement"`
	Hesitation         *bool    `json:"hesitation"`
	ConsentGiven       *bool    `json:"consent_given"`
	ConsentDeclined    *bool    `json:"consent_declined"`
	Tactical           *bool    `json:"tactical"`
	TacticalKind       *string  `json:"tactical_kind"`
	Expertise          *string  `json:"expertise"`
	Topics             []string `json:"topics"`
}

// Extract never fails. The heuristic record is computed first and the
// analyzer's answer, when it parses, is laid over it field by field.
func (e *Extractor) Extract(ctx context.Context, message string, history []conversation.Turn) conversation.Signals {
	base := Heuristic(message)

	if e.llm == nil {
		return base
	}

	prompt := fmt.Sprintf(userPrompt, FormatHistory(history, historyWindow), message)
	raw, err := e.llm.Complete(ctx, systemPrompt, []anthropic.Message{{Role: "user", Content: prompt}}, maxTokens)
	if err != nil {
		e.logger.Warn("signal analyzer failed", "error", err, "fallback", true)
		return base
	}

	var w wire
	if err := llmjson.Decode(raw, &w); err != nil {
		e.logger.Warn("signal analyzer returned unparseable output", "error", err, "fallback", true)
		return base
	}
	return merge(base, w)
}

func merge(base conversation.Signals, w wire) conversation.Signals {
	s := base
	s.Source = conversation.SourceAnalyzer

	if w.Clarity != nil {
		s.Clarity = conversation.ParseLevel(*w.Clarity, base.Clarity)
	}
	if w.Confidence != nil {
		s.Confidence = conversation.ParseLevel(*w.Confidence, base.Confidence)
	}
	if w.Capacity != nil {
		s.Capacity = conversation.ParseLevel(*w.Capacity, base.Capacity)
	}
	if w.EmotionalMarkers != nil {
		s.EmotionalMarkers = union(base.EmotionalMarkers, w.EmotionalMarkers)
	}

	// Overwhelm is safety-relevant: take the stronger reading of the two.
	if w.OverwhelmMarkers != nil && *w.OverwhelmMarkers > s.OverwhelmMarkers {
		s.OverwhelmMarkers = *w.OverwhelmMarkers
	}
	if w.OverwhelmSeverity != nil {
		if sev := conversation.ParseSeverity(*w.OverwhelmSeverity); severityRank(sev) > severityRank(s.OverwhelmSeverity) {
			s.OverwhelmSeverity = sev
		}
	}

	setBool(&s.Contradiction, w.Contradiction)
	setBool(&s.Resistance, w.Resistance)
	setBool(&s.HostilePushback, w.HostilePushback)
	setBool(&s.Deflection, w.Deflection)
	setBool(&s.ProcessComplaint, w.ProcessComplaint)
	setBool(&s.CommitmentLanguage, w.CommitmentLanguage)
	setBool(&s.OwnershipLanguage, w.OwnershipLanguage)
	setBool(&s.InsightExpressed, w.InsightExpressed)
	setBool(&s.ConfirmsReflection, w.ConfirmsReflection)
	setBool(&s.Agreement, w.Agreement)
	setBool(&s.Hesitation, w.Hesitation)
	setBool(&s.ConsentGiven, w.ConsentGiven)
	setBool(&s.ConsentDeclined, w.ConsentDeclined)
	setBool(&s.Tactical, w.Tactical)

	if w.TacticalKind != nil {
		s.TacticalKind = *w.TacticalKind
	}
	if !s.Tactical {
		s.TacticalKind = ""
	}
	if w.Expertise != nil {
		if ex := conversation.ExpertiseLevel(*w.Expertise); ex.Rank() >= 0 {
			s.Expertise = ex
		}
	}
	if len(w.Topics) > 0 {
		s.Topics = union(base.Topics, normaliseTopics(w.Topics))
	}
	return s
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func severityRank(s conversation.Severity) int {
	switch s {
	case conversation.SeverityMild:
		return 1
	case conversation.SeverityModerate:
		return 2
	case conversation.SeveritySevere:
		return 3
	}
	return 0
}

func normaliseTopics(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// union returns a followed by the members of b not already in a.
func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// FormatHistory renders the last n turns as "role: content" lines.
func FormatHistory(history []conversation.Turn, n int) string {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	if len(history) == 0 {
		return "(no earlier turns)"
	}
	var b strings.Builder
	for _, t := range history {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
