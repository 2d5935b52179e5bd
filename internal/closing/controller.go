// Package closing runs the five-phase arc that turns a delivered diagnosis
// into a handoff.
package closing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/diagnostician/internal/anthropic"
	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
	"github.com/MikeSquared-Agency/diagnostician/internal/llmjson"
	"github.com/MikeSquared-Agency/diagnostician/internal/signals"
)

var (
	ErrNotClosingAction = errors.New("action is not part of the closing arc")
	ErrOutOfOrder       = errors.New("closing phase out of order")
	ErrNotReady         = errors.New("closing arc cannot complete before facilitate")
)

const (
	historyWindow = 60
	maxTokens     = 1024
	maxItems      = 3
)

type Controller struct {
	llm    anthropic.Completer
	logger *slog.Logger
}

func New(llm anthropic.Completer, logger *slog.Logger) *Controller {
	return &Controller{llm: llm, logger: logger}
}

type wire struct {
	Goals              []string `json:"goals"`
	Stakes             []string `json:"stakes"`
	AttemptedSolutions []string `json:"attempted_solutions"`
	CapabilityGap      string   `json:"capability_gap"`
	PacingApproach     string   `json:"pacing_approach"`
}

// EnsureSynthesis builds the synthesis once, on entry to the arc. Later
// calls are no-ops.
func (c *Controller) EnsureSynthesis(ctx context.Context, st *conversation.State, history []conversation.Turn) {
	if st.ClosingSequence.Synthesis != nil {
		return
	}
	syn := c.extract(ctx, st, history)
	st.ClosingSequence.Synthesis = &syn
}

func (c *Controller) extract(ctx context.Context, st *conversation.State, history []conversation.Turn) conversation.Synthesis {
	def := DefaultSynthesis(st)
	if c.llm == nil {
		return def
	}

	sub := st.Subdimension
	if sub == "" {
		sub = "unspecified"
	}
	prompt := fmt.Sprintf(synthesisUserPrompt, st.ConstraintHypothesis, sub, signals.FormatHistory(history, historyWindow))
	raw, err := c.llm.Complete(ctx, synthesisSystemPrompt, []anthropic.Message{{Role: "user", Content: prompt}}, maxTokens)
	if err != nil {
		c.logger.Warn("synthesis extraction failed", "session_id", st.SessionID, "error", err, "fallback", true)
		return def
	}
	var w wire
	if err := llmjson.Decode(raw, &w); err != nil {
		c.logger.Warn("synthesis extraction unparseable", "session_id", st.SessionID, "error", err, "fallback", true)
		return def
	}

	syn := conversation.Synthesis{
		Goals:              items(w.Goals, def.Goals),
		Stakes:             items(w.Stakes, def.Stakes),
		AttemptedSolutions: items(w.AttemptedSolutions, def.AttemptedSolutions),
		CapabilityGap:      MechanicalGap(w.CapabilityGap, st.ConstraintHypothesis),
		PacingApproach:     strings.TrimSpace(w.PacingApproach),
		Source:             conversation.SourceAnalyzer,
	}
	if syn.PacingApproach == "" {
		syn.PacingApproach = def.PacingApproach
	}
	return syn
}

func items(in, def []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" && len(out) < maxItems {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}

var defaultGaps = map[conversation.Constraint]string{
	conversation.ConstraintStrategy:   "a clear, tested plan for who to sell to, what to sell them and at what price",
	conversation.ConstraintExecution:  "an operating system that moves the plan forward without everything routing through you",
	conversation.ConstraintPsychology: "a structured way to act on what you already know before it feels comfortable",
	conversation.ConstraintNone:       "a structured plan for the next stage of the business",
}

// DefaultSynthesis is the fully specified synthesis used when extraction
// fails.
func DefaultSynthesis(st *conversation.State) conversation.Synthesis {
	stakes := []string{"the business stays where it is while the effort keeps going in"}
	if len(st.HypothesisEvidence) > 0 {
		stakes = []string{st.HypothesisEvidence[0]}
	}
	gap, ok := defaultGaps[st.ConstraintHypothesis]
	if !ok {
		gap = defaultGaps[conversation.ConstraintNone]
	}
	pacing := "one focused change at a time, at a pace that fits the hours available"
	if st.Readiness.Capacity == conversation.LevelLow {
		pacing = "small, low-effort steps first, because capacity is already stretched"
	}
	return conversation.Synthesis{
		Goals:              []string{"a business that grows without depending on constant effort"},
		Stakes:             stakes,
		AttemptedSolutions: []string{"working harder within the current approach"},
		CapabilityGap:      gap,
		PacingApproach:     pacing,
		Source:             conversation.SourceFallback,
	}
}

var motivational = regexp.MustCompile(`(?i)\b(motivat\w*|disciplin\w*|mindset|willpower|lazy|laziness|drive|grit|commitment|belief in (yourself|themselves))\b`)

// MechanicalGap keeps the capability gap framed as something missing that can
// be built. A gap framed around motivation is replaced with the category
// default.
func MechanicalGap(gap string, c conversation.Constraint) string {
	gap = strings.TrimSpace(gap)
	if gap == "" || motivational.MatchString(gap) {
		if d, ok := defaultGaps[c]; ok {
			return d
		}
		return defaultGaps[conversation.ConstraintNone]
	}
	return gap
}

// ObserveUserTurn records alignment or hesitation in a user turn answering a
// closing phase. Neither exits the arc.
func ObserveUserTurn(cs *conversation.ClosingSequence, sig conversation.Signals) {
	if cs.Phase == conversation.ClosingNotStarted || cs.ClosingArcComplete {
		return
	}
	cs.TurnsInClosing++
	if sig.Agreement && !sig.Hesitation {
		cs.AlignmentDetected = true
	}
	if sig.Hesitation || sig.ConsentDeclined || sig.Resistance {
		cs.UserHesitationExpressed = true
	}
}

// Advance commits a dispatched closing action. Phases must be taken in
// order with none skipped or repeated.
func Advance(cs *conversation.ClosingSequence, action conversation.Action) error {
	p, ok := action.ClosingPhase()
	if !ok {
		return fmt.Errorf("advance %s: %w", action, ErrNotClosingAction)
	}
	if want := cs.Phase.Next(); want != p {
		return fmt.Errorf("advance to %s from %s: %w", p, cs.Phase, ErrOutOfOrder)
	}
	cs.Phase = p
	cs.History = append(cs.History, p)
	return nil
}

// Complete marks the arc finished. It is only legal once facilitate has run.
func Complete(cs *conversation.ClosingSequence) error {
	if cs.Phase != conversation.ClosingFacilitate {
		return fmt.Errorf("complete from %s: %w", cs.Phase, ErrNotReady)
	}
	cs.ClosingArcComplete = true
	return nil
}
