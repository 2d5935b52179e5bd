package closing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/MikeSquared-Agency/diagnostician/internal/anthropic"
	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubCompleter struct {
	reply string
	err   error
	calls int
}

func (s *stubCompleter) Complete(context.Context, string, []anthropic.Message, int) (string, error) {
	s.calls++
	return s.reply, s.err
}

func diagnosed() *conversation.State {
	st := conversation.NewState("s")
	st.ConstraintHypothesis = conversation.ConstraintExecution
	st.HypothesisEvidence = []string{"I lose two days a week to admin"}
	st.DiagnosisDelivered = true
	return st
}

func TestEnsureSynthesis_Extracted(t *testing.T) {
	llm := &stubCompleter{reply: `{
		"goals": ["hire a second bookkeeper", "", "take August off"],
		"stakes": ["burning out by spring"],
		"attempted_solutions": [],
		"capability_gap": "a documented intake process a hire could run",
		"pacing_approach": "one process per month"
	}`}
	c := New(llm, discardLogger())
	st := diagnosed()

	c.EnsureSynthesis(context.Background(), st, nil)
	syn := st.ClosingSequence.Synthesis
	if syn == nil {
		t.Fatal("expected synthesis")
	}
	if syn.Source != conversation.SourceAnalyzer {
		t.Errorf("source = %q", syn.Source)
	}
	if len(syn.Goals) != 2 || syn.Goals[1] != "take August off" {
		t.Errorf("goals = %v", syn.Goals)
	}
	if len(syn.AttemptedSolutions) != 1 {
		t.Errorf("empty list must fall back to default, got %v", syn.AttemptedSolutions)
	}
	if syn.CapabilityGap != "a documented intake process a hire could run" {
		t.Errorf("gap = %q", syn.CapabilityGap)
	}

	c.EnsureSynthesis(context.Background(), st, nil)
	if llm.calls != 1 {
		t.Errorf("synthesis must be built once, got %d calls", llm.calls)
	}
}

func TestEnsureSynthesis_FallbackIsComplete(t *testing.T) {
	for _, llm := range []*stubCompleter{
		{err: errors.New("api error 500")},
		{reply: "Sure, here's a summary: they want growth."},
	} {
		st := diagnosed()
		New(llm, discardLogger()).EnsureSynthesis(context.Background(), st, nil)
		syn := st.ClosingSequence.Synthesis
		if syn == nil || syn.Source != conversation.SourceFallback {
			t.Fatalf("expected fallback synthesis, got %+v", syn)
		}
		if len(syn.Goals) == 0 || len(syn.Stakes) == 0 || len(syn.AttemptedSolutions) == 0 || syn.CapabilityGap == "" || syn.PacingApproach == "" {
			t.Errorf("fallback synthesis has empty fields: %+v", syn)
		}
		if syn.Stakes[0] != "I lose two days a week to admin" {
			t.Errorf("expected evidence as stakes, got %v", syn.Stakes)
		}
	}
}

func TestMechanicalGap(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a weekly pipeline review", "a weekly pipeline review"},
		{"more discipline around follow-up", defaultGaps[conversation.ConstraintExecution]},
		{"the right mindset", defaultGaps[conversation.ConstraintExecution]},
		{"Lack of MOTIVATION", defaultGaps[conversation.ConstraintExecution]},
		{"  ", defaultGaps[conversation.ConstraintExecution]},
	}
	for _, tt := range tests {
		if got := MechanicalGap(tt.in, conversation.ConstraintExecution); got != tt.want {
			t.Errorf("MechanicalGap(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	for c, gap := range defaultGaps {
		if motivational.MatchString(gap) {
			t.Errorf("default gap for %q is motivationally framed: %q", c, gap)
		}
	}
}

func TestAdvance_StrictOrder(t *testing.T) {
	cs := conversation.NewState("s").ClosingSequence

	if err := Advance(&cs, conversation.ActionReflectStakes); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("skipping phase A must fail, got %v", err)
	}
	if err := Advance(&cs, conversation.ActionExplore); !errors.Is(err, ErrNotClosingAction) {
		t.Fatalf("non-closing action must fail, got %v", err)
	}
	if err := Complete(&cs); !errors.Is(err, ErrNotReady) {
		t.Fatalf("complete before facilitate must fail, got %v", err)
	}

	for _, p := range conversation.ClosingOrder {
		if err := Advance(&cs, conversation.ClosingAction(p)); err != nil {
			t.Fatalf("advance to %s: %v", p, err)
		}
	}
	if err := Advance(&cs, conversation.ActionFacilitate); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("repeating facilitate must fail, got %v", err)
	}
	if len(cs.History) != len(conversation.ClosingOrder) {
		t.Errorf("history = %v", cs.History)
	}
	if err := Complete(&cs); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !cs.ClosingArcComplete {
		t.Error("expected arc complete")
	}
}

func TestObserveUserTurn(t *testing.T) {
	cs := conversation.NewState("s").ClosingSequence
	ObserveUserTurn(&cs, conversation.Signals{Agreement: true})
	if cs.AlignmentDetected || cs.TurnsInClosing != 0 {
		t.Fatal("turns before the arc starts are ignored")
	}

	cs.Phase = conversation.ClosingReflectStakes
	ObserveUserTurn(&cs, conversation.Signals{Hesitation: true})
	if !cs.UserHesitationExpressed || cs.AlignmentDetected {
		t.Errorf("expected hesitation only, got %+v", cs)
	}
	ObserveUserTurn(&cs, conversation.Signals{Agreement: true})
	if !cs.AlignmentDetected {
		t.Error("expected alignment")
	}
	if cs.TurnsInClosing != 2 {
		t.Errorf("turns in closing = %d", cs.TurnsInClosing)
	}
	if cs.Phase != conversation.ClosingReflectStakes {
		t.Error("observation must not move the phase")
	}
}
