package inference

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

func TestHeuristic_MapsKeywords(t *testing.T) {
	tests := []struct {
		msg  string
		cat  conversation.Constraint
		sub  string
		conf float64
	}{
		{"Honestly our pricing is too low and we never charge for revisions.", conversation.ConstraintStrategy, "pricing", 0.4},
		{"I'm not sure our offer makes sense to anyone.", conversation.ConstraintStrategy, "offer", 0.4},
		{"We don't stand out, we're a commodity.", conversation.ConstraintStrategy, "positioning", 0.4},
		{"Sales are flat and there's no demand in our area.", conversation.ConstraintStrategy, "market", 0.4},
		{"Leads fall through the cracks because there's no process.", conversation.ConstraintExecution, "systems", 0.4},
		{"I do everything myself and I can't delegate.", conversation.ConstraintExecution, "delegation", 0.4},
		{"I'm stretched thin with no time for anything.", conversation.ConstraintExecution, "capacity", 0.4},
		{"I hate putting myself out there.", conversation.ConstraintPsychology, "visibility", 0.4},
		{"Who am I to ask for that much? I feel like a fraud.", conversation.ConstraintPsychology, "self_worth", 0.4},
		{"I keep putting it off.", conversation.ConstraintPsychology, "avoidance", 0.4},
		{"Our pricing is all over the place and sales are slow.", conversation.ConstraintStrategy, "pricing", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.sub, func(t *testing.T) {
			got := heuristic(tt.msg, conversation.NewState("s"))
			if got.Category != tt.cat {
				t.Errorf("category = %q, want %q", got.Category, tt.cat)
			}
			if got.Subdimension != tt.sub {
				t.Errorf("subdimension = %q, want %q", got.Subdimension, tt.sub)
			}
			if diff := got.Confidence - tt.conf; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.conf)
			}
			if got.Source != conversation.SourceFallback || got.ReadyForDiagnosis {
				t.Errorf("heuristic must report fallback and never readiness, got %+v", got)
			}
			if len(got.Evidence) != 1 || got.Evidence[0] != tt.msg {
				t.Errorf("evidence = %v", got.Evidence)
			}
		})
	}
}

func TestHeuristic_ConfidenceBuildsOnStandingHypothesis(t *testing.T) {
	st := conversation.NewState("s")
	msg := "Our prices haven't moved in years."

	var seen []float64
	for i := 0; i < 6; i++ {
		inf := heuristic(msg, st)
		if inf.Category != conversation.ConstraintStrategy {
			t.Fatalf("turn %d: category = %q", i+1, inf.Category)
		}
		seen = append(seen, inf.Confidence)
		st.ConstraintHypothesis = inf.Category
		st.HypothesisConfidence = inf.Confidence
	}

	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Errorf("confidence fell from %v to %v", seen[i-1], seen[i])
		}
	}
	if last := seen[len(seen)-1]; last < 0.69 || last > heuristicCap {
		t.Errorf("confidence settled at %v, want %v", last, heuristicCap)
	}
	if heuristicCap >= 0.75 {
		t.Error("heuristic cap must stay below the lock threshold")
	}
}

func TestHeuristic_KeepsHigherAnalyzerConfidence(t *testing.T) {
	st := conversation.NewState("s")
	st.ConstraintHypothesis = conversation.ConstraintExecution
	st.HypothesisConfidence = 0.85

	got := heuristic("We have no real process for onboarding.", st)
	if got.Category != conversation.ConstraintExecution || got.Confidence != 0.85 {
		t.Errorf("got %+v, want execution at 0.85", got)
	}
}

func TestHeuristic_NoCuesCarriesHypothesis(t *testing.T) {
	st := conversation.NewState("s")
	st.ConstraintHypothesis = conversation.ConstraintPsychology
	st.HypothesisConfidence = 0.55
	st.Subdimension = "avoidance"

	got := heuristic("Yes, that's right.", st)
	if got.Category != conversation.ConstraintPsychology || got.Confidence != 0.55 || got.Subdimension != "avoidance" {
		t.Errorf("got %+v, want standing hypothesis", got)
	}
	if got.Evidence == nil || len(got.Evidence) != 0 {
		t.Errorf("carried hypothesis must add no evidence, got %v", got.Evidence)
	}

	fresh := heuristic("Yes, that's right.", conversation.NewState("s"))
	if fresh.Category != conversation.ConstraintNone || fresh.Confidence != 0 {
		t.Errorf("fresh state should yield no hypothesis, got %+v", fresh)
	}
}

func TestHeuristic_TruncatesEvidence(t *testing.T) {
	msg := "Our pricing " + strings.Repeat("é", 300)
	got := heuristic(msg, conversation.NewState("s"))
	if n := len([]rune(got.Evidence[0])); n != heuristicEvidence {
		t.Errorf("evidence has %d runes, want %d", n, heuristicEvidence)
	}
}

func TestInfer_FailureUsesHeuristic(t *testing.T) {
	for _, stub := range []*stubCompleter{
		{err: errors.New("api error 529: overloaded")},
		{reply: "I think it's execution."},
	} {
		got := New(stub, discardLogger()).Infer(context.Background(), "I'm stuck on pricing.", nil, conversation.NewState("s"))
		if got.Category != conversation.ConstraintStrategy || got.Subdimension != "pricing" {
			t.Errorf("expected heuristic strategy/pricing, got %+v", got)
		}
		if got.Source != conversation.SourceFallback {
			t.Errorf("expected fallback source, got %q", got.Source)
		}
	}

	got := New(nil, discardLogger()).Infer(context.Background(), "I keep avoiding sales calls.", nil, conversation.NewState("s"))
	if got.Category != conversation.ConstraintPsychology {
		t.Errorf("nil analyzer: expected psychology, got %+v", got)
	}
}
