package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/MikeSquared-Agency/diagnostician/internal/anthropic"
	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
	"github.com/MikeSquared-Agency/diagnostician/internal/dispatch"
	"github.com/MikeSquared-Agency/diagnostician/internal/validate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedAnalyzer fails signal extraction so the heuristics run, and
// answers inference with a fixed hypothesis.
type scriptedAnalyzer struct {
	inference string
}

func (s *scriptedAnalyzer) Complete(_ context.Context, system string, _ []anthropic.Message, _ int) (string, error) {
	switch {
	case strings.Contains(system, "which single constraint"):
		if s.inference == "" {
			return "", errors.New("no inference scripted")
		}
		return s.inference, nil
	default:
		return "", errors.New("analyzer unavailable")
	}
}

type fixedGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (g *fixedGenerator) Complete(context.Context, string, []anthropic.Message, int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.reply, g.err
}

func (g *fixedGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// blockingCompleter never answers before its context expires.
type blockingCompleter struct{}

func (blockingCompleter) Complete(ctx context.Context, _ string, _ []anthropic.Message, _ int) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type recordingSink struct {
	reviews []Review
}

func (r *recordingSink) Review(_ context.Context, rv Review) {
	r.reviews = append(r.reviews, rv)
}

const executionInference = `{"category":"execution","confidence":0.85,"evidence":["I still do every job myself","nothing gets written down"],"ready_for_diagnosis":true,"subdimension":"systems"}`

const plainReply = "What is taking up most of your week at the moment?"

func newEngine(analyzer, generator anthropic.Completer) *Engine {
	return New(analyzer, generator, DefaultPolicy(), discardLogger())
}

// run drives the engine through messages, feeding each reply back
// as history.
type run struct {
	t       *testing.T
	e       *Engine
	state   *conversation.State
	history []conversation.Turn
	results []TurnResult
	priors  []*conversation.State
}

func (r *run) say(msg string) TurnResult {
	r.t.Helper()
	r.priors = append(r.priors, r.state.Clone())
	res := r.e.ProcessTurn(context.Background(), msg, r.history, r.state)
	require.NotEmpty(r.t, res.Reply, "turn %d produced an empty reply", len(r.results)+1)
	require.NotNil(r.t, res.State)
	r.history = append(r.history,
		conversation.Turn{Role: conversation.RoleUser, Content: msg},
		conversation.Turn{Role: conversation.RoleAssistant, Content: res.Reply, Action: res.Decision.Action},
	)
	r.state = res.State
	r.results = append(r.results, res)
	return res
}

func newRun(t *testing.T, e *Engine) *run {
	return &run{t: t, e: e, state: conversation.NewState("session-1")}
}

func actions(results []TurnResult) []conversation.Action {
	out := make([]conversation.Action, len(results))
	for i, r := range results {
		out[i] = r.Decision.Action
	}
	return out
}

func TestProcessTurn_OverwhelmContainsWithoutGeneration(t *testing.T) {
	gen := &fixedGenerator{reply: plainReply}
	e := newEngine(&scriptedAnalyzer{}, gen)

	st := conversation.NewState("s")
	st.ConstraintHypothesis = conversation.ConstraintStrategy
	st.HypothesisConfidence = 0.7
	res := e.ProcessTurn(context.Background(), "I'm drowning, it's all too much, I'm exhausted and I can't cope.", nil, st)

	assert.Equal(t, conversation.ActionContain, res.Decision.Action)
	assert.Equal(t, "containment", res.Decision.Rule)
	assert.Equal(t, 0, gen.count(), "containment must not call the generator")
	assert.Equal(t, dispatch.ContainReply(conversation.SeveritySevere), res.Reply)
	assert.Equal(t, 0, res.State.Counters.TurnsSinceContainment)
	assert.Empty(t, res.Violations)
}

func TestProcessTurn_ResistanceHoldsHypothesisOpen(t *testing.T) {
	e := newEngine(&scriptedAnalyzer{}, &fixedGenerator{reply: plainReply})

	st := conversation.NewState("s")
	st.Phase = conversation.PhaseValidation
	st.Counters.TotalTurns = 5
	st.ConstraintHypothesis = conversation.ConstraintStrategy
	st.HypothesisConfidence = 0.65
	res := e.ProcessTurn(context.Background(), "No, that's not it at all. I don't think so.", nil, st)

	assert.Equal(t, conversation.ActionSurfaceContradiction, res.Decision.Action)
	assert.True(t, res.Decision.HasOverlay(conversation.OverlayHoldHypothesis))
	assert.False(t, res.State.HypothesisValidated)
	assert.Equal(t, conversation.ConstraintStrategy, res.State.ConstraintHypothesis)
	assert.Equal(t, 1, res.State.Variety.ReflectionCount)
}

func TestProcessTurn_AnalyzerTimeoutStillDecides(t *testing.T) {
	defer goleak.VerifyNone(t)

	policy := DefaultPolicy()
	policy.AnalyzerTimeout = 20 * time.Millisecond
	policy.GenerationTimeout = 20 * time.Millisecond
	e := New(blockingCompleter{}, blockingCompleter{}, policy, discardLogger())

	start := time.Now()
	res := e.ProcessTurn(context.Background(), "We sell bookkeeping to dentists and growth has stalled.", nil, conversation.NewState("s"))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second)
	assert.NotEmpty(t, res.Decision.Action)
	assert.NotEmpty(t, res.Decision.Rule)
	assert.Equal(t, conversation.SourceFallback, res.Signals.Source)
	assert.Equal(t, conversation.SourceFallback, res.Inference.Source)
	assert.True(t, res.Fallback)
	assert.Equal(t, dispatch.FallbackReply(res.Decision, res.State), res.Reply)
	assert.Equal(t, 1, res.State.Counters.TotalTurns)
}

func TestProcessTurn_TacticalRedirectOnlyAtThirdTurn(t *testing.T) {
	r := newRun(t, newEngine(&scriptedAnalyzer{}, &fixedGenerator{reply: plainReply}))
	for i := 0; i < 5; i++ {
		r.say("Which CRM should I use, hubspot or notion?")
	}

	var redirects []int
	for i, res := range r.results {
		if res.Decision.Action == conversation.ActionTacticalRedirect {
			redirects = append(redirects, i+1)
		}
	}
	assert.Equal(t, []int{3}, redirects, "actions: %v", actions(r.results))
	assert.Equal(t, 1, r.state.TacticalDrift.RedirectCount)
	assert.Equal(t, 5, r.state.TacticalDrift.ConsecutiveTacticalTurns)
}

func TestProcessTurn_FullArc(t *testing.T) {
	gen := &fixedGenerator{reply: plainReply}
	r := newRun(t, newEngine(&scriptedAnalyzer{inference: executionInference}, gen))

	r.say("We run a bookkeeping firm and sales are flat.")
	r.say("Exactly, that's it.")
	r.say("Yes, go ahead.")
	r.say("That's true.")
	r.say("Yes, that matters a lot to me.")
	r.say("Right, I can see that.")
	r.say("Yes, that is what has been missing.")
	r.say("Okay, I understand.")
	last := r.say("Sounds good, let's do it.")

	want := []conversation.Action{
		conversation.ActionValidateHypothesis,
		conversation.ActionRequestConsent,
		conversation.ActionDiagnose,
		conversation.ActionReflectImplication,
		conversation.ActionReflectStakes,
		conversation.ActionNameCapabilityGap,
		conversation.ActionAssertAndAlign,
		conversation.ActionFacilitate,
		conversation.ActionFarewell,
	}
	require.Equal(t, want, actions(r.results))

	assert.True(t, last.Complete)
	assert.Equal(t, conversation.PhaseComplete, last.State.Phase)
	assert.True(t, last.State.ClosingSequence.ClosingArcComplete)
	assert.True(t, last.Decision.HasOverlay(conversation.OverlayConfirmNextStep))
	assert.Equal(t, conversation.ClosingOrder, last.State.ClosingSequence.History)
	require.NotNil(t, last.State.ClosingSequence.Synthesis)
	assert.Equal(t, conversation.SourceFallback, last.State.ClosingSequence.Synthesis.Source)

	diag := r.results[2]
	assert.Equal(t, dispatch.DiagnoseReply(r.priors[3]), diag.Reply)

	// Anything after completion is a no-op farewell.
	calls := gen.count()
	after := r.e.ProcessTurn(context.Background(), "One more thing?", r.history, r.state)
	assert.True(t, after.Complete)
	assert.Equal(t, "session_complete", after.Decision.Rule)
	assert.Equal(t, calls, gen.count())
	assert.Equal(t, r.state.Counters.TotalTurns, after.State.Counters.TotalTurns)
}

func TestProcessTurn_FacilitateThenAgreementCompletes(t *testing.T) {
	e := newEngine(&scriptedAnalyzer{}, &fixedGenerator{reply: "Glad we did this. Take care."})

	st := conversation.NewState("s")
	st.Phase = conversation.PhaseClosing
	st.Counters.TotalTurns = 12
	st.ConstraintHypothesis = conversation.ConstraintExecution
	st.HypothesisValidated = true
	st.StressTestPassed = true
	st.DiagnosisDelivered = true
	st.ClosingSequence.Phase = conversation.ClosingFacilitate
	st.ClosingSequence.History = append([]conversation.ClosingPhase(nil), conversation.ClosingOrder...)

	res := e.ProcessTurn(context.Background(), "Yes, let's do it.", nil, st)

	assert.Equal(t, conversation.ActionFarewell, res.Decision.Action)
	assert.True(t, res.Complete)
	assert.True(t, res.State.ClosingSequence.ClosingArcComplete)
}

func TestProcessTurn_PropertiesAcrossArc(t *testing.T) {
	r := newRun(t, newEngine(&scriptedAnalyzer{inference: executionInference}, &fixedGenerator{reply: plainReply}))
	msgs := []string{
		"Honestly the CAC and churn numbers look fine, it's the funnel.",
		"Which CRM should I use, hubspot or notion?",
		"Which tool is best for invoices, zapier maybe?",
		"How do I set up the integration with notion?",
		"I'm not sure, maybe.",
		"Exactly, that's it.",
		"Hold on, not yet.",
		"Tell me more about the systems piece.",
		"Okay.",
		"Yes, go ahead.",
		"That's true.",
		"Yes.",
		"Yes.",
		"Yes.",
		"Sounds good.",
	}
	for _, m := range msgs {
		r.say(m)
		if r.state.Terminal() {
			break
		}
	}

	redirects := 0
	var closing []conversation.ClosingPhase
	for i, res := range r.results {
		prior, st := r.priors[i], res.State

		assert.GreaterOrEqual(t, st.ExpertiseLevel.Rank(), prior.ExpertiseLevel.Rank(), "expertise regressed on turn %d", i+1)
		assert.GreaterOrEqual(t, st.Phase.Rank(), prior.Phase.Rank(), "phase regressed on turn %d", i+1)

		switch a := res.Decision.Action; {
		case a == conversation.ActionDiagnose:
			assert.True(t, st.Consent.DiagnosisRequested && st.Consent.DiagnosisConfirmed, "diagnosis without consent on turn %d", i+1)
			assert.True(t, st.HypothesisValidated && st.StressTestPassed)
		case a == conversation.ActionTacticalRedirect:
			redirects++
			assert.GreaterOrEqual(t, st.TacticalDrift.ConsecutiveTacticalTurns, 3)
		default:
			if p, ok := a.ClosingPhase(); ok {
				closing = append(closing, p)
				if p != conversation.ClosingFacilitate {
					assert.Empty(t, validate.Check(conversation.ActionReflectImplication, res.Reply).Violations)
				}
			}
		}
		if prior.HypothesisValidated {
			assert.Equal(t, prior.ConstraintHypothesis, st.ConstraintHypothesis, "validated hypothesis replaced on turn %d", i+1)
		}
	}
	assert.LessOrEqual(t, redirects, 2)
	assert.Equal(t, conversation.ClosingOrder[:len(closing)], closing)
}

func TestProcessTurn_HardViolationFallsBackAndIsReviewed(t *testing.T) {
	gen := &fixedGenerator{reply: "Want to book a call with [Your Name]? What is stopping you?"}
	sink := &recordingSink{}
	e := newEngine(&scriptedAnalyzer{}, gen)
	e.SetReviewSink(sink)

	st := conversation.NewState("s")
	res := e.ProcessTurn(context.Background(), "We're a small agency and things feel stuck.", nil, st)

	assert.Equal(t, 2, gen.count(), "one generation plus one correction")
	assert.True(t, res.Regenerated)
	assert.True(t, res.Fallback)
	assert.Equal(t, dispatch.FallbackReply(res.Decision, res.State), res.Reply)
	assert.NotEmpty(t, res.Violations)
	require.Len(t, sink.reviews, 1)
	assert.Equal(t, res.Decision.Action, sink.reviews[0].Action)
	assert.NotContains(t, sink.reviews[0].Reply, "[Your Name]")
}

func TestProcessTurn_SoftViolationCorrectedOnce(t *testing.T) {
	gen := &fixedGenerator{reply: "You are stuck."}
	e := newEngine(&scriptedAnalyzer{}, gen)

	res := e.ProcessTurn(context.Background(), "We're a small agency and things feel stuck.", nil, conversation.NewState("s"))

	assert.Equal(t, 2, gen.count())
	assert.True(t, res.Regenerated)
	assert.NotEmpty(t, res.Violations)
	assert.Equal(t, "You are stuck.", res.Reply, "soft violations are delivered after the correction pass")
}

func TestProcessTurn_DoesNotMutatePrior(t *testing.T) {
	e := newEngine(&scriptedAnalyzer{inference: executionInference}, &fixedGenerator{reply: plainReply})
	prior := conversation.NewState("s")
	prior.Memory.DistinctTopics = []string{"pricing"}
	snapshot := prior.Clone()

	e.ProcessTurn(context.Background(), "Our pricing is all over the place and sales are slow.", nil, prior)

	if diff := cmp.Diff(snapshot, prior, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("prior state mutated (-want +got):\n%s", diff)
	}
}

func TestProcessTurn_Deterministic(t *testing.T) {
	e := newEngine(&scriptedAnalyzer{inference: executionInference}, &fixedGenerator{reply: plainReply})
	st := conversation.NewState("s")
	msg := "Our pricing is all over the place and sales are slow."

	first := e.ProcessTurn(context.Background(), msg, nil, st)
	second := e.ProcessTurn(context.Background(), msg, nil, st)

	opts := cmpopts.IgnoreFields(conversation.State{}, "UpdatedAt")
	if diff := cmp.Diff(first, second, opts); diff != "" {
		t.Errorf("same input produced different results (-first +second):\n%s", diff)
	}
}

func TestProcessTurn_ConsentDeclineWaitsBeforeAsking(t *testing.T) {
	e := newEngine(&scriptedAnalyzer{}, &fixedGenerator{reply: plainReply})

	st := conversation.NewState("s")
	st.Phase = conversation.PhaseValidation
	st.Counters.TotalTurns = 6
	st.ConstraintHypothesis = conversation.ConstraintStrategy
	st.HypothesisConfidence = 0.8
	st.HypothesisEvidence = []string{"a", "b"}
	st.HypothesisValidated = true
	st.StressTestPassed = true
	st.Consent.DiagnosisRequested = true
	st.Consent.RequestedTurn = 6

	res := e.ProcessTurn(context.Background(), "No, not yet.", nil, st)
	assert.Equal(t, conversation.ActionExplore, res.Decision.Action)
	assert.True(t, res.Decision.HasOverlay(conversation.OverlayConsentDeclined))
	assert.False(t, res.State.Consent.DiagnosisRequested)
	assert.Equal(t, 7, res.State.Consent.DeclinedTurn)

	st = res.State
	for i := 0; i < 3; i++ {
		res = e.ProcessTurn(context.Background(), "We mostly work with local shops.", nil, st)
		st = res.State
	}
	assert.Equal(t, conversation.ActionRequestConsent, res.Decision.Action, "asks again once the gap has passed")
	assert.True(t, st.Consent.DiagnosisRequested)
	assert.False(t, st.Consent.DiagnosisConfirmed)
}

func TestProcessTurn_AnalyzerNotReadyHoldsConsent(t *testing.T) {
	notReady := strings.Replace(executionInference, `"ready_for_diagnosis":true`, `"ready_for_diagnosis":false`, 1)
	require.NotEqual(t, executionInference, notReady)
	r := newRun(t, newEngine(&scriptedAnalyzer{inference: notReady}, &fixedGenerator{reply: plainReply}))

	r.say("We run a bookkeeping firm and sales are flat.")
	r.say("Exactly, that's it.")
	r.say("Yes, go ahead.")

	for i, a := range actions(r.results) {
		assert.NotEqual(t, conversation.ActionRequestConsent, a, "turn %d", i+1)
		assert.NotEqual(t, conversation.ActionDiagnose, a, "turn %d", i+1)
	}
	assert.True(t, r.state.HypothesisValidated)
	assert.True(t, r.state.StressTestPassed)
	assert.False(t, r.state.Consent.DiagnosisRequested)
	assert.False(t, r.state.DiagnosisDelivered)
}

func TestProcessTurn_HostilityDuringClosingSetsBoundary(t *testing.T) {
	gen := &fixedGenerator{reply: plainReply}
	e := newEngine(&scriptedAnalyzer{}, gen)

	st := conversation.NewState("s")
	st.Phase = conversation.PhaseClosing
	st.Counters.TotalTurns = 10
	st.ConstraintHypothesis = conversation.ConstraintExecution
	st.HypothesisConfidence = 0.85
	st.HypothesisValidated = true
	st.StressTestPassed = true
	st.DiagnosisDelivered = true
	st.Consent = conversation.Consent{DiagnosisRequested: true, DiagnosisConfirmed: true}
	st.ClosingSequence.Phase = conversation.ClosingReflectImplication
	st.ClosingSequence.History = []conversation.ClosingPhase{conversation.ClosingReflectImplication}
	st.Relationship.ProcessFrustration = conversation.FrustrationSignificant

	res := e.ProcessTurn(context.Background(), "This is useless, a waste of my time, shut up.", nil, st)

	assert.Equal(t, conversation.ActionSetBoundary, res.Decision.Action)
	assert.Equal(t, "boundary", res.Decision.Rule)
	assert.True(t, res.State.Relationship.BoundarySet)
	assert.Equal(t, conversation.ClosingReflectImplication, res.State.ClosingSequence.Phase, "closing does not advance on a boundary turn")
}

func TestSetPolicy_SwapsWhileTurnsRun(t *testing.T) {
	e := newEngine(&scriptedAnalyzer{}, &fixedGenerator{reply: plainReply})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.ProcessTurn(context.Background(), "Sales have been flat for a year.", nil, nil)
		}()
	}

	p := DefaultPolicy()
	p.Phase.ExplorationAfterTurns = 1
	p.Decision.ContainMarkers = 5
	e.SetPolicy(p)
	wg.Wait()

	assert.Equal(t, 1, e.Policy().Phase.ExplorationAfterTurns)
	assert.Equal(t, 5, e.Policy().Decision.ContainMarkers)

	res := e.ProcessTurn(context.Background(), "Hello.", nil, nil)
	assert.Equal(t, conversation.PhaseExploration, res.State.Phase)
}
