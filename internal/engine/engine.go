// Package engine runs one conversational turn end to end: analysis,
// tracking, decision, dispatch and validation.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/diagnostician/internal/anthropic"
	"github.com/MikeSquared-Agency/diagnostician/internal/closing"
	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
	"github.com/MikeSquared-Agency/diagnostician/internal/decision"
	"github.com/MikeSquared-Agency/diagnostician/internal/dispatch"
	"github.com/MikeSquared-Agency/diagnostician/internal/drift"
	"github.com/MikeSquared-Agency/diagnostician/internal/inference"
	"github.com/MikeSquared-Agency/diagnostician/internal/memory"
	"github.com/MikeSquared-Agency/diagnostician/internal/signals"
	"github.com/MikeSquared-Agency/diagnostician/internal/trust"
	"github.com/MikeSquared-Agency/diagnostician/internal/validate"
	"github.com/MikeSquared-Agency/diagnostician/internal/variety"
)

const sessionClosedReply = "This conversation has wrapped up. Thank you again for your time."

// Review is a hard validation failure that survived the correction pass.
type Review struct {
	SessionID  string               `json:"session_id"`
	Turn       int                  `json:"turn"`
	Action     conversation.Action  `json:"action"`
	Violations []validate.Violation `json:"violations"`
	Reply      string               `json:"reply"`
}

// ReviewSink receives hard violations for offline review.
type ReviewSink interface {
	Review(ctx context.Context, r Review)
}

// TurnResult is what one turn hands back to the caller.
type TurnResult struct {
	Reply    string                `json:"reply"`
	State    *conversation.State   `json:"state"`
	Decision conversation.Decision `json:"decision"`
	Complete bool                  `json:"complete"`

	Signals     conversation.Signals   `json:"signals"`
	Inference   conversation.Inference `json:"inference"`
	Violations  []validate.Violation   `json:"violations,omitempty"`
	Regenerated bool                   `json:"regenerated"`
	Fallback    bool                   `json:"fallback"`
}

// Engine holds no per-session state; every turn works on its own copy of
// the state it is given.
type Engine struct {
	signals    *signals.Extractor
	inference  *inference.Inferrer
	dispatcher *dispatch.Dispatcher
	closing    *closing.Controller
	review     ReviewSink
	policy     atomic.Pointer[Policy]
	logger     *slog.Logger
}

// New builds an engine. analyzer serves signal extraction, inference and
// synthesis; generator serves reply generation. Either may be nil, in which
// case every call resolves to its fallback.
func New(analyzer, generator anthropic.Completer, policy Policy, logger *slog.Logger) *Engine {
	e := &Engine{
		signals:    signals.New(analyzer, logger),
		inference:  inference.New(analyzer, logger),
		dispatcher: dispatch.New(generator, logger),
		closing:    closing.New(analyzer, logger),
		logger:     logger,
	}
	e.SetPolicy(policy)
	return e
}

// SetPolicy swaps the thresholds used by subsequent turns. A turn already
// in progress keeps the policy it started with.
func (e *Engine) SetPolicy(p Policy) {
	e.policy.Store(&p)
}

// Policy returns the thresholds currently in force.
func (e *Engine) Policy() Policy {
	return *e.policy.Load()
}

// SetReviewSink registers where hard violations are sent.
func (e *Engine) SetReviewSink(s ReviewSink) {
	e.review = s
}

// ProcessTurn is the sole entry point. It never fails: upstream errors fall
// back to heuristics, defaults and template replies. prior is not modified.
func (e *Engine) ProcessTurn(ctx context.Context, message string, history []conversation.Turn, prior *conversation.State) TurnResult {
	var st *conversation.State
	if prior == nil {
		st = conversation.NewState("")
	} else {
		st = prior.Clone()
		st.Backfill()
	}

	if st.Terminal() {
		return TurnResult{
			Reply: sessionClosedReply,
			State: st,
			Decision: conversation.Decision{
				Action:     conversation.ActionFarewell,
				Confidence: 1,
				Reasoning:  "session already complete",
				Rule:       "session_complete",
			},
			Complete: true,
		}
	}

	pol := e.policy.Load()

	c := &st.Counters
	c.TotalTurns++
	c.TurnsInPhase++
	c.TurnsSinceValidation++
	c.TurnsSinceContainment++
	turn := c.TotalTurns

	sig, inf := e.analyze(ctx, pol, message, history, st)

	st.Readiness = conversation.Readiness{Clarity: sig.Clarity, Confidence: sig.Confidence, Capacity: sig.Capacity}
	st.UpgradeExpertise(sig.Expertise)

	trust.Observe(&st.Relationship, sig, st.LastAction, pol.Relationship)
	drift.Observe(&st.TacticalDrift, sig.Tactical)
	mem := memory.Observe(&st.Memory, turn, sig.Topics, memory.ThemeOf(lastAssistant(history)), pol.Memory)
	closing.ObserveUserTurn(&st.ClosingSequence, sig)

	applyConsentAnswer(st, sig, turn)
	updateHypothesis(st, sig, inf, pol.Phase)
	advancePhase(st, pol.Phase)

	trackers := decision.Trackers{
		RedirectEligible: drift.Eligible(st.TacticalDrift, turn, pol.Drift),
		Circular:         mem.Circular,
		SuggestedTheme:   mem.SuggestedTheme,
		CanReflect:       variety.CanReflect(st.Variety, turn, pol.Variety),
		GroundCovered:    memory.Score(&st.Memory, st.ConstraintHypothesis != conversation.ConstraintNone, pol.Memory),
	}
	d := decision.Decide(decision.Input{State: st, Signals: sig, Inference: inf, Trackers: trackers}, pol.Decision)

	e.commit(ctx, pol, st, d, history, turn)

	req := dispatch.Request{
		Decision: d,
		State:    st,
		History:  history,
		Message:  message,
		Severity: containSeverity(sig, pol.Decision.ContainMarkers),
		Variety:  variety.Guidance(st.Variety, pol.Variety),
	}
	res := TurnResult{Decision: d, Signals: sig, Inference: inf}
	res.Reply, res.Violations, res.Regenerated, res.Fallback = e.respond(ctx, pol, req, turn)

	variety.ObserveReply(&st.Variety, res.Reply)
	st.UpdatedAt = time.Now().UTC()

	res.State = st
	res.Complete = st.Terminal()

	e.logger.Info("turn processed",
		"session_id", st.SessionID,
		"turn", turn,
		"action", d.Action,
		"rule", d.Rule,
		"phase", st.Phase,
		"complete", res.Complete,
		"signals_source", sig.Source,
		"inference_source", inf.Source,
	)
	return res
}

// analyze runs signal extraction and inference concurrently. Both resolve to
// a complete record, so the decision never sees partial input.
func (e *Engine) analyze(ctx context.Context, pol *Policy, message string, history []conversation.Turn, st *conversation.State) (conversation.Signals, conversation.Inference) {
	var (
		sig conversation.Signals
		inf conversation.Inference
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		actx, cancel := context.WithTimeout(gctx, pol.AnalyzerTimeout)
		defer cancel()
		sig = e.signals.Extract(actx, message, history)
		return nil
	})
	g.Go(func() error {
		actx, cancel := context.WithTimeout(gctx, pol.AnalyzerTimeout)
		defer cancel()
		inf = e.inference.Infer(actx, message, history, st)
		return nil
	})
	_ = g.Wait()
	return sig, inf
}

func applyConsentAnswer(st *conversation.State, sig conversation.Signals, turn int) {
	c := &st.Consent
	if !c.DiagnosisRequested || c.DiagnosisConfirmed {
		return
	}
	switch {
	case sig.ConsentDeclined:
		c.DiagnosisRequested = false
		c.DeclinedTurn = turn
	case sig.ConsentGiven || sig.Agreement:
		c.DiagnosisConfirmed = true
	}
}

// updateHypothesis folds the inference into the state. A hypothesis can be
// replaced only while unvalidated; once validated it is locked.
func updateHypothesis(st *conversation.State, sig conversation.Signals, inf conversation.Inference, p PhaseConfig) {
	if inf.Category != conversation.ConstraintNone {
		switch {
		case inf.Category != st.ConstraintHypothesis && !st.HypothesisValidated:
			st.ConstraintHypothesis = inf.Category
			st.HypothesisConfidence = inf.Confidence
			st.HypothesisEvidence = capEvidence(append([]string(nil), inf.Evidence...), p.MaxEvidence)
			st.Subdimension = inf.Subdimension
		case inf.Category == st.ConstraintHypothesis:
			st.HypothesisConfidence = inf.Confidence
			st.HypothesisEvidence = capEvidence(mergeEvidence(st.HypothesisEvidence, inf.Evidence), p.MaxEvidence)
			if inf.Subdimension != "" && (!st.HypothesisValidated || st.Subdimension == "") {
				st.Subdimension = inf.Subdimension
			}
		}
	}

	if !st.HypothesisValidated &&
		st.ConstraintHypothesis != conversation.ConstraintNone &&
		inf.Category == st.ConstraintHypothesis &&
		inf.Confidence >= p.LockConfidence &&
		sig.ConfirmsReflection && !sig.Resistance && !sig.Contradiction {
		st.HypothesisValidated = true
		st.Counters.TurnsSinceValidation = 0
	}

	if st.HypothesisValidated && !st.StressTestPassed &&
		st.HypothesisConfidence >= p.LockConfidence &&
		len(st.HypothesisEvidence) >= p.StressEvidence &&
		!sig.Contradiction {
		st.StressTestPassed = true
	}
}

func advancePhase(st *conversation.State, p PhaseConfig) {
	if st.Phase == conversation.PhaseContext &&
		(st.Counters.TotalTurns >= p.ExplorationAfterTurns || len(st.Memory.DistinctTopics) > 0) {
		st.AdvancePhase(conversation.PhaseExploration)
	}
	if st.Phase == conversation.PhaseExploration &&
		st.ConstraintHypothesis != conversation.ConstraintNone &&
		st.HypothesisConfidence >= p.ValidationConfidence {
		st.AdvancePhase(conversation.PhaseValidation)
	}
	if st.Phase == conversation.PhaseDiagnosis && st.DiagnosisDelivered {
		st.AdvancePhase(conversation.PhaseClosing)
	}
}

// commit applies the chosen action's effects to the state before the reply
// is produced.
func (e *Engine) commit(ctx context.Context, pol *Policy, st *conversation.State, d conversation.Decision, history []conversation.Turn, turn int) {
	switch d.Action {
	case conversation.ActionContain:
		st.Counters.TurnsSinceContainment = 0
	case conversation.ActionTacticalRedirect:
		drift.RecordRedirect(&st.TacticalDrift, turn)
	case conversation.ActionRequestConsent:
		st.Consent.DiagnosisRequested = true
		st.Consent.RequestedTurn = turn
	case conversation.ActionDiagnose:
		st.DiagnosisDelivered = true
		st.AdvancePhase(conversation.PhaseDiagnosis)
	case conversation.ActionSetBoundary:
		trust.ApplyBoundary(&st.Relationship)
	case conversation.ActionRepairRupture:
		trust.ApplyRepair(&st.Relationship, turn, pol.Relationship)
	case conversation.ActionFarewell:
		if err := closing.Complete(&st.ClosingSequence); err != nil {
			e.logger.Error("closing arc completion refused", "session_id", st.SessionID, "error", err)
		}
		st.AdvancePhase(conversation.PhaseComplete)
	}

	if _, ok := d.Action.ClosingPhase(); ok {
		st.AdvancePhase(conversation.PhaseClosing)
		if st.ClosingSequence.Synthesis == nil {
			sctx, cancel := context.WithTimeout(ctx, pol.AnalyzerTimeout)
			e.closing.EnsureSynthesis(sctx, st, history)
			cancel()
		}
		if err := closing.Advance(&st.ClosingSequence, d.Action); err != nil {
			e.logger.Error("closing phase refused", "session_id", st.SessionID, "error", err)
		}
	}
	if d.Action.IsReflection() {
		variety.RecordReflection(&st.Variety, turn)
	}
	st.LastAction = d.Action
}

// respond dispatches, validates and, at most once, regenerates. A reply is
// always returned.
func (e *Engine) respond(ctx context.Context, pol *Policy, req dispatch.Request, turn int) (reply string, violations []validate.Violation, regenerated, fallback bool) {
	action := req.Decision.Action
	sid := req.State.SessionID

	gctx, cancel := context.WithTimeout(ctx, pol.GenerationTimeout)
	defer cancel()

	reply, err := e.dispatcher.Dispatch(gctx, req)
	if err != nil {
		e.logger.Warn("generation failed", "session_id", sid, "action", action, "error", err, "fallback", true)
		reply, fallback = dispatch.FallbackReply(req.Decision, req.State), true
	}

	res := validate.Check(action, reply)
	if !res.OK() && !fallback && !action.Deterministic() {
		correction := validate.CorrectionInstruction(action, res)
		fixed, err := e.dispatcher.Regenerate(gctx, req, reply, correction)
		if err != nil {
			e.logger.Warn("regeneration failed", "session_id", sid, "action", action, "error", err)
		} else {
			reply, regenerated = fixed, true
			res = validate.Check(action, reply)
		}
	}

	if res.OK() {
		return reply, nil, regenerated, fallback
	}

	violations = res.Violations
	reply = validate.StripPlaceholders(reply)
	if res.Hard() {
		e.logger.Warn("reply violates hard invariant",
			"session_id", sid,
			"turn", turn,
			"action", action,
			"violations", violations,
		)
		if e.review != nil {
			e.review.Review(ctx, Review{SessionID: sid, Turn: turn, Action: action, Violations: violations, Reply: reply})
		}
		if validate.Check(action, reply).Hard() {
			reply, fallback = dispatch.FallbackReply(req.Decision, req.State), true
		}
	}
	return reply, violations, regenerated, fallback
}

func containSeverity(sig conversation.Signals, markers int) conversation.Severity {
	if sig.OverwhelmMarkers >= markers {
		return conversation.SeveritySevere
	}
	return sig.OverwhelmSeverity
}

func lastAssistant(history []conversation.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == conversation.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}

func mergeEvidence(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, v := range b {
		dup := false
		for _, x := range out {
			if x == v {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

// capEvidence keeps the most recent n items.
func capEvidence(ev []string, n int) []string {
	if n > 0 && len(ev) > n {
		return ev[len(ev)-n:]
	}
	if ev == nil {
		return []string{}
	}
	return ev
}
