package dispatch

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

var diagnosisCore = map[conversation.Constraint]string{
	conversation.ConstraintStrategy:   "What's holding the business back is strategy: the plan itself is pointing you at the wrong target, so effort doesn't turn into results.",
	conversation.ConstraintExecution:  "What's holding the business back is execution: the plan is sound, but the way work actually gets done keeps it from happening.",
	conversation.ConstraintPsychology: "What's holding the business back isn't the plan or the workload: something in how you relate to the work is stopping you from doing what you already know to do.",
}

var diagnosisDetail = map[string]string{
	"positioning":   "Specifically, it's positioning, because the right buyers can't tell why you over anyone else.",
	"offer":         "Specifically, it's the offer, because what you sell isn't packaged around the result people actually pay for.",
	"pricing":       "Specifically, it's pricing, because the way you charge caps what the business can earn.",
	"market":        "Specifically, it's the market, because the people you're reaching aren't the ones with the problem and the budget.",
	"systems":       "Specifically, it's systems, because too much of the work depends on you remembering and pushing it.",
	"delegation":    "Specifically, it's delegation, because work that others could carry is still sitting with you.",
	"focus":         "Specifically, it's focus, because attention is spread across too many fronts for any of them to move.",
	"capacity":      "Specifically, it's capacity, because there are more commitments than hours to meet them.",
	"visibility":    "Specifically, it's visibility, because putting yourself in front of people feels riskier than staying busy.",
	"perfectionism": "Specifically, it's perfectionism, because nothing ships until it feels bulletproof.",
	"self_worth":    "Specifically, it's how you value your own work, which shows up in what you ask for and accept.",
	"avoidance":     "Specifically, it's avoidance, because the most important tasks keep getting pushed behind easier ones.",
}

// DiagnoseReply builds the diagnosis from templates. The same state always
// produces the same text.
func DiagnoseReply(st *conversation.State) string {
	core, ok := diagnosisCore[st.ConstraintHypothesis]
	if !ok {
		core = "What's holding the business back is clearer now than when we started."
	}
	parts := []string{"Thanks for letting me share this.", core}
	if d, ok := diagnosisDetail[st.Subdimension]; ok {
		parts = append(parts, d)
	}
	if len(st.HypothesisEvidence) > 0 {
		parts = append(parts, fmt.Sprintf("You put it yourself when you said \"%s\".", strings.TrimRight(st.HypothesisEvidence[0], ".!? ")))
	}
	parts = append(parts, "Does that match how it feels from the inside?")
	return strings.Join(parts, " ")
}

// ContainReply builds the containment message for the given severity.
func ContainReply(sev conversation.Severity) string {
	switch sev {
	case conversation.SeveritySevere:
		return "Let's pause the business questions for a moment. What you're describing is a lot to carry, and none of it needs solving right now. " +
			"Take a slow breath before you reply. If you ever feel unsafe, please reach out to someone you trust or a local crisis line. " +
			"We can pick this back up whenever you're ready, and there's no rush."
	case conversation.SeverityModerate:
		return "Let's slow down for a second. That sounds like a heavy load, and it makes sense that it feels like too much. " +
			"There's no need to untangle everything at once. When you're ready, we can look at just one piece of it."
	default:
		return "Let's take a breath here. It sounds like there's a lot going on at once. " +
			"We don't need to solve all of it today. When you're ready, we can focus on the one thing that matters most."
	}
}

var fallbackReplies = map[conversation.Action]string{
	conversation.ActionTacticalRedirect:     "That's worth sorting out, and we'll get there. Before we do, what do you think is really slowing the business down right now?",
	conversation.ActionRequestConsent:       "I think I'm starting to see what's in the way. Would it be okay if I shared what I'm noticing?",
	conversation.ActionReflectImplication:   "If that's the real constraint, it shapes how every week in the business plays out. Does that land for you?",
	conversation.ActionReflectStakes:        "And if nothing changes, the cost of that keeps adding up. How does that sit with you?",
	conversation.ActionNameCapabilityGap:    "What seems to be missing is a specific piece of structure, not effort or willpower. Does that match your experience?",
	conversation.ActionAssertAndAlign:       "The good news is that this is a solvable gap. Is closing it something you want to work on now?",
	conversation.ActionFacilitate:           "The natural next step is a short call with the team to map out how to close that gap at a pace that suits you. Would you like to set that up?",
	conversation.ActionFarewell:             "Thank you for being so open today. You've got a clear picture of what's in the way, and the next step is there whenever you want it.",
	conversation.ActionSetBoundary:          "I hear that this isn't working for you. I can help you pin down what's holding the business back, and that takes a few honest questions. If you're up for that, I'm happy to keep going.",
	conversation.ActionRepairRupture:        "That's fair, and I'll change how I'm approaching this. What's the one thing you most want to get out of this conversation?",
	conversation.ActionSurfaceContradiction: "I want to make sure I've got this right, because I'm hearing two things that pull in different directions. Which feels closer to the truth for you?",
	conversation.ActionReflectInsight:       "That sounds like an important realisation. What does seeing it that way change for you?",
	conversation.ActionValidateHypothesis:   "I'm noticing a pattern in what you've described. Does it feel like the same thing keeps getting in the way?",
	conversation.ActionPivotTheme:           "Let's look at this from a different angle. What would success look like a year from now?",
	conversation.ActionExplore:              "Tell me more about that. What does a normal week in the business look like right now?",
	conversation.ActionDeepen:               "Can you give me a specific example of when that happened recently?",
}

// FallbackReply is returned when generation fails. It is written to satisfy
// the action's validation contract.
func FallbackReply(d conversation.Decision, st *conversation.State) string {
	switch d.Action {
	case conversation.ActionDiagnose:
		return DiagnoseReply(st)
	case conversation.ActionContain:
		return ContainReply(conversation.SeverityMild)
	}
	if r, ok := fallbackReplies[d.Action]; ok {
		return r
	}
	return fallbackReplies[conversation.ActionExplore]
}
