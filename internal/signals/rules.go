package signals

import (
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

// label names a fallback classification. Rules are evaluated in table order
// and every match is counted, so a message can carry several labels.
type label string

const (
	labelOverwhelm        label = "overwhelm"
	labelCrisis           label = "crisis"
	labelAnxiety          label = "anxiety"
	labelShame            label = "shame"
	labelFrustration      label = "frustration"
	labelHope             label = "hope"
	labelHostile          label = "hostile"
	labelResistance       label = "resistance"
	labelContradiction    label = "contradiction"
	labelProcessComplaint label = "process_complaint"
	labelDeflection       label = "deflection"
	labelConfirm          label = "confirm"
	labelInsight          label = "insight"
	labelOwnership        label = "ownership"
	labelCommitment       label = "commitment"
	labelAgreement        label = "agreement"
	labelHesitation       label = "hesitation"
	labelConsentGiven     label = "consent_given"
	labelConsentDeclined  label = "consent_declined"
	labelHedge            label = "hedge"
	labelAssertive        label = "assertive"
	labelCapacity         label = "capacity"
	labelScheduling       label = "scheduling"
	labelNaming           label = "naming"
	labelTechnical        label = "technical"
)

type rule struct {
	label   label
	pattern *regexp.Regexp
}

func r(l label, expr string) rule {
	return rule{label: l, pattern: regexp.MustCompile(expr)}
}

// rules is the ordered fallback table. Patterns run against lowercased text
// with typographic apostrophes normalised.
var rules = []rule{
	r(labelOverwhelm, `\boverwhelm(ed|ing)?\b`),
	r(labelOverwhelm, `\bdrowning\b`),
	r(labelOverwhelm, `\b(can't|cant|cannot) (cope|keep up|handle (it|this|any ?more))\b`),
	r(labelOverwhelm, `\btoo much\b`),
	r(labelOverwhelm, `\bburn(ed|t)?[ -]?out\b`),
	r(labelOverwhelm, `\bexhausted\b`),
	r(labelOverwhelm, `\bfalling apart\b`),
	r(labelOverwhelm, `\b(no|zero) (energy|time) left\b`),
	r(labelCrisis, `\b(panic attack|can't breathe|breaking down|want to give up on everything)\b`),

	r(labelAnxiety, `\b(anxious|anxiety|scared|afraid|terrified|worried|nervous)\b`),
	r(labelShame, `\b(ashamed|embarrass(ed|ing)|failure|like a fraud|imposter)\b`),
	r(labelFrustration, `\b(frustrat(ed|ing)|fed up|sick of|annoyed)\b`),
	r(labelHope, `\b(hopeful|excited|optimistic|looking forward)\b`),

	r(labelHostile, `\b(this is (useless|pointless|stupid|a waste)|waste of (my )?time|shut up|you're useless|fuck\w*|bullshit)\b`),
	r(labelResistance, `\b(that's not (it|right|true|what i)|i don't think so|no,? (that's|it's) not|i disagree|you're wrong|not really|that doesn't fit|i don't agree)\b`),
	r(labelContradiction, `\b(but actually|actually,? (no|it's)|on the other hand|wait,? (no|actually))\b`),
	r(labelProcessComplaint, `\b(why (are|do) you (keep )?ask(ing)?|so many questions|get to the point|just tell me|you keep asking|enough questions|what's the point of this)\b`),
	r(labelDeflection, `\b(whatever|i don't know|idk|doesn't matter|who knows|no idea)\b`),

	r(labelConfirm, `\b(exactly|that's (right|it|true|spot on)|spot on|you nailed it|yes,? that's|totally)\b`),
	r(labelInsight, `\b(i never (thought|realized|saw)|it just clicked|i see now|oh wow|aha|now i see|that makes (so much )?sense)\b`),
	r(labelOwnership, `\b(i realize|it's on me|my (fault|responsibility)|i've been avoiding|i need to own|i'm the one|i keep (choosing|doing))\b`),
	r(labelCommitment, `\b(i will|i'll (do|start|commit)|i'm going to|i commit|i'm ready to|starting (today|tomorrow|monday))\b`),

	r(labelAgreement, `\b(let's do (it|this)|sounds (good|great|right)|i'm in|sign me up|absolutely|count me in|yes please)\b`),
	r(labelHesitation, `\b(not sure|maybe|i need to think|let me think|hesitant|i don't know if|not ready)\b`),
	r(labelConsentGiven, `^(yes|yeah|yep|sure|ok|okay|please)\b|\b(go ahead|tell me what you see|let's hear it|i'm ready to hear)\b`),
	r(labelConsentDeclined, `^no\b|\b(not yet|no thanks|hold on|i'm not ready)\b`),

	r(labelHedge, `\b(maybe|i guess|not sure|i think|kind of|sort of|probably)\b`),
	r(labelAssertive, `\b(i know|definitely|clearly|i'm certain|without a doubt|for sure)\b`),
	r(labelCapacity, `\b(i have (the )?time|i'm ready|bandwidth|capacity to|i can commit)\b`),

	r(labelScheduling, `\b(schedule|calendar|what time|which day|book(ing)? (a )?(slot|time))\b`),
	r(labelNaming, `\b(what should i (call|name)|name (for|of) (my|the)|domain name|logo|brand name)\b`),
	r(labelTechnical, `\b(which (tool|app|software|crm|platform)|zapier|notion|hubspot|how do i set up|integrat(e|ion)|plugin|template)\b`),
}

// emotionalLabels are surfaced as EmotionalMarkers, in this order.
var emotionalLabels = []label{labelOverwhelm, labelAnxiety, labelShame, labelFrustration, labelHope}

type topicRule struct {
	topic   string
	pattern *regexp.Regexp
}

var topicRules = []topicRule{
	{"pricing", regexp.MustCompile(`\b(pric(e|es|ing)|rates?|charge|fees?)\b`)},
	{"marketing", regexp.MustCompile(`\b(marketing|content|social media|audience|visibility|posts?)\b`)},
	{"sales", regexp.MustCompile(`\b(sales|selling|close|closing deals|pipeline|leads?)\b`)},
	{"offer", regexp.MustCompile(`\b(offer|package|program|product|service)\b`)},
	{"clients", regexp.MustCompile(`\b(clients?|customers?|niche|ideal client)\b`)},
	{"hiring", regexp.MustCompile(`\b(hir(e|ing)|contractor|assistant|va)\b`)},
	{"team", regexp.MustCompile(`\b(team|staff|employees?|delegat(e|ion))\b`)},
	{"time", regexp.MustCompile(`\b(time|hours|busy|calendar)\b`)},
	{"money", regexp.MustCompile(`\b(money|revenue|income|cash|profit)\b`)},
	{"systems", regexp.MustCompile(`\b(systems?|process(es)?|workflow|routine)\b`)},
	{"focus", regexp.MustCompile(`\b(focus|priorit(y|ies|ize)|distract(ed|ion))\b`)},
	{"confidence", regexp.MustCompile(`\b(confiden(t|ce)|self[- ]doubt|imposter)\b`)},
	{"fear", regexp.MustCompile(`\b(fear|afraid|scared|risk)\b`)},
	{"burnout", regexp.MustCompile(`\b(burn(ed|t)?[ -]?out|exhausted|tired)\b`)},
	{"growth", regexp.MustCompile(`\b(grow(th)?|scale|scaling|expand)\b`)},
}

var jargon = regexp.MustCompile(`\b(cac|ltv|churn|funnel|unit economics|positioning|icp|conversion rate|retention|arpu|mrr|arr|cohort|margin)\b`)

var apostrophes = strings.NewReplacer("’", "'", "‘", "'")

func normalise(message string) string {
	return apostrophes.Replace(strings.ToLower(strings.TrimSpace(message)))
}

// matchCounts applies the rule table and returns the number of matches per label.
func matchCounts(lower string) map[label]int {
	counts := make(map[label]int)
	for _, rl := range rules {
		if n := len(rl.pattern.FindAllStringIndex(lower, -1)); n > 0 {
			counts[rl.label] += n
		}
	}
	return counts
}

// Topics returns the topic labels mentioned in message, in table order.
func Topics(message string) []string {
	lower := normalise(message)
	topics := []string{}
	for _, tr := range topicRules {
		if tr.pattern.MatchString(lower) {
			topics = append(topics, tr.topic)
		}
	}
	return topics
}

// Heuristic extracts signals from message with the rule table alone. It never
// fails and always returns a complete record.
func Heuristic(message string) conversation.Signals {
	lower := normalise(message)
	counts := matchCounts(lower)
	words := len(strings.Fields(lower))

	overwhelm := counts[labelOverwhelm]
	sig := conversation.Signals{
		EmotionalMarkers:   []string{},
		OverwhelmMarkers:   overwhelm,
		OverwhelmSeverity:  severity(overwhelm, counts[labelCrisis] > 0),
		Contradiction:      counts[labelContradiction] > 0,
		Resistance:         counts[labelResistance] > 0,
		HostilePushback:    counts[labelHostile] > 0,
		Deflection:         counts[labelDeflection] > 0,
		ProcessComplaint:   counts[labelProcessComplaint] > 0,
		CommitmentLanguage: counts[labelCommitment] > 0,
		OwnershipLanguage:  counts[labelOwnership] > 0,
		InsightExpressed:   counts[labelInsight] > 0,
		ConfirmsReflection: counts[labelConfirm] > 0 && counts[labelResistance] == 0,
		Agreement:          (counts[labelAgreement] > 0 || counts[labelConsentGiven] > 0) && counts[labelHesitation] == 0,
		Hesitation:         counts[labelHesitation] > 0,
		ConsentGiven:       counts[labelConsentGiven] > 0 && counts[labelConsentDeclined] == 0,
		ConsentDeclined:    counts[labelConsentDeclined] > 0,
		Expertise:          expertise(lower),
		Topics:             Topics(message),
		WordCount:          words,
		Source:             conversation.SourceFallback,
	}
	if counts[labelCrisis] > 0 {
		sig.OverwhelmMarkers += counts[labelCrisis]
	}
	for _, l := range emotionalLabels {
		if counts[l] > 0 {
			sig.EmotionalMarkers = append(sig.EmotionalMarkers, string(l))
		}
	}

	switch {
	case counts[labelScheduling] > 0:
		sig.Tactical, sig.TacticalKind = true, "scheduling"
	case counts[labelNaming] > 0:
		sig.Tactical, sig.TacticalKind = true, "naming"
	case counts[labelTechnical] > 0:
		sig.Tactical, sig.TacticalKind = true, "technical"
	}

	sig.Clarity = clarity(words, counts)
	sig.Confidence = confidence(counts)
	sig.Capacity = capacity(counts)
	return sig
}

func severity(overwhelm int, crisis bool) conversation.Severity {
	switch {
	case crisis || overwhelm >= 3:
		return conversation.SeveritySevere
	case overwhelm == 2:
		return conversation.SeverityModerate
	case overwhelm == 1:
		return conversation.SeverityMild
	default:
		return conversation.SeverityNone
	}
}

func clarity(words int, counts map[label]int) conversation.Level {
	hedges := counts[labelHedge] + counts[labelDeflection]
	switch {
	case words < 6 || hedges >= 2:
		return conversation.LevelLow
	case words >= 25 && hedges == 0:
		return conversation.LevelHigh
	default:
		return conversation.LevelMedium
	}
}

func confidence(counts map[label]int) conversation.Level {
	switch {
	case counts[labelHedge] >= 2 || counts[labelDeflection] > 0:
		return conversation.LevelLow
	case counts[labelAssertive] > 0 || counts[labelCommitment] > 0:
		return conversation.LevelHigh
	default:
		return conversation.LevelMedium
	}
}

func capacity(counts map[label]int) conversation.Level {
	switch {
	case counts[labelOverwhelm] > 0 || counts[labelCrisis] > 0:
		return conversation.LevelLow
	case counts[labelCapacity] > 0:
		return conversation.LevelHigh
	default:
		return conversation.LevelMedium
	}
}

func expertise(lower string) conversation.ExpertiseLevel {
	n := len(jargon.FindAllStringIndex(lower, -1))
	switch {
	case n >= 3:
		return conversation.ExpertiseExpert
	case n >= 1:
		return conversation.ExpertiseDeveloping
	default:
		return conversation.ExpertiseNovice
	}
}
