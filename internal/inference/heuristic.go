package inference

import (
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

const (
	heuristicBase     = 0.4
	heuristicStep     = 0.1
	heuristicFreshCap = 0.6
	// heuristicCap stays below the lock threshold so keyword matches alone
	// never validate a hypothesis.
	heuristicCap      = 0.7
	heuristicEvidence = 160
)

type cue struct {
	category     conversation.Constraint
	subdimension string
	pattern      *regexp.Regexp
}

func c(cat conversation.Constraint, sub, expr string) cue {
	return cue{category: cat, subdimension: sub, pattern: regexp.MustCompile(expr)}
}

// cues are matched against the lowercased message in table order. Ties
// between categories go to the one listed first.
var cues = []cue{
	c(conversation.ConstraintStrategy, "pricing", `\bpric(e|es|ed|ing)\b|\bcharg(e|es|ing)\b|\brates?\b|\bdiscount|\bmargins?\b|undercharg|\bhourly\b`),
	c(conversation.ConstraintStrategy, "offer", `\boffer(s|ing)?\b|\bpackages?\b|\bproduct line\b|\bservices? we sell\b`),
	c(conversation.ConstraintStrategy, "positioning", `\bposition(ing|ed)?\b|stand out|differentiat|\bniche\b|commodit`),
	c(conversation.ConstraintStrategy, "market", `\bmarket\b|\bdemand\b|\baudience\b|target customers|sales (are|have been) (flat|down|slow)|growth has stalled`),

	c(conversation.ConstraintExecution, "systems", `\bsystems?\b|\bprocess(es)?\b|\bworkflows?\b|\bcrm\b|spreadsheets?|follow-?ups?|falls? through the cracks`),
	c(conversation.ConstraintExecution, "delegation", `delegat|\bhir(e|ing)\b|do (everything|every job|it all) myself|nobody else can`),
	c(conversation.ConstraintExecution, "focus", `\bfocus\b|distract|prioriti|too many projects|all over the place`),
	c(conversation.ConstraintExecution, "capacity", `no time|not enough hours|\bcapacity\b|stretched thin|\bbandwidth\b|maxed out`),

	c(conversation.ConstraintPsychology, "visibility", `\bvisib|put(ting)? myself out there|self-promot|posting online|hate selling`),
	c(conversation.ConstraintPsychology, "perfectionism", `perfect|not (good|ready) enough|\bpolish|one more tweak`),
	c(conversation.ConstraintPsychology, "self_worth", `\bworth it\b|\bdeserve|imposter|impostor|\bfraud\b|who am i to`),
	c(conversation.ConstraintPsychology, "avoidance", `\bavoid|putting (it )?off|procrastinat|keep delaying`),
}

// heuristic reads a constraint from keywords when the analyzer is
// unavailable. Repeated evidence for the standing hypothesis raises its
// confidence up to heuristicCap. With no cues the standing hypothesis is
// carried forward unchanged.
func heuristic(message string, st *conversation.State) conversation.Inference {
	inf := conversation.DefaultInference()
	text := strings.ToLower(message)

	hits := map[conversation.Constraint]int{}
	first := map[conversation.Constraint]string{}
	var order []conversation.Constraint
	for _, cu := range cues {
		if !cu.pattern.MatchString(text) {
			continue
		}
		if hits[cu.category] == 0 {
			order = append(order, cu.category)
			first[cu.category] = cu.subdimension
		}
		hits[cu.category]++
	}

	if len(order) == 0 {
		if st.ConstraintHypothesis == conversation.ConstraintNone {
			return inf
		}
		inf.Category = st.ConstraintHypothesis
		inf.Confidence = st.HypothesisConfidence
		inf.Subdimension = validSubdimension(st.ConstraintHypothesis, st.Subdimension)
		return inf
	}

	best := order[0]
	for _, cat := range order[1:] {
		if hits[cat] > hits[best] {
			best = cat
		}
	}

	conf := heuristicBase + heuristicStep*float64(hits[best]-1)
	if conf > heuristicFreshCap {
		conf = heuristicFreshCap
	}
	if best == st.ConstraintHypothesis {
		conf = max(conf, min(st.HypothesisConfidence+heuristicStep, heuristicCap), st.HypothesisConfidence)
	}

	inf.Category = best
	inf.Confidence = conf
	inf.Subdimension = first[best]
	inf.Evidence = []string{truncateRunes(strings.TrimSpace(message), heuristicEvidence)}
	return inf
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
