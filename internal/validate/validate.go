// Package validate checks a drafted reply against the structural contract of
// the action that produced it.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

type Severity string

const (
	Soft Severity = "soft"
	Hard Severity = "hard"
)

// Category is a class of language an action may forbid.
type Category string

const (
	CategoryCTA       Category = "call_to_action"
	CategoryBooking   Category = "booking"
	CategoryGoodbye   Category = "goodbye"
	CategoryDiagnosis Category = "diagnosis_language"
)

var categorySeverity = map[Category]Severity{
	CategoryCTA:       Soft,
	CategoryBooking:   Hard,
	CategoryGoodbye:   Hard,
	CategoryDiagnosis: Soft,
}

var categoryPatterns = map[Category]*regexp.Regexp{
	CategoryCTA:       regexp.MustCompile(`(?i)\b(sign up|enrol+|get started|click|tap (the|below)|join (the|our)|reserve your)\b`),
	CategoryBooking:   regexp.MustCompile(`(?i)\b(book (a|your|in|some) (call|session|time|slot|chat)|booking (link|page)|(strategy|discovery|intro) (call|session)|schedule (a|your) (call|session)|link below|(my|our) calendar|(coaching|our) program|work with (us|our team))\b`),
	CategoryGoodbye:   regexp.MustCompile(`(?i)\b(goodbye|bye|take care|best of luck|talk soon|all the best|wishing you|farewell)\b`),
	CategoryDiagnosis: regexp.MustCompile(`(?i)\b(your (core |real |root )?(constraint|problem) is|the diagnosis is|i('ve| have) diagnosed|diagnosis:)`),
}

var placeholderPattern = regexp.MustCompile(`\[[A-Z][^\]\n]{0,40}\]|\{\{[^}\n]{0,40}\}\}`)

// Requirement is the positive contract for one action.
type Requirement struct {
	MustEndWithQuestion bool
	MaxSentences        int
	Banned              []Category
}

var (
	preClosing = []Category{CategoryCTA, CategoryBooking, CategoryGoodbye, CategoryDiagnosis}
	inClosing  = []Category{CategoryCTA, CategoryBooking, CategoryGoodbye}
)

var requirements = map[conversation.Action]Requirement{
	conversation.ActionExplore:              {true, 4, preClosing},
	conversation.ActionDeepen:               {true, 4, preClosing},
	conversation.ActionPivotTheme:           {true, 4, preClosing},
	conversation.ActionValidateHypothesis:   {true, 4, preClosing},
	conversation.ActionReflectInsight:       {true, 4, preClosing},
	conversation.ActionSurfaceContradiction: {true, 4, preClosing},
	conversation.ActionTacticalRedirect:     {true, 4, preClosing},
	conversation.ActionRequestConsent:       {true, 3, preClosing},
	conversation.ActionSetBoundary:          {false, 4, preClosing},
	conversation.ActionRepairRupture:        {true, 4, preClosing},
	conversation.ActionContain:              {false, 6, preClosing},
	conversation.ActionDiagnose:             {true, 8, []Category{CategoryCTA, CategoryBooking, CategoryGoodbye}},
	conversation.ActionReflectImplication:   {true, 4, inClosing},
	conversation.ActionReflectStakes:        {true, 4, inClosing},
	conversation.ActionNameCapabilityGap:    {true, 5, inClosing},
	conversation.ActionAssertAndAlign:       {true, 5, inClosing},
	conversation.ActionFacilitate:           {true, 6, []Category{CategoryGoodbye}},
	conversation.ActionFarewell:             {false, 4, nil},
}

// RequirementFor returns the contract for a; unknown actions get the
// strictest pre-closing contract.
func RequirementFor(a conversation.Action) Requirement {
	if r, ok := requirements[a]; ok {
		return r
	}
	return Requirement{MustEndWithQuestion: true, MaxSentences: 4, Banned: preClosing}
}

type Violation struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

type Result struct {
	Violations []Violation `json:"violations"`
}

func (r Result) OK() bool { return len(r.Violations) == 0 }

// Hard reports whether any violation breaks a hard invariant.
func (r Result) Hard() bool {
	for _, v := range r.Violations {
		if v.Severity == Hard {
			return true
		}
	}
	return false
}

// Check validates reply against the contract for action. Placeholder
// leakage is checked for every action.
func Check(action conversation.Action, reply string) Result {
	req := RequirementFor(action)
	var res Result
	trimmed := strings.TrimSpace(reply)

	if m := placeholderPattern.FindString(trimmed); m != "" {
		res.Violations = append(res.Violations, Violation{"placeholder", Hard, fmt.Sprintf("leaked UI placeholder %s", m)})
	}
	if trimmed == "" {
		res.Violations = append(res.Violations, Violation{"empty", Hard, "reply is empty"})
		return res
	}
	if req.MustEndWithQuestion && !strings.HasSuffix(strings.TrimRight(trimmed, `"')*_ `), "?") {
		res.Violations = append(res.Violations, Violation{"must_end_with_question", Soft, "reply must end with a question"})
	}
	if n := Sentences(trimmed); req.MaxSentences > 0 && n > req.MaxSentences {
		res.Violations = append(res.Violations, Violation{"max_sentences", Soft, fmt.Sprintf("%d sentences, limit %d", n, req.MaxSentences)})
	}
	for _, c := range req.Banned {
		if m := categoryPatterns[c].FindString(trimmed); m != "" {
			res.Violations = append(res.Violations, Violation{string(c), categorySeverity[c], fmt.Sprintf("banned %s language %q", c, m)})
		}
	}
	return res
}

var sentenceEnd = regexp.MustCompile(`[.!?]+(\s|$)`)

// Sentences counts sentence-terminating punctuation runs, treating trailing
// text without punctuation as one more sentence.
func Sentences(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	locs := sentenceEnd.FindAllStringIndex(s, -1)
	n := len(locs)
	if n == 0 || locs[n-1][1] < len(s) {
		n++
	}
	return n
}

// CorrectionInstruction renders the follow-up instruction for the single
// regeneration pass.
func CorrectionInstruction(action conversation.Action, res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous reply for the %q move broke these rules:\n", action)
	for _, v := range res.Violations {
		fmt.Fprintf(&b, "- %s\n", v.Detail)
	}
	req := RequirementFor(action)
	b.WriteString("Rewrite the reply so that it")
	if req.MustEndWithQuestion {
		b.WriteString(" ends with exactly one question,")
	}
	fmt.Fprintf(&b, " uses at most %d sentences, and contains no bracketed placeholders. Reply with the rewritten text only.", req.MaxSentences)
	return b.String()
}

var spaces = regexp.MustCompile(`[ \t]{2,}`)

// StripPlaceholders removes leaked UI placeholders from reply.
func StripPlaceholders(reply string) string {
	out := placeholderPattern.ReplaceAllString(reply, "")
	out = spaces.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
