// Package memory keeps a short rolling window of what the conversation has
// touched and flags when it starts circling back on itself.
package memory

import (
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

// MoveTowardDiagnosis is suggested once every priority theme is covered.
const MoveTowardDiagnosis = "move_toward_diagnosis"

type Config struct {
	Window              int     `yaml:"window"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	ThemeRecurrence     int     `yaml:"theme_recurrence"`
	DistinctTopicTarget int     `yaml:"distinct_topic_target"`
	TopicWeight         float64 `yaml:"topic_weight"`
	HypothesisWeight    float64 `yaml:"hypothesis_weight"`
	CoverageWeight      float64 `yaml:"coverage_weight"`
}

func DefaultConfig() Config {
	return Config{
		Window:              10,
		SimilarityThreshold: 0.6,
		ThemeRecurrence:     2,
		DistinctTopicTarget: 8,
		TopicWeight:         0.4,
		HypothesisWeight:    0.3,
		CoverageWeight:      0.3,
	}
}

// PriorityThemes is the order in which uncovered ground is suggested.
var PriorityThemes = []string{
	"goals",
	"obstacles",
	"attempted_solutions",
	"stakes",
	"customers",
	"offer",
	"resources",
	"emotions",
}

var themeRules = []struct {
	theme   string
	pattern *regexp.Regexp
}{
	{"attempted_solutions", regexp.MustCompile(`\b(tried|attempted|what have you done|already done)\b`)},
	{"stakes", regexp.MustCompile(`\b(cost(ing)?|what happens if|at stake|matter|if nothing changes)\b`)},
	{"obstacles", regexp.MustCompile(`\b(stopping|in the way|obstacle|blocking|holding you back|hardest)\b`)},
	{"goals", regexp.MustCompile(`\b(goal|want to|vision|where do you see|what would success)\b`)},
	{"customers", regexp.MustCompile(`\b(clients?|customers?|who buys|audience)\b`)},
	{"offer", regexp.MustCompile(`\b(offer|sell|product|service|pric(e|ing))\b`)},
	{"resources", regexp.MustCompile(`\b(budget|team|help|hours|capacity)\b`)},
	{"emotions", regexp.MustCompile(`\b(feel|feeling|felt)\b`)},
}

// ThemeOf returns the question theme of an assistant reply, judged from its
// last question. It returns "" when no theme matches.
func ThemeOf(reply string) string {
	lower := strings.ToLower(reply)
	if i := strings.LastIndex(lower, "?"); i >= 0 {
		start := strings.LastIndexAny(lower[:i], ".!\n")
		lower = lower[start+1 : i+1]
	}
	for _, tr := range themeRules {
		if tr.pattern.MatchString(lower) {
			return tr.theme
		}
	}
	return ""
}

// Result is the guard's verdict for one turn.
type Result struct {
	Circular       bool
	Reason         string
	SuggestedTheme string
}

// Observe records a user turn's topics together with the theme of the
// question that prompted it, and checks the window for circling.
func Observe(m *conversation.Memory, turn int, topics []string, theme string, cfg Config) Result {
	res := Result{}

	if len(topics) > 0 {
		for _, e := range m.Window {
			if turn-e.Turn < 2 || len(e.Topics) == 0 {
				continue
			}
			if Jaccard(topics, e.Topics) >= cfg.SimilarityThreshold {
				res.Circular = true
				res.Reason = "topic_overlap"
				break
			}
		}
	}
	if !res.Circular && theme != "" {
		seen := 0
		for _, e := range m.Window {
			if e.Theme == theme {
				seen++
			}
		}
		if seen >= cfg.ThemeRecurrence {
			res.Circular = true
			res.Reason = "theme_recurrence"
		}
	}

	m.Window = append(m.Window, conversation.MemoryEntry{
		Turn:   turn,
		Topics: append([]string(nil), topics...),
		Theme:  theme,
	})
	if cfg.Window > 0 && len(m.Window) > cfg.Window {
		m.Window = m.Window[len(m.Window)-cfg.Window:]
	}

	m.DistinctTopics = addAll(m.DistinctTopics, topics)
	if theme != "" {
		m.CoveredThemes = addAll(m.CoveredThemes, []string{theme})
	}

	if res.Circular {
		res.SuggestedTheme = Suggest(*m)
	}
	return res
}

// Suggest returns the first priority theme not yet covered.
func Suggest(m conversation.Memory) string {
	covered := make(map[string]bool, len(m.CoveredThemes))
	for _, t := range m.CoveredThemes {
		covered[t] = true
	}
	for _, t := range PriorityThemes {
		if !covered[t] {
			return t
		}
	}
	return MoveTowardDiagnosis
}

// Score recomputes GroundCoveredScore in [0,1]. It is advisory only.
func Score(m *conversation.Memory, hasHypothesis bool, cfg Config) float64 {
	topics := 0.0
	if cfg.DistinctTopicTarget > 0 {
		topics = float64(len(m.DistinctTopics)) / float64(cfg.DistinctTopicTarget)
		if topics > 1 {
			topics = 1
		}
	}
	hyp := 0.0
	if hasHypothesis {
		hyp = 1
	}
	covered := 0
	for _, t := range m.CoveredThemes {
		for _, p := range PriorityThemes {
			if t == p {
				covered++
				break
			}
		}
	}
	coverage := float64(covered) / float64(len(PriorityThemes))

	score := cfg.TopicWeight*topics + cfg.HypothesisWeight*hyp + cfg.CoverageWeight*coverage
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	m.GroundCoveredScore = score
	return score
}

// Jaccard returns |a∩b| / |a∪b| over the two topic sets.
func Jaccard(a, b []string) float64 {
	set := make(map[string]int, len(a)+len(b))
	for _, v := range a {
		set[v] |= 1
	}
	for _, v := range b {
		set[v] |= 2
	}
	if len(set) == 0 {
		return 0
	}
	inter := 0
	for _, bits := range set {
		if bits == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

func addAll(dst, src []string) []string {
	for _, v := range src {
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
