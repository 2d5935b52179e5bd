// Package variety rotates stock phrasing so replies do not fall into a
// detectable formula, and rate-limits reflection moments.
package variety

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

type Config struct {
	MaxReflections   int `yaml:"max_reflections"`
	MinReflectionGap int `yaml:"min_reflection_gap"`
	PatternLow       int `yaml:"pattern_low"`
	PatternHigh      int `yaml:"pattern_high"`
}

func DefaultConfig() Config {
	return Config{
		MaxReflections:   4,
		MinReflectionGap: 3,
		PatternLow:       2,
		PatternHigh:      4,
	}
}

const (
	PoolOpeners         = "openers"
	PoolConnectors      = "connectors"
	PoolValidations     = "validations"
	PoolAcknowledgments = "acknowledgments"
)

// Pools are the fixed phrase pools, in rotation order.
var Pools = map[string][]string{
	PoolOpeners: {
		"So", "Right", "Okay", "Got it", "Interesting", "Fair enough", "Hm", "Makes sense",
	},
	PoolConnectors: {
		"and at the same time", "which means", "on top of that", "alongside that", "underneath that",
	},
	PoolValidations: {
		"that's a real tension", "that's not a small thing", "that's a lot to carry", "that's a fair call", "that tracks",
	},
	PoolAcknowledgments: {
		"thanks for being straight about that", "I appreciate the detail", "that helps", "good to know", "noted",
	},
}

var poolOrder = []string{PoolOpeners, PoolConnectors, PoolValidations, PoolAcknowledgments}

// patterns are the sentence templates whose overuse reads as formula.
var patterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"it_sounds_like", regexp.MustCompile(`(?i)\bit sounds like\b`)},
	{"what_im_hearing", regexp.MustCompile(`(?i)\bwhat i'?m hearing\b`)},
	{"i_hear_you", regexp.MustCompile(`(?i)\bi hear you\b`)},
	{"that_makes_sense", regexp.MustCompile(`(?i)\bthat makes sense\b`)},
	{"it_seems_like", regexp.MustCompile(`(?i)\bit seems like\b`)},
	{"so_youre_saying", regexp.MustCompile(`(?i)\bso what you'?re saying\b`)},
	{"can_i_ask", regexp.MustCompile(`(?i)\bcan i ask\b`)},
}

// Available returns the pool items not yet used in the current rotation.
func Available(v conversation.Variety, pool string) []string {
	used := make(map[string]bool, len(v.Used[pool]))
	for _, u := range v.Used[pool] {
		used[u] = true
	}
	out := make([]string, 0, len(Pools[pool]))
	for _, item := range Pools[pool] {
		if !used[item] {
			out = append(out, item)
		}
	}
	return out
}

// markUsed records item. When the pool runs dry the rotation restarts with
// only item excluded.
func markUsed(v *conversation.Variety, pool, item string) {
	for _, u := range v.Used[pool] {
		if u == item {
			v.LastUsed[pool] = item
			return
		}
	}
	v.Used[pool] = append(v.Used[pool], item)
	v.LastUsed[pool] = item
	if len(v.Used[pool]) >= len(Pools[pool]) {
		v.Used[pool] = []string{item}
	}
}

// ObserveReply records which pool items and structural patterns a delivered
// reply used.
func ObserveReply(v *conversation.Variety, reply string) {
	lower := strings.ToLower(strings.TrimSpace(reply))
	for _, pool := range poolOrder {
		for _, item := range Pools[pool] {
			li := strings.ToLower(item)
			hit := strings.Contains(lower, li)
			if pool == PoolOpeners {
				hit = strings.HasPrefix(lower, li) && openerBoundary(lower, len(li))
			}
			if hit {
				markUsed(v, pool, item)
			}
		}
	}
	for _, p := range patterns {
		if n := len(p.pattern.FindAllStringIndex(reply, -1)); n > 0 {
			v.PatternCounts[p.name] += n
		}
	}
}

func openerBoundary(s string, n int) bool {
	if len(s) == n {
		return true
	}
	switch s[n] {
	case ' ', ',', '.', '!', '-', '\n':
		return true
	}
	return false
}

// CanReflect reports whether a reflection moment is allowed on turn.
func CanReflect(v conversation.Variety, turn int, cfg Config) bool {
	if v.ReflectionCount >= cfg.MaxReflections {
		return false
	}
	if v.ReflectionCount > 0 && turn-v.LastReflectionTurn < cfg.MinReflectionGap {
		return false
	}
	return true
}

func RecordReflection(v *conversation.Variety, turn int) {
	v.ReflectionCount++
	v.LastReflectionTurn = turn
}

type Warning struct {
	Pattern string
	Count   int
	Level   string
}

// Warnings returns the overused patterns, escalating from "low" to "high".
func Warnings(v conversation.Variety, cfg Config) []Warning {
	var out []Warning
	for name, n := range v.PatternCounts {
		switch {
		case n >= cfg.PatternHigh:
			out = append(out, Warning{Pattern: name, Count: n, Level: "high"})
		case n >= cfg.PatternLow:
			out = append(out, Warning{Pattern: name, Count: n, Level: "low"})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out
}

// Guidance renders the variety block for the generation instructions.
func Guidance(v conversation.Variety, cfg Config) string {
	var b strings.Builder
	b.WriteString("Phrasing variety:\n")
	for _, pool := range poolOrder {
		avail := Available(v, pool)
		fmt.Fprintf(&b, "- %s you may use: %s\n", pool, quoteJoin(avail))
		if last := v.LastUsed[pool]; last != "" {
			fmt.Fprintf(&b, "  do not reuse %q\n", last)
		}
	}
	for _, w := range Warnings(v, cfg) {
		phrase := strings.ReplaceAll(w.Pattern, "_", " ")
		if w.Level == "high" {
			fmt.Fprintf(&b, "- STOP using the phrase %q; it has appeared %d times\n", phrase, w.Count)
		} else {
			fmt.Fprintf(&b, "- prefer a different construction than %q\n", phrase)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func quoteJoin(items []string) string {
	q := make([]string, len(items))
	for i, it := range items {
		q[i] = fmt.Sprintf("%q", it)
	}
	return strings.Join(q, ", ")
}
