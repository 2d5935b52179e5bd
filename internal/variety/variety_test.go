package variety

import (
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

func newVariety() conversation.Variety {
	return conversation.NewState("s").Variety
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func TestObserveReply_ExcludesUsedOpener(t *testing.T) {
	v := newVariety()
	ObserveReply(&v, "Right, so pricing is where it pinches?")

	avail := Available(v, PoolOpeners)
	if contains(avail, "Right") {
		t.Error("used opener still available")
	}
	if len(avail) != len(Pools[PoolOpeners])-1 {
		t.Errorf("available = %v", avail)
	}
	if v.LastUsed[PoolOpeners] != "Right" {
		t.Errorf("last used = %q", v.LastUsed[PoolOpeners])
	}
}

func TestObserveReply_OpenerNeedsWordBoundary(t *testing.T) {
	v := newVariety()
	ObserveReply(&v, "Sometimes the offer is the problem. What do you sell?")
	if contains(v.Used[PoolOpeners], "So") {
		t.Error("\"Sometimes\" must not count as the opener \"So\"")
	}
}

func TestRotation_ResetsExcludingLastUsed(t *testing.T) {
	v := newVariety()
	pool := Pools[PoolOpeners]
	for _, item := range pool {
		ObserveReply(&v, item+", tell me more?")
	}

	last := pool[len(pool)-1]
	avail := Available(v, PoolOpeners)
	if contains(avail, last) {
		t.Errorf("last used %q must stay excluded after reset", last)
	}
	if len(avail) != len(pool)-1 {
		t.Errorf("expected full pool minus one after reset, got %v", avail)
	}
}

func TestCanReflect(t *testing.T) {
	cfg := DefaultConfig()
	v := newVariety()

	if !CanReflect(v, 1, cfg) {
		t.Fatal("first reflection must be allowed")
	}
	RecordReflection(&v, 2)
	if CanReflect(v, 4, cfg) {
		t.Error("reflection inside the gap must be refused")
	}
	if !CanReflect(v, 5, cfg) {
		t.Error("reflection after the gap must be allowed")
	}

	for turn := 5; v.ReflectionCount < cfg.MaxReflections; turn += cfg.MinReflectionGap {
		RecordReflection(&v, turn)
	}
	if CanReflect(v, 100, cfg) {
		t.Error("reflection past the cap must be refused")
	}
}

func TestWarnings_Escalate(t *testing.T) {
	cfg := DefaultConfig()
	v := newVariety()

	ObserveReply(&v, "It sounds like the launch stalled.")
	if w := Warnings(v, cfg); len(w) != 0 {
		t.Fatalf("single use must not warn, got %+v", w)
	}
	ObserveReply(&v, "It sounds like pricing again.")
	w := Warnings(v, cfg)
	if len(w) != 1 || w[0].Level != "low" {
		t.Fatalf("expected low warning, got %+v", w)
	}
	ObserveReply(&v, "It sounds like X. It sounds like Y.")
	w = Warnings(v, cfg)
	if len(w) != 1 || w[0].Level != "high" || w[0].Count != 4 {
		t.Fatalf("expected high warning at 4, got %+v", w)
	}

	g := Guidance(v, cfg)
	if !strings.Contains(g, `STOP using the phrase "it sounds like"`) {
		t.Errorf("guidance missing escalation: %s", g)
	}
}
