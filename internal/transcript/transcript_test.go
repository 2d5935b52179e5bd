package transcript

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestParse_PlainArray(t *testing.T) {
	turns, err := Parse([]byte(`["Sales are flat", "  ", "We have six staff"]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs, err := UserMessages(turns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 || msgs[0] != "Sales are flat" || msgs[1] != "We have six staff" {
		t.Errorf("unexpected messages %q", msgs)
	}
}

func TestParse_TurnArray(t *testing.T) {
	turns, err := Parse([]byte(`[
		{"role":"user","content":"Orders keep slipping"},
		{"role":"assistant","content":"Where do they slip?"},
		{"role":"system","content":"ignored"},
		{"role":"user","content":[{"type":"text","text":"Between sales"},{"type":"text","text":"and the workshop"}]}
	]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[1].Role != conversation.RoleAssistant {
		t.Errorf("turn[1] role = %q", turns[1].Role)
	}
	if turns[2].Content != "Between sales\nand the workshop" {
		t.Errorf("turn[2] = %q", turns[2].Content)
	}
}

func TestLoad_EnvelopeLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	writeLines(t, path, []string{
		`{"type":"session","id":"s1","timestamp":"2026-02-09T07:30:00Z"}`,
		`{"type":"message","timestamp":"2026-02-09T07:30:10Z","message":{"role":"user","content":"Thanks, that helps"}}`,
		`{"type":"message","timestamp":"2026-02-09T07:30:01Z","message":{"role":"user","content":[{"type":"text","text":"Cash is always tight"}]}}`,
		`{"type":"message","timestamp":"2026-02-09T07:30:05Z","message":{"role":"assistant","content":[{"type":"text","text":"When did that start?"}]}}`,
		`not json`,
	})

	turns, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[0].Content != "Cash is always tight" {
		t.Errorf("turns are not ordered by timestamp: %q first", turns[0].Content)
	}
	if turns[2].Content != "Thanks, that helps" {
		t.Errorf("turn[2] = %q", turns[2].Content)
	}
}

func TestLoad_SkipsToolResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.jsonl")
	writeLines(t, path, []string{
		`{"type":"user","message":{"role":"user","content":"What do you need from me?"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"lookup"}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"tool_use_id":"t1","type":"tool_result","content":"ok"}]}}`,
		`{"role":"user","content":"Mostly time"}`,
	})

	turns, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs, err := UserMessages(turns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 || msgs[1] != "Mostly time" {
		t.Errorf("unexpected messages %q", msgs)
	}
}

func TestUserMessages_Empty(t *testing.T) {
	turns, err := Parse([]byte(`[{"role":"assistant","content":"hello"}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := UserMessages(turns); !errors.Is(err, ErrNoUserMessages) {
		t.Errorf("expected ErrNoUserMessages, got %v", err)
	}
	if _, err := Parse([]byte("   ")); !errors.Is(err, ErrNoUserMessages) {
		t.Errorf("expected ErrNoUserMessages for blank input, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
