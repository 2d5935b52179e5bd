// Package transcript reads recorded conversations from disk so they can be
// replayed through the engine.
//
// Two layouts are accepted. A JSON array holds either plain user messages or
// {"role","content"} turns. A JSONL file holds one event per line, either a
// bare turn or an envelope with a nested "message"; content may be a string
// or a list of content blocks.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

var ErrNoUserMessages = errors.New("transcript has no user messages")

// Load parses the transcript at path into ordered turns.
func Load(path string) ([]conversation.Turn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return Parse(data)
}

// Parse detects the layout of data and returns its user and assistant turns.
func Parse(data []byte) ([]conversation.Turn, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrNoUserMessages
	}
	if trimmed[0] == '[' {
		return parseArray(trimmed)
	}
	return parseLines(trimmed)
}

// UserMessages returns the non-empty user messages in order.
func UserMessages(turns []conversation.Turn) ([]string, error) {
	var out []string
	for _, t := range turns {
		if t.Role != conversation.RoleUser {
			continue
		}
		if msg := strings.TrimSpace(t.Content); msg != "" {
			out = append(out, msg)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoUserMessages
	}
	return out, nil
}

func parseArray(data []byte) ([]conversation.Turn, error) {
	var plain []string
	if err := json.Unmarshal(data, &plain); err == nil {
		turns := make([]conversation.Turn, 0, len(plain))
		for _, msg := range plain {
			turns = append(turns, conversation.Turn{Role: conversation.RoleUser, Content: msg})
		}
		return turns, nil
	}

	var raw []event
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	var turns []conversation.Turn
	for _, ev := range raw {
		if t, ok := ev.turn(); ok {
			turns = append(turns, t)
		}
	}
	return turns, nil
}

func parseLines(data []byte) ([]conversation.Turn, error) {
	var turns []conversation.Turn
	timed := true

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue // skip malformed lines
		}
		t, ok := ev.turn()
		if !ok {
			continue
		}
		if t.Timestamp.IsZero() {
			timed = false
		}
		turns = append(turns, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}

	if timed {
		sort.SliceStable(turns, func(i, j int) bool {
			return turns[i].Timestamp.Before(turns[j].Timestamp)
		})
	}
	return turns, nil
}

// event covers both a bare turn and an envelope around one.
type event struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp string          `json:"timestamp"`
	Message   *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (e event) turn() (conversation.Turn, bool) {
	role, content := e.Role, e.Content
	if e.Message != nil {
		role, content = e.Message.Role, e.Message.Content
	}
	if role != string(conversation.RoleUser) && role != string(conversation.RoleAssistant) {
		return conversation.Turn{}, false
	}

	text, toolResult := extractText(content)
	if toolResult || text == "" {
		return conversation.Turn{}, false
	}

	ts, _ := time.Parse(time.RFC3339Nano, e.Timestamp)
	return conversation.Turn{
		Role:      conversation.Role(role),
		Content:   text,
		Timestamp: ts,
	}, true
}

// extractText joins the text blocks of content. It reports whether the
// content was a tool result, which is not part of the conversation.
func extractText(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain, false
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", false
	}

	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "tool_result":
			return "", true
		case "text":
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
	}
	return strings.Join(parts, "\n"), false
}
