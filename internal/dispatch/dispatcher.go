// Package dispatch turns a Decision into reply text, either from templates or
// through a single tool-free completion call.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/diagnostician/internal/anthropic"
	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

var (
	ErrEmptyCompletion      = errors.New("empty completion")
	ErrToolShapedCompletion = errors.New("tool-shaped completion")
)

const maxTokens = 600

// Request carries everything the dispatcher may read for one turn.
type Request struct {
	Decision conversation.Decision
	State    *conversation.State
	History  []conversation.Turn
	Message  string
	// Severity grades the containment template.
	Severity conversation.Severity
	// Variety is the rendered phrase-rotation block.
	Variety string
}

type Dispatcher struct {
	llm    anthropic.Completer
	logger *slog.Logger
}

func New(llm anthropic.Completer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{llm: llm, logger: logger}
}

// Dispatch produces the draft reply. Deterministic actions never reach the
// completion service.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	switch req.Decision.Action {
	case conversation.ActionDiagnose:
		return DiagnoseReply(req.State), nil
	case conversation.ActionContain:
		return ContainReply(req.Severity), nil
	}
	return d.generate(ctx, SystemInstruction(req), Messages(req.History, req.Message))
}

// Regenerate runs the single correction pass: the draft is shown back to the
// model together with the list of violations.
func (d *Dispatcher) Regenerate(ctx context.Context, req Request, draft, correction string) (string, error) {
	msgs := Messages(req.History, req.Message)
	msgs = append(msgs,
		anthropic.Message{Role: "assistant", Content: draft},
		anthropic.Message{Role: "user", Content: correction},
	)
	return d.generate(ctx, SystemInstruction(req), msgs)
}

func (d *Dispatcher) generate(ctx context.Context, system string, msgs []anthropic.Message) (string, error) {
	if d.llm == nil {
		return "", fmt.Errorf("generate: %w", ErrEmptyCompletion)
	}
	raw, err := d.llm.Complete(ctx, system, msgs, maxTokens)
	if errors.Is(err, anthropic.ErrToolUse) {
		d.logger.Warn("completion returned a tool call block")
		return "", ErrToolShapedCompletion
	}
	if errors.Is(err, anthropic.ErrEmptyContent) {
		return "", ErrEmptyCompletion
	}
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	if toolShaped(text) {
		d.logger.Warn("completion text is tool-shaped", "prefix", truncate(text, 40))
		return "", ErrToolShapedCompletion
	}
	return text, nil
}

// toolShaped catches tool invocations rendered as text.
func toolShaped(text string) bool {
	for _, marker := range []string{"<function_calls>", "<tool_use>", "<invoke"} {
		if strings.HasPrefix(text, marker) {
			return true
		}
	}
	if strings.HasPrefix(text, "{") && (strings.Contains(text, `"tool_use"`) || strings.Contains(text, `"tool_name"`) || strings.Contains(text, `"function"`)) {
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Messages converts history plus the latest user message into an
// alternating message list that starts with the user.
func Messages(history []conversation.Turn, message string) []anthropic.Message {
	var out []anthropic.Message
	add := func(role, content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		if len(out) == 0 && role != "user" {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + content
			return
		}
		out = append(out, anthropic.Message{Role: role, Content: content})
	}
	for _, t := range history {
		add(string(t.Role), t.Content)
	}
	add("user", message)
	if len(out) == 0 {
		out = append(out, anthropic.Message{Role: "user", Content: "(no message)"})
	}
	return out
}

// SystemInstruction assembles the base identity, the decision's overlays and
// the tracker guidance blocks.
func SystemInstruction(req Request) string {
	var b strings.Builder
	b.WriteString(baseIdentity)

	b.WriteString("\n\n## This turn\n")
	for _, o := range req.Decision.PromptOverlays {
		if text, ok := overlayText[o]; ok {
			fmt.Fprintf(&b, "- %s\n", text)
		}
	}
	if req.Decision.Theme != "" {
		fmt.Fprintf(&b, "- Area to move to: %s\n", strings.ReplaceAll(req.Decision.Theme, "_", " "))
	}

	st := req.State
	if st != nil {
		b.WriteString("\n## Context\n")
		b.WriteString(memoryBlock(st.Memory))
		b.WriteString(relationshipBlock(st.Relationship))
		if st.ConstraintHypothesis != conversation.ConstraintNone {
			fmt.Fprintf(&b, "Working read (private, never name it unless told to): %s", st.ConstraintHypothesis)
			if st.Subdimension != "" {
				fmt.Fprintf(&b, " / %s", st.Subdimension)
			}
			fmt.Fprintf(&b, ", confidence %.2f\n", st.HypothesisConfidence)
		}
		if _, closing := req.Decision.Action.ClosingPhase(); closing || req.Decision.Action == conversation.ActionFarewell {
			b.WriteString(synthesisBlock(st.ClosingSequence.Synthesis))
		}
	}

	if req.Variety != "" {
		b.WriteString("\n")
		b.WriteString(req.Variety)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func memoryBlock(m conversation.Memory) string {
	var b strings.Builder
	if len(m.DistinctTopics) > 0 {
		fmt.Fprintf(&b, "Topics covered so far: %s\n", strings.Join(m.DistinctTopics, ", "))
	}
	if len(m.CoveredThemes) > 0 {
		fmt.Fprintf(&b, "Question areas already asked about: %s\n", strings.ReplaceAll(strings.Join(m.CoveredThemes, ", "), "_", " "))
	}
	return b.String()
}

func relationshipBlock(r conversation.Relationship) string {
	s := fmt.Sprintf("Relationship: trust %s, engagement %.2f, frustration with the process %s", r.TrustLevel, r.Engagement, r.ProcessFrustration)
	if r.Disposition != conversation.DispositionUnknown {
		s += ", style " + strings.ReplaceAll(string(r.Disposition), "_", " ")
	}
	return s + "\n"
}

func synthesisBlock(syn *conversation.Synthesis) string {
	if syn == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("What they told you (use their words):\n")
	list := func(label string, items []string) {
		if len(items) > 0 {
			fmt.Fprintf(&b, "- %s: %s\n", label, strings.Join(items, "; "))
		}
	}
	list("Goals", syn.Goals)
	list("Stakes", syn.Stakes)
	list("Already tried", syn.AttemptedSolutions)
	if syn.CapabilityGap != "" {
		fmt.Fprintf(&b, "- Capability gap: %s\n", syn.CapabilityGap)
	}
	if syn.PacingApproach != "" {
		fmt.Fprintf(&b, "- Pacing: %s\n", syn.PacingApproach)
	}
	return b.String()
}
