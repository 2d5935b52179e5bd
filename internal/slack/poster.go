package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/diagnostician/internal/engine"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// maxReplyQuote bounds how much of the offending reply is quoted in Slack.
const maxReplyQuote = 600

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostViolation posts a hard validation failure for human review.
// Returns the message timestamp (ts) which is used for tracking reactions.
func (p *Poster) PostViolation(ctx context.Context, r engine.Review) (string, error) {
	text := formatViolationMessage(r)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "React: :+1: real violation | :-1: or :x: false positive | :shrug: skip",
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted violation to slack", "ts", slackResp.TS, "session_id", r.SessionID, "turn", r.Turn)
	return slackResp.TS, nil
}

func formatViolationMessage(r engine.Review) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Session:* %s (turn %d)\n", r.SessionID, r.Turn)
	fmt.Fprintf(&sb, "*Action:* %s\n\n", r.Action)

	if len(r.Violations) > 0 {
		fmt.Fprintf(&sb, "*Violations: %d*\n", len(r.Violations))
		for i, v := range r.Violations {
			fmt.Fprintf(&sb, "%d. [%s] %s: %s\n", i+1, v.Severity, v.Check, v.Detail)
		}
		sb.WriteString("\n")
	}

	reply := r.Reply
	if runes := []rune(reply); len(runes) > maxReplyQuote {
		reply = string(runes[:maxReplyQuote]) + "..."
	}
	if reply == "" {
		sb.WriteString("_Reply was empty._")
	} else {
		fmt.Fprintf(&sb, "*Reply:*\n> %s", strings.ReplaceAll(reply, "\n", "\n> "))
	}

	return sb.String()
}
