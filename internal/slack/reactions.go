package slack

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ReactionEvent is a reaction on a Slack message, as relayed over NATS.
type ReactionEvent struct {
	Reaction  string `json:"reaction"`
	UserID    string `json:"user_id"`
	Channel   string `json:"channel"`
	MessageTS string `json:"message_ts"`
	Removed   bool   `json:"removed,omitempty"`
}

// ReviewVerdict is a reviewer's judgement of a posted violation.
type ReviewVerdict string

const (
	VerdictConfirmed     ReviewVerdict = "confirmed"
	VerdictFalsePositive ReviewVerdict = "false_positive"
	VerdictSkipped       ReviewVerdict = "skipped"
	VerdictUnknown       ReviewVerdict = "unknown"

	// VerdictPending is the state of an unreviewed violation, restored when a
	// reviewer takes their reaction back.
	VerdictPending ReviewVerdict = "pending"
)

// ParseReaction converts a Slack reaction emoji name to a review verdict.
func ParseReaction(reaction string) ReviewVerdict {
	switch reaction {
	case "+1", "thumbsup", "white_check_mark":
		return VerdictConfirmed
	case "-1", "thumbsdown", "x":
		return VerdictFalsePositive
	case "shrug":
		return VerdictSkipped
	default:
		return VerdictUnknown
	}
}

// ParseReactionEvent accepts either the slack-forwarder envelope, which
// carries the reaction in a metadata map, or a raw Events API
// reaction_added/reaction_removed event.
func ParseReactionEvent(data []byte, logger *slog.Logger) (*ReactionEvent, error) {
	var payload struct {
		Metadata map[string]string `json:"metadata"`

		Type     string `json:"type"`
		User     string `json:"user"`
		Reaction string `json:"reaction"`
		Item     struct {
			Channel string `json:"channel"`
			TS      string `json:"ts"`
		} `json:"item"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse reaction payload: %w", err)
	}

	var evt ReactionEvent
	if payload.Metadata != nil {
		evt = ReactionEvent{
			Reaction:  payload.Metadata["text"],
			UserID:    payload.Metadata["user_id"],
			Channel:   payload.Metadata["channel_id"],
			MessageTS: payload.Metadata["message_ts"],
			Removed:   payload.Metadata["event"] == "reaction_removed",
		}
	} else {
		evt = ReactionEvent{
			Reaction:  payload.Reaction,
			UserID:    payload.User,
			Channel:   payload.Item.Channel,
			MessageTS: payload.Item.TS,
			Removed:   payload.Type == "reaction_removed",
		}
	}

	evt.Reaction = strings.Trim(strings.TrimSpace(evt.Reaction), ":")
	if evt.MessageTS == "" {
		return nil, errors.New("reaction event without message_ts")
	}
	logger.Debug("parsed reaction", "reaction", evt.Reaction, "message_ts", evt.MessageTS, "removed", evt.Removed)

	return &evt, nil
}
