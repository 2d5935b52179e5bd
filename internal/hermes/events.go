package hermes

import (
	"time"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
	"github.com/MikeSquared-Agency/diagnostician/internal/validate"
)

const (
	// SubjectTurnRequested carries user messages from chat front ends.
	SubjectTurnRequested = "diagnostician.turn.requested"
	// SubjectTurnCompleted carries the reply for a requested turn.
	SubjectTurnCompleted = "diagnostician.turn.completed"
	// SubjectSessionCompleted is published once when a session reaches farewell.
	SubjectSessionCompleted = "diagnostician.session.completed"
	// SubjectReviewViolation is published for every reply that kept a hard
	// violation after correction.
	SubjectReviewViolation = "diagnostician.review.violation"
)

type TurnRequested struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message"`
}

type TurnCompleted struct {
	SessionID string              `json:"session_id"`
	RequestID string              `json:"request_id,omitempty"`
	Reply     string              `json:"reply,omitempty"`
	Action    conversation.Action `json:"action,omitempty"`
	Phase     conversation.Phase  `json:"phase,omitempty"`
	Complete  bool                `json:"complete"`
	Error     string              `json:"error,omitempty"`
}

type SessionCompleted struct {
	SessionID   string                  `json:"session_id"`
	Constraint  conversation.Constraint `json:"constraint"`
	Subdim      string                  `json:"subdimension,omitempty"`
	Confidence  float64                 `json:"confidence"`
	TotalTurns  int                     `json:"total_turns"`
	Aligned     bool                    `json:"aligned"`
	CompletedAt time.Time               `json:"completed_at"`
}

type ReviewViolation struct {
	SessionID  string               `json:"session_id"`
	Turn       int                  `json:"turn"`
	Action     conversation.Action  `json:"action"`
	Violations []validate.Violation `json:"violations"`
	Reply      string               `json:"reply"`
}
