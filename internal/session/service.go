// Package session owns the lifecycle of stored conversations: it loads a
// session, runs the turn through the engine, persists the outcome and
// publishes the resulting events.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
	"github.com/MikeSquared-Agency/diagnostician/internal/engine"
	"github.com/MikeSquared-Agency/diagnostician/internal/hermes"
	"github.com/MikeSquared-Agency/diagnostician/internal/metrics"
	"github.com/MikeSquared-Agency/diagnostician/internal/slack"
	"github.com/MikeSquared-Agency/diagnostician/internal/store"
)

var ErrEmptyMessage = errors.New("message is empty")

// requestTimeout bounds a turn that arrives over NATS.
const requestTimeout = 90 * time.Second

type Engine interface {
	ProcessTurn(ctx context.Context, message string, history []conversation.Turn, state *conversation.State) engine.TurnResult
}

type Store interface {
	CreateSession(ctx context.Context, id uuid.UUID, st *conversation.State) error
	LoadSession(ctx context.Context, id uuid.UUID) (*store.Session, error)
	SaveTurn(ctx context.Context, id uuid.UUID, turns []conversation.Turn, st *conversation.State) error
	RecordViolation(ctx context.Context, v store.ViolationRecord) (uuid.UUID, error)
	SetViolationSlackTS(ctx context.Context, id uuid.UUID, ts string) error
	UpdateViolationReview(ctx context.Context, ts, verdict string) (bool, error)
}

type Publisher interface {
	Publish(subject string, data any) error
}

type ReviewPoster interface {
	PostViolation(ctx context.Context, r engine.Review) (string, error)
}

// Locker serialises turns on one session across service replicas.
type Locker interface {
	Lock(ctx context.Context, id uuid.UUID) (unlock func(), err error)
}

// Service serialises turns per session. Different sessions run concurrently.
type Service struct {
	engine  Engine
	store   Store
	hermes  Publisher
	slack   ReviewPoster
	cluster Locker
	metrics *metrics.Metrics

	reviewChannel string
	logger        *slog.Logger
	now           func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// New builds a service. pub and poster may be nil when NATS or Slack are not
// configured.
func New(eng Engine, st Store, pub Publisher, poster ReviewPoster, logger *slog.Logger) *Service {
	return &Service{
		engine: eng,
		store:  st,
		hermes: pub,
		slack:  poster,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		locks:  make(map[uuid.UUID]*sessionLock),
	}
}

func (s *Service) lock(id uuid.UUID) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// SetLocker adds a cross-replica lock taken after the in-process one.
func (s *Service) SetLocker(l Locker) {
	s.cluster = l
}

// SetReviewChannel limits reaction verdicts to messages in channel.
func (s *Service) SetReviewChannel(channel string) {
	s.reviewChannel = channel
}

// SetMetrics registers the instruments turns are recorded on.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// ActiveSessions returns the number of sessions with a turn in flight.
func (s *Service) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// CreateSession stores a fresh session and returns it.
func (s *Service) CreateSession(ctx context.Context) (*store.Session, error) {
	id := uuid.New()
	st := conversation.NewState(id.String())
	if err := s.store.CreateSession(ctx, id, st); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.metrics.SessionCreated()
	s.logger.Info("session created", "session_id", id)
	return &store.Session{
		ID:        id,
		State:     st,
		History:   []conversation.Turn{},
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
	}, nil
}

func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*store.Session, error) {
	return s.store.LoadSession(ctx, id)
}

// HandleTurn runs one user message through the engine and persists both
// turns with the new state.
func (s *Service) HandleTurn(ctx context.Context, id uuid.UUID, message string) (engine.TurnResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return engine.TurnResult{}, ErrEmptyMessage
	}

	unlock := s.lock(id)
	defer unlock()
	if s.cluster != nil {
		release, err := s.cluster.Lock(ctx, id)
		if err != nil {
			return engine.TurnResult{}, fmt.Errorf("lock session %s: %w", id, err)
		}
		defer release()
	}

	sess, err := s.store.LoadSession(ctx, id)
	if err != nil {
		return engine.TurnResult{}, err
	}
	wasTerminal := sess.State.Terminal()

	start := time.Now()
	res := s.engine.ProcessTurn(ctx, message, sess.History, sess.State)
	if wasTerminal {
		return res, nil
	}
	s.metrics.ObserveTurn(res, time.Since(start))

	now := s.now()
	turns := []conversation.Turn{
		{Role: conversation.RoleUser, Content: message, Timestamp: now},
		{Role: conversation.RoleAssistant, Content: res.Reply, Action: res.Decision.Action, Timestamp: now},
	}
	if err := s.store.SaveTurn(ctx, id, turns, res.State); err != nil {
		return engine.TurnResult{}, fmt.Errorf("save turn: %w", err)
	}

	if res.Complete {
		s.publish(hermes.SubjectSessionCompleted, hermes.SessionCompleted{
			SessionID:   id.String(),
			Constraint:  res.State.ConstraintHypothesis,
			Subdim:      res.State.Subdimension,
			Confidence:  res.State.HypothesisConfidence,
			TotalTurns:  res.State.Counters.TotalTurns,
			Aligned:     res.State.ClosingSequence.AlignmentDetected,
			CompletedAt: now,
		})
		s.metrics.SessionCompleted()
		s.logger.Info("session completed", "session_id", id, "constraint", res.State.ConstraintHypothesis)
	}
	return res, nil
}

// Review implements engine.ReviewSink: the violation is stored, published
// and posted to Slack. Failures are logged and never reach the user.
func (s *Service) Review(ctx context.Context, r engine.Review) {
	sid, err := uuid.Parse(r.SessionID)
	if err != nil {
		s.logger.Error("violation for unparseable session id", "session_id", r.SessionID, "error", err)
		return
	}

	id, err := s.store.RecordViolation(ctx, store.ViolationRecord{
		SessionID:  sid,
		Turn:       r.Turn,
		Action:     r.Action,
		Violations: r.Violations,
		Reply:      r.Reply,
	})
	if err != nil {
		s.logger.Error("failed to record violation", "session_id", r.SessionID, "error", err)
		return
	}

	s.publish(hermes.SubjectReviewViolation, hermes.ReviewViolation{
		SessionID:  r.SessionID,
		Turn:       r.Turn,
		Action:     r.Action,
		Violations: r.Violations,
		Reply:      r.Reply,
	})

	if s.slack == nil {
		return
	}
	ts, err := s.slack.PostViolation(ctx, r)
	if err != nil {
		s.logger.Warn("failed to post violation to slack", "session_id", r.SessionID, "error", err)
		return
	}
	if err := s.store.SetViolationSlackTS(ctx, id, ts); err != nil {
		s.logger.Warn("failed to link slack message", "violation_id", id, "error", err)
	}
}

// HandleTurnRequest is the NATS handler for diagnostician.turn.requested.
func (s *Service) HandleTurnRequest(subject string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var req hermes.TurnRequested
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Error("failed to parse turn request", "subject", subject, "error", err)
		return
	}
	reply := hermes.TurnCompleted{SessionID: req.SessionID, RequestID: req.RequestID}

	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		s.logger.Warn("turn request with invalid session id", "session_id", req.SessionID, "error", err)
		reply.Error = "invalid session id"
		s.publish(hermes.SubjectTurnCompleted, reply)
		return
	}

	res, err := s.HandleTurn(ctx, id, req.Message)
	if err != nil {
		s.logger.Error("turn request failed", "session_id", req.SessionID, "error", err)
		reply.Error = err.Error()
		s.publish(hermes.SubjectTurnCompleted, reply)
		return
	}

	reply.Reply = res.Reply
	reply.Action = res.Decision.Action
	reply.Phase = res.State.Phase
	reply.Complete = res.Complete
	s.publish(hermes.SubjectTurnCompleted, reply)
}

// HandleReaction is the NATS handler for swarm.slack.reaction. Reviewer
// reactions on a posted violation record a verdict.
func (s *Service) HandleReaction(subject string, data []byte) {
	ctx := context.Background()

	evt, err := slack.ParseReactionEvent(data, s.logger)
	if err != nil {
		s.logger.Error("failed to parse reaction", "error", err)
		return
	}
	if s.reviewChannel != "" && evt.Channel != "" && evt.Channel != s.reviewChannel {
		return
	}
	verdict := slack.ParseReaction(evt.Reaction)
	if evt.Removed {
		verdict = slack.VerdictPending
	}
	if verdict == slack.VerdictUnknown {
		s.logger.Debug("ignoring reaction", "reaction", evt.Reaction)
		return
	}

	ok, err := s.store.UpdateViolationReview(ctx, evt.MessageTS, string(verdict))
	if err != nil {
		s.logger.Error("failed to record review verdict", "message_ts", evt.MessageTS, "error", err)
		return
	}
	if !ok {
		s.logger.Debug("reaction on untracked message", "message_ts", evt.MessageTS)
		return
	}
	s.logger.Info("violation reviewed", "message_ts", evt.MessageTS, "verdict", verdict, "user_id", evt.UserID)
}

func (s *Service) publish(subject string, data any) {
	if s.hermes == nil {
		return
	}
	if err := s.hermes.Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish", "subject", subject, "error", err)
	}
}
