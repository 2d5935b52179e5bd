package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

// Store is the Postgres backend.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema, err := loadSchema(postgresSchema)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, schema)
	return err
}

// CreateSession inserts a new session with its initial state.
func (s *Store) CreateSession(ctx context.Context, id uuid.UUID, st *conversation.State) error {
	doc, err := encodeState(st)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, state, phase, complete, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, doc, st.Phase, st.Terminal(), st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// LoadSession returns the session's latest state and its ordered history.
func (s *Store) LoadSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess := &Session{ID: id}
	var doc []byte
	err := s.pool.QueryRow(ctx, `
		SELECT state, created_at, updated_at FROM sessions WHERE id = $1`, id,
	).Scan(&doc, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if sess.State, err = decodeState(doc); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT role, content, action, created_at FROM messages
		WHERE session_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	sess.History = []conversation.Turn{}
	for rows.Next() {
		var t conversation.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.Action, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		sess.History = append(sess.History, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return sess, nil
}

// SaveTurn appends the user and assistant turns and replaces the state in a
// single transaction.
func (s *Store) SaveTurn(ctx context.Context, id uuid.UUID, turns []conversation.Turn, st *conversation.State) error {
	doc, err := encodeState(st)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE sessions SET state = $2, phase = $3, complete = $4, updated_at = $5
		WHERE id = $1`,
		id, doc, st.Phase, st.Terminal(), st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save turn %s: %w", id, ErrSessionNotFound)
	}

	var seq int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = $1`, id).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}
	for _, t := range turns {
		seq++
		_, err = tx.Exec(ctx, `
			INSERT INTO messages (id, session_id, seq, role, content, action, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), id, seq, t.Role, t.Content, t.Action, t.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecordViolation stores a hard validation failure for review.
func (s *Store) RecordViolation(ctx context.Context, v ViolationRecord) (uuid.UUID, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	detail, err := json.Marshal(v.Violations)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode violations: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO review_violations (id, session_id, turn, action, violations, reply, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		v.ID, v.SessionID, v.Turn, v.Action, detail, v.Reply,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert violation: %w", err)
	}
	return v.ID, nil
}

// ListViolations returns the violations recorded for a session, oldest first.
func (s *Store) ListViolations(ctx context.Context, sessionID uuid.UUID) ([]ViolationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, turn, action, violations, reply, slack_ts, review, created_at
		FROM review_violations WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	var out []ViolationRecord
	for rows.Next() {
		var (
			v      ViolationRecord
			detail []byte
		)
		if err := rows.Scan(&v.ID, &v.SessionID, &v.Turn, &v.Action, &detail, &v.Reply, &v.SlackTS, &v.Review, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		if err := json.Unmarshal(detail, &v.Violations); err != nil {
			return nil, fmt.Errorf("decode violations: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SetViolationSlackTS links a violation to the Slack message posted for it.
func (s *Store) SetViolationSlackTS(ctx context.Context, id uuid.UUID, ts string) error {
	_, err := s.pool.Exec(ctx, `UPDATE review_violations SET slack_ts = $2 WHERE id = $1`, id, ts)
	if err != nil {
		return fmt.Errorf("set slack ts: %w", err)
	}
	return nil
}

// UpdateViolationReview records a reviewer verdict against the violation
// posted as the Slack message ts. It reports whether a violation matched.
func (s *Store) UpdateViolationReview(ctx context.Context, ts, verdict string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE review_violations SET review = $2 WHERE slack_ts = $1 AND slack_ts <> ''`, ts, verdict)
	if err != nil {
		return false, fmt.Errorf("update review: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PurgeSessions deletes sessions idle since before cutoff along with their
// messages. Review records are kept.
func (s *Store) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
