package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

// SQLiteStore is the single-file backend used for local runs and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates the database at path and applies the schema.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema, err := loadSchema(sqliteSchema)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (s *SQLiteStore) CreateSession(ctx context.Context, id uuid.UUID, st *conversation.State) error {
	doc, err := encodeState(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, state, phase, complete, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), string(doc), string(st.Phase), st.Terminal(), formatTime(st.CreatedAt), formatTime(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess := &Session{ID: id}
	var doc, created, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT state, created_at, updated_at FROM sessions WHERE id = ?`, id.String(),
	).Scan(&doc, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	sess.CreatedAt, sess.UpdatedAt = parseTime(created), parseTime(updated)
	if sess.State, err = decodeState([]byte(doc)); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, action, created_at FROM messages
		WHERE session_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	sess.History = []conversation.Turn{}
	for rows.Next() {
		var (
			t  conversation.Turn
			ts string
		)
		if err := rows.Scan(&t.Role, &t.Content, &t.Action, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		t.Timestamp = parseTime(ts)
		sess.History = append(sess.History, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) SaveTurn(ctx context.Context, id uuid.UUID, turns []conversation.Turn, st *conversation.State) error {
	doc, err := encodeState(st)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET state = ?, phase = ?, complete = ?, updated_at = ?
		WHERE id = ?`,
		string(doc), string(st.Phase), st.Terminal(), formatTime(st.UpdatedAt), id.String(),
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save turn %s: %w", id, ErrSessionNotFound)
	}

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = ?`, id.String()).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}
	for _, t := range turns {
		seq++
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, seq, role, content, action, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), id.String(), seq, string(t.Role), t.Content, string(t.Action), formatTime(t.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordViolation(ctx context.Context, v ViolationRecord) (uuid.UUID, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	detail, err := json.Marshal(v.Violations)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode violations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO review_violations (id, session_id, turn, action, violations, reply, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID.String(), v.SessionID.String(), v.Turn, string(v.Action), string(detail), v.Reply, formatTime(time.Now()),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert violation: %w", err)
	}
	return v.ID, nil
}

func (s *SQLiteStore) ListViolations(ctx context.Context, sessionID uuid.UUID) ([]ViolationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, turn, action, violations, reply, slack_ts, review, created_at
		FROM review_violations WHERE session_id = ? ORDER BY created_at, rowid`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	var out []ViolationRecord
	for rows.Next() {
		var (
			v                ViolationRecord
			id, sid, det, ts string
		)
		if err := rows.Scan(&id, &sid, &v.Turn, &v.Action, &det, &v.Reply, &v.SlackTS, &v.Review, &ts); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.ID, _ = uuid.Parse(id)
		v.SessionID, _ = uuid.Parse(sid)
		v.CreatedAt = parseTime(ts)
		if err := json.Unmarshal([]byte(det), &v.Violations); err != nil {
			return nil, fmt.Errorf("decode violations: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetViolationSlackTS(ctx context.Context, id uuid.UUID, ts string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE review_violations SET slack_ts = ? WHERE id = ?`, ts, id.String())
	if err != nil {
		return fmt.Errorf("set slack ts: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateViolationReview(ctx context.Context, ts, verdict string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE review_violations SET review = ? WHERE slack_ts = ? AND slack_ts != ''`, verdict, ts)
	if err != nil {
		return false, fmt.Errorf("update review: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PurgeSessions deletes sessions idle since before cutoff along with their
// messages. Review records are kept.
func (s *SQLiteStore) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE julianday(updated_at) < julianday(?)`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
