// Package store persists sessions, their message history and review
// violations. Postgres is the production backend; SQLite serves local runs
// and tests.
package store

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
	"github.com/MikeSquared-Agency/diagnostician/internal/validate"
)

var ErrSessionNotFound = errors.New("session not found")

const (
	sqliteSchema   = "schema/sqlite.sql"
	postgresSchema = "schema/postgres.sql"
)

//go:embed schema/*.sql
var schemaFS embed.FS

func loadSchema(name string) (string, error) {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Session is a stored conversation: its latest state and full history.
type Session struct {
	ID        uuid.UUID
	State     *conversation.State
	History   []conversation.Turn
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ViolationRecord is a reply that broke a hard invariant after correction.
type ViolationRecord struct {
	ID         uuid.UUID
	SessionID  uuid.UUID
	Turn       int
	Action     conversation.Action
	Violations []validate.Violation
	Reply      string
	SlackTS    string
	Review     string
	CreatedAt  time.Time
}

func encodeState(st *conversation.State) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// decodeState parses a stored state document and backfills any field the
// document predates.
func decodeState(data []byte) (*conversation.State, error) {
	var st conversation.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.Backfill()
	return &st, nil
}
