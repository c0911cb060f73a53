package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kadoErrors "github.com/kadohq/kado/internal/errors"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Session is the durable record of one conversation for a project.
type Session struct {
	ID        string    `json:"session_id"`
	ProjectID string    `json:"project_short_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Turn is one immutable log entry in a session. Content is opaque to the
// store; interpretation belongs to the orchestrator.
type Turn struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// SessionStore persists sessions and their append-only turn logs in an
// embedded SQLite database shared by concurrent CLI invocations.
type SessionStore struct {
	db   *sql.DB
	path string
}

func OpenSessionStore(root string) (*SessionStore, error) {
	path := SessionDBPath(root)

	// _txlock=immediate takes the writer lock when a transaction begins, not
	// on the first write. A deferred transaction that reads before writing
	// can hit a non-retryable SQLITE_BUSY upgrading its stale WAL snapshot;
	// busy_timeout only covers the initial lock wait.
	db, err := sql.Open("sqlite", "file:"+path+"?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, kadoErrors.StoreIO(err, "open session store")
	}
	// SQLite serializes writers anyway; one connection avoids spurious
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	s := &SessionStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, kadoErrors.StoreIO(err, "initialize session schema")
	}
	return s, nil
}

func (s *SessionStore) Close() error {
	return s.db.Close()
}

func (s *SessionStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_project_updated
		ON sessions(project_id, updated_at DESC);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		id         TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		tool_calls TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);`

	_, err := s.db.Exec(schema)
	return err
}

// Create registers a brand-new session for a project.
func (s *SessionStore) Create(ctx context.Context, projectID string) (*Session, error) {
	if projectID == "" {
		return nil, kadoErrors.InvalidInput("project short ID is required")
	}

	now := time.Now().UTC()
	session := &Session{
		ID:        ulid.Make().String(),
		ProjectID: projectID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.ProjectID, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, kadoErrors.StoreIO(err, "create session")
	}

	slog.Debug("Session created", "session", session.ID, "project", projectID)
	return session, nil
}

// OpenOrCreate returns the most recently updated session for a project,
// creating one when the project has none.
func (s *SessionStore) OpenOrCreate(ctx context.Context, projectID string) (*Session, error) {
	sessions, err := s.List(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(sessions) > 0 {
		latest := sessions[0]
		return &latest, nil
	}
	return s.Create(ctx, projectID)
}

// Get returns a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.project_id, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id)
		FROM sessions s WHERE s.id = ?`, sessionID)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kadoErrors.NotFound(fmt.Sprintf("session %s", sessionID))
	}
	if err != nil {
		return nil, kadoErrors.StoreIO(err, "load session")
	}
	return session, nil
}

// AppendTurn appends one turn to a session's log. Append is the only mutation
// primitive; existing turns are never edited or reordered.
func (s *SessionStore) AppendTurn(ctx context.Context, sessionID string, turn Turn) error {
	if turn.ID == "" {
		turn.ID = ulid.Make().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kadoErrors.StoreIO(err, "begin append")
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return kadoErrors.StoreIO(err, "check session")
	}
	if exists == 0 {
		return kadoErrors.NotFound(fmt.Sprintf("session %s", sessionID))
	}

	var toolCalls any
	if len(turn.ToolCalls) > 0 {
		toolCalls = string(turn.ToolCalls)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (session_id, seq, id, role, content, tool_calls, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?), ?, ?, ?, ?, ?)`,
		sessionID, sessionID, turn.ID, string(turn.Role), turn.Content, toolCalls, turn.CreatedAt.UnixNano(),
	)
	if err != nil {
		return kadoErrors.StoreIO(err, "append turn")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().UnixNano(), sessionID,
	)
	if err != nil {
		return kadoErrors.StoreIO(err, "touch session")
	}

	if err := tx.Commit(); err != nil {
		return kadoErrors.StoreIO(err, "commit append")
	}
	return nil
}

// Turns returns the full ordered log of a session.
func (s *SessionStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, role, content, tool_calls, created_at
		FROM turns WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, kadoErrors.StoreIO(err, "load turns")
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			turn      Turn
			role      string
			toolCalls sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&turn.Seq, &turn.ID, &role, &turn.Content, &toolCalls, &createdAt); err != nil {
			return nil, kadoErrors.StoreIO(err, "scan turn")
		}
		turn.Role = Role(role)
		if toolCalls.Valid {
			turn.ToolCalls = json.RawMessage(toolCalls.String)
		}
		turn.CreatedAt = time.Unix(0, createdAt).UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, kadoErrors.StoreIO(err, "iterate turns")
	}
	return turns, nil
}

// List returns session summaries ordered by updated_at descending, so the
// most recent session is always first. An empty projectID lists every
// project's sessions.
func (s *SessionStore) List(ctx context.Context, projectID string) ([]Session, error) {
	query := `
		SELECT s.id, s.project_id, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id)
		FROM sessions s`
	args := []any{}
	if projectID != "" {
		query += ` WHERE s.project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY s.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kadoErrors.StoreIO(err, "list sessions")
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, kadoErrors.StoreIO(err, "scan session")
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, kadoErrors.StoreIO(err, "iterate sessions")
	}
	return sessions, nil
}

// Delete removes one session and its turns atomically.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kadoErrors.StoreIO(err, "begin delete")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return kadoErrors.StoreIO(err, "delete session")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return kadoErrors.StoreIO(err, "delete session")
	}
	if affected == 0 {
		return kadoErrors.NotFound(fmt.Sprintf("session %s", sessionID))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return kadoErrors.StoreIO(err, "delete turns")
	}

	if err := tx.Commit(); err != nil {
		return kadoErrors.StoreIO(err, "commit delete")
	}
	return nil
}

// GC deletes sessions whose updated_at is older than maxAge and returns the
// count removed. guard must take the session's own lock and return its
// release func; the lock stays held across the delete, so a session acquired
// by a live process after the candidate scan is skipped, never lost. A nil
// guard deletes unguarded. Each deletion is atomic on its own, so a cancelled
// run leaves a consistent store with merely fewer removals.
func (s *SessionStore) GC(ctx context.Context, maxAge time.Duration, guard func(sessionID string) (release func(), err error)) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge).UnixNano()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE updated_at <= ?`, cutoff)
	if err != nil {
		return 0, kadoErrors.StoreIO(err, "scan expired sessions")
	}

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, kadoErrors.StoreIO(err, "scan expired session")
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, kadoErrors.StoreIO(err, "iterate expired sessions")
	}
	rows.Close()

	removed := 0
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := s.deleteGuarded(ctx, id, guard); err != nil {
			if kadoErrors.IsCategory(err, kadoErrors.ErrLockBusy) {
				slog.Debug("GC skipping lock-held session", "session", id)
				continue
			}
			if kadoErrors.IsCategory(err, kadoErrors.ErrNotFound) {
				continue // removed by a concurrent deleter
			}
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		slog.Info("Session GC complete", "removed", removed, "max_age", maxAge)
	}
	return removed, nil
}

func (s *SessionStore) deleteGuarded(ctx context.Context, sessionID string, guard func(sessionID string) (release func(), err error)) error {
	if guard != nil {
		release, err := guard(sessionID)
		if err != nil {
			return err
		}
		defer release()
	}
	return s.Delete(ctx, sessionID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		session              Session
		createdAt, updatedAt int64
	)
	if err := row.Scan(&session.ID, &session.ProjectID, &createdAt, &updatedAt, &session.TurnCount); err != nil {
		return nil, err
	}
	session.CreatedAt = time.Unix(0, createdAt).UTC()
	session.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &session, nil
}
