package sessionstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hochfrequenz/selfheal/internal/domain"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for sessions, their errors and
// patches, rollback operations, and the append-only event timeline.
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite permits one writer; a single pooled connection also keeps
	// ":memory:" databases from silently splitting per connection.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession inserts or updates a session row (not its children)
func (s *Store) SaveSession(sess *domain.DebugSession) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, pipeline_id, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			expires_at = excluded.expires_at
	`,
		sess.ID,
		sess.PipelineID,
		string(sess.Status),
		sess.CreatedAt,
		sess.ExpiresAt,
	)
	return err
}

// UpdateSessionStatus updates a session's status
func (s *Store) UpdateSessionStatus(id string, status domain.SessionStatus) error {
	_, err := s.db.Exec(`UPDATE sessions SET status = ? WHERE id = ?`, string(status), id)
	return err
}

// GetSession retrieves a session with its errors and patches loaded
func (s *Store) GetSession(id string) (*domain.DebugSession, error) {
	row := s.db.QueryRow(`
		SELECT id, pipeline_id, status, created_at, expires_at
		FROM sessions WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	if sess.Errors, err = s.listErrors(id); err != nil {
		return nil, err
	}
	if sess.Patches, err = s.listPatches(id); err != nil {
		return nil, err
	}
	return sess, nil
}

// ListOptions specifies filters for listing sessions
type ListOptions struct {
	PipelineID string
	Status     domain.SessionStatus
}

// ListSessions returns session rows matching the given options, newest
// first. Children are not loaded; use GetSession for a full view.
func (s *Store) ListSessions(opts ListOptions) ([]*domain.DebugSession, error) {
	query := `SELECT id, pipeline_id, status, created_at, expires_at FROM sessions WHERE 1=1`
	var args []interface{}

	if opts.PipelineID != "" {
		query += " AND pipeline_id = ?"
		args = append(args, opts.PipelineID)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}

	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.DebugSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListActiveSessions returns all sessions in a non-terminal status
func (s *Store) ListActiveSessions() ([]*domain.DebugSession, error) {
	rows, err := s.db.Query(`
		SELECT id, pipeline_id, status, created_at, expires_at
		FROM sessions WHERE status NOT IN (?, ?, ?)
	`,
		string(domain.StatusCompleted),
		string(domain.StatusFailed),
		string(domain.StatusCancelled),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.DebugSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionCounts holds per-session child counts for list views
type SessionCounts struct {
	Errors  int
	Patches int
}

// CountChildren returns error and patch counts keyed by session id.
// Sessions without children are absent from the map.
func (s *Store) CountChildren() (map[string]SessionCounts, error) {
	counts := make(map[string]SessionCounts)

	for _, q := range []struct {
		query string
		add   func(c *SessionCounts, n int)
	}{
		{`SELECT session_id, COUNT(*) FROM errors GROUP BY session_id`,
			func(c *SessionCounts, n int) { c.Errors = n }},
		{`SELECT session_id, COUNT(*) FROM patches GROUP BY session_id`,
			func(c *SessionCounts, n int) { c.Patches = n }},
	} {
		rows, err := s.db.Query(q.query)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			var n int
			if err := rows.Scan(&id, &n); err != nil {
				rows.Close()
				return nil, err
			}
			c := counts[id]
			q.add(&c, n)
			counts[id] = c
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return counts, nil
}

// SaveError inserts or updates one error record
func (s *Store) SaveError(e *domain.Error) error {
	var locFile sql.NullString
	var locLine sql.NullInt64
	if e.Location != nil {
		locFile = sql.NullString{String: e.Location.File, Valid: true}
		locLine = sql.NullInt64{Int64: int64(e.Location.Line), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO errors (id, session_id, category, severity, message, raw_log_excerpt,
			location_file, location_line, confidence, auto_fixable, source, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category = excluded.category,
			severity = excluded.severity,
			confidence = excluded.confidence,
			auto_fixable = excluded.auto_fixable
	`,
		e.ID, e.SessionID, string(e.Category), string(e.Severity), e.Message, e.RawLogExcerpt,
		locFile, locLine, e.Confidence, e.AutoFixable, string(e.Source), e.DetectedAt,
	)
	return err
}

// SavePatch inserts or updates one patch record
func (s *Store) SavePatch(p *domain.PatchSolution) error {
	diffJSON, err := json.Marshal(p.Diff)
	if err != nil {
		return err
	}

	var success sql.NullBool
	if p.Success != nil {
		success = sql.NullBool{Bool: *p.Success, Valid: true}
	}
	var appliedAt sql.NullTime
	if p.AppliedAt != nil {
		appliedAt = sql.NullTime{Time: *p.AppliedAt, Valid: true}
	}
	var rejected sql.NullString
	if p.Rejected != nil {
		rejected = sql.NullString{String: string(*p.Rejected), Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO patches (id, error_id, session_id, type, description, diff, confidence,
			is_reversible, applied, success, applied_at, rollback_token, rejected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			applied = excluded.applied,
			success = excluded.success,
			applied_at = excluded.applied_at,
			rollback_token = excluded.rollback_token,
			rejected = excluded.rejected
	`,
		p.ID, p.ErrorID, p.SessionID, string(p.Type), p.Description, string(diffJSON), p.Confidence,
		p.IsReversible, p.Applied, success, appliedAt, p.RollbackToken, rejected,
	)
	return err
}

// SaveRollback inserts or updates a rollback operation record
func (s *Store) SaveRollback(op *domain.RollbackOperation) error {
	var completedAt sql.NullTime
	if op.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *op.CompletedAt, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO rollbacks (id, patch_id, status, snapshot_ref, completed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at
	`,
		op.ID, op.PatchID, string(op.Status), op.SnapshotRef, completedAt,
	)
	return err
}

// ListRollbacks returns all rollback operations for a patch
func (s *Store) ListRollbacks(patchID string) ([]*domain.RollbackOperation, error) {
	rows, err := s.db.Query(`
		SELECT id, patch_id, status, snapshot_ref, completed_at
		FROM rollbacks WHERE patch_id = ? ORDER BY id
	`, patchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*domain.RollbackOperation
	for rows.Next() {
		var op domain.RollbackOperation
		var status string
		var snapshotRef sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&op.ID, &op.PatchID, &status, &snapshotRef, &completedAt); err != nil {
			return nil, err
		}
		op.Status = domain.RollbackStatus(status)
		op.SnapshotRef = snapshotRef.String
		if completedAt.Valid {
			t := completedAt.Time
			op.CompletedAt = &t
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// TimelineEvent is one persisted entry of a session's event history
type TimelineEvent struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AppendEvent appends one event to a session's timeline
func (s *Store) AppendEvent(sessionID, eventType string, payload []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO timeline (session_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, eventType, string(payload), time.Now())
	return err
}

// ListTimeline returns a session's events in append order, capped at limit
// (0 means no cap)
func (s *Store) ListTimeline(sessionID string, limit int) ([]*TimelineEvent, error) {
	query := `SELECT id, session_id, event_type, payload, created_at FROM timeline WHERE session_id = ? ORDER BY id`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*TimelineEvent
	for rows.Next() {
		var ev TimelineEvent
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			ev.Payload = json.RawMessage(payload.String)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (s *Store) listErrors(sessionID string) ([]*domain.Error, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, category, severity, message, raw_log_excerpt,
			location_file, location_line, confidence, auto_fixable, source, detected_at
		FROM errors WHERE session_id = ? ORDER BY detected_at, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var errs []*domain.Error
	for rows.Next() {
		var e domain.Error
		var category, severity, source string
		var excerptCol, locFile sql.NullString
		var locLine sql.NullInt64
		err := rows.Scan(&e.ID, &e.SessionID, &category, &severity, &e.Message, &excerptCol,
			&locFile, &locLine, &e.Confidence, &e.AutoFixable, &source, &e.DetectedAt)
		if err != nil {
			return nil, err
		}
		e.Category = domain.ErrorCategory(category)
		e.Severity = domain.Severity(severity)
		e.Source = domain.ClassificationSource(source)
		e.RawLogExcerpt = excerptCol.String
		if locFile.Valid {
			e.Location = &domain.Location{File: locFile.String, Line: int(locLine.Int64)}
		}
		errs = append(errs, &e)
	}
	return errs, rows.Err()
}

func (s *Store) listPatches(sessionID string) ([]*domain.PatchSolution, error) {
	rows, err := s.db.Query(`
		SELECT id, error_id, session_id, type, description, diff, confidence,
			is_reversible, applied, success, applied_at, rollback_token, rejected
		FROM patches WHERE session_id = ? ORDER BY rowid
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patches []*domain.PatchSolution
	for rows.Next() {
		var p domain.PatchSolution
		var typ, diffJSON string
		var description, rollbackToken, rejected sql.NullString
		var success sql.NullBool
		var appliedAt sql.NullTime
		err := rows.Scan(&p.ID, &p.ErrorID, &p.SessionID, &typ, &description, &diffJSON, &p.Confidence,
			&p.IsReversible, &p.Applied, &success, &appliedAt, &rollbackToken, &rejected)
		if err != nil {
			return nil, err
		}
		p.Type = domain.PatchType(typ)
		p.Description = description.String
		p.RollbackToken = rollbackToken.String
		if err := json.Unmarshal([]byte(diffJSON), &p.Diff); err != nil {
			return nil, fmt.Errorf("patch %s: decoding diff: %w", p.ID, err)
		}
		if success.Valid {
			v := success.Bool
			p.Success = &v
		}
		if appliedAt.Valid {
			t := appliedAt.Time
			p.AppliedAt = &t
		}
		if rejected.Valid {
			r := domain.RejectedReason(rejected.String)
			p.Rejected = &r
		}
		patches = append(patches, &p)
	}
	return patches, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanSession
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*domain.DebugSession, error) {
	var sess domain.DebugSession
	var status string
	var expiresAt sql.NullTime

	if err := row.Scan(&sess.ID, &sess.PipelineID, &status, &sess.CreatedAt, &expiresAt); err != nil {
		return nil, err
	}
	sess.Status = domain.SessionStatus(status)
	if expiresAt.Valid {
		sess.ExpiresAt = expiresAt.Time
	}
	return &sess, nil
}
