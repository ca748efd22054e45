package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/linggo/orchestrator/internal/domain"
)

// SQLiteStore implements Store using SQLite.
//
// The invariant layer lives here as triggers and CHECK constraints rather
// than in the callers: message immutability, the completed-session insert
// guard, per-channel counter maintenance, and the scenario completion
// counters all fire inside the same transaction as the triggering write, so
// no caller can bypass them.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			scenario_id TEXT NOT NULL,
			is_completed INTEGER NOT NULL DEFAULT 0 CHECK (is_completed IN (0, 1)),
			started_at DATETIME NOT NULL,
			last_activity_at DATETIME NOT NULL,
			completed_at DATETIME,
			duration_seconds INTEGER CHECK (duration_seconds IS NULL OR duration_seconds >= 0),
			count_main INTEGER NOT NULL DEFAULT 0 CHECK (count_main >= 0),
			count_helper INTEGER NOT NULL DEFAULT 0 CHECK (count_helper >= 0),
			CHECK ((is_completed = 1 AND completed_at IS NOT NULL)
			    OR (is_completed = 0 AND completed_at IS NULL))
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'helper')),
			channel TEXT NOT NULL CHECK (channel IN ('main', 'helper')),
			content TEXT NOT NULL CHECK (length(content) BETWEEN 1 AND 8000),
			sent_at DATETIME NOT NULL,
			client_token TEXT,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE,
			CHECK (role != 'assistant' OR channel = 'main'),
			CHECK (role != 'helper' OR channel = 'helper')
		)`,
		// Ordering is (sent_at, message_id); the id breaks timestamp ties so
		// two messages never compare equal. The follow-up lookup and history
		// pagination both lean on this index.
		`CREATE INDEX IF NOT EXISTS idx_messages_order ON messages(session_id, sent_at, message_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_token
			ON messages(session_id, client_token) WHERE client_token IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS scenario_stats (
			scenario_id TEXT PRIMARY KEY,
			sessions_started INTEGER NOT NULL DEFAULT 0 CHECK (sessions_started >= 0),
			sessions_completed INTEGER NOT NULL DEFAULT 0 CHECK (sessions_completed >= 0)
		)`,

		// Messages never change after creation. There is no supported update
		// path anywhere in the system; deletes happen only via the session
		// cascade, so no delete trigger.
		`CREATE TRIGGER IF NOT EXISTS trg_messages_immutable
			BEFORE UPDATE ON messages
		BEGIN
			SELECT RAISE(ABORT, 'messages are immutable');
		END`,
		// No message may be written against a completed session.
		`CREATE TRIGGER IF NOT EXISTS trg_messages_completed_guard
			BEFORE INSERT ON messages
			WHEN (SELECT is_completed FROM sessions WHERE session_id = NEW.session_id) = 1
		BEGIN
			SELECT RAISE(ABORT, 'session is completed');
		END`,
		// Channel counters and last_activity_at ride in the same transaction
		// as the insert.
		`CREATE TRIGGER IF NOT EXISTS trg_messages_count_main
			AFTER INSERT ON messages
			WHEN NEW.channel = 'main'
		BEGIN
			UPDATE sessions SET count_main = count_main + 1, last_activity_at = NEW.sent_at
			WHERE session_id = NEW.session_id;
		END`,
		`CREATE TRIGGER IF NOT EXISTS trg_messages_count_helper
			AFTER INSERT ON messages
			WHEN NEW.channel = 'helper'
		BEGIN
			UPDATE sessions SET count_helper = count_helper + 1, last_activity_at = NEW.sent_at
			WHERE session_id = NEW.session_id;
		END`,
		// Active -> Completed is the only transition; a completed session
		// never reopens.
		`CREATE TRIGGER IF NOT EXISTS trg_sessions_no_reopen
			BEFORE UPDATE OF is_completed ON sessions
			WHEN OLD.is_completed = 1 AND NEW.is_completed = 0
		BEGIN
			SELECT RAISE(ABORT, 'completed sessions cannot be reopened');
		END`,
		`CREATE TRIGGER IF NOT EXISTS trg_sessions_stats_started
			AFTER INSERT ON sessions
		BEGIN
			INSERT INTO scenario_stats (scenario_id, sessions_started, sessions_completed)
			VALUES (NEW.scenario_id, 1, 0)
			ON CONFLICT(scenario_id) DO UPDATE SET sessions_started = sessions_started + 1;
		END`,
		`CREATE TRIGGER IF NOT EXISTS trg_sessions_stats_completed
			AFTER UPDATE OF is_completed ON sessions
			WHEN OLD.is_completed = 0 AND NEW.is_completed = 1
		BEGIN
			UPDATE scenario_stats SET sessions_completed = sessions_completed + 1
			WHERE scenario_id = NEW.scenario_id;
		END`,
		// Defensive symmetry for the external cleanup job: deleting a
		// completed session takes its completion back out of the stats.
		`CREATE TRIGGER IF NOT EXISTS trg_sessions_stats_deleted
			AFTER DELETE ON sessions
			WHEN OLD.is_completed = 1
		BEGIN
			UPDATE scenario_stats SET sessions_completed = sessions_completed - 1
			WHERE scenario_id = OLD.scenario_id;
		END`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// translateWriteError maps SQLite constraint failures onto domain error
// kinds so callers can tell a legitimate conflict from a contract violation.
func translateWriteError(op string, err error) error {
	sqliteErr, ok := err.(sqlite3.Error)
	if !ok {
		return domain.PersistenceError(op, err)
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintTrigger:
		return &domain.Error{Kind: domain.KindConflict, Message: sqliteErr.Error()}
	case sqlite3.ErrConstraintUnique:
		return &domain.Error{Kind: domain.KindConflict, Message: "duplicate write: " + sqliteErr.Error()}
	case sqlite3.ErrConstraintCheck:
		return &domain.Error{Kind: domain.KindValidation, Message: sqliteErr.Error()}
	case sqlite3.ErrConstraintForeignKey:
		return domain.NotFoundf("referenced row does not exist")
	}
	return domain.PersistenceError(op, err)
}

// CreateSession creates a new session row. Scenario stats pick up the start
// via trigger.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, scenario_id, is_completed, started_at, last_activity_at)
		 VALUES (?, ?, 0, ?, ?)`,
		session.ID, session.ScenarioID, session.StartedAt, session.LastActivityAt)
	if err != nil {
		return translateWriteError("create session", err)
	}
	return nil
}

// GetSession retrieves a session by ID. Returns nil when the session does
// not exist.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, scenario_id, is_completed, started_at, last_activity_at,
		        completed_at, duration_seconds, count_main, count_helper
		 FROM sessions WHERE session_id = ?`, sessionID)

	var session domain.Session
	var completedAt sql.NullTime
	var duration sql.NullInt64
	err := row.Scan(&session.ID, &session.ScenarioID, &session.IsCompleted,
		&session.StartedAt, &session.LastActivityAt, &completedAt, &duration,
		&session.CountMain, &session.CountHelper)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.PersistenceError("get session", err)
	}
	if completedAt.Valid {
		session.CompletedAt = &completedAt.Time
	}
	if duration.Valid {
		session.DurationSeconds = &duration.Int64
	}
	return &session, nil
}

// CompleteSession performs the Active -> Completed transition. The flag,
// completion timestamp, and duration are written by one conditional UPDATE,
// so they are set exactly once; a second call reports false so the caller
// can surface a conflict instead of silently succeeding.
func (s *SQLiteStore) CompleteSession(ctx context.Context, sessionID string, completedAt time.Time, durationSeconds int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_completed = 1, completed_at = ?, duration_seconds = ?, last_activity_at = ?
		 WHERE session_id = ? AND is_completed = 0`,
		completedAt, durationSeconds, completedAt, sessionID)
	if err != nil {
		return false, translateWriteError("complete session", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, domain.PersistenceError("complete session", err)
	}
	return affected > 0, nil
}

// DeleteSession removes a session and, via cascade, its messages. The
// orchestration core never calls this; it exists for the external
// expiration cleanup job.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return domain.PersistenceError("delete session", err)
	}
	return nil
}

// CreateMessage inserts a message. Every insert path in the system goes
// through here; the triggers reject writes against completed sessions and
// keep the session counters in step.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, role, channel, content, sent_at, client_token)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.SessionID, message.Role, message.Channel,
		message.Content, message.SentAt, nullString(message.ClientToken))
	if err != nil {
		return translateWriteError("create message", err)
	}
	return nil
}

const messageColumns = `message_id, session_id, role, channel, content, sent_at, client_token`

func scanMessage(scan func(dest ...interface{}) error) (*domain.Message, error) {
	var msg domain.Message
	var clientToken sql.NullString
	if err := scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Channel, &msg.Content, &msg.SentAt, &clientToken); err != nil {
		return nil, err
	}
	if clientToken.Valid {
		msg.ClientToken = clientToken.String
	}
	return &msg, nil
}

// GetMessage retrieves a single message by ID. Returns nil when absent.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, messageID)
	msg, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.PersistenceError("get message", err)
	}
	return msg, nil
}

// GetMessageByClientToken looks up the user message a client token was
// accepted under. Returns nil when the token has never been seen.
func (s *SQLiteStore) GetMessageByClientToken(ctx context.Context, sessionID, clientToken string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = ? AND client_token = ?`,
		sessionID, clientToken)
	msg, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.PersistenceError("get message by client token", err)
	}
	return msg, nil
}

// GetFollowupAssistant finds the earliest non-user message on the same
// channel strictly after the given message, under the (sent_at, message_id)
// ordering. Returns nil when no assistant half exists yet.
func (s *SQLiteStore) GetFollowupAssistant(ctx context.Context, after *domain.Message) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE session_id = ? AND channel = ? AND role != 'user'
		   AND (sent_at > ? OR (sent_at = ? AND message_id > ?))
		 ORDER BY sent_at ASC, message_id ASC
		 LIMIT 1`,
		after.SessionID, after.Channel, after.SentAt, after.SentAt, after.ID)
	msg, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.PersistenceError("get followup message", err)
	}
	return msg, nil
}

// GetMessages retrieves messages for a session ordered by (sent_at,
// message_id). An empty channel means both channels. The before cursor is a
// message ID; the page ends strictly before that message's position.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, channel domain.Channel, limit int, before string) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_id = ?`
	args := []interface{}{sessionID}

	if channel != "" {
		query += ` AND channel = ?`
		args = append(args, channel)
	}

	if before != "" {
		cursor, err := s.GetMessage(ctx, before)
		if err != nil {
			return nil, err
		}
		if cursor == nil {
			return nil, domain.NotFoundf("cursor message %s not found", before)
		}
		query += ` AND (sent_at < ? OR (sent_at = ? AND message_id < ?))`
		args = append(args, cursor.SentAt, cursor.SentAt, cursor.ID)
	}

	query += ` ORDER BY sent_at ASC, message_id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.PersistenceError("get messages", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, domain.PersistenceError("get messages", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.PersistenceError("get messages", err)
	}
	return messages, nil
}

// GetScenarioStats retrieves the aggregate counters for a scenario. Returns
// zero counters when no session has ever been started for it.
func (s *SQLiteStore) GetScenarioStats(ctx context.Context, scenarioID string) (*domain.ScenarioStats, error) {
	stats := &domain.ScenarioStats{ScenarioID: scenarioID}
	err := s.db.QueryRowContext(ctx,
		`SELECT sessions_started, sessions_completed FROM scenario_stats WHERE scenario_id = ?`,
		scenarioID).Scan(&stats.SessionsStarted, &stats.SessionsCompleted)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return nil, domain.PersistenceError("get scenario stats", err)
	}
	return stats, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
