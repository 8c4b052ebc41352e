// ABOUTME: SQLite implementation of the history Store using modernc.org/sqlite
// ABOUTME: Column-family-shaped tables with automatic schema creation

package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the history database at path. Parent
// directories are created if needed and the schema is bootstrapped.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "history")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("history store initialized", "path", path)
	return s, nil
}

// createSchema creates the tables if they don't exist. Times are stored as
// unix nanoseconds so descending clustering order is a plain integer sort.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages_by_conversation_time (
			conversation_id TEXT    NOT NULL,
			time_bucket     TEXT    NOT NULL,
			message_time    INTEGER NOT NULL,
			message_id      TEXT    NOT NULL,
			sender_id       TEXT    NOT NULL,
			content         TEXT    NOT NULL,
			kind            INTEGER NOT NULL,

			PRIMARY KEY (conversation_id, time_bucket, message_time, message_id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_partition_time
			ON messages_by_conversation_time(conversation_id, time_bucket, message_time DESC);

		CREATE TABLE IF NOT EXISTS user_timeline (
			user_id         TEXT    NOT NULL,
			message_time    INTEGER NOT NULL,
			message_id      TEXT    NOT NULL,
			conversation_id TEXT    NOT NULL,
			preview         TEXT    NOT NULL,

			PRIMARY KEY (user_id, message_time, message_id)
		);

		CREATE INDEX IF NOT EXISTS idx_timeline_user_time
			ON user_timeline(user_id, message_time DESC);

		CREATE TABLE IF NOT EXISTS conversation_activity (
			conversation_id TEXT    NOT NULL,
			activity_time   INTEGER NOT NULL,
			user_id         TEXT    NOT NULL,
			activity_type   TEXT    NOT NULL,
			expires_at      INTEGER,

			PRIMARY KEY (conversation_id, activity_time, user_id),
			CHECK (activity_type IN (
				'typing', 'online', 'offline', 'joined', 'left', 'message', 'message_read'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_activity_conversation_time
			ON conversation_activity(conversation_id, activity_time DESC);

		CREATE INDEX IF NOT EXISTS idx_activity_expires
			ON conversation_activity(expires_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// AppendMessage persists one message log record.
func (s *SQLiteStore) AppendMessage(ctx context.Context, rec *MessageRecord) error {
	query := `
		INSERT INTO messages_by_conversation_time (
			conversation_id, time_bucket, message_time, message_id, sender_id, content, kind
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ConversationID,
		rec.TimeBucket,
		rec.MessageTime.UnixNano(),
		rec.MessageID,
		rec.SenderID,
		rec.Content,
		rec.Kind,
	)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit records from the conversation's current
// time bucket, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*MessageRecord, error) {
	return s.queryMessages(ctx, conversationID, CurrentBucket(), limit)
}

// MessagesInBucket returns the conversation's records from a specific time
// bucket, newest first.
func (s *SQLiteStore) MessagesInBucket(ctx context.Context, conversationID, bucket string) ([]*MessageRecord, error) {
	return s.queryMessages(ctx, conversationID, bucket, 0)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, conversationID, bucket string, limit int) ([]*MessageRecord, error) {
	query := `
		SELECT conversation_id, time_bucket, message_time, message_id, sender_id, content, kind
		FROM messages_by_conversation_time
		WHERE conversation_id = ? AND time_bucket = ?
		ORDER BY message_time DESC, message_id
	`
	args := []any{conversationID, bucket}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var records []*MessageRecord
	for rows.Next() {
		var rec MessageRecord
		var nanos int64
		if err := rows.Scan(
			&rec.ConversationID,
			&rec.TimeBucket,
			&nanos,
			&rec.MessageID,
			&rec.SenderID,
			&rec.Content,
			&rec.Kind,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		rec.MessageTime = time.Unix(0, nanos)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// AppendTimeline persists one timeline entry.
func (s *SQLiteStore) AppendTimeline(ctx context.Context, entry *TimelineEntry) error {
	query := `
		INSERT INTO user_timeline (
			user_id, message_time, message_id, conversation_id, preview
		) VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.UserID,
		entry.MessageTime.UnixNano(),
		entry.MessageID,
		entry.ConversationID,
		entry.Preview,
	)
	if err != nil {
		return fmt.Errorf("appending timeline entry: %w", err)
	}
	return nil
}

// UserTimeline returns up to limit entries for the user, newest first.
func (s *SQLiteStore) UserTimeline(ctx context.Context, userID string, limit int) ([]*TimelineEntry, error) {
	query := `
		SELECT user_id, message_time, message_id, conversation_id, preview
		FROM user_timeline
		WHERE user_id = ?
		ORDER BY message_time DESC, message_id
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying timeline: %w", err)
	}
	defer rows.Close()

	var entries []*TimelineEntry
	for rows.Next() {
		var entry TimelineEntry
		var nanos int64
		if err := rows.Scan(
			&entry.UserID,
			&nanos,
			&entry.MessageID,
			&entry.ConversationID,
			&entry.Preview,
		); err != nil {
			return nil, fmt.Errorf("scanning timeline entry: %w", err)
		}
		entry.MessageTime = time.Unix(0, nanos)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// RecordActivity persists one activity entry.
func (s *SQLiteStore) RecordActivity(ctx context.Context, act *Activity) error {
	var expires any
	if act.ExpiresAt != nil {
		expires = act.ExpiresAt.UnixNano()
	}

	query := `
		INSERT INTO conversation_activity (
			conversation_id, activity_time, user_id, activity_type, expires_at
		) VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		act.ConversationID,
		act.ActivityTime.UnixNano(),
		act.UserID,
		string(act.Kind),
		expires,
	)
	if err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}
	return nil
}

// RecentActivity returns up to limit non-expired activity entries for the
// conversation, newest first. Expired ephemeral entries are filtered out.
func (s *SQLiteStore) RecentActivity(ctx context.Context, conversationID string, limit int) ([]*Activity, error) {
	query := `
		SELECT conversation_id, activity_time, user_id, activity_type, expires_at
		FROM conversation_activity
		WHERE conversation_id = ?
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY activity_time DESC, user_id
	`
	args := []any{conversationID, time.Now().UnixNano()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer rows.Close()

	var activities []*Activity
	for rows.Next() {
		var act Activity
		var nanos int64
		var expires sql.NullInt64
		var kind string
		if err := rows.Scan(
			&act.ConversationID,
			&nanos,
			&act.UserID,
			&kind,
			&expires,
		); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		act.ActivityTime = time.Unix(0, nanos)
		act.Kind = ActivityKind(kind)
		if expires.Valid {
			t := time.Unix(0, expires.Int64)
			act.ExpiresAt = &t
		}
		activities = append(activities, &act)
	}
	return activities, rows.Err()
}

// PurgeExpiredActivity deletes ephemeral entries whose TTL has elapsed and
// returns the number removed.
func (s *SQLiteStore) PurgeExpiredActivity(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_activity WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("purging expired activity: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
