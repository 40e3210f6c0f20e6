// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Conversations are keyed by a canonical user pair so each pair has exactly one row

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: writes are serialized and :memory: stays a single database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			email       TEXT NOT NULL DEFAULT '',
			profile_pic TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id          TEXT PRIMARY KEY,
			sender_id   TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			user_low    TEXT NOT NULL,
			user_high   TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			CHECK (user_low < user_high)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
			ON conversations(user_low, user_high);
		CREATE INDEX IF NOT EXISTS idx_conversations_high
			ON conversations(user_high);

		CREATE TABLE IF NOT EXISTS messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			author_id       TEXT NOT NULL,
			text            TEXT,
			image_url       TEXT,
			video_url       TEXT,
			seen            INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, seq);
		CREATE INDEX IF NOT EXISTS idx_messages_unseen
			ON messages(conversation_id, author_id, seen);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(field, v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var createdAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, profile_pic, created_at
		FROM users
		WHERE id = ?
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.ProfilePic, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if u.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser inserts a user or refreshes the profile fields of an existing one.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, profile_pic, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			profile_pic = excluded.profile_pic
	`, user.ID, user.Name, user.Email, user.ProfilePic, formatTime(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}

	s.logger.Debug("upserted user", "id", user.ID)
	return nil
}

const conversationColumns = `id, sender_id, receiver_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var createdAt, updatedAt string

	if err := row.Scan(&c.ID, &c.SenderID, &c.ReceiverID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if c.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindConversation retrieves the conversation between a and b in either direction.
// Returns ErrNotFound if the pair has never exchanged a message.
func (s *SQLiteStore) FindConversation(ctx context.Context, a, b string) (*Conversation, error) {
	low, high := PairKey(a, b)

	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_low = ? AND user_high = ?
	`, low, high)

	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return c, nil
}

// FindOrCreateConversation inserts the pair if missing and then reads it back.
// The UNIQUE pair index turns a racing second insert into a no-op, so both
// callers end up with the same row.
func (s *SQLiteStore) FindOrCreateConversation(ctx context.Context, senderID, receiverID string) (*Conversation, error) {
	if senderID == receiverID {
		return nil, ErrSamePair
	}
	low, high := PairKey(senderID, receiverID)
	now := formatTime(time.Now())

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, sender_id, receiver_id, user_low, user_high, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_low, user_high) DO NOTHING
	`, uuid.New().String(), senderID, receiverID, low, high, now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	if n, _ := result.RowsAffected(); n > 0 {
		s.logger.Debug("created conversation", "sender_id", senderID, "receiver_id", receiverID)
	}

	return s.FindConversation(ctx, senderID, receiverID)
}

// ListConversationsForUser returns all conversations userID is part of,
// most recently updated first.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_low = ? OR user_high = ?
		ORDER BY updated_at DESC, id ASC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	convs := []*Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

// AppendMessage inserts the message and bumps the conversation's updated_at
// in one transaction. msg.ID and msg.CreatedAt are filled in when empty.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, author_id, text, image_url, video_url, seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.AuthorID,
		nullString(msg.Text),
		nullString(msg.ImageURL),
		nullString(msg.VideoURL),
		msg.Seen,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading message seq: %w", err)
	}

	updated, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		formatTime(msg.CreatedAt), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	if n, err := updated.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	msg.Seq = seq
	s.logger.Debug("appended message",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"seq", seq)
	return nil
}

// ListMessages returns every message of the conversation in append order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, conversation_id, author_id, text, image_url, video_url, seen, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	msgs := []*Message{}
	for rows.Next() {
		var m Message
		var text, imageURL, videoURL sql.NullString
		var createdAt string

		if err := rows.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.AuthorID,
			&text, &imageURL, &videoURL, &m.Seen, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Text = text.String
		m.ImageURL = imageURL.String
		m.VideoURL = videoURL.String
		if m.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// MarkSeen sets seen on every unseen message authorID wrote in the conversation.
func (s *SQLiteStore) MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET seen = 1
		WHERE conversation_id = ? AND author_id = ? AND seen = 0
	`, conversationID, authorID)
	if err != nil {
		return 0, fmt.Errorf("marking messages seen: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

// ClearMessages deletes every message in the conversation. The conversation
// row itself is kept.
func (s *SQLiteStore) ClearMessages(ctx context.Context, conversationID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("deleting messages: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	s.logger.Debug("cleared conversation", "conversation_id", conversationID, "deleted", n)
	return n, nil
}

// Compile-time check
var _ Store = (*SQLiteStore)(nil)
