package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/jarvis/internal/config"
	_ "modernc.org/sqlite"
)

// Conversation groups the exchanges of one assistant turn, or of a whole
// session for rows outside any turn.
type Conversation struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	StartedAt time.Time `json:"started_at"`
	Exchanges int       `json:"exchanges"`
}

// Exchange is one stored transcript row.
type Exchange struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	Align          string    `json:"align"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store wraps the SQLite transcript history.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. Ephemeral mode keeps
// nothing and opens no database.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS conversations (
    conversation_id TEXT PRIMARY KEY,
    device_id TEXT,
    started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS exchanges (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL,
    text TEXT NOT NULL,
    align TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(conversation_id) REFERENCES conversations(conversation_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_exchanges_conversation ON exchanges(conversation_id, id);
CREATE INDEX IF NOT EXISTS idx_conversations_started ON conversations(started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// AppendConversation ensures a conversation row exists. An existing row
// keeps its start time.
func (s *Store) AppendConversation(ctx context.Context, conversationID, deviceID string) error {
	if s.disabled() {
		return nil
	}
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(conversation_id, device_id, started_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(conversation_id) DO NOTHING`,
		conversationID, deviceID, s.clock().UTC().UnixNano())
	return err
}

// AppendExchange writes a row and returns its id. The conversation row is
// created on demand.
func (s *Store) AppendExchange(ctx context.Context, ex Exchange) (int64, error) {
	if s.disabled() {
		return 0, nil
	}
	if ex.ConversationID == "" {
		return 0, errors.New("conversation id is required")
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = s.clock().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations(conversation_id, device_id, started_at)
		 VALUES(?, '', ?)
		 ON CONFLICT(conversation_id) DO NOTHING`,
		ex.ConversationID, ex.CreatedAt.UnixNano()); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO exchanges(conversation_id, text, align, created_at) VALUES(?, ?, ?, ?)`,
		ex.ConversationID, ex.Text, ex.Align, ex.CreatedAt.UnixNano())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// ListConversation returns up to limit rows of a conversation in the order
// they were appended.
func (s *Store) ListConversation(ctx context.Context, conversationID string, limit int) ([]Exchange, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, text, align, created_at
		 FROM exchanges WHERE conversation_id = ? ORDER BY id ASC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		var created int64
		if err := rows.Scan(&ex.ID, &ex.ConversationID, &ex.Text, &ex.Align, &created); err != nil {
			return nil, err
		}
		ex.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, ex)
	}
	return out, rows.Err()
}

// ListConversations returns the most recent conversations first.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.conversation_id, c.device_id, c.started_at, COUNT(e.id)
		 FROM conversations c LEFT JOIN exchanges e ON e.conversation_id = c.conversation_id
		 GROUP BY c.conversation_id
		 ORDER BY c.started_at DESC, c.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var started int64
		if err := rows.Scan(&c.ID, &c.DeviceID, &started, &c.Exchanges); err != nil {
			return nil, err
		}
		c.StartedAt = time.Unix(0, started).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM exchanges WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM conversations WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxConversations > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id IN (
			SELECT conversation_id FROM conversations ORDER BY started_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxConversations)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
