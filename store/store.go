// Package store persists captured messages in an embedded SQLite database.
// One row per stored message, keyed by a compact generated ID; per-mailbox
// retention prunes the oldest messages once a configured cap is exceeded.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/frank-leitner/smtp4dev/logger"
	"github.com/frank-leitner/smtp4dev/pkg/metrics"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const databaseFile = "messages.db"

// ErrNotFound is returned when a message ID does not exist.
var ErrNotFound = errors.New("message not found")

// Message is one captured message as stored on disk. Data holds the raw
// bytes as received on the wire; listings omit it.
type Message struct {
	ID             string    `json:"id"`
	Mailbox        string    `json:"mailbox"`
	Sender         string    `json:"sender"`
	Recipient      string    `json:"recipient"`
	Subject        string    `json:"subject"`
	ClientHostname string    `json:"clientHostname"`
	ClientIP       string    `json:"clientIp"`
	ReceivedAt     time.Time `json:"receivedAt"`
	Size           int64     `json:"size"`
	ContentHash    string    `json:"contentHash"`
	Data           []byte    `json:"-"`
}

// Store is a message store backed by a local SQLite database. It is safe
// for concurrent use.
type Store struct {
	db             *sql.DB
	messagesToKeep int
}

// Open opens (or creates) the message database under basePath and applies
// pending schema migrations. messagesToKeep caps per-mailbox retention;
// 0 keeps everything.
func Open(basePath string, messagesToKeep int) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage path %s: %w", basePath, err)
	}

	dbPath := filepath.Join(basePath, databaseFile)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening message database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		// WAL is an optimization; keep going without it.
		logger.Warn("Failed to enable WAL journal mode", "error", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("message database ping failed: %w", err)
	}

	return &Store{db: db, messagesToKeep: messagesToKeep}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("preparing migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("initializing migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts a message and applies the retention cap for its mailbox.
func (s *Store) Save(ctx context.Context, msg *Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, mailbox, sender, recipient, subject,
			client_hostname, client_ip, received_at, size, content_hash, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Mailbox, msg.Sender, msg.Recipient, msg.Subject,
		msg.ClientHostname, msg.ClientIP, msg.ReceivedAt, msg.Size,
		msg.ContentHash, msg.Data)
	if err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("save", "failure").Inc()
		return fmt.Errorf("saving message %s: %w", msg.ID, err)
	}
	metrics.StoreOperationsTotal.WithLabelValues("save", "success").Inc()

	if err := s.prune(ctx, msg.Mailbox); err != nil {
		// Retention failures must not fail the delivery that triggered them.
		logger.Warn("Failed to prune mailbox", "mailbox", msg.Mailbox, "error", err)
	}
	return nil
}

// prune removes the oldest messages of a mailbox beyond the retention cap.
func (s *Store) prune(ctx context.Context, mailbox string) error {
	if s.messagesToKeep <= 0 {
		return nil
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE mailbox = ? AND id NOT IN (
			SELECT id FROM messages
			WHERE mailbox = ?
			ORDER BY received_at DESC, id DESC
			LIMIT ?
		)`, mailbox, mailbox, s.messagesToKeep)
	if err != nil {
		return err
	}
	if pruned, err := result.RowsAffected(); err == nil && pruned > 0 {
		metrics.StoredMessagesPruned.Add(float64(pruned))
		logger.Debug("Pruned messages beyond retention cap", "mailbox", mailbox, "count", pruned)
	}
	return nil
}

// ListMessages returns the messages of a mailbox, newest first, without
// their raw data.
func (s *Store) ListMessages(ctx context.Context, mailbox string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mailbox, sender, recipient, subject,
			client_hostname, client_ip, received_at, size, content_hash
		FROM messages
		WHERE mailbox = ?
		ORDER BY received_at DESC, id DESC`, mailbox)
	if err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("list", "failure").Inc()
		return nil, fmt.Errorf("listing messages for %s: %w", mailbox, err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Mailbox, &m.Sender, &m.Recipient,
			&m.Subject, &m.ClientHostname, &m.ClientIP, &m.ReceivedAt,
			&m.Size, &m.ContentHash); err != nil {
			metrics.StoreOperationsTotal.WithLabelValues("list", "failure").Inc()
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("list", "failure").Inc()
		return nil, err
	}
	metrics.StoreOperationsTotal.WithLabelValues("list", "success").Inc()
	return messages, nil
}

// GetMessage returns one message including its raw data.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mailbox, sender, recipient, subject,
			client_hostname, client_ip, received_at, size, content_hash, data
		FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.Mailbox, &m.Sender, &m.Recipient, &m.Subject,
			&m.ClientHostname, &m.ClientIP, &m.ReceivedAt, &m.Size,
			&m.ContentHash, &m.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("get", "failure").Inc()
		return nil, fmt.Errorf("loading message %s: %w", id, err)
	}
	metrics.StoreOperationsTotal.WithLabelValues("get", "success").Inc()
	return &m, nil
}

// DeleteMessage removes one message.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("delete", "failure").Inc()
		return fmt.Errorf("deleting message %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	metrics.StoreOperationsTotal.WithLabelValues("delete", "success").Inc()
	return nil
}

// DeleteMailboxMessages removes all messages of a mailbox and returns how
// many were deleted.
func (s *Store) DeleteMailboxMessages(ctx context.Context, mailbox string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE mailbox = ?`, mailbox)
	if err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("clear", "failure").Inc()
		return 0, fmt.Errorf("clearing mailbox %s: %w", mailbox, err)
	}
	metrics.StoreOperationsTotal.WithLabelValues("clear", "success").Inc()
	return result.RowsAffected()
}

// MessageCount returns the number of stored messages in a mailbox.
func (s *Store) MessageCount(ctx context.Context, mailbox string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE mailbox = ?`, mailbox).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages for %s: %w", mailbox, err)
	}
	return count, nil
}
