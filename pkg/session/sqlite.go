package session

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/supportrelay/pkg/llm"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns (session_id, id);`

// SQLiteStore keeps histories as rows of a private in-memory SQLite database.
// Turn order is the autoincrement id, so each Append is a single transaction
// of inserts and needs no read-modify-write.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a private in-memory database. The pool is pinned to a
// single connection because every ":memory:" connection is its own database.
func NewSQLiteStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	return NewSQLiteStoreFromDB(ctx, db)
}

// NewSQLiteStoreFromDB wraps an existing database handle and creates the
// schema if needed. The store takes ownership of db.
func NewSQLiteStoreFromDB(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM turns WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query history for session %q: %w", sessionID, err)
	}
	defer rows.Close()

	history := []llm.Message{}
	for rows.Next() {
		var msg llm.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		history = append(history, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history for session %q: %w", sessionID, err)
	}
	return history, nil
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, turns ...llm.Message) error {
	if len(turns) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertTurns(ctx, tx, sessionID, turns)
	})
}

func (s *SQLiteStore) Replace(ctx context.Context, sessionID string, history []llm.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("clear history for session %q: %w", sessionID, err)
		}
		return insertTurns(ctx, tx, sessionID, history)
	})
}

func (s *SQLiteStore) Sessions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT session_id) FROM turns`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func insertTurns(ctx context.Context, tx *sql.Tx, sessionID string, turns []llm.Message) error {
	for _, turn := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_id, role, content) VALUES (?, ?, ?)`,
			sessionID, string(turn.Role), turn.Content,
		); err != nil {
			return fmt.Errorf("insert %s turn for session %q: %w", turn.Role, sessionID, err)
		}
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
