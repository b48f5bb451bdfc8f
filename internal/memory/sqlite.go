package memory

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists history snapshots to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS history (
		conversation_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		text TEXT NOT NULL,
		timestamp REAL NOT NULL,
		PRIMARY KEY (conversation_id, seq)
	);
	`)
	return err
}

// Save replaces the stored history with snapshot in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snapshot map[string][]Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO history (conversation_id, seq, text, timestamp) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for id, items := range snapshot {
		for seq, it := range items {
			if _, err := stmt.ExecContext(ctx, id, seq, it.Text, it.Timestamp); err != nil {
				return fmt.Errorf("insert %s/%d: %w", id, seq, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load returns every stored conversation in order.
func (s *SQLiteStore) Load(ctx context.Context) (map[string][]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, text, timestamp
		FROM history
		ORDER BY conversation_id, seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	snap := make(map[string][]Item)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ConversationID, &it.Text, &it.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		snap[it.ConversationID] = append(snap[it.ConversationID], it)
	}
	return snap, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
