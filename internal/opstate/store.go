// Package opstate keeps runtime settings that change while the agent is
// running and must survive a restart, such as the prompt language picked
// from the Home Assistant select entity. Values are namespaced strings.
package opstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Namespace and key for the active prompt language.
const (
	AgentNamespace = "agent"
	LanguageKey    = "language"
)

// Store is a namespaced key-value store backed by SQLite. It is safe for
// concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore opens the settings database at dbPath, creating the schema
// if needed.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate settings schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS settings (
		namespace  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (namespace, key)
	);
	`)
	return err
}

// Get returns the value stored under namespace/key. A missing key gives
// an empty string and no error.
func (s *Store) Get(ctx context.Context, namespace, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Set upserts namespace/key.
func (s *Store) Set(ctx context.Context, namespace, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes namespace/key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM settings WHERE namespace = ? AND key = ?`,
		namespace, key,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// LanguageSetter is anything whose prompt language can be switched.
type LanguageSetter interface {
	SetLanguage(lang string)
}

// PersistentLanguage switches the language on an inner setter and
// records the choice so [PersistentLanguage.Restore] can reapply it
// after a restart.
type PersistentLanguage struct {
	inner  LanguageSetter
	store  *Store
	logger *slog.Logger
}

// NewPersistentLanguage wraps inner with persistence in store.
func NewPersistentLanguage(inner LanguageSetter, store *Store, logger *slog.Logger) *PersistentLanguage {
	if logger == nil {
		logger = slog.Default()
	}
	return &PersistentLanguage{inner: inner, store: store, logger: logger}
}

// SetLanguage applies lang and saves it. A failed save is logged; the
// switch still takes effect for this run.
func (p *PersistentLanguage) SetLanguage(lang string) {
	p.inner.SetLanguage(lang)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.Set(ctx, AgentNamespace, LanguageKey, lang); err != nil {
		p.logger.Warn("failed to save prompt language", "language", lang, "error", err)
	}
}

// Restore reapplies the saved language, if any, and reports it.
func (p *PersistentLanguage) Restore(ctx context.Context) (string, error) {
	lang, err := p.store.Get(ctx, AgentNamespace, LanguageKey)
	if err != nil || lang == "" {
		return "", err
	}
	p.inner.SetLanguage(lang)
	return lang, nil
}
