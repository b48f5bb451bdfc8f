// Package usage keeps a persistent record of conversation turns and the
// tool calls made during them, and aggregates them into statistics.
// Records are append-only and indexed by timestamp and conversation.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ianisms/ha.ollama.conv.tools/internal/agent"
)

// Record is one finished turn.
type Record struct {
	ID             string
	Timestamp      time.Time
	ConversationID string
	Model          string
	Duration       time.Duration
	Success        bool
	Error          string
	Tools          []ToolRecord
}

// ToolRecord is one tool call within a turn.
type ToolRecord struct {
	Name     string
	Found    bool
	Success  bool
	Duration time.Duration
}

// Summary holds aggregated totals.
type Summary struct {
	TotalRequests       int     `json:"total_requests"`
	FailedRequests      int     `json:"failed_requests"`
	ToolCalls           int     `json:"tool_calls"`
	AverageResponseTime float64 `json:"average_response_time"` // seconds
	ErrorRate           float64 `json:"error_rate"`            // percent
}

func (s *Summary) finish(totalSeconds float64) {
	if s.TotalRequests > 0 {
		s.AverageResponseTime = totalSeconds / float64(s.TotalRequests)
		s.ErrorRate = float64(s.FailedRequests) / float64(s.TotalRequests) * 100
	}
}

// ToolSummary aggregates calls to one tool.
type ToolSummary struct {
	Calls    int `json:"calls"`
	Failures int `json:"failures"`
	NotFound int `json:"not_found"`
}

// Store is an append-only SQLite store for turn records. It is safe for
// concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens the store at dbPath, creating the schema if needed.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS turns (
		id              TEXT PRIMARY KEY,
		timestamp       TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		model           TEXT NOT NULL,
		duration_sec    REAL NOT NULL,
		success         INTEGER NOT NULL,
		error           TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_turns_timestamp ON turns(timestamp);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id);

	CREATE TABLE IF NOT EXISTS tool_calls (
		turn_id      TEXT NOT NULL REFERENCES turns(id),
		seq          INTEGER NOT NULL,
		tool         TEXT NOT NULL,
		found        INTEGER NOT NULL,
		success      INTEGER NOT NULL,
		duration_sec REAL NOT NULL,
		PRIMARY KEY (turn_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool);
	`)
	return err
}

// Record persists rec. An empty ID gets a UUIDv7; a zero timestamp
// gets the current time.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (id, timestamp, conversation_id, model, duration_sec, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.ConversationID,
		rec.Model,
		rec.Duration.Seconds(),
		rec.Success,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	for i, tr := range rec.Tools {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tool_calls (turn_id, seq, tool, found, success, duration_sec)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, i, tr.Name, tr.Found, tr.Success, tr.Duration.Seconds(),
		)
		if err != nil {
			return fmt.Errorf("insert tool call: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ObserveTurn records a finished turn. Failures are logged, not
// returned, so a broken database never fails a conversation.
func (s *Store) ObserveTurn(ctx context.Context, st agent.TurnStats) {
	rec := Record{
		ConversationID: st.ConversationID,
		Model:          st.Model,
		Duration:       st.Duration,
		Success:        st.Success,
	}
	if st.Err != nil {
		rec.Error = st.Err.Error()
	}
	for _, t := range st.Tools {
		rec.Tools = append(rec.Tools, ToolRecord{
			Name:     t.Name,
			Found:    t.Found,
			Success:  t.Success,
			Duration: t.Duration,
		})
	}
	if err := s.Record(ctx, rec); err != nil {
		s.logger.Warn("failed to record turn", "conversation_id", st.ConversationID, "error", err)
	}
}

// Summary returns totals for turns within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0),
		        COALESCE(SUM(duration_sec), 0),
		        (SELECT COUNT(*) FROM tool_calls c JOIN turns t ON c.turn_id = t.id
		          WHERE t.timestamp >= ?1 AND t.timestamp < ?2)
		 FROM turns
		 WHERE timestamp >= ?1 AND timestamp < ?2`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	var seconds float64
	if err := row.Scan(&sum.TotalRequests, &sum.FailedRequests, &seconds, &sum.ToolCalls); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	sum.finish(seconds)
	return &sum, nil
}

// SummaryByModel returns per-model totals for turns within [start, end).
// ToolCalls is not broken down per model and stays zero.
func (s *Store) SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, COUNT(*),
		        COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0),
		        COALESCE(SUM(duration_sec), 0)
		 FROM turns
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY model`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by model: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*Summary)
	for rows.Next() {
		var model string
		var sum Summary
		var seconds float64
		if err := rows.Scan(&model, &sum.TotalRequests, &sum.FailedRequests, &seconds); err != nil {
			return nil, fmt.Errorf("scan usage by model: %w", err)
		}
		sum.finish(seconds)
		out[model] = &sum
	}
	return out, rows.Err()
}

// SummaryByTool returns per-tool call counts for turns within [start, end).
func (s *Store) SummaryByTool(ctx context.Context, start, end time.Time) (map[string]*ToolSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.tool, COUNT(*),
		        COALESCE(SUM(CASE WHEN c.success THEN 0 ELSE 1 END), 0),
		        COALESCE(SUM(CASE WHEN c.found THEN 0 ELSE 1 END), 0)
		 FROM tool_calls c JOIN turns t ON c.turn_id = t.id
		 WHERE t.timestamp >= ? AND t.timestamp < ?
		 GROUP BY c.tool`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by tool: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*ToolSummary)
	for rows.Next() {
		var name string
		var sum ToolSummary
		if err := rows.Scan(&name, &sum.Calls, &sum.Failures, &sum.NotFound); err != nil {
			return nil, fmt.Errorf("scan usage by tool: %w", err)
		}
		out[name] = &sum
	}
	return out, rows.Err()
}
