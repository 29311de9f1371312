// ABOUTME: SQLite-backed execution registry using modernc.org/sqlite
// ABOUTME: Persists run→thread mappings and active executions across restarts

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a durable registry. Mappings survive process restarts, which keeps
// late events routable after a crash mid-run.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens (or creates) the registry database at the given path.
// The schema is created automatically. Parent directories are created if
// needed. Use ":memory:" for an ephemeral registry.
func NewSQLite(path string) (*SQLite, error) {
	logger := slog.Default().With("component", "registry")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
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

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	r := &SQLite{db: db, logger: logger}
	if err := r.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite registry initialized", "path", path)
	return r, nil
}

func (r *SQLite) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS run_mappings (
			run_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_run_mappings_thread
			ON run_mappings(thread_id);

		CREATE TABLE IF NOT EXISTS active_executions (
			run_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			connection_id TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_active_executions_user
			ON active_executions(user_id);
	`
	_, err := r.db.Exec(schema)
	return err
}

// RegisterMapping records run_id -> thread_id, replacing any existing entry.
func (r *SQLite) RegisterMapping(ctx context.Context, runID, threadID string) error {
	if runID == "" {
		return errors.New("run_id is required")
	}
	if threadID == "" {
		return errors.New("thread_id is required")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO run_mappings (run_id, thread_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET thread_id = excluded.thread_id`,
		runID, threadID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("registering mapping: %w", err)
	}
	return nil
}

// UnregisterMapping removes the mapping for run_id.
func (r *SQLite) UnregisterMapping(ctx context.Context, runID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM run_mappings WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("unregistering mapping: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unregistering mapping: %w", err)
	}
	if n == 0 {
		return ErrMappingNotFound
	}
	return nil
}

// Lookup returns the authoritative thread for run_id, if one was registered.
// Database errors are logged and reported as a miss so event resolution can
// fall through to the structural pattern.
func (r *SQLite) Lookup(ctx context.Context, runID string) (string, bool) {
	var threadID string
	err := r.db.QueryRowContext(ctx,
		`SELECT thread_id FROM run_mappings WHERE run_id = ?`, runID).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		r.logger.Error("mapping lookup failed", "run_id", runID, "error", err)
		return "", false
	}
	return threadID, true
}

// RegisterExecution marks an execution as active and records its run→thread
// mapping when the context carries a thread.
func (r *SQLite) RegisterExecution(ctx context.Context, ec *ExecutionContext) error {
	if ec == nil {
		return errors.New("execution context is required")
	}
	if ec.RunID == "" {
		return errors.New("run_id is required")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO active_executions (run_id, user_id, thread_id, connection_id, started_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			user_id = excluded.user_id,
			thread_id = excluded.thread_id,
			connection_id = excluded.connection_id`,
		ec.RunID, ec.UserID, ec.ThreadID, ec.ConnectionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("registering execution: %w", err)
	}
	if ec.ThreadID != "" {
		return r.RegisterMapping(ctx, ec.RunID, ec.ThreadID)
	}
	return nil
}

// CompleteExecution removes an execution from the active set. The run→thread
// mapping is kept so late events can still be routed.
func (r *SQLite) CompleteExecution(ctx context.Context, runID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM active_executions WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("completing execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("completing execution: %w", err)
	}
	if n == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// ListActiveExecutions returns all active executions, oldest first.
func (r *SQLite) ListActiveExecutions(ctx context.Context) ([]Execution, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT run_id, user_id, thread_id, connection_id, started_at
		 FROM active_executions ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var ex Execution
		if err := rows.Scan(&ex.RunID, &ex.UserID, &ex.ThreadID, &ex.ConnectionID, &ex.StartedAt); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// ActiveCount returns the number of executions currently active. Errors
// degrade to zero; callers use this for introspection, not correctness.
func (r *SQLite) ActiveCount() int {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM active_executions`).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}

// Close releases the underlying database handle.
func (r *SQLite) Close() error {
	return r.db.Close()
}
