// Package journal persists finished strategy runs in sqlite so an operator
// can see what reached the chain after a partial failure.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/strategy"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const lockTimeout = 5 * time.Second

type Journal struct {
	db    *sql.DB
	lock  *flock.Flock
	chain string
}

// Open creates or opens the journal. Runs are tagged with chain so one file
// can serve mainnet and testnet.
func Open(path, lockPath, chain string) (*Journal, error) {
	for _, dir := range []string{filepath.Dir(path), filepath.Dir(lockPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}
	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			status TEXT NOT NULL,
			chain TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_runs_status_started ON runs(status, started_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
	}
	return &Journal{db: db, lock: flock.New(lockPath), chain: chain}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordRun upserts run under the cross-process journal lock.
func (j *Journal) RecordRun(ctx context.Context, run strategy.Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("record run: missing run id")
	}
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := j.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock journal: timeout acquiring lock")
	}
	defer func() { _ = j.lock.Unlock() }()

	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	started, finished := unixOrNow(run.StartedAt), unixOrNow(run.FinishedAt)
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, strategy, status, chain, started_at, finished_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status=excluded.status,
			finished_at=excluded.finished_at,
			payload=excluded.payload
	`, run.ID, run.Strategy, string(run.Status), j.chain, started, finished, payload)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (j *Journal) Get(runID string) (strategy.Run, error) {
	var payload []byte
	err := j.db.QueryRow("SELECT payload FROM runs WHERE run_id = ?", strings.TrimSpace(runID)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return strategy.Run{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("run not found: %s", runID))
		}
		return strategy.Run{}, fmt.Errorf("read run: %w", err)
	}
	var run strategy.Run
	if err := json.Unmarshal(payload, &run); err != nil {
		return strategy.Run{}, fmt.Errorf("decode run payload: %w", err)
	}
	return run, nil
}

// List returns the newest runs first, optionally filtered by status.
func (j *Journal) List(status string, limit int) ([]strategy.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = j.db.Query("SELECT payload FROM runs ORDER BY started_at DESC, run_id LIMIT ?", limit)
	} else {
		rows, err = j.db.Query("SELECT payload FROM runs WHERE status = ? ORDER BY started_at DESC, run_id LIMIT ?", strings.ToLower(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]strategy.Run, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		var run strategy.Run
		if err := json.Unmarshal(payload, &run); err != nil {
			return nil, fmt.Errorf("decode run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

func unixOrNow(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UTC().Unix()
	}
	return t.UTC().Unix()
}
