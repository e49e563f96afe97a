// Package sessionstore persists agent context snapshots in a local
// SQLite database so sessions can be resumed across process restarts.
package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/corohq/coro-agent/internal/lockfile"
)

// ErrNoSnapshot means no snapshot is stored for the requested agent.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Store is the local snapshot database. One row per saved snapshot;
// resume picks the most recent per agent.
type Store struct {
	db   *sql.DB
	lock *lockfile.Lock
}

// Record is one stored snapshot row. SnapshotJSON is the serialized
// persisted-context document; the store does not interpret it.
type Record struct {
	ID              int64  `json:"id"`
	AgentID         string `json:"agent_id"`
	AgentType       string `json:"agent_type"`
	Task            string `json:"task,omitempty"`
	SnapshotJSON    string `json:"snapshot_json"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	// One writer process at a time. A second agent pointed at the same
	// state dir fails fast instead of corrupting the database.
	lock, err := lockfile.Acquire(p + ".lock")
	if err != nil {
		return nil, fmt.Errorf("lock session store: %w", err)
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		_ = lock.Release()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, lock: lock}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.lock != nil {
		if rerr := s.lock.Release(); err == nil {
			err = rerr
		}
		s.lock = nil
	}
	return err
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	task TEXT NOT NULL DEFAULT '',
	snapshot_json TEXT NOT NULL,
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_agent ON snapshots(agent_id, created_at_unix_ms DESC);
`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveSnapshot stores one snapshot document for agentID.
func (s *Store) SaveSnapshot(ctx context.Context, agentID, agentType, task, snapshotJSON string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is closed")
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return 0, errors.New("missing agent id")
	}
	if strings.TrimSpace(snapshotJSON) == "" {
		return 0, errors.New("missing snapshot document")
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO snapshots (agent_id, agent_type, task, snapshot_json, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?)`,
		agentID, strings.TrimSpace(agentType), strings.TrimSpace(task), snapshotJSON, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, nil
}

// LatestSnapshot returns the most recent snapshot for agentID.
func (s *Store) LatestSnapshot(ctx context.Context, agentID string) (*Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is closed")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, agent_id, agent_type, task, snapshot_json, created_at_unix_ms
FROM snapshots WHERE agent_id = ?
ORDER BY created_at_unix_ms DESC, id DESC LIMIT 1`, strings.TrimSpace(agentID))
	var rec Record
	if err := row.Scan(&rec.ID, &rec.AgentID, &rec.AgentType, &rec.Task, &rec.SnapshotJSON, &rec.CreatedAtUnixMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: agent %s", ErrNoSnapshot, agentID)
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &rec, nil
}

// ListAgents returns the distinct agent ids with stored snapshots,
// most recently saved first.
func (s *Store) ListAgents(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is closed")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT agent_id FROM snapshots
GROUP BY agent_id ORDER BY MAX(created_at_unix_ms) DESC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep snapshots per agent and deletes the rest.
func (s *Store) Prune(ctx context.Context, agentID string, keep int) error {
	if s == nil || s.db == nil {
		return errors.New("store is closed")
	}
	if keep < 1 {
		keep = 1
	}
	_, err := s.db.ExecContext(ctx, `
DELETE FROM snapshots WHERE agent_id = ? AND id NOT IN (
	SELECT id FROM snapshots WHERE agent_id = ?
	ORDER BY created_at_unix_ms DESC, id DESC LIMIT ?
)`, strings.TrimSpace(agentID), strings.TrimSpace(agentID), keep)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}
