package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const historySchema = `CREATE TABLE IF NOT EXISTS snapshot_history (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	ts INTEGER NOT NULL,
	scope TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	record_count INTEGER NOT NULL DEFAULT 0,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	digest TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_snapshot_history_ts ON snapshot_history (ts);`

type historyRow struct {
	Seq         int64  `db:"seq"`
	ID          string `db:"id"`
	TS          int64  `db:"ts"`
	Scope       string `db:"scope"`
	Reason      string `db:"reason"`
	RecordCount int    `db:"record_count"`
	SizeBytes   int64  `db:"size_bytes"`
	Digest      string `db:"digest"`
}

func (r historyRow) entry() Entry {
	return Entry{
		ID:          r.ID,
		Timestamp:   time.Unix(0, r.TS).UTC(),
		Scope:       r.Scope,
		Reason:      r.Reason,
		RecordCount: r.RecordCount,
		SizeBytes:   r.SizeBytes,
		Digest:      r.Digest,
	}
}

// SQLiteStore persists the ledger in a SQLite database file.
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLiteStore opens (and if needed creates) the ledger database at path.
// ":memory:" gives a private in-memory database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshot_history (id, ts, scope, reason, record_count, size_bytes, digest)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.UnixNano(), entry.Scope, entry.Reason,
		entry.RecordCount, entry.SizeBytes, entry.Digest,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT seq, id, ts, scope, reason, record_count, size_bytes, digest
		 FROM snapshot_history ORDER BY ts, seq`); err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = r.entry()
	}
	return entries, nil
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshot_history WHERE ts < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Trim(ctx context.Context, max int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshot_history WHERE seq NOT IN (
			SELECT seq FROM snapshot_history ORDER BY ts DESC, seq DESC LIMIT ?
		)`, max)
	if err != nil {
		return 0, fmt.Errorf("failed to trim history: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
