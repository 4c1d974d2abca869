package storagewatch

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Ledger remembers which bucket objects were processed.
type Ledger interface {
	Seen(ctx context.Context, bucket, path string) (bool, error)
	Mark(ctx context.Context, bucket, path string) error
	Close() error
}

// MemoryLedger forgets everything on restart, so a restarted watcher
// processes every listed file again.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: map[string]struct{}{}}
}

func (l *MemoryLedger) Seen(_ context.Context, bucket, path string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[bucket+"/"+path]
	return ok, nil
}

func (l *MemoryLedger) Mark(_ context.Context, bucket, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[bucket+"/"+path] = struct{}{}
	return nil
}

func (l *MemoryLedger) Close() error { return nil }

const ledgerDDL = `CREATE TABLE IF NOT EXISTS processed_files (
	bucket       TEXT NOT NULL,
	path         TEXT NOT NULL,
	processed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (bucket, path)
)`

// SQLiteLedger persists processed markers in a local SQLite file.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLiteLedger opens (or creates) the ledger database at path.
func OpenSQLiteLedger(path string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(ledgerDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ledger table: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Seen(ctx context.Context, bucket, path string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM processed_files WHERE bucket = ? AND path = ?`, bucket, path).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *SQLiteLedger) Mark(ctx context.Context, bucket, path string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO processed_files (bucket, path, processed_at) VALUES (?, ?, ?)
		 ON CONFLICT (bucket, path) DO UPDATE SET processed_at = excluded.processed_at`,
		bucket, path, time.Now().UTC())
	return err
}

// HealthPing reports whether the ledger file is reachable.
func (l *SQLiteLedger) HealthPing(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *SQLiteLedger) Close() error { return l.db.Close() }
