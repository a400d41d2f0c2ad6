package interactions

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists interactions to sqlite and mirrors the full log into
// an atomically-replaced JSON snapshot. Safe for concurrent writers.
type Store struct {
	db           *sql.DB
	snapshotPath string
	logger       *slog.Logger

	// snapMu serializes snapshot rewrites; sqlite serializes itself.
	snapMu sync.Mutex
	now    func() time.Time
}

// NewStore opens (or creates) the database at dbPath and uses
// snapshotPath for the JSON mirror.
func NewStore(dbPath, snapshotPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{
		db:           db,
		snapshotPath: snapshotPath,
		logger:       logger.With("component", "interactions"),
		now:          time.Now,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS interactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			UNIQUE(timestamp, input)
		);

		CREATE INDEX IF NOT EXISTS idx_interactions_timestamp ON interactions(timestamp);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one interaction to both backends. It succeeds if at
// least one backend took the write; the other backend's failure is
// logged and left for Reconcile. Only when both fail does Record
// return an error.
func (s *Store) Record(input, output, source string) error {
	it := Interaction{
		Timestamp: s.now().UTC(),
		Input:     input,
		Output:    output,
		Source:    source,
	}

	tableErr := s.insert(it)
	if tableErr != nil {
		s.logger.Error("table write failed", "error", tableErr)
	}

	snapErr := s.appendSnapshot(it)
	if snapErr != nil {
		s.logger.Error("snapshot write failed", "error", snapErr)
	}

	if tableErr != nil && snapErr != nil {
		return fmt.Errorf("both backends failed: table: %w; snapshot: %v", tableErr, snapErr)
	}
	return nil
}

func (s *Store) insert(it Interaction) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO interactions (timestamp, input, output, source) VALUES (?, ?, ?, ?)`,
		it.Timestamp.Format(time.RFC3339Nano), it.Input, it.Output, it.Source,
	)
	return err
}

// Recent returns the last n interactions in chronological order. The
// table is queried newest-first and reversed, so callers always see
// oldest → newest regardless of storage order.
func (s *Store) Recent(n int) ([]Interaction, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(
		`SELECT timestamp, input, output, source FROM interactions ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	out, err := scanInteractions(rows)
	if err != nil {
		return nil, err
	}
	// Reverse newest-first into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Count returns the number of stored interactions.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM interactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Last returns the most recent interaction, or false if the log is empty.
func (s *Store) Last() (Interaction, bool, error) {
	row := s.db.QueryRow(
		`SELECT timestamp, input, output, source FROM interactions ORDER BY id DESC LIMIT 1`)
	it, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, false, nil
	}
	if err != nil {
		return Interaction{}, false, err
	}
	return it, true, nil
}

// Search returns interactions whose input or output contains q,
// newest first.
func (s *Store) Search(q string) ([]Interaction, error) {
	pattern := "%" + q + "%"
	rows, err := s.db.Query(
		`SELECT timestamp, input, output, source FROM interactions
		 WHERE input LIKE ? OR output LIKE ? ORDER BY id DESC`,
		pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()
	return scanInteractions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(r rowScanner) (Interaction, error) {
	var it Interaction
	var ts string
	if err := r.Scan(&ts, &it.Input, &it.Output, &it.Source); err != nil {
		return Interaction{}, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Interaction{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	it.Timestamp = parsed
	return it, nil
}

func scanInteractions(rows *sql.Rows) ([]Interaction, error) {
	var out []Interaction
	for rows.Next() {
		it, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
