package interactions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// appendSnapshot rewrites the JSON snapshot with it appended. The whole
// document is written to a temp file and renamed into place so an
// interrupted save never leaves a half-written snapshot behind.
func (s *Store) appendSnapshot(it Interaction) error {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	doc, err := readSnapshot(s.snapshotPath)
	if err != nil {
		return err
	}
	doc.Interactions = append(doc.Interactions, it)
	return writeSnapshot(s.snapshotPath, doc)
}

// SnapshotAll returns the snapshot file's interactions.
func (s *Store) SnapshotAll() ([]Interaction, error) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	doc, err := readSnapshot(s.snapshotPath)
	if err != nil {
		return nil, err
	}
	return doc.Interactions, nil
}

// ImportSnapshot bulk-loads the snapshot document at path into the
// table backend, skipping rows whose (timestamp, input) pair already
// exists. Returns the number of rows inserted.
func (s *Store) ImportSnapshot(path string) (int, error) {
	doc, err := readSnapshot(path)
	if err != nil {
		return 0, err
	}
	return s.mergeIntoTable(doc.Interactions)
}

// Import merges already-decoded interactions into the table backend
// with the same (timestamp, input) dedupe as ImportSnapshot, then
// reconciles so the snapshot reflects the merge.
func (s *Store) Import(items []Interaction) (int, error) {
	inserted, err := s.mergeIntoTable(items)
	if err != nil {
		return inserted, err
	}
	if _, err := s.Reconcile(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// Reconcile runs an explicit convergence pass over the two backends:
// snapshot rows missing from the table are inserted, then the snapshot
// is rewritten from the table so both ends hold the same union.
// Returns the number of rows the table gained.
func (s *Store) Reconcile() (int, error) {
	snap, err := s.SnapshotAll()
	if err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}

	inserted, err := s.mergeIntoTable(snap)
	if err != nil {
		return inserted, fmt.Errorf("merge into table: %w", err)
	}

	all, err := s.allFromTable()
	if err != nil {
		return inserted, fmt.Errorf("read table: %w", err)
	}

	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if err := writeSnapshot(s.snapshotPath, snapshotDoc{Interactions: all}); err != nil {
		return inserted, fmt.Errorf("rewrite snapshot: %w", err)
	}

	s.logger.Info("reconciled backends", "table_gained", inserted, "total", len(all))
	return inserted, nil
}

// mergeIntoTable inserts interactions not already present, deduplicated
// on (timestamp, input).
func (s *Store) mergeIntoTable(items []Interaction) (int, error) {
	inserted := 0
	seen := make(map[key]struct{}, len(items))
	for _, it := range items {
		k := keyOf(it)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		res, err := s.db.Exec(
			`INSERT OR IGNORE INTO interactions (timestamp, input, output, source) VALUES (?, ?, ?, ?)`,
			it.Timestamp.UTC().Format(time.RFC3339Nano), it.Input, it.Output, it.Source,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

func (s *Store) allFromTable() ([]Interaction, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, input, output, source FROM interactions ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInteractions(rows)
}

// readSnapshot loads the snapshot document at path. A missing file is
// an empty log, not an error.
func readSnapshot(path string) (snapshotDoc, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return snapshotDoc{}, nil
	}
	if err != nil {
		return snapshotDoc{}, fmt.Errorf("read snapshot: %w", err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return snapshotDoc{}, fmt.Errorf("parse snapshot: %w", err)
	}
	return doc, nil
}

// writeSnapshot atomically replaces the snapshot at path: write to a
// temp file in the same directory, fsync, rename.
func writeSnapshot(path string, doc snapshotDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(data)
	if werr == nil {
		werr = tmp.Sync()
	}
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpName)
		if werr != nil {
			return fmt.Errorf("write temp snapshot: %w", werr)
		}
		return fmt.Errorf("close temp snapshot: %w", cerr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
