package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ensureSnapshotDir creates the snapshot directory with owner-only
// permissions.
func ensureSnapshotDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return nil
}

// snapshotPath returns the snapshot file for a run.
func (s *Store) snapshotPath(runID string) string {
	return filepath.Join(s.snapDir, runID+".json")
}

// writeSnapshot persists one finished run as JSON. The write goes to a
// temp file in the same directory and renames over the target, so a
// crash never leaves a half-written snapshot.
func (s *Store) writeSnapshot(rec *Record) error {
	if s.snapDir == "" {
		return nil
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	tmp, err := os.CreateTemp(s.snapDir, rec.RunID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set snapshot permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, s.snapshotPath(rec.RunID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	return nil
}

// LoadSnapshots repopulates finished-run history from the snapshot
// directory, oldest first so eviction order survives restarts. Corrupt
// snapshots are skipped with a warning.
func (s *Store) LoadSnapshots(ctx context.Context) (int, error) {
	if s.snapDir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(s.snapDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(s.snapDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn(ctx, "failed to read snapshot", zap.String("path", path), zap.Error(err))
			continue
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn(ctx, "skipping corrupt snapshot", zap.String("path", path), zap.Error(err))
			continue
		}
		if rec.RunID == "" || !rec.Finished() {
			s.logger.Warn(ctx, "skipping incomplete snapshot", zap.String("path", path))
			continue
		}
		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})

	// Keep only the newest limit records
	if len(records) > s.limit {
		records = records[len(records)-s.limit:]
	}

	loaded := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if _, exists := s.runs[rec.RunID]; exists {
			continue
		}
		s.runs[rec.RunID] = rec
		s.finished = append(s.finished, rec.RunID)
		loaded++
	}
	return loaded, nil
}
