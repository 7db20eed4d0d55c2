package timemachine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"orgvault/internal/backup"
	"orgvault/internal/source"
)

// Snapshot is one discovered, manifest-committed extraction run.
type Snapshot struct {
	Name      string
	Path      string
	Timestamp time.Time
	Manifest  *backup.Manifest
}

// ListSnapshots scans the immediate subdirectories of root for committed
// snapshots, newest first. A directory without a readable manifest is
// silently excluded: until the manifest exists the snapshot does not.
func (tm *TimeMachine) ListSnapshots() ([]*Snapshot, error) {
	entries, err := os.ReadDir(tm.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup root: %w", err)
	}

	var snapshots []*Snapshot
	for _, e := range entries {
		if !e.IsDir() || !backup.IsSnapshotName(e.Name()) {
			continue
		}
		path := filepath.Join(tm.root, e.Name())
		manifest, err := backup.ReadManifest(path)
		if err != nil {
			tm.logger.Debug("skipping uncommitted snapshot", "dir", e.Name(), "error", err)
			continue
		}
		snapshots = append(snapshots, &Snapshot{
			Name:      e.Name(),
			Path:      path,
			Timestamp: manifest.BackupInfo.Timestamp,
			Manifest:  manifest,
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// ResolveAt returns the nearest snapshot at or before t. When t precedes
// every snapshot the oldest one is returned anyway: a clamped answer beats
// no answer, and callers can read the actual timestamp off the result.
// Returns nil when no snapshots exist.
func (tm *TimeMachine) ResolveAt(t time.Time) (*Snapshot, error) {
	snapshots, err := tm.ListSnapshots()
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}

	for _, s := range snapshots {
		if !s.Timestamp.After(t) {
			return s, nil
		}
	}
	return snapshots[len(snapshots)-1], nil
}

// loadRecords reads data/<objectType>.json from a snapshot. The second
// return value reports whether the object type was captured at all.
func (tm *TimeMachine) loadRecords(s *Snapshot, objectType string) ([]source.Record, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.Path, backup.DataDir, objectType+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading %s records: %w", objectType, err)
	}

	var records []source.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, fmt.Errorf("parsing %s records: %w", objectType, err)
	}
	return records, true, nil
}

// capturedTypes lists the object types present in a snapshot's data
// directory, sorted.
func (tm *TimeMachine) capturedTypes(s *Snapshot) []string {
	entries, err := os.ReadDir(filepath.Join(s.Path, backup.DataDir))
	if err != nil {
		return nil
	}
	var types []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		types = append(types, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(types)
	return types
}
