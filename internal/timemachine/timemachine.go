// Package timemachine answers historical queries over the snapshot store:
// what did the data look like at time T, how did it change between two
// times, and what versions of one record exist across all snapshots.
//
// Every public operation returns a tagged success/failure value and never an
// error: lookup misses are answers, not failures of the machinery.
package timemachine

import (
	"fmt"
	"time"

	"orgvault/internal/backup"
	"orgvault/internal/orgvault"
	"orgvault/internal/source"
)

// TimeMachine reads snapshots produced by many independent writer runs under
// a single root directory.
type TimeMachine struct {
	root   string
	logger orgvault.Logger
}

// New creates a TimeMachine over the given backup root.
func New(root string, logger orgvault.Logger) *TimeMachine {
	return &TimeMachine{root: root, logger: logger}
}

// BackupSummary is one entry of a ListBackups result.
type BackupSummary struct {
	Timestamp time.Time            `json:"timestamp"`
	Path      string               `json:"path"`
	Stats     backup.StatsSnapshot `json:"stats"`
}

// ListBackupsResult is the outcome of the list_backups operation.
type ListBackupsResult struct {
	Success bool            `json:"success"`
	Backups []BackupSummary `json:"backups,omitempty"`
	Count   int             `json:"count"`
	Error   string          `json:"error,omitempty"`
}

// ListBackups lists every committed snapshot, newest first.
func (tm *TimeMachine) ListBackups() *ListBackupsResult {
	snapshots, err := tm.ListSnapshots()
	if err != nil {
		return &ListBackupsResult{Error: err.Error()}
	}

	summaries := make([]BackupSummary, len(snapshots))
	for i, s := range snapshots {
		summaries[i] = BackupSummary{
			Timestamp: s.Timestamp,
			Path:      s.Path,
			Stats:     s.Manifest.DownloadStats,
		}
	}
	return &ListBackupsResult{Success: true, Backups: summaries, Count: len(summaries)}
}

// QueryResult is the outcome of the query_at_point_in_time operation.
type QueryResult struct {
	Success           bool            `json:"success"`
	ObjectType        string          `json:"objectType"`
	SnapshotTimestamp time.Time       `json:"snapshotTimestamp,omitzero"`
	Records           []source.Record `json:"records,omitempty"`
	Count             int             `json:"count"`
	AvailableObjects  []string        `json:"availableObjects,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// QueryAtPointInTime resolves the nearest snapshot at or before target and
// returns the object type's records after applying filters. Records come
// back in on-disk order. When the object type was never captured, the
// failure lists the types that were, to guide correction.
func (tm *TimeMachine) QueryAtPointInTime(target time.Time, objectType string, filters Filters) *QueryResult {
	snapshot, err := tm.ResolveAt(target)
	if err != nil {
		return &QueryResult{ObjectType: objectType, Error: err.Error()}
	}
	if snapshot == nil {
		return &QueryResult{ObjectType: objectType, Error: "no backups found"}
	}

	records, matched := tm.querySnapshot(snapshot, objectType, filters)
	if records == nil && !matched {
		return &QueryResult{
			ObjectType:        objectType,
			SnapshotTimestamp: snapshot.Timestamp,
			AvailableObjects:  tm.capturedTypes(snapshot),
			Error:             fmt.Sprintf("object type %s not found in backup %s", objectType, snapshot.Name),
		}
	}

	return &QueryResult{
		Success:           true,
		ObjectType:        objectType,
		SnapshotTimestamp: snapshot.Timestamp,
		Records:           records,
		Count:             len(records),
	}
}

// querySnapshot loads and filters one object type from one snapshot.
// matched is false when the object type is absent from the snapshot.
func (tm *TimeMachine) querySnapshot(s *Snapshot, objectType string, filters Filters) (records []source.Record, matched bool) {
	all, ok, err := tm.loadRecords(s, objectType)
	if err != nil {
		tm.logger.Warn("loading records", "snapshot", s.Name, "object", objectType, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	if len(filters) == 0 {
		return all, true
	}

	compiled := compileFilters(filters)
	filtered := make([]source.Record, 0, len(all))
	for _, r := range all {
		if compiled.matches(r) {
			filtered = append(filtered, r)
		}
	}
	return filtered, true
}

// ComparePoint is one end of a compare_over_time result.
type ComparePoint struct {
	SnapshotTimestamp time.Time       `json:"snapshotTimestamp"`
	Count             int             `json:"count"`
	Records           []source.Record `json:"records"`
}

// CompareResult is the outcome of the compare_over_time operation.
// CountDifference is the only derived metric: this is a count diff, not a
// per-record diff. Full field-level diffing would be a new operation with a
// new contract, not a change to this one.
type CompareResult struct {
	Success         bool          `json:"success"`
	ObjectType      string        `json:"objectType"`
	Start           *ComparePoint `json:"start,omitempty"`
	End             *ComparePoint `json:"end,omitempty"`
	CountDifference int           `json:"countDifference"`
	Error           string        `json:"error,omitempty"`
}

// CompareOverTime resolves both ends independently and returns each end's
// matching record set plus the signed difference in matching-record count.
func (tm *TimeMachine) CompareOverTime(start, end time.Time, objectType string, filters Filters) *CompareResult {
	startSnap, err := tm.ResolveAt(start)
	if err != nil {
		return &CompareResult{ObjectType: objectType, Error: err.Error()}
	}
	endSnap, err := tm.ResolveAt(end)
	if err != nil {
		return &CompareResult{ObjectType: objectType, Error: err.Error()}
	}
	if startSnap == nil || endSnap == nil {
		return &CompareResult{ObjectType: objectType, Error: "no backups found"}
	}

	startRecords, startOK := tm.querySnapshot(startSnap, objectType, filters)
	endRecords, endOK := tm.querySnapshot(endSnap, objectType, filters)
	if !startOK && !endOK {
		return &CompareResult{
			ObjectType: objectType,
			Error:      fmt.Sprintf("object type %s not found in either backup", objectType),
		}
	}

	return &CompareResult{
		Success:    true,
		ObjectType: objectType,
		Start: &ComparePoint{
			SnapshotTimestamp: startSnap.Timestamp,
			Count:             len(startRecords),
			Records:           startRecords,
		},
		End: &ComparePoint{
			SnapshotTimestamp: endSnap.Timestamp,
			Count:             len(endRecords),
			Records:           endRecords,
		},
		CountDifference: len(endRecords) - len(startRecords),
	}
}

// HistoryEntry is one version of a record found in one snapshot.
type HistoryEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Record    source.Record `json:"record"`
}

// HistoryResult is the outcome of the get_record_history operation.
type HistoryResult struct {
	Success    bool           `json:"success"`
	RecordID   string         `json:"recordId"`
	ObjectType string         `json:"objectType"`
	History    []HistoryEntry `json:"history,omitempty"`
	Count      int            `json:"count"`
	Error      string         `json:"error,omitempty"`
}

// GetRecordHistory scans every snapshot for the given record id and returns
// one entry per snapshot where it appears, in listing order (newest first).
// Snapshots lacking the object type or the record contribute nothing.
func (tm *TimeMachine) GetRecordHistory(id, objectType string) *HistoryResult {
	snapshots, err := tm.ListSnapshots()
	if err != nil {
		return &HistoryResult{RecordID: id, ObjectType: objectType, Error: err.Error()}
	}

	var history []HistoryEntry
	for _, s := range snapshots {
		records, ok, err := tm.loadRecords(s, objectType)
		if err != nil {
			tm.logger.Warn("loading records", "snapshot", s.Name, "object", objectType, "error", err)
			continue
		}
		if !ok {
			continue
		}
		for _, r := range records {
			if idOf(r) == id {
				history = append(history, HistoryEntry{Timestamp: s.Timestamp, Record: r})
				break
			}
		}
	}

	return &HistoryResult{
		Success:    true,
		RecordID:   id,
		ObjectType: objectType,
		History:    history,
		Count:      len(history),
	}
}

func idOf(r source.Record) string {
	if id, ok := r["Id"].(string); ok {
		return id
	}
	return ""
}
