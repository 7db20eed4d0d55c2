package job

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"orgvault/internal/backup"
)

// Status is the lifecycle state of a background run.
// starting → running → {completed | failed}; terminal records are deleted
// after the cleanup grace period.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ResultInfo is attached to a completed job record.
type ResultInfo struct {
	Duration      int64                `json:"duration"` // milliseconds
	DownloadStats backup.StatsSnapshot `json:"downloadStats"`
}

// Record is the durable state of one background run, exported to
// <jobId>.lock after every transition. The in-process registry is the source
// of truth while the owning process lives; the file exists so other
// processes can observe progress and so a crash leaves evidence behind.
type Record struct {
	JobID           string         `json:"jobId"`
	StartTime       time.Time      `json:"startTime"`
	Status          Status         `json:"status"`
	Message         string         `json:"message"`
	Progress        int            `json:"progress"`
	BackupDirectory string         `json:"backupDirectory"`
	Options         backup.Options `json:"options"`
	PID             int            `json:"pid"`
	LastUpdated     time.Time      `json:"lastUpdated"`
	EndTime         *time.Time     `json:"endTime,omitempty"`
	Result          *ResultInfo    `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
}

const lockFileSuffix = ".lock"

func lockPath(dir, jobID string) string {
	return filepath.Join(dir, jobID+lockFileSuffix)
}

// writeRecord exports a record to its lock file. The write is atomic
// (temp file + rename) so a poll never observes a half-written record.
func writeRecord(dir string, r *Record) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding job record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".lock-*")
	if err != nil {
		return fmt.Errorf("creating temp lock file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing job record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp lock file: %w", err)
	}

	if err := os.Rename(tmpPath, lockPath(dir, r.JobID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming lock file: %w", err)
	}
	return nil
}

// readRecord loads a record from a lock file path.
func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing job record %s: %w", path, err)
	}
	return &r, nil
}
