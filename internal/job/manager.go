package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"orgvault/internal/backup"
	"orgvault/internal/orgvault"
	"orgvault/internal/source"
)

// DefaultCleanupGrace is how long a terminal lock file lingers before the
// cleanup timer deletes it. Tests override it to something small.
const DefaultCleanupGrace = 5 * time.Second

// Config holds the manager's operational settings.
type Config struct {
	// BackupRoot is where snapshot directories are created.
	BackupRoot string
	// JobDir is where lock files live.
	JobDir string
	// CleanupGrace overrides DefaultCleanupGrace when positive.
	CleanupGrace time.Duration
	// RetryDelay is passed through to the snapshot writer's downloader.
	RetryDelay time.Duration
}

// Handle is returned by Start. The run reports its terminal state by closing
// Done; all intermediate state is observable through Status.
type Handle struct {
	JobID     string
	Directory string
	Done      <-chan struct{}
}

// Manager runs snapshot writers as background jobs. Each job's live state is
// held in an in-process registry guarded by a mutex; the lock file on disk is
// a durability export written after every transition, never read back as the
// source of truth. One writer per job id by construction: ids derive from
// start time and Start refuses a duplicate.
type Manager struct {
	src    source.RecordSource
	clock  orgvault.Clock
	logger orgvault.Logger
	cfg    Config

	mu   sync.Mutex
	jobs map[string]*jobState
}

type jobState struct {
	record Record
	done   chan struct{}
}

// NewManager creates a Manager.
func NewManager(src source.RecordSource, clock orgvault.Clock, logger orgvault.Logger, cfg Config) *Manager {
	if cfg.CleanupGrace <= 0 {
		cfg.CleanupGrace = DefaultCleanupGrace
	}
	return &Manager{
		src:    src,
		clock:  clock,
		logger: logger,
		cfg:    cfg,
		jobs:   make(map[string]*jobState),
	}
}

// Start synchronously persists a starting job record and spawns the run.
// It returns immediately; callers poll Status or wait on the handle's Done
// channel. A started job cannot be aborted, only observed.
func (m *Manager) Start(ctx context.Context, opts backup.Options) (*Handle, error) {
	start := m.clock.Now()
	jobID := backup.SnapshotName(start)
	dir := filepath.Join(m.cfg.BackupRoot, jobID)

	if err := os.MkdirAll(m.cfg.JobDir, 0755); err != nil {
		return nil, fmt.Errorf("creating job directory: %w", err)
	}

	m.mu.Lock()
	if _, exists := m.jobs[jobID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("job %s already exists", jobID)
	}

	state := &jobState{
		record: Record{
			JobID:           jobID,
			StartTime:       start.UTC(),
			Status:          StatusStarting,
			Message:         "backup starting",
			Progress:        0,
			BackupDirectory: dir,
			Options:         opts,
			PID:             os.Getpid(),
			LastUpdated:     start.UTC(),
		},
		done: make(chan struct{}),
	}
	m.jobs[jobID] = state
	record := state.record
	m.mu.Unlock()

	if err := writeRecord(m.cfg.JobDir, &record); err != nil {
		m.mu.Lock()
		delete(m.jobs, jobID)
		m.mu.Unlock()
		return nil, fmt.Errorf("persisting job record: %w", err)
	}

	// The run outlives the caller's context: a started job can only be
	// observed, not aborted.
	go m.run(context.WithoutCancel(ctx), jobID, dir, opts, state.done)

	m.logger.Info("job started", "jobId", jobID, "dir", dir)
	return &Handle{JobID: jobID, Directory: dir, Done: state.done}, nil
}

// run executes the snapshot writer and converts any fatal error into a
// failed job record. Nothing escapes to an unhandled state.
func (m *Manager) run(ctx context.Context, jobID, dir string, opts backup.Options, done chan struct{}) {
	defer close(done)

	writer := &backup.Writer{
		Source:     m.src,
		Clock:      m.clock,
		Logger:     m.logger,
		Dir:        dir,
		RetryDelay: m.cfg.RetryDelay,
		Progress: func(percent int, message string) {
			m.update(jobID, percent, message)
		},
	}

	result, err := writer.CreateSnapshot(ctx, opts)
	if err != nil {
		m.finish(jobID, func(r *Record) {
			r.Status = StatusFailed
			r.Message = "backup failed"
			r.Progress = 0
			r.Error = err.Error()
		})
		m.logger.Error("job failed", "jobId", jobID, "error", err)
		return
	}

	m.finish(jobID, func(r *Record) {
		r.Status = StatusCompleted
		r.Message = "backup complete"
		r.Progress = 100
		r.Result = &ResultInfo{
			Duration:      result.Duration.Milliseconds(),
			DownloadStats: result.Manifest.DownloadStats,
		}
	})
	m.logger.Info("job completed", "jobId", jobID)
}

// update applies a progress checkpoint and exports the record.
func (m *Manager) update(jobID string, percent int, message string) {
	m.mu.Lock()
	state, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	state.record.Status = StatusRunning
	state.record.Progress = percent
	state.record.Message = message
	state.record.LastUpdated = m.clock.Now().UTC()
	record := state.record
	m.mu.Unlock()

	m.export(&record)
}

// finish applies a terminal mutation, exports the record, and arms the
// cleanup timer.
func (m *Manager) finish(jobID string, mutate func(*Record)) {
	now := m.clock.Now().UTC()

	m.mu.Lock()
	state, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	mutate(&state.record)
	state.record.EndTime = &now
	state.record.LastUpdated = now
	record := state.record
	m.mu.Unlock()

	m.export(&record)

	time.AfterFunc(m.cfg.CleanupGrace, func() {
		if err := os.Remove(lockPath(m.cfg.JobDir, jobID)); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("removing lock file", "jobId", jobID, "error", err)
		}
		m.mu.Lock()
		delete(m.jobs, jobID)
		m.mu.Unlock()
	})
}

// export writes the lock file. Export failures are logged, not fatal: the
// registry still holds the truth and the run keeps going.
func (m *Manager) export(r *Record) {
	if err := writeRecord(m.cfg.JobDir, r); err != nil {
		m.logger.Warn("exporting job record", "jobId", r.JobID, "error", err)
	}
}

// Status reads a job record directly from disk. A malformed job id or a
// missing lock file means not found (nil, nil), not an error.
func (m *Manager) Status(jobID string) (*Record, error) {
	if !backup.IsSnapshotName(jobID) {
		return nil, nil
	}
	record, err := readRecord(lockPath(m.cfg.JobDir, jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// List reads all lock files from disk, newest start time first. Files that
// fail to parse are skipped.
func (m *Manager) List() ([]*Record, error) {
	entries, err := os.ReadDir(m.cfg.JobDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading job directory: %w", err)
	}

	var records []*Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), lockFileSuffix) {
			continue
		}
		record, err := readRecord(filepath.Join(m.cfg.JobDir, e.Name()))
		if err != nil {
			m.logger.Debug("skipping unreadable lock file", "file", e.Name(), "error", err)
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTime.After(records[j].StartTime)
	})
	return records, nil
}

// IsRunning is a point-in-time read of the running flag. It is not a
// synchronization primitive and must not gate mutual exclusion.
func (m *Manager) IsRunning(jobID string) bool {
	record, err := m.Status(jobID)
	return err == nil && record != nil && record.Status == StatusRunning
}
