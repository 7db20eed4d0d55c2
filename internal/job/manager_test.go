package job_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"orgvault/internal/backup"
	"orgvault/internal/job"
	"orgvault/internal/orgvault"
	"orgvault/internal/source"
	"orgvault/internal/testutil"
)

func newManager(t *testing.T, src *testutil.FakeSource, grace time.Duration) (*job.Manager, job.Config) {
	t.Helper()
	base := t.TempDir()
	cfg := job.Config{
		BackupRoot:   filepath.Join(base, "backups"),
		JobDir:       filepath.Join(base, "jobs"),
		CleanupGrace: grace,
		RetryDelay:   time.Millisecond,
	}
	return job.NewManager(src, testutil.FixedClock(), orgvault.NewNopLogger(), cfg), cfg
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish in time")
	}
}

func TestManager_Start(t *testing.T) {
	t.Run("returns immediately with a persisted record", func(t *testing.T) {
		src := testutil.NewFakeSource()
		m, cfg := newManager(t, src, time.Minute)

		handle, err := m.Start(context.Background(), backup.Options{})
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}

		if handle.JobID != "backup-20250310-091500" {
			t.Errorf("JobID = %q, want %q", handle.JobID, "backup-20250310-091500")
		}
		wantDir := filepath.Join(cfg.BackupRoot, handle.JobID)
		if handle.Directory != wantDir {
			t.Errorf("Directory = %q, want %q", handle.Directory, wantDir)
		}

		record, err := m.Status(handle.JobID)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if record == nil {
			t.Fatal("Status() = nil, want a record")
		}
		if record.JobID != handle.JobID {
			t.Errorf("record.JobID = %q, want %q", record.JobID, handle.JobID)
		}
		if record.PID != os.Getpid() {
			t.Errorf("record.PID = %d, want %d", record.PID, os.Getpid())
		}

		waitDone(t, handle.Done)
	})

	t.Run("refuses a duplicate job id", func(t *testing.T) {
		src := testutil.NewFakeSource()
		m, _ := newManager(t, src, time.Minute)

		handle, err := m.Start(context.Background(), backup.Options{})
		if err != nil {
			t.Fatalf("first Start() error = %v", err)
		}

		// The clock is fixed, so a second start derives the same id.
		if _, err := m.Start(context.Background(), backup.Options{}); err == nil {
			t.Error("second Start() expected duplicate error")
		}

		waitDone(t, handle.Done)
	})
}

func TestManager_CompletedRun(t *testing.T) {
	src := testutil.NewFakeSource()
	src.AddObject("Account", source.Field{Name: "Id", Type: "string"})
	m, _ := newManager(t, src, time.Minute)

	handle, err := m.Start(context.Background(), backup.Options{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, handle.Done)

	record, err := m.Status(handle.JobID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if record == nil {
		t.Fatal("Status() = nil after completion")
	}

	if record.Status != job.StatusCompleted {
		t.Errorf("Status = %q, want %q", record.Status, job.StatusCompleted)
	}
	if record.Progress != 100 {
		t.Errorf("Progress = %d, want 100", record.Progress)
	}
	if record.Result == nil {
		t.Error("Result = nil, want run statistics")
	}
	if record.EndTime == nil {
		t.Error("EndTime = nil, want a terminal timestamp")
	}

	if _, err := backup.ReadManifest(handle.Directory); err != nil {
		t.Errorf("snapshot not committed: %v", err)
	}
}

func TestManager_FailedRun(t *testing.T) {
	src := testutil.NewFakeSource()
	m, cfg := newManager(t, src, time.Minute)

	// A regular file at the backup root makes layout creation fail.
	if err := os.WriteFile(cfg.BackupRoot, []byte("in the way"), 0644); err != nil {
		t.Fatalf("creating blocking file: %v", err)
	}

	handle, err := m.Start(context.Background(), backup.Options{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, handle.Done)

	record, err := m.Status(handle.JobID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if record == nil {
		t.Fatal("Status() = nil after failure")
	}

	if record.Status != job.StatusFailed {
		t.Errorf("Status = %q, want %q", record.Status, job.StatusFailed)
	}
	if record.Progress != 0 {
		t.Errorf("Progress = %d, want 0", record.Progress)
	}
	if record.Error == "" {
		t.Error("Error is empty, want the failure message")
	}
	if record.Result != nil {
		t.Error("Result should be nil for a failed run")
	}
}

func TestManager_LockFileCleanup(t *testing.T) {
	src := testutil.NewFakeSource()
	m, cfg := newManager(t, src, 20*time.Millisecond)

	handle, err := m.Start(context.Background(), backup.Options{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, handle.Done)

	lockPath := filepath.Join(cfg.JobDir, handle.JobID+".lock")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(lockPath); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("lock file was not removed after the cleanup grace period")
		}
		time.Sleep(5 * time.Millisecond)
	}

	record, err := m.Status(handle.JobID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if record != nil {
		t.Error("Status() should report not found after cleanup")
	}
}

func TestManager_Status_NotFound(t *testing.T) {
	src := testutil.NewFakeSource()
	m, _ := newManager(t, src, time.Minute)

	t.Run("malformed id", func(t *testing.T) {
		record, err := m.Status("../../etc/passwd")
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if record != nil {
			t.Error("Status() should reject a malformed job id")
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		record, err := m.Status("backup-20990101-000000")
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if record != nil {
			t.Error("Status() = record for unknown job, want nil")
		}
	})
}

func TestManager_List(t *testing.T) {
	src := testutil.NewFakeSource()
	m, cfg := newManager(t, src, time.Minute)

	if err := os.MkdirAll(cfg.JobDir, 0755); err != nil {
		t.Fatalf("creating job dir: %v", err)
	}

	writeLock := func(jobID string, start time.Time) {
		t.Helper()
		data, err := json.Marshal(&job.Record{
			JobID:     jobID,
			StartTime: start,
			Status:    job.StatusCompleted,
		})
		if err != nil {
			t.Fatalf("encoding record: %v", err)
		}
		if err := os.WriteFile(filepath.Join(cfg.JobDir, jobID+".lock"), data, 0644); err != nil {
			t.Fatalf("writing lock file: %v", err)
		}
	}

	writeLock("backup-20250301-000000", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	writeLock("backup-20250305-000000", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC))
	if err := os.WriteFile(filepath.Join(cfg.JobDir, "garbage.lock"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("writing garbage lock: %v", err)
	}

	records, err := m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].JobID != "backup-20250305-000000" {
		t.Errorf("records[0].JobID = %q, want the newest job first", records[0].JobID)
	}
}

func TestManager_List_EmptyDir(t *testing.T) {
	src := testutil.NewFakeSource()
	m, _ := newManager(t, src, time.Minute)

	records, err := m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0", len(records))
	}
}
