package backup

import (
	"testing"
	"time"
)

func TestSnapshotName(t *testing.T) {
	ts := time.Date(2025, 3, 10, 9, 15, 42, 0, time.UTC)
	if got := SnapshotName(ts); got != "backup-20250310-091542" {
		t.Errorf("SnapshotName() = %q, want %q", got, "backup-20250310-091542")
	}

	// Non-UTC times normalize to UTC.
	est := time.FixedZone("EST", -5*3600)
	if got := SnapshotName(ts.In(est)); got != "backup-20250310-091542" {
		t.Errorf("SnapshotName() in EST = %q, want %q", got, "backup-20250310-091542")
	}
}

func TestIsSnapshotName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"backup-20250310-091542", true},
		{"backup-00000000-000000", true},
		{"backup-20250310", false},
		{"backup-20250310-0915", false},
		{"snapshot-20250310-091542", false},
		{"backup-20250310-091542.tar.gz", false},
		{"", false},
		{"../backup-20250310-091542", false},
	}
	for _, tt := range tests {
		if got := IsSnapshotName(tt.name); got != tt.want {
			t.Errorf("IsSnapshotName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{
		BackupInfo: BackupInfo{
			Timestamp:      time.Date(2025, 3, 10, 9, 15, 0, 0, time.UTC),
			Type:           TypeFull,
			Duration:       1250,
			SourceInstance: "https://org.example.com",
		},
		Options:       Options{IncludeFiles: true}.withDefaults(),
		DownloadStats: StatsSnapshot{ContentVersions: 3, TotalBytes: 999},
		Directories:   map[string]string{"data": DataDir},
	}

	if err := WriteManifest(dir, m); err != nil {
		t.Fatalf("WriteManifest() error = %v", err)
	}

	got, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if !got.BackupInfo.Timestamp.Equal(m.BackupInfo.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.BackupInfo.Timestamp, m.BackupInfo.Timestamp)
	}
	if got.BackupInfo.Duration != 1250 {
		t.Errorf("Duration = %d, want 1250", got.BackupInfo.Duration)
	}
	if got.DownloadStats.ContentVersions != 3 {
		t.Errorf("DownloadStats.ContentVersions = %d, want 3", got.DownloadStats.ContentVersions)
	}
	if got.Options.QueryLimit != DefaultQueryLimit {
		t.Errorf("Options.QueryLimit = %d, want %d", got.Options.QueryLimit, DefaultQueryLimit)
	}
}

func TestReadManifest_Missing(t *testing.T) {
	if _, err := ReadManifest(t.TempDir()); err == nil {
		t.Fatal("ReadManifest() expected error for missing manifest")
	}
}
