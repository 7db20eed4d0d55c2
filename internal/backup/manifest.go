package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// ManifestFileName is the snapshot commit marker. A snapshot directory is
// only discoverable once this file exists; a crash before the manifest write
// leaves an invisible directory, never a corrupt-but-visible snapshot.
const ManifestFileName = "backup-manifest.json"

// Fixed snapshot subdirectory layout.
const (
	MetadataDir    = "metadata"
	DataDir        = "data"
	FilesDir       = "files"
	LogsDir        = "logs"
	ContentSubdir  = "content"
	AttachmentsDir = "attachments"
	DocumentsDir   = "documents"

	SchemaFileName       = "objects-schema.json"
	FileManifestFileName = "file-manifest.json"
)

const snapshotNameFormat = "20060102-150405"

var snapshotNameRe = regexp.MustCompile(`^backup-\d{8}-\d{6}$`)

// SnapshotName derives the directory name for a snapshot started at t.
// Second resolution; two runs started within the same second collide.
func SnapshotName(t time.Time) string {
	return "backup-" + t.UTC().Format(snapshotNameFormat)
}

// IsSnapshotName reports whether name follows the snapshot naming convention.
func IsSnapshotName(name string) bool {
	return snapshotNameRe.MatchString(name)
}

// BackupInfo describes one snapshot run.
type BackupInfo struct {
	Timestamp      time.Time `json:"timestamp"`
	Type           string    `json:"type"`
	Duration       int64     `json:"duration"` // milliseconds
	SourceInstance string    `json:"sourceInstance"`
}

// Manifest is the JSON commit record describing a snapshot's contents and
// statistics. It is owned by the writer that created it and read-only to
// everything else.
type Manifest struct {
	BackupInfo    BackupInfo        `json:"backupInfo"`
	Options       Options           `json:"options"`
	DownloadStats StatsSnapshot     `json:"downloadStats"`
	Directories   map[string]string `json:"directories"`
}

// WriteManifest writes the manifest into dir as the snapshot commit marker.
func WriteManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// ReadManifest reads the manifest from a snapshot directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}
