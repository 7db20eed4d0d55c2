package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"orgvault/internal/orgvault"
	"orgvault/internal/source"
)

// ProgressFunc receives the fixed progress checkpoints of a snapshot run.
// percent is 0–100 and non-decreasing for a successful run.
type ProgressFunc func(percent int, message string)

// Result describes one completed snapshot run.
type Result struct {
	Directory string
	Duration  time.Duration
	Manifest  *Manifest
}

// Writer extracts one point-in-time snapshot of a RecordSource into the fixed
// on-disk layout. Phases execute strictly in sequence: layout, metadata,
// records, files, manifest. The manifest is written last and is the commit
// marker.
type Writer struct {
	Source source.RecordSource
	Clock  orgvault.Clock
	Logger orgvault.Logger

	// Root is the directory snapshots are created under. Ignored when Dir
	// is set.
	Root string
	// Dir overrides the snapshot directory. The job manager sets this so
	// the directory is known before the run starts.
	Dir string

	// Progress, when set, receives the checkpoint schedule.
	Progress ProgressFunc

	// RetryDelay is passed through to the downloader; 0 keeps its default.
	RetryDelay time.Duration
}

func (w *Writer) progress(percent int, message string) {
	if w.Progress != nil {
		w.Progress(percent, message)
	}
}

// Pseudo-type suffixes excluded from record export. History, feed, share and
// change-event objects mirror data captured elsewhere and blow up run time.
var pseudoTypeSuffixes = []string{"History", "Feed", "Share", "ChangeEvent"}

func isPseudoType(name string) bool {
	for _, suffix := range pseudoTypeSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// CreateSnapshot runs all phases and returns the committed snapshot.
// Per-object schema and query errors are logged and skipped; failures to
// create the layout or write the manifest are fatal.
func (w *Writer) CreateSnapshot(ctx context.Context, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	start := w.Clock.Now()

	dir := w.Dir
	if dir == "" {
		dir = filepath.Join(w.Root, SnapshotName(start))
	}

	if err := w.createLayout(dir); err != nil {
		return nil, err
	}
	w.Logger.Info("backup started", "dir", dir, "type", opts.Type)

	w.progress(10, "fetching object metadata")
	describes, err := w.writeMetadata(ctx, dir)
	if err != nil {
		return nil, err
	}
	w.progress(30, "object metadata saved")

	w.progress(35, "exporting records")
	recordCounts, err := w.writeRecords(ctx, dir, describes, opts)
	if err != nil {
		return nil, err
	}
	w.progress(60, "records exported")

	stats := &Stats{}
	if opts.IncludeFiles {
		w.progress(65, "downloading files")
		if err := w.downloadFiles(ctx, dir, opts, stats); err != nil {
			return nil, err
		}
		w.progress(85, "files downloaded")
	} else {
		w.progress(85, "file download skipped")
	}

	w.progress(90, "writing manifest")
	duration := w.Clock.Now().Sub(start)
	manifest := &Manifest{
		BackupInfo: BackupInfo{
			Timestamp:      start.UTC(),
			Type:           opts.Type,
			Duration:       duration.Milliseconds(),
			SourceInstance: w.Source.Instance(),
		},
		Options:       opts,
		DownloadStats: stats.Snapshot(),
		Directories: map[string]string{
			"metadata": MetadataDir,
			"data":     DataDir,
			"files":    FilesDir,
			"logs":     LogsDir,
		},
	}
	if err := WriteManifest(dir, manifest); err != nil {
		return nil, err
	}
	w.progress(100, "backup complete")

	w.Logger.Info("backup complete", "dir", dir,
		"objects", len(recordCounts), "duration", duration.Truncate(time.Millisecond))

	return &Result{Directory: dir, Duration: duration, Manifest: manifest}, nil
}

// createLayout creates the fixed subdirectory structure. Any failure here is
// fatal: nothing has been written yet and nothing can be.
func (w *Writer) createLayout(dir string) error {
	subdirs := []string{
		MetadataDir,
		DataDir,
		filepath.Join(FilesDir, ContentSubdir),
		filepath.Join(FilesDir, AttachmentsDir),
		filepath.Join(FilesDir, DocumentsDir),
		LogsDir,
	}
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return fmt.Errorf("creating snapshot layout: %w", err)
		}
	}
	return nil
}

// writeMetadata enumerates queryable object types, persists their raw schema
// descriptions, and returns the describes for the record phase. Objects that
// fail to describe are skipped. A failing global enumeration yields an empty
// snapshot, not a failed run.
func (w *Writer) writeMetadata(ctx context.Context, dir string) ([]*source.ObjectDescribe, error) {
	summaries, err := w.Source.DescribeGlobal(ctx)
	if err != nil {
		w.Logger.Warn("object enumeration failed, snapshot will be empty", "error", err)
	}

	schemas := make(map[string]json.RawMessage)
	var describes []*source.ObjectDescribe
	for _, s := range summaries {
		if !s.Queryable || isPseudoType(s.Name) {
			continue
		}
		d, err := w.Source.DescribeObject(ctx, s.Name)
		if err != nil {
			w.Logger.Warn("describe failed, skipping object", "object", s.Name, "error", err)
			continue
		}
		raw := d.Raw
		if raw == nil {
			raw, err = json.Marshal(d)
			if err != nil {
				w.Logger.Warn("encoding describe failed, skipping object", "object", s.Name, "error", err)
				continue
			}
		}
		schemas[s.Name] = raw
		describes = append(describes, d)
	}

	data, err := json.MarshalIndent(schemas, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding object schemas: %w", err)
	}
	schemaPath := filepath.Join(dir, MetadataDir, SchemaFileName)
	if err := os.WriteFile(schemaPath, data, 0644); err != nil {
		return nil, fmt.Errorf("writing object schemas: %w", err)
	}

	return describes, nil
}

// exportFields returns the first FieldLimit non-binary field names of a
// describe. Binary fields are fetched through the file phase instead.
func exportFields(d *source.ObjectDescribe, limit int) []string {
	var fields []string
	for _, f := range d.Fields {
		if f.Type == "base64" {
			continue
		}
		fields = append(fields, f.Name)
		if len(fields) == limit {
			break
		}
	}
	return fields
}

// recordQuery builds the bounded per-object query.
func recordQuery(object string, fields []string, opts Options) string {
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(fields, ", "), object)
	if opts.Type == TypeIncremental && !opts.Since.IsZero() {
		q += " WHERE LastModifiedDate > " + opts.Since.UTC().Format("2006-01-02T15:04:05Z")
	}
	q += fmt.Sprintf(" LIMIT %d", opts.QueryLimit)
	return q
}

// writeRecords queries each object type and writes one JSON array per type.
// A failing object is logged and skipped; a failing file write is fatal.
func (w *Writer) writeRecords(ctx context.Context, dir string, describes []*source.ObjectDescribe, opts Options) (map[string]int, error) {
	counts := make(map[string]int)
	for _, d := range describes {
		fields := exportFields(d, opts.FieldLimit)
		if len(fields) == 0 {
			w.Logger.Debug("no exportable fields, skipping object", "object", d.Name)
			continue
		}

		records, err := w.Source.Query(ctx, recordQuery(d.Name, fields, opts))
		if err != nil {
			w.Logger.Warn("query failed, skipping object", "object", d.Name, "error", err)
			continue
		}

		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			w.Logger.Warn("encoding records failed, skipping object", "object", d.Name, "error", err)
			continue
		}
		path := filepath.Join(dir, DataDir, d.Name+".json")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing records for %s: %w", d.Name, err)
		}
		counts[d.Name] = len(records)
	}
	return counts, nil
}

// fileManifestEntry is one line of metadata/file-manifest.json.
type fileManifestEntry struct {
	Kind    source.FileKind `json:"kind"`
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Size    int64           `json:"size"`
	Path    string          `json:"path"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
}

// downloadFiles discovers binary assets through the three storage mechanisms,
// downloads them with the configured concurrency window, and writes the file
// manifest. Discovery errors disable one mechanism, never the run.
func (w *Writer) downloadFiles(ctx context.Context, dir string, opts Options, stats *Stats) error {
	refs := w.discoverFiles(ctx, dir, opts)

	downloader := &Downloader{
		Source:     w.Source,
		Logger:     w.Logger,
		Stats:      stats,
		Retries:    opts.Retries,
		RetryDelay: w.RetryDelay,
	}
	results := downloader.DownloadBatch(ctx, refs, opts.Concurrency)

	entries := make([]fileManifestEntry, len(refs))
	for i, ref := range refs {
		rel, err := filepath.Rel(dir, ref.Dest)
		if err != nil {
			rel = ref.Dest
		}
		entries[i] = fileManifestEntry{
			Kind:    ref.Kind,
			ID:      ref.ID,
			Name:    ref.Name,
			Size:    results[i].Size,
			Path:    filepath.ToSlash(rel),
			Success: results[i].Success,
			Error:   results[i].Error,
		}
	}

	data, err := json.MarshalIndent(map[string]any{"files": entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding file manifest: %w", err)
	}
	path := filepath.Join(dir, MetadataDir, FileManifestFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing file manifest: %w", err)
	}
	return nil
}

// discoverFiles runs the three capped discovery queries and builds file
// references with computed destination paths.
func (w *Writer) discoverFiles(ctx context.Context, dir string, opts Options) []FileReference {
	var refs []FileReference

	q := fmt.Sprintf("SELECT Id, Title, FileExtension, ContentSize FROM ContentVersion WHERE IsLatest = true LIMIT %d", opts.ContentLimit)
	if records, err := w.Source.Query(ctx, q); err != nil {
		w.Logger.Warn("content version discovery failed", "error", err)
	} else {
		for _, r := range records {
			id := stringField(r, "Id")
			if id == "" {
				continue
			}
			ext := stringField(r, "FileExtension")
			if ext == "" {
				ext = "bin"
			}
			refs = append(refs, FileReference{
				Kind: source.KindContentVersion,
				ID:   id,
				Name: stringField(r, "Title"),
				Size: int64Field(r, "ContentSize"),
				Dest: filepath.Join(dir, FilesDir, ContentSubdir, id+"."+ext),
			})
		}
	}

	q = fmt.Sprintf("SELECT Id, Name, ContentType, BodyLength FROM Attachment LIMIT %d", opts.AttachmentLimit)
	if records, err := w.Source.Query(ctx, q); err != nil {
		w.Logger.Warn("attachment discovery failed", "error", err)
	} else {
		for _, r := range records {
			id := stringField(r, "Id")
			if id == "" {
				continue
			}
			refs = append(refs, FileReference{
				Kind: source.KindAttachment,
				ID:   id,
				Name: stringField(r, "Name"),
				Size: int64Field(r, "BodyLength"),
				Dest: filepath.Join(dir, FilesDir, AttachmentsDir, id+extensionForContentType(stringField(r, "ContentType"))),
			})
		}
	}

	q = fmt.Sprintf("SELECT Id, Name, ContentType, BodyLength FROM Document LIMIT %d", opts.DocumentLimit)
	if records, err := w.Source.Query(ctx, q); err != nil {
		w.Logger.Warn("document discovery failed", "error", err)
	} else {
		for _, r := range records {
			id := stringField(r, "Id")
			if id == "" {
				continue
			}
			refs = append(refs, FileReference{
				Kind: source.KindDocument,
				ID:   id,
				Name: stringField(r, "Name"),
				Size: int64Field(r, "BodyLength"),
				Dest: filepath.Join(dir, FilesDir, DocumentsDir, id+extensionForContentType(stringField(r, "ContentType"))),
			})
		}
	}

	return refs
}

// contentTypeExtensions maps declared content types to file extensions.
// Unknown types get no extension.
var contentTypeExtensions = map[string]string{
	"application/pdf":    ".pdf",
	"application/json":   ".json",
	"application/xml":    ".xml",
	"application/zip":    ".zip",
	"application/msword": ".doc",
	"application/vnd.ms-excel":      ".xls",
	"application/vnd.ms-powerpoint": ".ppt",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"text/plain": ".txt",
	"text/csv":   ".csv",
	"text/html":  ".html",
}

func extensionForContentType(contentType string) string {
	if ext, ok := contentTypeExtensions[strings.ToLower(contentType)]; ok {
		return ext
	}
	return ""
}

func stringField(r source.Record, field string) string {
	if v, ok := r[field].(string); ok {
		return v
	}
	return ""
}

func int64Field(r source.Record, field string) int64 {
	switch v := r[field].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
