package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"

	"orgvault/internal/orgvault"
	"orgvault/internal/source"
)

// FileReference describes one binary asset pending download. References are
// built during file discovery and exist only for the duration of a run; the
// written bytes are the durable artifact.
type FileReference struct {
	Kind source.FileKind `json:"kind"`
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Size int64           `json:"size"`
	Dest string          `json:"path"`
}

// DownloadError is returned when all retries for one reference are exhausted.
type DownloadError struct {
	Kind source.FileKind
	ID   string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("downloading %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// DownloadResult is the per-reference outcome of a batch download.
type DownloadResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Size    int64  `json:"size,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Stats accumulates download counters across a run. Safe for concurrent use.
type Stats struct {
	contentVersions atomic.Int64
	attachments     atomic.Int64
	documents       atomic.Int64
	totalBytes      atomic.Int64
	errors          atomic.Int64
}

func (s *Stats) add(kind source.FileKind, bytes int64) {
	switch kind {
	case source.KindContentVersion:
		s.contentVersions.Add(1)
	case source.KindAttachment:
		s.attachments.Add(1)
	case source.KindDocument:
		s.documents.Add(1)
	}
	s.totalBytes.Add(bytes)
}

func (s *Stats) addError() { s.errors.Add(1) }

// Snapshot returns a point-in-time copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		ContentVersions: s.contentVersions.Load(),
		Attachments:     s.attachments.Load(),
		Documents:       s.documents.Load(),
		TotalBytes:      s.totalBytes.Load(),
		Errors:          s.errors.Load(),
	}
}

// StatsSnapshot is the serializable form of Stats, embedded in the manifest.
type StatsSnapshot struct {
	ContentVersions int64 `json:"contentVersions"`
	Attachments     int64 `json:"attachments"`
	Documents       int64 `json:"documents"`
	TotalBytes      int64 `json:"totalBytes"`
	Errors          int64 `json:"errors"`
}

// Downloader fetches binary assets from a RecordSource with bounded retry and
// writes them to their destination paths.
type Downloader struct {
	Source source.RecordSource
	Logger orgvault.Logger
	Stats  *Stats

	// Retries is the attempt budget per reference; 0 means DefaultRetries.
	Retries int
	// RetryDelay is the base backoff delay; each retry doubles it.
	// 0 means 2 seconds. Tests set this to something small.
	RetryDelay time.Duration
}

func (d *Downloader) attempts() uint {
	if d.Retries <= 0 {
		return DefaultRetries
	}
	return uint(d.Retries)
}

func (d *Downloader) retryDelay() time.Duration {
	if d.RetryDelay <= 0 {
		return 2 * time.Second
	}
	return d.RetryDelay
}

// DownloadOne fetches a single reference, retrying with exponential backoff
// on any transport or status failure. On success the bytes are written to
// ref.Dest (creating parent directories as needed) and the shared counters
// are updated. On exhaustion it returns a DownloadError tagged with the
// reference's id and kind.
func (d *Downloader) DownloadOne(ctx context.Context, ref FileReference) (int64, error) {
	var data []byte
	err := retry.Do(
		func() error {
			b, err := d.Source.DownloadBinary(ctx, ref.Kind, ref.ID)
			if err != nil {
				return err
			}
			data = b
			return nil
		},
		retry.Attempts(d.attempts()),
		retry.Delay(d.retryDelay()),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
		retry.OnRetry(func(n uint, err error) {
			d.Logger.Warn("download retry", "kind", ref.Kind, "id", ref.ID, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		d.Stats.addError()
		return 0, &DownloadError{Kind: ref.Kind, ID: ref.ID, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(ref.Dest), 0755); err != nil {
		d.Stats.addError()
		return 0, &DownloadError{Kind: ref.Kind, ID: ref.ID, Err: err}
	}
	if err := os.WriteFile(ref.Dest, data, 0644); err != nil {
		d.Stats.addError()
		return 0, &DownloadError{Kind: ref.Kind, ID: ref.ID, Err: err}
	}

	d.Stats.add(ref.Kind, int64(len(data)))
	d.Logger.Debug("file downloaded", "kind", ref.Kind, "id", ref.ID, "bytes", len(data))
	return int64(len(data)), nil
}

// DownloadBatch downloads references in sequential windows of size limit,
// running each window's downloads concurrently. A failure in one reference
// never aborts the batch; the returned slice has exactly one entry per input
// reference, in input order. Each reference gets its own fresh retry budget.
func (d *Downloader) DownloadBatch(ctx context.Context, refs []FileReference, limit int) []DownloadResult {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	results := make([]DownloadResult, len(refs))
	for start := 0; start < len(refs); start += limit {
		end := min(start+limit, len(refs))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ref := refs[i]
				n, err := d.DownloadOne(ctx, ref)
				if err != nil {
					results[i] = DownloadResult{ID: ref.ID, Name: ref.Name, Error: err.Error()}
					return
				}
				results[i] = DownloadResult{ID: ref.ID, Name: ref.Name, Success: true, Size: n}
			}(i)
		}
		wg.Wait()
	}

	return results
}
