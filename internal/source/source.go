package source

import (
	"context"
	"encoding/json"
	"fmt"
)

// Record is one row returned by a query. Records are heterogeneous JSON
// objects; field sets vary per object type and per org.
type Record = map[string]any

// FileKind identifies one of the three binary-storage mechanisms the remote
// org exposes.
type FileKind string

const (
	KindContentVersion FileKind = "contentVersion"
	KindAttachment     FileKind = "attachment"
	KindDocument       FileKind = "document"
)

// ObjectSummary is one entry from the global object listing.
type ObjectSummary struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Queryable bool   `json:"queryable"`
	Custom    bool   `json:"custom"`
}

// Field is one field of an object's schema.
type Field struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Type   string `json:"type"`
	Length int    `json:"length"`
}

// ObjectDescribe is the schema description of a single object type.
// Raw holds the untouched describe payload so snapshots preserve everything
// the remote reported, not just the fields this tool understands.
type ObjectDescribe struct {
	Name   string          `json:"name"`
	Label  string          `json:"label"`
	Fields []Field         `json:"fields"`
	Raw    json.RawMessage `json:"-"`
}

// RecordSource is the narrow contract to the remote record store. The backup
// writer and downloader depend on nothing else about the remote system: how
// sessions are established and refreshed is the implementation's problem.
type RecordSource interface {
	// DescribeGlobal lists every object type the remote org exposes.
	DescribeGlobal(ctx context.Context) ([]ObjectSummary, error)

	// DescribeObject returns the full schema description for one object type.
	DescribeObject(ctx context.Context, name string) (*ObjectDescribe, error)

	// Query runs a query and returns all matching records, following
	// server-side pagination until the result set is complete.
	Query(ctx context.Context, q string) ([]Record, error)

	// DownloadBinary fetches the raw bytes of one binary asset.
	DownloadBinary(ctx context.Context, kind FileKind, id string) ([]byte, error)

	// Instance identifies the remote org this source talks to.
	Instance() string
}

// StatusError is returned when the remote answers with a non-2xx status.
// The downloader's retry predicate distinguishes it from transport errors
// only in logging; both are retried.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}
