package testutil

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"orgvault/internal/source"
)

// FakeSource is a scripted RecordSource for tests. Objects, records and
// binaries are registered up front; failures are injected per object or per
// binary. Safe for concurrent use.
type FakeSource struct {
	mu sync.Mutex

	InstanceURL string
	GlobalErr   error

	objects      []source.ObjectSummary
	describes    map[string]*source.ObjectDescribe
	describeErrs map[string]error
	records      map[string][]source.Record
	queryErrs    map[string]error
	binaries     map[string][]byte
	binaryFails  map[string]int

	// QueryLog records every query string, in call order.
	QueryLog []string
}

var _ source.RecordSource = (*FakeSource)(nil)

// NewFakeSource creates an empty FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		InstanceURL:  "https://test-org.example.com",
		describes:    make(map[string]*source.ObjectDescribe),
		describeErrs: make(map[string]error),
		records:      make(map[string][]source.Record),
		queryErrs:    make(map[string]error),
		binaries:     make(map[string][]byte),
		binaryFails:  make(map[string]int),
	}
}

// AddObject registers a queryable object type with the given fields.
func (f *FakeSource) AddObject(name string, fields ...source.Field) {
	f.mu.Lock()
	defer f.mu.Unlock()

	describe := &source.ObjectDescribe{Name: name, Label: name, Fields: fields}
	raw, _ := json.Marshal(describe)
	describe.Raw = raw

	f.objects = append(f.objects, source.ObjectSummary{Name: name, Label: name, Queryable: true})
	f.describes[name] = describe
}

// AddNonQueryable registers an object type the source refuses to query.
func (f *FakeSource) AddNonQueryable(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects = append(f.objects, source.ObjectSummary{Name: name, Label: name, Queryable: false})
}

// AddRecords registers the records returned for queries against an object.
func (f *FakeSource) AddRecords(object string, records ...source.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[object] = append(f.records[object], records...)
}

// FailQueries makes every query against an object fail with err.
func (f *FakeSource) FailQueries(object string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryErrs[object] = err
}

// FailDescribe makes DescribeObject fail for an object.
func (f *FakeSource) FailDescribe(object string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeErrs[object] = err
}

// AddBinary registers a binary payload.
func (f *FakeSource) AddBinary(kind source.FileKind, id string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binaries[binaryKey(kind, id)] = data
}

// FailBinary makes the next n downloads of a binary fail with a 500 before
// any registered payload is served.
func (f *FakeSource) FailBinary(kind source.FileKind, id string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binaryFails[binaryKey(kind, id)] = n
}

func binaryKey(kind source.FileKind, id string) string {
	return string(kind) + ":" + id
}

func (f *FakeSource) Instance() string { return f.InstanceURL }

func (f *FakeSource) DescribeGlobal(ctx context.Context) ([]source.ObjectSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GlobalErr != nil {
		return nil, f.GlobalErr
	}
	return append([]source.ObjectSummary(nil), f.objects...), nil
}

func (f *FakeSource) DescribeObject(ctx context.Context, name string) (*source.ObjectDescribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.describeErrs[name]; err != nil {
		return nil, err
	}
	d, ok := f.describes[name]
	if !ok {
		return nil, &source.StatusError{Code: 404, URL: "fake://describe/" + name}
	}
	return d, nil
}

// Query resolves the target object from the FROM clause and returns its
// registered records.
func (f *FakeSource) Query(ctx context.Context, q string) ([]source.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.QueryLog = append(f.QueryLog, q)

	object := objectOf(q)
	if err := f.queryErrs[object]; err != nil {
		return nil, err
	}
	return append([]source.Record(nil), f.records[object]...), nil
}

func (f *FakeSource) DownloadBinary(ctx context.Context, kind source.FileKind, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := binaryKey(kind, id)
	if f.binaryFails[key] > 0 {
		f.binaryFails[key]--
		return nil, &source.StatusError{Code: 500, URL: "fake://binary/" + key}
	}
	data, ok := f.binaries[key]
	if !ok {
		return nil, &source.StatusError{Code: 404, URL: "fake://binary/" + key}
	}
	return data, nil
}

func objectOf(q string) string {
	fields := strings.Fields(q)
	for i, f := range fields {
		if strings.EqualFold(f, "FROM") && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}
