package source_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"orgvault/internal/source"
)

func newTestSource(handler http.Handler) (*source.RESTSource, *httptest.Server) {
	server := httptest.NewServer(handler)
	src := source.NewRESTSource(source.Config{
		InstanceURL: server.URL,
		APIToken:    "test-token",
		ClientID:    "client-1",
	})
	return src, server
}

func TestRESTSource_DescribeGlobal(t *testing.T) {
	src, server := newTestSource(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/services/data/v59.0/sobjects" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Client-Id"); got != "client-1" {
			t.Errorf("X-Client-Id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sobjects":[
			{"name":"Account","label":"Account","queryable":true},
			{"name":"AggregateResult","label":"Aggregate Result","queryable":false}
		]}`))
	}))
	defer server.Close()

	summaries, err := src.DescribeGlobal(context.Background())
	if err != nil {
		t.Fatalf("DescribeGlobal() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("len(summaries) = %d, want 2", len(summaries))
	}
	if summaries[0].Name != "Account" || !summaries[0].Queryable {
		t.Errorf("summaries[0] = %+v", summaries[0])
	}
	if summaries[1].Queryable {
		t.Errorf("summaries[1].Queryable = true, want false")
	}
}

func TestRESTSource_DescribeObject(t *testing.T) {
	payload := `{"name":"Account","label":"Account","fields":[
		{"name":"Id","label":"Account ID","type":"id","length":18},
		{"name":"Name","label":"Account Name","type":"string","length":255}
	],"custom":false}`

	src, server := newTestSource(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/services/data/v59.0/sobjects/Account/describe" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	defer server.Close()

	describe, err := src.DescribeObject(context.Background(), "Account")
	if err != nil {
		t.Fatalf("DescribeObject() error = %v", err)
	}
	if describe.Name != "Account" {
		t.Errorf("Name = %q, want Account", describe.Name)
	}
	if len(describe.Fields) != 2 {
		t.Fatalf("len(Fields) = %d, want 2", len(describe.Fields))
	}
	if describe.Fields[1].Type != "string" {
		t.Errorf("Fields[1].Type = %q, want string", describe.Fields[1].Type)
	}
	// The untouched payload is preserved for the snapshot.
	if string(describe.Raw) != payload {
		t.Errorf("Raw = %q, want the original payload", describe.Raw)
	}
}

func TestRESTSource_Query_Pagination(t *testing.T) {
	src, server := newTestSource(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/services/data/v59.0/query":
			if got := r.URL.Query().Get("q"); got != "SELECT Id FROM Account LIMIT 1000" {
				t.Errorf("q = %q", got)
			}
			w.Write([]byte(`{
				"totalSize": 3, "done": false,
				"nextRecordsUrl": "/services/data/v59.0/query/01g-2",
				"records": [{"Id":"001A"},{"Id":"001B"}]
			}`))
		case "/services/data/v59.0/query/01g-2":
			w.Write([]byte(`{"totalSize": 3, "done": true, "records": [{"Id":"001C"}]}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	records, err := src.Query(context.Background(), "SELECT Id FROM Account LIMIT 1000")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	if records[2]["Id"] != "001C" {
		t.Errorf("records[2].Id = %v, want 001C", records[2]["Id"])
	}
}

func TestRESTSource_StatusError(t *testing.T) {
	src, server := newTestSource(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := src.Query(context.Background(), "SELECT Id FROM Account")
	if err == nil {
		t.Fatal("Query() expected error for 401")
	}

	var statusErr *source.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %T, want *StatusError", err)
	}
	if statusErr.Code != http.StatusUnauthorized {
		t.Errorf("Code = %d, want 401", statusErr.Code)
	}
}

func TestRESTSource_DownloadBinary(t *testing.T) {
	payload := []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff}

	var gotPath string
	src, server := newTestSource(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write(payload)
	}))
	defer server.Close()

	tests := []struct {
		kind source.FileKind
		id   string
		path string
	}{
		{source.KindContentVersion, "068A", "/services/data/v59.0/sobjects/ContentVersion/068A/VersionData"},
		{source.KindAttachment, "00P1", "/services/data/v59.0/sobjects/Attachment/00P1/Body"},
		{source.KindDocument, "015X", "/services/data/v59.0/sobjects/Document/015X/Body"},
	}
	for _, tt := range tests {
		data, err := src.DownloadBinary(context.Background(), tt.kind, tt.id)
		if err != nil {
			t.Fatalf("DownloadBinary(%s) error = %v", tt.kind, err)
		}
		if gotPath != tt.path {
			t.Errorf("DownloadBinary(%s) path = %q, want %q", tt.kind, gotPath, tt.path)
		}
		if len(data) != len(payload) {
			t.Errorf("DownloadBinary(%s) = %d bytes, want %d", tt.kind, len(data), len(payload))
		}
	}

	t.Run("rejects unknown kinds", func(t *testing.T) {
		if _, err := src.DownloadBinary(context.Background(), source.FileKind("blob"), "x"); err == nil {
			t.Error("DownloadBinary() expected error for unknown kind")
		}
	})
}

func TestRESTSource_Instance(t *testing.T) {
	src := source.NewRESTSource(source.Config{InstanceURL: "https://org.example.com"})
	if got := src.Instance(); got != "https://org.example.com" {
		t.Errorf("Instance() = %q", got)
	}
}
