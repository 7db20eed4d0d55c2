package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultAPIVersion is used when the config does not pin one.
const DefaultAPIVersion = "v59.0"

// Config holds the connection settings for a RESTSource.
type Config struct {
	InstanceURL string
	APIToken    string
	APIVersion  string
	ClientID    string
	Timeout     time.Duration
}

// RESTSource implements RecordSource against the remote org's REST API.
// Authentication is a bearer token supplied by configuration; token refresh
// is outside this component.
type RESTSource struct {
	client     *resty.Client
	instance   string
	apiVersion string
}

var _ RecordSource = (*RESTSource)(nil)

// NewRESTSource creates a RESTSource from the given connection settings.
func NewRESTSource(cfg Config) *RESTSource {
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}

	client := resty.New().
		SetBaseURL(cfg.InstanceURL).
		SetAuthToken(cfg.APIToken).
		SetHeader("Accept", "application/json")
	if cfg.ClientID != "" {
		client.SetHeader("X-Client-Id", cfg.ClientID)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &RESTSource{
		client:     client,
		instance:   cfg.InstanceURL,
		apiVersion: version,
	}
}

// Instance returns the configured instance URL.
func (s *RESTSource) Instance() string { return s.instance }

func (s *RESTSource) basePath() string {
	return "/services/data/" + s.apiVersion
}

// DescribeGlobal lists every object type the org exposes.
func (s *RESTSource) DescribeGlobal(ctx context.Context) ([]ObjectSummary, error) {
	var out struct {
		SObjects []ObjectSummary `json:"sobjects"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(s.basePath() + "/sobjects")
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, &StatusError{Code: resp.StatusCode(), URL: resp.Request.URL}
	}

	return out.SObjects, nil
}

// DescribeObject returns the full schema description for one object type.
// The raw payload is preserved alongside the parsed fields.
func (s *RESTSource) DescribeObject(ctx context.Context, name string) (*ObjectDescribe, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		Get(s.basePath() + "/sobjects/" + name + "/describe")
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", name, err)
	}
	if !resp.IsSuccess() {
		return nil, &StatusError{Code: resp.StatusCode(), URL: resp.Request.URL}
	}

	raw := resp.Body()
	var describe ObjectDescribe
	if err := json.Unmarshal(raw, &describe); err != nil {
		return nil, fmt.Errorf("parsing describe for %s: %w", name, err)
	}
	describe.Raw = append(json.RawMessage(nil), raw...)

	return &describe, nil
}

// queryPage is one page of a query result.
type queryPage struct {
	TotalSize      int      `json:"totalSize"`
	Done           bool     `json:"done"`
	NextRecordsURL string   `json:"nextRecordsUrl"`
	Records        []Record `json:"records"`
}

// Query runs a query and follows nextRecordsUrl pagination until done.
func (s *RESTSource) Query(ctx context.Context, q string) ([]Record, error) {
	var page queryPage
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("q", q).
		SetResult(&page).
		Get(s.basePath() + "/query")
	if err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, &StatusError{Code: resp.StatusCode(), URL: resp.Request.URL}
	}

	records := page.Records
	for !page.Done && page.NextRecordsURL != "" {
		next := page.NextRecordsURL
		page = queryPage{}
		resp, err := s.client.R().
			SetContext(ctx).
			SetResult(&page).
			Get(next)
		if err != nil {
			return nil, fmt.Errorf("fetching next query page: %w", err)
		}
		if !resp.IsSuccess() {
			return nil, &StatusError{Code: resp.StatusCode(), URL: resp.Request.URL}
		}
		records = append(records, page.Records...)
	}

	return records, nil
}

// binaryPath returns the REST path serving the raw bytes of a binary asset.
func (s *RESTSource) binaryPath(kind FileKind, id string) (string, error) {
	switch kind {
	case KindContentVersion:
		return s.basePath() + "/sobjects/ContentVersion/" + id + "/VersionData", nil
	case KindAttachment:
		return s.basePath() + "/sobjects/Attachment/" + id + "/Body", nil
	case KindDocument:
		return s.basePath() + "/sobjects/Document/" + id + "/Body", nil
	default:
		return "", fmt.Errorf("unknown file kind: %q", kind)
	}
}

// DownloadBinary fetches the raw bytes of one binary asset.
func (s *RESTSource) DownloadBinary(ctx context.Context, kind FileKind, id string) ([]byte, error) {
	path, err := s.binaryPath(kind, id)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("downloading %s %s: %w", kind, id, err)
	}
	if !resp.IsSuccess() {
		return nil, &StatusError{Code: resp.StatusCode(), URL: resp.Request.URL}
	}

	return resp.Body(), nil
}
