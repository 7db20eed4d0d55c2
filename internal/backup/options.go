package backup

import "time"

// Backup types.
const (
	TypeFull        = "full"
	TypeIncremental = "incremental"
)

// Default ceilings. The field cap and query limits are carried over from the
// remote API's quota characteristics; treat them as tunable constants, not
// derived values.
const (
	DefaultQueryLimit      = 1000
	DefaultFieldLimit      = 20
	DefaultContentLimit    = 2000
	DefaultAttachmentLimit = 1000
	DefaultDocumentLimit   = 1000
	DefaultConcurrency     = 5
	DefaultRetries         = 3
)

// Options control one snapshot run. The zero value is usable: withDefaults
// fills in a full backup with the default ceilings.
type Options struct {
	Type            string    `json:"type"`
	Since           time.Time `json:"since,omitzero"`
	IncludeFiles    bool      `json:"includeFiles"`
	Concurrency     int       `json:"concurrency"`
	Retries         int       `json:"retries"`
	QueryLimit      int       `json:"queryLimit"`
	FieldLimit      int       `json:"fieldLimit"`
	ContentLimit    int       `json:"contentLimit"`
	AttachmentLimit int       `json:"attachmentLimit"`
	DocumentLimit   int       `json:"documentLimit"`
}

func (o Options) withDefaults() Options {
	if o.Type == "" {
		o.Type = TypeFull
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Retries <= 0 {
		o.Retries = DefaultRetries
	}
	if o.QueryLimit <= 0 {
		o.QueryLimit = DefaultQueryLimit
	}
	if o.FieldLimit <= 0 {
		o.FieldLimit = DefaultFieldLimit
	}
	if o.ContentLimit <= 0 {
		o.ContentLimit = DefaultContentLimit
	}
	if o.AttachmentLimit <= 0 {
		o.AttachmentLimit = DefaultAttachmentLimit
	}
	if o.DocumentLimit <= 0 {
		o.DocumentLimit = DefaultDocumentLimit
	}
	return o
}
