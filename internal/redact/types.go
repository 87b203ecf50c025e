package redact

import (
	"time"

	"github.com/veildoc/veildoc/internal/document"
)

// Range is a half-open [Start,End) rune interval in the flattened text.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Segment is one contiguous same-page redaction region: the union box of
// the covered characters plus the text and style needed to draw an
// opaque replacement over it.
type Segment struct {
	Page     int            `json:"page"`
	BBox     document.Rect  `json:"bbox"`
	Font     string         `json:"font"`
	Size     float64        `json:"size"`
	Color    document.Color `json:"color"`
	Original string         `json:"original"`
	Redacted string         `json:"redacted"`
	Indices  []int          `json:"indices"`

	hasBox bool
}

// BackupPair records one overwritten character for undo.
type BackupPair struct {
	Index int
	Char  rune
}

// OpKind distinguishes how an operation was produced.
type OpKind int

const (
	OpEdit OpKind = iota
	OpReplaceAll
	OpRule
)

// Operation is one redaction applied to the character map. It stays on
// the pending list (and undoable on the history stack) until the
// document is flattened and saved.
type Operation struct {
	Kind        OpKind
	Start       int
	End         int
	Original    string
	Redacted    string
	Segments    []Segment
	Backups     []BackupPair
	Timestamp   time.Time
	RuleID      string
	Occurrences int
}
