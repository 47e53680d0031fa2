package attendance

import (
	"errors"
	"fmt"
)

var (
	// errors
	ErrMissingInput     = errors.New("missing required input")
	ErrModuleNotFound   = errors.New("module not found")
	ErrNoCycle          = errors.New("module has not been reconciled yet")
	ErrInvalidThreshold = errors.New("attendance threshold must be in (0, 1]")
)

// MalformedTemporalError reports a date or time value that could not be parsed.
type MalformedTemporalError struct {
	Field string
	Value string
}

func (err *MalformedTemporalError) Error() string {
	return fmt.Sprintf("malformed %s value %q", err.Field, err.Value)
}

type DiagnosticKind string

const (
	KindMalformedTemporal DiagnosticKind = "malformed_temporal_value"
	KindUnknownStudent    DiagnosticKind = "unknown_student"
	KindIncompleteRecord  DiagnosticKind = "incomplete_record"
	KindDuplicateStudent  DiagnosticKind = "duplicate_student"
)

// DiagnosticKinds lists every kind in reporting order.
var DiagnosticKinds = []DiagnosticKind{KindMalformedTemporal, KindUnknownStudent, KindIncompleteRecord, KindDuplicateStudent}

// Diagnostic is a per-record issue that was recovered from locally.
type Diagnostic struct {
	Kind   DiagnosticKind `json:"kind"`
	Source string         `json:"source"` // roster, prior_roster, schedule, scans
	Row    int            `json:"row"`    // 0-based position in the source
	Detail string         `json:"detail"`
}

type Diagnostics struct {
	Items []Diagnostic `json:"items"`
}

func (d *Diagnostics) add(kind DiagnosticKind, source string, row int, detail string) {
	if d == nil {
		return
	}
	d.Items = append(d.Items, Diagnostic{Kind: kind, Source: source, Row: row, Detail: detail})
}

func (d *Diagnostics) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Items)
}

func (d *Diagnostics) Count(kind DiagnosticKind) int {
	var n int
	for _, item := range d.Items {
		if item.Kind == kind {
			n++
		}
	}
	return n
}

// Counts returns the number of diagnostics per kind.
func (d *Diagnostics) Counts() map[DiagnosticKind]int {
	counts := make(map[DiagnosticKind]int)
	for _, item := range d.Items {
		counts[item.Kind]++
	}
	return counts
}

func (d *Diagnostics) merge(other Diagnostics) {
	d.Items = append(d.Items, other.Items...)
}

// Summary returns the counts as loggable extras.
func (d *Diagnostics) Summary() map[string]interface{} {
	summary := make(map[string]interface{})
	for kind, n := range d.Counts() {
		summary[string(kind)] = n
	}
	return summary
}
