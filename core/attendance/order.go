package attendance

import (
	"sort"
	"strings"

	"github.com/trezcool/rollcall/core"
)

var recordFields = map[string]func(a, b ValidatedRecord) int{
	"student_id":     func(a, b ValidatedRecord) int { return strings.Compare(a.StudentID, b.StudentID) },
	"group":          func(a, b ValidatedRecord) int { return strings.Compare(a.ReportGroup, b.ReportGroup) },
	"subject":        func(a, b ValidatedRecord) int { return strings.Compare(a.Subject, b.Subject) },
	"session_number": func(a, b ValidatedRecord) int { return strings.Compare(a.SessionNumber, b.SessionNumber) },
	"location":       func(a, b ValidatedRecord) int { return strings.Compare(a.Location, b.Location) },
	"at": func(a, b ValidatedRecord) int {
		switch {
		case a.At.Before(b.At):
			return -1
		case a.At.After(b.At):
			return 1
		}
		return 0
	},
}

// SortRecords orders records in place by the given fields, eg. "-at", "student_id".
func SortRecords(records []ValidatedRecord, orderings []core.DBOrdering) error {
	if len(orderings) == 0 {
		return nil
	}
	for _, ord := range orderings {
		if _, ok := recordFields[ord.Field]; !ok {
			return core.NewValidationError(nil, core.FieldError{Field: "ordering", Error: "unknown field " + ord.Field})
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, ord := range orderings {
			c := recordFields[ord.Field](records[i], records[j])
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	return nil
}
