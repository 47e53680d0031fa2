package attendance

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/trezcool/rollcall/core"
)

// NormalizeKey makes an identifier (group, subject, location, student ID) comparable:
// unicode NFC, whitespace trimmed and collapsed, upper-cased.
func NormalizeKey(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(norm.NFC.String(s)), " "))
}

// Normalizer turns raw rows into comparable domain values.
// Rows that cannot be used are reported to the Diagnostics and skipped.
type Normalizer struct {
	loc             *time.Location
	defaultDuration time.Duration
	validate        *validator.Validate
}

func NewNormalizer(loc *time.Location, defaultDuration time.Duration) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	if defaultDuration <= 0 {
		defaultDuration = DefaultSessionDuration
	}
	return &Normalizer{
		loc:             loc,
		defaultDuration: defaultDuration,
		validate:        core.NewValidator(),
	}
}

func (n *Normalizer) Location() *time.Location { return n.loc }

func (n *Normalizer) incomplete(diag *Diagnostics, source string, row int, err error) {
	if vErrs, ok := err.(validator.ValidationErrors); ok {
		flds := make([]string, 0, len(vErrs))
		for _, fe := range vErrs {
			flds = append(flds, fe.Field())
		}
		diag.add(KindIncompleteRecord, source, row, "missing "+strings.Join(flds, ", "))
		return
	}
	diag.add(KindIncompleteRecord, source, row, err.Error())
}

// Roster normalizes a roster snapshot. source names the snapshot in diagnostics.
func (n *Normalizer) Roster(source string, rows []RosterRow, diag *Diagnostics) []RosterEntry {
	entries := make([]RosterEntry, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for i, row := range rows {
		if err := n.validate.Struct(row); err != nil {
			n.incomplete(diag, source, i, err)
			continue
		}
		e := RosterEntry{
			StudentID: NormalizeKey(row.StudentID),
			Name:      strings.Join(strings.Fields(row.Name), " "),
			Year:      NormalizeYear(row.Year),
			Group:     NormalizeKey(row.Group),
		}
		if _, ok := seen[e.StudentID]; ok {
			diag.add(KindDuplicateStudent, source, i, e.StudentID)
			continue
		}
		seen[e.StudentID] = struct{}{}
		entries = append(entries, e)
	}
	return entries
}

// Schedule normalizes the published sessions.
func (n *Normalizer) Schedule(rows []ScheduleRow, diag *Diagnostics) []ScheduledSession {
	sessions := make([]ScheduledSession, 0, len(rows))
	for i, row := range rows {
		if err := n.validate.Struct(row); err != nil {
			n.incomplete(diag, "schedule", i, err)
			continue
		}
		start, err := Combine(row.Date, row.StartTime, n.loc)
		if err != nil {
			diag.add(KindMalformedTemporal, "schedule", i, err.Error())
			continue
		}
		sessions = append(sessions, ScheduledSession{
			Year:          NormalizeYear(row.Year),
			Group:         NormalizeKey(row.Group),
			Subject:       NormalizeKey(row.Subject),
			SessionNumber: normalizeSessionNumber(row.SessionNumber),
			Start:         start,
			Duration:      n.duration(row.Duration),
		})
	}
	return sessions
}

// Scans normalizes the scan log. Events keep their position in the log.
func (n *Normalizer) Scans(rows []ScanRow, diag *Diagnostics) []ScanEvent {
	events := make([]ScanEvent, 0, len(rows))
	for i, row := range rows {
		if err := n.validate.Struct(row); err != nil {
			n.incomplete(diag, "scans", i, err)
			continue
		}
		at, err := Combine(row.Date, row.Time, n.loc)
		if err != nil {
			diag.add(KindMalformedTemporal, "scans", i, err.Error())
			continue
		}
		events = append(events, ScanEvent{
			Seq:        i,
			StudentID:  NormalizeKey(row.StudentID),
			Location:   NormalizeKey(row.Location),
			At:         at,
			RecordedBy: core.CleanString(row.RecordedBy),
		})
	}
	return events
}

// duration parses a session duration in minutes; missing or invalid values fall back to the default.
func (n *Normalizer) duration(minutes string) time.Duration {
	f, err := strconv.ParseFloat(strings.TrimSpace(minutes), 64)
	if err != nil || f <= 0 {
		return n.defaultDuration
	}
	return time.Duration(f * float64(time.Minute))
}

// NormalizeYear reduces "Year 1", "Y1" and "1" to the same key.
func NormalizeYear(s string) string {
	key := NormalizeKey(s)
	for _, prefix := range []string{"YEAR", "Y"} {
		if rest := strings.TrimSpace(strings.TrimPrefix(key, prefix)); rest != key && rest != "" {
			if _, err := strconv.Atoi(rest); err == nil {
				return rest
			}
		}
	}
	return normalizeSessionNumber(key)
}

// normalizeSessionNumber drops the ".0" spreadsheets add to whole numbers.
func normalizeSessionNumber(s string) string {
	s = NormalizeKey(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}
