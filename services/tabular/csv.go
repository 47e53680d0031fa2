package tabular

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core/attendance"
)

var ErrMissingColumn = errors.New("missing column")

// column aliases, first one is the canonical name
var (
	rosterColumns = [][]string{
		{"student_id", "id", "student"},
		{"name", "student_name"},
		{"year"},
		{"group", "class"},
	}
	scheduleColumns = [][]string{
		{"year"},
		{"group", "class"},
		{"subject"},
		{"session_number", "session"},
		{"date"},
		{"start_time", "time", "start"},
		{"duration"},
	}
	scanColumns = [][]string{
		{"student_id", "id", "student"},
		{"location", "room"},
		{"date"},
		{"time"},
		{"recorded_by", "device"},
	}

	// columns that must be present in the header
	required = map[string]bool{"student_id": true, "year": true, "group": true, "subject": true,
		"session_number": true, "date": true, "location": true}
)

type table struct {
	idx     map[string]int // canonical name -> column position
	records [][]string
}

func (tb table) get(record []string, col string) string {
	i, ok := tb.idx[col]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

func headerKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func read(r io.Reader, columns [][]string) (table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return table{}, errors.New("empty file")
	}
	if err != nil {
		return table{}, errors.Wrap(err, "reading header")
	}
	positions := make(map[string]int, len(header))
	for i, h := range header {
		if _, ok := positions[headerKey(h)]; !ok {
			positions[headerKey(h)] = i
		}
	}

	tb := table{idx: make(map[string]int, len(columns))}
	for _, aliases := range columns {
		for _, alias := range aliases {
			if i, ok := positions[alias]; ok {
				tb.idx[aliases[0]] = i
				break
			}
		}
		if _, ok := tb.idx[aliases[0]]; !ok && required[aliases[0]] {
			return table{}, errors.Wrap(ErrMissingColumn, aliases[0])
		}
	}

	tb.records, err = cr.ReadAll()
	if err != nil {
		return table{}, errors.Wrap(err, "reading records")
	}
	return tb, nil
}

// ReadRoster reads a roster snapshot. Columns: student_id, name, year, group.
func ReadRoster(r io.Reader) ([]attendance.RosterRow, error) {
	tb, err := read(r, rosterColumns)
	if err != nil {
		return nil, err
	}
	rows := make([]attendance.RosterRow, 0, len(tb.records))
	for _, rec := range tb.records {
		rows = append(rows, attendance.RosterRow{
			StudentID: tb.get(rec, "student_id"),
			Name:      tb.get(rec, "name"),
			Year:      tb.get(rec, "year"),
			Group:     tb.get(rec, "group"),
		})
	}
	return rows, nil
}

// ReadSchedule reads the published sessions.
// Columns: year, group, subject, session_number, date, start_time, duration.
func ReadSchedule(r io.Reader) ([]attendance.ScheduleRow, error) {
	tb, err := read(r, scheduleColumns)
	if err != nil {
		return nil, err
	}
	rows := make([]attendance.ScheduleRow, 0, len(tb.records))
	for _, rec := range tb.records {
		rows = append(rows, attendance.ScheduleRow{
			Year:          tb.get(rec, "year"),
			Group:         tb.get(rec, "group"),
			Subject:       tb.get(rec, "subject"),
			SessionNumber: tb.get(rec, "session_number"),
			Date:          tb.get(rec, "date"),
			StartTime:     tb.get(rec, "start_time"),
			Duration:      tb.get(rec, "duration"),
		})
	}
	return rows, nil
}

// ReadScans reads a scan log export. Columns: student_id, location, date, time, recorded_by.
func ReadScans(r io.Reader) ([]attendance.ScanRow, error) {
	tb, err := read(r, scanColumns)
	if err != nil {
		return nil, err
	}
	rows := make([]attendance.ScanRow, 0, len(tb.records))
	for _, rec := range tb.records {
		rows = append(rows, attendance.ScanRow{
			StudentID:  tb.get(rec, "student_id"),
			Location:   tb.get(rec, "location"),
			Date:       tb.get(rec, "date"),
			Time:       tb.get(rec, "time"),
			RecordedBy: tb.get(rec, "recorded_by"),
		})
	}
	return rows, nil
}
