package attendance

import (
	"fmt"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// Rows as handed over by the tabular collaborators (workbooks, CSV files, database).
// Every field is kept as text until the Normalizer has parsed it.
type (
	RosterRow struct {
		StudentID string `json:"student_id" validate:"notblank"`
		Name      string `json:"name"`
		Year      string `json:"year" validate:"notblank"`
		Group     string `json:"group" validate:"notblank"`
	}

	ScheduleRow struct {
		Year          string `json:"year" validate:"notblank"`
		Group         string `json:"group" validate:"notblank"`
		Subject       string `json:"subject" validate:"notblank"`
		SessionNumber string `json:"session_number" validate:"notblank"`
		Date          string `json:"date" validate:"notblank"`
		StartTime     string `json:"start_time"`
		Duration      string `json:"duration"` // minutes; optional
	}

	ScanRow struct {
		StudentID  string `json:"student_id" validate:"notblank"`
		Location   string `json:"location" validate:"notblank"`
		Date       string `json:"date" validate:"notblank"`
		Time       string `json:"time"`
		RecordedBy string `json:"recorded_by"`
	}
)

// RosterEntry is a student's group membership as captured by one roster snapshot.
type RosterEntry struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Year      string `json:"year"`
	Group     string `json:"group"`
}

func (e RosterEntry) GroupKey() GroupKey { return GroupKey{Year: e.Year, Group: e.Group} }

// GroupKey identifies the schedule of one class group of one year.
type GroupKey struct {
	Year  string
	Group string
}

func (k GroupKey) String() string { return k.Year + "-" + k.Group }

// ScheduledSession is one published class meeting.
type ScheduledSession struct {
	Year          string        `json:"year"`
	Group         string        `json:"group"`
	Subject       string        `json:"subject"`
	SessionNumber string        `json:"session_number"`
	Start         time.Time     `json:"start"`
	Duration      time.Duration `json:"duration"` // zero: policy default
}

func (s ScheduledSession) GroupKey() GroupKey { return GroupKey{Year: s.Year, Group: s.Group} }

func (s ScheduledSession) identity() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", s.Year, s.Group, s.Subject, s.SessionNumber, s.Start.Format(time.RFC3339))
}

// ScanEvent is one raw attendance recording, once normalized.
type ScanEvent struct {
	Seq        int       `json:"seq"` // position in the scan log
	StudentID  string    `json:"student_id"`
	Location   string    `json:"location"`
	At         time.Time `json:"at"`
	RecordedBy string    `json:"recorded_by"`
}

// ValidatedRecord is a scan event confirmed to correspond to a scheduled session.
type ValidatedRecord struct {
	StudentID        string    `json:"student_id"`
	Name             string    `json:"name"`
	Year             string    `json:"year"`
	ReportGroup      string    `json:"group"`
	Subject          string    `json:"subject"`
	SessionNumber    string    `json:"session_number"`
	Location         string    `json:"location"`
	At               time.Time `json:"at"`
	ValidatedAgainst string    `json:"validated_against,omitempty"` // empty for legacy records
}

func (r ValidatedRecord) Date() string { return r.At.Format(dateLayout) }
func (r ValidatedRecord) Time() string { return r.At.Format(timeLayout) }

// Key is the deduplication key of a record.
func (r ValidatedRecord) Key() RecordKey {
	return RecordKey{
		StudentID:     r.StudentID,
		Subject:       r.Subject,
		SessionNumber: r.SessionNumber,
		Location:      r.Location,
		Date:          r.Date(),
	}
}

type RecordKey struct {
	StudentID     string
	Subject       string
	SessionNumber string
	Location      string
	Date          string
}

// Roster is a roster snapshot indexed by student ID.
// The first entry wins when a student is listed twice.
type Roster struct {
	entries []RosterEntry
	byID    map[string]int
}

func NewRoster(entries []RosterEntry) Roster {
	r := Roster{
		entries: make([]RosterEntry, 0, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if _, ok := r.byID[e.StudentID]; ok {
			continue
		}
		r.byID[e.StudentID] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r
}

func (r Roster) Lookup(studentID string) (RosterEntry, bool) {
	idx, ok := r.byID[studentID]
	if !ok {
		return RosterEntry{}, false
	}
	return r.entries[idx], true
}

func (r Roster) Entries() []RosterEntry { return r.entries }
func (r Roster) Len() int               { return len(r.entries) }

// Schedule indexes sessions by group, keeping the published order.
type Schedule struct {
	byGroup map[GroupKey][]ScheduledSession
	groups  []GroupKey
}

func NewSchedule(sessions []ScheduledSession) Schedule {
	s := Schedule{byGroup: make(map[GroupKey][]ScheduledSession)}
	seen := make(map[string]struct{}, len(sessions))
	for _, sess := range sessions {
		id := sess.identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		key := sess.GroupKey()
		if _, ok := s.byGroup[key]; !ok {
			s.groups = append(s.groups, key)
		}
		s.byGroup[key] = append(s.byGroup[key], sess)
	}
	return s
}

func (s Schedule) Sessions(key GroupKey) []ScheduledSession { return s.byGroup[key] }
func (s Schedule) Groups() []GroupKey                       { return s.groups }
func (s Schedule) Len() int {
	var n int
	for _, sessions := range s.byGroup {
		n += len(sessions)
	}
	return n
}
