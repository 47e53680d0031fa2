package attendance

import (
	"testing"
	"time"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	tm, err := time.Parse("2006-01-02 15:04:05", value)
	if err != nil {
		t.Fatalf("at() failed: %v", err)
	}
	return tm
}

func day(t *testing.T, value string) time.Time {
	t.Helper()
	tm, err := time.Parse(dateLayout, value)
	if err != nil {
		t.Fatalf("day() failed: %v", err)
	}
	return tm
}

func session(t *testing.T, group, subject, number, start string, duration time.Duration) ScheduledSession {
	return ScheduledSession{
		Year:          "1",
		Group:         group,
		Subject:       subject,
		SessionNumber: number,
		Start:         at(t, start),
		Duration:      duration,
	}
}

func scan(t *testing.T, seq int, student, location, when string) ScanEvent {
	return ScanEvent{Seq: seq, StudentID: student, Location: location, At: at(t, when)}
}

func student(id, group string) RosterEntry {
	return RosterEntry{StudentID: id, Name: "Student " + id, Year: "1", Group: group}
}
