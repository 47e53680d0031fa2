package attendance

import (
	"math"
	"time"
)

type Status string

const (
	StatusPass         Status = "Pass"
	StatusFail         Status = "Fail"
	StatusHighRisk     Status = "High Risk"
	StatusModerateRisk Status = "Moderate Risk"
	StatusLowRisk      Status = "Low Risk"
	StatusNoRisk       Status = "No Risk"
)

var Statuses = []Status{StatusPass, StatusFail, StatusHighRisk, StatusModerateRisk, StatusLowRisk, StatusNoRisk}

// EntitlementStatus is a student's verdict for one cycle. It is always recomputed.
type EntitlementStatus struct {
	StudentID         string         `json:"student_id"`
	Name              string         `json:"name"`
	Year              string         `json:"year"`
	Group             string         `json:"group"`
	Status            Status         `json:"status"`
	Percentage        float64        `json:"percentage"`
	RequiredTotal     int            `json:"required_total"`
	RequiredSessions  int            `json:"required_sessions"`
	Attended          int            `json:"attended"`
	SessionsNeeded    int            `json:"sessions_needed"`
	SessionsLeft      int            `json:"sessions_left"`
	SessionsCompleted int            `json:"sessions_completed"`
	BySubject         map[string]int `json:"by_subject,omitempty"`
}

// RequiredSessions is the number of sessions a student must attend: ceil(threshold * requiredTotal).
func RequiredSessions(requiredTotal int, threshold float64) int {
	if requiredTotal <= 0 || threshold <= 0 {
		return 0
	}
	// absorb float noise such as 0.7*10 = 7.000000000000001
	return int(math.Ceil(threshold*float64(requiredTotal) - 1e-9))
}

// SessionsNeeded is how many more sessions the student must attend to reach the threshold.
func SessionsNeeded(attended, requiredTotal int, threshold float64) int {
	needed := RequiredSessions(requiredTotal, threshold) - attended
	if needed < 0 {
		return 0
	}
	return needed
}

// Classify turns attendance counts into a status tier. Every input yields exactly one tier.
func Classify(attended, requiredTotal int, threshold float64, completed, remaining int) EntitlementStatus {
	if attended < 0 {
		attended = 0
	}
	if remaining < 0 {
		remaining = 0
	}
	required := RequiredSessions(requiredTotal, threshold)
	needed := SessionsNeeded(attended, requiredTotal, threshold)

	st := EntitlementStatus{
		RequiredTotal:     requiredTotal,
		RequiredSessions:  required,
		Attended:          attended,
		SessionsNeeded:    needed,
		SessionsLeft:      remaining,
		SessionsCompleted: completed,
	}
	if requiredTotal > 0 {
		st.Percentage = float64(attended) / float64(requiredTotal)
	}

	switch {
	case remaining == 0:
		if attended >= required {
			st.Status = StatusPass
		} else {
			st.Status = StatusFail
		}
	case attended+remaining < required:
		st.Status = StatusFail
	case attended >= required:
		st.Status = StatusPass
	default:
		switch margin := remaining - needed; {
		case margin <= 1:
			st.Status = StatusHighRisk
		case margin <= 3:
			st.Status = StatusModerateRisk
		case margin <= 5:
			st.Status = StatusLowRisk
		default:
			st.Status = StatusNoRisk
		}
	}
	return st
}

// Progress counts the sessions of a group held so far and still to come.
type Progress struct {
	Completed int `json:"completed"`
	Remaining int `json:"remaining"`
}

// SessionProgress splits every group's sessions around now: a session has been held once its start is not after now.
func SessionProgress(schedule Schedule, now time.Time) map[GroupKey]Progress {
	progress := make(map[GroupKey]Progress, len(schedule.Groups()))
	for _, key := range schedule.Groups() {
		var p Progress
		for _, s := range schedule.Sessions(key) {
			if s.Start.After(now) {
				p.Remaining++
			} else {
				p.Completed++
			}
		}
		progress[key] = p
	}
	return progress
}

// Tally is a student's attended sessions.
type Tally struct {
	Total     int
	BySubject map[string]int
}

// TallyAttendance counts, per student, the distinct (subject, session, date) among the records.
func TallyAttendance(records []ValidatedRecord) map[string]Tally {
	type attendedKey struct {
		studentID, subject, session, date string
	}
	seen := make(map[attendedKey]struct{}, len(records))
	tallies := make(map[string]Tally)
	for _, r := range records {
		key := attendedKey{r.StudentID, r.Subject, r.SessionNumber, r.Date()}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		t, ok := tallies[r.StudentID]
		if !ok {
			t.BySubject = make(map[string]int)
		}
		t.Total++
		t.BySubject[r.Subject]++
		tallies[r.StudentID] = t
	}
	return tallies
}
