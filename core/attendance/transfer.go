package attendance

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Transfer is a change of group between two roster snapshots.
type Transfer struct {
	StudentID      string `json:"student_id"`
	Name           string `json:"name"`
	Year           string `json:"year"`
	PreviousGroup  string `json:"previous_group"`
	CurrentGroup   string `json:"current_group"`
	FromPriorCycle bool   `json:"from_prior_cycle"`
}

// IdentifyTransfers lists the students present in both snapshots whose group differs.
func IdentifyTransfers(prior, current Roster) []Transfer {
	transfers := make([]Transfer, 0)
	for _, prev := range prior.Entries() {
		curr, ok := current.Lookup(prev.StudentID)
		if !ok || curr.Group == prev.Group {
			continue
		}
		transfers = append(transfers, Transfer{
			StudentID:     curr.StudentID,
			Name:          curr.Name,
			Year:          curr.Year,
			PreviousGroup: prev.Group,
			CurrentGroup:  curr.Group,
		})
	}
	return transfers
}

// CombineTransfers merges the transfers carried from the previous cycle with the newly identified ones.
// Carried transfers keep their previous group and get their current group from the current roster;
// they are dropped once the student left the roster or went back to the previous group.
// A newly identified transfer of an already tracked student only refreshes its current group.
func CombineTransfers(carried, identified []Transfer, current Roster) []Transfer {
	all := make([]Transfer, 0, len(carried)+len(identified))
	idx := make(map[string]int, len(carried)+len(identified))

	for _, t := range carried {
		if _, ok := idx[t.StudentID]; ok {
			continue
		}
		curr, ok := current.Lookup(t.StudentID)
		if !ok || curr.Group == t.PreviousGroup {
			continue
		}
		t.CurrentGroup = curr.Group
		t.Name = curr.Name
		t.Year = curr.Year
		t.FromPriorCycle = true
		idx[t.StudentID] = len(all)
		all = append(all, t)
	}

	for _, t := range identified {
		if i, ok := idx[t.StudentID]; ok {
			all[i].CurrentGroup = t.CurrentGroup
			continue
		}
		t.FromPriorCycle = false
		idx[t.StudentID] = len(all)
		all = append(all, t)
	}
	return all
}

// Label classifies a scan event against the schedules of a transferred student's two groups.
type Label int

const (
	LabelPrevious Label = iota + 1
	LabelCurrent
	LabelBoth
)

func (l Label) String() string {
	switch l {
	case LabelPrevious:
		return "previous"
	case LabelCurrent:
		return "current"
	case LabelBoth:
		return "both"
	default:
		return "none"
	}
}

func (l Label) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Label) UnmarshalText(text []byte) error {
	switch string(text) {
	case "previous":
		*l = LabelPrevious
	case "current":
		*l = LabelCurrent
	case "both":
		*l = LabelBoth
	default:
		return fmt.Errorf("unknown label %q", text)
	}
	return nil
}

type PatternEntry struct {
	Label    Label     `json:"label"`
	At       time.Time `json:"at"`
	Location string    `json:"location"`
}

// TransferPoint is either a confirmed transfer day or unconfirmed.
// Use Date to read it: the zero value is Unconfirmed.
type TransferPoint struct {
	day       time.Time
	confirmed bool
}

func Confirmed(day time.Time) TransferPoint {
	return TransferPoint{day: startOfDay(day), confirmed: true}
}

func Unconfirmed() TransferPoint { return TransferPoint{} }

// Date returns the transfer day, ok is false while the transfer is unconfirmed.
func (p TransferPoint) Date() (day time.Time, ok bool) {
	return p.day, p.confirmed
}

func (p TransferPoint) String() string {
	if !p.confirmed {
		return "unconfirmed"
	}
	return p.day.Format(dateLayout)
}

// TransferInference is a transfer plus the day it was inferred to take effect.
type TransferInference struct {
	Transfer
	Point   TransferPoint  `json:"-"`
	Pattern []PatternEntry `json:"pattern,omitempty"`
}

func (ti TransferInference) MarshalJSON() ([]byte, error) {
	type inference TransferInference
	var date *string
	day, ok := ti.Point.Date()
	if ok {
		s := day.Format(dateLayout)
		date = &s
	}
	return json.Marshal(struct {
		inference
		TransferDate *string `json:"transfer_date"`
		Confirmed    bool    `json:"confirmed"`
	}{inference(ti), date, ok})
}

// Side tells which group's schedule a scan must be validated against.
type Side int

const (
	SideCurrent Side = iota
	SidePrevious
	SideBoth
)

// SideOn returns the side of the transfer day a scan made at falls on.
// Unconfirmed transfers are not in effect yet.
func (ti TransferInference) SideOn(at time.Time) Side {
	day, ok := ti.Point.Date()
	if !ok {
		return SideCurrent
	}
	d := startOfDay(at.In(day.Location()))
	switch {
	case d.Before(day):
		return SidePrevious
	case d.Equal(day):
		return SideBoth
	default:
		return SideCurrent
	}
}

// Detector infers transfer days from attendance behavior.
type Detector struct {
	Policy WindowPolicy
	// ConfirmationThreshold is the number of consecutive scans matching only the
	// current group's schedule needed to confirm a transfer.
	ConfirmationThreshold int
}

// Detect infers when t took effect from the student's scan history.
func (d Detector) Detect(t Transfer, history []ScanEvent, prior, current []ScheduledSession) TransferInference {
	k := d.ConfirmationThreshold
	if k < 1 {
		k = 1
	}

	events := make([]ScanEvent, 0)
	for _, e := range history {
		if e.StudentID != t.StudentID || e.At.IsZero() {
			continue
		}
		events = append(events, e)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].At.Equal(events[j].At) {
			return events[i].Seq < events[j].Seq
		}
		return events[i].At.Before(events[j].At)
	})

	inf := TransferInference{Transfer: t, Point: Unconfirmed()}
	for _, e := range events {
		_, inPrev := d.Policy.FirstMatch(e, prior)
		_, inCurr := d.Policy.FirstMatch(e, current)
		var label Label
		switch {
		case inPrev && inCurr:
			label = LabelBoth
		case inPrev:
			label = LabelPrevious
		case inCurr:
			label = LabelCurrent
		default:
			continue
		}
		inf.Pattern = append(inf.Pattern, PatternEntry{Label: label, At: e.At, Location: e.Location})
	}

	run := 0
	for i, entry := range inf.Pattern {
		if entry.Label != LabelCurrent {
			run = 0
			continue
		}
		run++
		if run == k {
			first := inf.Pattern[i-k+1]
			inf.Point = Confirmed(startOfDay(first.At).AddDate(0, 0, -1))
			break
		}
	}
	return inf
}
