package attendance

import "sync"

// Accumulator is the deduplicating set of validated records of one run.
// It keeps insertion order and is safe for concurrent use.
type Accumulator struct {
	mu      sync.Mutex
	seen    map[RecordKey]struct{}
	records []ValidatedRecord
}

func NewAccumulator() *Accumulator {
	return &Accumulator{seen: make(map[RecordKey]struct{})}
}

// Add inserts r unless a record with the same key is already there.
func (a *Accumulator) Add(r ValidatedRecord) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := r.Key()
	if _, ok := a.seen[key]; ok {
		return false
	}
	a.seen[key] = struct{}{}
	a.records = append(a.records, r)
	return true
}

func (a *Accumulator) Has(key RecordKey) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.seen[key]
	return ok
}

func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Records returns a copy of the accumulated records in insertion order.
func (a *Accumulator) Records() []ValidatedRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	records := make([]ValidatedRecord, len(a.records))
	copy(records, a.records)
	return records
}

// Validator assigns scan events to sessions of the right group's schedule.
type Validator struct {
	Policy WindowPolicy
}

// Validate validates every scan event of a known student and adds the resulting records to acc.
// Scans of students absent from the roster are reported and dropped.
// It returns the number of records added.
func (v Validator) Validate(
	scans []ScanEvent,
	roster Roster,
	schedule Schedule,
	transfers map[string]TransferInference,
	acc *Accumulator,
	diag *Diagnostics,
) int {
	var added int
	for _, e := range scans {
		student, ok := roster.Lookup(e.StudentID)
		if !ok {
			diag.add(KindUnknownStudent, "scans", e.Seq, e.StudentID)
			continue
		}
		if rec, ok := v.validateEvent(e, student, schedule, transfers); ok {
			if acc.Add(rec) {
				added++
			}
		}
	}
	return added
}

// groupsFor lists the groups whose schedule applies to the event, in the order they are tried.
// On the transfer day the pre-transfer group goes first.
func groupsFor(e ScanEvent, student RosterEntry, transfers map[string]TransferInference) []string {
	ti, ok := transfers[student.StudentID]
	if !ok {
		return []string{student.Group}
	}
	switch ti.SideOn(e.At) {
	case SidePrevious:
		return []string{ti.PreviousGroup}
	case SideBoth:
		return []string{ti.PreviousGroup, student.Group}
	default:
		return []string{student.Group}
	}
}

// validateEvent returns the record of the first session the event matches.
// A single scan yields at most one record, even when both groups' schedules are tried.
func (v Validator) validateEvent(
	e ScanEvent,
	student RosterEntry,
	schedule Schedule,
	transfers map[string]TransferInference,
) (ValidatedRecord, bool) {
	for _, group := range groupsFor(e, student, transfers) {
		sess, ok := v.Policy.FirstMatch(e, schedule.Sessions(GroupKey{Year: student.Year, Group: group}))
		if !ok {
			continue
		}
		return ValidatedRecord{
			StudentID:        student.StudentID,
			Name:             student.Name,
			Year:             student.Year,
			ReportGroup:      student.Group,
			Subject:          sess.Subject,
			SessionNumber:    sess.SessionNumber,
			Location:         e.Location,
			At:               e.At,
			ValidatedAgainst: group,
		}, true
	}
	return ValidatedRecord{}, false
}
