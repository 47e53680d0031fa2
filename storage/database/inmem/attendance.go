package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/rollcall/core/attendance"
)

type attendanceRepository struct {
	db *DB
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *DB) attendance.Repository {
	return &attendanceRepository{db: db}
}

func (repo *attendanceRepository) GetModule(_ context.Context, name string) (attendance.Module, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if m, ok := repo.db.modules[name]; ok {
		return m, nil
	}
	return attendance.Module{}, attendance.ErrModuleNotFound
}

func (repo *attendanceRepository) ListModules(_ context.Context) ([]attendance.Module, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	modules := make([]attendance.Module, 0, len(repo.db.modules))
	for _, m := range repo.db.modules {
		modules = append(modules, m)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].Name < modules[j].Name })
	return modules, nil
}

func (repo *attendanceRepository) SaveModule(_ context.Context, m attendance.Module) (attendance.Module, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if orig, ok := repo.db.modules[m.Name]; ok {
		m.CreatedAt = orig.CreatedAt
	}
	repo.db.modules[m.Name] = m
	return m, nil
}

func (repo *attendanceRepository) LoadInputs(_ context.Context, module string) (attendance.StoredInputs, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	rosters := repo.db.rosters[module]
	transfers := repo.db.transfers[module]
	carried := make([]attendance.Transfer, 0, len(transfers))
	for _, ti := range transfers {
		carried = append(carried, ti.Transfer)
	}
	return attendance.StoredInputs{
		Roster:           append([]attendance.RosterEntry(nil), rosters.current...),
		PriorRoster:      append([]attendance.RosterEntry(nil), rosters.prior...),
		Schedule:         append([]attendance.ScheduledSession(nil), repo.db.schedules[module]...),
		Scans:            append([]attendance.ScanEvent(nil), repo.db.scans.events...),
		PriorRecords:     append([]attendance.ValidatedRecord(nil), repo.db.records[module]...),
		CarriedTransfers: carried,
	}, nil
}

func (repo *attendanceRepository) SaveCycle(
	ctx context.Context,
	cycle attendance.Cycle,
	records []attendance.ValidatedRecord,
	transfers []attendance.TransferInference,
) error {
	return repo.SaveCycles(ctx, []attendance.CycleOutcome{{Cycle: cycle, Records: records, Transfers: transfers}})
}

func (repo *attendanceRepository) SaveCycles(_ context.Context, outcomes []attendance.CycleOutcome) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, out := range outcomes {
		if err := repo.db.saveCycleErr(out.Cycle.Module); err != nil {
			return err
		}
	}
	for _, out := range outcomes {
		module := out.Cycle.Module
		repo.db.records[module] = append([]attendance.ValidatedRecord(nil), out.Records...)
		repo.db.transfers[module] = append([]attendance.TransferInference(nil), out.Transfers...)
		repo.db.cycles[module] = append(repo.db.cycles[module], out.Cycle)
	}
	return nil
}

func (repo *attendanceRepository) LastCycle(_ context.Context, module string) (attendance.Cycle, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	cycles := repo.db.cycles[module]
	if len(cycles) == 0 {
		return attendance.Cycle{}, attendance.ErrNoCycle
	}
	return cycles[len(cycles)-1], nil
}

func (repo *attendanceRepository) ImportRoster(_ context.Context, module string, entries []attendance.RosterEntry) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	snapshots := repo.db.rosters[module]
	repo.db.rosters[module] = rosterSnapshots{
		current: append([]attendance.RosterEntry(nil), entries...),
		prior:   snapshots.current,
	}
	return nil
}

func (repo *attendanceRepository) ImportSchedule(_ context.Context, module string, sessions []attendance.ScheduledSession) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.schedules[module] = append([]attendance.ScheduledSession(nil), sessions...)
	return nil
}

func (repo *attendanceRepository) AppendScans(_ context.Context, events []attendance.ScanEvent) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	log := &repo.db.scans
	var added int
	for _, e := range events {
		key := scanKey{studentID: e.StudentID, location: e.Location, at: e.At.UnixNano()}
		if _, ok := log.seen[key]; ok {
			continue
		}
		log.seen[key] = struct{}{}
		e.Seq = log.nextID
		log.nextID++
		log.events = append(log.events, e)
		added++
	}
	return added, nil
}

func (repo *attendanceRepository) ListRecords(_ context.Context, module string) ([]attendance.ValidatedRecord, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return append([]attendance.ValidatedRecord{}, repo.db.records[module]...), nil
}

func (repo *attendanceRepository) ListTransfers(_ context.Context, module string) ([]attendance.TransferInference, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return append([]attendance.TransferInference{}, repo.db.transfers[module]...), nil
}
