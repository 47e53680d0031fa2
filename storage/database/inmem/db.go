package inmemdb

import (
	"sync"

	"github.com/trezcool/rollcall/core/attendance"
)

type (
	// DB keeps everything in memory. Used by tests and local runs without Postgres.
	DB struct {
		sync.RWMutex

		modules   map[string]attendance.Module
		rosters   map[string]rosterSnapshots
		schedules map[string][]attendance.ScheduledSession
		scans     scanLog
		records   map[string][]attendance.ValidatedRecord
		transfers map[string][]attendance.TransferInference
		cycles    map[string][]attendance.Cycle

		// FailSaveCycle makes SaveCycle and SaveCycles fail without writing anything.
		FailSaveCycle error
		// FailSaveCycleOf limits FailSaveCycle to the cycles of one module.
		FailSaveCycleOf string
	}

	rosterSnapshots struct {
		current []attendance.RosterEntry
		prior   []attendance.RosterEntry
	}

	scanKey struct {
		studentID, location string
		at                  int64
	}

	scanLog struct {
		events []attendance.ScanEvent
		seen   map[scanKey]struct{}
		nextID int
	}
)

func Open() (*DB, error) {
	db := &DB{
		modules:   make(map[string]attendance.Module),
		rosters:   make(map[string]rosterSnapshots),
		schedules: make(map[string][]attendance.ScheduledSession),
		scans:     scanLog{seen: make(map[scanKey]struct{}), nextID: 1},
		records:   make(map[string][]attendance.ValidatedRecord),
		transfers: make(map[string][]attendance.TransferInference),
		cycles:    make(map[string][]attendance.Cycle),
	}
	return db, nil
}

func (db *DB) saveCycleErr(module string) error {
	if db.FailSaveCycleOf != "" && db.FailSaveCycleOf != module {
		return nil
	}
	return db.FailSaveCycle
}
