package inmemdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/rollcall/core/attendance"
)

func setup(t *testing.T) attendance.Repository {
	db, err := Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	return NewAttendanceRepository(db)
}

func TestAttendanceRepository_modules(t *testing.T) {
	ctx := context.Background()
	repo := setup(t)

	_, err := repo.GetModule(ctx, "M1")
	assert.Equal(t, attendance.ErrModuleNotFound, err)

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = repo.SaveModule(ctx, attendance.Module{Name: "M2", Threshold: 0.8, RequiredTotal: 10, CreatedAt: created})
	require.NoError(t, err)
	_, err = repo.SaveModule(ctx, attendance.Module{Name: "M1", Threshold: 0.75, RequiredTotal: 20, CreatedAt: created})
	require.NoError(t, err)

	updated, err := repo.SaveModule(ctx, attendance.Module{Name: "M2", Threshold: 0.7, RequiredTotal: 12, CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, created, updated.CreatedAt, "creation time is kept")
	assert.Equal(t, 0.7, updated.Threshold)

	modules, err := repo.ListModules(ctx)
	require.NoError(t, err)
	require.Len(t, modules, 2)
	assert.Equal(t, "M1", modules[0].Name)
	assert.Equal(t, "M2", modules[1].Name)
}

func TestAttendanceRepository_ImportRoster(t *testing.T) {
	ctx := context.Background()
	repo := setup(t)

	first := []attendance.RosterEntry{{StudentID: "S1", Year: "1", Group: "A"}}
	second := []attendance.RosterEntry{{StudentID: "S1", Year: "1", Group: "B"}}
	third := []attendance.RosterEntry{{StudentID: "S1", Year: "1", Group: "C"}}

	require.NoError(t, repo.ImportRoster(ctx, "M1", first))
	in, err := repo.LoadInputs(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, first, in.Roster)
	assert.Empty(t, in.PriorRoster)

	require.NoError(t, repo.ImportRoster(ctx, "M1", second))
	require.NoError(t, repo.ImportRoster(ctx, "M1", third))
	in, err = repo.LoadInputs(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, third, in.Roster)
	assert.Equal(t, second, in.PriorRoster)
}

func TestAttendanceRepository_AppendScans(t *testing.T) {
	ctx := context.Background()
	repo := setup(t)

	at := time.Date(2024, 3, 11, 9, 5, 0, 0, time.UTC)
	events := []attendance.ScanEvent{
		{StudentID: "S1", Location: "ANATOMY", At: at},
		{StudentID: "S2", Location: "ANATOMY", At: at},
		{StudentID: "S1", Location: "ANATOMY", At: at},
	}
	n, err := repo.AppendScans(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.AppendScans(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "the scan log is append-only and deduplicated")

	in, err := repo.LoadInputs(ctx, "any")
	require.NoError(t, err)
	require.Len(t, in.Scans, 2)
	assert.Equal(t, 1, in.Scans[0].Seq)
	assert.Equal(t, 2, in.Scans[1].Seq)
}

func TestAttendanceRepository_SaveCycle(t *testing.T) {
	ctx := context.Background()
	db, _ := Open()
	repo := NewAttendanceRepository(db)

	_, err := repo.LastCycle(ctx, "M1")
	assert.Equal(t, attendance.ErrNoCycle, err)

	records := []attendance.ValidatedRecord{{StudentID: "S1", Subject: "ANATOMY", SessionNumber: "1"}}
	transfers := []attendance.TransferInference{{Transfer: attendance.Transfer{StudentID: "S1", PreviousGroup: "A", CurrentGroup: "B"}}}
	cycle := attendance.Cycle{ID: "c1", Module: "M1", Records: 1, Transfers: 1}
	require.NoError(t, repo.SaveCycle(ctx, cycle, records, transfers))

	last, err := repo.LastCycle(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, cycle, last)

	in, err := repo.LoadInputs(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, records, in.PriorRecords)
	assert.Equal(t, []attendance.Transfer{transfers[0].Transfer}, in.CarriedTransfers)

	// a failed save leaves the previous cycle untouched
	db.FailSaveCycle = errors.New("disk full")
	err = repo.SaveCycle(ctx, attendance.Cycle{ID: "c2", Module: "M1"}, nil, nil)
	assert.Error(t, err)
	last, _ = repo.LastCycle(ctx, "M1")
	assert.Equal(t, "c1", last.ID)
	got, _ := repo.ListRecords(ctx, "M1")
	assert.Equal(t, records, got)
}

func TestAttendanceRepository_SaveCycles(t *testing.T) {
	ctx := context.Background()
	db, _ := Open()
	repo := NewAttendanceRepository(db)

	records := []attendance.ValidatedRecord{{StudentID: "S1", Subject: "ANATOMY", SessionNumber: "1"}}
	outcomes := []attendance.CycleOutcome{
		{Cycle: attendance.Cycle{ID: "c1", Module: "M1"}, Records: records},
		{Cycle: attendance.Cycle{ID: "c2", Module: "M2"}, Records: records},
	}

	db.FailSaveCycle = errors.New("disk full")
	db.FailSaveCycleOf = "M2"
	assert.Error(t, repo.SaveCycles(ctx, outcomes))
	_, err := repo.LastCycle(ctx, "M1")
	assert.Equal(t, attendance.ErrNoCycle, err)
	got, _ := repo.ListRecords(ctx, "M1")
	assert.Empty(t, got)

	db.FailSaveCycle = nil
	require.NoError(t, repo.SaveCycles(ctx, outcomes))
	for _, out := range outcomes {
		last, err := repo.LastCycle(ctx, out.Cycle.Module)
		require.NoError(t, err)
		assert.Equal(t, out.Cycle.ID, last.ID)
	}
}
