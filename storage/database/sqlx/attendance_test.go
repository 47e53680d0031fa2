package sqlxrepos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/rollcall/core/attendance"
	"github.com/trezcool/rollcall/tests"
)

func setup(t *testing.T) attendance.Repository {
	return NewAttendanceRepository(testutil.PrepareDB(t))
}

func saveModule(t *testing.T, repo attendance.Repository, name string) attendance.Module {
	now := time.Now().UTC().Truncate(time.Microsecond)
	m, err := repo.SaveModule(context.Background(), attendance.Module{
		Name: name, Threshold: 0.75, RequiredTotal: 20, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("saveModule() failed: %v", err)
	}
	return m
}

func TestAttendanceRepository_modules(t *testing.T) {
	ctx := context.Background()
	repo := setup(t)

	_, err := repo.GetModule(ctx, "M1")
	assert.Equal(t, attendance.ErrModuleNotFound, err)

	created := saveModule(t, repo, "M2")
	saveModule(t, repo, "M1")

	updated, err := repo.SaveModule(ctx, attendance.Module{Name: "M2", Threshold: 0.5, RequiredTotal: 12, UpdatedAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt), "creation time is kept")
	assert.Equal(t, 0.5, updated.Threshold)
	assert.Equal(t, 12, updated.RequiredTotal)

	modules, err := repo.ListModules(ctx)
	require.NoError(t, err)
	require.Len(t, modules, 2)
	assert.Equal(t, "M1", modules[0].Name)
}

func TestAttendanceRepository_inputs(t *testing.T) {
	ctx := context.Background()
	repo := setup(t)
	saveModule(t, repo, "M1")

	first := []attendance.RosterEntry{{StudentID: "S1", Name: "Ada", Year: "1", Group: "A"}}
	second := []attendance.RosterEntry{{StudentID: "S1", Name: "Ada", Year: "1", Group: "B"}}
	require.NoError(t, repo.ImportRoster(ctx, "M1", first))
	require.NoError(t, repo.ImportRoster(ctx, "M1", second))

	start := time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC)
	sessions := []attendance.ScheduledSession{
		{Year: "1", Group: "A", Subject: "ANATOMY", SessionNumber: "1", Start: start, Duration: time.Hour},
		{Year: "1", Group: "B", Subject: "ANATOMY", SessionNumber: "1", Start: start.Add(5 * time.Hour), Duration: 90 * time.Minute},
	}
	require.NoError(t, repo.ImportSchedule(ctx, "M1", sessions))

	events := []attendance.ScanEvent{
		{StudentID: "S1", Location: "ANATOMY", At: start.Add(10 * time.Minute)},
		{StudentID: "S1", Location: "ANATOMY", At: start.Add(10 * time.Minute)},
	}
	n, err := repo.AppendScans(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	in, err := repo.LoadInputs(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, second, in.Roster)
	assert.Equal(t, first, in.PriorRoster)
	require.Len(t, in.Schedule, 2)
	assert.True(t, in.Schedule[1].Start.Equal(sessions[1].Start))
	assert.Equal(t, 90*time.Minute, in.Schedule[1].Duration)
	require.Len(t, in.Scans, 1)
	assert.True(t, in.Scans[0].At.Equal(events[0].At))
	assert.Empty(t, in.PriorRecords)
}

func TestAttendanceRepository_SaveCycle(t *testing.T) {
	ctx := context.Background()
	repo := setup(t)
	saveModule(t, repo, "M1")

	_, err := repo.LastCycle(ctx, "M1")
	assert.Equal(t, attendance.ErrNoCycle, err)

	at := time.Date(2024, 3, 10, 14, 5, 0, 0, time.UTC)
	records := []attendance.ValidatedRecord{
		{StudentID: "S1", Year: "1", ReportGroup: "B", Subject: "ANATOMY", SessionNumber: "2", Location: "ANATOMY", At: at, ValidatedAgainst: "B"},
		{StudentID: "S2", Year: "1", ReportGroup: "A", Subject: "ANATOMY", SessionNumber: "1", Location: "ANATOMY", At: at.Add(-50 * time.Hour)},
	}
	transfers := []attendance.TransferInference{
		{
			Transfer: attendance.Transfer{StudentID: "S1", Year: "1", PreviousGroup: "A", CurrentGroup: "B"},
			Point:    attendance.Confirmed(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)),
			Pattern:  []attendance.PatternEntry{{At: at, Label: attendance.LabelCurrent}},
		},
	}
	cycle := attendance.Cycle{
		ID:          "1b4e28ba-2fa1-11d2-883f-0016d3cca427",
		Module:      "M1",
		RanAt:       time.Now().UTC().Truncate(time.Microsecond),
		Records:     2,
		NewRecords:  2,
		Transfers:   1,
		Diagnostics: map[string]int{"unknown_student": 1},
	}
	require.NoError(t, repo.SaveCycle(ctx, cycle, records, transfers))

	last, err := repo.LastCycle(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, cycle.ID, last.ID)
	assert.Equal(t, cycle.Diagnostics, last.Diagnostics)

	got, err := repo.ListRecords(ctx, "M1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].ValidatedAgainst)
	assert.Equal(t, "", got[1].ValidatedAgainst)
	assert.Equal(t, records[1].Date(), got[1].Date())

	inferences, err := repo.ListTransfers(ctx, "M1")
	require.NoError(t, err)
	require.Len(t, inferences, 1)
	day, ok := inferences[0].Point.Date()
	require.True(t, ok)
	assert.Equal(t, "2024-03-09", day.Format("2006-01-02"))
	require.Len(t, inferences[0].Pattern, 1)
	assert.Equal(t, attendance.LabelCurrent, inferences[0].Pattern[0].Label)
}

func TestAttendanceRepository_SaveCycles(t *testing.T) {
	ctx := context.Background()
	repo := setup(t)
	saveModule(t, repo, "M1")
	saveModule(t, repo, "M2")

	outcome := func(id, module string) attendance.CycleOutcome {
		return attendance.CycleOutcome{
			Cycle: attendance.Cycle{ID: id, Module: module, RanAt: time.Now().UTC(), Records: 1, NewRecords: 1},
			Records: []attendance.ValidatedRecord{
				{StudentID: "S1", Year: "1", ReportGroup: "A", Subject: "ANATOMY", SessionNumber: "1", Location: "ANATOMY", At: time.Date(2024, 3, 8, 9, 10, 0, 0, time.UTC)},
			},
		}
	}

	t.Run("rolled back when one module fails", func(t *testing.T) {
		err := repo.SaveCycles(ctx, []attendance.CycleOutcome{
			outcome("6f1c2a8e-4b0d-4c61-9d5e-1a2b3c4d5e6f", "M1"),
			outcome("7a2d3b9f-5c1e-4d72-8e6f-2b3c4d5e6f70", "unknown"),
		})
		assert.Error(t, err)

		_, err = repo.LastCycle(ctx, "M1")
		assert.Equal(t, attendance.ErrNoCycle, err)
		records, err := repo.ListRecords(ctx, "M1")
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("all saved", func(t *testing.T) {
		err := repo.SaveCycles(ctx, []attendance.CycleOutcome{
			outcome("8b3e4c0a-6d2f-4e83-9f70-3c4d5e6f7081", "M1"),
			outcome("9c4f5d1b-7e30-4f94-a081-4d5e6f708192", "M2"),
		})
		require.NoError(t, err)

		for _, module := range []string{"M1", "M2"} {
			_, err := repo.LastCycle(ctx, module)
			assert.NoError(t, err, module)
			records, err := repo.ListRecords(ctx, module)
			require.NoError(t, err)
			assert.Len(t, records, 1, module)
		}
	})
}
