package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/rollcall/core"
)

type logEntry struct {
	msg  string
	args []interface{}
}

type testLogger struct {
	entries []logEntry
}

func (l *testLogger) log(msg string, args ...interface{}) {
	l.entries = append(l.entries, logEntry{msg, args})
}
func (l *testLogger) Debug(msg string, args ...interface{}) { l.log(msg, args...) }
func (l *testLogger) Info(msg string, args ...interface{})  { l.log(msg, args...) }
func (l *testLogger) Warn(msg string, args ...interface{})  { l.log(msg, args...) }
func (l *testLogger) Error(msg string, args ...interface{}) { l.log(msg, args...) }
func (l *testLogger) Fatal(msg string, args ...interface{}) { l.log(msg, args...) }

func cycleInput() CycleInput {
	return CycleInput{
		Module: Module{Name: "Y1_B2425_Anatomy", Threshold: 0.75, RequiredTotal: 4},
		Roster: []RosterRow{
			{StudentID: "S1", Name: "Ada", Year: "1", Group: "B"},
			{StudentID: "S2", Name: "Bob", Year: "1", Group: "A"},
			{StudentID: "S9", Name: "Other cohort", Year: "2", Group: "A"},
		},
		PriorRoster: []RosterRow{
			{StudentID: "S1", Name: "Ada", Year: "1", Group: "A"},
			{StudentID: "S2", Name: "Bob", Year: "1", Group: "A"},
		},
		Schedule: []ScheduleRow{
			{Year: "1", Group: "A", Subject: "Anatomy", SessionNumber: "1", Date: "08/03/2024", StartTime: "09:00", Duration: "60"},
			{Year: "1", Group: "A", Subject: "Anatomy", SessionNumber: "2", Date: "10/03/2024", StartTime: "09:00", Duration: "60"},
			{Year: "1", Group: "A", Subject: "Anatomy", SessionNumber: "3", Date: "11/03/2024", StartTime: "09:00", Duration: "60"},
			{Year: "1", Group: "A", Subject: "Anatomy", SessionNumber: "4", Date: "12/03/2024", StartTime: "09:00", Duration: "60"},
			{Year: "1", Group: "B", Subject: "Anatomy", SessionNumber: "1", Date: "08/03/2024", StartTime: "14:00", Duration: "60"},
			{Year: "1", Group: "B", Subject: "Anatomy", SessionNumber: "2", Date: "10/03/2024", StartTime: "14:00", Duration: "60"},
			{Year: "1", Group: "B", Subject: "Anatomy", SessionNumber: "3", Date: "11/03/2024", StartTime: "14:00", Duration: "60"},
			{Year: "1", Group: "B", Subject: "Anatomy", SessionNumber: "4", Date: "12/03/2024", StartTime: "14:00", Duration: "60"},
		},
		Scans: []ScanRow{
			{StudentID: "S1", Location: "anatomy", Date: "08/03/2024", Time: "09:10"}, // A, before the transfer
			{StudentID: "S1", Location: "anatomy", Date: "10/03/2024", Time: "14:05"}, // B
			{StudentID: "S1", Location: "anatomy", Date: "11/03/2024", Time: "14:05"}, // B
			{StudentID: "S1", Location: "anatomy", Date: "11/03/2024", Time: "14:30"}, // rescan
			{StudentID: "S2", Location: "anatomy", Date: "08/03/2024", Time: "08:50"}, // A
			{StudentID: "S2", Location: "anatomy", Date: "10/03/2024", Time: "12:00"}, // outside any window
			{StudentID: "S7", Location: "anatomy", Date: "10/03/2024", Time: "09:00"}, // unknown
			{StudentID: "S2", Location: "anatomy", Date: "10/03/2024", Time: "late"},  // malformed
		},
		Now: time.Date(2024, 3, 11, 23, 0, 0, 0, time.UTC),
	}
}

func TestEngine_Reconcile(t *testing.T) {
	logger := &testLogger{}
	eng := NewEngine(Options{Policy: DefaultWindowPolicy(), ConfirmationThreshold: 2, Logger: logger})

	res, err := eng.Reconcile(cycleInput())
	require.NoError(t, err)

	// transfer of S1 confirmed by the scans of 10/03 and 11/03
	require.Len(t, res.Transfers, 1)
	ti := res.Transfers[0]
	assert.Equal(t, "S1", ti.StudentID)
	date, ok := ti.Point.Date()
	require.True(t, ok)
	assert.Equal(t, "2024-03-09", date.Format(dateLayout))

	require.Len(t, res.Records, 4)
	assert.Equal(t, 4, res.NewRecords)
	assert.Equal(t, "A", res.Records[0].ValidatedAgainst)
	assert.Equal(t, "B", res.Records[0].ReportGroup)

	assert.Equal(t, 1, res.Diagnostics.Count(KindUnknownStudent))
	assert.Equal(t, 1, res.Diagnostics.Count(KindMalformedTemporal))

	// S9 is not in the module's cohort
	require.Len(t, res.Statuses, 2)
	byID := make(map[string]EntitlementStatus)
	for _, st := range res.Statuses {
		byID[st.StudentID] = st
	}
	// required 3 of 4, 3 sessions held, 1 to go
	assert.Equal(t, StatusPass, byID["S1"].Status)
	assert.Equal(t, 3, byID["S1"].Attended)
	assert.Equal(t, 1, byID["S1"].SessionsLeft)
	assert.Equal(t, StatusFail, byID["S2"].Status)
	assert.Equal(t, 1, byID["S2"].Attended)

	require.Len(t, logger.entries, 1)
	assert.Equal(t, "reconciliation cycle done", logger.entries[0].msg)
}

func TestEngine_Reconcile_idempotent(t *testing.T) {
	eng := NewEngine(Options{Policy: DefaultWindowPolicy(), ConfirmationThreshold: 2})

	in := cycleInput()
	first, err := eng.Reconcile(in)
	require.NoError(t, err)

	in.PriorRecords = first.Records
	in.CarriedTransfers = []Transfer{first.Transfers[0].Transfer}
	in.PriorRoster = nil
	second, err := eng.Reconcile(in)
	require.NoError(t, err)

	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, 0, second.NewRecords)
	require.Len(t, second.Transfers, 1)
	assert.True(t, second.Transfers[0].FromPriorCycle)
	assert.Equal(t, first.Statuses, second.Statuses)
}

func TestEngine_Reconcile_missingInput(t *testing.T) {
	eng := NewEngine(Options{Policy: DefaultWindowPolicy(), ConfirmationThreshold: 2})

	tests := []struct {
		name    string
		mutate  func(in *CycleInput)
		wantErr error
	}{
		{name: "no roster", mutate: func(in *CycleInput) { in.Roster = nil }, wantErr: ErrMissingInput},
		{name: "unusable roster", mutate: func(in *CycleInput) { in.Roster = []RosterRow{{Name: "nobody"}} }, wantErr: ErrMissingInput},
		{name: "no schedule", mutate: func(in *CycleInput) { in.Schedule = nil }, wantErr: ErrMissingInput},
		{name: "invalid threshold", mutate: func(in *CycleInput) { in.Module.Threshold = 0 }, wantErr: ErrInvalidThreshold},
		{name: "no scans", mutate: func(in *CycleInput) { in.Scans = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := cycleInput()
			tt.mutate(&in)
			_, err := eng.Reconcile(in)
			assert.Equal(t, tt.wantErr, errors.Cause(err))
		})
	}
}

func TestEngine_ReconcileAll(t *testing.T) {
	eng := NewEngine(Options{Policy: DefaultWindowPolicy(), ConfirmationThreshold: 2})

	second := cycleInput()
	second.Module.Name = "Y1_B2425_Physiology"
	results, err := eng.ReconcileAll(context.Background(), []CycleInput{cycleInput(), second})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Y1_B2425_Anatomy", results[0].Module.Name)
	assert.Equal(t, "Y1_B2425_Physiology", results[1].Module.Name)

	broken := cycleInput()
	broken.Schedule = nil
	results, err = eng.ReconcileAll(context.Background(), []CycleInput{cycleInput(), broken})
	assert.Nil(t, results)
	assert.Equal(t, ErrMissingInput, errors.Cause(err))
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(attendanceConfig(), nil)
	assert.Equal(t, 15*time.Minute, opts.Policy.PreWindow)
	assert.Equal(t, map[int]time.Duration{12: time.Hour}, opts.Policy.HourOverrides)
	assert.Equal(t, 3, opts.ConfirmationThreshold)
}

func attendanceConfig() core.AttendanceConfig {
	return core.AttendanceConfig{
		Threshold:             0.75,
		ConfirmationThreshold: 3,
		PreWindow:             15 * time.Minute,
		DefaultDuration:       120 * time.Minute,
		Timezone:              "UTC",
		ExceptionHours:        []int{12},
		ExceptionPostWindow:   time.Hour,
		Location:              time.UTC,
	}
}
