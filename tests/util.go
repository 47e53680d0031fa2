package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/rollcall/core/attendance"
	"github.com/trezcool/rollcall/storage/database/inmem"
)

// FixtureModule is the module the fixture rows belong to.
const FixtureModule = "Y1_B2425_Anatomy"

// NewService returns an attendance service backed by a fresh in-memory database.
func NewService(t *testing.T) (*attendance.Service, *inmemdb.DB) {
	t.Helper()
	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}
	engine := attendance.NewEngine(attendance.Options{
		Policy:                attendance.DefaultWindowPolicy(),
		ConfirmationThreshold: 2,
		Location:              time.UTC,
		DefaultThreshold:      0.75,
	})
	return attendance.NewService(inmemdb.NewAttendanceRepository(db), engine, nil), db
}

func CreateModule(t *testing.T, svc *attendance.Service, name string, threshold float64, requiredTotal int) attendance.Module {
	t.Helper()
	m, err := svc.CreateModule(context.Background(), attendance.NewModule{
		Name:          name,
		Threshold:     threshold,
		RequiredTotal: requiredTotal,
	})
	if err != nil {
		t.Fatalf("CreateModule() failed: %v", err)
	}
	return m
}

// PriorRosterRows puts S1 in group A.
func PriorRosterRows() []attendance.RosterRow {
	return []attendance.RosterRow{
		{StudentID: "S1", Name: "Ada", Year: "1", Group: "A"},
		{StudentID: "S2", Name: "Bob", Year: "1", Group: "A"},
	}
}

// RosterRows moves S1 to group B.
func RosterRows() []attendance.RosterRow {
	return []attendance.RosterRow{
		{StudentID: "S1", Name: "Ada", Year: "1", Group: "B"},
		{StudentID: "S2", Name: "Bob", Year: "1", Group: "A"},
		{StudentID: "S9", Name: "Cy", Year: "2", Group: "A"},
	}
}

// ScheduleRows has four anatomy sessions per group: A in the morning, B in the afternoon.
func ScheduleRows() []attendance.ScheduleRow {
	rows := make([]attendance.ScheduleRow, 0, 8)
	for _, g := range []struct{ group, start string }{{"A", "09:00"}, {"B", "14:00"}} {
		for i, date := range []string{"08/03/2024", "10/03/2024", "11/03/2024", "12/03/2024"} {
			rows = append(rows, attendance.ScheduleRow{
				Year:          "1",
				Group:         g.group,
				Subject:       "Anatomy",
				SessionNumber: string(rune('1' + i)),
				Date:          date,
				StartTime:     g.start,
				Duration:      "60",
			})
		}
	}
	return rows
}

// ScanRows confirms the transfer of S1 on 2024-03-09 and gives S1 three sessions and S2 one.
func ScanRows() []attendance.ScanRow {
	return []attendance.ScanRow{
		{StudentID: "S1", Location: "anatomy", Date: "08/03/2024", Time: "09:10"},
		{StudentID: "S1", Location: "anatomy", Date: "10/03/2024", Time: "14:05"},
		{StudentID: "S1", Location: "anatomy", Date: "11/03/2024", Time: "14:05"},
		{StudentID: "S2", Location: "anatomy", Date: "08/03/2024", Time: "08:50"},
		{StudentID: "S7", Location: "anatomy", Date: "10/03/2024", Time: "09:00"},
	}
}

// ImportFixtures creates the fixture module and imports both rosters, the schedule and the scans.
func ImportFixtures(t *testing.T, svc *attendance.Service) attendance.Module {
	t.Helper()
	ctx := context.Background()
	m := CreateModule(t, svc, FixtureModule, 0.75, 4)
	if _, _, err := svc.ImportRoster(ctx, m.Name, PriorRosterRows()); err != nil {
		t.Fatalf("ImportFixtures() failed: %v", err)
	}
	if _, _, err := svc.ImportRoster(ctx, m.Name, RosterRows()); err != nil {
		t.Fatalf("ImportFixtures() failed: %v", err)
	}
	if _, _, err := svc.ImportSchedule(ctx, m.Name, ScheduleRows()); err != nil {
		t.Fatalf("ImportFixtures() failed: %v", err)
	}
	if _, _, err := svc.ImportScans(ctx, ScanRows()); err != nil {
		t.Fatalf("ImportFixtures() failed: %v", err)
	}
	return m
}
