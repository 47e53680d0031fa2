package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/rollcall/core/attendance"
)

const (
	snapshotCurrent = "current"
	snapshotPrior   = "prior"
)

type (
	moduleRow struct {
		Name          string    `db:"name"`
		Threshold     float64   `db:"threshold"`
		RequiredTotal int       `db:"required_total"`
		CreatedAt     time.Time `db:"created_at"`
		UpdatedAt     time.Time `db:"updated_at"`
	}

	rosterRow struct {
		Module    string `db:"module"`
		Snapshot  string `db:"snapshot"`
		StudentID string `db:"student_id"`
		Name      string `db:"name"`
		Year      string `db:"year"`
		Class     string `db:"class"`
		Position  int    `db:"position"`
	}

	sessionRow struct {
		Module        string    `db:"module"`
		Year          string    `db:"year"`
		Class         string    `db:"class"`
		Subject       string    `db:"subject"`
		SessionNumber string    `db:"session_number"`
		StartsAt      time.Time `db:"starts_at"`
		DurationSecs  int64     `db:"duration_secs"`
		Position      int       `db:"position"`
	}

	scanRow struct {
		ID         int64     `db:"id"`
		StudentID  string    `db:"student_id"`
		Location   string    `db:"location"`
		ScannedAt  time.Time `db:"scanned_at"`
		RecordedBy string    `db:"recorded_by"`
	}

	recordRow struct {
		Module           string      `db:"module"`
		CycleID          string      `db:"cycle_id"`
		Position         int         `db:"position"`
		StudentID        string      `db:"student_id"`
		Name             string      `db:"name"`
		Year             string      `db:"year"`
		ReportGroup      string      `db:"report_group"`
		Subject          string      `db:"subject"`
		SessionNumber    string      `db:"session_number"`
		Location         string      `db:"location"`
		ScannedAt        time.Time   `db:"scanned_at"`
		ScanDate         string      `db:"scan_date"`
		ValidatedAgainst null.String `db:"validated_against"`
	}

	transferRow struct {
		Module         string    `db:"module"`
		CycleID        string    `db:"cycle_id"`
		StudentID      string    `db:"student_id"`
		Name           string    `db:"name"`
		Year           string    `db:"year"`
		PreviousGroup  string    `db:"previous_group"`
		CurrentGroup   string    `db:"current_group"`
		FromPriorCycle bool      `db:"from_prior_cycle"`
		TransferDate   null.Time `db:"transfer_date"`
		Pattern        []byte    `db:"pattern"`
	}

	cycleRow struct {
		ID          string    `db:"id"`
		Module      string    `db:"module"`
		RanAt       time.Time `db:"ran_at"`
		Records     int       `db:"records"`
		NewRecords  int       `db:"new_records"`
		Transfers   int       `db:"transfers"`
		Diagnostics []byte    `db:"diagnostics"`
	}
)

type attendanceRepository struct {
	db *sqlx.DB
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *sqlx.DB) attendance.Repository {
	return &attendanceRepository{db: db}
}

// trapNoRowsErr maps sql "no rows" err to notFound
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// inTx runs fn in a transaction, rolled back when fn fails.
func (repo attendanceRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func (repo attendanceRepository) GetModule(ctx context.Context, name string) (attendance.Module, error) {
	var row moduleRow
	q := `SELECT name, threshold, required_total, created_at, updated_at FROM modules WHERE name = $1`
	if err := repo.db.GetContext(ctx, &row, q, name); err != nil {
		return attendance.Module{}, trapNoRowsErr(err, attendance.ErrModuleNotFound, "getting module")
	}
	return row.unpack(), nil
}

func (repo attendanceRepository) ListModules(ctx context.Context) ([]attendance.Module, error) {
	var rows []moduleRow
	q := `SELECT name, threshold, required_total, created_at, updated_at FROM modules ORDER BY name`
	if err := repo.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "listing modules")
	}
	modules := make([]attendance.Module, 0, len(rows))
	for _, row := range rows {
		modules = append(modules, row.unpack())
	}
	return modules, nil
}

func (repo attendanceRepository) SaveModule(ctx context.Context, m attendance.Module) (attendance.Module, error) {
	q := `
		INSERT INTO modules (name, threshold, required_total, created_at, updated_at)
		VALUES (:name, :threshold, :required_total, :created_at, :updated_at)
		ON CONFLICT (name) DO UPDATE
		SET threshold = EXCLUDED.threshold, required_total = EXCLUDED.required_total, updated_at = EXCLUDED.updated_at`
	row := moduleRow{
		Name:          m.Name,
		Threshold:     m.Threshold,
		RequiredTotal: m.RequiredTotal,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		return attendance.Module{}, errors.Wrap(err, "saving module")
	}
	return repo.GetModule(ctx, m.Name)
}

func (repo attendanceRepository) LoadInputs(ctx context.Context, module string) (attendance.StoredInputs, error) {
	var (
		in  attendance.StoredInputs
		err error
	)
	if in.Roster, err = repo.roster(ctx, module, snapshotCurrent); err != nil {
		return in, err
	}
	if in.PriorRoster, err = repo.roster(ctx, module, snapshotPrior); err != nil {
		return in, err
	}
	if in.Schedule, err = repo.schedule(ctx, module); err != nil {
		return in, err
	}
	if in.Scans, err = repo.scans(ctx); err != nil {
		return in, err
	}
	if in.PriorRecords, err = repo.ListRecords(ctx, module); err != nil {
		return in, err
	}
	transfers, err := repo.ListTransfers(ctx, module)
	if err != nil {
		return in, err
	}
	in.CarriedTransfers = make([]attendance.Transfer, 0, len(transfers))
	for _, ti := range transfers {
		in.CarriedTransfers = append(in.CarriedTransfers, ti.Transfer)
	}
	return in, nil
}

func (repo attendanceRepository) roster(ctx context.Context, module, snapshot string) ([]attendance.RosterEntry, error) {
	var rows []rosterRow
	q := `
		SELECT module, snapshot, student_id, name, year, class, position FROM roster_entries
		WHERE module = $1 AND snapshot = $2 ORDER BY position`
	if err := repo.db.SelectContext(ctx, &rows, q, module, snapshot); err != nil {
		return nil, errors.Wrapf(err, "loading %s roster", snapshot)
	}
	entries := make([]attendance.RosterEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, attendance.RosterEntry{
			StudentID: row.StudentID,
			Name:      row.Name,
			Year:      row.Year,
			Group:     row.Class,
		})
	}
	return entries, nil
}

func (repo attendanceRepository) schedule(ctx context.Context, module string) ([]attendance.ScheduledSession, error) {
	var rows []sessionRow
	q := `
		SELECT module, year, class, subject, session_number, starts_at, duration_secs, position
		FROM scheduled_sessions WHERE module = $1 ORDER BY position`
	if err := repo.db.SelectContext(ctx, &rows, q, module); err != nil {
		return nil, errors.Wrap(err, "loading schedule")
	}
	sessions := make([]attendance.ScheduledSession, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, attendance.ScheduledSession{
			Year:          row.Year,
			Group:         row.Class,
			Subject:       row.Subject,
			SessionNumber: row.SessionNumber,
			Start:         row.StartsAt,
			Duration:      time.Duration(row.DurationSecs) * time.Second,
		})
	}
	return sessions, nil
}

func (repo attendanceRepository) scans(ctx context.Context) ([]attendance.ScanEvent, error) {
	var rows []scanRow
	q := `SELECT id, student_id, location, scanned_at, recorded_by FROM scan_events ORDER BY id`
	if err := repo.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "loading scans")
	}
	events := make([]attendance.ScanEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, attendance.ScanEvent{
			Seq:        int(row.ID),
			StudentID:  row.StudentID,
			Location:   row.Location,
			At:         row.ScannedAt,
			RecordedBy: row.RecordedBy,
		})
	}
	return events, nil
}

func (repo attendanceRepository) SaveCycle(
	ctx context.Context,
	cycle attendance.Cycle,
	records []attendance.ValidatedRecord,
	transfers []attendance.TransferInference,
) error {
	return repo.SaveCycles(ctx, []attendance.CycleOutcome{{Cycle: cycle, Records: records, Transfers: transfers}})
}

func (repo attendanceRepository) SaveCycles(ctx context.Context, outcomes []attendance.CycleOutcome) error {
	return repo.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, out := range outcomes {
			if err := saveCycle(ctx, tx, out); err != nil {
				return errors.Wrapf(err, "saving cycle of %s", out.Cycle.Module)
			}
		}
		return nil
	})
}

func saveCycle(ctx context.Context, tx *sqlx.Tx, out attendance.CycleOutcome) error {
	cycle, records, transfers := out.Cycle, out.Records, out.Transfers
	diagnostics, err := json.Marshal(cycle.Diagnostics)
	if err != nil {
		return errors.Wrap(err, "encoding diagnostics")
	}

	q := `
		INSERT INTO cycles (id, module, ran_at, records, new_records, transfers, diagnostics)
		VALUES (:id, :module, :ran_at, :records, :new_records, :transfers, :diagnostics)`
	row := cycleRow{
		ID:          cycle.ID,
		Module:      cycle.Module,
		RanAt:       cycle.RanAt.UTC(),
		Records:     cycle.Records,
		NewRecords:  cycle.NewRecords,
		Transfers:   cycle.Transfers,
		Diagnostics: diagnostics,
	}
	if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
		return errors.Wrap(err, "inserting cycle")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM validated_records WHERE module = $1`, cycle.Module); err != nil {
		return errors.Wrap(err, "deleting records")
	}
	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO validated_records (
			module, cycle_id, position, student_id, name, year, report_group, subject,
			session_number, location, scanned_at, scan_date, validated_against
		) VALUES (
			:module, :cycle_id, :position, :student_id, :name, :year, :report_group, :subject,
			:session_number, :location, :scanned_at, :scan_date, :validated_against
		)`)
	if err != nil {
		return errors.Wrap(err, "preparing records insert")
	}
	defer func() { _ = stmt.Close() }()
	for i, r := range records {
		row := recordRow{
			Module:           cycle.Module,
			CycleID:          cycle.ID,
			Position:         i,
			StudentID:        r.StudentID,
			Name:             r.Name,
			Year:             r.Year,
			ReportGroup:      r.ReportGroup,
			Subject:          r.Subject,
			SessionNumber:    r.SessionNumber,
			Location:         r.Location,
			ScannedAt:        r.At,
			ScanDate:         r.Date(),
			ValidatedAgainst: null.NewString(r.ValidatedAgainst, r.ValidatedAgainst != ""),
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return errors.Wrap(err, "inserting record")
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transfers WHERE module = $1`, cycle.Module); err != nil {
		return errors.Wrap(err, "deleting transfers")
	}
	for _, ti := range transfers {
		pattern, err := json.Marshal(ti.Pattern)
		if err != nil {
			return errors.Wrap(err, "encoding pattern")
		}
		day, confirmed := ti.Point.Date()
		row := transferRow{
			Module:         cycle.Module,
			CycleID:        cycle.ID,
			StudentID:      ti.StudentID,
			Name:           ti.Name,
			Year:           ti.Year,
			PreviousGroup:  ti.PreviousGroup,
			CurrentGroup:   ti.CurrentGroup,
			FromPriorCycle: ti.FromPriorCycle,
			TransferDate:   null.NewTime(time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC), confirmed),
			Pattern:        pattern,
		}
		q := `
			INSERT INTO transfers (
				module, cycle_id, student_id, name, year, previous_group, current_group,
				from_prior_cycle, transfer_date, pattern
			) VALUES (
				:module, :cycle_id, :student_id, :name, :year, :previous_group, :current_group,
				:from_prior_cycle, :transfer_date, :pattern
			)`
		if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
			return errors.Wrap(err, "inserting transfer")
		}
	}
	return nil
}

func (repo attendanceRepository) LastCycle(ctx context.Context, module string) (attendance.Cycle, error) {
	var row cycleRow
	q := `
		SELECT id, module, ran_at, records, new_records, transfers, diagnostics
		FROM cycles WHERE module = $1 ORDER BY ran_at DESC LIMIT 1`
	if err := repo.db.GetContext(ctx, &row, q, module); err != nil {
		return attendance.Cycle{}, trapNoRowsErr(err, attendance.ErrNoCycle, "getting last cycle")
	}
	cycle := attendance.Cycle{
		ID:         row.ID,
		Module:     row.Module,
		RanAt:      row.RanAt.UTC(),
		Records:    row.Records,
		NewRecords: row.NewRecords,
		Transfers:  row.Transfers,
	}
	if err := json.Unmarshal(row.Diagnostics, &cycle.Diagnostics); err != nil {
		return attendance.Cycle{}, errors.Wrap(err, "decoding diagnostics")
	}
	return cycle, nil
}

func (repo attendanceRepository) ImportRoster(ctx context.Context, module string, entries []attendance.RosterEntry) error {
	return repo.inTx(ctx, func(tx *sqlx.Tx) error {
		q := `DELETE FROM roster_entries WHERE module = $1 AND snapshot = $2`
		if _, err := tx.ExecContext(ctx, q, module, snapshotPrior); err != nil {
			return errors.Wrap(err, "deleting prior roster")
		}
		q = `UPDATE roster_entries SET snapshot = $1 WHERE module = $2 AND snapshot = $3`
		if _, err := tx.ExecContext(ctx, q, snapshotPrior, module, snapshotCurrent); err != nil {
			return errors.Wrap(err, "rotating roster")
		}

		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO roster_entries (module, snapshot, student_id, name, year, class, position)
			VALUES (:module, :snapshot, :student_id, :name, :year, :class, :position)`)
		if err != nil {
			return errors.Wrap(err, "preparing roster insert")
		}
		defer func() { _ = stmt.Close() }()
		for i, e := range entries {
			row := rosterRow{
				Module:    module,
				Snapshot:  snapshotCurrent,
				StudentID: e.StudentID,
				Name:      e.Name,
				Year:      e.Year,
				Class:     e.Group,
				Position:  i,
			}
			if _, err := stmt.ExecContext(ctx, row); err != nil {
				return errors.Wrap(err, "inserting roster entry")
			}
		}
		return nil
	})
}

func (repo attendanceRepository) ImportSchedule(ctx context.Context, module string, sessions []attendance.ScheduledSession) error {
	return repo.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_sessions WHERE module = $1`, module); err != nil {
			return errors.Wrap(err, "deleting schedule")
		}

		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO scheduled_sessions (module, year, class, subject, session_number, starts_at, duration_secs, position)
			VALUES (:module, :year, :class, :subject, :session_number, :starts_at, :duration_secs, :position)
			ON CONFLICT DO NOTHING`)
		if err != nil {
			return errors.Wrap(err, "preparing schedule insert")
		}
		defer func() { _ = stmt.Close() }()
		for i, s := range sessions {
			row := sessionRow{
				Module:        module,
				Year:          s.Year,
				Class:         s.Group,
				Subject:       s.Subject,
				SessionNumber: s.SessionNumber,
				StartsAt:      s.Start,
				DurationSecs:  int64(s.Duration / time.Second),
				Position:      i,
			}
			if _, err := stmt.ExecContext(ctx, row); err != nil {
				return errors.Wrap(err, "inserting session")
			}
		}
		return nil
	})
}

func (repo attendanceRepository) AppendScans(ctx context.Context, events []attendance.ScanEvent) (int, error) {
	var added int
	err := repo.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO scan_events (student_id, location, scanned_at, recorded_by)
			VALUES (:student_id, :location, :scanned_at, :recorded_by)
			ON CONFLICT DO NOTHING`)
		if err != nil {
			return errors.Wrap(err, "preparing scan insert")
		}
		defer func() { _ = stmt.Close() }()
		for _, e := range events {
			row := scanRow{StudentID: e.StudentID, Location: e.Location, ScannedAt: e.At, RecordedBy: e.RecordedBy}
			res, err := stmt.ExecContext(ctx, row)
			if err != nil {
				return errors.Wrap(err, "inserting scan")
			}
			n, err := res.RowsAffected()
			if err != nil {
				return errors.Wrap(err, "inserting scan")
			}
			added += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (repo attendanceRepository) ListRecords(ctx context.Context, module string) ([]attendance.ValidatedRecord, error) {
	var rows []recordRow
	q := `
		SELECT module, cycle_id, position, student_id, name, year, report_group, subject, session_number,
			location, scanned_at, to_char(scan_date, 'YYYY-MM-DD') AS scan_date, validated_against
		FROM validated_records WHERE module = $1 ORDER BY position`
	if err := repo.db.SelectContext(ctx, &rows, q, module); err != nil {
		return nil, errors.Wrap(err, "listing records")
	}
	records := make([]attendance.ValidatedRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, attendance.ValidatedRecord{
			StudentID:        row.StudentID,
			Name:             row.Name,
			Year:             row.Year,
			ReportGroup:      row.ReportGroup,
			Subject:          row.Subject,
			SessionNumber:    row.SessionNumber,
			Location:         row.Location,
			At:               row.ScannedAt,
			ValidatedAgainst: row.ValidatedAgainst.String,
		})
	}
	return records, nil
}

func (repo attendanceRepository) ListTransfers(ctx context.Context, module string) ([]attendance.TransferInference, error) {
	var rows []transferRow
	q := `
		SELECT module, cycle_id, student_id, name, year, previous_group, current_group,
			from_prior_cycle, transfer_date, pattern
		FROM transfers WHERE module = $1 ORDER BY student_id`
	if err := repo.db.SelectContext(ctx, &rows, q, module); err != nil {
		return nil, errors.Wrap(err, "listing transfers")
	}
	transfers := make([]attendance.TransferInference, 0, len(rows))
	for _, row := range rows {
		ti := attendance.TransferInference{
			Transfer: attendance.Transfer{
				StudentID:      row.StudentID,
				Name:           row.Name,
				Year:           row.Year,
				PreviousGroup:  row.PreviousGroup,
				CurrentGroup:   row.CurrentGroup,
				FromPriorCycle: row.FromPriorCycle,
			},
			Point: attendance.Unconfirmed(),
		}
		if row.TransferDate.Valid {
			d := row.TransferDate.Time
			ti.Point = attendance.Confirmed(time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC))
		}
		if err := json.Unmarshal(row.Pattern, &ti.Pattern); err != nil {
			return nil, errors.Wrap(err, "decoding pattern")
		}
		transfers = append(transfers, ti)
	}
	return transfers, nil
}

func (row moduleRow) unpack() attendance.Module {
	return attendance.Module{
		Name:          row.Name,
		Threshold:     row.Threshold,
		RequiredTotal: row.RequiredTotal,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}
