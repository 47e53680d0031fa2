package attendance

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/rollcall/core"
)

type (
	Options struct {
		Policy                WindowPolicy
		ConfirmationThreshold int
		Location              *time.Location
		DefaultThreshold      float64     // threshold of modules registered without one
		Logger                core.Logger // optional
	}

	// CycleInput is everything one reconciliation cycle of a module reads, as raw rows.
	CycleInput struct {
		Module           Module
		Roster           []RosterRow
		PriorRoster      []RosterRow // optional
		Schedule         []ScheduleRow
		Scans            []ScanRow
		PriorRecords     []ValidatedRecord
		CarriedTransfers []Transfer
		Now              time.Time
	}

	// Inputs is the normalized form of a CycleInput.
	Inputs struct {
		Module           Module
		Roster           []RosterEntry
		PriorRoster      []RosterEntry
		Schedule         []ScheduledSession
		Scans            []ScanEvent
		PriorRecords     []ValidatedRecord
		CarriedTransfers []Transfer
		Now              time.Time
	}

	CycleResult struct {
		Module      Module              `json:"module"`
		Records     []ValidatedRecord   `json:"-"`
		NewRecords  int                 `json:"new_records"`
		Transfers   []TransferInference `json:"transfers"`
		Statuses    []EntitlementStatus `json:"statuses"`
		Diagnostics Diagnostics         `json:"diagnostics"`
	}

	// Engine runs reconciliation cycles. It holds no per-cycle state and is safe for concurrent use.
	Engine struct {
		opts       Options
		normalizer *Normalizer
		detector   Detector
		validator  Validator
	}
)

func NewEngine(opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Policy.DefaultDuration <= 0 {
		opts.Policy.DefaultDuration = DefaultSessionDuration
	}
	return &Engine{
		opts:       opts,
		normalizer: NewNormalizer(opts.Location, opts.Policy.DefaultDuration),
		detector:   Detector{Policy: opts.Policy, ConfirmationThreshold: opts.ConfirmationThreshold},
		validator:  Validator{Policy: opts.Policy},
	}
}

// OptionsFromConfig builds the engine options from the attendance configuration.
func OptionsFromConfig(conf core.AttendanceConfig, logger core.Logger) Options {
	policy := WindowPolicy{PreWindow: conf.PreWindow, DefaultDuration: conf.DefaultDuration}
	return Options{
		Policy:                ExceptionHoursPolicy(policy, conf.ExceptionPostWindow, conf.ExceptionHours...),
		ConfirmationThreshold: conf.ConfirmationThreshold,
		Location:              conf.Location,
		DefaultThreshold:      conf.Threshold,
		Logger:                logger,
	}
}

func (eng *Engine) Normalizer() *Normalizer { return eng.normalizer }

// Normalize parses the raw rows of a cycle. Unusable rows are reported to diag.
func (eng *Engine) Normalize(in CycleInput, diag *Diagnostics) Inputs {
	return Inputs{
		Module:           in.Module,
		Roster:           eng.normalizer.Roster("roster", in.Roster, diag),
		PriorRoster:      eng.normalizer.Roster("prior_roster", in.PriorRoster, diag),
		Schedule:         eng.normalizer.Schedule(in.Schedule, diag),
		Scans:            eng.normalizer.Scans(in.Scans, diag),
		PriorRecords:     in.PriorRecords,
		CarriedTransfers: in.CarriedTransfers,
		Now:              in.Now,
	}
}

// Reconcile normalizes and runs one cycle.
func (eng *Engine) Reconcile(in CycleInput) (CycleResult, error) {
	var diag Diagnostics
	inputs := eng.Normalize(in, &diag)
	res, err := eng.Run(inputs)
	if err != nil {
		return CycleResult{}, err
	}
	diag.merge(res.Diagnostics)
	res.Diagnostics = diag
	return res, nil
}

// ReconcileAll reconciles independent modules in parallel.
// The first failure cancels the batch and no result is returned.
func (eng *Engine) ReconcileAll(ctx context.Context, inputs []CycleInput) ([]CycleResult, error) {
	return parallel(ctx, len(inputs), func(i int) (CycleResult, error) {
		res, err := eng.Reconcile(inputs[i])
		return res, errors.Wrapf(err, "reconciling %s", inputs[i].Module.Name)
	})
}

// RunAll is ReconcileAll for normalized inputs.
func (eng *Engine) RunAll(ctx context.Context, inputs []Inputs) ([]CycleResult, error) {
	return parallel(ctx, len(inputs), func(i int) (CycleResult, error) {
		res, err := eng.Run(inputs[i])
		return res, errors.Wrapf(err, "reconciling %s", inputs[i].Module.Name)
	})
}

func parallel(ctx context.Context, n int, run func(i int) (CycleResult, error)) ([]CycleResult, error) {
	results := make([]CycleResult, n)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := run(i)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Run executes one cycle on normalized inputs:
// transfers, detection, validation, merge and classification, in that order.
func (eng *Engine) Run(in Inputs) (CycleResult, error) {
	if len(in.Roster) == 0 {
		return CycleResult{}, errors.Wrap(ErrMissingInput, "roster")
	}
	if len(in.Schedule) == 0 {
		return CycleResult{}, errors.Wrap(ErrMissingInput, "schedule")
	}
	if in.Module.Threshold <= 0 || in.Module.Threshold > 1 {
		return CycleResult{}, ErrInvalidThreshold
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	in = eng.localize(in)

	var diag Diagnostics
	roster := NewRoster(in.Roster)
	prior := NewRoster(in.PriorRoster)
	schedule := NewSchedule(in.Schedule)

	transfers := CombineTransfers(in.CarriedTransfers, IdentifyTransfers(prior, roster), roster)
	inferences := make([]TransferInference, 0, len(transfers))
	byStudent := make(map[string]TransferInference, len(transfers))
	for _, t := range transfers {
		key := GroupKey{Year: t.Year}
		key.Group = t.PreviousGroup
		prevSessions := schedule.Sessions(key)
		key.Group = t.CurrentGroup
		currSessions := schedule.Sessions(key)

		ti := eng.detector.Detect(t, in.Scans, prevSessions, currSessions)
		inferences = append(inferences, ti)
		byStudent[t.StudentID] = ti
	}

	acc := NewAccumulator()
	eng.validator.Validate(in.Scans, roster, schedule, byStudent, acc, &diag)
	records := Merge(in.PriorRecords, acc.Records(), byStudent)

	res := CycleResult{
		Module:      in.Module,
		Records:     records,
		NewRecords:  len(records) - countDistinct(in.PriorRecords),
		Transfers:   inferences,
		Statuses:    eng.classify(in.Module, roster, schedule, records, in.Now),
		Diagnostics: diag,
	}

	if eng.opts.Logger != nil {
		extras := diag.Summary()
		extras["records"] = len(records)
		extras["new_records"] = res.NewRecords
		extras["transfers"] = len(inferences)
		extras["students"] = len(res.Statuses)
		eng.opts.Logger.Info("reconciliation cycle done", extras, in.Module)
	}
	return res, nil
}

// localize moves every instant to the engine's location, so that calendar days are the local ones.
func (eng *Engine) localize(in Inputs) Inputs {
	loc := eng.opts.Location
	out := in
	out.Now = in.Now.In(loc)
	out.Schedule = make([]ScheduledSession, len(in.Schedule))
	for i, s := range in.Schedule {
		s.Start = s.Start.In(loc)
		out.Schedule[i] = s
	}
	out.Scans = make([]ScanEvent, len(in.Scans))
	for i, e := range in.Scans {
		e.At = e.At.In(loc)
		out.Scans[i] = e
	}
	out.PriorRecords = make([]ValidatedRecord, len(in.PriorRecords))
	for i, r := range in.PriorRecords {
		r.At = r.At.In(loc)
		out.PriorRecords[i] = r
	}
	return out
}

// classify computes the status of every student of the module's cohort.
func (eng *Engine) classify(
	module Module,
	roster Roster,
	schedule Schedule,
	records []ValidatedRecord,
	now time.Time,
) []EntitlementStatus {
	cohort := ParseModuleName(module.Name).Cohort()
	progress := SessionProgress(schedule, now)
	tallies := TallyAttendance(records)

	statuses := make([]EntitlementStatus, 0, roster.Len())
	for _, student := range roster.Entries() {
		if cohort != "" && student.Year != cohort {
			continue
		}
		p := progress[student.GroupKey()]
		tally := tallies[student.StudentID]
		st := Classify(tally.Total, module.RequiredTotal, module.Threshold, p.Completed, p.Remaining)
		st.StudentID = student.StudentID
		st.Name = student.Name
		st.Year = student.Year
		st.Group = student.Group
		st.BySubject = tally.BySubject
		statuses = append(statuses, st)
	}
	sort.SliceStable(statuses, func(i, j int) bool {
		if statuses[i].Group != statuses[j].Group {
			return statuses[i].Group < statuses[j].Group
		}
		return statuses[i].StudentID < statuses[j].StudentID
	})
	return statuses
}

func countDistinct(records []ValidatedRecord) int {
	seen := make(map[RecordKey]struct{}, len(records))
	for _, r := range records {
		seen[r.Key()] = struct{}{}
	}
	return len(seen)
}
