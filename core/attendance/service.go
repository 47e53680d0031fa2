package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core"
)

var nowFunc = time.Now // mockable

type (
	// Cycle is the metadata of one persisted reconciliation run.
	Cycle struct {
		ID          string         `json:"id"`
		Module      string         `json:"module"`
		RanAt       time.Time      `json:"ran_at"` // UTC
		Records     int            `json:"records"`
		NewRecords  int            `json:"new_records"`
		Transfers   int            `json:"transfers"`
		Diagnostics map[string]int `json:"diagnostics"`
	}

	// CycleOutcome is what one module's cycle persists.
	CycleOutcome struct {
		Cycle     Cycle
		Records   []ValidatedRecord
		Transfers []TransferInference
	}

	// StoredInputs is what the repository holds for a module between cycles.
	StoredInputs struct {
		Roster           []RosterEntry
		PriorRoster      []RosterEntry
		Schedule         []ScheduledSession
		Scans            []ScanEvent
		PriorRecords     []ValidatedRecord
		CarriedTransfers []Transfer
	}

	Repository interface {
		GetModule(ctx context.Context, name string) (Module, error)
		ListModules(ctx context.Context) ([]Module, error)
		SaveModule(ctx context.Context, m Module) (Module, error)
		// LoadInputs returns the module's roster snapshots and schedule,
		// the whole scan log, and the records and transfers of the last cycle.
		LoadInputs(ctx context.Context, module string) (StoredInputs, error)
		// SaveCycle replaces the module's records and transfers and records the cycle, all or nothing.
		SaveCycle(ctx context.Context, cycle Cycle, records []ValidatedRecord, transfers []TransferInference) error
		// SaveCycles saves the cycles of several modules at once. Either all are saved or none is.
		SaveCycles(ctx context.Context, outcomes []CycleOutcome) error
		LastCycle(ctx context.Context, module string) (Cycle, error)
		// ImportRoster stores a new current roster; the previous current roster becomes the prior one.
		ImportRoster(ctx context.Context, module string, entries []RosterEntry) error
		// ImportSchedule replaces the module's schedule.
		ImportSchedule(ctx context.Context, module string, sessions []ScheduledSession) error
		// AppendScans adds scan events to the shared log and returns how many were new.
		AppendScans(ctx context.Context, events []ScanEvent) (int, error)
		ListRecords(ctx context.Context, module string) ([]ValidatedRecord, error)
		ListTransfers(ctx context.Context, module string) ([]TransferInference, error)
	}

	Service struct {
		repo   Repository
		engine *Engine
		log    core.Logger
	}
)

func NewService(repo Repository, engine *Engine, logger core.Logger) *Service {
	return &Service{repo: repo, engine: engine, log: logger}
}

// CreateModule registers or updates a module. A zero threshold falls back to the configured default.
func (svc *Service) CreateModule(ctx context.Context, nm NewModule) (Module, error) {
	if nm.Threshold == 0 {
		nm.Threshold = svc.engine.opts.DefaultThreshold
	}
	if err := nm.Validate(); err != nil {
		return Module{}, err
	}
	m, err := svc.repo.GetModule(ctx, nm.Name)
	switch {
	case err == nil:
	case errors.Cause(err) == ErrModuleNotFound:
		m = Module{Name: nm.Name, CreatedAt: nowFunc().UTC()}
	default:
		return Module{}, err
	}
	m.Threshold = nm.Threshold
	m.RequiredTotal = nm.RequiredTotal
	m.UpdatedAt = nowFunc().UTC()
	return svc.repo.SaveModule(ctx, m)
}

func (svc *Service) GetModule(ctx context.Context, name string) (Module, error) {
	return svc.repo.GetModule(ctx, core.CleanString(name))
}

func (svc *Service) ListModules(ctx context.Context) ([]Module, error) {
	return svc.repo.ListModules(ctx)
}

// ImportRoster normalizes and stores a new current roster of the module.
// It returns the number of roster entries stored.
func (svc *Service) ImportRoster(ctx context.Context, module string, rows []RosterRow) (int, Diagnostics, error) {
	var diag Diagnostics
	if _, err := svc.repo.GetModule(ctx, module); err != nil {
		return 0, diag, err
	}
	entries := svc.engine.Normalizer().Roster("roster", rows, &diag)
	if len(entries) == 0 {
		return 0, diag, errors.Wrap(ErrMissingInput, "roster")
	}
	if err := svc.repo.ImportRoster(ctx, module, entries); err != nil {
		return 0, diag, errors.Wrap(err, "importing roster")
	}
	return len(entries), diag, nil
}

// ImportSchedule normalizes and stores the module's schedule.
// It returns the number of sessions stored.
func (svc *Service) ImportSchedule(ctx context.Context, module string, rows []ScheduleRow) (int, Diagnostics, error) {
	var diag Diagnostics
	if _, err := svc.repo.GetModule(ctx, module); err != nil {
		return 0, diag, err
	}
	sessions := svc.engine.Normalizer().Schedule(rows, &diag)
	if len(sessions) == 0 {
		return 0, diag, errors.Wrap(ErrMissingInput, "schedule")
	}
	if err := svc.repo.ImportSchedule(ctx, module, sessions); err != nil {
		return 0, diag, errors.Wrap(err, "importing schedule")
	}
	return len(sessions), diag, nil
}

// ImportScans normalizes and appends scan rows to the shared scan log.
func (svc *Service) ImportScans(ctx context.Context, rows []ScanRow) (int, Diagnostics, error) {
	var diag Diagnostics
	events := svc.engine.Normalizer().Scans(rows, &diag)
	n, err := svc.repo.AppendScans(ctx, events)
	if err != nil {
		return 0, diag, errors.Wrap(err, "appending scans")
	}
	return n, diag, nil
}

func (svc *Service) inputs(ctx context.Context, module string) (Inputs, error) {
	m, err := svc.repo.GetModule(ctx, module)
	if err != nil {
		return Inputs{}, err
	}
	stored, err := svc.repo.LoadInputs(ctx, m.Name)
	if err != nil {
		return Inputs{}, errors.Wrap(err, "loading inputs")
	}
	return Inputs{
		Module:           m,
		Roster:           stored.Roster,
		PriorRoster:      stored.PriorRoster,
		Schedule:         stored.Schedule,
		Scans:            stored.Scans,
		PriorRecords:     stored.PriorRecords,
		CarriedTransfers: stored.CarriedTransfers,
		Now:              nowFunc(),
	}, nil
}

// Reconcile runs a cycle of the module and persists its outcome.
func (svc *Service) Reconcile(ctx context.Context, module string) (CycleResult, Cycle, error) {
	in, err := svc.inputs(ctx, module)
	if err != nil {
		return CycleResult{}, Cycle{}, err
	}
	res, err := svc.engine.Run(in)
	if err != nil {
		return CycleResult{}, Cycle{}, errors.Wrapf(err, "reconciling %s", module)
	}

	cycle := newCycle(res, in.Now)
	if err := svc.repo.SaveCycle(ctx, cycle, res.Records, res.Transfers); err != nil {
		return CycleResult{}, Cycle{}, errors.Wrap(err, "saving cycle")
	}
	svc.logCycle(res.Module, cycle)
	return res, cycle, nil
}

// ReconcileAll reconciles every registered module. No cycle is saved unless every module reconciles.
func (svc *Service) ReconcileAll(ctx context.Context) ([]CycleResult, []Cycle, error) {
	modules, err := svc.repo.ListModules(ctx)
	if err != nil {
		return nil, nil, err
	}

	inputs := make([]Inputs, 0, len(modules))
	for _, m := range modules {
		in, err := svc.inputs(ctx, m.Name)
		if err != nil {
			return nil, nil, err
		}
		inputs = append(inputs, in)
	}
	results, err := svc.engine.RunAll(ctx, inputs)
	if err != nil {
		return nil, nil, err
	}

	cycles := make([]Cycle, 0, len(results))
	outcomes := make([]CycleOutcome, 0, len(results))
	for i, res := range results {
		cycle := newCycle(res, inputs[i].Now)
		cycles = append(cycles, cycle)
		outcomes = append(outcomes, CycleOutcome{Cycle: cycle, Records: res.Records, Transfers: res.Transfers})
	}
	if err := svc.repo.SaveCycles(ctx, outcomes); err != nil {
		return nil, nil, errors.Wrap(err, "saving cycles")
	}
	for i, res := range results {
		svc.logCycle(res.Module, cycles[i])
	}
	return results, cycles, nil
}

func newCycle(res CycleResult, now time.Time) Cycle {
	cycle := Cycle{
		ID:          uuid.New().String(),
		Module:      res.Module.Name,
		RanAt:       now.UTC(),
		Records:     len(res.Records),
		NewRecords:  res.NewRecords,
		Transfers:   len(res.Transfers),
		Diagnostics: make(map[string]int),
	}
	for kind, n := range res.Diagnostics.Counts() {
		cycle.Diagnostics[string(kind)] = n
	}
	return cycle
}

func (svc *Service) logCycle(m Module, cycle Cycle) {
	if svc.log == nil {
		return
	}
	svc.log.Info("cycle saved", map[string]interface{}{
		"cycle":       cycle.ID,
		"records":     cycle.Records,
		"new_records": cycle.NewRecords,
		"transfers":   cycle.Transfers,
	}, m)
}

// Statuses recomputes the entitlement status of every student of the module from the stored records.
func (svc *Service) Statuses(ctx context.Context, module string) ([]EntitlementStatus, error) {
	in, err := svc.inputs(ctx, module)
	if err != nil {
		return nil, err
	}
	if len(in.Roster) == 0 || len(in.Schedule) == 0 {
		return nil, errors.Wrap(ErrMissingInput, "roster and schedule")
	}
	in = svc.engine.localize(in)
	return svc.engine.classify(in.Module, NewRoster(in.Roster), NewSchedule(in.Schedule), in.PriorRecords, in.Now), nil
}

func (svc *Service) Records(ctx context.Context, module string) ([]ValidatedRecord, error) {
	if _, err := svc.repo.GetModule(ctx, module); err != nil {
		return nil, err
	}
	return svc.repo.ListRecords(ctx, module)
}

func (svc *Service) Transfers(ctx context.Context, module string) ([]TransferInference, error) {
	if _, err := svc.repo.GetModule(ctx, module); err != nil {
		return nil, err
	}
	return svc.repo.ListTransfers(ctx, module)
}

func (svc *Service) LastCycle(ctx context.Context, module string) (Cycle, error) {
	return svc.repo.LastCycle(ctx, module)
}
