package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/rollcall/core/attendance"
	"github.com/trezcool/rollcall/services/tabular"
)

var (
	errHelp = errors.New("help provided")

	openFileFunc = func(name string) (io.ReadCloser, error) { return os.Open(name) } // mockable
)

type commandLine struct {
	db               *sql.DB
	svc              *attendance.Service
	out              io.Writer
	defaultThreshold float64
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  module -name NAME -threshold P -required N - register or update a module")
	fmt.Fprintln(cli.out, "  import -module NAME -kind roster|schedule|scans -file FILE - import a CSV file")
	fmt.Fprintln(cli.out, "  reconcile -module NAME | -all - run a reconciliation cycle")
	fmt.Fprintln(cli.out, "  status -module NAME - print the entitlement status of every student")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	moduleCmd := flag.NewFlagSet("module", flag.ContinueOnError)
	moduleName := moduleCmd.String("name", "", "The module name, eg. Y1_B2425_Anatomy.")
	moduleThreshold := moduleCmd.Float64("threshold", cli.defaultThreshold, "The attendance threshold, in (0, 1].")
	moduleRequired := moduleCmd.Int("required", 0, "The total number of sessions of the module.")

	importCmd := flag.NewFlagSet("import", flag.ContinueOnError)
	importModule := importCmd.String("module", "", "The module the roster or schedule belongs to. Not needed for scans.")
	importKind := importCmd.String("kind", "", "What the file holds: roster, schedule or scans.")
	importFile := importCmd.String("file", "", "The CSV file to import.")

	reconcileCmd := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	reconcileModule := reconcileCmd.String("module", "", "The module to reconcile.")
	reconcileAll := reconcileCmd.Bool("all", false, "Reconcile every module.")

	statusCmd := flag.NewFlagSet("status", flag.ContinueOnError)
	statusModule := statusCmd.String("module", "", "The module to report on.")

	for _, fs := range []*flag.FlagSet{moduleCmd, importCmd, reconcileCmd, statusCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "module":
		if err := moduleCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *moduleName == "" {
			moduleCmd.Usage()
			return errHelp
		}
		return cli.saveModule(*moduleName, *moduleThreshold, *moduleRequired)
	case "import":
		if err := importCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *importFile == "" || (*importKind != "scans" && *importModule == "") {
			importCmd.Usage()
			return errHelp
		}
		return cli.importFile(*importModule, *importKind, *importFile)
	case "reconcile":
		if err := reconcileCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *reconcileAll {
			return cli.reconcileAll()
		}
		if *reconcileModule == "" {
			reconcileCmd.Usage()
			return errHelp
		}
		return cli.reconcile(*reconcileModule)
	case "status":
		if err := statusCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *statusModule == "" {
			statusCmd.Usage()
			return errHelp
		}
		return cli.status(*statusModule)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) saveModule(name string, threshold float64, required int) error {
	m, err := cli.svc.CreateModule(context.Background(), attendance.NewModule{
		Name:          name,
		Threshold:     threshold,
		RequiredTotal: required,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "module %s saved (threshold %.2f, %d sessions)\n", m.Name, m.Threshold, m.RequiredTotal)
	return nil
}

func (cli *commandLine) importFile(module, kind, path string) error {
	f, err := openFileFunc(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := context.Background()
	var diag attendance.Diagnostics
	switch kind {
	case "roster":
		rows, err := tabular.ReadRoster(f)
		if err != nil {
			return pkgerrors.Wrapf(err, "reading %s", path)
		}
		var n int
		if n, diag, err = cli.svc.ImportRoster(ctx, module, rows); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "%d roster rows imported into %s\n", n, module)
	case "schedule":
		rows, err := tabular.ReadSchedule(f)
		if err != nil {
			return pkgerrors.Wrapf(err, "reading %s", path)
		}
		var n int
		if n, diag, err = cli.svc.ImportSchedule(ctx, module, rows); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "%d sessions imported into %s\n", n, module)
	case "scans":
		rows, err := tabular.ReadScans(f)
		if err != nil {
			return pkgerrors.Wrapf(err, "reading %s", path)
		}
		var n int
		if n, diag, err = cli.svc.ImportScans(ctx, rows); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "%d new scans\n", n)
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	cli.printDiagnostics(diag)
	return nil
}

func (cli *commandLine) reconcile(module string) error {
	res, cycle, err := cli.svc.Reconcile(context.Background(), module)
	if err != nil {
		return err
	}
	cli.printCycle(res, cycle)
	return nil
}

func (cli *commandLine) reconcileAll() error {
	results, cycles, err := cli.svc.ReconcileAll(context.Background())
	if err != nil {
		return err
	}
	for i := range results {
		cli.printCycle(results[i], cycles[i])
	}
	return nil
}

func (cli *commandLine) status(module string) error {
	statuses, err := cli.svc.Statuses(context.Background(), module)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENT\tNAME\tGROUP\tATTENDED\tREQUIRED\tLEFT\tSTATUS")
	for _, st := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			st.StudentID, st.Name, st.Group, st.Attended, st.RequiredSessions, st.SessionsLeft, st.Status)
	}
	return w.Flush()
}

func (cli *commandLine) printCycle(res attendance.CycleResult, cycle attendance.Cycle) {
	fmt.Fprintf(cli.out, "%s: %d records (%d new), %d transfers\n",
		cycle.Module, cycle.Records, cycle.NewRecords, cycle.Transfers)
	counts := make(map[attendance.Status]int, len(attendance.Statuses))
	for _, st := range res.Statuses {
		counts[st.Status]++
	}
	for _, status := range attendance.Statuses {
		fmt.Fprintf(cli.out, "  %-14s %d\n", status, counts[status])
	}
	cli.printDiagnostics(res.Diagnostics)
}

func (cli *commandLine) printDiagnostics(diag attendance.Diagnostics) {
	counts := diag.Counts()
	for _, kind := range attendance.DiagnosticKinds {
		if n := counts[kind]; n > 0 {
			fmt.Fprintf(cli.out, "  warning: %d %s\n", n, kind)
		}
	}
}
