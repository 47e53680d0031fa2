package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/rollcall/core/attendance"
	"github.com/trezcool/rollcall/tests"
)

var files = map[string]string{
	"roster.csv": "student_id,name,year,group\nS1,Ada,1,B\nS2,Bob,1,A\n",
	"prior.csv":  "student_id,name,year,group\nS1,Ada,1,A\nS2,Bob,1,A\n",
	"schedule.csv": "year,group,subject,session,date,start_time,duration\n" +
		"1,A,Anatomy,1,08/03/2024,09:00,60\n" +
		"1,B,Anatomy,1,08/03/2024,14:00,60\n" +
		"1,A,Anatomy,2,10/03/2024,09:00,60\n" +
		"1,B,Anatomy,2,10/03/2024,14:00,60\n" +
		"1,A,Anatomy,3,11/03/2024,09:00,60\n" +
		"1,B,Anatomy,3,11/03/2024,14:00,60\n",
	"scans.csv": "student_id,location,date,time\n" +
		"S1,Anatomy,08/03/2024,09:10\n" +
		"S1,Anatomy,10/03/2024,14:05\n" +
		"S1,Anatomy,11/03/2024,14:05\n" +
		"S2,Anatomy,08/03/2024,08:50\n" +
		"S2,Anatomy,10/03/2024,bad\n",
	"bad.csv": "student_id,name\nS1,Ada\n",
	"messy.csv": "student_id,name,year,group\n" +
		"S1,Ada,1,B\n" +
		"S1,Ada,1,B\n" +
		",Nobody,1,A\n" +
		"S2,Bob,1,A\n" +
		"S2,Bob,1,A\n",
}

func setup(t *testing.T) (*commandLine, *attendance.Service, *bytes.Buffer) {
	svc, _ := testutil.NewService(t)
	openFileFunc = func(name string) (io.ReadCloser, error) {
		content, ok := files[name]
		if !ok {
			return nil, os.ErrNotExist
		}
		return io.NopCloser(strings.NewReader(content)), nil
	}

	var out bytes.Buffer
	return &commandLine{svc: svc, out: &out, defaultThreshold: 0.75}, svc, &out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantOut    string
}

func runCLITests(t *testing.T, cli *commandLine, out *bytes.Buffer, tests []cliTest) {
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			err := cli.run(args)
			switch {
			case tt.wantErr != nil:
				if errors.Cause(err) != tt.wantErr {
					t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
				}
			case tt.wantErrStr != "":
				if err == nil || err.Error() != tt.wantErrStr {
					t.Errorf("cli.run() error = %v, wantErrStr %s", err, tt.wantErrStr)
				}
			case err != nil:
				t.Errorf("cli.run() unexpected error = %v", err)
			}
			if tt.wantOut != "" {
				assert.Contains(t, out.String(), tt.wantOut)
			}
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, out := setup(t)

	migrateFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runCLITests(t, cli, out, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "holidays", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	})
}

func Test_commandLine_module(t *testing.T) {
	cli, svc, out := setup(t)

	runCLITests(t, cli, out, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no name", args: []string{"module", "-required", "20"}, wantErr: errHelp},
		{name: "invalid threshold", args: []string{"module", "-name", "Y1_B2425_Anatomy", "-threshold", "1.5", "-required", "20"}, wantErrStr: "invalid input"},
		{name: "no required total", args: []string{"module", "-name", "Y1_B2425_Anatomy"}, wantErrStr: "invalid input"},
		{
			name:    "create",
			args:    []string{"module", "-name", "Y1_B2425_Anatomy", "-required", "20"},
			wantOut: "module Y1_B2425_Anatomy saved (threshold 0.75, 20 sessions)",
		},
		{
			name:    "update",
			args:    []string{"module", "-name", "Y1_B2425_Anatomy", "-threshold", "0.8", "-required", "4"},
			wantOut: "module Y1_B2425_Anatomy saved (threshold 0.80, 4 sessions)",
		},
	})

	m, err := svc.GetModule(context.Background(), "Y1_B2425_Anatomy")
	if err != nil {
		t.Fatalf("GetModule() failed: %v", err)
	}
	assert.Equal(t, 0.8, m.Threshold)
	assert.Equal(t, 4, m.RequiredTotal)
}

func Test_commandLine_moduleConfiguredThreshold(t *testing.T) {
	cli, svc, out := setup(t)
	cli.defaultThreshold = 0.6

	runCLITests(t, cli, out, []cliTest{
		{
			name:    "create without threshold",
			args:    []string{"module", "-name", "Y2_B2425_Physiology", "-required", "10"},
			wantOut: "module Y2_B2425_Physiology saved (threshold 0.60, 10 sessions)",
		},
	})

	m, err := svc.GetModule(context.Background(), "Y2_B2425_Physiology")
	if err != nil {
		t.Fatalf("GetModule() failed: %v", err)
	}
	assert.Equal(t, 0.6, m.Threshold)
}

func Test_commandLine_importAndReconcile(t *testing.T) {
	cli, _, out := setup(t)
	testutil.CreateModule(t, cli.svc, testutil.FixtureModule, 0.5, 3)
	mod := testutil.FixtureModule

	runCLITests(t, cli, out, []cliTest{
		{name: "import: no args", args: []string{"import"}, wantErr: errHelp},
		{name: "import: roster without module", args: []string{"import", "-kind", "roster", "-file", "roster.csv"}, wantErr: errHelp},
		{name: "import: unknown kind", args: []string{"import", "-module", mod, "-kind", "lol", "-file", "roster.csv"}, wantErrStr: "unknown kind \"lol\""},
		{name: "import: file not found", args: []string{"import", "-module", mod, "-kind", "roster", "-file", "nope.csv"}, wantErr: os.ErrNotExist},
		{name: "import: missing column", args: []string{"import", "-module", mod, "-kind", "schedule", "-file", "bad.csv"}, wantErrStr: "reading bad.csv: year: missing column"},
		{name: "import: unknown module", args: []string{"import", "-module", "lol", "-kind", "roster", "-file", "roster.csv"}, wantErr: attendance.ErrModuleNotFound},
		{name: "reconcile: no input yet", args: []string{"reconcile", "-module", mod}, wantErr: attendance.ErrMissingInput},
		{name: "import: prior roster", args: []string{"import", "-module", mod, "-kind", "roster", "-file", "prior.csv"}, wantOut: "2 roster rows imported"},
		{name: "import: roster", args: []string{"import", "-module", mod, "-kind", "roster", "-file", "roster.csv"}, wantOut: "2 roster rows imported"},
		{name: "import: schedule", args: []string{"import", "-module", mod, "-kind", "schedule", "-file", "schedule.csv"}, wantOut: "6 sessions imported"},
		{name: "import: scans", args: []string{"import", "-kind", "scans", "-file", "scans.csv"}, wantOut: "warning: 1 malformed_temporal_value"},
		{name: "import: scans again", args: []string{"import", "-kind", "scans", "-file", "scans.csv"}, wantOut: "0 new scans"},
		{name: "reconcile: no args", args: []string{"reconcile"}, wantErr: errHelp},
		{name: "reconcile: unknown module", args: []string{"reconcile", "-module", "lol"}, wantErr: attendance.ErrModuleNotFound},
		{name: "reconcile", args: []string{"reconcile", "-module", mod}, wantOut: mod + ": 4 records (4 new), 1 transfers"},
		{name: "reconcile all", args: []string{"reconcile", "-all"}, wantOut: mod + ": 4 records (0 new), 1 transfers"},
		{name: "status: no args", args: []string{"status"}, wantErr: errHelp},
		{name: "status: unknown module", args: []string{"status", "-module", "lol"}, wantErr: attendance.ErrModuleNotFound},
		{name: "status", args: []string{"status", "-module", mod}, wantOut: "STATUS"},
	})

	assert.Regexp(t, `S1\s+Ada\s+B\s+3\s+2\s+0\s+Pass`, out.String())
	assert.Regexp(t, `S2\s+Bob\s+A\s+1\s+2\s+0\s+Fail`, out.String())
}

func Test_commandLine_importDiagnostics(t *testing.T) {
	cli, _, out := setup(t)
	testutil.CreateModule(t, cli.svc, testutil.FixtureModule, 0.5, 3)

	for i := 0; i < 5; i++ {
		runCLITests(t, cli, out, []cliTest{
			{
				name: "warnings in a fixed order",
				args: []string{"import", "-module", testutil.FixtureModule, "-kind", "roster", "-file", "messy.csv"},
				wantOut: "2 roster rows imported into " + testutil.FixtureModule + "\n" +
					"  warning: 1 incomplete_record\n" +
					"  warning: 2 duplicate_student\n",
			},
		})
	}
}
