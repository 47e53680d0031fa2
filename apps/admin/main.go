package main

import (
	"log"
	"os"

	"github.com/trezcool/rollcall/core"
	"github.com/trezcool/rollcall/core/attendance"
	"github.com/trezcool/rollcall/services/logger"
	"github.com/trezcool/rollcall/storage/database"
	"github.com/trezcool/rollcall/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf, err := core.NewConfig()
	errAndDie(err)

	// set up DB
	errAndDie(database.CreateIfNotExist(conf))
	db, err := database.OpenX(conf)
	errAndDie(err)
	defer db.Close()

	// set up services
	appLogger := logsvc.NewRollbarLogger(logger, conf)
	engine := attendance.NewEngine(attendance.OptionsFromConfig(conf.Attendance, appLogger))
	svc := attendance.NewService(sqlxrepos.NewAttendanceRepository(db), engine, appLogger)

	// start CLI
	cli := commandLine{
		db:               db.DB,
		svc:              svc,
		out:              os.Stdout,
		defaultThreshold: conf.Attendance.Threshold,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %+v\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
