package testutil

import (
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/rollcall/core"
	"github.com/trezcool/rollcall/storage/database"
)

var tables = []string{"validated_records", "transfers", "cycles", "scan_events", "scheduled_sessions", "roster_entries", "modules"}

// PrepareDB opens the configured database, migrates it and empties every table.
// The test is skipped when the database cannot be reached.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conf, err := core.NewConfig()
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		t.Skipf("database not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db, "up"); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	for _, table := range tables {
		if _, err = db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("PrepareDB() failed: %v", err)
		}
	}
	return sqlx.NewDb(db, conf.Database.Engine)
}
