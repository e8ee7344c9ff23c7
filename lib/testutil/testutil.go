package testutil

import (
	"database/sql"
	"strings"
	"testing"

	"mre-backend/lib/telemetry"

	_ "modernc.org/sqlite"
)

type ServiceParams struct {
	Name string
	// if unspecified, it will skip setting up a db
	DbSchema string
	// if unspecified, it will use `:memory:`
	DbPath string
}

// SetupService initializes telemetry and opens a sqlite database for
// a service test. Everything is torn down through t's cleanup.
func SetupService(t testing.TB, params ServiceParams) *sql.DB {
	t.Cleanup(telemetry.SetupForTesting(t, "test:"+params.Name))

	if params.DbSchema == "" {
		return nil
	}

	dbpath := params.DbPath
	if dbpath == "" {
		dbpath = ":memory:"
	}
	sqlite, err := sql.Open("sqlite", dbpath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlite.Close() })

	_, err = sqlite.Exec(params.DbSchema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		t.Fatal(err)
	}
	return sqlite
}
