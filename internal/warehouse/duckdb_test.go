package warehouse

import (
	"context"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonfact/lea/pkg/core"
)

func mockDuckDB(t *testing.T, env core.Environment) (*DuckDB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d, err := newDuckDB(Config{Path: "wh.duckdb"}, "duckdb", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	d.db = db
	d.dbEnv = env.Name
	return d, mock
}

func TestDuckDBDatabasePath(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	dev := core.DevEnvironment("max")

	d, err := newDuckDB(Config{Path: "wh.duckdb"}, "duckdb", logger)
	require.NoError(t, err)
	assert.Equal(t, "wh_max.duckdb", d.databasePath(dev))
	assert.Equal(t, "wh.duckdb", d.databasePath(core.ProdEnvironment()))

	md, err := newDuckDB(Config{Path: "md:jaffle"}, "motherduck", logger)
	require.NoError(t, err)
	assert.Equal(t, "md:jaffle_max", md.databasePath(dev))
	assert.Equal(t, "md:jaffle", md.databasePath(core.ProdEnvironment()))
}

func TestDuckDBRenderRef(t *testing.T) {
	d, _ := mockDuckDB(t, core.DevEnvironment("max"))

	ref := core.NewRef("users", "core", "north")
	assert.Equal(t, "core.north__users", d.RenderRef(ref, false, core.DevEnvironment("max")))
	assert.Equal(t, "core.north__users___audit", d.RenderRef(ref, true, core.DevEnvironment("max")))
}

func TestDuckDBMaterialize(t *testing.T) {
	env := core.DevEnvironment("max")
	d, mock := mockDuckDB(t, env)

	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS core").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE OR REPLACE TABLE core.users___audit AS (\nSELECT id FROM staging.users___audit\n)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT(*) FROM core.users___audit").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	script := &core.Script{
		Ref: core.NewRef("users", "core"),
		SQL: "SELECT id FROM staging.users",
	}
	rows, err := d.Materialize(context.Background(), script, MaterializeOptions{
		Audit: true,
		Env:   env,
		Deps:  map[string]string{"staging.users": "staging.users___audit"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDuckDBMaterializeIncremental(t *testing.T) {
	env := core.DevEnvironment("max")
	d, mock := mockDuckDB(t, env)

	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS core").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`).
		WithArgs("core", "events").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("CREATE OR REPLACE TABLE core.events___audit AS (\n" +
		"SELECT * FROM (\nSELECT * FROM staging.events\n) WHERE dt IN ('2026-01-01')\n" +
		"UNION ALL\nSELECT * FROM core.events WHERE dt NOT IN ('2026-01-01')\n)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT(*) FROM core.events___audit").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	script := &core.Script{
		Ref:         core.NewRef("events", "core"),
		SQL:         "SELECT * FROM staging.events",
		Incremental: true,
	}
	rows, err := d.Materialize(context.Background(), script, MaterializeOptions{
		Audit:       true,
		Env:         env,
		Incremental: true,
		Field:       "dt",
		Values:      []string{"'2026-01-01'"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDuckDBPromote(t *testing.T) {
	env := core.DevEnvironment("max")
	d, mock := mockDuckDB(t, env)

	mock.ExpectExec("CREATE OR REPLACE TABLE core.users AS SELECT * FROM core.users___audit").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, d.Promote(context.Background(), core.NewRef("users", "core"), env))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDuckDBQueryRows(t *testing.T) {
	env := core.DevEnvironment("max")
	d, mock := mockDuckDB(t, env)

	mock.ExpectQuery("SELECT id FROM tests.t").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))

	rows, err := d.QueryRows(context.Background(), "SELECT id FROM tests.t", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0], "id")
}
