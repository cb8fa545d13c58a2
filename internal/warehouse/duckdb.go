package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/carbonfact/lea/pkg/core"
)

func init() {
	Register("duckdb", func(cfg Config, logger *slog.Logger) (Warehouse, error) {
		return newDuckDB(cfg, "duckdb", logger)
	})
	Register("motherduck", func(cfg Config, logger *slog.Logger) (Warehouse, error) {
		return newDuckDB(cfg, "motherduck", logger)
	})
	Register("ducklake", func(cfg Config, logger *slog.Logger) (Warehouse, error) {
		return newDuckDB(cfg, "ducklake", logger)
	})
}

// DuckDB serves plain DuckDB files, MotherDuck databases (md: paths) and
// DuckLake catalogs (ducklake: paths, attached on open). Development
// environments get their own database: the path stem is suffixed with the
// username, so dev runs never touch production data.
type DuckDB struct {
	cfg    Config
	kind   string
	logger *slog.Logger

	mu    sync.Mutex
	db    *sql.DB
	dbEnv string // environment the handle was opened for
}

func newDuckDB(cfg Config, kind string, logger *slog.Logger) (*DuckDB, error) {
	if cfg.Path == "" {
		return nil, core.Configf("%s warehouse needs a path", kind)
	}
	return &DuckDB{cfg: cfg, kind: kind, logger: logger}, nil
}

// Name returns the registered vendor name.
func (d *DuckDB) Name() string { return d.kind }

// databasePath renders the environment-specific database location.
func (d *DuckDB) databasePath(env core.Environment) string {
	path := d.cfg.Path
	suffix := env.Suffix()
	if suffix == "" {
		return path
	}
	switch d.kind {
	case "motherduck":
		// md:dbname -> md:dbname_user
		return path + suffix
	case "ducklake":
		return path
	default:
		if ext := ".duckdb"; strings.HasSuffix(path, ext) {
			return strings.TrimSuffix(path, ext) + suffix + ext
		}
		return path + suffix
	}
}

// ensureOpen lazily opens the database for the given environment.
func (d *DuckDB) ensureOpen(ctx context.Context, env core.Environment) (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		if d.dbEnv != env.Name {
			return nil, core.Configf("warehouse already open for %s environment", d.dbEnv)
		}
		return d.db, nil
	}

	dsn := d.databasePath(env)
	if d.kind == "ducklake" {
		dsn = "" // in-memory; the lake is attached below
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", d.kind, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", d.kind, err)
	}
	if d.kind == "ducklake" {
		attach := fmt.Sprintf("ATTACH '%s' AS lake", d.databasePath(env))
		if _, err := db.ExecContext(ctx, attach); err != nil {
			db.Close()
			return nil, fmt.Errorf("attaching ducklake: %w", err)
		}
		if _, err := db.ExecContext(ctx, "USE lake"); err != nil {
			db.Close()
			return nil, fmt.Errorf("selecting ducklake: %w", err)
		}
	}

	d.logger.Debug("warehouse connected", "kind", d.kind, "env", env.Name)
	d.db = db
	d.dbEnv = env.Name
	return db, nil
}

// Close releases the database handle.
func (d *DuckDB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// Prepare opens (and thereby creates) the environment's database.
func (d *DuckDB) Prepare(ctx context.Context, env core.Environment) error {
	_, err := d.ensureOpen(ctx, env)
	return err
}

// Teardown removes the environment's database file. Refused for remote
// catalogs, which have no local file to delete.
func (d *DuckDB) Teardown(_ context.Context, env core.Environment) error {
	if d.kind != "duckdb" {
		return core.Configf("teardown is not supported for %s", d.kind)
	}
	if err := d.Close(); err != nil {
		return err
	}
	path := d.databasePath(env)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	os.Remove(path + ".wal")
	return nil
}

// RenderRef renders schema.sub__table[___audit]. The environment is carried
// by the database itself, not the identifier.
func (d *DuckDB) RenderRef(ref core.TableRef, audit bool, _ core.Environment) string {
	if audit {
		ref = ref.Audit()
	}
	return ref.String()
}

// Materialize runs the script's statements on one connection, wrapping the
// final SELECT in CREATE OR REPLACE TABLE, and returns the row count.
func (d *DuckDB) Materialize(ctx context.Context, script *core.Script, opts MaterializeOptions) (int64, error) {
	db, err := d.ensureOpen(ctx, opts.Env)
	if err != nil {
		return 0, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, quoteError(script.Ref, err)
	}
	defer conn.Close()

	target := d.RenderRef(script.Ref, opts.Audit, opts.Env)
	if schema := schemaOf(target); schema != "" {
		if _, err := conn.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
			return 0, quoteError(script.Ref, err)
		}
	}

	stmts := SplitStatements(RewriteRefs(script.SQL, opts.Deps))
	if len(stmts) == 0 {
		return 0, quoteError(script.Ref, fmt.Errorf("script is empty"))
	}
	// Leading statements (SET, temp macros) run verbatim, in file order.
	for _, stmt := range stmts[:len(stmts)-1] {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return 0, quoteError(script.Ref, err)
		}
	}

	query := stmts[len(stmts)-1]
	ddl := d.buildCreate(ctx, conn, target, script, query, opts)
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return 0, quoteError(script.Ref, err)
	}

	var rows int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+target).Scan(&rows); err != nil {
		return 0, quoteError(script.Ref, err)
	}
	return rows, nil
}

// buildCreate renders the CREATE statement, switching to a keyed merge for
// incremental scripts: fresh rows for the configured key values are unioned
// with the existing production rows outside that set.
func (d *DuckDB) buildCreate(ctx context.Context, conn *sql.Conn, target string, script *core.Script, query string, opts MaterializeOptions) string {
	if !opts.Incremental || !script.Incremental || opts.Field == "" || len(opts.Values) == 0 {
		return fmt.Sprintf("CREATE OR REPLACE TABLE %s AS (\n%s\n)", target, query)
	}

	values := strings.Join(opts.Values, ", ")
	prod := d.RenderRef(script.Ref, false, opts.Env)
	keep := ""
	if exists, err := d.tableExistsOn(ctx, conn, prod); err == nil && exists {
		keep = fmt.Sprintf("\nUNION ALL\nSELECT * FROM %s WHERE %s NOT IN (%s)", prod, opts.Field, values)
	}
	return fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS (\nSELECT * FROM (\n%s\n) WHERE %s IN (%s)%s\n)",
		target, query, opts.Field, values, keep)
}

// QueryRows runs a SELECT and returns up to limit rows as maps.
func (d *DuckDB) QueryRows(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	d.mu.Lock()
	db := d.db
	d.mu.Unlock()
	if db == nil {
		return nil, core.Configf("warehouse not prepared")
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() && (limit <= 0 || len(out) < limit) {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// TableExists checks information_schema for the rendered table.
func (d *DuckDB) TableExists(ctx context.Context, ref core.TableRef, audit bool, env core.Environment) (bool, error) {
	db, err := d.ensureOpen(ctx, env)
	if err != nil {
		return false, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	return d.tableExistsOn(ctx, conn, d.RenderRef(ref, audit, env))
}

func (d *DuckDB) tableExistsOn(ctx context.Context, conn *sql.Conn, rendered string) (bool, error) {
	schema, table, ok := strings.Cut(rendered, ".")
	if !ok {
		schema, table = "main", rendered
	}
	var count int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		schema, table).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Promote replaces the production table with the audit table's contents in
// a single statement, then leaves the audit table for the caller to drop.
func (d *DuckDB) Promote(ctx context.Context, ref core.TableRef, env core.Environment) error {
	db, err := d.ensureOpen(ctx, env)
	if err != nil {
		return err
	}
	prod := d.RenderRef(ref, false, env)
	audit := d.RenderRef(ref, true, env)
	_, err = db.ExecContext(ctx,
		fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM %s", prod, audit))
	return quoteError(ref, err)
}

// Drop removes a table if present.
func (d *DuckDB) Drop(ctx context.Context, ref core.TableRef, audit bool, env core.Environment) error {
	db, err := d.ensureOpen(ctx, env)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+d.RenderRef(ref, audit, env))
	return err
}

func schemaOf(rendered string) string {
	if schema, _, ok := strings.Cut(rendered, "."); ok {
		return schema
	}
	return ""
}

var _ Warehouse = (*DuckDB)(nil)
