// Package warehouse defines the capability interface the executor drives
// and a registry of vendor implementations (DuckDB, MotherDuck, DuckLake,
// BigQuery). Identifier syntax, the promotion primitive and the incremental
// merge syntax all live behind the Warehouse interface.
package warehouse

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/carbonfact/lea/pkg/core"
)

// Config selects and parameterises a warehouse.
type Config struct {
	// Type is a registered warehouse name: duckdb, motherduck, ducklake,
	// bigquery.
	Type string `koanf:"type"`
	// Path is the database location for the DuckDB family: a file path,
	// an md: database, or a ducklake: metadata path.
	Path string `koanf:"path"`
	// Project and Dataset target BigQuery.
	Project  string `koanf:"project"`
	Dataset  string `koanf:"dataset"`
	Location string `koanf:"location"`
}

// MaterializeOptions carries the per-node context of a materialisation.
type MaterializeOptions struct {
	// Audit selects the audit form of the destination table.
	Audit bool
	Env   core.Environment
	// Deps maps dotted project references as they appear in the SQL to
	// their rendered warehouse identifiers.
	Deps map[string]string
	// Incremental switches to a keyed merge on Field/Values instead of a
	// full replace.
	Incremental bool
	Field       string
	Values      []string
}

// Warehouse is the capability set the executor needs from a vendor.
type Warehouse interface {
	Name() string

	// Prepare ensures the target namespace exists.
	Prepare(ctx context.Context, env core.Environment) error
	// Teardown drops the target namespace.
	Teardown(ctx context.Context, env core.Environment) error

	// RenderRef produces the warehouse-syntax identifier for a reference.
	RenderRef(ref core.TableRef, audit bool, env core.Environment) string

	// Materialize executes a script into its (audit) table and returns the
	// resulting row count.
	Materialize(ctx context.Context, script *core.Script, opts MaterializeOptions) (int64, error)
	// QueryRows runs a SELECT and returns up to limit rows.
	QueryRows(ctx context.Context, sql string, limit int) ([]map[string]any, error)
	// TableExists reports whether a table is physically present.
	TableExists(ctx context.Context, ref core.TableRef, audit bool, env core.Environment) (bool, error)
	// Promote atomically replaces the production table with its audit form.
	Promote(ctx context.Context, ref core.TableRef, env core.Environment) error
	// Drop removes a table. Missing tables are not an error.
	Drop(ctx context.Context, ref core.TableRef, audit bool, env core.Environment) error

	Close() error
}

// Factory builds a warehouse from its configuration.
type Factory func(cfg Config, logger *slog.Logger) (Warehouse, error)

var registry = map[string]Factory{}

// Register adds a warehouse factory. Vendor packages call it from init.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// New builds the configured warehouse.
func New(cfg Config, logger *slog.Logger) (Warehouse, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	factory, ok := registry[cfg.Type]
	if !ok {
		return nil, core.Configf("unknown warehouse %q (available: %s)",
			cfg.Type, strings.Join(List(), ", "))
	}
	return factory(cfg, logger)
}

// List returns the registered warehouse names, sorted.
func List() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RewriteRefs replaces dotted project references in a script's SQL with
// rendered warehouse identifiers. Longer references are replaced first so
// audit forms never get clobbered by their base table, and matches are
// whole-word so core.users does not rewrite inside core.users_archive.
func RewriteRefs(sql string, deps map[string]string) string {
	if len(deps) == 0 {
		return sql
	}
	keys := make([]string, 0, len(deps))
	for k := range deps {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		sql = replaceWord(sql, key, deps[key])
	}
	return sql
}

// replaceWord replaces occurrences of key not embedded in a larger
// identifier.
func replaceWord(sql, key, repl string) string {
	var sb strings.Builder
	for {
		i := strings.Index(sql, key)
		if i < 0 {
			sb.WriteString(sql)
			return sb.String()
		}
		before := byte(0)
		if i > 0 {
			before = sql[i-1]
		}
		after := byte(0)
		if i+len(key) < len(sql) {
			after = sql[i+len(key)]
		}
		if isWordByte(before) || before == '.' || isWordByte(after) || after == '.' {
			sb.WriteString(sql[:i+len(key)])
		} else {
			sb.WriteString(sql[:i])
			sb.WriteString(repl)
		}
		sql = sql[i+len(key):]
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// SplitStatements splits a multi-statement script on semicolons outside
// string literals and comments, preserving statement order.
func SplitStatements(sql string) []string {
	var stmts []string
	var cur strings.Builder
	inString := false
	inLineComment := false
	inBlockComment := false

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case inLineComment:
			if c == '\n' {
				inLineComment = false
			}
		case inBlockComment:
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				inBlockComment = false
				cur.WriteByte(c)
				i++
				c = '/'
			}
		case inString:
			if c == '\'' {
				inString = false
			}
		case c == '\'':
			inString = true
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			inLineComment = true
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			inBlockComment = true
		case c == ';':
			if stmt := strings.TrimSpace(cur.String()); stmt != "" {
				stmts = append(stmts, stmt)
			}
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	if stmt := strings.TrimSpace(cur.String()); stmt != "" {
		stmts = append(stmts, stmt)
	}
	return stmts
}

// quoteError annotates a vendor error with the offending reference.
func quoteError(ref core.TableRef, err error) error {
	if err == nil {
		return nil
	}
	return &core.MaterializationError{Ref: ref, Err: err}
}
