package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/carbonfact/lea/pkg/core"
)

func init() {
	Register("bigquery", func(cfg Config, logger *slog.Logger) (Warehouse, error) {
		return newBigQuery(cfg, logger)
	})
}

// BigQuery materialises into a single dataset, flattening schemas into the
// table name with double underscores. Development environments get their own
// dataset, suffixed with the username.
type BigQuery struct {
	cfg    Config
	logger *slog.Logger
	client *bigquery.Client
}

func newBigQuery(cfg Config, logger *slog.Logger) (*BigQuery, error) {
	if cfg.Project == "" || cfg.Dataset == "" {
		return nil, core.Configf("bigquery warehouse needs a project and a dataset")
	}
	return &BigQuery{cfg: cfg, logger: logger}, nil
}

// Name returns the registered vendor name.
func (b *BigQuery) Name() string { return "bigquery" }

func (b *BigQuery) ensureClient(ctx context.Context) (*bigquery.Client, error) {
	if b.client != nil {
		return b.client, nil
	}
	client, err := bigquery.NewClient(ctx, b.cfg.Project)
	if err != nil {
		return nil, fmt.Errorf("connecting to bigquery: %w", err)
	}
	if b.cfg.Location != "" {
		client.Location = b.cfg.Location
	}
	b.client = client
	return client, nil
}

// Close releases the client.
func (b *BigQuery) Close() error {
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

func (b *BigQuery) datasetID(env core.Environment) string {
	return b.cfg.Dataset + env.Suffix()
}

// Prepare creates the environment's dataset if missing.
func (b *BigQuery) Prepare(ctx context.Context, env core.Environment) error {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return err
	}
	ds := client.Dataset(b.datasetID(env))
	if _, err := ds.Metadata(ctx); err == nil {
		return nil
	} else if !isNotFound(err) {
		return fmt.Errorf("inspecting dataset %s: %w", b.datasetID(env), err)
	}
	meta := &bigquery.DatasetMetadata{Location: b.cfg.Location}
	if err := ds.Create(ctx, meta); err != nil {
		return fmt.Errorf("creating dataset %s: %w", b.datasetID(env), err)
	}
	b.logger.Info("created dataset", "dataset", b.datasetID(env))
	return nil
}

// Teardown deletes the environment's dataset and everything in it.
func (b *BigQuery) Teardown(ctx context.Context, env core.Environment) error {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return err
	}
	err = client.Dataset(b.datasetID(env)).DeleteWithContents(ctx)
	if isNotFound(err) {
		return nil
	}
	return err
}

// RenderRef renders `project.dataset.schema__sub__table[___audit]` with the
// dataset carrying the environment suffix.
func (b *BigQuery) RenderRef(ref core.TableRef, audit bool, env core.Environment) string {
	if audit {
		ref = ref.Audit()
	}
	parts := append(append([]string{}, ref.Schema...), ref.Name)
	return fmt.Sprintf("%s.%s.%s", b.cfg.Project, b.datasetID(env), strings.Join(parts, "__"))
}

// Materialize runs the script as one multi-statement job, wrapping the final
// SELECT in CREATE OR REPLACE TABLE.
func (b *BigQuery) Materialize(ctx context.Context, script *core.Script, opts MaterializeOptions) (int64, error) {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return 0, err
	}

	target := b.RenderRef(script.Ref, opts.Audit, opts.Env)
	stmts := SplitStatements(RewriteRefs(script.SQL, opts.Deps))
	if len(stmts) == 0 {
		return 0, quoteError(script.Ref, fmt.Errorf("script is empty"))
	}
	last, err := b.buildCreate(ctx, target, script, stmts[len(stmts)-1], opts)
	if err != nil {
		return 0, err
	}
	stmts[len(stmts)-1] = last

	if err := b.run(ctx, client, strings.Join(stmts, ";\n")); err != nil {
		return 0, quoteError(script.Ref, err)
	}

	rows, err := b.QueryRows(ctx, fmt.Sprintf("SELECT COUNT(*) AS n FROM `%s`", target), 1)
	if err != nil {
		return 0, quoteError(script.Ref, err)
	}
	if len(rows) == 1 {
		if n, ok := rows[0]["n"].(int64); ok {
			return n, nil
		}
	}
	return 0, nil
}

func (b *BigQuery) buildCreate(ctx context.Context, target string, script *core.Script, query string, opts MaterializeOptions) (string, error) {
	cluster := ""
	if fields := clusteringFields(script); len(fields) > 0 {
		cluster = "\nCLUSTER BY " + strings.Join(fields, ", ")
	}

	if !opts.Incremental || !script.Incremental || opts.Field == "" || len(opts.Values) == 0 {
		return fmt.Sprintf("CREATE OR REPLACE TABLE `%s`%s AS (\n%s\n)", target, cluster, query), nil
	}

	prod := b.RenderRef(script.Ref, false, opts.Env)
	exists, err := b.TableExists(ctx, script.Ref, false, opts.Env)
	if err != nil {
		return "", quoteError(script.Ref, err)
	}
	values := strings.Join(opts.Values, ", ")
	keep := ""
	if exists {
		keep = fmt.Sprintf("\nUNION ALL\nSELECT * FROM `%s` WHERE %s NOT IN (%s)", prod, opts.Field, values)
	}
	return fmt.Sprintf(
		"CREATE OR REPLACE TABLE `%s`%s AS (\nSELECT * FROM (\n%s\n) WHERE %s IN (%s)%s\n)",
		target, cluster, query, opts.Field, values, keep), nil
}

func clusteringFields(script *core.Script) []string {
	var fields []string
	for _, hint := range script.Hints {
		if hint.Hint == core.HintClusteringField {
			fields = append(fields, hint.Column)
		}
	}
	return fields
}

func (b *BigQuery) run(ctx context.Context, client *bigquery.Client, sql string) error {
	q := client.Query(sql)
	job, err := q.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

// QueryRows runs a SELECT and returns up to limit rows as maps.
func (b *BigQuery) QueryRows(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	it, err := client.Query(query).Read(ctx)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for limit <= 0 || len(out) < limit {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		m := make(map[string]any, len(row))
		for k, v := range row {
			m[k] = v
		}
		out = append(out, m)
	}
	return out, nil
}

// TableExists probes the table's metadata.
func (b *BigQuery) TableExists(ctx context.Context, ref core.TableRef, audit bool, env core.Environment) (bool, error) {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return false, err
	}
	_, err = b.table(client, ref, audit, env).Metadata(ctx)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Promote copies the audit table over the production table with a truncating
// copy job, the closest BigQuery comes to an atomic swap.
func (b *BigQuery) Promote(ctx context.Context, ref core.TableRef, env core.Environment) error {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return err
	}
	src := b.table(client, ref, true, env)
	dst := b.table(client, ref, false, env)

	copier := dst.CopierFrom(src)
	copier.WriteDisposition = bigquery.WriteTruncate
	job, err := copier.Run(ctx)
	if err != nil {
		return quoteError(ref, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return quoteError(ref, err)
	}
	return quoteError(ref, status.Err())
}

// Drop removes a table, tolerating absence.
func (b *BigQuery) Drop(ctx context.Context, ref core.TableRef, audit bool, env core.Environment) error {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return err
	}
	err = b.table(client, ref, audit, env).Delete(ctx)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (b *BigQuery) table(client *bigquery.Client, ref core.TableRef, audit bool, env core.Environment) *bigquery.Table {
	if audit {
		ref = ref.Audit()
	}
	parts := append(append([]string{}, ref.Schema...), ref.Name)
	return client.Dataset(b.datasetID(env)).Table(strings.Join(parts, "__"))
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}

var _ Warehouse = (*BigQuery)(nil)
