package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonfact/lea/pkg/core"
)

func writeScripts(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func byRef(scripts []*core.Script) map[string]*core.Script {
	out := make(map[string]*core.Script, len(scripts))
	for _, s := range scripts {
		out[s.Ref.Key()] = s
	}
	return out
}

func TestParseProject(t *testing.T) {
	root := writeScripts(t, map[string]string{
		"staging/customers.sql": "SELECT id, name FROM raw.customers",
		"staging/orders.sql":    "SELECT id, customer_id FROM raw.orders",
		"core/customers.sql": `
SELECT
    -- #UNIQUE
    c.id,
    c.name,
    COUNT(o.id) AS order_count
FROM staging.customers c
LEFT JOIN staging.orders o ON o.customer_id = c.id
GROUP BY c.id, c.name
`,
		"tests/no_orphan_orders.sql": `
SELECT o.id
FROM staging.orders o
LEFT JOIN staging.customers c ON c.id = o.customer_id
WHERE c.id IS NULL
`,
	})

	scripts, err := New(root, nil).Parse()
	require.NoError(t, err)

	m := byRef(scripts)
	require.Len(t, scripts, 5) // 4 files + 1 synthesised test

	staging := m["staging.customers"]
	require.NotNil(t, staging)
	assert.Equal(t, core.KindRegular, staging.Kind)
	assert.Empty(t, staging.Dependencies)
	require.Len(t, staging.ExternalDependencies, 1)
	assert.Equal(t, "raw.customers", staging.ExternalDependencies[0].String())

	coreCustomers := m["core.customers"]
	require.NotNil(t, coreCustomers)
	var deps []string
	for _, d := range coreCustomers.Dependencies {
		deps = append(deps, d.String())
	}
	assert.ElementsMatch(t, []string{"staging.customers", "staging.orders"}, deps)

	singular := m["tests.no_orphan_orders"]
	require.NotNil(t, singular)
	assert.Equal(t, core.KindSingularTest, singular.Kind)
	assert.Len(t, singular.Dependencies, 2)

	synth := m["tests.core__customers__id___unique"]
	require.NotNil(t, synth)
	assert.Equal(t, core.KindAssertionTest, synth.Kind)
	require.Len(t, synth.Dependencies, 1)
	assert.Equal(t, "core.customers", synth.Dependencies[0].String())
	assert.Contains(t, synth.SQL, "core.customers___audit")
}

func TestParseRejectsScriptAtRoot(t *testing.T) {
	root := writeScripts(t, map[string]string{
		"stray.sql": "SELECT 1",
	})
	_, err := New(root, nil).Parse()

	var perr *core.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Msg, "schema directory")
}

func TestParseRejectsDuplicateRef(t *testing.T) {
	root := writeScripts(t, map[string]string{
		"core/users.sql":       "SELECT 1",
		"core/users.sql.jinja": "SELECT 2",
	})
	_, err := New(root, nil).Parse()

	var perr *core.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Msg, "duplicate")
}

func TestParseMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"), nil).Parse()

	var cerr *core.ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestParseJinjaScript(t *testing.T) {
	root := writeScripts(t, map[string]string{
		"staging/events.sql": "SELECT id FROM raw.events",
		"core/event_counts.sql.jinja": `{% set kinds = ['click', 'view'] %}
SELECT
{% for k in kinds %}
    COUNT(CASE WHEN kind = '{{ k }}' THEN 1 END) AS {{ k }}_count,
{% endfor %}
    COUNT(*) AS total
FROM staging.events
`,
	})

	scripts, err := New(root, nil).Parse()
	require.NoError(t, err)

	s := byRef(scripts)["core.event_counts"]
	require.NotNil(t, s)
	assert.Contains(t, s.SQL, "click_count")
	assert.Contains(t, s.SQL, "view_count")
	assert.NotContains(t, s.SQL, "{%")
	require.Len(t, s.Dependencies, 1)
	assert.Equal(t, "staging.events", s.Dependencies[0].String())
}

func TestParseJinjaMtimeIncludesYAML(t *testing.T) {
	root := writeScripts(t, map[string]string{
		"staging/sales.sql":       "SELECT country, amount FROM raw.sales",
		"core/sales_eu.sql.jinja": "SELECT * FROM staging.sales WHERE country IN ({% for c in load_yaml('countries.yaml') %}'{{ c }}',{% endfor %} '')",
		"countries.yaml":          "- fr\n- de\n",
		"core/sales_all.sql":      "SELECT * FROM staging.sales",
	})

	// Make the YAML file strictly newer than the template.
	yamlPath := filepath.Join(root, "countries.yaml")
	scriptPath := filepath.Join(root, "core", "sales_eu.sql.jinja")
	scriptInfo, err := os.Stat(scriptPath)
	require.NoError(t, err)
	newer := scriptInfo.ModTime().Add(1e9)
	require.NoError(t, os.Chtimes(yamlPath, newer, newer))

	scripts, perr := New(root, nil).Parse()
	require.NoError(t, perr)

	s := byRef(scripts)["core.sales_eu"]
	require.NotNil(t, s)
	assert.False(t, s.ModTime.Before(newer), "mtime should include loaded YAML")
}

func TestParseSkipsHiddenDirectories(t *testing.T) {
	root := writeScripts(t, map[string]string{
		"core/users.sql":     "SELECT 1",
		".cache/ignored.sql": "SELECT 2",
		"_tmp/ignored.sql":   "SELECT 3",
	})
	scripts, err := New(root, nil).Parse()
	require.NoError(t, err)
	assert.Len(t, scripts, 1)
}

func TestParseIgnoresAssertionsOnTests(t *testing.T) {
	root := writeScripts(t, map[string]string{
		"core/users.sql": "SELECT id FROM raw.users",
		"tests/check.sql": `
SELECT
    -- #UNIQUE
    id
FROM core.users
WHERE id IS NULL
`,
	})
	scripts, err := New(root, nil).Parse()
	require.NoError(t, err)

	for _, s := range scripts {
		assert.NotEqual(t, "tests.tests__check__id___unique", s.Ref.Key())
	}
	assert.Empty(t, byRef(scripts)["tests.check"].Assertions)
}
