package lineage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func refStrings(sql string) []string {
	refs := ExtractRefs(sql)
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}

func TestExtractRefsSimple(t *testing.T) {
	sql := `SELECT id, name FROM staging.customers`
	assert.Equal(t, []string{"staging.customers"}, refStrings(sql))
}

func TestExtractRefsJoins(t *testing.T) {
	sql := `
		SELECT o.id, c.name, p.amount
		FROM staging.orders o
		LEFT JOIN staging.customers AS c ON c.id = o.customer_id
		INNER JOIN staging.payments p USING (order_id)
	`
	assert.Equal(t, []string{
		"staging.customers",
		"staging.orders",
		"staging.payments",
	}, refStrings(sql))
}

func TestExtractRefsCommaList(t *testing.T) {
	sql := `SELECT * FROM core.a, core.b b, core.c AS c WHERE a.id = b.id`
	assert.Equal(t, []string{"core.a", "core.b", "core.c"}, refStrings(sql))
}

func TestExtractRefsCTE(t *testing.T) {
	sql := `
		WITH recent AS (
			SELECT * FROM staging.orders WHERE created_at > '2024-01-01'
		),
		totals AS (
			SELECT customer_id, SUM(amount) AS total FROM recent GROUP BY customer_id
		)
		SELECT c.name, t.total
		FROM core.customers c
		JOIN totals t ON t.customer_id = c.id
	`
	assert.Equal(t, []string{"core.customers", "staging.orders"}, refStrings(sql))
}

func TestExtractRefsDerivedTable(t *testing.T) {
	sql := `
		SELECT * FROM (
			SELECT id FROM staging.orders
		) sub
		JOIN staging.customers ON customers.id = sub.id
	`
	assert.Equal(t, []string{"staging.customers", "staging.orders"}, refStrings(sql))
}

func TestExtractRefsSetOperations(t *testing.T) {
	sql := `
		SELECT id FROM core.north__users
		UNION ALL
		SELECT id FROM core.south__users
		EXCEPT
		SELECT id FROM core.blocked
	`
	assert.Equal(t, []string{
		"core.blocked",
		"core.north__users",
		"core.south__users",
	}, refStrings(sql))
}

func TestExtractRefsSubSchema(t *testing.T) {
	refs := ExtractRefs(`SELECT * FROM core.north__users`)
	if assert.Len(t, refs, 1) {
		assert.Equal(t, []string{"core", "north"}, refs[0].Schema)
		assert.Equal(t, "users", refs[0].Name)
	}
}

func TestExtractRefsTableFunction(t *testing.T) {
	sql := `SELECT * FROM read_csv_auto('data.csv') JOIN staging.orders USING (id)`
	assert.Equal(t, []string{"staging.orders"}, refStrings(sql))
}

func TestExtractRefsUnnest(t *testing.T) {
	sql := `SELECT * FROM core.events e, UNNEST(e.tags) AS tag`
	assert.Equal(t, []string{"core.events"}, refStrings(sql))
}

func TestExtractRefsBacktickedBigQuery(t *testing.T) {
	sql := "SELECT * FROM `warehouse.analytics.core__users`"
	refs := ExtractRefs(sql)
	if assert.Len(t, refs, 1) {
		assert.Equal(t, "analytics.core__users", refs[0].String())
	}
}

func TestExtractRefsCommentsIgnored(t *testing.T) {
	sql := `
		-- FROM commented.out
		/* JOIN another.one */
		SELECT 'FROM string.literal' AS s FROM core.users
	`
	assert.Equal(t, []string{"core.users"}, refStrings(sql))
}

func TestExtractRefsAuditSuffix(t *testing.T) {
	refs := ExtractRefs(`SELECT email FROM core.users___audit WHERE email IS NULL`)
	if assert.Len(t, refs, 1) {
		assert.True(t, refs[0].IsAudit())
		assert.Equal(t, "core.users", refs[0].WithoutAudit().String())
	}
}

func TestExtractRefsMultiStatement(t *testing.T) {
	sql := `
		DECLARE threshold INT64 DEFAULT 10;
		SELECT * FROM core.orders WHERE amount > threshold;
	`
	assert.Equal(t, []string{"core.orders"}, refStrings(sql))
}

func TestLexerQuotedForms(t *testing.T) {
	toks := Tokenize(`SELECT "col""name", 'it''s', 1.5e-3 FROM "my schema".t`)

	var idents, strs, nums []string
	for _, tok := range toks {
		switch tok.Type {
		case TOKEN_IDENT:
			idents = append(idents, tok.Literal)
		case TOKEN_STRING:
			strs = append(strs, tok.Literal)
		case TOKEN_NUMBER:
			nums = append(nums, tok.Literal)
		}
	}
	assert.Contains(t, idents, `col"name`)
	assert.Contains(t, idents, "my schema")
	assert.Equal(t, []string{"it's"}, strs)
	assert.Equal(t, []string{"1.5e-3"}, nums)
}
