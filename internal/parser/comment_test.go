package parser

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonfact/lea/pkg/core"
)

func extract(t *testing.T, sql string) annotations {
	t.Helper()
	ann, err := extractAnnotations("core/users.sql", sql, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return ann
}

func TestAnnotationsAttachToNextColumn(t *testing.T) {
	ann := extract(t, `
SELECT
    -- #UNIQUE
    -- #NO_NULLS
    user_id,
    name,
    -- #NO_NULLS
    email
FROM staging.users
`)
	require.Len(t, ann.assertions, 3)
	assert.Equal(t, core.Assertion{Kind: core.AssertUnique, Column: "user_id"}, ann.assertions[0])
	assert.Equal(t, core.Assertion{Kind: core.AssertNoNulls, Column: "user_id"}, ann.assertions[1])
	assert.Equal(t, core.Assertion{Kind: core.AssertNoNulls, Column: "email"}, ann.assertions[2])
}

func TestAnnotationTrailingComment(t *testing.T) {
	ann := extract(t, `
SELECT
    id,
    blood_type -- #SET{'A', 'B', 'AB', 'O'}
FROM staging.users
`)
	require.Len(t, ann.assertions, 1)
	assert.Equal(t, core.AssertSet, ann.assertions[0].Kind)
	assert.Equal(t, "blood_type", ann.assertions[0].Column)
	assert.Equal(t, []string{"'A'", "'B'", "'AB'", "'O'"}, ann.assertions[0].Values)
}

func TestAnnotationUniqueBy(t *testing.T) {
	ann := extract(t, `
SELECT
    -- #UNIQUE_BY(country, city)
    street,
    country,
    city
FROM staging.addresses
`)
	require.Len(t, ann.assertions, 1)
	assert.Equal(t, core.Assertion{
		Kind:   core.AssertUniqueBy,
		Column: "street",
		By:     []string{"country", "city"},
	}, ann.assertions[0])
}

func TestAnnotationIncremental(t *testing.T) {
	ann := extract(t, `
SELECT
    -- #INCREMENTAL
    event_date,
    amount
FROM staging.events
`)
	assert.True(t, ann.incremental)

	// Legacy synonym.
	ann = extract(t, "-- @INCREMENTAL\nSELECT d FROM staging.events")
	assert.True(t, ann.incremental)
}

func TestAnnotationLegacyUnique(t *testing.T) {
	ann := extract(t, `
SELECT
    -- @UNIQUE
    id
FROM staging.users
`)
	require.Len(t, ann.assertions, 1)
	assert.Equal(t, core.AssertUnique, ann.assertions[0].Kind)
	assert.Equal(t, "id", ann.assertions[0].Column)
}

func TestAnnotationClusteringHint(t *testing.T) {
	ann := extract(t, `
SELECT
    -- #CLUSTERING_FIELD
    account_id,
    amount
FROM staging.lines
`)
	assert.Empty(t, ann.assertions)
	require.Len(t, ann.hints, 1)
	assert.Equal(t, core.FieldHint{Column: "account_id", Hint: core.HintClusteringField}, ann.hints[0])
}

func TestAnnotationMalformedSet(t *testing.T) {
	_, err := extractAnnotations("core/users.sql", `
SELECT
    -- #SET{'A', 'B'
    blood_type
FROM staging.users
`, slog.New(slog.DiscardHandler))

	var perr *core.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "core/users.sql", perr.Path)
	assert.Equal(t, 3, perr.Line)
}

func TestAnnotationUnknownKeywordIgnored(t *testing.T) {
	ann := extract(t, `
SELECT
    -- #FROBNICATE
    -- #NO_NULLS
    id
FROM staging.users
`)
	require.Len(t, ann.assertions, 1)
	assert.Equal(t, core.AssertNoNulls, ann.assertions[0].Kind)
}

func TestAnnotationIgnoredInsideSubquery(t *testing.T) {
	ann := extract(t, `
SELECT
    id
FROM (
    SELECT
        -- #NO_NULLS
        id
    FROM staging.users
) s
`)
	assert.Empty(t, ann.assertions)
}

func TestAnnotationAfterMultiLineBlockComment(t *testing.T) {
	// The block comment spans lines and contains text that would corrupt
	// the SELECT-list tracking if read as code.
	ann := extract(t, `
SELECT
    /* disabled for now (
       SELECT legacy_id FROM archive.users
    */
    -- #UNIQUE
    id,
    name
FROM staging.users
`)
	require.Len(t, ann.assertions, 1)
	assert.Equal(t, core.Assertion{Kind: core.AssertUnique, Column: "id"}, ann.assertions[0])
}

func TestAnnotationNotInStringLiteral(t *testing.T) {
	ann := extract(t, `
SELECT
    '-- #NO_NULLS' AS fake,
    id
FROM staging.users
`)
	assert.Empty(t, ann.assertions)
}

func TestAnnotationBlankLineBetweenCommentAndColumn(t *testing.T) {
	ann := extract(t, `
SELECT
    -- #UNIQUE

    id
FROM staging.users
`)
	require.Len(t, ann.assertions, 1)
	assert.Equal(t, "id", ann.assertions[0].Column)
}
