package warehouse

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonfact/lea/pkg/core"
)

func newTestBigQuery(t *testing.T) *BigQuery {
	t.Helper()
	b, err := newBigQuery(Config{Project: "jaffle", Dataset: "analytics"}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return b
}

func TestBigQueryRenderRef(t *testing.T) {
	b := newTestBigQuery(t)
	ref := core.NewRef("users", "core", "north")

	t.Run("dev suffixes the dataset", func(t *testing.T) {
		got := b.RenderRef(ref, false, core.DevEnvironment("max"))
		assert.Equal(t, "jaffle.analytics_max.core__north__users", got)
	})

	t.Run("audit form", func(t *testing.T) {
		got := b.RenderRef(ref, true, core.DevEnvironment("max"))
		assert.Equal(t, "jaffle.analytics_max.core__north__users___audit", got)
	})

	t.Run("production has no suffix", func(t *testing.T) {
		got := b.RenderRef(ref, false, core.ProdEnvironment())
		assert.Equal(t, "jaffle.analytics.core__north__users", got)
	})
}

func TestBigQueryClustering(t *testing.T) {
	b := newTestBigQuery(t)
	script := &core.Script{
		Ref: core.NewRef("events", "core"),
		Hints: []core.FieldHint{
			{Column: "account_id", Hint: core.HintClusteringField},
			{Column: "dt", Hint: core.HintClusteringField},
		},
	}

	ddl, err := b.buildCreate(context.Background(),
		"jaffle.analytics.core__events___audit", script, "SELECT 1 AS account_id", MaterializeOptions{})
	require.NoError(t, err)
	assert.Contains(t, ddl, "CLUSTER BY account_id, dt")
	assert.Contains(t, ddl, "CREATE OR REPLACE TABLE `jaffle.analytics.core__events___audit`")
}

func TestBigQueryConfigValidation(t *testing.T) {
	_, err := newBigQuery(Config{Project: "jaffle"}, slog.New(slog.DiscardHandler))
	var cfgErr *core.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
