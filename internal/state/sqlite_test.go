package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), ".lea", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	runID, err := store.StartRun(ctx, "dev")
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	require.NoError(t, store.RecordScriptRun(ctx, ScriptRun{
		RunID:    runID,
		TableRef: "core.users",
		Status:   "DONE",
		Rows:     42,
		Duration: 1500 * time.Millisecond,
	}))
	require.NoError(t, store.FinishRun(ctx, runID, "success", ""))
}

func TestAuditCheckpoints(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, ok, err := store.AuditTime(ctx, "core.users", "dev")
	require.NoError(t, err)
	assert.False(t, ok, "no checkpoint yet")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordAudit(ctx, "core.users", "dev", at))

	got, ok, err := store.AuditTime(ctx, "core.users", "dev")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(at), "got %v want %v", got, at)

	// Upsert moves the checkpoint forward.
	later := at.Add(time.Hour)
	require.NoError(t, store.RecordAudit(ctx, "core.users", "dev", later))
	got, _, err = store.AuditTime(ctx, "core.users", "dev")
	require.NoError(t, err)
	assert.True(t, got.Equal(later))

	// Environments are independent.
	_, ok, err = store.AuditTime(ctx, "core.users", "prod")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearAudits(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	require.NoError(t, store.RecordAudit(ctx, "core.users", "dev", at))
	require.NoError(t, store.RecordAudit(ctx, "core.orders", "dev", at))
	require.NoError(t, store.RecordAudit(ctx, "core.users", "prod", at))

	require.NoError(t, store.ClearAudits(ctx, []string{"core.users"}, "dev"))

	_, ok, err := store.AuditTime(ctx, "core.users", "dev")
	require.NoError(t, err)
	assert.False(t, ok, "dev checkpoint cleared")

	_, ok, err = store.AuditTime(ctx, "core.orders", "dev")
	require.NoError(t, err)
	assert.True(t, ok, "other tables untouched")

	_, ok, err = store.AuditTime(ctx, "core.users", "prod")
	require.NoError(t, err)
	assert.True(t, ok, "other environments untouched")
}
