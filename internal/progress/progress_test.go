package progress

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonfact/lea/pkg/core"
)

func TestJSONSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf)

	sink.Emit(Event{
		Ref:      core.NewRef("users", "core"),
		Phase:    PhaseMaterialize,
		Status:   core.StatusDone,
		Rows:     42,
		Duration: 1500 * time.Millisecond,
	})
	sink.Finish(Summary{Environment: "dev", Done: 1, Promoted: true, Duration: 2 * time.Second})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, "event", ev["kind"])
	assert.Equal(t, "core.users", ev["table"])
	assert.Equal(t, "materialize", ev["phase"])
	assert.Equal(t, "DONE", ev["status"])
	assert.Equal(t, float64(42), ev["rows"])
	assert.Equal(t, float64(1500), ev["duration_ms"])

	var sum map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &sum))
	assert.Equal(t, "summary", sum["kind"])
	assert.Equal(t, true, sum["promoted"])
}

func TestTerminalSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewTerminal(&buf)

	sink.Emit(Event{
		Ref:      core.NewRef("users", "core"),
		Phase:    PhaseMaterialize,
		Status:   core.StatusDone,
		Rows:     42,
		Duration: 120 * time.Millisecond,
	})
	sink.Emit(Event{
		Ref:    core.NewRef("orders", "core"),
		Phase:  PhaseTest,
		Status: core.StatusErrored,
		Err:    &core.AssertionFailure{Ref: core.NewRef("orders", "core")},
	})
	sink.Finish(Summary{Environment: "dev", Done: 1, Errored: 1, Duration: time.Second})

	out := buf.String()
	assert.Contains(t, out, "core.users")
	assert.Contains(t, out, "42 rows")
	assert.Contains(t, out, "ERRORED")
	assert.Contains(t, out, "dev")
}
