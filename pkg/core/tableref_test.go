package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		in     string
		schema []string
		name   string
	}{
		{"core.users", []string{"core"}, "users"},
		{"core.north__users", []string{"core", "north"}, "users"},
		{"core.north__east__users", []string{"core", "north", "east"}, "users"},
		{"staging.payments", []string{"staging"}, "payments"},
		{"project.core.users", []string{"core"}, "users"},
		{"core.users___audit", []string{"core"}, "users___audit"},
		{"core.north__users___audit", []string{"core", "north"}, "users___audit"},
		{"standalone", nil, "standalone"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref, err := ParseRef(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.schema, ref.Schema)
			assert.Equal(t, tt.name, ref.Name)
		})
	}

	_, err := ParseRef("  ")
	assert.Error(t, err)
}

func TestRefRoundTrip(t *testing.T) {
	refs := []TableRef{
		NewRef("users", "core"),
		NewRef("users", "core", "north"),
		NewRef("orders", "staging"),
		NewRef("core__users__email___no_nulls", "tests"),
	}
	for _, ref := range refs {
		t.Run(ref.String(), func(t *testing.T) {
			back, err := ParseRef(ref.String())
			require.NoError(t, err)
			assert.True(t, ref.Equal(back), "got %#v", back)
		})
	}
}

func TestAuditForm(t *testing.T) {
	ref := NewRef("users", "core")
	audit := ref.Audit()

	assert.Equal(t, "core.users___audit", audit.String())
	assert.True(t, audit.IsAudit())
	assert.False(t, ref.IsAudit())
	assert.True(t, ref.Equal(audit.WithoutAudit()))

	// Audit of an audit form is a no-op.
	assert.True(t, audit.Equal(audit.Audit()))

	// The audit suffix round-trips through parsing without being split
	// as a sub-schema.
	back, err := ParseRef(audit.String())
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, audit.Equal(back))
}

func TestInSchema(t *testing.T) {
	ref := NewRef("users", "core", "north")

	assert.True(t, ref.InSchema("core"))
	assert.True(t, ref.InSchema("core", "north"))
	assert.False(t, ref.InSchema("core", "south"))
	assert.False(t, ref.InSchema("core", "north", "east"))
	assert.False(t, ref.InSchema("staging"))
}

func TestEnvironmentSuffix(t *testing.T) {
	assert.Equal(t, "_max", DevEnvironment("max").Suffix())
	assert.Equal(t, "", DevEnvironment("").Suffix())
	assert.Equal(t, "", ProdEnvironment().Suffix())
}
