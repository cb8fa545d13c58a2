package parser

import (
	"fmt"
	"strings"

	"github.com/carbonfact/lea/pkg/core"
)

// SynthesizeTests expands a script's inline assertions into assertion test
// scripts. Each test queries the parent's audit table for violating rows
// and depends on the parent alone; it passes when zero rows come back.
func SynthesizeTests(parent *core.Script) []*core.Script {
	tests := make([]*core.Script, 0, len(parent.Assertions))
	for _, a := range parent.Assertions {
		tests = append(tests, &core.Script{
			Ref:          AssertionTestRef(parent.Ref, a),
			Kind:         core.KindAssertionTest,
			Path:         parent.Path,
			SQL:          assertionSQL(parent.Ref.Audit(), a),
			Dependencies: []core.TableRef{parent.Ref},
			ModTime:      parent.ModTime,
		})
	}
	return tests
}

// AssertionTestRef names a synthesised test:
// tests.<schema_joined>__<table>__<column>___<kind>[___by_<cols>].
func AssertionTestRef(parent core.TableRef, a core.Assertion) core.TableRef {
	name := strings.Join(parent.Schema, "__") + "__" + parent.Name +
		"__" + a.Column + "___" + a.Kind.String()
	if a.Kind == core.AssertUniqueBy {
		name += "___by_" + strings.Join(a.By, "_")
	}
	return core.TableRef{Schema: []string{TestSchema}, Name: name}
}

func assertionSQL(audit core.TableRef, a core.Assertion) string {
	table := audit.String()
	col := a.Column
	switch a.Kind {
	case core.AssertNoNulls:
		return fmt.Sprintf("SELECT %s\nFROM %s\nWHERE %s IS NULL", col, table, col)
	case core.AssertUnique:
		return fmt.Sprintf(
			"SELECT %s, COUNT(*) AS occurrences\nFROM %s\nWHERE %s IS NOT NULL\nGROUP BY %s\nHAVING COUNT(*) > 1",
			col, table, col, col)
	case core.AssertUniqueBy:
		by := strings.Join(a.By, ", ")
		return fmt.Sprintf(
			"SELECT %s, %s, COUNT(*) AS occurrences\nFROM %s\nGROUP BY %s, %s\nHAVING COUNT(*) > 1",
			by, col, table, by, col)
	case core.AssertSet:
		return fmt.Sprintf(
			"SELECT %s\nFROM %s\nWHERE %s IS NOT NULL\n  AND %s NOT IN (%s)\nGROUP BY %s",
			col, table, col, col, strings.Join(a.Values, ", "), col)
	default:
		return ""
	}
}
