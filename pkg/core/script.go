package core

import "time"

// ScriptKind classifies a script.
type ScriptKind int

const (
	// KindRegular is a script that materialises a table.
	KindRegular ScriptKind = iota
	// KindSingularTest is a hand-written test under the tests/ schema;
	// it passes when its query returns zero rows.
	KindSingularTest
	// KindAssertionTest is synthesised from an inline assertion annotation.
	KindAssertionTest
)

func (k ScriptKind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindSingularTest:
		return "singular_test"
	case KindAssertionTest:
		return "assertion_test"
	default:
		return "unknown"
	}
}

// AssertionKind identifies an inline assertion annotation.
type AssertionKind int

const (
	// AssertNoNulls checks a column has no NULL values.
	AssertNoNulls AssertionKind = iota
	// AssertUnique checks a column has no duplicate values.
	AssertUnique
	// AssertUniqueBy checks a column is unique within groups.
	AssertUniqueBy
	// AssertSet checks a column only takes values from a fixed set.
	AssertSet
)

func (k AssertionKind) String() string {
	switch k {
	case AssertNoNulls:
		return "no_nulls"
	case AssertUnique:
		return "unique"
	case AssertUniqueBy:
		return "unique_by"
	case AssertSet:
		return "set"
	default:
		return "unknown"
	}
}

// Assertion is an inline annotation attached to a SELECT column.
type Assertion struct {
	Kind   AssertionKind
	Column string
	// By holds the grouping columns of AssertUniqueBy.
	By []string
	// Values holds the allowed literals of AssertSet, verbatim (quotes kept).
	Values []string
}

// FieldHint is a column-attached warehouse hint, such as a clustering field.
// The executor passes hints through untouched; vendor drivers interpret them.
type FieldHint struct {
	Column string
	Hint   string
}

// HintClusteringField marks a column as a clustering key (BigQuery).
const HintClusteringField = "clustering_field"

// Script is one SQL file, post template rendering. Immutable after parse.
type Script struct {
	Ref  TableRef
	Kind ScriptKind
	// Path is the source file path relative to the scripts root. Synthesised
	// assertion tests inherit their parent's path.
	Path string
	SQL  string
	// Dependencies are references produced by other scripts in the project.
	Dependencies []TableRef
	// ExternalDependencies are referenced tables no project script produces.
	// Informational; they create no graph edges.
	ExternalDependencies []TableRef
	Assertions           []Assertion
	Hints                []FieldHint
	// ModTime is the source mtime; for templated scripts, the max of the
	// template file and every YAML file loaded during rendering.
	ModTime     time.Time
	Incremental bool
}

// IsTest reports whether the script is a test of either kind.
func (s *Script) IsTest() bool {
	return s.Kind == KindSingularTest || s.Kind == KindAssertionTest
}
