package lineage

import (
	"sort"
	"strings"

	"github.com/carbonfact/lea/pkg/core"
)

// ExtractRefs returns every table referenced in FROM or JOIN position,
// deduplicated and sorted. Names defined as CTEs in the same input are
// excluded, as are derived tables, UNNEST and table function calls.
func ExtractRefs(sql string) []core.TableRef {
	toks := Tokenize(sql)
	ctes := collectCTEs(toks)

	seen := make(map[string]core.TableRef)
	for i := 0; i < len(toks); i++ {
		if toks[i].Type != TOKEN_FROM && toks[i].Type != TOKEN_JOIN {
			continue
		}
		i = scanTableItems(toks, i+1, toks[i].Type == TOKEN_FROM, ctes, seen) - 1
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	refs := make([]core.TableRef, 0, len(keys))
	for _, k := range keys {
		refs = append(refs, seen[k])
	}
	return refs
}

// scanTableItems consumes the table items following a FROM or JOIN keyword
// starting at j, recording references into seen. FROM clauses may list
// several comma-separated items. Returns the position after the last
// consumed token.
func scanTableItems(toks []Token, j int, isFrom bool, ctes map[string]bool, seen map[string]core.TableRef) int {
	for {
		for j < len(toks) && toks[j].Type == TOKEN_LATERAL {
			j++
		}
		if j >= len(toks) {
			return j
		}
		// Derived table or UNNEST: the subquery's own FROM is scanned by
		// the outer loop.
		if toks[j].Type == TOKEN_LPAREN || toks[j].Type == TOKEN_UNNEST {
			return j
		}
		if toks[j].Type != TOKEN_IDENT {
			return j
		}

		parts := []string{toks[j].Literal}
		j++
		for j+1 < len(toks) && toks[j].Type == TOKEN_DOT && toks[j+1].Type == TOKEN_IDENT {
			parts = append(parts, toks[j+1].Literal)
			j += 2
		}

		switch {
		case j < len(toks) && toks[j].Type == TOKEN_LPAREN:
			// Table function call (read_csv_auto, generate_series, ...).
		case len(parts) == 1 && ctes[strings.ToLower(parts[0])]:
			// CTE reference, not a dependency.
		default:
			if ref, err := core.ParseRef(strings.Join(parts, ".")); err == nil {
				seen[ref.Key()] = ref
			}
		}

		// Optional alias.
		if j < len(toks) && toks[j].Type == TOKEN_AS {
			j++
		}
		if j < len(toks) && toks[j].Type == TOKEN_IDENT {
			j++
		}

		if isFrom && j < len(toks) && toks[j].Type == TOKEN_COMMA {
			j++
			continue
		}
		return j
	}
}

// collectCTEs gathers names bound by "name AS (" sequences. In the grammar
// subset we care about, only WITH clause entries take that shape.
func collectCTEs(toks []Token) map[string]bool {
	ctes := make(map[string]bool)
	for i := 0; i+2 < len(toks); i++ {
		if toks[i].Type == TOKEN_IDENT &&
			toks[i+1].Type == TOKEN_AS &&
			toks[i+2].Type == TOKEN_LPAREN {
			ctes[strings.ToLower(toks[i].Literal)] = true
		}
	}
	return ctes
}
