package dag

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/carbonfact/lea/pkg/core"
)

// A selection expression is a union of atoms. Each atom optionally carries
// a '+' prefix (pull transitive ancestors) and/or suffix (pull transitive
// descendants):
//
//	core.users        one node
//	+core.users+      the node, its ancestors and its descendants
//	staging/          every node under the staging schema
//	core.north/       every node under a sub-schema
//	git               nodes whose source files changed (external resolver)
//	*                 every node
//
// An unselect expression subtracts from the selected set.

// SelectOptions carries selector inputs beyond the graph itself.
type SelectOptions struct {
	// ChangedFiles resolves the "git" atom: script paths (relative to the
	// scripts root) that were added or modified. Nil means the atom errors.
	ChangedFiles func() ([]string, error)
}

// Select resolves select and unselect expressions into the active set,
// keyed by TableRef.Key. Empty selects means everything.
func (g *Graph) Select(selects, unselects []string, opts SelectOptions) (map[string]core.TableRef, error) {
	active := make(map[string]core.TableRef)
	if len(selects) == 0 {
		for key, ref := range g.refs {
			active[key] = ref
		}
	}
	for _, expr := range selects {
		if err := g.selectAtom(expr, opts, active); err != nil {
			return nil, err
		}
	}
	if len(unselects) > 0 {
		drop := make(map[string]core.TableRef)
		for _, expr := range unselects {
			if err := g.selectAtom(expr, opts, drop); err != nil {
				return nil, err
			}
		}
		for key := range drop {
			delete(active, key)
		}
	}
	return active, nil
}

func (g *Graph) selectAtom(expr string, opts SelectOptions, into map[string]core.TableRef) error {
	atom := strings.TrimSpace(expr)
	withAncestors := strings.HasPrefix(atom, "+")
	withDescendants := strings.HasSuffix(atom, "+")
	atom = strings.TrimSuffix(strings.TrimPrefix(atom, "+"), "+")
	if atom == "" {
		return &core.SelectorError{Expr: expr, Msg: "empty atom"}
	}

	var matched []core.TableRef
	switch {
	case atom == "*":
		matched = g.Refs()
	case atom == "git":
		if opts.ChangedFiles == nil {
			return &core.SelectorError{Expr: expr, Msg: "no git resolver available"}
		}
		files, err := opts.ChangedFiles()
		if err != nil {
			return &core.SelectorError{Expr: expr, Msg: err.Error()}
		}
		matched = g.matchPaths(files)
	case strings.HasSuffix(atom, "/"):
		segments := strings.Split(strings.TrimSuffix(atom, "/"), ".")
		for _, ref := range g.Refs() {
			if ref.InSchema(segments...) {
				matched = append(matched, ref)
			}
		}
		if len(matched) == 0 {
			return &core.SelectorError{Expr: expr, Msg: "no scripts in that schema"}
		}
	default:
		ref, err := core.ParseRef(atom)
		if err != nil {
			return &core.SelectorError{Expr: expr, Msg: err.Error()}
		}
		if g.Script(ref) == nil {
			return &core.SelectorError{Expr: expr, Msg: "unknown table " + ref.String()}
		}
		matched = []core.TableRef{ref}
	}

	for _, ref := range matched {
		into[ref.Key()] = ref
		if withAncestors {
			for _, a := range g.Ancestors(ref) {
				into[a.Key()] = a
			}
		}
		if withDescendants {
			for _, d := range g.Descendants(ref) {
				into[d.Key()] = d
			}
		}
	}
	return nil
}

// matchPaths maps changed file paths back to graph nodes. Synthesised tests
// share their parent's path, so editing a script also selects its tests.
func (g *Graph) matchPaths(files []string) []core.TableRef {
	changed := make(map[string]bool, len(files))
	for _, f := range files {
		changed[path.Clean(strings.TrimPrefix(filepath.ToSlash(f), "./"))] = true
	}
	var matched []core.TableRef
	for _, ref := range g.Refs() {
		if s := g.Script(ref); s != nil && changed[s.Path] {
			matched = append(matched, ref)
		}
	}
	return matched
}
