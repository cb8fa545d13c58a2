package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Context supplies the values a template can reach.
type Context struct {
	// Env is exposed as the "env" variable.
	Env map[string]string
	// LoadYAML backs the load_yaml(path) helper. Nil disables it.
	LoadYAML func(path string) (any, error)
}

// OSEnv snapshots the process environment into a template-friendly map.
func OSEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// YAMLLoader returns a load_yaml implementation resolving relative paths
// under root. Every loaded path is appended to *loaded so callers can fold
// YAML mtimes into a script's effective mtime.
func YAMLLoader(root string, loaded *[]string) func(path string) (any, error) {
	return func(path string) (any, error) {
		if filepath.IsAbs(path) {
			return nil, fmt.Errorf("load_yaml: path must be relative, got %q", path)
		}
		full := filepath.Join(root, filepath.FromSlash(path))
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("load_yaml: %w", err)
		}
		var out any
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("load_yaml %s: %w", path, err)
		}
		if loaded != nil {
			*loaded = append(*loaded, full)
		}
		return out, nil
	}
}

// Render parses and renders a template. file is used in error messages.
func Render(input, file string, ctx Context) (string, error) {
	nodes, err := Parse(input, file)
	if err != nil {
		return "", err
	}

	builtins := map[string]any{
		"env": toAnyMap(ctx.Env),
	}
	if ctx.LoadYAML != nil {
		loadYAML := ctx.LoadYAML
		builtins["load_yaml"] = func(args ...any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("load_yaml takes exactly one argument")
			}
			path, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("load_yaml argument must be a string")
			}
			return loadYAML(path)
		}
	}

	var sb strings.Builder
	r := &renderer{file: file}
	if err := r.renderNodes(&sb, nodes, newScope(builtins).child()); err != nil {
		return "", err
	}
	return sb.String(), nil
}

type renderer struct {
	file string
}

func (r *renderer) renderNodes(sb *strings.Builder, nodes []node, s *scope) error {
	for _, n := range nodes {
		switch n := n.(type) {
		case textNode:
			sb.WriteString(n.text)
		case exprNode:
			v, err := n.expr.eval(s)
			if err != nil {
				return errf(r.file, n.line, "%v", err)
			}
			sb.WriteString(stringify(v))
		case setNode:
			v, err := n.expr.eval(s)
			if err != nil {
				return errf(r.file, n.line, "%v", err)
			}
			s.set(n.name, v)
		case ifNode:
			if err := r.renderIf(sb, n, s); err != nil {
				return err
			}
		case forNode:
			if err := r.renderFor(sb, n, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *renderer) renderIf(sb *strings.Builder, n ifNode, s *scope) error {
	for _, branch := range n.branches {
		v, err := branch.cond.eval(s)
		if err != nil {
			return errf(r.file, n.line, "%v", err)
		}
		if truthy(v) {
			return r.renderNodes(sb, branch.body, s.child())
		}
	}
	return r.renderNodes(sb, n.els, s.child())
}

func (r *renderer) renderFor(sb *strings.Builder, n forNode, s *scope) error {
	seq, err := n.seq.eval(s)
	if err != nil {
		return errf(r.file, n.line, "%v", err)
	}
	items, keys, err := iterate(seq)
	if err != nil {
		return errf(r.file, n.line, "%v", err)
	}
	for i, item := range items {
		frame := s.child()
		if n.indexVar == "" {
			frame.vars[n.loopVar] = item
		} else {
			// "for k, v in map" binds key and value.
			frame.vars[n.loopVar] = keys[i]
			frame.vars[n.indexVar] = item
		}
		if err := r.renderNodes(sb, n.body, frame); err != nil {
			return err
		}
	}
	return nil
}

// iterate yields the items of a sequence. Map iteration is sorted by key
// for deterministic output.
func iterate(seq any) (items []any, keys []any, err error) {
	switch v := seq.(type) {
	case []any:
		for i, item := range v {
			items = append(items, item)
			keys = append(keys, i)
		}
	case map[string]any:
		sorted := make([]string, 0, len(v))
		for k := range v {
			sorted = append(sorted, k)
		}
		sort.Strings(sorted)
		for _, k := range sorted {
			items = append(items, v[k])
			keys = append(keys, k)
		}
	case map[any]any:
		sorted := make([]string, 0, len(v))
		byKey := make(map[string]any, len(v))
		for k := range v {
			ks := fmt.Sprint(k)
			sorted = append(sorted, ks)
			byKey[ks] = v[k]
		}
		sort.Strings(sorted)
		for _, k := range sorted {
			items = append(items, byKey[k])
			keys = append(keys, k)
		}
	case string:
		for _, r := range v {
			items = append(items, string(r))
			keys = append(keys, len(keys))
		}
	default:
		return nil, nil, fmt.Errorf("cannot iterate over value of type %T", seq)
	}
	return items, keys, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		// Avoid 1e+06 style output for round floats.
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprint(x)
	default:
		return fmt.Sprint(x)
	}
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
