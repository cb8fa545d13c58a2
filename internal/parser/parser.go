// Package parser discovers SQL scripts under a directory tree, renders
// templated ones, extracts dependencies and inline assertion annotations,
// and synthesises assertion test scripts.
package parser

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/carbonfact/lea/internal/lineage"
	"github.com/carbonfact/lea/internal/template"
	"github.com/carbonfact/lea/pkg/core"
)

// TestSchema is the top-level schema holding singular and synthesised tests.
const TestSchema = "tests"

// Parser reads a scripts directory and produces core.Scripts.
type Parser struct {
	root   string
	logger *slog.Logger
}

// New creates a Parser rooted at the given scripts directory.
func New(root string, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Parser{root: root, logger: logger}
}

// Parse walks the scripts root and returns every script, including
// synthesised assertion tests, sorted by table reference. Dependencies are
// resolved against the project: references no script produces are recorded
// as external and create no edges.
func (p *Parser) Parse() ([]*core.Script, error) {
	if info, err := os.Stat(p.root); err != nil || !info.IsDir() {
		return nil, core.Configf("scripts directory %q not found", p.root)
	}

	var scripts []*core.Script
	refs := make(map[string][]core.TableRef) // script key -> raw extracted refs

	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != p.root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".sql") && !strings.HasSuffix(name, ".sql.jinja") {
			return nil
		}
		script, rawRefs, err := p.parseFile(path)
		if err != nil {
			return err
		}
		scripts = append(scripts, script)
		refs[script.Ref.Key()] = rawRefs
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := checkDuplicates(scripts); err != nil {
		return nil, err
	}

	produced := make(map[string]bool, len(scripts))
	for _, s := range scripts {
		produced[s.Ref.Key()] = true
	}

	for _, s := range scripts {
		s.Dependencies, s.ExternalDependencies = resolveDeps(s.Ref, refs[s.Ref.Key()], produced)
	}

	// Synthesised tests come after resolution: their single dependency is
	// their parent, by construction.
	var synthesised []*core.Script
	for _, s := range scripts {
		if s.Kind != core.KindRegular {
			continue
		}
		synthesised = append(synthesised, SynthesizeTests(s)...)
	}
	scripts = append(scripts, synthesised...)

	if err := checkDuplicates(scripts); err != nil {
		return nil, err
	}

	sort.Slice(scripts, func(i, j int) bool {
		return scripts[i].Ref.Key() < scripts[j].Ref.Key()
	})
	return scripts, nil
}

// parseFile turns one file into a Script plus its raw table references.
func (p *Parser) parseFile(path string) (*core.Script, []core.TableRef, error) {
	rel, err := filepath.Rel(p.root, path)
	if err != nil {
		return nil, nil, err
	}
	rel = filepath.ToSlash(rel)

	segments := strings.Split(rel, "/")
	if len(segments) < 2 {
		return nil, nil, core.Parsef(rel, 0, "script must live inside a schema directory")
	}

	isJinja := strings.HasSuffix(rel, ".sql.jinja")
	stem := segments[len(segments)-1]
	if isJinja {
		stem = strings.TrimSuffix(stem, ".sql.jinja")
	} else {
		stem = strings.TrimSuffix(stem, ".sql")
	}

	ref := core.TableRef{Schema: segments[:len(segments)-1], Name: stem}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	modTime := info.ModTime()

	sql := string(data)
	if isJinja {
		var loaded []string
		sql, err = template.Render(sql, rel, template.Context{
			Env:      template.OSEnv(),
			LoadYAML: template.YAMLLoader(p.root, &loaded),
		})
		if err != nil {
			var terr *template.Error
			if errors.As(err, &terr) {
				return nil, nil, core.Parsef(rel, terr.Line, "%s", terr.Msg)
			}
			return nil, nil, core.Parsef(rel, 0, "%v", err)
		}
		modTime = maxModTime(modTime, loaded)
	}

	kind := core.KindRegular
	if segments[0] == TestSchema {
		kind = core.KindSingularTest
	}

	script := &core.Script{
		Ref:     ref,
		Kind:    kind,
		Path:    rel,
		SQL:     sql,
		ModTime: modTime,
	}

	// Assertions on test scripts are ignored; only the incremental flag
	// and malformed-annotation errors still apply to regular scripts.
	if kind == core.KindRegular {
		ann, err := extractAnnotations(rel, sql, p.logger)
		if err != nil {
			return nil, nil, err
		}
		script.Assertions = ann.assertions
		script.Hints = ann.hints
		script.Incremental = ann.incremental
	}

	return script, lineage.ExtractRefs(sql), nil
}

// resolveDeps splits raw references into graph dependencies and external
// tables. Audit-form references resolve to their base table, so synthesised
// and hand-written tests depend on the producing script. Self references
// (incremental scripts reading their own table) create no edge.
func resolveDeps(self core.TableRef, raw []core.TableRef, produced map[string]bool) (deps, external []core.TableRef) {
	seen := make(map[string]bool)
	for _, r := range raw {
		base := r.WithoutAudit()
		if base.Equal(self) {
			continue
		}
		key := base.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		if produced[key] {
			deps = append(deps, base)
		} else {
			external = append(external, r)
		}
	}
	return deps, external
}

func checkDuplicates(scripts []*core.Script) error {
	byKey := make(map[string]*core.Script, len(scripts))
	for _, s := range scripts {
		if prev, ok := byKey[s.Ref.Key()]; ok {
			return core.Parsef(s.Path, 0, "duplicate table %s (also produced by %s)", s.Ref, prev.Path)
		}
		byKey[s.Ref.Key()] = s
	}
	return nil
}

func maxModTime(base time.Time, paths []string) time.Time {
	out := base
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.ModTime().After(out) {
			out = info.ModTime()
		}
	}
	return out
}
