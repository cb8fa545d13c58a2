package dag

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitChangedFiles returns the script paths (relative to scriptsRoot) that
// differ from the base branch or are untracked, for the "git" selector
// atom. base defaults to "main".
func GitChangedFiles(ctx context.Context, repoDir, scriptsRoot, base string) ([]string, error) {
	if base == "" {
		base = "main"
	}

	diffed, err := gitLines(ctx, repoDir, "diff", "--name-only", base)
	if err != nil {
		// Shallow clones and detached heads may not know the base branch;
		// fall back to the working tree diff.
		diffed, err = gitLines(ctx, repoDir, "diff", "--name-only", "HEAD")
		if err != nil {
			return nil, err
		}
	}
	untracked, err := gitLines(ctx, repoDir, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}

	rootRel, err := filepath.Rel(repoDir, scriptsRoot)
	if err != nil {
		return nil, err
	}
	rootRel = filepath.ToSlash(rootRel)

	var out []string
	for _, f := range append(diffed, untracked...) {
		rel := filepath.ToSlash(f)
		if rootRel != "." {
			var ok bool
			rel, ok = strings.CutPrefix(rel, rootRel+"/")
			if !ok {
				continue
			}
		}
		if strings.HasSuffix(rel, ".sql") || strings.HasSuffix(rel, ".sql.jinja") {
			out = append(out, rel)
		}
	}
	return out, nil
}

func gitLines(ctx context.Context, dir string, args ...string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	var lines []string
	for _, line := range strings.Split(string(output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
