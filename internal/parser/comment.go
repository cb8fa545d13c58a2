package parser

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/carbonfact/lea/internal/lineage"
	"github.com/carbonfact/lea/pkg/core"
)

// Annotation comments attach to the next SELECT-list expression:
//
//	SELECT
//	    -- #UNIQUE
//	    -- #NO_NULLS
//	    user_id,
//	    -- #SET{'A', 'B', 'AB', 'O'}
//	    blood_type
//	FROM staging.users
//
// A trailing comment on the column's own line attaches to that column.
// #INCREMENTAL applies to the whole script and may appear on any top-level
// comment. @INCREMENTAL and @UNIQUE are accepted as legacy synonyms.

var (
	reUniqueBy    = regexp.MustCompile(`#UNIQUE_BY\(([^)]*)\)`)
	reSet         = regexp.MustCompile(`#SET\{([^}]*)\}`)
	reSetOpen     = regexp.MustCompile(`#SET\{`)
	reNoNulls     = regexp.MustCompile(`#NO_NULLS\b`)
	reUnique      = regexp.MustCompile(`(#|@)UNIQUE\b`)
	reIncremental = regexp.MustCompile(`(#|@)INCREMENTAL\b`)
	reClustering  = regexp.MustCompile(`#CLUSTERING_FIELD\b`)
	reKeyword     = regexp.MustCompile(`#([A-Z][A-Z_]*)`)
)

var knownKeywords = map[string]bool{
	"NO_NULLS":         true,
	"UNIQUE":           true,
	"UNIQUE_BY":        true,
	"SET":              true,
	"INCREMENTAL":      true,
	"CLUSTERING_FIELD": true,
}

type annotations struct {
	assertions  []core.Assertion
	hints       []core.FieldHint
	incremental bool
}

// pendingAnn is an annotation parsed from a comment, waiting for its column.
type pendingAnn struct {
	assertion *core.Assertion // nil for hints
	hint      string
	line      int
}

// extractAnnotations scans the SQL line by line, tracking the top-level
// SELECT list, and attaches annotation comments to column identifiers.
func extractAnnotations(path, sql string, logger *slog.Logger) (annotations, error) {
	var out annotations
	var pending []pendingAnn

	depth := 0
	inSelectList := false
	inBlock := false

	for lineIdx, line := range strings.Split(sql, "\n") {
		lineNo := lineIdx + 1
		var code, comment string
		code, comment, inBlock = splitCodeComment(line, inBlock)

		var lineAnns []pendingAnn
		if comment != "" {
			anns, incremental, err := parseCommentAnnotations(path, comment, lineNo, logger)
			if err != nil {
				return annotations{}, err
			}
			if incremental && depth == 0 {
				out.incremental = true
			}
			lineAnns = anns
		}

		if strings.TrimSpace(code) == "" {
			// Comment-only or blank line: annotations stay pending for the
			// next expression.
			pending = append(pending, lineAnns...)
			continue
		}

		var column string
		for _, tok := range lineage.Tokenize(code) {
			switch tok.Type {
			case lineage.TOKEN_LPAREN:
				depth++
			case lineage.TOKEN_RPAREN:
				depth--
			case lineage.TOKEN_SELECT:
				if depth == 0 {
					inSelectList = true
				}
			case lineage.TOKEN_FROM, lineage.TOKEN_SEMICOLON:
				if depth == 0 {
					inSelectList = false
				}
			case lineage.TOKEN_IDENT:
				if depth == 0 && inSelectList {
					column = tok.Literal
				}
			}
		}

		pending = append(pending, lineAnns...)
		if column != "" {
			attach(&out, pending, column)
		} else if len(pending) > 0 {
			logger.Debug("dropping annotations with no column to attach to",
				"path", path, "line", lineNo)
		}
		pending = pending[:0]
	}
	return out, nil
}

func attach(out *annotations, pending []pendingAnn, column string) {
	for _, p := range pending {
		if p.assertion != nil {
			a := *p.assertion
			a.Column = column
			out.assertions = append(out.assertions, a)
			continue
		}
		out.hints = append(out.hints, core.FieldHint{Column: column, Hint: p.hint})
	}
}

// parseCommentAnnotations reads the annotation tokens in one comment.
func parseCommentAnnotations(path, comment string, line int, logger *slog.Logger) ([]pendingAnn, bool, error) {
	if reSetOpen.MatchString(comment) && !reSet.MatchString(comment) {
		return nil, false, core.Parsef(path, line, "malformed #SET annotation: missing closing '}'")
	}

	var anns []pendingAnn
	if m := reSet.FindStringSubmatch(comment); m != nil {
		anns = append(anns, pendingAnn{
			assertion: &core.Assertion{Kind: core.AssertSet, Values: splitArgs(m[1])},
			line:      line,
		})
	}
	if m := reUniqueBy.FindStringSubmatch(comment); m != nil {
		anns = append(anns, pendingAnn{
			assertion: &core.Assertion{Kind: core.AssertUniqueBy, By: splitArgs(m[1])},
			line:      line,
		})
	} else if reUnique.MatchString(comment) {
		anns = append(anns, pendingAnn{
			assertion: &core.Assertion{Kind: core.AssertUnique},
			line:      line,
		})
	}
	if reNoNulls.MatchString(comment) {
		anns = append(anns, pendingAnn{
			assertion: &core.Assertion{Kind: core.AssertNoNulls},
			line:      line,
		})
	}
	if reClustering.MatchString(comment) {
		anns = append(anns, pendingAnn{hint: core.HintClusteringField, line: line})
	}

	incremental := reIncremental.MatchString(comment)

	for _, m := range reKeyword.FindAllStringSubmatch(comment, -1) {
		if !knownKeywords[m[1]] {
			logger.Warn("ignoring unknown annotation", "path", path, "line", line, "keyword", "#"+m[1])
		}
	}

	return anns, incremental, nil
}

// splitCodeComment splits a line at the first "--" that is not inside a
// string literal, dropping block comment content. inBlock carries open
// block comment state across lines; the returned flag is the state after
// this line.
func splitCodeComment(line string, inBlock bool) (code, comment string, stillInBlock bool) {
	var sb strings.Builder
	inString := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inBlock:
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				inBlock = false
				i++
			}
		case inString:
			sb.WriteByte(c)
			if c == '\'' {
				inString = false
			}
		case c == '\'':
			inString = true
			sb.WriteByte(c)
		case c == '/' && i+1 < len(line) && line[i+1] == '*':
			inBlock = true
			i++
		case c == '-' && i+1 < len(line) && line[i+1] == '-':
			return sb.String(), line[i+2:], false
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), "", inBlock
}

func splitArgs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
