// Package lineage extracts table references from SQL. It tokenizes the
// input and collects identifiers in FROM and JOIN position, excluding CTE
// names defined in the same query. It does not build a full parse tree;
// clause structure is all the dependency extractor needs.
package lineage

import "fmt"

// TokenType represents the type of a lexical token.
type TokenType int

//nolint:revive // TOKEN_* names are intentionally ALL_CAPS for SQL token conventions
const (
	// TOKEN_EOF represents end of file.
	TOKEN_EOF TokenType = iota
	// TOKEN_ILLEGAL represents an unrecognized token.
	TOKEN_ILLEGAL

	// TOKEN_IDENT represents an identifier.
	TOKEN_IDENT
	// TOKEN_NUMBER represents a numeric literal.
	TOKEN_NUMBER
	// TOKEN_STRING represents a string literal.
	TOKEN_STRING

	TOKEN_DOT       // .
	TOKEN_COMMA     // ,
	TOKEN_LPAREN    // (
	TOKEN_RPAREN    // )
	TOKEN_SEMICOLON // ;
	TOKEN_OP        // any other operator or punctuation

	// Keywords the extractor cares about (alphabetical).
	TOKEN_ALL
	TOKEN_AS
	TOKEN_BY
	TOKEN_CROSS
	TOKEN_EXCEPT
	TOKEN_FROM
	TOKEN_FULL
	TOKEN_GROUP
	TOKEN_INNER
	TOKEN_INTERSECT
	TOKEN_JOIN
	TOKEN_LATERAL
	TOKEN_LEFT
	TOKEN_ON
	TOKEN_ORDER
	TOKEN_OUTER
	TOKEN_RECURSIVE
	TOKEN_RIGHT
	TOKEN_SELECT
	TOKEN_UNION
	TOKEN_UNNEST
	TOKEN_USING
	TOKEN_WHERE
	TOKEN_WITH
)

// Token represents a lexical token with position information.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

// Position represents a location in the source text.
type Position struct {
	Line   int // 1-based line number
	Column int // 1-based column number
	Offset int // 0-based byte offset
}

var tokenNames = map[TokenType]string{
	TOKEN_EOF:       "EOF",
	TOKEN_ILLEGAL:   "ILLEGAL",
	TOKEN_IDENT:     "IDENT",
	TOKEN_NUMBER:    "NUMBER",
	TOKEN_STRING:    "STRING",
	TOKEN_DOT:       ".",
	TOKEN_COMMA:     ",",
	TOKEN_LPAREN:    "(",
	TOKEN_RPAREN:    ")",
	TOKEN_SEMICOLON: ";",
	TOKEN_OP:        "OP",
	TOKEN_ALL:       "ALL",
	TOKEN_AS:        "AS",
	TOKEN_BY:        "BY",
	TOKEN_CROSS:     "CROSS",
	TOKEN_EXCEPT:    "EXCEPT",
	TOKEN_FROM:      "FROM",
	TOKEN_FULL:      "FULL",
	TOKEN_GROUP:     "GROUP",
	TOKEN_INNER:     "INNER",
	TOKEN_INTERSECT: "INTERSECT",
	TOKEN_JOIN:      "JOIN",
	TOKEN_LATERAL:   "LATERAL",
	TOKEN_LEFT:      "LEFT",
	TOKEN_ON:        "ON",
	TOKEN_ORDER:     "ORDER",
	TOKEN_OUTER:     "OUTER",
	TOKEN_RECURSIVE: "RECURSIVE",
	TOKEN_RIGHT:     "RIGHT",
	TOKEN_SELECT:    "SELECT",
	TOKEN_UNION:     "UNION",
	TOKEN_UNNEST:    "UNNEST",
	TOKEN_USING:     "USING",
	TOKEN_WHERE:     "WHERE",
	TOKEN_WITH:      "WITH",
}

// String returns a human-readable representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TOKEN(%d)", t)
}

// keywords maps lowercase keyword strings to their token types.
var keywords = map[string]TokenType{
	"all":       TOKEN_ALL,
	"as":        TOKEN_AS,
	"by":        TOKEN_BY,
	"cross":     TOKEN_CROSS,
	"except":    TOKEN_EXCEPT,
	"from":      TOKEN_FROM,
	"full":      TOKEN_FULL,
	"group":     TOKEN_GROUP,
	"inner":     TOKEN_INNER,
	"intersect": TOKEN_INTERSECT,
	"join":      TOKEN_JOIN,
	"lateral":   TOKEN_LATERAL,
	"left":      TOKEN_LEFT,
	"on":        TOKEN_ON,
	"order":     TOKEN_ORDER,
	"outer":     TOKEN_OUTER,
	"recursive": TOKEN_RECURSIVE,
	"right":     TOKEN_RIGHT,
	"select":    TOKEN_SELECT,
	"union":     TOKEN_UNION,
	"unnest":    TOKEN_UNNEST,
	"using":     TOKEN_USING,
	"where":     TOKEN_WHERE,
	"with":      TOKEN_WITH,
}

// LookupIdent returns the token type for the given identifier: the keyword
// token type if it is a keyword, TOKEN_IDENT otherwise.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return TOKEN_IDENT
}
