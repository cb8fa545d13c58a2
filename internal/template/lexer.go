// Package template implements the small Jinja-compatible surface lea
// scripts use: {{ expr }} substitution, {% if %} / {% elif %} / {% else %},
// {% for %}, {% set %}, {# comments #}, with an expression language covering
// literals, variable access (env.VAR, row['k']), comparisons and the
// load_yaml helper.
package template

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TokenType identifies the type of a template token.
type TokenType int

// Template token types.
const (
	TokenText TokenType = iota // literal text (SQL)
	TokenExpr                  // content between {{ and }}
	TokenStmt                  // content between {% and %}
	TokenEOF
)

func (t TokenType) String() string {
	switch t {
	case TokenText:
		return "TEXT"
	case TokenExpr:
		return "EXPR"
	case TokenStmt:
		return "STMT"
	case TokenEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	Line  int
}

// Error is a template error with source location.
type Error struct {
	File string
	Line int
	Msg  string
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func errf(file string, line int, format string, args ...any) *Error {
	return &Error{File: file, Line: line, Msg: fmt.Sprintf(format, args...)}
}

// Lexer tokenizes a template string.
type Lexer struct {
	input    string
	file     string
	pos      int
	line     int // current line number (1-based)
	lastLine int // line at start of current token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input, file string) *Lexer {
	return &Lexer{input: input, file: file, line: 1}
}

// Tokenize converts the input into a slice of tokens.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.nextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return tokens, nil
}

func (l *Lexer) nextToken() (Token, error) {
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Line: l.line}, nil
	}
	switch {
	case l.match("{{"):
		return l.scanDelimited("{{", "}}", TokenExpr)
	case l.match("{%"):
		return l.scanDelimited("{%", "%}", TokenStmt)
	case l.match("{#"):
		if err := l.skipComment(); err != nil {
			return Token{}, err
		}
		return l.nextToken()
	default:
		return l.scanText()
	}
}

func (l *Lexer) scanText() (Token, error) {
	l.lastLine = l.line
	start := l.pos
	for l.pos < len(l.input) {
		if l.match("{{") || l.match("{%") || l.match("{#") {
			break
		}
		l.advance()
	}
	return Token{Type: TokenText, Value: l.input[start:l.pos], Line: l.lastLine}, nil
}

func (l *Lexer) scanDelimited(open, closing string, typ TokenType) (Token, error) {
	l.lastLine = l.line
	l.pos += len(open)

	start := l.pos
	for l.pos < len(l.input) {
		if l.match(closing) {
			value := strings.TrimSpace(l.input[start:l.pos])
			l.pos += len(closing)
			return Token{Type: typ, Value: value, Line: l.lastLine}, nil
		}
		l.advance()
	}
	return Token{}, errf(l.file, l.lastLine, "unclosed %q: missing %q", open, closing)
}

func (l *Lexer) skipComment() error {
	l.lastLine = l.line
	l.pos += 2
	for l.pos < len(l.input) {
		if l.match("#}") {
			l.pos += 2
			return nil
		}
		l.advance()
	}
	return errf(l.file, l.lastLine, "unclosed comment: missing %q", "#}")
}

func (l *Lexer) match(s string) bool {
	return strings.HasPrefix(l.input[l.pos:], s)
}

func (l *Lexer) advance() {
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
	}
}
