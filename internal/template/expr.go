package template

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// expr is an evaluable expression node.
type expr interface {
	eval(s *scope) (any, error)
}

type litExpr struct{ value any }

func (e litExpr) eval(*scope) (any, error) { return e.value, nil }

type varExpr struct{ name string }

func (e varExpr) eval(s *scope) (any, error) {
	v, ok := s.lookup(e.name)
	if !ok {
		return nil, fmt.Errorf("undefined variable %q", e.name)
	}
	return v, nil
}

type attrExpr struct {
	base expr
	name string
}

func (e attrExpr) eval(s *scope) (any, error) {
	base, err := e.base.eval(s)
	if err != nil {
		return nil, err
	}
	return index(base, e.name)
}

type indexExpr struct {
	base expr
	key  expr
}

func (e indexExpr) eval(s *scope) (any, error) {
	base, err := e.base.eval(s)
	if err != nil {
		return nil, err
	}
	key, err := e.key.eval(s)
	if err != nil {
		return nil, err
	}
	return index(base, key)
}

type callExpr struct {
	fn   expr
	args []expr
}

func (e callExpr) eval(s *scope) (any, error) {
	fn, err := e.fn.eval(s)
	if err != nil {
		return nil, err
	}
	callable, ok := fn.(func(args ...any) (any, error))
	if !ok {
		return nil, fmt.Errorf("value of type %T is not callable", fn)
	}
	args := make([]any, len(e.args))
	for i, a := range e.args {
		if args[i], err = a.eval(s); err != nil {
			return nil, err
		}
	}
	return callable(args...)
}

type listExpr struct{ items []expr }

func (e listExpr) eval(s *scope) (any, error) {
	out := make([]any, len(e.items))
	for i, item := range e.items {
		v, err := item.eval(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type notExpr struct{ inner expr }

func (e notExpr) eval(s *scope) (any, error) {
	v, err := e.inner.eval(s)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type binExpr struct {
	op          string // "==", "!=", "in", "and", "or"
	left, right expr
}

func (e binExpr) eval(s *scope) (any, error) {
	left, err := e.left.eval(s)
	if err != nil {
		return nil, err
	}
	// Short-circuit boolean operators.
	switch e.op {
	case "and":
		if !truthy(left) {
			return false, nil
		}
		right, err := e.right.eval(s)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case "or":
		if truthy(left) {
			return true, nil
		}
		right, err := e.right.eval(s)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}
	right, err := e.right.eval(s)
	if err != nil {
		return nil, err
	}
	switch e.op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "in":
		return contains(right, left)
	}
	return nil, fmt.Errorf("unsupported operator %q", e.op)
}

// scope is a chain of variable frames over shared builtins.
type scope struct {
	vars   map[string]any
	parent *scope
}

func newScope(vars map[string]any) *scope {
	return &scope{vars: vars}
}

func (s *scope) child() *scope {
	return &scope{vars: make(map[string]any), parent: s}
}

func (s *scope) lookup(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// set writes into the nearest frame that already defines name, otherwise
// into the current frame.
func (s *scope) set(name string, value any) {
	for cur := s; cur != nil; cur = cur.parent {
		if _, ok := cur.vars[name]; ok {
			cur.vars[name] = value
			return
		}
	}
	s.vars[name] = value
}

func index(base, key any) (any, error) {
	switch b := base.(type) {
	case map[string]any:
		return b[fmt.Sprint(key)], nil
	case map[any]any:
		return b[key], nil
	case map[string]string:
		return b[fmt.Sprint(key)], nil
	case []any:
		i, ok := key.(int)
		if !ok {
			return nil, fmt.Errorf("list index must be an integer, got %T", key)
		}
		if i < 0 || i >= len(b) {
			return nil, fmt.Errorf("list index %d out of range", i)
		}
		return b[i], nil
	case nil:
		return nil, fmt.Errorf("cannot access %v on nil", key)
	default:
		return nil, fmt.Errorf("cannot access %v on value of type %T", key, base)
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case float64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	case map[any]any:
		return len(x) > 0
	default:
		return true
	}
}

// looseEqual compares with numeric normalisation so YAML integers compare
// equal to literals regardless of int/float decoding.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case []any:
		for _, v := range c {
			if looseEqual(v, item) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		_, ok := c[fmt.Sprint(item)]
		return ok, nil
	case string:
		return strings.Contains(c, fmt.Sprint(item)), nil
	default:
		return false, fmt.Errorf("cannot test membership in value of type %T", container)
	}
}

// exprLexer splits an expression string into tokens.
type exprToken struct {
	kind string // "ident", "number", "string", "op"
	text string
}

func lexExpr(src string) ([]exprToken, error) {
	var toks []exprToken
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(src) && src[j] != quote {
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, exprToken{kind: "string", text: sb.String()})
			i = j + 1
		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			toks = append(toks, exprToken{kind: "number", text: src[i:j]})
			i = j
		case isIdentByte(c):
			j := i
			for j < len(src) && (isIdentByte(src[j]) || src[j] >= '0' && src[j] <= '9') {
				j++
			}
			toks = append(toks, exprToken{kind: "ident", text: src[i:j]})
			i = j
		case strings.HasPrefix(src[i:], "==") || strings.HasPrefix(src[i:], "!="):
			toks = append(toks, exprToken{kind: "op", text: src[i : i+2]})
			i += 2
		case strings.ContainsRune(".[](),=", rune(c)):
			toks = append(toks, exprToken{kind: "op", text: string(c)})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return toks, nil
}

func isIdentByte(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c))
}

// exprParser is a recursive descent parser over exprTokens.
type exprParser struct {
	toks []exprToken
	pos  int
}

// parseExpr parses a full expression string.
func parseExpr(src string) (expr, error) {
	toks, err := lexExpr(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected trailing tokens in %q", src)
	}
	return e, nil
}

func (p *exprParser) peek() (exprToken, bool) {
	if p.pos >= len(p.toks) {
		return exprToken{}, false
	}
	return p.toks[p.pos], true
}

func (p *exprParser) acceptOp(text string) bool {
	if t, ok := p.peek(); ok && t.kind == "op" && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) acceptIdent(text string) bool {
	if t, ok := p.peek(); ok && t.kind == "ident" && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptIdent("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binExpr{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptIdent("and") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binExpr{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseNot() (expr, error) {
	if p.acceptIdent("not") {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notExpr{inner: inner}, nil
	}
	return p.parseCompare()
}

func (p *exprParser) parseCompare() (expr, error) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	switch {
	case p.acceptOp("=="):
		right, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		return binExpr{op: "==", left: left, right: right}, nil
	case p.acceptOp("!="):
		right, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		return binExpr{op: "!=", left: left, right: right}, nil
	case p.acceptIdent("in"):
		right, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		return binExpr{op: "in", left: left, right: right}, nil
	}
	return left, nil
}

func (p *exprParser) parsePostfix() (expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.acceptOp("."):
			t, ok := p.peek()
			if !ok || t.kind != "ident" {
				return nil, fmt.Errorf("expected attribute name after '.'")
			}
			p.pos++
			e = attrExpr{base: e, name: t.text}
		case p.acceptOp("["):
			key, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.acceptOp("]") {
				return nil, fmt.Errorf("expected ']'")
			}
			e = indexExpr{base: e, key: key}
		case p.acceptOp("("):
			var args []expr
			if !p.acceptOp(")") {
				for {
					arg, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					args = append(args, arg)
					if p.acceptOp(",") {
						continue
					}
					if p.acceptOp(")") {
						break
					}
					return nil, fmt.Errorf("expected ',' or ')' in call")
				}
			}
			e = callExpr{fn: e, args: args}
		default:
			return e, nil
		}
	}
}

func (p *exprParser) parsePrimary() (expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	switch t.kind {
	case "string":
		p.pos++
		return litExpr{value: t.text}, nil
	case "number":
		p.pos++
		if strings.Contains(t.text, ".") {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return nil, err
			}
			return litExpr{value: f}, nil
		}
		n, err := strconv.Atoi(t.text)
		if err != nil {
			return nil, err
		}
		return litExpr{value: n}, nil
	case "ident":
		p.pos++
		switch t.text {
		case "true", "True":
			return litExpr{value: true}, nil
		case "false", "False":
			return litExpr{value: false}, nil
		case "none", "None":
			return litExpr{value: nil}, nil
		}
		return varExpr{name: t.text}, nil
	case "op":
		switch t.text {
		case "(":
			p.pos++
			e, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.acceptOp(")") {
				return nil, fmt.Errorf("expected ')'")
			}
			return e, nil
		case "[":
			p.pos++
			var items []expr
			if !p.acceptOp("]") {
				for {
					item, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					items = append(items, item)
					if p.acceptOp(",") {
						continue
					}
					if p.acceptOp("]") {
						break
					}
					return nil, fmt.Errorf("expected ',' or ']' in list")
				}
			}
			return listExpr{items: items}, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}
