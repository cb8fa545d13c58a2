package template

import (
	"strings"
)

// node is a parsed template fragment.
type node interface{}

type textNode struct {
	text string
}

type exprNode struct {
	expr expr
	line int
}

type setNode struct {
	name string
	expr expr
	line int
}

type ifBranch struct {
	cond expr
	body []node
}

type ifNode struct {
	branches []ifBranch // first is "if", rest are "elif"
	els      []node
	line     int
}

type forNode struct {
	loopVar  string
	indexVar string // second variable of "for k, v in ..."; empty if unused
	seq      expr
	body     []node
	line     int
}

// Parser builds a node tree from lexed tokens.
type Parser struct {
	toks []Token
	pos  int
	file string
}

// Parse lexes and parses a template.
func Parse(input, file string) ([]node, error) {
	toks, err := NewLexer(input, file).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{toks: toks, file: file}
	nodes, terminator, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	if terminator != "" {
		return nil, errf(file, p.current().Line, "unexpected {%% %s %%}", terminator)
	}
	return nodes, nil
}

func (p *Parser) current() Token {
	if p.pos >= len(p.toks) {
		return p.toks[len(p.toks)-1] // EOF
	}
	return p.toks[p.pos]
}

// parseNodes parses until EOF or a block terminator (else, elif, endif,
// endfor), returning the terminator keyword when one stops the parse.
func (p *Parser) parseNodes() ([]node, string, error) {
	var nodes []node
	for {
		tok := p.current()
		switch tok.Type {
		case TokenEOF:
			return nodes, "", nil
		case TokenText:
			p.pos++
			nodes = append(nodes, textNode{text: tok.Value})
		case TokenExpr:
			p.pos++
			e, err := parseExpr(tok.Value)
			if err != nil {
				return nil, "", errf(p.file, tok.Line, "bad expression: %v", err)
			}
			nodes = append(nodes, exprNode{expr: e, line: tok.Line})
		case TokenStmt:
			keyword, rest := splitKeyword(tok.Value)
			switch keyword {
			case "if":
				n, err := p.parseIf(rest, tok.Line)
				if err != nil {
					return nil, "", err
				}
				nodes = append(nodes, n)
			case "for":
				n, err := p.parseFor(rest, tok.Line)
				if err != nil {
					return nil, "", err
				}
				nodes = append(nodes, n)
			case "set":
				p.pos++
				n, err := parseSet(rest, tok.Line, p.file)
				if err != nil {
					return nil, "", err
				}
				nodes = append(nodes, n)
			case "elif", "else", "endif", "endfor":
				return nodes, tok.Value, nil
			default:
				return nil, "", errf(p.file, tok.Line, "unknown statement %q", keyword)
			}
		}
	}
}

func (p *Parser) parseIf(cond string, line int) (node, error) {
	p.pos++ // consume the "if" statement token
	out := ifNode{line: line}

	condExpr, err := parseExpr(cond)
	if err != nil {
		return nil, errf(p.file, line, "bad if condition: %v", err)
	}

	body, terminator, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	out.branches = append(out.branches, ifBranch{cond: condExpr, body: body})

	for strings.HasPrefix(terminator, "elif") {
		elifTok := p.current()
		p.pos++
		_, rest := splitKeyword(terminator)
		cond, err := parseExpr(rest)
		if err != nil {
			return nil, errf(p.file, elifTok.Line, "bad elif condition: %v", err)
		}
		body, terminator, err = p.parseNodes()
		if err != nil {
			return nil, err
		}
		out.branches = append(out.branches, ifBranch{cond: cond, body: body})
	}

	if terminator == "else" {
		p.pos++
		out.els, terminator, err = p.parseNodes()
		if err != nil {
			return nil, err
		}
	}
	if terminator != "endif" {
		return nil, errf(p.file, line, "if block not closed with {%% endif %%}")
	}
	p.pos++
	return out, nil
}

func (p *Parser) parseFor(header string, line int) (node, error) {
	p.pos++ // consume the "for" statement token

	varsPart, seqPart, ok := strings.Cut(header, " in ")
	if !ok {
		return nil, errf(p.file, line, "for statement must be 'for VAR in EXPR'")
	}
	out := forNode{line: line}
	vars := strings.Split(varsPart, ",")
	out.loopVar = strings.TrimSpace(vars[0])
	if len(vars) == 2 {
		out.indexVar = strings.TrimSpace(vars[1])
	} else if len(vars) > 2 {
		return nil, errf(p.file, line, "for statement takes at most two loop variables")
	}

	seq, err := parseExpr(seqPart)
	if err != nil {
		return nil, errf(p.file, line, "bad for sequence: %v", err)
	}
	out.seq = seq

	body, terminator, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	if terminator != "endfor" {
		return nil, errf(p.file, line, "for block not closed with {%% endfor %%}")
	}
	p.pos++
	out.body = body
	return out, nil
}

func parseSet(rest string, line int, file string) (node, error) {
	name, valuePart, ok := strings.Cut(rest, "=")
	if !ok {
		return nil, errf(file, line, "set statement must be 'set NAME = EXPR'")
	}
	name = strings.TrimSpace(name)
	if name == "" || !isIdent(name) {
		return nil, errf(file, line, "invalid variable name %q in set", name)
	}
	value, err := parseExpr(valuePart)
	if err != nil {
		return nil, errf(file, line, "bad set value: %v", err)
	}
	return setNode{name: name, expr: value, line: line}, nil
}

func splitKeyword(stmt string) (keyword, rest string) {
	keyword, rest, _ = strings.Cut(stmt, " ")
	return keyword, strings.TrimSpace(rest)
}

func isIdent(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isIdentByte(c) || i > 0 && c >= '0' && c <= '9' {
			continue
		}
		return false
	}
	return len(s) > 0
}
