package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gatekeepdb/gatekeep/internal/condition"
)

// ParseFilter parses an infix filter string, as accepted on the GET list
// routes, into a condition tree. The result goes through the same compiler
// as JSON condition trees, so the operator set is the same closed one.
//
//	age >= 18 AND (username LIKE 'adm%' OR email ENDS WITH '@admin.com')
//
// Supported forms: = != <> > >= < <= LIKE IN (...) BETWEEN a AND b IS NULL
// CONTAINS, STARTS WITH, ENDS WITH, combined with AND, OR and parentheses.
// An empty string yields a nil tree.
func ParseFilter(filter string) (condition.Node, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, nil
	}

	tokens, err := tokenize(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", condition.ErrInvalidCondition, err)
	}

	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", condition.ErrInvalidCondition, err)
	}
	if t := p.peek(); t != nil {
		return nil, fmt.Errorf("%w: unexpected token %q at position %d", condition.ErrInvalidCondition, t.value, t.pos)
	}
	return node, nil
}

type tokenType int

const (
	tokIdentifier tokenType = iota
	tokNumber
	tokString
	tokOperator
	tokLParen
	tokRParen
	tokComma
	tokAND
	tokOR
	tokNOT
	tokIN
	tokLIKE
	tokIS
	tokNULL
	tokBETWEEN
	tokCONTAINS
	tokSTARTS
	tokENDS
	tokWITH
)

type token struct {
	typ   tokenType
	value string
	pos   int
}

var keywords = map[string]tokenType{
	"AND":      tokAND,
	"OR":       tokOR,
	"NOT":      tokNOT,
	"IN":       tokIN,
	"LIKE":     tokLIKE,
	"IS":       tokIS,
	"NULL":     tokNULL,
	"BETWEEN":  tokBETWEEN,
	"CONTAINS": tokCONTAINS,
	"STARTS":   tokSTARTS,
	"ENDS":     tokENDS,
	"WITH":     tokWITH,
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	n := len(input)

	for i := 0; i < n; {
		ch := input[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++

		case ch == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case ch == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case ch == ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++

		case i+1 < n && (input[i:i+2] == "!=" || input[i:i+2] == "<>" || input[i:i+2] == ">=" || input[i:i+2] == "<="):
			tokens = append(tokens, token{tokOperator, input[i : i+2], i})
			i += 2
		case ch == '=' || ch == '>' || ch == '<':
			tokens = append(tokens, token{tokOperator, string(ch), i})
			i++

		case ch == '\'':
			start := i
			var sb strings.Builder
			closed := false
			for i++; i < n; i++ {
				if input[i] != '\'' {
					sb.WriteByte(input[i])
					continue
				}
				if i+1 < n && input[i+1] == '\'' {
					sb.WriteByte('\'')
					i++
					continue
				}
				i++
				closed = true
				break
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string literal starting at position %d", start)
			}
			tokens = append(tokens, token{tokString, sb.String(), start})

		case isDigit(ch) || (ch == '-' && i+1 < n && isDigit(input[i+1])):
			start := i
			i++
			for i < n && isDigit(input[i]) {
				i++
			}
			if i < n && input[i] == '.' {
				i++
				if i >= n || !isDigit(input[i]) {
					return nil, fmt.Errorf("invalid number at position %d: trailing decimal point", start)
				}
				for i < n && isDigit(input[i]) {
					i++
				}
			}
			tokens = append(tokens, token{tokNumber, input[start:i], start})

		case isIdentStart(ch):
			start := i
			for i < n && (isIdentStart(input[i]) || isDigit(input[i])) {
				i++
			}
			word := input[start:i]
			if kt, ok := keywords[strings.ToUpper(word)]; ok {
				tokens = append(tokens, token{kt, strings.ToUpper(word), start})
			} else {
				tokens = append(tokens, token{tokIdentifier, word, start})
			}

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
		}
	}
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() *token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *parser) advance() *token {
	t := p.peek()
	if t != nil {
		p.pos++
	}
	return t
}

func (p *parser) expect(typ tokenType, what string) (*token, error) {
	t := p.advance()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of filter, expected %s", what)
	}
	if t.typ != typ {
		return nil, fmt.Errorf("expected %s but got %q at position %d", what, t.value, t.pos)
	}
	return t, nil
}

// or_expr -> and_expr ("OR" and_expr)*
func (p *parser) parseOr() (condition.Node, error) {
	return p.parseJunction(tokOR, condition.Or, p.parseAnd)
}

// and_expr -> primary ("AND" primary)*
func (p *parser) parseAnd() (condition.Node, error) {
	return p.parseJunction(tokAND, condition.And, p.parsePrimary)
}

func (p *parser) parseJunction(sep tokenType, logic condition.Logic, next func() (condition.Node, error)) (condition.Node, error) {
	first, err := next()
	if err != nil {
		return nil, err
	}
	children := []condition.Node{first}
	for t := p.peek(); t != nil && t.typ == sep; t = p.peek() {
		p.advance()
		n, err := next()
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	if len(children) == 1 {
		return first, nil
	}
	return &condition.Group{Logic: logic, Children: children}, nil
}

// primary -> "(" or_expr ")" | comparison
func (p *parser) parsePrimary() (condition.Node, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of filter expression")
	}
	switch t.typ {
	case tokLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokNOT:
		return nil, fmt.Errorf("NOT is not supported (position %d)", t.pos)
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (condition.Node, error) {
	colTok, err := p.expect(tokIdentifier, "column name")
	if err != nil {
		return nil, err
	}
	col := colTok.value
	if err := ValidateIdentifier(col); err != nil {
		return nil, fmt.Errorf("invalid column name: %w", err)
	}

	opTok := p.advance()
	if opTok == nil {
		return nil, fmt.Errorf("unexpected end of filter after column %q", col)
	}
	leaf := func(op condition.Operator, v any) *condition.Leaf {
		return &condition.Leaf{Field: col, Operator: op, Value: v}
	}

	switch opTok.typ {
	case tokOperator:
		v, err := p.parseValue()
		if err != nil {
			return nil, fmt.Errorf("after %s %s: %w", col, opTok.value, err)
		}
		op := condition.Operator(opTok.value)
		if op == "<>" {
			op = condition.OpNe
		}
		return leaf(op, v), nil

	case tokIS:
		if next := p.peek(); next != nil && next.typ == tokNOT {
			return nil, fmt.Errorf("IS NOT NULL is not supported (position %d)", next.pos)
		}
		if _, err := p.expect(tokNULL, "NULL"); err != nil {
			return nil, fmt.Errorf("after %s IS: %w", col, err)
		}
		return leaf(condition.OpIsNull, nil), nil

	case tokIN:
		values, err := p.parseList()
		if err != nil {
			return nil, fmt.Errorf("in %s IN list: %w", col, err)
		}
		return leaf(condition.OpIn, values), nil

	case tokLIKE:
		v, err := p.parseString()
		if err != nil {
			return nil, fmt.Errorf("after %s LIKE: %w", col, err)
		}
		return leaf(condition.OpLike, v), nil

	case tokBETWEEN:
		low, err := p.parseValue()
		if err != nil {
			return nil, fmt.Errorf("lower bound of %s BETWEEN: %w", col, err)
		}
		if _, err := p.expect(tokAND, "AND"); err != nil {
			return nil, fmt.Errorf("in %s BETWEEN: %w", col, err)
		}
		high, err := p.parseValue()
		if err != nil {
			return nil, fmt.Errorf("upper bound of %s BETWEEN: %w", col, err)
		}
		return leaf(condition.OpBetween, []any{low, high}), nil

	case tokCONTAINS:
		s, err := p.parseString()
		if err != nil {
			return nil, fmt.Errorf("after %s CONTAINS: %w", col, err)
		}
		return leaf(condition.OpLike, "%"+s+"%"), nil

	case tokSTARTS, tokENDS:
		if _, err := p.expect(tokWITH, "WITH"); err != nil {
			return nil, fmt.Errorf("after %s %s: %w", col, opTok.value, err)
		}
		s, err := p.parseString()
		if err != nil {
			return nil, fmt.Errorf("after %s %s WITH: %w", col, opTok.value, err)
		}
		if opTok.typ == tokSTARTS {
			return leaf(condition.OpLike, s+"%"), nil
		}
		return leaf(condition.OpLike, "%"+s), nil

	case tokNOT:
		return nil, fmt.Errorf("NOT is not supported (position %d)", opTok.pos)
	}
	return nil, fmt.Errorf("unexpected token %q after column %q at position %d", opTok.value, col, opTok.pos)
}

func (p *parser) parseList() ([]any, error) {
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var values []any
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		values = append(values, v)

		t := p.advance()
		if t == nil {
			return nil, fmt.Errorf("unexpected end of filter, expected ',' or ')'")
		}
		switch t.typ {
		case tokComma:
			continue
		case tokRParen:
			return values, nil
		}
		return nil, fmt.Errorf("expected ',' or ')' but got %q", t.value)
	}
}

func (p *parser) parseString() (string, error) {
	t, err := p.expect(tokString, "a quoted string")
	if err != nil {
		return "", err
	}
	return t.value, nil
}

// parseValue returns a string, int64 or float64.
func (p *parser) parseValue() (any, error) {
	t := p.advance()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of filter, expected a value")
	}
	switch t.typ {
	case tokString:
		return t.value, nil
	case tokNumber:
		if !strings.Contains(t.value, ".") {
			if n, err := strconv.ParseInt(t.value, 10, 64); err == nil {
				return n, nil
			}
		}
		f, err := strconv.ParseFloat(t.value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t.value, err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("expected a value (string or number), got %q at position %d", t.value, t.pos)
}
