package builtin

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Eval evaluates an arithmetic expression supporting +, -, *, /, %, ^
// (power), parentheses, and unary minus. Operands are decimal numbers.
// Division or modulo by zero and malformed input return errors; nothing is
// ever executed, so arbitrary tool input is safe.
func Eval(expr string) (float64, error) {
	p := &parser{input: expr}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("builtin: unexpected %q at position %d in %q", p.input[p.pos], p.pos, expr)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("builtin: expression %q does not evaluate to a finite number", expr)
	}
	return v, nil
}

// parser is a recursive-descent parser over the grammar:
//
//	expr   = term   { ("+" | "-") term }
//	term   = power  { ("*" | "/" | "%") power }
//	power  = unary  [ "^" power ]            (right-associative)
//	unary  = { "-" | "+" } primary
//	primary = number | "(" expr ")"
type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() (byte, bool) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

func (p *parser) parseExpr() (float64, error) {
	v, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '+' && c != '-') {
			return v, nil
		}
		p.pos++
		rhs, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if c == '+' {
			v += rhs
		} else {
			v -= rhs
		}
	}
}

func (p *parser) parseTerm() (float64, error) {
	v, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '*' && c != '/' && c != '%') {
			return v, nil
		}
		p.pos++
		rhs, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		switch c {
		case '*':
			v *= rhs
		case '/':
			if rhs == 0 {
				return 0, fmt.Errorf("builtin: division by zero")
			}
			v /= rhs
		case '%':
			if rhs == 0 {
				return 0, fmt.Errorf("builtin: modulo by zero")
			}
			v = math.Mod(v, rhs)
		}
	}
}

func (p *parser) parsePower() (float64, error) {
	v, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	c, ok := p.peek()
	if !ok || c != '^' {
		return v, nil
	}
	p.pos++
	exp, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	return math.Pow(v, exp), nil
}

func (p *parser) parseUnary() (float64, error) {
	neg := false
	for {
		c, ok := p.peek()
		if !ok {
			return 0, fmt.Errorf("builtin: unexpected end of expression")
		}
		if c == '-' {
			neg = !neg
			p.pos++
			continue
		}
		if c == '+' {
			p.pos++
			continue
		}
		break
	}
	v, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	if neg {
		v = -v
	}
	return v, nil
}

func (p *parser) parsePrimary() (float64, error) {
	c, ok := p.peek()
	if !ok {
		return 0, fmt.Errorf("builtin: unexpected end of expression")
	}
	if c == '(' {
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		c, ok = p.peek()
		if !ok || c != ')' {
			return 0, fmt.Errorf("builtin: missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= '0' && c <= '9') || c == '.' {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return 0, fmt.Errorf("builtin: expected number at position %d in %q", start, p.input)
	}
	numStr := p.input[start:p.pos]
	if strings.Count(numStr, ".") > 1 {
		return 0, fmt.Errorf("builtin: malformed number %q", numStr)
	}
	v, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("builtin: malformed number %q", numStr)
	}
	return v, nil
}
