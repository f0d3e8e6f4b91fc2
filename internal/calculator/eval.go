// Package calculator implements the calculator tool: a small, safe
// evaluator for arithmetic and summary statistics. Expressions can only
// call the functions in the table below; nothing else is reachable.
package calculator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// value is either a number or a list of numbers.
type value struct {
	num    float64
	list   []float64
	isList bool
}

func number(f float64) value { return value{num: f} }

// Eval evaluates expr and returns its numeric result.
func Eval(expr string) (float64, error) {
	toks, err := lex(expr)
	if err != nil {
		return 0, err
	}
	p := &parser{toks: toks}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return 0, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
	if v.isList {
		return 0, errors.New("result is a list; apply a function such as sum or mean")
	}
	if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
		return 0, errors.New("result is not a finite number")
	}
	return v.num, nil
}

// Format renders a result the way the tool reports it: whole numbers
// without a fractional part, everything else in shortest form.
func Format(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokIdent
	tokOp
)

type token struct {
	kind tokKind
	text string
	num  float64
	pos  int
}

func lex(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case unicode.IsDigit(c) || c == '.':
			j := i
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.' || s[j] == '_') {
				j++
			}
			if j < len(s) && (s[j] == 'e' || s[j] == 'E') {
				k := j + 1
				if k < len(s) && (s[k] == '+' || s[k] == '-') {
					k++
				}
				if k < len(s) && s[k] >= '0' && s[k] <= '9' {
					for k < len(s) && s[k] >= '0' && s[k] <= '9' {
						k++
					}
					j = k
				}
			}
			f, err := strconv.ParseFloat(strings.ReplaceAll(s[i:j], "_", ""), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", s[i:j])
			}
			toks = append(toks, token{kind: tokNum, text: s[i:j], num: f, pos: i})
			i = j
		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < len(s) && (unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j])) || s[j] == '_') {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: s[i:j], pos: i})
			i = j
		default:
			op := string(c)
			if i+1 < len(s) && (s[i:i+2] == "**" || s[i:i+2] == "//") {
				op = s[i : i+2]
			}
			if !strings.Contains("+-*/%()[],", string(c)) {
				return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(s)}), nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(op string) bool {
	if t := p.peek(); t.kind == tokOp && t.text == op {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(op string) error {
	if !p.accept(op) {
		t := p.peek()
		if t.kind == tokEOF {
			return fmt.Errorf("expected %q at end of expression", op)
		}
		return fmt.Errorf("expected %q at position %d, found %q", op, t.pos, t.text)
	}
	return nil
}

// expr := term (('+' | '-') term)*
func (p *parser) expr() (value, error) {
	left, err := p.term()
	if err != nil {
		return value{}, err
	}
	for {
		var op string
		switch {
		case p.accept("+"):
			op = "+"
		case p.accept("-"):
			op = "-"
		default:
			return left, nil
		}
		right, err := p.term()
		if err != nil {
			return value{}, err
		}
		if left, err = arith(op, left, right); err != nil {
			return value{}, err
		}
	}
}

// term := unary (('*' | '/' | '//' | '%') unary)*
func (p *parser) term() (value, error) {
	left, err := p.unary()
	if err != nil {
		return value{}, err
	}
	for {
		op := ""
		for _, candidate := range []string{"*", "/", "//", "%"} {
			if p.accept(candidate) {
				op = candidate
				break
			}
		}
		if op == "" {
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return value{}, err
		}
		if left, err = arith(op, left, right); err != nil {
			return value{}, err
		}
	}
}

// unary := ('+' | '-') unary | power
func (p *parser) unary() (value, error) {
	switch {
	case p.accept("-"):
		v, err := p.unary()
		if err != nil {
			return value{}, err
		}
		return arith("-", number(0), v)
	case p.accept("+"):
		return p.unary()
	}
	return p.power()
}

// power := primary ('**' unary)?
func (p *parser) power() (value, error) {
	base, err := p.primary()
	if err != nil {
		return value{}, err
	}
	if !p.accept("**") {
		return base, nil
	}
	exp, err := p.unary()
	if err != nil {
		return value{}, err
	}
	return arith("**", base, exp)
}

// primary := number | name | name '(' args ')' | '(' expr ')' | '[' args ']'
func (p *parser) primary() (value, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		return number(t.num), nil

	case tokIdent:
		if p.accept("(") {
			args, err := p.args(")")
			if err != nil {
				return value{}, err
			}
			return call(t.text, args)
		}
		if c, ok := constants[t.text]; ok {
			return number(c), nil
		}
		return value{}, fmt.Errorf("name %q is not defined", t.text)

	case tokOp:
		switch t.text {
		case "(":
			v, err := p.expr()
			if err != nil {
				return value{}, err
			}
			return v, p.expect(")")
		case "[":
			items, err := p.args("]")
			if err != nil {
				return value{}, err
			}
			list := make([]float64, 0, len(items))
			for _, it := range items {
				if it.isList {
					return value{}, errors.New("nested lists are not supported")
				}
				list = append(list, it.num)
			}
			return value{list: list, isList: true}, nil
		}
	case tokEOF:
		return value{}, errors.New("unexpected end of expression")
	}
	return value{}, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
}

// args parses a comma separated list up to the closing delimiter.
func (p *parser) args(closing string) ([]value, error) {
	var out []value
	if p.accept(closing) {
		return out, nil
	}
	for {
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		if p.accept(closing) {
			return out, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
		// Trailing comma.
		if p.accept(closing) {
			return out, nil
		}
	}
}

func arith(op string, a, b value) (value, error) {
	if a.isList || b.isList {
		return value{}, fmt.Errorf("unsupported operand for %s: list", op)
	}
	x, y := a.num, b.num
	switch op {
	case "+":
		return number(x + y), nil
	case "-":
		return number(x - y), nil
	case "*":
		return number(x * y), nil
	case "/":
		if y == 0 {
			return value{}, errors.New("division by zero")
		}
		return number(x / y), nil
	case "//":
		if y == 0 {
			return value{}, errors.New("division by zero")
		}
		return number(math.Floor(x / y)), nil
	case "%":
		if y == 0 {
			return value{}, errors.New("modulo by zero")
		}
		m := math.Mod(x, y)
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return number(m), nil
	case "**":
		if x == 0 && y < 0 {
			return value{}, errors.New("zero cannot be raised to a negative power")
		}
		r := math.Pow(x, y)
		if math.IsNaN(r) {
			return value{}, errors.New("math domain error")
		}
		return number(r), nil
	}
	return value{}, fmt.Errorf("unknown operator %q", op)
}
