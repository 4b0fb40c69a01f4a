package formula

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"conti/internal/core"
	"conti/internal/log"
)

var (
	// ErrInvalidFormula reports a result that is not a finite number.
	ErrInvalidFormula = errors.New("invalid formula")
	// ErrForbiddenCharacter reports input outside the arithmetic alphabet.
	ErrForbiddenCharacter = errors.New("forbidden character")
	ErrSyntax             = errors.New("syntax error")
)

const maxDepth = 200

// EvalError carries the expression that failed to evaluate.
type EvalError struct {
	Expression string
	Err        error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("formula %q: %v", e.Expression, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Result of one evaluation. Warnings name variables that were missing and read as 0.
type Result struct {
	Value    float64  `json:"value"`
	Warnings []string `json:"warnings,omitempty"`
}

// Evaluate rewrites raw names in expr, checks the alphabet and evaluates the
// expression. Every failure, including an unexpected panic, comes back as an
// *EvalError.
func Evaluate(expr string, ns *Namespace) (res Result, err error) {
	if ns == nil {
		ns = NewNamespace()
	}
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, &EvalError{Expression: expr, Err: fmt.Errorf("%v", r)}
		}
	}()

	if strings.TrimSpace(expr) == "" {
		return Result{}, &EvalError{Expression: expr, Err: core.ErrEmptyExpression}
	}

	src := ns.ToSanitized(expr)
	if err := checkAlphabet(src); err != nil {
		return Result{}, &EvalError{Expression: expr, Err: err}
	}

	p := &parser{src: src, ns: ns}
	p.next()
	v, err := p.expr(0)
	if err == nil && p.tok.kind != tokEOF {
		err = p.errorf("unexpected %q", p.tok.text)
	}
	if err != nil {
		return Result{}, &EvalError{Expression: expr, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Result{}, &EvalError{Expression: expr, Err: ErrInvalidFormula}
	}
	return Result{Value: v, Warnings: p.warnings}, nil
}

func checkAlphabet(s string) error {
	for i, r := range s {
		switch {
		case isIdentChar(r):
		case strings.ContainsRune("+-*/(). \t\n\r", r):
		default:
			return fmt.Errorf("%w %q at offset %d", ErrForbiddenCharacter, r, i)
		}
	}
	return nil
}

// Evaluation is the outcome of one stored formula.
type Evaluation struct {
	Formula  core.Formula `json:"formula"`
	Display  string       `json:"display"`
	Value    float64      `json:"value"`
	Warnings []string     `json:"warnings,omitempty"`
	Err      error        `json:"-"`
	Error    string       `json:"error,omitempty"`
}

// EvaluateAll evaluates every formula against ns. A failing formula is reported in
// its own Evaluation and never affects the others.
func EvaluateAll(formulas []core.Formula, ns *Namespace, logger *log.Logger) []Evaluation {
	out := make([]Evaluation, 0, len(formulas))
	for _, f := range formulas {
		ev := Evaluation{Formula: f, Display: ns.ToDisplay(f.Expression)}
		res, err := Evaluate(f.Expression, ns)
		switch {
		case err != nil:
			ev.Err, ev.Error = err, err.Error()
			if logger != nil {
				logger.Warn("Formula evaluation failed",
					log.FieldFormulaID, f.ID, log.FieldExpression, f.Expression, log.FieldError, err)
			}
		default:
			ev.Value, ev.Warnings = res.Value, res.Warnings
			if logger != nil && len(res.Warnings) > 0 {
				logger.Warn("Formula references unknown variables",
					log.FieldFormulaID, f.ID, "variables", res.Warnings)
			}
		}
		out = append(out, ev)
	}
	return out
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
	pos  int
}

// parser is a recursive-descent evaluator:
//
//	expr    := term (('+'|'-') term)*
//	term    := unary (('*'|'/') unary)*
//	unary   := ('+'|'-') unary | primary
//	primary := number | ident | '(' expr ')'
type parser struct {
	src      string
	pos      int
	tok      token
	ns       *Namespace
	warnings []string
	lexErr   error
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrSyntax, p.tok.pos, fmt.Sprintf(format, args...))
}

func (p *parser) next() {
	for p.pos < len(p.src) && strings.IndexByte(" \t\n\r", p.src[p.pos]) >= 0 {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}
	c := p.src[p.pos]
	switch {
	case isDigit(rune(c)) || c == '.':
		dots := 0
		for p.pos < len(p.src) && (isDigit(rune(p.src[p.pos])) || p.src[p.pos] == '.') {
			if p.src[p.pos] == '.' {
				dots++
			}
			p.pos++
		}
		p.tok = token{kind: tokNum, text: p.src[start:p.pos], pos: start}
		if dots > 1 && p.lexErr == nil {
			p.lexErr = fmt.Errorf("%w at offset %d: malformed number %q", ErrSyntax, start, p.tok.text)
		}
		// An identifier glued to a number ("2x") is not valid.
		if p.pos < len(p.src) && isIdentChar(rune(p.src[p.pos])) && p.lexErr == nil {
			p.lexErr = fmt.Errorf("%w at offset %d: malformed number", ErrSyntax, start)
		}
	case isIdentChar(rune(c)):
		for p.pos < len(p.src) && isIdentChar(rune(p.src[p.pos])) {
			p.pos++
		}
		p.tok = token{kind: tokIdent, text: p.src[start:p.pos], pos: start}
	default:
		p.pos++
		p.tok = token{kind: tokOp, text: string(c), pos: start}
	}
}

func (p *parser) is(op string) bool { return p.tok.kind == tokOp && p.tok.text == op }

func (p *parser) expr(depth int) (float64, error) {
	if depth > maxDepth {
		return 0, p.errorf("expression nested too deeply")
	}
	v, err := p.term(depth)
	if err != nil {
		return 0, err
	}
	for p.is("+") || p.is("-") {
		op := p.tok.text
		p.next()
		r, err := p.term(depth)
		if err != nil {
			return 0, err
		}
		if op == "+" {
			v += r
		} else {
			v -= r
		}
	}
	return v, nil
}

func (p *parser) term(depth int) (float64, error) {
	v, err := p.unary(depth)
	if err != nil {
		return 0, err
	}
	for p.is("*") || p.is("/") {
		op := p.tok.text
		p.next()
		r, err := p.unary(depth)
		if err != nil {
			return 0, err
		}
		if op == "*" {
			v *= r
		} else {
			v /= r
		}
	}
	return v, nil
}

func (p *parser) unary(depth int) (float64, error) {
	if depth > maxDepth {
		return 0, p.errorf("expression nested too deeply")
	}
	if p.is("+") || p.is("-") {
		neg := p.is("-")
		p.next()
		v, err := p.unary(depth + 1)
		if neg {
			v = -v
		}
		return v, err
	}
	return p.primary(depth)
}

func (p *parser) primary(depth int) (float64, error) {
	if p.lexErr != nil {
		return 0, p.lexErr
	}
	tok := p.tok
	switch tok.kind {
	case tokNum:
		v, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return 0, p.errorf("malformed number %q", tok.text)
		}
		p.next()
		return v, p.lexErr
	case tokIdent:
		p.next()
		v, ok := p.ns.Lookup(tok.text)
		if !ok {
			if !slices.Contains(p.warnings, tok.text) {
				p.warnings = append(p.warnings, tok.text)
			}
		}
		return v, p.lexErr
	case tokOp:
		if tok.text == "(" {
			p.next()
			v, err := p.expr(depth + 1)
			if err != nil {
				return 0, err
			}
			if !p.is(")") {
				return 0, p.errorf("missing closing parenthesis")
			}
			p.next()
			return v, p.lexErr
		}
		return 0, p.errorf("unexpected %q", tok.text)
	default:
		return 0, p.errorf("unexpected end of expression")
	}
}
