// Package influxql parses the InfluxQL subset produced by the mapper's
// statement renderer, so embedded stores can execute it.
package influxql

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Op is a comparison operator.
type Op string

const (
	OpEq    Op = "="
	OpNotEq Op = "!="
	OpLt    Op = "<"
	OpLte   Op = "<="
	OpGt    Op = ">"
	OpGte   Op = ">="
)

// Selector is one projected column. Func is AggNone for a raw column;
// Name is "*" for a wildcard.
type Selector struct {
	Name string
	Func AggFunc
}

// Column returns the result column name of the selector.
func (s Selector) Column() string {
	if s.Func != AggNone {
		return s.Func.String()
	}
	return s.Name
}

// Condition is a comparison between a tag or field and a literal. Value is
// a string, int64, float64 or bool.
type Condition struct {
	Key   string
	Op    Op
	Value any
}

// Statement is a parsed SELECT or DELETE.
type Statement struct {
	Delete      bool
	Measurement string
	Selectors   []Selector
	Conditions  []Condition
	// Start and End bound time inclusively, in nanoseconds.
	Start      int64
	End        int64
	GroupBy    []string
	Window     time.Duration
	Descending bool
	Limit      int
	Offset     int
}

// Aggregate reports whether the statement selects aggregates.
func (s *Statement) Aggregate() bool {
	return len(s.Selectors) > 0 && s.Selectors[0].Func != AggNone
}

// Wildcard reports whether every column is selected.
func (s *Statement) Wildcard() bool {
	if len(s.Selectors) == 0 {
		return true
	}
	for _, sel := range s.Selectors {
		if sel.Name == "*" && sel.Func == AggNone {
			return true
		}
	}
	return false
}

type parser struct {
	tokens []token
	pos    int
}

// Parse parses a single statement.
// Example: SELECT mean("value") FROM "cpu" WHERE "host" = 'a' AND time >= now() - 1h GROUP BY "host" LIMIT 10
func Parse(input string) (*Statement, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errors.New("empty query")
	}
	p := &parser{tokens: tokens}
	stmt := &Statement{Start: math.MinInt64, End: math.MaxInt64}

	switch {
	case p.keyword("SELECT"):
		if err := p.parseSelectors(stmt); err != nil {
			return nil, err
		}
	case p.keyword("DELETE"):
		stmt.Delete = true
	default:
		return nil, fmt.Errorf("expected SELECT or DELETE, got %s", p.peekText())
	}

	if !p.keyword("FROM") {
		return nil, fmt.Errorf("expected FROM, got %s", p.peekText())
	}
	m, ok := p.ident()
	if !ok {
		return nil, errors.New("expected measurement")
	}
	stmt.Measurement = m

	if p.keyword("WHERE") {
		if err := p.parseWhere(stmt); err != nil {
			return nil, err
		}
	}
	if !stmt.Delete {
		if err := p.parseTail(stmt); err != nil {
			return nil, err
		}
	}
	p.punct(";")
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("unexpected %s", p.peekText())
	}
	return stmt, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) peekText() string {
	if t, ok := p.peek(); ok {
		return t.String()
	}
	return "end of query"
}

func (p *parser) keyword(kw string) bool {
	t, ok := p.peek()
	if ok && t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) punct(s string) bool {
	t, ok := p.peek()
	if ok && t.kind == tokPunct && t.text == s {
		p.pos++
		return true
	}
	return false
}

func (p *parser) ident() (string, bool) {
	t, ok := p.peek()
	if ok && (t.kind == tokIdent || t.kind == tokQuotedIdent) {
		p.pos++
		return t.text, true
	}
	return "", false
}

func (p *parser) parseSelectors(stmt *Statement) error {
	for {
		sel, err := p.parseSelector()
		if err != nil {
			return err
		}
		stmt.Selectors = append(stmt.Selectors, sel)
		if !p.punct(",") {
			break
		}
	}

	agg := stmt.Selectors[0].Func != AggNone
	for _, sel := range stmt.Selectors[1:] {
		if (sel.Func != AggNone) != agg {
			return errors.New("mixing aggregate and non-aggregate selectors")
		}
	}
	return nil
}

func (p *parser) parseSelector() (Selector, error) {
	if p.punct("*") {
		return Selector{Name: "*"}, nil
	}
	t, ok := p.peek()
	if !ok {
		return Selector{}, errors.New("expected selector")
	}
	name, ok := p.ident()
	if !ok {
		return Selector{}, fmt.Errorf("expected selector, got %s", t)
	}
	if t.kind != tokIdent || !p.punct("(") {
		return Selector{Name: name}, nil
	}

	fn := ParseAggFunc(name)
	if fn == AggNone {
		return Selector{}, fmt.Errorf("unsupported function %s()", name)
	}
	arg := "*"
	if !p.punct("*") {
		if arg, ok = p.ident(); !ok {
			return Selector{}, fmt.Errorf("expected argument of %s()", name)
		}
	}
	if !p.punct(")") {
		return Selector{}, fmt.Errorf("expected ) after %s(%s", name, arg)
	}
	return Selector{Name: arg, Func: fn}, nil
}

func (p *parser) parseWhere(stmt *Statement) error {
	for {
		if err := p.parseCondition(stmt); err != nil {
			return err
		}
		if p.keyword("OR") {
			return errors.New("OR is not supported")
		}
		if !p.keyword("AND") {
			return nil
		}
	}
}

func (p *parser) parseCondition(stmt *Statement) error {
	keyTok, _ := p.peek()
	key, ok := p.ident()
	if !ok {
		return fmt.Errorf("expected condition, got %s", p.peekText())
	}
	t, ok := p.peek()
	if !ok || t.kind != tokOp || t.text == "+" || t.text == "-" {
		return fmt.Errorf("expected operator after %s", key)
	}
	p.pos++
	op := Op(t.text)

	if keyTok.kind == tokIdent && strings.EqualFold(key, "time") {
		ts, err := p.parseTime()
		if err != nil {
			return err
		}
		return applyTimeBound(stmt, op, ts)
	}

	v, err := p.parseLiteral()
	if err != nil {
		return fmt.Errorf("condition on %s: %w", key, err)
	}
	stmt.Conditions = append(stmt.Conditions, Condition{Key: key, Op: op, Value: v})
	return nil
}

func applyTimeBound(stmt *Statement, op Op, ts int64) error {
	switch op {
	case OpGte:
		stmt.Start = max(stmt.Start, ts)
	case OpGt:
		stmt.Start = max(stmt.Start, ts+1)
	case OpLte:
		stmt.End = min(stmt.End, ts)
	case OpLt:
		stmt.End = min(stmt.End, ts-1)
	case OpEq:
		stmt.Start = max(stmt.Start, ts)
		stmt.End = min(stmt.End, ts)
	default:
		return fmt.Errorf("unsupported time operator %s", op)
	}
	return nil
}

// parseTime reads an epoch in nanoseconds, an RFC3339 string, or
// now() with an optional duration offset.
func (p *parser) parseTime() (int64, error) {
	t, ok := p.peek()
	if !ok {
		return 0, errors.New("expected time value")
	}
	switch {
	case t.kind == tokString:
		p.pos++
		parsed, err := time.Parse(time.RFC3339Nano, t.text)
		if err != nil {
			return 0, fmt.Errorf("invalid time %q", t.text)
		}
		return parsed.UnixNano(), nil

	case t.kind == tokIdent && strings.EqualFold(t.text, "now"):
		p.pos++
		if !p.punct("(") || !p.punct(")") {
			return 0, errors.New("expected now()")
		}
		expr := "now()"
		if sign, ok := p.peek(); ok && sign.kind == tokOp && (sign.text == "+" || sign.text == "-") {
			p.pos++
			d, ok := p.peek()
			if !ok || d.kind != tokNumber {
				return 0, errors.New("expected duration after now()")
			}
			p.pos++
			expr += sign.text + d.text
		}
		return ParseTimeExpression(expr)
	}

	neg := p.sign()
	t, ok = p.peek()
	if !ok || t.kind != tokNumber {
		return 0, fmt.Errorf("invalid time value %s", p.peekText())
	}
	p.pos++
	ns, err := strconv.ParseInt(t.text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid time value %s", t.text)
	}
	if neg {
		ns = -ns
	}
	return ns, nil
}

func (p *parser) sign() bool {
	t, ok := p.peek()
	if ok && t.kind == tokOp && (t.text == "-" || t.text == "+") {
		p.pos++
		return t.text == "-"
	}
	return false
}

func (p *parser) parseLiteral() (any, error) {
	t, ok := p.peek()
	if !ok {
		return nil, errors.New("expected value")
	}
	switch t.kind {
	case tokString:
		p.pos++
		return t.text, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			p.pos++
			return true, nil
		case "false":
			p.pos++
			return false, nil
		}
		return nil, fmt.Errorf("unexpected %s", t)
	}

	neg := p.sign()
	t, ok = p.peek()
	if !ok || t.kind != tokNumber {
		return nil, fmt.Errorf("expected value, got %s", p.peekText())
	}
	p.pos++
	if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
		if neg {
			i = -i
		}
		return i, nil
	}
	f, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %s", t.text)
	}
	if neg {
		f = -f
	}
	return f, nil
}

func (p *parser) parseTail(stmt *Statement) error {
	if p.keyword("GROUP") {
		if !p.keyword("BY") {
			return errors.New("expected BY")
		}
		for {
			t, _ := p.peek()
			name, ok := p.ident()
			if !ok {
				return errors.New("expected GROUP BY key")
			}
			if t.kind == tokIdent && strings.EqualFold(name, "time") && p.punct("(") {
				d, ok := p.peek()
				if !ok || d.kind != tokNumber {
					return errors.New("expected time(<duration>)")
				}
				p.pos++
				window, err := time.ParseDuration(d.text)
				if err != nil || window <= 0 {
					return fmt.Errorf("invalid window %s", d.text)
				}
				if !p.punct(")") {
					return errors.New("expected ) after window")
				}
				stmt.Window = window
			} else {
				stmt.GroupBy = append(stmt.GroupBy, name)
			}
			if !p.punct(",") {
				break
			}
		}
		if stmt.Window > 0 && !stmt.Aggregate() {
			return errors.New("GROUP BY time requires an aggregate")
		}
	}

	if p.keyword("ORDER") {
		if !p.keyword("BY") || !p.keyword("time") {
			return errors.New("expected ORDER BY time")
		}
		if p.keyword("DESC") {
			stmt.Descending = true
		} else {
			p.keyword("ASC")
		}
	}

	var err error
	if p.keyword("LIMIT") {
		if stmt.Limit, err = p.count("LIMIT"); err != nil {
			return err
		}
	}
	if p.keyword("OFFSET") {
		if stmt.Offset, err = p.count("OFFSET"); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) count(clause string) (int, error) {
	t, ok := p.peek()
	if !ok || t.kind != tokNumber {
		return 0, fmt.Errorf("expected %s value", clause)
	}
	p.pos++
	n, err := strconv.Atoi(t.text)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s value %s", clause, t.text)
	}
	return n, nil
}

// ParseAggFunc parses an aggregation function name.
func ParseAggFunc(token string) AggFunc {
	switch strings.ToLower(token) {
	case "count":
		return AggCount
	case "sum":
		return AggSum
	case "mean":
		return AggMean
	case "min":
		return AggMin
	case "max":
		return AggMax
	case "stddev":
		return AggStddev
	case "spread":
		return AggSpread
	case "first":
		return AggFirst
	case "last":
		return AggLast
	default:
		return AggNone
	}
}

// ParseTimeExpression parses now() with an optional offset, such as
// "now()-1h", or an epoch in nanoseconds.
func ParseTimeExpression(value string) (int64, error) {
	value = strings.ReplaceAll(strings.TrimSpace(value), " ", "")
	if rest, ok := strings.CutPrefix(value, "now()"); ok {
		now := time.Now()
		if rest == "" {
			return now.UnixNano(), nil
		}
		dur, err := time.ParseDuration(rest[1:])
		if err != nil {
			return 0, err
		}
		if rest[0] == '-' {
			dur = -dur
		} else if rest[0] != '+' {
			return 0, fmt.Errorf("invalid time expression %q", value)
		}
		return now.Add(dur).UnixNano(), nil
	}
	if ts, err := strconv.ParseInt(value, 10, 64); err == nil {
		return ts, nil
	}
	return 0, fmt.Errorf("invalid time expression %q", value)
}
