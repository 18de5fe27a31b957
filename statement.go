package odm

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StatementKind distinguishes reads from deletes.
type StatementKind int

const (
	SelectStatement StatementKind = iota
	DeleteStatement
)

// Operator is a comparison operator of a WHERE condition.
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
)

func (o Operator) valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

// Condition compares a column with a wire value.
type Condition struct {
	Key   string
	Op    Operator
	Value any
}

// Statement is the structured form of a query. String renders it in the
// InfluxQL subset every bundled transport understands.
type Statement struct {
	Kind        StatementKind
	Measurement string
	// Fields are column names or function calls such as count(value).
	// Empty selects every column.
	Fields     []string
	Conditions []Condition
	// Start and End bound time inclusively. Zero values leave the range open.
	Start      time.Time
	End        time.Time
	GroupBy    []string
	Descending bool
	Limit      int
	Offset     int
	// Raw replaces the rendered statement when set.
	Raw string
}

func (s *Statement) String() string {
	if s.Raw != "" {
		return s.Raw
	}
	var b strings.Builder
	if s.Kind == DeleteStatement {
		b.WriteString("DELETE")
	} else {
		b.WriteString("SELECT ")
		if len(s.Fields) == 0 {
			b.WriteString("*")
		}
		for i, f := range s.Fields {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(renderSelector(f))
		}
	}
	b.WriteString(" FROM ")
	b.WriteString(QuoteIdent(s.Measurement))

	var where []string
	for _, c := range s.Conditions {
		where = append(where, renderCondition(c))
	}
	if !s.Start.IsZero() {
		where = append(where, "time >= "+strconv.FormatInt(s.Start.UnixNano(), 10))
	}
	if !s.End.IsZero() {
		where = append(where, "time <= "+strconv.FormatInt(s.End.UnixNano(), 10))
	}
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if s.Kind == DeleteStatement {
		return b.String()
	}

	if len(s.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, g := range s.GroupBy {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(QuoteIdent(g))
		}
	}
	if s.Descending {
		b.WriteString(" ORDER BY time DESC")
	}
	if s.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(s.Limit))
	}
	if s.Offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(s.Offset))
	}
	return b.String()
}

// QuoteIdent double-quotes an identifier.
func QuoteIdent(name string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(name) + `"`
}

// QuoteString single-quotes a string literal.
func QuoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

func renderSelector(f string) string {
	if f == "*" || strings.Contains(f, "(") {
		return f
	}
	return QuoteIdent(f)
}

func renderCondition(c Condition) string {
	key := QuoteIdent(c.Key)
	if c.Key == "time" {
		key = "time"
	}
	return key + " " + string(c.Op) + " " + renderLiteral(c.Value)
}

func renderLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "''"
	case string:
		return QuoteString(x)
	case time.Time:
		return strconv.FormatInt(x.UnixNano(), 10)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return QuoteString(fmt.Sprint(v))
}
