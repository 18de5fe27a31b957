package odm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// QueryState is the lifecycle position of a Query.
type QueryState int

const (
	// QueryBuilding accepts builder calls.
	QueryBuilding QueryState = iota
	// QueryExecuted holds the raw transport result.
	QueryExecuted
	// QueryHydrated has handed at least one hydrated result to the caller.
	QueryHydrated
)

func (s QueryState) String() string {
	switch s {
	case QueryBuilding:
		return "building"
	case QueryExecuted:
		return "executed"
	case QueryHydrated:
		return "hydrated"
	default:
		return "unknown"
	}
}

// Query binds class metadata to a statement. The transport is called on the
// first Execute only; the raw result is kept, so asking for another
// hydration mode re-hydrates without a second round trip.
//
// A Query is not safe for concurrent use.
type Query struct {
	meta    *ClassMetadata
	types   *TypeRegistry
	querier Querier

	stmt   Statement
	column string
	state  QueryState
	result *Result
	err    error
}

func newQuery(meta *ClassMetadata, types *TypeRegistry, querier Querier) *Query {
	return &Query{
		meta:    meta,
		types:   types,
		querier: querier,
		stmt:    Statement{Measurement: meta.Measurement},
	}
}

// Metadata returns the bound class metadata.
func (q *Query) Metadata() *ClassMetadata {
	return q.meta
}

// State returns the current lifecycle state.
func (q *Query) State() QueryState {
	return q.state
}

// Statement returns a copy of the statement that will be sent.
func (q *Query) Statement() Statement {
	return q.stmt
}

// String renders the statement.
func (q *Query) String() string {
	return q.stmt.String()
}

// Err returns the first builder error, if any.
func (q *Query) Err() error {
	return q.err
}

func (q *Query) building() bool {
	if q.state != QueryBuilding {
		q.fail(ErrQueryState)
		return false
	}
	return q.err == nil
}

func (q *Query) fail(err error) {
	if q.err == nil {
		q.err = err
	}
}

// Select restricts the columns. Names are mapped field names; function
// calls such as count(value) and * pass through.
func (q *Query) Select(fields ...string) *Query {
	if !q.building() {
		return q
	}
	for _, name := range fields {
		if name == "*" || name == "time" || strings.Contains(name, "(") {
			q.stmt.Fields = append(q.stmt.Fields, name)
			continue
		}
		f, ok := q.meta.Field(name)
		if !ok {
			q.fail(fmt.Errorf("select: %s has no field %q", q.meta.Name, name))
			return q
		}
		q.stmt.Fields = append(q.stmt.Fields, f.column())
	}
	return q
}

// Where adds a condition on a mapped field. The value is converted through
// the field's logical type, so tags compare as strings.
func (q *Query) Where(field string, op Operator, value any) *Query {
	if !q.building() {
		return q
	}
	if !op.valid() {
		q.fail(fmt.Errorf("where: invalid operator %q", op))
		return q
	}

	if field == "time" || (q.meta.Timestamp() != nil && q.meta.Timestamp().Name == field) {
		t, err := asTime(value)
		if err != nil {
			q.fail(fmt.Errorf("where time: %w", err))
			return q
		}
		q.stmt.Conditions = append(q.stmt.Conditions, Condition{Key: "time", Op: op, Value: t})
		return q
	}

	f, ok := q.meta.Field(field)
	if !ok {
		q.fail(fmt.Errorf("where: %s has no field %q", q.meta.Name, field))
		return q
	}
	w, err := q.wireValue(f, value)
	if err != nil {
		q.fail(fmt.Errorf("where %s: %w", field, err))
		return q
	}
	q.stmt.Conditions = append(q.stmt.Conditions, Condition{Key: f.Name, Op: op, Value: w})
	return q
}

func (q *Query) wireValue(f *MappingField, value any) (any, error) {
	conv, err := q.types.Lookup(f.Type)
	if err != nil {
		return nil, err
	}
	w, err := conv.ToWire(value)
	if err != nil {
		return nil, err
	}
	if f.IsTagLike() {
		return asString(w)
	}
	return wireFieldValue(w)
}

// Between bounds the sample time inclusively. A zero bound is open.
func (q *Query) Between(start, end time.Time) *Query {
	if !q.building() {
		return q
	}
	q.stmt.Start = start
	q.stmt.End = end
	return q
}

// GroupBy groups the result into one series per combination of tag values.
func (q *Query) GroupBy(tags ...string) *Query {
	if !q.building() {
		return q
	}
	for _, name := range tags {
		f, ok := q.meta.Field(name)
		if !ok || !f.IsTagLike() {
			q.fail(fmt.Errorf("group by: %s has no tag %q", q.meta.Name, name))
			return q
		}
		q.stmt.GroupBy = append(q.stmt.GroupBy, f.Name)
	}
	return q
}

// OrderByTimeDesc returns the newest samples first.
func (q *Query) OrderByTimeDesc() *Query {
	if q.building() {
		q.stmt.Descending = true
	}
	return q
}

// Limit caps the number of rows per series.
func (q *Query) Limit(n int) *Query {
	if q.building() {
		q.stmt.Limit = n
	}
	return q
}

// Offset skips rows per series.
func (q *Query) Offset(n int) *Query {
	if q.building() {
		q.stmt.Offset = n
	}
	return q
}

// ScalarColumn designates the column extracted by the scalar modes.
func (q *Query) ScalarColumn(name string) *Query {
	if !q.building() {
		return q
	}
	if f, ok := q.meta.Field(name); ok {
		name = f.column()
	}
	q.column = name
	return q
}

// Raw replaces the built statement with an InfluxQL string. The result is
// still hydrated with the bound class.
func (q *Query) Raw(influxql string) *Query {
	if q.building() {
		q.stmt.Raw = influxql
	}
	return q
}

// Execute runs the query once and hydrates the result with mode. An unknown
// mode fails before the transport is called.
func (q *Query) Execute(ctx context.Context, mode HydrationMode) (any, error) {
	h, err := NewHydrator(mode, q.types, q.column)
	if err != nil {
		return nil, err
	}
	if q.state == QueryBuilding && q.err != nil {
		return nil, q.err
	}
	if q.meta.MappedSuperclass {
		return nil, &ClassNotMappedError{Class: q.meta.Name}
	}

	if q.result == nil {
		res, err := q.querier.Query(ctx, &q.stmt)
		if err != nil {
			return nil, err
		}
		if res == nil {
			res = &Result{}
		}
		q.result = res
		q.state = QueryExecuted
	}

	out, err := h.Hydrate(q.result, q.meta)
	if err != nil {
		return nil, err
	}
	q.state = QueryHydrated
	return out, nil
}

// GetResult executes in object mode.
func (q *Query) GetResult(ctx context.Context) ([]any, error) {
	out, err := q.Execute(ctx, HydrateObject)
	if err != nil {
		return nil, err
	}
	return out.([]any), nil
}

// GetArrayResult executes in array mode.
func (q *Query) GetArrayResult(ctx context.Context) ([]map[string]any, error) {
	out, err := q.Execute(ctx, HydrateArray)
	if err != nil {
		return nil, err
	}
	return out.([]map[string]any), nil
}

// GetScalarResult executes in scalar mode.
func (q *Query) GetScalarResult(ctx context.Context) ([]any, error) {
	out, err := q.Execute(ctx, HydrateScalar)
	if err != nil {
		return nil, err
	}
	return out.([]any), nil
}

// GetSingleScalarResult executes in single scalar mode.
func (q *Query) GetSingleScalarResult(ctx context.Context) (any, error) {
	return q.Execute(ctx, HydrateSingleScalar)
}

// Objects executes q in object mode and returns typed instances.
func Objects[T any](ctx context.Context, q *Query) ([]*T, error) {
	out, err := q.GetResult(ctx)
	if err != nil {
		return nil, err
	}
	typed := make([]*T, 0, len(out))
	for _, o := range out {
		t, ok := o.(*T)
		if !ok {
			return nil, fmt.Errorf("query of %s yields %T, not %T", q.meta.Name, o, t)
		}
		typed = append(typed, t)
	}
	return typed, nil
}
