package odm

import (
	"fmt"
)

// ScalarHydrator extracts one designated column from every row.
type ScalarHydrator struct {
	conv valueConverter
	// Column is the designated column. Empty means the first column of
	// each series other than time.
	Column string
}

// Hydrate returns []any with one value per row.
func (h *ScalarHydrator) Hydrate(result *Result, meta *ClassMetadata) (any, error) {
	rows := result.Rows()
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		v, err := h.value(row, meta)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (h *ScalarHydrator) value(row Row, meta *ClassMetadata) (any, error) {
	name := h.Column
	if name == "" {
		name = firstValueColumn(row)
	}
	if name == "" {
		return nil, &HydrationError{Class: className(meta), Field: name, Cause: fmt.Errorf("row has no value column")}
	}
	v, ok, err := h.conv.column(meta, row, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &HydrationError{Class: className(meta), Field: name, Cause: fmt.Errorf("column not in result")}
	}
	return v, nil
}

func firstValueColumn(row Row) string {
	for _, c := range row.series.Columns {
		if c != "time" {
			return c
		}
	}
	return ""
}

func className(meta *ClassMetadata) string {
	if meta == nil {
		return ""
	}
	return meta.Name
}

// SingleScalarHydrator extracts the designated column of the only row.
type SingleScalarHydrator struct {
	ScalarHydrator
}

// Hydrate returns the value itself. It fails with ErrNoResult on an empty
// result and with a NonUniqueResultError on more than one row.
func (h *SingleScalarHydrator) Hydrate(result *Result, meta *ClassMetadata) (any, error) {
	switch n := result.Len(); {
	case n == 0:
		return nil, ErrNoResult
	case n > 1:
		return nil, &NonUniqueResultError{Rows: n}
	}
	return h.value(result.Rows()[0], meta)
}
