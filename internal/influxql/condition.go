package influxql

import "strings"

// Match reports whether v satisfies the condition. present is false when
// the row has no such tag or field: a missing tag compares as an empty
// string, a missing field never matches.
func (c Condition) Match(v any, present bool) bool {
	switch want := c.Value.(type) {
	case string:
		s, ok := v.(string)
		if !present {
			s, ok = "", true
		}
		if !ok {
			return false
		}
		return compare(strings.Compare(s, want), c.Op)

	case bool:
		b, ok := v.(bool)
		if !present || !ok {
			return false
		}
		switch c.Op {
		case OpEq:
			return b == want
		case OpNotEq:
			return b != want
		}
		return false
	}

	if !present {
		return false
	}
	want, ok := Numeric(c.Value)
	if !ok {
		return false
	}
	got, ok := Numeric(v)
	if !ok {
		return false
	}
	switch {
	case got < want:
		return compare(-1, c.Op)
	case got > want:
		return compare(1, c.Op)
	}
	return compare(0, c.Op)
}

func compare(cmp int, op Op) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpNotEq:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	}
	return false
}
