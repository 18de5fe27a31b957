package influxql

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"
)

// AggFunc enumerates aggregation functions.
type AggFunc int

const (
	AggNone AggFunc = iota
	AggCount
	AggSum
	AggMean
	AggMin
	AggMax
	AggStddev
	AggSpread
	AggFirst
	AggLast
)

func (a AggFunc) String() string {
	switch a {
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggMean:
		return "mean"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggStddev:
		return "stddev"
	case AggSpread:
		return "spread"
	case AggFirst:
		return "first"
	case AggLast:
		return "last"
	default:
		return "none"
	}
}

// AggState accumulates one column of one bucket.
type AggState struct {
	Count   int
	Numeric int
	Sum     float64
	Min     float64
	Max     float64
	First   any
	Last    any
	FirstTs int64
	LastTs  int64
	Mean    float64
	M2      float64
}

// Add folds a sample into the state. Nil values are ignored; non-numeric
// values only count toward count, first and last.
func (s *AggState) Add(ts int64, v any) {
	if v == nil {
		return
	}
	if s.Count == 0 || ts < s.FirstTs {
		s.First, s.FirstTs = v, ts
	}
	if s.Count == 0 || ts >= s.LastTs {
		s.Last, s.LastTs = v, ts
	}
	s.Count++

	f, ok := Numeric(v)
	if !ok {
		return
	}
	if s.Numeric == 0 {
		s.Min, s.Max = f, f
	}
	s.Numeric++
	s.Sum += f
	s.Min = math.Min(s.Min, f)
	s.Max = math.Max(s.Max, f)

	// Welford
	delta := f - s.Mean
	s.Mean += delta / float64(s.Numeric)
	s.M2 += delta * (f - s.Mean)
}

// Value computes fn over the state. Numeric functions over a column
// without numeric samples yield nil.
func (s *AggState) Value(fn AggFunc) any {
	switch fn {
	case AggCount:
		return int64(s.Count)
	case AggFirst:
		return s.First
	case AggLast:
		return s.Last
	}
	if s.Numeric == 0 {
		return nil
	}
	switch fn {
	case AggSum:
		return s.Sum
	case AggMean:
		return s.Sum / float64(s.Numeric)
	case AggMin:
		return s.Min
	case AggMax:
		return s.Max
	case AggSpread:
		return s.Max - s.Min
	case AggStddev:
		if s.Numeric <= 1 {
			return nil
		}
		return math.Sqrt(s.M2 / float64(s.Numeric-1))
	}
	return nil
}

// BucketStart returns the start of the window containing ts. A zero window
// puts every sample in the bucket at start.
func BucketStart(ts int64, window time.Duration, start int64) int64 {
	if window <= 0 {
		return start
	}
	w := int64(window)
	b := ts / w * w
	if ts < 0 && ts%w != 0 {
		b -= w
	}
	return b
}

// Buckets holds aggregation state by time bucket and column.
type Buckets struct {
	states map[int64]map[string]*AggState
}

// NewBuckets creates an empty bucket set.
func NewBuckets() *Buckets {
	return &Buckets{states: make(map[int64]map[string]*AggState)}
}

// Add folds v into the state of column in bucket.
func (b *Buckets) Add(bucket int64, column string, ts int64, v any) {
	cols, ok := b.states[bucket]
	if !ok {
		cols = make(map[string]*AggState)
		b.states[bucket] = cols
	}
	st, ok := cols[column]
	if !ok {
		st = &AggState{}
		cols[column] = st
	}
	st.Add(ts, v)
}

// Keys returns the bucket starts in ascending order.
func (b *Buckets) Keys() []int64 {
	keys := make([]int64, 0, len(b.states))
	for k := range b.states {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// State returns the state of column in bucket, or an empty state.
func (b *Buckets) State(bucket int64, column string) *AggState {
	if st, ok := b.states[bucket][column]; ok {
		return st
	}
	return &AggState{}
}

// MakeGroupKey creates a group key from tags and group by keys. Missing
// tags group as empty values.
func MakeGroupKey(tags map[string]string, groupBy []string) string {
	if len(groupBy) == 0 {
		return ""
	}
	parts := make([]string, 0, len(groupBy))
	for _, key := range groupBy {
		parts = append(parts, key+"="+tags[key])
	}
	return strings.Join(parts, "|")
}

// Numeric returns v as a float64 when it is a number.
func Numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
