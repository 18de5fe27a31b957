package odm

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Point is one measurement sample in wire form.
type Point struct {
	Measurement string
	// Tags are indexed string dimensions.
	Tags map[string]string
	// Fields hold int64, uint64, float64, bool or string values.
	Fields map[string]any
	// Time is the sample time. The zero value means "now" on the server.
	Time time.Time
}

// Validation errors for wire points.
var (
	ErrInvalidMeasurement = errors.New("invalid measurement name")
	ErrNoFields           = errors.New("point has no fields")
	ErrInvalidFieldValue  = errors.New("invalid field value")
)

// Validate checks the constraints every store enforces on a point.
func (p *Point) Validate() error {
	if p.Measurement == "" || strings.ContainsAny(p.Measurement, "\n") {
		return ErrInvalidMeasurement
	}
	if len(p.Fields) == 0 {
		return ErrNoFields
	}
	for _, v := range p.Fields {
		switch v.(type) {
		case int64, uint64, float64, bool, string:
		default:
			return ErrInvalidFieldValue
		}
	}
	return nil
}

// SeriesKey returns the canonical "measurement,tag=value,..." key of the
// point, tags sorted by key.
func (p *Point) SeriesKey() string {
	return seriesKey(p.Measurement, p.Tags)
}

func seriesKey(measurement string, tags map[string]string) string {
	if len(tags) == 0 {
		return measurement
	}
	keys := sortedKeys(tags)
	var b strings.Builder
	b.WriteString(measurement)
	for _, k := range keys {
		b.WriteByte(',')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Series is one named series of a query result, in the shape of the
// InfluxDB JSON API.
type Series struct {
	Name    string            `json:"name"`
	Tags    map[string]string `json:"tags,omitempty"`
	Columns []string          `json:"columns"`
	Values  [][]any           `json:"values,omitempty"`
}

// Result is the raw outcome of a query: an ordered sequence of series.
type Result struct {
	Series []Series
}

// Len returns the number of rows across all series.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	n := 0
	for i := range r.Series {
		n += len(r.Series[i].Values)
	}
	return n
}

// Rows flattens the result into rows, series by series.
func (r *Result) Rows() []Row {
	if r == nil {
		return nil
	}
	rows := make([]Row, 0, r.Len())
	for i := range r.Series {
		rows = append(rows, r.Series[i].Rows()...)
	}
	return rows
}

// Rows returns a Row view for every value tuple of the series.
func (s *Series) Rows() []Row {
	if len(s.Values) == 0 {
		return nil
	}
	index := make(map[string]int, len(s.Columns))
	for i, c := range s.Columns {
		index[c] = i
	}
	rows := make([]Row, len(s.Values))
	for i, vals := range s.Values {
		rows[i] = Row{series: s, index: index, values: vals}
	}
	return rows
}

// Row is one sample of a series: named scalar values in column order.
type Row struct {
	series *Series
	index  map[string]int
	values []any
}

// Get returns the value of column name. Series tags (from GROUP BY) are
// consulted when the row has no such column.
func (r Row) Get(name string) (any, bool) {
	if i, ok := r.index[name]; ok && i < len(r.values) {
		return r.values[i], true
	}
	if v, ok := r.series.Tags[name]; ok {
		return v, true
	}
	return nil, false
}

// Columns returns the row's column names followed by series tag keys that
// are not columns.
func (r Row) Columns() []string {
	cols := append([]string(nil), r.series.Columns...)
	for _, k := range sortedKeys(r.series.Tags) {
		if _, ok := r.index[k]; !ok {
			cols = append(cols, k)
		}
	}
	return cols
}
