package odm

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yariknechyporuk/influxdb-odm/internal/influxql"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// SQLiteConfig configures the embedded SQLite transport.
type SQLiteConfig struct {
	// Path of the database file. ":memory:" keeps everything in process.
	Path string `yaml:"path"`

	// JournalMode sets the SQLite journal mode. Default: WAL.
	JournalMode string `yaml:"journal_mode"`

	// BusyTimeout bounds the wait for a database lock. Default: 5s.
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// MaxConnections caps open connections. Default: 4.
	MaxConnections int `yaml:"max_connections"`
}

// DefaultSQLiteConfig returns the defaults used by DefaultConfig.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:           "odm.db",
		JournalMode:    "WAL",
		BusyTimeout:    5 * time.Second,
		MaxConnections: 4,
	}
}

// SQLiteTransport stores points in a single SQLite table and executes the
// InfluxQL subset rendered by Statement. Points with the same series and
// time are merged field by field, as InfluxDB does.
type SQLiteTransport struct {
	db      *sql.DB
	config  SQLiteConfig
	logger  logrus.FieldLogger
	metrics *TransportMetrics

	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// NewSQLiteTransport opens or creates the database.
func NewSQLiteTransport(config SQLiteConfig, opts ...TransportOption) (*SQLiteTransport, error) {
	def := DefaultSQLiteConfig()
	if config.Path == "" {
		config.Path = def.Path
	}
	if config.JournalMode == "" {
		config.JournalMode = def.JournalMode
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = def.BusyTimeout
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = def.MaxConnections
	}
	o := buildTransportOptions(opts)

	metrics, err := NewTransportMetrics(o.registerer, "sqlite")
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(%s)",
		config.Path, config.BusyTimeout.Milliseconds(), config.JournalMode)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if config.Path == ":memory:" {
		// every connection would see its own empty database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxConnections)
	}

	t := &SQLiteTransport{
		db:      db,
		config:  config,
		logger:  o.logger,
		metrics: metrics,
		now:     time.Now,
	}
	if err := t.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return t, nil
}

func (t *SQLiteTransport) initSchema() error {
	_, err := t.db.Exec(`
		CREATE TABLE IF NOT EXISTS points (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			measurement TEXT NOT NULL,
			series TEXT NOT NULL,
			time INTEGER NOT NULL,
			tags TEXT NOT NULL,   -- JSON object of tag values
			fields TEXT NOT NULL, -- JSON object of field values
			UNIQUE (measurement, series, time)
		);
		CREATE INDEX IF NOT EXISTS idx_points_measurement_time ON points(measurement, time);
	`)
	return err
}

func (t *SQLiteTransport) checkOpen() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}
	return nil
}

// WritePoints stores the batch in one transaction.
func (t *SQLiteTransport) WritePoints(ctx context.Context, points []Point) (err error) {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { t.metrics.observe("write", start, err) }()

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return newTransportError("write", 0, "begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO points (measurement, series, time, tags, fields)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (measurement, series, time) DO UPDATE SET
			fields = json_patch(points.fields, excluded.fields)
	`)
	if err != nil {
		return newTransportError("write", 0, "prepare insert", err)
	}
	defer stmt.Close()

	now := t.now()
	for i := range points {
		p := &points[i]
		if err := p.Validate(); err != nil {
			return newTransportError("write", 0, fmt.Sprintf("point %d", i), err)
		}
		ts := p.Time
		if ts.IsZero() {
			ts = now
		}
		tags := p.Tags
		if tags == nil {
			tags = map[string]string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
			return newTransportError("write", 0, "encode tags", err)
		}
		fieldsJSON, err := json.Marshal(p.Fields)
		if err != nil {
			return newTransportError("write", 0, "encode fields", err)
		}
		if _, err := stmt.ExecContext(ctx, p.Measurement, p.SeriesKey(), ts.UnixNano(), string(tagsJSON), string(fieldsJSON)); err != nil {
			return newTransportError("write", 0, "insert point", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return newTransportError("write", 0, "commit", err)
	}
	t.logger.WithField("points", len(points)).Debug("sqlite write")
	return nil
}

// storedPoint is one decoded row of the points table.
type storedPoint struct {
	id     int64
	time   int64
	tags   map[string]string
	fields map[string]any
}

func (p *storedPoint) get(key string) (any, bool) {
	if v, ok := p.tags[key]; ok {
		return v, true
	}
	v, ok := p.fields[key]
	return v, ok
}

func (p *storedPoint) matches(conds []influxql.Condition) bool {
	for _, c := range conds {
		v, ok := p.get(c.Key)
		if !c.Match(v, ok) {
			return false
		}
	}
	return true
}

// scan loads the points of measurement inside the statement's time range
// that satisfy every condition.
func (t *SQLiteTransport) scan(ctx context.Context, stmt *influxql.Statement) ([]*storedPoint, error) {
	order := "ASC"
	if stmt.Descending {
		order = "DESC"
	}
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, time, tags, fields FROM points
		WHERE measurement = ? AND time >= ? AND time <= ?
		ORDER BY time `+order+`, id`,
		stmt.Measurement, stmt.Start, stmt.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storedPoint
	for rows.Next() {
		var (
			p              storedPoint
			tagsJSON, flds string
		)
		if err := rows.Scan(&p.id, &p.time, &tagsJSON, &flds); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tagsJSON), &p.tags); err != nil {
			return nil, fmt.Errorf("decode tags of point %d: %w", p.id, err)
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(flds)))
		dec.UseNumber()
		if err := dec.Decode(&p.fields); err != nil {
			return nil, fmt.Errorf("decode fields of point %d: %w", p.id, err)
		}
		if p.matches(stmt.Conditions) {
			out = append(out, &p)
		}
	}
	return out, rows.Err()
}

// Query executes a SELECT statement.
func (t *SQLiteTransport) Query(ctx context.Context, s *Statement) (res *Result, err error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { t.metrics.observe("query", start, err) }()

	q := s.String()
	stmt, err := influxql.Parse(q)
	if err != nil {
		return nil, newTransportError("query", 0, "parse "+q, err)
	}
	if stmt.Delete {
		return nil, newTransportError("query", 0, "DELETE must go through Delete", nil)
	}

	points, err := t.scan(ctx, stmt)
	if err != nil {
		return nil, newTransportError("query", 0, "scan points", err)
	}

	groups, keys := groupPoints(points, stmt.GroupBy)
	res = &Result{}
	for _, key := range keys {
		var series Series
		if stmt.Aggregate() {
			series = aggregateSeries(stmt, groups[key])
		} else {
			series = rawSeries(stmt, groups[key])
		}
		series.Values = page(series.Values, stmt.Offset, stmt.Limit)
		if len(series.Values) == 0 {
			continue
		}
		if len(stmt.GroupBy) > 0 {
			series.Tags = groupTags(groups[key][0], stmt.GroupBy)
		}
		res.Series = append(res.Series, series)
	}

	t.logger.WithFields(logrus.Fields{
		"query": q,
		"rows":  res.Len(),
	}).Debug("sqlite query")
	return res, nil
}

func groupPoints(points []*storedPoint, groupBy []string) (map[string][]*storedPoint, []string) {
	groups := make(map[string][]*storedPoint)
	for _, p := range points {
		key := influxql.MakeGroupKey(p.tags, groupBy)
		groups[key] = append(groups[key], p)
	}
	return groups, sortedKeys(groups)
}

func groupTags(p *storedPoint, groupBy []string) map[string]string {
	tags := make(map[string]string, len(groupBy))
	for _, k := range groupBy {
		tags[k] = p.tags[k]
	}
	return tags
}

func rawSeries(stmt *influxql.Statement, points []*storedPoint) Series {
	grouped := make(map[string]bool, len(stmt.GroupBy))
	for _, k := range stmt.GroupBy {
		grouped[k] = true
	}

	var cols []string
	if stmt.Wildcard() {
		seen := make(map[string]bool)
		for _, p := range points {
			for k := range p.tags {
				seen[k] = !grouped[k]
			}
			for k := range p.fields {
				seen[k] = true
			}
		}
		for _, k := range sortedKeys(seen) {
			if seen[k] {
				cols = append(cols, k)
			}
		}
	} else {
		for _, sel := range stmt.Selectors {
			if sel.Name != "time" {
				cols = append(cols, sel.Name)
			}
		}
	}

	series := Series{Name: stmt.Measurement, Columns: append([]string{"time"}, cols...)}
	for _, p := range points {
		row := make([]any, 0, len(series.Columns))
		row = append(row, p.time)
		for _, c := range cols {
			v, _ := p.get(c)
			row = append(row, v)
		}
		series.Values = append(series.Values, row)
	}
	return series
}

func aggregateSeries(stmt *influxql.Statement, points []*storedPoint) Series {
	origin := stmt.Start
	if origin == math.MinInt64 {
		origin = 0
	}
	// selectors over the same column share one state
	var columns []influxql.Selector
	seen := make(map[string]bool)
	for _, sel := range stmt.Selectors {
		if !seen[sel.Name] {
			seen[sel.Name] = true
			columns = append(columns, sel)
		}
	}

	buckets := influxql.NewBuckets()
	for _, p := range points {
		b := influxql.BucketStart(p.time, stmt.Window, origin)
		for _, sel := range columns {
			if sel.Name == "*" {
				buckets.Add(b, sel.Name, p.time, p.time)
				continue
			}
			v, _ := p.get(sel.Name)
			buckets.Add(b, sel.Name, p.time, v)
		}
	}

	series := Series{Name: stmt.Measurement, Columns: []string{"time"}}
	used := make(map[string]int)
	for _, sel := range stmt.Selectors {
		name := sel.Column()
		if n := used[name]; n > 0 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		used[sel.Column()]++
		series.Columns = append(series.Columns, name)
	}

	keys := buckets.Keys()
	if stmt.Descending {
		sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })
	}
	for _, b := range keys {
		row := []any{b}
		for _, sel := range stmt.Selectors {
			row = append(row, buckets.State(b, sel.Name).Value(sel.Func))
		}
		series.Values = append(series.Values, row)
	}
	return series
}

func page(values [][]any, offset, limit int) [][]any {
	if offset >= len(values) {
		return nil
	}
	values = values[offset:]
	if limit > 0 && limit < len(values) {
		values = values[:limit]
	}
	return values
}

// Delete removes the points of a DELETE statement. Conditions select on
// tag values.
func (t *SQLiteTransport) Delete(ctx context.Context, s *Statement) (err error) {
	if err := t.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { t.metrics.observe("delete", start, err) }()

	q := s.String()
	stmt, err := influxql.Parse(q)
	if err != nil {
		return newTransportError("delete", 0, "parse "+q, err)
	}
	if !stmt.Delete {
		return newTransportError("delete", 0, "not a DELETE statement", nil)
	}
	for _, c := range stmt.Conditions {
		if _, ok := c.Value.(string); !ok {
			return newTransportError("delete", 0, "DELETE conditions must compare tags with strings", nil)
		}
	}

	points, err := t.scan(ctx, stmt)
	if err != nil {
		return newTransportError("delete", 0, "scan points", err)
	}
	if len(points) == 0 {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return newTransportError("delete", 0, "begin transaction", err)
	}
	defer tx.Rollback()
	del, err := tx.PrepareContext(ctx, `DELETE FROM points WHERE id = ?`)
	if err != nil {
		return newTransportError("delete", 0, "prepare delete", err)
	}
	defer del.Close()
	for _, p := range points {
		if _, err := del.ExecContext(ctx, p.id); err != nil {
			return newTransportError("delete", 0, "delete point", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return newTransportError("delete", 0, "commit", err)
	}
	t.logger.WithFields(logrus.Fields{
		"query":  q,
		"points": len(points),
	}).Debug("sqlite delete")
	return nil
}

// Close closes the database. Further calls fail with ErrClosed.
func (t *SQLiteTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.db.Close()
}
