package odm

import (
	"context"
	"sync"
	"time"
)

type CPUUsage struct {
	_      Measurement `influx:"cpu_usage"`
	Host   string      `influx:"host,tag"`
	Region string      `influx:"region,tag"`
	Value  float64     `influx:"value"`
	Time   time.Time   `influx:"time,timestamp"`
}

type Entity struct {
	_  MappedSuperclass
	ID string `influx:"id,id"`
}

type Sensor struct {
	Entity
	_        Measurement `influx:"sensor"`
	Room     string      `influx:"room,tag"`
	Temp     float64     `influx:"temperature"`
	Humidity *float64    `influx:"humidity"`
	Online   bool        `influx:"online"`
	Time     time.Time   `influx:"time,timestamp"`
}

// Device overrides the inherited identifier.
type Device struct {
	*Entity
	_      Measurement `influx:"device"`
	Serial string      `influx:"serial,id"`
	Load   int64       `influx:"load"`
}

type Counter struct {
	_     Measurement `influx:"counter"`
	Name  string      `influx:"name,tag"`
	Count int64       `influx:"count"`
	Stamp int64       `influx:"time,timestamp"`
}

type unmapped struct {
	Value float64
}

// fakeTransport records every call and answers queries with result.
type fakeTransport struct {
	mu      sync.Mutex
	writes  [][]Point
	queries []string
	deletes []string
	closed  bool

	result   *Result
	writeErr error
	queryErr error
}

func (f *fakeTransport) WritePoints(_ context.Context, points []Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, points)
	return f.writeErr
}

func (f *fakeTransport) Query(_ context.Context, stmt *Statement) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, stmt.String())
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.result, nil
}

func (f *fakeTransport) Delete(_ context.Context, stmt *Statement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, stmt.String())
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func ts(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
