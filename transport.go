package odm

import (
	"context"
	"net/http"
)

// Writer sends a batch of points in one call.
type Writer interface {
	WritePoints(ctx context.Context, points []Point) error
}

// Querier runs a statement and returns the raw series.
type Querier interface {
	Query(ctx context.Context, stmt *Statement) (*Result, error)
}

// Deleter runs a DELETE statement.
type Deleter interface {
	Delete(ctx context.Context, stmt *Statement) error
}

// Transport is the full wire API the manager needs. Transports own
// connections, timeouts and retries; errors they return reach the caller
// unchanged.
type Transport interface {
	Writer
	Querier
	Deleter
	Close() error
}

// HTTPDoer is implemented by *http.Client and can be replaced in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var (
	_ Transport = (*HTTPTransport)(nil)
	_ Transport = (*SQLiteTransport)(nil)
	_ Transport = (*RemoteWriteTransport)(nil)
)
