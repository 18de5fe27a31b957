package odm

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/sirupsen/logrus"
)

// HTTPConfig configures the InfluxDB 1.x HTTP transport.
type HTTPConfig struct {
	// URL is the server base URL, e.g. http://localhost:8086.
	URL string `yaml:"url"`

	// Database is the target database. Required.
	Database string `yaml:"database"`

	// RetentionPolicy selects a non-default retention policy.
	RetentionPolicy string `yaml:"retention_policy"`

	// Username and Password enable basic authentication.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Timeout bounds a single request. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// Gzip compresses write bodies.
	Gzip bool `yaml:"gzip"`
}

// DefaultHTTPConfig returns the defaults used by DefaultConfig.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		URL:     "http://localhost:8086",
		Timeout: 10 * time.Second,
	}
}

// HTTPTransport talks to the InfluxDB 1.x HTTP API: points are written as
// line protocol to /write and statements run against /query.
type HTTPTransport struct {
	config  HTTPConfig
	base    *url.URL
	client  HTTPDoer
	retryer *Retryer
	logger  logrus.FieldLogger
	metrics *TransportMetrics
	closed  atomic.Bool
}

// NewHTTPTransport creates the transport. It does not contact the server.
func NewHTTPTransport(config HTTPConfig, opts ...TransportOption) (*HTTPTransport, error) {
	if config.URL == "" {
		config.URL = DefaultHTTPConfig().URL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultHTTPConfig().Timeout
	}
	if config.Database == "" {
		return nil, fmt.Errorf("http transport: database is required")
	}
	base, err := url.Parse(strings.TrimRight(config.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("http transport: invalid url: %w", err)
	}

	o := buildTransportOptions(opts)
	metrics, err := NewTransportMetrics(o.registerer, "http")
	if err != nil {
		return nil, err
	}
	client := o.client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &HTTPTransport{
		config:  config,
		base:    base,
		client:  client,
		retryer: o.newRetryer(DefaultRetryConfig(), "http"),
		logger:  o.logger,
		metrics: metrics,
	}, nil
}

// EncodeLineProtocol renders points in InfluxDB line protocol with
// nanosecond precision. Points without a time carry no timestamp.
func EncodeLineProtocol(points []Point) ([]byte, error) {
	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Nanosecond)
	for i := range points {
		p := &points[i]
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		enc.StartLine(p.Measurement)
		for _, k := range sortedKeys(p.Tags) {
			enc.AddTag(k, p.Tags[k])
		}
		for _, k := range sortedKeys(p.Fields) {
			v, ok := lineprotocol.NewValue(p.Fields[k])
			if !ok {
				return nil, fmt.Errorf("point %d field %q: %w", i, k, ErrInvalidFieldValue)
			}
			enc.AddField(k, v)
		}
		enc.EndLine(p.Time)
		if err := enc.Err(); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
	}
	return enc.Bytes(), nil
}

// WritePoints posts the batch to /write in a single request.
func (t *HTTPTransport) WritePoints(ctx context.Context, points []Point) (err error) {
	if t.closed.Load() {
		return ErrClosed
	}
	if len(points) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { t.metrics.observe("write", start, err) }()

	body, err := EncodeLineProtocol(points)
	if err != nil {
		return newTransportError("write", 0, "encode line protocol", err)
	}
	if t.config.Gzip {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err != nil {
			_ = gz.Close()
			return newTransportError("write", 0, "compress body", err)
		}
		if err := gz.Close(); err != nil {
			return newTransportError("write", 0, "compress body", err)
		}
		body = buf.Bytes()
	}

	params := t.params()
	params.Set("precision", "ns")
	res := t.retryer.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("/write", params), bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		if t.config.Gzip {
			req.Header.Set("Content-Encoding", "gzip")
		}
		_, err = t.do(req, "write")
		return err
	})
	if res.LastErr != nil {
		return res.LastErr
	}
	t.logger.WithFields(logrus.Fields{
		"points":   len(points),
		"attempts": res.Attempts,
	}).Debug("http write")
	return nil
}

// queryResponse is the /query response body.
type queryResponse struct {
	Results []struct {
		StatementID int      `json:"statement_id"`
		Series      []Series `json:"series"`
		Error       string   `json:"error"`
	} `json:"results"`
	Error string `json:"error"`
}

// Query runs a SELECT through GET /query with nanosecond epochs.
func (t *HTTPTransport) Query(ctx context.Context, stmt *Statement) (res *Result, err error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	start := time.Now()
	defer func() { t.metrics.observe("query", start, err) }()

	q := stmt.String()
	params := t.params()
	params.Set("q", q)
	params.Set("epoch", "ns")

	var body []byte
	r := t.retryer.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint("/query", params), nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		body, err = t.do(req, "query")
		return err
	})
	if r.LastErr != nil {
		return nil, r.LastErr
	}

	res, err = decodeQueryResponse(body)
	if err != nil {
		return nil, err
	}
	t.logger.WithFields(logrus.Fields{
		"query": q,
		"rows":  res.Len(),
	}).Debug("http query")
	return res, nil
}

func decodeQueryResponse(body []byte) (*Result, error) {
	var resp queryResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, newTransportError("query", 0, "decode response", err)
	}
	if resp.Error != "" {
		return nil, newTransportError("query", 0, resp.Error, nil)
	}
	res := &Result{}
	for _, r := range resp.Results {
		if r.Error != "" {
			return nil, newTransportError("query", 0, r.Error, nil)
		}
		res.Series = append(res.Series, r.Series...)
	}
	return res, nil
}

// Delete posts a DELETE statement to /query.
func (t *HTTPTransport) Delete(ctx context.Context, stmt *Statement) (err error) {
	if t.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	defer func() { t.metrics.observe("delete", start, err) }()

	q := stmt.String()
	form := t.params()
	form.Set("q", q)

	var body []byte
	r := t.retryer.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("/query", nil), strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		body, err = t.do(req, "delete")
		return err
	})
	if r.LastErr != nil {
		return r.LastErr
	}
	if _, err := decodeQueryResponse(body); err != nil {
		return err
	}
	t.logger.WithField("query", q).Debug("http delete")
	return nil
}

// Close marks the transport closed. Idle connections are released when the
// client is an *http.Client.
func (t *HTTPTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	if c, ok := t.client.(*http.Client); ok {
		c.CloseIdleConnections()
	}
	return nil
}

func (t *HTTPTransport) params() url.Values {
	v := url.Values{}
	v.Set("db", t.config.Database)
	if t.config.RetentionPolicy != "" {
		v.Set("rp", t.config.RetentionPolicy)
	}
	return v
}

func (t *HTTPTransport) endpoint(path string, params url.Values) string {
	u := *t.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if params != nil {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

// do sends req and returns the body of a 2xx response. Other statuses
// become a TransportError carrying the server's message.
func (t *HTTPTransport) do(req *http.Request, op string) ([]byte, error) {
	if t.config.Username != "" {
		req.SetBasicAuth(t.config.Username, t.config.Password)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, newTransportError(op, 0, "send request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newTransportError(op, resp.StatusCode, "read response", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, newTransportError(op, resp.StatusCode, serverMessage(body), nil)
	}
	return body, nil
}

// serverMessage extracts {"error": "..."} from an error body.
func serverMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}
