package odm

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"github.com/sirupsen/logrus"
)

// RemoteWriteConfig configures the Prometheus remote write transport.
type RemoteWriteConfig struct {
	// URL is the full receiver endpoint, e.g. http://localhost:9090/api/v1/write.
	URL string `yaml:"url"`

	// Timeout bounds a single request. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// Headers are added to every request, e.g. tenant ids.
	Headers map[string]string `yaml:"headers"`
}

// RemoteWriteTransport ships points to a Prometheus remote write receiver.
// Every numeric field becomes a series named <measurement>_<field> labeled
// with the point's tags. String fields have no Prometheus representation
// and are dropped. The transport is write-only.
type RemoteWriteTransport struct {
	config  RemoteWriteConfig
	client  HTTPDoer
	retryer *Retryer
	logger  logrus.FieldLogger
	metrics *TransportMetrics
	closed  atomic.Bool
	now     func() time.Time
}

// NewRemoteWriteTransport creates the transport.
func NewRemoteWriteTransport(config RemoteWriteConfig, opts ...TransportOption) (*RemoteWriteTransport, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("remote write transport: url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	o := buildTransportOptions(opts)
	metrics, err := NewTransportMetrics(o.registerer, "remote_write")
	if err != nil {
		return nil, err
	}
	client := o.client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &RemoteWriteTransport{
		config:  config,
		client:  client,
		retryer: o.newRetryer(DefaultRetryConfig(), "remote_write"),
		logger:  o.logger,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// BuildWriteRequest converts points into a remote write request. Points
// without a time are stamped with now.
func BuildWriteRequest(points []Point, now time.Time) (*prompb.WriteRequest, int) {
	req := &prompb.WriteRequest{}
	dropped := 0
	for i := range points {
		p := &points[i]
		ts := p.Time
		if ts.IsZero() {
			ts = now
		}
		for _, field := range sortedKeys(p.Fields) {
			v, ok := sampleValue(p.Fields[field])
			if !ok {
				dropped++
				continue
			}
			req.Timeseries = append(req.Timeseries, prompb.TimeSeries{
				Labels:  seriesLabels(p.Measurement+"_"+field, p.Tags),
				Samples: []prompb.Sample{{Value: v, Timestamp: ts.UnixMilli()}},
			})
		}
	}
	return req, dropped
}

func sampleValue(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return math.NaN(), false
}

// seriesLabels returns __name__ plus one label per tag, sorted by name.
func seriesLabels(name string, tags map[string]string) []prompb.Label {
	labels := make([]prompb.Label, 0, len(tags)+1)
	labels = append(labels, prompb.Label{Name: "__name__", Value: sanitizeMetricName(name)})
	for k, v := range tags {
		labels = append(labels, prompb.Label{Name: sanitizeLabelName(k), Value: v})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	return labels
}

// sanitizeMetricName maps name onto [a-zA-Z_:][a-zA-Z0-9_:]*.
func sanitizeMetricName(name string) string {
	return sanitizeName(name, true)
}

// sanitizeLabelName maps name onto [a-zA-Z_][a-zA-Z0-9_]*.
func sanitizeLabelName(name string) string {
	return sanitizeName(name, false)
}

func sanitizeName(name string, colon bool) string {
	var b strings.Builder
	for i, r := range name {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(i > 0 && r >= '0' && r <= '9') || (colon && r == ':')
		if ok {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// WritePoints sends the batch as one snappy-compressed protobuf request.
func (t *RemoteWriteTransport) WritePoints(ctx context.Context, points []Point) (err error) {
	if t.closed.Load() {
		return ErrClosed
	}
	if len(points) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { t.metrics.observe("write", start, err) }()

	for i := range points {
		if err := points[i].Validate(); err != nil {
			return newTransportError("write", 0, fmt.Sprintf("point %d", i), err)
		}
	}
	wr, dropped := BuildWriteRequest(points, t.now())
	if dropped > 0 {
		t.logger.WithField("fields", dropped).Debug("remote write dropped non-numeric fields")
	}
	if len(wr.Timeseries) == 0 {
		return nil
	}
	data, err := wr.Marshal()
	if err != nil {
		return newTransportError("write", 0, "marshal write request", err)
	}
	body := snappy.Encode(nil, data)

	res := t.retryer.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Encoding", "snappy")
		req.Header.Set("Content-Type", "application/x-protobuf")
		req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
		for k, v := range t.config.Headers {
			req.Header.Set(k, v)
		}
		return t.send(req)
	})
	if res.LastErr != nil {
		return res.LastErr
	}
	t.logger.WithFields(logrus.Fields{
		"series":   len(wr.Timeseries),
		"attempts": res.Attempts,
	}).Debug("remote write")
	return nil
}

func (t *RemoteWriteTransport) send(req *http.Request) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return newTransportError("write", 0, "send request", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		return newTransportError("write", resp.StatusCode, serverMessage(buf.Bytes()), nil)
	}
	return nil
}

// Query is not supported by remote write receivers.
func (t *RemoteWriteTransport) Query(context.Context, *Statement) (*Result, error) {
	return nil, ErrUnsupportedOperation
}

// Delete is not supported by remote write receivers.
func (t *RemoteWriteTransport) Delete(context.Context, *Statement) error {
	return ErrUnsupportedOperation
}

// Close marks the transport closed.
func (t *RemoteWriteTransport) Close() error {
	t.closed.Store(true)
	return nil
}
