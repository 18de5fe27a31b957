package odm

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yariknechyporuk/influxdb-odm/internal/testutil"
)

func decodeWriteRequest(t *testing.T, body []byte) *prompb.WriteRequest {
	t.Helper()
	data, err := snappy.Decode(nil, body)
	require.NoError(t, err)
	var wr prompb.WriteRequest
	require.NoError(t, wr.Unmarshal(data))
	return &wr
}

func labelMap(labels []prompb.Label) map[string]string {
	m := make(map[string]string, len(labels))
	for _, l := range labels {
		m[l.Name] = l.Value
	}
	return m
}

func TestBuildWriteRequest(t *testing.T) {
	now := time.UnixMilli(5000)
	wr, dropped := BuildWriteRequest([]Point{
		{
			Measurement: "cpu_usage",
			Tags:        map[string]string{"region": "eu", "host": "a"},
			Fields:      map[string]any{"value": 0.5, "cores": int64(8), "note": "busy", "up": true},
			Time:        time.Unix(1, 999_999),
		},
		{Measurement: "disk.io", Tags: map[string]string{"dev-name": "sda"}, Fields: map[string]any{"ops": uint64(3)}},
	}, now)

	assert.Equal(t, 1, dropped, "string fields have no sample value")
	require.Len(t, wr.Timeseries, 4)

	names := make([]string, 0, len(wr.Timeseries))
	for _, ts := range wr.Timeseries {
		names = append(names, labelMap(ts.Labels)["__name__"])
	}
	assert.Equal(t, []string{"cpu_usage_cores", "cpu_usage_up", "cpu_usage_value", "disk_io_ops"}, names)

	cores := wr.Timeseries[0]
	assert.Equal(t, []prompb.Label{
		{Name: "__name__", Value: "cpu_usage_cores"},
		{Name: "host", Value: "a"},
		{Name: "region", Value: "eu"},
	}, cores.Labels, "labels are sorted by name")
	assert.Equal(t, []prompb.Sample{{Value: 8, Timestamp: 1000}}, cores.Samples, "timestamps are truncated to milliseconds")

	assert.Equal(t, 1.0, wr.Timeseries[1].Samples[0].Value)

	disk := wr.Timeseries[3]
	assert.Equal(t, "sda", labelMap(disk.Labels)["dev_name"])
	assert.Equal(t, int64(5000), disk.Samples[0].Timestamp, "missing time uses now")
}

func TestSanitizeNames(t *testing.T) {
	assert.Equal(t, "a:b_c", sanitizeMetricName("a:b.c"))
	assert.Equal(t, "a_b_c", sanitizeLabelName("a:b.c"))
	assert.Equal(t, "_9lives", sanitizeLabelName("9lives"))
	assert.Equal(t, "_", sanitizeLabelName(""))
}

func TestRemoteWriteTransport_WritePoints(t *testing.T) {
	rec := testutil.NewRecorder(t, nil)
	tr, err := NewRemoteWriteTransport(RemoteWriteConfig{
		URL:     rec.URL + "/api/v1/write",
		Headers: map[string]string{"X-Scope-OrgID": "tenant-1"},
	}, fastRetry())
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.WritePoints(context.Background(), []Point{
		{Measurement: "sensor", Tags: map[string]string{"id": "s-1"}, Fields: map[string]any{"temperature": 21.5}, Time: time.UnixMilli(1700)},
	}))

	req := rec.Last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/v1/write", req.Path)
	assert.Equal(t, "snappy", req.Header.Get("Content-Encoding"))
	assert.Equal(t, "application/x-protobuf", req.Header.Get("Content-Type"))
	assert.Equal(t, "0.1.0", req.Header.Get("X-Prometheus-Remote-Write-Version"))
	assert.Equal(t, "tenant-1", req.Header.Get("X-Scope-OrgID"))

	wr := decodeWriteRequest(t, req.Body)
	require.Len(t, wr.Timeseries, 1)
	assert.Equal(t, map[string]string{"__name__": "sensor_temperature", "id": "s-1"}, labelMap(wr.Timeseries[0].Labels))
	assert.Equal(t, []prompb.Sample{{Value: 21.5, Timestamp: 1700}}, wr.Timeseries[0].Samples)
}

func TestRemoteWriteTransport_OnlyStringFields(t *testing.T) {
	rec := testutil.NewRecorder(t, nil)
	tr, err := NewRemoteWriteTransport(RemoteWriteConfig{URL: rec.URL}, fastRetry())
	require.NoError(t, err)

	require.NoError(t, tr.WritePoints(context.Background(), []Point{
		{Measurement: "log", Fields: map[string]any{"msg": "hello"}},
	}))
	assert.Empty(t, rec.Requests(), "nothing to send")
}

func TestRemoteWriteTransport_Errors(t *testing.T) {
	rec := testutil.NewRecorder(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("out of order sample"))
	})
	tr, err := NewRemoteWriteTransport(RemoteWriteConfig{URL: rec.URL}, fastRetry())
	require.NoError(t, err)
	ctx := context.Background()

	err = tr.WritePoints(ctx, []Point{{Measurement: "cpu", Fields: map[string]any{"v": 1.0}}})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadRequest, te.StatusCode)
	assert.Equal(t, "out of order sample", te.Message)
	assert.Len(t, rec.Requests(), 1)

	err = tr.WritePoints(ctx, []Point{{Measurement: "", Fields: map[string]any{"v": 1.0}}})
	assert.ErrorIs(t, err, ErrInvalidMeasurement)

	_, err = tr.Query(ctx, &Statement{Measurement: "cpu"})
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	assert.ErrorIs(t, tr.Delete(ctx, &Statement{Kind: DeleteStatement}), ErrUnsupportedOperation)

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.WritePoints(ctx, []Point{{Measurement: "cpu", Fields: map[string]any{"v": 1.0}}}), ErrClosed)

	_, err = NewRemoteWriteTransport(RemoteWriteConfig{})
	assert.Error(t, err)
}

func TestRemoteWriteTransport_RemoveThroughManager(t *testing.T) {
	rec := testutil.NewRecorder(t, nil)
	tr, err := NewRemoteWriteTransport(RemoteWriteConfig{URL: rec.URL}, fastRetry())
	require.NoError(t, err)
	m := NewManager(tr)

	require.NoError(t, m.Persist(context.Background(), &Sensor{Entity: Entity{ID: "s-1"}, Temp: 20, Time: ts(1)}))
	err = m.Remove(context.Background(), &Sensor{Entity: Entity{ID: "s-1"}})
	assert.ErrorIs(t, err, ErrUnsupportedOperation)

	wr := decodeWriteRequest(t, rec.Last(t).Body)
	assert.Len(t, wr.Timeseries, 2, "temperature and online")
}
