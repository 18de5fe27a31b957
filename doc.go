// Package odm maps Go structs to time-series measurements.
//
// A mapped struct names its measurement on a blank [Measurement] field and
// describes every property with an influx tag:
//
//	type CPUUsage struct {
//	    _      odm.Measurement `influx:"cpu_usage"`
//	    Host   string          `influx:"host,tag"`
//	    Region string          `influx:"region,tag"`
//	    Value  float64         `influx:"value"`
//	    Time   time.Time       `influx:"time,timestamp"`
//	}
//
// The tag is "name,kind,type=logical,nullable". Kind is field (default),
// tag, id or timestamp. The logical type is inferred from the Go type
// unless set. Structs that embed a [MappedSuperclass] marker are abstract:
// they are never persisted or queried, but their identifier is inherited by
// the classes that embed them. Mappings can also come from a YAML file
// through [YAMLSource], with [ChainSource] layering it over struct tags.
//
// # Basic Usage
//
// Open a manager from a [Config]:
//
//	m, err := odm.Open(odm.NewConfigBuilder().
//	    WithHTTP("http://localhost:8086", "telemetry").
//	    MustBuild())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
// Persist objects. Each call sends one batch:
//
//	err = m.Persist(ctx, &CPUUsage{Host: "server01", Value: 0.64, Time: time.Now()})
//
// Query and hydrate:
//
//	q, _ := m.CreateQuery(CPUUsage{})
//	q.Where("host", odm.OpEqual, "server01").Between(from, to)
//	usage, err := odm.Objects[CPUUsage](ctx, q)
//
// A query runs once. Asking the same query for another hydration mode
// (objects, arrays, scalars or a single scalar) re-hydrates the stored raw
// result without a second round trip.
//
// # Transports
//
// The manager talks to a [Transport]. Three are bundled:
//   - [HTTPTransport] writes line protocol to an InfluxDB 1.x server
//   - [SQLiteTransport] stores points in an embedded SQLite file
//   - [RemoteWriteTransport] ships numeric fields to a Prometheus receiver
//
// Transport errors reach the caller unchanged. Network transports retry
// transient failures as configured by [RetryConfig].
//
// # Types
//
// Every mapped property has a logical type registered in a [TypeRegistry].
// Built-in types are identifier, tag, string, integer, float, boolean and
// timestamp; applications add their own with [TypeRegistry.AddType] before
// the manager is first used.
package odm
