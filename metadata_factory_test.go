package odm

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataFactory_Resolve(t *testing.T) {
	f := NewMetadataFactory(NewTagSource(), NewTypeRegistry())

	meta, err := f.MetadataFor(reflect.TypeOf(CPUUsage{}))
	require.NoError(t, err)

	assert.Equal(t, "cpu_usage", meta.Measurement)
	assert.Equal(t, ClassName(reflect.TypeOf(CPUUsage{})), meta.Name)
	assert.Nil(t, meta.Identifier)
	assert.Nil(t, meta.Parent)

	var names []string
	for _, fld := range meta.Fields {
		names = append(names, fld.Name)
	}
	assert.Equal(t, []string{"host", "region", "value", "time"}, names)

	host, ok := meta.Field("host")
	require.True(t, ok)
	assert.Equal(t, KindTag, host.Kind)
	assert.Equal(t, TypeTag, host.Type)
	value, _ := meta.Field("value")
	assert.Equal(t, TypeFloat, value.Type)
	require.NotNil(t, meta.Timestamp())
	assert.Equal(t, "Time", meta.Timestamp().GoName)
}

func TestMetadataFactory_Identity(t *testing.T) {
	f := NewMetadataFactory(NewTagSource(), nil)

	a, err := f.MetadataForValue(CPUUsage{})
	require.NoError(t, err)
	b, err := f.MetadataForValue(&CPUUsage{})
	require.NoError(t, err)
	c, err := f.MetadataForValue(reflect.TypeOf(CPUUsage{}))
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Same(t, a, c)
	assert.True(t, f.HasMetadataFor(reflect.TypeOf(&CPUUsage{})))
	assert.Len(t, f.Loaded(), 1)
}

func TestMetadataFactory_IdentifierInheritance(t *testing.T) {
	f := NewMetadataFactory(NewTagSource(), nil)

	sensor, err := f.MetadataForValue(Sensor{})
	require.NoError(t, err)

	require.NotNil(t, sensor.Parent)
	assert.True(t, sensor.Parent.MappedSuperclass)
	assert.Equal(t, ClassName(reflect.TypeOf(Entity{})), sensor.Parent.Name)

	require.NotNil(t, sensor.Identifier)
	assert.Equal(t, "id", sensor.Identifier.Name)
	assert.Same(t, sensor.Fields[0], sensor.Identifier, "inherited identifier comes first")
	assert.Equal(t, []int{0, 1}, sensor.Identifier.Index)

	// The parent is resolved and cached on its own.
	parent, err := f.MetadataForValue(Entity{})
	require.NoError(t, err)
	assert.Same(t, sensor.Parent, parent)
	assert.Len(t, f.Loaded(), 2)

	hum, ok := sensor.Field("humidity")
	require.True(t, ok)
	assert.True(t, hum.Nullable, "pointer fields are nullable")
}

func TestMetadataFactory_IdentifierOverride(t *testing.T) {
	f := NewMetadataFactory(NewTagSource(), nil)

	device, err := f.MetadataForValue(Device{})
	require.NoError(t, err)

	require.NotNil(t, device.Identifier)
	assert.Equal(t, "serial", device.Identifier.Name)
	_, inherited := device.Field("id")
	assert.False(t, inherited, "own identifier replaces the inherited one")
	assert.Len(t, device.FieldsOfKind(KindIdentifier), 1)
}

func TestMetadataFactory_Errors(t *testing.T) {
	type twoTimes struct {
		_ Measurement `influx:"m"`
		A time.Time   `influx:"a,timestamp"`
		B time.Time   `influx:"b,timestamp"`
		V float64     `influx:"v"`
	}
	type twoIDs struct {
		_ Measurement `influx:"m"`
		A string      `influx:"a,id"`
		B string      `influx:"b,id"`
	}
	type duplicate struct {
		_ Measurement `influx:"m"`
		A float64     `influx:"v"`
		B float64     `influx:"v"`
	}
	type unknownType struct {
		_ Measurement `influx:"m"`
		A float64     `influx:"v,type=money"`
	}
	type badKind struct {
		_ Measurement `influx:"m"`
		A float64     `influx:"v,column"`
	}
	type emptyMeasurement struct {
		_ Measurement `influx:""`
		A float64     `influx:"v"`
	}
	type uninferable struct {
		_ Measurement `influx:"m"`
		A []float64   `influx:"v"`
	}

	tests := []struct {
		name  string
		model any
		want  error
	}{
		{"unmapped", unmapped{}, ErrClassNotMapped},
		{"not a struct", 42, ErrClassNotMapped},
		{"nil", nil, ErrClassNotMapped},
		{"two timestamps", twoTimes{}, ErrMapping},
		{"two identifiers", twoIDs{}, ErrMapping},
		{"duplicate name", duplicate{}, ErrMapping},
		{"unknown logical type", unknownType{}, ErrMapping},
		{"unknown kind", badKind{}, ErrMapping},
		{"empty measurement", emptyMeasurement{}, ErrMapping},
		{"uninferable type", uninferable{}, ErrMapping},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewMetadataFactory(NewTagSource(), nil)
			_, err := f.MetadataForValue(tt.model)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.Loaded(), "failures are not cached")
		})
	}
}

func TestMetadataFactory_MappingErrorDetails(t *testing.T) {
	type bad struct {
		_ Measurement `influx:"m"`
		A float64     `influx:"v,type=money"`
	}
	f := NewMetadataFactory(NewTagSource(), nil)
	_, err := f.MetadataForValue(bad{})

	var me *MappingError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ClassName(reflect.TypeOf(bad{})), me.Class)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestMetadataFactory_CustomTypeAfterRegistration(t *testing.T) {
	type priced struct {
		_     Measurement `influx:"price"`
		Price float64     `influx:"price,type=money"`
	}
	types := NewTypeRegistry()
	require.NoError(t, types.AddType("money", floatConverter{}))

	f := NewMetadataFactory(NewTagSource(), types)
	meta, err := f.MetadataForValue(priced{})
	require.NoError(t, err)
	price, _ := meta.Field("price")
	assert.Equal(t, "money", price.Type)
}

func TestMetadataFactory_FlattensPlainEmbedding(t *testing.T) {
	type location struct {
		Site string `influx:"site,tag"`
	}
	type reading struct {
		_ Measurement `influx:"reading"`
		location
		V float64 `influx:"v"`
	}
	f := NewMetadataFactory(NewTagSource(), nil)
	meta, err := f.MetadataForValue(reading{})
	require.NoError(t, err)

	site, ok := meta.Field("site")
	require.True(t, ok)
	assert.Equal(t, []int{1, 0}, site.Index)
	assert.Nil(t, meta.Parent)
}

func TestMetadataFactory_Concurrent(t *testing.T) {
	f := NewMetadataFactory(NewTagSource(), nil)

	const workers = 32
	results := make([]*ClassMetadata, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			meta, err := f.MetadataForValue(Sensor{})
			if err == nil {
				results[i] = meta
			}
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NotNil(t, results[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Len(t, f.Loaded(), 2)
}

// gatedSource holds the load of first until another class starts loading.
type gatedSource struct {
	Source
	first   reflect.Type
	entered chan struct{}
	other   chan struct{}
}

func (s *gatedSource) LoadMetadataForClass(t reflect.Type, target *ClassMetadata) error {
	if t == s.first {
		close(s.entered)
		select {
		case <-s.other:
		case <-time.After(time.Second):
		}
	} else {
		close(s.other)
	}
	return s.Source.LoadMetadataForClass(t, target)
}

func readingA() reflect.Type {
	type reading struct {
		_ Measurement `influx:"a"`
		V float64     `influx:"v"`
	}
	return reflect.TypeOf(reading{})
}

func readingB() reflect.Type {
	type reading struct {
		_ Measurement `influx:"b"`
		V float64     `influx:"v"`
	}
	return reflect.TypeOf(reading{})
}

func TestMetadataFactory_ConcurrentSameName(t *testing.T) {
	a, b := readingA(), readingB()
	require.NotEqual(t, a, b)
	require.Equal(t, ClassName(a), ClassName(b))

	src := &gatedSource{Source: NewTagSource(), first: a, entered: make(chan struct{}), other: make(chan struct{})}
	f := NewMetadataFactory(src, nil)

	var metaA *ClassMetadata
	var errA error
	done := make(chan struct{})
	go func() {
		defer close(done)
		metaA, errA = f.MetadataFor(a)
	}()
	<-src.entered

	metaB, err := f.MetadataFor(b)
	require.NoError(t, err)
	<-done
	require.NoError(t, errA)

	assert.Equal(t, "a", metaA.Measurement)
	assert.Equal(t, "b", metaB.Measurement)
	assert.Equal(t, b, metaB.Type)
	assert.NotSame(t, metaA, metaB)
}

func TestTagSource_Options(t *testing.T) {
	type tagged struct {
		_       Measurement `influx:"opts"`
		Skipped string      `influx:"-"`
		Ignored string
		Level   int     `influx:",tag,type=tag"`
		Note    string  `influx:"note,nullable"`
		When    int64   `influx:",timestamp"`
		Ratio   float32 `influx:"ratio,field"`
	}
	f := NewMetadataFactory(NewTagSource(), nil)
	meta, err := f.MetadataForValue(tagged{})
	require.NoError(t, err)

	var names []string
	for _, fld := range meta.Fields {
		names = append(names, fld.Name)
	}
	assert.Equal(t, []string{"level", "note", "time", "ratio"}, names)

	level, _ := meta.Field("level")
	assert.Equal(t, KindTag, level.Kind)
	note, _ := meta.Field("note")
	assert.True(t, note.Nullable)
	assert.Equal(t, TypeTimestamp, meta.Timestamp().Type)
}

func TestTagSource_CustomKey(t *testing.T) {
	type alt struct {
		_ Measurement `ts:"alt"`
		V float64     `ts:"v"`
	}
	src := &TagSource{Key: "ts"}
	assert.False(t, src.IsTransient(reflect.TypeOf(alt{})))

	meta, err := NewMetadataFactory(src, nil).MetadataForValue(alt{})
	require.NoError(t, err)
	assert.Equal(t, "alt", meta.Measurement)
}

func TestStorageKind(t *testing.T) {
	for _, k := range []StorageKind{KindField, KindTag, KindIdentifier, KindTimestamp} {
		parsed, err := ParseStorageKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	k, err := ParseStorageKind("id")
	require.NoError(t, err)
	assert.Equal(t, KindIdentifier, k)
	_, err = ParseStorageKind("index")
	assert.Error(t, err)
}
