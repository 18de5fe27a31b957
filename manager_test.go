package odm

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_PersistAndRemove(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	ft := &fakeTransport{}
	m := NewManager(ft, WithLogger(logger))
	ctx := context.Background()

	require.NoError(t, m.Persist(ctx, &Sensor{Entity: Entity{ID: "s-1"}, Temp: 20}))
	require.NoError(t, m.Remove(ctx, &Sensor{Entity: Entity{ID: "s-1"}}))
	assert.Len(t, ft.writes, 1)
	assert.Equal(t, []string{`DELETE FROM "sensor" WHERE "id" = 's-1'`}, ft.deletes)

	err := m.Persist(ctx, unmapped{})
	assert.ErrorIs(t, err, ErrClassNotMapped)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "persist failed", entry.Message)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
}

func TestManager_SharesRegistryAndFactory(t *testing.T) {
	types := NewTypeRegistry()
	require.NoError(t, types.AddType("money", floatConverter{}))
	m := NewManager(&fakeTransport{}, WithTypeRegistry(types))

	assert.Same(t, types, m.Types())
	meta, err := m.MetadataFor(Sensor{})
	require.NoError(t, err)

	q, err := m.CreateQuery(&Sensor{})
	require.NoError(t, err)
	assert.Same(t, meta, q.Metadata(), "queries reuse the cached metadata")
	assert.True(t, m.Factory().HasMetadataFor(meta.Type))
}

func TestManager_CreateQueryRejectsSuperclass(t *testing.T) {
	m := NewManager(&fakeTransport{})

	_, err := m.CreateQuery(Entity{})
	assert.ErrorIs(t, err, ErrClassNotMapped)

	_, err = m.CreateQuery(unmapped{})
	assert.ErrorIs(t, err, ErrClassNotMapped)
}

func TestManager_WithSource(t *testing.T) {
	m := NewManager(&fakeTransport{}, WithSource(ChainSource{}))
	_, err := m.MetadataFor(CPUUsage{})
	assert.ErrorIs(t, err, ErrClassNotMapped)
}

func TestManager_LifecycleNoOps(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)

	s := &Sensor{Entity: Entity{ID: "s-1"}, Temp: 1}
	m.Detach(s)
	m.Clear()
	assert.NoError(t, m.Refresh(context.Background(), s))
	assert.Same(t, s, m.Merge(s))
	assert.Equal(t, 1.0, s.Temp)

	assert.Empty(t, ft.writes)
	assert.Empty(t, ft.queries)
	assert.Empty(t, ft.deletes)
}

func TestManager_Close(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)
	assert.Same(t, ft, m.Transport())
	require.NoError(t, m.Close())
	assert.True(t, ft.closed)
}
