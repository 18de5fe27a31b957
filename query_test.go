package odm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(ft *fakeTransport) *Manager {
	return NewManager(ft)
}

func TestQuery_BuildsStatement(t *testing.T) {
	m := newTestManager(&fakeTransport{})
	q, err := m.CreateQuery(CPUUsage{})
	require.NoError(t, err)

	q.Select("time", "value").
		Where("host", OpEqual, "server01").
		Where("value", OpGreater, 0.5).
		Between(ts(1), ts(2)).
		OrderByTimeDesc().
		Limit(3)
	require.NoError(t, q.Err())

	assert.Equal(t,
		`SELECT "time","value" FROM "cpu_usage" WHERE "host" = 'server01' AND "value" > 0.5 AND time >= 1000000000 AND time <= 2000000000 ORDER BY time DESC LIMIT 3`,
		q.String())
	assert.Equal(t, QueryBuilding, q.State())
}

func TestQuery_WhereConvertsThroughLogicalType(t *testing.T) {
	m := newTestManager(&fakeTransport{})
	q, err := m.CreateQuery(Sensor{})
	require.NoError(t, err)

	q.Where("id", OpEqual, "s-1").
		Where("temperature", OpLessEqual, 20).
		Where("online", OpEqual, true).
		Where("time", OpGreaterEqual, ts(5))
	require.NoError(t, q.Err())

	conds := q.Statement().Conditions
	require.Len(t, conds, 4)
	assert.Equal(t, "s-1", conds[0].Value)
	assert.Equal(t, 20.0, conds[1].Value, "integers widen for float fields")
	assert.Equal(t, true, conds[2].Value)
	assert.Equal(t, "time", conds[3].Key)
	assert.Contains(t, q.String(), "time >= 5000000000")
}

func TestQuery_BuilderErrors(t *testing.T) {
	m := newTestManager(&fakeTransport{})

	tests := []struct {
		name  string
		build func(q *Query)
	}{
		{"unknown select", func(q *Query) { q.Select("nope") }},
		{"unknown where", func(q *Query) { q.Where("nope", OpEqual, 1) }},
		{"bad operator", func(q *Query) { q.Where("host", Operator("=~"), "a") }},
		{"bad time", func(q *Query) { q.Where("time", OpGreater, true) }},
		{"group by field", func(q *Query) { q.GroupBy("value") }},
		{"unconvertible value", func(q *Query) { q.Where("value", OpEqual, "high") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{}
			q, err := m.CreateQuery(CPUUsage{})
			require.NoError(t, err)
			q.querier = ft

			tt.build(q)
			require.Error(t, q.Err())

			_, err = q.GetResult(context.Background())
			assert.Equal(t, q.Err(), err)
			assert.Empty(t, ft.queries, "a broken query never reaches the transport")
		})
	}
}

func TestQuery_FirstErrorWins(t *testing.T) {
	m := newTestManager(&fakeTransport{})
	q, err := m.CreateQuery(CPUUsage{})
	require.NoError(t, err)

	q.Select("first").Select("second")
	assert.Contains(t, q.Err().Error(), `"first"`)
}

func TestQuery_RawResultIsMemoized(t *testing.T) {
	ft := &fakeTransport{result: cpuResult()}
	m := newTestManager(ft)
	q, err := m.CreateQuery(&CPUUsage{})
	require.NoError(t, err)
	ctx := context.Background()

	objs, err := q.GetResult(ctx)
	require.NoError(t, err)
	assert.Len(t, objs, 2)
	assert.Equal(t, QueryHydrated, q.State())

	rows, err := q.GetArrayResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, "server02", rows[1]["host"])

	hosts, err := q.GetScalarResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"server01", "server02"}, hosts, "first non-time column")

	_, err = q.GetSingleScalarResult(ctx)
	assert.ErrorIs(t, err, ErrNonUniqueResult)

	assert.Len(t, ft.queries, 1, "every mode re-hydrates the same raw result")
}

func TestQuery_BuilderRejectedAfterExecute(t *testing.T) {
	ft := &fakeTransport{result: cpuResult()}
	q, err := newTestManager(ft).CreateQuery(CPUUsage{})
	require.NoError(t, err)

	_, err = q.GetResult(context.Background())
	require.NoError(t, err)

	q.Where("host", OpEqual, "a")
	assert.ErrorIs(t, q.Err(), ErrQueryState)
	assert.Empty(t, q.Statement().Conditions, "the statement is frozen")

	_, err = q.GetArrayResult(context.Background())
	assert.NoError(t, err, "an executed query still hydrates")
}

func TestQuery_UnsupportedModeSkipsTransport(t *testing.T) {
	ft := &fakeTransport{result: cpuResult()}
	q, err := newTestManager(ft).CreateQuery(CPUUsage{})
	require.NoError(t, err)

	_, err = q.Execute(context.Background(), HydrationMode(99))
	assert.ErrorIs(t, err, ErrUnsupportedHydrationMode)
	assert.Empty(t, ft.queries)
	assert.Equal(t, QueryBuilding, q.State())
}

func TestQuery_TransportError(t *testing.T) {
	boom := errors.New("connection refused")
	ft := &fakeTransport{queryErr: boom}
	q, err := newTestManager(ft).CreateQuery(CPUUsage{})
	require.NoError(t, err)

	_, err = q.GetResult(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, QueryBuilding, q.State(), "failed executions can be retried")

	ft.queryErr = nil
	ft.result = cpuResult()
	objs, err := q.GetResult(context.Background())
	require.NoError(t, err)
	assert.Len(t, objs, 2)
	assert.Len(t, ft.queries, 2)
}

func TestQuery_NilResultIsEmpty(t *testing.T) {
	q, err := newTestManager(&fakeTransport{}).CreateQuery(CPUUsage{})
	require.NoError(t, err)

	objs, err := q.GetResult(context.Background())
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestQuery_Raw(t *testing.T) {
	ft := &fakeTransport{result: &Result{Series: []Series{{
		Columns: []string{"time", "mean"},
		Values:  [][]any{{int64(0), 0.82}},
	}}}}
	q, err := newTestManager(ft).CreateQuery(CPUUsage{})
	require.NoError(t, err)

	v, err := q.Raw(`SELECT mean("value") FROM "cpu_usage"`).ScalarColumn("mean").GetSingleScalarResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.82, v)
	assert.Equal(t, []string{`SELECT mean("value") FROM "cpu_usage"`}, ft.queries)
}

func TestObjects(t *testing.T) {
	ft := &fakeTransport{result: cpuResult()}
	m := newTestManager(ft)

	q, err := m.CreateQuery(CPUUsage{})
	require.NoError(t, err)
	typed, err := Objects[CPUUsage](context.Background(), q)
	require.NoError(t, err)
	require.Len(t, typed, 2)
	assert.Equal(t, "server01", typed[0].Host)

	q, err = m.CreateQuery(CPUUsage{})
	require.NoError(t, err)
	_, err = Objects[Sensor](context.Background(), q)
	assert.Error(t, err)
}

func TestQueryState_String(t *testing.T) {
	assert.Equal(t, "building", QueryBuilding.String())
	assert.Equal(t, "executed", QueryExecuted.String())
	assert.Equal(t, "hydrated", QueryHydrated.String())
	assert.Equal(t, "unknown", QueryState(7).String())
}
