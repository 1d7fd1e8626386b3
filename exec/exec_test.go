package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/state"
)

// sink is a test-only terminal PushExecutor that records every batch it
// receives, standing in for a Reader/downstream node in these unit
// tests.
type sink struct {
	pushExecutorBase
	batches []RowsBatch
}

func newSink(id graph.ID) *sink { return &sink{pushExecutorBase: newBase(id)} }

func (s *sink) Ancestors() []graph.ID                  { return nil }
func (s *sink) Resolve(int) ([]ColumnRef, bool)        { return nil, false }
func (s *sink) SuggestIndices() map[graph.ID][]int     { return nil }
func (s *sink) HandleRows(b RowsBatch, _ *ExecutionContext) error {
	s.batches = append(s.batches, b)
	return nil
}

func personTypes() []common.ColumnType {
	return []common.ColumnType{common.BigIntColumnType, common.VarcharColumnType, common.BigIntColumnType}
}

func personRow(id int64, name string, age int64) common.Row {
	f := common.NewRowsFactory(personTypes())
	rows := f.NewRows(1)
	rows.AppendValues(id, name, age)
	return *rows.GetRow(0)
}

func baseCtx() *ExecutionContext {
	return &ExecutionContext{States: map[graph.ID]state.State{}}
}

func TestMapExecutorProjectsColumns(t *testing.T) {
	m := NewMapExecutor(2, 1, []Expr{
		ColExpr{Col: 0, Type: common.BigIntColumnType},
		ColExpr{Col: 1, Type: common.VarcharColumnType},
	}, []common.ColumnType{common.BigIntColumnType, common.VarcharColumnType})

	out := newSink(3)
	m.AddConsumingNode("out", out)

	row := personRow(1, "alice", 30)
	batch := NewInsertRowsBatch([]common.Row{row})

	require.NoError(t, m.HandleRows(batch, baseCtx()))
	require.Len(t, out.batches, 1)
	require.Len(t, out.batches[0].Entries, 1)
	assert.Equal(t, "alice", out.batches[0].Entries[0].CurrRow.GetString(1))
}

func TestFilterExecutorDropsFailingRows(t *testing.T) {
	f := NewFilterExecutor(2, 1, func(row *common.Row) (bool, error) {
		return row.GetInt64(2) >= 18, nil
	}, personTypes())
	out := newSink(3)
	f.AddConsumingNode("out", out)

	adult := personRow(1, "alice", 30)
	minor := personRow(2, "bob", 10)
	batch := NewInsertRowsBatch([]common.Row{adult, minor})

	require.NoError(t, f.HandleRows(batch, baseCtx()))
	require.Len(t, out.batches, 1)
	assert.Len(t, out.batches[0].Entries, 1, "only the adult row should pass")
}

func TestAggregationExecutorEmitsOldNewPair(t *testing.T) {
	groupTypes := []common.ColumnType{common.VarcharColumnType, common.BigIntColumnType}
	a := NewAggregationExecutor(10, 1, []int{1}, 2, SumAgg, "by_group", personTypes(), groupTypes)

	ctx := baseCtx()
	ctx.States[a.ID()] = state.NewMemory(groupTypes, []common.IndexInfo{{Name: "by_group", Cols: []int{0}}}, false)

	out := newSink(11)
	a.AddConsumingNode("out", out)

	first := personRow(1, "alice", 30)
	require.NoError(t, a.HandleRows(NewInsertRowsBatch([]common.Row{first}), ctx))
	require.Len(t, out.batches, 1)
	e := out.batches[0].Entries[0]
	assert.Nil(t, e.PrevRow)
	require.NotNil(t, e.CurrRow)
	assert.Equal(t, int64(30), e.CurrRow.GetInt64(1))

	second := personRow(2, "alice", 10)
	require.NoError(t, a.HandleRows(NewInsertRowsBatch([]common.Row{second}), ctx))
	require.Len(t, out.batches, 2)
	e2 := out.batches[1].Entries[0]
	require.NotNil(t, e2.PrevRow)
	require.NotNil(t, e2.CurrRow)
	assert.Equal(t, int64(30), e2.PrevRow.GetInt64(1))
	assert.Equal(t, int64(40), e2.CurrRow.GetInt64(1))
}

func TestUnionExecutorPassesThroughFromEitherAncestor(t *testing.T) {
	u := NewUnionExecutor(5, []graph.ID{1, 2}, personTypes())
	out := newSink(6)
	u.AddConsumingNode("out", out)

	row := personRow(1, "alice", 30)
	batch := NewInsertRowsBatch([]common.Row{row})
	require.NoError(t, u.HandleRows(batch, baseCtx()))
	require.Len(t, out.batches, 1)
}
