package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squareup/flowbase/common"
)

func idColTypes() []common.ColumnType {
	return []common.ColumnType{common.BigIntColumnType, common.VarcharColumnType}
}

func idIndex() common.IndexInfo {
	return common.IndexInfo{Name: "pk", Cols: []int{0}}
}

func newTestRow(colTypes []common.ColumnType, id int64, name string) common.Row {
	factory := common.NewRowsFactory(colTypes)
	rows := factory.NewRows(1)
	rows.AppendValues(id, name)
	return *rows.GetRow(0)
}

func TestMemoryInsertLookupFull(t *testing.T) {
	colTypes := idColTypes()
	m := NewMemory(colTypes, []common.IndexInfo{idIndex()}, false)

	row := newTestRow(colTypes, 1, "alice")
	require.NoError(t, m.Insert(&row))

	key, err := common.EncodeKeyCols(&row, []int{0}, colTypes, nil)
	require.NoError(t, err)

	res := m.Lookup("pk", key)
	assert.True(t, res.Hit)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "alice", res.Rows[0].GetString(1))
}

func TestMemoryPartialMissUntilFilled(t *testing.T) {
	colTypes := idColTypes()
	m := NewMemory(colTypes, []common.IndexInfo{idIndex()}, true)

	row := newTestRow(colTypes, 1, "alice")
	key, err := common.EncodeKeyCols(&row, []int{0}, colTypes, nil)
	require.NoError(t, err)

	res := m.Lookup("pk", key)
	assert.False(t, res.Hit, "unfilled partial key must Miss")

	m.MarkFilled("pk", key)
	res = m.Lookup("pk", key)
	assert.True(t, res.Hit)
	assert.Empty(t, res.Rows, "filled-but-empty key is a Hit with no rows")

	require.NoError(t, m.Insert(&row))
	res = m.Lookup("pk", key)
	assert.True(t, res.Hit)
	require.Len(t, res.Rows, 1)
}

func TestMemoryRemoveIsMultiset(t *testing.T) {
	colTypes := idColTypes()
	m := NewMemory(colTypes, []common.IndexInfo{idIndex()}, false)

	row := newTestRow(colTypes, 1, "alice")
	require.NoError(t, m.Insert(&row))
	require.NoError(t, m.Insert(&row))

	key, err := common.EncodeKeyCols(&row, []int{0}, colTypes, nil)
	require.NoError(t, err)

	require.NoError(t, m.Remove(&row))
	res := m.Lookup("pk", key)
	assert.True(t, res.Hit)
	assert.Len(t, res.Rows, 1, "removing one instance should leave the other")
}

func TestMemoryAddIndexBackfills(t *testing.T) {
	colTypes := idColTypes()
	m := NewMemory(colTypes, []common.IndexInfo{idIndex()}, false)

	row := newTestRow(colTypes, 1, "alice")
	require.NoError(t, m.Insert(&row))

	secondary := common.IndexInfo{Name: "by_name", Cols: []int{1}}
	require.NoError(t, m.AddIndex(secondary))

	key, err := common.EncodeKeyCols(&row, []int{1}, colTypes, nil)
	require.NoError(t, err)

	res := m.Lookup("by_name", key)
	assert.True(t, res.Hit)
	require.Len(t, res.Rows, 1)
}

func TestMemoryEvictMarksHole(t *testing.T) {
	colTypes := idColTypes()
	m := NewMemory(colTypes, []common.IndexInfo{idIndex()}, true)

	row := newTestRow(colTypes, 1, "alice")
	key, err := common.EncodeKeyCols(&row, []int{0}, colTypes, nil)
	require.NoError(t, err)

	m.MarkFilled("pk", key)
	require.NoError(t, m.Insert(&row))

	evicted := m.Evict(1)
	require.NotEmpty(t, evicted)

	res := m.Lookup("pk", key)
	assert.False(t, res.Hit, "evicted key must go back to Miss")
}
