package replay

import (
	"testing"

	"github.com/squareup/flowbase/exec"
	"github.com/squareup/flowbase/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineRegisterAndLookupTag(t *testing.T) {
	e := NewEngine()
	p := &Path{Tag: 7, Segments: []Segment{{Domain: 0, InNode: 1, OutNode: 2, KeyCol: 0}}}
	e.RegisterPath(p, graph.ID(2), "idx")

	tag, ok := e.TagFor(graph.ID(2), "idx")
	require.True(t, ok)
	assert.Equal(t, uint64(7), tag)

	got, ok := e.Path(tag)
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = e.TagFor(graph.ID(2), "other")
	assert.False(t, ok)
}

func TestEngineBeginReplayCoalescesDuplicates(t *testing.T) {
	e := NewEngine()
	key := []byte("k1")

	should := e.BeginReplay(7, key, graph.ID(9), graph.ID(1), nil)
	assert.True(t, should, "first request for (tag,key) must trigger an upstream replay")

	should = e.BeginReplay(7, key, graph.ID(9), graph.ID(1), nil)
	assert.False(t, should, "duplicate request for the same outstanding (tag,key) must coalesce")

	assert.True(t, e.IsOutstanding(7, key))
}

func TestEngineBuffersDeltasInFIFOOrderAndDrains(t *testing.T) {
	e := NewEngine()
	key := []byte("k1")

	first := exec.NewInsertRowsBatch(nil)
	second := exec.NewInsertRowsBatch(nil)

	e.BeginReplay(7, key, graph.ID(9), graph.ID(1), &first)
	e.BeginReplay(7, key, graph.ID(9), graph.ID(2), &second)

	batches := e.DrainBuffered(7, key)
	require.Len(t, batches, 2)
	assert.Equal(t, graph.ID(1), batches[0].From)
	assert.Equal(t, first, batches[0].Batch)
	assert.Equal(t, graph.ID(2), batches[1].From)
	assert.Equal(t, second, batches[1].Batch)

	assert.False(t, e.IsOutstanding(7, key), "drain clears the outstanding flag")
}

func TestEngineIndependentKeysDoNotCoalesce(t *testing.T) {
	e := NewEngine()
	should1 := e.BeginReplay(7, []byte("a"), graph.ID(9), graph.ID(1), nil)
	should2 := e.BeginReplay(7, []byte("b"), graph.ID(9), graph.ID(1), nil)
	assert.True(t, should1)
	assert.True(t, should2)
}
