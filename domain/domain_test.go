package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/exec"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/replay"
	"github.com/squareup/flowbase/state"
)

func orderTypes() []common.ColumnType {
	return []common.ColumnType{common.BigIntColumnType, common.BigIntColumnType} // order_id, customer_id
}

func customerTypes() []common.ColumnType {
	return []common.ColumnType{common.BigIntColumnType, common.VarcharColumnType} // customer_id, name
}

func orderRow(orderID, customerID int64) common.Row {
	f := common.NewRowsFactory(orderTypes())
	rows := f.NewRows(1)
	rows.AppendValues(orderID, customerID)
	return *rows.GetRow(0)
}

func customerRow(customerID int64, name string) common.Row {
	f := common.NewRowsFactory(customerTypes())
	rows := f.NewRows(1)
	rows.AppendValues(customerID, name)
	return *rows.GetRow(0)
}

const (
	ordersNode    graph.ID = 1
	customersNode graph.ID = 2
	joinNode      graph.ID = 3
)

// sinkExecutor records every batch forwarded to it, standing in for a
// Reader at the end of the join so tests can observe what the join
// actually emitted.
type sinkExecutor struct {
	id      graph.ID
	batches []exec.RowsBatch
}

func newSink(id graph.ID) *sinkExecutor { return &sinkExecutor{id: id} }

func (s *sinkExecutor) ID() graph.ID                          { return s.id }
func (s *sinkExecutor) Ancestors() []graph.ID                 { return nil }
func (s *sinkExecutor) Resolve(int) ([]exec.ColumnRef, bool)  { return nil, false }
func (s *sinkExecutor) SuggestIndices() map[graph.ID][]int    { return nil }
func (s *sinkExecutor) AddConsumingNode(string, exec.PushExecutor) {}
func (s *sinkExecutor) RemoveConsumingNode(string)                 {}
func (s *sinkExecutor) HandleRows(batch exec.RowsBatch, _ *exec.ExecutionContext) error {
	s.batches = append(s.batches, batch)
	return nil
}

const sinkNode graph.ID = 4

// newJoinDomain builds orders and customers as local base tables feeding
// a join, both sides indexed by customer_id so the join can probe
// whichever side a delta arrived from. orders is fully materialized
// (never misses); customers is Partial, so a join triggered from the
// orders side can still miss and drive a replay.
func newJoinDomain(t *testing.T) (*Domain, *exec.JoinExecutor, state.State, *sinkExecutor) {
	t.Helper()
	d := NewDomain(0)

	orderState := state.NewMemory(orderTypes(), []common.IndexInfo{
		{Name: "pk", Cols: []int{0}},
		{Name: "by_customer", Cols: []int{1}},
	}, false)
	orders := exec.NewTableExecutor(ordersNode, orderTypes(), []int{0}, orderState)

	customerState := state.NewMemory(customerTypes(), []common.IndexInfo{{Name: "by_id", Cols: []int{0}}}, true)
	customers := exec.NewTableExecutor(customersNode, customerTypes(), []int{0}, customerState)

	j := exec.NewJoinExecutor(joinNode, ordersNode, customersNode, []int{1}, []int{0}, "by_customer", "by_id",
		exec.JoinInner, orderTypes(), customerTypes(), append(append([]common.ColumnType{}, orderTypes()...), customerTypes()...))

	sink := newSink(sinkNode)

	orders.AddConsumingNode("join", j)
	customers.AddConsumingNode("join", j)
	j.AddConsumingNode("sink", sink)

	d.AddNode(orders)
	d.AddNode(customers)
	d.AddNode(j)
	d.AddNode(sink)
	d.AddState(ordersNode, orderState)
	d.AddState(customersNode, customerState)

	return d, j, customerState, sink
}

func TestDomainHandleMessageUpdatesStatistics(t *testing.T) {
	d, _, _, _ := newJoinDomain(t)
	go func() { _ = d.Run(nil) }()

	d.Enqueue(&Packet{Kind: Message, To: ordersNode, Records: exec.NewInsertRowsBatch([]common.Row{orderRow(1, 100)})})

	done := make(chan error, 1)
	d.Enqueue(&Packet{Kind: Finish, Done: done})
	require.NoError(t, <-done)

	stats := make(chan Statistics, 1)
	d.Enqueue(&Packet{Kind: GetStatistics, Stats: stats})
	s := <-stats
	assert.Equal(t, int64(1), s.MessagesHandled)

	d.Enqueue(&Packet{Kind: Quit})
}

func TestDomainMissTriggersUpstreamReplayOnceThenDrainsOnFill(t *testing.T) {
	d, _, customerState, sink := newJoinDomain(t)

	path := &replay.Path{Tag: 42, Segments: []replay.Segment{{Domain: 0, InNode: customersNode, OutNode: customersNode, KeyCol: 0}}}

	var requests []struct {
		tag uint64
		key []byte
	}
	d.UpstreamReplay = func(tag uint64, key []byte) error {
		requests = append(requests, struct {
			tag uint64
			key []byte
		}{tag, key})
		return nil
	}

	go func() { _ = d.Run(nil) }()

	d.Enqueue(&Packet{Kind: SetupReplayPath, Path: path, IndexNode: customersNode, IndexName: "by_id"})

	// Two orders for the same still-missing customer: only the first
	// should trigger an upstream replay request; the second must coalesce.
	d.Enqueue(&Packet{Kind: Message, To: ordersNode, Records: exec.NewInsertRowsBatch([]common.Row{orderRow(1, 100)})})
	d.Enqueue(&Packet{Kind: Message, To: ordersNode, Records: exec.NewInsertRowsBatch([]common.Row{orderRow(2, 100)})})

	done := make(chan error, 1)
	d.Enqueue(&Packet{Kind: Finish, Done: done})
	require.NoError(t, <-done)

	require.Len(t, requests, 1, "duplicate misses on the same key must coalesce into one upstream request")
	assert.Equal(t, uint64(42), requests[0].tag)
	assert.Empty(t, sink.batches, "nothing should reach the sink before the customer arrives")

	// Now simulate the replay answer arriving: the customer row is
	// installed, marked filled, and both buffered orders should re-join
	// and reach the sink — through the join itself, not by re-inserting
	// into customers' own state a second time.
	custKey, encErr := common.EncodeKeyCols(rowPtr(customerRow(100, "acme")), []int{0}, customerTypes(), nil)
	require.NoError(t, encErr)

	replayDone := make(chan error, 1)
	d.Enqueue(&Packet{
		Kind:      ReplayPiece,
		To:        customersNode,
		Tag:       42,
		Keys:      [][]byte{custKey},
		Rows:      []common.Row{customerRow(100, "acme")},
		Last:      true,
		IndexName: "by_id",
	})
	d.Enqueue(&Packet{Kind: Finish, Done: replayDone})
	require.NoError(t, <-replayDone)

	res := customerState.Lookup("by_id", custKey)
	assert.True(t, res.Hit)
	require.Len(t, res.Rows, 1, "the replayed customer row must be stored exactly once, not duplicated by redelivery")

	require.Len(t, sink.batches, 2, "both buffered orders must redeliver through the join and reach the sink")
	for _, b := range sink.batches {
		require.Len(t, b.Entries, 1)
		joined := b.Entries[0].CurrRow
		require.NotNil(t, joined)
		assert.Equal(t, int64(100), joined.GetInt64(1))
	}

	d.Enqueue(&Packet{Kind: Quit})
}

// TestDomainJoinSeesBothAncestorsOnOrdinaryTraffic exercises the right
// side of the join outside any replay: a customer lands first (building
// its own state and forwarding to the join like any other consumer, and
// is marked filled exactly the way a replay would), then an order for
// that customer arrives. Both directions must reach the join as the
// sender they actually came from, not defaulted to the join's left
// ancestor — before the fix, a batch forwarded from the customers side
// was silently handled as though it had arrived from orders instead.
func TestDomainJoinSeesBothAncestorsOnOrdinaryTraffic(t *testing.T) {
	d, _, customerState, sink := newJoinDomain(t)
	go func() { _ = d.Run(nil) }()

	custKey, err := common.EncodeKeyCols(rowPtr(customerRow(100, "acme")), []int{0}, customerTypes(), nil)
	require.NoError(t, err)

	d.Enqueue(&Packet{Kind: Message, To: customersNode, Records: exec.NewInsertRowsBatch([]common.Row{customerRow(100, "acme")})})
	firstDone := make(chan error, 1)
	d.Enqueue(&Packet{Kind: Finish, Done: firstDone})
	require.NoError(t, <-firstDone)
	customerState.MarkFilled("by_id", custKey)

	d.Enqueue(&Packet{Kind: Message, To: ordersNode, Records: exec.NewInsertRowsBatch([]common.Row{orderRow(1, 100)})})
	secondDone := make(chan error, 1)
	d.Enqueue(&Packet{Kind: Finish, Done: secondDone})
	require.NoError(t, <-secondDone)

	require.Len(t, sink.batches, 1, "the order arriving after its customer must join immediately, with no miss")
	joined := sink.batches[0].Entries[0].CurrRow
	require.NotNil(t, joined)
	assert.Equal(t, int64(100), joined.GetInt64(1))
	assert.Equal(t, "acme", joined.GetString(3))

	d.Enqueue(&Packet{Kind: Quit})
}

func rowPtr(r common.Row) *common.Row { return &r }
