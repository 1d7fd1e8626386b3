package exec

import (
	"hash/fnv"
	"strconv"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/graph"
)

// IngressExecutor is the stateless entry point of a domain: it exists so
// every cross-domain edge terminates at a node with exactly one
// ancestor, giving the migration planner a uniform place to hang
// per-domain bookkeeping (spec.md §4.7 "Insert Ingress at domain entry").
// The fabric delivers packets addressed to it; HandleRows just forwards.
type IngressExecutor struct {
	pushExecutorBase
	upstream graph.ID
}

func NewIngressExecutor(id, upstream graph.ID) *IngressExecutor {
	return &IngressExecutor{pushExecutorBase: newBase(id), upstream: upstream}
}

func (i *IngressExecutor) Ancestors() []graph.ID { return []graph.ID{i.upstream} }

func (i *IngressExecutor) Resolve(col int) ([]ColumnRef, bool) {
	return []ColumnRef{{Ancestor: i.upstream, Column: col}}, true
}

func (i *IngressExecutor) SuggestIndices() map[graph.ID][]int { return nil }

func (i *IngressExecutor) HandleRows(batch RowsBatch, ctx *ExecutionContext) error {
	return i.forward(batch, ctx)
}

// EgressExecutor is the stateless exit point of a domain: its consuming
// nodes live in other domains, reached through the channel fabric rather
// than a direct in-process HandleRows call, so its Send hook is wired up
// by the controller at InstallNode time instead of via
// AddConsumingNode (spec.md §4.7 "Egress at domain exit").
type EgressExecutor struct {
	pushExecutorBase
	upstream graph.ID
	send     func(batch RowsBatch) error
}

func NewEgressExecutor(id, upstream graph.ID, send func(RowsBatch) error) *EgressExecutor {
	return &EgressExecutor{pushExecutorBase: newBase(id), upstream: upstream, send: send}
}

func (e *EgressExecutor) Ancestors() []graph.ID { return []graph.ID{e.upstream} }

func (e *EgressExecutor) Resolve(col int) ([]ColumnRef, bool) {
	return []ColumnRef{{Ancestor: e.upstream, Column: col}}, true
}

func (e *EgressExecutor) SuggestIndices() map[graph.ID][]int { return nil }

func (e *EgressExecutor) HandleRows(batch RowsBatch, _ *ExecutionContext) error {
	if e.send == nil {
		return nil
	}
	return e.send(batch)
}

// SharderExecutor routes each row by hash(column) mod shard count,
// matching spec.md §4.2's "Sharder routes by hash of a column modulo
// shard count." Its consuming nodes are keyed by shard index (as
// strings, reusing pushExecutorBase's name-keyed map) rather than by an
// arbitrary name.
type SharderExecutor struct {
	pushExecutorBase
	upstream   graph.ID
	shardCol   int
	colType    common.ColumnType
	shardCount int
}

func NewSharderExecutor(id, upstream graph.ID, shardCol int, colType common.ColumnType, shardCount int) *SharderExecutor {
	return &SharderExecutor{pushExecutorBase: newBase(id), upstream: upstream, shardCol: shardCol, colType: colType, shardCount: shardCount}
}

func (s *SharderExecutor) Ancestors() []graph.ID { return []graph.ID{s.upstream} }

func (s *SharderExecutor) Resolve(col int) ([]ColumnRef, bool) {
	return []ColumnRef{{Ancestor: s.upstream, Column: col}}, true
}

func (s *SharderExecutor) SuggestIndices() map[graph.ID][]int { return nil }

// ShardFor computes the destination shard for row, exported so the
// domain runtime's cross-shard dispatch (which owns the actual fabric
// send) can route without duplicating the hash function.
func (s *SharderExecutor) ShardFor(row *common.Row) int {
	v := colValue(row, s.shardCol, s.colType)
	h := fnv.New32a()
	switch tv := v.(type) {
	case int64:
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(tv >> (8 * i))
		}
		_, _ = h.Write(b[:])
	case string:
		_, _ = h.Write([]byte(tv))
	}
	return int(h.Sum32()) % s.shardCount
}

// HandleRows partitions batch by destination shard and forwards each
// partition to the consuming node registered under that shard's name
// (domain setup calls AddConsumingNode(strconv.Itoa(shard), egress)).
func (s *SharderExecutor) HandleRows(batch RowsBatch, ctx *ExecutionContext) error {
	byShard := make(map[int]*RowsBatch)
	for _, e := range batch.Entries {
		row := e.CurrRow
		if row == nil {
			row = e.PrevRow
		}
		shard := s.ShardFor(row)
		b, ok := byShard[shard]
		if !ok {
			b = &RowsBatch{}
			byShard[shard] = b
		}
		b.Entries = append(b.Entries, e)
	}
	for shard, b := range byShard {
		consumer, ok := s.consumingNodes[strconv.Itoa(shard)]
		if !ok {
			continue
		}
		if err := consumer.HandleRows(*b, ctx); err != nil {
			return err
		}
	}
	return nil
}
