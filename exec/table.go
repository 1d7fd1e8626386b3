package exec

import (
	"sync"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/state"
)

// TableExecutor is the Base node: the only operator with no ancestors,
// fed directly by client writes or by push/source's Kafka consumer
// rather than by another node's HandleRows. Adapted from
// push/exec/table_exec.go's TableExecutor — HandleRows applies each
// entry's PrevRow/CurrRow pair as given (it does not re-read the stored
// row first), with the same consumingNodes forwarding,
// generalized from a single pebble-backed table to any state.State
// (so an in-memory-only base table used in tests needs no pebble at
// all).
type TableExecutor struct {
	pushExecutorBase
	mu       sync.Mutex
	colTypes []common.ColumnType
	pkCols   []int
	store    state.State
}

func NewTableExecutor(id graph.ID, colTypes []common.ColumnType, pkCols []int, store state.State) *TableExecutor {
	return &TableExecutor{pushExecutorBase: newBase(id), colTypes: colTypes, pkCols: pkCols, store: store}
}

func (t *TableExecutor) Ancestors() []graph.ID { return nil }

func (t *TableExecutor) Resolve(col int) ([]ColumnRef, bool) { return nil, false }

func (t *TableExecutor) SuggestIndices() map[graph.ID][]int {
	return map[graph.ID][]int{t.id: t.pkCols}
}

// primaryKey computes the encoded primary-key bytes for row.
func (t *TableExecutor) primaryKey(row *common.Row) ([]byte, error) {
	return common.EncodeKeyCols(row, t.pkCols, t.colTypes, nil)
}

// HandleRows applies an externally-sourced batch (a client Insert/Update/
// Delete, or a decoded Kafka message) to this table's durable state and
// forwards the resulting delta to every consuming node — matching
// table_exec.go's HandleRows, minus the cross-shard forwarder-queue
// bookkeeping (cross-domain delivery goes through Egress and the
// fabric channels instead).
func (t *TableExecutor) HandleRows(batch RowsBatch, ctx *ExecutionContext) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range batch.Entries {
		if e.PrevRow != nil {
			if err := t.store.Remove(e.PrevRow); err != nil {
				return err
			}
		}
		if e.CurrRow != nil {
			if err := t.store.Insert(e.CurrRow); err != nil {
				return err
			}
		}
	}
	return t.forward(batch, ctx)
}

// Fill streams every currently-stored row to newConsumer as a single
// insert-only batch, matching table_exec.go's FillTo/
// performReplayFromSnapshot full-materialization path, simplified to
// flowbase's single-process scope (no per-shard parallel snapshot scan —
// package replay's Engine drives this across domains when the consumer
// is remote).
func (t *TableExecutor) Fill(newConsumer PushExecutor, ctx *ExecutionContext) error {
	t.mu.Lock()
	rows := t.allRows()
	t.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}
	return newConsumer.HandleRows(NewInsertRowsBatch(rows), ctx)
}

// allRows is a full scan of this table's primary index, used by Fill and
// by full-replay's one-shot snapshot step (spec.md §4.5 "Full replay").
// Concrete state implementations that can enumerate their rows
// (state.Memory and state.Persistent) expose an AllRows method; this
// helper type-asserts for it rather than widening the state.State
// interface with an enumeration method every operator state would
// otherwise have to implement. A store without AllRows yields no rows.
func (t *TableExecutor) allRows() []common.Row {
	type enumerable interface {
		AllRows() []common.Row
	}
	if en, ok := t.store.(enumerable); ok {
		return en.AllRows()
	}
	return nil
}
