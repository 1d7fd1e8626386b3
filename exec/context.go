// Package exec implements spec.md §4.2's operator family: the closed
// tagged-variant set of push-style, incrementally-maintained dataflow
// operators, grounded on the teacher's push/exec.TableExecutor /
// PushExecutor convention — a node forwards rows directly to whichever
// of its consuming nodes are local, rather than returning a value up a
// call stack, which is why HandleRows (not on_input returning a value)
// is the method every operator implements.
package exec

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/state"
)

// RowsEntry is one delta: a (previous, current) pair, the same
// convention table_exec.go's HandleRows uses to express insert
// (PrevRow nil), retract (CurrRow nil), and update (both set) without a
// separate polarity field.
type RowsEntry struct {
	PrevRow *common.Row
	CurrRow *common.Row
}

func (e RowsEntry) IsInsert() bool  { return e.PrevRow == nil && e.CurrRow != nil }
func (e RowsEntry) IsRetract() bool { return e.PrevRow != nil && e.CurrRow == nil }
func (e RowsEntry) IsUpdate() bool  { return e.PrevRow != nil && e.CurrRow != nil }

// RowsBatch is a sequence of deltas moving through the dataflow graph
// together, matching table_exec.go's RowsBatch.
type RowsBatch struct {
	Entries []RowsEntry
}

// NewInsertRowsBatch builds a batch of pure inserts from rows, matching
// the teacher's NewCurrentRowsBatch helper used by sendFillBatchFromPairs.
func NewInsertRowsBatch(rows []common.Row) RowsBatch {
	entries := make([]RowsEntry, len(rows))
	for i := range rows {
		r := rows[i]
		entries[i] = RowsEntry{CurrRow: &r}
	}
	return RowsBatch{Entries: entries}
}

func (b RowsBatch) Len() int { return len(b.Entries) }

// ColumnRef names one ancestor column an operator's output column is
// derived from — the return type of Resolve, which the materialization
// planner walks upward to propagate demanded indices (spec.md §4.6).
type ColumnRef struct {
	Ancestor graph.ID
	Column   int
}

// Miss is a (node, index, key) the operator needed but did not find —
// the domain runtime turns these into upstream replay requests
// (spec.md §4.3 step 2). Node names the state that was probed (what
// TagFor looks up a replay path by); Consumer names the node that must
// be re-driven once that state is filled, which is not always Node
// itself — a join probes its *other* ancestor's state but it is the
// join that needs to retry, not that ancestor. From is the ancestor the
// triggering batch arrived from, so redelivery can call HandleFrom the
// same way the original batch did.
type Miss struct {
	Node  graph.ID
	Index string
	Key   []byte

	Consumer graph.ID
	From     graph.ID
}

// ReplayContext flags a batch as flowing along a replay path rather than
// as an ordinary message: spec.md §4.5 step 3, "applies the intermediate
// operators ... but with a ReplayContext{tag, keys} flag that disables
// ordinary downstream materialization writes and instead routes results
// along the replay path."
type ReplayContext struct {
	Active bool
	Tag    uint64
	Keys   [][]byte
	// Last marks the final piece of a partial replay for Keys, the
	// signal that lets the destination flip missing→filled atomically
	// (spec.md §4.5 step 5).
	Last bool
}

// ExecutionContext is the per-batch scratch space threaded through a
// chain of HandleRows calls within one domain: the states map (by node
// ID, covering this node and every ancestor/sibling the domain holds
// locally), the replay flag, and the miss accumulator. It is the Go
// analogue of table_exec.go's *ExecutionContext argument, generalized
// from "one table's write batch" to "every node's keyed state".
type ExecutionContext struct {
	States  map[graph.ID]state.State
	Replay  *ReplayContext
	Misses  []Miss
	// EmitReplay receives rows produced while Replay.Active is set,
	// instead of being forwarded to ordinary consuming nodes — the
	// egress side of spec.md §4.5 step 3's redirection.
	EmitReplay func(batch RowsBatch)
}

func (ctx *ExecutionContext) recordMiss(node graph.ID, index string, key []byte, consumer, from graph.ID) {
	ctx.Misses = append(ctx.Misses, Miss{Node: node, Index: index, Key: key, Consumer: consumer, From: from})
}

func (ctx *ExecutionContext) stateOf(id graph.ID) state.State {
	if ctx.States == nil {
		return nil
	}
	return ctx.States[id]
}
