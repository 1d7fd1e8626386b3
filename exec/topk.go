package exec

import (
	"sort"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/errors"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/state"
)

// TopKExecutor maintains, per group, the K highest-ordered rows —
// spec.md §4.2: "per-group bounded ordered state; eviction of a row
// below the boundary may require a replay of the group to recompute."
// Its own state is indexed by group key, with each Lookup returning the
// group's full current top-K member set (never more than K rows, so
// re-sorting that set on every delta is cheap).
type TopKExecutor struct {
	pushExecutorBase
	ancestor  graph.ID
	groupCols []int
	orderCol  int
	desc      bool
	k         int
	indexName string
	colTypes  []common.ColumnType
}

func NewTopKExecutor(id, ancestor graph.ID, groupCols []int, orderCol int, desc bool, k int,
	indexName string, colTypes []common.ColumnType) *TopKExecutor {
	return &TopKExecutor{
		pushExecutorBase: newBase(id),
		ancestor:         ancestor,
		groupCols:        groupCols,
		orderCol:         orderCol,
		desc:             desc,
		k:                k,
		indexName:        indexName,
		colTypes:         colTypes,
	}
}

func (t *TopKExecutor) Ancestors() []graph.ID { return []graph.ID{t.ancestor} }

func (t *TopKExecutor) Resolve(col int) ([]ColumnRef, bool) {
	return []ColumnRef{{Ancestor: t.ancestor, Column: col}}, true
}

func (t *TopKExecutor) SuggestIndices() map[graph.ID][]int {
	return map[graph.ID][]int{t.id: t.groupCols}
}

func (t *TopKExecutor) groupKey(row *common.Row) ([]byte, error) {
	return common.EncodeKeyCols(row, t.groupCols, t.colTypes, nil)
}

func (t *TopKExecutor) orderValue(row *common.Row) int64 {
	return colValue(row, t.orderCol, t.colTypes[t.orderCol]).(int64)
}

func (t *TopKExecutor) sortMembers(rows []common.Row) {
	sort.Slice(rows, func(i, j int) bool {
		if t.desc {
			return t.orderValue(&rows[i]) > t.orderValue(&rows[j])
		}
		return t.orderValue(&rows[i]) < t.orderValue(&rows[j])
	})
}

func (t *TopKExecutor) HandleRows(batch RowsBatch, ctx *ExecutionContext) error {
	st := ctx.stateOf(t.id)
	if st == nil {
		return errors.New("exec: topk has no state registered for its own node")
	}
	var out RowsBatch
	for _, e := range batch.Entries {
		if e.CurrRow != nil {
			if err := t.insert(ctx, st, e.CurrRow, &out); err != nil {
				return err
			}
		}
		if e.PrevRow != nil {
			if err := t.retract(ctx, st, e.PrevRow, &out); err != nil {
				return err
			}
		}
	}
	return t.forward(out, ctx)
}

// insert admits row into its group's top-K set if it beats the current
// boundary, retracting whichever member it displaces.
func (t *TopKExecutor) insert(ctx *ExecutionContext, st state.State, row *common.Row, out *RowsBatch) error {
	key, err := t.groupKey(row)
	if err != nil {
		return err
	}
	res := st.Lookup(t.indexName, key)
	if !res.Hit {
		ctx.recordMiss(t.id, t.indexName, key, t.id, t.ancestor)
		return nil
	}
	members := append(append([]common.Row(nil), res.Rows...), *row)
	t.sortMembers(members)
	if len(members) > t.k {
		displaced := members[t.k]
		members = members[:t.k]
		if !displaced.Equal(row) {
			if err := st.Remove(&displaced); err != nil {
				return err
			}
			out.Entries = append(out.Entries, RowsEntry{PrevRow: &displaced})
		} else {
			// row itself didn't make the cut.
			return nil
		}
	}
	if err := st.Insert(row); err != nil {
		return err
	}
	out.Entries = append(out.Entries, RowsEntry{CurrRow: row})
	return nil
}

// retract drops row from its group's top-K set if present, and — since
// the gap it leaves can only be filled from rows this node never kept —
// reports a miss so the domain replays the group from source.
func (t *TopKExecutor) retract(ctx *ExecutionContext, st state.State, row *common.Row, out *RowsBatch) error {
	key, err := t.groupKey(row)
	if err != nil {
		return err
	}
	res := st.Lookup(t.indexName, key)
	if !res.Hit {
		return nil
	}
	for i := range res.Rows {
		if res.Rows[i].Equal(row) {
			if err := st.Remove(&res.Rows[i]); err != nil {
				return err
			}
			out.Entries = append(out.Entries, RowsEntry{PrevRow: &res.Rows[i]})
			ctx.recordMiss(t.id, t.indexName, key, t.id, t.ancestor)
			return nil
		}
	}
	return nil
}
