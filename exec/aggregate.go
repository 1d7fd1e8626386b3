package exec

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/errors"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/state"
)

// AggFunc computes a new running value from an old running value and an
// incoming/outgoing row's argument value — the incremental-maintenance
// core of Aggregation (spec.md §4.2).
type AggFunc interface {
	Zero() interface{}
	Add(acc interface{}, v interface{}) interface{}
	Sub(acc interface{}, v interface{}) interface{}
}

type sumAgg struct{}

func (sumAgg) Zero() interface{}                  { return int64(0) }
func (sumAgg) Add(acc, v interface{}) interface{} { return acc.(int64) + v.(int64) }
func (sumAgg) Sub(acc, v interface{}) interface{} { return acc.(int64) - v.(int64) }

type countAgg struct{}

func (countAgg) Zero() interface{}                  { return int64(0) }
func (countAgg) Add(acc, _ interface{}) interface{} { return acc.(int64) + 1 }
func (countAgg) Sub(acc, _ interface{}) interface{} { return acc.(int64) - 1 }

// SumAgg and CountAgg are the two stock AggFuncs operators are built
// with; Min/Max extremes are handled by ExtremumExecutor instead, since
// they cannot be maintained by a simple +/- fold (spec.md §4.2 calls
// them out as a distinct family for exactly that reason).
var (
	SumAgg   AggFunc = sumAgg{}
	CountAgg AggFunc = countAgg{}
)

// AggregationExecutor is spec.md §4.2's "keyed state of running value;
// for each delta emit a (−old,+new) pair," grounded on exec_builder.go's
// PhysicalHashAgg case, re-targeted at an explicit AggFunc instead of
// TiDB's aggregate-function descriptors. Its own materialized state (one
// row per group: group columns followed by the running value) doubles
// as both the operator's working set and, when the node is read
// directly, its output.
type AggregationExecutor struct {
	pushExecutorBase
	ancestor  graph.ID
	groupCols []int
	argCol    int
	fn        AggFunc
	indexName string
	inTypes   []common.ColumnType
	outTypes  []common.ColumnType
}

func NewAggregationExecutor(id, ancestor graph.ID, groupCols []int, argCol int, fn AggFunc,
	indexName string, inTypes, outTypes []common.ColumnType) *AggregationExecutor {
	return &AggregationExecutor{
		pushExecutorBase: newBase(id),
		ancestor:         ancestor,
		groupCols:        groupCols,
		argCol:           argCol,
		fn:               fn,
		indexName:        indexName,
		inTypes:          inTypes,
		outTypes:         outTypes,
	}
}

func (a *AggregationExecutor) Ancestors() []graph.ID { return []graph.ID{a.ancestor} }

func (a *AggregationExecutor) Resolve(col int) ([]ColumnRef, bool) {
	if col < len(a.groupCols) {
		return []ColumnRef{{Ancestor: a.ancestor, Column: a.groupCols[col]}}, true
	}
	// The aggregate value column is synthesized; it cannot be resolved
	// to a single ancestor column (spec.md §4.6 step 1's stopping case).
	return nil, false
}

func (a *AggregationExecutor) SuggestIndices() map[graph.ID][]int {
	return map[graph.ID][]int{a.id: a.groupCols}
}

func (a *AggregationExecutor) groupKey(row *common.Row) ([]byte, error) {
	return common.EncodeKeyCols(row, a.groupCols, a.inTypes, nil)
}

// HandleRows folds each delta into this node's own keyed running-value
// state and emits the (−old,+new) replacement pair.
func (a *AggregationExecutor) HandleRows(batch RowsBatch, ctx *ExecutionContext) error {
	st := ctx.stateOf(a.id)
	if st == nil {
		return errors.New("exec: aggregation has no state registered for its own node")
	}
	var out RowsBatch
	for _, e := range batch.Entries {
		if e.PrevRow != nil {
			retract, insert, err := a.fold(ctx, st, e.PrevRow, false)
			if err != nil {
				return err
			}
			if retract != nil || insert != nil {
				out.Entries = append(out.Entries, RowsEntry{PrevRow: retract, CurrRow: insert})
			}
		}
		if e.CurrRow != nil {
			retract, insert, err := a.fold(ctx, st, e.CurrRow, true)
			if err != nil {
				return err
			}
			if retract != nil || insert != nil {
				out.Entries = append(out.Entries, RowsEntry{PrevRow: retract, CurrRow: insert})
			}
		}
	}
	return a.forward(out, ctx)
}

// fold applies one row (adding if add, subtracting otherwise) to the
// group it belongs to, updates the group's state in place, and returns
// the (old, new) group rows to emit downstream. A Miss on the group's
// own index (only possible if this node is itself Partial and the key
// is a still-unfilled hole) is recorded on ctx and the row dropped —
// spec.md §4.3 step 2 turns it into a replay request upstream.
func (a *AggregationExecutor) fold(ctx *ExecutionContext, st state.State, row *common.Row, add bool) (*common.Row, *common.Row, error) {
	key, err := a.groupKey(row)
	if err != nil {
		return nil, nil, err
	}
	res := st.Lookup(a.indexName, key)
	if !res.Hit {
		ctx.recordMiss(a.id, a.indexName, key, a.id, a.ancestor)
		return nil, nil, nil
	}

	acc := a.fn.Zero()
	var oldRow *common.Row
	if len(res.Rows) > 0 {
		oldRow = &res.Rows[0]
		acc = colValue(oldRow, len(a.groupCols), a.outTypes[len(a.groupCols)])
	}

	argVal := colValue(row, a.argCol, a.inTypes[a.argCol])
	var newAcc interface{}
	if add {
		newAcc = a.fn.Add(acc, argVal)
	} else {
		newAcc = a.fn.Sub(acc, argVal)
	}

	newRow := a.buildGroupRow(row, newAcc)
	if oldRow != nil {
		if err := st.Remove(oldRow); err != nil {
			return nil, nil, err
		}
	}
	if err := st.Insert(newRow); err != nil {
		return nil, nil, err
	}
	return oldRow, newRow, nil
}

func (a *AggregationExecutor) buildGroupRow(srcRow *common.Row, acc interface{}) *common.Row {
	factory := common.NewRowsFactory(a.outTypes)
	rows := factory.NewRows(1)
	vals := make([]interface{}, len(a.outTypes))
	for i, col := range a.groupCols {
		vals[i] = colValue(srcRow, col, a.inTypes[col])
	}
	vals[len(a.groupCols)] = acc
	rows.AppendValues(vals...)
	return rows.GetRow(0)
}

// ExtremumFunc selects whether a candidate value improves on the
// current extreme — Min/Max cannot be maintained by a simple +/- fold
// since removing the current extreme requires re-deriving it from the
// remaining group members, which is why spec.md §4.2 separates Extremum
// from Aggregation.
type ExtremumFunc func(current, candidate int64) bool

var (
	MaxExtremum ExtremumFunc = func(current, candidate int64) bool { return candidate > current }
	MinExtremum ExtremumFunc = func(current, candidate int64) bool { return candidate < current }
)

// ExtremumExecutor maintains, per group, the current extreme of argCol
// only; it does not keep the group's other members, so a retract of the
// extreme records a miss (handled by the domain as a group replay)
// instead of recomputing locally.
type ExtremumExecutor struct {
	pushExecutorBase
	ancestor  graph.ID
	groupCols []int
	argCol    int
	better    ExtremumFunc
	indexName string
	inTypes   []common.ColumnType
	outTypes  []common.ColumnType
}

func NewExtremumExecutor(id, ancestor graph.ID, groupCols []int, argCol int, better ExtremumFunc,
	indexName string, inTypes, outTypes []common.ColumnType) *ExtremumExecutor {
	return &ExtremumExecutor{
		pushExecutorBase: newBase(id),
		ancestor:         ancestor,
		groupCols:        groupCols,
		argCol:           argCol,
		better:           better,
		indexName:        indexName,
		inTypes:          inTypes,
		outTypes:         outTypes,
	}
}

func (x *ExtremumExecutor) Ancestors() []graph.ID { return []graph.ID{x.ancestor} }

func (x *ExtremumExecutor) Resolve(col int) ([]ColumnRef, bool) {
	if col < len(x.groupCols) {
		return []ColumnRef{{Ancestor: x.ancestor, Column: x.groupCols[col]}}, true
	}
	return nil, false
}

func (x *ExtremumExecutor) SuggestIndices() map[graph.ID][]int {
	return map[graph.ID][]int{x.id: x.groupCols}
}

func (x *ExtremumExecutor) groupKey(row *common.Row) ([]byte, error) {
	return common.EncodeKeyCols(row, x.groupCols, x.inTypes, nil)
}

// HandleRows: an insert only changes the emitted extreme if it beats the
// current one. A retract of a non-extreme member is invisible upstream.
// A retract of the current extreme requires recomputing from the
// remaining members, which the node's own (Full) membership state — a
// second maintained index over the raw ancestor rows, not modeled here —
// would supply; lacking that, it is surfaced as a miss so the domain can
// trigger a group-scoped replay (spec.md §4.2 "eviction of a row below
// the boundary may require a replay of the group to recompute").
func (x *ExtremumExecutor) HandleRows(batch RowsBatch, ctx *ExecutionContext) error {
	st := ctx.stateOf(x.id)
	if st == nil {
		return errors.New("exec: extremum has no state registered for its own node")
	}
	var out RowsBatch
	for _, e := range batch.Entries {
		if e.CurrRow != nil {
			retract, insert, err := x.considerInsert(ctx, st, e.CurrRow)
			if err != nil {
				return err
			}
			if retract != nil || insert != nil {
				out.Entries = append(out.Entries, RowsEntry{PrevRow: retract, CurrRow: insert})
			}
		}
		if e.PrevRow != nil {
			if err := x.considerRetract(ctx, st, e.PrevRow); err != nil {
				return err
			}
		}
	}
	return x.forward(out, ctx)
}

func (x *ExtremumExecutor) considerInsert(ctx *ExecutionContext, st state.State, row *common.Row) (*common.Row, *common.Row, error) {
	key, err := x.groupKey(row)
	if err != nil {
		return nil, nil, err
	}
	res := st.Lookup(x.indexName, key)
	if !res.Hit {
		ctx.recordMiss(x.id, x.indexName, key, x.id, x.ancestor)
		return nil, nil, nil
	}
	candidate := colValue(row, x.argCol, x.inTypes[x.argCol]).(int64)
	if len(res.Rows) == 0 {
		newRow := x.buildGroupRow(row, candidate)
		if err := st.Insert(newRow); err != nil {
			return nil, nil, err
		}
		return nil, newRow, nil
	}
	oldRow := &res.Rows[0]
	current := colValue(oldRow, len(x.groupCols), x.outTypes[len(x.groupCols)]).(int64)
	if !x.better(current, candidate) {
		return nil, nil, nil
	}
	newRow := x.buildGroupRow(row, candidate)
	if err := st.Remove(oldRow); err != nil {
		return nil, nil, err
	}
	if err := st.Insert(newRow); err != nil {
		return nil, nil, err
	}
	return oldRow, newRow, nil
}

// considerRetract records a miss whenever the retracted row is (or might
// be) the current extreme, so the domain recomputes the group from
// source rather than risk serving a stale extreme — cheaper to
// over-trigger a replay here than to track full group membership.
func (x *ExtremumExecutor) considerRetract(ctx *ExecutionContext, st state.State, row *common.Row) error {
	key, err := x.groupKey(row)
	if err != nil {
		return err
	}
	res := st.Lookup(x.indexName, key)
	if !res.Hit || len(res.Rows) == 0 {
		return nil
	}
	current := colValue(&res.Rows[0], len(x.groupCols), x.outTypes[len(x.groupCols)]).(int64)
	retracted := colValue(row, x.argCol, x.inTypes[x.argCol]).(int64)
	if current == retracted {
		ctx.recordMiss(x.id, x.indexName, key, x.id, x.ancestor)
	}
	return nil
}

func (x *ExtremumExecutor) buildGroupRow(srcRow *common.Row, value int64) *common.Row {
	factory := common.NewRowsFactory(x.outTypes)
	rows := factory.NewRows(1)
	vals := make([]interface{}, len(x.outTypes))
	for i, col := range x.groupCols {
		vals[i] = colValue(srcRow, col, x.inTypes[col])
	}
	vals[len(x.groupCols)] = value
	rows.AppendValues(vals...)
	return rows.GetRow(0)
}
