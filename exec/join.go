package exec

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/graph"
)

// JoinKind distinguishes the two join contracts spec.md §4.2 names.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
)

// JoinExecutor probes the other side's state by the join key and emits
// the cross product, per spec.md §4.2: "for each incoming record, probe
// the other side's state by the join key; emit the cross product. Left
// joins emit a synthetic null-padded record when the right side is
// empty, and retract it when a matching right arrives." Grounded on
// exec_builder.go's join-plan handling, re-targeted from a TiDB
// PhysicalPlan case to an explicit left/right ancestor pair.
type JoinExecutor struct {
	pushExecutorBase
	left, right         graph.ID
	leftKey, rightKey   []int
	leftIndex           string
	rightIndex          string
	kind                JoinKind
	leftTypes           []common.ColumnType
	rightTypes          []common.ColumnType
	outTypes            []common.ColumnType
}

func NewJoinExecutor(id, left, right graph.ID, leftKey, rightKey []int, leftIndex, rightIndex string,
	kind JoinKind, leftTypes, rightTypes, outTypes []common.ColumnType) *JoinExecutor {
	return &JoinExecutor{
		pushExecutorBase: newBase(id),
		left:             left,
		right:            right,
		leftKey:          leftKey,
		rightKey:         rightKey,
		leftIndex:        leftIndex,
		rightIndex:       rightIndex,
		kind:             kind,
		leftTypes:        leftTypes,
		rightTypes:       rightTypes,
		outTypes:         outTypes,
	}
}

func (j *JoinExecutor) Ancestors() []graph.ID { return []graph.ID{j.left, j.right} }

func (j *JoinExecutor) Resolve(col int) ([]ColumnRef, bool) {
	nLeft := len(j.leftTypes)
	if col < nLeft {
		return []ColumnRef{{Ancestor: j.left, Column: col}}, true
	}
	return []ColumnRef{{Ancestor: j.right, Column: col - nLeft}}, true
}

func (j *JoinExecutor) SuggestIndices() map[graph.ID][]int {
	return map[graph.ID][]int{j.left: j.leftKey, j.right: j.rightKey}
}

func (j *JoinExecutor) combine(left, right *common.Row) *common.Row {
	factory := common.NewRowsFactory(j.outTypes)
	rows := factory.NewRows(1)
	vals := make([]interface{}, len(j.outTypes))
	n := 0
	if left != nil {
		for i := 0; i < left.ColCount(); i++ {
			vals[n] = colValue(left, i, j.leftTypes[i])
			n++
		}
	} else {
		n += len(j.leftTypes)
	}
	if right != nil {
		for i := 0; i < right.ColCount(); i++ {
			vals[n] = colValue(right, i, j.rightTypes[i])
			n++
		}
	}
	rows.AppendValues(vals...)
	return rows.GetRow(0)
}

func colValue(row *common.Row, col int, ct common.ColumnType) interface{} {
	if row.IsNull(col) {
		return nil
	}
	return ColExpr{Col: col, Type: ct}.mustEval(row)
}

func (e ColExpr) mustEval(row *common.Row) interface{} {
	v, _ := e.Eval(row)
	return v
}

// HandleRows treats the batch as arriving from the left ancestor, since
// PushExecutor.HandleRows alone cannot distinguish sender — the
// teacher's TableExecutor sidesteps this by being single-ancestor; joins
// need the extra parameter, so domain-runtime dispatch calls HandleFrom
// directly for two-ancestor ops.
func (j *JoinExecutor) HandleRows(batch RowsBatch, ctx *ExecutionContext) error {
	return j.HandleFrom(j.left, batch, ctx)
}

// HandleFrom is the real entry point: from identifies which ancestor the
// batch arrived from, so the join key is extracted with that side's key
// columns and the *other* side's state is probed.
func (j *JoinExecutor) HandleFrom(from graph.ID, batch RowsBatch, ctx *ExecutionContext) error {
	var out RowsBatch
	for _, e := range batch.Entries {
		if e.PrevRow != nil {
			entries, err := j.joinOne(from, e.PrevRow, ctx)
			if err != nil {
				return err
			}
			for _, combined := range entries {
				out.Entries = append(out.Entries, RowsEntry{PrevRow: combined})
			}
		}
		if e.CurrRow != nil {
			entries, err := j.joinOne(from, e.CurrRow, ctx)
			if err != nil {
				return err
			}
			for _, combined := range entries {
				out.Entries = append(out.Entries, RowsEntry{CurrRow: combined})
			}
		}
	}
	if err := j.writeThrough(out, j.outTypes, from, ctx); err != nil {
		return err
	}
	return j.forward(out, ctx)
}

func (j *JoinExecutor) joinOne(from graph.ID, row *common.Row, ctx *ExecutionContext) ([]*common.Row, error) {
	var key []int
	var otherAncestor graph.ID
	var otherIndex string
	onLeft := from == j.left
	if onLeft {
		key = j.leftKey
		otherAncestor = j.right
		otherIndex = j.rightIndex
	} else {
		key = j.rightKey
		otherAncestor = j.left
		otherIndex = j.leftIndex
	}
	colTypes := j.leftTypes
	if !onLeft {
		colTypes = j.rightTypes
	}
	keyBuf, err := common.EncodeKeyCols(row, key, colTypes, nil)
	if err != nil {
		return nil, err
	}
	outcome, err := lookupOther(ctx, otherAncestor, otherIndex, keyBuf, j.id, from)
	if err != nil {
		return nil, err
	}
	if outcome.Miss {
		return nil, nil
	}
	var out []*common.Row
	if len(outcome.Rows) == 0 {
		if j.kind == JoinLeft && onLeft {
			out = append(out, j.combine(row, nil))
		}
		return out, nil
	}
	for i := range outcome.Rows {
		other := &outcome.Rows[i]
		if onLeft {
			out = append(out, j.combine(row, other))
		} else {
			out = append(out, j.combine(other, row))
		}
	}
	return out, nil
}
