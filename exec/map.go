package exec

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/graph"
)

// Expr is a single output-column computation over an input row — enough
// to express Map/Project's column list and Filter's predicate without a
// full expression-tree evaluator, matching the teacher's buildPushDAG
// switch over physical-plan expressions but re-grounded on a closed,
// hand-rolled expression set instead of TiDB's (pingcap/tidb is a
// dropped dependency; see DESIGN.md).
type Expr interface {
	Eval(row *common.Row) (interface{}, error)
	// SourceColumn reports the single ancestor column this expression
	// passes through unchanged, if any — the Resolve hook for Map nodes
	// that are pure projections.
	SourceColumn() (int, bool)
}

// ColExpr passes one input column through unchanged. Type names the
// column's SQL type so Eval can dispatch to the right typed accessor —
// Row exposes typed getters (GetInt64/GetString/...), not one untyped
// getter, so the expression itself has to know what it is reading.
type ColExpr struct {
	Col  int
	Type common.ColumnType
}

func (e ColExpr) Eval(row *common.Row) (interface{}, error) {
	if row.IsNull(e.Col) {
		return nil, nil
	}
	switch e.Type.Type {
	case common.TypeTinyInt, common.TypeInt, common.TypeBigInt:
		return row.GetInt64(e.Col), nil
	case common.TypeDouble:
		return row.GetFloat64(e.Col), nil
	case common.TypeVarchar:
		return row.GetString(e.Col), nil
	case common.TypeDecimal:
		return row.GetDecimal(e.Col), nil
	case common.TypeTimestamp:
		return row.GetTimestamp(e.Col), nil
	default:
		return nil, nil
	}
}
func (e ColExpr) SourceColumn() (int, bool) { return e.Col, true }

// ConstExpr always yields the same literal value.
type ConstExpr struct{ Value interface{} }

func (e ConstExpr) Eval(*common.Row) (interface{}, error) { return e.Value, nil }
func (e ConstExpr) SourceColumn() (int, bool)              { return 0, false }

// FuncExpr computes a value from one or more argument expressions —
// covers arithmetic/string-function projections.
type FuncExpr struct {
	Fn   func(args []interface{}) (interface{}, error)
	Args []Expr
}

func (e FuncExpr) Eval(row *common.Row) (interface{}, error) {
	vals := make([]interface{}, len(e.Args))
	for i, a := range e.Args {
		v, err := a.Eval(row)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return e.Fn(vals)
}
func (e FuncExpr) SourceColumn() (int, bool) { return 0, false }

// MapExecutor is the stateless Map/Project operator family: one
// ancestor, a fixed list of output expressions, no state of its own
// (spec.md §4.2 "Map/Filter/Project: stateless, 1:1 ... on records").
type MapExecutor struct {
	pushExecutorBase
	ancestor graph.ID
	exprs    []Expr
	outTypes []common.ColumnType
}

func NewMapExecutor(id graph.ID, ancestor graph.ID, exprs []Expr, outTypes []common.ColumnType) *MapExecutor {
	return &MapExecutor{pushExecutorBase: newBase(id), ancestor: ancestor, exprs: exprs, outTypes: outTypes}
}

func (m *MapExecutor) Ancestors() []graph.ID { return []graph.ID{m.ancestor} }

func (m *MapExecutor) Resolve(col int) ([]ColumnRef, bool) {
	if col < 0 || col >= len(m.exprs) {
		return nil, false
	}
	src, ok := m.exprs[col].SourceColumn()
	if !ok {
		return nil, false
	}
	return []ColumnRef{{Ancestor: m.ancestor, Column: src}}, true
}

func (m *MapExecutor) SuggestIndices() map[graph.ID][]int { return nil }

func (m *MapExecutor) apply(row *common.Row) (*common.Row, error) {
	if row == nil {
		return nil, nil
	}
	factory := common.NewRowsFactory(m.outTypes)
	rows := factory.NewRows(1)
	vals := make([]interface{}, len(m.exprs))
	for i, e := range m.exprs {
		v, err := e.Eval(row)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	rows.AppendValues(vals...)
	out := rows.GetRow(0)
	return out, nil
}

func (m *MapExecutor) HandleRows(batch RowsBatch, ctx *ExecutionContext) error {
	out := RowsBatch{Entries: make([]RowsEntry, 0, batch.Len())}
	for _, e := range batch.Entries {
		prev, err := m.apply(e.PrevRow)
		if err != nil {
			return err
		}
		curr, err := m.apply(e.CurrRow)
		if err != nil {
			return err
		}
		out.Entries = append(out.Entries, RowsEntry{PrevRow: prev, CurrRow: curr})
	}
	if err := m.writeThrough(out, m.outTypes, m.ancestor, ctx); err != nil {
		return err
	}
	return m.forward(out, ctx)
}

// FilterExecutor is the stateless 1:0-or-1:1 Filter operator: rows that
// fail the predicate are dropped from the delta entirely rather than
// forwarded as retracts of something that was never emitted.
type FilterExecutor struct {
	pushExecutorBase
	ancestor  graph.ID
	predicate func(row *common.Row) (bool, error)
	colTypes  []common.ColumnType
}

func NewFilterExecutor(id graph.ID, ancestor graph.ID, predicate func(*common.Row) (bool, error), colTypes []common.ColumnType) *FilterExecutor {
	return &FilterExecutor{pushExecutorBase: newBase(id), ancestor: ancestor, predicate: predicate, colTypes: colTypes}
}

func (f *FilterExecutor) Ancestors() []graph.ID { return []graph.ID{f.ancestor} }

func (f *FilterExecutor) Resolve(col int) ([]ColumnRef, bool) {
	return []ColumnRef{{Ancestor: f.ancestor, Column: col}}, true
}

func (f *FilterExecutor) SuggestIndices() map[graph.ID][]int { return nil }

func (f *FilterExecutor) pass(row *common.Row) (bool, error) {
	if row == nil {
		return false, nil
	}
	return f.predicate(row)
}

func (f *FilterExecutor) HandleRows(batch RowsBatch, ctx *ExecutionContext) error {
	out := RowsBatch{Entries: make([]RowsEntry, 0, batch.Len())}
	for _, e := range batch.Entries {
		prevPass, err := f.pass(e.PrevRow)
		if err != nil {
			return err
		}
		currPass, err := f.pass(e.CurrRow)
		if err != nil {
			return err
		}
		switch {
		case !prevPass && !currPass:
			continue
		case prevPass && !currPass:
			out.Entries = append(out.Entries, RowsEntry{PrevRow: e.PrevRow})
		case !prevPass && currPass:
			out.Entries = append(out.Entries, RowsEntry{CurrRow: e.CurrRow})
		default:
			out.Entries = append(out.Entries, e)
		}
	}
	if err := f.writeThrough(out, f.colTypes, f.ancestor, ctx); err != nil {
		return err
	}
	return f.forward(out, ctx)
}
