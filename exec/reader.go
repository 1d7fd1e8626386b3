package exec

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/graph"
)

// ReaderExecutor is spec.md §4.2's "maintains one keyed index; serves
// external lookups" terminal node. It has no consuming nodes of its own
// — controller.ViewHandle reads straight out of its state — so HandleRows
// only needs to keep that state current.
type ReaderExecutor struct {
	pushExecutorBase
	ancestor  graph.ID
	indexCols []int
	indexName string
	colTypes  []common.ColumnType
}

func NewReaderExecutor(id, ancestor graph.ID, indexCols []int, indexName string, colTypes []common.ColumnType) *ReaderExecutor {
	return &ReaderExecutor{pushExecutorBase: newBase(id), ancestor: ancestor, indexCols: indexCols, indexName: indexName, colTypes: colTypes}
}

func (r *ReaderExecutor) Ancestors() []graph.ID { return []graph.ID{r.ancestor} }

func (r *ReaderExecutor) Resolve(col int) ([]ColumnRef, bool) {
	return []ColumnRef{{Ancestor: r.ancestor, Column: col}}, true
}

func (r *ReaderExecutor) SuggestIndices() map[graph.ID][]int {
	return map[graph.ID][]int{r.id: r.indexCols}
}

func (r *ReaderExecutor) Lookup(ctx *ExecutionContext, key []byte) (rows []common.Row, hit bool) {
	st := ctx.stateOf(r.id)
	if st == nil {
		return nil, false
	}
	res := st.Lookup(r.indexName, key)
	return res.Rows, res.Hit
}

func (r *ReaderExecutor) HandleRows(batch RowsBatch, ctx *ExecutionContext) error {
	if err := r.writeThrough(batch, r.colTypes, r.ancestor, ctx); err != nil {
		return err
	}
	// No forward: a Reader is a dataflow leaf (spec.md §4.2).
	return nil
}
