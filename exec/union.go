package exec

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/graph"
)

// UnionExecutor is spec.md §4.2's multi-ancestor, stateless passthrough.
// Because each ancestor's columns line up by position, Resolve always
// reports every ancestor's corresponding column — a column's provenance
// is genuinely ambiguous across a union, so the materialization planner
// sees all of them and must satisfy the index on every branch.
type UnionExecutor struct {
	pushExecutorBase
	ancestors []graph.ID
	colTypes  []common.ColumnType
}

func NewUnionExecutor(id graph.ID, ancestors []graph.ID, colTypes []common.ColumnType) *UnionExecutor {
	return &UnionExecutor{pushExecutorBase: newBase(id), ancestors: ancestors, colTypes: colTypes}
}

func (u *UnionExecutor) Ancestors() []graph.ID { return u.ancestors }

func (u *UnionExecutor) Resolve(col int) ([]ColumnRef, bool) {
	refs := make([]ColumnRef, len(u.ancestors))
	for i, a := range u.ancestors {
		refs[i] = ColumnRef{Ancestor: a, Column: col}
	}
	return refs, true
}

func (u *UnionExecutor) SuggestIndices() map[graph.ID][]int { return nil }

func (u *UnionExecutor) HandleRows(batch RowsBatch, ctx *ExecutionContext) error {
	// Union has no fromAware entry point (every ancestor's columns are
	// reported as equally valid provenance by Resolve, so any one
	// ancestor is as good a redelivery source as another); the first one
	// is enough since plain HandleRows redelivery never consults it.
	var from graph.ID
	if len(u.ancestors) > 0 {
		from = u.ancestors[0]
	}
	if err := u.writeThrough(batch, u.colTypes, from, ctx); err != nil {
		return err
	}
	return u.forward(batch, ctx)
}
