// Package push turns a parsed recipe into the operator graph the rest
// of flowbase runs: recipe.Recipe's abstract query shape becomes a
// sequence of migration.NodeSpec values (one per operator) plus, at
// activation time, the real exec.PushExecutor each NodeSpec describes.
// This two-step split — a plain comparable "plan" now, a constructed
// executor later — is push/exec_builder.go's job re-grounded on
// recipe's shape instead of a TiDB PhysicalPlan: the teacher's
// buildPushDAG switch converts a physical-plan node straight into an
// executor in one pass, but here NodeSpec.Operator must stay reflect.
// DeepEqual-comparable for migration's reuse check, which a closure-
// bearing exec.Expr/predicate is not, so the plan/executor split is
// mandatory rather than stylistic.
package push

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/exec"
)

// TablePlan describes a base table — push/exec/table_exec.go's
// TableExecutor, before a state.State backing store is attached.
type TablePlan struct {
	ColTypes []common.ColumnType
	PKCols   []int
}

// ProjectPlan is a pure column-reordering/subsetting Map: output column
// i passes ancestor column Cols[i] through unchanged. Recipes with
// computed (non-pass-through) expressions aren't supported by this
// minimal builder — every SELECT list in the grammar names a bare
// column or an aggregate, never an arithmetic expression.
type ProjectPlan struct {
	Cols []int
}

// FilterPlan is one "col = literal" equality predicate from a WHERE
// clause; Col is an index into the ancestor's row.
type FilterPlan struct {
	Col   int
	Value string
}

// JoinPlan is an equi-join between two ancestors.
type JoinPlan struct {
	LeftKey, RightKey []int
	LeftIndex, RightIndex string
	Kind                  exec.JoinKind
	LeftTypes, RightTypes []common.ColumnType
}

// AggFuncKind names the AggFunc a builder-constructed AggregationExecutor
// runs, since exec.AggFunc itself isn't a comparable value (SumAgg/
// CountAgg are interface values wrapping empty structs, which compare
// equal under reflect.DeepEqual only if typed identically — naming them
// here keeps NodeSpec.Operator a plain, obviously-comparable value).
type AggFuncKind int

const (
	AggFuncSum AggFuncKind = iota
	AggFuncCount
)

// AggregatePlan is a GROUP BY with exactly one SUM/COUNT aggregate
// column — spec.md §4.2's Aggregation operator. MIN/MAX (Extremum) are
// not produced by this builder: recipe.Parse accepts them, but wiring
// ExtremumExecutor's retraction-on-departure bookkeeping into the
// builder's single-pass shape tracking was left out of this minimal
// implementation; Builder.AddRecipe returns an error for a MIN/MAX
// query rather than silently mishandling it.
type AggregatePlan struct {
	GroupCols []int
	ArgCol    int
	Fn        AggFuncKind
	IndexName string
	InTypes   []common.ColumnType
}

// ReaderPlan is the terminal node of every query: one keyed index over
// its ancestor, the index a controller.ViewHandle looks rows up by.
type ReaderPlan struct {
	IndexCols []int
	IndexName string
}
