// Package recipe stands in for the external recipe-compiler collaborator
// spec.md §1 scopes out of the CORE ("SQL parsing and logical-to-MIR
// translation"): a minimal hand-written parser turning recipe text into
// "a set of named queries and an abstract dataflow shape" — the exact
// contract spec.md asks of that collaborator, not a general SQL engine.
// Modeled on the `conference-recipe.rs` supplement (original_source/):
// a recipe document names more than one statement per install/extend
// call, matching the teacher's install_recipe(text) taking a whole
// document rather than one statement at a time.
package recipe

import "github.com/squareup/flowbase/common"

// AggKind is the closed set of aggregate functions a query column may
// apply, mirroring the aggregates exec implements (count/sum in
// AggregationExecutor, min/max in ExtremumExecutor) without importing
// exec, so recipe stays a pure text→shape translator with no
// dependency on how operators execute.
type AggKind int

const (
	AggNone AggKind = iota
	AggCount
	AggSum
	AggMin
	AggMax
)

// ColumnDef is one CREATE TABLE column.
type ColumnDef struct {
	Name string
	Type common.ColumnType
}

// TableDef is one base table a recipe declares.
type TableDef struct {
	Name    string
	Columns []ColumnDef
}

// SelectColumn is one projected or aggregated output column.
type SelectColumn struct {
	Table  string // empty when unqualified
	Column string
	Agg    AggKind
	Alias  string
}

// JoinClause is one "JOIN t ON a.x = b.y" — always an equi-join, the
// only join shape exec.JoinExecutor supports.
type JoinClause struct {
	Table     string
	LeftTable, LeftColumn   string
	RightTable, RightColumn string
}

// Predicate is one "t.col = literal" equality filter term of a WHERE
// clause, ANDed together with the rest.
type Predicate struct {
	Table, Column string
	Value         string
}

// SelectStmt is the abstract dataflow shape of one query: project/join/
// filter/group-by, the operator vocabulary spec.md §4.2 implements.
type SelectStmt struct {
	Columns []SelectColumn
	From    string
	Joins   []JoinClause
	Where   []Predicate
	GroupBy []SelectColumn
}

// QueryDef is one named query a recipe installs — spec.md §6's
// "QUERY NAME: SELECT ..." form, materialized by a Reader at its output.
type QueryDef struct {
	Name   string
	Select SelectStmt
}

// Recipe is the complete result of parsing a recipe document: zero or
// more table declarations and zero or more named queries, in the order
// they appeared (later statements may reference earlier ones).
type Recipe struct {
	Tables  []TableDef
	Queries []QueryDef
}

// Table looks up a declared table by name.
func (r *Recipe) Table(name string) (TableDef, bool) {
	for _, t := range r.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableDef{}, false
}

// Query looks up a named query.
func (r *Recipe) Query(name string) (QueryDef, bool) {
	for _, q := range r.Queries {
		if q.Name == name {
			return q, true
		}
	}
	return QueryDef{}, false
}
