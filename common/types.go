// Package common holds the types shared by every layer of flowbase: the
// typed row/record representation, column types, table schemas, and the
// buffer encoding helpers used to turn rows into storage keys and values.
package common

import (
	"fmt"
	"time"
)

// Type identifies the SQL-ish scalar type of a column, per spec.md §3's
// {null, int, real, text, timestamp} domain (TinyInt/BigInt/Decimal/Double
// are added as practical refinements of int/real, matching the teacher's
// common.ColumnType).
type Type int

const (
	TypeUnknown Type = iota
	TypeTinyInt
	TypeInt
	TypeBigInt
	TypeDouble
	TypeDecimal
	TypeVarchar
	TypeTimestamp
)

// ColumnType describes one column's type, with decimal precision/scale
// carried alongside (the TiDB type system drops these, which is why the
// teacher's buildPushDAG recomputes its own ColumnType instead of trusting
// the planner's).
type ColumnType struct {
	Type         Type
	DecPrecision int
	DecScale     int
}

var (
	TinyIntColumnType   = ColumnType{Type: TypeTinyInt}
	IntColumnType       = ColumnType{Type: TypeInt}
	BigIntColumnType    = ColumnType{Type: TypeBigInt}
	DoubleColumnType    = ColumnType{Type: TypeDouble}
	VarcharColumnType   = ColumnType{Type: TypeVarchar}
	TimestampColumnType = ColumnType{Type: TypeTimestamp}
)

// IndexInfo names a secondary index a node maintains: an ordered column
// list, per spec.md §3's Node.indices.
type IndexInfo struct {
	Name string
	Cols []int
}

// TableInfo is the schema of a base table, a reader, or an internal
// aggregation/topk state table (InternalTableInfo below).
type TableInfo struct {
	ID             uint64
	SchemaName     string
	Name           string
	PrimaryKeyCols []int
	ColumnNames    []string
	ColumnTypes    []ColumnType
	ColsVisible    []bool
	IndexInfos     []IndexInfo
	Internal       bool
}

// InternalTableInfo wraps a TableInfo created internally by the push-DAG
// builder (aggregation/topk group state), tagging it with the name of the
// materialized view that owns it so the controller can route statistics
// and removal correctly — mirrors the teacher's InternalTableInfo.
type InternalTableInfo struct {
	*TableInfo
	MaterializedViewName string
}

// Schema is a named collection of tables and materialized views known to
// the controller for one recipe namespace.
type Schema struct {
	Name   string
	tables map[string]Table
}

// Table is anything that can be looked up by name in a Schema: a base
// table or a materialized view's reader.
type Table interface {
	GetTableInfo() *TableInfo
}

func NewSchema(name string) *Schema {
	return &Schema{Name: name, tables: make(map[string]Table)}
}

func (s *Schema) GetTable(name string) (Table, bool) {
	t, ok := s.tables[name]
	return t, ok
}

func (s *Schema) PutTable(name string, table Table) {
	s.tables[name] = table
}

func (s *Schema) RemoveTable(name string) {
	delete(s.tables, name)
}

func (s *Schema) GetAllTableInfos() map[string]*TableInfo {
	m := make(map[string]*TableInfo, len(s.tables))
	for name, t := range s.tables {
		m[name] = t.GetTableInfo()
	}
	return m
}

// simpleTable is the Table implementation for a plain base table or
// reader whose identity is exactly its TableInfo.
type simpleTable struct {
	info *TableInfo
}

func NewSimpleTable(info *TableInfo) Table { return &simpleTable{info: info} }

func (s *simpleTable) GetTableInfo() *TableInfo { return s.info }

// SeqGenerator produces dense, monotonic uint64 identifiers in-process —
// used wherever the teacher reaches for a distributed cluster sequence
// (GenerateClusterSequence) but flowbase, having dropped Raft (see
// DESIGN.md), only needs a local counter.
type SeqGenerator interface {
	GenerateSequence() uint64
}

type localSeqGenerator struct {
	ch chan uint64
}

// NewLocalSeqGenerator starts a counter at the given base, matching the
// teacher's UserTableIDBase offset convention for internal tables.
func NewLocalSeqGenerator(base uint64) SeqGenerator {
	ch := make(chan uint64, 1)
	ch <- base
	return &localSeqGenerator{ch: ch}
}

func (l *localSeqGenerator) GenerateSequence() uint64 {
	v := <-l.ch
	l.ch <- v + 1
	return v
}

// UserTableIDBase is the first table ID available for user/internal
// tables; IDs below this are reserved for system tables (forwarder queue,
// sequence tables, etc.) - mirrors the teacher's constant of the same name.
const UserTableIDBase = 1000

// Decimal is a minimal fixed-point decimal value, enough to carry
// precision/scale through encode/decode without pulling in a big external
// decimal library the rest of the pack doesn't otherwise need.
type Decimal struct {
	Unscaled int64
	Scale    int
}

func (d Decimal) String() string {
	if d.Scale <= 0 {
		return fmt.Sprintf("%d", d.Unscaled)
	}
	neg := d.Unscaled < 0
	u := d.Unscaled
	if neg {
		u = -u
	}
	s := fmt.Sprintf("%0*d", d.Scale+1, u)
	cut := len(s) - d.Scale
	res := s[:cut] + "." + s[cut:]
	if neg {
		res = "-" + res
	}
	return res
}

// Timestamp wraps time.Time so row values have a distinct, comparable
// timestamp type (matching the distinct {null,int,real,text,timestamp}
// domain of spec.md §3 rather than reusing time.Time's full surface).
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp { return Timestamp{Time: t} }
