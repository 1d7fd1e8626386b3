package push

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/errors"
	"github.com/squareup/flowbase/exec"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/materialize"
	"github.com/squareup/flowbase/migration"
	"github.com/squareup/flowbase/recipe"
)

// shapeColumn names one output column of a node being built, for
// resolving a recipe.SelectColumn's (table, name) reference against
// whatever node currently produces it — a join's output concatenates
// both sides' shapeColumns in order, exactly matching
// exec.JoinExecutor.Resolve's "column < nLeft picks the left side."
type shapeColumn struct {
	table, name string
}

// shape is the running output description of the node a query's operator
// chain currently ends at.
type shape struct {
	node  graph.ID
	cols  []shapeColumn
	types []common.ColumnType
}

func (s shape) resolve(table, name string) (int, bool) {
	for i, c := range s.cols {
		if c.name != name {
			continue
		}
		if table == "" || c.table == "" || c.table == table {
			return i, true
		}
	}
	return 0, false
}

// Builder accumulates NodeSpecs across however many CREATE TABLE/QUERY
// statements a recipe install call processes, tracking each table's and
// query's current output shape so a later statement in the same call
// can reference an earlier one (spec.md §6's recipes commonly define a
// query over another query).
type Builder struct {
	g      *graph.Graph
	shapes map[string]shape
	specs  []migration.NodeSpec
}

func NewBuilder(g *graph.Graph) *Builder {
	return &Builder{g: g, shapes: make(map[string]shape)}
}

// Specs returns every NodeSpec accumulated so far, in the order built —
// ready to hand to migration.Planner.Plan.
func (b *Builder) Specs() []migration.NodeSpec { return b.specs }

// AddRecipe builds NodeSpecs for every table and query rec declares, in
// document order, so a query may reference a table or an earlier query
// declared earlier in the same document.
func (b *Builder) AddRecipe(rec *recipe.Recipe) error {
	for _, t := range rec.Tables {
		if err := b.addTable(t); err != nil {
			return err
		}
	}
	for _, q := range rec.Queries {
		if err := b.addQuery(q); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) addTable(t recipe.TableDef) error {
	if _, exists := b.shapes[t.Name]; exists {
		return errors.Errorf("push: table %q already declared", t.Name)
	}
	id := b.g.NewID()
	types := make([]common.ColumnType, len(t.Columns))
	cols := make([]shapeColumn, len(t.Columns))
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		types[i] = c.Type
		cols[i] = shapeColumn{table: t.Name, name: c.Name}
		names[i] = c.Name
	}
	pk := []int{0}
	b.specs = append(b.specs, migration.NodeSpec{
		ID: id, Kind: graph.KindBase, Name: t.Name,
		Schema: types, ColNames: names,
		Operator: TablePlan{ColTypes: append([]common.ColumnType(nil), types...), PKCols: pk},
		Indices:  []common.IndexInfo{{Name: "pk", Cols: pk}},
	})
	b.shapes[t.Name] = shape{node: id, cols: cols, types: types}
	return nil
}

func (b *Builder) addQuery(q recipe.QueryDef) error {
	cur, ok := b.shapes[q.Select.From]
	if !ok {
		return errors.Errorf("push: query %q references unknown table/query %q", q.Name, q.Select.From)
	}

	for _, j := range q.Select.Joins {
		right, ok := b.shapes[j.Table]
		if !ok {
			return errors.Errorf("push: query %q joins unknown table %q", q.Name, j.Table)
		}
		leftIdx, ok := cur.resolve(j.LeftTable, j.LeftColumn)
		if !ok {
			return errors.Errorf("push: query %q: join column %s.%s not found", q.Name, j.LeftTable, j.LeftColumn)
		}
		rightIdx, ok := right.resolve(j.RightTable, j.RightColumn)
		if !ok {
			return errors.Errorf("push: query %q: join column %s.%s not found", q.Name, j.RightTable, j.RightColumn)
		}
		leftKey := []int{leftIdx}
		rightKey := []int{rightIdx}
		leftIndex := materialize.IndexName(leftKey)
		rightIndex := materialize.IndexName(rightKey)
		id := b.g.NewID()
		outCols := append(append([]shapeColumn(nil), cur.cols...), right.cols...)
		outTypes := append(append([]common.ColumnType(nil), cur.types...), right.types...)
		b.specs = append(b.specs, migration.NodeSpec{
			ID: id, Kind: graph.KindInternal, Name: q.Name + ".join",
			Schema:    outTypes,
			Ancestors: []graph.ID{cur.node, right.node},
			Operator: JoinPlan{
				LeftKey: leftKey, RightKey: rightKey,
				LeftIndex: leftIndex, RightIndex: rightIndex,
				Kind: exec.JoinInner, LeftTypes: cur.types, RightTypes: right.types,
			},
			Seeds: []materialize.Seed{
				{Node: cur.node, Name: leftIndex, Cols: leftKey},
				{Node: right.node, Name: rightIndex, Cols: rightKey},
			},
		})
		cur = shape{node: id, cols: outCols, types: outTypes}
	}

	for _, pred := range q.Select.Where {
		idx, ok := cur.resolve(pred.Table, pred.Column)
		if !ok {
			return errors.Errorf("push: query %q: filter column %s.%s not found", q.Name, pred.Table, pred.Column)
		}
		id := b.g.NewID()
		b.specs = append(b.specs, migration.NodeSpec{
			ID: id, Kind: graph.KindInternal, Name: q.Name + ".filter",
			Schema:    append([]common.ColumnType(nil), cur.types...),
			Ancestors: []graph.ID{cur.node},
			Operator:  FilterPlan{Col: idx, Value: pred.Value},
		})
		cur = shape{node: id, cols: cur.cols, types: cur.types}
	}

	if len(q.Select.GroupBy) > 0 {
		groupCols := make([]int, len(q.Select.GroupBy))
		outCols := make([]shapeColumn, 0, len(q.Select.GroupBy)+1)
		outTypes := make([]common.ColumnType, 0, len(q.Select.GroupBy)+1)
		for i, g := range q.Select.GroupBy {
			idx, ok := cur.resolve(g.Table, g.Column)
			if !ok {
				return errors.Errorf("push: query %q: GROUP BY column %s.%s not found", q.Name, g.Table, g.Column)
			}
			groupCols[i] = idx
			outCols = append(outCols, cur.cols[idx])
			outTypes = append(outTypes, cur.types[idx])
		}
		var aggCol *recipe.SelectColumn
		for i := range q.Select.Columns {
			if q.Select.Columns[i].Agg != recipe.AggNone {
				if aggCol != nil {
					return errors.Errorf("push: query %q: only one aggregate column is supported", q.Name)
				}
				aggCol = &q.Select.Columns[i]
			}
		}
		if aggCol == nil {
			return errors.Errorf("push: query %q: GROUP BY requires exactly one aggregate column", q.Name)
		}
		var argCol int
		if aggCol.Column == "*" {
			argCol = 0
		} else {
			idx, ok := cur.resolve(aggCol.Table, aggCol.Column)
			if !ok {
				return errors.Errorf("push: query %q: aggregate column %s.%s not found", q.Name, aggCol.Table, aggCol.Column)
			}
			argCol = idx
		}
		var fn AggFuncKind
		switch aggCol.Agg {
		case recipe.AggSum:
			fn = AggFuncSum
		case recipe.AggCount:
			fn = AggFuncCount
		default:
			return errors.Errorf("push: query %q: aggregate function not supported by this builder (MIN/MAX need ExtremumExecutor)", q.Name)
		}
		indexName := materialize.IndexName(groupCols)
		id := b.g.NewID()
		outAlias := aggCol.Alias
		if outAlias == "" {
			outAlias = q.Name + "_agg"
		}
		outCols = append(outCols, shapeColumn{name: outAlias})
		outTypes = append(outTypes, common.BigIntColumnType)
		b.specs = append(b.specs, migration.NodeSpec{
			ID: id, Kind: graph.KindInternal, Name: q.Name + ".aggregate",
			Schema:    outTypes,
			Ancestors: []graph.ID{cur.node},
			Operator: AggregatePlan{
				GroupCols: groupCols, ArgCol: argCol, Fn: fn,
				IndexName: indexName, InTypes: cur.types,
			},
			Seeds: []materialize.Seed{{Node: id, Name: indexName, Cols: groupCols}},
		})
		cur = shape{node: id, cols: outCols, types: outTypes}
	} else if !isStarProjection(q.Select.Columns) {
		cols := make([]int, len(q.Select.Columns))
		outCols := make([]shapeColumn, len(q.Select.Columns))
		outTypes := make([]common.ColumnType, len(q.Select.Columns))
		for i, c := range q.Select.Columns {
			idx, ok := cur.resolve(c.Table, c.Column)
			if !ok {
				return errors.Errorf("push: query %q: column %s.%s not found", q.Name, c.Table, c.Column)
			}
			cols[i] = idx
			outCols[i] = cur.cols[idx]
			outTypes[i] = cur.types[idx]
		}
		id := b.g.NewID()
		b.specs = append(b.specs, migration.NodeSpec{
			ID: id, Kind: graph.KindInternal, Name: q.Name + ".project",
			Schema:    outTypes,
			Ancestors: []graph.ID{cur.node},
			Operator:  ProjectPlan{Cols: cols},
		})
		cur = shape{node: id, cols: outCols, types: outTypes}
	}

	readerIndex := []int{0}
	readerName := "by_" + cur.cols[0].name
	readerID := b.g.NewID()
	b.specs = append(b.specs, migration.NodeSpec{
		ID: readerID, Kind: graph.KindReader, Name: q.Name,
		Schema:    append([]common.ColumnType(nil), cur.types...),
		Ancestors: []graph.ID{cur.node},
		Operator:  ReaderPlan{IndexCols: readerIndex, IndexName: readerName},
		Seeds:     []materialize.Seed{{Node: readerID, Name: readerName, Cols: readerIndex}},
	})
	b.shapes[q.Name] = shape{node: readerID, cols: cur.cols, types: cur.types}
	return nil
}

func isStarProjection(cols []recipe.SelectColumn) bool {
	return len(cols) == 1 && cols[0].Column == "*"
}
