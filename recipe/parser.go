package recipe

import (
	"strings"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/errors"
)

type parser struct {
	toks []token
	pos  int
}

// Parse reads a whole recipe document — any number of CREATE TABLE and
// named-query statements, each terminated by ';' — the multi-statement
// shape the `conference-recipe.rs` supplement calls for.
func Parse(text string) (*Recipe, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	rec := &Recipe{}
	for !p.atEOF() {
		if p.peekKeyword("CREATE") {
			t, err := p.parseCreateTable()
			if err != nil {
				return nil, err
			}
			rec.Tables = append(rec.Tables, t)
			continue
		}
		q, err := p.parseQuery()
		if err != nil {
			return nil, err
		}
		rec.Queries = append(rec.Queries, q)
	}
	return rec, nil
}

func (p *parser) cur() token { return p.toks[p.pos] }

func (p *parser) atEOF() bool { return p.cur().kind == tokenEOF }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) peekKeyword(kw string) bool {
	t := p.cur()
	return t.kind == tokenIdent && strings.EqualFold(t.text, kw)
}

func (p *parser) expectKeyword(kw string) error {
	if !p.peekKeyword(kw) {
		return errors.Errorf("recipe: expected %q, got %q", kw, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) expectPunct(s string) error {
	t := p.cur()
	if t.kind != tokenPunct || t.text != s {
		return errors.Errorf("recipe: expected %q, got %q", s, t.text)
	}
	p.advance()
	return nil
}

func (p *parser) expectIdent() (string, error) {
	t := p.cur()
	if t.kind != tokenIdent {
		return "", errors.Errorf("recipe: expected identifier, got %q", t.text)
	}
	p.advance()
	return t.text, nil
}

// parseCreateTable handles "CREATE TABLE name (col type, col type, ...);".
func (p *parser) parseCreateTable() (TableDef, error) {
	if err := p.expectKeyword("CREATE"); err != nil {
		return TableDef{}, err
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return TableDef{}, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return TableDef{}, err
	}
	if err := p.expectPunct("("); err != nil {
		return TableDef{}, err
	}
	var cols []ColumnDef
	for {
		colName, err := p.expectIdent()
		if err != nil {
			return TableDef{}, err
		}
		typeName, err := p.expectIdent()
		if err != nil {
			return TableDef{}, err
		}
		ct, err := columnType(typeName)
		if err != nil {
			return TableDef{}, err
		}
		cols = append(cols, ColumnDef{Name: colName, Type: ct})
		if p.cur().kind == tokenPunct && p.cur().text == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return TableDef{}, err
	}
	if err := p.expectPunct(";"); err != nil {
		return TableDef{}, err
	}
	return TableDef{Name: name, Columns: cols}, nil
}

func columnType(name string) (common.ColumnType, error) {
	switch strings.ToUpper(name) {
	case "TINYINT", "BOOL", "BOOLEAN":
		return common.TinyIntColumnType, nil
	case "INT", "INTEGER":
		return common.IntColumnType, nil
	case "BIGINT":
		return common.BigIntColumnType, nil
	case "DOUBLE", "FLOAT":
		return common.DoubleColumnType, nil
	case "VARCHAR", "TEXT":
		return common.VarcharColumnType, nil
	case "TIMESTAMP":
		return common.TimestampColumnType, nil
	default:
		return common.ColumnType{}, errors.Errorf("recipe: unknown column type %q", name)
	}
}

// parseQuery handles "[QUERY] name: SELECT ... ;". The leading QUERY
// keyword is optional — spec.md §6 shows both "NAME: SELECT ..." and
// "QUERY NAME: SELECT ..." forms for a named view.
func (p *parser) parseQuery() (QueryDef, error) {
	if p.peekKeyword("QUERY") {
		p.advance()
	}
	name, err := p.expectIdent()
	if err != nil {
		return QueryDef{}, err
	}
	if err := p.expectPunct(":"); err != nil {
		return QueryDef{}, err
	}
	sel, err := p.parseSelect()
	if err != nil {
		return QueryDef{}, err
	}
	if err := p.expectPunct(";"); err != nil {
		return QueryDef{}, err
	}
	return QueryDef{Name: name, Select: sel}, nil
}

func (p *parser) parseSelect() (SelectStmt, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return SelectStmt{}, err
	}
	var stmt SelectStmt
	for {
		col, err := p.parseSelectColumn()
		if err != nil {
			return SelectStmt{}, err
		}
		stmt.Columns = append(stmt.Columns, col)
		if p.cur().kind == tokenPunct && p.cur().text == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return SelectStmt{}, err
	}
	from, err := p.expectIdent()
	if err != nil {
		return SelectStmt{}, err
	}
	stmt.From = from

	for p.peekKeyword("JOIN") {
		j, err := p.parseJoin()
		if err != nil {
			return SelectStmt{}, err
		}
		stmt.Joins = append(stmt.Joins, j)
	}

	if p.peekKeyword("WHERE") {
		p.advance()
		for {
			pred, err := p.parsePredicate()
			if err != nil {
				return SelectStmt{}, err
			}
			stmt.Where = append(stmt.Where, pred)
			if p.peekKeyword("AND") {
				p.advance()
				continue
			}
			break
		}
	}

	if p.peekKeyword("GROUP") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return SelectStmt{}, err
		}
		for {
			col, err := p.parseColumnRef()
			if err != nil {
				return SelectStmt{}, err
			}
			stmt.GroupBy = append(stmt.GroupBy, col)
			if p.cur().kind == tokenPunct && p.cur().text == "," {
				p.advance()
				continue
			}
			break
		}
	}
	return stmt, nil
}

// parseSelectColumn handles "col", "t.col", "AGG(col)", "AGG(t.col)",
// each optionally followed by "AS alias".
func (p *parser) parseSelectColumn() (SelectColumn, error) {
	var col SelectColumn
	if p.cur().kind == tokenPunct && p.cur().text == "*" {
		p.advance()
		col.Column = "*"
	} else {
		first, err := p.expectIdent()
		if err != nil {
			return SelectColumn{}, err
		}
		if agg, ok := aggKind(first); ok && p.cur().kind == tokenPunct && p.cur().text == "(" {
			p.advance()
			ref, err := p.parseColumnRef()
			if err != nil {
				return SelectColumn{}, err
			}
			if err := p.expectPunct(")"); err != nil {
				return SelectColumn{}, err
			}
			col = ref
			col.Agg = agg
		} else {
			col.Column = first
			if p.cur().kind == tokenPunct && p.cur().text == "." {
				p.advance()
				colName, err := p.expectIdent()
				if err != nil {
					return SelectColumn{}, err
				}
				col.Table = first
				col.Column = colName
			}
		}
	}
	if p.peekKeyword("AS") {
		p.advance()
		alias, err := p.expectIdent()
		if err != nil {
			return SelectColumn{}, err
		}
		col.Alias = alias
	}
	return col, nil
}

// parseColumnRef handles "col" or "t.col" with no aggregate/alias.
func (p *parser) parseColumnRef() (SelectColumn, error) {
	first, err := p.expectIdent()
	if err != nil {
		return SelectColumn{}, err
	}
	if p.cur().kind == tokenPunct && p.cur().text == "." {
		p.advance()
		col, err := p.expectIdent()
		if err != nil {
			return SelectColumn{}, err
		}
		return SelectColumn{Table: first, Column: col}, nil
	}
	return SelectColumn{Column: first}, nil
}

func aggKind(name string) (AggKind, bool) {
	switch strings.ToUpper(name) {
	case "COUNT":
		return AggCount, true
	case "SUM":
		return AggSum, true
	case "MIN":
		return AggMin, true
	case "MAX":
		return AggMax, true
	default:
		return AggNone, false
	}
}

// parseJoin handles "JOIN t ON a.x = b.y".
func (p *parser) parseJoin() (JoinClause, error) {
	if err := p.expectKeyword("JOIN"); err != nil {
		return JoinClause{}, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return JoinClause{}, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return JoinClause{}, err
	}
	left, err := p.parseColumnRef()
	if err != nil {
		return JoinClause{}, err
	}
	if err := p.expectPunct("="); err != nil {
		return JoinClause{}, err
	}
	right, err := p.parseColumnRef()
	if err != nil {
		return JoinClause{}, err
	}
	return JoinClause{
		Table:       table,
		LeftTable:   left.Table,
		LeftColumn:  left.Column,
		RightTable:  right.Table,
		RightColumn: right.Column,
	}, nil
}

// parsePredicate handles "t.col = literal" (number or quoted string).
func (p *parser) parsePredicate() (Predicate, error) {
	ref, err := p.parseColumnRef()
	if err != nil {
		return Predicate{}, err
	}
	if err := p.expectPunct("="); err != nil {
		return Predicate{}, err
	}
	t := p.cur()
	if t.kind != tokenNumber && t.kind != tokenString {
		return Predicate{}, errors.Errorf("recipe: expected literal value, got %q", t.text)
	}
	p.advance()
	return Predicate{Table: ref.Table, Column: ref.Column, Value: t.text}, nil
}
