package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squareup/flowbase/common"
)

func TestParseCreateTable(t *testing.T) {
	rec, err := Parse(`CREATE TABLE orders (id BIGINT, customer_id BIGINT, amount BIGINT);`)
	require.NoError(t, err)
	require.Len(t, rec.Tables, 1)
	tbl, ok := rec.Table("orders")
	require.True(t, ok)
	assert.Equal(t, []ColumnDef{
		{Name: "id", Type: common.BigIntColumnType},
		{Name: "customer_id", Type: common.BigIntColumnType},
		{Name: "amount", Type: common.BigIntColumnType},
	}, tbl.Columns)
}

func TestParseMultiStatementRecipeWithQuery(t *testing.T) {
	rec, err := Parse(`
		CREATE TABLE orders (id BIGINT, customer_id BIGINT, amount BIGINT);
		CREATE TABLE customers (id BIGINT, name VARCHAR);
		QUERY order_totals: SELECT customers.name, SUM(orders.amount) AS total
			FROM orders
			JOIN customers ON orders.customer_id = customers.id
			GROUP BY customers.name;
	`)
	require.NoError(t, err)
	require.Len(t, rec.Tables, 2)
	require.Len(t, rec.Queries, 1)

	q, ok := rec.Query("order_totals")
	require.True(t, ok)
	require.Len(t, q.Select.Columns, 2)
	assert.Equal(t, SelectColumn{Table: "customers", Column: "name"}, q.Select.Columns[0])
	assert.Equal(t, SelectColumn{Table: "orders", Column: "amount", Agg: AggSum, Alias: "total"}, q.Select.Columns[1])
	assert.Equal(t, "orders", q.Select.From)
	require.Len(t, q.Select.Joins, 1)
	assert.Equal(t, JoinClause{
		Table: "customers", LeftTable: "orders", LeftColumn: "customer_id",
		RightTable: "customers", RightColumn: "id",
	}, q.Select.Joins[0])
	require.Len(t, q.Select.GroupBy, 1)
	assert.Equal(t, SelectColumn{Table: "customers", Column: "name"}, q.Select.GroupBy[0])
}

func TestParseQueryWithoutLeadingQueryKeyword(t *testing.T) {
	rec, err := Parse(`
		CREATE TABLE orders (id BIGINT, amount BIGINT);
		big_orders: SELECT id, amount FROM orders WHERE amount = 100;
	`)
	require.NoError(t, err)
	q, ok := rec.Query("big_orders")
	require.True(t, ok)
	require.Len(t, q.Select.Where, 1)
	assert.Equal(t, Predicate{Column: "amount", Value: "100"}, q.Select.Where[0])
}

func TestParseRejectsUnknownColumnType(t *testing.T) {
	_, err := Parse(`CREATE TABLE t (a FROBNICATE);`)
	assert.Error(t, err)
}

func TestParseRejectsMissingSemicolon(t *testing.T) {
	_, err := Parse(`CREATE TABLE t (a BIGINT)`)
	assert.Error(t, err)
}

func TestParseRejectsUnterminatedString(t *testing.T) {
	_, err := lex(`WHERE a = 'abc`)
	assert.Error(t, err)
}
