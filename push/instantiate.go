package push

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/errors"
	"github.com/squareup/flowbase/exec"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/state"
)

// NewExecutor turns one installed graph.Node's Operator plan into the
// real exec.PushExecutor the domain runtime dispatches packets to —
// push/exec_builder.go's buildPushDAG, re-targeted at this package's
// plan types instead of a TiDB PhysicalPlan. store is only consulted
// for a TablePlan (every other operator is stateless at construction
// time; its state.State is attached later, by domain.Domain, once
// materialize.Planner has decided the node's class).
func NewExecutor(n *graph.Node, store state.State) (exec.PushExecutor, error) {
	switch op := n.Operator.(type) {
	case TablePlan:
		return exec.NewTableExecutor(n.ID, op.ColTypes, op.PKCols, store), nil
	case ProjectPlan:
		ancestor := n.Ancestors[0]
		exprs := make([]exec.Expr, len(op.Cols))
		outTypes := make([]common.ColumnType, len(op.Cols))
		for i, c := range op.Cols {
			exprs[i] = exec.ColExpr{Col: c, Type: n.Schema[i]}
			outTypes[i] = n.Schema[i]
		}
		return exec.NewMapExecutor(n.ID, ancestor, exprs, outTypes), nil
	case FilterPlan:
		ancestor := n.Ancestors[0]
		predicate, err := equalityPredicate(op.Col, op.Value)
		if err != nil {
			return nil, err
		}
		return exec.NewFilterExecutor(n.ID, ancestor, predicate, n.Schema), nil
	case JoinPlan:
		left, right := n.Ancestors[0], n.Ancestors[1]
		return exec.NewJoinExecutor(n.ID, left, right, op.LeftKey, op.RightKey,
			op.LeftIndex, op.RightIndex, op.Kind, op.LeftTypes, op.RightTypes, n.Schema), nil
	case AggregatePlan:
		ancestor := n.Ancestors[0]
		fn := aggFunc(op.Fn)
		return exec.NewAggregationExecutor(n.ID, ancestor, op.GroupCols, op.ArgCol, fn,
			op.IndexName, op.InTypes, n.Schema), nil
	case ReaderPlan:
		ancestor := n.Ancestors[0]
		return exec.NewReaderExecutor(n.ID, ancestor, op.IndexCols, op.IndexName, n.Schema), nil
	default:
		return nil, errors.Errorf("push: no executor constructor for operator plan %T", n.Operator)
	}
}

func aggFunc(k AggFuncKind) exec.AggFunc {
	switch k {
	case AggFuncCount:
		return exec.CountAgg
	default:
		return exec.SumAgg
	}
}

// equalityPredicate builds the closure exec.FilterExecutor runs,
// comparing row column col against value — parsed as an int64 if value
// looks numeric, compared as a string otherwise, since recipe.Parse
// keeps WHERE literals as plain lexed text rather than typing them
// against the column's declared ColumnType.
func equalityPredicate(col int, value string) (func(*common.Row) (bool, error), error) {
	if n, ok := parseInt64(value); ok {
		return func(row *common.Row) (bool, error) {
			if row.IsNull(col) {
				return false, nil
			}
			return row.GetInt64(col) == n, nil
		}, nil
	}
	return func(row *common.Row) (bool, error) {
		if row.IsNull(col) {
			return false, nil
		}
		return row.GetString(col) == value, nil
	}, nil
}

func parseInt64(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	var n int64
	neg := false
	i := 0
	if s[0] == '-' {
		neg = true
		i = 1
	}
	if i == len(s) {
		return 0, false
	}
	for ; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}
