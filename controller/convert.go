package controller

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/errors"
)

// rowFromValues builds a common.Row typed by colTypes from plain Go
// values, the same column-order convention client.go's CLI layer uses
// for every statement result — a nil entry in values leaves that column
// null.
func rowFromValues(colTypes []common.ColumnType, values []interface{}) (*common.Row, error) {
	if len(values) != len(colTypes) {
		return nil, errors.Errorf("controller: expected %d column values, got %d", len(colTypes), len(values))
	}
	row := common.NewRow(colTypes)
	for i, v := range values {
		if v == nil {
			row.SetNull(i)
			continue
		}
		if err := setRowValue(&row, i, colTypes[i], v); err != nil {
			return nil, err
		}
	}
	return &row, nil
}

func setRowValue(row *common.Row, col int, ct common.ColumnType, v interface{}) error {
	switch ct.Type {
	case common.TypeTinyInt, common.TypeInt, common.TypeBigInt:
		n, ok := toInt64(v)
		if !ok {
			return errors.Errorf("controller: column %d expects an integer, got %T", col, v)
		}
		row.SetInt64(col, n)
	case common.TypeDouble:
		switch n := v.(type) {
		case float64:
			row.SetFloat64(col, n)
		case float32:
			row.SetFloat64(col, float64(n))
		default:
			return errors.Errorf("controller: column %d expects a float, got %T", col, v)
		}
	case common.TypeVarchar:
		s, ok := v.(string)
		if !ok {
			return errors.Errorf("controller: column %d expects a string, got %T", col, v)
		}
		row.SetString(col, s)
	case common.TypeDecimal:
		d, ok := v.(common.Decimal)
		if !ok {
			return errors.Errorf("controller: column %d expects a common.Decimal, got %T", col, v)
		}
		row.SetDecimal(col, d)
	case common.TypeTimestamp:
		ts, ok := v.(common.Timestamp)
		if !ok {
			return errors.Errorf("controller: column %d expects a common.Timestamp, got %T", col, v)
		}
		row.SetTimestamp(col, ts)
	default:
		return errors.Errorf("controller: column %d has unsupported type %v", col, ct.Type)
	}
	return nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}
