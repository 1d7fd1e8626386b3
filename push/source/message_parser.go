package source

import (
	"encoding/json"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/errors"
	"github.com/squareup/flowbase/kafka"
)

// ParsedRow is one decoded message, ready for table.Insert.
type ParsedRow struct {
	Values []interface{}
}

// MessageParser decodes a Kafka record's JSON-object value into row
// values ordered per SourceInfo.ColumnNames — the teacher's MessageParser
// instead decoded Avro/JSON against a TiDB-derived schema; this is the
// same role, generalized to flowbase's own column-name/type pair.
type MessageParser struct {
	info SourceInfo
}

func NewMessageParser(info SourceInfo) (*MessageParser, error) {
	if len(info.ColumnNames) != len(info.ColumnTypes) {
		return nil, errors.Errorf("source: %d column names but %d column types", len(info.ColumnNames), len(info.ColumnTypes))
	}
	return &MessageParser{info: info}, nil
}

// Parse decodes one message's JSON object body into a row. A key absent
// from the object leaves that column null, matching a partial upsert
// feed where not every producer writes every column.
func (p *MessageParser) Parse(msg *kafka.Message) (ParsedRow, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(msg.Value, &obj); err != nil {
		return ParsedRow{}, errors.Errorf("source: invalid JSON message value: %v", err)
	}
	values := make([]interface{}, len(p.info.ColumnNames))
	for i, name := range p.info.ColumnNames {
		raw, ok := obj[name]
		if !ok || raw == nil {
			continue
		}
		v, err := convert(p.info.ColumnTypes[i], raw)
		if err != nil {
			return ParsedRow{}, errors.Errorf("source: column %q: %v", name, err)
		}
		values[i] = v
	}
	return ParsedRow{Values: values}, nil
}

// convert maps a JSON-decoded value (float64, string, bool) onto the Go
// type controller.TableHandle.Insert expects for ct, since
// encoding/json's generic decode never produces int64/common.Decimal/
// common.Timestamp on its own.
func convert(ct common.ColumnType, raw interface{}) (interface{}, error) {
	switch ct.Type {
	case common.TypeTinyInt, common.TypeInt, common.TypeBigInt:
		switch n := raw.(type) {
		case float64:
			return int64(n), nil
		case json.Number:
			i, err := n.Int64()
			return i, err
		default:
			return nil, errors.Errorf("expected a number, got %T", raw)
		}
	case common.TypeDouble:
		n, ok := raw.(float64)
		if !ok {
			return nil, errors.Errorf("expected a number, got %T", raw)
		}
		return n, nil
	case common.TypeVarchar:
		s, ok := raw.(string)
		if !ok {
			return nil, errors.Errorf("expected a string, got %T", raw)
		}
		return s, nil
	case common.TypeDecimal:
		s, ok := raw.(string)
		if !ok {
			return nil, errors.Errorf("expected a decimal string, got %T", raw)
		}
		return parseDecimal(s, ct.DecScale)
	case common.TypeTimestamp:
		s, ok := raw.(string)
		if !ok {
			return nil, errors.Errorf("expected an RFC3339 timestamp string, got %T", raw)
		}
		t, err := parseTimestamp(s)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, errors.Errorf("unsupported column type %v", ct.Type)
	}
}
