package common

import (
	"encoding/binary"
	"math"
)

// Row is one ordered tuple of typed values, per spec.md §3. Polarity is
// not a field on Row itself — it is expressed structurally by which half
// of a (previous, current) pair in a RowsBatch is populated (see
// exec.RowsBatch), the same convention the teacher's TableExecutor uses.
type Row struct {
	colTypes []ColumnType
	values   []interface{} // nil means SQL NULL
}

func (r *Row) IsNull(col int) bool { return r.values[col] == nil }

func (r *Row) GetInt64(col int) int64 {
	v, _ := r.values[col].(int64)
	return v
}

func (r *Row) GetFloat64(col int) float64 {
	v, _ := r.values[col].(float64)
	return v
}

func (r *Row) GetString(col int) string {
	v, _ := r.values[col].(string)
	return v
}

func (r *Row) GetDecimal(col int) Decimal {
	v, _ := r.values[col].(Decimal)
	return v
}

func (r *Row) GetTimestamp(col int) Timestamp {
	v, _ := r.values[col].(Timestamp)
	return v
}

func (r *Row) SetInt64(col int, v int64)       { r.values[col] = v }
func (r *Row) SetFloat64(col int, v float64)   { r.values[col] = v }
func (r *Row) SetString(col int, v string)     { r.values[col] = v }
func (r *Row) SetDecimal(col int, v Decimal)   { r.values[col] = v }
func (r *Row) SetTimestamp(col int, v Timestamp) { r.values[col] = v }
func (r *Row) SetNull(col int)                 { r.values[col] = nil }

func (r *Row) ColCount() int { return len(r.colTypes) }

// Clone returns a deep copy safe to retain independently of r — used by
// state.Memory when taking canonical ownership of an inserted row.
func (r *Row) Clone() Row {
	return Row{colTypes: r.colTypes, values: append([]interface{}(nil), r.values...)}
}

// Equal reports whether r and other carry identical values, column by
// column — used to locate the specific row instance a Remove targets
// among a multiset of same-keyed rows.
func (r *Row) Equal(other *Row) bool {
	if len(r.values) != len(other.values) {
		return false
	}
	for i := range r.values {
		if r.values[i] != other.values[i] {
			return false
		}
	}
	return true
}

// NewRow builds a standalone Row over colTypes with all values unset
// (NULL), for callers constructing rows outside of a Rows batch (e.g.
// decoding a single stored value).
func NewRow(colTypes []ColumnType) Row {
	return Row{colTypes: colTypes, values: make([]interface{}, len(colTypes))}
}

// Rows is an append-only, growable sequence of Row sharing one schema —
// the row-batch container every operator passes downstream, matching the
// teacher's common.Rows/RowsFactory split (factory owns the schema, Rows
// owns storage).
type Rows struct {
	colTypes []ColumnType
	rows     []Row
}

func (rs *Rows) RowCount() int { return len(rs.rows) }

func (rs *Rows) GetRow(i int) *Row { return &rs.rows[i] }

func (rs *Rows) ColumnTypes() []ColumnType { return rs.colTypes }

// AppendRow copies row into this Rows (the teacher does the same so the
// source row's backing storage — e.g. a snapshot iterator buffer — can be
// reused/overwritten immediately after).
func (rs *Rows) AppendRow(row Row) {
	cp := Row{colTypes: rs.colTypes, values: append([]interface{}(nil), row.values...)}
	rs.rows = append(rs.rows, cp)
}

// AppendValues appends a new row built directly from values, in column order.
func (rs *Rows) AppendValues(values ...interface{}) {
	rs.rows = append(rs.rows, Row{colTypes: rs.colTypes, values: append([]interface{}(nil), values...)})
}

// RowsFactory creates Rows sharing a fixed column-type schema.
type RowsFactory struct {
	colTypes []ColumnType
}

func NewRowsFactory(colTypes []ColumnType) *RowsFactory {
	return &RowsFactory{colTypes: colTypes}
}

func (f *RowsFactory) NewRows(capacityHint int) *Rows {
	return &Rows{colTypes: f.colTypes, rows: make([]Row, 0, capacityHint)}
}

// Serialize encodes all rows to a flat byte buffer (length-prefixed
// per-column encoding), used for the admin page-result wire format and
// for buffering rows in internal fill/sequence tables.
func (rs *Rows) Serialize() []byte {
	var buff []byte
	buff = AppendUint32ToBufferLE(buff, uint32(len(rs.rows)))
	for i := range rs.rows {
		var err error
		buff, err = EncodeRow(&rs.rows[i], rs.colTypes, buff)
		if err != nil {
			panic(err)
		}
	}
	return buff
}

func (rs *Rows) Deserialize(buff []byte) {
	n, offset := ReadUint32FromBufferLE(buff, 0)
	for i := 0; i < int(n); i++ {
		row := Row{colTypes: rs.colTypes, values: make([]interface{}, len(rs.colTypes))}
		var err error
		offset, err = decodeRowAt(buff, offset, rs.colTypes, &row)
		if err != nil {
			panic(err)
		}
		rs.rows = append(rs.rows, row)
	}
}

// ---- buffer helpers -------------------------------------------------
//
// Little-endian helpers are used for values and internal sequence
// counters (matching push/mover.go); big-endian helpers are used for
// storage keys so that byte-lexicographic order matches numeric order
// (matching table.EncodeTableKeyPrefix / common.KeyEncodeInt64), which
// range scans depend on.

func AppendUint64ToBufferLittleEndian(buff []byte, v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return append(buff, b...)
}

func ReadUint64FromBufferLittleEndian(buff []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(buff[offset:])
}

func AppendUint32ToBufferLE(buff []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return append(buff, b...)
}

func ReadUint32FromBufferLE(buff []byte, offset int) (uint32, int) {
	return binary.LittleEndian.Uint32(buff[offset:]), offset + 4
}

func AppendUint64ToBufferLE(buff []byte, v uint64) []byte {
	return AppendUint64ToBufferLittleEndian(buff, v)
}

func ReadUint64FromBufferLE(buff []byte, offset int) (uint64, int) {
	return ReadUint64FromBufferLittleEndian(buff, offset), offset + 8
}

func AppendStringToBufferLE(buff []byte, s string) []byte {
	buff = AppendUint32ToBufferLE(buff, uint32(len(s)))
	return append(buff, s...)
}

func ReadStringFromBufferLE(buff []byte, offset int) (string, int) {
	l, offset := ReadUint32FromBufferLE(buff, offset)
	s := string(buff[offset : offset+int(l)])
	return s, offset + int(l)
}

// AppendUint64ToBufferBE appends big-endian so lexicographic byte order
// equals numeric order — required for range-scannable storage keys.
func AppendUint64ToBufferBE(buff []byte, v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return append(buff, b...)
}

func ReadUint64FromBufferBE(buff []byte, offset int) uint64 {
	return binary.BigEndian.Uint64(buff[offset:])
}

// KeyEncodeInt64 appends a sign-flipped big-endian int64 so that negative
// values sort before positive ones byte-lexicographically.
func KeyEncodeInt64(buff []byte, v int64) []byte {
	uv := uint64(v) ^ (1 << 63)
	return AppendUint64ToBufferBE(buff, uv)
}

func KeyDecodeInt64(buff []byte, offset int) int64 {
	uv := ReadUint64FromBufferBE(buff, offset)
	return int64(uv ^ (1 << 63))
}

func CopyByteSlice(b []byte) []byte {
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

// IncrementBytesBigEndian returns the smallest byte string greater than
// every key that has key as a prefix: the last byte below 0xff is
// incremented and the bytes after it dropped (when every byte is 0xff a
// zero byte is appended instead). Used to advance a scan cursor past the
// last key of a batch (matches the teacher's use in
// performReplayFromSnapshot).
func IncrementBytesBigEndian(key []byte) []byte {
	out := CopyByteSlice(key)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	// all bytes were 0xff - append a zero byte so it's still strictly larger
	return append(out, 0x00)
}

func DumpDataKey(key []byte) string {
	return string(key)
}

func InvokeCloser(c interface{ Close() error }) {
	if c == nil {
		return
	}
	_ = c.Close()
}

// encodeValue/decodeValue handle a single typed scalar.
func encodeValue(buff []byte, ct ColumnType, v interface{}) []byte {
	if v == nil {
		return append(buff, 0)
	}
	buff = append(buff, 1)
	switch ct.Type {
	case TypeTinyInt, TypeInt, TypeBigInt:
		iv, _ := v.(int64)
		return AppendUint64ToBufferLittleEndian(buff, uint64(iv))
	case TypeDouble:
		fv, _ := v.(float64)
		bits := math.Float64bits(fv)
		return AppendUint64ToBufferLittleEndian(buff, bits)
	case TypeDecimal:
		dv, _ := v.(Decimal)
		buff = AppendUint64ToBufferLittleEndian(buff, uint64(dv.Unscaled))
		return AppendUint32ToBufferLE(buff, uint32(dv.Scale))
	case TypeVarchar:
		sv, _ := v.(string)
		return AppendStringToBufferLE(buff, sv)
	case TypeTimestamp:
		tv, _ := v.(Timestamp)
		return AppendUint64ToBufferLittleEndian(buff, uint64(tv.UnixNano()))
	default:
		return buff
	}
}

func decodeValue(buff []byte, offset int, ct ColumnType) (interface{}, int) {
	notNull := buff[offset]
	offset++
	if notNull == 0 {
		return nil, offset
	}
	switch ct.Type {
	case TypeTinyInt, TypeInt, TypeBigInt:
		v := ReadUint64FromBufferLittleEndian(buff, offset)
		return int64(v), offset + 8
	case TypeDouble:
		v := ReadUint64FromBufferLittleEndian(buff, offset)
		return math.Float64frombits(v), offset + 8
	case TypeDecimal:
		unscaled := ReadUint64FromBufferLittleEndian(buff, offset)
		offset += 8
		scale, offset2 := ReadUint32FromBufferLE(buff, offset)
		return Decimal{Unscaled: int64(unscaled), Scale: int(scale)}, offset2
	case TypeVarchar:
		s, offset2 := ReadStringFromBufferLE(buff, offset)
		return s, offset2
	case TypeTimestamp:
		v := ReadUint64FromBufferLittleEndian(buff, offset)
		return NewTimestamp(timeFromUnixNano(int64(v))), offset + 8
	default:
		return nil, offset
	}
}
