package common

import (
	"runtime"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

func stackTrace(buf []byte) int {
	return runtime.Stack(buf, true)
}

func timeFromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// EncodeRow appends row's values to buff in column order, matching the
// teacher's common.EncodeRow(row, colTypes, buff) signature.
func EncodeRow(row *Row, colTypes []ColumnType, buff []byte) ([]byte, error) {
	for i, ct := range colTypes {
		buff = encodeValue(buff, ct, row.values[i])
	}
	return buff, nil
}

// DecodeRow decodes one row from value and appends it to rows, matching
// the teacher's common.DecodeRow(value, colTypes, rows) signature used in
// TableExecutor.HandleRows when re-reading the existing version of a row.
func DecodeRow(value []byte, colTypes []ColumnType, rows *Rows) error {
	row := Row{colTypes: colTypes, values: make([]interface{}, len(colTypes))}
	if _, err := decodeRowAt(value, 0, colTypes, &row); err != nil {
		return err
	}
	rows.rows = append(rows.rows, row)
	return nil
}

func decodeRowAt(buff []byte, offset int, colTypes []ColumnType, row *Row) (int, error) {
	for i, ct := range colTypes {
		v, newOffset := decodeValue(buff, offset, ct)
		row.values[i] = v
		offset = newOffset
	}
	return offset, nil
}

// EncodeKeyCols appends the values of keyCols (indices into row, already
// resolved by the caller) to keyBuff. Integer-like columns use
// KeyEncodeInt64; a varchar is a little-endian uint32 length prefix
// followed by its bytes, so keys are self-delimiting but varchar keys do
// not sort in string order — matches the teacher's
// common.EncodeKeyCols(row, primaryKeyCols, colTypes, keyBuff).
func EncodeKeyCols(row *Row, keyCols []int, colTypes []ColumnType, keyBuff []byte) ([]byte, error) {
	for _, col := range keyCols {
		ct := colTypes[col]
		v := row.values[col]
		keyBuff = encodeKeyValue(keyBuff, ct, v)
	}
	return keyBuff, nil
}

func encodeKeyValue(buff []byte, ct ColumnType, v interface{}) []byte {
	switch ct.Type {
	case TypeTinyInt, TypeInt, TypeBigInt:
		iv, _ := v.(int64)
		return KeyEncodeInt64(buff, iv)
	case TypeVarchar:
		sv, _ := v.(string)
		buff = AppendUint32ToBufferLE(buff, uint32(len(sv))) //nolint:staticcheck // length prefix keeps keys self-delimiting
		return append(buff, sv...)
	case TypeTimestamp:
		tv, _ := v.(Timestamp)
		return KeyEncodeInt64(buff, tv.UnixNano())
	case TypeDouble:
		fv, _ := v.(float64)
		return KeyEncodeInt64(buff, int64(fv*1e9))
	case TypeDecimal:
		dv, _ := v.(Decimal)
		return KeyEncodeInt64(buff, dv.Unscaled)
	default:
		return buff
	}
}

// PanicHandler recovers from a panic in a goroutine boundary (RPC entry
// points, domain loops) and re-raises after logging, matching the
// teacher's defer common.PanicHandler() at api/server.go's RPC handlers.
// Declared here (not in a separate file) since it is a one-liner used
// pack-wide.
func PanicHandler() {
	if r := recover(); r != nil {
		log.Errorf("panic recovered: %v", r)
		panic(r)
	}
}

// DumpStacks logs the stacks of all goroutines, matching the teacher's
// common.DumpStacks() diagnostic called before giving up on a cluster
// propose after retrying (see cluster.localCluster.proposeWithRetry).
func DumpStacks() {
	buf := make([]byte, 1<<16)
	n := stackTrace(buf)
	log.Errorf("goroutine dump:\n%s", buf[:n])
}

// AtomicBool is a tiny CAS'd boolean, matching the teacher's
// common.AtomicBool used by push/source.MessageConsumer's running flag.
type AtomicBool struct {
	v int32
}

func (a *AtomicBool) Get() bool { return atomic.LoadInt32(&a.v) != 0 }

func (a *AtomicBool) Set(b bool) {
	var v int32
	if b {
		v = 1
	}
	atomic.StoreInt32(&a.v, v)
}

func (a *AtomicBool) CompareAndSet(old, new bool) bool { //nolint:revive // matches teacher's CompareAndSet naming
	var oldV, newV int32
	if old {
		oldV = 1
	}
	if new {
		newV = 1
	}
	return atomic.CompareAndSwapInt32(&a.v, oldV, newV)
}
