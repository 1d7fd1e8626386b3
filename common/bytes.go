package common

import "unsafe"

// ByteSliceMap is a map keyed by byte slice contents rather than
// identity, for callers that build keys from row storage buffers and
// don't want to commit to string or []byte as the canonical type.
type ByteSliceMap struct {
	m map[string][]byte
}

func NewByteSliceMap() *ByteSliceMap {
	return &ByteSliceMap{m: make(map[string][]byte)}
}

func (b *ByteSliceMap) Put(k, v []byte) {
	// Copy both: the map must not retain the caller's backing arrays
	// past this call.
	kc := make([]byte, len(k))
	copy(kc, k)
	vc := make([]byte, len(v))
	copy(vc, v)
	b.m[string(kc)] = vc
}

func (b *ByteSliceMap) Get(k []byte) ([]byte, bool) {
	v, ok := b.m[ByteSliceToStringZeroCopy(k)]
	return v, ok
}

func (b *ByteSliceMap) Delete(k []byte) {
	delete(b.m, ByteSliceToStringZeroCopy(k))
}

func (b *ByteSliceMap) Len() int { return len(b.m) }

// ByteSliceToStringZeroCopy aliases b's backing array as a string
// rather than copying it. Safe only for a transient lookup key that
// does not outlive b and is never stored past the call — Put above
// copies explicitly rather than calling this.
func ByteSliceToStringZeroCopy(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// StringToByteSliceZeroCopy is the inverse: the returned slice must
// not be mutated, since it aliases s's immutable backing array.
func StringToByteSliceZeroCopy(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
