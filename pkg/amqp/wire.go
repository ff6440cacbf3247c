package amqp

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"
)

// Decimal is the AMQP 0-9-1 decimal-value: an unscaled 32-bit signed
// integer together with the number of digits after the decimal point.
// The represented value is Value * 10^-Scale.
type Decimal struct {
	Scale uint8
	Value int32
}

// ShortString marks a Go string that should be encoded on the wire as an
// AMQP short-string (1-byte length prefix, max 255 bytes) rather than the
// default long-string encoding used for a plain string value.
type ShortString string

// FieldTableEntry is one (key, value) pair of a Field Table. Field Table
// itself is a slice of entries rather than a map so that insertion order
// survives an encode/decode round-trip, as required by the wire format:
// the codec does not deduplicate keys and callers should not insert
// duplicates.
type FieldTableEntry struct {
	Key   string
	Value interface{}
}

// FieldTable is an ordered AMQP 0-9-1 field table. Supported value types
// are: bool, int8, uint8, int16, uint16, int32, uint32, int64, uint64,
// float32, float64, Decimal, string (long-string), ShortString,
// time.Time (timestamp), FieldTable, []interface{} (array), and nil
// (void).
type FieldTable []FieldTableEntry

// Get returns the value of the first entry with the given key.
func (t FieldTable) Get(key string) (interface{}, bool) {
	for _, e := range t {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// reader is a bounds-checked, big-endian cursor over a byte slice. Every
// read validates remaining length before consuming bytes and returns
// *WireTruncatedError on underflow; it never panics on short input.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) need(n int) error {
	if r.remaining() < n {
		return &WireTruncatedError{Want: n, Have: r.remaining()}
	}
	return nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) uint8() (uint8, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) int8() (int8, error) {
	v, err := r.uint8()
	return int8(v), err
}

func (r *reader) int16() (int16, error) {
	v, err := r.uint16()
	return int16(v), err
}

func (r *reader) int32() (int32, error) {
	v, err := r.uint32()
	return int32(v), err
}

func (r *reader) int64() (int64, error) {
	v, err := r.uint64()
	return int64(v), err
}

func (r *reader) float32() (float32, error) {
	v, err := r.uint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *reader) float64() (float64, error) {
	v, err := r.uint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *reader) boolean() (bool, error) {
	v, err := r.uint8()
	return v != 0, err
}

// bits reads n consecutive AMQP bit-type method arguments. The protocol
// packs runs of bit parameters into as few octets as possible, least
// significant bit first; this mirrors that packing on read.
func (r *reader) bits(n int) ([]bool, error) {
	out := make([]bool, n)
	for i := 0; i < n; i += 8 {
		b, err := r.uint8()
		if err != nil {
			return nil, err
		}
		for j := 0; j < 8 && i+j < n; j++ {
			out[i+j] = b&(1<<uint(j)) != 0
		}
	}
	return out, nil
}

// shortString reads a 1-byte-length-prefixed string, at most 255 bytes.
func (r *reader) shortString() (string, error) {
	n, err := r.uint8()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// longString reads a 4-byte-length-prefixed byte string.
func (r *reader) longString() (string, error) {
	b, err := r.longBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) longBytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return r.bytes(int(n))
}

func (r *reader) decimal() (Decimal, error) {
	scale, err := r.uint8()
	if err != nil {
		return Decimal{}, err
	}
	value, err := r.int32()
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{Scale: scale, Value: value}, nil
}

func (r *reader) timestamp() (time.Time, error) {
	secs, err := r.uint64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(secs), 0).UTC(), nil
}

// fieldTable reads a length-prefixed (u32) sequence of (short-string,
// Field Value) entries.
func (r *reader) fieldTable() (FieldTable, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	end := r.pos + int(n)
	var table FieldTable
	for r.pos < end {
		key, err := r.shortString()
		if err != nil {
			return nil, err
		}
		val, err := r.fieldValue()
		if err != nil {
			return nil, err
		}
		table = append(table, FieldTableEntry{Key: key, Value: val})
	}
	return table, nil
}

// fieldArray reads a length-prefixed (u32) sequence of Field Values.
func (r *reader) fieldArray() ([]interface{}, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	end := r.pos + int(n)
	var arr []interface{}
	for r.pos < end {
		v, err := r.fieldValue()
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	return arr, nil
}

// fieldValue reads one type-tagged Field Value.
func (r *reader) fieldValue() (interface{}, error) {
	tag, err := r.uint8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 't':
		return r.boolean()
	case 'b':
		return r.int8()
	case 'B':
		return r.uint8()
	case 'U':
		return r.int16()
	case 'u':
		return r.uint16()
	case 'I':
		return r.int32()
	case 'i':
		return r.uint32()
	case 'L':
		return r.int64()
	case 'l':
		return r.uint64()
	case 'f':
		return r.float32()
	case 'd':
		return r.float64()
	case 'D':
		return r.decimal()
	case 's':
		s, err := r.shortString()
		return ShortString(s), err
	case 'S':
		return r.longString()
	case 'T':
		return r.timestamp()
	case 'F':
		return r.fieldTable()
	case 'A':
		return r.fieldArray()
	case 'V':
		return nil, nil
	default:
		return nil, &FramingError{Reason: "unknown field value type tag"}
	}
}

// writer is an append-only, big-endian byte buffer builder with no
// caller-visible allocation limits; callers budget frame sizes against
// frame-max before emitting, as required by the wire primitives.
type writer struct {
	buf bytes.Buffer
}

func newWriter() *writer { return &writer{} }

func (w *writer) bytesOut() []byte { return w.buf.Bytes() }

func (w *writer) putUint8(v uint8)   { w.buf.WriteByte(v) }
func (w *writer) putInt8(v int8)     { w.putUint8(uint8(v)) }
func (w *writer) putBool(v bool) {
	if v {
		w.putUint8(1)
	} else {
		w.putUint8(0)
	}
}

// putBits writes consecutive AMQP bit-type method arguments packed least
// significant bit first into as few octets as possible, matching the
// wire convention bits() reads.
func (w *writer) putBits(bits ...bool) {
	for i := 0; i < len(bits); i += 8 {
		var b uint8
		for j := 0; j < 8 && i+j < len(bits); j++ {
			if bits[i+j] {
				b |= 1 << uint(j)
			}
		}
		w.putUint8(b)
	}
}

func (w *writer) putUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}
func (w *writer) putInt16(v int16) { w.putUint16(uint16(v)) }

func (w *writer) putUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}
func (w *writer) putInt32(v int32) { w.putUint32(uint32(v)) }

func (w *writer) putUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}
func (w *writer) putInt64(v int64) { w.putUint64(uint64(v)) }

func (w *writer) putFloat32(v float32) { w.putUint32(math.Float32bits(v)) }
func (w *writer) putFloat64(v float64) { w.putUint64(math.Float64bits(v)) }

// putShortString writes a 1-byte-length-prefixed string. Strings longer
// than 255 bytes are truncated rather than rejected, matching the
// teacher's encodeShortStr helper.
func (w *writer) putShortString(s string) {
	if len(s) > 255 {
		s = s[:255]
	}
	w.putUint8(uint8(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) putLongString(s string) {
	w.putUint32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) putLongBytes(b []byte) {
	w.putUint32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *writer) putDecimal(d Decimal) {
	w.putUint8(d.Scale)
	w.putInt32(d.Value)
}

func (w *writer) putTimestamp(t time.Time) {
	w.putUint64(uint64(t.Unix()))
}

// putFieldTable writes a length-prefixed (u32) field table. The entries
// are emitted in the order given, with no deduplication.
func (w *writer) putFieldTable(t FieldTable) {
	inner := newWriter()
	for _, e := range t {
		inner.putShortString(e.Key)
		inner.putFieldValue(e.Value)
	}
	w.putLongBytes(inner.bytesOut())
}

func (w *writer) putFieldArray(arr []interface{}) {
	inner := newWriter()
	for _, v := range arr {
		inner.putFieldValue(v)
	}
	w.putLongBytes(inner.bytesOut())
}

// putFieldValue writes a one-byte type tag followed by the value's
// encoding, dispatching on the Go type of v.
func (w *writer) putFieldValue(v interface{}) {
	switch val := v.(type) {
	case nil:
		w.putUint8('V')
	case bool:
		w.putUint8('t')
		w.putBool(val)
	case int8:
		w.putUint8('b')
		w.putInt8(val)
	case uint8:
		w.putUint8('B')
		w.putUint8(val)
	case int16:
		w.putUint8('U')
		w.putInt16(val)
	case uint16:
		w.putUint8('u')
		w.putUint16(val)
	case int32:
		w.putUint8('I')
		w.putInt32(val)
	case uint32:
		w.putUint8('i')
		w.putUint32(val)
	case int64:
		w.putUint8('L')
		w.putInt64(val)
	case uint64:
		w.putUint8('l')
		w.putUint64(val)
	case int:
		w.putUint8('L')
		w.putInt64(int64(val))
	case float32:
		w.putUint8('f')
		w.putFloat32(val)
	case float64:
		w.putUint8('d')
		w.putFloat64(val)
	case Decimal:
		w.putUint8('D')
		w.putDecimal(val)
	case ShortString:
		w.putUint8('s')
		w.putShortString(string(val))
	case string:
		w.putUint8('S')
		w.putLongString(val)
	case time.Time:
		w.putUint8('T')
		w.putTimestamp(val)
	case FieldTable:
		w.putUint8('F')
		w.putFieldTable(val)
	case []interface{}:
		w.putUint8('A')
		w.putFieldArray(val)
	default:
		// Unsupported Go types encode as void rather than panicking;
		// callers constructing field tables by hand get back what they
		// put in for every type this codec documents as supported.
		w.putUint8('V')
	}
}
