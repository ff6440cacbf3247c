package amqp

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestReaderWriterPrimitivesRoundtrip(t *testing.T) {
	w := newWriter()
	w.putUint8(7)
	w.putUint16(1234)
	w.putUint32(5678901)
	w.putUint64(1 << 40)
	w.putInt8(-7)
	w.putInt16(-1234)
	w.putInt32(-5678901)
	w.putInt64(-(1 << 40))
	w.putBool(true)
	w.putBool(false)
	w.putFloat32(3.5)
	w.putFloat64(3.14159)
	w.putShortString("hello")
	w.putLongString("a longer string")
	w.putDecimal(Decimal{Scale: 2, Value: 12345})
	ts := time.Unix(1700000000, 0).UTC()
	w.putTimestamp(ts)

	r := newReader(w.bytesOut())
	if v, err := r.uint8(); err != nil || v != 7 {
		t.Fatalf("uint8: got %d, %v", v, err)
	}
	if v, err := r.uint16(); err != nil || v != 1234 {
		t.Fatalf("uint16: got %d, %v", v, err)
	}
	if v, err := r.uint32(); err != nil || v != 5678901 {
		t.Fatalf("uint32: got %d, %v", v, err)
	}
	if v, err := r.uint64(); err != nil || v != 1<<40 {
		t.Fatalf("uint64: got %d, %v", v, err)
	}
	if v, err := r.int8(); err != nil || v != -7 {
		t.Fatalf("int8: got %d, %v", v, err)
	}
	if v, err := r.int16(); err != nil || v != -1234 {
		t.Fatalf("int16: got %d, %v", v, err)
	}
	if v, err := r.int32(); err != nil || v != -5678901 {
		t.Fatalf("int32: got %d, %v", v, err)
	}
	if v, err := r.int64(); err != nil || v != -(1<<40) {
		t.Fatalf("int64: got %d, %v", v, err)
	}
	if v, err := r.boolean(); err != nil || v != true {
		t.Fatalf("bool true: got %v, %v", v, err)
	}
	if v, err := r.boolean(); err != nil || v != false {
		t.Fatalf("bool false: got %v, %v", v, err)
	}
	if v, err := r.float32(); err != nil || v != 3.5 {
		t.Fatalf("float32: got %v, %v", v, err)
	}
	if v, err := r.float64(); err != nil || v != 3.14159 {
		t.Fatalf("float64: got %v, %v", v, err)
	}
	if v, err := r.shortString(); err != nil || v != "hello" {
		t.Fatalf("shortString: got %q, %v", v, err)
	}
	if v, err := r.longString(); err != nil || v != "a longer string" {
		t.Fatalf("longString: got %q, %v", v, err)
	}
	if v, err := r.decimal(); err != nil || v != (Decimal{Scale: 2, Value: 12345}) {
		t.Fatalf("decimal: got %v, %v", v, err)
	}
	if v, err := r.timestamp(); err != nil || !v.Equal(ts) {
		t.Fatalf("timestamp: got %v, %v", v, err)
	}
	if r.remaining() != 0 {
		t.Fatalf("expected no bytes left over, got %d", r.remaining())
	}
}

func TestReaderTruncatedReturnsWireTruncatedError(t *testing.T) {
	r := newReader([]byte{1, 2})
	_, err := r.uint32()
	if _, ok := err.(*WireTruncatedError); !ok {
		t.Fatalf("expected *WireTruncatedError, got %T (%v)", err, err)
	}
}

func TestBitsPackingRoundtrip(t *testing.T) {
	w := newWriter()
	bits := []bool{true, false, true, true, false, false, true, false, true, true}
	w.putBits(bits...)

	r := newReader(w.bytesOut())
	got, err := r.bits(len(bits))
	if err != nil {
		t.Fatalf("bits: %v", err)
	}
	if !cmp.Equal(got, bits) {
		t.Fatalf("bits roundtrip mismatch: %s", cmp.Diff(bits, got))
	}
}

func TestFieldTableRoundtrip(t *testing.T) {
	table := FieldTable{
		{Key: "bool", Value: true},
		{Key: "int32", Value: int32(-42)},
		{Key: "uint64", Value: uint64(1 << 50)},
		{Key: "float64", Value: 2.5},
		{Key: "short", Value: ShortString("short")},
		{Key: "long", Value: "a long string value"},
		{Key: "decimal", Value: Decimal{Scale: 3, Value: -500}},
		{Key: "void", Value: nil},
		{Key: "array", Value: []interface{}{int32(1), "two", true}},
		{Key: "nested", Value: FieldTable{{Key: "inner", Value: "value"}}},
	}

	w := newWriter()
	w.putFieldTable(table)

	r := newReader(w.bytesOut())
	got, err := r.fieldTable()
	if err != nil {
		t.Fatalf("fieldTable: %v", err)
	}
	if diff := cmp.Diff(table, got); diff != "" {
		t.Fatalf("field table roundtrip mismatch:\n%s", diff)
	}
}

func TestFieldTableTimestampRoundtripsToSecondPrecision(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	table := FieldTable{{Key: "when", Value: ts}}

	w := newWriter()
	w.putFieldTable(table)
	r := newReader(w.bytesOut())
	got, err := r.fieldTable()
	if err != nil {
		t.Fatalf("fieldTable: %v", err)
	}
	gotTime, ok := got[0].Value.(time.Time)
	if !ok || !gotTime.Equal(ts) {
		t.Fatalf("timestamp roundtrip: got %v", got[0].Value)
	}
}

func TestPutFieldValueUnsupportedTypeEncodesVoid(t *testing.T) {
	w := newWriter()
	w.putFieldValue(struct{}{})
	r := newReader(w.bytesOut())
	tag, err := r.uint8()
	if err != nil || tag != 'V' {
		t.Fatalf("expected void tag, got %c, %v", tag, err)
	}
}

func TestShortStringTruncatesAt255Bytes(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	w := newWriter()
	w.putShortString(string(long))
	r := newReader(w.bytesOut())
	got, err := r.shortString()
	if err != nil {
		t.Fatalf("shortString: %v", err)
	}
	if len(got) != 255 {
		t.Fatalf("expected truncation to 255 bytes, got %d", len(got))
	}
}
