package amqp

import "testing"

func TestConnStartOkEncodesPlainResponse(t *testing.T) {
	m := connStartOk{
		ClientProperties: FieldTable{{Key: "product", Value: "amqpengine"}},
		Mechanism:        "PLAIN",
		Response:         []byte("\x00guest\x00guest"),
		Locale:           "en_US",
	}
	r := newReader(m.encode())
	tbl, err := r.fieldTable()
	if err != nil {
		t.Fatalf("client properties: %v", err)
	}
	if v, ok := tbl.Get("product"); !ok || v != "amqpengine" {
		t.Fatalf("client properties roundtrip: %v", tbl)
	}
	mech, err := r.shortString()
	if err != nil || mech != "PLAIN" {
		t.Fatalf("mechanism: got %q, %v", mech, err)
	}
	resp, err := r.longBytes()
	if err != nil || string(resp) != "\x00guest\x00guest" {
		t.Fatalf("response: got %q, %v", resp, err)
	}
	locale, err := r.shortString()
	if err != nil || locale != "en_US" {
		t.Fatalf("locale: got %q, %v", locale, err)
	}
}

func TestDecodeConnStartRoundtripsServerProperties(t *testing.T) {
	w := newWriter()
	w.putUint8(0)
	w.putUint8(9)
	w.putFieldTable(FieldTable{{Key: "version", Value: "3.12"}})
	w.putLongString("PLAIN AMQPLAIN")
	w.putLongString("en_US")

	m, err := decodeConnStart(w.bytesOut())
	if err != nil {
		t.Fatalf("decodeConnStart: %v", err)
	}
	if m.VersionMajor != 0 || m.VersionMinor != 9 {
		t.Fatalf("unexpected version %d.%d", m.VersionMajor, m.VersionMinor)
	}
	if m.Mechanisms != "PLAIN AMQPLAIN" || m.Locales != "en_US" {
		t.Fatalf("unexpected mechanisms/locales: %q %q", m.Mechanisms, m.Locales)
	}
}

func TestConnTuneRoundtrip(t *testing.T) {
	w := newWriter()
	w.putUint16(2047)
	w.putUint32(131072)
	w.putUint16(60)

	m, err := decodeConnTune(w.bytesOut())
	if err != nil {
		t.Fatalf("decodeConnTune: %v", err)
	}
	if m.ChannelMax != 2047 || m.FrameMax != 131072 || m.Heartbeat != 60 {
		t.Fatalf("unexpected tune: %+v", m)
	}

	ok := connTuneOk{ChannelMax: m.ChannelMax, FrameMax: m.FrameMax, Heartbeat: m.Heartbeat}.encode()
	r := newReader(ok)
	if v, err := r.uint16(); err != nil || v != 2047 {
		t.Fatalf("tune-ok channel-max: %d, %v", v, err)
	}
	if v, err := r.uint32(); err != nil || v != 131072 {
		t.Fatalf("tune-ok frame-max: %d, %v", v, err)
	}
	if v, err := r.uint16(); err != nil || v != 60 {
		t.Fatalf("tune-ok heartbeat: %d, %v", v, err)
	}
}

func TestConnOpenEncodesVirtualHostAndReservedFields(t *testing.T) {
	out := connOpen{VirtualHost: "/shop"}.encode()
	r := newReader(out)
	vhost, err := r.shortString()
	if err != nil || vhost != "/shop" {
		t.Fatalf("vhost: got %q, %v", vhost, err)
	}
	if _, err := r.shortString(); err != nil {
		t.Fatalf("reserved capabilities: %v", err)
	}
	bits, err := r.bits(1)
	if err != nil || bits[0] != false {
		t.Fatalf("reserved insist: %v, %v", bits, err)
	}
}

func TestConnCloseRoundtrip(t *testing.T) {
	m := connClose{ReplyCode: 320, ReplyText: "CONNECTION_FORCED", ClassID: 10, MethodID: 40}
	got, err := decodeConnClose(m.encode())
	if err != nil {
		t.Fatalf("decodeConnClose: %v", err)
	}
	if got != m {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, m)
	}
}

func TestChannelOpenReservedArgEncodesShortString(t *testing.T) {
	out := encodeChannelOpen()
	r := newReader(out)
	s, err := r.shortString()
	if err != nil || s != "" {
		t.Fatalf("expected empty reserved shortstr, got %q, %v", s, err)
	}
}

func TestChannelOpenOkAcceptsReservedLongBytes(t *testing.T) {
	w := newWriter()
	w.putLongBytes([]byte("reserved-channel-id"))
	if err := decodeChannelOpenOk(w.bytesOut()); err != nil {
		t.Fatalf("decodeChannelOpenOk: %v", err)
	}
}

func TestChannelFlowRoundtrip(t *testing.T) {
	m := channelFlow{Active: true}
	got, err := decodeChannelFlow(m.encode())
	if err != nil {
		t.Fatalf("decodeChannelFlow: %v", err)
	}
	if got.Active != true {
		t.Fatalf("expected Active true, got %+v", got)
	}
}

func TestChannelCloseRoundtrip(t *testing.T) {
	m := channelClose{ReplyCode: 404, ReplyText: "NOT_FOUND", ClassID: 50, MethodID: 10}
	got, err := decodeChannelClose(m.encode())
	if err != nil {
		t.Fatalf("decodeChannelClose: %v", err)
	}
	if got != m {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, m)
	}
}

func TestExchangeDeclareEncodesTicketAndFlags(t *testing.T) {
	m := exchangeDeclare{Exchange: "logs", Type: "topic", Durable: true, AutoDelete: false, Internal: false, NoWait: false, Arguments: nil}
	r := newReader(m.encode())
	if v, err := r.uint16(); err != nil || v != 0 {
		t.Fatalf("ticket: got %d, %v", v, err)
	}
	name, err := r.shortString()
	if err != nil || name != "logs" {
		t.Fatalf("exchange: got %q, %v", name, err)
	}
	kind, err := r.shortString()
	if err != nil || kind != "topic" {
		t.Fatalf("type: got %q, %v", kind, err)
	}
	bits, err := r.bits(5)
	if err != nil {
		t.Fatalf("bits: %v", err)
	}
	if bits[0] != false || bits[1] != true || bits[2] != false || bits[3] != false || bits[4] != false {
		t.Fatalf("unexpected flag bits: %v", bits)
	}
}

func TestQueueDeclareOkRoundtrip(t *testing.T) {
	w := newWriter()
	w.putShortString("orders")
	w.putUint32(12)
	w.putUint32(3)

	m, err := decodeQueueDeclareOk(w.bytesOut())
	if err != nil {
		t.Fatalf("decodeQueueDeclareOk: %v", err)
	}
	if m.Queue != "orders" || m.MessageCount != 12 || m.ConsumerCount != 3 {
		t.Fatalf("unexpected result: %+v", m)
	}
}

func TestBasicConsumeEncodesArguments(t *testing.T) {
	m := basicConsume{Queue: "q", ConsumerTag: "ctag", NoLocal: false, NoAck: true, Exclusive: false, NoWait: false, Arguments: FieldTable{{Key: "x-priority", Value: int32(10)}}}
	r := newReader(m.encode())
	if _, err := r.uint16(); err != nil { // ticket
		t.Fatalf("ticket: %v", err)
	}
	queue, err := r.shortString()
	if err != nil || queue != "q" {
		t.Fatalf("queue: got %q, %v", queue, err)
	}
	tag, err := r.shortString()
	if err != nil || tag != "ctag" {
		t.Fatalf("consumer tag: got %q, %v", tag, err)
	}
	bits, err := r.bits(4)
	if err != nil {
		t.Fatalf("bits: %v", err)
	}
	if bits[0] != false || bits[1] != true || bits[2] != false || bits[3] != false {
		t.Fatalf("unexpected flag bits: %v", bits)
	}
	args, err := r.fieldTable()
	if err != nil {
		t.Fatalf("arguments: %v", err)
	}
	if v, ok := args.Get("x-priority"); !ok || v != int32(10) {
		t.Fatalf("arguments roundtrip: %v", args)
	}
}

func TestBasicDeliverRoundtrip(t *testing.T) {
	w := newWriter()
	w.putShortString("ctag-1")
	w.putUint64(99)
	w.putBits(true)
	w.putShortString("amq.direct")
	w.putShortString("orders.new")

	m, err := decodeBasicDeliver(w.bytesOut())
	if err != nil {
		t.Fatalf("decodeBasicDeliver: %v", err)
	}
	if m.ConsumerTag != "ctag-1" || m.DeliveryTag != 99 || !m.Redelivered || m.Exchange != "amq.direct" || m.RoutingKey != "orders.new" {
		t.Fatalf("unexpected deliver: %+v", m)
	}
}

func TestBasicAckNackRoundtrip(t *testing.T) {
	ack := basicAck{DeliveryTag: 7, Multiple: true}
	gotAck, err := decodeBasicAck(ack.encode())
	if err != nil || gotAck != ack {
		t.Fatalf("basicAck roundtrip: got %+v, err %v", gotAck, err)
	}

	nack := basicNack{DeliveryTag: 8, Multiple: false, Requeue: true}
	gotNack, err := decodeBasicNack(nack.encode())
	if err != nil || gotNack != nack {
		t.Fatalf("basicNack roundtrip: got %+v, err %v", gotNack, err)
	}
}

func TestBasicGetOkRoundtrip(t *testing.T) {
	m := basicGetOk{DeliveryTag: 5, Redelivered: false, Exchange: "ex", RoutingKey: "rk", MessageCount: 2}
	w := newWriter()
	w.putUint64(m.DeliveryTag)
	w.putBits(m.Redelivered)
	w.putShortString(m.Exchange)
	w.putShortString(m.RoutingKey)
	w.putUint32(m.MessageCount)

	got, err := decodeBasicGetOk(w.bytesOut())
	if err != nil || got != m {
		t.Fatalf("basicGetOk roundtrip: got %+v, err %v", got, err)
	}
}

func TestConfirmSelectEncodesNoWaitBit(t *testing.T) {
	out := confirmSelect{NoWait: true}.encode()
	if len(out) != 1 || out[0] != 1 {
		t.Fatalf("unexpected confirm.select encoding: %v", out)
	}
}
