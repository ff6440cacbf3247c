// Package fixturebroker implements just enough of the AMQP 0-9-1
// server role to drive the client engine's integration tests and the
// demo command without a real broker on the other end of the pipe. It
// deliberately speaks the wire directly with its own minimal encoder
// and decoder rather than importing the client package's internals,
// the same way the retrieval examples kept server-side wire helpers
// local instead of reaching into the client package they shipped.
package fixturebroker

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	frameMethod    = 1
	frameHeader    = 2
	frameBody      = 3
	frameHeartbeat = 8
	frameEnd       = 0xCE

	classConnection = 10
	classChannel    = 20
	classExchange   = 40
	classQueue      = 50
	classBasic      = 60
	classConfirm    = 85

	methodConnStart   = 10
	methodConnStartOk = 11
	methodConnTune    = 30
	methodConnTuneOk  = 31
	methodConnOpen    = 40
	methodConnOpenOk  = 41
	methodConnClose   = 50
	methodConnCloseOk = 51

	methodChannelOpen    = 10
	methodChannelOpenOk  = 11
	methodChannelClose   = 40
	methodChannelCloseOk = 41

	methodExchangeDeclare   = 10
	methodExchangeDeclareOk = 11
	methodExchangeDelete    = 20
	methodExchangeDeleteOk  = 21

	methodQueueDeclare   = 10
	methodQueueDeclareOk = 11
	methodQueueBind      = 20
	methodQueueBindOk    = 21
	methodQueuePurge     = 30
	methodQueuePurgeOk   = 31
	methodQueueDelete    = 40
	methodQueueDeleteOk  = 41
	methodQueueUnbind    = 50
	methodQueueUnbindOk  = 51

	methodBasicQos       = 10
	methodBasicQosOk     = 11
	methodBasicConsume   = 20
	methodBasicConsumeOk = 21
	methodBasicCancel    = 30
	methodBasicCancelOk  = 31
	methodBasicPublish   = 40
	methodBasicDeliver   = 60
	methodBasicGet       = 70
	methodBasicGetOk     = 71
	methodBasicGetEmpty  = 72
	methodBasicAck       = 80
	methodBasicReject    = 90
	methodBasicNack      = 120

	methodConfirmSelect   = 10
	methodConfirmSelectOk = 11
)

var protocolHeader = []byte{'A', 'M', 'Q', 'P', 0, 0, 9, 1}

type wireFrame struct {
	kind    byte
	channel uint16
	payload []byte
}

func readFrame(r io.Reader) (wireFrame, error) {
	var hdr [7]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return wireFrame{}, err
	}
	size := binary.BigEndian.Uint32(hdr[3:7])
	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return wireFrame{}, err
		}
	}
	var end [1]byte
	if _, err := io.ReadFull(r, end[:]); err != nil {
		return wireFrame{}, err
	}
	if end[0] != frameEnd {
		return wireFrame{}, fmt.Errorf("fixturebroker: missing frame-end sentinel")
	}
	return wireFrame{kind: hdr[0], channel: binary.BigEndian.Uint16(hdr[1:3]), payload: payload}, nil
}

func writeFrame(w io.Writer, f wireFrame) error {
	var hdr [7]byte
	hdr[0] = f.kind
	binary.BigEndian.PutUint16(hdr[1:3], f.channel)
	binary.BigEndian.PutUint32(hdr[3:7], uint32(len(f.payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(f.payload); err != nil {
		return err
	}
	_, err := w.Write([]byte{frameEnd})
	return err
}

func writeMethod(w io.Writer, channel uint16, classID, methodID uint16, args []byte) error {
	payload := make([]byte, 4+len(args))
	binary.BigEndian.PutUint16(payload[0:2], classID)
	binary.BigEndian.PutUint16(payload[2:4], methodID)
	copy(payload[4:], args)
	return writeFrame(w, wireFrame{kind: frameMethod, channel: channel, payload: payload})
}

func shortstr(s string) []byte {
	if len(s) > 255 {
		s = s[:255]
	}
	b := make([]byte, 1+len(s))
	b[0] = byte(len(s))
	copy(b[1:], s)
	return b
}

func long(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func longlong(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func short(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func longstr(s string) []byte {
	b := make([]byte, 4+len(s))
	binary.BigEndian.PutUint32(b[:4], uint32(len(s)))
	copy(b[4:], s)
	return b
}

// readShortstr reads a length-prefixed string out of args starting at
// idx and returns the value plus the index just past it.
func readShortstr(args []byte, idx int) (string, int) {
	if idx >= len(args) {
		return "", idx
	}
	l := int(args[idx])
	if idx+1+l > len(args) {
		return "", len(args)
	}
	return string(args[idx+1 : idx+1+l]), idx + 1 + l
}

func contentHeaderPayload(classID uint16, bodySize uint64) []byte {
	var buf bytes.Buffer
	buf.Write(short(classID))
	buf.Write(short(0))
	buf.Write(longlong(bodySize))
	buf.Write(short(0))
	return buf.Bytes()
}

// Queue is the broker's view of one named queue: a FIFO of unconsumed
// message bodies and the consumers currently registered against it.
type Queue struct {
	Name            string
	messages        [][]byte
	consumers       []*consumer
	nextDeliveryTag uint64
}

type consumer struct {
	tag     string
	channel uint16
	conn    *connState
}

// Broker is in-memory AMQP 0-9-1 server state shared across
// connections, sufficient to exercise the client engine's operations
// end to end without a real broker.
type Broker struct {
	mu        sync.Mutex
	exchanges map[string]string // name -> type
	queues    map[string]*Queue
	Username  string
	Password  string
	logger    zerolog.Logger
}

// NewBroker creates an empty broker. Username/Password default to
// guest/guest, matching the well-known AMQP default vhost credentials.
func NewBroker(logger zerolog.Logger) *Broker {
	return &Broker{
		exchanges: make(map[string]string),
		queues:    make(map[string]*Queue),
		Username:  "guest",
		Password:  "guest",
		logger:    logger,
	}
}

func (b *Broker) queue(name string) *Queue {
	q, ok := b.queues[name]
	if !ok {
		q = &Queue{Name: name}
		b.queues[name] = q
	}
	return q
}

// QueueDepth reports how many unconsumed messages a queue currently
// holds, for tests that assert on broker-side state.
func (b *Broker) QueueDepth(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return 0
	}
	return len(q.messages)
}

type connState struct {
	conn    net.Conn
	broker  *Broker
	w       io.Writer
	channel map[uint16]bool
}

// Serve drives the server side of the handshake and method dispatch
// for a single connection until it closes or the client sends
// connection.close. It blocks; callers run it in its own goroutine.
func (b *Broker) Serve(conn net.Conn) error {
	defer conn.Close()
	cs := &connState{conn: conn, broker: b, w: conn, channel: map[uint16]bool{}}

	var hdr [8]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return err
	}
	if !bytes.Equal(hdr[:], protocolHeader) {
		return fmt.Errorf("fixturebroker: unrecognized protocol header")
	}

	var startArgs []byte
	startArgs = append(startArgs, 0, 9)             // version-major, version-minor
	startArgs = append(startArgs, long(0)...)        // empty server-properties table
	startArgs = append(startArgs, longstr("PLAIN")...)
	startArgs = append(startArgs, longstr("en_US")...)
	if err := writeMethod(cs.w, 0, classConnection, methodConnStart, startArgs); err != nil {
		return err
	}
	startOk, err := readFrame(conn)
	if err != nil {
		return err
	}
	if err := cs.checkAuth(startOk.payload); err != nil {
		closeArgs := append(short(403), shortstr(err.Error())...)
		closeArgs = append(closeArgs, short(classConnection)...)
		closeArgs = append(closeArgs, short(methodConnStartOk)...)
		_ = writeMethod(cs.w, 0, classConnection, methodConnClose, closeArgs)
		return err
	}

	tuneArgs := append(short(2047), append(long(131072), short(60)...)...)
	if err := writeMethod(cs.w, 0, classConnection, methodConnTune, tuneArgs); err != nil {
		return err
	}
	if _, err := readFrame(conn); err != nil { // tune-ok
		return err
	}
	openFrame, err := readFrame(conn)
	if err != nil {
		return err
	}
	_ = openFrame
	if err := writeMethod(cs.w, 0, classConnection, methodConnOpenOk, shortstr("")); err != nil {
		return err
	}

	for {
		f, err := readFrame(conn)
		if err != nil {
			return err
		}
		switch f.kind {
		case frameMethod:
			if err := cs.handleMethod(f); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
		case frameHeartbeat:
			_ = writeFrame(cs.w, wireFrame{kind: frameHeartbeat, channel: 0})
		}
	}
}

func (cs *connState) checkAuth(payload []byte) error {
	if len(payload) < 8 {
		return fmt.Errorf("malformed start-ok")
	}
	idx := 4 // skip class-id, method-id
	tblLen := binary.BigEndian.Uint32(payload[idx : idx+4])
	idx += 4 + int(tblLen)
	_, idx = readShortstr(payload, idx) // mechanism
	if idx+4 > len(payload) {
		return fmt.Errorf("malformed start-ok")
	}
	respLen := int(binary.BigEndian.Uint32(payload[idx : idx+4]))
	idx += 4
	if idx+respLen > len(payload) {
		return fmt.Errorf("malformed start-ok")
	}
	response := payload[idx : idx+respLen]
	parts := bytes.SplitN(response, []byte{0}, 3)
	var user, pass string
	if len(parts) == 3 {
		user, pass = string(parts[1]), string(parts[2])
	} else if len(parts) == 2 {
		user, pass = string(parts[0]), string(parts[1])
	} else {
		return fmt.Errorf("invalid PLAIN response")
	}
	if user != cs.broker.Username || pass != cs.broker.Password {
		return fmt.Errorf("ACCESS_REFUSED - invalid credentials")
	}
	return nil
}

func (cs *connState) handleMethod(f wireFrame) error {
	if len(f.payload) < 4 {
		return fmt.Errorf("fixturebroker: method payload too short")
	}
	classID := binary.BigEndian.Uint16(f.payload[0:2])
	methodID := binary.BigEndian.Uint16(f.payload[2:4])
	args := f.payload[4:]
	b := cs.broker

	switch {
	case classID == classConnection && methodID == methodConnClose:
		_ = writeMethod(cs.w, 0, classConnection, methodConnCloseOk, nil)
		return io.EOF

	case classID == classChannel && methodID == methodChannelOpen:
		cs.channel[f.channel] = true
		return writeMethod(cs.w, f.channel, classChannel, methodChannelOpenOk, longstr(""))

	case classID == classChannel && methodID == methodChannelClose:
		delete(cs.channel, f.channel)
		return writeMethod(cs.w, f.channel, classChannel, methodChannelCloseOk, nil)

	case classID == classExchange && methodID == methodExchangeDeclare:
		idx := 2
		name, idx := readShortstr(args, idx)
		kind, _ := readShortstr(args, idx)
		b.mu.Lock()
		b.exchanges[name] = kind
		b.mu.Unlock()
		return writeMethod(cs.w, f.channel, classExchange, methodExchangeDeclareOk, nil)

	case classID == classExchange && methodID == methodExchangeDelete:
		name, _ := readShortstr(args, 0)
		b.mu.Lock()
		delete(b.exchanges, name)
		b.mu.Unlock()
		return writeMethod(cs.w, f.channel, classExchange, methodExchangeDeleteOk, nil)

	case classID == classQueue && methodID == methodQueueDeclare:
		idx := 2
		name, _ := readShortstr(args, idx)
		b.mu.Lock()
		q := b.queue(name)
		count := uint32(len(q.messages))
		b.mu.Unlock()
		reply := append(shortstr(name), append(long(count), long(0)...)...)
		return writeMethod(cs.w, f.channel, classQueue, methodQueueDeclareOk, reply)

	case classID == classQueue && methodID == methodQueueBind:
		idx := 2
		qname, idx := readShortstr(args, idx)
		exch, _ := readShortstr(args, idx)
		b.mu.Lock()
		b.queue(qname)
		if _, ok := b.exchanges[exch]; !ok {
			b.exchanges[exch] = "direct"
		}
		b.mu.Unlock()
		return writeMethod(cs.w, f.channel, classQueue, methodQueueBindOk, nil)

	case classID == classQueue && methodID == methodQueueUnbind:
		return writeMethod(cs.w, f.channel, classQueue, methodQueueUnbindOk, nil)

	case classID == classQueue && methodID == methodQueuePurge:
		name, _ := readShortstr(args, 2)
		b.mu.Lock()
		q := b.queue(name)
		cnt := uint32(len(q.messages))
		q.messages = nil
		b.mu.Unlock()
		return writeMethod(cs.w, f.channel, classQueue, methodQueuePurgeOk, long(cnt))

	case classID == classQueue && methodID == methodQueueDelete:
		name, _ := readShortstr(args, 2)
		b.mu.Lock()
		cnt := uint32(0)
		if q, ok := b.queues[name]; ok {
			cnt = uint32(len(q.messages))
			delete(b.queues, name)
		}
		b.mu.Unlock()
		return writeMethod(cs.w, f.channel, classQueue, methodQueueDeleteOk, long(cnt))

	case classID == classBasic && methodID == methodBasicQos:
		return writeMethod(cs.w, f.channel, classBasic, methodBasicQosOk, nil)

	case classID == classBasic && methodID == methodBasicConsume:
		idx := 2
		qname, idx := readShortstr(args, idx)
		tag, _ := readShortstr(args, idx)
		if tag == "" {
			tag = fmt.Sprintf("ctag-%d", time.Now().UnixNano())
		}
		b.mu.Lock()
		q := b.queue(qname)
		q.consumers = append(q.consumers, &consumer{tag: tag, channel: f.channel, conn: cs})
		b.mu.Unlock()
		if err := writeMethod(cs.w, f.channel, classBasic, methodBasicConsumeOk, shortstr(tag)); err != nil {
			return err
		}
		return b.drain(qname)

	case classID == classBasic && methodID == methodBasicCancel:
		tag, _ := readShortstr(args, 0)
		b.mu.Lock()
		for _, q := range b.queues {
			for i, c := range q.consumers {
				if c.tag == tag {
					q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
					break
				}
			}
		}
		b.mu.Unlock()
		return writeMethod(cs.w, f.channel, classBasic, methodBasicCancelOk, shortstr(tag))

	case classID == classBasic && methodID == methodBasicPublish:
		idx := 2
		exch, idx := readShortstr(args, idx)
		rkey, _ := readShortstr(args, idx)
		header, err := readFrame(cs.conn)
		if err != nil {
			return err
		}
		_ = header
		bodyFrame, err := readFrame(cs.conn)
		if err != nil {
			return err
		}
		target := rkey
		if exch != "" {
			target = rkey // fixture broker routes direct-to-queue regardless of exchange name
		}
		b.mu.Lock()
		q := b.queue(target)
		q.messages = append(q.messages, bodyFrame.payload)
		b.mu.Unlock()
		return b.drain(target)

	case classID == classBasic && methodID == methodBasicGet:
		name, _ := readShortstr(args, 2)
		b.mu.Lock()
		q, ok := b.queues[name]
		var msg []byte
		var tag uint64
		if ok && len(q.messages) > 0 {
			msg = q.messages[0]
			q.messages = q.messages[1:]
			q.nextDeliveryTag++
			tag = q.nextDeliveryTag
		}
		b.mu.Unlock()
		if msg == nil {
			return writeMethod(cs.w, f.channel, classBasic, methodBasicGetEmpty, shortstr(""))
		}
		reply := append(longlong(tag), byte(0))
		reply = append(reply, shortstr("")...)
		reply = append(reply, shortstr(name)...)
		reply = append(reply, long(0)...)
		if err := writeMethod(cs.w, f.channel, classBasic, methodBasicGetOk, reply); err != nil {
			return err
		}
		if err := writeFrame(cs.w, wireFrame{kind: frameHeader, channel: f.channel, payload: contentHeaderPayload(classBasic, uint64(len(msg)))}); err != nil {
			return err
		}
		return writeFrame(cs.w, wireFrame{kind: frameBody, channel: f.channel, payload: msg})

	case classID == classBasic && (methodID == methodBasicAck || methodID == methodBasicNack || methodID == methodBasicReject):
		return nil // fire-and-forget from the client's perspective; nothing to reply

	case classID == classConfirm && methodID == methodConfirmSelect:
		return writeMethod(cs.w, f.channel, classConfirm, methodConfirmSelectOk, nil)
	}
	return nil
}

// drain delivers every queued message on name to the queue's first
// registered consumer until the queue empties; it returns at once when
// no consumer is registered.
func (b *Broker) drain(name string) error {
	for {
		b.mu.Lock()
		q, ok := b.queues[name]
		if !ok || len(q.messages) == 0 || len(q.consumers) == 0 {
			b.mu.Unlock()
			return nil
		}
		msg := q.messages[0]
		q.messages = q.messages[1:]
		q.nextDeliveryTag++
		tag := q.nextDeliveryTag
		c := q.consumers[0]
		b.mu.Unlock()

		args := append(shortstr(c.tag), append(longlong(tag), byte(0))...)
		args = append(args, shortstr("")...)
		args = append(args, shortstr(name)...)
		if err := writeMethod(c.conn.w, c.channel, classBasic, methodBasicDeliver, args); err != nil {
			return err
		}
		if err := writeFrame(c.conn.w, wireFrame{kind: frameHeader, channel: c.channel, payload: contentHeaderPayload(classBasic, uint64(len(msg)))}); err != nil {
			return err
		}
		if err := writeFrame(c.conn.w, wireFrame{kind: frameBody, channel: c.channel, payload: msg}); err != nil {
			return err
		}
	}
}
