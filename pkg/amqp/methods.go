package amqp

// This file is the method registry: per-method argument structs together
// with the encode/decode pair the connection and channel state machines
// use to turn them into and out of METHOD frame payloads. Whether a
// method expects a reply is not recorded here: each Channel operation
// passes that to Channel.send, which pushes a deferred onto the pending
// queue only when a reply is expected.

// connection.start-ok, sent in response to connection.start.
type connStartOk struct {
	ClientProperties FieldTable
	Mechanism        string
	Response         []byte
	Locale           string
}

func (m connStartOk) encode() []byte {
	w := newWriter()
	w.putFieldTable(m.ClientProperties)
	w.putShortString(m.Mechanism)
	w.putLongBytes(m.Response)
	w.putShortString(m.Locale)
	return w.bytesOut()
}

// connStart is the broker's connection.start.
type connStart struct {
	VersionMajor     uint8
	VersionMinor     uint8
	ServerProperties FieldTable
	Mechanisms       string
	Locales          string
}

func decodeConnStart(args []byte) (connStart, error) {
	r := newReader(args)
	var m connStart
	var err error
	if m.VersionMajor, err = r.uint8(); err != nil {
		return m, err
	}
	if m.VersionMinor, err = r.uint8(); err != nil {
		return m, err
	}
	if m.ServerProperties, err = r.fieldTable(); err != nil {
		return m, err
	}
	if m.Mechanisms, err = r.longString(); err != nil {
		return m, err
	}
	if m.Locales, err = r.longString(); err != nil {
		return m, err
	}
	return m, nil
}

// connTune is the broker's connection.tune proposal.
type connTune struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func decodeConnTune(args []byte) (connTune, error) {
	r := newReader(args)
	var m connTune
	var err error
	if m.ChannelMax, err = r.uint16(); err != nil {
		return m, err
	}
	if m.FrameMax, err = r.uint32(); err != nil {
		return m, err
	}
	if m.Heartbeat, err = r.uint16(); err != nil {
		return m, err
	}
	return m, nil
}

type connTuneOk struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func (m connTuneOk) encode() []byte {
	w := newWriter()
	w.putUint16(m.ChannelMax)
	w.putUint32(m.FrameMax)
	w.putUint16(m.Heartbeat)
	return w.bytesOut()
}

type connOpen struct {
	VirtualHost string
}

func (m connOpen) encode() []byte {
	w := newWriter()
	w.putShortString(m.VirtualHost)
	w.putShortString("") // reserved-1 (capabilities)
	w.putBits(false)     // reserved-2 (insist)
	return w.bytesOut()
}

func decodeConnOpenOk(args []byte) error {
	r := newReader(args)
	_, err := r.shortString() // reserved-1 (known-hosts)
	return err
}

type connClose struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

func (m connClose) encode() []byte {
	w := newWriter()
	w.putUint16(m.ReplyCode)
	w.putShortString(m.ReplyText)
	w.putUint16(m.ClassID)
	w.putUint16(m.MethodID)
	return w.bytesOut()
}

func decodeConnClose(args []byte) (connClose, error) {
	r := newReader(args)
	var m connClose
	var err error
	if m.ReplyCode, err = r.uint16(); err != nil {
		return m, err
	}
	if m.ReplyText, err = r.shortString(); err != nil {
		return m, err
	}
	if m.ClassID, err = r.uint16(); err != nil {
		return m, err
	}
	if m.MethodID, err = r.uint16(); err != nil {
		return m, err
	}
	return m, nil
}

// channel.open has a single reserved shortstr argument.
func encodeChannelOpen() []byte {
	w := newWriter()
	w.putShortString("")
	return w.bytesOut()
}

func decodeChannelOpenOk(args []byte) error {
	r := newReader(args)
	_, err := r.longBytes() // reserved-1 (channel-id)
	return err
}

type channelFlow struct {
	Active bool
}

func (m channelFlow) encode() []byte {
	w := newWriter()
	w.putBits(m.Active)
	return w.bytesOut()
}

func decodeChannelFlow(args []byte) (channelFlow, error) {
	r := newReader(args)
	bits, err := r.bits(1)
	if err != nil {
		return channelFlow{}, err
	}
	return channelFlow{Active: bits[0]}, nil
}

type channelClose struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

func (m channelClose) encode() []byte {
	w := newWriter()
	w.putUint16(m.ReplyCode)
	w.putShortString(m.ReplyText)
	w.putUint16(m.ClassID)
	w.putUint16(m.MethodID)
	return w.bytesOut()
}

func decodeChannelClose(args []byte) (channelClose, error) {
	r := newReader(args)
	var m channelClose
	var err error
	if m.ReplyCode, err = r.uint16(); err != nil {
		return m, err
	}
	if m.ReplyText, err = r.shortString(); err != nil {
		return m, err
	}
	if m.ClassID, err = r.uint16(); err != nil {
		return m, err
	}
	if m.MethodID, err = r.uint16(); err != nil {
		return m, err
	}
	return m, nil
}

type exchangeDeclare struct {
	Exchange   string
	Type       string
	Passive    bool
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Arguments  FieldTable
}

func (m exchangeDeclare) encode() []byte {
	w := newWriter()
	w.putUint16(0) // reserved-1 (ticket)
	w.putShortString(m.Exchange)
	w.putShortString(m.Type)
	w.putBits(m.Passive, m.Durable, m.AutoDelete, m.Internal, m.NoWait)
	w.putFieldTable(m.Arguments)
	return w.bytesOut()
}

type exchangeDelete struct {
	Exchange string
	IfUnused bool
	NoWait   bool
}

func (m exchangeDelete) encode() []byte {
	w := newWriter()
	w.putUint16(0)
	w.putShortString(m.Exchange)
	w.putBits(m.IfUnused, m.NoWait)
	return w.bytesOut()
}

type exchangeBind struct {
	Destination string
	Source      string
	RoutingKey  string
	NoWait      bool
	Arguments   FieldTable
}

func (m exchangeBind) encode() []byte {
	w := newWriter()
	w.putUint16(0)
	w.putShortString(m.Destination)
	w.putShortString(m.Source)
	w.putShortString(m.RoutingKey)
	w.putBits(m.NoWait)
	w.putFieldTable(m.Arguments)
	return w.bytesOut()
}

type exchangeUnbind struct {
	Destination string
	Source      string
	RoutingKey  string
	NoWait      bool
	Arguments   FieldTable
}

func (m exchangeUnbind) encode() []byte {
	w := newWriter()
	w.putUint16(0)
	w.putShortString(m.Destination)
	w.putShortString(m.Source)
	w.putShortString(m.RoutingKey)
	w.putBits(m.NoWait)
	w.putFieldTable(m.Arguments)
	return w.bytesOut()
}

type queueDeclare struct {
	Queue      string
	Passive    bool
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	NoWait     bool
	Arguments  FieldTable
}

func (m queueDeclare) encode() []byte {
	w := newWriter()
	w.putUint16(0)
	w.putShortString(m.Queue)
	w.putBits(m.Passive, m.Durable, m.Exclusive, m.AutoDelete, m.NoWait)
	w.putFieldTable(m.Arguments)
	return w.bytesOut()
}

type queueDeclareOk struct {
	Queue         string
	MessageCount  uint32
	ConsumerCount uint32
}

func decodeQueueDeclareOk(args []byte) (queueDeclareOk, error) {
	r := newReader(args)
	var m queueDeclareOk
	var err error
	if m.Queue, err = r.shortString(); err != nil {
		return m, err
	}
	if m.MessageCount, err = r.uint32(); err != nil {
		return m, err
	}
	if m.ConsumerCount, err = r.uint32(); err != nil {
		return m, err
	}
	return m, nil
}

type queueBind struct {
	Queue      string
	Exchange   string
	RoutingKey string
	NoWait     bool
	Arguments  FieldTable
}

func (m queueBind) encode() []byte {
	w := newWriter()
	w.putUint16(0)
	w.putShortString(m.Queue)
	w.putShortString(m.Exchange)
	w.putShortString(m.RoutingKey)
	w.putBits(m.NoWait)
	w.putFieldTable(m.Arguments)
	return w.bytesOut()
}

type queuePurge struct {
	Queue  string
	NoWait bool
}

func (m queuePurge) encode() []byte {
	w := newWriter()
	w.putUint16(0)
	w.putShortString(m.Queue)
	w.putBits(m.NoWait)
	return w.bytesOut()
}

func decodeQueuePurgeOk(args []byte) (uint32, error) {
	r := newReader(args)
	return r.uint32()
}

type queueUnbind struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  FieldTable
}

func (m queueUnbind) encode() []byte {
	w := newWriter()
	w.putUint16(0)
	w.putShortString(m.Queue)
	w.putShortString(m.Exchange)
	w.putShortString(m.RoutingKey)
	w.putFieldTable(m.Arguments)
	return w.bytesOut()
}

type queueDelete struct {
	Queue    string
	IfUnused bool
	IfEmpty  bool
	NoWait   bool
}

func (m queueDelete) encode() []byte {
	w := newWriter()
	w.putUint16(0)
	w.putShortString(m.Queue)
	w.putBits(m.IfUnused, m.IfEmpty, m.NoWait)
	return w.bytesOut()
}

func decodeQueueDeleteOk(args []byte) (uint32, error) {
	r := newReader(args)
	return r.uint32()
}

type basicQos struct {
	PrefetchSize  uint32
	PrefetchCount uint16
	Global        bool
}

func (m basicQos) encode() []byte {
	w := newWriter()
	w.putUint32(m.PrefetchSize)
	w.putUint16(m.PrefetchCount)
	w.putBits(m.Global)
	return w.bytesOut()
}

type basicConsume struct {
	Queue       string
	ConsumerTag string
	NoLocal     bool
	NoAck       bool
	Exclusive   bool
	NoWait      bool
	Arguments   FieldTable
}

func (m basicConsume) encode() []byte {
	w := newWriter()
	w.putUint16(0)
	w.putShortString(m.Queue)
	w.putShortString(m.ConsumerTag)
	w.putBits(m.NoLocal, m.NoAck, m.Exclusive, m.NoWait)
	w.putFieldTable(m.Arguments)
	return w.bytesOut()
}

func decodeBasicConsumeOk(args []byte) (string, error) {
	r := newReader(args)
	return r.shortString()
}

type basicCancel struct {
	ConsumerTag string
	NoWait      bool
}

func (m basicCancel) encode() []byte {
	w := newWriter()
	w.putShortString(m.ConsumerTag)
	w.putBits(m.NoWait)
	return w.bytesOut()
}

func decodeBasicCancelOk(args []byte) (string, error) {
	r := newReader(args)
	return r.shortString()
}

// basic.cancel, when sent by the broker, is a consumer cancellation
// notification (a RabbitMQ extension adopted widely enough that every
// client in the retrieval pack handles it); NoWait here means the
// broker does not expect a basic.cancel-ok reply.
func decodeBasicCancel(args []byte) (basicCancel, error) {
	r := newReader(args)
	var m basicCancel
	var err error
	if m.ConsumerTag, err = r.shortString(); err != nil {
		return m, err
	}
	bits, err := r.bits(1)
	if err != nil {
		return m, err
	}
	m.NoWait = bits[0]
	return m, nil
}

type basicPublish struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool
}

func (m basicPublish) encode() []byte {
	w := newWriter()
	w.putUint16(0)
	w.putShortString(m.Exchange)
	w.putShortString(m.RoutingKey)
	w.putBits(m.Mandatory, m.Immediate)
	return w.bytesOut()
}

type basicReturn struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
}

func decodeBasicReturn(args []byte) (basicReturn, error) {
	r := newReader(args)
	var m basicReturn
	var err error
	if m.ReplyCode, err = r.uint16(); err != nil {
		return m, err
	}
	if m.ReplyText, err = r.shortString(); err != nil {
		return m, err
	}
	if m.Exchange, err = r.shortString(); err != nil {
		return m, err
	}
	if m.RoutingKey, err = r.shortString(); err != nil {
		return m, err
	}
	return m, nil
}

type basicDeliver struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
}

func decodeBasicDeliver(args []byte) (basicDeliver, error) {
	r := newReader(args)
	var m basicDeliver
	var err error
	if m.ConsumerTag, err = r.shortString(); err != nil {
		return m, err
	}
	if m.DeliveryTag, err = r.uint64(); err != nil {
		return m, err
	}
	bits, err := r.bits(1)
	if err != nil {
		return m, err
	}
	m.Redelivered = bits[0]
	if m.Exchange, err = r.shortString(); err != nil {
		return m, err
	}
	if m.RoutingKey, err = r.shortString(); err != nil {
		return m, err
	}
	return m, nil
}

type basicGet struct {
	Queue string
	NoAck bool
}

func (m basicGet) encode() []byte {
	w := newWriter()
	w.putUint16(0)
	w.putShortString(m.Queue)
	w.putBits(m.NoAck)
	return w.bytesOut()
}

type basicGetOk struct {
	DeliveryTag  uint64
	Redelivered  bool
	Exchange     string
	RoutingKey   string
	MessageCount uint32
}

func decodeBasicGetOk(args []byte) (basicGetOk, error) {
	r := newReader(args)
	var m basicGetOk
	var err error
	if m.DeliveryTag, err = r.uint64(); err != nil {
		return m, err
	}
	bits, err := r.bits(1)
	if err != nil {
		return m, err
	}
	m.Redelivered = bits[0]
	if m.Exchange, err = r.shortString(); err != nil {
		return m, err
	}
	if m.RoutingKey, err = r.shortString(); err != nil {
		return m, err
	}
	if m.MessageCount, err = r.uint32(); err != nil {
		return m, err
	}
	return m, nil
}

type basicAck struct {
	DeliveryTag uint64
	Multiple    bool
}

func (m basicAck) encode() []byte {
	w := newWriter()
	w.putUint64(m.DeliveryTag)
	w.putBits(m.Multiple)
	return w.bytesOut()
}

func decodeBasicAck(args []byte) (basicAck, error) {
	r := newReader(args)
	var m basicAck
	var err error
	if m.DeliveryTag, err = r.uint64(); err != nil {
		return m, err
	}
	bits, err := r.bits(1)
	if err != nil {
		return m, err
	}
	m.Multiple = bits[0]
	return m, nil
}

type basicReject struct {
	DeliveryTag uint64
	Requeue     bool
}

func (m basicReject) encode() []byte {
	w := newWriter()
	w.putUint64(m.DeliveryTag)
	w.putBits(m.Requeue)
	return w.bytesOut()
}

type basicRecover struct {
	Requeue bool
}

func (m basicRecover) encode() []byte {
	w := newWriter()
	w.putBits(m.Requeue)
	return w.bytesOut()
}

type basicNack struct {
	DeliveryTag uint64
	Multiple    bool
	Requeue     bool
}

func (m basicNack) encode() []byte {
	w := newWriter()
	w.putUint64(m.DeliveryTag)
	w.putBits(m.Multiple, m.Requeue)
	return w.bytesOut()
}

func decodeBasicNack(args []byte) (basicNack, error) {
	r := newReader(args)
	var m basicNack
	var err error
	if m.DeliveryTag, err = r.uint64(); err != nil {
		return m, err
	}
	bits, err := r.bits(2)
	if err != nil {
		return m, err
	}
	m.Multiple, m.Requeue = bits[0], bits[1]
	return m, nil
}

type confirmSelect struct {
	NoWait bool
}

func (m confirmSelect) encode() []byte {
	w := newWriter()
	w.putBits(m.NoWait)
	return w.bytesOut()
}
