package amqp

// ChannelState describes where a Channel sits in its lifecycle.
type ChannelState uint8

const (
	ChannelWaitingOpenOk ChannelState = iota
	ChannelReady
	ChannelPaused
	ChannelInTransaction
	ChannelClosing
	ChannelClosed
	ChannelError
)

func (s ChannelState) String() string {
	switch s {
	case ChannelWaitingOpenOk:
		return "waiting-open-ok"
	case ChannelReady:
		return "ready"
	case ChannelPaused:
		return "paused"
	case ChannelInTransaction:
		return "in-transaction"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	case ChannelError:
		return "error"
	default:
		return "unknown"
	}
}

type assemblyStage uint8

const (
	assemblyNone assemblyStage = iota
	assemblyAwaitingHeader
	assemblyAwaitingBody
)

type assemblyKind uint8

const (
	assemblyDeliver assemblyKind = iota
	assemblyReturn
	assemblyGetOk
)

// ConsumerFunc receives assembled messages for one basic.consume
// registration.
type ConsumerFunc func(Envelope)

// Channel multiplexes one AMQP channel over its owning Connection. It
// tracks the channel state machine, the message-assembly sub-state for
// inbound deliver/return/get-ok, and the FIFO of Deferreds awaiting a
// reply to a method it sent. Channel is not safe for concurrent use,
// matching the engine's single-threaded, cooperative design: all of its
// methods are meant to be driven from the same goroutine that pumps
// bytes through the owning Connection.
type Channel struct {
	number uint16
	conn   *Connection
	state  ChannelState

	deferreds deferredQueue
	gets      deferredQueue

	consumers map[string]ConsumerFunc

	confirming       bool
	nextPublishSeqNo uint64

	stage             assemblyStage
	kind              assemblyKind
	pendingDeliver    basicDeliver
	pendingReturn     basicReturn
	pendingGetOk      basicGetOk
	pendingHeader     contentHeader
	pendingBody       []byte
	pendingRemaining  uint64

	onReturn  func(Envelope)
	onConfirm func(ack bool, deliveryTag uint64, multiple bool)
	onCancel  func(consumerTag string)
	onClose   func(error)
	onFlow    func(active bool)
}

func newChannel(number uint16, conn *Connection) *Channel {
	return &Channel{
		number:    number,
		conn:      conn,
		state:     ChannelWaitingOpenOk,
		consumers: make(map[string]ConsumerFunc),
	}
}

// Number returns the AMQP channel number this Channel was opened on.
func (c *Channel) Number() uint16 { return c.number }

// State returns the channel's current state.
func (c *Channel) State() ChannelState { return c.state }

// Connected reports whether the channel has completed channel.open and is
// usable for the request-family operations below, mirroring the boolean
// connected() accessor AMQP-CPP's Channel exposes alongside its own state
// machine. It is true for ChannelReady, ChannelPaused, and
// ChannelInTransaction, the same set Channel.ready treats as usable.
func (c *Channel) Connected() bool {
	switch c.state {
	case ChannelReady, ChannelPaused, ChannelInTransaction:
		return true
	default:
		return false
	}
}

// OnReturn registers the sink for basic.return notifications, delivered
// when a published message could not be routed and mandatory/immediate
// asked the broker to tell us so instead of dropping it silently.
func (c *Channel) OnReturn(fn func(Envelope)) { c.onReturn = fn }

// OnConfirm registers the sink for publisher confirms received while the
// channel is in confirm mode (see Confirm).
func (c *Channel) OnConfirm(fn func(ack bool, deliveryTag uint64, multiple bool)) {
	c.onConfirm = fn
}

// OnCancel registers the sink for broker-initiated consumer cancellation
// notifications.
func (c *Channel) OnCancel(fn func(consumerTag string)) { c.onCancel = fn }

// OnClose registers the sink invoked once when the channel transitions
// to ChannelClosed: with nil after a close requested through Close, with
// the *ChannelException if the broker closed it, and with the
// *UnexpectedFrameError if the channel was closed after a protocol
// violation. It is not invoked when the channel closes because its
// connection failed.
func (c *Channel) OnClose(fn func(error)) { c.onClose = fn }

// OnFlow registers the sink invoked whenever the broker's requested flow
// state changes. Per the AMQP 0-9-1 semantics channel.flow only ever
// asks the client to pause or resume publishing; it does not gate
// delivery of messages the broker has already queued for us, so this
// engine keeps dispatching inbound deliveries to consumers regardless of
// the flow state and leaves the decision of whether to honor a pause on
// outbound Publish calls entirely to the caller of OnFlow.
func (c *Channel) OnFlow(fn func(active bool)) { c.onFlow = fn }

func (c *Channel) ready() error {
	switch c.state {
	case ChannelReady, ChannelPaused, ChannelInTransaction:
		return nil
	case ChannelClosed, ChannelClosing:
		return ErrChannelClosed
	case ChannelError:
		return ErrChannelClosed
	default:
		return &UnexpectedFrameError{Reason: "channel is not open yet"}
	}
}

func (c *Channel) sendMethod(classID, methodID uint16, args []byte) error {
	if err := c.ready(); err != nil {
		return err
	}
	c.conn.sendMethod(c.number, classID, methodID, args)
	return nil
}

// send transmits a method and resolves d against the reply: pushed onto
// the deferred queue if expectReply, resolved immediately otherwise.
// Callers must attach OnSuccess/OnError/OnFinalize to d before calling
// send, since an immediate resolution happens synchronously inside it.
func (c *Channel) send(classID, methodID uint16, args []byte, expectReply bool, d *Deferred) {
	if err := c.sendMethod(classID, methodID, args); err != nil {
		d.fail(err)
		return
	}
	if expectReply {
		c.deferreds.push(d)
	} else {
		d.succeed(nil)
	}
}

// openChannel sends channel.open and pushes the Deferred that resolves
// once channel.open-ok arrives. It is called by Connection.OpenChannel,
// never directly.
func (c *Channel) openChannel() *Deferred {
	d := newDeferred()
	d.OnSuccess(func(interface{}) { c.state = ChannelReady })
	c.conn.sendMethod(c.number, classChannel, methodChannelOpen, encodeChannelOpen())
	c.deferreds.push(d)
	return d
}

// Close asks the broker to close the channel and transitions it to
// ChannelClosed once channel.close-ok arrives or the owning connection
// closes first.
func (c *Channel) Close(replyCode uint16, replyText string) *Deferred {
	d := newDeferred()
	if c.state == ChannelClosed || c.state == ChannelClosing {
		d.fail(ErrChannelClosed)
		return d
	}
	d.OnFinalize(func() {
		c.state = ChannelClosed
		c.deferreds.failAll(ErrChannelClosed)
		c.gets.failAll(ErrChannelClosed)
		c.conn.release(c.number)
		if c.onClose != nil {
			c.onClose(nil)
		}
	})
	m := channelClose{ReplyCode: replyCode, ReplyText: replyText}
	c.send(classChannel, methodChannelClose, m.encode(), true, d)
	if !d.Done() {
		c.state = ChannelClosing
	}
	return d
}

// Flow requests that the broker start or stop delivering messages on
// this channel.
func (c *Channel) Flow(active bool) *Deferred {
	d := newDeferred()
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := channelFlow{Active: active}
	c.send(classChannel, methodChannelFlow, m.encode(), true, d)
	return d
}

// ExchangeDeclare declares an exchange.
func (c *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args FieldTable) *Deferred {
	d := newDeferred()
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := exchangeDeclare{Exchange: name, Type: kind, Durable: durable, AutoDelete: autoDelete, Internal: internal, NoWait: noWait, Arguments: args}
	c.send(classExchange, methodExchangeDeclare, m.encode(), !noWait, d)
	return d
}

// ExchangeDelete deletes an exchange.
func (c *Channel) ExchangeDelete(name string, ifUnused, noWait bool) *Deferred {
	d := newDeferred()
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := exchangeDelete{Exchange: name, IfUnused: ifUnused, NoWait: noWait}
	c.send(classExchange, methodExchangeDelete, m.encode(), !noWait, d)
	return d
}

// ExchangeBind binds one exchange to another.
func (c *Channel) ExchangeBind(destination, routingKey, source string, noWait bool, args FieldTable) *Deferred {
	d := newDeferred()
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := exchangeBind{Destination: destination, Source: source, RoutingKey: routingKey, NoWait: noWait, Arguments: args}
	c.send(classExchange, methodExchangeBind, m.encode(), !noWait, d)
	return d
}

// ExchangeUnbind removes an exchange-to-exchange binding.
func (c *Channel) ExchangeUnbind(destination, routingKey, source string, noWait bool, args FieldTable) *Deferred {
	d := newDeferred()
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := exchangeUnbind{Destination: destination, Source: source, RoutingKey: routingKey, NoWait: noWait, Arguments: args}
	c.send(classExchange, methodExchangeUnbind, m.encode(), !noWait, d)
	return d
}

// QueueDeclare declares a queue. On success the Deferred resolves to a
// queueDeclareOk{Queue, MessageCount, ConsumerCount}.
func (c *Channel) QueueDeclare(name string, passive, durable, exclusive, autoDelete, noWait bool, args FieldTable) *Deferred {
	d := newDeferred()
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := queueDeclare{Queue: name, Passive: passive, Durable: durable, Exclusive: exclusive, AutoDelete: autoDelete, NoWait: noWait, Arguments: args}
	c.send(classQueue, methodQueueDeclare, m.encode(), !noWait, d)
	return d
}

// QueueBind binds a queue to an exchange.
func (c *Channel) QueueBind(queue, routingKey, exchange string, noWait bool, args FieldTable) *Deferred {
	d := newDeferred()
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := queueBind{Queue: queue, Exchange: exchange, RoutingKey: routingKey, NoWait: noWait, Arguments: args}
	c.send(classQueue, methodQueueBind, m.encode(), !noWait, d)
	return d
}

// QueuePurge empties a queue of all ready messages. The Deferred
// resolves to the purged message count as uint32.
func (c *Channel) QueuePurge(name string, noWait bool) *Deferred {
	d := newDeferred()
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := queuePurge{Queue: name, NoWait: noWait}
	c.send(classQueue, methodQueuePurge, m.encode(), !noWait, d)
	return d
}

// QueueUnbind removes a queue-to-exchange binding. queue.unbind has no
// no-wait field in AMQP 0-9-1; it is always synchronous.
func (c *Channel) QueueUnbind(queue, routingKey, exchange string, args FieldTable) *Deferred {
	d := newDeferred()
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := queueUnbind{Queue: queue, Exchange: exchange, RoutingKey: routingKey, Arguments: args}
	c.send(classQueue, methodQueueUnbind, m.encode(), true, d)
	return d
}

// QueueDelete deletes a queue. The Deferred resolves to the deleted
// message count as uint32.
func (c *Channel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) *Deferred {
	d := newDeferred()
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := queueDelete{Queue: name, IfUnused: ifUnused, IfEmpty: ifEmpty, NoWait: noWait}
	c.send(classQueue, methodQueueDelete, m.encode(), !noWait, d)
	return d
}

// Qos sets the prefetch limits used by the broker when delivering
// messages on this channel.
func (c *Channel) Qos(prefetchSize uint32, prefetchCount uint16, global bool) *Deferred {
	d := newDeferred()
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := basicQos{PrefetchSize: prefetchSize, PrefetchCount: prefetchCount, Global: global}
	c.send(classBasic, methodBasicQos, m.encode(), true, d)
	return d
}

// Consume registers sink as the destination for messages delivered under
// consumerTag (or the tag the broker assigns, when consumerTag is
// empty). On success the Deferred resolves to the effective consumer
// tag as a string.
//
// noWait combined with an empty consumerTag is refused unless
// acceptAnonymous is true: with nowait set the broker never replies, so
// the client has no way to learn the tag it silently assigned, leaving no
// key to register sink under. acceptAnonymous is the caller's explicit
// acknowledgement of that tradeoff; the engine itself does not register
// a consumer for this combination, since there is no tag to register it
// under, so deliveries would otherwise vanish silently.
func (c *Channel) Consume(queue, consumerTag string, noLocal, noAck, exclusive, noWait, acceptAnonymous bool, args FieldTable, sink ConsumerFunc) *Deferred {
	d := newDeferred()
	if noWait && consumerTag == "" && !acceptAnonymous {
		d.fail(&UnexpectedFrameError{Reason: "basic.consume with nowait and an empty tag requires acceptAnonymous"})
		return d
	}
	// The consumer is registered on an inner Deferred, so callbacks the
	// caller attaches to d cannot replace the registration.
	reply := newDeferred()
	reply.OnSuccess(func(result interface{}) {
		tag := consumerTag
		if s, ok := result.(string); ok && s != "" {
			tag = s
		}
		if tag != "" {
			c.consumers[tag] = sink
		}
		d.succeed(result)
	})
	reply.OnError(d.fail)
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := basicConsume{Queue: queue, ConsumerTag: consumerTag, NoLocal: noLocal, NoAck: noAck, Exclusive: exclusive, NoWait: noWait, Arguments: args}
	c.send(classBasic, methodBasicConsume, m.encode(), !noWait, reply)
	return d
}

// Cancel stops a consumer. The Deferred resolves to the canceled
// consumer tag.
func (c *Channel) Cancel(consumerTag string, noWait bool) *Deferred {
	d := newDeferred()
	reply := newDeferred()
	reply.OnSuccess(func(result interface{}) {
		delete(c.consumers, consumerTag)
		d.succeed(result)
	})
	reply.OnError(d.fail)
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := basicCancel{ConsumerTag: consumerTag, NoWait: noWait}
	c.send(classBasic, methodBasicCancel, m.encode(), !noWait, reply)
	return d
}

// Publish sends a message. Publish never blocks on channel.flow: per
// AMQP 0-9-1 semantics a broker-requested pause only asks the client to
// slow down, it does not forbid sending, so a Paused channel still
// accepts publishes. If the channel is in confirm mode the per-channel
// publish sequence counter is advanced; match the returned sequence
// number against the delivery-tag of the next basic.ack/basic.nack
// observed through OnConfirm to track which publish it confirms.
func (c *Channel) Publish(exchange, routingKey string, mandatory, immediate bool, props BasicProperties, body []byte) (uint64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	m := basicPublish{Exchange: exchange, RoutingKey: routingKey, Mandatory: mandatory, Immediate: immediate}
	if err := c.sendMethod(classBasic, methodBasicPublish, m.encode()); err != nil {
		return 0, err
	}
	c.conn.sendContent(c.number, encodeContentHeader(uint64(len(body)), props), body)
	if c.confirming {
		c.nextPublishSeqNo++
		return c.nextPublishSeqNo, nil
	}
	return 0, nil
}

// Get fetches at most one message from queue without a consumer. On
// success the Deferred resolves to an Envelope, or to nil if the queue
// was empty (basic.get-empty).
func (c *Channel) Get(queue string, noAck bool) *Deferred {
	d := newDeferred()
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := basicGet{Queue: queue, NoAck: noAck}
	if err := c.sendMethod(classBasic, methodBasicGet, m.encode()); err != nil {
		d.fail(err)
		return d
	}
	c.gets.push(d)
	return d
}

// Ack acknowledges one or more deliveries. It never expects a reply.
func (c *Channel) Ack(deliveryTag uint64, multiple bool) error {
	m := basicAck{DeliveryTag: deliveryTag, Multiple: multiple}
	return c.sendMethod(classBasic, methodBasicAck, m.encode())
}

// Nack negatively acknowledges one or more deliveries, optionally
// requeueing them. It never expects a reply.
func (c *Channel) Nack(deliveryTag uint64, multiple, requeue bool) error {
	m := basicNack{DeliveryTag: deliveryTag, Multiple: multiple, Requeue: requeue}
	return c.sendMethod(classBasic, methodBasicNack, m.encode())
}

// Reject negatively acknowledges a single delivery. It never expects a
// reply.
func (c *Channel) Reject(deliveryTag uint64, requeue bool) error {
	m := basicReject{DeliveryTag: deliveryTag, Requeue: requeue}
	return c.sendMethod(classBasic, methodBasicReject, m.encode())
}

// Recover asks the broker to redeliver all unacknowledged messages on
// this channel, using the modern synchronous basic.recover which the
// broker replies to with basic.recover-ok. Legacy servers that only
// speak basic.recover-async are not addressed by this engine's Public
// API.
func (c *Channel) Recover(requeue bool) *Deferred {
	d := newDeferred()
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := basicRecover{Requeue: requeue}
	c.send(classBasic, methodBasicRecover, m.encode(), true, d)
	return d
}

// Confirm switches the channel into publisher-confirm mode: every
// subsequent Publish is assigned a sequence number, and the broker
// reports outcomes through whatever sink is registered with OnConfirm.
func (c *Channel) Confirm(noWait bool) *Deferred {
	d := newDeferred()
	reply := newDeferred()
	reply.OnSuccess(func(result interface{}) {
		c.confirming = true
		c.nextPublishSeqNo = 0
		d.succeed(result)
	})
	reply.OnError(d.fail)
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	m := confirmSelect{NoWait: noWait}
	c.send(classConfirm, methodConfirmSelect, m.encode(), !noWait, reply)
	return d
}

// TxSelect puts the channel into transactional mode.
func (c *Channel) TxSelect() *Deferred {
	d := newDeferred()
	reply := newDeferred()
	reply.OnSuccess(func(result interface{}) {
		c.state = ChannelInTransaction
		d.succeed(result)
	})
	reply.OnError(d.fail)
	if err := c.ready(); err != nil {
		d.fail(err)
		return d
	}
	c.send(classTx, methodTxSelect, nil, true, reply)
	return d
}

// TxCommit commits the current transaction.
func (c *Channel) TxCommit() *Deferred {
	d := newDeferred()
	if c.state != ChannelInTransaction {
		d.fail(&UnexpectedFrameError{Reason: "tx.commit outside a transaction"})
		return d
	}
	c.send(classTx, methodTxCommit, nil, true, d)
	return d
}

// TxRollback rolls back the current transaction.
func (c *Channel) TxRollback() *Deferred {
	d := newDeferred()
	if c.state != ChannelInTransaction {
		d.fail(&UnexpectedFrameError{Reason: "tx.rollback outside a transaction"})
		return d
	}
	c.send(classTx, methodTxRollback, nil, true, d)
	return d
}

// handleFrame routes one inbound frame addressed to this channel.
func (c *Channel) handleFrame(f Frame) error {
	switch f.Kind {
	case FrameMethod:
		return c.handleMethod(f.Payload)
	case FrameHeader:
		return c.handleHeader(f.Payload)
	case FrameBody:
		return c.handleBody(f.Payload)
	default:
		return c.closeForProtocolViolation(&UnexpectedFrameError{Reason: "unexpected frame kind on channel"})
	}
}

// closeForProtocolViolation locally closes this channel after detecting a
// frame arriving out of the order the protocol allows — a HEADER with no
// preceding deliver/return/get-ok, a BODY exceeding the announced size, or
// a METHOD frame mid-assembly. It emits channel.close with reply-code 505,
// fails every pending deferred/get on this channel with err, and releases
// the channel number, all without touching the connection or any other
// channel: unlike a connection-level error this is confined to the one
// channel that misbehaved.
func (c *Channel) closeForProtocolViolation(err *UnexpectedFrameError) error {
	c.conn.sendMethod(c.number, classChannel, methodChannelClose, channelClose{ReplyCode: 505, ReplyText: err.Reason}.encode())
	c.state = ChannelClosed
	c.deferreds.failAll(err)
	c.gets.failAll(err)
	c.conn.release(c.number)
	if c.onClose != nil {
		c.onClose(err)
	}
	return nil
}

func (c *Channel) handleMethod(payload []byte) error {
	classID, methodID, args, err := parseMethodPayload(payload)
	if err != nil {
		return wrapf(err, "decoding method frame on channel %d", c.number)
	}
	if c.stage != assemblyNone {
		return c.closeForProtocolViolation(&UnexpectedFrameError{Reason: "method frame received mid message-assembly"})
	}

	logger.Debug().Uint16("channel", c.number).Uint16("class", classID).Uint16("method", methodID).Msg("recv method")

	switch {
	case classID == classChannel && methodID == methodChannelOpenOk:
		if err := decodeChannelOpenOk(args); err != nil {
			return err
		}
		if d, ok := c.deferreds.pop(); ok {
			d.succeed(nil)
		}
	case classID == classChannel && methodID == methodChannelFlow:
		m, err := decodeChannelFlow(args)
		if err != nil {
			return err
		}
		if m.Active {
			c.state = ChannelReady
		} else {
			c.state = ChannelPaused
		}
		c.conn.sendMethod(c.number, classChannel, methodChannelFlowOk, channelFlow{Active: m.Active}.encode())
		if c.onFlow != nil {
			c.onFlow(m.Active)
		}
	case classID == classChannel && methodID == methodChannelFlowOk:
		if _, err := decodeChannelFlow(args); err != nil {
			return err
		}
		if d, ok := c.deferreds.pop(); ok {
			d.succeed(nil)
		}
	case classID == classChannel && methodID == methodChannelClose:
		m, err := decodeChannelClose(args)
		if err != nil {
			return err
		}
		exc := &ChannelException{ReplyCode: m.ReplyCode, ReplyText: m.ReplyText, ClassID: m.ClassID, MethodID: m.MethodID}
		c.conn.sendMethod(c.number, classChannel, methodChannelCloseOk, nil)
		c.state = ChannelClosed
		c.deferreds.failAll(exc)
		c.gets.failAll(exc)
		c.conn.release(c.number)
		if c.onClose != nil {
			c.onClose(exc)
		}
	case classID == classChannel && methodID == methodChannelCloseOk:
		if d, ok := c.deferreds.pop(); ok {
			d.succeed(nil)
		}

	case classID == classExchange && methodID == methodExchangeDeclareOk:
		c.resolve(nil)
	case classID == classExchange && methodID == methodExchangeDeleteOk:
		c.resolve(nil)
	case classID == classExchange && methodID == methodExchangeBindOk:
		c.resolve(nil)
	case classID == classExchange && methodID == methodExchangeUnbindOk:
		c.resolve(nil)

	case classID == classQueue && methodID == methodQueueDeclareOk:
		r, err := decodeQueueDeclareOk(args)
		if err != nil {
			return err
		}
		c.resolve(r)
	case classID == classQueue && methodID == methodQueueBindOk:
		c.resolve(nil)
	case classID == classQueue && methodID == methodQueuePurgeOk:
		n, err := decodeQueuePurgeOk(args)
		if err != nil {
			return err
		}
		c.resolve(n)
	case classID == classQueue && methodID == methodQueueUnbindOk:
		c.resolve(nil)
	case classID == classQueue && methodID == methodQueueDeleteOk:
		n, err := decodeQueueDeleteOk(args)
		if err != nil {
			return err
		}
		c.resolve(n)

	case classID == classBasic && methodID == methodBasicQosOk:
		c.resolve(nil)
	case classID == classBasic && methodID == methodBasicConsumeOk:
		tag, err := decodeBasicConsumeOk(args)
		if err != nil {
			return err
		}
		c.resolve(tag)
	case classID == classBasic && methodID == methodBasicCancelOk:
		tag, err := decodeBasicCancelOk(args)
		if err != nil {
			return err
		}
		c.resolve(tag)
	case classID == classBasic && methodID == methodBasicRecoverOk:
		c.resolve(nil)
	case classID == classBasic && methodID == methodBasicGetEmpty:
		if d, ok := c.gets.pop(); ok {
			d.succeed(nil)
		}
	case classID == classBasic && methodID == methodBasicDeliver:
		m, err := decodeBasicDeliver(args)
		if err != nil {
			return err
		}
		c.startAssembly(assemblyDeliver)
		c.pendingDeliver = m
	case classID == classBasic && methodID == methodBasicReturn:
		m, err := decodeBasicReturn(args)
		if err != nil {
			return err
		}
		c.startAssembly(assemblyReturn)
		c.pendingReturn = m
	case classID == classBasic && methodID == methodBasicGetOk:
		m, err := decodeBasicGetOk(args)
		if err != nil {
			return err
		}
		c.startAssembly(assemblyGetOk)
		c.pendingGetOk = m
	case classID == classBasic && methodID == methodBasicAck:
		m, err := decodeBasicAck(args)
		if err != nil {
			return err
		}
		if c.onConfirm != nil {
			c.onConfirm(true, m.DeliveryTag, m.Multiple)
		}
	case classID == classBasic && methodID == methodBasicNack:
		m, err := decodeBasicNack(args)
		if err != nil {
			return err
		}
		if c.onConfirm != nil {
			c.onConfirm(false, m.DeliveryTag, m.Multiple)
		}
	case classID == classBasic && methodID == methodBasicCancel:
		m, err := decodeBasicCancel(args)
		if err != nil {
			return err
		}
		delete(c.consumers, m.ConsumerTag)
		if !m.NoWait {
			c.conn.sendMethod(c.number, classBasic, methodBasicCancelOk, basicCancel{ConsumerTag: m.ConsumerTag}.encode())
		}
		if c.onCancel != nil {
			c.onCancel(m.ConsumerTag)
		}

	case classID == classConfirm && methodID == methodConfirmSelectOk:
		c.resolve(nil)

	case classID == classTx && methodID == methodTxSelectOk:
		c.resolve(nil)
	case classID == classTx && methodID == methodTxCommitOk:
		c.resolve(nil)
	case classID == classTx && methodID == methodTxRollbackOk:
		c.resolve(nil)

	default:
		return &UnexpectedFrameError{Reason: "unhandled method on channel"}
	}
	return nil
}

// resolve pops the oldest pending Deferred and succeeds it with result.
// A reply with nothing pending is silently ignored rather than treated
// as an error: a local Close racing a broker reply to an earlier request
// is a normal, harmless occurrence in this engine.
func (c *Channel) resolve(result interface{}) {
	if d, ok := c.deferreds.pop(); ok {
		d.succeed(result)
	}
}

func (c *Channel) startAssembly(kind assemblyKind) {
	c.kind = kind
	c.stage = assemblyAwaitingHeader
	c.pendingBody = nil
}

func (c *Channel) handleHeader(payload []byte) error {
	if c.stage != assemblyAwaitingHeader {
		return c.closeForProtocolViolation(&UnexpectedFrameError{Reason: "header frame received outside message assembly"})
	}
	h, err := decodeContentHeader(payload)
	if err != nil {
		return err
	}
	c.pendingHeader = h
	c.pendingRemaining = h.BodySize
	if c.pendingRemaining == 0 {
		return c.dispatchAssembly()
	}
	c.stage = assemblyAwaitingBody
	return nil
}

func (c *Channel) handleBody(payload []byte) error {
	if c.stage != assemblyAwaitingBody {
		return c.closeForProtocolViolation(&UnexpectedFrameError{Reason: "body frame received outside message assembly"})
	}
	if uint64(len(payload)) > c.pendingRemaining {
		return c.closeForProtocolViolation(&UnexpectedFrameError{Reason: "body frame exceeds announced content length"})
	}
	c.pendingBody = append(c.pendingBody, payload...)
	c.pendingRemaining -= uint64(len(payload))
	if c.pendingRemaining == 0 {
		return c.dispatchAssembly()
	}
	return nil
}

func (c *Channel) dispatchAssembly() error {
	env := Envelope{Properties: c.pendingHeader.Properties, Body: c.pendingBody}
	switch c.kind {
	case assemblyDeliver:
		env.ConsumerTag = c.pendingDeliver.ConsumerTag
		env.DeliveryTag = c.pendingDeliver.DeliveryTag
		env.Redelivered = c.pendingDeliver.Redelivered
		env.Exchange = c.pendingDeliver.Exchange
		env.RoutingKey = c.pendingDeliver.RoutingKey
		if sink, ok := c.consumers[env.ConsumerTag]; ok {
			sink(env)
		} else {
			logger.Warn().Str("consumer_tag", env.ConsumerTag).Msg("delivery for unknown consumer")
		}
	case assemblyReturn:
		env.ReplyCode = c.pendingReturn.ReplyCode
		env.ReplyText = c.pendingReturn.ReplyText
		env.Exchange = c.pendingReturn.Exchange
		env.RoutingKey = c.pendingReturn.RoutingKey
		if c.onReturn != nil {
			c.onReturn(env)
		}
	case assemblyGetOk:
		env.DeliveryTag = c.pendingGetOk.DeliveryTag
		env.Redelivered = c.pendingGetOk.Redelivered
		env.Exchange = c.pendingGetOk.Exchange
		env.RoutingKey = c.pendingGetOk.RoutingKey
		if d, ok := c.gets.pop(); ok {
			d.succeed(env)
		}
	}
	c.stage = assemblyNone
	c.pendingBody = nil
	return nil
}
