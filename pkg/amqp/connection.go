package amqp

import "time"

// protocolHeader is the 8-byte AMQP 0-9-1 preamble every connection opens
// with, before any framed traffic.
var protocolHeader = []byte{'A', 'M', 'Q', 'P', 0, 0, 9, 1}

type connState uint8

const (
	connAwaitStart connState = iota
	connAwaitTune
	connAwaitOpenOk
	connOpenState
	connClosing
	connClosed
)

// ConnectionConfig holds everything a Connection needs at construction
// time. The engine takes no files or environment variables; every
// tunable is an explicit field here, matching how the teacher's cmd/*
// binaries centralize flags into named variables rather than scattering
// constants through the code.
type ConnectionConfig struct {
	VirtualHost      string
	Username         string
	Password         string
	Locale           string
	ClientProperties FieldTable

	// ChannelMax, FrameMax, and Heartbeat are this client's proposals,
	// negotiated against the broker's as the smaller non-zero value.
	// A zero ChannelMax means "no preference", so the broker's proposal
	// wins; a zero FrameMax or Heartbeat is replaced by the defaults
	// 131072 and 60 before negotiation, so heartbeats cannot be turned
	// off from this side.
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func (c *ConnectionConfig) setDefaults() {
	if c.VirtualHost == "" {
		c.VirtualHost = "/"
	}
	if c.Locale == "" {
		c.Locale = "en_US"
	}
	if c.FrameMax == 0 {
		c.FrameMax = 131072
	}
	if c.Heartbeat == 0 {
		c.Heartbeat = 60
	}
}

// Connection is the client-side AMQP 0-9-1 protocol engine. It owns no
// transport and starts no goroutines: the embedding application feeds
// it inbound bytes through PushBytes, pulls outbound bytes through
// DrainOutput, and calls HeartbeatTick on its own schedule. Every other
// method assumes it is called from that same, single control flow.
type Connection struct {
	cfg   ConnectionConfig
	state connState

	in  []byte
	out []byte

	channels map[uint16]*Channel

	channelMax uint16
	frameMax   uint32
	heartbeat  uint16

	recvActivity bool
	lastRecvAt   time.Time
	lastSendAt   time.Time

	openDeferred  *Deferred
	closeDeferred *Deferred

	onClose func(error)
}

// NewConnection constructs a Connection and queues the protocol preamble
// for the first DrainOutput call. The handshake then advances entirely
// in response to PushBytes; there is nothing else to call to start it.
func NewConnection(cfg ConnectionConfig) *Connection {
	cfg.setDefaults()
	c := &Connection{
		cfg:          cfg,
		state:        connAwaitStart,
		channels:     make(map[uint16]*Channel),
		openDeferred: newDeferred(),
	}
	c.out = append(c.out, protocolHeader...)
	return c
}

// Connected returns the Deferred that resolves once connection.open-ok
// is received and the connection is ready to open channels on.
func (c *Connection) Connected() *Deferred { return c.openDeferred }

// OnClose registers the sink invoked once the connection reaches its
// terminal closed state, carrying nil for a locally-initiated close that
// completed cleanly and the triggering error otherwise.
func (c *Connection) OnClose(fn func(error)) { c.onClose = fn }

// PushBytes feeds newly-received transport bytes into the engine. It
// decodes and dispatches as many complete frames as are available and
// returns as soon as it needs more bytes than it has, or a protocol
// error is detected. A non-nil error means the connection has
// transitioned to its closed state and every outstanding Deferred on
// every channel has already been failed with it.
func (c *Connection) PushBytes(data []byte) error {
	if len(data) > 0 {
		c.in = append(c.in, data...)
	}
	if c.state == connAwaitStart && len(c.in) >= 4 && string(c.in[:4]) == "AMQP" {
		if len(c.in) < len(protocolHeader) {
			return nil
		}
		err := &ProtocolMismatchError{Received: c.in[:len(protocolHeader)]}
		c.fail(err)
		return err
	}
	for {
		maxSize := c.frameMax
		if maxSize == 0 {
			maxSize = hardFrameSizeCeiling
		}
		f, consumed, err := decodeFrame(c.in, maxSize)
		if err != nil {
			c.fail(err)
			return err
		}
		if consumed == 0 {
			return nil
		}
		c.in = c.in[consumed:]
		c.recvActivity = true
		if err := c.dispatchFrame(*f); err != nil {
			c.fail(err)
			return err
		}
	}
}

// DrainOutput returns and clears whatever bytes the engine has queued to
// send since the last call. The caller is responsible for writing the
// returned bytes to the transport, in order.
func (c *Connection) DrainOutput() []byte {
	out := c.out
	c.out = nil
	return out
}

// HeartbeatTick drives heartbeat accounting. Callers are expected to
// call it on a roughly regular schedule (for example once a second);
// its notion of elapsed time is resolution-limited to the gap between
// calls, which is the best a cooperative, non-blocking engine can do
// without owning its own timer.
func (c *Connection) HeartbeatTick(now time.Time) error {
	if c.heartbeat == 0 || c.state == connClosed {
		return nil
	}
	interval := time.Duration(c.heartbeat) * time.Second
	if c.recvActivity {
		c.lastRecvAt = now
		c.recvActivity = false
	}
	if !c.lastRecvAt.IsZero() && now.Sub(c.lastRecvAt) > 2*interval {
		err := &HeartbeatTimeoutError{IntervalSeconds: c.heartbeat}
		c.fail(err)
		return err
	}
	if len(c.out) > 0 {
		c.lastSendAt = now
		return nil
	}
	if c.lastSendAt.IsZero() || now.Sub(c.lastSendAt) >= interval {
		c.out = encodeHeartbeatFrame(c.out)
		c.lastSendAt = now
	}
	return nil
}

// OpenChannel allocates the next free channel number, sends
// channel.open, and returns the Channel immediately. The Channel's
// state is ChannelWaitingOpenOk until the broker's channel.open-ok
// arrives; poll Channel.State to observe that transition. Channel
// operations issued before then are not queued: they fail
// synchronously, their Deferred with *UnexpectedFrameError, and
// Publish, Ack, Nack and Reject return that error.
func (c *Connection) OpenChannel() *Channel {
	number := c.allocateChannelNumber()
	ch := newChannel(number, c)
	c.channels[number] = ch
	ch.openChannel()
	return ch
}

// allocateChannelNumber returns the smallest channel id in [1, channel-max]
// not currently in c.channels, per spec.md §4.4 and the channel-id-reuse
// testable property in §8: an id only becomes eligible again once its
// Channel has left c.channels (see Connection.release), so scanning from 1
// every time is what makes closed ids reusable immediately rather than
// only once a rolling cursor wraps back around to them.
func (c *Connection) allocateChannelNumber() uint16 {
	max := c.channelMax
	if max == 0 {
		max = 65535
	}
	for n := uint16(1); n <= max; n++ {
		if _, used := c.channels[n]; !used {
			return n
		}
	}
	return 0
}

func (c *Connection) release(number uint16) {
	delete(c.channels, number)
}

// Close asks the broker to close the connection and resolves once
// connection.close-ok arrives.
func (c *Connection) Close(replyCode uint16, replyText string) *Deferred {
	d := newDeferred()
	if c.state == connClosed {
		d.fail(ErrConnectionClosed)
		return d
	}
	c.closeDeferred = d
	c.state = connClosing
	m := connClose{ReplyCode: replyCode, ReplyText: replyText}
	c.out = encodeMethodFrame(c.out, 0, classConnection, methodConnClose, m.encode())
	return d
}

func (c *Connection) sendMethod(channel uint16, classID, methodID uint16, args []byte) {
	c.out = encodeMethodFrame(c.out, channel, classID, methodID, args)
}

// sendContent queues a content header followed by as many BODY frames
// as needed to stay within the negotiated frame-max, mirroring how the
// AMQP clients in the retrieval pack split a publish's body.
func (c *Connection) sendContent(channel uint16, headerPayload []byte, body []byte) {
	c.out = encodeFrame(c.out, Frame{Kind: FrameHeader, Channel: channel, Payload: headerPayload})
	if len(body) == 0 {
		return
	}
	chunk := int(c.frameMax) - frameHeaderSize - 1
	if chunk <= 0 {
		chunk = len(body)
	}
	for offset := 0; offset < len(body); offset += chunk {
		end := offset + chunk
		if end > len(body) {
			end = len(body)
		}
		c.out = encodeFrame(c.out, Frame{Kind: FrameBody, Channel: channel, Payload: body[offset:end]})
	}
}

func (c *Connection) dispatchFrame(f Frame) error {
	if f.Kind == FrameHeartbeat {
		return nil
	}
	if f.Channel == 0 {
		return c.handleConnMethod(f)
	}
	ch, ok := c.channels[f.Channel]
	if !ok {
		return &UnexpectedFrameError{Reason: "frame for unknown channel"}
	}
	return ch.handleFrame(f)
}

func (c *Connection) handleConnMethod(f Frame) error {
	if f.Kind != FrameMethod {
		if c.state == connAwaitStart {
			return &ProtocolMismatchError{Received: f.Payload}
		}
		return &UnexpectedFrameError{Reason: "non-method frame on channel 0"}
	}
	classID, methodID, args, err := parseMethodPayload(f.Payload)
	if err != nil {
		return wrapf(err, "decoding method frame on channel 0")
	}
	if classID != classConnection {
		return &UnexpectedFrameError{Reason: "non-connection class on channel 0"}
	}
	logger.Debug().Uint16("method", methodID).Msg("recv connection method")

	if methodID == methodConnClose {
		m, err := decodeConnClose(args)
		if err != nil {
			return err
		}
		c.out = encodeMethodFrame(c.out, 0, classConnection, methodConnCloseOk, nil)
		var closeErr error
		if (c.state == connAwaitTune || c.state == connAwaitOpenOk) && m.ReplyCode == 403 {
			closeErr = &AuthenticationFailedError{ReplyCode: m.ReplyCode, ReplyText: m.ReplyText}
		} else {
			closeErr = &ConnectionException{ReplyCode: m.ReplyCode, ReplyText: m.ReplyText, ClassID: m.ClassID, MethodID: m.MethodID}
		}
		c.fail(closeErr)
		return nil
	}

	switch c.state {
	case connAwaitStart:
		if methodID != methodConnStart {
			return &ProtocolMismatchError{Received: f.Payload}
		}
		if _, err := decodeConnStart(args); err != nil {
			return err
		}
		response := []byte("\x00" + c.cfg.Username + "\x00" + c.cfg.Password)
		okArgs := connStartOk{
			ClientProperties: c.cfg.ClientProperties,
			Mechanism:        "PLAIN",
			Response:         response,
			Locale:           c.cfg.Locale,
		}.encode()
		c.out = encodeMethodFrame(c.out, 0, classConnection, methodConnStartOk, okArgs)
		c.state = connAwaitTune

	case connAwaitTune:
		if methodID != methodConnTune {
			return &UnexpectedFrameError{Reason: "expected connection.tune"}
		}
		tune, err := decodeConnTune(args)
		if err != nil {
			return err
		}
		c.channelMax = negotiateUint16(c.cfg.ChannelMax, tune.ChannelMax)
		c.frameMax = negotiateUint32(c.cfg.FrameMax, tune.FrameMax)
		c.heartbeat = negotiateUint16(c.cfg.Heartbeat, tune.Heartbeat)
		tuneOk := connTuneOk{ChannelMax: c.channelMax, FrameMax: c.frameMax, Heartbeat: c.heartbeat}.encode()
		c.out = encodeMethodFrame(c.out, 0, classConnection, methodConnTuneOk, tuneOk)
		openArgs := connOpen{VirtualHost: c.cfg.VirtualHost}.encode()
		c.out = encodeMethodFrame(c.out, 0, classConnection, methodConnOpen, openArgs)
		c.state = connAwaitOpenOk

	case connAwaitOpenOk:
		if methodID != methodConnOpenOk {
			return &UnexpectedFrameError{Reason: "expected connection.open-ok"}
		}
		if err := decodeConnOpenOk(args); err != nil {
			return err
		}
		c.state = connOpenState
		c.openDeferred.succeed(nil)

	case connOpenState, connClosing:
		if methodID != methodConnCloseOk {
			return &UnexpectedFrameError{Reason: "unexpected connection method while open"}
		}
		c.state = connClosed
		if c.closeDeferred != nil {
			c.closeDeferred.succeed(nil)
		}
		if c.onClose != nil {
			c.onClose(nil)
		}

	default:
		return &UnexpectedFrameError{Reason: "connection method received after close"}
	}
	return nil
}

// fail tears the connection down: every channel's pending work fails
// with err, the connection moves to its closed state, and OnClose fires
// once. It is idempotent.
func (c *Connection) fail(err error) {
	if c.state == connClosed {
		return
	}
	c.state = connClosed
	for _, ch := range c.channels {
		ch.state = ChannelClosed
		ch.deferreds.failAll(err)
		ch.gets.failAll(err)
	}
	c.openDeferred.fail(err)
	if c.closeDeferred != nil {
		c.closeDeferred.fail(err)
	}
	if c.onClose != nil {
		c.onClose(err)
	}
}

func negotiateUint16(want, proposed uint16) uint16 {
	switch {
	case want == 0:
		return proposed
	case proposed == 0:
		return want
	case want < proposed:
		return want
	default:
		return proposed
	}
}

func negotiateUint32(want, proposed uint32) uint32 {
	switch {
	case want == 0:
		return proposed
	case proposed == 0:
		return want
	case want < proposed:
		return want
	default:
		return proposed
	}
}
