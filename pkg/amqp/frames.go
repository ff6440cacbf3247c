package amqp

import (
	"encoding/binary"

	"github.com/rs/zerolog"
)

// Frame kinds, per AMQP 0-9-1 section 2.3.5.
const (
	FrameMethod    uint8 = 1
	FrameHeader    uint8 = 2
	FrameBody      uint8 = 3
	FrameHeartbeat uint8 = 8

	frameHeaderSize = 7
	frameEnd        = 0xCE
)

// hardFrameSizeCeiling bounds frame sizes before a frame-max has been
// negotiated during the handshake. Once connected, the engine enforces
// the negotiated frame-max instead.
const hardFrameSizeCeiling = 1 << 20

// package logger used for engine logs. Libraries default to a no-op
// logger and let the embedding application configure logging. Use
// SetLogger to provide an application logger.
var logger zerolog.Logger = zerolog.Nop()

// SetLogger sets the package logger used by the AMQP engine. Callers
// should pass a configured zerolog.Logger, for example one created with
// zerolog.New(os.Stderr).With().Timestamp().Logger().
func SetLogger(l zerolog.Logger) { logger = l }

// well-known classes and methods. Not every value here is a reply or
// request the engine sends itself; some exist only so the decoder can
// recognize and route frames the broker sends unsolicited.
const (
	classConnection = 10
	classChannel    = 20
	classExchange   = 40
	classQueue      = 50
	classBasic      = 60
	classTx         = 90
	classConfirm    = 85

	methodConnStart   = 10
	methodConnStartOk = 11
	methodConnSecure  = 20
	methodConnSecureOk = 21
	methodConnTune     = 30
	methodConnTuneOk   = 31
	methodConnOpen     = 40
	methodConnOpenOk   = 41
	methodConnClose    = 50
	methodConnCloseOk  = 51

	methodChannelOpen    = 10
	methodChannelOpenOk  = 11
	methodChannelFlow    = 20
	methodChannelFlowOk  = 21
	methodChannelClose   = 40
	methodChannelCloseOk = 41

	methodExchangeDeclare   = 10
	methodExchangeDeclareOk = 11
	methodExchangeDelete    = 20
	methodExchangeDeleteOk  = 21
	methodExchangeBind      = 30
	methodExchangeBindOk    = 31
	methodExchangeUnbind    = 40
	methodExchangeUnbindOk  = 51

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

	methodBasicQos          = 10
	methodBasicQosOk        = 11
	methodBasicConsume      = 20
	methodBasicConsumeOk    = 21
	methodBasicCancel       = 30
	methodBasicCancelOk     = 31
	methodBasicPublish      = 40
	methodBasicReturn       = 50
	methodBasicDeliver      = 60
	methodBasicGet          = 70
	methodBasicGetOk        = 71
	methodBasicGetEmpty     = 72
	methodBasicAck          = 80
	methodBasicReject       = 90
	methodBasicRecoverAsync = 100
	methodBasicRecover      = 110
	methodBasicRecoverOk    = 111
	methodBasicNack         = 120

	methodTxSelect      = 10
	methodTxSelectOk    = 11
	methodTxCommit      = 20
	methodTxCommitOk    = 21
	methodTxRollback    = 30
	methodTxRollbackOk  = 31

	methodConfirmSelect   = 10
	methodConfirmSelectOk = 11
)

// Frame is a single decoded AMQP frame: {kind, channel, payload}. The
// frame-end sentinel is not represented in Payload.
type Frame struct {
	Kind    uint8
	Channel uint16
	Payload []byte
}

// decodeFrame attempts to decode one frame from the head of buf, bounding
// its payload size by maxFrameSize. It returns (nil, 0, nil) when buf does
// not yet hold a complete frame, the caller's signal to wait for more
// bytes, and a *FramingError when the bytes present are structurally
// invalid.
func decodeFrame(buf []byte, maxFrameSize uint32) (*Frame, int, error) {
	if len(buf) < frameHeaderSize {
		return nil, 0, nil
	}
	kind := buf[0]
	channel := binary.BigEndian.Uint16(buf[1:3])
	size := binary.BigEndian.Uint32(buf[3:7])
	if size > maxFrameSize {
		return nil, 0, &FramingError{Reason: "frame size exceeds negotiated frame-max"}
	}
	total := frameHeaderSize + int(size) + 1
	if len(buf) < total {
		return nil, 0, nil
	}
	if buf[total-1] != frameEnd {
		return nil, 0, &FramingError{Reason: "missing frame-end sentinel"}
	}
	payload := make([]byte, size)
	copy(payload, buf[frameHeaderSize:frameHeaderSize+int(size)])
	return &Frame{Kind: kind, Channel: channel, Payload: payload}, total, nil
}

// encodeFrame appends the wire representation of f to out and returns the
// extended slice.
func encodeFrame(out []byte, f Frame) []byte {
	var hdr [frameHeaderSize]byte
	hdr[0] = f.Kind
	binary.BigEndian.PutUint16(hdr[1:3], f.Channel)
	binary.BigEndian.PutUint32(hdr[3:7], uint32(len(f.Payload)))
	out = append(out, hdr[:]...)
	out = append(out, f.Payload...)
	out = append(out, frameEnd)
	return out
}

// encodeMethodFrame builds a METHOD frame payload (class-id, method-id,
// args) and appends its wire representation to out.
func encodeMethodFrame(out []byte, channel uint16, classID, methodID uint16, args []byte) []byte {
	payload := make([]byte, 4+len(args))
	binary.BigEndian.PutUint16(payload[0:2], classID)
	binary.BigEndian.PutUint16(payload[2:4], methodID)
	copy(payload[4:], args)
	return encodeFrame(out, Frame{Kind: FrameMethod, Channel: channel, Payload: payload})
}

// encodeHeartbeatFrame appends a zero-payload heartbeat frame on channel 0.
func encodeHeartbeatFrame(out []byte) []byte {
	return encodeFrame(out, Frame{Kind: FrameHeartbeat, Channel: 0})
}

// parseMethodPayload splits a METHOD frame's payload into its class id,
// method id, and remaining argument bytes.
func parseMethodPayload(payload []byte) (classID, methodID uint16, args []byte, err error) {
	if len(payload) < 4 {
		return 0, 0, nil, &FramingError{Reason: "method payload too short"}
	}
	classID = binary.BigEndian.Uint16(payload[0:2])
	methodID = binary.BigEndian.Uint16(payload[2:4])
	return classID, methodID, payload[4:], nil
}
