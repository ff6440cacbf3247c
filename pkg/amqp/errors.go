package amqp

import (
	"fmt"

	"github.com/pkg/errors"
)

// ProtocolMismatchError is reported when the broker rejects the protocol
// header we sent during the handshake.
type ProtocolMismatchError struct {
	Received []byte
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("amqp: protocol mismatch, broker replied %x", e.Received)
}

// WireTruncatedError is reported by the wire primitives when a read would
// run past the end of the available bytes.
type WireTruncatedError struct {
	Want int
	Have int
}

func (e *WireTruncatedError) Error() string {
	return fmt.Sprintf("amqp: wire read truncated, want %d bytes, have %d", e.Want, e.Have)
}

// FramingError is reported by the frame codec when a frame's structure is
// invalid: an oversized payload or a missing/garbled frame-end octet.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("amqp: framing error: %s", e.Reason)
}

// UnexpectedFrameError is reported by the channel state machine when a
// frame arrives out of the order the protocol allows (a HEADER frame with
// no preceding deliver/return/get-ok, a BODY frame exceeding the
// announced size, a METHOD frame mid-assembly).
type UnexpectedFrameError struct {
	Reason string
}

func (e *UnexpectedFrameError) Error() string {
	return fmt.Sprintf("amqp: unexpected frame: %s", e.Reason)
}

// AuthenticationFailedError wraps the connection.close the broker sends
// when the handshake's Start-Ok credentials are rejected.
type AuthenticationFailedError struct {
	ReplyCode uint16
	ReplyText string
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("amqp: authentication failed: %d %s", e.ReplyCode, e.ReplyText)
}

// ChannelException carries a broker-initiated channel.close.
type ChannelException struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

func (e *ChannelException) Error() string {
	return fmt.Sprintf("amqp: channel closed by broker: %d %s (class %d method %d)", e.ReplyCode, e.ReplyText, e.ClassID, e.MethodID)
}

// ConnectionException carries a broker-initiated connection.close.
type ConnectionException struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

func (e *ConnectionException) Error() string {
	return fmt.Sprintf("amqp: connection closed by broker: %d %s (class %d method %d)", e.ReplyCode, e.ReplyText, e.ClassID, e.MethodID)
}

// HeartbeatTimeoutError is reported when no frame has been received within
// twice the negotiated heartbeat interval.
type HeartbeatTimeoutError struct {
	IntervalSeconds uint16
}

func (e *HeartbeatTimeoutError) Error() string {
	return fmt.Sprintf("amqp: heartbeat timeout after %ds", 2*e.IntervalSeconds)
}

// ErrChannelClosed is the cancellation-like error carried by deferreds
// still pending when their owning channel closes locally, and returned
// by channel operations issued on a closed or closing channel.
var ErrChannelClosed = errors.New("amqp: channel closed")

// ErrConnectionClosed is the cancellation-like error carried by deferreds
// and channels when their owning connection has closed.
var ErrConnectionClosed = errors.New("amqp: connection closed")

// wrapf wraps err with additional context, matching the error-wrapping
// style used throughout the AMQP clients in the retrieval pack rather
// than bare fmt.Errorf.
func wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
