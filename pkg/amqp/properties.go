package amqp

import "time"

// property-flags bits for the basic class content header, numbered from
// the most significant bit of the 16-bit flags word down, matching the
// order the properties are declared in AMQP 0-9-1. Bit 0 is reserved as
// the continuation flag for classes with more than 15 properties; basic
// has 14, so it is never set here.
const (
	flagContentType     = 1 << 15
	flagContentEncoding = 1 << 14
	flagHeaders         = 1 << 13
	flagDeliveryMode    = 1 << 12
	flagPriority        = 1 << 11
	flagCorrelationID   = 1 << 10
	flagReplyTo         = 1 << 9
	flagExpiration      = 1 << 8
	flagMessageID       = 1 << 7
	flagTimestamp       = 1 << 6
	flagType            = 1 << 5
	flagUserID          = 1 << 4
	flagAppID           = 1 << 3
	flagClusterID       = 1 << 2
)

// BasicProperties carries the basic class's content header properties.
// Zero values (empty string, zero time, zero byte) mean the property is
// absent on the wire rather than explicitly zero, mirroring how the
// AMQP clients in the retrieval pack round-trip these fields.
type BasicProperties struct {
	ContentType     string
	ContentEncoding string
	Headers         FieldTable
	DeliveryMode    uint8
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string
	ClusterID       string
}

// Persistent and Transient are the two defined basic.delivery-mode
// values; anything else is broker-specific and left to the caller.
const (
	Transient  uint8 = 1
	Persistent uint8 = 2
)

func (p BasicProperties) flags() uint16 {
	var f uint16
	if p.ContentType != "" {
		f |= flagContentType
	}
	if p.ContentEncoding != "" {
		f |= flagContentEncoding
	}
	if p.Headers != nil {
		f |= flagHeaders
	}
	if p.DeliveryMode != 0 {
		f |= flagDeliveryMode
	}
	if p.Priority != 0 {
		f |= flagPriority
	}
	if p.CorrelationID != "" {
		f |= flagCorrelationID
	}
	if p.ReplyTo != "" {
		f |= flagReplyTo
	}
	if p.Expiration != "" {
		f |= flagExpiration
	}
	if p.MessageID != "" {
		f |= flagMessageID
	}
	if !p.Timestamp.IsZero() {
		f |= flagTimestamp
	}
	if p.Type != "" {
		f |= flagType
	}
	if p.UserID != "" {
		f |= flagUserID
	}
	if p.AppID != "" {
		f |= flagAppID
	}
	if p.ClusterID != "" {
		f |= flagClusterID
	}
	return f
}

// encodeContentHeader builds a HEADER frame payload for the basic class:
// class-id, weight (always 0), body-size, property-flags, and the
// property list for whichever flags are set.
func encodeContentHeader(bodySize uint64, p BasicProperties) []byte {
	w := newWriter()
	w.putUint16(classBasic)
	w.putUint16(0) // weight
	w.putUint64(bodySize)
	flags := p.flags()
	w.putUint16(flags)
	if flags&flagContentType != 0 {
		w.putShortString(p.ContentType)
	}
	if flags&flagContentEncoding != 0 {
		w.putShortString(p.ContentEncoding)
	}
	if flags&flagHeaders != 0 {
		w.putFieldTable(p.Headers)
	}
	if flags&flagDeliveryMode != 0 {
		w.putUint8(p.DeliveryMode)
	}
	if flags&flagPriority != 0 {
		w.putUint8(p.Priority)
	}
	if flags&flagCorrelationID != 0 {
		w.putShortString(p.CorrelationID)
	}
	if flags&flagReplyTo != 0 {
		w.putShortString(p.ReplyTo)
	}
	if flags&flagExpiration != 0 {
		w.putShortString(p.Expiration)
	}
	if flags&flagMessageID != 0 {
		w.putShortString(p.MessageID)
	}
	if flags&flagTimestamp != 0 {
		w.putTimestamp(p.Timestamp)
	}
	if flags&flagType != 0 {
		w.putShortString(p.Type)
	}
	if flags&flagUserID != 0 {
		w.putShortString(p.UserID)
	}
	if flags&flagAppID != 0 {
		w.putShortString(p.AppID)
	}
	if flags&flagClusterID != 0 {
		w.putShortString(p.ClusterID)
	}
	return w.bytesOut()
}

// contentHeader is the decoded form of a HEADER frame payload.
type contentHeader struct {
	ClassID    uint16
	BodySize   uint64
	Properties BasicProperties
}

func decodeContentHeader(payload []byte) (contentHeader, error) {
	r := newReader(payload)
	var h contentHeader
	var err error
	if h.ClassID, err = r.uint16(); err != nil {
		return h, err
	}
	if _, err = r.uint16(); err != nil { // weight
		return h, err
	}
	if h.BodySize, err = r.uint64(); err != nil {
		return h, err
	}
	flags, err := r.uint16()
	if err != nil {
		return h, err
	}
	p := &h.Properties
	if flags&flagContentType != 0 {
		if p.ContentType, err = r.shortString(); err != nil {
			return h, err
		}
	}
	if flags&flagContentEncoding != 0 {
		if p.ContentEncoding, err = r.shortString(); err != nil {
			return h, err
		}
	}
	if flags&flagHeaders != 0 {
		if p.Headers, err = r.fieldTable(); err != nil {
			return h, err
		}
	}
	if flags&flagDeliveryMode != 0 {
		if p.DeliveryMode, err = r.uint8(); err != nil {
			return h, err
		}
	}
	if flags&flagPriority != 0 {
		if p.Priority, err = r.uint8(); err != nil {
			return h, err
		}
	}
	if flags&flagCorrelationID != 0 {
		if p.CorrelationID, err = r.shortString(); err != nil {
			return h, err
		}
	}
	if flags&flagReplyTo != 0 {
		if p.ReplyTo, err = r.shortString(); err != nil {
			return h, err
		}
	}
	if flags&flagExpiration != 0 {
		if p.Expiration, err = r.shortString(); err != nil {
			return h, err
		}
	}
	if flags&flagMessageID != 0 {
		if p.MessageID, err = r.shortString(); err != nil {
			return h, err
		}
	}
	if flags&flagTimestamp != 0 {
		if p.Timestamp, err = r.timestamp(); err != nil {
			return h, err
		}
	}
	if flags&flagType != 0 {
		if p.Type, err = r.shortString(); err != nil {
			return h, err
		}
	}
	if flags&flagUserID != 0 {
		if p.UserID, err = r.shortString(); err != nil {
			return h, err
		}
	}
	if flags&flagAppID != 0 {
		if p.AppID, err = r.shortString(); err != nil {
			return h, err
		}
	}
	if flags&flagClusterID != 0 {
		if p.ClusterID, err = r.shortString(); err != nil {
			return h, err
		}
	}
	return h, nil
}

// Envelope is a fully assembled inbound message: the method that
// introduced it (basic.deliver, basic.get-ok, or basic.return), its
// content header properties, and its reassembled body.
type Envelope struct {
	ConsumerTag string // set for basic.deliver
	DeliveryTag uint64 // set for basic.deliver and basic.get-ok
	Redelivered bool
	Exchange    string
	RoutingKey  string

	// ReplyCode/ReplyText are set only for basic.return.
	ReplyCode uint16
	ReplyText string

	Properties BasicProperties
	Body       []byte
}
