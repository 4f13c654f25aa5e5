package wire

// Packet type bitfield flags. Bits are mutually exclusive in well-formed
// packets within their own group.
const (
	TypeRequest      int64 = 0x100
	TypeReply        int64 = 0x200
	TypeNotification int64 = 0x400

	TypeSrcClient int64 = 0x010
	TypeSrcServer int64 = 0x020

	TypeDestClient int64 = 0x001
	TypeDestServer int64 = 0x002
)

// NotificationRequestID is the sentinel request_id carried by every
// notification: a notification has no paired reply.
const NotificationRequestID int64 = -2

// Packet is one decoded wire-packet envelope.
type Packet struct {
	RequestID  int64
	PacketType int64
	Command    Value // string or []byte
	Payload    Value // string, []byte, or []Value
	Timeout    *int64
	Timestamp  *int64
}

// ParseStatus is the outcome of a parse attempt.
type ParseStatus int

const (
	Complete ParseStatus = iota
	Incomplete
	Malformed
)

// ParsePacket attempts to decode one wire packet from the front of buf.
// It returns exactly one of Complete (with a non-nil Packet and
// consumed > 0), Incomplete (consumed == 0, caller should wait for more
// bytes), or Malformed (fatal for the connection).
func ParsePacket(buf []byte) (pkt *Packet, consumed int, status ParseStatus) {
	major, arg, head, err := readHead(buf)
	if err == ErrIncomplete {
		return nil, 0, Incomplete
	}
	if err != nil {
		return nil, 0, Malformed
	}
	if major != majorArray {
		return nil, 0, Malformed
	}
	if arg != 4 && arg != 6 {
		return nil, 0, Malformed
	}

	pos := head
	elems := make([]Value, 0, arg)
	for i := uint64(0); i < arg; i++ {
		v, n, err := DecodeValue(buf[pos:])
		if err == ErrIncomplete {
			return nil, 0, Incomplete
		}
		if err != nil {
			return nil, 0, Malformed
		}
		elems = append(elems, v)
		pos += n
	}

	requestID, ok := elems[0].(int64)
	if !ok {
		return nil, 0, Malformed
	}
	packetType, ok := elems[1].(int64)
	if !ok {
		return nil, 0, Malformed
	}
	if !isStringLike(elems[2]) {
		return nil, 0, Malformed
	}

	p := &Packet{
		RequestID:  requestID,
		PacketType: packetType,
		Command:    elems[2],
		Payload:    elems[3],
	}
	if arg == 6 {
		timeout, ok := elems[4].(int64)
		if !ok {
			return nil, 0, Malformed
		}
		timestamp, ok := elems[5].(int64)
		if !ok {
			return nil, 0, Malformed
		}
		p.Timeout = &timeout
		p.Timestamp = &timestamp
	}
	return p, pos, Complete
}

func isStringLike(v Value) bool {
	switch v.(type) {
	case string, []byte:
		return true
	}
	return false
}

// Encode serialises p back to its wire form, preserving whatever major
// type (bytes vs. text) Command and Payload were decoded with, or that
// the caller chose when building the packet by hand.
func (p *Packet) Encode() []byte {
	elems := []Value{p.RequestID, p.PacketType, p.Command, p.Payload}
	if p.Timeout != nil && p.Timestamp != nil {
		elems = append(elems, *p.Timeout, *p.Timestamp)
	}
	return EncodeArray(elems)
}

// CommandEquals reports whether p's command, as text, equals s. Command
// may have been decoded as major 2 (bytes) or major 3 (text); comparison
// is always byte-for-byte against s.
func (p *Packet) CommandEquals(s string) bool {
	b, ok := AsBytesOrText(p.Command)
	if !ok {
		return false
	}
	return string(b) == s
}

// WithType returns a copy of p whose packet type is newType, used to
// build the reply to a client request (the caller passes the type with
// the REQUEST bit replaced by REPLY).
func (p *Packet) WithType(newType int64) *Packet {
	cp := *p
	cp.PacketType = newType
	return &cp
}

// NotificationPacket builds a 4-element server notification envelope:
// [request_id=-2, NOTIFICATION|SRC_SERVER|DEST_CLIENT, command, payload].
func NotificationPacket(command string, payload Value) *Packet {
	return &Packet{
		RequestID:  NotificationRequestID,
		PacketType: TypeNotification | TypeSrcServer | TypeDestClient,
		Command:    command,
		Payload:    payload,
	}
}
