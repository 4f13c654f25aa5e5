// Package wire implements the CBOR envelope codec used on the TCP
// connection: a minimal encoder/decoder covering the handful of major
// types the protocol actually uses (unsigned/negative integers, byte and
// text strings, arrays, and maps), plus the fixed wire-packet envelope
// built on top of them.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Major CBOR types used on the wire.
const (
	majorUint  = 0
	majorNeg   = 1
	majorBytes = 2
	majorText  = 3
	majorArray = 4
	majorMap   = 5
)

// ErrIncomplete is returned by decode functions when the buffer does not
// yet hold a full value. Callers MUST NOT treat this as fatal.
var ErrIncomplete = errors.New("wire: incomplete cbor value")

// ErrMalformed is returned when the buffer contains bytes that can never
// form a valid value of the expected shape. Fatal for the connection.
var ErrMalformed = errors.New("wire: malformed cbor value")

// Value is a decoded CBOR value. Concrete dynamic types:
//   int64       — major 0 (unsigned) or 1 (negative)
//   []byte      — major 2
//   string      — major 3
//   []Value     — major 4
//   map[string]Value — major 5, text- or byte-string keys (stored as string)
type Value any

// readHead decodes a major type + argument (length/value) from buf.
// Returns the major type, the argument, and the number of bytes consumed,
// or ErrIncomplete/ErrMalformed.
func readHead(buf []byte) (major byte, arg uint64, n int, err error) {
	if len(buf) < 1 {
		return 0, 0, 0, ErrIncomplete
	}
	b := buf[0]
	major = b >> 5
	ai := b & 0x1f
	switch {
	case ai < 24:
		return major, uint64(ai), 1, nil
	case ai == 24:
		if len(buf) < 2 {
			return 0, 0, 0, ErrIncomplete
		}
		return major, uint64(buf[1]), 2, nil
	case ai == 25:
		if len(buf) < 3 {
			return 0, 0, 0, ErrIncomplete
		}
		return major, uint64(binary.BigEndian.Uint16(buf[1:3])), 3, nil
	case ai == 26:
		if len(buf) < 5 {
			return 0, 0, 0, ErrIncomplete
		}
		return major, uint64(binary.BigEndian.Uint32(buf[1:5])), 5, nil
	case ai == 27:
		if len(buf) < 9 {
			return 0, 0, 0, ErrIncomplete
		}
		return major, binary.BigEndian.Uint64(buf[1:9]), 9, nil
	default:
		return 0, 0, 0, ErrMalformed
	}
}

// DecodeValue decodes one CBOR value from the front of buf, returning the
// value and the number of bytes consumed.
func DecodeValue(buf []byte) (Value, int, error) {
	major, arg, head, err := readHead(buf)
	if err != nil {
		return nil, 0, err
	}
	switch major {
	case majorUint:
		return int64(arg), head, nil
	case majorNeg:
		if arg > 1<<63-1 {
			return nil, 0, ErrMalformed
		}
		return -1 - int64(arg), head, nil
	case majorBytes:
		end := head + int(arg)
		if end < head {
			return nil, 0, ErrMalformed
		}
		if len(buf) < end {
			return nil, 0, ErrIncomplete
		}
		out := make([]byte, arg)
		copy(out, buf[head:end])
		return out, end, nil
	case majorText:
		end := head + int(arg)
		if end < head {
			return nil, 0, ErrMalformed
		}
		if len(buf) < end {
			return nil, 0, ErrIncomplete
		}
		return string(buf[head:end]), end, nil
	case majorArray:
		vals := make([]Value, 0, arg)
		pos := head
		for i := uint64(0); i < arg; i++ {
			v, n, err := DecodeValue(buf[pos:])
			if err != nil {
				return nil, 0, err
			}
			vals = append(vals, v)
			pos += n
		}
		return vals, pos, nil
	case majorMap:
		m := make(map[string]Value, arg)
		pos := head
		for i := uint64(0); i < arg; i++ {
			k, n, err := DecodeValue(buf[pos:])
			if err != nil {
				return nil, 0, err
			}
			pos += n
			ks, ok := k.(string)
			if !ok {
				bs, ok2 := k.([]byte)
				if !ok2 {
					return nil, 0, ErrMalformed
				}
				ks = string(bs)
			}
			v, n2, err := DecodeValue(buf[pos:])
			if err != nil {
				return nil, 0, err
			}
			pos += n2
			m[ks] = v
		}
		return m, pos, nil
	default:
		return nil, 0, ErrMalformed
	}
}

// writeHead writes a major/argument pair using the minimum-length
// encoding (ai<24 inline, else the smallest of the 1/2/4/8-byte
// extensions that fits).
func writeHead(major byte, arg uint64) []byte {
	switch {
	case arg < 24:
		return []byte{major<<5 | byte(arg)}
	case arg <= 0xff:
		return []byte{major<<5 | 24, byte(arg)}
	case arg <= 0xffff:
		b := make([]byte, 3)
		b[0] = major<<5 | 25
		binary.BigEndian.PutUint16(b[1:], uint16(arg))
		return b
	case arg <= 0xffffffff:
		b := make([]byte, 5)
		b[0] = major<<5 | 26
		binary.BigEndian.PutUint32(b[1:], uint32(arg))
		return b
	default:
		b := make([]byte, 9)
		b[0] = major<<5 | 27
		binary.BigEndian.PutUint64(b[1:], arg)
		return b
	}
}

// EncodeInt encodes a signed integer as CBOR major 0 or 1.
func EncodeInt(n int64) []byte {
	if n >= 0 {
		return writeHead(majorUint, uint64(n))
	}
	return writeHead(majorNeg, uint64(-1-n))
}

// EncodeBytes encodes a byte string as CBOR major 2.
func EncodeBytes(b []byte) []byte {
	out := writeHead(majorBytes, uint64(len(b)))
	return append(out, b...)
}

// EncodeText encodes a text string as CBOR major 3.
func EncodeText(s string) []byte {
	out := writeHead(majorText, uint64(len(s)))
	return append(out, s...)
}

// EncodeArray encodes vals as a CBOR major 4 array.
func EncodeArray(vals []Value) []byte {
	out := writeHead(majorArray, uint64(len(vals)))
	for _, v := range vals {
		out = append(out, EncodeValue(v)...)
	}
	return out
}

// EncodeMap encodes m as a CBOR major 5 map with text-string keys, in Go
// map iteration order (which is not stable, so callers that need
// deterministic output should use EncodeOrderedMap).
func EncodeMap(m map[string]Value) []byte {
	out := writeHead(majorMap, uint64(len(m)))
	for k, v := range m {
		out = append(out, EncodeText(k)...)
		out = append(out, EncodeValue(v)...)
	}
	return out
}

// KV is one key/value pair for EncodeOrderedMap.
type KV struct {
	Key string
	Val Value
}

// EncodeOrderedMap encodes kvs as a CBOR major 5 map, preserving order.
func EncodeOrderedMap(kvs []KV) []byte {
	out := writeHead(majorMap, uint64(len(kvs)))
	for _, kv := range kvs {
		out = append(out, EncodeText(kv.Key)...)
		out = append(out, EncodeValue(kv.Val)...)
	}
	return out
}

// EncodeValue encodes v, dispatching on its dynamic type.
func EncodeValue(v Value) []byte {
	switch t := v.(type) {
	case int64:
		return EncodeInt(t)
	case int:
		return EncodeInt(int64(t))
	case []byte:
		return EncodeBytes(t)
	case string:
		return EncodeText(t)
	case []Value:
		return EncodeArray(t)
	case map[string]Value:
		return EncodeMap(t)
	case []KV:
		return EncodeOrderedMap(t)
	default:
		panic(fmt.Sprintf("wire: EncodeValue: unsupported type %T", v))
	}
}

// AsBytesOrText returns the raw bytes backing a byte- or text-string
// Value, and ok=false if v is neither.
func AsBytesOrText(v Value) ([]byte, bool) {
	switch t := v.(type) {
	case []byte:
		return t, true
	case string:
		return []byte(t), true
	}
	return nil, false
}

// AsText returns v as a string, converting a byte string if necessary.
func AsText(v Value) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	}
	return "", false
}
