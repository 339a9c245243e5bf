// Package tlv implements the OMA LWM2M TLV binary grammar: a 1-byte type
// header {kind:2, id-length:1, length-mode:2} followed by the resource
// id, an optional explicit length, and the value bytes.
//
// Grounded on original_source/lib/lwm2m/src/lwm2m_tlv.c
// (lwm2m_tlv_decode / lwm2m_tlv_header_encode / lwm2m_tlv_integer_length).
package tlv

import (
	"encoding/binary"

	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
)

// Kind is the 2-bit element type carried in the header's top bits.
type Kind uint8

const (
	KindObjectInstance    Kind = 0 // 00
	KindResourceInstance  Kind = 1 // 01
	KindMultiResource     Kind = 2 // 10
	KindResourceValue     Kind = 3 // 11
)

const (
	typeBitPos   = 6
	idLenBitPos  = 5
	lenTypeBitPos = 3

	typeMask    = 0x3 << typeBitPos
	idLenMask   = 0x1 << idLenBitPos
	lenTypeMask = 0x3 << lenTypeBitPos
	lenValMask  = 0x7 // inline 3-bit length
)

// Element is one decoded TLV node: an id, its kind, and its raw value
// bytes (for KindMultiResource, Value holds the concatenated encoding of
// its child resource-instance elements, decodable again via DecodeAll).
type Element struct {
	Kind  Kind
	ID    uint16
	Value []byte
}

// headerSize predicts the header length (type byte + id bytes + explicit
// length bytes, if any) given the id and payload length, without writing
// anything — used both by Encode's size prediction and EncodeInto.
func headerSize(id uint16, valueLen int) int {
	size := 1
	if id > 0xff {
		size++
	}
	size++ // at least the single id byte
	if valueLen > 7 {
		size += explicitLenWidth(valueLen)
	}
	return size
}

func explicitLenWidth(n int) int {
	switch {
	case n <= 0xff:
		return 1
	case n <= 0xffff:
		return 2
	default:
		return 3
	}
}

// IntegerLength returns the minimum width in {1,2,4} bytes that preserves
// the signedness of v, mirroring lwm2m_tlv_integer_length.
func IntegerLength(v int64) int {
	switch {
	case v >= -128 && v <= 127:
		return 1
	case v >= -32768 && v <= 32767:
		return 2
	default:
		return 4
	}
}

// EncodeInto writes element (kind, id, value) into dst and returns the
// number of bytes written. If dst is nil, it only computes the required
// size (dry-run per spec's testable property 1) and returns it with a nil
// error, writing nothing.
func EncodeInto(dst []byte, kind Kind, id uint16, value []byte) (int, error) {
	need := headerSize(id, len(value)) + len(value)
	if dst == nil {
		return need, nil
	}
	if len(dst) < need {
		return 0, lwm2merr.ErrBufferTooSmall
	}

	lenWidth := 0
	inlineLen := -1
	if len(value) <= 7 {
		inlineLen = len(value)
	} else {
		lenWidth = explicitLenWidth(len(value))
		if lenWidth > 3 {
			return 0, lwm2merr.ErrInvalidArgument
		}
	}

	header := byte(kind) << typeBitPos
	idWidth := 1
	if id > 0xff {
		header |= 1 << idLenBitPos
		idWidth = 2
	}
	if inlineLen >= 0 {
		header |= byte(inlineLen) & lenValMask
	} else {
		header |= byte(lenWidth) << lenTypeBitPos
	}

	off := 0
	dst[off] = header
	off++

	if idWidth == 2 {
		binary.BigEndian.PutUint16(dst[off:], id)
		off += 2
	} else {
		dst[off] = byte(id)
		off++
	}

	if inlineLen < 0 {
		putMinWidth(dst[off:off+lenWidth], uint32(len(value)))
		off += lenWidth
	}

	copy(dst[off:], value)
	off += len(value)

	return off, nil
}

func putMinWidth(dst []byte, v uint32) {
	switch len(dst) {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(dst, uint16(v))
	case 3:
		dst[0] = byte(v >> 16)
		dst[1] = byte(v >> 8)
		dst[2] = byte(v)
	}
}

// Encode is EncodeInto with an internally allocated buffer.
func Encode(kind Kind, id uint16, value []byte) ([]byte, error) {
	n, err := EncodeInto(nil, kind, id, value)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := EncodeInto(buf, kind, id, value); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode parses a single element from the front of buf and returns it
// plus the number of bytes consumed.
func Decode(buf []byte) (Element, int, error) {
	if len(buf) < 2 {
		return Element{}, 0, lwm2merr.ErrInvalidEncoding
	}

	header := buf[0]
	kind := Kind((header & typeMask) >> typeBitPos)
	idWidth := 1
	if header&idLenMask != 0 {
		idWidth = 2
	}
	lenType := (header & lenTypeMask) >> lenTypeBitPos

	off := 1
	if len(buf) < off+idWidth {
		return Element{}, 0, lwm2merr.ErrInvalidEncoding
	}

	var id uint16
	if idWidth == 2 {
		id = binary.BigEndian.Uint16(buf[off:])
	} else {
		id = uint16(buf[off])
	}
	off += idWidth

	var length int
	if lenType == 0 {
		length = int(header & lenValMask)
	} else {
		lenWidth := int(lenType)
		if lenWidth > 3 {
			return Element{}, 0, lwm2merr.ErrInvalidEncoding
		}
		if len(buf) < off+lenWidth {
			return Element{}, 0, lwm2merr.ErrInvalidEncoding
		}
		length = int(getMinWidth(buf[off : off+lenWidth]))
		off += lenWidth
	}

	if length < 0 || off+length > len(buf) {
		return Element{}, 0, lwm2merr.ErrInvalidEncoding
	}

	value := buf[off : off+length]
	off += length

	return Element{Kind: kind, ID: id, Value: value}, off, nil
}

func getMinWidth(b []byte) uint32 {
	switch len(b) {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.BigEndian.Uint16(b))
	case 3:
		return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	default:
		return 0
	}
}

// DecodeAll walks buf decoding sibling elements until it is exhausted,
// used to read an object-instance's full resource list in one pass, and
// to expand a multi-resource element's Value into its resource-instance
// children.
func DecodeAll(buf []byte) ([]Element, error) {
	var elems []Element
	for len(buf) > 0 {
		el, n, err := Decode(buf)
		if err != nil {
			return nil, err
		}
		elems = append(elems, el)
		buf = buf[n:]
	}
	return elems, nil
}

// EncodeMultiResource wraps child resource-instance elements (already
// encoded) in an outer multi-resource header.
func EncodeMultiResource(id uint16, children []byte) ([]byte, error) {
	return Encode(KindMultiResource, id, children)
}

// IntegerBytes renders v as its minimum-width big-endian encoding, the
// bare value bytes a TLV integer element carries (no header) — used both
// by EncodeInt32 and by callers building a resource-instance child
// inside a multi-resource element, where only the value bytes belong.
func IntegerBytes(v int32) []byte {
	width := IntegerLength(int64(v))
	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(buf, uint32(v))
	}
	return buf
}

// EncodeInt32 is a convenience wrapper for the common case of encoding a
// scalar integer resource value using its minimum-width encoding.
func EncodeInt32(id uint16, v int32) ([]byte, error) {
	return Encode(KindResourceValue, id, IntegerBytes(v))
}

// DecodeInt32 decodes a resource-value element's payload as a big-endian
// signed integer of width 1, 2, or 4 bytes.
func DecodeInt32(value []byte) (int32, error) {
	switch len(value) {
	case 1:
		return int32(int8(value[0])), nil
	case 2:
		return int32(int16(binary.BigEndian.Uint16(value))), nil
	case 4:
		return int32(binary.BigEndian.Uint32(value)), nil
	default:
		return 0, lwm2merr.ErrInvalidEncoding
	}
}
