// Package transport implements the message engine (spec §4.C): wire
// encode/decode of the datagram header and options, the retransmission
// queue (queue.go), and the cooperative send/receive engine (engine.go).
//
// Wire format grounded on spec.md §6 and cross-checked against the
// extended-length nibble scheme in
// other_examples/..._plgd-dev-go-coap_.../message.go (not imported).
package transport

import (
	"encoding/binary"
	"sort"

	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
)

// Type is the CoAP message type carried in the header's Type field.
type Type uint8

const (
	TypeConfirmable    Type = 0
	TypeNonConfirmable Type = 1
	TypeAcknowledgement Type = 2
	TypeReset          Type = 3
)

// Code is the CoAP method/response code.
type Code uint8

const (
	CodeEmpty Code = 0x00
	CodeGET   Code = 0x01
	CodePOST  Code = 0x02
	CodePUT   Code = 0x03
	CodeDELETE Code = 0x04
)

const (
	OptionIfMatch       = 1
	OptionURIHost       = 3
	OptionETag          = 4
	OptionIfNoneMatch   = 5
	OptionObserve       = 6
	OptionURIPort       = 7
	OptionLocationPath  = 8
	OptionURIPath       = 11
	OptionContentFormat = 12
	OptionMaxAge        = 14
	OptionURIQuery      = 15
	OptionAccept        = 17
	OptionLocationQuery = 20
	OptionBlock2        = 23
	OptionBlock1        = 27
	OptionSize2         = 28
	OptionProxyURI      = 35
	OptionProxyScheme   = 39
	OptionSize1         = 60
)

const (
	ContentFormatText        = 0
	ContentFormatLinkFormat  = 40
	ContentFormatOctetStream = 42
	ContentFormatTLV         = 11542
	ContentFormatJSON        = 11543
)

const payloadMarker = 0xFF

// Option is one decoded/pending option: a number and its raw value.
// Options with the same number may repeat (e.g. Uri-Path segments).
type Option struct {
	Number uint16
	Value  []byte
}

// Message is a decoded or to-be-serialized CoAP-derived datagram.
type Message struct {
	Type    Type
	Code    Code
	MID     uint16
	Token   []byte
	Options []Option
	Payload []byte
}

// MarshalTo serializes m into dst. If dst is nil, it returns the required size only.
func (m *Message) MarshalTo(dst []byte) (int, error) {
	if len(m.Token) > 8 {
		return 0, lwm2merr.ErrInvalidArgument
	}

	opts := append([]Option(nil), m.Options...)
	sort.SliceStable(opts, func(i, j int) bool { return opts[i].Number < opts[j].Number })

	size := 4 + len(m.Token)
	lastNum := uint16(0)
	for _, o := range opts {
		delta := o.Number - lastNum
		size += optionHeaderSize(delta, len(o.Value)) + len(o.Value)
		lastNum = o.Number
	}
	if len(m.Payload) > 0 {
		size += 1 + len(m.Payload)
	}

	if dst == nil {
		return size, nil
	}
	if len(dst) < size {
		return size, lwm2merr.ErrBufferTooSmall
	}

	off := 0
	dst[off] = (1 << 6) | (byte(m.Type) << 4) | byte(len(m.Token)&0xf)
	off++
	dst[off] = byte(m.Code)
	off++
	binary.BigEndian.PutUint16(dst[off:], m.MID)
	off += 2
	off += copy(dst[off:], m.Token)

	lastNum = 0
	for _, o := range opts {
		delta := o.Number - lastNum
		off += encodeOptionHeader(dst[off:], delta, len(o.Value))
		off += copy(dst[off:], o.Value)
		lastNum = o.Number
	}

	if len(m.Payload) > 0 {
		dst[off] = payloadMarker
		off++
		off += copy(dst[off:], m.Payload)
	}

	return off, nil
}

// Marshal allocates and serializes m.
func (m *Message) Marshal() ([]byte, error) {
	n, err := m.MarshalTo(nil)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := m.MarshalTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func optionHeaderSize(delta uint16, valueLen int) int {
	size := 1
	size += nibbleExtSize(delta)
	size += nibbleExtSize(uint16(valueLen))
	return size
}

func nibbleExtSize(v uint16) int {
	switch {
	case v < 13:
		return 0
	case v < 269:
		return 1
	default:
		return 2
	}
}

func nibbleAndExt(v uint16) (nibble byte, ext []byte) {
	switch {
	case v < 13:
		return byte(v), nil
	case v < 269:
		return 13, []byte{byte(v - 13)}
	default:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, v-269)
		return 14, buf
	}
}

func encodeOptionHeader(dst []byte, delta uint16, valueLen int) int {
	dNib, dExt := nibbleAndExt(delta)
	lNib, lExt := nibbleAndExt(uint16(valueLen))
	dst[0] = (dNib << 4) | lNib
	off := 1
	off += copy(dst[off:], dExt)
	off += copy(dst[off:], lExt)
	return off
}

// Unmarshal decodes a full datagram.
func Unmarshal(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, lwm2merr.ErrInvalidEncoding
	}
	if data[0]>>6 != 1 {
		return nil, lwm2merr.ErrInvalidEncoding
	}
	m := &Message{
		Type: Type((data[0] >> 4) & 0x3),
		Code: Code(data[1]),
		MID:  binary.BigEndian.Uint16(data[2:4]),
	}
	tkl := int(data[0] & 0xf)
	off := 4
	if tkl > 8 || len(data) < off+tkl {
		return nil, lwm2merr.ErrInvalidEncoding
	}
	if tkl > 0 {
		m.Token = append([]byte(nil), data[off:off+tkl]...)
	}
	off += tkl

	lastNum := uint16(0)
	for off < len(data) {
		if data[off] == payloadMarker {
			off++
			if off >= len(data) {
				return nil, lwm2merr.ErrInvalidEncoding
			}
			m.Payload = append([]byte(nil), data[off:]...)
			return m, nil
		}

		dNib := (data[off] >> 4) & 0xf
		lNib := data[off] & 0xf
		off++

		delta, n, err := readExt(data, off, dNib)
		if err != nil {
			return nil, err
		}
		off += n

		length, n, err := readExt(data, off, lNib)
		if err != nil {
			return nil, err
		}
		off += n

		if off+int(length) > len(data) {
			return nil, lwm2merr.ErrInvalidEncoding
		}
		num := lastNum + uint16(delta)
		m.Options = append(m.Options, Option{Number: num, Value: append([]byte(nil), data[off:off+int(length)]...)})
		lastNum = num
		off += int(length)
	}
	return m, nil
}

func readExt(data []byte, off int, nib byte) (value uint16, consumed int, err error) {
	switch {
	case nib < 13:
		return uint16(nib), 0, nil
	case nib == 13:
		if off >= len(data) {
			return 0, 0, lwm2merr.ErrInvalidEncoding
		}
		return uint16(data[off]) + 13, 1, nil
	case nib == 14:
		if off+2 > len(data) {
			return 0, 0, lwm2merr.ErrInvalidEncoding
		}
		return binary.BigEndian.Uint16(data[off:off+2]) + 269, 2, nil
	default:
		return 0, 0, lwm2merr.ErrInvalidEncoding
	}
}

// FindOption returns the first option value with the given number.
func (m *Message) FindOption(number uint16) ([]byte, bool) {
	for _, o := range m.Options {
		if o.Number == number {
			return o.Value, true
		}
	}
	return nil, false
}

// AllOptions returns every value for a repeated option number, in order.
func (m *Message) AllOptions(number uint16) [][]byte {
	var vals [][]byte
	for _, o := range m.Options {
		if o.Number == number {
			vals = append(vals, o.Value)
		}
	}
	return vals
}

// AddOption appends an option.
func (m *Message) AddOption(number uint16, value []byte) {
	m.Options = append(m.Options, Option{Number: number, Value: value})
}

// URIPath joins the Uri-Path option segments with "/".
func (m *Message) URIPath() string {
	segs := m.AllOptions(OptionURIPath)
	if len(segs) == 0 {
		return "/"
	}
	path := ""
	for _, s := range segs {
		path += "/" + string(s)
	}
	return path
}
