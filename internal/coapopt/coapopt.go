// Package coapopt encodes and decodes CoAP option values: minimum-width
// unsigned integers and the Block1/Block2 descriptor packing.
//
// Grounded on original_source/lib/coap/src/coap_option.c
// (coap_opt_uint_encode/_decode) and coap_block.c (block_opt_encode/_decode).
package coapopt

import (
	"encoding/binary"

	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
)

// EncodeUint encodes u in its minimum byte width: 0 bytes for 0, else 1,
// 2, or 4 bytes, big-endian.
func EncodeUint(u uint32) []byte {
	switch {
	case u == 0:
		return nil
	case u <= 0xff:
		return []byte{byte(u)}
	case u <= 0xffff:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(u))
		return buf
	default:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, u)
		return buf
	}
}

// DecodeUint decodes a minimum-width unsigned integer option value.
// Lengths of 0, 1, 2, 3, or 4 bytes are accepted, mirroring
// coap_opt_uint_decode.
func DecodeUint(b []byte) (uint32, error) {
	switch len(b) {
	case 0:
		return 0, nil
	case 1:
		return uint32(b[0]), nil
	case 2:
		return uint32(binary.BigEndian.Uint16(b)), nil
	case 3:
		return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
	case 4:
		return binary.BigEndian.Uint32(b), nil
	default:
		return 0, lwm2merr.ErrInvalidArgument
	}
}

const (
	blockSizeMask     = 0x7
	blockMoreBitPos   = 3
	blockNumberPos    = 4
	blockNumberMax    = 0xFFFFF
	blockSizeReserved = 0x7
	blockSizeBase     = 4 // size = 1 << (4 + exponent)
)

// Block is a decoded Block1/Block2 option descriptor.
type Block struct {
	Number uint32
	More   bool
	Size   uint16
}

var blockSizeToExp = map[uint16]uint32{
	16: 0, 32: 1, 64: 2, 128: 3, 256: 4, 512: 5, 1024: 6,
}

var blockExpToSize = map[uint32]uint16{
	0: 16, 1: 32, 2: 64, 3: 128, 4: 256, 5: 512, 6: 1024,
}

// Encode packs the block descriptor into a uint per
// [block_number:20][more:1][size_exponent:3]. Size 2048 and any size
// outside {16..1024} is rejected.
func (b Block) Encode() (uint32, error) {
	if b.Number > blockNumberMax {
		return 0, lwm2merr.ErrInvalidArgument
	}
	exp, ok := blockSizeToExp[b.Size]
	if !ok {
		return 0, lwm2merr.ErrInvalidArgument
	}
	var val uint32 = exp
	if b.More {
		val |= 1 << blockMoreBitPos
	}
	val |= b.Number << blockNumberPos
	return val, nil
}

// DecodeBlock unpacks a block descriptor. size_exponent 7 is reserved and
// rejected.
func DecodeBlock(encoded uint32) (Block, error) {
	if encoded&blockSizeMask == blockSizeReserved {
		return Block{}, lwm2merr.ErrInvalidEncoding
	}
	number := encoded >> blockNumberPos
	if number > blockNumberMax {
		return Block{}, lwm2merr.ErrInvalidEncoding
	}
	size := blockExpToSize[encoded&blockSizeMask]
	more := (encoded>>blockMoreBitPos)&0x1 != 0
	return Block{Number: number, More: more, Size: size}, nil
}

// EncodeBlockOption is Encode followed by EncodeUint, producing the
// option-value bytes directly.
func EncodeBlockOption(b Block) ([]byte, error) {
	v, err := b.Encode()
	if err != nil {
		return nil, err
	}
	return EncodeUint(v), nil
}

// DecodeBlockOption is DecodeUint followed by DecodeBlock.
func DecodeBlockOption(value []byte) (Block, error) {
	v, err := DecodeUint(value)
	if err != nil {
		return Block{}, err
	}
	return DecodeBlock(v)
}
