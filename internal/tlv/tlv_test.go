package tlv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
)

func TestEncodeIntoDryRun(t *testing.T) {
	value := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	n, err := EncodeInto(nil, KindResourceValue, 300, value)
	require.NoError(t, err)

	buf := make([]byte, n)
	written, err := EncodeInto(buf, KindResourceValue, 300, value)
	require.NoError(t, err)
	require.Equal(t, n, written)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		kind  Kind
		id    uint16
		value []byte
	}{
		{"short id, inline length", KindResourceValue, 5, []byte{1, 2, 3}},
		{"wide id", KindResourceValue, 300, []byte{9, 9}},
		{"explicit length", KindResourceValue, 1, make([]byte, 300)},
		{"empty value", KindResourceInstance, 0, []byte{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := Encode(tc.kind, tc.id, tc.value)
			require.NoError(t, err)

			el, n, err := Decode(buf)
			require.NoError(t, err)
			require.Equal(t, len(buf), n)
			require.Equal(t, tc.kind, el.Kind)
			require.Equal(t, tc.id, el.ID)
			require.Equal(t, tc.value, el.Value)
		})
	}
}

func TestDecodeAllSiblings(t *testing.T) {
	a, _ := Encode(KindResourceValue, 0, []byte{1})
	b, _ := Encode(KindResourceValue, 1, []byte{2, 3})
	buf := append(append([]byte{}, a...), b...)

	elems, err := DecodeAll(buf)
	require.NoError(t, err)
	require.Len(t, elems, 2)
	require.Equal(t, uint16(0), elems[0].ID)
	require.Equal(t, uint16(1), elems[1].ID)
}

func TestDecodeTruncatedBufferErrors(t *testing.T) {
	buf, _ := Encode(KindResourceValue, 1, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	_, _, err := Decode(buf[:len(buf)-1])
	require.Error(t, err)
}

func TestIntegerLengthWidths(t *testing.T) {
	require.Equal(t, 1, IntegerLength(127))
	require.Equal(t, 1, IntegerLength(-128))
	require.Equal(t, 2, IntegerLength(128))
	require.Equal(t, 2, IntegerLength(-32768))
	require.Equal(t, 4, IntegerLength(32768))
}

func TestEncodeInt32DecodeInt32RoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 127, 128, -129, 32767, -32768, 70000, -70000} {
		buf, err := EncodeInt32(42, v)
		require.NoError(t, err)

		el, _, err := Decode(buf)
		require.NoError(t, err)
		got, err := DecodeInt32(el.Value)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestEncodeMultiResource(t *testing.T) {
	child0, _ := Encode(KindResourceInstance, 0, []byte{1})
	child1, _ := Encode(KindResourceInstance, 1, []byte{2})
	buf, err := EncodeMultiResource(10, append(append([]byte{}, child0...), child1...))
	require.NoError(t, err)

	el, _, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, KindMultiResource, el.Kind)

	children, err := DecodeAll(el.Value)
	require.NoError(t, err)
	require.Len(t, children, 2)
}

func TestEncodeIntoBufferTooSmall(t *testing.T) {
	_, err := EncodeInto(make([]byte, 1), KindResourceValue, 1, []byte{1, 2, 3})
	require.ErrorIs(t, err, lwm2merr.ErrBufferTooSmall)
}
