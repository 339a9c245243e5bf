package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	m := &Message{
		Type:  TypeConfirmable,
		Code:  CodePOST,
		MID:   0x1234,
		Token: []byte{0xaa, 0xbb},
		Options: []Option{
			{Number: OptionURIPath, Value: []byte("rd")},
			{Number: OptionURIQuery, Value: []byte("ep=node1")},
		},
		Payload: []byte("hello"),
	}

	buf, err := m.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(buf)
	require.NoError(t, err)
	require.Equal(t, m.Type, got.Type)
	require.Equal(t, m.Code, got.Code)
	require.Equal(t, m.MID, got.MID)
	require.Equal(t, m.Token, got.Token)
	require.Equal(t, m.Payload, got.Payload)
	require.Equal(t, []byte("rd"), mustFindOption(t, got, OptionURIPath))
	require.Equal(t, []byte("ep=node1"), mustFindOption(t, got, OptionURIQuery))
}

func mustFindOption(t *testing.T, m *Message, number uint16) []byte {
	t.Helper()
	v, ok := m.FindOption(number)
	require.True(t, ok)
	return v
}

func TestMarshalRejectsOversizedToken(t *testing.T) {
	m := &Message{Token: make([]byte, 9)}
	_, err := m.Marshal()
	require.Error(t, err)
}

func TestMarshalNoPayload(t *testing.T) {
	m := &Message{Type: TypeNonConfirmable, Code: CodeGET, MID: 1}
	buf, err := m.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(buf)
	require.NoError(t, err)
	require.Nil(t, got.Payload)
}

func TestOptionDeltaExtensionNibbles(t *testing.T) {
	// Exercise the 13 (one-byte extension) and 269 (two-byte extension)
	// thresholds via option numbers 1, 15 and 300, whose deltas and one
	// long value cross both boundaries.
	m := &Message{Type: TypeConfirmable, Code: CodePOST, MID: 7}
	m.AddOption(OptionIfMatch, []byte{1}) // number 1
	m.AddOption(15, make([]byte, 300))    // delta 14 -> one-byte ext; length 300 -> two-byte ext
	m.AddOption(300, []byte{2})           // delta 285 -> two-byte ext on the option number

	buf, err := m.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(buf)
	require.NoError(t, err)
	require.Len(t, got.Options, 3)
	require.Equal(t, uint16(1), got.Options[0].Number)
	require.Equal(t, uint16(15), got.Options[1].Number)
	require.Len(t, got.Options[1].Value, 300)
	require.Equal(t, uint16(300), got.Options[2].Number)
}

func TestUnmarshalRejectsShortBuffer(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2})
	require.Error(t, err)
}

func TestUnmarshalRejectsBadVersion(t *testing.T) {
	buf := []byte{0x00, 0x01, 0x00, 0x01}
	_, err := Unmarshal(buf)
	require.Error(t, err)
}

func TestAllOptionsPreservesOrder(t *testing.T) {
	m := &Message{}
	m.AddOption(OptionURIPath, []byte("rd"))
	m.AddOption(OptionURIPath, []byte("5a3f"))
	require.Equal(t, "/rd/5a3f", m.URIPath())
}

func TestURIPathEmptyIsRoot(t *testing.T) {
	m := &Message{}
	require.Equal(t, "/", m.URIPath())
}
