package observe

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nordic-iot/lwm2m-carrier/internal/kv"
)

func TestRegisterOverwritesMatchingSlot(t *testing.T) {
	s := NewStore()
	h1, err := s.Register(Observer{RemoteAddr: "10.0.0.1:5683", ResourcePath: "/3/0", LastMID: 1})
	require.NoError(t, err)

	h2, err := s.Register(Observer{RemoteAddr: "10.0.0.1:5683", ResourcePath: "/3/0", LastMID: 2})
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	ob, ok := s.Get(h1)
	require.True(t, ok)
	require.Equal(t, uint16(2), ob.LastMID)
}

func TestRegisterUsesFirstFreeSlotForDistinctSubscription(t *testing.T) {
	s := NewStore()
	h1, err := s.Register(Observer{RemoteAddr: "a", ResourcePath: "/3/0"})
	require.NoError(t, err)
	h2, err := s.Register(Observer{RemoteAddr: "b", ResourcePath: "/3/0/1"})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestRegisterFullReturnsOutOfMemory(t *testing.T) {
	s := NewStore()
	for i := 0; i < MaxObservers; i++ {
		_, err := s.Register(Observer{RemoteAddr: string(rune('a' + i)), ResourcePath: "/3/0"})
		require.NoError(t, err)
	}
	_, err := s.Register(Observer{RemoteAddr: "overflow", ResourcePath: "/3/0"})
	require.Error(t, err)
}

func TestUnregisterFreesSlot(t *testing.T) {
	s := NewStore()
	h, err := s.Register(Observer{RemoteAddr: "a", ResourcePath: "/3/0"})
	require.NoError(t, err)

	s.Unregister(h)
	_, ok := s.Get(h)
	require.False(t, ok)
}

func TestUnregisterOutOfRangeIsNoop(t *testing.T) {
	s := NewStore()
	s.Unregister(-1)
	s.Unregister(MaxObservers)
}

func TestNextFiltersByResourcePath(t *testing.T) {
	s := NewStore()
	_, err := s.Register(Observer{RemoteAddr: "a", ResourcePath: "/3/0"})
	require.NoError(t, err)
	_, err = s.Register(Observer{RemoteAddr: "b", ResourcePath: "/4/0"})
	require.NoError(t, err)

	o, _, next, ok := s.Next(0, "/4/0")
	require.True(t, ok)
	require.Equal(t, "b", o.RemoteAddr)
	require.Equal(t, 2, next)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	_, err := s.Register(Observer{ShortServerID: 101, RemoteAddr: "a", ResourcePath: "/3/0", Token: []byte{0x1, 0x2}})
	require.NoError(t, err)

	data, err := s.Snapshot()
	require.NoError(t, err)

	restored := NewStore()
	require.NoError(t, restored.Restore(data))

	o, _, _, ok := restored.Next(0, "")
	require.True(t, ok)
	require.Equal(t, uint16(101), o.ShortServerID)
	require.Equal(t, []byte{0x1, 0x2}, o.Token)
}

func TestSaveToAndLoadFromKVStore(t *testing.T) {
	store, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)

	s := NewStore()
	_, err = s.Register(Observer{RemoteAddr: "a", ResourcePath: "/3/0"})
	require.NoError(t, err)
	require.NoError(t, s.SaveTo(store))

	loaded := NewStore()
	require.NoError(t, loaded.LoadFrom(store))
	o, _, _, ok := loaded.Next(0, "")
	require.True(t, ok)
	require.Equal(t, "a", o.RemoteAddr)
}

func TestLoadFromMissingKeyIsNoop(t *testing.T) {
	store, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)

	s := NewStore()
	require.NoError(t, s.LoadFrom(store))
	_, _, _, ok := s.Next(0, "")
	require.False(t, ok)
}

func TestClearEmptiesAllSlots(t *testing.T) {
	s := NewStore()
	_, err := s.Register(Observer{RemoteAddr: "a", ResourcePath: "/3/0"})
	require.NoError(t, err)
	s.Clear()
	_, _, _, ok := s.Next(0, "")
	require.False(t, ok)
}
