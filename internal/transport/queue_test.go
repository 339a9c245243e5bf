package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueAddRemoveByToken(t *testing.T) {
	q := NewQueue(4)
	handle, err := q.Add(QueueItem{MID: 1, Token: []byte{0x01}, Buffer: []byte{0x40}})
	require.NoError(t, err)
	require.Equal(t, 1, q.Len())

	item, ok := q.ItemByToken([]byte{0x01})
	require.True(t, ok)
	require.Equal(t, handle, item.Handle)

	removed, ok := q.RemoveByToken([]byte{0x01})
	require.True(t, ok)
	require.Equal(t, uint16(1), removed.MID)
	require.Equal(t, 0, q.Len())
}

func TestQueueRemoveByMID(t *testing.T) {
	q := NewQueue(4)
	_, err := q.Add(QueueItem{MID: 42, Buffer: []byte{0x40}})
	require.NoError(t, err)

	item, ok := q.RemoveByMID(42)
	require.True(t, ok)
	require.Equal(t, uint16(42), item.MID)

	_, ok = q.RemoveByMID(42)
	require.False(t, ok)
}

func TestQueueFullReturnsOutOfMemory(t *testing.T) {
	q := NewQueue(2)
	_, err := q.Add(QueueItem{MID: 1, Buffer: []byte{0x40}})
	require.NoError(t, err)
	_, err = q.Add(QueueItem{MID: 2, Buffer: []byte{0x40}})
	require.NoError(t, err)

	_, err = q.Add(QueueItem{MID: 3, Buffer: []byte{0x40}})
	require.Error(t, err)
	require.Equal(t, 2, q.Len())
}

func TestQueueSlotReuseAfterRemoval(t *testing.T) {
	q := NewQueue(1)
	h1, err := q.Add(QueueItem{MID: 1, Buffer: []byte{0x40}})
	require.NoError(t, err)
	require.True(t, q.RemoveByHandle(h1))

	h2, err := q.Add(QueueItem{MID: 2, Buffer: []byte{0x40}})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestQueueIterateWalksOccupiedSlotsInOrder(t *testing.T) {
	q := NewQueue(4)
	_, err := q.Add(QueueItem{MID: 1, Buffer: []byte{0x40}})
	require.NoError(t, err)
	_, err = q.Add(QueueItem{MID: 2, Buffer: []byte{0x40}})
	require.NoError(t, err)

	var mids []uint16
	cursor := 0
	for {
		item, next, ok := q.Iterate(cursor)
		if !ok {
			break
		}
		mids = append(mids, item.MID)
		cursor = next
	}
	require.Equal(t, []uint16{1, 2}, mids)
}

func TestNewQueueDefaultsNonPositiveSize(t *testing.T) {
	q := NewQueue(0)
	require.Equal(t, DefaultQueueSize, q.Cap())
}
