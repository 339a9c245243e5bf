// Queue is the fixed-capacity in-flight confirmable-message table (spec
// §4.E), directly grounded on original_source/lib/coap/src/coap_queue.c:
// a fixed array of slots, a free slot identified by a nil buffer, linear
// scan lookup by token/mid, and a cursor-based iterator (translated from
// the C pointer-arithmetic walk to an index cursor).
package transport

import (
	"net"
	"time"

	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
)

const DefaultQueueSize = 8

// ResultCallback is invoked at most once per queued item, either on
// response match or on final retransmit timeout; Engine.Abort releases
// the slot without invoking it.
type ResultCallback func(status error, userArg any, response *Message)

// QueueItem mirrors the coap_queue_item_t record: a handle, the raw
// serialized buffer, the remote peer, and retransmission bookkeeping.
type QueueItem struct {
	Handle          int
	Buffer          []byte
	MID             uint16
	Token           []byte
	Remote          net.Addr
	RetransmitCount int
	NextTxEpoch     time.Time
	UserArg         any
	Callback        ResultCallback
}

func (q *QueueItem) occupied() bool { return q.Buffer != nil }

// Queue is the bounded FIFO of in-flight confirmable messages.
type Queue struct {
	slots []QueueItem
	count int
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	slots := make([]QueueItem, size)
	for i := range slots {
		slots[i].Handle = i
	}
	return &Queue{slots: slots}
}

// Add copies item into the first free slot. Fails with ErrOutOfMemory if
// the queue is full, matching coap_queue_add's ENOMEM-on-full behavior.
func (q *Queue) Add(item QueueItem) (int, error) {
	for i := range q.slots {
		if !q.slots[i].occupied() {
			handle := q.slots[i].Handle
			item.Handle = handle
			q.slots[i] = item
			q.count++
			return handle, nil
		}
	}
	return -1, lwm2merr.ErrOutOfMemory
}

// RemoveByHandle frees the slot with the given handle. No-op if absent.
func (q *Queue) RemoveByHandle(handle int) bool {
	for i := range q.slots {
		if q.slots[i].occupied() && q.slots[i].Handle == handle {
			q.clear(i)
			return true
		}
	}
	return false
}

// RemoveByToken frees the slot whose token matches tok.
func (q *Queue) RemoveByToken(tok []byte) (*QueueItem, bool) {
	for i := range q.slots {
		if q.slots[i].occupied() && tokensEqual(q.slots[i].Token, tok) {
			item := q.slots[i]
			q.clear(i)
			return &item, true
		}
	}
	return nil, false
}

// RemoveByMID frees the slot whose mid matches.
func (q *Queue) RemoveByMID(mid uint16) (*QueueItem, bool) {
	for i := range q.slots {
		if q.slots[i].occupied() && q.slots[i].MID == mid {
			item := q.slots[i]
			q.clear(i)
			return &item, true
		}
	}
	return nil, false
}

func (q *Queue) clear(i int) {
	handle := q.slots[i].Handle
	q.slots[i] = QueueItem{Handle: handle}
	q.count--
}

// ItemByToken looks an item up without removing it.
func (q *Queue) ItemByToken(tok []byte) (*QueueItem, bool) {
	for i := range q.slots {
		if q.slots[i].occupied() && tokensEqual(q.slots[i].Token, tok) {
			return &q.slots[i], true
		}
	}
	return nil, false
}

// Iterate walks occupied slots in index order starting at cursor,
// returning the next occupied item and the cursor to resume from, or
// ok=false when exhausted.
func (q *Queue) Iterate(cursor int) (item *QueueItem, next int, ok bool) {
	for i := cursor; i < len(q.slots); i++ {
		if q.slots[i].occupied() {
			return &q.slots[i], i + 1, true
		}
	}
	return nil, len(q.slots), false
}

func (q *Queue) Len() int { return q.count }
func (q *Queue) Cap() int { return len(q.slots) }

func tokensEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
