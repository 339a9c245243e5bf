// Engine is the cooperative message engine (spec §4.C): it serializes
// outbound messages, tracks confirmable ones in the Queue, retransmits
// with jittered exponential backoff, and dispatches inbound datagrams to
// either a queued request's callback or the request handler.
//
// The reconnect/retry shape is grounded on
// glennswest-ipmiserial/sol/manager.go's runSession backoff loop; the
// read/write split and sequence-numbered retransmit idea is grounded on
// the vendored go-sol/payload.go readLoop/writeLoop (structural model
// only — not imported, the wire formats are unrelated).
package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
	"github.com/nordic-iot/lwm2m-carrier/internal/metrics"
)

const (
	maxRetransmits       = 4
	initialRetransmitTO  = 2 * time.Second
	retransmitWindow     = 45 * time.Second
	ackRandomFactorNum   = 15 // 1.5x expressed as fixed-point
	ackRandomFactorDenom = 10
)

// RequestHandler processes an inbound request (a message without a
// matching queued response) and returns a response to send back.
type RequestHandler func(ctx context.Context, req *Message, peer net.Addr) *Message

// Dialer abstracts socket setup so the lifecycle layer's network-family
// fallback (spec §4.I) can retry with a different address family without
// the engine itself knowing about APN/IP-version policy.
type Dialer interface {
	Dial(ctx context.Context, network, addr string) (net.Conn, error)
}

// Engine owns one UDP-like connection and the in-flight queue.
type Engine struct {
	log     *logrus.Entry
	conn    net.Conn
	queue   *Queue
	mtu     int
	mu      sync.Mutex
	nextMID uint16

	requestHandler RequestHandler
	errorHandler   func(error)
}

// New builds an engine around an already-dialed connection (conn is
// expected to be a *net.UDPConn or similar datagram socket; socket tuning
// such as the don't-fragment hint is applied by the caller via
// TuneSocket before handing the conn here).
func New(log *logrus.Entry, conn net.Conn, mtu, queueSize int) *Engine {
	if mtu <= 0 {
		mtu = 1024
	}
	seed := make([]byte, 2)
	_, _ = rand.Read(seed)
	return &Engine{
		log:     log,
		conn:    conn,
		queue:   NewQueue(queueSize),
		mtu:     mtu,
		nextMID: binary.BigEndian.Uint16(seed),
	}
}

func (e *Engine) RegisterRequestHandler(h RequestHandler) { e.requestHandler = h }
func (e *Engine) RegisterErrorHandler(h func(error))       { e.errorHandler = h }

func (e *Engine) allocMID() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextMID++
	return e.nextMID
}

// Send serializes msg and, if confirmable, enqueues it for retransmit.
// Returns the queue handle (or -1 for non-confirmable sends).
func (e *Engine) Send(msg *Message, userArg any, cb ResultCallback) (int, error) {
	if msg.MID == 0 {
		msg.MID = e.allocMID()
	}

	buf, err := msg.Marshal()
	if err != nil {
		return -1, err
	}
	if len(buf) > e.mtu {
		return -1, lwm2merr.Coded(lwm2merr.ErrInvalidArgument, lwm2merr.RequestEntityTooLarge)
	}

	if _, err := e.conn.Write(buf); err != nil {
		return -1, err
	}
	metrics.MessagesSent.Inc()

	if msg.Type != TypeConfirmable {
		return -1, nil
	}

	item := QueueItem{
		Buffer:      buf,
		MID:         msg.MID,
		Token:       msg.Token,
		NextTxEpoch: time.Now().Add(jitter(initialRetransmitTO)),
		UserArg:     userArg,
		Callback:    cb,
	}
	handle, err := e.queue.Add(item)
	if err != nil {
		return -1, lwm2merr.Coded(err, lwm2merr.InternalServerError)
	}
	return handle, nil
}

// Abort releases a queued item's slot without invoking its callback.
func (e *Engine) Abort(handle int) {
	e.queue.RemoveByHandle(handle)
}

// jitter applies the spec's "exponential backoff with jitter" using a
// uniform +/-10% spread, per the original source's retransmit jitter
// (see SPEC_FULL.md §4 supplemented features).
func jitter(d time.Duration) time.Duration {
	var b [1]byte
	_, _ = rand.Read(b[:])
	spread := float64(b[0])/255.0*0.2 - 0.1 // [-0.1, +0.1]
	return time.Duration(float64(d) * (1 + spread))
}

// RunRetransmitTimer should be driven by the owning lifecycle context's
// cooperative scheduler tick; it walks the queue, retransmitting any item
// whose NextTxEpoch has passed, and expiring items that have already been
// retransmitted maxRetransmits times. retransmitWindow caps each backoff
// interval; there is no separate check on total elapsed time.
func (e *Engine) RunRetransmitTimer(now time.Time) {
	cursor := 0
	for {
		item, next, ok := e.queue.Iterate(cursor)
		cursor = next
		if !ok {
			break
		}
		if now.Before(item.NextTxEpoch) {
			continue
		}

		if item.RetransmitCount >= maxRetransmits {
			cb, arg, handle := item.Callback, item.UserArg, item.Handle
			e.queue.RemoveByHandle(handle)
			metrics.MessagesTimedOut.Inc()
			if cb != nil {
				cb(lwm2merr.ErrTimeout, arg, nil)
			}
			continue
		}

		if _, err := e.conn.Write(item.Buffer); err != nil {
			e.log.WithError(err).Warn("retransmit write failed")
		}
		metrics.MessagesRetransmitted.Inc()
		item.RetransmitCount++
		item.NextTxEpoch = now.Add(jitter(backoffFor(item.RetransmitCount)))
	}
}

func backoffFor(attempt int) time.Duration {
	mult := math.Pow(2, float64(attempt))
	d := time.Duration(float64(initialRetransmitTO) * mult)
	if d > retransmitWindow {
		d = retransmitWindow
	}
	return d
}

// OnDatagram parses an inbound datagram and either matches it to a
// queued request (invoking its callback and freeing the slot) or, for a
// request, invokes the registered RequestHandler and sends its reply.
// Duplicate responses (already-removed token/mid) are dropped silently.
func (e *Engine) OnDatagram(ctx context.Context, data []byte, peer net.Addr) {
	msg, err := Unmarshal(data)
	if err != nil {
		if e.errorHandler != nil {
			e.errorHandler(err)
		}
		return
	}

	if isResponse(msg) {
		item, found := e.queue.RemoveByToken(msg.Token)
		if !found {
			return // duplicate or unmatched response, drop silently
		}
		if item.Callback != nil {
			item.Callback(nil, item.UserArg, msg)
		}
		return
	}

	if msg.Type == TypeAcknowledgement && msg.Code == CodeEmpty {
		// Empty CON-ACK: treated as "received"; the actual response, if
		// any, arrives as a separate message matched by token above.
		e.queue.RemoveByMID(msg.MID)
		return
	}

	if e.requestHandler == nil {
		return
	}
	resp := e.requestHandler(ctx, msg, peer)
	if resp == nil {
		return
	}
	if resp.MID == 0 {
		resp.MID = msg.MID
	}
	buf, err := resp.Marshal()
	if err != nil {
		e.log.WithError(err).Warn("failed to marshal response")
		return
	}
	if _, err := e.conn.Write(buf); err != nil {
		e.log.WithError(err).Warn("failed to write response")
	}
}

func isResponse(m *Message) bool {
	return m.Code != CodeEmpty && (m.Code>>5) >= 2
}

// Close releases the underlying connection.
func (e *Engine) Close() error { return e.conn.Close() }
