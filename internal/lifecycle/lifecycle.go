// Package lifecycle implements the per-server client lifecycle state
// machine (spec §4.I): bootstrap -> register -> update ->
// disable/deregister, with retry/backoff and observer re-attachment
// after reconnect. Every failure is retried after the same doubling,
// jittered backoff: the retry loop never calls SwapNetworkFamily, and no
// APN swap is performed.
//
// The reconnect-with-backoff shape is grounded on
// glennswest-ipmiserial/sol/manager.go's runSession: a loop that dials,
// runs until failure, and backs off with doubling delay, resetting after
// a stability window. Per-context trace correlation uses
// github.com/rs/xid the way
// runZeroInc-sockstats/cmd/exporter_example2/main.go tags a connection
// with xid.New().String().
package lifecycle

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/nordic-iot/lwm2m-carrier/internal/attributes"
	"github.com/nordic-iot/lwm2m-carrier/internal/coapopt"
	"github.com/nordic-iot/lwm2m-carrier/internal/kv"
	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
	"github.com/nordic-iot/lwm2m-carrier/internal/metrics"
	"github.com/nordic-iot/lwm2m-carrier/internal/modemoracle"
	"github.com/nordic-iot/lwm2m-carrier/internal/observe"
	"github.com/nordic-iot/lwm2m-carrier/internal/registry"
	"github.com/nordic-iot/lwm2m-carrier/internal/tlv"
	"github.com/nordic-iot/lwm2m-carrier/internal/transport"
)

// protocolVersion is the lwm2m= Uri-Query value advertised on Register,
// per original_source/lib/lwm2m/src/lwm2m_register.c's "%d.%d" format.
const protocolVersion = "1.0"

type State int

const (
	StateConfigured State = iota
	StateBootstrap
	StateBootstrapWait
	StateRegister
	StateRegistered
	StateUpdate
	StateDeregister
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateBootstrap:
		return "bootstrap"
	case StateBootstrapWait:
		return "bootstrap_wait"
	case StateRegister:
		return "register"
	case StateRegistered:
		return "registered"
	case StateUpdate:
		return "update"
	case StateDeregister:
		return "deregister"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

const (
	registrationTimeout  = 20 * time.Second
	minBackoff           = 2 * time.Second
	maxBackoff           = 5 * time.Minute
	stabilityWindow      = 30 * time.Second
	bootstrapFinishWait  = 20 * time.Second
	lifetimeUpdateFactor = 0.9
	notifyTickInterval   = 1 * time.Second
)

// Semaphores are process-wide, shared across every context — DTLS
// handshakes and PDN mutation are each serialized to one at a time
// (spec §4.I).
type Semaphores struct {
	DTLS chan struct{}
	PDN  chan struct{}
}

func NewSemaphores() *Semaphores {
	return &Semaphores{
		DTLS: make(chan struct{}, 1),
		PDN:  make(chan struct{}, 1),
	}
}

// EventType discriminates the single event-callback surface spec §4.I /
// §7 describe ("Client-lifecycle errors are reported through a single
// event callback with {event_type, data}").
type EventType int

const (
	EventRegistered EventType = iota
	EventUpdateFailed
	EventReconnecting
	EventBootstrapError
	EventDisabled
)

type Event struct {
	Type          EventType
	ShortServerID uint16
	Data          string
}

// EventHandler is the single-subscriber lifecycle event hook.
type EventHandler func(Event)

// Config carries the per-server static configuration a Context needs.
type Config struct {
	ShortServerID   uint16
	IsBootstrap     bool
	URI             string
	LifetimeS       int
	DisableTimeoutS int
	Binding         string
	EndpointName    string
	HoldOffS        int
	// MSISDN is the optional sms= Uri-Query parameter (spec §6's
	// "Bootstrap/register URIs"); empty omits the query entirely.
	MSISDN string
}

// Context is one per-server cooperative task. It tracks its lifecycle
// state, registered flag, registration location path, retry backoff and
// IPv4/IPv6 preference.
type Context struct {
	cfg   Config
	trace string
	log   *logrus.Entry

	engine   *transport.Engine
	reg      *registry.Registry
	observer *observe.Store
	attrs    *attributes.Engine
	store    kv.Store
	oracle   modemoracle.Oracle
	sems     *Semaphores
	events   EventHandler

	mu            sync.Mutex
	state         State
	registered    bool
	locationPath  []string
	backoff       time.Duration
	lastSuccessAt time.Time
	preferIPv6    bool

	// bootstrapFinish is signalled by the dispatcher's "bs" intercept
	// (registry.Registry.BootstrapFinish) when the bootstrap server
	// POSTs its provisioning-done signal (spec end-to-end scenario 1).
	bootstrapFinish chan struct{}
	// bootstrapComplete runs once bootstrap() unblocks successfully.
	// cmd/lwm2mcarrier wires it to Security.CompleteBootstrap, which
	// marks the non-bootstrap Security instances as bootstrapped.
	bootstrapComplete func()

	cancel context.CancelFunc
}

func NewContext(cfg Config, log *logrus.Logger, reg *registry.Registry, observer *observe.Store, attrs *attributes.Engine, store kv.Store, oracle modemoracle.Oracle, sems *Semaphores, events EventHandler) *Context {
	trace := xid.New().String()
	return &Context{
		cfg:             cfg,
		trace:           trace,
		log:             log.WithFields(logrus.Fields{"ssid": cfg.ShortServerID, "trace": trace}),
		reg:             reg,
		observer:        observer,
		attrs:           attrs,
		store:           store,
		oracle:          oracle,
		sems:            sems,
		events:          events,
		state:           StateConfigured,
		backoff:         minBackoff,
		bootstrapFinish: make(chan struct{}, 1),
	}
}

// SetBootstrapCompleteHook wires fn to run once this context's bootstrap
// handoff completes.
func (c *Context) SetBootstrapCompleteHook(fn func()) {
	c.mu.Lock()
	c.bootstrapComplete = fn
	c.mu.Unlock()
}

// SignalBootstrapFinish wakes a context blocked in bootstrap() waiting
// for the bootstrap server's provisioning-done signal. Non-blocking: the
// channel holds one pending signal, so a signal sent before bootstrap()
// starts waiting is kept; further signals while one is pending are
// dropped.
func (c *Context) SignalBootstrapFinish() {
	select {
	case c.bootstrapFinish <- struct{}{}:
	default:
	}
}

func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log.WithField("state", s.String()).Debug("lifecycle state transition")
}

// CancelAllTasks is the context-wide cancellation point invoked before
// reconnect or deregister (spec §5). Idempotent.
func (c *Context) CancelAllTasks() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run drives the context's cooperative loop until ctx is cancelled. Each
// top-level iteration is one pass through the state diagram; failures
// anywhere send the context back through the retry policy before
// retrying from Configured.
func (c *Context) Run(ctx context.Context, dial func(context.Context) (*transport.Engine, error)) {
	if c.cfg.HoldOffS > 0 {
		select {
		case <-time.After(time.Duration(c.cfg.HoldOffS) * time.Second):
		case <-ctx.Done():
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		runCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()

		err := c.runOnce(runCtx, dial)
		cancel()

		if ctx.Err() != nil {
			return
		}

		if err == nil {
			c.resetBackoff()
			continue
		}

		c.reportFailure(err)
		delay := c.nextBackoff()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Context) resetBackoff() {
	c.mu.Lock()
	c.backoff = minBackoff
	c.lastSuccessAt = time.Now()
	c.mu.Unlock()
}

// nextBackoff implements the monotone-non-decreasing retry delay (spec
// testable property 7): doubles each failure up to maxBackoff, resetting
// only after runOnce records a success via resetBackoff.
func (c *Context) nextBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.backoff
	next := time.Duration(math.Min(float64(maxBackoff), float64(c.backoff)*2))
	c.backoff = next
	return withJitter(d)
}

func withJitter(d time.Duration) time.Duration {
	spread := 0.9 + rand.Float64()*0.2
	return time.Duration(float64(d) * spread)
}

func (c *Context) reportFailure(err error) {
	c.log.WithError(err).Warn("context failure, backing off")
	if c.events != nil {
		c.events(Event{Type: EventReconnecting, ShortServerID: c.cfg.ShortServerID, Data: err.Error()})
	}
}

// runOnce dials a fresh transport and walks configured -> bootstrap or
// register -> registered -> update(loop) until a failure forces a
// reconnect, or the context is cancelled externally (Disable).
func (c *Context) runOnce(ctx context.Context, dial func(context.Context) (*transport.Engine, error)) error {
	c.sems.DTLS <- struct{}{}
	engine, err := dial(ctx)
	<-c.sems.DTLS
	if err != nil {
		return lwm2merr.Coded(lwm2merr.ErrHandshakeFailed, lwm2merr.InternalServerError)
	}
	c.engine = engine
	defer engine.Close()

	if c.store != nil {
		_ = c.observer.LoadFrom(c.store) // re-attach observers persisted across the previous connection
	}

	if c.cfg.IsBootstrap {
		c.setState(StateBootstrap)
		if err := c.bootstrap(ctx); err != nil {
			c.setState(StateConfigured)
			c.emitEvent(EventBootstrapError, err)
			return err
		}
		return nil
	}

	c.setState(StateRegister)
	if err := c.register(ctx); err != nil {
		c.setState(StateConfigured)
		return err
	}

	c.setState(StateRegistered)
	metrics.Registrations.Inc()
	if c.events != nil {
		c.events(Event{Type: EventRegistered, ShortServerID: c.cfg.ShortServerID})
	}

	go c.notifyLoop(ctx)

	return c.updateLoop(ctx)
}

func (c *Context) emitEvent(t EventType, err error) {
	if c.events != nil {
		c.events(Event{Type: t, ShortServerID: c.cfg.ShortServerID, Data: err.Error()})
	}
}

// bootstrap sends the Bootstrap-Request, then waits up to
// bootstrapFinishWait for the server-initiated finish event, per spec
// §6's "Bootstrap-Request -> 2.04 then wait <=20s for bootstrap-finish"
// transition (end-to-end scenario 1: the bootstrap server writes /0/1
// and /1/1 then POSTs /bs to signal it is done provisioning).
func (c *Context) bootstrap(ctx context.Context) error {
	requestCtx, cancel := context.WithTimeout(ctx, registrationTimeout)
	defer cancel()

	done := make(chan error, 1)
	req := &transport.Message{
		Type:  transport.TypeConfirmable,
		Code:  transport.CodePOST,
		Token: newToken(),
	}
	req.AddOption(transport.OptionURIPath, []byte("bs"))
	req.AddOption(transport.OptionURIQuery, []byte("ep="+c.cfg.EndpointName))

	_, err := c.engine.Send(req, nil, func(status error, _ any, resp *transport.Message) {
		if status != nil {
			done <- status
			return
		}
		if resp.Code != transport.Code(lwm2merr.Changed) {
			done <- lwm2merr.Coded(lwm2merr.ErrFatal, lwm2merr.InternalServerError)
			return
		}
		done <- nil
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-requestCtx.Done():
		return lwm2merr.ErrTimeout
	}

	c.setState(StateBootstrapWait)
	waitCtx, waitCancel := context.WithTimeout(ctx, bootstrapFinishWait)
	defer waitCancel()

	select {
	case <-c.bootstrapFinish:
		c.mu.Lock()
		hook := c.bootstrapComplete
		c.mu.Unlock()
		if hook != nil {
			hook()
		}
		return nil
	case <-waitCtx.Done():
		return lwm2merr.Coded(lwm2merr.ErrFatal, lwm2merr.InternalServerError)
	}
}

// register sends the rd POST and waits for 2.01/2.04, per the Register
// external-interface URI described in spec §6.
func (c *Context) register(ctx context.Context) error {
	registerCtx, cancel := context.WithTimeout(ctx, registrationTimeout)
	defer cancel()

	done := make(chan error, 1)
	req := &transport.Message{
		Type:  transport.TypeConfirmable,
		Code:  transport.CodePOST,
		Token: newToken(),
	}
	req.AddOption(transport.OptionURIPath, []byte("rd"))
	c.addRegisterQueries(req)

	_, err := c.engine.Send(req, nil, func(status error, _ any, resp *transport.Message) {
		if status != nil {
			done <- status
			return
		}
		if resp.Code != transport.Code(lwm2merr.Created) && resp.Code != transport.Code(lwm2merr.Changed) {
			done <- lwm2merr.Coded(lwm2merr.ErrFatal, lwm2merr.InternalServerError)
			return
		}
		if segs := resp.AllOptions(transport.OptionLocationPath); len(segs) > 0 {
			strs := make([]string, len(segs))
			for i, s := range segs {
				strs[i] = string(s)
			}
			c.mu.Lock()
			c.locationPath = strs
			c.mu.Unlock()
		}
		done <- nil
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		if err == nil {
			c.mu.Lock()
			c.registered = true
			c.mu.Unlock()
		}
		return err
	case <-registerCtx.Done():
		return lwm2merr.ErrTimeout
	}
}

// updateLoop re-registers at 0.9x lifetime, per spec §4.I / §5 "lifetime
// renewal at 0.9x lifetime". A 4.xx response forces re-register
// (returned as an error to break runOnce back to Register); a plain
// timeout forces a full reconnect (also surfaced as an error).
func (c *Context) updateLoop(ctx context.Context) error {
	interval := time.Duration(float64(c.cfg.LifetimeS)*lifetimeUpdateFactor) * time.Second
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.setState(StateUpdate)
			if err := c.sendUpdate(ctx); err != nil {
				return err
			}
			c.setState(StateRegistered)
		}
	}
}

func (c *Context) sendUpdate(ctx context.Context) error {
	done := make(chan error, 1)
	req := &transport.Message{
		Type:  transport.TypeConfirmable,
		Code:  transport.CodePOST,
		Token: newToken(),
	}
	c.addLocationPath(req)
	c.addUpdateQueries(req)

	_, err := c.engine.Send(req, nil, func(status error, _ any, resp *transport.Message) {
		if status != nil {
			done <- status
			return
		}
		if resp.Code == transport.Code(lwm2merr.Changed) {
			done <- nil
			return
		}
		// 4.00/4.03/4.04 forces re-register.
		done <- lwm2merr.Coded(lwm2merr.ErrFatal, lwm2merr.InternalServerError)
	})
	if err != nil {
		return err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, registrationTimeout)
	defer cancel()
	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		return lwm2merr.ErrTimeout
	}
}

// notifyLoop ticks the attribute engine for this context's observers
// once per notifyTickInterval, sending a Notify for each one the engine
// decides should fire (spec §4.J). A no-op context (no attribute engine
// or observer store wired) returns immediately.
func (c *Context) notifyLoop(ctx context.Context) {
	if c.attrs == nil || c.observer == nil {
		return
	}
	ticker := time.NewTicker(notifyTickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			c.tickObservers(elapsed)
		}
	}
}

// tickObservers walks every observer subscribed under this context's
// short-server-id, re-reads its current value, and feeds both into the
// attribute engine, sending a Notify for whichever ones it flags.
func (c *Context) tickObservers(elapsed time.Duration) {
	cursor := 0
	for {
		o, handle, next, ok := c.observer.Next(cursor, "")
		if !ok {
			return
		}
		cursor = next
		if o.ShortServerID != c.cfg.ShortServerID {
			continue
		}

		body, err := c.reg.ReadPath(o.ShortServerID, o.ResourcePath)
		if err != nil {
			continue
		}

		numeric, value := numericResourceValue(body)
		decision := c.attrs.Tick(o.ResourcePath, o.ShortServerID, elapsed, value, numeric)
		if decision.ShouldNotify {
			c.sendNotification(handle, o, body, decision.Confirmable)
		}
	}
}

// sendNotification pushes one Observe notification (spec §4.D), reusing
// the observer's token and incrementing its stored MID as the Observe
// option sequence number; a send failure deregisters the subscription
// rather than retrying indefinitely.
func (c *Context) sendNotification(handle int, o *observe.Observer, body []byte, confirmable bool) {
	o.LastMID++
	msgType := transport.TypeNonConfirmable
	if confirmable {
		msgType = transport.TypeConfirmable
	}

	msg := &transport.Message{
		Type:    msgType,
		Code:    transport.Code(lwm2merr.Content),
		MID:     o.LastMID,
		Token:   append([]byte(nil), o.Token...),
		Payload: body,
	}
	msg.AddOption(transport.OptionObserve, coapopt.EncodeUint(uint32(o.LastMID)))

	_, err := c.engine.Send(msg, nil, func(status error, _ any, _ *transport.Message) {
		if status != nil {
			c.observer.Unregister(handle)
		}
	})
	if err != nil {
		c.observer.Unregister(handle)
	}
}

// numericResourceValue decodes body as a single TLV resource-value
// element, returning its integer reading if it is one (spec §4.J's
// gt/lt/st thresholds only apply to numeric resources).
func numericResourceValue(body []byte) (numeric bool, value float64) {
	el, _, err := tlv.Decode(body)
	if err != nil || el.Kind != tlv.KindResourceValue {
		return false, 0
	}
	v, err := tlv.DecodeInt32(el.Value)
	if err != nil {
		return false, 0
	}
	return true, float64(v)
}

// Deregister sends the deregister request and transitions through
// Deregister -> Disabled -> (after disable_timeout) back to Register,
// per spec §4.I's Execute(Disable) path.
func (c *Context) Deregister(ctx context.Context) {
	c.setState(StateDeregister)
	c.CancelAllTasks()
	c.observer.Clear()
	if c.store != nil {
		_ = c.observer.SaveTo(c.store)
	}

	req := &transport.Message{
		Type:  transport.TypeConfirmable,
		Code:  transport.CodeDELETE,
		Token: newToken(),
	}
	c.addLocationPath(req)
	if c.engine != nil {
		_, _ = c.engine.Send(req, nil, nil)
	}

	c.setState(StateDisabled)
	if c.events != nil {
		c.events(Event{Type: EventDisabled, ShortServerID: c.cfg.ShortServerID})
	}

	go func() {
		select {
		case <-time.After(time.Duration(c.cfg.DisableTimeoutS) * time.Second):
			c.setState(StateRegister)
		case <-ctx.Done():
		}
	}()
}

// SwapNetworkFamily toggles the IPv4/IPv6 preference used by the
// oracle-backed dialer, per spec §4.I's network-unreachable fallback
// policy ("toggle IPv6/IPv4 if both allowed").
func (c *Context) SwapNetworkFamily() {
	c.mu.Lock()
	c.preferIPv6 = !c.preferIPv6
	c.mu.Unlock()
	c.oracle.SetIPFamily(c.preferIPv6)
}

// addRegisterQueries appends the rd POST's Uri-Query parameters per spec
// §6: "rd with query ep=<endpoint>, lt=<lifetime>, lwm2m=<maj>.<min>,
// optional sms=<msisdn>, b=<binding>."
func (c *Context) addRegisterQueries(req *transport.Message) {
	req.AddOption(transport.OptionURIQuery, []byte("ep="+c.cfg.EndpointName))
	if c.cfg.LifetimeS > 0 {
		req.AddOption(transport.OptionURIQuery, []byte("lt="+strconv.Itoa(c.cfg.LifetimeS)))
	}
	req.AddOption(transport.OptionURIQuery, []byte("lwm2m="+protocolVersion))
	if c.cfg.Binding != "" {
		req.AddOption(transport.OptionURIQuery, []byte("b="+c.cfg.Binding))
	}
	if c.cfg.MSISDN != "" {
		req.AddOption(transport.OptionURIQuery, []byte("sms="+c.cfg.MSISDN))
	}
}

// addUpdateQueries appends the update POST's Uri-Query parameters: a
// lifetime renewal may carry a changed lt= and/or b=, per spec §6's
// "POST /rd/<loc>?lt=<lifetime>" update scenario.
func (c *Context) addUpdateQueries(req *transport.Message) {
	if c.cfg.LifetimeS > 0 {
		req.AddOption(transport.OptionURIQuery, []byte("lt="+strconv.Itoa(c.cfg.LifetimeS)))
	}
	if c.cfg.Binding != "" {
		req.AddOption(transport.OptionURIQuery, []byte("b="+c.cfg.Binding))
	}
}

// addLocationPath rebuilds the Uri-Path option segments the registration
// response assigned (e.g. "rd/0"), since CoAP-derived servers may return
// more than one segment.
func (c *Context) addLocationPath(req *transport.Message) {
	c.mu.Lock()
	segs := append([]string(nil), c.locationPath...)
	c.mu.Unlock()
	for _, s := range segs {
		req.AddOption(transport.OptionURIPath, []byte(s))
	}
}

// Manager owns every per-server Context and the semaphores they share,
// giving cmd/lwm2mcarrier a single place to start/stop the whole fleet
// and giving internal/statusapi a read-only view for its /status
// endpoints.
type Manager struct {
	mu       sync.RWMutex
	contexts map[uint16]*Context
	sems     *Semaphores
}

func NewManager() *Manager {
	return &Manager{
		contexts: make(map[uint16]*Context),
		sems:     NewSemaphores(),
	}
}

func (m *Manager) Semaphores() *Semaphores { return m.sems }

func (m *Manager) Add(c *Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[c.cfg.ShortServerID] = c
}

// Contexts implements statusapi.ContextLister.
func (m *Manager) Contexts() map[uint16]*Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uint16]*Context, len(m.contexts))
	for k, v := range m.contexts {
		out[k] = v
	}
	return out
}

func (m *Manager) Get(ssid uint16) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[ssid]
	return c, ok
}

// SignalBootstrapFinish forwards the bootstrap server's "bs" finish
// signal (registry.Registry.BootstrapFinish) to the context running
// under ssid, if any is registered.
func (m *Manager) SignalBootstrapFinish(ssid uint16) {
	if c, ok := m.Get(ssid); ok {
		c.SignalBootstrapFinish()
	}
}

func newToken() []byte {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return b
}
