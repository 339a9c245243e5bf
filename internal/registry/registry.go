// Package registry implements the resource registry & dispatch (spec
// §4.F): object/instance tables, path parsing, and routing of a decoded
// request to the object handler that owns it, after the ACL engine has
// approved the requested operation.
//
// Structurally modeled on glennswest-ipmiserial/server/server.go's
// setupRoutes building a dispatch table keyed by path, generalized here
// from HTTP routes to object/instance/resource paths; polymorphic
// dispatch follows spec §9's "capability bundle" design note rather than
// function-pointer tables, expressed as the Handler interface below.
package registry

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/nordic-iot/lwm2m-carrier/internal/acl"
	"github.com/nordic-iot/lwm2m-carrier/internal/attributes"
	"github.com/nordic-iot/lwm2m-carrier/internal/coapopt"
	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
	"github.com/nordic-iot/lwm2m-carrier/internal/observe"
	"github.com/nordic-iot/lwm2m-carrier/internal/transport"
)

const (
	MaxObjects   = 32
	MaxInstances = 64
)

// Handler is the capability bundle an object type implements. Handlers
// report which abstract operations they support via Capabilities. Dispatch
// does not consult that bundle: it checks only the ACL mask, and each
// handler method rejects the operations its object does not support.
type Handler interface {
	ObjectID() uint16
	// Alias is the object's named-endpoint alias (spec §4.F endpoint
	// name matching), or "" if the object has none.
	Alias() string
	Capabilities() acl.Permission

	InstanceIDs() []uint16
	InstanceExists(iid uint16) bool

	// ACL returns the per-instance ACL row, or nil for objects that have
	// none (e.g. Security, which is never exposed to operational
	// servers and so carries no ACL entry per spec §4.H).
	ACL(iid uint16) *acl.ACL

	Read(p Path, ssid uint16) ([]byte, error)
	// Write applies value at p. block carries the decoded Block1 option
	// (spec §4.B/§4.H block-wise transfer) when the request arrived with
	// one, or nil for a single-shot write; a handler that doesn't support
	// block-wise assembly is free to ignore it.
	Write(p Path, ssid uint16, value []byte, block *Block1) error
	Execute(p Path, ssid uint16, arg []byte) error
	Discover(p Path, ssid uint16) ([]byte, error)
	Create(value []byte, ssid uint16) (instanceID uint16, err error)
	Delete(p Path, ssid uint16) error
}

// Block1 is the decoded Block1 option of a PUT/POST write request (spec
// §4.B RFC7959 block-wise transfer).
type Block1 struct {
	Number uint32
	More   bool
	Size   int
}

// Registry owns the object table and routes requests to it.
type Registry struct {
	objects map[uint16]Handler
	// execRewrite implements the optional MotiveBridge compatibility
	// shim (spec §9 open question): rewrite an Execute on fromPath to
	// toPath before dispatch, when enabled.
	execRewrite map[string]string

	observer *observe.Store
	attrs    *attributes.Engine

	FactoryReset func() error
	// BootstrapFinish is invoked when the bootstrap server POSTs to the
	// well-known "bs" endpoint (spec end-to-end scenario 1's
	// bootstrap-finish signal), keyed by the ssid the request arrived on.
	BootstrapFinish func(ssid uint16)
}

func New() *Registry {
	return &Registry{
		objects:     make(map[uint16]Handler),
		execRewrite: make(map[string]string),
	}
}

// SetObserverStore wires the observer store Dispatch registers/deregisters
// subscriptions in on a GET carrying the Observe option (spec §4.F/§4.D).
func (r *Registry) SetObserverStore(s *observe.Store) { r.observer = s }

// SetAttributeEngine wires the attribute engine write-attribute requests
// (Uri-Query pmin=/pmax=/gt=/lt=/st=) are applied to (spec §4.J).
func (r *Registry) SetAttributeEngine(e *attributes.Engine) { r.attrs = e }

// ReadPath resolves a "/oid/iid/rid" path string and invokes the owning
// handler's Read, used by the lifecycle notify loop (spec §4.J) to
// re-sample an observed resource's current value between ticks.
func (r *Registry) ReadPath(ssid uint16, pathStr string) ([]byte, error) {
	path, err := ParsePath(SplitURIPath(pathStr))
	if err != nil {
		return nil, err
	}
	h, ok := r.objects[path.ObjectID]
	if !ok {
		return nil, lwm2merr.ErrNotFound
	}
	return h.Read(path, ssid)
}

// Register adds an object handler. Fails silently past MaxObjects by
// simply not registering further handlers — callers are expected to
// respect the object budget themselves; this mirrors the fixed-capacity
// style of the other tables without adding a distinct error path for a
// compile-time-bounded object set.
func (r *Registry) Register(h Handler) {
	if len(r.objects) >= MaxObjects {
		return
	}
	r.objects[h.ObjectID()] = h
}

// EnableExecRewrite wires the MotiveBridge Exec re-route shim: an
// Execute request to fromPath is rewritten to toPath before dispatch.
// Off unless called (spec §9: "operator-specific... optional
// compatibility shim").
func (r *Registry) EnableExecRewrite(from, to string) {
	r.execRewrite[from] = to
}

// DiscoverAll renders a link-format dump of every registered object's
// instances as seen by ssid, skipping any object whose Discover returns
// an error (Security's always does, so it is left out). The dispatcher's
// ACL mask check is not applied on this out-of-band debug path.
func (r *Registry) DiscoverAll(ssid uint16) []byte {
	var out []byte
	for _, h := range r.objects {
		body, err := h.Discover(Path{Depth: 1, ObjectID: h.ObjectID()}, ssid)
		if err != nil {
			continue
		}
		out = append(out, body...)
	}
	return out
}

func (r *Registry) findByAlias(seg string) (Handler, bool) {
	for _, h := range r.objects {
		if h.Alias() == seg {
			return h, true
		}
	}
	return nil, false
}

// Dispatch resolves req's path, checks ACL, and invokes the owning
// handler, returning the response message to send (never nil — errors
// become coded CoAP responses per spec §7's propagation rule: "decoders
// never abort; every returned error surfaces as a CoAP response code").
func (r *Registry) Dispatch(ctx context.Context, req *transport.Message, ssid uint16, peer net.Addr) *transport.Message {
	segs := req.AllOptions(transport.OptionURIPath)
	strSegs := make([]string, len(segs))
	for i, s := range segs {
		strSegs[i] = string(s)
	}

	if rewritten, ok := r.execRewrite[joinPath(strSegs)]; ok && req.Code == transport.CodePOST {
		strSegs = SplitURIPath(rewritten)
	}

	if len(strSegs) > 0 && strSegs[0] == "bs" {
		if req.Code != transport.CodePOST {
			return errorResponse(req, lwm2merr.MethodNotAllowed)
		}
		if r.BootstrapFinish != nil {
			r.BootstrapFinish(ssid)
		}
		return okResponse(req, lwm2merr.Changed, nil)
	}

	path, err := ParsePath(strSegs)
	if err != nil {
		return errorResponse(req, lwm2merr.BadRequest)
	}

	if path.Depth == 0 {
		if req.Code == transport.CodeDELETE {
			if r.FactoryReset == nil {
				return errorResponse(req, lwm2merr.MethodNotAllowed)
			}
			if err := r.FactoryReset(); err != nil {
				return errorResponse(req, lwm2merr.InternalServerError)
			}
			return okResponse(req, lwm2merr.Deleted, nil)
		}
		return errorResponse(req, lwm2merr.MethodNotAllowed)
	}

	h, ok := r.objects[path.ObjectID]
	if !ok && path.AliasSegment != "" {
		h, ok = r.findByAlias(path.AliasSegment)
	}
	if !ok {
		return errorResponse(req, lwm2merr.NotFound)
	}

	op, discover := classify(req, path, h)

	// Object 2 (Access-Control) additionally gates instance-level writes
	// through the owner/bootstrap-server authorization rule (spec §4.G);
	// that check lives in the Access-Control handler's own Write/Delete
	// implementations (see internal/objects/accesscontrol.go) rather than
	// here. Its ACL method returns nil, so the ACL mask check below does
	// not apply to /2.

	if a := h.ACL(path.InstanceID); a != nil {
		want := permissionFor(op, discover)
		if err := a.Allows(ssid, want); err != nil {
			return errorResponse(req, lwm2merr.Unauthorized)
		}
	}

	if path.Depth >= 2 && !h.InstanceExists(path.InstanceID) && op != opCreate {
		return errorResponse(req, lwm2merr.NotFound)
	}

	switch op {
	case opDiscover:
		body, err := h.Discover(path, ssid)
		if err != nil {
			return errorResponse(req, lwm2merr.CodeFor(err))
		}
		return okResponse(req, lwm2merr.Content, body)
	case opRead:
		body, err := h.Read(path, ssid)
		if err != nil {
			return errorResponse(req, lwm2merr.CodeFor(err))
		}
		return okResponse(req, lwm2merr.Content, body)
	case opWriteAttributes:
		if err := r.writeAttributes(req, path, ssid); err != nil {
			return errorResponse(req, lwm2merr.CodeFor(err))
		}
		return okResponse(req, lwm2merr.Changed, nil)
	case opObserveRegister:
		body, err := h.Read(path, ssid)
		if err != nil {
			return errorResponse(req, lwm2merr.CodeFor(err))
		}
		if r.observer != nil {
			_, _ = r.observer.Register(observe.Observer{
				ShortServerID: ssid,
				RemoteAddr:    peerKey(peer),
				Token:         append([]byte(nil), req.Token...),
				ResourcePath:  path.String(),
			})
		}
		resp := okResponse(req, lwm2merr.Content, body)
		resp.AddOption(transport.OptionObserve, coapopt.EncodeUint(0))
		return resp
	case opObserveDeregister:
		if r.observer != nil {
			if handle, ok := r.observer.FindMatching(peerKey(peer), path.String()); ok {
				r.observer.Unregister(handle)
			}
		}
		body, err := h.Read(path, ssid)
		if err != nil {
			return errorResponse(req, lwm2merr.CodeFor(err))
		}
		return okResponse(req, lwm2merr.Content, body)
	case opWrite:
		var block *Block1
		if v, ok := req.FindOption(transport.OptionBlock1); ok {
			b, berr := coapopt.DecodeBlockOption(v)
			if berr != nil {
				return errorResponse(req, lwm2merr.BadRequest)
			}
			block = &Block1{Number: b.Number, More: b.More, Size: int(b.Size)}
		}
		if err := h.Write(path, ssid, req.Payload, block); err != nil {
			return errorResponse(req, lwm2merr.CodeFor(err))
		}
		if block != nil {
			resp := okResponse(req, lwm2merr.Changed, nil)
			if block.More {
				resp.Code = transport.Code(lwm2merr.Continue)
			}
			opt, _ := coapopt.EncodeBlockOption(coapopt.Block{Number: block.Number, More: block.More, Size: uint16(block.Size)})
			resp.AddOption(transport.OptionBlock1, opt)
			return resp
		}
		return okResponse(req, lwm2merr.Changed, nil)
	case opCreate:
		iid, err := h.Create(req.Payload, ssid)
		if err != nil {
			return errorResponse(req, lwm2merr.CodeFor(err))
		}
		resp := okResponse(req, lwm2merr.Created, nil)
		resp.AddOption(transport.OptionLocationPath, []byte(itoa(path.ObjectID)))
		resp.AddOption(transport.OptionLocationPath, []byte(itoa(iid)))
		return resp
	case opExecute:
		if err := h.Execute(path, ssid, req.Payload); err != nil {
			return errorResponse(req, lwm2merr.CodeFor(err))
		}
		return okResponse(req, lwm2merr.Changed, nil)
	case opDelete:
		if err := h.Delete(path, ssid); err != nil {
			return errorResponse(req, lwm2merr.CodeFor(err))
		}
		return okResponse(req, lwm2merr.Deleted, nil)
	default:
		return errorResponse(req, lwm2merr.MethodNotAllowed)
	}
}

type operation int

const (
	opRead operation = iota
	opWrite
	opCreate
	opExecute
	opDelete
	opDiscover
	opObserveRegister
	opObserveDeregister
	opWriteAttributes
)

// classify maps the request code + options + path depth to the abstract
// operation per spec §4.F's table: POST at depth 2 is Write if the
// instance exists, Create otherwise; POST at depth 3 is always Execute
// (resource-level POST never creates); GET carrying the Observe option
// is register (value 0) or deregister (value 1) instead of a plain Read;
// a PUT whose Uri-Query carries attribute keys (pmin=/pmax=/gt=/lt=/st=)
// is a write-attributes request rather than a resource write.
func classify(req *transport.Message, path Path, h Handler) (op operation, discover bool) {
	if v, ok := req.FindOption(transport.OptionAccept); ok {
		if u, _ := decodeAcceptFormat(v); u == transport.ContentFormatLinkFormat {
			return opDiscover, true
		}
	}
	switch req.Code {
	case transport.CodeGET:
		if v, ok := req.FindOption(transport.OptionObserve); ok {
			n, err := coapopt.DecodeUint(v)
			if err == nil && n == 0 {
				return opObserveRegister, false
			}
			if err == nil && n == 1 {
				return opObserveDeregister, false
			}
		}
		return opRead, false
	case transport.CodePUT:
		if isAttributeQuery(req.AllOptions(transport.OptionURIQuery)) {
			return opWriteAttributes, false
		}
		return opWrite, false
	case transport.CodePOST:
		if path.Depth == 3 {
			return opExecute, false
		}
		if h.InstanceExists(path.InstanceID) {
			return opWrite, false
		}
		return opCreate, false
	case transport.CodeDELETE:
		return opDelete, false
	default:
		return opRead, false
	}
}

func decodeAcceptFormat(v []byte) (uint32, error) {
	var u uint32
	for _, b := range v {
		u = u<<8 | uint32(b)
	}
	return u, nil
}

func permissionFor(op operation, discover bool) acl.Permission {
	if discover {
		return acl.PermDiscover
	}
	switch op {
	case opRead:
		return acl.PermRead
	case opWrite:
		return acl.PermWrite
	case opCreate:
		return acl.PermCreate
	case opExecute:
		return acl.PermExecute
	case opDelete:
		return acl.PermDelete
	case opObserveRegister, opObserveDeregister:
		return acl.PermObserve
	case opWriteAttributes:
		return acl.PermWriteAttr
	default:
		return acl.PermRead
	}
}

// attributeQueryKeys are the Uri-Query prefixes that mark a PUT as a
// write-attributes request rather than a resource write (spec §4.J).
var attributeQueryKeys = []string{"pmin=", "pmax=", "gt=", "lt=", "st="}

func isAttributeQuery(queries [][]byte) bool {
	for _, q := range queries {
		s := string(q)
		for _, prefix := range attributeQueryKeys {
			if strings.HasPrefix(s, prefix) {
				return true
			}
		}
	}
	return false
}

// writeAttributes parses the Uri-Query pmin=/pmax=/gt=/lt=/st= values
// and applies them via the attribute engine at the level implied by the
// request path's depth.
func (r *Registry) writeAttributes(req *transport.Message, path Path, ssid uint16) error {
	if r.attrs == nil {
		return lwm2merr.ErrMethodNotAllowed
	}
	pmin, pmax, gt, lt, st, err := parseAttributeQuery(req.AllOptions(transport.OptionURIQuery))
	if err != nil {
		return err
	}
	return r.attrs.WriteAttributes(path.String(), ssid, levelForDepth(path.Depth), pmin, pmax, gt, lt, st)
}

func levelForDepth(depth int) attributes.Level {
	switch depth {
	case 2:
		return attributes.LevelInstance
	case 3:
		return attributes.LevelResource
	default:
		return attributes.LevelObject
	}
}

func parseAttributeQuery(queries [][]byte) (pmin, pmax *int, gt, lt, st *float64, err error) {
	for _, q := range queries {
		key, val, ok := strings.Cut(string(q), "=")
		if !ok || val == "" {
			continue // no value, or empty value meaning "unset": nothing to apply
		}
		switch key {
		case "pmin", "pmax":
			v, perr := strconv.Atoi(val)
			if perr != nil {
				return nil, nil, nil, nil, nil, lwm2merr.Coded(lwm2merr.ErrInvalidEncoding, lwm2merr.BadRequest)
			}
			if key == "pmin" {
				pmin = &v
			} else {
				pmax = &v
			}
		case "gt", "lt", "st":
			v, perr := strconv.ParseFloat(val, 64)
			if perr != nil {
				return nil, nil, nil, nil, nil, lwm2merr.Coded(lwm2merr.ErrInvalidEncoding, lwm2merr.BadRequest)
			}
			switch key {
			case "gt":
				gt = &v
			case "lt":
				lt = &v
			case "st":
				st = &v
			}
		}
	}
	return pmin, pmax, gt, lt, st, nil
}

// peerKey renders peer's address as the remote-address string the
// observer store keys registrations by, tolerating a nil peer (as seen
// in unit tests that dispatch without a live connection).
func peerKey(peer net.Addr) string {
	if peer == nil {
		return ""
	}
	return peer.String()
}

func okResponse(req *transport.Message, code lwm2merr.ResponseCode, payload []byte) *transport.Message {
	return &transport.Message{
		Type:    ackType(req),
		Code:    transport.Code(code),
		MID:     req.MID,
		Token:   req.Token,
		Payload: payload,
	}
}

func errorResponse(req *transport.Message, code lwm2merr.ResponseCode) *transport.Message {
	return &transport.Message{
		Type:  ackType(req),
		Code:  transport.Code(code),
		MID:   req.MID,
		Token: req.Token,
	}
}

func ackType(req *transport.Message) transport.Type {
	if req.Type == transport.TypeConfirmable {
		return transport.TypeAcknowledgement
	}
	return transport.TypeNonConfirmable
}

func joinPath(segs []string) string {
	out := ""
	for _, s := range segs {
		out += "/" + s
	}
	return out
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
