package objects

import (
	"github.com/nordic-iot/lwm2m-carrier/internal/acl"
	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
	"github.com/nordic-iot/lwm2m-carrier/internal/registry"
	"github.com/nordic-iot/lwm2m-carrier/internal/tlv"
)

// Security resource ids.
const (
	ResSecurityURI           uint16 = 0
	ResSecurityIsBootstrap   uint16 = 1
	ResSecurityMode          uint16 = 2
	ResSecurityCredentials   uint16 = 5
	ResSecurityShortServerID uint16 = 10
	ResSecurityHoldOffS      uint16 = 11
)

// SecurityInstance is a per-server security record (spec §3: 1-to-1 with
// a Server Record by short_server_id). Never exposed to operational
// servers — the object's Read and Discover always fail with Method Not
// Allowed.
type SecurityInstance struct {
	ShortServerID uint16
	URI           string
	IsBootstrap   bool
	SecMode       uint8
	HoldOffS      int
	Credentials   []byte
	Bootstrapped  bool
}

// Security is the /0 object handler. It carries no ACL rows: every
// lookup is skipped via ACL returning nil, matching "never exposed to
// operational servers" (spec §4.H).
type Security struct {
	instances map[uint16]*SecurityInstance
	nextIID   uint16
}

func NewSecurity() *Security {
	return &Security{instances: make(map[uint16]*SecurityInstance)}
}

func (s *Security) ObjectID() uint16          { return ObjectSecurity }
func (s *Security) Alias() string             { return "" }
func (s *Security) Capabilities() acl.Permission {
	return acl.PermRead | acl.PermWrite | acl.PermCreate | acl.PermDelete
}
func (s *Security) ACL(uint16) *acl.ACL { return nil }

func (s *Security) InstanceIDs() []uint16 {
	ids := make([]uint16, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	return ids
}

func (s *Security) InstanceExists(iid uint16) bool {
	_, ok := s.instances[iid]
	return ok
}

// AddInstance inserts (or replaces) a security record at iid, used by
// the bootstrap handoff and by configuration load for static entries.
func (s *Security) AddInstance(iid uint16, rec SecurityInstance) {
	r := rec
	s.instances[iid] = &r
}

func (s *Security) Get(iid uint16) (*SecurityInstance, bool) {
	r, ok := s.instances[iid]
	return r, ok
}

func (s *Security) Read(p registry.Path, ssid uint16) ([]byte, error) {
	// Security is never exposed over the wire (spec §4.H); reads are
	// served only in-process via Get.
	return nil, methodNotAllowed()
}

func (s *Security) Write(p registry.Path, ssid uint16, value []byte, block *registry.Block1) error {
	inst, ok := s.instances[p.InstanceID]
	if !ok {
		return notFound()
	}
	if p.Depth == 2 {
		return s.writeInstance(inst, value)
	}
	el, err := decodeSingle(value)
	if err != nil {
		return err
	}
	return applySecurityResource(inst, p.ResourceID, el)
}

func (s *Security) writeInstance(inst *SecurityInstance, value []byte) error {
	elems, err := tlv.DecodeAll(value)
	if err != nil {
		return lwm2merr.Coded(err, lwm2merr.BadRequest)
	}
	for _, el := range elems {
		if err := applySecurityResource(inst, el.ID, el); err != nil {
			return err
		}
	}
	return nil
}

func applySecurityResource(inst *SecurityInstance, rid uint16, el tlv.Element) error {
	switch rid {
	case ResSecurityURI:
		inst.URI = string(el.Value)
	case ResSecurityIsBootstrap:
		inst.IsBootstrap = len(el.Value) > 0 && el.Value[0] != 0
	case ResSecurityMode:
		v, err := tlv.DecodeInt32(el.Value)
		if err != nil {
			return lwm2merr.Coded(err, lwm2merr.BadRequest)
		}
		inst.SecMode = uint8(v)
	case ResSecurityCredentials:
		inst.Credentials = append([]byte(nil), el.Value...)
	case ResSecurityShortServerID:
		v, err := tlv.DecodeInt32(el.Value)
		if err != nil {
			return lwm2merr.Coded(err, lwm2merr.BadRequest)
		}
		inst.ShortServerID = uint16(v)
	case ResSecurityHoldOffS:
		v, err := tlv.DecodeInt32(el.Value)
		if err != nil {
			return lwm2merr.Coded(err, lwm2merr.BadRequest)
		}
		inst.HoldOffS = int(v)
	default:
		return lwm2merr.Coded(lwm2merr.ErrNotFound, lwm2merr.NotFound)
	}
	return nil
}

func decodeSingle(buf []byte) (tlv.Element, error) {
	el, _, err := tlv.Decode(buf)
	if err != nil {
		return tlv.Element{}, lwm2merr.Coded(err, lwm2merr.BadRequest)
	}
	return el, nil
}

func (s *Security) Execute(p registry.Path, ssid uint16, arg []byte) error {
	return methodNotAllowed()
}

func (s *Security) Discover(p registry.Path, ssid uint16) ([]byte, error) {
	// Security object is omitted from link-format output (spec §6).
	return nil, methodNotAllowed()
}

func (s *Security) Create(value []byte, ssid uint16) (uint16, error) {
	iid := s.nextIID
	s.nextIID++
	inst := &SecurityInstance{}
	s.instances[iid] = inst
	if err := s.writeInstance(inst, value); err != nil {
		delete(s.instances, iid)
		return 0, err
	}
	return iid, nil
}

func (s *Security) Delete(p registry.Path, ssid uint16) error {
	if _, ok := s.instances[p.InstanceID]; !ok {
		return notFound()
	}
	delete(s.instances, p.InstanceID)
	return nil
}

// CompleteBootstrap marks every operational (non-bootstrap) security
// instance as bootstrapped, grounded on
// original_source/lib/lwm2m_carrier/src/lwm2m_carrier_client.c's
// client_bootstrap_complete(): the bootstrap server has already written
// the operational instance's fresh URI and credentials via ordinary
// Write calls during the bootstrap exchange (spec end-to-end scenario
// 1's "/0/1 and /1/1" writes); this hook only flips the flag that lets
// Register proceed against the newly provisioned instance.
func (s *Security) CompleteBootstrap() {
	for _, inst := range s.instances {
		if !inst.IsBootstrap {
			inst.Bootstrapped = true
		}
	}
}
