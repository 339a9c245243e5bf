package objects

import (
	"github.com/nordic-iot/lwm2m-carrier/internal/acl"
	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
	"github.com/nordic-iot/lwm2m-carrier/internal/registry"
	"github.com/nordic-iot/lwm2m-carrier/internal/tlv"
)

const (
	ResServerShortServerID    uint16 = 0
	ResServerLifetime         uint16 = 1
	ResServerDefaultMinPeriod uint16 = 2
	ResServerDefaultMaxPeriod uint16 = 3
	ResServerDisable          uint16 = 4
	ResServerDisableTimeout   uint16 = 5
	ResServerNotifyStoring    uint16 = 6
	ResServerBinding          uint16 = 7
	ResServerUpdateTrigger    uint16 = 8
)

// ServerInstance is the per-operational-server Server object record
// (spec §3 Server Record / §4.H).
type ServerInstance struct {
	ShortServerID     uint16
	LifetimeS         int
	DefaultMinPeriodS int
	DefaultMaxPeriodS int
	DisableTimeoutS   int
	NotificationStoring bool
	Binding           string
	Registered        bool
	LocationPath      string
}

// Server is the /1 object handler.
type Server struct {
	aclTable
	instances map[uint16]*ServerInstance

	// OnDisable is invoked when a peer executes the Disable resource;
	// it should schedule the §4.I disable task for this ssid.
	OnDisable func(ssid uint16)
	// OnUpdateTrigger is invoked on Registration-Update-Trigger execute;
	// it should schedule an immediate update task for this ssid.
	OnUpdateTrigger func(ssid uint16)
}

func NewServer() *Server {
	return &Server{aclTable: newACLTable(), instances: make(map[uint16]*ServerInstance)}
}

func (s *Server) ObjectID() uint16 { return ObjectServer }
func (s *Server) Alias() string    { return "" }
func (s *Server) Capabilities() acl.Permission {
	return acl.PermRead | acl.PermWrite | acl.PermExecute | acl.PermDiscover | acl.PermObserve
}
func (s *Server) ACL(iid uint16) *acl.ACL { return s.get(iid) }

func (s *Server) InstanceIDs() []uint16 {
	ids := make([]uint16, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	return ids
}

func (s *Server) InstanceExists(iid uint16) bool {
	_, ok := s.instances[iid]
	return ok
}

func (s *Server) AddInstance(iid uint16, rec ServerInstance, owner uint16) {
	r := rec
	s.instances[iid] = &r
	s.ensure(iid, owner)
}

func (s *Server) Get(iid uint16) (*ServerInstance, bool) {
	r, ok := s.instances[iid]
	return r, ok
}

func (s *Server) Read(p registry.Path, ssid uint16) ([]byte, error) {
	inst, ok := s.instances[p.InstanceID]
	if !ok {
		return nil, notFound()
	}
	if p.Depth == 3 {
		return readResource(inst, p.ResourceID)
	}
	return encodeInstance(inst)
}

func readResource(inst *ServerInstance, rid uint16) ([]byte, error) {
	switch rid {
	case ResServerShortServerID:
		return tlv.EncodeInt32(rid, int32(inst.ShortServerID))
	case ResServerLifetime:
		return tlv.EncodeInt32(rid, int32(inst.LifetimeS))
	case ResServerDefaultMinPeriod:
		return tlv.EncodeInt32(rid, int32(inst.DefaultMinPeriodS))
	case ResServerDefaultMaxPeriod:
		return tlv.EncodeInt32(rid, int32(inst.DefaultMaxPeriodS))
	case ResServerDisableTimeout:
		return tlv.EncodeInt32(rid, int32(inst.DisableTimeoutS))
	case ResServerBinding:
		return tlv.Encode(tlv.KindResourceValue, rid, []byte(inst.Binding))
	default:
		return nil, notFound()
	}
}

func encodeInstance(inst *ServerInstance) ([]byte, error) {
	var out []byte
	for _, rid := range []uint16{ResServerShortServerID, ResServerLifetime, ResServerDefaultMinPeriod, ResServerDefaultMaxPeriod, ResServerDisableTimeout, ResServerBinding} {
		b, err := readResource(inst, rid)
		if err != nil {
			continue
		}
		out = append(out, b...)
	}
	return out, nil
}

func (s *Server) Write(p registry.Path, ssid uint16, value []byte, block *registry.Block1) error {
	inst, ok := s.instances[p.InstanceID]
	if !ok {
		return notFound()
	}
	if p.Depth == 2 {
		elems, err := tlv.DecodeAll(value)
		if err != nil {
			return lwm2merr.Coded(err, lwm2merr.BadRequest)
		}
		for _, el := range elems {
			if err := writeResource(inst, el.ID, el.Value); err != nil {
				return err
			}
		}
		return nil
	}
	return writeResource(inst, p.ResourceID, value)
}

func writeResource(inst *ServerInstance, rid uint16, value []byte) error {
	switch rid {
	case ResServerLifetime:
		v, err := tlv.DecodeInt32(value)
		if err != nil {
			return lwm2merr.Coded(err, lwm2merr.BadRequest)
		}
		inst.LifetimeS = int(v)
	case ResServerDefaultMinPeriod:
		v, err := tlv.DecodeInt32(value)
		if err != nil {
			return lwm2merr.Coded(err, lwm2merr.BadRequest)
		}
		inst.DefaultMinPeriodS = int(v)
	case ResServerDefaultMaxPeriod:
		v, err := tlv.DecodeInt32(value)
		if err != nil {
			return lwm2merr.Coded(err, lwm2merr.BadRequest)
		}
		inst.DefaultMaxPeriodS = int(v)
	case ResServerDisableTimeout:
		v, err := tlv.DecodeInt32(value)
		if err != nil {
			return lwm2merr.Coded(err, lwm2merr.BadRequest)
		}
		inst.DisableTimeoutS = int(v)
	case ResServerBinding:
		inst.Binding = string(value)
	default:
		return notFound()
	}
	return nil
}

func (s *Server) Execute(p registry.Path, ssid uint16, arg []byte) error {
	inst, ok := s.instances[p.InstanceID]
	if !ok {
		return notFound()
	}
	switch p.ResourceID {
	case ResServerDisable:
		if s.OnDisable != nil {
			s.OnDisable(inst.ShortServerID)
		}
		return nil
	case ResServerUpdateTrigger:
		if s.OnUpdateTrigger != nil {
			s.OnUpdateTrigger(inst.ShortServerID)
		}
		return nil
	default:
		return methodNotAllowed()
	}
}

func (s *Server) Discover(p registry.Path, ssid uint16) ([]byte, error) {
	return linkFormatForObject(ObjectServer, s.InstanceIDs()), nil
}

func (s *Server) Create(value []byte, ssid uint16) (uint16, error) {
	return 0, methodNotAllowed()
}

func (s *Server) Delete(p registry.Path, ssid uint16) error {
	if _, ok := s.instances[p.InstanceID]; !ok {
		return notFound()
	}
	delete(s.instances, p.InstanceID)
	s.remove(p.InstanceID)
	return nil
}
