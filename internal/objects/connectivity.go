package objects

import (
	"github.com/nordic-iot/lwm2m-carrier/internal/acl"
	"github.com/nordic-iot/lwm2m-carrier/internal/registry"
	"github.com/nordic-iot/lwm2m-carrier/internal/tlv"
)

const (
	ResConnNetworkBearer uint16 = 0
	ResConnSignalStrength uint16 = 2
	ResConnCellID        uint16 = 8
	ResConnPLMN          uint16 = 10
	// Supplemented cellular telemetry (DESIGN.md §3.H), sourced from the
	// original conn_mon/gsma object coverage the distillation collapsed
	// into "read-only telemetry".
	ResConnRSRP uint16 = 100
	ResConnRSRQ uint16 = 101
)

// Telemetry is a point-in-time read from the modem oracle backing the
// Connectivity object.
type Telemetry struct {
	NetworkBearer  int32
	SignalStrength int32
	CellID         int32
	PLMN           string
	RSRP           int32
	RSRQ           int32
}

// Connectivity is the read-only /4 object handler; values are sourced
// from a caller-supplied fetch function (the modem oracle) on every
// read rather than cached, since this is observable telemetry.
type Connectivity struct {
	aclTable
	Fetch func() Telemetry
}

func NewConnectivity(owner uint16, fetch func() Telemetry) *Connectivity {
	c := &Connectivity{aclTable: newACLTable(), Fetch: fetch}
	c.ensure(0, owner)
	return c
}

func (c *Connectivity) ObjectID() uint16 { return ObjectConnectivity }
func (c *Connectivity) Alias() string    { return "" }
func (c *Connectivity) Capabilities() acl.Permission {
	return acl.PermRead | acl.PermDiscover | acl.PermObserve
}
func (c *Connectivity) ACL(iid uint16) *acl.ACL       { return c.get(iid) }
func (c *Connectivity) InstanceIDs() []uint16         { return []uint16{0} }
func (c *Connectivity) InstanceExists(iid uint16) bool { return iid == 0 }

func (c *Connectivity) Read(p registry.Path, ssid uint16) ([]byte, error) {
	if p.InstanceID != 0 {
		return nil, notFound()
	}
	t := c.Fetch()
	if p.Depth == 3 {
		return readTelemetry(t, p.ResourceID)
	}
	var out []byte
	for _, rid := range []uint16{ResConnNetworkBearer, ResConnSignalStrength, ResConnCellID, ResConnPLMN, ResConnRSRP, ResConnRSRQ} {
		b, _ := readTelemetry(t, rid)
		out = append(out, b...)
	}
	return out, nil
}

func readTelemetry(t Telemetry, rid uint16) ([]byte, error) {
	switch rid {
	case ResConnNetworkBearer:
		return tlv.EncodeInt32(rid, t.NetworkBearer)
	case ResConnSignalStrength:
		return tlv.EncodeInt32(rid, t.SignalStrength)
	case ResConnCellID:
		return tlv.EncodeInt32(rid, t.CellID)
	case ResConnPLMN:
		return tlv.Encode(tlv.KindResourceValue, rid, []byte(t.PLMN))
	case ResConnRSRP:
		return tlv.EncodeInt32(rid, t.RSRP)
	case ResConnRSRQ:
		return tlv.EncodeInt32(rid, t.RSRQ)
	default:
		return nil, notFound()
	}
}

func (c *Connectivity) Write(p registry.Path, ssid uint16, value []byte, block *registry.Block1) error {
	return methodNotAllowed()
}
func (c *Connectivity) Execute(p registry.Path, ssid uint16, arg []byte) error {
	return methodNotAllowed()
}
func (c *Connectivity) Discover(p registry.Path, ssid uint16) ([]byte, error) {
	return linkFormatForObject(ObjectConnectivity, []uint16{0}), nil
}
func (c *Connectivity) Create(value []byte, ssid uint16) (uint16, error) {
	return 0, methodNotAllowed()
}
func (c *Connectivity) Delete(p registry.Path, ssid uint16) error { return methodNotAllowed() }
