// ConnectivityStats is the supplemented /7 object (DESIGN.md §3.H):
// SMS/TX-RX byte and message counters plus start/stop collection
// resources, grounded on original_source's lwm2m_conn_mon.c /
// lwm2m_gsma_objects.c coverage that the distilled spec collapsed into
// "read-only telemetry".
package objects

import (
	"time"

	"github.com/nordic-iot/lwm2m-carrier/internal/acl"
	"github.com/nordic-iot/lwm2m-carrier/internal/registry"
	"github.com/nordic-iot/lwm2m-carrier/internal/tlv"
)

const (
	ResStatsSMSTxCount uint16 = 0
	ResStatsSMSRxCount uint16 = 1
	ResStatsTxData     uint16 = 2
	ResStatsRxData     uint16 = 3
	ResStatsStart      uint16 = 5
	ResStatsStop       uint16 = 6
	ResStatsCollectionDuration uint16 = 8
)

type ConnectivityStats struct {
	aclTable
	SMSTxCount int32
	SMSRxCount int32
	TxDataKB   int32
	RxDataKB   int32

	collecting bool
	startedAt  time.Time
}

func NewConnectivityStats(owner uint16) *ConnectivityStats {
	s := &ConnectivityStats{aclTable: newACLTable()}
	s.ensure(0, owner)
	return s
}

func (s *ConnectivityStats) ObjectID() uint16 { return ObjectConnectivityStats }
func (s *ConnectivityStats) Alias() string    { return "" }
func (s *ConnectivityStats) Capabilities() acl.Permission {
	return acl.PermRead | acl.PermExecute | acl.PermDiscover | acl.PermObserve
}
func (s *ConnectivityStats) ACL(iid uint16) *acl.ACL       { return s.get(iid) }
func (s *ConnectivityStats) InstanceIDs() []uint16         { return []uint16{0} }
func (s *ConnectivityStats) InstanceExists(iid uint16) bool { return iid == 0 }

func (s *ConnectivityStats) Read(p registry.Path, ssid uint16) ([]byte, error) {
	if p.InstanceID != 0 {
		return nil, notFound()
	}
	rid := p.ResourceID
	if p.Depth == 2 {
		var out []byte
		for _, r := range []uint16{ResStatsSMSTxCount, ResStatsSMSRxCount, ResStatsTxData, ResStatsRxData, ResStatsCollectionDuration} {
			b, _ := s.readResource(r)
			out = append(out, b...)
		}
		return out, nil
	}
	return s.readResource(rid)
}

func (s *ConnectivityStats) readResource(rid uint16) ([]byte, error) {
	switch rid {
	case ResStatsSMSTxCount:
		return tlv.EncodeInt32(rid, s.SMSTxCount)
	case ResStatsSMSRxCount:
		return tlv.EncodeInt32(rid, s.SMSRxCount)
	case ResStatsTxData:
		return tlv.EncodeInt32(rid, s.TxDataKB)
	case ResStatsRxData:
		return tlv.EncodeInt32(rid, s.RxDataKB)
	case ResStatsCollectionDuration:
		d := int32(0)
		if s.collecting {
			d = int32(time.Since(s.startedAt).Seconds())
		}
		return tlv.EncodeInt32(rid, d)
	default:
		return nil, notFound()
	}
}

func (s *ConnectivityStats) Write(p registry.Path, ssid uint16, value []byte, block *registry.Block1) error {
	return methodNotAllowed()
}

func (s *ConnectivityStats) Execute(p registry.Path, ssid uint16, arg []byte) error {
	switch p.ResourceID {
	case ResStatsStart:
		s.collecting = true
		s.startedAt = time.Now()
		s.SMSTxCount, s.SMSRxCount, s.TxDataKB, s.RxDataKB = 0, 0, 0, 0
		return nil
	case ResStatsStop:
		s.collecting = false
		return nil
	default:
		return methodNotAllowed()
	}
}

func (s *ConnectivityStats) Discover(p registry.Path, ssid uint16) ([]byte, error) {
	return linkFormatForObject(ObjectConnectivityStats, []uint16{0}), nil
}
func (s *ConnectivityStats) Create(value []byte, ssid uint16) (uint16, error) {
	return 0, methodNotAllowed()
}
func (s *ConnectivityStats) Delete(p registry.Path, ssid uint16) error { return methodNotAllowed() }
