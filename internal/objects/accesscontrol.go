package objects

import (
	"github.com/nordic-iot/lwm2m-carrier/internal/acl"
	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
	"github.com/nordic-iot/lwm2m-carrier/internal/registry"
	"github.com/nordic-iot/lwm2m-carrier/internal/tlv"
)

const (
	ResACLObjectID    uint16 = 0
	ResACLInstanceID  uint16 = 1
	ResACLEntries     uint16 = 2
	ResACLOwner       uint16 = 3
)

// AccessControlRow links a /2/<iid> instance to the (object_id,
// instance_id) it controls — the stable-index relationship spec §9
// prescribes in place of a raw pointer, grounded on
// lwm2m_access_control.c storing (object_id, instance_id) per row.
type AccessControlRow struct {
	TargetObjectID   uint16
	TargetInstanceID uint16
	ACL              *acl.ACL
}

// AccessControl is the /2 object handler. Updates to a row are
// authorized only when the requester is that row's owner or the
// bootstrap server (spec §4.G), enforced here in Write and Delete. ACL
// returns nil for /2, so the dispatcher applies no per-instance ACL-mask
// check to it; Read and Create are not gated by server id.
type AccessControl struct {
	rows    map[uint16]*AccessControlRow
	nextIID uint16
}

func NewAccessControl() *AccessControl {
	return &AccessControl{rows: make(map[uint16]*AccessControlRow)}
}

func (a *AccessControl) ObjectID() uint16 { return ObjectAccessControl }
func (a *AccessControl) Alias() string    { return "" }
func (a *AccessControl) Capabilities() acl.Permission {
	return acl.PermRead | acl.PermWrite | acl.PermCreate | acl.PermDelete | acl.PermDiscover
}
func (a *AccessControl) ACL(uint16) *acl.ACL { return nil } // ACL rows gate themselves below

func (a *AccessControl) InstanceIDs() []uint16 {
	ids := make([]uint16, 0, len(a.rows))
	for id := range a.rows {
		ids = append(ids, id)
	}
	return ids
}

func (a *AccessControl) InstanceExists(iid uint16) bool {
	_, ok := a.rows[iid]
	return ok
}

// NewRow creates a new /2 instance controlling (targetObj, targetInst),
// initially owned by the bootstrap server, mirroring
// lwm2m_access_control.c's instance-creation default of
// control_owner = BOOTSTRAP_SHORT_SERVER_ID.
func (a *AccessControl) NewRow(targetObj, targetInst uint16) (iid uint16, row *AccessControlRow) {
	iid = a.nextIID
	a.nextIID++
	row = &AccessControlRow{
		TargetObjectID:   targetObj,
		TargetInstanceID: targetInst,
		ACL:              acl.New(iid, acl.BootstrapShortServerID),
	}
	a.rows[iid] = row
	return iid, row
}

func (a *AccessControl) RowFor(targetObj, targetInst uint16) (*AccessControlRow, bool) {
	for _, row := range a.rows {
		if row.TargetObjectID == targetObj && row.TargetInstanceID == targetInst {
			return row, true
		}
	}
	return nil, false
}

func (a *AccessControl) Read(p registry.Path, ssid uint16) ([]byte, error) {
	row, ok := a.rows[p.InstanceID]
	if !ok {
		return nil, notFound()
	}
	var out []byte
	objID, _ := tlv.EncodeInt32(ResACLObjectID, int32(row.TargetObjectID))
	instID, _ := tlv.EncodeInt32(ResACLInstanceID, int32(row.TargetInstanceID))
	owner, _ := tlv.EncodeInt32(ResACLOwner, int32(row.ACL.Owner))
	out = append(out, objID...)
	out = append(out, instID...)
	out = append(out, owner...)
	return out, nil
}

func (a *AccessControl) Write(p registry.Path, ssid uint16, value []byte, block *registry.Block1) error {
	row, ok := a.rows[p.InstanceID]
	if !ok {
		return notFound()
	}
	if err := row.ACL.AuthorizeUpdate(ssid); err != nil {
		return err
	}

	if p.Depth == 3 && p.ResourceID == ResACLOwner {
		v, err := tlv.DecodeInt32(value)
		if err != nil {
			return lwm2merr.Coded(err, lwm2merr.BadRequest)
		}
		row.ACL.SetOwner(uint16(v))
		return nil
	}
	if p.Depth == 3 && p.ResourceID == ResACLEntries {
		return applyEntries(row, value)
	}
	if p.Depth == 2 {
		elems, err := tlv.DecodeAll(value)
		if err != nil {
			return lwm2merr.Coded(err, lwm2merr.BadRequest)
		}
		for _, el := range elems {
			if el.ID == ResACLOwner {
				v, err := tlv.DecodeInt32(el.Value)
				if err != nil {
					return lwm2merr.Coded(err, lwm2merr.BadRequest)
				}
				row.ACL.SetOwner(uint16(v))
			}
			if el.ID == ResACLEntries {
				if err := applyEntries(row, el.Value); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return methodNotAllowed()
}

// applyEntries decodes a multi-resource-instance list keyed by ssid,
// one bitmask per server id, into the row's ACL map.
func applyEntries(row *AccessControlRow, value []byte) error {
	elems, err := tlv.DecodeAll(value)
	if err != nil {
		return lwm2merr.Coded(err, lwm2merr.BadRequest)
	}
	for _, el := range elems {
		v, err := tlv.DecodeInt32(el.Value)
		if err != nil {
			return lwm2merr.Coded(err, lwm2merr.BadRequest)
		}
		row.ACL.SetEntry(el.ID, acl.Permission(v))
	}
	return nil
}

func (a *AccessControl) Execute(p registry.Path, ssid uint16, arg []byte) error {
	return methodNotAllowed()
}

func (a *AccessControl) Discover(p registry.Path, ssid uint16) ([]byte, error) {
	return linkFormatForObject(ObjectAccessControl, a.InstanceIDs()), nil
}

func (a *AccessControl) Create(value []byte, ssid uint16) (uint16, error) {
	elems, err := tlv.DecodeAll(value)
	if err != nil {
		return 0, lwm2merr.Coded(err, lwm2merr.BadRequest)
	}
	var targetObj, targetInst int32
	for _, el := range elems {
		switch el.ID {
		case ResACLObjectID:
			targetObj, _ = tlv.DecodeInt32(el.Value)
		case ResACLInstanceID:
			targetInst, _ = tlv.DecodeInt32(el.Value)
		}
	}
	iid, _ := a.NewRow(uint16(targetObj), uint16(targetInst))
	return iid, nil
}

func (a *AccessControl) Delete(p registry.Path, ssid uint16) error {
	row, ok := a.rows[p.InstanceID]
	if !ok {
		return notFound()
	}
	if err := row.ACL.AuthorizeUpdate(ssid); err != nil {
		return err
	}
	delete(a.rows, p.InstanceID)
	return nil
}
