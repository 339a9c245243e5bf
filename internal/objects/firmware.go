package objects

import (
	"github.com/nordic-iot/lwm2m-carrier/internal/acl"
	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
	"github.com/nordic-iot/lwm2m-carrier/internal/registry"
	"github.com/nordic-iot/lwm2m-carrier/internal/tlv"
)

type FirmwareState int

const (
	FirmwareIdle FirmwareState = iota
	FirmwareDownloading
	FirmwareDownloaded
	FirmwareUpdating
)

type UpdateResult int

const (
	UpdateResultInitial UpdateResult = iota
	UpdateResultSuccess
	UpdateResultCRC UpdateResult = 9
)

const (
	ResFirmwarePackage    uint16 = 0
	ResFirmwarePackageURI uint16 = 1
	ResFirmwareUpdate     uint16 = 2
	ResFirmwareState      uint16 = 3
	ResFirmwareUpdateResult uint16 = 5
)

// Firmware is the /5 object handler: {Idle -> Downloading -> Downloaded
// -> Updating} per spec §4.H, accepting either a Package-URI pull or
// block-wise Package pushes.
type Firmware struct {
	aclTable
	State        FirmwareState
	UpdateResult UpdateResult
	PackageURI   string
	buffer       []byte

	// Verify is called on the final block of a push; returning an error
	// drives the CRC-fault transition back to Idle.
	Verify func(data []byte) error
	// OnUpdate schedules the actual reboot-and-apply (spec: "Execute
	// Update schedules a reboot").
	OnUpdate func() error
}

func NewFirmware(owner uint16) *Firmware {
	f := &Firmware{aclTable: newACLTable()}
	f.ensure(0, owner)
	return f
}

func (f *Firmware) ObjectID() uint16 { return ObjectFirmware }
func (f *Firmware) Alias() string    { return "" }
func (f *Firmware) Capabilities() acl.Permission {
	return acl.PermRead | acl.PermWrite | acl.PermExecute | acl.PermDiscover | acl.PermObserve
}
func (f *Firmware) ACL(iid uint16) *acl.ACL       { return f.get(iid) }
func (f *Firmware) InstanceIDs() []uint16         { return []uint16{0} }
func (f *Firmware) InstanceExists(iid uint16) bool { return iid == 0 }

func (f *Firmware) Read(p registry.Path, ssid uint16) ([]byte, error) {
	if p.InstanceID != 0 {
		return nil, notFound()
	}
	rid := p.ResourceID
	if p.Depth == 2 {
		rid = ResFirmwareState
	}
	switch rid {
	case ResFirmwareState:
		return tlv.EncodeInt32(ResFirmwareState, int32(f.State))
	case ResFirmwareUpdateResult:
		return tlv.EncodeInt32(ResFirmwareUpdateResult, int32(f.UpdateResult))
	case ResFirmwarePackageURI:
		return tlv.Encode(tlv.KindResourceValue, ResFirmwarePackageURI, []byte(f.PackageURI))
	default:
		return nil, notFound()
	}
}

// WriteBlock appends one Block1-framed chunk (spec e2e scenario 6). On
// the final block (more=false) it runs Verify; a verification failure
// transitions to Idle with UpdateResult=CRC rather than Downloaded.
func (f *Firmware) WriteBlock(data []byte, more bool) error {
	if f.State != FirmwareIdle && f.State != FirmwareDownloading {
		return lwm2merr.Coded(lwm2merr.ErrMethodNotAllowed, lwm2merr.MethodNotAllowed)
	}
	f.State = FirmwareDownloading
	f.buffer = append(f.buffer, data...)
	if more {
		return nil
	}

	if f.Verify != nil {
		if err := f.Verify(f.buffer); err != nil {
			f.State = FirmwareIdle
			f.UpdateResult = UpdateResultCRC
			f.buffer = nil
			return nil
		}
	}
	f.State = FirmwareDownloaded
	return nil
}

func (f *Firmware) Write(p registry.Path, ssid uint16, value []byte, block *registry.Block1) error {
	if p.InstanceID != 0 {
		return notFound()
	}
	rid := p.ResourceID
	if p.Depth == 2 {
		elems, err := tlv.DecodeAll(value)
		if err != nil {
			return lwm2merr.Coded(err, lwm2merr.BadRequest)
		}
		for _, el := range elems {
			if el.ID == ResFirmwarePackageURI {
				f.PackageURI = string(el.Value)
				f.State = FirmwareDownloading
			}
		}
		return nil
	}
	switch rid {
	case ResFirmwarePackageURI:
		f.PackageURI = string(value)
		f.State = FirmwareDownloading
		return nil
	case ResFirmwarePackage:
		more := block != nil && block.More
		return f.WriteBlock(value, more)
	default:
		return methodNotAllowed()
	}
}

func (f *Firmware) Execute(p registry.Path, ssid uint16, arg []byte) error {
	if p.ResourceID != ResFirmwareUpdate {
		return methodNotAllowed()
	}
	if f.State != FirmwareDownloaded {
		return lwm2merr.Coded(lwm2merr.ErrMethodNotAllowed, lwm2merr.MethodNotAllowed)
	}
	f.State = FirmwareUpdating
	if f.OnUpdate != nil {
		return f.OnUpdate()
	}
	return nil
}

func (f *Firmware) Discover(p registry.Path, ssid uint16) ([]byte, error) {
	return linkFormatForObject(ObjectFirmware, []uint16{0}), nil
}
func (f *Firmware) Create(value []byte, ssid uint16) (uint16, error) {
	return 0, methodNotAllowed()
}
func (f *Firmware) Delete(p registry.Path, ssid uint16) error { return methodNotAllowed() }
