package objects

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nordic-iot/lwm2m-carrier/internal/acl"
	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
	"github.com/nordic-iot/lwm2m-carrier/internal/registry"
	"github.com/nordic-iot/lwm2m-carrier/internal/tlv"
)

const (
	ResDeviceReboot         uint16 = 4
	ResDeviceFactoryReset   uint16 = 5
	ResDeviceErrorCode      uint16 = 11
	ResDeviceResetErrorCode uint16 = 12
	ResDeviceCurrentTime    uint16 = 13
	ResDeviceUTCOffset      uint16 = 14
	ResDeviceTimezone       uint16 = 15
)

var timezoneRe = regexp.MustCompile(`^(?:UTC)?([+-])(\d{2})(?::?(\d{2}))?$`)

// ParseTimezone accepts the "+hh", "+hhmm", "+hh:mm" forms, optionally
// UTC-prefixed, per spec §4.H, returning the offset as a duration.
func ParseTimezone(s string) (time.Duration, error) {
	m := timezoneRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, lwm2merr.Coded(lwm2merr.ErrInvalidArgument, lwm2merr.BadRequest)
	}
	hh, _ := strconv.Atoi(m[2])
	mm := 0
	if m[3] != "" {
		mm, _ = strconv.Atoi(m[3])
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

// Device is the /3 object handler. Only instance 0 exists, per the
// LwM2M convention for single-instance device objects.
type Device struct {
	aclTable
	ErrorCodes []int32
	Timezone   string
	UTCOffset  string

	OnReboot       func() error
	OnFactoryReset func() error
}

func NewDevice(owner uint16) *Device {
	d := &Device{aclTable: newACLTable()}
	d.ensure(0, owner)
	return d
}

func (d *Device) ObjectID() uint16 { return ObjectDevice }
func (d *Device) Alias() string    { return "" }
func (d *Device) Capabilities() acl.Permission {
	return acl.PermRead | acl.PermWrite | acl.PermExecute | acl.PermDiscover | acl.PermObserve
}
func (d *Device) ACL(iid uint16) *acl.ACL { return d.get(iid) }
func (d *Device) InstanceIDs() []uint16    { return []uint16{0} }
func (d *Device) InstanceExists(iid uint16) bool { return iid == 0 }

func (d *Device) Read(p registry.Path, ssid uint16) ([]byte, error) {
	if p.InstanceID != 0 {
		return nil, notFound()
	}
	if p.Depth == 2 {
		return d.readAll()
	}
	return d.readResource(p.ResourceID)
}

func (d *Device) readAll() ([]byte, error) {
	var out []byte
	for _, rid := range []uint16{ResDeviceCurrentTime, ResDeviceUTCOffset, ResDeviceTimezone} {
		b, err := d.readResource(rid)
		if err != nil {
			continue
		}
		out = append(out, b...)
	}
	return out, nil
}

func (d *Device) readResource(rid uint16) ([]byte, error) {
	switch rid {
	case ResDeviceCurrentTime:
		return tlv.EncodeInt32(rid, int32(time.Now().Unix()))
	case ResDeviceUTCOffset:
		return tlv.Encode(tlv.KindResourceValue, rid, []byte(d.UTCOffset))
	case ResDeviceTimezone:
		return tlv.Encode(tlv.KindResourceValue, rid, []byte(d.Timezone))
	case ResDeviceErrorCode:
		var children []byte
		for i, code := range d.ErrorCodes {
			el, _ := tlv.Encode(tlv.KindResourceInstance, uint16(i), tlv.IntegerBytes(code))
			children = append(children, el...)
		}
		return tlv.EncodeMultiResource(rid, children)
	default:
		return nil, notFound()
	}
}

func (d *Device) Write(p registry.Path, ssid uint16, value []byte, block *registry.Block1) error {
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
			if err := d.writeResource(el.ID, el.Value); err != nil {
				return err
			}
		}
		return nil
	}
	return d.writeResource(rid, value)
}

func (d *Device) writeResource(rid uint16, value []byte) error {
	switch rid {
	case ResDeviceTimezone:
		if _, err := ParseTimezone(string(value)); err != nil {
			return err
		}
		d.Timezone = string(value)
	case ResDeviceUTCOffset:
		d.UTCOffset = string(value)
	default:
		return methodNotAllowed()
	}
	return nil
}

func (d *Device) Execute(p registry.Path, ssid uint16, arg []byte) error {
	switch p.ResourceID {
	case ResDeviceReboot:
		if d.OnReboot != nil {
			return d.OnReboot()
		}
		return nil
	case ResDeviceFactoryReset:
		if d.OnFactoryReset != nil {
			return d.OnFactoryReset()
		}
		return nil
	case ResDeviceResetErrorCode:
		d.ErrorCodes = nil
		return nil
	default:
		return methodNotAllowed()
	}
}

func (d *Device) Discover(p registry.Path, ssid uint16) ([]byte, error) {
	return linkFormatForObject(ObjectDevice, []uint16{0}), nil
}

func (d *Device) Create(value []byte, ssid uint16) (uint16, error) {
	return 0, methodNotAllowed()
}

func (d *Device) Delete(p registry.Path, ssid uint16) error {
	return methodNotAllowed()
}
