// Package objects hosts the core object-type handlers (spec §4.H):
// Security, Server, Access-Control, Device, Connectivity, Firmware, plus
// the supplemented Connectivity Statistics object. Each implements
// registry.Handler.
package objects

import (
	"sync"

	"github.com/nordic-iot/lwm2m-carrier/internal/acl"
	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
)

const (
	ObjectSecurity             uint16 = 0
	ObjectServer               uint16 = 1
	ObjectAccessControl        uint16 = 2
	ObjectDevice               uint16 = 3
	ObjectConnectivity         uint16 = 4
	ObjectFirmware             uint16 = 5
	ObjectConnectivityStats    uint16 = 7
)

// aclTable is embedded by handlers whose instances carry an ACL row,
// tracking the next stable acl.id the way lwm2m_access_control.c hands
// out ACL instance ids alongside object instances.
type aclTable struct {
	mu      sync.Mutex
	byIID   map[uint16]*acl.ACL
	nextID  uint16
}

func newACLTable() aclTable {
	return aclTable{byIID: make(map[uint16]*acl.ACL)}
}

func (t *aclTable) ensure(iid uint16, owner uint16) *acl.ACL {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.byIID[iid]; ok {
		return a
	}
	a := acl.New(t.nextID, owner)
	t.nextID++
	t.byIID[iid] = a
	return a
}

func (t *aclTable) get(iid uint16) *acl.ACL {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byIID[iid]
}

func (t *aclTable) remove(iid uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byIID, iid)
}

func notFound() error { return lwm2merr.Coded(lwm2merr.ErrNotFound, lwm2merr.NotFound) }

func methodNotAllowed() error {
	return lwm2merr.Coded(lwm2merr.ErrMethodNotAllowed, lwm2merr.MethodNotAllowed)
}
