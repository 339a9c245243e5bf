// Package observe implements the observer store (spec §4.D): up to
// MaxObservers fixed slots tracking (short-server-id, resource-pointer,
// token) subscriptions, serializable to the KV oracle so subscriptions
// survive a reconnect.
//
// Persistence grounded on glennswest-ipmiserial/discovery/cache.go's
// atomic save/load pattern, here going through internal/kv instead of a
// dedicated file.
package observe

import (
	"encoding/json"

	"github.com/nordic-iot/lwm2m-carrier/internal/kv"
	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
)

const MaxObservers = 8

// PersistKey is the KV key the observer store snapshot is saved under.
const PersistKey uint16 = 1

// Observer is one subscription.
type Observer struct {
	ShortServerID         uint16 `json:"ssid"`
	RemoteAddr            string `json:"remote_addr"`
	Token                 []byte `json:"token"`
	ResourcePath          string `json:"resource_path"`
	LastMID               uint16 `json:"last_mid"`
	LastNotificationAgeS  int    `json:"last_notification_age_s"`
	ConNotificationEpochS int64  `json:"con_notification_epoch_s"`
}

func (o Observer) matches(remote, resourcePath string) bool {
	return o.RemoteAddr == remote && o.ResourcePath == resourcePath
}

// Store is the fixed-size observer slot array.
type Store struct {
	slots [MaxObservers]*Observer
}

func NewStore() *Store { return &Store{} }

// Register adds or overwrites an observer. If an existing slot matches
// (remote, resourcePath) it is overwritten (same handle); otherwise the
// first free slot is used. Returns the slot handle, or an error if full.
func (s *Store) Register(o Observer) (int, error) {
	for i, slot := range s.slots {
		if slot != nil && slot.matches(o.RemoteAddr, o.ResourcePath) {
			s.slots[i] = &o
			return i, nil
		}
	}
	for i, slot := range s.slots {
		if slot == nil {
			s.slots[i] = &o
			return i, nil
		}
	}
	return -1, lwm2merr.ErrOutOfMemory
}

// Unregister nulls the slot at handle.
func (s *Store) Unregister(handle int) {
	if handle < 0 || handle >= MaxObservers {
		return
	}
	s.slots[handle] = nil
}

// Next walks slots starting at cursor, returning the next slot whose
// ResourcePath matches resourcePath (or any non-empty slot when
// resourcePath is empty).
func (s *Store) Next(cursor int, resourcePath string) (o *Observer, handle, next int, ok bool) {
	for i := cursor; i < MaxObservers; i++ {
		slot := s.slots[i]
		if slot == nil {
			continue
		}
		if resourcePath == "" || slot.ResourcePath == resourcePath {
			return slot, i, i + 1, true
		}
	}
	return nil, -1, MaxObservers, false
}

// Get returns the observer at handle, if occupied.
func (s *Store) Get(handle int) (*Observer, bool) {
	if handle < 0 || handle >= MaxObservers || s.slots[handle] == nil {
		return nil, false
	}
	return s.slots[handle], true
}

// FindMatching locates the slot registered for (remote, resourcePath),
// used on Observe deregistration (Observe:1) where the request carries
// no stored handle, only the peer address and path it originally
// subscribed from.
func (s *Store) FindMatching(remote, resourcePath string) (handle int, ok bool) {
	for i, slot := range s.slots {
		if slot != nil && slot.matches(remote, resourcePath) {
			return i, true
		}
	}
	return -1, false
}

// Snapshot serializes every occupied slot for persistence.
func (s *Store) Snapshot() ([]byte, error) {
	var list []Observer
	for _, slot := range s.slots {
		if slot != nil {
			list = append(list, *slot)
		}
	}
	return json.Marshal(list)
}

// Restore replaces the store's contents from a Snapshot blob.
func (s *Store) Restore(data []byte) error {
	var list []Observer
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = Store{}
	for i, o := range list {
		if i >= MaxObservers {
			break
		}
		ob := o
		s.slots[i] = &ob
	}
	return nil
}

// SaveTo persists the store's snapshot to the KV oracle.
func (s *Store) SaveTo(store kv.Store) error {
	data, err := s.Snapshot()
	if err != nil {
		return err
	}
	return store.Put(PersistKey, data)
}

// LoadFrom restores the store from the KV oracle, if present.
func (s *Store) LoadFrom(store kv.Store) error {
	data, ok := store.Get(PersistKey)
	if !ok {
		return nil
	}
	return s.Restore(data)
}

// Clear empties every slot, used on remote-reconnecting clear events.
func (s *Store) Clear() {
	*s = Store{}
}
