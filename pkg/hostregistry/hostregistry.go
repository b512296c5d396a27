// Package hostregistry persists the set of configured hosts and tracks
// which one is currently active. Changes are announced on an eventbus so
// the store and UI layers can react to a host switch.
package hostregistry

import (
	"encoding/json"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/cuemby/engineeye/pkg/enginerr"
	"github.com/cuemby/engineeye/pkg/enginetypes"
	"github.com/cuemby/engineeye/pkg/eventbus"
)

var (
	bucketHosts  = []byte("hosts")
	bucketActive = []byte("active_host")
)

const activeHostKey = "active_host_id"

// HostChanged is published whenever the active host changes, including the
// transition to no active host (when the last host is removed).
type HostChanged struct {
	PreviousID string
	CurrentID  string
}

// Registry is the persisted, observable collection of configured hosts.
type Registry struct {
	db     *bbolt.DB
	events *eventbus.Broker[HostChanged]

	mu       sync.RWMutex
	activeID string
}

// New opens the hosts and active-host buckets on db and starts the
// registry's event broker. db may be shared with pkg/config.
func New(db *bbolt.DB) (*Registry, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketHosts); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketActive)
		return err
	})
	if err != nil {
		return nil, enginerr.Wrap(enginerr.ServerError, "creating host buckets", err)
	}

	r := &Registry{db: db, events: eventbus.NewBroker[HostChanged]()}
	r.events.Start()

	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketActive)
		if v := b.Get([]byte(activeHostKey)); v != nil {
			r.activeID = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, enginerr.Wrap(enginerr.ServerError, "loading active host", err)
	}
	return r, nil
}

// Events returns the broker hosts changes are published on.
func (r *Registry) Events() *eventbus.Broker[HostChanged] {
	return r.events
}

// List returns every configured host.
func (r *Registry) List() ([]enginetypes.HostConfig, error) {
	var hosts []enginetypes.HostConfig
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		return b.ForEach(func(k, v []byte) error {
			var h enginetypes.HostConfig
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			hosts = append(hosts, h)
			return nil
		})
	})
	if err != nil {
		return nil, enginerr.Wrap(enginerr.ServerError, "listing hosts", err)
	}
	return hosts, nil
}

// Get returns a single host by ID.
func (r *Registry) Get(id string) (enginetypes.HostConfig, error) {
	var h enginetypes.HostConfig
	var found bool
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &h)
	})
	if err != nil {
		return enginetypes.HostConfig{}, enginerr.Wrap(enginerr.ServerError, "reading host", err)
	}
	if !found {
		return enginetypes.HostConfig{}, enginerr.WithResource(enginerr.NotFound, "host not found", id)
	}
	return h, nil
}

// Add persists host. If no host is currently active (as when it is the
// first host added), it becomes active.
func (r *Registry) Add(host enginetypes.HostConfig) error {
	if host.ID == "" {
		return enginerr.New(enginerr.InvalidConfiguration, "host ID must not be empty")
	}
	data, err := json.Marshal(host)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var promoted bool
	err = r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		if err := b.Put([]byte(host.ID), data); err != nil {
			return err
		}
		if r.activeID == "" {
			ab := tx.Bucket(bucketActive)
			if err := ab.Put([]byte(activeHostKey), []byte(host.ID)); err != nil {
				return err
			}
			promoted = true
		}
		return nil
	})
	if err != nil {
		return enginerr.Wrap(enginerr.ServerError, "saving host", err)
	}
	if promoted {
		prev := r.activeID
		r.activeID = host.ID
		r.events.Publish(HostChanged{PreviousID: prev, CurrentID: host.ID})
	}
	return nil
}

// Remove deletes a host. Removing the active host implicitly promotes
// another configured host (arbitrary order) to active, or leaves no host
// active if none remain.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var nextActive string
	var wasActive bool

	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		if b.Get([]byte(id)) == nil {
			return enginerr.WithResource(enginerr.NotFound, "host not found", id)
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}

		wasActive = r.activeID == id
		if !wasActive {
			return nil
		}

		c := b.Cursor()
		if k, _ := c.First(); k != nil {
			nextActive = string(k)
		}
		ab := tx.Bucket(bucketActive)
		if nextActive == "" {
			return ab.Delete([]byte(activeHostKey))
		}
		return ab.Put([]byte(activeHostKey), []byte(nextActive))
	})
	if err != nil {
		return err
	}

	if wasActive {
		prev := r.activeID
		r.activeID = nextActive
		r.events.Publish(HostChanged{PreviousID: prev, CurrentID: nextActive})
	}
	return nil
}

// Update persists a new HostConfig value for an existing host ID. It does
// not change which host is active, even when updating the active host.
func (r *Registry) Update(host enginetypes.HostConfig) error {
	if host.ID == "" {
		return enginerr.New(enginerr.InvalidConfiguration, "host ID must not be empty")
	}
	data, err := json.Marshal(host)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		if b.Get([]byte(host.ID)) == nil {
			return enginerr.WithResource(enginerr.NotFound, "host not found", host.ID)
		}
		return b.Put([]byte(host.ID), data)
	})
	if err != nil {
		return err
	}
	return nil
}

// SetActive switches the active host to id, which must already exist.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == r.activeID {
		return nil
	}

	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		if b.Get([]byte(id)) == nil {
			return enginerr.WithResource(enginerr.NotFound, "host not found", id)
		}
		ab := tx.Bucket(bucketActive)
		return ab.Put([]byte(activeHostKey), []byte(id))
	})
	if err != nil {
		return err
	}

	prev := r.activeID
	r.activeID = id
	r.events.Publish(HostChanged{PreviousID: prev, CurrentID: id})
	return nil
}

// Active returns the currently active host ID, or "" if none is set.
func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// Close stops the event broker. It does not close the underlying database,
// which callers may share with other stores.
func (r *Registry) Close() {
	r.events.Stop()
}
