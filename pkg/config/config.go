// Package config persists the small set of process-wide settings that
// survive restarts: the refresh interval, the show-stopped toggle, and
// container grouping rules. Host records themselves live in
// pkg/hostregistry, which uses the same database file.
package config

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/cuemby/engineeye/pkg/enginerr"
	"github.com/cuemby/engineeye/pkg/enginetypes"
)

var bucketSettings = []byte("settings")

const (
	keyRefreshInterval = "refresh_interval_ms"
	keyShowStopped     = "show_stopped"
	keySections        = "sections"
)

// DefaultRefreshInterval is used when no value has ever been persisted.
const DefaultRefreshInterval = 5 * time.Second

// Settings is the full set of persisted preferences.
type Settings struct {
	RefreshInterval time.Duration
	ShowStopped     bool
	Sections        []enginetypes.Section
}

// Store reads and writes Settings.
type Store interface {
	Load() (Settings, error)
	SetRefreshInterval(d time.Duration) error
	SetShowStopped(show bool) error
	SetSections(sections []enginetypes.Section) error
	Close() error
}

// BoltStore is a bbolt-backed Store.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens dbPath, creating the settings bucket if needed.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.ServerError, "opening config database", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSettings)
		return err
	})
	if err != nil {
		db.Close()
		return nil, enginerr.Wrap(enginerr.ServerError, "creating settings bucket", err)
	}
	return &BoltStore{db: db}, nil
}

// NewBoltStoreFromDB wraps an already-open bbolt handle, for callers that
// share one database file across config, hostregistry, and credentials.
func NewBoltStoreFromDB(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSettings)
		return err
	})
	if err != nil {
		return nil, enginerr.Wrap(enginerr.ServerError, "creating settings bucket", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load() (Settings, error) {
	settings := Settings{RefreshInterval: DefaultRefreshInterval}

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSettings)

		if v := b.Get([]byte(keyRefreshInterval)); v != nil {
			var ms int64
			if err := json.Unmarshal(v, &ms); err != nil {
				return err
			}
			settings.RefreshInterval = time.Duration(ms) * time.Millisecond
		}
		if v := b.Get([]byte(keyShowStopped)); v != nil {
			if err := json.Unmarshal(v, &settings.ShowStopped); err != nil {
				return err
			}
		}
		if v := b.Get([]byte(keySections)); v != nil {
			if err := json.Unmarshal(v, &settings.Sections); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Settings{}, enginerr.Wrap(enginerr.ServerError, "loading settings", err)
	}
	return settings, nil
}

func (s *BoltStore) SetRefreshInterval(d time.Duration) error {
	data, err := json.Marshal(d.Milliseconds())
	if err != nil {
		return err
	}
	return s.put(keyRefreshInterval, data)
}

func (s *BoltStore) SetShowStopped(show bool) error {
	data, err := json.Marshal(show)
	if err != nil {
		return err
	}
	return s.put(keyShowStopped, data)
}

func (s *BoltStore) SetSections(sections []enginetypes.Section) error {
	data, err := json.Marshal(sections)
	if err != nil {
		return err
	}
	return s.put(keySections, data)
}

func (s *BoltStore) put(key string, data []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return enginerr.Wrap(enginerr.ServerError, "writing setting "+key, err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
