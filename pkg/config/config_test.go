package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/engineeye/pkg/enginetypes"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoad_DefaultsWhenNothingPersisted(t *testing.T) {
	s := newTestStore(t)

	settings, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.RefreshInterval != DefaultRefreshInterval {
		t.Fatalf("expected default refresh interval %v, got %v", DefaultRefreshInterval, settings.RefreshInterval)
	}
	if settings.ShowStopped {
		t.Fatal("expected ShowStopped to default false")
	}
	if len(settings.Sections) != 0 {
		t.Fatalf("expected no sections, got %d", len(settings.Sections))
	}
}

func TestSetRefreshInterval_RoundTrips(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetRefreshInterval(30 * time.Second); err != nil {
		t.Fatalf("SetRefreshInterval: %v", err)
	}
	settings, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.RefreshInterval != 30*time.Second {
		t.Fatalf("expected 30s, got %v", settings.RefreshInterval)
	}
}

func TestSetShowStopped_RoundTrips(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetShowStopped(true); err != nil {
		t.Fatalf("SetShowStopped: %v", err)
	}
	settings, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !settings.ShowStopped {
		t.Fatal("expected ShowStopped true after set")
	}
}

func TestSetSections_RoundTrips(t *testing.T) {
	s := newTestStore(t)

	sections := []enginetypes.Section{
		{
			ID:   "web",
			Name: "Web",
			Rules: []enginetypes.SectionRule{
				{Match: enginetypes.MatchNameContains, Pattern: "web"},
			},
		},
	}
	if err := s.SetSections(sections); err != nil {
		t.Fatalf("SetSections: %v", err)
	}
	settings, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(settings.Sections) != 1 || settings.Sections[0].ID != "web" {
		t.Fatalf("unexpected sections after round trip: %+v", settings.Sections)
	}
}

func TestNewBoltStoreFromDB_SharesHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	s1, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	defer s1.Close()

	s2, err := NewBoltStoreFromDB(s1.db)
	if err != nil {
		t.Fatalf("NewBoltStoreFromDB: %v", err)
	}
	if err := s2.SetShowStopped(true); err != nil {
		t.Fatalf("SetShowStopped: %v", err)
	}
	settings, err := s1.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !settings.ShowStopped {
		t.Fatal("expected write through s2 to be visible via s1 (shared db handle)")
	}
}
