package hostregistry

import (
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"github.com/cuemby/engineeye/pkg/enginetypes"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "hosts.db"), 0o600, nil)
	if err != nil {
		t.Fatalf("opening bbolt db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	r, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestAdd_FirstHostBecomesActive(t *testing.T) {
	r := newTestRegistry(t)
	sub := r.Events().Subscribe()
	defer r.Events().Unsubscribe(sub)

	host := enginetypes.HostConfig{ID: "h1", DisplayName: "local", ConnectionKind: enginetypes.ConnLocalSocket}
	if err := r.Add(host); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if r.Active() != "h1" {
		t.Fatalf("expected h1 active, got %q", r.Active())
	}

	select {
	case ev := <-sub:
		if ev.CurrentID != "h1" {
			t.Fatalf("expected event for h1, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected host_changed event")
	}
}

func TestAdd_SecondHostDoesNotStealActive(t *testing.T) {
	r := newTestRegistry(t)
	r.Add(enginetypes.HostConfig{ID: "h1"})
	r.Add(enginetypes.HostConfig{ID: "h2"})

	if r.Active() != "h1" {
		t.Fatalf("expected h1 to remain active, got %q", r.Active())
	}
}

func TestRemove_ActiveHostPromotesAnother(t *testing.T) {
	r := newTestRegistry(t)
	r.Add(enginetypes.HostConfig{ID: "h1"})
	r.Add(enginetypes.HostConfig{ID: "h2"})

	if err := r.Remove("h1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if r.Active() != "h2" {
		t.Fatalf("expected h2 promoted, got %q", r.Active())
	}
}

func TestRemove_LastHostLeavesNoneActive(t *testing.T) {
	r := newTestRegistry(t)
	r.Add(enginetypes.HostConfig{ID: "h1"})

	if err := r.Remove("h1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if r.Active() != "" {
		t.Fatalf("expected no active host, got %q", r.Active())
	}
}

func TestRemove_UnknownHostErrors(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Remove("missing"); err == nil {
		t.Fatal("expected error removing unknown host")
	}
}

func TestSetActive_SwitchesAndPublishes(t *testing.T) {
	r := newTestRegistry(t)
	r.Add(enginetypes.HostConfig{ID: "h1"})
	r.Add(enginetypes.HostConfig{ID: "h2"})

	sub := r.Events().Subscribe()
	defer r.Events().Unsubscribe(sub)

	if err := r.SetActive("h2"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if r.Active() != "h2" {
		t.Fatalf("expected h2 active, got %q", r.Active())
	}

	select {
	case ev := <-sub:
		if ev.PreviousID != "h1" || ev.CurrentID != "h2" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected host_changed event")
	}
}

func TestSetActive_UnknownHostErrors(t *testing.T) {
	r := newTestRegistry(t)
	r.Add(enginetypes.HostConfig{ID: "h1"})

	if err := r.SetActive("missing"); err == nil {
		t.Fatal("expected error switching to unknown host")
	}
}

func TestList_ReturnsAllHosts(t *testing.T) {
	r := newTestRegistry(t)
	r.Add(enginetypes.HostConfig{ID: "h1"})
	r.Add(enginetypes.HostConfig{ID: "h2"})

	hosts, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("expected 2 hosts, got %d", len(hosts))
	}
}

func TestUpdate_PersistsNewValueWithoutTouchingActive(t *testing.T) {
	r := newTestRegistry(t)
	r.Add(enginetypes.HostConfig{ID: "h1", DisplayName: "local"})
	r.Add(enginetypes.HostConfig{ID: "h2", DisplayName: "other"})

	updated := enginetypes.HostConfig{ID: "h2", DisplayName: "renamed", ConnectionKind: enginetypes.ConnSSHTunnel}
	if err := r.Update(updated); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := r.Get("h2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DisplayName != "renamed" || got.ConnectionKind != enginetypes.ConnSSHTunnel {
		t.Fatalf("expected updated host value, got %+v", got)
	}
	if r.Active() != "h1" {
		t.Fatalf("expected active host unchanged, got %q", r.Active())
	}
}

func TestUpdate_UnknownHostErrors(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Update(enginetypes.HostConfig{ID: "missing"}); err == nil {
		t.Fatal("expected error updating unknown host")
	}
}
