package failuregate

import "testing"

func TestShouldSurface_NoPriorData(t *testing.T) {
	g := New(2)
	if !g.ShouldSurface(false) {
		t.Fatal("expected immediate surface when no prior data exists")
	}
}

func TestShouldSurface_PriorData(t *testing.T) {
	g := New(2)
	if g.ShouldSurface(true) {
		t.Fatal("expected first failure to be suppressed when prior data exists")
	}
	if !g.ShouldSurface(true) {
		t.Fatal("expected second consecutive failure to surface")
	}
}

func TestRecordSuccess_ResetsCounter(t *testing.T) {
	g := New(2)
	g.ShouldSurface(true)
	g.RecordSuccess()
	if g.FailureCount() != 0 {
		t.Fatalf("expected failure count reset to 0, got %d", g.FailureCount())
	}
	if g.ShouldSurface(true) {
		t.Fatal("expected failure count to restart from zero after success")
	}
}

func TestDefaultThreshold(t *testing.T) {
	g := New(0)
	if g.threshold != DefaultThreshold {
		t.Fatalf("expected default threshold %d, got %d", DefaultThreshold, g.threshold)
	}
}
