package store

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/engineeye/pkg/engineclient"
	"github.com/cuemby/engineeye/pkg/enginerr"
	"github.com/cuemby/engineeye/pkg/enginetypes"
	"github.com/cuemby/engineeye/pkg/transport"
)

// fakeTransport answers a fixed script of responses keyed by request path,
// standing in for a real engine over a socket so Store's refresh logic can
// be exercised without a network or container runtime.
type fakeTransport struct {
	containerList []byte
	statsByID     map[string][]byte

	mu            sync.Mutex
	listFailCount int // remaining list requests to fail with a transient error

	// actionBlock, if non-nil, is read from once before an action (start,
	// stop, ...) request returns its response, letting a test hold a
	// lifecycle action "in flight" until it chooses to release it.
	actionBlock chan struct{}
	actionCalls int
}

func (f *fakeTransport) Request(ctx context.Context, req transport.Request) (*transport.Response, error) {
	switch {
	case strings.HasSuffix(req.Path, "/containers/json"):
		f.mu.Lock()
		if f.listFailCount > 0 {
			f.listFailCount--
			f.mu.Unlock()
			return nil, enginerr.New(enginerr.ConnectionFailed, "engine unreachable")
		}
		f.mu.Unlock()
		return jsonResponse(f.containerList), nil
	case strings.Contains(req.Path, "/stats"):
		id := extractID(req.Path)
		body, ok := f.statsByID[id]
		if !ok {
			return &transport.Response{StatusCode: 404, Body: io.NopCloser(strings.NewReader("{}"))}, nil
		}
		return jsonResponse(body), nil
	case strings.Contains(req.Path, "/start"), strings.Contains(req.Path, "/stop"),
		strings.Contains(req.Path, "/restart"):
		f.mu.Lock()
		f.actionCalls++
		block := f.actionBlock
		f.mu.Unlock()
		if block != nil {
			<-block
		}
		return &transport.Response{StatusCode: 204, Body: io.NopCloser(strings.NewReader(""))}, nil
	default:
		return &transport.Response{StatusCode: 404, Body: io.NopCloser(strings.NewReader("{}"))}, nil
	}
}

func extractID(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "containers" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func jsonResponse(body []byte) *transport.Response {
	return &transport.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(string(body)))}
}

func (f *fakeTransport) StreamLines(ctx context.Context, resp *transport.Response) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {}
}

func (f *fakeTransport) Close() error { return nil }

func containerListJSON(t *testing.T, entries []map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func statsJSON(t *testing.T, cpuTotal, sysTotal, precpuTotal, precpuSys uint64, online int, memUsed, memLimit uint64) []byte {
	t.Helper()
	raw := map[string]any{
		"read": time.Now().UTC().Format(time.RFC3339Nano),
		"cpu_stats": map[string]any{
			"cpu_usage":        map[string]any{"total_usage": cpuTotal},
			"system_cpu_usage": sysTotal,
			"online_cpus":      online,
		},
		"precpu_stats": map[string]any{
			"cpu_usage":        map[string]any{"total_usage": precpuTotal},
			"system_cpu_usage": precpuSys,
		},
		"memory_stats": map[string]any{
			"usage": memUsed,
			"limit": memLimit,
		},
		"networks": map[string]any{},
	}
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func newTestStoreWithTransport(t *testing.T, ft *fakeTransport) *Store {
	t.Helper()
	s := New(nil, nil)
	s.client = engineclient.New(ft)
	s.hostID = "test-host"
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func waitForRefresh(t *testing.T, s *Store) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		snap := s.Snapshot()
		if snap.LastRefreshAt.IsZero() {
			select {
			case <-deadline:
				t.Fatal("timed out waiting for refresh to complete")
			case <-time.After(5 * time.Millisecond):
				continue
			}
		}
		return snap
	}
}

// waitForRefreshSettle blocks until a refresh cycle just requested via
// Refresh has been picked up by the mailbox and has finished, whether it
// succeeded or failed. Unlike waitForRefresh it does not require
// LastRefreshAt to advance, so it also works for refresh cycles that fail.
func waitForRefreshSettle(t *testing.T, s *Store) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for refresh to start")
		case <-time.After(time.Millisecond):
		}
		if s.Snapshot().IsRefreshing {
			break
		}
	}
	for {
		snap := s.Snapshot()
		if snap.IsRefreshing {
			select {
			case <-deadline:
				t.Fatal("timed out waiting for refresh to settle")
			case <-time.After(5 * time.Millisecond):
				continue
			}
		}
		return snap
	}
}

func TestRefresh_S1TwoContainersOneRunning(t *testing.T) {
	ft := &fakeTransport{
		containerList: containerListJSON(t, []map[string]any{
			{"Id": "a", "Names": []string{"/web"}, "Image": "nginx:1", "State": "running"},
			{"Id": "b", "Names": []string{"/batch"}, "Image": "busybox", "State": "exited"},
		}),
		statsByID: map[string][]byte{
			"a": statsJSON(t, 500, 1000, 400, 900, 2, 104857600, 1073741824),
		},
	}
	s := newTestStoreWithTransport(t, ft)
	s.Refresh(true)
	snap := waitForRefresh(t, s)

	if len(snap.Containers) != 2 {
		t.Fatalf("expected 2 containers, got %d", len(snap.Containers))
	}
	if _, ok := snap.Stats["a"]; !ok {
		t.Fatal("expected stats for container a")
	}
	if _, ok := snap.Stats["b"]; ok {
		t.Fatal("expected no stats for stopped container b")
	}

	stat := snap.Stats["a"]
	wantCPU := 200.0
	if diff := stat.CPUPercent - wantCPU; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("expected cpu%% %v, got %v", wantCPU, stat.CPUPercent)
	}

	if snap.Aggregate.RunningCount != 1 || snap.Aggregate.TotalCount != 2 {
		t.Fatalf("unexpected aggregate: %+v", snap.Aggregate)
	}
	if snap.Aggregate.Health != enginetypes.HealthHealthy {
		t.Fatalf("expected healthy, got %v", snap.Aggregate.Health)
	}
	if !snap.IsConnected || snap.ConnectionError != "" {
		t.Fatalf("expected connected with no error, got %+v", snap)
	}
}

func TestRefresh_ZeroContainersIsUnknownHealth(t *testing.T) {
	ft := &fakeTransport{containerList: containerListJSON(t, nil)}
	s := newTestStoreWithTransport(t, ft)
	s.Refresh(true)
	snap := waitForRefresh(t, s)

	if snap.Aggregate.Health != enginetypes.HealthUnknown {
		t.Fatalf("expected unknown health for zero containers, got %v", snap.Aggregate.Health)
	}
}

func TestRefresh_ConcurrentCallDropsWithoutForce(t *testing.T) {
	ft := &fakeTransport{containerList: containerListJSON(t, nil)}
	s := newTestStoreWithTransport(t, ft)

	done := make(chan struct{})
	s.post(func() {
		s.refreshing = true
		close(done)
	})
	<-done

	// Refresh(false) while refreshing must be a silent no-op: snapshot stays
	// marked refreshing rather than starting a second concurrent cycle.
	s.Refresh(false)

	checkDone := make(chan bool, 1)
	s.post(func() { checkDone <- s.refreshing })
	if !<-checkDone {
		t.Fatal("expected refreshing to remain true (no-op for unforced call)")
	}
}

// TestRefresh_FailureGateAbsorbsTransientFailures exercises the gate at the
// Store level: a lone failed refresh cycle after a successful one must not
// surface a connection error, but a second consecutive failure (reaching
// DefaultThreshold) must.
func TestRefresh_FailureGateAbsorbsTransientFailures(t *testing.T) {
	ft := &fakeTransport{
		containerList: containerListJSON(t, []map[string]any{
			{"Id": "a", "Names": []string{"/web"}, "Image": "nginx:1", "State": "running"},
		}),
		statsByID: map[string][]byte{
			"a": statsJSON(t, 500, 1000, 400, 900, 2, 104857600, 1073741824),
		},
	}
	s := newTestStoreWithTransport(t, ft)
	s.retry = fastRetryPolicy()

	s.Refresh(true)
	snap := waitForRefresh(t, s)
	if !snap.IsConnected || snap.ConnectionError != "" {
		t.Fatalf("expected a clean first refresh, got %+v", snap)
	}

	// Every attempt of the next two forced refreshes fails, so each
	// refresh cycle as a whole fails despite the internal retry policy.
	ft.mu.Lock()
	ft.listFailCount = fastRetryPolicy().maxAttempts
	ft.mu.Unlock()

	s.Refresh(true)
	snap = waitForRefreshSettle(t, s)
	if !snap.IsConnected || snap.ConnectionError != "" {
		t.Fatalf("expected the first failure to be absorbed (below threshold), got %+v", snap)
	}

	ft.mu.Lock()
	ft.listFailCount = fastRetryPolicy().maxAttempts
	ft.mu.Unlock()

	s.Refresh(true)
	snap = waitForRefreshSettle(t, s)
	if snap.IsConnected || snap.ConnectionError == "" {
		t.Fatalf("expected the second consecutive failure to surface a connection error, got %+v", snap)
	}

	// A subsequent success clears the error and re-arms the gate.
	s.Refresh(true)
	snap = waitForRefreshSettle(t, s)
	if !snap.IsConnected || snap.ConnectionError != "" {
		t.Fatalf("expected recovery after a successful refresh, got %+v", snap)
	}
}

func TestAct_PublishesActionResult(t *testing.T) {
	ft := &fakeTransport{containerList: containerListJSON(t, nil)}
	s := newTestStoreWithTransport(t, ft)

	sub := s.ActionEvents().Subscribe()
	defer s.ActionEvents().Unsubscribe(sub)

	s.Act(ActionStart, "a", 0, false, false)

	select {
	case res := <-sub:
		if res.ContainerID != "a" || res.Action != ActionStart {
			t.Fatalf("unexpected action result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an action result")
	}
}

// TestAct_ConcurrentCallsForSameContainerIssueOneRequest holds a container's
// first action in flight and fires a burst of concurrent calls for the same
// ID while it is pending: every one of them must be a silent no-op, and
// exactly one request must reach the engine.
func TestAct_ConcurrentCallsForSameContainerIssueOneRequest(t *testing.T) {
	ft := &fakeTransport{
		containerList: containerListJSON(t, nil),
		actionBlock:   make(chan struct{}),
	}
	s := newTestStoreWithTransport(t, ft)

	sub := s.ActionEvents().Subscribe()
	defer s.ActionEvents().Unsubscribe(sub)

	s.Act(ActionStop, "a", 0, false, false)

	// Give the first Act's goroutine a chance to reach the transport and
	// block there, so the in-flight flag is actually set before the burst.
	time.Sleep(20 * time.Millisecond)

	const burst = 20
	var wg sync.WaitGroup
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Act(ActionStop, "a", 0, false, false)
		}()
	}
	wg.Wait()

	close(ft.actionBlock)

	select {
	case res := <-sub:
		if res.ContainerID != "a" || res.Action != ActionStop {
			t.Fatalf("unexpected action result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected exactly one action result")
	}

	select {
	case res := <-sub:
		t.Fatalf("expected no second action result, got %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	ft.mu.Lock()
	calls := ft.actionCalls
	ft.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly 1 request to reach the engine, got %d", calls)
	}
}
