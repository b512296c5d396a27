// Package store is the single observable coordination point for the data
// plane: current container list, per-container stats, aggregate snapshot,
// histories, and connection status. All mutations happen on one internal
// goroutine (a mailbox); transport I/O runs on separate worker goroutines
// that post their results back onto the mailbox rather than touching state
// directly.
package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/engineeye/pkg/applog"
	"github.com/cuemby/engineeye/pkg/appmetrics"
	"github.com/cuemby/engineeye/pkg/connstrategy"
	"github.com/cuemby/engineeye/pkg/enginerr"
	"github.com/cuemby/engineeye/pkg/engineclient"
	"github.com/cuemby/engineeye/pkg/enginetypes"
	"github.com/cuemby/engineeye/pkg/eventbus"
	"github.com/cuemby/engineeye/pkg/failuregate"
	"github.com/cuemby/engineeye/pkg/history"
	"github.com/cuemby/engineeye/pkg/hostregistry"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// RefreshInterval is one of a fixed enumeration; "manual" is represented by
// stopping autorefresh rather than as a duration value.
type RefreshInterval time.Duration

const (
	Refresh5s   RefreshInterval = RefreshInterval(5 * time.Second)
	Refresh10s  RefreshInterval = RefreshInterval(10 * time.Second)
	Refresh30s  RefreshInterval = RefreshInterval(30 * time.Second)
	Refresh60s  RefreshInterval = RefreshInterval(60 * time.Second)
	Refresh300s RefreshInterval = RefreshInterval(300 * time.Second)
)

// ActionKind enumerates the lifecycle mutations Act dispatches.
type ActionKind string

const (
	ActionStart   ActionKind = "start"
	ActionStop    ActionKind = "stop"
	ActionRestart ActionKind = "restart"
	ActionRemove  ActionKind = "remove"
)

// ActionResult is published on the action broker after an Act call
// finishes, success or failure. Action failures never touch
// Snapshot.ConnectionError — they are a per-action notification, not a
// connectivity signal.
type ActionResult struct {
	Action      ActionKind
	ContainerID string
	Err         error
}

// Snapshot is an immutable, consistent view of the store's observable
// state at one notification point.
type Snapshot struct {
	HostID          string
	Containers      []enginetypes.Container
	Stats           map[string]enginetypes.ContainerStats
	Aggregate       enginetypes.AggregateSnapshot
	IsRefreshing    bool
	IsConnected     bool
	ConnectionError string
	LastRefreshAt   time.Time
}

// Store coordinates refresh, actions, and host switching for one active
// engine connection.
type Store struct {
	strategy *connstrategy.Strategy
	hosts    *hostregistry.Registry
	logger   zerolog.Logger

	events       *eventbus.Broker[Snapshot]
	actionEvents *eventbus.Broker[ActionResult]

	cmdCh chan func()
	done  chan struct{}

	current atomic.Pointer[Snapshot]

	// Everything below is touched only from run(), the mailbox goroutine.
	client          *engineclient.Client
	hostID          string
	containers      []enginetypes.Container
	stats           map[string]enginetypes.ContainerStats
	aggregate       enginetypes.AggregateSnapshot
	refreshing      bool
	lastRefreshAt   time.Time
	connErr         string
	gate            *failuregate.Gate
	inFlight        map[string]bool
	refreshCancel   context.CancelFunc
	refreshInterval time.Duration
	refreshTimer    *time.Timer

	histCPU      *history.Ring
	histMem      *history.Ring
	histNetRx    *history.Ring
	histDiskRead *history.Ring
	netRxRate    *history.RateTracker
	diskReadRate *history.RateTracker

	pool  *statsPool
	retry retryPolicy
}

// New builds a Store with no active host. Call Start to begin the
// coordination loop, then SetHost to select a host and trigger the first
// refresh.
func New(strategy *connstrategy.Strategy, hosts *hostregistry.Registry) *Store {
	s := &Store{
		strategy:        strategy,
		hosts:           hosts,
		logger:          applog.WithComponent("store"),
		events:          eventbus.NewBroker[Snapshot](),
		actionEvents:    eventbus.NewBroker[ActionResult](),
		cmdCh:           make(chan func(), 64),
		done:            make(chan struct{}),
		stats:           make(map[string]enginetypes.ContainerStats),
		gate:            failuregate.New(failuregate.DefaultThreshold),
		inFlight:        make(map[string]bool),
		refreshInterval: time.Duration(Refresh5s),
		histCPU:         history.NewRing(history.DefaultCapacity),
		histMem:         history.NewRing(history.DefaultCapacity),
		histNetRx:       history.NewRing(history.DefaultCapacity),
		histDiskRead:    history.NewRing(history.DefaultCapacity),
		netRxRate:       history.NewRateTracker(),
		diskReadRate:    history.NewRateTracker(),
		pool:            newStatsPool(),
		retry:           defaultRetryPolicy(),
	}
	s.aggregate = enginetypes.ComputeAggregate(nil, nil, time.Now())
	s.current.Store(s.snapshotLocked())
	return s
}

// Events returns the broker publishing a Snapshot after every observable
// state mutation.
func (s *Store) Events() *eventbus.Broker[Snapshot] {
	return s.events
}

// ActionEvents returns the broker publishing per-action outcomes.
func (s *Store) ActionEvents() *eventbus.Broker[ActionResult] {
	return s.actionEvents
}

// Snapshot returns the most recently published state without going through
// the mailbox; it is always internally consistent since Snapshot values
// are replaced atomically as a whole.
func (s *Store) Snapshot() Snapshot {
	return *s.current.Load()
}

// Start launches the mailbox goroutine and subscribes to host registry
// change events so an external set_active implicitly calls SetHost.
func (s *Store) Start() {
	s.events.Start()
	s.actionEvents.Start()
	go s.run()

	if s.hosts == nil {
		return
	}
	hostEvents := s.hosts.Events().Subscribe()
	go func() {
		for {
			select {
			case ev, ok := <-hostEvents:
				if !ok {
					return
				}
				s.SetHost(ev.CurrentID)
			case <-s.done:
				s.hosts.Events().Unsubscribe(hostEvents)
				return
			}
		}
	}()
}

// Stop cancels any in-flight work and ends the coordination loop.
func (s *Store) Stop() {
	close(s.done)
	s.events.Stop()
	s.actionEvents.Stop()
}

func (s *Store) post(fn func()) {
	select {
	case s.cmdCh <- fn:
	case <-s.done:
	}
}

func (s *Store) run() {
	for {
		select {
		case fn := <-s.cmdCh:
			fn()
		case <-s.done:
			if s.refreshCancel != nil {
				s.refreshCancel()
			}
			if s.refreshTimer != nil {
				s.refreshTimer.Stop()
			}
			if s.client != nil {
				s.client.Close()
			}
			return
		}
	}
}

func (s *Store) snapshotLocked() *Snapshot {
	statsCopy := make(map[string]enginetypes.ContainerStats, len(s.stats))
	for k, v := range s.stats {
		statsCopy[k] = v
	}
	containersCopy := make([]enginetypes.Container, len(s.containers))
	copy(containersCopy, s.containers)

	return &Snapshot{
		HostID:          s.hostID,
		Containers:      containersCopy,
		Stats:           statsCopy,
		Aggregate:       s.aggregate,
		IsRefreshing:    s.refreshing,
		IsConnected:     s.connErr == "",
		ConnectionError: s.connErr,
		LastRefreshAt:   s.lastRefreshAt,
	}
}

// publish stamps and broadcasts the current state. Must be called from
// run()'s goroutine only.
func (s *Store) publish() {
	snap := s.snapshotLocked()
	s.current.Store(snap)
	s.events.Publish(*snap)
}

// SetHost tears down the current engine client and builds a fresh one for
// hostID, clearing all derived state, then triggers an immediate forced
// refresh. Safe to call from any goroutine.
func (s *Store) SetHost(hostID string) {
	s.post(func() {
		if s.refreshCancel != nil {
			s.refreshCancel()
			s.refreshCancel = nil
		}
		if s.client != nil {
			s.client.Close()
			s.client = nil
		}

		host, err := s.hosts.Get(hostID)
		if err != nil {
			s.logger.Error().Err(err).Str("host_id", hostID).Msg("set_host: unknown host")
			s.connErr = err.Error()
			s.publish()
			return
		}

		transport, err := s.strategy.Build(host)
		if err != nil {
			s.logger.Error().Err(err).Str("host_id", hostID).Msg("set_host: building transport failed")
			s.connErr = err.Error()
			s.publish()
			return
		}

		s.hostID = hostID
		s.client = engineclient.New(transport)
		s.containers = nil
		s.stats = make(map[string]enginetypes.ContainerStats)
		s.aggregate = enginetypes.ComputeAggregate(nil, nil, time.Now())
		s.gate = failuregate.New(failuregate.DefaultThreshold)
		s.connErr = ""
		s.histCPU = history.NewRing(history.DefaultCapacity)
		s.histMem = history.NewRing(history.DefaultCapacity)
		s.histNetRx = history.NewRing(history.DefaultCapacity)
		s.histDiskRead = history.NewRing(history.DefaultCapacity)
		s.netRxRate.Reset()
		s.diskReadRate.Reset()

		s.armRefreshTimer()
		s.reportActiveHost(hostID)
		s.publish()
		s.startRefresh(true)
	})
}

func (s *Store) reportActiveHost(hostID string) {
	if s.hosts == nil {
		return
	}
	all, err := s.hosts.List()
	if err != nil {
		return
	}
	ids := make([]string, 0, len(all))
	for _, h := range all {
		ids = append(ids, h.ID)
	}
	appmetrics.SetActiveHost(hostID, ids)
}

// StartAutorefresh arms a timer that triggers refresh(false) at interval.
// A tick arriving while a refresh is running is dropped, not queued.
func (s *Store) StartAutorefresh(interval RefreshInterval) {
	s.post(func() {
		s.refreshInterval = time.Duration(interval)
		s.armRefreshTimer()
	})
}

// StopAutorefresh disarms the refresh timer; refresh can still be invoked
// manually.
func (s *Store) StopAutorefresh() {
	s.post(func() {
		if s.refreshTimer != nil {
			s.refreshTimer.Stop()
			s.refreshTimer = nil
		}
	})
}

func (s *Store) armRefreshTimer() {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
	if s.refreshInterval <= 0 {
		s.refreshTimer = nil
		return
	}
	s.refreshTimer = time.AfterFunc(s.refreshInterval, func() {
		s.post(func() {
			s.startRefresh(false)
			s.armRefreshTimer()
		})
	})
}

// Refresh requests a refresh cycle. When force is false and a refresh is
// already running, the request is dropped.
func (s *Store) Refresh(force bool) {
	s.post(func() { s.startRefresh(force) })
}

// refreshOutcome carries a completed refresh cycle's results back into the
// mailbox from the worker goroutine that produced them.
type refreshOutcome struct {
	containers []enginetypes.Container
	stats      map[string]enginetypes.ContainerStats
	listErr    error
	// statsErr aggregates the per-container stats_once failures of this
	// cycle for one debug log line; it never affects refresh success and
	// is never surfaced to observers (spec: per-container stats errors
	// are swallowed, not propagated).
	statsErr error
}

func (s *Store) startRefresh(force bool) {
	if s.refreshing && !force {
		return
	}
	if s.client == nil {
		return
	}

	if s.refreshCancel != nil {
		s.refreshCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.refreshCancel = cancel

	s.refreshing = true
	s.publish()

	client := s.client
	pool := s.pool
	retry := s.retry
	timer := appmetrics.NewTimer()

	go func() {
		outcome := runRefresh(ctx, client, pool, retry)
		timer.ObserveDuration(appmetrics.RefreshDuration)
		s.post(func() {
			s.applyRefreshOutcome(outcome)
		})
	}()
}

func runRefresh(ctx context.Context, client *engineclient.Client, pool *statsPool, retry retryPolicy) refreshOutcome {
	var containers []enginetypes.Container
	listErr := retry.do(ctx, func() error {
		var err error
		containers, err = client.ListContainers(ctx, true)
		return err
	})
	if listErr != nil {
		return refreshOutcome{listErr: listErr}
	}

	stats := make(map[string]enginetypes.ContainerStats)
	var mu sync.Mutex
	var wg sync.WaitGroup
	var statsErr *multierror.Error

	for _, c := range containers {
		if c.State != enginetypes.StateRunning {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			release, err := pool.acquire(ctx)
			if err != nil {
				return
			}
			defer release()

			sample, err := client.StatsOnce(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				statsErr = multierror.Append(statsErr, fmt.Errorf("container %s: %w", id, err))
				return
			}
			stats[id] = sample
		}(c.ID)
	}
	wg.Wait()

	return refreshOutcome{containers: containers, stats: stats, statsErr: statsErr.ErrorOrNil()}
}

func (s *Store) applyRefreshOutcome(o refreshOutcome) {
	s.refreshing = false

	if o.listErr != nil {
		if enginerr.Is(o.listErr, enginerr.Cancelled) {
			s.publish()
			return
		}
		if s.gate.ShouldSurface(len(s.containers) > 0) {
			s.connErr = o.listErr.Error()
			appmetrics.RefreshErrorsTotal.Inc()
		}
		s.publish()
		return
	}

	if o.statsErr != nil {
		s.logger.Debug().Err(o.statsErr).Msg("stats_once failures this refresh")
	}

	s.gate.RecordSuccess()
	s.connErr = ""
	s.lastRefreshAt = time.Now()

	validIDs := make(map[string]struct{}, len(o.containers))
	for _, c := range o.containers {
		validIDs[c.ID] = struct{}{}
	}
	prunedStats := make(map[string]enginetypes.ContainerStats, len(o.stats))
	for id, st := range o.stats {
		if _, ok := validIDs[id]; ok {
			prunedStats[id] = st
		}
	}

	s.containers = o.containers
	s.stats = prunedStats
	s.aggregate = enginetypes.ComputeAggregate(s.containers, s.stats, s.lastRefreshAt)
	s.reportContainerCounts()

	s.appendHistories()
	s.publish()
}

func (s *Store) reportContainerCounts() {
	appmetrics.ContainersByState.Reset()
	for state, count := range s.aggregate.CountByState {
		appmetrics.ContainersByState.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (s *Store) appendHistories() {
	now := s.lastRefreshAt
	s.histCPU.Append(now, s.aggregate.CPUPercent)

	memPct := 0.0
	if s.aggregate.MemoryLimit > 0 {
		memPct = float64(s.aggregate.MemoryUsed) / float64(s.aggregate.MemoryLimit) * 100
	}
	s.histMem.Append(now, memPct)

	var totalRx, totalRead uint64
	for _, st := range s.stats {
		totalRx += st.NetRxBytes
		totalRead += st.BlockRead
	}
	if rate, ok := s.netRxRate.Observe(now, totalRx); ok {
		s.histNetRx.Append(now, rate)
	}
	if rate, ok := s.diskReadRate.Observe(now, totalRead); ok {
		s.histDiskRead.Append(now, rate)
	}
}

// Histories returns value copies of the four aggregate time series.
func (s *Store) Histories() (cpu, mem, netRx, diskRead []enginetypes.HistoryPoint) {
	done := make(chan struct{})
	s.post(func() {
		cpu = s.histCPU.Values()
		mem = s.histMem.Values()
		netRx = s.histNetRx.Values()
		diskRead = s.histDiskRead.Values()
		close(done)
	})
	<-done
	return
}

// Act dispatches a lifecycle action for id. If id already has an in-flight
// action, the call is a silent no-op. timeoutSeconds is only consulted for
// stop/restart.
func (s *Store) Act(action ActionKind, id string, timeoutSeconds int, force, removeVolumes bool) {
	s.post(func() {
		if s.inFlight[id] {
			return
		}
		if s.client == nil {
			s.actionEvents.Publish(ActionResult{Action: action, ContainerID: id, Err: enginerr.New(enginerr.InvalidConfiguration, "no active host")})
			return
		}
		s.inFlight[id] = true
		client := s.client

		go func() {
			ctx := context.Background()
			var err error
			switch action {
			case ActionStart:
				err = client.Start(ctx, id)
			case ActionStop:
				err = client.Stop(ctx, id, timeoutSeconds)
			case ActionRestart:
				err = client.Restart(ctx, id, timeoutSeconds)
			case ActionRemove:
				err = client.Remove(ctx, id, force, removeVolumes)
			default:
				err = enginerr.New(enginerr.InvalidConfiguration, "unknown action")
			}

			s.post(func() {
				delete(s.inFlight, id)
				s.actionEvents.Publish(ActionResult{Action: action, ContainerID: id, Err: err})
				s.startRefresh(true)
			})
		}()
	})
}

// Logs fetches combined stdout/stderr for id using the current client. It
// bypasses the mailbox for the actual I/O (a transport suspension point)
// but captures the client reference from inside it so a concurrent
// set_host cannot hand back a stale or closed client.
func (s *Store) Logs(ctx context.Context, id string, tail int, timestamps bool) (string, error) {
	clientCh := make(chan *engineclient.Client, 1)
	s.post(func() { clientCh <- s.client })

	var client *engineclient.Client
	select {
	case client = <-clientCh:
	case <-ctx.Done():
		return "", enginerr.New(enginerr.Cancelled, "logs request cancelled")
	}
	if client == nil {
		return "", enginerr.New(enginerr.InvalidConfiguration, "no active host")
	}
	return client.Logs(ctx, id, tail, timestamps)
}
