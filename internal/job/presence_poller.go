package job

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"presence-service/internal/client"
	"presence-service/internal/domain"
	"presence-service/internal/metrics"
	"presence-service/internal/repository"
	"presence-service/internal/service"
)

// PollerState is the lifecycle state of the Poller
type PollerState string

const (
	PollerStateIdle    PollerState = "idle"
	PollerStatePolling PollerState = "polling"
	PollerStateHalted  PollerState = "halted"
	PollerStateStopped PollerState = "stopped"
)

var (
	// ErrTickInProgress is returned by Tick when the previous tick has not finished
	ErrTickInProgress = errors.New("poll tick already in progress")
	// ErrPollerRunning is returned by Start when the loop is already running
	ErrPollerRunning = errors.New("poller already running")
	// ErrPollerNotHalted is returned by Resume when there is nothing to resume
	ErrPollerNotHalted = errors.New("poller is not halted")
)

// ObservationRecorder applies one presence observation to the interval store
type ObservationRecorder interface {
	RecordObservation(ctx context.Context, entityID string, state domain.PresenceState, observedAt int64) (*service.RecordResult, error)
}

// recordNotifier is implemented by recorders that report every recording,
// including ones made outside the poller such as pushed events
type recordNotifier interface {
	OnRecorded(hook service.RecordHook)
}

// PollerConfig controls the polling cadence and the fixed part of the roster
type PollerConfig struct {
	Interval        time.Duration
	InitialDelay    time.Duration
	TrackedEntities []string
}

// TickStats summarises one tick
type TickStats struct {
	Result      string
	Fetched     int
	Opened      int
	Transitions int
	Unchanged   int
	NotFound    int
	OutOfOrder  int
}

// Poller fetches presence for the roster on a fixed cadence and feeds the recorder.
// It owns the presence cache and keeps it in step with every write the recorder
// makes. A tick that fires while another is running is skipped.
type Poller struct {
	source   client.PresenceSource
	recorder ObservationRecorder
	repo     repository.IntervalRepository
	cache    *service.PresenceCache
	clock    quartz.Clock
	cfg      PollerConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// recorder writes the cache itself
	cacheFollowsRecorder bool

	busy     atomic.Bool
	inflight sync.WaitGroup

	mu          sync.Mutex
	state       PollerState
	needsReauth bool
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewPoller creates a new Poller. A nil source disables fetching.
func NewPoller(
	source client.PresenceSource,
	recorder ObservationRecorder,
	repo repository.IntervalRepository,
	cache *service.PresenceCache,
	clock quartz.Clock,
	cfg PollerConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Poller {
	if cache == nil {
		cache = service.NewPresenceCache()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = cfg.Interval
	}
	p := &Poller{
		source:   source,
		recorder: recorder,
		repo:     repo,
		cache:    cache,
		clock:    clock,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		state:    PollerStateIdle,
	}
	if n, ok := recorder.(recordNotifier); ok {
		n.OnRecorded(cache.Set)
		p.cacheFollowsRecorder = true
	}
	return p
}

// Cache returns the poller-owned presence cache
func (p *Poller) Cache() *service.PresenceCache {
	return p.cache
}

// State returns the current lifecycle state
func (p *Poller) State() PollerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// NeedsReauthorization reports whether polling halted on rejected credentials
func (p *Poller) NeedsReauthorization() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.needsReauth
}

// Running reports whether the timer loop is active
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start rebuilds the cache from the store's open intervals and starts the timer.
// The first tick fires after InitialDelay, then every Interval.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPollerRunning
	}
	if p.needsReauth {
		return fmt.Errorf("%w: resume after re-authorization", domain.ErrAuthorizationExpired)
	}

	if err := p.rebuildCache(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.state = PollerStateIdle

	ticker := p.clock.NewTicker(p.cfg.InitialDelay, "poller")
	go p.loop(loopCtx, ticker, p.done)

	p.logger.Info("Presence poller started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Duration("initial_delay", p.cfg.InitialDelay),
		zap.Int("cached_entities", p.cache.Len()),
	)
	return nil
}

// Stop tears down the timer and waits for an in-flight tick to finish.
// It is safe to call at any time, including more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	done := p.done
	p.running = false
	if p.state != PollerStateHalted {
		p.state = PollerStateStopped
	}
	p.mu.Unlock()

	if done != nil {
		<-done
	}
	p.inflight.Wait()
	p.logger.Info("Presence poller stopped")
}

// Resume restarts a loop halted by an authorization failure
func (p *Poller) Resume(ctx context.Context) error {
	p.mu.Lock()
	if p.state != PollerStateHalted {
		p.mu.Unlock()
		return ErrPollerNotHalted
	}
	done := p.done
	p.mu.Unlock()

	if done != nil {
		<-done
	}

	p.mu.Lock()
	p.needsReauth = false
	p.state = PollerStateIdle
	p.mu.Unlock()

	p.logger.Info("Resuming presence poller after re-authorization")
	return p.Start(ctx)
}

func (p *Poller) loop(ctx context.Context, ticker *quartz.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if first {
				first = false
				ticker.Reset(p.cfg.Interval, "poller", "reset")
			}
			p.dispatch(ctx)
		}
	}
}

// dispatch runs a tick in its own goroutine unless one is already running
func (p *Poller) dispatch(ctx context.Context) {
	if !p.busy.CompareAndSwap(false, true) {
		p.metrics.RecordPollTick(metrics.PollResultSkipped, 0)
		p.logger.Debug("Previous poll still running, skipping tick")
		return
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		defer p.busy.Store(false)
		_, _ = p.poll(ctx)
	}()
}

// Tick runs one poll synchronously. It returns ErrTickInProgress when a tick is already running.
func (p *Poller) Tick(ctx context.Context) (TickStats, error) {
	if !p.busy.CompareAndSwap(false, true) {
		p.metrics.RecordPollTick(metrics.PollResultSkipped, 0)
		return TickStats{Result: metrics.PollResultSkipped}, ErrTickInProgress
	}
	p.inflight.Add(1)
	defer p.inflight.Done()
	defer p.busy.Store(false)

	return p.poll(ctx)
}

// Reconcile rebuilds the cache from the store unless a tick is running
func (p *Poller) Reconcile(ctx context.Context) (bool, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return false, nil
	}
	defer p.busy.Store(false)

	if err := p.rebuildCache(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Poller) rebuildCache(ctx context.Context) error {
	open, err := p.repo.FindAllOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open intervals: %w", err)
	}
	p.cache.Rebuild(open)
	p.metrics.SetIntervalsOpen(len(open))
	return nil
}

// roster is the configured entities plus every entity with an open interval
func (p *Poller) roster() []string {
	seen := make(map[string]struct{}, len(p.cfg.TrackedEntities))
	ids := make([]string, 0, len(p.cfg.TrackedEntities)+p.cache.Len())
	for _, id := range p.cfg.TrackedEntities {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, id := range p.cache.EntityIDs() {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Poller) setState(state PollerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PollerStateHalted || p.state == PollerStateStopped {
		return
	}
	p.state = state
}

func (p *Poller) halt(err error) {
	p.mu.Lock()
	p.state = PollerStateHalted
	p.needsReauth = true
	p.running = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()

	p.logger.Error("Presence source rejected credentials, polling halted until re-authorization",
		zap.Error(err),
	)
}

func (p *Poller) poll(ctx context.Context) (TickStats, error) {
	started := time.Now()
	stats := TickStats{}

	if p.NeedsReauthorization() {
		stats.Result = metrics.PollResultHalted
		p.metrics.RecordPollTick(stats.Result, 0)
		return stats, fmt.Errorf("%w: poller halted", domain.ErrAuthorizationExpired)
	}
	if p.source == nil {
		stats.Result = metrics.PollResultNoSource
		p.metrics.RecordPollTick(stats.Result, 0)
		return stats, nil
	}

	roster := p.roster()
	if len(roster) == 0 {
		stats.Result = metrics.PollResultOK
		p.metrics.RecordPollTick(stats.Result, time.Since(started))
		return stats, nil
	}

	p.setState(PollerStatePolling)
	defer p.setState(PollerStateIdle)

	batch, err := p.source.FetchPresence(ctx, roster)
	if err != nil {
		if errors.Is(err, domain.ErrAuthorizationExpired) {
			p.halt(err)
			stats.Result = metrics.PollResultHalted
			p.metrics.RecordPollTick(stats.Result, 0)
			return stats, err
		}
		stats.Result = metrics.PollResultAborted
		p.metrics.RecordPollTick(stats.Result, 0)
		p.logger.Warn("Presence fetch failed, retrying next tick", zap.Error(err))
		return stats, err
	}

	stats.Fetched = len(batch.Presences)
	stats.NotFound = len(batch.NotFound)
	for _, id := range batch.NotFound {
		p.logger.Debug("Entity not found in presence source", zap.String("entity_id", id))
	}

	defaultObservedAt := batch.ObservedAt
	if defaultObservedAt == 0 {
		defaultObservedAt = p.clock.Now().Unix()
	}

	ids := make([]string, 0, len(batch.Presences))
	for id := range batch.Presences {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// recordings run to completion even if the loop is being stopped
	recordCtx := context.WithoutCancel(ctx)
	for _, id := range ids {
		sample := batch.Presences[id]
		state, known := domain.ParsePresenceState(sample.Label)
		if !known {
			p.logger.Debug("Unmodelled presence label recorded as unknown",
				zap.String("entity_id", id),
				zap.String("label", sample.Label),
			)
		}

		if cached, ok := p.cache.Get(id); ok && cached == state {
			stats.Unchanged++
			continue
		}

		observedAt := sample.ObservedAt
		if observedAt == 0 {
			observedAt = defaultObservedAt
		}

		result, err := p.recorder.RecordObservation(recordCtx, id, state, observedAt)
		switch {
		case errors.Is(err, domain.ErrOutOfOrderObservation):
			stats.OutOfOrder++
			continue
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrValidation):
			p.logger.Warn("Skipping entity for this tick", zap.String("entity_id", id), zap.Error(err))
			stats.NotFound++
			continue
		case err != nil:
			stats.Result = metrics.PollResultAborted
			p.metrics.RecordPollTick(stats.Result, 0)
			p.logger.Warn("Poll tick aborted",
				zap.String("entity_id", id),
				zap.Int("transitions_applied", stats.Transitions),
				zap.Error(err),
			)
			return stats, fmt.Errorf("poll aborted at entity %s: %w", id, err)
		}

		if !p.cacheFollowsRecorder {
			p.cache.Set(id, result.Interval.State)
		}
		switch result.Outcome {
		case service.OutcomeOpened:
			stats.Opened++
		case service.OutcomeTransitioned:
			stats.Transitions++
		default:
			stats.Unchanged++
		}
	}

	stats.Result = metrics.PollResultOK
	p.metrics.RecordPollTick(stats.Result, time.Since(started))
	p.metrics.SetIntervalsOpen(p.cache.Len())

	if stats.Transitions > 0 || stats.Opened > 0 {
		p.logger.Info("Updated presence",
			zap.Int("transitions", stats.Transitions),
			zap.Int("opened", stats.Opened),
			zap.Int("fetched", stats.Fetched),
		)
	}
	return stats, nil
}
