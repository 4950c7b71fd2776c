// Package controlplane implements the capacity-gated dispatcher that turns
// queue wake signals into running foci: it tracks an active-focus table per
// faculty, enforces the global and per-faculty concurrency caps from
// pkg/model.FacultyConfig, collapses bursts of duplicate wake signals while
// a faculty sits at capacity, and drives graceful shutdown. The loop shape
// is subscribe to a signal, claim while capacity allows, dispatch onto a
// worker goroutine.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/internal/cache"
	"github.com/animus-run/animus/internal/observability"
	"github.com/animus-run/animus/internal/queuestore"
	"github.com/animus-run/animus/internal/store"
	"github.com/animus-run/animus/pkg/model"
)

// RunFocusFunc adapts a plain function (typically a closure over
// *focus.Runner.RunFocus) to the shape the dispatcher calls.
type RunFocusFunc func(ctx context.Context, item *model.WorkItem, faculty model.FacultyConfig) FocusOutcome

// FocusOutcome mirrors internal/focus.Outcome's fields the dispatcher cares
// about, without importing that package's Hook/EngageRunner surface.
type FocusOutcome struct {
	Completed bool
	Err       error
}

// Config configures a Dispatcher.
type Config struct {
	// GlobalCap bounds total concurrently running foci across all
	// faculties. A faculty's own cap (Concurrent/ConcurrentLimit) is
	// additionally enforced per faculty.
	GlobalCap int

	// VisibilityTimeout is passed to every Store.Claim call.
	VisibilityTimeout time.Duration

	// HeartbeatInterval is the fallback poll period per faculty, used in
	// addition to queue wake signals so a dropped signal cannot stall
	// dispatch indefinitely.
	HeartbeatInterval time.Duration

	// BackpressureWindow bounds how long a redundant wake signal for a
	// faculty already at capacity is suppressed.
	BackpressureWindow time.Duration

	// ShutdownGrace bounds how long Shutdown waits for in-flight foci to
	// finish before returning; foci still running past this point are
	// abandoned (Recover will observe the resulting context cancellation
	// the next time the focus's hook or engage loop checks ctx).
	ShutdownGrace time.Duration
}

// DefaultConfig returns sane defaults for a Dispatcher.
func DefaultConfig() Config {
	return Config{
		GlobalCap:          8,
		VisibilityTimeout:  5 * time.Minute,
		HeartbeatInterval:  2 * time.Second,
		BackpressureWindow: 500 * time.Millisecond,
		ShutdownGrace:      30 * time.Second,
	}
}

// Dispatcher claims work items as faculty queues signal and launches foci
// within the configured capacity limits.
type Dispatcher struct {
	store     store.Store
	queue     queuestore.Adapter
	faculties map[string]model.FacultyConfig
	run       RunFocusFunc
	cfg       Config
	metrics   *observability.Metrics
	logger    *slog.Logger

	dedupe *cache.SignalCache

	mu          sync.Mutex
	activeTotal int
	activeBy    map[string]int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Dispatcher over the given faculty configuration. run is
// called once per claimed work item, on its own goroutine.
func New(st store.Store, queue queuestore.Adapter, faculties map[string]model.FacultyConfig, run RunFocusFunc, cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	if cfg.GlobalCap <= 0 {
		cfg.GlobalCap = 8
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     st,
		queue:     queue,
		faculties: faculties,
		run:       run,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		dedupe:    cache.NewSignalCache(cfg.BackpressureWindow, 1024),
		activeBy:  make(map[string]int),
	}
}

// Run creates every configured faculty's queue, subscribes to its wake
// signal, and dispatches until ctx is cancelled. It blocks until Shutdown
// completes (or ctx is cancelled directly).
func (d *Dispatcher) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	var unsubs []func()
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	for name := range d.faculties {
		if err := d.queue.CreateQueue(runCtx, name); err != nil {
			return fmt.Errorf("creating queue for faculty %q: %w", name, err)
		}
		ch, unsub := d.queue.Subscribe(name)
		unsubs = append(unsubs, unsub)
		d.wg.Add(1)
		go d.facultyLoop(runCtx, name, ch)
	}

	d.wg.Add(1)
	go d.unroutableLoop(runCtx)

	<-runCtx.Done()
	d.wg.Wait()
	return nil
}

// unroutableLoop periodically counts queued work items whose faculty has
// no configuration. Such items are never claimed (only configured faculty
// queues are watched) and never dead-lettered automatically; the gauge is
// what tells an operator to add the missing faculty.
func (d *Dispatcher) unroutableLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		counts, err := d.UnroutableCounts(ctx)
		if err != nil {
			d.logger.Warn("unroutable sweep failed", "error", err)
			continue
		}
		for faculty, n := range counts {
			if d.metrics != nil {
				d.metrics.SetUnroutableWork(faculty, n)
			}
			d.logger.Warn("queued work for unconfigured faculty", "faculty", faculty, "count", n)
		}
	}
}

// UnroutableCounts returns, per unconfigured faculty name, how many work
// items are queued for it.
func (d *Dispatcher) UnroutableCounts(ctx context.Context) (map[string]int, error) {
	queued, err := d.store.ListState(ctx, store.ListFilter{State: statePtr(model.StateQueued)})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, item := range queued {
		if _, ok := d.faculties[item.Faculty]; !ok {
			counts[item.Faculty]++
		}
	}
	return counts, nil
}

// Shutdown cancels dispatch and waits up to cfg.ShutdownGrace for in-flight
// foci to finish.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	if d.cancel == nil {
		return
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	grace := d.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(grace):
		d.logger.Warn("shutdown grace period elapsed with foci still running")
	case <-ctx.Done():
	}
}

func (d *Dispatcher) facultyLoop(ctx context.Context, faculty string, wake <-chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		d.drain(ctx, faculty)

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

// drain claims and launches work items for faculty until either its
// capacity is exhausted or nothing is left to claim.
func (d *Dispatcher) drain(ctx context.Context, faculty string) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !d.reserve(faculty) {
			if !d.dedupe.Collapse("capacity:" + faculty) {
				d.logger.Debug("faculty at capacity", "faculty", faculty)
			}
			return
		}

		item, err := d.store.Claim(ctx, faculty, d.cfg.VisibilityTimeout)
		if err != nil {
			d.release(faculty)
			if d.metrics != nil {
				d.metrics.RecordError("controlplane", animuserr.KindOf(err))
			}
			d.logger.Error("claim failed", "faculty", faculty, "error", err)
			return
		}
		if item == nil {
			d.release(faculty)
			return
		}

		if d.metrics != nil {
			d.metrics.WorkItemClaimed(faculty)
		}
		fc := d.faculties[faculty]
		d.wg.Add(1)
		go d.launch(ctx, item, fc)
	}
}

func (d *Dispatcher) launch(ctx context.Context, item *model.WorkItem, faculty model.FacultyConfig) {
	defer d.wg.Done()
	defer d.release(item.Faculty)

	start := time.Now()
	if d.metrics != nil {
		d.metrics.FocusStarted(item.Faculty)
	}

	outcome := d.run(ctx, item, faculty)

	status := "completed"
	if outcome.Err != nil {
		status = "failed"
		d.logger.Error("focus ended in error", "work_item_id", item.ID, "faculty", item.Faculty, "error", outcome.Err)
		if d.metrics != nil {
			d.metrics.RecordError("focus", animuserr.KindOf(outcome.Err))
		}
	} else if !outcome.Completed {
		status = "recovered"
	}

	if d.metrics != nil {
		d.metrics.FocusEnded(item.Faculty, status, start)
	}
}

// reserve claims one slot against both the global and per-faculty caps,
// returning false (and reserving nothing) if either is exhausted.
func (d *Dispatcher) reserve(faculty string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.activeTotal >= d.cfg.GlobalCap {
		return false
	}
	if limit := d.facultyLimit(faculty); limit > 0 && d.activeBy[faculty] >= limit {
		return false
	}

	d.activeTotal++
	d.activeBy[faculty]++
	return true
}

func (d *Dispatcher) release(faculty string) {
	d.mu.Lock()
	if d.activeTotal > 0 {
		d.activeTotal--
	}
	if d.activeBy[faculty] > 0 {
		d.activeBy[faculty]--
	}
	d.mu.Unlock()

	// Capacity just freed: the next wake signal for this faculty should be
	// delivered (and acted on), not collapsed as a redundant repeat.
	d.dedupe.Forget("capacity:" + faculty)
}

// facultyLimit returns the faculty's own concurrency cap, or 0 meaning
// "bounded only by the global cap".
func (d *Dispatcher) facultyLimit(faculty string) int {
	fc, ok := d.faculties[faculty]
	if !ok {
		return 1
	}
	if !fc.Concurrent {
		return 1
	}
	return fc.ConcurrentLimit
}

// ActiveCount returns the current number of running foci for faculty (0 if
// unrecognized).
func (d *Dispatcher) ActiveCount(faculty string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeBy[faculty]
}

// ActiveTotal returns the current number of running foci across all
// faculties.
func (d *Dispatcher) ActiveTotal() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeTotal
}
