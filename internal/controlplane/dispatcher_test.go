package controlplane

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-run/animus/internal/observability"
	"github.com/animus-run/animus/internal/queuestore"
	"github.com/animus-run/animus/internal/store"
	"github.com/animus-run/animus/pkg/model"
)

func testFaculties(names ...string) map[string]model.FacultyConfig {
	out := make(map[string]model.FacultyConfig, len(names))
	for _, n := range names {
		out[n] = model.FacultyConfig{Name: n}
	}
	return out
}

func submit(t *testing.T, st store.Store, faculty string) *model.WorkItem {
	t.Helper()
	result, err := st.Submit(context.Background(), &model.WorkItem{Faculty: faculty})
	require.NoError(t, err)
	return result.Item
}

func TestDispatcherClaimsAndRunsWorkItem(t *testing.T) {
	queue := queuestore.NewMemoryAdapter()
	st := store.NewMemoryStore(queue)
	submit(t, st, "social")

	var ran int32
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond

	d := New(st, queue, testFaculties("social"), func(ctx context.Context, item *model.WorkItem, faculty model.FacultyConfig) FocusOutcome {
		atomic.AddInt32(&ran, 1)
		return FocusOutcome{Completed: true}
	}, cfg, observability.NewMetricsWith(prometheus.NewRegistry()), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ran) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestDispatcherRespectsFacultyConcurrencyLimit(t *testing.T) {
	queue := queuestore.NewMemoryAdapter()
	st := store.NewMemoryStore(queue)
	for i := 0; i < 5; i++ {
		submit(t, st, "research")
	}

	var mu sync.Mutex
	var maxConcurrent, current int

	faculties := testFaculties("research")
	fc := faculties["research"]
	fc.Concurrent = true
	fc.ConcurrentLimit = 2
	faculties["research"] = fc

	release := make(chan struct{})
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond

	d := New(st, queue, faculties, func(ctx context.Context, item *model.WorkItem, faculty model.FacultyConfig) FocusOutcome {
		mu.Lock()
		current++
		if current > maxConcurrent {
			maxConcurrent = current
		}
		mu.Unlock()

		<-release

		mu.Lock()
		current--
		mu.Unlock()
		return FocusOutcome{Completed: true}
	}, cfg, observability.NewMetricsWith(prometheus.NewRegistry()), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return current == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.LessOrEqual(t, maxConcurrent, 2)
	mu.Unlock()

	close(release)
	cancel()
	<-done
}

func TestDispatcherShutdownWaitsForInFlightFoci(t *testing.T) {
	queue := queuestore.NewMemoryAdapter()
	st := store.NewMemoryStore(queue)
	submit(t, st, "social")

	started := make(chan struct{})
	finish := make(chan struct{})

	d := New(st, queue, testFaculties("social"), func(ctx context.Context, item *model.WorkItem, faculty model.FacultyConfig) FocusOutcome {
		close(started)
		<-finish
		return FocusOutcome{Completed: true}
	}, DefaultConfig(), observability.NewMetricsWith(prometheus.NewRegistry()), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(runDone)
	}()

	<-started

	shutdownDone := make(chan struct{})
	go func() {
		d.Shutdown(context.Background())
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		t.Fatal("shutdown returned before in-flight focus finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(finish)
	<-shutdownDone
	<-runDone
}

func TestDispatcherStatusReportsActiveAndQueued(t *testing.T) {
	queue := queuestore.NewMemoryAdapter()
	st := store.NewMemoryStore(queue)
	submit(t, st, "social")
	submit(t, st, "social")

	d := New(st, queue, testFaculties("social"), func(ctx context.Context, item *model.WorkItem, faculty model.FacultyConfig) FocusOutcome {
		return FocusOutcome{Completed: true}
	}, DefaultConfig(), observability.NewMetricsWith(prometheus.NewRegistry()), nil)

	status, err := d.Status(context.Background(), st, time.Now())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().GlobalCap, status.GlobalCap)
	require.Len(t, status.Faculties, 1)
	assert.Equal(t, "social", status.Faculties[0].Name)
	assert.Equal(t, 2, status.Faculties[0].Queued)
}

func TestFacultyLimitDefaultsToOneWhenNotConcurrent(t *testing.T) {
	d := New(store.NewMemoryStore(queuestore.NewMemoryAdapter()), queuestore.NewMemoryAdapter(), testFaculties("ops"), nil, DefaultConfig(), nil, nil)
	assert.Equal(t, 1, d.facultyLimit("ops"))
	assert.Equal(t, 1, d.facultyLimit("unknown"))
}
