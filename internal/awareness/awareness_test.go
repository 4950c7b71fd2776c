package awareness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-run/animus/internal/ledger"
	"github.com/animus-run/animus/internal/queuestore"
	"github.com/animus-run/animus/internal/store"
	"github.com/animus-run/animus/pkg/model"
)

func claim(t *testing.T, st store.Store, id, faculty string) *model.WorkItem {
	t.Helper()
	_, err := st.Submit(context.Background(), &model.WorkItem{ID: id, Faculty: faculty, MaxAttempts: 3})
	require.NoError(t, err)
	item, err := st.Claim(context.Background(), faculty, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

func TestAssembleReturnsEmptyWhenDisabled(t *testing.T) {
	st := store.NewMemoryStore(queuestore.NewMemoryAdapter())
	led := ledger.NewMemoryStore()
	b := New(st, led)

	digest, err := b.Assemble(context.Background(), "wi-1", "ops", model.AwarenessConfig{Enabled: false})
	require.NoError(t, err)
	assert.Empty(t, digest)
}

func TestAssembleIncludesRunningSiblingsExcludingSelf(t *testing.T) {
	st := store.NewMemoryStore(queuestore.NewMemoryAdapter())
	led := ledger.NewMemoryStore()
	self := claim(t, st, "wi-self", "ops")
	sibling := claim(t, st, "wi-sibling", "ops")
	_, err := led.Append(context.Background(), sibling.ID, model.EntryPlan, "investigate the outage")
	require.NoError(t, err)

	b := New(st, led)
	digest, err := b.Assemble(context.Background(), self.ID, "ops", model.AwarenessConfig{
		Enabled: true, MaxRunning: 5,
	})
	require.NoError(t, err)
	assert.Contains(t, digest, "investigate the outage")
	assert.NotContains(t, digest, self.ID)
}

func TestAssembleIncludesRecentCompletedAndFindings(t *testing.T) {
	st := store.NewMemoryStore(queuestore.NewMemoryAdapter())
	led := ledger.NewMemoryStore()
	item := claim(t, st, "wi-done", "ops")
	require.NoError(t, st.Complete(context.Background(), item.ID, model.Outcome{Data: "fixed the leak"}))
	_, err := led.Append(context.Background(), item.ID, model.EntryFinding, "memory leak in worker pool")
	require.NoError(t, err)

	b := New(st, led)
	digest, err := b.Assemble(context.Background(), "wi-other", "ops", model.AwarenessConfig{
		Enabled: true, LookbackHours: 24, MaxRecentCompleted: 5, MaxRecentFindings: 5,
	})
	require.NoError(t, err)
	assert.Contains(t, digest, "fixed the leak")
	assert.Contains(t, digest, "memory leak in worker pool")
}

func TestAssembleGatesChildWorkOnIncludeChildWork(t *testing.T) {
	st := store.NewMemoryStore(queuestore.NewMemoryAdapter())
	led := ledger.NewMemoryStore()
	parent := claim(t, st, "wi-parent", "ops")

	_, err := st.Submit(context.Background(), &model.WorkItem{
		ID: "wi-child", Faculty: "research", ParentID: parent.ID, MaxAttempts: 3,
	})
	require.NoError(t, err)
	child, err := st.Claim(context.Background(), "research", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, child)
	_, err = led.Append(context.Background(), child.ID, model.EntryPlan, "summarize delegated reading")
	require.NoError(t, err)

	b := New(st, led)

	cfg := model.AwarenessConfig{Enabled: true, MaxRunning: 5}
	digest, err := b.Assemble(context.Background(), "wi-other", "ops", cfg)
	require.NoError(t, err)
	assert.NotContains(t, digest, "summarize delegated reading",
		"child work stays out of the digest by default")

	cfg.IncludeChildWork = true
	digest, err = b.Assemble(context.Background(), "wi-other", "ops", cfg)
	require.NoError(t, err)
	assert.Contains(t, digest, "summarize delegated reading")
}

func TestAssembleExcludesStaleCompletedOutsideLookback(t *testing.T) {
	st := store.NewMemoryStore(queuestore.NewMemoryAdapter())
	led := ledger.NewMemoryStore()
	item := claim(t, st, "wi-old", "ops")
	require.NoError(t, st.Complete(context.Background(), item.ID, model.Outcome{Data: "ancient history"}))

	b := New(st, led)
	b.Now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	digest, err := b.Assemble(context.Background(), "wi-other", "ops", model.AwarenessConfig{
		Enabled: true, LookbackHours: 1, MaxRecentCompleted: 5,
	})
	require.NoError(t, err)
	assert.NotContains(t, digest, "ancient history")
}

func TestFormatShowsNoneForEmptySections(t *testing.T) {
	out := Format(nil, nil, nil)
	assert.Contains(t, out, "Currently active:\n  (none)")
	assert.Contains(t, out, "Recently completed:\n  (none)")
	assert.Contains(t, out, "Recent findings:\n  (none)")
}
