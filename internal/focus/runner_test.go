package focus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-run/animus/internal/ledger"
	"github.com/animus-run/animus/internal/queuestore"
	"github.com/animus-run/animus/internal/store"
	"github.com/animus-run/animus/pkg/model"
)

// fakeHook returns a scripted response per phase, or an error per phase,
// without touching the filesystem or spawning a process.
type fakeHook struct {
	responses map[Phase]any
	errs      map[Phase]error
	calls     []Phase
}

func (f *fakeHook) Run(ctx context.Context, spec HookSpec, output any) error {
	f.calls = append(f.calls, spec.Phase)
	if err, ok := f.errs[spec.Phase]; ok {
		return err
	}
	resp, ok := f.responses[spec.Phase]
	if !ok {
		return nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, output)
}

type fakeEngageRunner struct {
	outcome   string
	cancelled bool
	err       error
}

func (f *fakeEngageRunner) Run(ctx context.Context, auth model.AuthContext, systemPrompt string, skillFragments []string, orientContext string) (string, bool, error) {
	return f.outcome, f.cancelled, f.err
}

func newTestItem(t *testing.T, st store.Store, faculty string) *model.WorkItem {
	t.Helper()
	item := &model.WorkItem{ID: "wi-" + faculty, Faculty: faculty, MaxAttempts: 3}
	_, err := st.Submit(context.Background(), item)
	require.NoError(t, err)
	claimed, err := st.Claim(context.Background(), faculty, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return claimed
}

func TestRunFocusCompletesOnSuccess(t *testing.T) {
	st := store.NewMemoryStore(queuestore.NewMemoryAdapter())
	led := ledger.NewMemoryStore()
	item := newTestItem(t, st, "ops")

	hook := &fakeHook{responses: map[Phase]any{
		PhaseOrient:      OrientOutput{Context: "do the thing"},
		PhaseConsolidate: ConsolidateOutput{OutcomeData: "done"},
	}}
	engageRunner := &fakeEngageRunner{outcome: "finished"}

	r := &Runner{
		Store:       st,
		Ledger:      led,
		Hook:        hook,
		EngageFor:   func(string) (EngageRunner, bool) { return engageRunner, true },
		ScratchRoot: t.TempDir(),
	}

	outcome := r.RunFocus(context.Background(), item, model.FacultyConfig{Name: "ops"})
	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Completed)

	got, err := st.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, got.State)
	assert.Equal(t, "done", got.OutcomeData)

	assert.Equal(t, []Phase{PhaseOrient, PhaseConsolidate}, hook.calls)
}

func TestRunFocusSeedsLedgerFromOrient(t *testing.T) {
	st := store.NewMemoryStore(queuestore.NewMemoryAdapter())
	led := ledger.NewMemoryStore()
	item := newTestItem(t, st, "ops")

	hook := &fakeHook{responses: map[Phase]any{
		PhaseOrient: OrientOutput{
			Context:     "context",
			SeedEntries: []SeedLedgerEntry{{EntryType: model.EntryPlan, Content: "plan: do X"}},
		},
		PhaseConsolidate: ConsolidateOutput{OutcomeData: "done"},
	}}
	r := &Runner{
		Store:       st,
		Ledger:      led,
		Hook:        hook,
		EngageFor:   func(string) (EngageRunner, bool) { return &fakeEngageRunner{outcome: "ok"}, true },
		ScratchRoot: t.TempDir(),
	}

	outcome := r.RunFocus(context.Background(), item, model.FacultyConfig{})
	require.NoError(t, outcome.Err)

	entries, err := led.Read(context.Background(), item.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntryPlan, entries[0].EntryType)
}

func TestRunFocusRecoversOnOrientFailureAndRetries(t *testing.T) {
	st := store.NewMemoryStore(queuestore.NewMemoryAdapter())
	led := ledger.NewMemoryStore()
	item := newTestItem(t, st, "ops")

	hook := &fakeHook{
		errs: map[Phase]error{PhaseOrient: &ErrHookFailed{Phase: PhaseOrient, Reason: "boom"}},
		responses: map[Phase]any{
			PhaseRecover: RecoverOutput{Action: RecoverRetry, Reason: "transient"},
		},
	}
	r := &Runner{
		Store:       st,
		Ledger:      led,
		Hook:        hook,
		EngageFor:   func(string) (EngageRunner, bool) { return &fakeEngageRunner{}, true },
		ScratchRoot: t.TempDir(),
	}

	outcome := r.RunFocus(context.Background(), item, model.FacultyConfig{})
	require.NoError(t, outcome.Err)
	assert.Equal(t, RecoverRetry, outcome.Recovered)

	got, err := st.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateQueued, got.State)
	assert.Equal(t, 1, got.Attempts)
}

func TestRunFocusDeadLettersWhenRecoverSaysSo(t *testing.T) {
	st := store.NewMemoryStore(queuestore.NewMemoryAdapter())
	led := ledger.NewMemoryStore()
	item := newTestItem(t, st, "ops")

	hook := &fakeHook{
		errs: map[Phase]error{PhaseOrient: &ErrHookFailed{Phase: PhaseOrient, Reason: "boom"}},
		responses: map[Phase]any{
			PhaseRecover: RecoverOutput{Action: RecoverDeadLetter, Reason: "unrecoverable"},
		},
	}
	r := &Runner{
		Store:       st,
		Ledger:      led,
		Hook:        hook,
		EngageFor:   func(string) (EngageRunner, bool) { return &fakeEngageRunner{}, true },
		ScratchRoot: t.TempDir(),
	}

	outcome := r.RunFocus(context.Background(), item, model.FacultyConfig{})
	require.NoError(t, outcome.Err)
	assert.Equal(t, RecoverDeadLetter, outcome.Recovered)

	got, err := st.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDead, got.State)
}

func TestRunFocusRecoversOnEngageCancellation(t *testing.T) {
	st := store.NewMemoryStore(queuestore.NewMemoryAdapter())
	led := ledger.NewMemoryStore()
	item := newTestItem(t, st, "ops")

	hook := &fakeHook{responses: map[Phase]any{
		PhaseOrient:  OrientOutput{Context: "go"},
		PhaseRecover: RecoverOutput{Action: RecoverRetry, Reason: "cancelled, retry"},
	}}
	r := &Runner{
		Store:       st,
		Ledger:      led,
		Hook:        hook,
		EngageFor:   func(string) (EngageRunner, bool) { return &fakeEngageRunner{cancelled: true}, true },
		ScratchRoot: t.TempDir(),
	}

	outcome := r.RunFocus(context.Background(), item, model.FacultyConfig{})
	require.NoError(t, outcome.Err)
	assert.Equal(t, RecoverRetry, outcome.Recovered)
}

func TestRunFocusDeadLettersWhenRecoverHookItselfFails(t *testing.T) {
	st := store.NewMemoryStore(queuestore.NewMemoryAdapter())
	led := ledger.NewMemoryStore()
	item := newTestItem(t, st, "ops")

	hook := &fakeHook{errs: map[Phase]error{
		PhaseOrient:  &ErrHookFailed{Phase: PhaseOrient, Reason: "boom"},
		PhaseRecover: &ErrHookFailed{Phase: PhaseRecover, Reason: "recover hook crashed"},
	}}
	r := &Runner{
		Store:       st,
		Ledger:      led,
		Hook:        hook,
		EngageFor:   func(string) (EngageRunner, bool) { return &fakeEngageRunner{}, true },
		ScratchRoot: t.TempDir(),
	}

	outcome := r.RunFocus(context.Background(), item, model.FacultyConfig{})
	require.Error(t, outcome.Err)
	assert.Equal(t, RecoverDeadLetter, outcome.Recovered)

	got, err := st.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDead, got.State)
}
