package focus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/animus-run/animus/internal/ledger"
	"github.com/animus-run/animus/internal/observability"
	"github.com/animus-run/animus/internal/store"
	"github.com/animus-run/animus/pkg/model"
)

// EngageRunner abstracts the built-in engage loop so this package never
// constructs an llmclient or toolregistry itself; the caller wires a
// concrete engage.Loop per faculty and adapts it to this interface.
type EngageRunner interface {
	Run(ctx context.Context, auth model.AuthContext, systemPrompt string, skillFragments []string, orientContext string) (outcomeText string, cancelled bool, err error)
}

// AwarenessBuilder assembles the cross-focus digest consumed at Orient.
// Assembly failure is non-fatal: Runner drops the error, counts it in
// Metrics when set, and proceeds with an empty digest.
type AwarenessBuilder interface {
	Assemble(ctx context.Context, workItemID, faculty string, cfg model.AwarenessConfig) (string, error)
}

// SkillMatcher performs Orient-time skill trigger matching: given
// a work item and its faculty's auto-activation cap, it auto-activates
// whatever matches (up to the cap) and returns a catalog summary of every
// matched-but-not-activated skill, for the system prompt's manual-
// activation section.
type SkillMatcher interface {
	MatchAndActivate(ctx context.Context, item *model.WorkItem, maxAutoActivated int) (catalogSummary string)
	// Forget discards a work item's activation state once its focus ends,
	// so a later retry's Orient starts from a clean slate.
	Forget(workItemID string)
}

// Runner drives one focus (one claimed work item) through Orient,
// Engage, Consolidate and, on failure, Recover.
type Runner struct {
	Store       store.Store
	Ledger      ledger.Store
	Hook        Hook
	Awareness   AwarenessBuilder
	Skills      SkillMatcher
	EngageFor   func(faculty string) (EngageRunner, bool)
	ScratchRoot string

	// Tracer, when set, wraps each phase in a span. Nil disables tracing.
	Tracer *observability.Tracer

	// Metrics, when set, records non-fatal events like awareness digest
	// assembly failures.
	Metrics *observability.Metrics
}

// phaseSpan opens a span for one phase, returning a derived context and a
// finish function that records err (if any) and ends the span.
func (r *Runner) phaseSpan(ctx context.Context, phase Phase, focusID string, item *model.WorkItem) (context.Context, func(error)) {
	if r.Tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := r.Tracer.StartPhase(ctx, string(phase), focusID, item.ID, item.Faculty)
	return ctx, func(err error) {
		r.Tracer.RecordError(span, err)
		span.End()
	}
}

// New builds a Runner with a SubprocessHook; tests substitute Hook directly.
func New(st store.Store, led ledger.Store, awareness AwarenessBuilder, engageFor func(string) (EngageRunner, bool), scratchRoot string) *Runner {
	return &Runner{
		Store:       st,
		Ledger:      led,
		Hook:        SubprocessHook{},
		Awareness:   awareness,
		EngageFor:   engageFor,
		ScratchRoot: scratchRoot,
	}
}

// Outcome summarizes how RunFocus resolved the work item.
type Outcome struct {
	Completed bool
	Recovered RecoverAction
	Err       error
}

// RunFocus executes the full phase pipeline for an already-claimed work
// item. It always leaves the work item in a valid state via the store:
// Completed (Consolidate succeeded), Queued (Recover said retry), or Dead
// (Recover said dead-letter, the Recover hook itself failed, or the
// store's own max_attempts bookkeeping dead-lettered it).
func (r *Runner) RunFocus(ctx context.Context, item *model.WorkItem, faculty model.FacultyConfig) Outcome {
	started := time.Now()
	focusID := uuid.NewString()
	focusDir := filepath.Join(r.ScratchRoot, focusID)
	defer os.RemoveAll(focusDir)
	if r.Skills != nil {
		defer r.Skills.Forget(item.ID)
	}

	orientOut, err := r.runOrient(ctx, focusID, focusDir, item, faculty)
	if err != nil {
		return r.recover(ctx, focusID, focusDir, item, faculty, err)
	}

	outcomeText, cancelled, err := r.runEngage(ctx, focusID, focusDir, item, faculty, orientOut.Context)
	if err != nil {
		return r.recover(ctx, focusID, focusDir, item, faculty, err)
	}
	if cancelled {
		return r.recover(ctx, focusID, focusDir, item, faculty, fmt.Errorf("focus cancelled"))
	}

	consolidateOut, err := r.runConsolidate(ctx, focusID, focusDir, item, faculty, outcomeText)
	if err != nil {
		return r.recover(ctx, focusID, focusDir, item, faculty, err)
	}

	outcome := model.Outcome{
		Data:     consolidateOut.OutcomeData,
		Error:    consolidateOut.OutcomeError,
		Duration: time.Since(started),
	}
	if err := r.Store.Complete(ctx, item.ID, outcome); err != nil {
		return Outcome{Err: fmt.Errorf("completing work item: %w", err)}
	}
	return Outcome{Completed: true}
}

func (r *Runner) runOrient(ctx context.Context, focusID, focusDir string, item *model.WorkItem, faculty model.FacultyConfig) (out *OrientOutput, err error) {
	ctx, finish := r.phaseSpan(ctx, PhaseOrient, focusID, item)
	defer func() { finish(err) }()

	ledgerText, _ := r.Ledger.ReadFormatted(ctx, item.ID)

	var awareness string
	if faculty.Awareness.Enabled && r.Awareness != nil {
		digest, err := r.Awareness.Assemble(ctx, item.ID, item.Faculty, faculty.Awareness)
		if err == nil {
			awareness = digest
		} else if r.Metrics != nil {
			r.Metrics.RecordAwarenessAssemblyFailure()
		}
	}

	var skillCatalog string
	if r.Skills != nil {
		skillCatalog = r.Skills.MatchAndActivate(ctx, item, faculty.Skills.MaxAutoActivated)
	}

	input := PhaseInput{
		FocusID:       focusID,
		WorkItem:      item,
		Faculty:       faculty,
		Phase:         PhaseOrient,
		LedgerText:    ledgerText,
		AwarenessText: awareness,
	}
	var hookOut OrientOutput
	if err := r.Hook.Run(ctx, HookSpec{
		Command:  faculty.Orient.Command,
		Timeout:  faculty.Orient.Timeout,
		FocusDir: focusDir,
		FocusID:  focusID,
		WorkID:   item.ID,
		Faculty:  item.Faculty,
		Phase:    PhaseOrient,
		Input:    input,
	}, &hookOut); err != nil {
		return nil, err
	}

	for _, seed := range hookOut.SeedEntries {
		if _, err := r.Ledger.Append(ctx, item.ID, seed.EntryType, seed.Content); err != nil {
			return nil, fmt.Errorf("seeding ledger entry from orient: %w", err)
		}
	}
	if awareness != "" {
		hookOut.Context = awareness + "\n\n" + hookOut.Context
	}
	if skillCatalog != "" {
		hookOut.Context = hookOut.Context + "\n\n" + skillCatalog
	}
	return &hookOut, nil
}

func (r *Runner) runEngage(ctx context.Context, focusID, focusDir string, item *model.WorkItem, faculty model.FacultyConfig, orientContext string) (outcomeText string, cancelled bool, err error) {
	ctx, finish := r.phaseSpan(ctx, PhaseEngage, focusID, item)
	defer func() { finish(err) }()

	if faculty.Engage.Mode == model.EngageExternal {
		ledgerText, _ := r.Ledger.ReadFormatted(ctx, item.ID)
		input := PhaseInput{
			FocusID:       focusID,
			WorkItem:      item,
			Faculty:       faculty,
			Phase:         PhaseEngage,
			LedgerText:    ledgerText,
			OrientContext: orientContext,
		}
		var out ConsolidateOutput
		err := r.Hook.Run(ctx, HookSpec{
			Command:  faculty.Engage.ExternalCommand,
			FocusDir: focusDir,
			FocusID:  focusID,
			WorkID:   item.ID,
			Faculty:  item.Faculty,
			Phase:    PhaseEngage,
			Input:    input,
		}, &out)
		if err != nil {
			return "", false, err
		}
		return out.OutcomeData, false, nil
	}

	runner, ok := r.EngageFor(item.Faculty)
	if !ok {
		return "", false, fmt.Errorf("no engage runner configured for faculty %q", item.Faculty)
	}
	auth := model.AuthContext{WorkItemID: item.ID, FocusID: focusID, Faculty: item.Faculty}
	return runner.Run(ctx, auth, "", nil, orientContext)
}

func (r *Runner) runConsolidate(ctx context.Context, focusID, focusDir string, item *model.WorkItem, faculty model.FacultyConfig, engageOutcome string) (consolidated *ConsolidateOutput, err error) {
	ctx, finish := r.phaseSpan(ctx, PhaseConsolidate, focusID, item)
	defer func() { finish(err) }()

	ledgerText, _ := r.Ledger.ReadFormatted(ctx, item.ID)
	input := PhaseInput{
		FocusID:       focusID,
		WorkItem:      item,
		Faculty:       faculty,
		Phase:         PhaseConsolidate,
		LedgerText:    ledgerText,
		OrientContext: engageOutcome,
	}
	var out ConsolidateOutput
	if err := r.Hook.Run(ctx, HookSpec{
		Command:  faculty.Consolidate.Command,
		Timeout:  faculty.Consolidate.Timeout,
		FocusDir: focusDir,
		FocusID:  focusID,
		WorkID:   item.ID,
		Faculty:  item.Faculty,
		Phase:    PhaseConsolidate,
		Input:    input,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// recover runs the Recover hook after any phase failure and applies its
// decision through the store. If Recover itself fails, the work item is
// dead-lettered directly.
func (r *Runner) recover(ctx context.Context, focusID, focusDir string, item *model.WorkItem, faculty model.FacultyConfig, cause error) Outcome {
	ctx, finish := r.phaseSpan(ctx, PhaseRecover, focusID, item)
	defer func() { finish(cause) }()

	ledgerText, _ := r.Ledger.ReadFormatted(ctx, item.ID)
	input := PhaseInput{
		FocusID:       focusID,
		WorkItem:      item,
		Faculty:       faculty,
		Phase:         PhaseRecover,
		LedgerText:    ledgerText,
		FailureReason: cause.Error(),
	}
	var out RecoverOutput
	timeout := faculty.Recover.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	err := r.Hook.Run(ctx, HookSpec{
		Command:  faculty.Recover.Command,
		Timeout:  timeout,
		FocusDir: focusDir,
		FocusID:  focusID,
		WorkID:   item.ID,
		Faculty:  item.Faculty,
		Phase:    PhaseRecover,
		Input:    input,
	}, &out)
	if err != nil {
		_ = r.Store.Fail(ctx, item.ID, fmt.Sprintf("recover hook failed: %v (original: %v)", err, cause), false, 0)
		return Outcome{Recovered: RecoverDeadLetter, Err: err}
	}

	retryable := out.Action == RecoverRetry
	if retryable && faculty.Recover.MaxAttempts > 0 && item.Attempts >= faculty.Recover.MaxAttempts {
		retryable = false
	}
	reason := out.Reason
	if reason == "" {
		reason = cause.Error()
	}
	if err := r.Store.Fail(ctx, item.ID, reason, retryable, faculty.Recover.Backoff); err != nil {
		return Outcome{Err: fmt.Errorf("applying recover decision: %w", err)}
	}
	return Outcome{Recovered: out.Action}
}
