package engage

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/internal/ledger"
	"github.com/animus-run/animus/internal/llmclient"
	"github.com/animus-run/animus/internal/observability"
	"github.com/animus-run/animus/internal/toolregistry"
	"github.com/animus-run/animus/pkg/model"
)

// Config carries the subset of model.EngageConfig the loop needs, plus
// ContextWindow: the model's context size in tokens, used alongside
// CompactThreshold to decide when to compact. ContextWindow lives outside
// FacultyConfig because it is a property of the chosen model, not the
// faculty.
type Config struct {
	Model                 string
	MaxTurns              int
	ParallelToolExecution bool
	MaxParallelTools      int
	CompactThreshold      float64
	CompactKeepRecent     int
	ContextWindow         int
	LedgerNudgeInterval   int
	TruncateClosedBlocks  bool
	ResultGuard           model.ResultGuardConfig
}

// FromFacultyConfig builds a Config from a faculty's declared engage
// settings plus the chosen model's context window.
func FromFacultyConfig(ec model.EngageConfig, contextWindow int) Config {
	return Config{
		Model:                 ec.Model,
		MaxTurns:              ec.MaxTurns,
		ParallelToolExecution: ec.ParallelToolExecution,
		MaxParallelTools:      ec.MaxParallelTools,
		CompactThreshold:      ec.CompactThreshold,
		CompactKeepRecent:     ec.CompactKeepRecent,
		ContextWindow:         contextWindow,
		LedgerNudgeInterval:   ec.LedgerNudgeInterval,
		TruncateClosedBlocks:  ec.TruncateClosedBlocks,
		ResultGuard:           ec.ResultGuard,
	}
}

// State is the loop's per-focus working state, carried across iterations
// and suitable for a caller (focus.go) to persist if it needs to resume a
// suspended focus.
type State struct {
	WorkItemID                string
	Messages                  []model.Message
	OpenBlockStart            int
	IterationsSinceLedgerStep int
	FailedTools               map[string]bool
	ActiveSkills              []*model.Skill
	CancelRequested           bool

	closedStubs         []string
	systemPromptPatches []string
	emptyReplyRetried   bool
	iterations          int
	lastToolOutcomes    []toolOutcome
}

// NewState seeds a fresh loop state from the visible history built by
// Orient.
func NewState(workItemID string, initial []model.Message) *State {
	return &State{
		WorkItemID:  workItemID,
		Messages:    append([]model.Message{}, initial...),
		FailedTools: make(map[string]bool),
	}
}

// Result is what Run returns once the loop exits.
type Result struct {
	OutcomeText string
	Cancelled   bool
	Messages    []model.Message
}

// Loop runs the built-in engage algorithm for one focus.
type Loop struct {
	client llmclient.Client
	tools  *toolregistry.Registry
	ledger ledger.Store
	hooks  Hooks
	cfg    Config
	guard  resultGuard

	// executorMetrics tracks tool dispatch counts across every Run of this
	// loop, read through Metrics(); the status endpoint does not include
	// them.
	executorMetrics ExecutorMetrics

	// skillFragments, when set, returns the live markdown bodies of every
	// skill currently active for a work item. It is consulted fresh each
	// iteration so an activate_skill call mid-loop takes effect on the very
	// next LLM request.
	skillFragments func(workItemID string) []string

	EmergencySummarizations int

	// sdkSteps buffers step-typed ledger appends made through InvokeTool
	// (sandboxed code) during the current iteration's tool dispatch, so
	// they close context blocks like direct ledger_append calls.
	sdkMu    sync.Mutex
	sdkSteps []sdkStep

	metrics *observability.Metrics
	faculty string
}

// New builds a Loop. MaxTurns is taken as given (including zero, which
// exits immediately with no LLM call) since only the faculty config
// loader (internal/config) knows whether a zero came from an omitted TOML
// field or an explicit one and should default it to 50.
func New(client llmclient.Client, tools *toolregistry.Registry, led ledger.Store, hooks Hooks, cfg Config) *Loop {
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = 1
	}
	return &Loop{client: client, tools: tools, ledger: led, hooks: hooks, cfg: cfg, guard: newResultGuard(cfg.ResultGuard)}
}

// Metrics returns a point-in-time snapshot of this loop's tool dispatch
// counters.
func (l *Loop) Metrics() ExecutorMetricsSnapshot {
	return l.executorMetrics.Snapshot()
}

// WithSkillFragments wires a live skill-activation lookup (typically
// (*skillsys.ActiveSet).Fragments) into the loop, so newly activated
// skills affect the system prompt starting with the next iteration.
func (l *Loop) WithSkillFragments(f func(workItemID string) []string) *Loop {
	l.skillFragments = f
	return l
}

// WithMetrics attaches the shared Metrics instance and the faculty name
// this loop runs under, so iteration counts and emergency summarizations
// are recorded with the right faculty label.
func (l *Loop) WithMetrics(m *observability.Metrics, faculty string) *Loop {
	l.metrics = m
	l.faculty = faculty
	return l
}

// Run executes iterations until the loop reaches EndTurn, the turn cap, a
// hook block, or cancellation. systemPrompt is the faculty's configured
// prompt; skillFragments are appended bodies of currently active skills.
func (l *Loop) Run(ctx context.Context, auth model.AuthContext, systemPrompt string, skillFragments []string, st *State) (result *Result, err error) {
	if l.metrics != nil {
		defer func() {
			l.metrics.RecordEngageIterations(l.faculty, st.iterations)
		}()
	}
	if l.cfg.MaxTurns <= 0 {
		return &Result{OutcomeText: "(no response)", Messages: st.Messages}, nil
	}
	for {
		if st.CancelRequested {
			return &Result{OutcomeText: "cancelled", Cancelled: true, Messages: st.Messages}, nil
		}
		select {
		case <-ctx.Done():
			return &Result{OutcomeText: "cancelled", Cancelled: true, Messages: st.Messages}, nil
		default:
		}

		st.iterations++

		decision, err := l.hooks.runBeforeLLMCall(ctx, st)
		if err != nil {
			return nil, err
		}
		if decision.Block {
			return &Result{OutcomeText: decision.BlockReason, Messages: st.Messages}, nil
		}

		if err := l.maybeCompact(ctx, st); err != nil {
			return nil, err
		}

		fragments := skillFragments
		if l.skillFragments != nil {
			fragments = l.skillFragments(auth.WorkItemID)
		}
		system := buildSystemPrompt(systemPrompt, fragments, st.systemPromptPatches)
		visible := visibleMessages(st.Messages, st.OpenBlockStart, l.cfg.TruncateClosedBlocks, st.closedStubs)

		resp, err := l.client.Complete(ctx, model.CompletionRequest{
			Model:    l.cfg.Model,
			System:   system,
			Messages: visible,
			Tools:    l.tools.Definitions(l.tools.Names()),
		})
		if err != nil {
			if animuserr.IsCancelled(err) {
				return &Result{OutcomeText: "cancelled", Cancelled: true, Messages: st.Messages}, nil
			}
			return nil, err
		}

		switch resp.StopReason {
		case model.StopToolUse:
			if err := l.handleToolUse(ctx, auth, st, resp); err != nil {
				return nil, err
			}
		default:
			text := resp.TextContent()
			if text == "" && !st.emptyReplyRetried {
				st.emptyReplyRetried = true
				st.Messages = append(st.Messages, model.UserMessage(model.TextUserBlock("continue")))
				continue
			}
			if text == "" {
				text = "(no response)"
			}
			st.Messages = append(st.Messages, model.AssistantMessage(model.TextAssistantBlock(text)))
			return &Result{OutcomeText: text, Messages: st.Messages}, nil
		}

		l.accountContextBlock(st)
		l.maybeNudge(st)

		if st.iterations >= l.cfg.MaxTurns {
			st.Messages = append(st.Messages, model.AssistantMessage(model.TextAssistantBlock("turn limit reached")))
			return &Result{OutcomeText: "turn limit reached", Messages: st.Messages}, nil
		}
	}
}

// engineSystemPrompt is the engine's base instruction layer. The faculty's
// configured prompt and every active skill's body are appended after it.
const engineSystemPrompt = `You are executing one work item for an autonomous work substrate. Keep the work ledger current as you go: record a plan entry before acting, findings and decisions as you learn them, and a step entry each time you complete a distinct unit of work. Delegate independent subtasks with spawn_child_work and collect them with await_child_work.`

func buildSystemPrompt(base string, skillFragments, patches []string) string {
	var sb strings.Builder
	sb.WriteString(engineSystemPrompt)
	if base != "" {
		sb.WriteString("\n\n")
		sb.WriteString(base)
	}
	for _, f := range skillFragments {
		sb.WriteString("\n\n")
		sb.WriteString(f)
	}
	for _, p := range patches {
		sb.WriteString("\n\n")
		sb.WriteString(p)
	}
	return sb.String()
}

// handleToolUse dispatches every tool-use block in resp in parallel
// (bounded by MaxParallelTools), then appends one assistant message
// carrying all tool-use blocks and one user message carrying all matching
// tool-result blocks, in call order, so every tool_use id is paired with
// exactly one tool_result in the immediately following user message.
func (l *Loop) handleToolUse(ctx context.Context, auth model.AuthContext, st *State, resp *model.CompletionResponse) error {
	toolCalls := resp.ToolUses()
	outcomes, failed := l.dispatchTools(ctx, auth, toolCalls)
	for _, name := range failed {
		st.FailedTools[name] = true
	}

	assistantBlocks := make([]model.AssistantBlock, 0, len(outcomes))
	resultBlocks := make([]model.UserBlock, 0, len(outcomes))
	for _, o := range outcomes {
		assistantBlocks = append(assistantBlocks, o.call)
		resultBlocks = append(resultBlocks, model.ToolResultBlock(o.call.ID, o.result.Content, o.result.IsError))
	}
	if text := resp.TextContent(); text != "" {
		assistantBlocks = append([]model.AssistantBlock{model.TextAssistantBlock(text)}, assistantBlocks...)
	}

	st.Messages = append(st.Messages, model.AssistantMessage(assistantBlocks...))
	st.Messages = append(st.Messages, model.UserMessage(resultBlocks...))
	st.lastToolOutcomes = outcomes
	return nil
}

// accountContextBlock closes the current context block when a step-typed
// ledger_append call appears in the just-appended iteration.
func (l *Loop) accountContextBlock(st *State) {
	closedBySteps := false
	for _, o := range st.lastToolOutcomes {
		if o.call.Name != "ledger_append" {
			continue
		}
		var in ledgerAppendInput
		if err := json.Unmarshal(o.call.Input, &in); err != nil {
			continue
		}
		if in.EntryType != model.EntryStep {
			continue
		}
		seq := len(st.closedStubs) + 1
		if o.result != nil && o.result.Metadata != nil {
			if s, ok := o.result.Metadata["seq"].(int); ok {
				seq = s
			}
		}
		st.closedStubs = append(st.closedStubs, stepStub(seq, in.Content))
		st.OpenBlockStart = len(st.Messages)
		st.IterationsSinceLedgerStep = 0
		closedBySteps = true
	}
	for _, s := range l.drainSDKSteps() {
		seq := s.seq
		if seq <= 0 {
			seq = len(st.closedStubs) + 1
		}
		st.closedStubs = append(st.closedStubs, stepStub(seq, s.content))
		st.OpenBlockStart = len(st.Messages)
		st.IterationsSinceLedgerStep = 0
		closedBySteps = true
	}
	st.lastToolOutcomes = nil
	if !closedBySteps {
		st.IterationsSinceLedgerStep++
	}
}

// maybeNudge reminds the agent to record progress once the iteration
// counter reaches the configured nudge interval; 0 disables nudging.
func (l *Loop) maybeNudge(st *State) {
	if l.cfg.LedgerNudgeInterval <= 0 {
		return
	}
	if st.IterationsSinceLedgerStep < l.cfg.LedgerNudgeInterval {
		return
	}
	st.Messages = append(st.Messages, model.UserMessage(model.TextUserBlock(
		"Reminder: record your progress with ledger_append before continuing.",
	)))
	st.IterationsSinceLedgerStep = 0
}
