package enginetools

import (
	"github.com/animus-run/animus/internal/ledger"
	"github.com/animus-run/animus/internal/sandbox"
	"github.com/animus-run/animus/internal/skillsys"
	"github.com/animus-run/animus/internal/store"
	"github.com/animus-run/animus/pkg/model"
)

// Deps bundles the collaborators every engine tool set needs. SkillDir and
// Sandbox are optional: a nil Sandbox means code_execution is disabled for
// this faculty and execute_code is omitted from Build's output.
type Deps struct {
	Store    store.Store
	Ledger   ledger.Store
	Catalog  *skillsys.Catalog
	Active   *skillsys.ActiveSet
	SkillDir string
	Sandbox  *sandbox.Sandbox
	// Invoker routes the sandbox SDK's tool calls back through the engage
	// loop; wired to the faculty's *engage.Loop. Only consulted when
	// Sandbox is non-nil.
	Invoker  sandbox.ToolInvoker
	MaxDepth int
	Metrics  LedgerAppendMetrics
	// SkillRecorder persists activation and provenance records; optional.
	SkillRecorder skillsys.Recorder
}

// Build returns the always-available engine tools for one focus, plus
// execute_code when Sandbox is non-nil. Active may be shared across every
// focus built from these Deps: it keys activation state by work item id
// internally, so concurrent foci never see each other's activated skills.
func Build(deps Deps) []model.Tool {
	tools := []model.Tool{
		&LedgerAppendTool{Store: deps.Ledger, Metrics: deps.Metrics},
		&LedgerReadTool{Store: deps.Ledger},
		&SpawnChildWorkTool{Store: deps.Store, MaxDepth: deps.MaxDepth},
		&AwaitChildWorkTool{Store: deps.Store, Ledger: deps.Ledger},
		&CheckChildWorkTool{Store: deps.Store, Ledger: deps.Ledger},
		&DiscoverSkillsTool{Catalog: deps.Catalog},
		&ActivateSkillTool{Catalog: deps.Catalog, Active: deps.Active, Recorder: deps.SkillRecorder},
		&CreateSkillTool{Catalog: deps.Catalog, SkillDir: deps.SkillDir, Ledger: deps.Ledger, Recorder: deps.SkillRecorder},
	}
	if deps.Sandbox != nil {
		tools = append(tools, &ExecuteCodeTool{Sandbox: deps.Sandbox, Invoker: deps.Invoker})
	}
	return tools
}
