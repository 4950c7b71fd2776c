package model

import "time"

// Isolation controls filesystem isolation for a faculty's focus scratch space.
type Isolation string

const (
	IsolationNone     Isolation = "none"
	IsolationWorktree Isolation = "worktree"
)

// EngageMode selects whether the engage phase runs the built-in loop or
// defers to an external command.
type EngageMode string

const (
	EngageInternal EngageMode = "internal"
	EngageExternal EngageMode = "external"
)

// HookConfig configures one external-hook phase (orient, consolidate).
type HookConfig struct {
	Command string        `toml:"command"`
	Timeout time.Duration `toml:"timeout"`
}

// EngageHooksConfig configures the external hook scripts the engage loop
// runs around each LLM call and tool call. Each entry is one executable;
// it receives the event JSON on stdin plus ANIMUS_HOOK_EVENT /
// ANIMUS_WORK_ID / ANIMUS_FACULTY in its environment, and replies with a
// decision JSON on stdout. A non-zero exit or unparseable reply is a hook
// error, which fails the phase (before_llm_call) or converts the tool
// call into an error result (before/after_tool_call).
type EngageHooksConfig struct {
	BeforeLLMCall  []string      `toml:"before_llm_call"`
	BeforeToolCall []string      `toml:"before_tool_call"`
	AfterToolCall  []string      `toml:"after_tool_call"`
	Timeout        time.Duration `toml:"timeout"`
}

// Empty reports whether no hook scripts are configured.
func (c EngageHooksConfig) Empty() bool {
	return len(c.BeforeLLMCall) == 0 && len(c.BeforeToolCall) == 0 && len(c.AfterToolCall) == 0
}

// EngageConfig configures the engage phase, whether internal or external.
type EngageConfig struct {
	Model                 string            `toml:"model"`
	Prompt                string            `toml:"prompt"`
	Tools                 []string          `toml:"tools"`
	MaxTurns              int               `toml:"max_turns"`
	ParallelToolExecution bool              `toml:"parallel_tool_execution"`
	MaxParallelTools      int               `toml:"max_parallel_tools"`
	CompactThreshold      float64           `toml:"compact_threshold"`
	CompactKeepRecent     int               `toml:"compact_keep_recent"`
	LedgerNudgeInterval   int               `toml:"ledger_nudge_interval"`
	TruncateClosedBlocks  bool              `toml:"truncate_closed_blocks"`
	CodeExecution         bool              `toml:"code_execution"`
	CodeExecutionTimeout  time.Duration     `toml:"code_execution_timeout"`
	CodeExecutionMemoryMB int               `toml:"code_execution_memory"`
	CodeExecutionCPUs     float64           `toml:"code_execution_cpus"`
	Mode                  EngageMode        `toml:"mode"`
	ExternalCommand       string            `toml:"external_command"`
	ResultGuard           ResultGuardConfig `toml:"result_guard"`
	Hooks                 EngageHooksConfig `toml:"hooks"`
}

// ResultGuardConfig controls redaction/truncation of tool results before
// they are written into loop history or the ledger. Unset (all zero)
// disables guarding entirely.
type ResultGuardConfig struct {
	Enabled         bool     `toml:"enabled"`
	MaxChars        int      `toml:"max_chars"`
	Denylist        []string `toml:"denylist"`
	RedactPatterns  []string `toml:"redact_patterns"`
	SanitizeSecrets bool     `toml:"sanitize_secrets"`
}

// AwarenessConfig configures the cross-focus digest assembled at Orient.
type AwarenessConfig struct {
	Enabled            bool `toml:"enabled"`
	LookbackHours      int  `toml:"lookback_hours"`
	MaxRunning         int  `toml:"max_running"`
	MaxRecentCompleted int  `toml:"max_recent_completed"`
	MaxRecentFindings  int  `toml:"max_recent_findings"`
	IncludeChildWork   bool `toml:"include_child_work"`
}

// SkillsConfig configures Orient-time skill trigger matching for a
// faculty.
type SkillsConfig struct {
	// MaxAutoActivated bounds how many of the matched, auto_activate
	// skills are activated automatically at Orient; the rest populate the
	// system prompt's skill catalog for manual activate_skill calls. 0
	// (including an omitted field, defaulted by the config loader) means
	// none are auto-activated.
	MaxAutoActivated int `toml:"max_auto_activated"`
}

// RecoverConfig configures the Recover phase's retry/backoff behavior.
type RecoverConfig struct {
	Command     string        `toml:"command"`
	Timeout     time.Duration `toml:"timeout"`
	MaxAttempts int           `toml:"max_attempts"`
	Backoff     time.Duration `toml:"backoff"`
}

// FacultyConfig is one configured cognitive specialization, loaded from a
// TOML file at startup and never mutated by the engine.
type FacultyConfig struct {
	Name       string `toml:"name"`
	Concurrent bool   `toml:"concurrent"`
	// ConcurrentLimit bounds how many foci of this faculty may run at once
	// when Concurrent is true; 0 means "use the global cap".
	ConcurrentLimit int       `toml:"concurrent_limit"`
	Isolation       Isolation `toml:"isolation"`

	Orient      HookConfig      `toml:"orient"`
	Engage      EngageConfig    `toml:"engage"`
	Awareness   AwarenessConfig `toml:"awareness"`
	Skills      SkillsConfig    `toml:"skills"`
	Consolidate HookConfig      `toml:"consolidate"`
	Recover     RecoverConfig   `toml:"recover"`
}
