// Package focus implements the per-work-item phase pipeline: Orient,
// Engage, Consolidate, and, on any phase failure, Recover. External-hook
// phases run as subprocesses communicating through a scratch directory;
// commands are validated by internal/exec before launch and killed at the
// phase timeout.
package focus

import "github.com/animus-run/animus/pkg/model"

// Phase names an external-hook phase invocation. Engage is only launched as
// a subprocess when the faculty opts into EngageExternal; the built-in
// loop never touches this package's hook machinery.
type Phase string

const (
	PhaseOrient      Phase = "orient"
	PhaseEngage      Phase = "engage"
	PhaseConsolidate Phase = "consolidate"
	PhaseRecover     Phase = "recover"
)

// Environment variable names every hook subprocess receives.
const (
	EnvFocusID  = "ANIMUS_FOCUS_ID"
	EnvWorkID   = "ANIMUS_WORK_ID"
	EnvFaculty  = "ANIMUS_FACULTY"
	EnvPhase    = "ANIMUS_PHASE"
	EnvFocusDir = "ANIMUS_FOCUS_DIR"
)

// PhaseInput is the JSON snapshot written to "<phase>-in.json" before a
// hook subprocess is launched.
type PhaseInput struct {
	FocusID       string              `json:"focus_id"`
	WorkItem      *model.WorkItem     `json:"work_item"`
	Faculty       model.FacultyConfig `json:"faculty"`
	Phase         Phase               `json:"phase"`
	LedgerText    string              `json:"ledger_formatted"`
	AwarenessText string              `json:"awareness_digest,omitempty"`
	OrientContext string              `json:"orient_context,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
}

// SeedLedgerEntry is one ledger entry Orient asks the engine to write on
// its behalf before Engage starts.
type SeedLedgerEntry struct {
	EntryType model.EntryType `json:"entry_type"`
	Content   string          `json:"content"`
}

// OrientOutput is parsed from "orient-out.json".
type OrientOutput struct {
	Context     string            `json:"context"`
	SeedEntries []SeedLedgerEntry `json:"seed_ledger_entries,omitempty"`
}

// ConsolidateOutput is parsed from "consolidate-out.json".
type ConsolidateOutput struct {
	OutcomeData  string `json:"outcome_data"`
	OutcomeError string `json:"outcome_error,omitempty"`
}

// RecoverAction is Recover's disposition for a failed focus.
type RecoverAction string

const (
	RecoverRetry      RecoverAction = "retry"
	RecoverDeadLetter RecoverAction = "dead_letter"
)

// RecoverOutput is parsed from "recover-out.json".
type RecoverOutput struct {
	Action RecoverAction `json:"action"`
	Reason string        `json:"reason"`
}
