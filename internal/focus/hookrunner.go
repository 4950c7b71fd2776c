package focus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	exectools "github.com/animus-run/animus/internal/exec"
)

// HookSpec describes one external-hook subprocess invocation.
type HookSpec struct {
	Command   string
	Timeout   time.Duration
	FocusDir  string
	FocusID   string
	WorkID    string
	Faculty   string
	Phase     Phase
	Input     any
}

// Hook runs an external-hook subprocess and parses its output file. It is
// an interface so tests and the Engage-external path can substitute a
// fake without shelling out.
type Hook interface {
	Run(ctx context.Context, spec HookSpec, output any) error
}

// SubprocessHook is the production Hook: launches spec.Command via
// exec.CommandContext under the phase timeout, with the phase contract's
// env vars and in/out JSON files in FocusDir.
type SubprocessHook struct{}

// ErrHookFailed wraps a non-zero exit or a parse failure of the hook's
// output file; both count as phase failure.
type ErrHookFailed struct {
	Phase  Phase
	Reason string
}

func (e *ErrHookFailed) Error() string {
	return fmt.Sprintf("hook failed in phase %s: %s", e.Phase, e.Reason)
}

func (SubprocessHook) Run(ctx context.Context, spec HookSpec, output any) error {
	if spec.Command == "" {
		return &ErrHookFailed{Phase: spec.Phase, Reason: "no command configured"}
	}
	command, err := exectools.SanitizeCommand(spec.Command)
	if err != nil {
		return &ErrHookFailed{Phase: spec.Phase, Reason: fmt.Sprintf("invalid hook command: %v", err)}
	}
	if err := os.MkdirAll(spec.FocusDir, 0o755); err != nil {
		return fmt.Errorf("creating focus scratch dir: %w", err)
	}

	inPath := filepath.Join(spec.FocusDir, string(spec.Phase)+"-in.json")
	outPath := filepath.Join(spec.FocusDir, string(spec.Phase)+"-out.json")

	inBytes, err := json.Marshal(spec.Input)
	if err != nil {
		return fmt.Errorf("marshaling hook input: %w", err)
	}
	if err := os.WriteFile(inPath, inBytes, 0o644); err != nil {
		return fmt.Errorf("writing hook input file: %w", err)
	}
	if err := os.WriteFile(outPath, []byte("{}"), 0o644); err != nil {
		return fmt.Errorf("seeding hook output file: %w", err)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command)
	cmd.Dir = spec.FocusDir
	cmd.Env = append(os.Environ(),
		EnvFocusID+"="+spec.FocusID,
		EnvWorkID+"="+spec.WorkID,
		EnvFaculty+"="+spec.Faculty,
		EnvPhase+"="+string(spec.Phase),
		EnvFocusDir+"="+spec.FocusDir,
	)

	if err := cmd.Run(); err != nil {
		return &ErrHookFailed{Phase: spec.Phase, Reason: err.Error()}
	}

	outBytes, err := os.ReadFile(outPath)
	if err != nil {
		return &ErrHookFailed{Phase: spec.Phase, Reason: "reading output file: " + err.Error()}
	}
	if output != nil {
		if err := json.Unmarshal(outBytes, output); err != nil {
			return &ErrHookFailed{Phase: spec.Phase, Reason: "parsing output file: " + err.Error()}
		}
	}
	return nil
}
