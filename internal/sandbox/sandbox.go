// Package sandbox runs untrusted, skill-authored code in a resource-limited
// Docker container on behalf of the execute_code engine tool: workspace
// staging, cgroup limits via docker run flags, and an RPC bridge over a
// bind-mounted Unix socket through which the staged SDK invokes engine
// tools and submits the run's explicit return value. Docker is the single
// enforced isolation boundary; there is no pluggable backend matrix.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/pkg/model"
)

// WorkspaceAccess sets the mount mode of /workspace, the staged scratch
// directory holding the code and Files: WorkspaceReadWrite mounts it
// read-write; WorkspaceReadOnly and WorkspaceNone both mount it read-only.
type WorkspaceAccess string

const (
	WorkspaceNone      WorkspaceAccess = "none"
	WorkspaceReadOnly  WorkspaceAccess = "ro"
	WorkspaceReadWrite WorkspaceAccess = "rw"
)

// Params is one execute_code request.
type Params struct {
	Language  string            `json:"language"` // python, nodejs, go, bash
	Code      string            `json:"code"`
	Stdin     string            `json:"stdin,omitempty"`
	Files     map[string]string `json:"files,omitempty"`
	Timeout   time.Duration     `json:"-"`
	CPULimit  int               `json:"cpu_limit,omitempty"` // millicores
	MemLimit  int               `json:"mem_limit,omitempty"` // MB
	Access    WorkspaceAccess   `json:"workspace_access,omitempty"`
	Workspace string            `json:"-"` // focus workspace dir; Run neither reads nor mounts it

	// Invoke, when non-nil, starts the RPC bridge for this run: the SDK is
	// staged beside the code and the bridge socket is mounted into the
	// container. Auth is the calling focus's tool authorization context,
	// carried through every SDK-initiated call unchanged.
	Invoke ToolInvoker       `json:"-"`
	Auth   model.AuthContext `json:"-"`
}

// Result is the outcome of one execution. ReturnValue is the value the
// code explicitly submitted through the SDK; stdout/stderr are process
// output kept for diagnostics, never the result itself.
type Result struct {
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	ExitCode    int    `json:"exit_code"`
	Error       string `json:"error,omitempty"`
	Timeout     bool   `json:"timeout,omitempty"`
	ReturnValue string `json:"return_value,omitempty"`
	HasReturn   bool   `json:"has_return,omitempty"`
}

// Config tunes the sandbox's defaults and limits.
type Config struct {
	DefaultTimeout time.Duration
	DefaultCPU     int // millicores
	DefaultMemory  int // MB
	NetworkEnabled bool
	ScratchRoot    string
}

// DefaultConfig holds the defaults New fills in for zero fields: one core,
// 512MB, a 30s timeout, and no network.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		DefaultCPU:     1000,
		DefaultMemory:  512,
		NetworkEnabled: false,
	}
}

// Sandbox executes code via `docker run` with cgroup limits and no network
// by default.
type Sandbox struct {
	cfg Config
}

// New builds a sandbox. It does not verify docker is on PATH; that failure
// surfaces on first Run as a Transport error.
func New(cfg Config) *Sandbox {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.DefaultCPU <= 0 {
		cfg.DefaultCPU = 1000
	}
	if cfg.DefaultMemory <= 0 {
		cfg.DefaultMemory = 512
	}
	return &Sandbox{cfg: cfg}
}

var validLanguages = map[string]bool{"python": true, "nodejs": true, "go": true, "bash": true}

// Run stages params.Code and params.Files into a scratch directory, then
// runs the language's image against it under CPU, memory, pids, and
// network limits, returning whatever the process produced even on a
// non-zero exit (a failing script is data, not a sandbox error).
func (s *Sandbox) Run(ctx context.Context, params Params) (*Result, error) {
	if !validLanguages[params.Language] {
		return nil, animuserr.Validation("unsupported sandbox language %q", params.Language)
	}
	if params.CPULimit <= 0 {
		params.CPULimit = s.cfg.DefaultCPU
	}
	if params.MemLimit <= 0 {
		params.MemLimit = s.cfg.DefaultMemory
	}
	if params.Timeout <= 0 {
		params.Timeout = s.cfg.DefaultTimeout
	}
	if params.Access == "" {
		params.Access = WorkspaceReadOnly
	}

	scratch, err := stageScratch(s.cfg.ScratchRoot, params)
	if err != nil {
		return nil, animuserr.Transport(err, "stage sandbox scratch dir")
	}
	defer os.RemoveAll(scratch)

	var br *bridge
	if params.Invoke != nil {
		br, err = newBridge(params.Invoke, params.Auth)
		if err != nil {
			return nil, animuserr.Transport(err, "start sandbox rpc bridge")
		}
		defer br.Close(context.WithoutCancel(ctx))
		if name := sdkFilename(params.Language); name != "" {
			if err := os.WriteFile(filepath.Join(scratch, name), []byte(sdkSource(params.Language)), 0o644); err != nil {
				return nil, animuserr.Transport(err, "stage sandbox sdk")
			}
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	result, err := s.runDocker(runCtx, params, scratch, br)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return &Result{Error: "execution timeout", Timeout: true}, nil
		}
		return nil, animuserr.Transport(err, "run sandboxed code")
	}
	if br != nil {
		result.ReturnValue, result.HasReturn = br.ReturnValue()
	}
	return result, nil
}

func stageScratch(root string, params Params) (string, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return "", err
		}
	}
	scratch, err := os.MkdirTemp(root, "animus-sandbox-*")
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(filepath.Join(scratch, mainFilename(params.Language)), []byte(params.Code), 0o644); err != nil {
		os.RemoveAll(scratch)
		return "", err
	}
	for name, content := range params.Files {
		name = filepath.Base(name)
		if err := os.WriteFile(filepath.Join(scratch, name), []byte(content), 0o644); err != nil {
			os.RemoveAll(scratch)
			return "", err
		}
	}
	return scratch, nil
}

func mainFilename(language string) string {
	switch language {
	case "python":
		return "main.py"
	case "nodejs":
		return "main.js"
	case "go":
		return "main.go"
	case "bash":
		return "main.sh"
	default:
		return "main.txt"
	}
}

func dockerImage(language string) string {
	switch language {
	case "python":
		return "python:3.12-alpine"
	case "nodejs":
		return "node:22-alpine"
	case "go":
		return "golang:1.24-alpine"
	case "bash":
		return "bash:5-alpine"
	default:
		return "alpine:3"
	}
}

func runCommand(language string) []string {
	switch language {
	case "python":
		return []string{"python", "main.py"}
	case "nodejs":
		return []string{"node", "main.js"}
	case "go":
		return []string{"go", "run", "main.go"}
	case "bash":
		return []string{"bash", "main.sh"}
	default:
		return []string{"cat", "main.txt"}
	}
}

func (s *Sandbox) runDocker(ctx context.Context, params Params, scratch string, br *bridge) (*Result, error) {
	args := []string{"run", "--rm"}
	if !s.cfg.NetworkEnabled {
		args = append(args, "--network", "none")
	}
	args = append(args,
		"--cpus", fmt.Sprintf("%.2f", float64(params.CPULimit)/1000.0),
		"--memory", fmt.Sprintf("%dm", params.MemLimit),
		"--memory-swap", fmt.Sprintf("%dm", params.MemLimit),
		"--pids-limit", "100",
		"--ulimit", "nofile=1024:1024",
	)
	if params.Stdin != "" {
		args = append(args, "-i")
	}

	switch params.Access {
	case WorkspaceReadWrite:
		args = append(args, "-v", fmt.Sprintf("%s:/workspace:rw", scratch))
	default:
		args = append(args, "-v", fmt.Sprintf("%s:/workspace:ro", scratch))
	}
	if br != nil {
		// The socket rides its own rw bind mount; a socket inside the ro
		// workspace mount would refuse connections.
		args = append(args,
			"-v", fmt.Sprintf("%s:%s", br.SocketDir(), containerSocketDir),
			"-e", socketEnvVar+"="+containerSocket,
		)
	}
	args = append(args, "-w", "/workspace", dockerImage(params.Language))
	args = append(args, runCommand(params.Language)...)

	cmd := exec.CommandContext(ctx, "docker", args...)
	if params.Stdin != "" {
		cmd.Stdin = strings.NewReader(params.Stdin)
	}
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		case ctx.Err() == context.DeadlineExceeded:
			result.Timeout = true
			result.Error = "execution timeout"
		default:
			return nil, err
		}
	}
	return result, nil
}

