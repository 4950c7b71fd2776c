package sandbox

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/animus-run/animus/pkg/model"
)

// ToolInvoker is the engine-side seam the bridge routes SDK tool calls
// through. The engage loop implements it over the same hook pipeline,
// registry, and result guard as a model-initiated call, so a tool call
// from sandboxed code is indistinguishable from a direct one.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, auth model.AuthContext, tool string, input json.RawMessage) (*model.ToolResult, error)
}

// containerSocketDir is where the bridge's socket directory is mounted
// inside the container; the SDK reads ANIMUS_RPC_SOCKET to find the
// socket itself.
const (
	containerSocketDir = "/var/run/animus"
	containerSocket    = containerSocketDir + "/rpc.sock"
	socketEnvVar       = "ANIMUS_RPC_SOCKET"
)

// bridge is the per-run RPC endpoint sandboxed code talks to. It listens
// on a Unix socket mounted into the container (the container keeps
// --network none; a bind-mounted socket needs no network), serving two
// verbs: /invoke routes an engine tool call, /result records the code's
// explicit return value.
type bridge struct {
	invoke ToolInvoker
	auth   model.AuthContext

	sockDir  string
	listener net.Listener
	server   *http.Server

	mu          sync.Mutex
	returnValue string
	hasReturn   bool
}

// invokeRequest is the wire shape of one SDK tool call.
type invokeRequest struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// invokeResponse mirrors model.ToolResult for the SDK.
type invokeResponse struct {
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
	ErrorType string `json:"error_type,omitempty"`
}

// resultRequest carries the code's explicit return value.
type resultRequest struct {
	Value json.RawMessage `json:"value"`
}

// newBridge creates the socket directory and starts serving. Close
// releases the listener and removes the directory.
func newBridge(invoke ToolInvoker, auth model.AuthContext) (*bridge, error) {
	sockDir, err := os.MkdirTemp("", "animus-rpc-*")
	if err != nil {
		return nil, err
	}
	// World-traversable so the container process can reach the socket
	// regardless of which uid the image runs as.
	if err := os.Chmod(sockDir, 0o777); err != nil {
		os.RemoveAll(sockDir)
		return nil, err
	}

	listener, err := net.Listen("unix", filepath.Join(sockDir, "rpc.sock"))
	if err != nil {
		os.RemoveAll(sockDir)
		return nil, err
	}
	if err := os.Chmod(filepath.Join(sockDir, "rpc.sock"), 0o777); err != nil {
		listener.Close()
		os.RemoveAll(sockDir)
		return nil, err
	}

	b := &bridge{invoke: invoke, auth: auth, sockDir: sockDir, listener: listener}

	mux := http.NewServeMux()
	mux.HandleFunc("/invoke", b.handleInvoke)
	mux.HandleFunc("/result", b.handleResult)
	b.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = b.server.Serve(listener) }()

	return b, nil
}

func (b *bridge) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req invokeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid invoke request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Input == nil {
		req.Input = json.RawMessage(`{}`)
	}

	result, err := b.invoke.InvokeTool(r.Context(), b.auth, req.Tool, req.Input)
	if err != nil {
		writeJSON(w, invokeResponse{Content: err.Error(), IsError: true, ErrorType: "invoke_failed"})
		return
	}
	writeJSON(w, invokeResponse{Content: result.Content, IsError: result.IsError, ErrorType: result.ErrorType})
}

func (b *bridge) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req resultRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid result request: "+err.Error(), http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	b.returnValue = renderValue(req.Value)
	b.hasReturn = true
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// renderValue serializes the submitted value: JSON strings become their
// plain text, everything else stays compact JSON.
func renderValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// ReturnValue reports the value submitted via /result, if any. The last
// submission wins if the code calls result() more than once.
func (b *bridge) ReturnValue() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.returnValue, b.hasReturn
}

// SocketDir is the host-side directory holding rpc.sock, bind-mounted at
// containerSocketDir.
func (b *bridge) SocketDir() string { return b.sockDir }

// Close shuts the server down and removes the socket directory.
func (b *bridge) Close(ctx context.Context) {
	_ = b.server.Shutdown(ctx)
	_ = b.listener.Close()
	_ = os.RemoveAll(b.sockDir)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
