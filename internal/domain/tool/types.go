// Package tool contains the ToolExecutor port and the per-tool
// request/result shapes for the gateway's three built-in tool kinds:
// shell.exec, files.write, and http.request.
package tool

import "context"

// Result is the outcome of executing a tool call. Executors must never
// panic past their own boundary; unexpected failures surface as Result
// with Success=false and a populated Error.
type Result struct {
	Success bool                   `json:"success"`
	Output  map[string]interface{} `json:"output,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Executor runs one tool call with its arguments and the resolved
// ToolPolicy constraints (already evaluated/allowed by C3), returning a
// structured Result. Implementations must honor ctx's deadline for the
// effective timeout.
type Executor interface {
	// Name returns the tool name this executor serves (e.g. "shell.exec").
	Name() string
	// Execute runs the call. args is the envelope's raw argument map. The
	// evaluator has already checked the policy-level allow/deny decision;
	// the executor still enforces the numeric/byte-cap constraints at the
	// I/O boundary, reading them from its own tool-policy source, because
	// those bound resource usage, not permission.
	Execute(ctx context.Context, args map[string]interface{}) Result
}

// Registry resolves a tool name to its Executor.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry builds a Registry from the given executors, keyed by their
// own Name().
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[string]Executor, len(executors))}
	for _, e := range executors {
		r.executors[e.Name()] = e
	}
	return r
}

// Lookup returns the executor for toolName, or (nil, false) if unknown.
func (r *Registry) Lookup(toolName string) (Executor, bool) {
	e, ok := r.executors[toolName]
	return e, ok
}
