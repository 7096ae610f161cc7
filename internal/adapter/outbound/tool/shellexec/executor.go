// Package shellexec implements the shell.exec tool: run a command through
// the platform shell with a bounded timeout and bounded output capture.
package shellexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/runestone-labs/gatekeeper/internal/domain/policy"
	"github.com/runestone-labs/gatekeeper/internal/domain/tool"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultOutputCap = 1 << 20 // 1 MiB
)

// Executor runs shell.exec calls.
type Executor struct {
	// PolicyFor resolves the current ToolPolicy for this tool name so
	// Execute can read the effective timeout/output caps without the
	// orchestrator threading them through every call.
	PolicyFor func() *policy.ToolPolicy
}

// Name implements tool.Executor.
func (e *Executor) Name() string { return "shell.exec" }

// Execute runs args["command"] in args["cwd"] (if set), bounded by
// min(args.timeoutMs, policy.max_timeout_ms, 30s default) and
// policy.max_output_bytes (default 1 MiB) per stream.
func (e *Executor) Execute(ctx context.Context, args map[string]interface{}) tool.Result {
	command, _ := args["command"].(string)
	if command == "" {
		return tool.Result{Success: false, Error: "command is required"}
	}
	cwd, _ := args["cwd"].(string)

	timeout := e.effectiveTimeout(args)
	outputCap := e.effectiveOutputCap()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(runCtx, command)
	if cwd != "" {
		cmd.Dir = cwd
	}

	var stdout, stderr boundedBuffer
	stdout.cap = outputCap
	stderr.cap = outputCap
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := map[string]interface{}{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"truncated": stdout.truncated || stderr.truncated,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		output["killed"] = true
		return tool.Result{Success: false, Output: output, Error: fmt.Sprintf("command timed out after %s", timeout)}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			output["exitCode"] = exitErr.ExitCode()
			return tool.Result{Success: false, Output: output, Error: fmt.Sprintf("command exited with code %d", exitErr.ExitCode())}
		}
		return tool.Result{Success: false, Output: output, Error: err.Error()}
	}

	output["exitCode"] = 0
	return tool.Result{Success: true, Output: output}
}

func (e *Executor) effectiveTimeout(args map[string]interface{}) time.Duration {
	// ceiling = min(default, policy.max_timeout_ms ?? default): the 30s
	// default is a hard cap even when the policy's own max is larger.
	ceiling := defaultTimeout
	if tp := e.policyOrNil(); tp != nil && tp.MaxTimeoutMs > 0 {
		if policyMax := time.Duration(tp.MaxTimeoutMs) * time.Millisecond; policyMax < ceiling {
			ceiling = policyMax
		}
	}
	timeout := ceiling
	if requested, ok := numericMillis(args["timeoutMs"]); ok {
		requestedDur := time.Duration(requested) * time.Millisecond
		if requestedDur < timeout {
			timeout = requestedDur
		}
	}
	return timeout
}

func (e *Executor) effectiveOutputCap() int {
	if tp := e.policyOrNil(); tp != nil && tp.MaxOutputBytes > 0 {
		return tp.MaxOutputBytes
	}
	return defaultOutputCap
}

func (e *Executor) policyOrNil() *policy.ToolPolicy {
	if e.PolicyFor == nil {
		return nil
	}
	return e.PolicyFor()
}

func numericMillis(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

// boundedBuffer caps the number of bytes retained from a stream, appending
// an elision marker once the cap is reached.
type boundedBuffer struct {
	buf       bytes.Buffer
	cap       int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if b.truncated {
		return len(p), nil
	}
	remaining := b.cap - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + fmt.Sprintf("...[truncated at %d bytes]", b.cap)
	}
	return b.buf.String()
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", command)
}
