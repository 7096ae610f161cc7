package shellexec

import (
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/runestone-labs/gatekeeper/internal/domain/policy"
)

func echoCommand(s string) string {
	if runtime.GOOS == "windows" {
		return "echo " + s
	}
	return "echo " + s
}

func TestExecuteReturnsStdout(t *testing.T) {
	e := &Executor{}
	res := e.Execute(context.Background(), map[string]interface{}{"command": echoCommand("hello")})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	stdout, _ := res.Output["stdout"].(string)
	if !strings.Contains(stdout, "hello") {
		t.Fatalf("expected stdout to contain hello, got %q", stdout)
	}
}

func TestExecuteMissingCommand(t *testing.T) {
	e := &Executor{}
	res := e.Execute(context.Background(), map[string]interface{}{})
	if res.Success {
		t.Fatalf("expected failure for missing command")
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exit code shape differs on windows cmd")
	}
	e := &Executor{}
	res := e.Execute(context.Background(), map[string]interface{}{"command": "exit 3"})
	if res.Success {
		t.Fatalf("expected failure for non-zero exit")
	}
	if code, _ := res.Output["exitCode"].(int); code != 3 {
		t.Fatalf("expected exitCode 3, got %v", res.Output["exitCode"])
	}
}

func TestExecuteTimeoutExceeded(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sleep semantics differ on windows cmd")
	}
	e := &Executor{}
	res := e.Execute(context.Background(), map[string]interface{}{
		"command":   "sleep 5",
		"timeoutMs": float64(50),
	})
	if res.Success {
		t.Fatalf("expected timeout failure")
	}
	if killed, _ := res.Output["killed"].(bool); !killed {
		t.Fatalf("expected killed=true in output, got %+v", res.Output)
	}
}

func TestExecuteOutputTruncatedAtCap(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell loop syntax differs on windows cmd")
	}
	e := &Executor{PolicyFor: func() *policy.ToolPolicy {
		return &policy.ToolPolicy{MaxOutputBytes: 16}
	}}
	res := e.Execute(context.Background(), map[string]interface{}{
		"command": "yes x | head -c 1000",
	})
	truncated, _ := res.Output["truncated"].(bool)
	if !truncated {
		t.Fatalf("expected output to be marked truncated, got %+v", res.Output)
	}
}

func TestExecutePolicyTimeoutIsUpperBound(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sleep semantics differ on windows cmd")
	}
	e := &Executor{PolicyFor: func() *policy.ToolPolicy {
		return &policy.ToolPolicy{MaxTimeoutMs: 50}
	}}
	res := e.Execute(context.Background(), map[string]interface{}{
		"command": "sleep 5",
	})
	if res.Success {
		t.Fatalf("expected timeout failure bounded by policy max_timeout_ms")
	}
}

func TestEffectiveTimeoutDefaultCeilingAppliesAboveLargerPolicyMax(t *testing.T) {
	e := &Executor{PolicyFor: func() *policy.ToolPolicy {
		return &policy.ToolPolicy{MaxTimeoutMs: 120000}
	}}
	got := e.effectiveTimeout(map[string]interface{}{})
	if got != defaultTimeout {
		t.Fatalf("expected the 30s default to remain the ceiling when policy.max_timeout_ms is larger, got %s", got)
	}
}
