package policyfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/runestone-labs/gatekeeper/internal/domain/policy"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadSimplePolicy(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policy.yaml", `
tools:
  shell.exec:
    decision: approve
    max_timeout_ms: 30000
`)
	p, err := load(path, map[string]bool{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Tools["shell.exec"].Decision != policy.DecisionApprove {
		t.Fatalf("expected approve decision, got %v", p.Tools["shell.exec"].Decision)
	}
}

func TestLoadExtendsMergesListsBaseThenOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
tools:
  shell.exec:
    decision: deny
    deny_patterns: ["rm -rf"]
`)
	path := writeFile(t, dir, "override.yaml", `
extends: base.yaml
tools:
  shell.exec:
    decision: approve
    deny_patterns: ["curl .* | sh"]
`)
	p, err := load(path, map[string]bool{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tp := p.Tools["shell.exec"]
	if tp.Decision != policy.DecisionApprove {
		t.Fatalf("expected override scalar to win, got %v", tp.Decision)
	}
	if len(tp.DenyPatterns) != 2 || tp.DenyPatterns[0] != "rm -rf" || tp.DenyPatterns[1] != "curl .* | sh" {
		t.Fatalf("expected base-then-override concat, got %v", tp.DenyPatterns)
	}
}

func TestLoadExtendsMergesOtherDenyListsBaseThenOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
tools:
  http.request:
    decision: allow
    deny_domains: ["evil.example.com"]
    deny_extensions: [".exe"]
    deny_ip_ranges: ["10.0.0.0/8"]
`)
	path := writeFile(t, dir, "override.yaml", `
extends: base.yaml
tools:
  http.request:
    decision: allow
    deny_domains: ["also-evil.example.com"]
    deny_extensions: [".sh"]
    deny_ip_ranges: ["172.16.0.0/12"]
`)
	p, err := load(path, map[string]bool{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tp := p.Tools["http.request"]
	if len(tp.DenyDomains) != 2 || tp.DenyDomains[0] != "evil.example.com" || tp.DenyDomains[1] != "also-evil.example.com" {
		t.Fatalf("expected deny_domains base-then-override concat, got %v", tp.DenyDomains)
	}
	if len(tp.DenyExtensions) != 2 || tp.DenyExtensions[0] != ".exe" || tp.DenyExtensions[1] != ".sh" {
		t.Fatalf("expected deny_extensions base-then-override concat, got %v", tp.DenyExtensions)
	}
	if len(tp.DenyIPRanges) != 2 || tp.DenyIPRanges[0] != "10.0.0.0/8" || tp.DenyIPRanges[1] != "172.16.0.0/12" {
		t.Fatalf("expected deny_ip_ranges base-then-override concat, got %v", tp.DenyIPRanges)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
extends: b.yaml
tools: {}
`)
	pathB := writeFile(t, dir, "b.yaml", `
extends: a.yaml
tools: {}
`)
	_, err := load(pathB, map[string]bool{})
	if err == nil {
		t.Fatalf("expected cycle detection error")
	}
}

func TestLoadPrincipalsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "principals.yaml", `
deployer:
  allowedTools: ["shell.exec"]
  requireApproval: ["files.write"]
`)
	path := writeFile(t, dir, "policy.yaml", `
principals_file: principals.yaml
tools:
  shell.exec:
    decision: allow
`)
	p, err := load(path, map[string]bool{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pp, ok := p.Principals["deployer"]
	if !ok {
		t.Fatalf("expected deployer principal to be loaded")
	}
	if !pp.AllowsTool("shell.exec") {
		t.Fatalf("expected deployer to allow shell.exec")
	}
	if !pp.RequiresApprovalFor("files.write") {
		t.Fatalf("expected deployer to require approval for files.write")
	}
}

func TestValidateRejectsUnknownDecision(t *testing.T) {
	p := &policy.Policy{Tools: map[string]*policy.ToolPolicy{
		"shell.exec": {Decision: "maybe"},
	}}
	if err := Validate(p); err == nil {
		t.Fatalf("expected error for unknown decision")
	}
}

func TestValidateRejectsInvalidPrincipalRegex(t *testing.T) {
	p := &policy.Policy{
		Tools:      map[string]*policy.ToolPolicy{},
		Principals: map[string]*policy.PrincipalPolicy{"deployer": {DenyPatterns: []string{"("}}},
	}
	if err := Validate(p); err == nil {
		t.Fatalf("expected error for invalid principal regex")
	}
}
