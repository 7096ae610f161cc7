// Package policyfile loads a declarative YAML policy document from disk,
// resolving its extends/principals_file inclusion graph, validating its
// shape, and watching it for changes.
package policyfile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/runestone-labs/gatekeeper/internal/domain/policy"
)

// rawDocument is the on-disk shape of one policy file: the policy fields
// plus the extends/principals_file inclusion directives. Tool entries
// decode directly into policy.ToolPolicy, so a wrongly-typed field fails
// yaml.v3 decoding rather than being dropped.
type rawDocument struct {
	Extends        interface{}                    `yaml:"extends,omitempty"`
	PrincipalsFile string                         `yaml:"principals_file,omitempty"`
	Tools          map[string]*policy.ToolPolicy  `yaml:"tools"`
	Principals     map[string]*rawPrincipalPolicy `yaml:"principals,omitempty"`
	GlobalDeny     []string                       `yaml:"global_deny_patterns,omitempty"`
}

type rawPrincipalPolicy struct {
	AllowedTools    []string            `yaml:"allowedTools,omitempty"`
	DenyPatterns    []string            `yaml:"denyPatterns,omitempty"`
	RequireApproval []string            `yaml:"requireApproval,omitempty"`
	AlertBudget     *policy.AlertBudget `yaml:"alertBudget,omitempty"`
}

// load reads path, recursively resolves its extends chain and optional
// principals_file, merges everything into a single *policy.Policy, and
// validates the result. visiting tracks the inclusion graph so cycles are
// rejected rather than looping forever.
func load(path string, visiting map[string]bool) (*policy.Policy, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", path, err)
	}
	if visiting[abs] {
		return nil, fmt.Errorf("policy include cycle detected at %s", abs)
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", abs, err)
	}

	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", abs, err)
	}

	merged := &policy.Policy{
		Tools:              map[string]*policy.ToolPolicy{},
		Principals:         map[string]*policy.PrincipalPolicy{},
		GlobalDenyPatterns: nil,
	}

	dir := filepath.Dir(abs)
	for _, parentPath := range toStringList(raw.Extends) {
		resolved := resolveRelative(dir, parentPath)
		parent, err := load(resolved, visiting)
		if err != nil {
			return nil, err
		}
		mergePolicy(merged, parent)
	}

	if raw.PrincipalsFile != "" {
		principals, err := loadPrincipalsFile(resolveRelative(dir, raw.PrincipalsFile))
		if err != nil {
			return nil, err
		}
		for role, p := range principals {
			mergePrincipal(merged, role, p)
		}
	}

	for name, tp := range raw.Tools {
		mergeTool(merged, name, tp)
	}
	for role, p := range raw.Principals {
		mergePrincipal(merged, role, toPolicyPrincipal(p))
	}
	merged.GlobalDenyPatterns = append(merged.GlobalDenyPatterns, raw.GlobalDeny...)

	return merged, nil
}

func loadPrincipalsFile(path string) (map[string]*policy.PrincipalPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read principals file %s: %w", path, err)
	}
	var raw map[string]*rawPrincipalPolicy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse principals file %s: %w", path, err)
	}
	out := make(map[string]*policy.PrincipalPolicy, len(raw))
	for role, p := range raw {
		out[role] = toPolicyPrincipal(p)
	}
	return out, nil
}

func toPolicyPrincipal(p *rawPrincipalPolicy) *policy.PrincipalPolicy {
	if p == nil {
		return &policy.PrincipalPolicy{}
	}
	return &policy.PrincipalPolicy{
		AllowedTools:    p.AllowedTools,
		DenyPatterns:    p.DenyPatterns,
		RequireApproval: p.RequireApproval,
		AlertBudget:     p.AlertBudget,
	}
}

func resolveRelative(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func toStringList(v interface{}) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return []string{val}
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// mergePolicy merges src (a parent, from extends) into dst. Tool and
// principal maps merge by name. When both sides define the same tool, the
// later entry replaces the earlier one as a whole, except that the deny
// lists (DenyPatterns, DenyDomains, DenyExtensions, DenyIPRanges)
// concatenate base-then-override; fields the later entry leaves unset are
// not inherited from the earlier one. For the same principal, AllowedTools,
// DenyPatterns and RequireApproval concatenate and AlertBudget is inherited
// when unset. Global deny patterns concatenate parent first.
func mergePolicy(dst, src *policy.Policy) {
	for name, tp := range src.Tools {
		mergeTool(dst, name, tp)
	}
	for role, p := range src.Principals {
		mergePrincipal(dst, role, p)
	}
	dst.GlobalDenyPatterns = append(append([]string{}, src.GlobalDenyPatterns...), dst.GlobalDenyPatterns...)
}

func mergeTool(dst *policy.Policy, name string, tp *policy.ToolPolicy) {
	existing, ok := dst.Tools[name]
	if !ok {
		copied := *tp
		dst.Tools[name] = &copied
		return
	}
	merged := *tp
	merged.DenyPatterns = append(append([]string{}, existing.DenyPatterns...), tp.DenyPatterns...)
	merged.DenyDomains = append(append([]string{}, existing.DenyDomains...), tp.DenyDomains...)
	merged.DenyExtensions = append(append([]string{}, existing.DenyExtensions...), tp.DenyExtensions...)
	merged.DenyIPRanges = append(append([]string{}, existing.DenyIPRanges...), tp.DenyIPRanges...)
	dst.Tools[name] = &merged
}

func mergePrincipal(dst *policy.Policy, role string, p *policy.PrincipalPolicy) {
	existing, ok := dst.Principals[role]
	if !ok {
		copied := *p
		dst.Principals[role] = &copied
		return
	}
	merged := *p
	merged.AllowedTools = append(append([]string{}, existing.AllowedTools...), p.AllowedTools...)
	merged.DenyPatterns = append(append([]string{}, existing.DenyPatterns...), p.DenyPatterns...)
	merged.RequireApproval = append(append([]string{}, existing.RequireApproval...), p.RequireApproval...)
	if merged.AlertBudget == nil {
		merged.AlertBudget = existing.AlertBudget
	}
	dst.Principals[role] = &merged
}

var validDecisions = map[policy.Decision]bool{
	policy.DecisionAllow:   true,
	policy.DecisionApprove: true,
	policy.DecisionDeny:    true,
}

// Validate enforces §4.2's validation rules on a fully-merged policy:
// known decision values, compilable regex patterns (principal patterns are
// a hard error; tool/global patterns are dropped with a logged warning
// when compiled, which Store does as it loads a snapshot, matching
// "invalid regex is skipped, not treated as a match").
func Validate(p *policy.Policy) error {
	for name, tp := range p.Tools {
		if !validDecisions[tp.Decision] {
			return fmt.Errorf("tool %q: decision must be one of allow/approve/deny, got %q", name, tp.Decision)
		}
	}
	for role, pp := range p.Principals {
		for _, pat := range pp.DenyPatterns {
			if _, err := regexp.Compile("(?i)" + pat); err != nil {
				return fmt.Errorf("principal %q: invalid denyPattern %q: %w", role, pat, err)
			}
		}
	}
	return nil
}
