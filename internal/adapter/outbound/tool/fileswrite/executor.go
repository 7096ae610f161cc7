// Package fileswrite implements the files.write tool: write bytes to a
// path, defending against symlink-escape outside the configured allowed
// roots.
package fileswrite

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/runestone-labs/gatekeeper/internal/domain/policy"
	"github.com/runestone-labs/gatekeeper/internal/domain/tool"
)

// Executor runs files.write calls.
type Executor struct {
	// PolicyFor resolves the current ToolPolicy for this tool name so
	// Execute can re-check the allowed roots after symlink resolution.
	PolicyFor func() *policy.ToolPolicy
}

// Name implements tool.Executor.
func (e *Executor) Name() string { return "files.write" }

// Execute resolves args["path"] absolutely, verifies it (and its nearest
// existing, realpath-resolved ancestor) lies within an allowed root, then
// writes args["content"] decoded per args["encoding"] (utf8 default, or
// base64).
func (e *Executor) Execute(_ context.Context, args map[string]interface{}) tool.Result {
	rawPath, _ := args["path"].(string)
	if rawPath == "" {
		return tool.Result{Success: false, Error: "path is required"}
	}

	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return tool.Result{Success: false, Error: fmt.Sprintf("resolve path: %v", err)}
	}
	absPath = filepath.Clean(absPath)

	allowedRoots := e.allowedRoots()
	if len(allowedRoots) > 0 {
		if !withinAnyRoot(absPath, allowedRoots) {
			return tool.Result{Success: false, Error: "path is not under an allowed root"}
		}
		if err := verifyNoSymlinkEscape(absPath, allowedRoots); err != nil {
			return tool.Result{Success: false, Error: err.Error()}
		}
	}

	encoding, _ := args["encoding"].(string)
	content, _ := args["content"].(string)
	data, err := decodeContent(content, encoding)
	if err != nil {
		return tool.Result{Success: false, Error: fmt.Sprintf("decode content: %v", err)}
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0700); err != nil {
		return tool.Result{Success: false, Error: fmt.Sprintf("create parent directories: %v", err)}
	}
	if err := os.WriteFile(absPath, data, 0600); err != nil {
		return tool.Result{Success: false, Error: fmt.Sprintf("write file: %v", err)}
	}

	return tool.Result{Success: true, Output: map[string]interface{}{
		"path":         absPath,
		"bytesWritten": len(data),
	}}
}

func (e *Executor) allowedRoots() []string {
	if e.PolicyFor == nil {
		return nil
	}
	tp := e.PolicyFor()
	if tp == nil {
		return nil
	}
	roots := make([]string, 0, len(tp.AllowedPaths))
	for _, p := range tp.AllowedPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		roots = append(roots, filepath.Clean(abs))
	}
	return roots
}

func withinAnyRoot(path string, roots []string) bool {
	for _, root := range roots {
		if pathWithin(path, root) {
			return true
		}
	}
	return false
}

// pathWithin reports whether path is root itself or lies under it,
// comparing path components rather than raw string prefixes so
// "/allowed-other" doesn't falsely match root "/allowed".
func pathWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..")
}

// verifyNoSymlinkEscape walks up from path to the nearest existing
// ancestor, resolves it via the OS realpath (EvalSymlinks), and requires
// the resolved ancestor to still lie within one of roots. This defeats a
// write whose parent directory is a symlink pointing outside the
// allowed tree.
func verifyNoSymlinkEscape(path string, roots []string) error {
	ancestor := filepath.Dir(path)
	for {
		if _, err := os.Lstat(ancestor); err == nil {
			break
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			break
		}
		ancestor = parent
	}

	resolved, err := filepath.EvalSymlinks(ancestor)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("resolve ancestor path: %w", err)
	}
	resolved = filepath.Clean(resolved)

	resolvedRoots := make([]string, 0, len(roots))
	for _, root := range roots {
		if r, err := filepath.EvalSymlinks(root); err == nil {
			resolvedRoots = append(resolvedRoots, filepath.Clean(r))
		} else {
			resolvedRoots = append(resolvedRoots, root)
		}
	}

	if !withinAnyRoot(resolved, resolvedRoots) {
		return fmt.Errorf("resolved ancestor escapes the allowed root")
	}
	return nil
}

func decodeContent(content, encoding string) ([]byte, error) {
	switch encoding {
	case "", "utf8":
		return []byte(content), nil
	case "base64":
		return base64.StdEncoding.DecodeString(content)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}
