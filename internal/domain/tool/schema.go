package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var argsValidator = validator.New()

// ShellExecArgs is the strict argument shape for shell.exec.
type ShellExecArgs struct {
	Command   string  `json:"command" validate:"required"`
	Cwd       string  `json:"cwd,omitempty"`
	TimeoutMs float64 `json:"timeoutMs,omitempty"`
}

// FilesWriteArgs is the strict argument shape for files.write.
type FilesWriteArgs struct {
	Path     string `json:"path" validate:"required"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty" validate:"omitempty,oneof=utf8 base64"`
}

// HTTPRequestArgs is the strict argument shape for http.request.
type HTTPRequestArgs struct {
	URL     string            `json:"url" validate:"required"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// ValidateArgs schema-validates args against toolName's known shape: unknown
// top-level keys are rejected and required fields enforced. Returns an
// error describing the first violation, or nil if args are well-formed.
func ValidateArgs(toolName string, args map[string]interface{}) error {
	switch toolName {
	case "shell.exec":
		return decodeAndValidate(args, &ShellExecArgs{})
	case "files.write":
		return decodeAndValidate(args, &FilesWriteArgs{})
	case "http.request":
		return decodeAndValidate(args, &HTTPRequestArgs{})
	default:
		return fmt.Errorf("no known argument schema for tool %q", toolName)
	}
}

func decodeAndValidate(args map[string]interface{}, dst interface{}) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("re-encode args: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("args schema mismatch: %w", err)
	}
	if err := argsValidator.Struct(dst); err != nil {
		return fmt.Errorf("args validation failed: %w", err)
	}
	return nil
}
