package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mindloom/mindloom/internal/runtimecfg"
	"github.com/mindloom/mindloom/provider"
)

// ExecTool runs shell commands, by default in the workspace.
type ExecTool struct {
	workspace           string
	defaultTimeout      int
	restrictToWorkspace bool
}

// Def returns the tool definition.
func (t *ExecTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        "exec",
			Description: "Execute a shell command and return its output. Use for running programs, scripts, git commands, etc.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "The shell command to execute.",
					},
					"workdir": map[string]any{
						"type":        "string",
						"description": "Optional working directory. Defaults to workspace.",
					},
					"timeout": map[string]any{
						"type":        "integer",
						"description": "Optional timeout in seconds. Defaults to 60.",
					},
				},
				"required": []string{"command"},
			},
		},
	}
}

type execArgs struct {
	Command string `json:"command"`
	Workdir string `json:"workdir,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

// Run executes the tool.
func (t *ExecTool) Run(ctx context.Context, args json.RawMessage) string {
	var a execArgs
	if errMsg := parseArgs(args, &a); errMsg != "" {
		return errMsg
	}

	dir := t.workspace
	if a.Workdir != "" {
		dir = expandPath(a.Workdir)
	}
	if t.restrictToWorkspace && !t.withinWorkspace(dir) {
		return fmt.Sprintf("Error: working directory %q is outside workspace %q (restrictToWorkspace is enabled)", dir, t.workspace)
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}
	if timeout <= 0 {
		timeout = runtimecfg.ToolExecDefaultTimeoutSeconds
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", a.Command)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("Error: command timed out after %d seconds\nPartial output:\n%s", timeout, out)
	}
	if err != nil {
		return fmt.Sprintf("Command failed: %v\nOutput:\n%s", err, out)
	}
	if len(out) == 0 {
		return "(no output)"
	}
	return clipOutput(string(out), runtimecfg.ToolExecOutputMaxChars)
}

// withinWorkspace reports whether dir sits at or below the workspace root,
// after resolving symlinks on both sides.
func (t *ExecTool) withinWorkspace(dir string) bool {
	if t.workspace == "" {
		return true
	}
	if dir == "" {
		dir, _ = os.Getwd()
	}

	canonical := func(p string) string {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if real, err := filepath.EvalSymlinks(p); err == nil {
			p = real
		}
		return p
	}

	d, ws := canonical(dir), canonical(t.workspace)
	sep := string(filepath.Separator)
	return d == ws || strings.HasPrefix(d+sep, ws+sep)
}
