// Package tools provides the tool interface and built-in tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mindloom/mindloom/logger"
	"github.com/mindloom/mindloom/provider"
)

// Tool is the interface for worker tools.
type Tool interface {
	// Def returns the tool definition for the LLM.
	Def() provider.ToolDef
	// Run executes the tool with the given arguments and returns the result.
	// Errors are returned as strings (for the LLM to interpret).
	Run(ctx context.Context, args json.RawMessage) string
}

// DefaultToolsConfig provides defaults for built-in tools.
type DefaultToolsConfig struct {
	ExecTimeout         int
	WebSearchMaxResults int
	RestrictToWorkspace bool
}

// Registry holds registered tools keyed by name.
type Registry struct {
	byName map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Tool{}}
}

// Register adds a tool to the registry, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.byName[t.Def().Function.Name] = t
}

// RegisterDefaultTools registers the built-in tools rooted at workspace.
func (r *Registry) RegisterDefaultTools(workspace string, cfg DefaultToolsConfig) {
	for _, t := range []Tool{
		&ReadFileTool{workspace: workspace},
		&WriteFileTool{workspace: workspace},
		&EditFileTool{workspace: workspace},
		&ListDirTool{workspace: workspace},
		&ExecTool{workspace: workspace, defaultTimeout: cfg.ExecTimeout, restrictToWorkspace: cfg.RestrictToWorkspace},
		&WebSearchTool{defaultMaxResults: cfg.WebSearchMaxResults},
		&WebFetchTool{},
	} {
		r.Register(t)
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Names returns the names of all registered tools, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defs returns all tool definitions in name order.
func (r *Registry) Defs() []provider.ToolDef {
	defs := make([]provider.ToolDef, 0, len(r.byName))
	for _, name := range r.Names() {
		defs = append(defs, r.byName[name].Def())
	}
	return defs
}

// Run executes a tool by name.
func (r *Registry) Run(ctx context.Context, name string, args json.RawMessage) string {
	t, ok := r.byName[name]
	if !ok {
		logger.Error("tool not found", "tool", name)
		return fmt.Sprintf("Error: unknown tool '%s'", name)
	}
	return t.Run(ctx, args)
}

// parseArgs unmarshals tool arguments, returning an error string for the LLM
// on failure.
func parseArgs(args json.RawMessage, v any) string {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Sprintf("Error: invalid arguments: %v", err)
	}
	return ""
}

// clipOutput caps tool output so a runaway command cannot blow out the
// model context. A notice replaces the removed tail.
func clipOutput(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + fmt.Sprintf("\n[output clipped at %d characters; narrow the scope or read in chunks]", limit)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return path
}

// resolveToolPath resolves relative file tool paths from workspace.
func resolveToolPath(path, workspace string) string {
	path = expandPath(path)
	if path == "" || filepath.IsAbs(path) || workspace == "" {
		return path
	}
	return filepath.Join(workspace, path)
}
