package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mindloom/mindloom/logger"
	"github.com/mindloom/mindloom/provider"
)

// locate resolves a tool-supplied path against the workspace and returns
// the filesystem path plus a display form that shows both what the model
// asked for and where it landed.
func locate(input, workspace string) (path, display string) {
	path = resolveToolPath(input, workspace)
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return path, fmt.Sprintf("%s (resolved: %s)", input, abs)
}

const readFileDefaultLimit = 100

// lineWindow clamps a 1-based offset/limit pair to [start, end) indices
// over total lines. end == start means the offset is past the file.
func lineWindow(total, offset, limit int) (start, end int) {
	if offset <= 0 {
		offset = 1
	}
	if limit <= 0 {
		limit = readFileDefaultLimit
	}
	start = offset - 1
	if start >= total {
		return total, total
	}
	end = start + limit
	if end > total {
		end = total
	}
	return start, end
}

// ReadFileTool reads the contents of a file with line-based pagination.
type ReadFileTool struct {
	workspace string
}

// Def returns the tool definition.
func (t *ReadFileTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name: "read_file",
			Description: "Read lines from a file. Returns up to 100 lines starting from offset (default 1). " +
				"If the file has more lines than the limit, a notice is appended showing total line count " +
				"so you can make follow-up calls with offset to read the rest.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "The path to the file to read.",
					},
					"offset": map[string]any{
						"type":        "integer",
						"description": "Starting line number (1-based). Defaults to 1.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of lines to return. Defaults to 100.",
					},
				},
				"required": []string{"path"},
			},
		},
	}
}

type readFileArgs struct {
	Path   string `json:"path"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Run executes the tool.
func (t *ReadFileTool) Run(ctx context.Context, args json.RawMessage) string {
	var a readFileArgs
	if errMsg := parseArgs(args, &a); errMsg != "" {
		return errMsg
	}

	path, display := locate(a.Path, t.workspace)
	logger.Debug("read_file resolved path", "inputPath", a.Path, "path", path)

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return fmt.Sprintf("Error: file not found: %s", display)
	case err != nil:
		return fmt.Sprintf("Error: failed to stat file: %s: %v", display, err)
	case info.IsDir():
		return fmt.Sprintf("Error: path is a directory, not a file: %s", display)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("Error: failed to read file: %s: %v", display, err)
	}
	if len(content) == 0 {
		return fmt.Sprintf("Error: file exists but is empty: %s", path)
	}

	lines := strings.Split(string(content), "\n")
	start, end := lineWindow(len(lines), a.Offset, a.Limit)
	if start == end {
		return fmt.Sprintf("[File has %d lines. Offset %d is beyond end of file.]", len(lines), a.Offset)
	}

	var sb strings.Builder
	if end < len(lines) {
		fmt.Fprintf(&sb, "[Showing lines %d-%d of %d total. Use offset=%d to read more.]\n\n",
			start+1, end, len(lines), end+1)
	}
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d\t%s\n", i+1, lines[i])
	}
	return sb.String()
}

// WriteFileTool writes content to a file.
type WriteFileTool struct {
	workspace string
}

// Def returns the tool definition.
func (t *WriteFileTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        "write_file",
			Description: "Write content to a file at the given path. Relative paths are resolved from workspace root. Creates parent directories if needed.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "The path to the file to write.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "The content to write to the file.",
					},
				},
				"required": []string{"path", "content"},
			},
		},
	}
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Run executes the tool.
func (t *WriteFileTool) Run(ctx context.Context, args json.RawMessage) string {
	var a writeFileArgs
	if errMsg := parseArgs(args, &a); errMsg != "" {
		return errMsg
	}

	path, display := locate(a.Path, t.workspace)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Sprintf("Error: failed to create parent directory for %s: %v", display, err)
	}
	if err := os.WriteFile(path, []byte(a.Content), 0644); err != nil {
		return fmt.Sprintf("Error: failed to write file: %s: %v", display, err)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(a.Content), display)
}

// EditFileTool edits a file by replacing text.
type EditFileTool struct {
	workspace string
}

// Def returns the tool definition.
func (t *EditFileTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        "edit_file",
			Description: "Edit a file by replacing specific text. Relative paths are resolved from workspace root. The old_text must match exactly (including whitespace).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "The path to the file to edit.",
					},
					"old_text": map[string]any{
						"type":        "string",
						"description": "The exact text to find and replace.",
					},
					"new_text": map[string]any{
						"type":        "string",
						"description": "The text to replace with.",
					},
				},
				"required": []string{"path", "old_text", "new_text"},
			},
		},
	}
}

type editFileArgs struct {
	Path    string `json:"path"`
	OldText string `json:"old_text"`
	NewText string `json:"new_text"`
}

// Run executes the tool.
func (t *EditFileTool) Run(ctx context.Context, args json.RawMessage) string {
	var a editFileArgs
	if errMsg := parseArgs(args, &a); errMsg != "" {
		return errMsg
	}

	path, display := locate(a.Path, t.workspace)

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fmt.Sprintf("Error: file not found: %s", display)
	}
	if err != nil {
		return fmt.Sprintf("Error: failed to read file: %s: %v", display, err)
	}

	text := string(content)
	switch n := strings.Count(text, a.OldText); {
	case n == 0:
		return fmt.Sprintf("Error: text not found in file: %q (path: %s)", a.OldText, display)
	case n > 1:
		return fmt.Sprintf("Error: text appears %d times in file (path: %s); match must be unique. Provide more context.", n, display)
	}

	edited := strings.Replace(text, a.OldText, a.NewText, 1)
	if err := os.WriteFile(path, []byte(edited), 0644); err != nil {
		return fmt.Sprintf("Error: failed to write file: %s: %v", display, err)
	}
	return fmt.Sprintf("Successfully edited %s", display)
}

// ListDirTool lists directory entries.
type ListDirTool struct {
	workspace string
}

// Def returns the tool definition.
func (t *ListDirTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        "list_dir",
			Description: "List the entries of a directory. Relative paths are resolved from workspace root. Directories are suffixed with '/'.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "The directory to list. Defaults to workspace root.",
					},
				},
			},
		},
	}
}

type listDirArgs struct {
	Path string `json:"path,omitempty"`
}

// Run executes the tool.
func (t *ListDirTool) Run(ctx context.Context, args json.RawMessage) string {
	var a listDirArgs
	if errMsg := parseArgs(args, &a); errMsg != "" {
		return errMsg
	}

	input := a.Path
	if input == "" {
		input = t.workspace
	}
	path, display := locate(input, t.workspace)

	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return fmt.Sprintf("Error: directory not found: %s", display)
	}
	if err != nil {
		return fmt.Sprintf("Error: failed to read directory: %s: %v", display, err)
	}
	if len(entries) == 0 {
		return fmt.Sprintf("(empty directory: %s)", path)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Contents of %s:\n", path)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		sb.WriteString(name + "\n")
	}
	return sb.String()
}
