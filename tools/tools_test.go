package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	workspace := t.TempDir()
	r := NewRegistry()
	r.RegisterDefaultTools(workspace, DefaultToolsConfig{RestrictToWorkspace: true})
	return r, workspace
}

func runTool(t *testing.T, r *Registry, name, args string) string {
	t.Helper()
	return r.Run(context.Background(), name, json.RawMessage(args))
}

func TestRegistryNamesAndUnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t)

	names := r.Names()
	want := []string{"edit_file", "exec", "list_dir", "read_file", "web_fetch", "web_search", "write_file"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	if got := runTool(t, r, "launch_missiles", `{}`); !strings.Contains(got, "unknown tool") {
		t.Errorf("unknown tool result = %q", got)
	}
	if len(r.Defs()) != len(want) {
		t.Errorf("Defs() returned %d definitions", len(r.Defs()))
	}
}

func TestParseArgsRejectsMalformedJSON(t *testing.T) {
	r, _ := newTestRegistry(t)

	got := runTool(t, r, "read_file", `{not json`)
	if !strings.Contains(got, "invalid arguments") {
		t.Errorf("result = %q", got)
	}
}

func TestResolveToolPath(t *testing.T) {
	if got := resolveToolPath("notes.txt", "/ws"); got != "/ws/notes.txt" {
		t.Errorf("relative path = %q", got)
	}
	if got := resolveToolPath("/etc/hosts", "/ws"); got != "/etc/hosts" {
		t.Errorf("absolute path = %q", got)
	}
	if got := resolveToolPath("notes.txt", ""); got != "notes.txt" {
		t.Errorf("no workspace = %q", got)
	}
}

func TestWriteReadEditRoundTrip(t *testing.T) {
	r, workspace := newTestRegistry(t)

	got := runTool(t, r, "write_file", `{"path":"sub/hello.txt","content":"hello\nworld\n"}`)
	if !strings.HasPrefix(got, "Successfully wrote") {
		t.Fatalf("write result = %q", got)
	}
	if _, err := os.Stat(filepath.Join(workspace, "sub", "hello.txt")); err != nil {
		t.Fatalf("written file missing: %v", err)
	}

	got = runTool(t, r, "read_file", `{"path":"sub/hello.txt"}`)
	if !strings.Contains(got, "1\thello") || !strings.Contains(got, "2\tworld") {
		t.Errorf("read result = %q", got)
	}

	got = runTool(t, r, "edit_file", `{"path":"sub/hello.txt","old_text":"world","new_text":"mindloom"}`)
	if !strings.HasPrefix(got, "Successfully edited") {
		t.Fatalf("edit result = %q", got)
	}
	content, err := os.ReadFile(filepath.Join(workspace, "sub", "hello.txt"))
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(content) != "hello\nmindloom\n" {
		t.Errorf("content after edit = %q", content)
	}
}

func TestEditFileRequiresUniqueMatch(t *testing.T) {
	r, workspace := newTestRegistry(t)

	path := filepath.Join(workspace, "dup.txt")
	if err := os.WriteFile(path, []byte("aaa\naaa\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	got := runTool(t, r, "edit_file", `{"path":"dup.txt","old_text":"aaa","new_text":"bbb"}`)
	if !strings.Contains(got, "must be unique") {
		t.Errorf("duplicate match result = %q", got)
	}
	got = runTool(t, r, "edit_file", `{"path":"dup.txt","old_text":"zzz","new_text":"bbb"}`)
	if !strings.Contains(got, "text not found") {
		t.Errorf("missing match result = %q", got)
	}
}

func TestReadFilePagination(t *testing.T) {
	r, workspace := newTestRegistry(t)

	var sb strings.Builder
	for i := 1; i <= 250; i++ {
		sb.WriteString("line\n")
	}
	if err := os.WriteFile(filepath.Join(workspace, "big.txt"), []byte(sb.String()), 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	got := runTool(t, r, "read_file", `{"path":"big.txt"}`)
	if !strings.Contains(got, "Showing lines 1-100") {
		t.Errorf("first page = %q", got[:120])
	}
	if !strings.Contains(got, "offset=101") {
		t.Error("first page missing continuation hint")
	}

	got = runTool(t, r, "read_file", `{"path":"big.txt","offset":9999}`)
	if !strings.Contains(got, "beyond end of file") {
		t.Errorf("out-of-range offset = %q", got)
	}

	got = runTool(t, r, "read_file", `{"path":"missing.txt"}`)
	if !strings.Contains(got, "file not found") {
		t.Errorf("missing file = %q", got)
	}
}

func TestListDir(t *testing.T) {
	r, workspace := newTestRegistry(t)

	if err := os.MkdirAll(filepath.Join(workspace, "pkg"), 0755); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	got := runTool(t, r, "list_dir", `{}`)
	if !strings.Contains(got, "pkg/") {
		t.Errorf("listing missing directory suffix: %q", got)
	}
	if !strings.Contains(got, "main.go") {
		t.Errorf("listing missing file: %q", got)
	}

	got = runTool(t, r, "list_dir", `{"path":"nope"}`)
	if !strings.Contains(got, "directory not found") {
		t.Errorf("missing dir = %q", got)
	}
}

func TestExecTool(t *testing.T) {
	r, workspace := newTestRegistry(t)

	got := runTool(t, r, "exec", `{"command":"echo hello from $PWD"}`)
	if !strings.Contains(got, "hello from") {
		t.Errorf("exec result = %q", got)
	}

	got = runTool(t, r, "exec", `{"command":"pwd"}`)
	resolved, _ := filepath.EvalSymlinks(workspace)
	if !strings.Contains(got, filepath.Base(resolved)) {
		t.Errorf("exec did not run in workspace: %q", got)
	}

	got = runTool(t, r, "exec", `{"command":"exit 3"}`)
	if !strings.Contains(got, "Command failed") {
		t.Errorf("failing command = %q", got)
	}

	got = runTool(t, r, "exec", `{"command":"true"}`)
	if got != "(no output)" {
		t.Errorf("silent command = %q", got)
	}
}

func TestExecToolTimeout(t *testing.T) {
	r, _ := newTestRegistry(t)

	got := runTool(t, r, "exec", `{"command":"sleep 5","timeout":1}`)
	if !strings.Contains(got, "timed out after 1 seconds") {
		t.Errorf("timeout result = %q", got)
	}
}

func TestExecToolWorkspaceRestriction(t *testing.T) {
	r, _ := newTestRegistry(t)

	got := runTool(t, r, "exec", `{"command":"ls","workdir":"/"}`)
	if !strings.Contains(got, "outside workspace") {
		t.Errorf("restricted exec = %q", got)
	}
}

func TestClipOutput(t *testing.T) {
	if got := clipOutput("short", 100); got != "short" {
		t.Errorf("short content = %q", got)
	}

	long := strings.Repeat("x", 200)
	got := clipOutput(long, 50)
	if !strings.HasPrefix(got, strings.Repeat("x", 50)) || !strings.Contains(got, "clipped at 50 characters") {
		t.Errorf("clipped output = %q", got)
	}

	if got := clipOutput(long, 0); got != long {
		t.Error("limit 0 must disable clipping")
	}
}
