package wake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mindloom/mindloom/store"
	"github.com/mindloom/mindloom/supervisor"
)

type fixture struct {
	orch         *Orchestrator
	interactions *store.InteractionStore
	messages     *store.MessageStore
	sup          *supervisor.Supervisor
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	cfg := Config{
		Source:         "user",
		WorkerCommand:  []string{"sleep", "60"},
		CallbackURL:    "http://127.0.0.1:0",
		PermissionPoll: 5 * time.Millisecond,
		RestartDelay:   10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	interactions := store.NewInteractionStore()
	messages := store.NewMessageStore()
	sup := supervisor.New()
	orch := New(interactions, messages, sup, nil, cfg)

	t.Cleanup(func() {
		orch.Stop()
		sup.StopAll()
		sup.Wait()
		messages.Close()
		interactions.Close()
	})
	return &fixture{orch: orch, interactions: interactions, messages: messages, sup: sup}
}

func (f *fixture) newUserTurn(t *testing.T, id, content string) {
	t.Helper()
	f.interactions.Create(&store.Interaction{ID: id, Source: "user"})
	f.messages.AddMessage(&store.Message{
		ID:            uuid.NewString(),
		InteractionID: id,
		Role:          store.RoleUser,
		Content:       content,
	})
}

// markProcessing moves the interaction into the state a claimed worker run
// leaves it in, without going through a real spawn.
func (f *fixture) markProcessing(t *testing.T, id string) {
	t.Helper()
	if _, err := f.interactions.Update(id, func(cur store.Interaction) store.Interaction {
		cur.State = store.Processing("worker-" + id)
		return cur
	}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestUserMessageSpawnsExactlyOneWorker(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.Start()

	f.newUserTurn(t, "int-1", "hello")
	waitFor(t, "worker spawn", func() bool {
		_, ok := f.sup.Get("int-1")
		return ok
	})

	rec, _ := f.sup.Get("int-1")
	in := f.interactions.Get("int-1")
	if in.State.Kind != store.StateProcessing {
		t.Errorf("state = %s, want %s", in.State.Kind, store.StateProcessing)
	}
	if in.State.Processor != "worker-int-1" {
		t.Errorf("processor = %q, want worker-int-1", in.State.Processor)
	}

	// A follow-up user message on the same interaction must not spawn a
	// second worker.
	f.messages.AddMessage(&store.Message{
		ID:            uuid.NewString(),
		InteractionID: "int-1",
		Role:          store.RoleUser,
		Content:       "are you there?",
	})
	time.Sleep(50 * time.Millisecond)
	if got := len(f.sup.GetAll()); got != 1 {
		t.Fatalf("%d workers running, want 1", got)
	}
	if again, _ := f.sup.Get("int-1"); again.PID != rec.PID {
		t.Errorf("worker pid changed from %d to %d", rec.PID, again.PID)
	}
}

func TestForeignSourceIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.Start()

	f.interactions.Create(&store.Interaction{ID: "int-web", Source: "webhook"})
	f.messages.AddMessage(&store.Message{
		ID:            uuid.NewString(),
		InteractionID: "int-web",
		Role:          store.RoleUser,
		Content:       "ping",
	})

	time.Sleep(50 * time.Millisecond)
	if _, ok := f.sup.Get("int-web"); ok {
		t.Error("worker spawned for a foreign source")
	}
	if in := f.interactions.Get("int-web"); in.State.Kind != store.StateQueued {
		t.Errorf("state = %s, want %s", in.State.Kind, store.StateQueued)
	}
}

func TestAnsweredInteractionIsNotReprocessed(t *testing.T) {
	f := newFixture(t, nil)

	// History assembled before the orchestrator observes anything.
	f.interactions.Create(&store.Interaction{ID: "int-old", Source: "user"})
	f.messages.AddMessage(&store.Message{
		ID:            uuid.NewString(),
		InteractionID: "int-old",
		Role:          store.RoleAssistant,
		Content:       "already answered",
		Status:        store.MessageCompleted,
	})

	f.orch.Start()
	f.messages.AddMessage(&store.Message{
		ID:            uuid.NewString(),
		InteractionID: "int-old",
		Role:          store.RoleUser,
		Content:       "replay",
	})

	time.Sleep(50 * time.Millisecond)
	if _, ok := f.sup.Get("int-old"); ok {
		t.Error("worker spawned for an interaction that already has a response")
	}
}

func TestSpawnFailureRecordsErrorAndAllowsRetry(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.WorkerCommand = []string{"/nonexistent/mindloom-worker"}
	})
	f.orch.Start()

	f.newUserTurn(t, "int-boom", "hello")
	waitFor(t, "spawn error metadata", func() bool {
		in := f.interactions.Get("int-boom")
		_, ok := in.Metadata[store.MetaSpawnError]
		return ok
	})
	if _, ok := f.sup.Get("int-boom"); ok {
		t.Error("failed spawn left a worker record")
	}

	// The id was un-marked, so a later event considers it again.
	f.orch.stateMu.Lock()
	_, marked := f.orch.processed["int-boom"]
	f.orch.stateMu.Unlock()
	if marked {
		t.Error("id still marked processed after spawn failure")
	}
}

func TestSubmitResultCompletion(t *testing.T) {
	f := newFixture(t, nil)

	f.newUserTurn(t, "int-ok", "what is 2+2?")
	f.markProcessing(t, "int-ok")

	err := f.orch.SubmitResult("int-ok", Result{
		Content: "4",
		Model:   "claude-sonnet-4-20250514",
		Usage:   &Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
	})
	if err != nil {
		t.Fatalf("SubmitResult() error: %v", err)
	}

	in := f.interactions.Get("int-ok")
	if in.State.Kind != store.StateCompleted {
		t.Fatalf("state = %s, want %s", in.State.Kind, store.StateCompleted)
	}
	if in.State.Result != "4" {
		t.Errorf("result = %q, want 4", in.State.Result)
	}
	if in.Metadata[store.MetaModel] != "claude-sonnet-4-20250514" {
		t.Errorf("model metadata = %v", in.Metadata[store.MetaModel])
	}
	usage, ok := in.Metadata[store.MetaUsage].(map[string]any)
	if !ok {
		t.Fatalf("usage metadata missing: %v", in.Metadata)
	}
	if usage["total_tokens"] != 12 {
		t.Errorf("total_tokens = %v, want 12", usage["total_tokens"])
	}

	msgs := f.messages.GetMessages("int-ok")
	if len(msgs) != 2 {
		t.Fatalf("%d messages, want 2", len(msgs))
	}
	if msgs[1].Role != store.RoleAssistant || msgs[1].Content != "4" {
		t.Errorf("assistant message = %+v", msgs[1])
	}
	if msgs[0].Status != store.MessageCompleted {
		t.Errorf("user message status = %s, want %s", msgs[0].Status, store.MessageCompleted)
	}
}

func TestSubmitResultAccumulatesUsageAcrossTurns(t *testing.T) {
	f := newFixture(t, nil)

	f.newUserTurn(t, "int-usage", "first")
	f.markProcessing(t, "int-usage")
	if err := f.orch.SubmitResult("int-usage", Result{
		PendingToolCall: &ToolCallRequest{Tool: "exec", Description: "ls", RequestID: "req-u"},
	}); err != nil {
		t.Fatalf("SubmitResult(pending) error: %v", err)
	}
	f.orch.RespondToPermission("req-u", true)

	if err := f.orch.SubmitResult("int-usage", Result{
		Content: "done",
		Usage:   &Usage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
	}); err != nil {
		t.Fatalf("SubmitResult(final) error: %v", err)
	}

	in := f.interactions.Get("int-usage")
	usage := in.Metadata[store.MetaUsage].(map[string]any)
	if usage["total_tokens"] != 10 {
		t.Errorf("total_tokens = %v, want 10", usage["total_tokens"])
	}
	if _, ok := in.Metadata[store.MetaPendingToolCall]; ok {
		t.Error("pendingToolCall metadata survived completion")
	}
}

func TestSubmitResultFailure(t *testing.T) {
	f := newFixture(t, nil)

	f.newUserTurn(t, "int-err", "hello")
	f.markProcessing(t, "int-err")

	if err := f.orch.SubmitResult("int-err", Result{Error: "provider unreachable"}); err != nil {
		t.Fatalf("SubmitResult() error: %v", err)
	}

	in := f.interactions.Get("int-err")
	if in.State.Kind != store.StateFailed {
		t.Fatalf("state = %s, want %s", in.State.Kind, store.StateFailed)
	}
	if in.State.Error != "provider unreachable" {
		t.Errorf("error = %q", in.State.Error)
	}
	msgs := f.messages.GetMessages("int-err")
	if msgs[0].Status != store.MessageFailed {
		t.Errorf("user message status = %s, want %s", msgs[0].Status, store.MessageFailed)
	}
}

func TestSubmitResultUnknownInteraction(t *testing.T) {
	f := newFixture(t, nil)

	err := f.orch.SubmitResult("nope", Result{Content: "x"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSubmitResultRejectedFromTerminalState(t *testing.T) {
	f := newFixture(t, nil)

	f.newUserTurn(t, "int-done", "hello")
	f.markProcessing(t, "int-done")
	if err := f.orch.SubmitResult("int-done", Result{Content: "first answer"}); err != nil {
		t.Fatalf("SubmitResult() error: %v", err)
	}

	if err := f.orch.SubmitResult("int-done", Result{Content: "second answer"}); err == nil {
		t.Error("completed interaction accepted another result")
	}
	if err := f.orch.SubmitResult("int-done", Result{Error: "late failure"}); err == nil {
		t.Error("completed interaction accepted a failure")
	}
}

func TestPermissionRequestPausesInteraction(t *testing.T) {
	f := newFixture(t, nil)

	f.newUserTurn(t, "int-perm", "delete the logs")
	f.markProcessing(t, "int-perm")

	err := f.orch.RequestPermission("int-perm", "exec", "rm -rf logs/", "req-1", []byte(`{"command":"rm -rf logs/"}`))
	if err != nil {
		t.Fatalf("RequestPermission() error: %v", err)
	}

	in := f.interactions.Get("int-perm")
	if in.State.Kind != store.StateWaitingPermission {
		t.Fatalf("state = %s, want %s", in.State.Kind, store.StateWaitingPermission)
	}
	if in.State.Tool != "exec" || in.State.RequestID != "req-1" {
		t.Errorf("state carries tool=%q requestId=%q", in.State.Tool, in.State.RequestID)
	}
	if in.State.Processor != "worker-int-perm" {
		t.Errorf("processor lost across pause: %q", in.State.Processor)
	}

	msgs := f.messages.GetMessages("int-perm")
	last := msgs[len(msgs)-1]
	if last.Role != store.RoleAssistant {
		t.Fatalf("permission message role = %s", last.Role)
	}
	req, ok := last.Metadata[store.MetaPermissionRequest].(map[string]any)
	if !ok {
		t.Fatalf("permission message missing request metadata: %v", last.Metadata)
	}
	if req["requestId"] != "req-1" || req["toolName"] != "exec" {
		t.Errorf("request metadata = %v", req)
	}
}

func TestAwaitPermissionApproved(t *testing.T) {
	f := newFixture(t, nil)

	f.newUserTurn(t, "int-ap", "run it")
	f.markProcessing(t, "int-ap")
	if err := f.orch.RequestPermission("int-ap", "exec", "make test", "req-2", nil); err != nil {
		t.Fatalf("RequestPermission() error: %v", err)
	}

	done := make(chan bool, 1)
	go func() {
		done <- f.orch.AwaitPermission(context.Background(), "req-2", 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	f.orch.RespondToPermission("req-2", true)

	select {
	case approved := <-done:
		if !approved {
			t.Error("approved request resolved to denied")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("AwaitPermission did not return")
	}

	if in := f.interactions.Get("int-ap"); in.State.Kind != store.StateProcessing {
		t.Errorf("state = %s, want %s after approval", in.State.Kind, store.StateProcessing)
	}
}

func TestAwaitPermissionDenied(t *testing.T) {
	f := newFixture(t, nil)

	f.newUserTurn(t, "int-deny", "run it")
	f.markProcessing(t, "int-deny")
	if err := f.orch.RequestPermission("int-deny", "write_file", "overwrite config", "req-3", nil); err != nil {
		t.Fatalf("RequestPermission() error: %v", err)
	}

	f.orch.RespondToPermission("req-3", false)
	if approved := f.orch.AwaitPermission(context.Background(), "req-3", 2*time.Second); approved {
		t.Error("denied request resolved to approved")
	}

	// Denial still resumes the interaction; the worker reports the refusal.
	if in := f.interactions.Get("int-deny"); in.State.Kind != store.StateProcessing {
		t.Errorf("state = %s, want %s after denial", in.State.Kind, store.StateProcessing)
	}
}

func TestAwaitPermissionTimesOutToDenied(t *testing.T) {
	f := newFixture(t, nil)

	f.newUserTurn(t, "int-to", "run it")
	f.markProcessing(t, "int-to")
	if err := f.orch.RequestPermission("int-to", "exec", "sleep forever", "req-4", nil); err != nil {
		t.Fatalf("RequestPermission() error: %v", err)
	}

	start := time.Now()
	if approved := f.orch.AwaitPermission(context.Background(), "req-4", 50*time.Millisecond); approved {
		t.Error("unanswered request resolved to approved")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestAwaitPermissionUnknownRequestDenies(t *testing.T) {
	f := newFixture(t, nil)

	if approved := f.orch.AwaitPermission(context.Background(), "never-registered", 50*time.Millisecond); approved {
		t.Error("unknown request resolved to approved")
	}
}

func TestRespondToPermissionIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)

	f.newUserTurn(t, "int-idem", "run it")
	f.markProcessing(t, "int-idem")
	if err := f.orch.RequestPermission("int-idem", "exec", "ls", "req-5", nil); err != nil {
		t.Fatalf("RequestPermission() error: %v", err)
	}

	f.orch.RespondToPermission("req-5", true)
	// A conflicting retry must not flip the recorded answer.
	f.orch.RespondToPermission("req-5", false)

	if approved := f.orch.AwaitPermission(context.Background(), "req-5", time.Second); !approved {
		t.Error("first answer was overwritten by a retry")
	}
	// Unknown ids are ignored outright.
	f.orch.RespondToPermission("no-such-request", true)
}

func TestCleanupOrphanedStopsWorkersWithoutInteractions(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.Start()

	f.newUserTurn(t, "int-live", "hello")
	waitFor(t, "worker spawn", func() bool {
		_, ok := f.sup.Get("int-live")
		return ok
	})

	// A worker left over from a previous run, with no backing interaction.
	if _, err := f.sup.Spawn(supervisor.Config{ID: "int-ghost", Command: "sleep", Args: []string{"60"}}); err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	stopped := f.orch.CleanupOrphaned()
	if len(stopped) != 1 || stopped[0] != "int-ghost" {
		t.Errorf("CleanupOrphaned() = %v, want [int-ghost]", stopped)
	}
	if _, ok := f.sup.Get("int-live"); !ok {
		t.Error("live worker was stopped")
	}
}

func TestResolveDirPrefersWorktreeMetadata(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Dir = "/fallback"
	})

	in := &store.Interaction{
		ID:     "int-wt",
		Source: "user",
		Metadata: map[string]any{
			store.MetaWorktree: map[string]any{"path": "/work/trees/int-wt", "branch": "main"},
		},
	}
	if got := f.orch.resolveDir(in); got != "/work/trees/int-wt" {
		t.Errorf("resolveDir() = %q, want worktree path", got)
	}

	plain := &store.Interaction{ID: "int-plain", Source: "user"}
	if got := f.orch.resolveDir(plain); got != "/fallback" {
		t.Errorf("resolveDir() = %q, want /fallback", got)
	}
}

type staticResolver struct{ wt *Worktree }

func (r staticResolver) Resolve(id string) (*Worktree, error) { return r.wt, nil }

func TestResolveDirUsesResolver(t *testing.T) {
	interactions := store.NewInteractionStore()
	messages := store.NewMessageStore()
	sup := supervisor.New()
	t.Cleanup(func() {
		messages.Close()
		interactions.Close()
	})

	orch := New(interactions, messages, sup, staticResolver{&Worktree{Path: "/resolved", Branch: "main"}}, Config{Dir: "/fallback"})
	in := &store.Interaction{ID: "int-r", Source: "user"}
	if got := orch.resolveDir(in); got != "/resolved" {
		t.Errorf("resolveDir() = %q, want /resolved", got)
	}
}
