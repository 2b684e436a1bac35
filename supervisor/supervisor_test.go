package supervisor

import (
	"errors"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mindloom/mindloom/bus"
)

// newTestSupervisor returns a supervisor that spawns real short-lived shell
// commands instead of worker binaries, plus a channel receiving every
// published event.
func newTestSupervisor(t *testing.T) (*Supervisor, <-chan *bus.Event) {
	t.Helper()

	s := New()
	s.SetCommandFactory(func(cfg Config) *exec.Cmd {
		return exec.Command(cfg.Command, cfg.Args...)
	})

	events := make(chan *bus.Event, 64)
	unsub := s.Subscribe("", func(e *bus.Event) {
		select {
		case events <- e:
		default:
			t.Errorf("event channel full, dropping %s", e.Type)
		}
	})
	t.Cleanup(func() {
		unsub()
		s.StopAll()
		s.Wait()
	})
	return s, events
}

// waitEvent drains the channel until an event of the wanted type arrives.
func waitEvent(t *testing.T, events <-chan *bus.Event, want bus.EventType) *bus.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

// waitUntracked polls until the id is no longer tracked.
func waitUntracked(t *testing.T, s *Supervisor, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.Get(id); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("process %s still tracked", id)
}

func TestSpawnIsIdempotent(t *testing.T) {
	s, events := newTestSupervisor(t)

	cfg := Config{ID: "int-1", Command: "sleep", Args: []string{"60"}}
	rec, err := s.Spawn(cfg)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	if rec.PID <= 0 {
		t.Fatalf("expected positive pid, got %d", rec.PID)
	}
	waitEvent(t, events, bus.EventProcessStarted)

	again, err := s.Spawn(cfg)
	if err != nil {
		t.Fatalf("second Spawn() error: %v", err)
	}
	if again.PID != rec.PID {
		t.Errorf("second Spawn returned pid %d, want existing %d", again.PID, rec.PID)
	}

	select {
	case e := <-events:
		t.Errorf("unexpected event %s after idempotent spawn", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSpawnFailureRegistersNothing(t *testing.T) {
	s, _ := newTestSupervisor(t)

	_, err := s.Spawn(Config{ID: "int-bad", Command: "/nonexistent/mindloom-worker"})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if !errors.Is(err, ErrSpawnFailed) {
		t.Errorf("error %v does not wrap ErrSpawnFailed", err)
	}
	if _, ok := s.Get("int-bad"); ok {
		t.Error("failed spawn left a record behind")
	}
}

func TestCleanExitIsReapedWithoutRestart(t *testing.T) {
	s, events := newTestSupervisor(t)

	if _, err := s.Spawn(Config{ID: "int-done", Command: "true", MaxRestarts: 3}); err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	e := waitEvent(t, events, bus.EventProcessExited)
	var data bus.ProcessExitedData
	if err := e.ParseData(&data); err != nil {
		t.Fatalf("ParseData() error: %v", err)
	}
	if data.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", data.ExitCode)
	}
	if data.WillRestart {
		t.Error("clean exit must not schedule a restart")
	}
	waitUntracked(t, s, "int-done")
}

func TestCrashRestartsUntilBudgetExhausted(t *testing.T) {
	s, events := newTestSupervisor(t)

	cfg := Config{
		ID:           "int-crash",
		Command:      "false",
		MaxRestarts:  2,
		RestartDelay: 10 * time.Millisecond,
	}
	if _, err := s.Spawn(cfg); err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	// Two crashes consume the budget; the third is terminal.
	for i := 1; i <= 2; i++ {
		e := waitEvent(t, events, bus.EventProcessExited)
		var exited bus.ProcessExitedData
		if err := e.ParseData(&exited); err != nil {
			t.Fatalf("ParseData() error: %v", err)
		}
		if !exited.WillRestart {
			t.Fatalf("crash %d: expected restart, budget should not be exhausted yet", i)
		}
		if exited.ExitCode != 1 {
			t.Errorf("crash %d: exit code = %d, want 1", i, exited.ExitCode)
		}

		e = waitEvent(t, events, bus.EventProcessRestarted)
		var restarted bus.ProcessRestartedData
		if err := e.ParseData(&restarted); err != nil {
			t.Fatalf("ParseData() error: %v", err)
		}
		if restarted.RestartCount != i {
			t.Errorf("restart count = %d, want %d", restarted.RestartCount, i)
		}
	}

	e := waitEvent(t, events, bus.EventProcessExited)
	var final bus.ProcessExitedData
	if err := e.ParseData(&final); err != nil {
		t.Fatalf("ParseData() error: %v", err)
	}
	if final.WillRestart {
		t.Error("exhausted budget must not restart again")
	}

	e = waitEvent(t, events, bus.EventProcessFailed)
	var failed bus.ProcessFailedData
	if err := e.ParseData(&failed); err != nil {
		t.Fatalf("ParseData() error: %v", err)
	}
	if failed.Reason != bus.ReasonMaxRestartsExceeded {
		t.Errorf("failure reason = %q, want %q", failed.Reason, bus.ReasonMaxRestartsExceeded)
	}
	waitUntracked(t, s, "int-crash")
}

func TestStopRemovesRecordAndDoesNotRestart(t *testing.T) {
	s, events := newTestSupervisor(t)

	cfg := Config{ID: "int-stop", Command: "sleep", Args: []string{"60"}, MaxRestarts: 3, RestartDelay: 10 * time.Millisecond}
	if _, err := s.Spawn(cfg); err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	s.Stop("int-stop")
	if _, ok := s.Get("int-stop"); ok {
		t.Error("record still present after Stop")
	}

	e := waitEvent(t, events, bus.EventProcessExited)
	var data bus.ProcessExitedData
	if err := e.ParseData(&data); err != nil {
		t.Fatalf("ParseData() error: %v", err)
	}
	if data.WillRestart {
		t.Error("caller-initiated stop must not schedule a restart")
	}

	// Stopping again is a no-op.
	s.Stop("int-stop")
}

func TestRestartIncrementsCountAndChangesPID(t *testing.T) {
	s, events := newTestSupervisor(t)

	rec, err := s.Spawn(Config{ID: "int-restart", Command: "sleep", Args: []string{"60"}})
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	newRec, err := s.Restart("int-restart")
	if err != nil {
		t.Fatalf("Restart() error: %v", err)
	}
	if newRec.RestartCount != 1 {
		t.Errorf("restart count = %d, want 1", newRec.RestartCount)
	}
	if newRec.PID == rec.PID {
		t.Errorf("restart kept pid %d", rec.PID)
	}

	e := waitEvent(t, events, bus.EventProcessRestarted)
	var data bus.ProcessRestartedData
	if err := e.ParseData(&data); err != nil {
		t.Fatalf("ParseData() error: %v", err)
	}
	if data.PID != newRec.PID {
		t.Errorf("event pid = %d, want %d", data.PID, newRec.PID)
	}

	if _, err := s.Restart("unknown"); err == nil {
		t.Error("restarting an untracked id should fail")
	}
}

func TestGetAllAndDetails(t *testing.T) {
	s, _ := newTestSupervisor(t)

	for _, id := range []string{"int-a", "int-b"} {
		if _, err := s.Spawn(Config{ID: id, Command: "sleep", Args: []string{"60"}}); err != nil {
			t.Fatalf("Spawn(%s) error: %v", id, err)
		}
	}

	if got := len(s.GetAll()); got != 2 {
		t.Errorf("GetAll() returned %d records, want 2", got)
	}

	details, ok := s.GetDetails("int-a")
	if !ok {
		t.Fatal("GetDetails() did not find int-a")
	}
	if details.Uptime < 0 {
		t.Errorf("negative uptime %v", details.Uptime)
	}
	if _, ok := s.GetDetails("unknown"); ok {
		t.Error("GetDetails() found an untracked id")
	}
}

func TestCleanupOrphanedStopsDeadIDs(t *testing.T) {
	s, _ := newTestSupervisor(t)

	for _, id := range []string{"int-live", "int-orphan"} {
		if _, err := s.Spawn(Config{ID: id, Command: "sleep", Args: []string{"60"}}); err != nil {
			t.Fatalf("Spawn(%s) error: %v", id, err)
		}
	}

	stopped := s.CleanupOrphaned(func(id string) bool { return id == "int-live" })
	if len(stopped) != 1 || stopped[0] != "int-orphan" {
		t.Errorf("CleanupOrphaned() = %v, want [int-orphan]", stopped)
	}
	if _, ok := s.Get("int-orphan"); ok {
		t.Error("orphan still tracked")
	}
	if _, ok := s.Get("int-live"); !ok {
		t.Error("live process was stopped")
	}
}

func TestHealthProbeTransitions(t *testing.T) {
	s, events := newTestSupervisor(t)

	var failing atomic.Bool
	s.SetProbe(func(r Record) error {
		if failing.Load() {
			return errors.New("probe refused")
		}
		return nil
	})

	cfg := Config{ID: "int-health", Command: "sleep", Args: []string{"60"}, HealthCheckInterval: 10 * time.Millisecond}
	if _, err := s.Spawn(cfg); err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	failing.Store(true)
	e := waitEvent(t, events, bus.EventProcessUnhealthy)
	var data bus.ProcessHealthData
	if err := e.ParseData(&data); err != nil {
		t.Fatalf("ParseData() error: %v", err)
	}
	if data.Error == "" {
		t.Error("unhealthy event missing probe error")
	}

	failing.Store(false)
	waitEvent(t, events, bus.EventProcessHealthy)

	rec, ok := s.Get("int-health")
	if !ok {
		t.Fatal("process missing")
	}
	if !rec.Healthy {
		t.Error("record not marked healthy after recovery")
	}
}

func TestStopAllTerminatesEverything(t *testing.T) {
	s, _ := newTestSupervisor(t)

	for _, id := range []string{"int-1", "int-2", "int-3"} {
		if _, err := s.Spawn(Config{ID: id, Command: "sleep", Args: []string{"60"}}); err != nil {
			t.Fatalf("Spawn(%s) error: %v", id, err)
		}
	}

	s.StopAll()
	if got := len(s.GetAll()); got != 0 {
		t.Errorf("%d records remain after StopAll", got)
	}
}

func TestExitCodeOf(t *testing.T) {
	if got := exitCodeOf(nil); got != 0 {
		t.Errorf("exitCodeOf(nil) = %d, want 0", got)
	}
	if got := exitCodeOf(errors.New("not an exit error")); got != -1 {
		t.Errorf("exitCodeOf(non-exit) = %d, want -1", got)
	}

	cmd := exec.Command("false")
	err := cmd.Run()
	if got := exitCodeOf(err); got != 1 {
		t.Errorf("exitCodeOf(false) = %d, want 1", got)
	}
}
