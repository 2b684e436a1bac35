package supervisor

import (
	"errors"
	"os/exec"
	"syscall"

	"github.com/mindloom/mindloom/bus"
	"github.com/mindloom/mindloom/logger"
)

// watchExit reaps the child and decides what its exit means. A clean exit
// or a caller-initiated stop removes the record; a crash consumes restart
// budget and relaunches after the configured delay. Once the budget is
// exhausted the record is removed permanently and process:failed fires.
func (s *Supervisor) watchExit(id string, t *tracked) {
	defer s.wg.Done()

	err := t.cmd.Wait()
	close(t.waitDone)
	exitCode := exitCodeOf(err)

	s.mu.Lock()
	cur, ok := s.procs[id]
	if !ok || cur.gen != t.gen {
		// Caller-initiated stop (or a newer generation took over).
		s.mu.Unlock()
		s.publish(bus.EventProcessExited, bus.ProcessExitedData{ID: id, ExitCode: exitCode, WillRestart: false})
		return
	}

	if exitCode == 0 {
		// The worker finished its job; reap it.
		delete(s.procs, id)
		t.stopHealthLoop()
		s.mu.Unlock()
		logger.Info("process exited", "id", id, "exitCode", 0)
		s.publish(bus.EventProcessExited, bus.ProcessExitedData{ID: id, ExitCode: 0, WillRestart: false})
		return
	}

	rec := t.record
	if rec.RestartCount >= rec.Config.MaxRestarts {
		delete(s.procs, id)
		t.stopHealthLoop()
		s.mu.Unlock()
		logger.Error("process failed permanently", "id", id, "exitCode", exitCode, "restarts", rec.RestartCount)
		s.publish(bus.EventProcessExited, bus.ProcessExitedData{ID: id, ExitCode: exitCode, WillRestart: false})
		s.publish(bus.EventProcessFailed, bus.ProcessFailedData{ID: id, Reason: bus.ReasonMaxRestartsExceeded})
		return
	}
	t.stopHealthLoop()
	s.mu.Unlock()

	logger.Warn("process crashed, scheduling restart",
		"id", id, "exitCode", exitCode, "restartCount", rec.RestartCount, "delay", rec.Config.RestartDelay)
	s.publish(bus.EventProcessExited, bus.ProcessExitedData{ID: id, ExitCode: exitCode, WillRestart: true})

	s.clock.Sleep(rec.Config.RestartDelay)
	s.relaunch(id, t.gen, rec.Config, rec.RestartCount+1)
}

// relaunch restarts a crashed process unless it was stopped during the
// restart delay.
func (s *Supervisor) relaunch(id string, gen int64, cfg Config, restartCount int) {
	s.mu.Lock()
	cur, ok := s.procs[id]
	if !ok || cur.gen != gen {
		s.mu.Unlock()
		return
	}

	nt, err := s.launch(cfg, restartCount)
	if err != nil {
		delete(s.procs, id)
		s.mu.Unlock()
		logger.Error("process relaunch failed", "id", id, "err", err)
		s.publish(bus.EventProcessFailed, bus.ProcessFailedData{ID: id, Reason: err.Error()})
		return
	}
	rec := nt.record
	s.mu.Unlock()

	logger.Info("process restarted after crash", "id", id, "pid", rec.PID, "restartCount", restartCount)
	s.publish(bus.EventProcessRestarted, bus.ProcessRestartedData{ID: id, PID: rec.PID, RestartCount: restartCount})
}

// terminate signals the process group and force-kills after the grace
// period. Returns once the child has been reaped.
func (s *Supervisor) terminate(t *tracked) {
	pgid := t.record.PID
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		// Already gone; the watcher reaps it.
		<-t.waitDone
		return
	}

	select {
	case <-t.waitDone:
	case <-s.clock.After(stopGracePeriod):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-t.waitDone
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return -1
}
