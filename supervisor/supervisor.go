// Package supervisor owns the lifecycle of worker OS processes: spawn,
// stop, restart, health checks, and bounded crash recovery. One process is
// tracked per unit-of-work id; lifecycle changes are published as
// process:* events.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/mindloom/mindloom/bus"
	"github.com/mindloom/mindloom/logger"
)

// ErrSpawnFailed wraps OS-level launch errors. Spawn failures do not
// register a record.
var ErrSpawnFailed = errors.New("spawn failed")

// Config describes one supervised process.
type Config struct {
	ID      string
	Command string
	Args    []string
	Dir     string
	Env     map[string]string // overlaid on the parent environment

	MaxRestarts         int
	RestartDelay        time.Duration
	HealthCheckInterval time.Duration // <= 0 disables health checks
}

// Record is the supervisor's view of one tracked process.
type Record struct {
	ID              string    `json:"id"`
	PID             int       `json:"pid"`
	StartedAt       time.Time `json:"started_at"`
	RestartCount    int       `json:"restart_count"`
	Healthy         bool      `json:"healthy"`
	LastHealthCheck time.Time `json:"last_health_check,omitempty"`
	Config          Config    `json:"-"`
}

// Details is a record with fields derived at call time.
type Details struct {
	Record
	Uptime time.Duration `json:"uptime"`
}

// Probe checks the health of a tracked process. A non-nil error marks the
// process unhealthy. Health is advisory; the supervisor never terminates a
// process because of a failed probe.
type Probe func(r Record) error

const stopGracePeriod = 3 * time.Second

type tracked struct {
	record     Record
	cmd        *exec.Cmd
	gen        int64
	waitDone   chan struct{} // closed when cmd.Wait returns
	stopHealth chan struct{}
	healthOnce sync.Once
}

// stopHealthLoop is safe to call from multiple paths (stop, crash, restart).
func (t *tracked) stopHealthLoop() {
	t.healthOnce.Do(func() { close(t.stopHealth) })
}

// Supervisor tracks zero or more child processes.
type Supervisor struct {
	mu         sync.Mutex
	procs      map[string]*tracked
	genCounter int64

	bus        *bus.Bus
	clock      clockwork.Clock
	probe      Probe
	cmdFactory func(Config) *exec.Cmd
	wg         sync.WaitGroup
}

// New creates a supervisor with the default command factory, liveness
// probe, and wall clock.
func New() *Supervisor {
	s := &Supervisor{
		procs: make(map[string]*tracked),
		bus:   bus.New(),
		clock: clockwork.NewRealClock(),
	}
	s.probe = livenessProbe
	s.cmdFactory = defaultCmdFactory
	return s
}

// SetClock replaces the supervisor's clock. Restart delays and health
// check intervals are scheduled on it.
func (s *Supervisor) SetClock(clk clockwork.Clock) {
	s.clock = clk
}

// SetProbe replaces the default liveness probe.
func (s *Supervisor) SetProbe(p Probe) {
	s.probe = p
}

// SetCommandFactory replaces how commands are built from a Config. Tests
// use this to spawn controllable dummy processes.
func (s *Supervisor) SetCommandFactory(f func(Config) *exec.Cmd) {
	s.cmdFactory = f
}

// Subscribe registers a handler for supervisor events of the given type
// (empty type matches all). Returns an unsubscribe function.
func (s *Supervisor) Subscribe(eventType bus.EventType, handler bus.Handler) func() {
	return s.bus.Subscribe(eventType, handler)
}

func defaultCmdFactory(cfg Config) *exec.Cmd {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// Spawn launches and registers a process. Spawning an id that is already
// tracked is a no-op returning the existing record, so callers can retry
// idempotently. Launch errors are returned wrapped in ErrSpawnFailed and
// leave nothing registered.
func (s *Supervisor) Spawn(cfg Config) (Record, error) {
	s.mu.Lock()
	if t, ok := s.procs[cfg.ID]; ok {
		rec := t.record
		s.mu.Unlock()
		return rec, nil
	}

	t, err := s.launch(cfg, 0)
	if err != nil {
		s.mu.Unlock()
		return Record{}, err
	}
	rec := t.record
	s.mu.Unlock()

	logger.Info("process started", "id", cfg.ID, "pid", rec.PID, "dir", cfg.Dir)
	s.publish(bus.EventProcessStarted, bus.ProcessStartedData{ID: cfg.ID, PID: rec.PID})
	return rec, nil
}

// launch starts a process and registers it. Caller holds s.mu.
func (s *Supervisor) launch(cfg Config, restartCount int) (*tracked, error) {
	cmd := s.cmdFactory(cfg)
	applyEnv(cmd, cfg.Env)
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawnFailed, cfg.ID, err)
	}

	s.genCounter++
	t := &tracked{
		record: Record{
			ID:           cfg.ID,
			PID:          cmd.Process.Pid,
			StartedAt:    s.clock.Now(),
			RestartCount: restartCount,
			Healthy:      true,
			Config:       cfg,
		},
		cmd:        cmd,
		gen:        s.genCounter,
		waitDone:   make(chan struct{}),
		stopHealth: make(chan struct{}),
	}
	s.procs[cfg.ID] = t

	s.wg.Add(1)
	go s.watchExit(cfg.ID, t)
	if cfg.HealthCheckInterval > 0 {
		s.wg.Add(1)
		go s.healthLoop(cfg.ID, t)
	}
	return t, nil
}

// Stop terminates a process and removes its record regardless of exit
// outcome. Stopping an unknown id is a no-op.
func (s *Supervisor) Stop(id string) {
	s.mu.Lock()
	t, ok := s.procs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.procs, id)
	t.stopHealthLoop()
	s.mu.Unlock()

	s.terminate(t)
	logger.Info("process stopped", "id", id, "pid", t.record.PID)
}

// Restart stops a process and relaunches it from the stored config,
// incrementing its restart count.
func (s *Supervisor) Restart(id string) (Record, error) {
	s.mu.Lock()
	t, ok := s.procs[id]
	if !ok {
		s.mu.Unlock()
		return Record{}, fmt.Errorf("process %s: not tracked", id)
	}
	delete(s.procs, id)
	t.stopHealthLoop()
	s.mu.Unlock()

	s.terminate(t)

	s.mu.Lock()
	nt, err := s.launch(t.record.Config, t.record.RestartCount+1)
	if err != nil {
		s.mu.Unlock()
		return Record{}, err
	}
	rec := nt.record
	s.mu.Unlock()

	logger.Info("process restarted", "id", id, "pid", rec.PID, "restartCount", rec.RestartCount)
	s.publish(bus.EventProcessRestarted, bus.ProcessRestartedData{ID: id, PID: rec.PID, RestartCount: rec.RestartCount})
	return rec, nil
}

// Get returns the record for an id.
func (s *Supervisor) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.procs[id]
	if !ok {
		return Record{}, false
	}
	return t.record, true
}

// GetAll returns records for every tracked process.
func (s *Supervisor) GetAll() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.procs))
	for _, t := range s.procs {
		out = append(out, t.record)
	}
	return out
}

// GetDetails returns a record with derived fields computed at call time.
func (s *Supervisor) GetDetails(id string) (Details, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.procs[id]
	if !ok {
		return Details{}, false
	}
	return Details{Record: t.record, Uptime: s.clock.Since(t.record.StartedAt)}, true
}

// StopAll stops every tracked process in parallel.
func (s *Supervisor) StopAll() {
	ids := make([]string, 0)
	s.mu.Lock()
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			s.Stop(id)
			return nil
		})
	}
	g.Wait()
}

// CleanupOrphaned stops every tracked process whose id is no longer live
// according to the caller-supplied predicate. Returns the stopped ids.
func (s *Supervisor) CleanupOrphaned(isLive func(id string) bool) []string {
	ids := make([]string, 0)
	s.mu.Lock()
	for id := range s.procs {
		if !isLive(id) {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		logger.Warn("stopping orphaned process", "id", id)
		s.Stop(id)
	}
	return ids
}

// Wait blocks until all exit watchers and health loops have finished.
// Useful in tests and at shutdown.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) publish(eventType bus.EventType, data any) {
	event, err := bus.NewEvent(eventType, "supervisor", data)
	if err != nil {
		logger.Error("process event marshal failed", "type", eventType, "err", err)
		return
	}
	s.bus.Publish(event)
}

func applyEnv(cmd *exec.Cmd, overlay map[string]string) {
	if len(overlay) == 0 {
		return
	}
	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	cmd.Env = env
}

func setProcessGroup(cmd *exec.Cmd) {
	// Each worker gets its own process group so termination reaches the
	// whole tree, not just the direct child.
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}
