// Package wake decides when a worker process must be spawned for an
// interaction, handles the results workers post back, and implements the
// tool-permission handshake between a worker and the human operator.
package wake

import (
	"sync"
	"time"

	"github.com/mindloom/mindloom/bus"
	"github.com/mindloom/mindloom/logger"
	"github.com/mindloom/mindloom/store"
	"github.com/mindloom/mindloom/supervisor"
)

// Env vars handed to every spawned worker.
const (
	EnvInteractionID = "MINDLOOM_INTERACTION_ID"
	EnvCallbackURL   = "MINDLOOM_CALLBACK_URL"
)

const (
	defaultPermissionTimeout = 60 * time.Second
	defaultPermissionPoll    = 500 * time.Millisecond
	defaultQueueSize         = 256
)

// Worktree is a checkout a worker runs against.
type Worktree struct {
	Path   string
	Branch string
}

// WorktreeResolver resolves the working directory for an interaction.
// Resolve returns nil (with nil error) when no worktree exists.
type WorktreeResolver interface {
	Resolve(id string) (*Worktree, error)
}

// Config describes orchestrator behavior.
type Config struct {
	Source        string   // originating source workers are spawned for
	WorkerCommand []string // argv of the worker binary
	CallbackURL   string   // base URL workers post results back to
	Dir           string   // fallback working directory

	MaxRestarts         int
	RestartDelay        time.Duration
	HealthCheckInterval time.Duration

	PermissionTimeout time.Duration // default 60s
	PermissionPoll    time.Duration // default 500ms

	QueueSize int
}

type pendingPermission struct {
	interactionID string
	messageID     string
}

// Orchestrator watches the event store and turns "a user message exists
// with no answer yet" into "a worker process is running against it",
// exactly once per interaction.
type Orchestrator struct {
	cfg          Config
	interactions *store.InteractionStore
	messages     *store.MessageStore
	sup          *supervisor.Supervisor
	worktrees    WorktreeResolver // may be nil

	// stateMu serializes every read-decide-write sequence against the
	// stores so no two orchestrator mutations interleave.
	stateMu   sync.Mutex
	processed map[string]struct{}
	pending   map[string]pendingPermission

	events  chan *bus.Event
	quit    chan struct{}
	wg      sync.WaitGroup
	unsubs  []func()
	started bool
}

// New creates an orchestrator. The worktree resolver may be nil.
func New(interactions *store.InteractionStore, messages *store.MessageStore, sup *supervisor.Supervisor, worktrees WorktreeResolver, cfg Config) *Orchestrator {
	if cfg.Source == "" {
		cfg.Source = "user"
	}
	if cfg.PermissionTimeout <= 0 {
		cfg.PermissionTimeout = defaultPermissionTimeout
	}
	if cfg.PermissionPoll <= 0 {
		cfg.PermissionPoll = defaultPermissionPoll
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	return &Orchestrator{
		cfg:          cfg,
		interactions: interactions,
		messages:     messages,
		sup:          sup,
		worktrees:    worktrees,
		processed:    make(map[string]struct{}),
		pending:      make(map[string]pendingPermission),
		events:       make(chan *bus.Event, cfg.QueueSize),
		quit:         make(chan struct{}),
	}
}

// Start subscribes to both logs and begins processing events.
func (o *Orchestrator) Start() {
	if o.started {
		return
	}
	o.started = true

	o.unsubs = append(o.unsubs,
		o.interactions.Subscribe(o.onEvent),
		o.messages.Subscribe(o.onEvent),
	)

	o.wg.Add(1)
	go o.loop()
	logger.Info("wake orchestrator started", "source", o.cfg.Source)
}

// Stop unsubscribes from the stores and kills all in-flight workers.
// Workers get no grace period.
func (o *Orchestrator) Stop() {
	if !o.started {
		return
	}
	o.started = false

	for _, unsub := range o.unsubs {
		unsub()
	}
	o.unsubs = nil
	close(o.quit)
	o.wg.Wait()
	o.sup.StopAll()
	logger.Info("wake orchestrator stopped")
}

// onEvent runs on the publishing store's goroutine; it only enqueues.
func (o *Orchestrator) onEvent(event *bus.Event) {
	select {
	case o.events <- event:
	case <-o.quit:
	default:
		logger.Warn("wake queue full, event dropped", "type", event.Type)
	}
}

func (o *Orchestrator) loop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.quit:
			return
		case event := <-o.events:
			o.handleEvent(event)
		}
	}
}

func (o *Orchestrator) handleEvent(event *bus.Event) {
	switch event.Type {
	case bus.EventInteractionCreated:
		var in store.Interaction
		if err := event.ParseData(&in); err != nil {
			logger.Error("wake: bad interaction event", "err", err)
			return
		}
		o.consider(in.ID)
	case bus.EventMessageAdded:
		var m store.Message
		if err := event.ParseData(&m); err != nil {
			logger.Error("wake: bad message event", "err", err)
			return
		}
		if m.Role == store.RoleUser {
			o.consider(m.InteractionID)
		}
	}
}

// consider applies the eligibility rule and, when it passes, marks the id
// processed before any asynchronous work so a second concurrent event for
// the same id cannot double-spawn.
func (o *Orchestrator) consider(id string) {
	o.stateMu.Lock()
	in := o.interactions.Get(id)
	if in == nil || !o.shouldProcess(in) {
		o.stateMu.Unlock()
		return
	}
	o.processed[id] = struct{}{}
	o.stateMu.Unlock()

	o.process(in)
}

// shouldProcess is the four-part deduplication guard: not already
// processed, no live process under the id, the expected originator, and no
// prior response content. Caller holds stateMu.
func (o *Orchestrator) shouldProcess(in *store.Interaction) bool {
	if _, done := o.processed[in.ID]; done {
		return false
	}
	if _, running := o.sup.Get(in.ID); running {
		return false
	}
	if in.Source != o.cfg.Source {
		return false
	}
	return !o.hasResponse(in.ID)
}

func (o *Orchestrator) hasResponse(id string) bool {
	for _, m := range o.messages.GetMessages(id) {
		if m.Role == store.RoleAssistant {
			return true
		}
	}
	return false
}

// process claims the interaction and spawns a worker scoped to its working
// directory. A spawn failure un-marks the id so a later event can retry.
func (o *Orchestrator) process(in *store.Interaction) {
	processor := "worker-" + in.ID

	if _, err := o.interactions.Update(in.ID, func(cur store.Interaction) store.Interaction {
		if store.ValidTransition(cur.State.Kind, store.StateProcessing) {
			cur.State = store.Processing(processor)
		}
		return cur
	}); err != nil {
		o.unmark(in.ID)
		logger.Error("wake: claim failed", "id", in.ID, "err", err)
		return
	}
	o.setMessageStatus(in.ID, store.MessagePending, store.MessageProcessing)

	dir := o.resolveDir(in)
	cmd := o.cfg.WorkerCommand
	if len(cmd) == 0 {
		o.unmark(in.ID)
		logger.Error("wake: no worker command configured", "id", in.ID)
		return
	}

	_, err := o.sup.Spawn(supervisor.Config{
		ID:      in.ID,
		Command: cmd[0],
		Args:    cmd[1:],
		Dir:     dir,
		Env: map[string]string{
			EnvInteractionID: in.ID,
			EnvCallbackURL:   o.cfg.CallbackURL,
		},
		MaxRestarts:         o.cfg.MaxRestarts,
		RestartDelay:        o.cfg.RestartDelay,
		HealthCheckInterval: o.cfg.HealthCheckInterval,
	})
	if err != nil {
		o.unmark(in.ID)
		o.interactions.Update(in.ID, func(cur store.Interaction) store.Interaction {
			if cur.Metadata == nil {
				cur.Metadata = make(map[string]any)
			}
			cur.Metadata[store.MetaSpawnError] = err.Error()
			return cur
		})
		logger.Error("wake: worker spawn failed", "id", in.ID, "dir", dir, "err", err)
		return
	}
	logger.Info("wake: worker spawned", "id", in.ID, "dir", dir)
}

func (o *Orchestrator) unmark(id string) {
	o.stateMu.Lock()
	delete(o.processed, id)
	o.stateMu.Unlock()
}

// resolveDir picks the worker's working directory: worktree metadata, then
// the worktree resolver, then the orchestrator's own directory.
func (o *Orchestrator) resolveDir(in *store.Interaction) string {
	if wt, ok := in.Metadata[store.MetaWorktree].(map[string]any); ok {
		if path, ok := wt["path"].(string); ok && path != "" {
			return path
		}
	}
	if o.worktrees != nil {
		wt, err := o.worktrees.Resolve(in.ID)
		if err != nil {
			logger.Warn("wake: worktree resolve failed", "id", in.ID, "err", err)
		} else if wt != nil && wt.Path != "" {
			return wt.Path
		}
	}
	return o.cfg.Dir
}

// setMessageStatus moves every message of the interaction currently in
// state from to state to.
func (o *Orchestrator) setMessageStatus(id string, from, to store.MessageStatus) {
	for _, m := range o.messages.GetMessages(id) {
		if m.Status == from {
			o.messages.UpdateMessageStatus(m.ID, to)
		}
	}
}

// SubscribeProcessEvents registers a handler for all worker process events.
func (o *Orchestrator) SubscribeProcessEvents(handler bus.Handler) func() {
	return o.sup.Subscribe("", handler)
}

// GetActiveProcesses returns records for every running worker.
func (o *Orchestrator) GetActiveProcesses() []supervisor.Record {
	return o.sup.GetAll()
}

// GetProcessDetails returns a worker record with derived fields.
func (o *Orchestrator) GetProcessDetails(id string) (supervisor.Details, bool) {
	return o.sup.GetDetails(id)
}

// RestartProcess restarts a worker from its stored config.
func (o *Orchestrator) RestartProcess(id string) error {
	_, err := o.sup.Restart(id)
	return err
}

// StopProcess kills a worker.
func (o *Orchestrator) StopProcess(id string) {
	o.sup.Stop(id)
}

// CleanupOrphaned stops workers whose interaction no longer exists.
func (o *Orchestrator) CleanupOrphaned() []string {
	return o.sup.CleanupOrphaned(func(id string) bool {
		return o.interactions.Get(id) != nil
	})
}
