// Package store holds the in-memory interaction and message logs.
//
// Both logs are append/update event stores: every mutation goes through a
// single owning goroutine and is published to subscribers before the next
// mutation is applied, so subscribers observe changes in mutation order.
// Nothing is persisted; the logs live and die with the process.
package store

import "time"

// StateKind identifies an interaction lifecycle state.
type StateKind string

const (
	StateQueued            StateKind = "queued"
	StateProcessing        StateKind = "processing"
	StateWaitingPermission StateKind = "waiting_permission"
	StateCompleted         StateKind = "completed"
	StateFailed            StateKind = "failed"
)

// State is the tagged lifecycle state of an interaction. Kind selects the
// variant; the remaining fields are only meaningful for the kinds that
// carry them.
type State struct {
	Kind StateKind `json:"kind"`

	// Processing / WaitingPermission
	Processor string    `json:"processor,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`

	// WaitingPermission
	Tool      string `json:"tool,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Completed
	Result      string    `json:"result,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Failed
	Error    string    `json:"error,omitempty"`
	FailedAt time.Time `json:"failed_at,omitempty"`
}

// Queued returns the initial state.
func Queued() State {
	return State{Kind: StateQueued}
}

// Processing returns a processing state owned by the named processor.
func Processing(processor string) State {
	return State{Kind: StateProcessing, Processor: processor, StartedAt: time.Now()}
}

// WaitingPermission returns a paused state awaiting approval for a tool.
func WaitingPermission(tool, requestID, processor string) State {
	return State{Kind: StateWaitingPermission, Tool: tool, RequestID: requestID, Processor: processor, StartedAt: time.Now()}
}

// Completed returns the terminal success state.
func Completed(result string) State {
	return State{Kind: StateCompleted, Result: result, CompletedAt: time.Now()}
}

// Failed returns the terminal error state.
func Failed(errMsg string) State {
	return State{Kind: StateFailed, Error: errMsg, FailedAt: time.Now()}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s.Kind == StateCompleted || s.Kind == StateFailed
}

// ValidTransition reports whether an interaction may move from one state
// kind to another. Transitions only go forward, with the single exception
// of WaitingPermission back to Processing (resume after a permission
// answer). Terminal states admit nothing.
func ValidTransition(from, to StateKind) bool {
	switch from {
	case StateQueued:
		return to == StateProcessing || to == StateFailed
	case StateProcessing:
		return to == StateWaitingPermission || to == StateCompleted || to == StateFailed
	case StateWaitingPermission:
		return to == StateProcessing || to == StateCompleted || to == StateFailed
	default:
		return false
	}
}

// Interaction is a conversation container with its own lifecycle state.
type Interaction struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	CreatedAt time.Time      `json:"created_at"`
	State     State          `json:"state"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Metadata keys used across components. The map is intentionally
// schema-free; these are the keys the coordinator itself reads or writes.
const (
	MetaWorktree        = "worktree"        // {path, branch}
	MetaPendingToolCall = "pendingToolCall" // {toolName, description, requestId, args}
	MetaUsage           = "usage"           // accumulated token usage
	MetaModel           = "model"           // model that produced the response
	MetaProgress        = "progress"        // free-form progress text
	MetaSpawnError      = "spawnError"      // last worker spawn failure
)

// Clone returns a copy of the interaction with its own metadata map.
func (i *Interaction) Clone() *Interaction {
	if i == nil {
		return nil
	}
	out := *i
	out.Metadata = cloneMeta(i.Metadata)
	return &out
}

// MessageStatus tracks whether a specific message has been answered.
type MessageStatus string

const (
	MessagePending    MessageStatus = "pending"
	MessageProcessing MessageStatus = "processing"
	MessageCompleted  MessageStatus = "completed"
	MessageFailed     MessageStatus = "failed"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message metadata keys.
const (
	MetaPermissionRequest  = "permissionRequest"  // {toolName, description, requestId}
	MetaPermissionResponse = "permissionResponse" // {approved, timestamp}
)

// Message is one turn of content scoped to exactly one interaction.
type Message struct {
	ID            string         `json:"id"`
	InteractionID string         `json:"interaction_id"`
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	Timestamp     time.Time      `json:"timestamp"`
	Status        MessageStatus  `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy of the message with its own metadata map.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Metadata = cloneMeta(m.Metadata)
	return &out
}

func cloneMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
