package wake

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mindloom/mindloom/logger"
	"github.com/mindloom/mindloom/store"
)

// RequestPermission posts a pending permission request on behalf of a
// worker: the interaction pauses in WaitingPermission and a message
// carrying the request metadata is appended for the operator to see.
func (o *Orchestrator) RequestPermission(interactionID, toolName, description, requestID string, args json.RawMessage) error {
	return o.SubmitResult(interactionID, Result{
		PendingToolCall: &ToolCallRequest{
			Tool:        toolName,
			Description: description,
			RequestID:   requestID,
			Args:        args,
		},
	})
}

// AwaitPermission blocks, polling at the configured interval, until the
// request has a terminal answer or the timeout elapses. A timeout resolves
// to false: no answer means denied. timeout <= 0 uses the default.
func (o *Orchestrator) AwaitPermission(ctx context.Context, requestID string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = o.cfg.PermissionTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		if answered, approved := o.permissionAnswer(requestID); answered {
			return approved
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			logger.Warn("permission request timed out, denying", "requestId", requestID, "timeout", timeout)
			return false
		}
		wait := o.cfg.PermissionPoll
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// RespondToPermission resolves a pending request. It is the only write
// path that does so; responding to an unknown or already-resolved request
// is a no-op, so operator retries are safe.
func (o *Orchestrator) RespondToPermission(requestID string, approved bool) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	p, ok := o.pending[requestID]
	if !ok {
		return
	}
	m := o.messages.GetMessage(p.messageID)
	if m == nil {
		return
	}
	if _, resolved := m.Metadata[store.MetaPermissionResponse]; resolved {
		return
	}

	o.messages.UpdateMessageMetadata(p.messageID, map[string]any{
		store.MetaPermissionResponse: map[string]any{
			"approved":  approved,
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})

	// Resume: the worker re-observes the interaction and carries on.
	o.interactions.Update(p.interactionID, func(cur store.Interaction) store.Interaction {
		if cur.State.Kind == store.StateWaitingPermission && cur.State.RequestID == requestID {
			cur.State = store.Processing(cur.State.Processor)
		}
		return cur
	})
	logger.Info("permission resolved", "requestId", requestID, "approved", approved)
}

// permissionAnswer reports whether the request has a terminal answer.
func (o *Orchestrator) permissionAnswer(requestID string) (answered, approved bool) {
	o.stateMu.Lock()
	p, ok := o.pending[requestID]
	o.stateMu.Unlock()
	if !ok {
		return false, false
	}

	m := o.messages.GetMessage(p.messageID)
	if m == nil {
		return false, false
	}
	resp, ok := m.Metadata[store.MetaPermissionResponse].(map[string]any)
	if !ok {
		return false, false
	}
	got, _ := resp["approved"].(bool)
	return true, got
}
