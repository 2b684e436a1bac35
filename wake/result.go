package wake

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mindloom/mindloom/logger"
	"github.com/mindloom/mindloom/store"
)

// Usage is token usage reported by a worker.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCallRequest is a sensitive action a worker wants approved before it
// proceeds.
type ToolCallRequest struct {
	Tool        string          `json:"toolName"`
	Description string          `json:"description"`
	RequestID   string          `json:"requestId"`
	Args        json.RawMessage `json:"args,omitempty"`
}

// Result is what a worker posts back for its interaction. Exactly one of
// the three shapes applies: an error, a pending tool call (pause for
// permission), or a final answer.
type Result struct {
	Content         string           `json:"content,omitempty"`
	Error           string           `json:"error,omitempty"`
	Model           string           `json:"model,omitempty"`
	Usage           *Usage           `json:"usage,omitempty"`
	PendingToolCall *ToolCallRequest `json:"pendingToolCall,omitempty"`
}

// SubmitResult applies a worker's posted result: appends an assistant
// message when content is present, merges usage/model metadata, and
// transitions the interaction to Completed, WaitingPermission, or Failed.
func (o *Orchestrator) SubmitResult(id string, res Result) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	in := o.interactions.Get(id)
	if in == nil {
		return fmt.Errorf("interaction %s: %w", id, store.ErrNotFound)
	}

	switch {
	case res.Error != "":
		return o.applyFailure(in, res.Error)
	case res.PendingToolCall != nil:
		return o.applyPermissionRequest(in, res)
	default:
		return o.applyCompletion(in, res)
	}
}

func (o *Orchestrator) applyFailure(in *store.Interaction, errMsg string) error {
	if !store.ValidTransition(in.State.Kind, store.StateFailed) {
		return fmt.Errorf("interaction %s: cannot fail from %s", in.ID, in.State.Kind)
	}
	if _, err := o.interactions.Update(in.ID, func(cur store.Interaction) store.Interaction {
		if store.ValidTransition(cur.State.Kind, store.StateFailed) {
			cur.State = store.Failed(errMsg)
		}
		return cur
	}); err != nil {
		return err
	}
	o.setMessageStatus(in.ID, store.MessageProcessing, store.MessageFailed)
	o.setMessageStatus(in.ID, store.MessagePending, store.MessageFailed)
	logger.Warn("interaction failed", "id", in.ID, "err", errMsg)
	return nil
}

func (o *Orchestrator) applyPermissionRequest(in *store.Interaction, res Result) error {
	req := res.PendingToolCall
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if !store.ValidTransition(in.State.Kind, store.StateWaitingPermission) {
		return fmt.Errorf("interaction %s: cannot wait for permission from %s", in.ID, in.State.Kind)
	}

	content := res.Content
	if content == "" {
		content = fmt.Sprintf("Requesting permission to run %s: %s", req.Tool, req.Description)
	}
	msgID := o.messages.AddMessage(&store.Message{
		ID:            uuid.NewString(),
		InteractionID: in.ID,
		Role:          store.RoleAssistant,
		Content:       content,
		Status:        store.MessageCompleted,
		Metadata: map[string]any{
			store.MetaPermissionRequest: map[string]any{
				"toolName":    req.Tool,
				"description": req.Description,
				"requestId":   req.RequestID,
			},
		},
	})
	o.pending[req.RequestID] = pendingPermission{interactionID: in.ID, messageID: msgID}

	processor := in.State.Processor
	_, err := o.interactions.Update(in.ID, func(cur store.Interaction) store.Interaction {
		if store.ValidTransition(cur.State.Kind, store.StateWaitingPermission) {
			cur.State = store.WaitingPermission(req.Tool, req.RequestID, processor)
		}
		if cur.Metadata == nil {
			cur.Metadata = make(map[string]any)
		}
		cur.Metadata[store.MetaPendingToolCall] = map[string]any{
			"toolName":    req.Tool,
			"description": req.Description,
			"requestId":   req.RequestID,
			"args":        string(req.Args),
		}
		return cur
	})
	if err != nil {
		return err
	}
	logger.Info("permission requested", "id", in.ID, "tool", req.Tool, "requestId", req.RequestID)
	return nil
}

func (o *Orchestrator) applyCompletion(in *store.Interaction, res Result) error {
	if !store.ValidTransition(in.State.Kind, store.StateCompleted) {
		return fmt.Errorf("interaction %s: cannot complete from %s", in.ID, in.State.Kind)
	}

	if res.Content != "" {
		o.messages.AddMessage(&store.Message{
			ID:            uuid.NewString(),
			InteractionID: in.ID,
			Role:          store.RoleAssistant,
			Content:       res.Content,
			Status:        store.MessageCompleted,
		})
	}

	if _, err := o.interactions.Update(in.ID, func(cur store.Interaction) store.Interaction {
		if store.ValidTransition(cur.State.Kind, store.StateCompleted) {
			cur.State = store.Completed(res.Content)
		}
		if cur.Metadata == nil {
			cur.Metadata = make(map[string]any)
		}
		if res.Model != "" {
			cur.Metadata[store.MetaModel] = res.Model
		}
		if res.Usage != nil {
			cur.Metadata[store.MetaUsage] = mergeUsage(cur.Metadata[store.MetaUsage], *res.Usage)
		}
		delete(cur.Metadata, store.MetaPendingToolCall)
		return cur
	}); err != nil {
		return err
	}

	o.setMessageStatus(in.ID, store.MessageProcessing, store.MessageCompleted)
	o.setMessageStatus(in.ID, store.MessagePending, store.MessageCompleted)
	logger.Info("interaction completed", "id", in.ID, "model", res.Model)
	return nil
}

// mergeUsage accumulates token counts onto whatever usage metadata is
// already present. Previous values may be float64 after a JSON round trip.
func mergeUsage(prev any, u Usage) map[string]any {
	out := map[string]any{
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
		"total_tokens":      u.TotalTokens,
	}
	prevMap, ok := prev.(map[string]any)
	if !ok {
		out["updated_at"] = time.Now().Format(time.RFC3339)
		return out
	}
	for key := range out {
		out[key] = asInt(out[key]) + asInt(prevMap[key])
	}
	out["updated_at"] = time.Now().Format(time.RFC3339)
	return out
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
