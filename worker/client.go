// Package worker implements the interaction worker process.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mindloom/mindloom/internal/runtimecfg"
	"github.com/mindloom/mindloom/logger"
	"github.com/mindloom/mindloom/store"
	"github.com/mindloom/mindloom/wake"
)

// Client talks to the coordinator API on behalf of one worker process.
type Client struct {
	baseURL string
	http    *http.Client
	// await calls can outlive the standard timeout; they are bounded by the
	// request context instead.
	longHTTP *http.Client
}

// NewClient creates an API client for the given callback base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: runtimecfg.WorkerClientHTTPTimeout},
		longHTTP: &http.Client{},
	}
}

func (c *Client) doJSON(ctx context.Context, client *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("request %s %s failed: HTTP %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// GetInteraction fetches an interaction by id.
func (c *Client) GetInteraction(ctx context.Context, id string) (*store.Interaction, error) {
	var in store.Interaction
	if err := c.doJSON(ctx, c.http, http.MethodGet, "/api/interactions/"+url.PathEscape(id), nil, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// GetMessages fetches the message log for an interaction.
func (c *Client) GetMessages(ctx context.Context, interactionID string) ([]*store.Message, error) {
	var msgs []*store.Message
	path := "/api/interactions/" + url.PathEscape(interactionID) + "/messages"
	if err := c.doJSON(ctx, c.http, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SubmitResult posts the worker's result, retrying transient failures.
func (c *Client) SubmitResult(ctx context.Context, interactionID string, res wake.Result) error {
	path := "/api/interactions/" + url.PathEscape(interactionID) + "/result"

	var lastErr error
	for attempt := 1; attempt <= runtimecfg.WorkerResultMaxAttempts; attempt++ {
		lastErr = c.doJSON(ctx, c.http, http.MethodPost, path, res, nil)
		if lastErr == nil {
			return nil
		}
		logger.Warn("submit result failed", "interaction", interactionID, "attempt", attempt, "err", lastErr)

		select {
		case <-time.After(runtimecfg.WorkerResultRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// RequestPermission registers a pending tool call and returns its request id.
func (c *Client) RequestPermission(ctx context.Context, interactionID string, call wake.ToolCallRequest) (string, error) {
	var out struct {
		RequestID string `json:"requestId"`
	}
	path := "/api/interactions/" + url.PathEscape(interactionID) + "/permission"
	if err := c.doJSON(ctx, c.http, http.MethodPost, path, call, &out); err != nil {
		return "", err
	}
	return out.RequestID, nil
}

// AwaitPermission blocks until the permission request is answered or the
// timeout elapses. An unanswered or failed request is denied.
func (c *Client) AwaitPermission(ctx context.Context, requestID string, timeout time.Duration) bool {
	// Give the HTTP round trip headroom beyond the server-side timeout.
	awaitCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	var out struct {
		Approved bool `json:"approved"`
	}
	path := "/api/permissions/" + url.PathEscape(requestID) + "/await?timeout_ms=" + strconv.FormatInt(timeout.Milliseconds(), 10)
	if err := c.doJSON(awaitCtx, c.longHTTP, http.MethodGet, path, nil, &out); err != nil {
		logger.Warn("await permission failed, denying", "request", requestID, "err", err)
		return false
	}
	return out.Approved
}
