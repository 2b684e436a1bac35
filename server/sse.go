package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/mindloom/mindloom/bus"
	"github.com/mindloom/mindloom/internal/runtimecfg"
	"github.com/mindloom/mindloom/logger"
	"github.com/mindloom/mindloom/store"
	"github.com/mindloom/mindloom/wake"
)

// eventStream fans out store and process events to SSE clients.
type eventStream struct {
	mu      sync.Mutex
	clients map[*sseClient]struct{}
	done    chan struct{}
	unsubs  []func()
}

type sseClient struct {
	events chan *bus.Event
}

func newEventStream() *eventStream {
	return &eventStream{
		clients: make(map[*sseClient]struct{}),
		done:    make(chan struct{}),
	}
}

func (es *eventStream) start(interactions *store.InteractionStore, messages *store.MessageStore, orch *wake.Orchestrator) {
	es.unsubs = append(es.unsubs,
		interactions.Subscribe(es.broadcast),
		messages.Subscribe(es.broadcast),
		orch.SubscribeProcessEvents(es.broadcast),
	)
}

func (es *eventStream) stop() {
	for _, unsub := range es.unsubs {
		unsub()
	}
	es.unsubs = nil

	select {
	case <-es.done:
	default:
		close(es.done)
	}

	es.mu.Lock()
	es.clients = make(map[*sseClient]struct{})
	es.mu.Unlock()
}

// broadcast runs on the publisher's goroutine; it must only enqueue.
func (es *eventStream) broadcast(event *bus.Event) {
	es.mu.Lock()
	defer es.mu.Unlock()
	for client := range es.clients {
		select {
		case client.events <- event:
		default:
			logger.Warn("sse client buffer full, dropping event", "eventType", event.Type)
		}
	}
}

func (es *eventStream) register(client *sseClient) {
	es.mu.Lock()
	es.clients[client] = struct{}{}
	es.mu.Unlock()
}

func (es *eventStream) unregister(client *sseClient) {
	es.mu.Lock()
	delete(es.clients, client)
	es.mu.Unlock()
}

func (es *eventStream) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := &sseClient{events: make(chan *bus.Event, runtimecfg.SSEClientBufferSize)}
	es.register(client)
	defer es.unregister(client)

	for {
		select {
		case event := <-client.events:
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-es.done:
			return
		}
	}
}
