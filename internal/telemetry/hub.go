// Package telemetry streams command events to browser clients over
// Server-Sent Events.
//
// Every event gets a hub-wide monotonic ID. The hub keeps a bounded buffer
// per vendor so clients can resume with Last-Event-ID, and a client may
// restrict the stream to one vendor with ?vendor=. Publishing never blocks:
// a client whose queue is full misses the event.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/robot-control/rgw/internal/config"
)

// Event types.
const (
	EventReady            = "ready"
	EventHeartbeat        = "heartbeat"
	EventCommandSucceeded = "commandSucceeded"
	EventCommandFailed    = "commandFailed"
)

const (
	clientQueueSize  = 64
	defaultHeartbeat = 15 * time.Second
)

// Event represents a telemetry event with SSE formatting.
type Event struct {
	ID     int64                  `json:"id,omitempty"`
	Type   string                 `json:"type"`
	Data   map[string]interface{} `json:"data"`
	Vendor string                 `json:"vendor,omitempty"`
}

// Client represents an SSE client connection.
type Client struct {
	ID     string
	Vendor string
	Events chan Event
	writer http.ResponseWriter
	cancel context.CancelFunc
	mu     sync.Mutex
}

func (c *Client) wants(e Event) bool {
	return c.Vendor == "" || e.Vendor == "" || strings.EqualFold(c.Vendor, e.Vendor)
}

// Hub manages SSE telemetry distribution with per-vendor buffering.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	buffers map[string]*EventBuffer
	nextID  atomic.Int64

	bufferSize int
	heartbeat  time.Duration
	snapshot   func() map[string]interface{}
	logger     *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a telemetry hub. snapshot, when non-nil, supplies the data
// of the ready event sent to each new client.
func NewHub(cfg config.TelemetryConfig, snapshot func() map[string]interface{}, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Hub{
		clients:    make(map[string]*Client),
		buffers:    make(map[string]*EventBuffer),
		bufferSize: cfg.BufferSize,
		heartbeat:  heartbeat,
		snapshot:   snapshot,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Subscribe serves one SSE client until it disconnects or the hub stops.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if _, ok := w.(http.Flusher); !ok {
		return fmt.Errorf("streaming unsupported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lastEventID := int64(0)
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if id, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastEventID = id
		}
	}

	client := &Client{
		ID:     uuid.NewString(),
		Vendor: strings.ToLower(strings.TrimSpace(r.URL.Query().Get("vendor"))),
		Events: make(chan Event, clientQueueSize),
		writer: w,
		cancel: cancel,
	}

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return fmt.Errorf("telemetry hub stopped")
	default:
	}
	h.clients[client.ID] = client
	h.mu.Unlock()
	defer h.unregisterClient(client.ID)

	if err := h.sendReadyEvent(client); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	replayed, err := h.replay(client, lastEventID)
	if err != nil {
		return err
	}

	h.logger.Debug("telemetry client connected", zap.String("client", client.ID), zap.String("vendor", client.Vendor))
	h.handleClient(clientCtx, client, replayed)
	return nil
}

// replay sends the buffered events after lastEventID and returns their IDs.
// The client is already registered, so an event published meanwhile can
// also sit in its queue.
func (h *Hub) replay(client *Client, lastEventID int64) (map[int64]struct{}, error) {
	if lastEventID <= 0 {
		return nil, nil
	}
	events := h.eventsAfter(client, lastEventID)
	replayed := make(map[int64]struct{}, len(events))
	for _, event := range events {
		if err := client.send(event); err != nil {
			return nil, fmt.Errorf("failed to replay events: %w", err)
		}
		replayed[event.ID] = struct{}{}
	}
	return replayed, nil
}

// Publish assigns an ID, buffers the event and fans it out.
func (h *Hub) Publish(event Event) {
	event.ID = h.nextID.Add(1)
	event.Vendor = strings.ToLower(event.Vendor)

	h.mu.Lock()
	if event.Vendor != "" {
		buffer, exists := h.buffers[event.Vendor]
		if !exists {
			buffer = NewEventBuffer(h.bufferSize)
			h.buffers[event.Vendor] = buffer
		}
		buffer.AddEvent(event)
	}
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		if !client.wants(event) {
			continue
		}
		select {
		case client.Events <- event:
		default:
			h.logger.Debug("dropping telemetry event for slow client",
				zap.String("client", client.ID), zap.Int64("event", event.ID))
		}
	}
}

// PublishVendor publishes an event for a specific vendor.
func (h *Hub) PublishVendor(vendorID, eventType string, data map[string]interface{}) {
	h.Publish(Event{Type: eventType, Vendor: vendorID, Data: data})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) sendReadyEvent(client *Client) error {
	data := map[string]interface{}{}
	if h.snapshot != nil {
		data = h.snapshot()
	}
	return client.send(Event{Type: EventReady, Data: data})
}

func (h *Hub) eventsAfter(client *Client, lastID int64) []Event {
	h.mu.RLock()
	var buffers []*EventBuffer
	for vendor, buffer := range h.buffers {
		if client.Vendor == "" || client.Vendor == vendor {
			buffers = append(buffers, buffer)
		}
	}
	h.mu.RUnlock()

	var events []Event
	for _, buffer := range buffers {
		events = append(events, buffer.GetEventsAfter(lastID)...)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events
}

func (h *Hub) handleClient(ctx context.Context, client *Client, replayed map[int64]struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			heartbeat := Event{Type: EventHeartbeat, Data: map[string]interface{}{
				"ts": time.Now().UTC().Format(time.RFC3339),
			}}
			if err := client.send(heartbeat); err != nil {
				return
			}
		case event := <-client.Events:
			if _, sent := replayed[event.ID]; sent {
				delete(replayed, event.ID)
				continue
			}
			if err := client.send(event); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, exists := h.clients[clientID]; exists {
		client.cancel()
		delete(h.clients, clientID)
	}
}

// Stop disconnects every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		close(h.done)
		for _, client := range h.clients {
			client.cancel()
		}
		h.mu.Unlock()
	})
}

// send writes one event in SSE framing and flushes it.
func (c *Client) send(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	if event.ID > 0 {
		if _, err := fmt.Fprintf(c.writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(c.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	if flusher, ok := c.writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// EventBuffer keeps the most recent events of one vendor.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewEventBuffer creates a new event buffer with the specified capacity.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &EventBuffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// AddEvent appends event, evicting the oldest when full.
func (b *EventBuffer) AddEvent(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[1:]
	}
}

// GetEventsAfter returns events after the specified ID.
func (b *EventBuffer) GetEventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.ID > lastID {
			result = append(result, event)
		}
	}
	return result
}

// GetSize returns the current buffer size.
func (b *EventBuffer) GetSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
