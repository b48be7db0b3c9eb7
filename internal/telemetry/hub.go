// Package telemetry streams housekeeping and fault events to monitoring
// clients as server-sent events.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types published by control servers.
const (
	TypeReady        = "ready"
	TypeHousekeeping = "housekeeping"
	TypeFault        = "fault"
	TypeHeartbeat    = "heartbeat"
)

// Event is one SSE message.
type Event struct {
	ID     int64                  `json:"id,omitempty"`
	Type   string                 `json:"type"`
	Data   map[string]interface{} `json:"data"`
	Device string                 `json:"device,omitempty"`
}

// Options tune the hub.
type Options struct {
	// BufferSize is the number of events kept per device for Last-Event-ID replay.
	BufferSize int
	// HeartbeatInterval is the idle keep-alive period while clients are connected.
	HeartbeatInterval time.Duration
}

// DefaultOptions returns a 50 event buffer and a 15 s heartbeat.
func DefaultOptions() Options {
	return Options{BufferSize: 50, HeartbeatInterval: 15 * time.Second}
}

type client struct {
	id     string
	w      http.ResponseWriter
	ctx    context.Context
	cancel context.CancelFunc
	device string
	events chan Event
	mu     sync.Mutex // guards w
}

// Hub fans events out to subscribers and keeps a replay buffer per device.
//
// Lock order: h.mu, then buffer.mu.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	ids     map[string]*int64
	buffers map[string]*buffer

	opts Options

	heartbeat     *time.Ticker
	stopHeartbeat chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHub creates a hub.
func NewHub(opts Options) *Hub {
	def := DefaultOptions()
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = def.HeartbeatInterval
	}
	return &Hub{
		clients: make(map[string]*client),
		ids:     make(map[string]*int64),
		buffers: make(map[string]*buffer),
		opts:    opts,
		done:    make(chan struct{}),
	}
}

// Subscribe streams events to w until the request or hub ends. The "device"
// query parameter selects the replay buffer used with Last-Event-ID.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var lastID int64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastID = id
		}
	}

	clientCtx, cancel := context.WithCancel(ctx)
	c := &client{
		id:     uuid.NewString(),
		w:      w,
		ctx:    clientCtx,
		cancel: cancel,
		device: r.URL.Query().Get("device"),
		events: make(chan Event, 100),
	}

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		cancel()
		return fmt.Errorf("telemetry hub stopped")
	default:
	}
	h.clients[c.id] = c
	if h.heartbeat == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()
	defer h.unregister(c.id)

	ready := Event{Type: TypeReady, Device: c.device, Data: map[string]interface{}{"device": c.device}}
	if err := c.send(ready); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	if lastID > 0 {
		for _, ev := range h.replay(c.device, lastID) {
			if err := c.send(ev); err != nil {
				return fmt.Errorf("failed to replay events: %w", err)
			}
		}
	}

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case <-h.done:
			return nil
		case ev := <-c.events:
			if c.device != "" && ev.Device != "" && ev.Device != c.device {
				continue
			}
			if err := c.send(ev); err != nil {
				return nil
			}
		}
	}
}

// Publish assigns a per-device monotonic ID, buffers the event and delivers it
// to every client. Slow clients drop events.
func (h *Hub) Publish(ev Event) {
	if ev.ID == 0 {
		ev.ID = h.nextID(ev.Device)
	}
	if ev.Device != "" && ev.Type != TypeHeartbeat {
		h.bufferFor(ev.Device).add(ev)
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case <-h.done:
			return
		case <-c.ctx.Done():
		case c.events <- ev:
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Recent returns buffered events of a device with an ID above lastID.
func (h *Hub) Recent(device string, lastID int64) []Event {
	return h.replay(device, lastID)
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) replay(device string, lastID int64) []Event {
	h.mu.RLock()
	b, ok := h.buffers[device]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.after(lastID)
}

func (h *Hub) nextID(device string) int64 {
	if device == "" {
		device = "global"
	}
	h.mu.RLock()
	counter, ok := h.ids[device]
	h.mu.RUnlock()
	if ok {
		return atomic.AddInt64(counter, 1)
	}

	h.mu.Lock()
	counter, ok = h.ids[device]
	if !ok {
		counter = new(int64)
		h.ids[device] = counter
	}
	h.mu.Unlock()
	return atomic.AddInt64(counter, 1)
}

// Buffers are never removed from h.buffers, so the pointer stays valid after
// the lock is released.
func (h *Hub) bufferFor(device string) *buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.buffers[device]
	if !ok {
		b = &buffer{capacity: h.opts.BufferSize}
		h.buffers[device] = b
	}
	return b
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[id]
	if !ok {
		return
	}
	c.cancel()
	delete(h.clients, id)

	if len(h.clients) == 0 && h.heartbeat != nil {
		h.heartbeat.Stop()
		h.heartbeat = nil
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
}

// startHeartbeat must be called with h.mu held.
func (h *Hub) startHeartbeat() {
	h.heartbeat = time.NewTicker(h.opts.HeartbeatInterval)
	h.stopHeartbeat = make(chan struct{})
	ticker, stop := h.heartbeat, h.stopHeartbeat

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				h.Publish(Event{
					Type: TypeHeartbeat,
					Data: map[string]interface{}{"ts": time.Now().UTC().Format(time.RFC3339)},
				})
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// Stop disconnects all clients and stops the heartbeat. It is safe to call twice.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, c := range h.clients {
			c.cancel()
		}
		if h.heartbeat != nil {
			h.heartbeat.Stop()
			h.heartbeat = nil
		}
		h.mu.Unlock()

		waited := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(5 * time.Second):
		}
	})
}

func (c *client) send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if ev.ID > 0 {
		if _, err := fmt.Fprintf(c.w, "id: %d\n", ev.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	if f, ok := c.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

type buffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

func (b *buffer) add(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	if len(b.events) > b.capacity {
		b.events = b.events[len(b.events)-b.capacity:]
	}
}

func (b *buffer) after(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, ev := range b.events {
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}
