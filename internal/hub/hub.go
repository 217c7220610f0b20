// Package hub fans events out to connected overlay clients.
package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/observability"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 64

// HelloMessage is the greeting sent to every new subscriber.
const HelloMessage = "connected"

// Sink mirrors published payloads outside the process.
// Deliver must not block.
type Sink interface {
	Deliver(eventType string, payload []byte)
}

// Subscriber is one connected client. Messages are JSON payloads.
type Subscriber struct {
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Messages returns the subscriber's queue.
func (s *Subscriber) Messages() <-chan []byte { return s.send }

// Done is closed when the subscriber is removed from the hub.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Options contains configuration for creating a Hub.
type Options struct {
	Build      string
	BufferSize int
	Logger     *zap.Logger
}

// Hub holds the subscriber set and the last market cap for replay.
type Hub struct {
	build      string
	bufferSize int
	logger     *zap.Logger

	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	sinks       []Sink
	lastMCValue float64
	lastMC      []byte
	closed      bool
}

// New creates a Hub.
func New(opts Options) *Hub {
	h := &Hub{
		build:       opts.Build,
		bufferSize:  opts.BufferSize,
		logger:      opts.Logger,
		subscribers: make(map[*Subscriber]struct{}),
	}
	if h.bufferSize <= 0 {
		h.bufferSize = DefaultBufferSize
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// AddSink attaches an external mirror. Sinks receive every published payload.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Subscribe registers a new subscriber. Its queue already holds the hello
// message and, when known, the last market cap, so both precede any event
// published afterwards.
func (h *Hub) Subscribe() *Subscriber {
	hello, err := json.Marshal(domain.HelloEvent{Message: HelloMessage, Build: h.build})
	if err != nil {
		h.logger.Error("marshal hello", zap.Error(err))
	}

	s := &Subscriber{
		send: make(chan []byte, h.bufferSize+2),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if hello != nil {
		s.send <- hello
	}
	if h.lastMC != nil {
		s.send <- h.lastMC
	}
	if h.closed {
		s.close()
		return s
	}
	h.subscribers[s] = struct{}{}
	observability.SetSubscribers(len(h.subscribers))
	return s
}

// Unsubscribe removes s. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[s]; !ok {
		return
	}
	delete(h.subscribers, s)
	s.close()
	observability.SetSubscribers(len(h.subscribers))
}

// Publish delivers ev to every current subscriber. A subscriber whose queue
// is full misses this message; others are unaffected.
func (h *Hub) Publish(ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", zap.String("type", ev.EventType()), zap.Error(err))
		return
	}

	// Replay state and the target snapshot change together so a concurrent
	// Subscribe sees the new market cap exactly once.
	h.mu.Lock()
	if mc, ok := ev.(domain.MarketCapEvent); ok && mc.MarketCap > 0 {
		h.lastMCValue = mc.MarketCap
		h.lastMC = payload
	}
	targets := make([]*Subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		targets = append(targets, s)
	}
	sinks := h.sinks
	h.mu.Unlock()

	observability.RecordPublish(ev.EventType())

	for _, s := range targets {
		select {
		case s.send <- payload:
		default:
			observability.RecordDropped()
			h.logger.Debug("subscriber queue full, message dropped", zap.String("type", ev.EventType()))
		}
	}

	for _, sink := range sinks {
		sink.Deliver(ev.EventType(), payload)
	}
}

// LastMarketCap returns the most recently published market cap, or 0.
func (h *Hub) LastMarketCap() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastMCValue
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close removes all subscribers, ending their transports, and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subscribers {
		delete(h.subscribers, s)
		s.close()
	}
	observability.SetSubscribers(0)
}
