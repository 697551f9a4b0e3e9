package pubsub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// DefaultBuffer is the per-subscriber queue length used when NewHub is
// given a non-positive size.
const DefaultBuffer = 32

// Subscription is one subscriber attached to one topic.  Messages arrive on
// C; C is closed by Close.
type Subscription struct {
	C     <-chan []byte
	ch    chan []byte
	topic string
	hub   *Hub
	once  sync.Once
}

// Topic returns the topic the subscription listens on.
func (s *Subscription) Topic() string { return s.topic }

// Close detaches the subscription from its hub.  It is safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub is the in-process topic router that connected clients subscribe to.
// Publish never blocks: a subscriber whose buffer is full misses the
// message.  Hub implements Publisher so it can serve as the transport on a
// single node.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	dropped atomic.Uint64
}

// NewHub returns an empty hub whose subscribers buffer up to buffer messages.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe attaches a new subscriber to topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	ch := make(chan []byte, h.buffer)
	s := &Subscription{C: ch, ch: ch, topic: topic, hub: h}
	h.mu.Lock()
	set, ok := h.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[topic] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.topic)
		}
	}
	close(s.ch)
}

// Publish hands payload to every current subscriber of topic.
func (h *Hub) Publish(_ context.Context, topic string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[topic] {
		select {
		case s.ch <- payload:
		default:
			h.dropped.Add(1)
			log.Debug().Str("module", "pubsub.hub").Str("topic", topic).Msg("subscriber buffer full, message dropped")
		}
	}
	return nil
}

// Subscribers returns how many subscribers topic currently has.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Dropped returns how many messages were discarded because a subscriber
// was too slow.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
