package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultPublishTimeout bounds a single transport call made by Fanout.
	DefaultPublishTimeout = 3 * time.Second
	// DefaultQueueSize is how many encoded messages may wait for the
	// transport before Fanout starts dropping.
	DefaultQueueSize = 1024
)

type message struct {
	topic string
	body  []byte
}

// Fanout is the fire-and-forget front of a Publisher.  Payloads are encoded
// on the caller's goroutine and queued for a single sender goroutine, so
// messages reach the transport in the order Publish was called.  A full
// queue drops the message; transport failures are logged and never
// reported back, so a lost notification can not undo the write that
// produced it.
type Fanout struct {
	pub     Publisher
	timeout time.Duration
	queue   chan message

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	done    chan struct{}
	dropped atomic.Uint64
}

// NewFanout wraps pub with a queue of DefaultQueueSize.  A non-positive
// timeout selects DefaultPublishTimeout.
func NewFanout(pub Publisher, timeout time.Duration) *Fanout {
	return NewFanoutSize(pub, timeout, DefaultQueueSize)
}

// NewFanoutSize is NewFanout with an explicit queue size.
func NewFanoutSize(pub Publisher, timeout time.Duration, size int) *Fanout {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	f := &Fanout{pub: pub, timeout: timeout, queue: make(chan message, size), done: make(chan struct{})}
	go f.run()
	return f
}

// Publish queues payload for topic and returns immediately.  []byte and
// string payloads are sent as is, anything else is JSON encoded.
func (f *Fanout) Publish(topic string, payload any) {
	body, err := encode(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "pubsub.fanout").Str("topic", topic).Msg("encode payload")
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		log.Warn().Str("module", "pubsub.fanout").Str("topic", topic).Msg("publish after close")
		return
	}
	f.pending.Add(1)
	select {
	case f.queue <- message{topic: topic, body: body}:
	default:
		f.pending.Done()
		f.dropped.Add(1)
		log.Warn().Str("module", "pubsub.fanout").Str("topic", topic).Msg("queue full, notification dropped")
	}
}

// Dropped returns how many messages were discarded on a full queue.
func (f *Fanout) Dropped() uint64 { return f.dropped.Load() }

// Wait blocks until every queued message has been handed to the transport.
func (f *Fanout) Wait() { f.pending.Wait() }

// Close drains the queue and stops the sender.  Later Publish calls are
// discarded.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()
	<-f.done
}

func (f *Fanout) run() {
	defer close(f.done)
	for msg := range f.queue {
		f.send(msg)
		f.pending.Done()
	}
}

func (f *Fanout) send(msg message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("module", "pubsub.fanout").Str("topic", msg.topic).Msg("publisher panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := f.pub.Publish(ctx, msg.topic, msg.body); err != nil {
		log.Warn().Err(err).Str("module", "pubsub.fanout").Str("topic", msg.topic).Msg("publish failed")
	}
}

func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return json.Marshal(payload)
	}
}
