// Package bus is the in-process fan-out topic decoupling webhook
// acknowledgement from slow model inference. Each published event is
// delivered to exactly one subscriber worker per topic.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus closed")

// Handler consumes one delivered event.
type Handler func(ctx context.Context, payload []byte)

// Bus routes JSON-encoded events from publishers to per-topic worker
// pools.
type Bus struct {
	mu     sync.Mutex
	topics map[string]chan []byte
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	log    *logrus.Logger
}

// New creates a bus. Close drains workers before returning.
func New(log *logrus.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		topics: make(map[string]chan []byte),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// Subscribe starts workers consuming the topic. Each event goes to one
// worker; ordering is per-worker only.
func (b *Bus) Subscribe(topic string, workers int, handler Handler) {
	ch := b.channel(topic)
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				select {
				case <-b.ctx.Done():
					return
				case payload, ok := <-ch:
					if !ok {
						return
					}
					handler(b.ctx, payload)
				}
			}
		}()
	}
}

// Publish JSON-encodes v onto the topic, blocking while the buffer is
// full so bursts apply backpressure instead of dropping events.
func (b *Bus) Publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	ch := b.channelLocked(topic)
	b.mu.Unlock()

	select {
	case ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return ErrClosed
	}
}

// Close stops delivery and waits for in-flight handlers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}

func (b *Bus) channel(topic string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channelLocked(topic)
}

func (b *Bus) channelLocked(topic string) chan []byte {
	ch, ok := b.topics[topic]
	if !ok {
		ch = make(chan []byte, 64)
		b.topics[topic] = ch
	}
	return ch
}
