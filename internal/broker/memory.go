package broker

import (
	"context"
	"sync"
)

// DefaultBufferSize is the per-subscription queue length.
const DefaultBufferSize = 256

// Memory is an in-process broker. Each subscription gets its own buffered
// queue and delivery goroutine, so Publish never runs handlers inline.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
	buffer int
}

type memorySub struct {
	topic   string
	ch      chan Message
	done    chan struct{}
	once    sync.Once
	broker  *Memory
	handler Handler
}

// NewMemory creates an in-process broker.
func NewMemory() *Memory {
	return &Memory{
		subs:   make(map[string]map[*memorySub]struct{}),
		buffer: DefaultBufferSize,
	}
}

// Publish delivers the message to every subscriber of topic. A message to a
// topic nobody subscribes to is dropped, as with any pub/sub transport.
func (m *Memory) Publish(ctx context.Context, topic, correlationID string, payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*memorySub, 0, len(m.subs[topic]))
	for s := range m.subs[topic] {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	msg := Message{Topic: topic, CorrelationID: correlationID, Payload: append([]byte(nil), payload...)}
	for _, s := range targets {
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers handler for topic. Delivery stops when ctx ends or
// the subscription is closed.
func (m *Memory) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	s := &memorySub{
		topic:   topic,
		ch:      make(chan Message, m.buffer),
		done:    make(chan struct{}),
		broker:  m,
		handler: handler,
	}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[*memorySub]struct{})
	}
	m.subs[topic][s] = struct{}{}

	go s.run(ctx)
	return s, nil
}

// Subscribers returns how many subscriptions exist for topic.
func (m *Memory) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

// Close closes every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []*memorySub
	for _, set := range m.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	return nil
}

func (m *Memory) remove(s *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.subs[s.topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(m.subs, s.topic)
		}
	}
}

func (s *memorySub) run(ctx context.Context) {
	defer s.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg := <-s.ch:
			s.handler(ctx, msg)
		}
	}
}

func (s *memorySub) Topic() string { return s.topic }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.broker.remove(s)
	})
	return nil
}
