package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisChannelPrefix namespaces broker channels.
const DefaultRedisChannelPrefix = "conductor:topic:"

// Redis is a broker over Redis pub/sub. Messages are JSON frames carrying
// the correlation id alongside the payload.
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

type redisSub struct {
	topic  string
	pubsub *redis.PubSub
	once   sync.Once
	done   chan struct{}
	broker *Redis
}

// NewRedis connects to redisURL and pings it.
func NewRedis(ctx context.Context, redisURL string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisFromClient(client, DefaultRedisChannelPrefix, logger), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string, logger *slog.Logger) *Redis {
	if prefix == "" {
		prefix = DefaultRedisChannelPrefix
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger,
		subs:   make(map[*redisSub]struct{}),
	}
}

// Publish implements Broker.
func (r *Redis) Publish(ctx context.Context, topic, correlationID string, payload []byte) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	frame, err := json.Marshal(Message{Topic: topic, CorrelationID: correlationID, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.Publish(ctx, r.prefix+topic, frame).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements Broker. It returns once Redis has confirmed the
// subscription, so a Publish issued afterwards is not lost.
func (r *Redis) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	ps := r.client.Subscribe(ctx, r.prefix+topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	s := &redisSub{topic: topic, pubsub: ps, done: make(chan struct{}), broker: r}
	r.mu.Lock()
	r.subs[s] = struct{}{}
	r.mu.Unlock()

	go s.run(ctx, handler)
	return s, nil
}

// Close closes every subscription and the client.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*redisSub, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return r.client.Close()
}

func (s *redisSub) run(ctx context.Context, handler Handler) {
	defer s.Close()
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				s.broker.logger.Warn("dropping undecodable broker frame", "topic", s.topic, "error", err)
				continue
			}
			msg.Topic = s.topic
			handler(ctx, msg)
		}
	}
}

func (s *redisSub) Topic() string { return s.topic }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
	})
	return err
}
