package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func collect(t *testing.T, b Broker, topic string) (<-chan Message, Subscription) {
	t.Helper()
	out := make(chan Message, 16)
	sub, err := b.Subscribe(context.Background(), topic, func(ctx context.Context, msg Message) {
		out <- msg
	})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	return out, sub
}

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func testBroker(t *testing.T, b Broker) {
	ctx := context.Background()

	got, sub := collect(t, b, "agents.weather")
	other, _ := collect(t, b, "agents.finance")

	if err := b.Publish(ctx, "agents.weather", "corr-1", []byte(`{"q":"paris"}`)); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	msg := receive(t, got)
	if msg.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want %q", msg.CorrelationID, "corr-1")
	}
	if msg.Topic != "agents.weather" {
		t.Errorf("Topic = %q, want %q", msg.Topic, "agents.weather")
	}
	if string(msg.Payload) != `{"q":"paris"}` {
		t.Errorf("Payload = %q", msg.Payload)
	}

	select {
	case m := <-other:
		t.Errorf("finance subscriber received %+v", m)
	case <-time.After(50 * time.Millisecond):
	}

	if err := sub.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("broker Close() error: %v", err)
	}
	if err := b.Publish(ctx, "agents.weather", "corr-2", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() after Close = %v, want ErrClosed", err)
	}
}

func TestMemoryBroker(t *testing.T) {
	testBroker(t, NewMemory())
}

func TestRedisBroker(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedis(context.Background(), fmt.Sprintf("redis://%s", mr.Addr()), nil)
	if err != nil {
		t.Fatalf("NewRedis() error: %v", err)
	}
	testBroker(t, b)
}

func TestMemoryBroker_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	got, sub := collect(t, b, "replies")
	sub.Close()

	if n := b.Subscribers("replies"); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
	if err := b.Publish(context.Background(), "replies", "c", nil); err != nil {
		t.Errorf("Publish() to empty topic error: %v", err)
	}
	select {
	case m := <-got:
		t.Errorf("closed subscription received %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBroker_ContextEndsSubscription(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := b.Subscribe(ctx, "replies", func(context.Context, Message) {}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for b.Subscribers("replies") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not removed after context cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryBroker_PayloadCopied(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	got, _ := collect(t, b, "t")
	payload := []byte("abc")
	b.Publish(context.Background(), "t", "c", payload)
	payload[0] = 'x'

	if msg := receive(t, got); string(msg.Payload) != "abc" {
		t.Errorf("Payload = %q, want %q", msg.Payload, "abc")
	}
}
