package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(h *Hub, buffer int) *Client {
	return &Client{
		ID:     "test",
		Send:   make(chan Message, buffer),
		hub:    h,
		logger: zap.NewNop(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHub_RegisterReplaysLatest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(zap.NewNop())
	h.Broadcast(Message{Type: MessageSnapshot, Payload: "first"})
	go h.Run(ctx)

	c := newTestClient(h, 4)
	h.Register(c)

	select {
	case msg := <-c.Send:
		if msg.Type != MessageSnapshot {
			t.Errorf("expected replayed snapshot, got %q", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected latest message on register")
	}
}

func TestHub_Broadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count atomic.Int64
	h := NewHub(zap.NewNop())
	h.OnClientCount(func(n int) { count.Store(int64(n)) })
	go h.Run(ctx)

	a, b := newTestClient(h, 4), newTestClient(h, 4)
	h.Register(a)
	h.Register(b)
	waitFor(t, func() bool { return count.Load() == 2 })

	h.Broadcast(Message{Type: MessageSnapshot, Payload: 1})

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.Send:
			if msg.Timestamp.IsZero() {
				t.Error("expected timestamp to be set")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("expected broadcast to reach every client")
		}
	}

	waitFor(t, func() bool { return h.Stats().TotalMessages == 1 })
	stats := h.Stats()
	if stats.ActiveClients != 2 || stats.TotalConnections != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(zap.NewNop())
	go h.Run(ctx)

	slow := newTestClient(h, 1)
	h.Register(slow)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.Broadcast(Message{Type: MessageSnapshot, Payload: 1})
	h.Broadcast(Message{Type: MessageSnapshot, Payload: 2})

	waitFor(t, func() bool { return h.ClientCount() == 0 })
	if slow.TrySend(Message{Type: MessageHeartbeat}) {
		t.Error("expected dropped client to refuse sends")
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	h := NewHub(zap.NewNop())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	c := newTestClient(h, 1)
	h.Register(c)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	cancel()
	<-done

	if _, ok := <-c.Send; ok {
		t.Error("expected send channel to be closed")
	}

	// Registering after shutdown closes the client instead of blocking.
	late := newTestClient(h, 1)
	h.Register(late)
	if late.TrySend(Message{}) {
		t.Error("expected late client to be closed")
	}
	h.Unregister(late)
}
