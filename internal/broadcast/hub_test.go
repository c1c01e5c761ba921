package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const testFlushEvery = 100 * time.Millisecond

func newTestHub(t *testing.T) (*Hub, *clockwork.FakeClock, context.CancelFunc) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	hub := NewHub(testFlushEvery, clock, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	// Wait until Run has created its ticker before advancing the clock.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("hub ticker never started: %v", err)
	}

	return hub, clock, cancel
}

func newTestClient(hub *Hub, buffer int) *Client {
	return &Client{
		hub:      hub,
		send:     make(chan []byte, buffer),
		connID:   "test-conn",
		identity: "tester",
		logger:   zap.NewNop(),
	}
}

func connect(t *testing.T, hub *Hub, client *Client) {
	t.Helper()
	before := hub.ClientCount()
	hub.register <- client
	waitFor(t, func() bool { return hub.ClientCount() == before+1 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func recvEvent(t *testing.T, client *Client) Event {
	t.Helper()
	select {
	case payload, ok := <-client.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return Event{}
}

func TestConnectAckGoesToNewClientOnly(t *testing.T) {
	hub, _, cancel := newTestHub(t)
	defer cancel()

	first := newTestClient(hub, 16)
	connect(t, hub, first)

	if ev := recvEvent(t, first); ev.Name != "connect_response" {
		t.Fatalf("expected connect_response, got %q", ev.Name)
	}

	second := newTestClient(hub, 16)
	connect(t, hub, second)

	if ev := recvEvent(t, second); ev.Name != "connect_response" {
		t.Fatalf("expected connect_response, got %q", ev.Name)
	}

	// The first client must not see the second client's ack.
	select {
	case payload := <-first.send:
		t.Fatalf("unexpected message to first client: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFlushDropsBatchWithoutClients(t *testing.T) {
	hub, clock, cancel := newTestHub(t)
	defer cancel()

	hub.Submit(Event{Name: "feed_update"})
	hub.Submit(Event{Name: "like_update"})

	if got := hub.PendingLen(); got != 2 {
		t.Fatalf("expected 2 pending events, got %d", got)
	}

	clock.Advance(testFlushEvery)
	waitFor(t, func() bool { return hub.PendingLen() == 0 })
}

func TestFlushDeliversInSubmissionOrder(t *testing.T) {
	hub, clock, cancel := newTestHub(t)
	defer cancel()

	a := newTestClient(hub, 16)
	b := newTestClient(hub, 16)
	connect(t, hub, a)
	connect(t, hub, b)
	recvEvent(t, a) // acks
	recvEvent(t, b)

	names := []string{"feed_update", "like_update", "comment_update"}
	for _, name := range names {
		hub.Submit(Event{Name: name, Data: json.RawMessage(`{"post_id":1}`)})
	}

	clock.Advance(testFlushEvery)

	for _, client := range []*Client{a, b} {
		for _, want := range names {
			if ev := recvEvent(t, client); ev.Name != want {
				t.Errorf("expected %q, got %q", want, ev.Name)
			}
		}
	}

	if hub.PendingLen() != 0 {
		t.Errorf("queue not drained after flush")
	}
}

func TestCrossBatchOrderingIsFIFO(t *testing.T) {
	hub, clock, cancel := newTestHub(t)
	defer cancel()

	client := newTestClient(hub, 16)
	connect(t, hub, client)
	recvEvent(t, client)

	hub.Submit(Event{Name: "first"})
	clock.Advance(testFlushEvery)
	if ev := recvEvent(t, client); ev.Name != "first" {
		t.Fatalf("expected first, got %q", ev.Name)
	}

	hub.Submit(Event{Name: "second"})
	clock.Advance(testFlushEvery)
	if ev := recvEvent(t, client); ev.Name != "second" {
		t.Fatalf("expected second, got %q", ev.Name)
	}
}

func TestSlowClientDoesNotAbortBatch(t *testing.T) {
	hub, clock, cancel := newTestHub(t)
	defer cancel()

	slow := newTestClient(hub, 1)
	healthy := newTestClient(hub, 16)
	connect(t, hub, slow)
	connect(t, hub, healthy)
	recvEvent(t, healthy)
	// The slow client never drains; its single-slot buffer still holds
	// the ack, so the next delivery overflows it.

	hub.Submit(Event{Name: "feed_update"})
	clock.Advance(testFlushEvery)

	if ev := recvEvent(t, healthy); ev.Name != "feed_update" {
		t.Fatalf("healthy client missed the event, got %q", ev.Name)
	}
	waitFor(t, func() bool { return hub.ClientCount() == 1 })
}

func TestConcurrentSubmitsAllDelivered(t *testing.T) {
	hub, clock, cancel := newTestHub(t)
	defer cancel()

	client := newTestClient(hub, 256)
	connect(t, hub, client)
	recvEvent(t, client)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Submit(Event{Name: "feed_update"})
		}()
	}
	wg.Wait()

	clock.Advance(testFlushEvery)
	waitFor(t, func() bool { return hub.PendingLen() == 0 })

	received := 0
	timeout := time.After(2 * time.Second)
	for received < n {
		select {
		case <-client.send:
			received++
		case <-timeout:
			t.Fatalf("received %d of %d events", received, n)
		}
	}
}
