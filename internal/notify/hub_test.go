package notify

import (
	"alcyxob/video-app/internal/logging"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

type recordingSub struct {
	mu       sync.Mutex
	payloads [][]byte
	full     bool
}

func (s *recordingSub) Send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.payloads = append(s.payloads, payload)
	return true
}

func (s *recordingSub) events(t *testing.T) []Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, 0, len(s.payloads))
	for _, p := range s.payloads {
		var env Envelope
		if err := json.Unmarshal(p, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func TestHubEmitWithoutSubscribers(t *testing.T) {
	hub := NewHub(logging.Discard())
	hub.Emit("nobody", EventProgress, map[string]any{"progress": 25})
	if n := hub.Connections("nobody"); n != 0 {
		t.Fatalf("expected no connections, got %d", n)
	}
}

func TestHubDeliversOnlyToJoinedAddress(t *testing.T) {
	hub := NewHub(logging.Discard())
	alice1, alice2, bob := &recordingSub{}, &recordingSub{}, &recordingSub{}
	hub.Attach("a1", alice1)
	hub.Attach("a2", alice2)
	hub.Attach("b1", bob)
	for connID, userID := range map[string]string{"a1": "alice", "a2": "alice", "b1": "bob"} {
		if err := hub.Join(connID, userID); err != nil {
			t.Fatalf("join %s: %v", connID, err)
		}
	}

	hub.Emit("alice", EventCompleted, map[string]any{"videoId": "v1"})

	if got := alice1.events(t); len(got) != 1 || got[0].Event != EventCompleted {
		t.Fatalf("alice1 got %+v", got)
	}
	if got := alice2.events(t); len(got) != 1 {
		t.Fatalf("alice2 got %+v", got)
	}
	if got := bob.events(t); len(got) != 0 {
		t.Fatalf("bob should receive nothing, got %+v", got)
	}
}

func TestHubJoinIsIdempotentAndMoves(t *testing.T) {
	hub := NewHub(logging.Discard())
	sub := &recordingSub{}
	hub.Attach("c1", sub)

	if err := hub.Join("c1", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := hub.Join("c1", "alice"); err != nil {
		t.Fatal(err)
	}
	if n := hub.Connections("alice"); n != 1 {
		t.Fatalf("repeated join should not duplicate, got %d", n)
	}

	if err := hub.Join("c1", "bob"); err != nil {
		t.Fatal(err)
	}
	if hub.Connections("alice") != 0 || hub.Connections("bob") != 1 {
		t.Fatal("join to a new address should move the connection")
	}
}

func TestHubLeave(t *testing.T) {
	hub := NewHub(logging.Discard())
	sub := &recordingSub{}
	hub.Attach("c1", sub)
	if err := hub.Join("c1", "alice"); err != nil {
		t.Fatal(err)
	}

	hub.Leave("c1")
	hub.Leave("c1")
	hub.Leave("never-joined")
	hub.Emit("alice", EventProgress, nil)

	if got := sub.events(t); len(got) != 0 {
		t.Fatalf("left connection received %+v", got)
	}
	if err := hub.Join("c1", "alice"); err != ErrUnknownConnection {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(logging.Discard())
	slow, fast := &recordingSub{full: true}, &recordingSub{}
	hub.Attach("slow", slow)
	hub.Attach("fast", fast)
	_ = hub.Join("slow", "alice")
	_ = hub.Join("fast", "alice")

	hub.Emit("alice", EventProgress, map[string]int{"progress": 50})

	if len(fast.events(t)) != 1 {
		t.Fatal("fast subscriber should still receive the event")
	}
}

func TestHubConcurrentEmitNoCrossDelivery(t *testing.T) {
	hub := NewHub(logging.Discard())
	const users = 8
	subs := make([]*recordingSub, users)
	for i := range subs {
		subs[i] = &recordingSub{}
		connID := fmt.Sprintf("c%d", i)
		hub.Attach(connID, subs[i])
		if err := hub.Join(connID, fmt.Sprintf("u%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				hub.Emit(fmt.Sprintf("u%d", i), EventProgress, map[string]int{"user": i})
			}
		}(i)
	}
	wg.Wait()

	for i, sub := range subs {
		events := sub.events(t)
		if len(events) != 50 {
			t.Fatalf("user %d got %d events", i, len(events))
		}
		for _, e := range events {
			data := e.Data.(map[string]any)
			if int(data["user"].(float64)) != i {
				t.Fatalf("user %d received event for %v", i, data["user"])
			}
		}
	}
}

func TestFanoutEmitsToAll(t *testing.T) {
	h1, h2 := NewHub(logging.Discard()), NewHub(logging.Discard())
	s1, s2 := &recordingSub{}, &recordingSub{}
	h1.Attach("c", s1)
	h2.Attach("c", s2)
	_ = h1.Join("c", "alice")
	_ = h2.Join("c", "alice")

	Fanout{h1, nil, h2}.Emit("alice", EventFailed, nil)

	if len(s1.events(t)) != 1 || len(s2.events(t)) != 1 {
		t.Fatal("fanout should reach every notifier")
	}
}

func TestRoutingKey(t *testing.T) {
	if got := RoutingKey(EventCompleted); got != "video.completed" {
		t.Fatalf("routing key = %q", got)
	}
}
