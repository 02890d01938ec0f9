package stream

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil, quiet())
	client := hub.Register("session-1")
	defer hub.Unregister(client)

	payload := []byte("hello")
	hub.Broadcast("session-1", payload)

	select {
	case msg := <-client.Send:
		if string(msg) != "hello" {
			t.Fatalf("unexpected message")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
	}
}

func TestHubHelpers(t *testing.T) {
	ch := redisChannel("abc")
	if ch != "recording:abc:broadcast" {
		t.Fatalf("unexpected channel %q", ch)
	}
	if sessionIDFromChannel(ch) != "abc" {
		t.Fatalf("unexpected session id")
	}
	if sessionIDFromChannel("bad") != "" {
		t.Fatalf("expected empty session id")
	}
}

func TestUnregisterCloses(t *testing.T) {
	hub := NewHub(nil, quiet())
	client := hub.Register("session-2")
	hub.Unregister(client)
	_, ok := <-client.Send
	if ok {
		t.Fatalf("expected channel closed")
	}
}

func TestHubRedisBridgesInstances(t *testing.T) {
	s := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer clientA.Close()
	clientB := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer clientB.Close()

	hubA := NewHub(clientA, quiet())
	hubB := NewHub(clientB, quiet())

	wsA := hubA.Register("session-redis")
	defer hubA.Unregister(wsA)
	wsB := hubB.Register("session-redis")
	defer hubB.Unregister(wsB)

	// Give both pattern subscriptions a moment to come up.
	time.Sleep(50 * time.Millisecond)

	hubA.Broadcast("session-redis", []byte("ping"))

	select {
	case msg := <-wsA.Send:
		if string(msg) != "ping" {
			t.Fatalf("unexpected local message %q", msg)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for local delivery")
	}

	select {
	case msg := <-wsB.Send:
		if string(msg) != "ping" {
			t.Fatalf("unexpected bridged message %q", msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for bridged delivery")
	}

	// The origin instance must not see its own frame twice.
	select {
	case msg := <-wsA.Send:
		t.Fatalf("duplicate delivery %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubRedisDownStillDeliversLocally(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	server.Close()
	defer client.Close()

	hub := NewHub(client, quiet())
	ws := hub.Register("session-bad")
	defer hub.Unregister(ws)

	hub.Broadcast("session-bad", []byte("ping"))

	select {
	case msg := <-ws.Send:
		if string(msg) != "ping" {
			t.Fatalf("unexpected message %q", msg)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("local delivery lost when redis is down")
	}
}
