package stream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func expectMessage(t *testing.T, client *Client, want string) {
	t.Helper()
	select {
	case msg := <-client.Send:
		if string(msg) != want {
			t.Fatalf("unexpected message %q, want %q", msg, want)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func expectSilence(t *testing.T, client *Client) {
	t.Helper()
	select {
	case msg := <-client.Send:
		t.Fatalf("unexpected extra message %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil, nil)
	client := hub.Register("workout-1")
	defer hub.Unregister(client)
	other := hub.Register("workout-2")
	defer hub.Unregister(other)

	hub.Broadcast("workout-1", []byte("hello"))

	expectMessage(t, client, "hello")
	expectSilence(t, other)
}

func TestHubHelpers(t *testing.T) {
	ch := redisChannel("abc")
	if ch != "workout:abc:live" {
		t.Fatalf("unexpected channel %q", ch)
	}
	if workoutIDFromChannel(ch) != "abc" {
		t.Fatalf("unexpected workout id")
	}
	for _, bad := range []string{"bad", "workout::live", "tracking:abc:broadcast"} {
		if workoutIDFromChannel(bad) != "" {
			t.Fatalf("expected empty workout id for %q", bad)
		}
	}
}

func TestUnregisterClosesOnce(t *testing.T) {
	hub := NewHub(nil, nil)
	client := hub.Register("workout-2")
	hub.Unregister(client)
	hub.Unregister(client)
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected channel closed")
	}
	hub.Broadcast("workout-2", []byte("late"))
}

func TestHubSlowViewerDropsMessages(t *testing.T) {
	hub := NewHub(nil, nil)
	client := hub.Register("workout-3")
	defer hub.Unregister(client)

	for i := 0; i < cap(client.Send)+10; i++ {
		hub.Broadcast("workout-3", []byte("fix"))
	}
	if len(client.Send) != cap(client.Send) {
		t.Fatalf("expected a full buffer, got %d", len(client.Send))
	}
}

func TestHubRedisFanOut(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	hub := NewHub(client, nil)
	defer hub.Close()
	viewer := hub.Register("workout-redis")
	defer hub.Unregister(viewer)

	hub.Broadcast("workout-redis", []byte("ping"))
	expectMessage(t, viewer, "ping")
	expectSilence(t, viewer)

	// a fix published by another API instance
	if err := client.Publish(context.Background(), "workout:workout-redis:live", "pong").Err(); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	expectMessage(t, viewer, "pong")
}

func TestHubRedisUnavailableFallsBackToLocal(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	server.Close()
	defer client.Close()

	hub := NewHub(client, nil)
	defer hub.Close()
	viewer := hub.Register("workout-bad")
	defer hub.Unregister(viewer)

	hub.Broadcast("workout-bad", []byte("ping"))
	expectMessage(t, viewer, "ping")
}
