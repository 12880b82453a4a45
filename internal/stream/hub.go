package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "workout:"
	channelSuffix  = ":live"
	channelPattern = channelPrefix + "*" + channelSuffix

	subscribeTimeout = 2 * time.Second
)

// Hub fans live workout fixes out to websocket viewers. With redis the
// fan-out crosses API instances: every broadcast is published and each
// instance delivers what it receives to its own viewers.
type Hub struct {
	redis   *redis.Client
	pubsub  *redis.PubSub
	logger  log.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	WorkoutID string
	Send      chan []byte
}

func NewHub(redisClient *redis.Client, logger log.Logger) *Hub {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	h := &Hub{
		redis:   redisClient,
		logger:  logger,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
		defer cancel()
		pubsub := redisClient.PSubscribe(ctx, channelPattern)
		if _, err := pubsub.Receive(ctx); err != nil {
			level.Warn(logger).Log("msg", "redis subscribe failed, live stream is local only", "err", err)
			_ = pubsub.Close()
		} else {
			h.pubsub = pubsub
			go h.forward(pubsub.Channel())
		}
	}
	return h
}

func (h *Hub) Register(workoutID string) *Client {
	client := &Client{
		WorkoutID: workoutID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[workoutID] == nil {
		h.clients[workoutID] = map[*Client]struct{}{}
	}
	h.clients[workoutID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if workoutClients, ok := h.clients[client.WorkoutID]; ok {
		if _, ok := workoutClients[client]; !ok {
			return
		}
		delete(workoutClients, client)
		if len(workoutClients) == 0 {
			delete(h.clients, client.WorkoutID)
		}
		close(client.Send)
	}
}

// Broadcast publishes payload to every viewer of workoutID. Slow viewers
// drop messages rather than block the publisher.
func (h *Hub) Broadcast(workoutID string, payload []byte) {
	if h.pubsub != nil {
		err := h.redis.Publish(context.Background(), redisChannel(workoutID), payload).Err()
		if err == nil {
			return
		}
		level.Warn(h.logger).Log("msg", "redis publish failed, delivering locally", "workout", workoutID, "err", err)
	}
	h.deliver(workoutID, payload)
}

// Close stops the redis subscription.
func (h *Hub) Close() error {
	if h.pubsub == nil {
		return nil
	}
	return h.pubsub.Close()
}

func (h *Hub) deliver(workoutID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[workoutID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) forward(messages <-chan *redis.Message) {
	for msg := range messages {
		workoutID := workoutIDFromChannel(msg.Channel)
		if workoutID == "" {
			continue
		}
		h.deliver(workoutID, []byte(msg.Payload))
	}
}

func redisChannel(workoutID string) string {
	return channelPrefix + workoutID + channelSuffix
}

func workoutIDFromChannel(ch string) string {
	// workout:{id}:live
	if len(ch) <= len(channelPrefix)+len(channelSuffix) ||
		!strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
