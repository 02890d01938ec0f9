// Package stream fans recorder events out to websocket observers, with an
// optional redis bridge so observers attached to another instance see the
// same session.
package stream

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Hub struct {
	id      string
	redis   *redis.Client
	log     *slog.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	SessionID string
	Send      chan []byte
}

func NewHub(redisClient *redis.Client, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		id:      uuid.NewString(),
		redis:   redisClient,
		log:     log,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionClients, ok := h.clients[client.SessionID]; ok {
		delete(sessionClients, client)
		if len(sessionClients) == 0 {
			delete(h.clients, client.SessionID)
		}
	}
	close(client.Send)
}

// Broadcast delivers to local observers immediately and mirrors the frame
// to redis for observers attached to other instances. Slow observers lose
// frames rather than stalling the caller.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.deliver(sessionID, payload)

	if h.redis != nil {
		// Frames carry the origin hub id so an instance skips its own
		// messages when they come back from redis.
		frame := append([]byte(h.id+"|"), payload...)
		err := h.redis.Publish(context.Background(), redisChannel(sessionID), frame).Err()
		if err != nil {
			h.log.Warn("redis publish failed", "channel", redisChannel(sessionID), "err", err)
		}
	}
}

// deliver sends under the read lock so no send can race Unregister's close.
func (h *Hub) deliver(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "recording:*:broadcast")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		origin, payload, ok := bytes.Cut([]byte(msg.Payload), []byte("|"))
		if !ok || string(origin) == h.id {
			continue
		}
		h.deliver(sessionIDFromChannel(msg.Channel), payload)
	}
}

func redisChannel(sessionID string) string {
	return "recording:" + sessionID + ":broadcast"
}

func sessionIDFromChannel(ch string) string {
	// recording:{session}:broadcast
	const prefix = "recording:"
	const suffix = ":broadcast"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
