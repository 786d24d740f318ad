package services

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ogirardi/vigil/internal/core/domain"
)

type EventType string

const (
	EventTypeStatus     EventType = "status"
	EventTypeNewMessage EventType = "new_message"
)

// BroadcastChannel is the well-known bus key for global proactive messages.
const BroadcastChannel = "__broadcast__"

// Event is one bus message, keyed by session id or BroadcastChannel.
type Event struct {
	Key       string
	Type      EventType
	Data      string // JSON payload or raw text
	Timestamp int64
}

// EventBus is the delivery output port of the proactive layer: heartbeat
// replies and scheduled-task results are published here, keeping the loops
// themselves free of transport concerns.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel receiving events for the given key and an
// unsubscribe function that closes it.
func (b *EventBus) Subscribe(key string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // buffer so publishers never block
	b.subs[key] = append(b.subs[key], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[key]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[key] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[key]) == 0 {
			delete(b.subs, key)
		}
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of its key.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.Key] {
		select {
		case ch <- e:
		default:
			// Full channel: drop rather than block the publisher.
			b.logger.Warn("event bus channel full, dropping event", "key", e.Key)
		}
	}
}

// PublishMessage publishes a proactive message on the session key and the
// broadcast channel.
func (b *EventBus) PublishMessage(sessionID domain.SessionID, channelID, source, content string) {
	now := time.Now().UnixMilli()
	payload, _ := json.Marshal(map[string]interface{}{
		"session_id": string(sessionID),
		"channel_id": channelID,
		"source":     source,
		"content":    content,
		"timestamp":  now,
	})

	for _, key := range []string{string(sessionID), BroadcastChannel} {
		b.Publish(Event{
			Key:       key,
			Type:      EventTypeNewMessage,
			Data:      string(payload),
			Timestamp: now,
		})
	}
}
