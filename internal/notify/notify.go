// Package notify publishes scheduling changes so the content layer and the
// front end can refresh caches.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Change types.
const (
	EventCreated     = "event.created"
	EventDuplicated  = "event.duplicated"
	EventRecomputed  = "event.recomputed"
	ShowtimesCreated = "showtimes.created"
	InventoryUpdated = "inventory.updated"
)

// Message is the envelope written to the channel.
type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Publisher emits change messages. Publishing is best effort; callers log
// failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, msgType string, payload any) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// Redis publishes JSON envelopes on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis connects to addr. The connection is lazy; the first Publish
// surfaces connection errors.
func NewRedis(addr, channel string) *Redis {
	if channel == "" {
		channel = "showsched"
	}
	return &Redis{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
	}
}

func (r *Redis) Publish(ctx context.Context, msgType string, payload any) error {
	data, err := json.Marshal(newMessage(msgType, payload))
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", msgType, err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("notify: publish %s: %w", msgType, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func newMessage(msgType string, payload any) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Recorder keeps messages in memory. Tests use it to assert on what the
// engine announced.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Publish(_ context.Context, msgType string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, newMessage(msgType, payload))
	return nil
}

// Types returns the recorded message types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Type)
	}
	return out
}
