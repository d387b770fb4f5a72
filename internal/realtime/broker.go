// internal/realtime/broker.go
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trades-marketplace/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

// Broker fans events out to every API instance over a Redis channel. Each instance's
// subscriber hands them to its local Hub.
type Broker struct {
	redis   *redis.Client
	channel string
	hub     *Hub
	logger  logger.Logger
	now     func() time.Time
}

func NewBroker(rdb *redis.Client, channel string, hub *Hub, log logger.Logger) *Broker {
	return &Broker{redis: rdb, channel: channel, hub: hub, logger: log, now: time.Now}
}

// Publish sends an event to the given users on whichever instance holds their connections.
func (b *Broker) Publish(ctx context.Context, eventType, conversationID string, payload interface{}, recipients ...string) error {
	if len(recipients) == 0 {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	env := Envelope{
		Recipients: recipients,
		Frame: Frame{
			Type:           eventType,
			ConversationID: conversationID,
			Payload:        raw,
			SentAt:         b.now().UTC(),
		},
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", eventType, err)
	}
	if err := b.redis.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// Run subscribes to the channel and delivers to the local hub until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	sub := b.redis.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("realtime subscriber started", map[string]interface{}{"channel": b.channel})

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("dropping malformed realtime envelope", map[string]interface{}{"error": err.Error()})
				continue
			}
			b.hub.Deliver(env)
		}
	}
}
