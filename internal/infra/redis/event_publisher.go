package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cryptic-hunt-service/internal/domain"
	"cryptic-hunt-service/internal/logging"
	"github.com/redis/go-redis/v9"
)

// EventSink receives relayed events, typically the in-process hub.
type EventSink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// EventPublisher fans events out across service instances over Redis pub/sub.
// Events go to channel {prefix}{guildID} as JSON.
type EventPublisher struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
}

func NewEventPublisher(client *redis.Client, prefix string, logger *slog.Logger) *EventPublisher {
	if prefix == "" {
		prefix = "hunt:events:"
	}
	return &EventPublisher{client: client, prefix: prefix, log: logging.OrDefault(logger)}
}

func (p *EventPublisher) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.prefix+event.GuildID, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Relay forwards every guild's events from Redis into sink until ctx is done.
// ready, if not nil, is closed once the subscription is active.
func (p *EventPublisher) Relay(ctx context.Context, sink EventSink, ready chan<- struct{}) error {
	sub := p.client.PSubscribe(ctx, p.prefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				p.log.Warn("malformed event", slog.String("channel", msg.Channel), slog.Any("error", err))
				continue
			}
			if event.GuildID == "" {
				event.GuildID = strings.TrimPrefix(msg.Channel, p.prefix)
			}
			if err := sink.Publish(ctx, event); err != nil {
				p.log.Warn("relay event failed", slog.String("guild_id", event.GuildID), slog.Any("error", err))
			}
		}
	}
}
