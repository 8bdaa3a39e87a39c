package memory

import (
	"context"
	"sync"

	"cryptic-hunt-service/internal/domain"
)

// subscriberBuffer is the per-subscriber backlog before old events are dropped.
const subscriberBuffer = 16

// EventHub broadcasts events to in-process subscribers of a guild.
type EventHub struct {
	mu     sync.Mutex
	guilds map[string]map[chan domain.Event]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{guilds: make(map[string]map[chan domain.Event]struct{})}
}

// Subscribe returns a channel receiving the guild's events.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *EventHub) Subscribe(guildID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)

	h.mu.Lock()
	subs, ok := h.guilds[guildID]
	if !ok {
		subs = make(map[chan domain.Event]struct{})
		h.guilds[guildID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.guilds[guildID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.guilds, guildID)
		}
	}
	return ch, cancel
}

// Publish delivers event to every subscriber of its guild without blocking.
// A subscriber whose buffer is full loses its oldest pending event.
func (h *EventHub) Publish(_ context.Context, event domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.guilds[event.GuildID] {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
	return nil
}

// Subscribers reports how many subscribers a guild has.
func (h *EventHub) Subscribers(guildID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.guilds[guildID])
}
