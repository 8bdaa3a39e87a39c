package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names what happened in a guild's hunt.
type EventType string

const (
	EventLevelCompleted    EventType = "level_completed"
	EventHuntCompleted     EventType = "hunt_completed"
	EventFirstBlood        EventType = "first_blood"
	EventHuntCreated       EventType = "hunt_created"
	EventHuntDeleted       EventType = "hunt_deleted"
	EventHuntEnded         EventType = "hunt_ended"
	EventHuntPaused        EventType = "hunt_paused"
	EventHuntResumed       EventType = "hunt_resumed"
	EventParticipantKicked EventType = "participant_kicked"
)

// Event is handed to the presentation layer. AnnounceChannel is only set for
// first-blood events of guilds that configured an announcement channel.
type Event struct {
	ID              string    `json:"id"`
	Type            EventType `json:"type"`
	GuildID         string    `json:"guildId"`
	UserID          string    `json:"userId,omitempty"`
	Username        string    `json:"username,omitempty"`
	LevelID         int       `json:"levelId,omitempty"`
	PointsEarned    int       `json:"pointsEarned,omitempty"`
	Bonus           int       `json:"bonus,omitempty"`
	TotalPoints     int       `json:"totalPoints,omitempty"`
	AnnounceChannel string    `json:"announceChannel,omitempty"`
	At              time.Time `json:"at"`
}

// NewEvent stamps an event with a fresh id.
func NewEvent(typ EventType, guildID string, at time.Time) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    typ,
		GuildID: guildID,
		At:      at,
	}
}
