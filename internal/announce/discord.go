package announce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cryptic-hunt-service/internal/domain"
	"cryptic-hunt-service/internal/logging"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

const firstBloodColor = 0xb3001b

// MessageSender is the part of the Discord REST API the announcer needs.
type MessageSender interface {
	CreateMessage(channelID snowflake.ID, messageCreate discord.MessageCreate, opts ...rest.RequestOpt) (*discord.Message, error)
}

// Discord posts first-blood events to the guild's configured announcement
// channel. Other events and guilds without a channel are ignored. Publish only
// queues; Run performs the REST calls so a slow Discord never holds up a
// submission.
type Discord struct {
	sender  MessageSender
	log     *slog.Logger
	queue   chan domain.Event
	timeout time.Duration
}

const (
	queueSize   = 64
	sendTimeout = 10 * time.Second
)

var errQueueFull = errors.New("announcement queue full")

// NewDiscord builds an announcer that talks to Discord with a bot token.
func NewDiscord(token string, logger *slog.Logger) *Discord {
	return NewDiscordWithSender(rest.New(rest.NewClient(token)), logger)
}

func NewDiscordWithSender(sender MessageSender, logger *slog.Logger) *Discord {
	return &Discord{
		sender:  sender,
		log:     logging.OrDefault(logger),
		queue:   make(chan domain.Event, queueSize),
		timeout: sendTimeout,
	}
}

// Publish queues first-blood events that have an announcement channel.
func (d *Discord) Publish(_ context.Context, event domain.Event) error {
	if event.Type != domain.EventFirstBlood || event.AnnounceChannel == "" {
		return nil
	}
	select {
	case d.queue <- event:
		return nil
	default:
		d.log.Warn("dropping first blood announcement",
			slog.String("guild_id", event.GuildID),
			slog.Int("level_id", event.LevelID))
		return errQueueFull
	}
}

// Run sends queued announcements until ctx is done.
func (d *Discord) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.queue:
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			_ = d.Announce(sendCtx, event)
			cancel()
		}
	}
}

// Announce posts one first-blood event right away.
func (d *Discord) Announce(ctx context.Context, event domain.Event) error {
	channelID, err := snowflake.Parse(event.AnnounceChannel)
	if err != nil {
		return fmt.Errorf("announcement channel %q: %w", event.AnnounceChannel, err)
	}

	embed := discord.NewEmbedBuilder().
		SetTitle("🩸 First Blood!").
		SetDescription(fmt.Sprintf("**%s** was the first to solve level %d!", displayName(event), event.LevelID)).
		AddField("Bonus", fmt.Sprintf("+%d points", event.Bonus), true).
		AddField("Total", fmt.Sprintf("%d points", event.TotalPoints), true).
		SetColor(firstBloodColor).
		SetTimestamp(event.At).
		Build()

	if _, err := d.sender.CreateMessage(channelID, discord.MessageCreate{
		Embeds: []discord.Embed{embed},
	}, rest.WithCtx(ctx)); err != nil {
		d.log.Error("Failed to announce first blood",
			slog.String("guild_id", event.GuildID),
			slog.String("channel_id", event.AnnounceChannel),
			slog.String("error", err.Error()))
		return fmt.Errorf("announce first blood: %w", err)
	}
	return nil
}

func displayName(event domain.Event) string {
	if event.Username != "" {
		return event.Username
	}
	return "<@" + event.UserID + ">"
}
