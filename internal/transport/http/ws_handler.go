package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"cryptic-hunt-service/internal/app"
	"cryptic-hunt-service/internal/auth"
	"cryptic-hunt-service/internal/domain"
	"cryptic-hunt-service/internal/logging"
	"github.com/gorilla/websocket"
)

// EventSource streams a guild's events.
type EventSource interface {
	Subscribe(guildID string) (<-chan domain.Event, func())
}

// TokenVerifier turns a bearer token into the caller it was issued to.
type TokenVerifier interface {
	Verify(raw string) (auth.Identity, error)
}

// WSHandler is the command gateway: one websocket per participant of a guild.
// It forwards commands to the hunt service and streams the guild's events.
//
// Player identity may come from the query string. Administrative commands are
// only accepted on connections that presented a valid token, and those take
// guild and user from the token, not the query.
type WSHandler struct {
	service  *app.HuntService
	events   EventSource
	tokens   TokenVerifier
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.HuntService, events EventSource, tokens TokenVerifier, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		events:  events,
		tokens:  tokens,
		log:     logging.OrDefault(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type answerPayload struct {
	Answer string `json:"answer"`
}

type setupPayload struct {
	Hunt json.RawMessage `json:"hunt"`
}

type userPayload struct {
	UserID string `json:"userId"`
}

type pointsPayload struct {
	UserID string `json:"userId"`
	Delta  int    `json:"delta"`
}

type channelPayload struct {
	ChannelID string `json:"channelId"`
}

type levelPayload struct {
	LevelID int `json:"levelId"`
}

type changedResult struct {
	Changed bool `json:"changed"`
}

type hintResult struct {
	Hint string `json:"hint"`
}

type firstBloodResult struct {
	Claimed bool              `json:"claimed"`
	Record  domain.FirstBlood `json:"record"`
}

// caller identifies who sent a command.
type caller struct {
	guildID       string
	userID        string
	username      string
	authenticated bool
}

// adminCommands need an authenticated connection.
var adminCommands = map[string]bool{
	"setup":              true,
	"delete":             true,
	"end":                true,
	"pause":              true,
	"resume":             true,
	"kick":               true,
	"points":             true,
	"firstblood-channel": true,
	"answers":            true,
}

// identify resolves the caller from the token, if any, and the query string.
func (h *WSHandler) identify(r *http.Request) (caller, int, error) {
	q := r.URL.Query()
	who := caller{
		guildID:  q.Get("guildId"),
		userID:   q.Get("userId"),
		username: q.Get("name"),
	}
	if raw := bearerToken(r); raw != "" {
		if h.tokens == nil {
			return caller{}, http.StatusUnauthorized, errUnauthenticated
		}
		id, err := h.tokens.Verify(raw)
		if err != nil {
			h.log.Info("rejected gateway token", slog.Any("error", err))
			return caller{}, http.StatusUnauthorized, errUnauthenticated
		}
		if (who.guildID != "" && who.guildID != id.GuildID) || (who.userID != "" && who.userID != id.UserID) {
			return caller{}, http.StatusForbidden, errors.New("token does not match guildId or userId")
		}
		who.guildID, who.userID, who.authenticated = id.GuildID, id.UserID, true
	}
	if who.guildID == "" || who.userID == "" || who.username == "" {
		return caller{}, http.StatusBadRequest, errors.New("missing guildId, userId, or name")
	}
	return who, http.StatusOK, nil
}

// bearerToken reads the Authorization header, falling back to the token query
// parameter for browser clients that cannot set headers on a websocket.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// ServeWS upgrades HTTP requests to websockets and wires them into the hunt use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	who, status, err := h.identify(r)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	updates, cancel := h.events.Subscribe(who.guildID)
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// single writer goroutine; gorilla connections do not allow concurrent writes
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", slog.Any("error", err))
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "event", Payload: event}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "connected", Payload: map[string]any{
		"guildId":       who.guildID,
		"userId":        who.userID,
		"authenticated": who.authenticated,
	}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		result, err := h.dispatch(r.Context(), who, inbound)
		if err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: h.errorPayload(who, inbound.Type, err)}
			continue
		}
		send <- outboundMessage[any]{Type: inbound.Type + "Result", Payload: result}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

var errBadPayload = errors.New("invalid payload")
var errUnsupported = errors.New("unsupported message type")
var errUnauthenticated = errors.New("authentication required")

func (h *WSHandler) dispatch(ctx context.Context, who caller, msg inboundMessage) (any, error) {
	if adminCommands[msg.Type] && !who.authenticated {
		return nil, errUnauthenticated
	}
	svc := h.service
	switch msg.Type {
	case "answer":
		var p answerPayload
		if err := decode(msg.Payload, &p); err != nil {
			return nil, err
		}
		return svc.Submit(ctx, app.Submission{GuildID: who.guildID, UserID: who.userID, Username: who.username, Answer: p.Answer})
	case "hunt":
		return svc.CurrentLevel(ctx, who.guildID, who.userID)
	case "progress":
		return svc.Progress(ctx, who.guildID, who.userID)
	case "previous":
		return svc.Previous(ctx, who.guildID, who.userID)
	case "leaderboard":
		return svc.Leaderboard(ctx, who.guildID)
	case "hint":
		hint, err := svc.Hint(ctx, who.guildID, who.userID)
		return hintResult{Hint: hint}, err
	case "status":
		return svc.Status(ctx, who.guildID)
	case "firstblood":
		var p levelPayload
		if err := decode(msg.Payload, &p); err != nil {
			return nil, err
		}
		record, ok, err := svc.FirstBlood(ctx, who.guildID, p.LevelID)
		return firstBloodResult{Claimed: ok, Record: record}, err
	case "setup":
		var p setupPayload
		if err := decode(msg.Payload, &p); err != nil {
			return nil, err
		}
		def, err := domain.ParseHuntDefinition(p.Hunt)
		if err != nil {
			return nil, err
		}
		hunt, err := svc.CreateHunt(ctx, who.guildID, who.userID, def)
		if err != nil {
			return nil, err
		}
		return svc.Status(ctx, hunt.GuildID)
	case "delete":
		return changedResult{Changed: true}, svc.DeleteHunt(ctx, who.guildID, who.userID)
	case "end":
		return svc.EndHunt(ctx, who.guildID, who.userID)
	case "pause":
		changed, err := svc.Pause(ctx, who.guildID, who.userID)
		return changedResult{Changed: changed}, err
	case "resume":
		changed, err := svc.Resume(ctx, who.guildID, who.userID)
		return changedResult{Changed: changed}, err
	case "kick":
		var p userPayload
		if err := decode(msg.Payload, &p); err != nil {
			return nil, err
		}
		return svc.Kick(ctx, who.guildID, who.userID, p.UserID)
	case "points":
		var p pointsPayload
		if err := decode(msg.Payload, &p); err != nil {
			return nil, err
		}
		progress, err := svc.AdjustPoints(ctx, who.guildID, who.userID, p.UserID, p.Delta)
		return map[string]int{"points": progress.Points, "level": progress.Level}, err
	case "answers":
		return svc.Answers(ctx, who.guildID, who.userID)
	case "firstblood-channel":
		var p channelPayload
		if err := decode(msg.Payload, &p); err != nil {
			return nil, err
		}
		return changedResult{Changed: true}, svc.SetAnnouncementChannel(ctx, who.guildID, who.userID, p.ChannelID)
	default:
		return nil, errUnsupported
	}
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errBadPayload
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errBadPayload
	}
	return nil
}

var errorCodes = []struct {
	err  error
	code string
}{
	{domain.ErrNoActiveHunt, "no_hunt"},
	{domain.ErrHuntPaused, "paused"},
	{domain.ErrAllLevelsCompleted, "completed"},
	{domain.ErrNotPermitted, "forbidden"},
	{domain.ErrProgressNotFound, "not_found"},
	{domain.ErrNotRanked, "not_ranked"},
	{domain.ErrNoHint, "no_hint"},
	{domain.ErrProgressNotSaved, "not_saved"},
	{errUnauthenticated, "unauthenticated"},
	{errBadPayload, "bad_request"},
	{errUnsupported, "unsupported"},
}

func (h *WSHandler) errorPayload(who caller, msgType string, err error) errorPayload {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return errorPayload{Code: "invalid_hunt", Message: err.Error()}
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			if c.code == "not_saved" {
				h.log.Warn("command not saved", slog.String("guild_id", who.guildID), slog.String("type", msgType), slog.Any("error", err))
			}
			return errorPayload{Code: c.code, Message: c.err.Error()}
		}
	}
	h.log.Error("command failed",
		slog.String("guild_id", who.guildID),
		slog.String("user_id", who.userID),
		slog.String("type", msgType),
		slog.Any("error", err))
	return errorPayload{Code: "internal", Message: "something went wrong"}
}
