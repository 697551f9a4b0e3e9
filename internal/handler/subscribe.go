package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/meeting-sync/internal/pubsub"
	"github.com/iliyamo/meeting-sync/internal/queue"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxTopics  = 16
)

// ParticipantChecker answers whether a user may follow a room's topic.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, roomNo, userID uint64) (bool, error)
}

// SubscribeHandler upgrades GET /v1/ws to a WebSocket that streams every
// message published on the requested topics.  A user may follow their own
// notifications/ and calendar/ topics and the room/ topic of any room they
// participate in.
type SubscribeHandler struct {
	Hub      *pubsub.Hub
	Rooms    ParticipantChecker
	upgrader websocket.Upgrader
}

// NewSubscribeHandler returns a handler attached to hub.
func NewSubscribeHandler(hub *pubsub.Hub, rooms ParticipantChecker) *SubscribeHandler {
	if hub == nil || rooms == nil {
		panic("nil dependency passed to NewSubscribeHandler")
	}
	return &SubscribeHandler{
		Hub:   hub,
		Rooms: rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// envelope is what a client receives; Payload is the published body.
type envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// authorize reports whether uid may follow topic.
func (h *SubscribeHandler) authorize(ctx context.Context, uid uint64, topic string) (bool, error) {
	prefix, id, ok := pubsub.ParseTopic(topic)
	if !ok {
		return false, nil
	}
	switch prefix {
	case pubsub.PrefixNotifications, pubsub.PrefixCalendar:
		return id == uid, nil
	case pubsub.PrefixRoom:
		return h.Rooms.IsParticipant(ctx, id, uid)
	}
	return false, nil
}

// Subscribe handles GET /v1/ws?topic=...&topic=...
func (h *SubscribeHandler) Subscribe(c echo.Context) error {
	uid, ok, err := currentUser(c)
	if !ok {
		return err
	}
	topics := uniqueTopics(c.QueryParams()["topic"])
	if len(topics) == 0 || len(topics) > maxTopics {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "between 1 and 16 topics required"})
	}
	for _, t := range topics {
		allowed, err := h.authorize(c.Request().Context(), uid, t)
		if err != nil {
			return writeError(c, err)
		}
		if !allowed {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "topic": t})
		}
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "handler.ws").Msg("upgrade failed")
		return nil // the upgrader already wrote the response
	}

	subs := make([]*pubsub.Subscription, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, h.Hub.Subscribe(t))
	}
	log.Info().Str("module", "handler.ws").Uint64("user", uid).Strs("topics", topics).Msg("subscriber connected")

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan envelope, pubsub.DefaultBuffer)
	var wg sync.WaitGroup
	for _, s := range subs {
		var allow gate
		if prefix, roomNo, _ := pubsub.ParseTopic(s.Topic()); prefix == pubsub.PrefixRoom {
			allow = h.roomGate(uid, roomNo)
		}
		wg.Add(1)
		go func(s *pubsub.Subscription, allow gate) {
			defer wg.Done()
			forward(ctx, s, allow, out)
		}(s, allow)
	}

	go readPump(conn, cancel)
	writePump(ctx, conn, out)

	cancel()
	for _, s := range subs {
		s.Close()
	}
	wg.Wait()
	_ = conn.Close()
	log.Info().Str("module", "handler.ws").Uint64("user", uid).Msg("subscriber disconnected")
	return nil
}

func uniqueTopics(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if _, ok := seen[t]; ok || t == "" {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// closedNotice is sent on a topic the server stopped following for the
// client.
var closedNotice = json.RawMessage(`{"type":"SUBSCRIPTION_CLOSED"}`)

// gate decides, per message, whether to deliver it and whether to keep
// following the topic afterwards.
type gate func(ctx context.Context, msg []byte) (deliver, keep bool)

// roomGate re-checks room access while a room/ topic is followed.  A
// ROOM_UPDATED event is delivered only if the user is still a participant
// (it is published after the roster change committed); a ROOM_DELETED
// event is delivered and ends the subscription.
func (h *SubscribeHandler) roomGate(uid, roomNo uint64) gate {
	return func(ctx context.Context, msg []byte) (bool, bool) {
		var ev struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(msg, &ev)
		switch ev.Type {
		case queue.RoomDeleted:
			return true, false
		case queue.RoomUpdated:
			ok, err := h.Rooms.IsParticipant(ctx, roomNo, uid)
			if err != nil {
				log.Warn().Err(err).Str("module", "handler.ws").Uint64("room", roomNo).Msg("access re-check failed")
				return true, true
			}
			return ok, ok
		}
		return true, true
	}
}

// forward copies one subscription into the shared outbound queue.  When
// allow ends the subscription, the client gets a SUBSCRIPTION_CLOSED
// notice on that topic and the other topics keep streaming.
func forward(ctx context.Context, s *pubsub.Subscription, allow gate, out chan<- envelope) {
	send := func(env envelope) bool {
		select {
		case out <- env:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.C:
			if !ok {
				return
			}
			deliver, keep := true, true
			if allow != nil {
				deliver, keep = allow(ctx, msg)
			}
			if deliver {
				env := envelope{Topic: s.Topic(), Payload: msg}
				if !json.Valid(msg) {
					quoted, _ := json.Marshal(string(msg))
					env.Payload = quoted
				}
				if !send(env) {
					return
				}
			}
			if !keep {
				s.Close()
				send(envelope{Topic: s.Topic(), Payload: closedNotice})
				return
			}
		}
	}
}

// readPump only services control frames; any client message is ignored.
// It cancels the connection context when the peer goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, out <-chan envelope) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case env := <-out:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				log.Debug().Err(err).Str("module", "handler.ws").Msg("write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
