package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"club_chat/internal/domain"
	"club_chat/internal/metrics"
	"club_chat/internal/presence"
	apperrors "club_chat/pkg/errors"
	"club_chat/pkg/logger"
)

// Mode - режим сессии, определяется точкой подключения
type Mode string

const (
	// ModeGlobal - единая мультиплексированная сессия
	ModeGlobal Mode = "global"
	// ModeRoom - устаревшая сессия одной комнаты
	ModeRoom Mode = "room"
	// ModeNotifications - только уведомления о непрочитанных
	ModeNotifications Mode = "notifications"
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	sendBufferSize = 32
	releaseTimeout = 5 * time.Second
	closeGrace     = time.Second
)

var errClientGone = errors.New("client connection closed")

type session struct {
	gw       *Gateway
	endpoint Endpoint
	inbox    *presence.Inbox
	log      logger.Logger

	state atomic.Int32
	user  *domain.User
	conn  *websocket.Conn
	out   chan []byte

	// groups меняется только в handshake и в readPump
	groups      map[string]struct{}
	releaseOnce sync.Once
}

func newSession(gw *Gateway, endpoint Endpoint) *session {
	inbox := presence.NewInbox(gw.cfg.InboxSize)
	return &session{
		gw:       gw,
		endpoint: endpoint,
		inbox:    inbox,
		log:      gw.log.With("endpoint", string(endpoint.Mode), "inbox", inbox.ID()),
		out:      make(chan []byte, sendBufferSize),
		groups:   make(map[string]struct{}),
	}
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(state State) {
	s.state.Store(int32(state))
	s.log.Debug("Session state changed", "state", state.String())
}

// handshake аутентифицирует пользователя, вступает в группы и готовит первый снимок.
// Вступление в группы завершается до Upgrade, чтобы не потерять рассылку,
// пришедшую во время установки соединения.
func (s *session) handshake(ctx context.Context, r *http.Request) ([]byte, error) {
	user, err := s.gw.deps.Auth.Authenticate(ctx, r)
	if err != nil {
		return nil, err
	}
	s.user = user
	s.log = s.log.With("user_id", user.ID)
	s.setState(StateAuthenticated)

	chats := s.gw.deps.Chats
	var groups []string
	switch s.endpoint.Mode {
	case ModeGlobal:
		roomIDs, err := chats.GetParticipantRoomIDs(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("get participant rooms: %w", err)
		}
		groups = append(groups, presence.UserGroup(user.ID))
		for _, id := range roomIDs {
			groups = append(groups, presence.ChatGroup(id))
		}
	case ModeRoom:
		ok, err := chats.IsParticipant(ctx, s.endpoint.RoomID, user.ID)
		if err != nil {
			return nil, fmt.Errorf("check participant: %w", err)
		}
		if !ok {
			return nil, apperrors.ErrNotParticipant
		}
		s.log = s.log.With("chat_id", s.endpoint.RoomID)
		groups = append(groups, presence.ChatGroup(s.endpoint.RoomID))
	case ModeNotifications:
		groups = append(groups, presence.UserGroup(user.ID))
	default:
		return nil, fmt.Errorf("unknown session mode %q", s.endpoint.Mode)
	}

	for _, group := range groups {
		if err := s.join(ctx, group); err != nil {
			return nil, err
		}
	}

	if s.endpoint.Mode == ModeRoom {
		messages, err := chats.GetRecentMessages(ctx, s.endpoint.RoomID, s.gw.cfg.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("get history: %w", err)
		}
		return encodeHistory(messages)
	}

	counts, err := chats.ListUnreadCounts(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list unread counts: %w", err)
	}
	return encodeInit(counts)
}

func (s *session) join(ctx context.Context, group string) error {
	if _, ok := s.groups[group]; ok {
		return nil
	}
	if err := s.gw.deps.Registry.Join(ctx, group, s.inbox); err != nil {
		return fmt.Errorf("join %s: %w", group, err)
	}
	s.groups[group] = struct{}{}
	return nil
}

// release выходит из всех групп, в которые сессия успела вступить
func (s *session) release() {
	s.releaseOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()

		for group := range s.groups {
			if err := s.gw.deps.Registry.Leave(ctx, group, s.inbox); err != nil {
				s.log.Warn("Failed to leave group", "error", err, "group", group)
			}
			delete(s.groups, group)
		}
		s.inbox.Close()
		s.setState(StateClosed)
	})
}

// reject закрывает соединение кодом, соответствующим ошибке рукопожатия
func (s *session) reject(conn *websocket.Conn, err error) {
	defer conn.Close()

	code := closeCodeFor(err)
	recordHandshakeFailure(code)
	if code == websocket.CloseInternalServerErr {
		s.log.Error("Handshake failed", "error", err)
	} else {
		s.log.Info("Handshake rejected", "error", err, "code", code)
	}

	msg := websocket.FormatCloseMessage(code, err.Error())
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.gw.cfg.WriteWait))
}

func (s *session) run(parent context.Context, conn *websocket.Conn, snapshot []byte) {
	s.conn = conn
	s.setState(StateActive)
	s.log.Info("Session opened")

	active := metrics.ActiveSessions.WithLabelValues(string(s.endpoint.Mode))
	active.Inc()
	defer active.Dec()

	// Снимок уходит первым кадром
	s.out <- snapshot

	g, ctx := errgroup.WithContext(parent)
	g.Go(func() error { return s.writePump(ctx) })
	g.Go(func() error { return s.readPump(ctx) })
	g.Go(func() error { return s.forwardPump(ctx) })
	err := g.Wait()

	reason := closeReason(err)
	metrics.SessionsClosed.WithLabelValues(reason).Inc()
	s.log.Info("Session closed", "reason", reason)
}

// writePump - единственный писатель в соединение
func (s *session) writePump(ctx context.Context) error {
	conn := s.conn
	ticker := time.NewTicker(s.gw.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-s.out:
			_ = conn.SetWriteDeadline(time.Now().Add(s.gw.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.gw.cfg.WriteWait)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case <-ctx.Done():
			code, text := closeFrameFor(context.Cause(ctx))
			msg := websocket.FormatCloseMessage(code, text)
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
			return ctx.Err()
		}
	}
}

// readPump обрабатывает события клиента строго по одному
func (s *session) readPump(ctx context.Context) error {
	conn := s.conn
	conn.SetReadLimit(s.gw.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.gw.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.gw.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				s.log.Debug("Read failed", "error", err)
			}
			return fmt.Errorf("%w: %v", errClientGone, err)
		}
		s.handle(ctx, data)
	}
}

// forwardPump переводит события слоя каналов в кадры клиента
func (s *session) forwardPump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.inbox.Done():
			if err := s.inbox.Err(); err != nil {
				return err
			}
			return errClientGone
		case event := <-s.inbox.Events():
			frame, err := s.translate(event)
			if err != nil {
				s.log.Error("Failed to encode event", "error", err, "type", event.Type)
				continue
			}
			if frame == nil {
				continue
			}
			if err := s.send(ctx, frame); err != nil {
				return err
			}
		}
	}
}

func (s *session) translate(event presence.Event) ([]byte, error) {
	switch event.Type {
	case presence.EventChatMessage:
		if event.Message == nil {
			return nil, nil
		}
		switch s.endpoint.Mode {
		case ModeGlobal:
			return encodeNewMessage(event.Message)
		case ModeRoom:
			return encodeMessage(event.Message)
		}
	case presence.EventUnreadUpdate:
		if s.endpoint.Mode == ModeGlobal || s.endpoint.Mode == ModeNotifications {
			return encodeUnreadUpdate(event.RoomID, event.Kind, event.UnreadCount)
		}
	default:
		s.log.Warn("Dropping unknown presence event", "type", event.Type)
	}
	return nil, nil
}

func (s *session) send(ctx context.Context, frame []byte) error {
	select {
	case s.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) sendError(ctx context.Context, message string) {
	frame, err := encodeError(message)
	if err != nil {
		return
	}
	_ = s.send(ctx, frame)
}

func (s *session) handle(parent context.Context, data []byte) {
	ctx, cancel := context.WithTimeout(parent, s.gw.cfg.OperationTimeout)
	defer cancel()

	ev, err := parseClientEvent(data)
	switch {
	case errors.Is(err, errInvalidChatID):
		s.sendError(ctx, "chat_id is invalid")
		return
	case err != nil:
		metrics.UnknownEvents.Inc()
		s.log.Warn("Ignoring client event", "error", err)
		return
	}

	switch {
	case ev.Type == InMessageSend && s.endpoint.Mode != ModeNotifications:
		if s.endpoint.Mode == ModeRoom {
			ev.ChatID, ev.HasChatID = s.endpoint.RoomID, true
		}
		s.handleSend(ctx, ev)
	case ev.Type == InMarkRead && s.endpoint.Mode != ModeRoom:
		s.handleMarkRead(ctx, ev)
	case ev.Type == InChatJoin && s.endpoint.Mode == ModeGlobal:
		s.handleJoin(ctx, ev)
	default:
		metrics.UnknownEvents.Inc()
		s.log.Warn("Ignoring client event not supported by endpoint", "type", ev.Type)
	}
}

// checkParticipant всегда проверяет членство в хранилище: состав комнаты
// мог измениться после рукопожатия
func (s *session) checkParticipant(ctx context.Context, ev clientEvent) bool {
	if !ev.HasChatID {
		s.sendError(ctx, "chat_id is required")
		return false
	}
	ok, err := s.gw.deps.Chats.IsParticipant(ctx, ev.ChatID, s.user.ID)
	if err != nil {
		s.log.Error("Failed to check participant", "error", err, "chat_id", ev.ChatID)
		s.sendError(ctx, "internal error")
		return false
	}
	if !ok {
		s.sendError(ctx, "you are not a participant of this chat")
		return false
	}
	return true
}

func (s *session) handleSend(ctx context.Context, ev clientEvent) {
	body := strings.TrimSpace(ev.Body)
	if !ev.HasChatID {
		s.sendError(ctx, "chat_id is required")
		return
	}
	if body == "" {
		s.sendError(ctx, "message body is required")
		return
	}

	if !s.checkParticipant(ctx, ev) {
		return
	}

	// Лимит учитывает только отправки, которые дошли бы до записи
	if limiter := s.gw.deps.Limiter; limiter != nil {
		allowed, err := limiter.AllowSend(ctx, s.user.ID)
		if err != nil {
			s.log.Warn("Rate limiter unavailable", "error", err)
		} else if !allowed {
			metrics.RateLimitHits.WithLabelValues("ws_send").Inc()
			s.sendError(ctx, apperrors.ErrRateLimited.Error())
			return
		}
	}

	chats := s.gw.deps.Chats
	kind, err := chats.GetRoomKind(ctx, ev.ChatID)
	if err != nil {
		s.log.Error("Failed to get chat kind", "error", err, "chat_id", ev.ChatID)
		s.sendError(ctx, "internal error")
		return
	}

	message := &domain.Message{
		RoomID:      ev.ChatID,
		SenderID:    s.user.ID,
		Body:        body,
		ClientMsgID: ev.ClientMsgID,
	}
	// Сначала запись, потом рассылка: без коммита не уходит ни одно событие
	if err := chats.CreateMessage(ctx, message); err != nil {
		s.log.Error("Failed to persist message", "error", err, "chat_id", ev.ChatID)
		s.sendError(ctx, "failed to send message")
		return
	}
	metrics.MessagesSent.WithLabelValues(string(kind)).Inc()

	registry := s.gw.deps.Registry
	err = registry.Publish(ctx, presence.ChatGroup(ev.ChatID), presence.Event{
		Type:    presence.EventChatMessage,
		RoomID:  ev.ChatID,
		Message: message,
		Kind:    kind,
	})
	if err != nil {
		metrics.FanoutFailures.WithLabelValues(presence.EventChatMessage).Inc()
		s.log.Error("Failed to broadcast message", "error", err, "chat_id", ev.ChatID, "message_id", message.ID)
		s.sendError(ctx, "message saved but delivery failed")
		return
	}

	others, err := chats.GetOtherParticipantIDs(ctx, ev.ChatID, s.user.ID)
	if err != nil {
		s.log.Error("Failed to get participants for unread update", "error", err, "chat_id", ev.ChatID)
		return
	}
	// Каждый участник уведомляется независимо
	for _, userID := range others {
		count, err := chats.CountUnread(ctx, ev.ChatID, userID)
		if err != nil {
			s.log.Error("Failed to count unread", "error", err, "chat_id", ev.ChatID, "recipient_id", userID)
			continue
		}
		err = registry.Publish(ctx, presence.UserGroup(userID), presence.Event{
			Type:        presence.EventUnreadUpdate,
			RoomID:      ev.ChatID,
			Kind:        kind,
			UnreadCount: count,
		})
		if err != nil {
			metrics.FanoutFailures.WithLabelValues(presence.EventUnreadUpdate).Inc()
			s.log.Error("Failed to publish unread update", "error", err, "chat_id", ev.ChatID, "recipient_id", userID)
		}
	}
}

func (s *session) handleMarkRead(ctx context.Context, ev clientEvent) {
	if !s.checkParticipant(ctx, ev) {
		return
	}

	chats := s.gw.deps.Chats
	if err := chats.SetLastRead(ctx, ev.ChatID, s.user.ID, time.Now().UTC()); err != nil {
		s.log.Error("Failed to mark chat as read", "error", err, "chat_id", ev.ChatID)
		s.sendError(ctx, "failed to mark chat as read")
		return
	}
	kind, err := chats.GetRoomKind(ctx, ev.ChatID)
	if err != nil {
		s.log.Error("Failed to get chat kind", "error", err, "chat_id", ev.ChatID)
		s.sendError(ctx, "internal error")
		return
	}

	frame, err := encodeUnreadUpdate(ev.ChatID, kind, 0)
	if err != nil {
		return
	}
	_ = s.send(ctx, frame)
}

func (s *session) handleJoin(ctx context.Context, ev clientEvent) {
	if !s.checkParticipant(ctx, ev) {
		return
	}
	if err := s.join(ctx, presence.ChatGroup(ev.ChatID)); err != nil {
		s.log.Error("Failed to join chat group", "error", err, "chat_id", ev.ChatID)
		s.sendError(ctx, "failed to join chat")
	}
}

// closeCodeFor переводит ошибку рукопожатия в код закрытия.
// Ошибки, не связанные с доступом, закрываются кодом 1011.
func closeCodeFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrTokenExpired),
		errors.Is(err, apperrors.ErrInvalidToken),
		errors.Is(err, apperrors.ErrNoToken),
		errors.Is(err, apperrors.ErrUserNotFound),
		errors.Is(err, apperrors.ErrNotParticipant):
		return apperrors.CloseCodeFor(err)
	default:
		return websocket.CloseInternalServerErr
	}
}

func recordHandshakeFailure(code int) {
	var reason string
	switch code {
	case apperrors.CloseTokenExpired:
		reason = "token_expired"
	case apperrors.CloseInvalidToken:
		reason = "invalid_token"
	case apperrors.CloseNoToken:
		reason = "no_token"
	case apperrors.CloseNotParticipant:
		reason = "not_participant"
	default:
		reason = "internal"
	}
	metrics.HandshakeFailures.WithLabelValues(reason).Inc()
}

// closeFrameFor выбирает код закрытия активной сессии по причине остановки
func closeFrameFor(cause error) (int, string) {
	switch {
	case errors.Is(cause, presence.ErrSlowConsumer):
		return websocket.CloseTryAgainLater, "slow consumer"
	case errors.Is(cause, errShutdown):
		return websocket.CloseGoingAway, "server shutting down"
	default:
		return websocket.CloseNormalClosure, ""
	}
}

func closeReason(err error) string {
	switch {
	case errors.Is(err, presence.ErrSlowConsumer):
		return "slow_consumer"
	case errors.Is(err, errShutdown), errors.Is(err, context.Canceled):
		return "shutdown"
	case errors.Is(err, errClientGone):
		return "client"
	default:
		return "error"
	}
}
