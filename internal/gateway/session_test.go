package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"club_chat/internal/config"
	"club_chat/internal/domain"
	"club_chat/internal/presence"
	"club_chat/internal/repository"
	"club_chat/internal/service"
	apperrors "club_chat/pkg/errors"
	"club_chat/pkg/jwt"
	"club_chat/pkg/logger"
)

const readTimeout = 2 * time.Second

var testJWT = config.JWTConfig{Secret: "test-secret", Issuer: "club-chat-test", AccessTTL: time.Hour}

type testEnv struct {
	gw     *Gateway
	repos  *repository.Repositories
	memory *presence.MemoryRegistry
	server *httptest.Server
}

func newTestEnv(t *testing.T, userIDs ...int64) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil, userIDs...)
}

// newTestEnvWith позволяет подменить зависимости шлюза до старта сервера
func newTestEnvWith(t *testing.T, setup func(*Deps), userIDs ...int64) *testEnv {
	t.Helper()
	db, err := repository.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	for _, id := range userIDs {
		require.NoError(t, repository.SeedUser(db, &domain.User{ID: id, Username: fmt.Sprintf("user%d", id), IsActive: true}))
	}
	repos := repository.NewGormRepositories(db, nil, "", logger.Nop())
	memory := presence.NewMemoryRegistry()
	deps := Deps{
		Auth:     service.NewAuthService(repos.User, testJWT, logger.Nop()),
		Chats:    repos.Chat,
		Registry: memory,
		Log:      logger.Nop(),
	}
	if setup != nil {
		setup(&deps)
	}

	gw := New(Config{
		HandshakeTimeout: 5 * time.Second,
		WriteWait:        time.Second,
		PongWait:         time.Minute,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 * 1024,
		InboxSize:        16,
		HistoryLimit:     50,
		OperationTimeout: 2 * time.Second,
	}, deps)

	upgrader := &websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/global/", func(w http.ResponseWriter, r *http.Request) {
		gw.Serve(w, r, upgrader, Endpoint{Mode: ModeGlobal})
	})
	mux.HandleFunc("/ws/notifications/", func(w http.ResponseWriter, r *http.Request) {
		gw.Serve(w, r, upgrader, Endpoint{Mode: ModeNotifications})
	})
	mux.HandleFunc("/ws/chat/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/chat/"), "/")
		gw.Serve(w, r, upgrader, Endpoint{Mode: ModeRoom, RoomID: uuid.MustParse(id)})
	})
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		server.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return &testEnv{gw: gw, repos: repos, memory: memory, server: server}
}

func (e *testEnv) createRoom(t *testing.T, kind domain.ChatKind, members ...int64) uuid.UUID {
	t.Helper()
	joined := time.Now().UTC().Add(-time.Minute)
	room := &domain.ChatRoom{ID: uuid.New(), Kind: kind, CreatedBy: &members[0], CreatedAt: joined}
	participants := make([]*domain.Participant, 0, len(members))
	for _, id := range members {
		participants = append(participants, &domain.Participant{
			RoomID: room.ID, UserID: id, Role: domain.ParticipantRoleMember, JoinedAt: joined,
		})
	}
	require.NoError(t, e.repos.Chat.CreateRoom(context.Background(), room, participants))
	return room.ID
}

func token(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := jwt.GenerateAccessToken(userID, testJWT.Secret, testJWT.Issuer, testJWT.AccessTTL)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) dial(t *testing.T, path, tok string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + path
	if tok != "" {
		url += "?token=" + tok
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func readFrameOfType(t *testing.T, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, frameType, frame["type"], "unexpected frame %v", frame)
	return frame
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	assert.Equal(t, code, closeErr.Code)
}

// expectNoFrame должен быть последним чтением: после таймаута соединение непригодно для чтения
func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", data)
	var netErr net.Error
	assert.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected read timeout, got %v", err)
}

func writeEvent(t *testing.T, conn *websocket.Conn, event map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(event))
}

func TestHandshake_CloseCodes(t *testing.T) {
	env := newTestEnv(t, 1, 2)
	inactive := int64(3)
	roomID := env.createRoom(t, domain.ChatKindDirect, 1, 2)

	expired, err := jwt.GenerateAccessToken(1, testJWT.Secret, testJWT.Issuer, -time.Minute)
	require.NoError(t, err)
	foreign, err := jwt.GenerateAccessToken(1, "other-secret", testJWT.Issuer, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		tok  string
		code int
	}{
		{"no token", "/ws/global/", "", apperrors.CloseNoToken},
		{"expired token", "/ws/global/", expired, apperrors.CloseTokenExpired},
		{"bad signature", "/ws/global/", foreign, apperrors.CloseInvalidToken},
		{"garbage token", "/ws/notifications/", "not-a-jwt", apperrors.CloseInvalidToken},
		{"unknown user", "/ws/global/", token(t, inactive), apperrors.CloseInvalidToken},
		{"not a participant", "/ws/chat/" + uuid.NewString() + "/", token(t, 1), apperrors.CloseNotParticipant},
		{"unknown user on room endpoint", "/ws/chat/" + roomID.String() + "/", token(t, 404), apperrors.CloseInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := env.dial(t, tt.path, tt.tok)
			expectClose(t, conn, tt.code)
		})
	}
}

func TestGlobalSession_InitSnapshot(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1, 2, 3)
	direct := env.createRoom(t, domain.ChatKindDirect, 1, 2)
	group := env.createRoom(t, domain.ChatKindGroup, 1, 2, 3)
	env.createRoom(t, domain.ChatKindGroup, 1, 3)

	for i := 0; i < 2; i++ {
		require.NoError(t, env.repos.Chat.CreateMessage(ctx, &domain.Message{RoomID: direct, SenderID: 2, Body: "hi"}))
	}
	require.NoError(t, env.repos.Chat.CreateMessage(ctx, &domain.Message{RoomID: group, SenderID: 3, Body: "yo"}))
	// Собственные сообщения не считаются непрочитанными
	require.NoError(t, env.repos.Chat.CreateMessage(ctx, &domain.Message{RoomID: group, SenderID: 1, Body: "me"}))

	conn := env.dial(t, "/ws/global/", token(t, 1))
	frame := readFrameOfType(t, conn, OutInit)

	counts := frame["data"].(map[string]any)["unread_counts"].(map[string]any)
	require.Len(t, counts, 2)
	assert.Equal(t, map[string]any{"unread_count": float64(2), "chat_type": "direct"}, counts[direct.String()])
	assert.Equal(t, map[string]any{"unread_count": float64(1), "chat_type": "group"}, counts[group.String()])
}

func TestGlobalSession_SendFanOut(t *testing.T) {
	env := newTestEnv(t, 1, 2, 3)
	roomID := env.createRoom(t, domain.ChatKindGroup, 1, 2, 3)

	a := env.dial(t, "/ws/global/", token(t, 1))
	b := env.dial(t, "/ws/global/", token(t, 2))
	c := env.dial(t, "/ws/notifications/", token(t, 3))
	for _, conn := range []*websocket.Conn{a, b, c} {
		readFrameOfType(t, conn, OutInit)
	}

	clientMsgID := uuid.New()
	writeEvent(t, a, map[string]any{
		"type": InMessageSend, "chat_id": roomID.String(), "body": "  hello  ", "client_msg_id": clientMsgID.String(),
	})

	own := readFrameOfType(t, a, OutNewMessage)
	assert.Equal(t, roomID.String(), own["chat_id"])
	data := own["data"].(map[string]any)
	assert.Equal(t, "hello", data["body"])
	assert.Equal(t, float64(1), data["sender_id"])
	assert.Equal(t, clientMsgID.String(), data["client_msg_id"])

	readFrameOfType(t, b, OutNewMessage)
	unread := readFrameOfType(t, b, OutUnreadUpdate)
	assert.Equal(t, roomID.String(), unread["chat_id"])
	assert.Equal(t, "group", unread["chat_type"])
	assert.Equal(t, float64(1), unread["unread_count"])

	// Сессия уведомлений получает только счетчики
	unread = readFrameOfType(t, c, OutUnreadUpdate)
	assert.Equal(t, float64(1), unread["unread_count"])

	// Отправитель не получает unread_update по своему сообщению
	writeEvent(t, a, map[string]any{"type": InMessageSend, "chat_id": uuid.NewString(), "body": "x"})
	readFrameOfType(t, a, OutError)

	messages, err := env.repos.Chat.GetRecentMessages(context.Background(), roomID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, clientMsgID, messages[0].ClientMsgID)

	// Ровно одно событие каждого вида на получателя
	expectNoFrame(t, b)
	expectNoFrame(t, c)
}

func TestGlobalSession_SendRejected(t *testing.T) {
	env := newTestEnv(t, 1, 2, 3)
	foreign := env.createRoom(t, domain.ChatKindDirect, 2, 3)

	conn := env.dial(t, "/ws/global/", token(t, 1))
	readFrameOfType(t, conn, OutInit)

	writeEvent(t, conn, map[string]any{"type": InMessageSend, "chat_id": foreign.String(), "body": "intrude"})
	frame := readFrameOfType(t, conn, OutError)
	assert.Equal(t, "you are not a participant of this chat", frame["message"])

	writeEvent(t, conn, map[string]any{"type": InMessageSend, "chat_id": "nope", "body": "x"})
	frame = readFrameOfType(t, conn, OutError)
	assert.Equal(t, "chat_id is invalid", frame["message"])

	writeEvent(t, conn, map[string]any{"type": InMessageSend, "chat_id": foreign.String(), "body": "   "})
	frame = readFrameOfType(t, conn, OutError)
	assert.Equal(t, "message body is required", frame["message"])

	messages, err := env.repos.Chat.GetRecentMessages(context.Background(), foreign, 10)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestGlobalSession_MarkRead(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1, 2)
	roomID := env.createRoom(t, domain.ChatKindDirect, 1, 2)
	require.NoError(t, env.repos.Chat.CreateMessage(ctx, &domain.Message{RoomID: roomID, SenderID: 2, Body: "ping"}))

	conn := env.dial(t, "/ws/global/", token(t, 1))
	readFrameOfType(t, conn, OutInit)

	writeEvent(t, conn, map[string]any{"type": InMarkRead, "chat_id": roomID.String()})
	frame := readFrameOfType(t, conn, OutUnreadUpdate)
	assert.Equal(t, float64(0), frame["unread_count"])
	assert.Equal(t, "direct", frame["chat_type"])

	count, err := env.repos.Chat.CountUnread(ctx, roomID, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGlobalSession_ChatJoin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1, 2)

	conn := env.dial(t, "/ws/global/", token(t, 1))
	readFrameOfType(t, conn, OutInit)

	// Комната создана после подключения, поэтому сессия еще не в ее группе
	roomID := env.createRoom(t, domain.ChatKindDirect, 1, 2)
	group := presence.ChatGroup(roomID)
	assert.Zero(t, env.memory.Members(group))

	writeEvent(t, conn, map[string]any{"type": InChatJoin, "chat_id": roomID.String()})
	require.Eventually(t, func() bool { return env.memory.Members(group) == 1 }, readTimeout, 10*time.Millisecond)

	require.NoError(t, env.gw.deps.Registry.Publish(ctx, group, presence.Event{
		Type:    presence.EventChatMessage,
		RoomID:  roomID,
		Message: &domain.Message{ID: 7, RoomID: roomID, SenderID: 2, Body: "late", CreatedAt: time.Now().UTC()},
		Kind:    domain.ChatKindDirect,
	}))
	frame := readFrameOfType(t, conn, OutNewMessage)
	assert.Equal(t, "late", frame["data"].(map[string]any)["body"])
}

func TestRoomSession_HistoryAndSend(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1, 2)
	roomID := env.createRoom(t, domain.ChatKindDirect, 1, 2)
	base := time.Now().UTC().Add(-30 * time.Second)
	for i, body := range []string{"first", "second"} {
		require.NoError(t, env.repos.Chat.CreateMessage(ctx, &domain.Message{
			RoomID: roomID, SenderID: 2, Body: body, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	path := "/ws/chat/" + roomID.String() + "/"
	a := env.dial(t, path, token(t, 1))
	history := readFrameOfType(t, a, OutHistory)
	items := history["data"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].(map[string]any)["body"])
	assert.Equal(t, "second", items[1].(map[string]any)["body"])

	b := env.dial(t, "/ws/global/", token(t, 2))
	readFrameOfType(t, b, OutInit)

	// chat_id берется из адреса подключения
	writeEvent(t, a, map[string]any{"type": InMessageSend, "body": "legacy"})
	frame := readFrameOfType(t, a, OutMessage)
	assert.Equal(t, "legacy", frame["data"].(map[string]any)["body"])

	readFrameOfType(t, b, OutNewMessage)
	unread := readFrameOfType(t, b, OutUnreadUpdate)
	assert.Equal(t, float64(1), unread["unread_count"])
}

func TestSession_ReleasesGroupsOnDisconnect(t *testing.T) {
	env := newTestEnv(t, 1, 2)
	roomID := env.createRoom(t, domain.ChatKindDirect, 1, 2)

	conn := env.dial(t, "/ws/global/", token(t, 1))
	readFrameOfType(t, conn, OutInit)
	assert.Equal(t, 1, env.memory.Members(presence.UserGroup(1)))
	assert.Equal(t, 1, env.memory.Members(presence.ChatGroup(roomID)))

	conn.Close()
	require.Eventually(t, func() bool {
		return env.memory.Members(presence.UserGroup(1)) == 0 &&
			env.memory.Members(presence.ChatGroup(roomID)) == 0
	}, readTimeout, 10*time.Millisecond)
}

func TestGateway_ShutdownClosesSessions(t *testing.T) {
	env := newTestEnv(t, 1)

	conn := env.dial(t, "/ws/notifications/", token(t, 1))
	readFrameOfType(t, conn, OutInit)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = env.gw.Shutdown(ctx) }()

	expectClose(t, conn, websocket.CloseGoingAway)
}

func TestCloseFrameFor(t *testing.T) {
	code, text := closeFrameFor(presence.ErrSlowConsumer)
	assert.Equal(t, websocket.CloseTryAgainLater, code)
	assert.Equal(t, "slow consumer", text)

	code, _ = closeFrameFor(errShutdown)
	assert.Equal(t, websocket.CloseGoingAway, code)

	code, _ = closeFrameFor(context.Canceled)
	assert.Equal(t, websocket.CloseNormalClosure, code)

	assert.Equal(t, "slow_consumer", closeReason(fmt.Errorf("forward: %w", presence.ErrSlowConsumer)))
	assert.Equal(t, "client", closeReason(errClientGone))
	assert.Equal(t, "error", closeReason(errors.New("boom")))
}

func TestCloseCodeFor(t *testing.T) {
	assert.Equal(t, apperrors.CloseTokenExpired, closeCodeFor(apperrors.ErrTokenExpired))
	assert.Equal(t, apperrors.CloseNoToken, closeCodeFor(apperrors.ErrNoToken))
	assert.Equal(t, apperrors.CloseInvalidToken, closeCodeFor(apperrors.ErrUserNotFound))
	assert.Equal(t, apperrors.CloseNotParticipant, closeCodeFor(fmt.Errorf("wrap: %w", apperrors.ErrNotParticipant)))
	assert.Equal(t, websocket.CloseInternalServerErr, closeCodeFor(errors.New("database is down")))
}

// failingChats подменяет запись сообщения ошибкой хранилища
type failingChats struct {
	repository.ChatRepository
}

func (failingChats) CreateMessage(context.Context, *domain.Message) error {
	return errors.New("database is unavailable")
}

// failingRegistry отказывает в публикации в выбранные группы
type failingRegistry struct {
	presence.Registry
	fail func(group string) bool
}

func (r failingRegistry) Publish(ctx context.Context, group string, event presence.Event) error {
	if r.fail(group) {
		return errors.New("broker is unavailable")
	}
	return r.Registry.Publish(ctx, group, event)
}

type countingLimiter struct {
	mu    sync.Mutex
	calls int
}

func (l *countingLimiter) AllowSend(context.Context, int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return true, nil
}

func (l *countingLimiter) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestSend_PersistenceFailureSkipsFanOut(t *testing.T) {
	env := newTestEnvWith(t, func(d *Deps) { d.Chats = failingChats{d.Chats} }, 1, 2)
	roomID := env.createRoom(t, domain.ChatKindDirect, 1, 2)

	a := env.dial(t, "/ws/global/", token(t, 1))
	b := env.dial(t, "/ws/global/", token(t, 2))
	readFrameOfType(t, a, OutInit)
	readFrameOfType(t, b, OutInit)

	writeEvent(t, a, map[string]any{"type": InMessageSend, "chat_id": roomID.String(), "body": "lost"})
	frame := readFrameOfType(t, a, OutError)
	assert.Equal(t, "failed to send message", frame["message"])

	expectNoFrame(t, a)
	expectNoFrame(t, b)
}

func TestSend_ChatPublishFailureSkipsUnread(t *testing.T) {
	env := newTestEnvWith(t, func(d *Deps) {
		d.Registry = failingRegistry{Registry: d.Registry, fail: func(group string) bool {
			return strings.HasPrefix(group, "chat_")
		}}
	}, 1, 2)
	roomID := env.createRoom(t, domain.ChatKindDirect, 1, 2)

	a := env.dial(t, "/ws/global/", token(t, 1))
	b := env.dial(t, "/ws/notifications/", token(t, 2))
	readFrameOfType(t, a, OutInit)
	readFrameOfType(t, b, OutInit)

	writeEvent(t, a, map[string]any{"type": InMessageSend, "chat_id": roomID.String(), "body": "stored"})
	frame := readFrameOfType(t, a, OutError)
	assert.Equal(t, "message saved but delivery failed", frame["message"])

	// Сообщение сохранено, но счетчики не рассылались
	messages, err := env.repos.Chat.GetRecentMessages(context.Background(), roomID, 10)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
	expectNoFrame(t, b)
}

func TestSend_UnreadFailureIsPerRecipient(t *testing.T) {
	env := newTestEnvWith(t, func(d *Deps) {
		d.Registry = failingRegistry{Registry: d.Registry, fail: func(group string) bool {
			return group == presence.UserGroup(2)
		}}
	}, 1, 2, 3)
	roomID := env.createRoom(t, domain.ChatKindGroup, 1, 2, 3)

	a := env.dial(t, "/ws/global/", token(t, 1))
	b := env.dial(t, "/ws/global/", token(t, 2))
	c := env.dial(t, "/ws/global/", token(t, 3))
	for _, conn := range []*websocket.Conn{a, b, c} {
		readFrameOfType(t, conn, OutInit)
	}

	writeEvent(t, a, map[string]any{"type": InMessageSend, "chat_id": roomID.String(), "body": "hi all"})
	readFrameOfType(t, a, OutNewMessage)

	readFrameOfType(t, b, OutNewMessage)
	expectNoFrame(t, b)

	readFrameOfType(t, c, OutNewMessage)
	unread := readFrameOfType(t, c, OutUnreadUpdate)
	assert.Equal(t, float64(1), unread["unread_count"])

	// Отправитель не получает ошибку из-за сбоя одного получателя
	expectNoFrame(t, a)
}

func TestSend_RateLimitCountsOnlyParticipants(t *testing.T) {
	limiter := &countingLimiter{}
	env := newTestEnvWith(t, func(d *Deps) { d.Limiter = limiter }, 1, 2, 3)
	own := env.createRoom(t, domain.ChatKindDirect, 1, 2)
	foreign := env.createRoom(t, domain.ChatKindDirect, 2, 3)

	conn := env.dial(t, "/ws/global/", token(t, 1))
	readFrameOfType(t, conn, OutInit)

	for i := 0; i < 3; i++ {
		writeEvent(t, conn, map[string]any{"type": InMessageSend, "chat_id": foreign.String(), "body": "x"})
		readFrameOfType(t, conn, OutError)
	}
	assert.Zero(t, limiter.Calls())

	writeEvent(t, conn, map[string]any{"type": InMessageSend, "chat_id": own.String(), "body": "ok"})
	readFrameOfType(t, conn, OutNewMessage)
	assert.Equal(t, 1, limiter.Calls())
}

func TestGlobalSession_ChatJoinOverNATS(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	t.Cleanup(srv.Shutdown)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	registry := presence.NewNATSRegistry(nc, "chat_test.", logger.Nop())
	t.Cleanup(func() { registry.Close() })
	env := newTestEnvWith(t, func(d *Deps) { d.Registry = registry }, 1, 2)

	a := env.dial(t, "/ws/global/", token(t, 1))
	readFrameOfType(t, a, OutInit)

	// Комната появилась после подключения: вступление идет без дедлайна рукопожатия
	roomID := env.createRoom(t, domain.ChatKindDirect, 1, 2)
	writeEvent(t, a, map[string]any{"type": InChatJoin, "chat_id": roomID.String()})
	// События обрабатываются по одному: ответ на mark_read означает, что join завершен
	writeEvent(t, a, map[string]any{"type": InMarkRead, "chat_id": roomID.String()})
	readFrameOfType(t, a, OutUnreadUpdate)

	b := env.dial(t, "/ws/global/", token(t, 2))
	readFrameOfType(t, b, OutInit)
	writeEvent(t, b, map[string]any{"type": InMessageSend, "chat_id": roomID.String(), "body": "over nats"})

	frame := readFrameOfType(t, a, OutNewMessage)
	assert.Equal(t, "over nats", frame["data"].(map[string]any)["body"])
	unread := readFrameOfType(t, a, OutUnreadUpdate)
	assert.Equal(t, float64(1), unread["unread_count"])
}

func TestGateway_ServeAfterShutdown(t *testing.T) {
	env := newTestEnv(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.gw.Shutdown(ctx))

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/global/?token=" + token(t, 1)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGateway_ShutdownWhileConnecting(t *testing.T) {
	env := newTestEnv(t, 1)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/notifications/?token=" + token(t, 1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err == nil {
				conn.Close()
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, env.gw.Shutdown(ctx))
	wg.Wait()
}
