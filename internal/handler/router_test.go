package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"club_chat/internal/config"
	"club_chat/internal/domain"
	"club_chat/internal/gateway"
	"club_chat/internal/middleware"
	"club_chat/internal/presence"
	"club_chat/internal/repository"
	"club_chat/internal/service"
	"club_chat/pkg/jwt"
	"club_chat/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testAPI struct {
	router *gin.Engine
	cfg    *config.Config
}

func newTestAPI(t *testing.T, rateLimit int, checks map[string]Check, userIDs ...int64) *testAPI {
	t.Helper()
	db, err := repository.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	for _, id := range userIDs {
		require.NoError(t, repository.SeedUser(db, &domain.User{ID: id, Username: fmt.Sprintf("user%d", id), IsActive: true}))
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{RateLimit: rateLimit, RateLimitWindow: time.Minute},
		JWT:         config.JWTConfig{Secret: "handler-secret", Issuer: "club-chat-test", AccessTTL: time.Hour},
		WebSocket:   config.WebSocketConfig{HandshakeTimeout: time.Second, WriteWait: time.Second, PongWait: time.Minute, PingInterval: 30 * time.Second},
		Presence:    config.PresenceConfig{Backend: config.PresenceMemory, InboxSize: 8},
	}
	log := logger.Nop()
	repos := repository.NewGormRepositories(db, rdb, "test:", log)
	services := service.NewServices(repos, cfg, log)
	gw := gateway.New(gateway.Config{InboxSize: 8}, gateway.Deps{
		Auth: services.Auth, Chats: repos.Chat, Registry: presence.NewMemoryRegistry(), Log: log,
	})

	handlers := NewHandlers(services, gw, checks, cfg, log)
	router := NewRouter(
		handlers,
		middleware.NewAuthMiddleware(services.Auth, log),
		middleware.NewRateLimitMiddleware(services.RateLimit, cfg.Server.RateLimit, int(cfg.Server.RateLimitWindow.Seconds()), log),
		cfg,
		log,
	)
	return &testAPI{router: router, cfg: cfg}
}

func (a *testAPI) token(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := jwt.GenerateAccessToken(userID, a.cfg.JWT.Secret, a.cfg.JWT.Issuer, a.cfg.JWT.AccessTTL)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+a.token(t, userID))
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t, 0, map[string]Check{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	w := api.do(t, http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodGet, "/ready", 0, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[map[string]any](t, w)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "connection refused", checks["redis"])

	w = api.do(t, http.MethodGet, "/metrics", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_RequiresAuth(t *testing.T) {
	api := newTestAPI(t, 0, nil, 1)

	w := api.do(t, http.MethodGet, "/api/v1/chats", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Пользователя из токена нет в базе
	w = api.do(t, http.MethodGet, "/api/v1/users/me", 77, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/users/me", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, w)["id"])
}

func TestChatRoutes_DirectChat(t *testing.T) {
	api := newTestAPI(t, 0, nil, 1, 2)

	w := api.do(t, http.MethodPost, "/api/v1/chats/direct", 1, map[string]any{"user_id": 2})
	require.Equal(t, http.StatusCreated, w.Code)
	first := decode[domain.ChatRoom](t, w)
	assert.Equal(t, domain.ChatKindDirect, first.Kind)

	w = api.do(t, http.MethodPost, "/api/v1/chats/direct", 2, map[string]any{"user_id": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first.ID, decode[domain.ChatRoom](t, w).ID)

	w = api.do(t, http.MethodPost, "/api/v1/chats/direct", 1, map[string]any{"user_id": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/chats/direct", 1, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/chats", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]domain.ChatRoom](t, w), 1)
}

func TestChatRoutes_GroupMembership(t *testing.T) {
	api := newTestAPI(t, 0, nil, 1, 2, 3)

	w := api.do(t, http.MethodPost, "/api/v1/chats/groups", 1, map[string]any{"name": "club", "participant_ids": []int64{2}})
	require.Equal(t, http.StatusCreated, w.Code)
	room := decode[domain.ChatRoom](t, w)
	base := "/api/v1/chats/" + room.ID.String()

	w = api.do(t, http.MethodPost, base+"/participants", 2, map[string]any{"user_id": 3})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, http.MethodPost, base+"/participants", 1, map[string]any{"user_id": 3})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = api.do(t, http.MethodGet, base+"/messages", 3, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = api.do(t, http.MethodDelete, base+"/participants/3", 1, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(t, http.MethodGet, base+"/messages", 3, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, http.MethodPost, base+"/leave", 2, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["chat_deleted"])

	w = api.do(t, http.MethodPost, base+"/leave", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["chat_deleted"])

	w = api.do(t, http.MethodGet, "/api/v1/chats/not-a-uuid/messages", 1, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, 2, nil, 1)

	for i := 0; i < 2; i++ {
		w := api.do(t, http.MethodGet, "/api/v1/chats", 1, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := api.do(t, http.MethodGet, "/api/v1/chats", 1, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"empty list allows all", nil, "https://evil.example", true},
		{"no origin header", []string{"https://club.example"}, "", true},
		{"listed origin", []string{"https://club.example/"}, "https://CLUB.example", true},
		{"other origin", []string{"https://club.example"}, "https://evil.example", false},
		{"scheme matters", []string{"https://club.example"}, "http://club.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/global/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, newUpgrader(tt.allowed).CheckOrigin(req))
		})
	}
}

func TestWebSocketRoute_InvalidChatID(t *testing.T) {
	api := newTestAPI(t, 0, nil, 1)

	w := api.do(t, http.MethodGet, "/ws/chat/nope/", 0, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
