// Package gateway - WebSocket-сессии чата: рукопожатие, обработка событий
// клиента и пересылка событий из слоя каналов.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"club_chat/internal/domain"
	"club_chat/internal/presence"
	"club_chat/internal/repository"
	"club_chat/pkg/logger"
)

var errShutdown = errors.New("server shutting down")

// Authenticator определяет пользователя по запросу на подключение
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*domain.User, error)
}

// SendLimiter ограничивает частоту отправки сообщений пользователем
type SendLimiter interface {
	AllowSend(ctx context.Context, userID int64) (bool, error)
}

type Config struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	InboxSize        int
	HistoryLimit     int
	// OperationTimeout ограничивает обработку одного события клиента
	OperationTimeout time.Duration
}

const defaultOperationTimeout = 5 * time.Second

type Deps struct {
	Auth     Authenticator
	Chats    repository.ChatRepository
	Registry presence.Registry
	// Limiter может быть nil
	Limiter SendLimiter
	Log     logger.Logger
}

// Endpoint описывает, к какой точке подключается клиент
type Endpoint struct {
	Mode   Mode
	RoomID uuid.UUID
}

type Gateway struct {
	cfg  Config
	deps Deps
	log  logger.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	// mu упорядочивает регистрацию сессий в wg относительно Shutdown
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(cfg Config, deps Deps) *Gateway {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Gateway{
		cfg:    cfg,
		deps:   deps,
		log:    deps.Log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Serve проводит рукопожатие, поднимает соединение и обслуживает сессию до закрытия.
// Аутентификация выполняется до Upgrade, но отказ сообщается кодом закрытия,
// поэтому соединение поднимается в любом случае.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, endpoint Endpoint) {
	if !g.track() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer g.wg.Done()

	s := newSession(g, endpoint)
	defer s.release()

	hsCtx, cancel := context.WithTimeout(r.Context(), g.cfg.HandshakeTimeout)
	snapshot, hsErr := s.handshake(hsCtx, r)
	cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader уже ответил клиенту
		g.log.Warn("Failed to upgrade connection", "error", err)
		return
	}

	if hsErr != nil {
		s.reject(conn, hsErr)
		return
	}

	s.run(g.ctx, conn, snapshot)
}

// Shutdown закрывает все сессии кодом 1001 и ждет их завершения
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.cancel(errShutdown)
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track регистрирует сессию; false после Shutdown
func (g *Gateway) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}
	g.wg.Add(1)
	return true
}
