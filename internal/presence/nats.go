package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"club_chat/pkg/logger"
)

// NATSRegistry - группы поверх core NATS: один subject на группу.
// Обработчик одной подписки вызывается последовательно, что дает FIFO.
type NATSRegistry struct {
	conn   *nats.Conn
	prefix string
	hub    *hub
	log    logger.Logger

	flushTimeout time.Duration

	mu   sync.Mutex
	subs map[string]*nats.Subscription
	// ready - группы, чей SUB подтвержден сервером
	ready map[string]struct{}
}

// flushTimeout ограничивает ожидание подтверждения SUB
const flushTimeout = 5 * time.Second

func NewNATSRegistry(conn *nats.Conn, prefix string, log logger.Logger) *NATSRegistry {
	return &NATSRegistry{
		conn:   conn,
		prefix: prefix,
		hub:    newHub(),
		log:    log,
		subs:   make(map[string]*nats.Subscription),
		ready:  make(map[string]struct{}),

		flushTimeout: flushTimeout,
	}
}

func (r *NATSRegistry) subject(group string) string {
	return r.prefix + group
}

// Join возвращается, когда сервер NATS обработал SUB группы
func (r *NATSRegistry) Join(ctx context.Context, group string, inbox *Inbox) error {
	r.mu.Lock()
	first, added := r.hub.add(group, inbox)
	if first {
		sub, err := r.conn.Subscribe(r.subject(group), func(msg *nats.Msg) {
			var event Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				r.log.Warn("Dropping malformed event", "error", err, "subject", msg.Subject)
				return
			}
			r.hub.dispatch(group, event)
		})
		if err != nil {
			r.hub.remove(group, inbox)
			r.mu.Unlock()
			r.log.Error("Failed to subscribe", "error", err, "subject", r.subject(group))
			return fmt.Errorf("subscribe %s: %w", group, err)
		}
		r.subs[group] = sub
	}
	_, confirmed := r.ready[group]
	r.mu.Unlock()

	if !added || confirmed {
		return nil
	}

	// SUB уже в буфере соединения, поэтому Flush подтверждает и его
	flushCtx, cancel := context.WithTimeout(ctx, r.flushTimeout)
	defer cancel()
	if err := r.conn.FlushWithContext(flushCtx); err != nil {
		r.abandon(group, inbox)
		r.log.Error("Failed to confirm subscription", "error", err, "subject", r.subject(group))
		return fmt.Errorf("subscribe %s: %w", group, err)
	}

	r.mu.Lock()
	if _, ok := r.subs[group]; ok {
		r.ready[group] = struct{}{}
	}
	r.mu.Unlock()
	return nil
}

func (r *NATSRegistry) Leave(_ context.Context, group string, inbox *Inbox) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, _ := r.hub.remove(group, inbox)
	if !last {
		return nil
	}
	return r.unsubscribe(group)
}

// abandon откатывает неудавшийся Join
func (r *NATSRegistry) abandon(group string, inbox *Inbox) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if last, _ := r.hub.remove(group, inbox); last {
		_ = r.unsubscribe(group)
	}
}

func (r *NATSRegistry) unsubscribe(group string) error {
	sub, ok := r.subs[group]
	if !ok {
		return nil
	}
	delete(r.subs, group)
	delete(r.ready, group)
	if err := sub.Unsubscribe(); err != nil {
		r.log.Warn("Failed to unsubscribe", "error", err, "subject", r.subject(group))
		return err
	}
	return nil
}

func (r *NATSRegistry) Publish(_ context.Context, group string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := r.conn.Publish(r.subject(group), payload); err != nil {
		r.log.Error("Failed to publish", "error", err, "group", group)
		return fmt.Errorf("publish %s: %w", group, err)
	}
	return nil
}

func (r *NATSRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for group, sub := range r.subs {
		_ = sub.Unsubscribe()
		delete(r.subs, group)
		delete(r.ready, group)
	}
	return nil
}
