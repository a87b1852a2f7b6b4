package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"club_chat/pkg/logger"
)

// joinTimeout ограничивает ожидание подтверждения SUBSCRIBE
const joinTimeout = 5 * time.Second

var errJoinTimeout = errors.New("subscription was not confirmed in time")

// RedisRegistry - группы поверх Redis Pub/Sub.
// На процесс одно соединение подписки; канал группы подписан, пока в ней есть
// хотя бы один локальный ящик.
type RedisRegistry struct {
	client *redis.Client
	pubsub *redis.PubSub
	prefix string
	hub    *hub
	log    logger.Logger

	joinTimeout time.Duration

	// subMu упорядочивает изменения hub и постановку SUBSCRIBE/UNSUBSCRIBE в очередь.
	// Сетевые вызовы выполняет runCommands вне блокировки.
	subMu sync.Mutex

	opsMu sync.Mutex
	ops   []subOp
	wake  chan struct{}

	pendingMu sync.Mutex
	pending   map[string][]*waiter

	stop chan struct{}
	wg   sync.WaitGroup
}

type subOp struct {
	channel   string
	subscribe bool
}

// waiter закрывается подтверждением подписки или ошибкой команды
type waiter struct {
	done chan struct{}
	err  error
}

func NewRedisRegistry(client *redis.Client, prefix string, log logger.Logger) *RedisRegistry {
	r := &RedisRegistry{
		client:      client,
		pubsub:      client.Subscribe(context.Background()),
		prefix:      prefix,
		hub:         newHub(),
		log:         log,
		joinTimeout: joinTimeout,
		wake:        make(chan struct{}, 1),
		pending:     make(map[string][]*waiter),
		stop:        make(chan struct{}),
	}

	r.wg.Add(2)
	go r.dispatch(r.pubsub.ChannelWithSubscriptions())
	go r.runCommands()
	return r
}

func (r *RedisRegistry) channel(group string) string {
	return r.prefix + group
}

// Join возвращается после подтверждения подписки канала группы
func (r *RedisRegistry) Join(ctx context.Context, group string, inbox *Inbox) error {
	channel := r.channel(group)

	r.subMu.Lock()
	first, added := r.hub.add(group, inbox)
	var w *waiter
	switch {
	case first:
		w = r.expect(channel)
		r.enqueue(subOp{channel: channel, subscribe: true})
	case added:
		// Канал мог быть поставлен в очередь другим ящиком и еще не подтвержден
		w = r.expectIfPending(channel)
	}
	r.subMu.Unlock()

	if w == nil {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.joinTimeout)
	defer cancel()

	var err error
	select {
	case <-w.done:
		err = w.err
	case <-waitCtx.Done():
		err = waitCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = errJoinTimeout
		}
	}
	if err == nil {
		return nil
	}

	r.forget(channel, w)
	r.abandon(group, inbox)
	r.log.Error("Failed to subscribe", "error", err, "channel", channel)
	return fmt.Errorf("subscribe %s: %w", channel, err)
}

func (r *RedisRegistry) Leave(_ context.Context, group string, inbox *Inbox) error {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	if last, _ := r.hub.remove(group, inbox); last {
		r.enqueue(subOp{channel: r.channel(group)})
	}
	return nil
}

// abandon откатывает неудавшийся Join
func (r *RedisRegistry) abandon(group string, inbox *Inbox) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	if last, _ := r.hub.remove(group, inbox); last {
		r.enqueue(subOp{channel: r.channel(group)})
	}
}

func (r *RedisRegistry) Publish(ctx context.Context, group string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel(group), payload).Err(); err != nil {
		r.log.Error("Failed to publish", "error", err, "group", group)
		return fmt.Errorf("publish %s: %w", group, err)
	}
	return nil
}

func (r *RedisRegistry) Close() error {
	select {
	case <-r.stop:
		return nil
	default:
	}
	close(r.stop)
	err := r.pubsub.Close()
	r.wg.Wait()
	return err
}

func (r *RedisRegistry) enqueue(op subOp) {
	r.opsMu.Lock()
	r.ops = append(r.ops, op)
	r.opsMu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *RedisRegistry) nextOp() (subOp, bool) {
	r.opsMu.Lock()
	defer r.opsMu.Unlock()

	if len(r.ops) == 0 {
		return subOp{}, false
	}
	op := r.ops[0]
	r.ops = r.ops[1:]
	return op, true
}

// runCommands отправляет SUBSCRIBE/UNSUBSCRIBE строго в порядке постановки
func (r *RedisRegistry) runCommands() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stop:
			return
		case <-r.wake:
		}
		for {
			op, ok := r.nextOp()
			if !ok {
				break
			}
			r.apply(op)
		}
	}
}

func (r *RedisRegistry) apply(op subOp) {
	ctx, cancel := context.WithTimeout(context.Background(), r.joinTimeout)
	defer cancel()

	if op.subscribe {
		if err := r.pubsub.Subscribe(ctx, op.channel); err != nil {
			r.fail(op.channel, err)
		}
		return
	}
	if err := r.pubsub.Unsubscribe(ctx, op.channel); err != nil {
		r.log.Warn("Failed to unsubscribe", "error", err, "channel", op.channel)
	}
}

func (r *RedisRegistry) expect(channel string) *waiter {
	w := &waiter{done: make(chan struct{})}
	r.pendingMu.Lock()
	r.pending[channel] = append(r.pending[channel], w)
	r.pendingMu.Unlock()
	return w
}

// expectIfPending ждет уже отправленную подписку; nil, если канал подтвержден
func (r *RedisRegistry) expectIfPending(channel string) *waiter {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	if len(r.pending[channel]) == 0 {
		return nil
	}
	w := &waiter{done: make(chan struct{})}
	r.pending[channel] = append(r.pending[channel], w)
	return w
}

func (r *RedisRegistry) forget(channel string, w *waiter) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	waiters := r.pending[channel]
	for i, pw := range waiters {
		if pw == w {
			r.pending[channel] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(r.pending[channel]) == 0 {
		delete(r.pending, channel)
	}
}

func (r *RedisRegistry) release(channel string, err error) {
	r.pendingMu.Lock()
	waiters := r.pending[channel]
	delete(r.pending, channel)
	r.pendingMu.Unlock()

	for _, w := range waiters {
		w.err = err
		close(w.done)
	}
}

func (r *RedisRegistry) confirm(channel string) {
	r.release(channel, nil)
}

func (r *RedisRegistry) fail(channel string, err error) {
	r.log.Error("Failed to send SUBSCRIBE", "error", err, "channel", channel)
	r.release(channel, err)
}

// dispatch - единственный читатель подписки, поэтому порядок FIFO сохраняется
func (r *RedisRegistry) dispatch(ch <-chan interface{}) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stop:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			switch msg := raw.(type) {
			case *redis.Subscription:
				if msg.Kind == "subscribe" {
					r.confirm(msg.Channel)
				}
			case *redis.Message:
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					r.log.Warn("Dropping malformed event", "error", err, "channel", msg.Channel)
					continue
				}
				r.hub.dispatch(strings.TrimPrefix(msg.Channel, r.prefix), event)
			}
		}
	}
}
