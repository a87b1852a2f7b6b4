package presence

import (
	"errors"
	"sync"

	"github.com/oklog/ulid/v2"
)

// ErrSlowConsumer - ящик переполнен, сессия не успевает забирать события
var ErrSlowConsumer = errors.New("slow consumer")

// Inbox - ограниченная очередь событий одной сессии.
// Доставка никогда не блокирует издателя: при переполнении ящик закрывается.
type Inbox struct {
	id     string
	events chan Event
	done   chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = 1
	}
	return &Inbox{
		id:     ulid.Make().String(),
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

func (i *Inbox) ID() string { return i.id }

func (i *Inbox) Events() <-chan Event { return i.events }

// Done закрывается при переполнении или явном Close
func (i *Inbox) Done() <-chan struct{} { return i.done }

func (i *Inbox) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

func (i *Inbox) Close() {
	i.closeWith(nil)
}

func (i *Inbox) closeWith(err error) {
	i.once.Do(func() {
		i.mu.Lock()
		i.err = err
		i.mu.Unlock()
		close(i.done)
	})
}

func (i *Inbox) deliver(e Event) bool {
	select {
	case <-i.done:
		return false
	default:
	}

	select {
	case i.events <- e:
		return true
	default:
		i.closeWith(ErrSlowConsumer)
		return false
	}
}
