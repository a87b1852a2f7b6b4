package presence

import "context"

// MemoryRegistry - реализация в пределах одного процесса, для разработки и тестов
type MemoryRegistry struct {
	hub *hub
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{hub: newHub()}
}

func (r *MemoryRegistry) Join(_ context.Context, group string, inbox *Inbox) error {
	r.hub.add(group, inbox)
	return nil
}

func (r *MemoryRegistry) Leave(_ context.Context, group string, inbox *Inbox) error {
	r.hub.remove(group, inbox)
	return nil
}

func (r *MemoryRegistry) Publish(_ context.Context, group string, event Event) error {
	r.hub.dispatch(group, event)
	return nil
}

// Members - число локальных ящиков в группе
func (r *MemoryRegistry) Members(group string) int {
	return r.hub.size(group)
}

func (r *MemoryRegistry) Close() error { return nil }
