package presence

import "sync"

// hub - локальная таблица групп процесса
type hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Inbox]struct{}
}

func newHub() *hub {
	return &hub{groups: make(map[string]map[*Inbox]struct{})}
}

// add возвращает first=true, если это первый локальный ящик группы
func (h *hub) add(group string, inbox *Inbox) (first, added bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		members = make(map[*Inbox]struct{})
		h.groups[group] = members
	}
	if _, exists := members[inbox]; exists {
		return false, false
	}
	members[inbox] = struct{}{}
	return len(members) == 1, true
}

// remove возвращает last=true, если группа опустела
func (h *hub) remove(group string, inbox *Inbox) (last, removed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return false, false
	}
	if _, exists := members[inbox]; !exists {
		return false, false
	}
	delete(members, inbox)
	if len(members) == 0 {
		delete(h.groups, group)
		return true, true
	}
	return false, true
}

func (h *hub) dispatch(group string, e Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for inbox := range h.groups[group] {
		if inbox.deliver(e) {
			delivered++
		}
	}
	return delivered
}

func (h *hub) size(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
