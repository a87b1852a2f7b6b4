// Package presence рассылает события по именованным группам.
// Группа - набор почтовых ящиков (Inbox) активных сессий; реализации
// отличаются только транспортом между процессами.
package presence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"club_chat/internal/domain"
)

const (
	EventChatMessage  = "chat.message"
	EventUnreadUpdate = "unread.update"
)

// Event - конверт, который ходит через слой каналов
type Event struct {
	Type        string          `json:"type"`
	RoomID      uuid.UUID       `json:"room_id"`
	Message     *domain.Message `json:"message,omitempty"`
	Kind        domain.ChatKind `json:"chat_type,omitempty"`
	UnreadCount int             `json:"unread_count"`
}

// Registry - членство ящиков в группах и публикация в группы.
// Join не возвращается, пока подписка не подтверждена транспортом.
// Leave идемпотентен. Порядок событий одного издателя в одной группе сохраняется.
type Registry interface {
	Join(ctx context.Context, group string, inbox *Inbox) error
	Leave(ctx context.Context, group string, inbox *Inbox) error
	Publish(ctx context.Context, group string, event Event) error
	Close() error
}

// UserGroup - персональная группа пользователя
func UserGroup(userID int64) string {
	return fmt.Sprintf("user_%d", userID)
}

// ChatGroup - группа комнаты
func ChatGroup(roomID uuid.UUID) string {
	return "chat_" + roomID.String()
}
