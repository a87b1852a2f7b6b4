package domain

import (
	"time"

	"github.com/google/uuid"
)

type ChatKind string

const (
	ChatKindDirect       ChatKind = "direct"
	ChatKindGroup        ChatKind = "group"
	ChatKindGeneralGroup ChatKind = "general_group"
)

// IsGroup сообщает, поддерживает ли чат изменение состава участников
func (k ChatKind) IsGroup() bool {
	return k == ChatKindGroup || k == ChatKindGeneralGroup
}

func (k ChatKind) Valid() bool {
	return k == ChatKindDirect || k.IsGroup()
}

type ChatRoom struct {
	ID          uuid.UUID `json:"id"`
	Kind        ChatKind  `json:"chat_type"`
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	CreatedBy   *int64    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Participant struct {
	RoomID     uuid.UUID  `json:"chat_id"`
	UserID     int64      `json:"user_id"`
	Role       string     `json:"role"`
	JoinedAt   time.Time  `json:"joined_at"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
}

// Watermark - момент, до которого сообщения считаются прочитанными
func (p *Participant) Watermark() time.Time {
	if p.LastReadAt != nil {
		return *p.LastReadAt
	}
	return p.JoinedAt
}

func (p *Participant) IsAdmin() bool {
	return p.Role == ParticipantRoleAdmin
}

type Message struct {
	ID          int64     `json:"id"`
	RoomID      uuid.UUID `json:"chat_id"`
	SenderID    int64     `json:"sender_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
	ClientMsgID uuid.UUID `json:"client_msg_id"`
}

// UnreadCount - непрочитанные сообщения пользователя в одном чате
type UnreadCount struct {
	RoomID uuid.UUID `json:"chat_id"`
	Kind   ChatKind  `json:"chat_type"`
	Count  int       `json:"unread_count"`
}

const (
	ParticipantRoleAdmin  = "admin"
	ParticipantRoleMember = "member"
)
