package gateway

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"club_chat/internal/domain"
)

// Входящие события клиента
const (
	InMessageSend = "message.send"
	InMarkRead    = "mark_read"
	InChatJoin    = "chat.join"
)

// Исходящие события сервера
const (
	OutInit         = "init"
	OutNewMessage   = "new_message"
	OutUnreadUpdate = "unread_update"
	OutError        = "error"
	OutHistory      = "history"
	OutMessage      = "message"
)

var (
	errMalformedEvent = errors.New("malformed client event")
	errMissingType    = errors.New("client event has no type")
	errUnknownType    = errors.New("unknown client event type")
	errInvalidChatID  = errors.New("invalid chat_id")
)

// clientEvent - разобранное входящее событие. Тип сравнивается с учетом регистра.
type clientEvent struct {
	Type        string
	ChatID      uuid.UUID
	HasChatID   bool
	Body        string
	ClientMsgID uuid.UUID
}

func parseClientEvent(data []byte) (clientEvent, error) {
	var ev clientEvent
	if !gjson.ValidBytes(data) {
		return ev, errMalformedEvent
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return ev, errMalformedEvent
	}

	t := root.Get("type")
	if t.Type != gjson.String || t.Str == "" {
		return ev, errMissingType
	}
	ev.Type = t.Str
	switch ev.Type {
	case InMessageSend, InMarkRead, InChatJoin:
	default:
		return ev, errUnknownType
	}

	if id := root.Get("chat_id"); id.Exists() && id.Type != gjson.Null {
		parsed, err := uuid.Parse(id.String())
		if err != nil {
			return ev, errInvalidChatID
		}
		ev.ChatID, ev.HasChatID = parsed, true
	}
	ev.Body = root.Get("body").String()

	// client_msg_id необязателен; невалидный игнорируется и будет сгенерирован
	if id := root.Get("client_msg_id"); id.Type == gjson.String {
		if parsed, err := uuid.Parse(id.Str); err == nil {
			ev.ClientMsgID = parsed
		}
	}
	return ev, nil
}

type messageData struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"sender_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
	ClientMsgID uuid.UUID `json:"client_msg_id"`
}

func newMessageData(m *domain.Message) messageData {
	return messageData{
		ID:          m.ID,
		SenderID:    m.SenderID,
		Body:        m.Body,
		CreatedAt:   m.CreatedAt.UTC(),
		ClientMsgID: m.ClientMsgID,
	}
}

type unreadEntry struct {
	UnreadCount int             `json:"unread_count"`
	ChatType    domain.ChatKind `json:"chat_type"`
}

type initFrame struct {
	Type string `json:"type"`
	Data struct {
		UnreadCounts map[string]unreadEntry `json:"unread_counts"`
	} `json:"data"`
}

type newMessageFrame struct {
	Type   string      `json:"type"`
	ChatID uuid.UUID   `json:"chat_id"`
	Data   messageData `json:"data"`
}

type unreadUpdateFrame struct {
	Type        string          `json:"type"`
	ChatID      uuid.UUID       `json:"chat_id"`
	ChatType    domain.ChatKind `json:"chat_type"`
	UnreadCount int             `json:"unread_count"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type historyFrame struct {
	Type string        `json:"type"`
	Data []messageData `json:"data"`
}

type messageFrame struct {
	Type string      `json:"type"`
	Data messageData `json:"data"`
}

func encodeInit(counts []domain.UnreadCount) ([]byte, error) {
	frame := initFrame{Type: OutInit}
	frame.Data.UnreadCounts = make(map[string]unreadEntry, len(counts))
	for _, c := range counts {
		if c.Count <= 0 {
			continue
		}
		frame.Data.UnreadCounts[c.RoomID.String()] = unreadEntry{UnreadCount: c.Count, ChatType: c.Kind}
	}
	return json.Marshal(frame)
}

func encodeNewMessage(m *domain.Message) ([]byte, error) {
	return json.Marshal(newMessageFrame{Type: OutNewMessage, ChatID: m.RoomID, Data: newMessageData(m)})
}

func encodeUnreadUpdate(roomID uuid.UUID, kind domain.ChatKind, count int) ([]byte, error) {
	return json.Marshal(unreadUpdateFrame{Type: OutUnreadUpdate, ChatID: roomID, ChatType: kind, UnreadCount: count})
}

func encodeError(message string) ([]byte, error) {
	return json.Marshal(errorFrame{Type: OutError, Message: message})
}

func encodeHistory(messages []*domain.Message) ([]byte, error) {
	frame := historyFrame{Type: OutHistory, Data: make([]messageData, 0, len(messages))}
	for _, m := range messages {
		frame.Data = append(frame.Data, newMessageData(m))
	}
	return json.Marshal(frame)
}

func encodeMessage(m *domain.Message) ([]byte, error) {
	return json.Marshal(messageFrame{Type: OutMessage, Data: newMessageData(m)})
}
