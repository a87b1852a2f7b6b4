package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"club_chat/internal/domain"
	apperrors "club_chat/pkg/errors"
	"club_chat/pkg/logger"
)

const unreadCountQuery = `
	SELECT COUNT(*)
	FROM message m
	JOIN participant p ON p.room_id = m.room_id AND p.user_id = ?
	WHERE m.room_id = ?
	  AND m.sender_id <> ?
	  AND m.created_at > COALESCE(p.last_read_at, p.joined_at)
`

const unreadCountsQuery = `
	SELECT p.room_id AS room_id, r.kind AS kind, COUNT(m.id) AS count
	FROM participant p
	JOIN chat_room r ON r.id = p.room_id
	JOIN message m ON m.room_id = p.room_id
	     AND m.sender_id <> p.user_id
	     AND m.created_at > COALESCE(p.last_read_at, p.joined_at)
	WHERE p.user_id = ?
	GROUP BY p.room_id, r.kind
`

type gormChatRepository struct {
	db  *gorm.DB
	log logger.Logger
}

func NewGormChatRepository(db *gorm.DB, log logger.Logger) ChatRepository {
	return &gormChatRepository{db: db, log: log}
}

func (r *gormChatRepository) GetParticipantRoomIDs(ctx context.Context, userID int64) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&participantRow{}).
		Where("user_id = ?", userID).
		Pluck("room_id", &ids).Error
	if err != nil {
		r.log.Error("Failed to get participant rooms", "error", err, "user_id", userID)
		return nil, err
	}
	return ids, nil
}

func (r *gormChatRepository) IsParticipant(ctx context.Context, roomID uuid.UUID, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&participantRow{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		r.log.Error("Failed to check participant", "error", err, "room_id", roomID)
		return false, err
	}
	return count > 0, nil
}

func (r *gormChatRepository) CreateMessage(ctx context.Context, message *domain.Message) error {
	prepareMessage(message)
	message.CreatedAt = message.CreatedAt.UTC()

	row := messageRow{
		RoomID:      message.RoomID,
		SenderID:    message.SenderID,
		Body:        message.Body,
		CreatedAt:   message.CreatedAt,
		ClientMsgID: message.ClientMsgID,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.log.Error("Failed to create message", "error", err, "room_id", message.RoomID)
		return err
	}
	message.ID = row.ID
	return nil
}

func (r *gormChatRepository) GetOtherParticipantIDs(ctx context.Context, roomID uuid.UUID, senderID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&participantRow{}).
		Where("room_id = ? AND user_id <> ?", roomID, senderID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		r.log.Error("Failed to get other participants", "error", err, "room_id", roomID)
		return nil, err
	}
	return ids, nil
}

func (r *gormChatRepository) GetRoomKind(ctx context.Context, roomID uuid.UUID) (domain.ChatKind, error) {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return "", err
	}
	return room.Kind, nil
}

func (r *gormChatRepository) CountUnread(ctx context.Context, roomID uuid.UUID, userID int64) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(unreadCountQuery, userID, roomID, userID).Scan(&count).Error
	if err != nil {
		r.log.Error("Failed to count unread", "error", err, "room_id", roomID, "user_id", userID)
		return 0, err
	}
	return int(count), nil
}

func (r *gormChatRepository) ListUnreadCounts(ctx context.Context, userID int64) ([]domain.UnreadCount, error) {
	var rows []struct {
		RoomID uuid.UUID
		Kind   string
		Count  int
	}
	if err := r.db.WithContext(ctx).Raw(unreadCountsQuery, userID).Scan(&rows).Error; err != nil {
		r.log.Error("Failed to list unread counts", "error", err, "user_id", userID)
		return nil, err
	}

	counts := make([]domain.UnreadCount, 0, len(rows))
	for _, row := range rows {
		counts = append(counts, domain.UnreadCount{RoomID: row.RoomID, Kind: domain.ChatKind(row.Kind), Count: row.Count})
	}
	return counts, nil
}

func (r *gormChatRepository) SetLastRead(ctx context.Context, roomID uuid.UUID, userID int64, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&participantRow{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("last_read_at", at.UTC())
	if res.Error != nil {
		r.log.Error("Failed to set last read", "error", res.Error, "room_id", roomID, "user_id", userID)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrParticipantNotFound
	}
	return nil
}

func (r *gormChatRepository) GetRecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*domain.Message, error) {
	var rows []messageRow
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		r.log.Error("Failed to get messages", "error", err, "room_id", roomID)
		return nil, err
	}

	messages := make([]*domain.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toDomain())
	}
	reverseMessages(messages)
	return messages, nil
}

func (r *gormChatRepository) GetRoom(ctx context.Context, roomID uuid.UUID) (*domain.ChatRoom, error) {
	var row chatRoomRow
	if err := r.db.WithContext(ctx).Where("id = ?", roomID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrChatNotFound
		}
		r.log.Error("Failed to get chat", "error", err, "room_id", roomID)
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *gormChatRepository) ListRoomsForUser(ctx context.Context, userID int64) ([]*domain.ChatRoom, error) {
	var rows []chatRoomRow
	err := r.db.WithContext(ctx).
		Joins("JOIN participant p ON p.room_id = chat_room.id").
		Where("p.user_id = ?", userID).
		Order("chat_room.created_at DESC").
		Find(&rows).Error
	if err != nil {
		r.log.Error("Failed to list chats", "error", err, "user_id", userID)
		return nil, err
	}

	rooms := make([]*domain.ChatRoom, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, row.toDomain())
	}
	return rooms, nil
}

func (r *gormChatRepository) GetParticipant(ctx context.Context, roomID uuid.UUID, userID int64) (*domain.Participant, error) {
	var row participantRow
	err := r.db.WithContext(ctx).Where("room_id = ? AND user_id = ?", roomID, userID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrParticipantNotFound
		}
		r.log.Error("Failed to get participant", "error", err, "room_id", roomID)
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *gormChatRepository) GetOrCreateDirectRoom(ctx context.Context, userA, userB int64) (*domain.ChatRoom, bool, error) {
	var (
		result  *domain.ChatRoom
		created bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row chatRoomRow
		err := tx.
			Where("kind = ?", string(domain.ChatKindDirect)).
			Where("EXISTS (SELECT 1 FROM participant p WHERE p.room_id = chat_room.id AND p.user_id = ?)", userA).
			Where("EXISTS (SELECT 1 FROM participant p WHERE p.room_id = chat_room.id AND p.user_id = ?)", userB).
			Where("(SELECT COUNT(*) FROM participant p WHERE p.room_id = chat_room.id) = 2").
			Order("created_at").
			Take(&row).Error
		if err == nil {
			result = row.toDomain()
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		room, participants := newDirectRoom(userA, userB)
		if err := createRoomRows(tx, room, participants); err != nil {
			return err
		}
		result, created = room, true
		return nil
	})
	if err != nil {
		r.log.Error("Failed to get or create direct chat", "error", err)
		return nil, false, err
	}
	return result, created, nil
}

func (r *gormChatRepository) CreateRoom(ctx context.Context, room *domain.ChatRoom, participants []*domain.Participant) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return createRoomRows(tx, room, participants)
	})
	if err != nil {
		r.log.Error("Failed to create chat", "error", err)
	}
	return err
}

func createRoomRows(tx *gorm.DB, room *domain.ChatRoom, participants []*domain.Participant) error {
	roomRow := chatRoomRow{
		ID:          room.ID,
		Kind:        string(room.Kind),
		Name:        room.Name,
		Description: room.Description,
		CreatedBy:   room.CreatedBy,
		CreatedAt:   room.CreatedAt.UTC(),
	}
	if err := tx.Create(&roomRow).Error; err != nil {
		return err
	}
	if len(participants) == 0 {
		return nil
	}

	rows := make([]participantRow, 0, len(participants))
	for _, p := range participants {
		rows = append(rows, participantRow{
			RoomID:   room.ID,
			UserID:   p.UserID,
			Role:     p.Role,
			JoinedAt: p.JoinedAt.UTC(),
		})
	}
	return tx.Create(&rows).Error
}

func (r *gormChatRepository) AddParticipant(ctx context.Context, participant *domain.Participant) error {
	if participant.JoinedAt.IsZero() {
		participant.JoinedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&participantRow{}).
			Where("room_id = ? AND user_id = ?", participant.RoomID, participant.UserID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperrors.ErrAlreadyParticipant
		}
		row := participantRow{
			RoomID:   participant.RoomID,
			UserID:   participant.UserID,
			Role:     participant.Role,
			JoinedAt: participant.JoinedAt.UTC(),
		}
		return tx.Create(&row).Error
	})
}

func (r *gormChatRepository) RemoveParticipant(ctx context.Context, roomID uuid.UUID, userID int64) (int, error) {
	var remaining int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&participantRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrParticipantNotFound
		}
		if err := tx.Model(&participantRow{}).Where("room_id = ?", roomID).Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			return deleteRoomRows(tx, roomID)
		}
		return nil
	})
	if err != nil && !errors.Is(err, apperrors.ErrParticipantNotFound) {
		r.log.Error("Failed to remove participant", "error", err, "room_id", roomID)
	}
	return int(remaining), err
}

func (r *gormChatRepository) DeleteRoom(ctx context.Context, roomID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&chatRoomRow{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return apperrors.ErrChatNotFound
		}
		return deleteRoomRows(tx, roomID)
	})
}

// Каскад вручную: SQLite не включает внешние ключи по умолчанию
func deleteRoomRows(tx *gorm.DB, roomID uuid.UUID) error {
	if err := tx.Where("room_id = ?", roomID).Delete(&messageRow{}).Error; err != nil {
		return err
	}
	if err := tx.Where("room_id = ?", roomID).Delete(&participantRow{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", roomID).Delete(&chatRoomRow{}).Error
}
