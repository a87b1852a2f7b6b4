package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"club_chat/internal/domain"
	apperrors "club_chat/pkg/errors"
	"club_chat/pkg/logger"
)

// ChatRepository - шлюз к хранилищу чатов, участников и сообщений.
// Все методы синхронны: сессия не продолжает работу, пока вызов не вернулся.
type ChatRepository interface {
	GetParticipantRoomIDs(ctx context.Context, userID int64) ([]uuid.UUID, error)
	IsParticipant(ctx context.Context, roomID uuid.UUID, userID int64) (bool, error)
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetOtherParticipantIDs(ctx context.Context, roomID uuid.UUID, senderID int64) ([]int64, error)
	GetRoomKind(ctx context.Context, roomID uuid.UUID) (domain.ChatKind, error)
	CountUnread(ctx context.Context, roomID uuid.UUID, userID int64) (int, error)
	ListUnreadCounts(ctx context.Context, userID int64) ([]domain.UnreadCount, error)
	SetLastRead(ctx context.Context, roomID uuid.UUID, userID int64, at time.Time) error
	GetRecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*domain.Message, error)

	GetRoom(ctx context.Context, roomID uuid.UUID) (*domain.ChatRoom, error)
	ListRoomsForUser(ctx context.Context, userID int64) ([]*domain.ChatRoom, error)
	GetParticipant(ctx context.Context, roomID uuid.UUID, userID int64) (*domain.Participant, error)
	GetOrCreateDirectRoom(ctx context.Context, userA, userB int64) (*domain.ChatRoom, bool, error)
	CreateRoom(ctx context.Context, room *domain.ChatRoom, participants []*domain.Participant) error
	AddParticipant(ctx context.Context, participant *domain.Participant) error
	RemoveParticipant(ctx context.Context, roomID uuid.UUID, userID int64) (int, error)
	DeleteRoom(ctx context.Context, roomID uuid.UUID) error
}

const uniqueViolation = "23505"

type chatRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewChatRepository(db *pgxpool.Pool, log logger.Logger) ChatRepository {
	return &chatRepository{db: db, log: log}
}

func (r *chatRepository) GetParticipantRoomIDs(ctx context.Context, userID int64) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT room_id FROM participant WHERE user_id = $1`, userID)
	if err != nil {
		r.log.Error("Failed to get participant rooms", "error", err, "user_id", userID)
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *chatRepository) IsParticipant(ctx context.Context, roomID uuid.UUID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM participant WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		r.log.Error("Failed to check participant", "error", err, "room_id", roomID)
		return false, err
	}
	return exists, nil
}

func (r *chatRepository) CreateMessage(ctx context.Context, message *domain.Message) error {
	prepareMessage(message)

	query := `
		INSERT INTO message (room_id, sender_id, body, created_at, client_msg_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		message.RoomID, message.SenderID, message.Body, message.CreatedAt, message.ClientMsgID,
	).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		r.log.Error("Failed to create message", "error", err, "room_id", message.RoomID)
		return fmt.Errorf("failed to create message: %w", err)
	}
	message.CreatedAt = message.CreatedAt.UTC()
	return nil
}

func (r *chatRepository) GetOtherParticipantIDs(ctx context.Context, roomID uuid.UUID, senderID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id FROM participant WHERE room_id = $1 AND user_id <> $2 ORDER BY user_id`,
		roomID, senderID,
	)
	if err != nil {
		r.log.Error("Failed to get other participants", "error", err, "room_id", roomID)
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *chatRepository) GetRoomKind(ctx context.Context, roomID uuid.UUID) (domain.ChatKind, error) {
	var kind domain.ChatKind
	err := r.db.QueryRow(ctx, `SELECT kind FROM chat_room WHERE id = $1`, roomID).Scan(&kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrChatNotFound
		}
		r.log.Error("Failed to get chat kind", "error", err, "room_id", roomID)
		return "", err
	}
	return kind, nil
}

func (r *chatRepository) CountUnread(ctx context.Context, roomID uuid.UUID, userID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM message m
		JOIN participant p ON p.room_id = m.room_id AND p.user_id = $2
		WHERE m.room_id = $1
		  AND m.sender_id <> $2
		  AND m.created_at > COALESCE(p.last_read_at, p.joined_at)
	`
	var count int
	if err := r.db.QueryRow(ctx, query, roomID, userID).Scan(&count); err != nil {
		r.log.Error("Failed to count unread", "error", err, "room_id", roomID, "user_id", userID)
		return 0, err
	}
	return count, nil
}

func (r *chatRepository) ListUnreadCounts(ctx context.Context, userID int64) ([]domain.UnreadCount, error) {
	query := `
		SELECT p.room_id, r.kind, COUNT(m.id)
		FROM participant p
		JOIN chat_room r ON r.id = p.room_id
		JOIN message m ON m.room_id = p.room_id
		     AND m.sender_id <> p.user_id
		     AND m.created_at > COALESCE(p.last_read_at, p.joined_at)
		WHERE p.user_id = $1
		GROUP BY p.room_id, r.kind
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.log.Error("Failed to list unread counts", "error", err, "user_id", userID)
		return nil, err
	}
	defer rows.Close()

	var counts []domain.UnreadCount
	for rows.Next() {
		var c domain.UnreadCount
		if err := rows.Scan(&c.RoomID, &c.Kind, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (r *chatRepository) SetLastRead(ctx context.Context, roomID uuid.UUID, userID int64, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE participant SET last_read_at = $3 WHERE room_id = $1 AND user_id = $2`,
		roomID, userID, at.UTC(),
	)
	if err != nil {
		r.log.Error("Failed to set last read", "error", err, "room_id", roomID, "user_id", userID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrParticipantNotFound
	}
	return nil
}

func (r *chatRepository) GetRecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, room_id, sender_id, body, created_at, client_msg_id
		FROM message
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, roomID, limit)
	if err != nil {
		r.log.Error("Failed to get messages", "error", err, "room_id", roomID)
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Body, &m.CreatedAt, &m.ClientMsgID); err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverseMessages(messages)
	return messages, nil
}

const roomColumns = `r.id, r.kind, r.name, r.description, r.created_by, r.created_at`

func scanRoom(row pgx.Row) (*domain.ChatRoom, error) {
	room := &domain.ChatRoom{}
	err := row.Scan(&room.ID, &room.Kind, &room.Name, &room.Description, &room.CreatedBy, &room.CreatedAt)
	if err != nil {
		return nil, err
	}
	room.CreatedAt = room.CreatedAt.UTC()
	return room, nil
}

func (r *chatRepository) GetRoom(ctx context.Context, roomID uuid.UUID) (*domain.ChatRoom, error) {
	room, err := scanRoom(r.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM chat_room r WHERE r.id = $1`, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrChatNotFound
		}
		r.log.Error("Failed to get chat", "error", err, "room_id", roomID)
		return nil, err
	}
	return room, nil
}

func (r *chatRepository) ListRoomsForUser(ctx context.Context, userID int64) ([]*domain.ChatRoom, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+roomColumns+`
		FROM chat_room r
		JOIN participant p ON p.room_id = r.id
		WHERE p.user_id = $1
		ORDER BY r.created_at DESC
	`, userID)
	if err != nil {
		r.log.Error("Failed to list chats", "error", err, "user_id", userID)
		return nil, err
	}
	defer rows.Close()

	var rooms []*domain.ChatRoom
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (r *chatRepository) GetParticipant(ctx context.Context, roomID uuid.UUID, userID int64) (*domain.Participant, error) {
	p := &domain.Participant{}
	err := r.db.QueryRow(ctx, `
		SELECT room_id, user_id, role, joined_at, last_read_at
		FROM participant
		WHERE room_id = $1 AND user_id = $2
	`, roomID, userID).Scan(&p.RoomID, &p.UserID, &p.Role, &p.JoinedAt, &p.LastReadAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrParticipantNotFound
		}
		r.log.Error("Failed to get participant", "error", err, "room_id", roomID)
		return nil, err
	}
	return p, nil
}

func (r *chatRepository) GetOrCreateDirectRoom(ctx context.Context, userA, userB int64) (*domain.ChatRoom, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	// Сериализуем создание по паре пользователей, чтобы не получить два direct-чата
	lo, hi := orderedPair(userA, userB)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, fmt.Sprintf("direct:%d:%d", lo, hi)); err != nil {
		r.log.Error("Failed to lock direct chat pair", "error", err)
		return nil, false, err
	}

	room, err := scanRoom(tx.QueryRow(ctx, `
		SELECT `+roomColumns+`
		FROM chat_room r
		WHERE r.kind = $1
		  AND EXISTS (SELECT 1 FROM participant p WHERE p.room_id = r.id AND p.user_id = $2)
		  AND EXISTS (SELECT 1 FROM participant p WHERE p.room_id = r.id AND p.user_id = $3)
		  AND (SELECT COUNT(*) FROM participant p WHERE p.room_id = r.id) = 2
		ORDER BY r.created_at
		LIMIT 1
	`, domain.ChatKindDirect, userA, userB))
	if err == nil {
		return room, false, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.log.Error("Failed to find direct chat", "error", err)
		return nil, false, err
	}

	room, participants := newDirectRoom(userA, userB)
	if err := insertRoom(ctx, tx, room, participants); err != nil {
		r.log.Error("Failed to create direct chat", "error", err)
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return room, true, nil
}

func (r *chatRepository) CreateRoom(ctx context.Context, room *domain.ChatRoom, participants []*domain.Participant) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertRoom(ctx, tx, room, participants); err != nil {
		r.log.Error("Failed to create chat", "error", err)
		return err
	}
	return tx.Commit(ctx)
}

func insertRoom(ctx context.Context, tx pgx.Tx, room *domain.ChatRoom, participants []*domain.Participant) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO chat_room (id, kind, name, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, room.ID, room.Kind, room.Name, room.Description, room.CreatedBy, room.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chat: %w", err)
	}

	for _, p := range participants {
		_, err := tx.Exec(ctx, `
			INSERT INTO participant (room_id, user_id, role, joined_at)
			VALUES ($1, $2, $3, $4)
		`, room.ID, p.UserID, p.Role, p.JoinedAt)
		if err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
	}
	return nil
}

func (r *chatRepository) AddParticipant(ctx context.Context, participant *domain.Participant) error {
	if participant.JoinedAt.IsZero() {
		participant.JoinedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO participant (room_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`, participant.RoomID, participant.UserID, participant.Role, participant.JoinedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.ErrAlreadyParticipant
		}
		r.log.Error("Failed to add participant", "error", err, "room_id", participant.RoomID)
		return err
	}
	return nil
}

func (r *chatRepository) RemoveParticipant(ctx context.Context, roomID uuid.UUID, userID int64) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM participant WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		r.log.Error("Failed to remove participant", "error", err, "room_id", roomID)
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, apperrors.ErrParticipantNotFound
	}

	var remaining int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM participant WHERE room_id = $1`, roomID).Scan(&remaining); err != nil {
		return 0, err
	}
	// Чат без участников не существует
	if remaining == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM chat_room WHERE id = $1`, roomID); err != nil {
			r.log.Error("Failed to delete empty chat", "error", err, "room_id", roomID)
			return 0, err
		}
	}
	return remaining, tx.Commit(ctx)
}

func (r *chatRepository) DeleteRoom(ctx context.Context, roomID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM chat_room WHERE id = $1`, roomID)
	if err != nil {
		r.log.Error("Failed to delete chat", "error", err, "room_id", roomID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrChatNotFound
	}
	return nil
}

func prepareMessage(message *domain.Message) {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	if message.ClientMsgID == uuid.Nil {
		message.ClientMsgID = uuid.New()
	}
}

func newDirectRoom(userA, userB int64) (*domain.ChatRoom, []*domain.Participant) {
	now := time.Now().UTC()
	creator := userA
	room := &domain.ChatRoom{
		ID:        uuid.New(),
		Kind:      domain.ChatKindDirect,
		CreatedBy: &creator,
		CreatedAt: now,
	}
	// В direct-чатах нет админов
	participants := []*domain.Participant{
		{RoomID: room.ID, UserID: userA, Role: domain.ParticipantRoleMember, JoinedAt: now},
		{RoomID: room.ID, UserID: userB, Role: domain.ParticipantRoleMember, JoinedAt: now},
	}
	return room, participants
}

func orderedPair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

func reverseMessages(messages []*domain.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
