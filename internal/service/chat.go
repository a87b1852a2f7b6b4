package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"club_chat/internal/domain"
	"club_chat/internal/repository"
	apperrors "club_chat/pkg/errors"
	"club_chat/pkg/logger"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 50
)

type ChatService interface {
	ListChats(ctx context.Context, userID int64) ([]*domain.ChatRoom, error)
	GetOrCreateDirectChat(ctx context.Context, userID, otherID int64) (*domain.ChatRoom, bool, error)
	CreateGroup(ctx context.Context, creatorID int64, input CreateGroupInput) (*domain.ChatRoom, error)
	AddParticipant(ctx context.Context, roomID uuid.UUID, actorID, userID int64) error
	RemoveParticipant(ctx context.Context, roomID uuid.UUID, actorID, userID int64) error
	LeaveGroup(ctx context.Context, roomID uuid.UUID, userID int64) (bool, error)
	GetHistory(ctx context.Context, roomID uuid.UUID, userID int64, limit int) ([]*domain.Message, error)
}

type CreateGroupInput struct {
	Name           string  `json:"name" binding:"required"`
	Description    *string `json:"description"`
	ParticipantIDs []int64 `json:"participant_ids"`
}

type chatService struct {
	chatRepo repository.ChatRepository
	userRepo repository.UserRepository
	log      logger.Logger
}

func NewChatService(chatRepo repository.ChatRepository, userRepo repository.UserRepository, log logger.Logger) ChatService {
	return &chatService{
		chatRepo: chatRepo,
		userRepo: userRepo,
		log:      log,
	}
}

func (s *chatService) ListChats(ctx context.Context, userID int64) ([]*domain.ChatRoom, error) {
	return s.chatRepo.ListRoomsForUser(ctx, userID)
}

// GetOrCreateDirectChat идемпотентен при любом порядке аргументов
func (s *chatService) GetOrCreateDirectChat(ctx context.Context, userID, otherID int64) (*domain.ChatRoom, bool, error) {
	if userID == otherID {
		return nil, false, fmt.Errorf("%w: cannot create a direct chat with yourself", apperrors.ErrBadRequest)
	}
	if _, err := s.userRepo.GetByID(ctx, otherID); err != nil {
		return nil, false, err
	}

	room, created, err := s.chatRepo.GetOrCreateDirectRoom(ctx, userID, otherID)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Info("Direct chat created", "chat_id", room.ID, "user_id", userID, "other_id", otherID)
	}
	return room, created, nil
}

func (s *chatService) CreateGroup(ctx context.Context, creatorID int64, input CreateGroupInput) (*domain.ChatRoom, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrBadRequest)
	}

	// Дубликаты и создатель исключаются, несуществующие пользователи пропускаются
	seen := map[int64]struct{}{creatorID: {}}
	candidates := make([]int64, 0, len(input.ParticipantIDs))
	for _, id := range input.ParticipantIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		candidates = append(candidates, id)
	}
	members, err := s.userRepo.FilterExisting(ctx, candidates)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	creator := creatorID
	room := &domain.ChatRoom{
		ID:          uuid.New(),
		Kind:        domain.ChatKindGroup,
		Name:        &name,
		Description: input.Description,
		CreatedBy:   &creator,
		CreatedAt:   now,
	}
	participants := []*domain.Participant{
		{RoomID: room.ID, UserID: creatorID, Role: domain.ParticipantRoleAdmin, JoinedAt: now},
	}
	for _, id := range members {
		participants = append(participants, &domain.Participant{
			RoomID: room.ID, UserID: id, Role: domain.ParticipantRoleMember, JoinedAt: now,
		})
	}

	if err := s.chatRepo.CreateRoom(ctx, room, participants); err != nil {
		return nil, err
	}
	s.log.Info("Group chat created", "chat_id", room.ID, "creator_id", creatorID, "participants", len(participants))
	return room, nil
}

// requireGroupAdmin проверяет, что чат групповой и actor в нем админ
func (s *chatService) requireGroupAdmin(ctx context.Context, roomID uuid.UUID, actorID int64) error {
	room, err := s.chatRepo.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.Kind.IsGroup() {
		return apperrors.ErrDirectChatImmutable
	}

	actor, err := s.chatRepo.GetParticipant(ctx, roomID, actorID)
	if err != nil {
		if errors.Is(err, apperrors.ErrParticipantNotFound) {
			return apperrors.ErrNotParticipant
		}
		return err
	}
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: only admins can manage participants", apperrors.ErrForbidden)
	}
	return nil
}

func (s *chatService) AddParticipant(ctx context.Context, roomID uuid.UUID, actorID, userID int64) error {
	if err := s.requireGroupAdmin(ctx, roomID, actorID); err != nil {
		return err
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return err
	}

	err := s.chatRepo.AddParticipant(ctx, &domain.Participant{
		RoomID:   roomID,
		UserID:   userID,
		Role:     domain.ParticipantRoleMember,
		JoinedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	s.log.Info("Participant added", "chat_id", roomID, "user_id", userID, "actor_id", actorID)
	return nil
}

func (s *chatService) RemoveParticipant(ctx context.Context, roomID uuid.UUID, actorID, userID int64) error {
	if err := s.requireGroupAdmin(ctx, roomID, actorID); err != nil {
		return err
	}

	remaining, err := s.chatRepo.RemoveParticipant(ctx, roomID, userID)
	if err != nil {
		return err
	}
	s.log.Info("Participant removed", "chat_id", roomID, "user_id", userID, "actor_id", actorID, "remaining", remaining)
	return nil
}

// LeaveGroup сообщает, был ли чат удален после выхода последнего участника
func (s *chatService) LeaveGroup(ctx context.Context, roomID uuid.UUID, userID int64) (bool, error) {
	room, err := s.chatRepo.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	if !room.Kind.IsGroup() {
		return false, apperrors.ErrDirectChatImmutable
	}

	remaining, err := s.chatRepo.RemoveParticipant(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrParticipantNotFound) {
			return false, apperrors.ErrNotParticipant
		}
		return false, err
	}

	deleted := remaining == 0
	s.log.Info("Participant left chat", "chat_id", roomID, "user_id", userID, "chat_deleted", deleted)
	return deleted, nil
}

func (s *chatService) GetHistory(ctx context.Context, roomID uuid.UUID, userID int64, limit int) ([]*domain.Message, error) {
	ok, err := s.chatRepo.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrNotParticipant
	}

	if limit <= 0 || limit > MaxHistoryLimit {
		limit = DefaultHistoryLimit
	}
	return s.chatRepo.GetRecentMessages(ctx, roomID, limit)
}
