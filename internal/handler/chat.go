package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"club_chat/internal/middleware"
	"club_chat/internal/service"
	"club_chat/pkg/logger"
)

type ChatHandler struct {
	chatService service.ChatService
	log         logger.Logger
}

func NewChatHandler(chatService service.ChatService, log logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		log:         log,
	}
}

func parseChatID(c *gin.Context) (uuid.UUID, bool) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat ID"})
		return uuid.Nil, false
	}
	return roomID, true
}

func (h *ChatHandler) List(c *gin.Context) {
	rooms, err := h.chatService.ListChats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, rooms)
}

type DirectChatRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

func (h *ChatHandler) GetOrCreateDirect(c *gin.Context) {
	var req DirectChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, created, err := h.chatService.GetOrCreateDirectChat(c.Request.Context(), middleware.UserID(c), req.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, room)
}

func (h *ChatHandler) CreateGroup(c *gin.Context) {
	var req service.CreateGroupInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.chatService.CreateGroup(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, room)
}

type ParticipantRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

func (h *ChatHandler) AddParticipant(c *gin.Context) {
	roomID, ok := parseChatID(c)
	if !ok {
		return
	}

	var req ParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.AddParticipant(c.Request.Context(), roomID, middleware.UserID(c), req.UserID); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"chat_id": roomID, "user_id": req.UserID})
}

func (h *ChatHandler) RemoveParticipant(c *gin.Context) {
	roomID, ok := parseChatID(c)
	if !ok {
		return
	}

	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	if err := h.chatService.RemoveParticipant(c.Request.Context(), roomID, middleware.UserID(c), userID); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) Leave(c *gin.Context) {
	roomID, ok := parseChatID(c)
	if !ok {
		return
	}

	deleted, err := h.chatService.LeaveGroup(c.Request.Context(), roomID, middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"chat_id": roomID, "chat_deleted": deleted})
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	roomID, ok := parseChatID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	messages, err := h.chatService.GetHistory(c.Request.Context(), roomID, middleware.UserID(c), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, messages)
}
