package http

import (
	"net/http"
	"strings"
	"time"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	"parley/internal/infrastructure/signal"
	"parley/pkg/errors"
	"parley/pkg/utils"
	"parley/pkg/validation"

	"github.com/gin-gonic/gin"
)

// MessageHandler is the collaborator surface between the data layer and the
// relay: once a message is accepted here, message:new is fanned out to every
// conversation member except the sender. Persistence stays with the data
// layer.
type MessageHandler struct {
	dispatcher ports.Dispatcher
	directory  ports.ConversationDirectory
}

func NewMessageHandler(dispatcher ports.Dispatcher, directory ports.ConversationDirectory) *MessageHandler {
	return &MessageHandler{
		dispatcher: dispatcher,
		directory:  directory,
	}
}

func (h *MessageHandler) SetupRoutes(router *gin.Engine, authRequired gin.HandlerFunc) {
	api := router.Group("/api/v1/messages")
	if authRequired != nil {
		api.Use(authRequired)
	}
	api.POST("", h.SendMessage)
}

type SendMessageRequest struct {
	ConversationID string `json:"conversation_id" binding:"required,max=100"`
	Content        string `json:"content" binding:"required,max=8192"`
}

func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateConversationID(req.ConversationID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if err := validation.ValidateMessageContent(req.Content); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	senderID, ok := senderFromContext(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("sender identity required"))
		return
	}

	conversationID := domain.ConversationID(req.ConversationID)
	members, err := h.directory.Members(c.Request.Context(), conversationID)
	if err != nil {
		c.Error(errors.NewNotFoundError("conversation"))
		return
	}

	payload := signal.MessageNewPayload{
		ConversationID: conversationID,
		MessageID:      utils.GenerateMessageID(),
		SenderID:       senderID,
		Content:        req.Content,
		SentAt:         time.Now().Unix(),
	}

	delivered := 0
	for _, member := range members {
		if member == senderID {
			continue
		}
		if err := h.dispatcher.Deliver(c.Request.Context(), member, signal.EventMessageNew, payload); err == nil {
			delivered++
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message_id": payload.MessageID,
		"delivered":  delivered,
	})
}

func senderFromContext(c *gin.Context) (domain.UserID, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		return "", false
	}
	id, ok := v.(domain.UserID)
	return id, ok
}
