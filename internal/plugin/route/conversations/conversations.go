package conversations

import (
	"errors"
	"net/http"

	"github.com/chirino/ticket-chat/internal/chat"
	"github.com/gin-gonic/gin"
)

// SessionSource returns the session currently on screen, or nil when none is open.
type SessionSource func() *chat.Session

// MountRoutes mounts the conversation routes on the management router.
// Called after the client has started so the session source is available.
func MountRoutes(r *gin.Engine, current SessionSource) {
	g := r.Group("/v1")

	g.GET("/snapshot", func(c *gin.Context) {
		getSnapshot(c, current())
	})
	g.POST("/messages", func(c *gin.Context) {
		postMessage(c, current())
	})
}

func getSnapshot(c *gin.Context, s *chat.Session) {
	if s == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "no_conversation", "error": "no conversation is open"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversationId": s.ConversationID(),
		"status":         s.Status(),
		"data":           s.Snapshot(),
	})
}

func postMessage(c *gin.Context, s *chat.Session) {
	if s == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "no_conversation", "error": "no conversation is open"})
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.ComposeAndSend(c.Request.Context(), req.Body); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func handleError(c *gin.Context, err error) {
	var sendErr *chat.SendError
	switch {
	case errors.Is(err, chat.ErrEmptyBody):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
	case errors.Is(err, chat.ErrNoConversation):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "no_conversation", "error": err.Error()})
	case errors.Is(err, chat.ErrConversationChanged):
		c.JSON(http.StatusConflict, gin.H{"code": "conversation_changed", "error": err.Error()})
	case errors.As(err, &sendErr):
		c.JSON(http.StatusBadGateway, gin.H{"code": "send_failed", "error": err.Error(), "clientId": sendErr.ClientID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
