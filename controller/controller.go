package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/constella/horizon-backend/models"
	"github.com/constella/horizon-backend/services"
)

const defaultRequestTimeout = 120 * time.Second

// Controller handles the HTTP facade for the capture, conversation and
// tag operations. It depends on the services to perform the actual
// business logic.
type Controller struct {
	contexts *services.ContextService
	ai       *services.AIService
	tags     *services.TagCache

	requestTimeout time.Duration
}

// NewController is a constructor function that creates a new Controller.
// This is called from main.go to inject the service dependencies.
func NewController(contexts *services.ContextService, ai *services.AIService, tags *services.TagCache) *Controller {
	return &Controller{contexts: contexts, ai: ai, tags: tags, requestTimeout: defaultRequestTimeout}
}

// opCtx detaches core work from the request's lifetime. A client
// disconnect must not cancel an in-flight capture, send, or refresh;
// the facade's own timeout is the only cancellation trigger.
func (c *Controller) opCtx(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx.Request.Context()), c.requestTimeout)
}

// Register wires the facade routes onto the given router group.
func (c *Controller) Register(api *gin.RouterGroup) {
	api.POST("/context/capture", c.CaptureContext)
	api.POST("/context/search", c.SearchContext)
	api.GET("/context/current", c.CurrentContext)

	api.POST("/ai/send-message", c.SendMessage)
	api.GET("/ai/messages", c.GetMessages)
	api.POST("/ai/clear-conversation", c.ClearConversation)
	api.GET("/ai/status", c.GetAIStatus)

	api.GET("/tags/search", c.SearchTags)
	api.GET("/tags/:id", c.GetTag)
	api.POST("/tags/refresh", c.RefreshTags)
}

// CaptureContext is the handler for POST /context/capture.
func (c *Controller) CaptureContext(ctx *gin.Context) {
	var req models.CaptureRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	opCtx, cancel := c.opCtx(ctx)
	defer cancel()
	note, err := c.contexts.Capture(opCtx, req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, note)
}

// SearchContext is the handler for POST /context/search.
func (c *Controller) SearchContext(ctx *gin.Context) {
	var req models.SearchContextRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	notes := c.contexts.Search(req.Query, req.Limit)
	ctx.JSON(http.StatusOK, models.SearchContextResponse{Count: len(notes), Notes: notes})
}

// CurrentContext is the handler for GET /context/current.
func (c *Controller) CurrentContext(ctx *gin.Context) {
	sessionID := ctx.Query("session_id")
	snap, ok := c.contexts.Current(sessionID)
	if !ok {
		ctx.JSON(http.StatusOK, gin.H{"snapshot": nil})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"snapshot": snap})
}

// SendMessage is the handler for POST /ai/send-message.
func (c *Controller) SendMessage(ctx *gin.Context) {
	var req models.SendMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	opCtx, cancel := c.opCtx(ctx)
	defer cancel()
	sessionID, msg, err := c.ai.Send(opCtx, req.SessionID, req.Text, req.UseExtendedContext, req.SmarterAnalysis)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.SendMessageResponse{SessionID: sessionID, Message: msg})
}

// GetMessages is the handler for GET /ai/messages.
func (c *Controller) GetMessages(ctx *gin.Context) {
	sessionID := ctx.Query("session_id")
	messages, err := c.ai.History(sessionID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.MessagesResponse{SessionID: sessionID, Count: len(messages), Messages: messages})
}

// ClearConversation is the handler for POST /ai/clear-conversation.
func (c *Controller) ClearConversation(ctx *gin.Context) {
	var req models.ClearConversationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := c.ai.Clear(req.SessionID); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Conversation cleared successfully"})
}

// GetAIStatus is the handler for GET /ai/status.
func (c *Controller) GetAIStatus(ctx *gin.Context) {
	sessionID := ctx.Query("session_id")
	status, err := c.ai.Status(sessionID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, status)
}

// SearchTags is the handler for GET /tags/search.
func (c *Controller) SearchTags(ctx *gin.Context) {
	prefix := ctx.Query("prefix")
	tags := c.tags.Search(prefix)
	ctx.JSON(http.StatusOK, models.TagSearchResponse{Query: prefix, Count: len(tags), Tags: tags})
}

// GetTag is the handler for GET /tags/:id.
func (c *Controller) GetTag(ctx *gin.Context) {
	tag, ok := c.tags.Get(ctx.Param("id"))
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "Tag not found"})
		return
	}
	ctx.JSON(http.StatusOK, tag)
}

// RefreshTags is the handler for POST /tags/refresh.
func (c *Controller) RefreshTags(ctx *gin.Context) {
	opCtx, cancel := c.opCtx(ctx)
	defer cancel()
	result, err := c.tags.Refresh(opCtx)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.RefreshTagsResponse{UpdatedCount: result.UpdatedCount, Stale: result.Stale})
}

// respondError maps service failure kinds to HTTP status codes without
// inventing new semantics.
func respondError(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch services.KindOf(err) {
	case services.KindInvalidInput, services.KindImageTooLarge, services.KindOCRDecode:
		status = http.StatusBadRequest
	case services.KindUnknownSession:
		status = http.StatusNotFound
	case services.KindSendInFlight:
		status = http.StatusConflict
	case services.KindAIRateLimited:
		status = http.StatusTooManyRequests
	case services.KindOCRTimeout, services.KindAITimeout, services.KindTagTimeout:
		status = http.StatusGatewayTimeout
	case services.KindAIProvider, services.KindOCREngine, services.KindTagUnavailable:
		status = http.StatusBadGateway
	case services.KindUnauthorized:
		status = http.StatusUnauthorized
	}

	var se *services.ServiceError
	if errors.As(err, &se) {
		ctx.JSON(status, gin.H{"error": se.Error(), "code": string(se.Kind)})
		return
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}
