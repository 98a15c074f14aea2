package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/constella/horizon-backend/models"
	"github.com/constella/horizon-backend/services"
)

// Message types accepted over the realtime channel. The dispatch switch
// below is the closed set: adding a type means adding a constant and a
// case, checked at compile time.
const (
	TypePing           = "ping"
	TypeGetContext     = "get_context"
	TypeCaptureContext = "capture_context"
	TypeSearchContext  = "search_context"
	TypeAIMessage      = "ai_message"
	TypeAIClear        = "ai_clear"
	TypeTagsRefresh    = "tags_refresh"
	TypeSearchTags     = "search_tags"
)

type searchContextPayload struct {
	OCRText string `json:"ocr_text"`
	Query   string `json:"query"`
	Limit   int    `json:"limit,omitempty"`
}

type aiMessagePayload struct {
	Text               string `json:"text"`
	UseExtendedContext bool   `json:"use_extended_context"`
	SmarterAnalysis    bool   `json:"smarter_analysis,omitempty"`
}

type searchTagsPayload struct {
	Prefix string `json:"prefix"`
}

// dispatch routes one envelope to its component and replies on the
// originating connection with the same correlation id. It runs on its
// own goroutine per request, detached from the socket's lifetime: a
// capture or send keeps running to completion if the client
// disconnects, because its results are stored either way. The explicit
// request timeout is the only cancellation trigger.
func (h *Hub) dispatch(c *connection, env models.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
	defer cancel()

	switch env.Type {
	case TypePing:
		c.reply(models.Reply{ID: env.ID, Type: "pong", OK: true})

	case TypeGetContext:
		snap, ok := h.contexts.Current(c.sessionID)
		payload := map[string]any{"snapshot": nil}
		if ok {
			payload["snapshot"] = snap
		}
		c.reply(models.Reply{ID: env.ID, Type: env.Type, OK: true, Payload: payload})

	case TypeCaptureContext:
		var req models.CaptureRequest
		if !decodePayload(c, env, &req) {
			return
		}
		req.SessionID = c.sessionID
		note, err := h.contexts.Capture(ctx, req)
		if err != nil {
			c.replyError(env, err)
			return
		}
		c.reply(models.Reply{ID: env.ID, Type: env.Type, OK: true, Payload: note})

	case TypeSearchContext:
		var req searchContextPayload
		if !decodePayload(c, env, &req) {
			return
		}
		query := req.Query
		if query == "" {
			query = req.OCRText
		}
		notes := h.contexts.Search(query, req.Limit)
		c.reply(models.Reply{ID: env.ID, Type: env.Type, OK: true,
			Payload: models.SearchContextResponse{Count: len(notes), Notes: notes}})

	case TypeAIMessage:
		var req aiMessagePayload
		if !decodePayload(c, env, &req) {
			return
		}
		sessionID, msg, err := h.ai.Send(ctx, c.sessionID, req.Text, req.UseExtendedContext, req.SmarterAnalysis)
		if err != nil {
			c.replyError(env, err)
			return
		}
		c.reply(models.Reply{ID: env.ID, Type: env.Type, OK: true,
			Payload: models.SendMessageResponse{SessionID: sessionID, Message: msg}})

	case TypeAIClear:
		if err := h.ai.Clear(c.sessionID); err != nil {
			c.replyError(env, err)
			return
		}
		c.reply(models.Reply{ID: env.ID, Type: env.Type, OK: true})

	case TypeTagsRefresh:
		result, err := h.tags.Refresh(ctx)
		if err != nil {
			c.replyError(env, err)
			return
		}
		c.reply(models.Reply{ID: env.ID, Type: env.Type, OK: true,
			Payload: models.RefreshTagsResponse{UpdatedCount: result.UpdatedCount, Stale: result.Stale}})

	case TypeSearchTags:
		var req searchTagsPayload
		if !decodePayload(c, env, &req) {
			return
		}
		tags := h.tags.Search(req.Prefix)
		c.reply(models.Reply{ID: env.ID, Type: env.Type, OK: true,
			Payload: models.TagSearchResponse{Query: req.Prefix, Count: len(tags), Tags: tags}})

	default:
		c.reply(models.Reply{ID: env.ID, Type: env.Type, OK: false,
			Error: &models.EnvelopeError{
				Code:    "UNSUPPORTED_MESSAGE_TYPE",
				Message: "unsupported message type: " + env.Type,
			}})
	}
}

// decodePayload unmarshals the envelope payload; on failure it replies
// with a malformed-payload error and reports false. The connection
// stays open.
func decodePayload(c *connection, env models.Envelope, dst any) bool {
	if len(env.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		c.reply(models.Reply{ID: env.ID, Type: env.Type, OK: false,
			Error: &models.EnvelopeError{
				Code:    "MALFORMED_PAYLOAD",
				Message: "undecodable payload: " + err.Error(),
			}})
		return false
	}
	return true
}

func (c *connection) replyError(env models.Envelope, err error) {
	code := string(services.KindOf(err))
	if code == "" {
		code = "INTERNAL"
	}
	msg := err.Error()
	var se *services.ServiceError
	if errors.As(err, &se) {
		msg = se.Error()
	}
	c.reply(models.Reply{ID: env.ID, Type: env.Type, OK: false,
		Error: &models.EnvelopeError{Code: code, Message: msg}})
}
