package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/constella/horizon-backend/models"
)

// ChatProvider is the external AI completion collaborator. The final
// message in the slice is the assembled prompt for this turn; earlier
// messages are the session history.
type ChatProvider interface {
	Complete(ctx context.Context, sessionID string, messages []models.Message, smarter bool) (string, error)
	// Reset discards any provider-side state for the session.
	Reset(sessionID string)
}

// conversation is the per-session state. sendGate serializes sends for
// the session: a buffered slot acquired for the whole provider round
// trip, so concurrent sends queue rather than interleave prompt
// assembly. mu guards the short critical sections on the fields below.
type conversation struct {
	sendGate chan struct{}

	mu        sync.Mutex
	messages  []models.Message
	state     models.SessionState
	lastError string
}

// AIService owns per-session message history, builds provider prompts
// from the user message plus current context, and dispatches to the
// provider. Session state outlives any transport connection.
type AIService struct {
	provider ChatProvider
	contexts *ContextService
	timeout  time.Duration

	mu       sync.RWMutex
	sessions map[string]*conversation
}

func NewAIService(provider ChatProvider, contexts *ContextService, timeout time.Duration) *AIService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AIService{
		provider: provider,
		contexts: contexts,
		timeout:  timeout,
		sessions: make(map[string]*conversation),
	}
}

func (s *AIService) session(sessionID string, create bool) (*conversation, bool) {
	s.mu.RLock()
	conv, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok || !create {
		return conv, ok
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok = s.sessions[sessionID]; ok {
		return conv, true
	}
	conv = &conversation{
		sendGate: make(chan struct{}, 1),
		state:    models.SessionIdle,
	}
	s.sessions[sessionID] = conv
	return conv, true
}

// Send appends the user message, assembles the prompt, and calls the
// provider. It returns the effective session id so callers that sent
// without one learn the minted id and can resume the session. On
// provider failure the user message stays in history and no assistant
// message is appended; the session moves to the error state, which the
// next Send leaves again. Sends for one session are serialized; a
// caller whose context dies while waiting behind an in-flight send
// gets a SEND_IN_FLIGHT conflict.
func (s *AIService) Send(ctx context.Context, sessionID, text string, useExtendedContext, smarter bool) (string, models.Message, error) {
	const op = "ai.send"

	if strings.TrimSpace(text) == "" {
		return sessionID, models.Message{}, Errorf(KindInvalidInput, op, "empty message text")
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	conv, _ := s.session(sessionID, true)

	// A free gate is always acquired, even when the caller's context is
	// already done; the conflict is reserved for waiting behind an
	// actual in-flight send.
	select {
	case conv.sendGate <- struct{}{}:
	default:
		select {
		case conv.sendGate <- struct{}{}:
		case <-ctx.Done():
			return sessionID, models.Message{}, Errorf(KindSendInFlight, op, "session %s has a send in flight", sessionID)
		}
	}
	defer func() { <-conv.sendGate }()

	var snapshot *models.ContextSnapshot
	if useExtendedContext {
		if snap, ok := s.contexts.Current(sessionID); ok {
			snapshot = &snap
		}
	}

	userMsg := models.Message{
		ID:              uuid.New().String(),
		Role:            models.RoleUser,
		Text:            text,
		AttachedContext: snapshot,
		Timestamp:       time.Now().UTC(),
	}

	conv.mu.Lock()
	conv.messages = append(conv.messages, userMsg)
	conv.state = models.SessionSending
	history := make([]models.Message, len(conv.messages))
	copy(history, conv.messages)
	conv.mu.Unlock()

	// The prompt turn carries the context-enhanced text; the stored
	// user message keeps the raw text plus the snapshot reference.
	prompt := history[len(history)-1]
	prompt.Text = buildPrompt(text, snapshot)
	history[len(history)-1] = prompt

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	answer, err := s.provider.Complete(callCtx, sessionID, history, smarter)
	cancel()
	if err != nil {
		err = classifyProviderError(op, err)
		conv.mu.Lock()
		conv.state = models.SessionError
		conv.lastError = err.Error()
		conv.mu.Unlock()
		log.Printf("SERVICE: AI send failed for session %s: %v", sessionID, err)
		return sessionID, models.Message{}, err
	}

	assistantMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Text:      answer,
		Timestamp: time.Now().UTC(),
	}
	conv.mu.Lock()
	conv.messages = append(conv.messages, assistantMsg)
	conv.state = models.SessionIdle
	conv.lastError = ""
	conv.mu.Unlock()

	return sessionID, assistantMsg, nil
}

// History returns a copy of the session's ordered messages.
func (s *AIService) History(sessionID string) ([]models.Message, error) {
	conv, ok := s.session(sessionID, false)
	if !ok {
		return nil, Errorf(KindUnknownSession, "ai.history", "unknown session %q", sessionID)
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	out := make([]models.Message, len(conv.messages))
	copy(out, conv.messages)
	return out, nil
}

// Clear discards the session's messages. The session's active context
// is untouched: it lives in the context service.
func (s *AIService) Clear(sessionID string) error {
	conv, ok := s.session(sessionID, false)
	if !ok {
		return Errorf(KindUnknownSession, "ai.clear", "unknown session %q", sessionID)
	}
	conv.mu.Lock()
	conv.messages = nil
	conv.state = models.SessionIdle
	conv.lastError = ""
	conv.mu.Unlock()

	s.provider.Reset(sessionID)
	log.Printf("SERVICE: cleared conversation for session %s", sessionID)
	return nil
}

// Status reports the session's state machine position.
func (s *AIService) Status(sessionID string) (models.SessionStatus, error) {
	conv, ok := s.session(sessionID, false)
	if !ok {
		return models.SessionStatus{}, Errorf(KindUnknownSession, "ai.status", "unknown session %q", sessionID)
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return models.SessionStatus{
		SessionID:    sessionID,
		State:        conv.state,
		Connected:    true,
		MessageCount: len(conv.messages),
		LastError:    conv.lastError,
	}, nil
}

// SessionCount reports how many sessions are live, for status surfaces.
func (s *AIService) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// buildPrompt folds the session's context into the user's text the way
// the assistant expects it: question first, then labeled context
// sections.
func buildPrompt(text string, snapshot *models.ContextSnapshot) string {
	if snapshot == nil {
		return text
	}

	var b strings.Builder
	b.WriteString(text)
	if snapshot.OCRText != nil && *snapshot.OCRText != "" {
		fmt.Fprintf(&b, "\n\nScreen content (OCR):\n%s", *snapshot.OCRText)
	}
	if snapshot.SelectedText != nil && *snapshot.SelectedText != "" {
		fmt.Fprintf(&b, "\n\nSelected text:\n%s", *snapshot.SelectedText)
	}
	if snapshot.SourceApp != "" || snapshot.SourceURL != "" {
		fmt.Fprintf(&b, "\n\nSource: %s", strings.TrimSpace(snapshot.SourceApp+" "+snapshot.SourceURL))
	}
	return b.String()
}

// classifyProviderError maps provider failures into the taxonomy,
// leaving already-typed errors alone.
func classifyProviderError(op string, err error) error {
	if KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return E(KindAITimeout, op, err)
	}
	return E(KindAIProvider, op, err)
}
