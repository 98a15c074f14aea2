package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/constella/horizon-backend/models"
)

// GeminiProvider implements ChatProvider on Google Gemini chat
// sessions. One genai chat is kept per session id so the provider side
// carries the conversation; Reset drops it.
type GeminiProvider struct {
	client     *genai.Client
	model      string
	smartModel string

	mu    sync.Mutex
	chats map[string]*genai.Chat
}

func NewGeminiProvider(ctx context.Context, apiKey, model, smartModel string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{
		client:     client,
		model:      model,
		smartModel: smartModel,
		chats:      make(map[string]*genai.Chat),
	}, nil
}

// Complete sends the final message of the slice to the session's chat
// and returns the assistant text.
func (p *GeminiProvider) Complete(ctx context.Context, sessionID string, messages []models.Message, smarter bool) (string, error) {
	const op = "gemini.complete"

	if len(messages) == 0 {
		return "", Errorf(KindInvalidInput, op, "no messages to send")
	}

	model := p.model
	if smarter && p.smartModel != "" {
		model = p.smartModel
	}

	chat, err := p.chatFor(ctx, sessionID, model)
	if err != nil {
		return "", classifyGeminiError(op, err)
	}

	result, err := chat.SendMessage(ctx, genai.Part{Text: messages[len(messages)-1].Text})
	if err != nil {
		return "", classifyGeminiError(op, err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", Errorf(KindAIProvider, op, "empty response from model %s", model)
	}

	var responseText strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			responseText.WriteString(part.Text)
		}
	}
	return responseText.String(), nil
}

// Reset discards the session's chats so the next send starts fresh.
func (p *GeminiProvider) Reset(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// A session may hold one chat per model.
	for key := range p.chats {
		if strings.HasPrefix(key, sessionID+"|") {
			delete(p.chats, key)
		}
	}
}

func (p *GeminiProvider) chatFor(ctx context.Context, sessionID, model string) (*genai.Chat, error) {
	key := sessionID + "|" + model

	p.mu.Lock()
	defer p.mu.Unlock()
	if chat, ok := p.chats[key]; ok {
		return chat, nil
	}

	chat, err := p.client.Chats.Create(ctx, model, &genai.GenerateContentConfig{
		SystemInstruction: GetSystemPrompt(),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("could not start new chat session: %w", err)
	}
	p.chats[key] = chat
	return chat, nil
}

func classifyGeminiError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return E(KindAITimeout, op, err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return E(KindAIRateLimited, op, err)
		case http.StatusGatewayTimeout, http.StatusRequestTimeout:
			return E(KindAITimeout, op, err)
		}
	}
	return E(KindAIProvider, op, err)
}
