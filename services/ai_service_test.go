package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/constella/horizon-backend/models"
)

type fakeProvider struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
	resets  []string
	block   chan struct{}
}

func (p *fakeProvider) Complete(ctx context.Context, sessionID string, messages []models.Message, smarter bool) (string, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, messages[len(messages)-1].Text)
	if p.err != nil {
		return "", p.err
	}
	return p.answer, nil
}

func (p *fakeProvider) Reset(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, sessionID)
}

func (p *fakeProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return ""
	}
	return p.prompts[len(p.prompts)-1]
}

func newTestAIService(t *testing.T, provider *fakeProvider) (*AIService, *ContextService) {
	t.Helper()
	contexts := newTestContextService(t, &fakeEngine{text: "Total: $42.00"})
	return NewAIService(provider, contexts, time.Second), contexts
}

func TestSendAppendsUserAndAssistant(t *testing.T) {
	provider := &fakeProvider{answer: "It says the total is $42.00."}
	svc, contexts := newTestAIService(t, provider)

	contexts.Capture(context.Background(), models.CaptureRequest{
		SessionID: "s1",
		Image:     testImage(t),
	})

	sessionID, msg, err := svc.Send(context.Background(), "s1", "what does this say?", true, false)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sessionID != "s1" {
		t.Errorf("effective session = %q, want s1", sessionID)
	}
	if msg.Role != models.RoleAssistant {
		t.Errorf("returned message role = %s, want assistant", msg.Role)
	}

	if !strings.Contains(provider.lastPrompt(), "Total: $42.00") {
		t.Errorf("prompt does not carry the snapshot text: %q", provider.lastPrompt())
	}

	history, err := svc.History("s1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Errorf("history order = [%s %s], want [user assistant]", history[0].Role, history[1].Role)
	}
	// The stored user message keeps the raw text, not the prompt.
	if history[0].Text != "what does this say?" {
		t.Errorf("stored user text = %q", history[0].Text)
	}
	if history[0].AttachedContext == nil {
		t.Error("user message lost its attached context")
	}
	if history[1].Timestamp.Before(history[0].Timestamp) {
		t.Error("assistant timestamp precedes user timestamp")
	}
}

func TestSendWithoutExtendedContextOmitsSnapshot(t *testing.T) {
	provider := &fakeProvider{answer: "ok"}
	svc, contexts := newTestAIService(t, provider)
	contexts.Capture(context.Background(), models.CaptureRequest{
		SessionID: "s1",
		Image:     testImage(t),
	})

	if _, _, err := svc.Send(context.Background(), "s1", "hello", false, false); err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.Contains(provider.lastPrompt(), "Total: $42.00") {
		t.Errorf("prompt leaked snapshot without use_extended_context: %q", provider.lastPrompt())
	}
}

func TestFailedSendKeepsUserMessage(t *testing.T) {
	provider := &fakeProvider{err: errStub("rate limited")}
	svc, _ := newTestAIService(t, provider)

	_, _, err := svc.Send(context.Background(), "s1", "still there?", false, false)
	if !IsKind(err, KindAIProvider) {
		t.Fatalf("error = %v, want kind %s", err, KindAIProvider)
	}

	history, herr := svc.History("s1")
	if herr != nil {
		t.Fatalf("history: %v", herr)
	}
	if len(history) != 1 {
		t.Fatalf("history has %d messages after failed send, want 1", len(history))
	}
	if history[0].Role != models.RoleUser || history[0].Text != "still there?" {
		t.Errorf("user message corrupted: %+v", history[0])
	}

	status, serr := svc.Status("s1")
	if serr != nil {
		t.Fatalf("status: %v", serr)
	}
	if status.State != models.SessionError {
		t.Errorf("state = %s after failed send, want error", status.State)
	}
	if status.LastError == "" {
		t.Error("last_error empty after failed send")
	}

	// The error state is non-terminal: the next send recovers.
	provider.mu.Lock()
	provider.err = nil
	provider.answer = "recovered"
	provider.mu.Unlock()
	if _, _, err := svc.Send(context.Background(), "s1", "retry", false, false); err != nil {
		t.Fatalf("send after error state: %v", err)
	}
	status, _ = svc.Status("s1")
	if status.State != models.SessionIdle || status.LastError != "" {
		t.Errorf("status not reset after recovery: %+v", status)
	}
}

func TestConcurrentSendsSerializePerSession(t *testing.T) {
	provider := &fakeProvider{answer: "done", block: make(chan struct{})}
	svc, _ := newTestAIService(t, provider)

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			if _, _, err := svc.Send(context.Background(), "s1", "queued send", false, false); err != nil {
				t.Errorf("send: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(provider.block)
	wg.Wait()

	history, _ := svc.History("s1")
	if len(history) != 4 {
		t.Fatalf("history has %d messages, want 4", len(history))
	}
	// Strict user/assistant alternation: prompt assembly never interleaved.
	for i, msg := range history {
		want := models.RoleUser
		if i%2 == 1 {
			want = models.RoleAssistant
		}
		if msg.Role != want {
			t.Errorf("message %d role = %s, want %s", i, msg.Role, want)
		}
	}
}

func TestSendConflictWhenWaitAbandoned(t *testing.T) {
	provider := &fakeProvider{answer: "slow", block: make(chan struct{})}
	defer close(provider.block)
	svc, _ := newTestAIService(t, provider)

	go svc.Send(context.Background(), "s1", "first", false, false)
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := svc.Send(ctx, "s1", "second", false, false)
	if !IsKind(err, KindSendInFlight) {
		t.Fatalf("error = %v, want kind %s", err, KindSendInFlight)
	}
}

func TestClearDiscardsMessagesKeepsContext(t *testing.T) {
	provider := &fakeProvider{answer: "hi"}
	svc, contexts := newTestAIService(t, provider)

	contexts.Capture(context.Background(), models.CaptureRequest{
		SessionID:    "s1",
		SelectedText: strptr("keep me"),
	})
	svc.Send(context.Background(), "s1", "hello", false, false)

	if err := svc.Clear("s1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	history, _ := svc.History("s1")
	if len(history) != 0 {
		t.Errorf("history has %d messages after clear, want 0", len(history))
	}
	if _, ok := contexts.Current("s1"); !ok {
		t.Error("clear dropped the session's active context")
	}
	provider.mu.Lock()
	resets := len(provider.resets)
	provider.mu.Unlock()
	if resets != 1 {
		t.Errorf("provider reset %d times, want 1", resets)
	}
}

func TestUnknownSessionIsTyped(t *testing.T) {
	svc, _ := newTestAIService(t, &fakeProvider{})

	if _, err := svc.History("ghost"); !IsKind(err, KindUnknownSession) {
		t.Errorf("History error = %v, want kind %s", err, KindUnknownSession)
	}
	if err := svc.Clear("ghost"); !IsKind(err, KindUnknownSession) {
		t.Errorf("Clear error = %v, want kind %s", err, KindUnknownSession)
	}
	if _, err := svc.Status("ghost"); !IsKind(err, KindUnknownSession) {
		t.Errorf("Status error = %v, want kind %s", err, KindUnknownSession)
	}
}

func TestSendMintsAndReturnsSessionID(t *testing.T) {
	provider := &fakeProvider{answer: "hi"}
	svc, _ := newTestAIService(t, provider)

	sessionID, _, err := svc.Send(context.Background(), "", "hello", false, false)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sessionID == "" {
		t.Fatal("session-less send returned an empty session id")
	}

	// The returned id resumes the same session.
	second, _, err := svc.Send(context.Background(), sessionID, "again", false, false)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if second != sessionID {
		t.Errorf("second send session = %q, want %q", second, sessionID)
	}
	history, err := svc.History(sessionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 4 {
		t.Errorf("history has %d messages, want 4", len(history))
	}
	if n := svc.SessionCount(); n != 1 {
		t.Errorf("session count = %d, want 1", n)
	}
}

func TestDoneContextOnIdleSessionIsNotConflict(t *testing.T) {
	provider := &fakeProvider{answer: "ok"}
	svc, _ := newTestAIService(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The gate is free every iteration; none of these may report a
	// send in flight.
	for i := 0; i < 20; i++ {
		if _, _, err := svc.Send(ctx, "s1", "hello", false, false); IsKind(err, KindSendInFlight) {
			t.Fatalf("iteration %d: idle session reported as in flight", i)
		}
	}
}

func TestSendRejectsEmptyText(t *testing.T) {
	svc, _ := newTestAIService(t, &fakeProvider{})
	if _, _, err := svc.Send(context.Background(), "s1", "   ", false, false); !IsKind(err, KindInvalidInput) {
		t.Errorf("error = %v, want kind %s", err, KindInvalidInput)
	}
}
