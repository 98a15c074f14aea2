package services

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Authenticator binds a connect-time token to a session id. The session
// itself lives in the AI service and the context service; connections
// only hold the id.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// StaticAuthenticator resolves tokens from a fixed table, configured as
// "token:session,token:session". With an empty table it runs in dev
// mode: any non-empty token is accepted and pinned to a minted session
// id, so reconnects with the same token resume the same session.
type StaticAuthenticator struct {
	mu       sync.Mutex
	sessions map[string]string
	devMode  bool
}

func NewStaticAuthenticator(spec string) *StaticAuthenticator {
	a := &StaticAuthenticator{sessions: make(map[string]string)}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		a.devMode = true
		return a
	}
	for _, pair := range strings.Split(spec, ",") {
		token, session, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if ok && token != "" && session != "" {
			a.sessions[token] = session
		}
	}
	return a
}

func (a *StaticAuthenticator) Authenticate(token string) (string, error) {
	if token == "" {
		return "", Errorf(KindUnauthorized, "auth", "missing token")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if session, ok := a.sessions[token]; ok {
		return session, nil
	}
	if !a.devMode {
		return "", Errorf(KindUnauthorized, "auth", "unknown token")
	}
	session := uuid.New().String()
	a.sessions[token] = session
	return session, nil
}
