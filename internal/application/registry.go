package application

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/ports"
	"go.uber.org/zap"
)

// registry maps chats to agent sessions and back.
type registry struct {
	mu       sync.Mutex
	layout   WorkspaceLayout
	contexts map[domain.ChatKey]domain.ChatContext
	sessions map[string]domain.ChatKey
	logger   *zap.Logger
}

func newRegistry(layout WorkspaceLayout, logger *zap.Logger) *registry {
	return &registry{
		layout:   layout,
		contexts: make(map[domain.ChatKey]domain.ChatContext),
		sessions: make(map[string]domain.ChatKey),
		logger:   logger,
	}
}

// resolve returns a usable session for the chat. A stored session is resumed
// first; when the agent rejects it a fresh one is created.
func (r *registry) resolve(ctx context.Context, key domain.ChatKey, agent ports.AgentClient) (string, error) {
	dir := r.layout.SessionCwd(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}

	if chat, ok := r.context(key); ok && chat.HasSession() {
		err := agent.LoadSession(ctx, chat.SessionID, dir)
		if err == nil {
			r.logger.Info("loaded session", zap.Stringer("chat", key), zap.String("session_id", chat.SessionID))
			return chat.SessionID, nil
		}
		r.logger.Warn("failed to load session", zap.Stringer("chat", key), zap.String("session_id", chat.SessionID), zap.Error(err))
	}

	info, err := agent.NewSession(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	r.bind(key, info.ID)
	r.logger.Info("created session", zap.Stringer("chat", key), zap.String("session_id", info.ID), zap.String("cwd", dir))
	return info.ID, nil
}

func (r *registry) context(key domain.ChatKey) (domain.ChatContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.contexts[key]
	return chat, ok
}

func (r *registry) sessionID(key domain.ChatKey) string {
	chat, _ := r.context(key)
	return chat.SessionID
}

func (r *registry) keyForSession(sessionID string) (domain.ChatKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.sessions[sessionID]
	return key, ok
}

func (r *registry) bind(key domain.ChatKey, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.contexts[key]; ok && previous.SessionID != sessionID {
		delete(r.sessions, previous.SessionID)
	}
	r.contexts[key] = domain.ChatContext{Key: key, SessionID: sessionID}
	r.sessions[sessionID] = key
}

func (r *registry) invalidate(key domain.ChatKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if chat, ok := r.contexts[key]; ok {
		delete(r.sessions, chat.SessionID)
		delete(r.contexts, key)
	}
}

// invalidatePlatform forgets every session of a platform. Called whenever its
// agent process goes away, since sessions die with the process.
func (r *registry) invalidatePlatform(platform domain.Platform) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleared := 0
	for key, chat := range r.contexts {
		if key.Platform != platform {
			continue
		}
		delete(r.sessions, chat.SessionID)
		delete(r.contexts, key)
		cleared++
	}
	return cleared
}
