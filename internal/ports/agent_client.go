package ports

import (
	"context"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
)

// PermissionHandler answers one tool permission request. It may block until
// a human replies; the returned decision is sent back to the agent.
type PermissionHandler func(ctx context.Context, req domain.PermissionRequest) domain.Decision

type AgentClient interface {
	Start(ctx context.Context, cwd string) error
	Stop()
	IsRunning() bool
	OnPermissionRequest(handler PermissionHandler)

	NewSession(ctx context.Context, cwd string) (domain.SessionInfo, error)
	LoadSession(ctx context.Context, sessionID, cwd string) error
	SetMode(ctx context.Context, sessionID, modeID string) error
	SetModel(ctx context.Context, sessionID, modelID string) error
	Modes(sessionID string) (domain.ModeState, bool)
	Models(sessionID string) (domain.ModelState, bool)
	AvailableCommands(sessionID string) []domain.AgentCommand
	CommandOptions(ctx context.Context, sessionID, partial string) []string

	Prompt(ctx context.Context, sessionID, text string, images []domain.Image) (domain.PromptResult, error)
	Cancel(ctx context.Context, sessionID string) error
}

// AgentFactory builds a fresh, not yet started client for a platform.
type AgentFactory func(platform domain.Platform) AgentClient
