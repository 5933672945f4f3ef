package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/ports"
	"go.uber.org/zap"
)

const helpText = `📚 **Available Commands:**

**Agent:**
• /agent - List available agents
• /agent agent_name - Switch agent

**Model:**
• /model - List available models
• /model model_name - Switch model

**Other:**
• /help - Show this help`

// runCommand answers a slash command. Commands other than /help need a chat
// with a session on a running agent.
func (g *Gateway) runCommand(ctx context.Context, key domain.ChatKey, text string) {
	name, arg, _ := strings.Cut(text, " ")
	name = strings.ToLower(name)
	arg = strings.TrimSpace(arg)

	var reply string
	switch name {
	case "/help":
		reply = helpText
	case "/agent", "/model":
		sessionID, agent, err := g.commandTarget(key)
		if err != nil {
			reply = commandTargetError(err)
			break
		}
		if name == "/agent" {
			reply = g.agentCommand(ctx, key, agent, sessionID, arg)
		} else {
			reply = g.modelCommand(ctx, key, agent, sessionID, arg)
		}
	default:
		reply = fmt.Sprintf("❓ Unknown command: %s\n💡 Send /help for available commands", name)
	}

	g.sendText(ctx, key, reply)
}

func (g *Gateway) commandTarget(key domain.ChatKey) (string, ports.AgentClient, error) {
	sessionID := g.registry.sessionID(key)
	if sessionID == "" {
		return "", nil, domain.ErrNoSession
	}
	agent := g.supervisor.running(key.Platform)
	if agent == nil {
		return "", nil, domain.ErrAgentNotRunning
	}
	return sessionID, agent, nil
}

func commandTargetError(err error) string {
	if errors.Is(err, domain.ErrAgentNotRunning) {
		return msgAgentNotRunning
	}
	return msgNoSessionYet
}

func (g *Gateway) agentCommand(ctx context.Context, key domain.ChatKey, agent ports.AgentClient, sessionID, modeID string) string {
	modes, ok := agent.Modes(sessionID)

	if modeID == "" {
		if !ok {
			return "❓ No agent info available"
		}
		if len(modes.Available) == 0 {
			return "❓ No agents available"
		}
		lines := []string{"📋 **Available Agents:**", ""}
		for _, mode := range modes.Available {
			lines = append(lines, listEntry(mode.ID, mode.Name, mode.ID == modes.CurrentModeID))
		}
		lines = append(lines, "", fmt.Sprintf("Current: **%s**", modes.CurrentModeID), "💡 Use /agent agent_name to switch")
		return strings.Join(lines, "\n")
	}

	if len(modes.Available) > 0 && !modes.Has(modeID) {
		return fmt.Sprintf("❌ Invalid agent: %s\n\n💡 Use /agent to see available agents", modeID)
	}

	if err := agent.SetMode(ctx, sessionID, modeID); err != nil {
		g.logger.Error("set mode failed", zap.Stringer("chat", key), zap.Error(err))
		return "❌ Switch failed: " + err.Error()
	}
	return fmt.Sprintf("✅ Switched to agent: **%s**", modeID)
}

func (g *Gateway) modelCommand(ctx context.Context, key domain.ChatKey, agent ports.AgentClient, sessionID, modelID string) string {
	models, ok := agent.Models(sessionID)

	if modelID == "" {
		if !ok || len(models.Available) == 0 {
			return "❓ Cannot get model list"
		}
		lines := []string{"📋 **Available Models:**", ""}
		for _, model := range models.Available {
			if model.ID == "" {
				continue
			}
			lines = append(lines, listEntry(model.ID, model.Name, model.ID == models.CurrentModelID))
		}
		lines = append(lines, "", fmt.Sprintf("Current: **%s**", models.CurrentModelID), "💡 Use /model model_name to switch")
		return strings.Join(lines, "\n")
	}

	if len(models.Available) > 0 && !models.Has(modelID) {
		return fmt.Sprintf("❌ Invalid model: %s\n\n💡 Use /model to see available models", modelID)
	}

	if err := agent.SetModel(ctx, sessionID, modelID); err != nil {
		g.logger.Error("set model failed", zap.Stringer("chat", key), zap.Error(err))
		return "❌ Switch failed: " + err.Error()
	}
	return fmt.Sprintf("✅ Switched to model: **%s**", modelID)
}

func listEntry(id, name string, current bool) string {
	marker := ""
	if current {
		marker = " ✓"
	}
	if name == "" || name == id {
		return fmt.Sprintf("• %s%s", id, marker)
	}
	return fmt.Sprintf("• %s - %s%s", id, name, marker)
}
